package app

import (
	"context"
	"math/big"

	"github.com/kunalmkv/arbflux/business/amm/domain"
	"github.com/kunalmkv/arbflux/internal/config"
	"github.com/kunalmkv/arbflux/internal/logger"
)

// Assessment is RiskGate's verdict on a qualified Opportunity (spec §4.7).
type Assessment struct {
	Approved    bool
	SizedAmount *big.Int
	Score       float64
	Reasons     []string
}

// Reevaluator recomputes netProfit and per-leg price impact for an
// opportunity if it were sized down to a smaller trade_amount_in, via
// AmmMath over the same pools the Detector used.
type Reevaluator func(sizedAmount *big.Int) (netProfitQuote *big.Int, priceImpactLeg1, priceImpactLeg2 float64, err error)

// RiskGate is the RiskGate component (spec §4.7).
type RiskGate struct {
	cfg    config.RiskGateConfig
	logger logger.LoggerInterface
}

// NewRiskGate creates a RiskGate bound to cfg.
func NewRiskGate(cfg config.RiskGateConfig, log logger.LoggerInterface) *RiskGate {
	return &RiskGate{cfg: cfg, logger: log}
}

// Assess sizes opp via a fractional-Kelly heuristic, re-evaluates at the
// sized amount if it differs from the detector's optimum, and runs the
// exposure/loss/drawdown/impact gate checks against portfolio.
func (g *RiskGate) Assess(ctx context.Context, opp domain.Opportunity, portfolio domain.PortfolioSnapshot, totalValue *big.Int, minProfitQuote *big.Int, detectedPriceImpactLeg1, detectedPriceImpactLeg2 float64, reevaluate Reevaluator) Assessment {
	sized := g.size(opp, totalValue)

	netProfit := opp.NetProfitQuote
	impact1, impact2 := detectedPriceImpactLeg1, detectedPriceImpactLeg2

	if sized.Cmp(opp.TradeAmountIn) != 0 {
		reNetProfit, reImpact1, reImpact2, err := reevaluate(sized)
		if err != nil || reNetProfit.Cmp(minProfitQuote) < 0 {
			// Re-evaluated profit fails minProfit: fall back to the
			// detector's optimum size if that still fits the limits,
			// otherwise this opportunity cannot be sized soundly.
			sized = opp.TradeAmountIn
			netProfit = opp.NetProfitQuote
			impact1, impact2 = detectedPriceImpactLeg1, detectedPriceImpactLeg2
			if !g.withinPositionLimits(sized) {
				return Assessment{Approved: false, Reasons: []string{"cannotSize"}, Score: 1}
			}
		} else {
			netProfit, impact1, impact2 = reNetProfit, reImpact1, reImpact2
		}
	}

	var reasons []string

	exposure := portfolio.TotalExposure()
	newExposure := new(big.Int).Add(exposure, sized)
	maxExposure := scaleInt(totalValue, g.cfg.MaxPortfolioExposure)
	if newExposure.Cmp(maxExposure) > 0 {
		reasons = append(reasons, "exposure")
	}

	dailyLoss := new(big.Int).Neg(portfolio.DailyPnL)
	if dailyLoss.Sign() < 0 {
		dailyLoss = big.NewInt(0)
	}
	maxDailyLoss := scaleInt(totalValue, g.cfg.MaxDailyLoss)
	if dailyLoss.Cmp(maxDailyLoss) >= 0 {
		reasons = append(reasons, "dailyLoss")
	}

	lossFraction := g.cfg.AssumedLossFraction
	if lossFraction <= 0 {
		lossFraction = 0.1
	}
	potentialLoss := scaleInt(sized, lossFraction)
	remainingBudget := new(big.Int).Sub(maxDailyLoss, dailyLoss)
	if potentialLoss.Cmp(remainingBudget) > 0 {
		reasons = append(reasons, "potentialLoss")
	}

	maxPositions := g.cfg.MaxConcurrentPositions
	if maxPositions <= 0 {
		maxPositions = 1
	}
	if portfolio.ActivePositions >= maxPositions {
		reasons = append(reasons, "activePositions")
	}

	maxDrawdown := g.cfg.MaxDrawdown
	if maxDrawdown <= 0 {
		maxDrawdown = 1
	}
	if portfolio.Drawdown() > maxDrawdown {
		reasons = append(reasons, "drawdown")
	}

	maxImpact := 0.005
	if impact1 > maxImpact || impact2 > maxImpact {
		reasons = append(reasons, "priceImpactPerLeg")
	}

	score := g.riskScore(opp, portfolio, totalValue, impact1, impact2)

	if len(reasons) > 0 {
		return Assessment{Approved: false, SizedAmount: sized, Score: score, Reasons: reasons}
	}

	_ = netProfit
	return Assessment{Approved: true, SizedAmount: sized, Score: score}
}

// size computes the fractional-Kelly position: f* = max(0, (margin-1)/margin),
// conservative fraction 0.25·f*, scaled by availableCapital, clamped to
// [minPosition, maxPosition] then to the detector's trade_amount_in.
func (g *RiskGate) size(opp domain.Opportunity, totalValue *big.Int) *big.Int {
	margin := opp.Margin
	fStar := 0.0
	if margin > 0 {
		fStar = (margin - 1) / margin
		if fStar < 0 {
			fStar = 0
		}
	}

	kellyFraction := g.cfg.KellyFraction
	if kellyFraction <= 0 {
		kellyFraction = 0.25
	}
	conservative := kellyFraction * fStar

	capital := totalValue
	sizedF := scaleInt(capital, conservative)

	if minPos, ok := parseDecimalBig(g.cfg.MinPosition); ok && sizedF.Cmp(minPos) < 0 {
		sizedF = minPos
	}
	if maxPos, ok := parseDecimalBig(g.cfg.MaxPosition); ok && sizedF.Cmp(maxPos) > 0 {
		sizedF = maxPos
	}
	if opp.TradeAmountIn != nil && sizedF.Cmp(opp.TradeAmountIn) > 0 {
		sizedF = new(big.Int).Set(opp.TradeAmountIn)
	}
	if sizedF.Sign() <= 0 {
		sizedF = big.NewInt(1)
	}
	return sizedF
}

func (g *RiskGate) withinPositionLimits(sized *big.Int) bool {
	if minPos, ok := parseDecimalBig(g.cfg.MinPosition); ok && sized.Cmp(minPos) < 0 {
		return false
	}
	if maxPos, ok := parseDecimalBig(g.cfg.MaxPosition); ok && sized.Cmp(maxPos) > 0 {
		return false
	}
	return sized.Sign() > 0
}

// riskScore is a weighted sum of normalized margin-deficit, liquidity-ratio,
// exposure-fraction, gas-fraction and a constant volatility term, clamped
// to [0,1] (spec §4.7; observability only, never a hard gate).
func (g *RiskGate) riskScore(opp domain.Opportunity, portfolio domain.PortfolioSnapshot, totalValue *big.Int, impact1, impact2 float64) float64 {
	marginDeficit := 0.0
	if opp.Margin < 1 {
		marginDeficit = 1 - opp.Margin
	}

	liquidityRatio := (impact1 + impact2) / 2

	exposureFraction := 0.0
	if totalValue != nil && totalValue.Sign() > 0 {
		exposureF := new(big.Float).SetInt(portfolio.TotalExposure())
		totalF := new(big.Float).SetInt(totalValue)
		exposureFraction, _ = new(big.Float).Quo(exposureF, totalF).Float64()
	}

	gasFraction := 0.0
	if opp.NetProfitQuote != nil && opp.GasCostQuote != nil {
		denom := new(big.Int).Add(opp.NetProfitQuote, opp.GasCostQuote)
		if denom.Sign() > 0 {
			gasFractionRat := new(big.Rat).SetFrac(opp.GasCostQuote, denom)
			gasFraction, _ = gasFractionRat.Float64()
		}
	}

	const volatilityTerm = 0.1
	const wMargin, wLiquidity, wExposure, wGas, wVol = 0.3, 0.2, 0.2, 0.2, 0.1

	score := wMargin*clamp01(marginDeficit) +
		wLiquidity*clamp01(liquidityRatio) +
		wExposure*clamp01(exposureFraction) +
		wGas*clamp01(gasFraction) +
		wVol*volatilityTerm

	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func scaleInt(v *big.Int, fraction float64) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	r := new(big.Rat).SetFloat64(fraction)
	if r == nil {
		return big.NewInt(0)
	}
	prod := new(big.Rat).Mul(new(big.Rat).SetInt(v), r)
	out := new(big.Int)
	out.Div(prod.Num(), prod.Denom())
	return out
}

func parseDecimalBig(s string) (*big.Int, bool) {
	if s == "" {
		return nil, false
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, false
	}
	out := new(big.Int)
	out.Div(r.Num(), r.Denom())
	return out, true
}
