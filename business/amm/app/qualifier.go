package app

import (
	"context"
	"math/big"
	"strconv"
	"time"

	"github.com/kunalmkv/arbflux/business/amm/domain"
	"github.com/kunalmkv/arbflux/internal/apperror"
	"github.com/kunalmkv/arbflux/internal/config"
	"github.com/kunalmkv/arbflux/internal/logger"
)

// gasEstimate is the gas-units table lookup keyed by kind (spec §4.6).
func gasEstimate(kind domain.Kind, cfg config.QualifierConfig) uint64 {
	if kind == domain.Triangular {
		if cfg.GasEstimateTriangular > 0 {
			return cfg.GasEstimateTriangular
		}
		return 300_000
	}
	if cfg.GasEstimateTwoLeg > 0 {
		return cfg.GasEstimateTwoLeg
	}
	return 200_000
}

// Qualifier is the Qualifier component (spec §4.6): an ordered series of
// threshold checks run against a candidate Opportunity.
type Qualifier struct {
	cfg    config.QualifierConfig
	logger logger.LoggerInterface
}

// NewQualifier creates a Qualifier bound to cfg.
func NewQualifier(cfg config.QualifierConfig, log logger.LoggerInterface) *Qualifier {
	return &Qualifier{cfg: cfg, logger: log}
}

// GasCostQuote computes gasCostQuote = gasEstimate · gasPrice · gasBuffer ·
// price(nativeToken, quote), per spec §4.6.
func GasCostQuote(kind domain.Kind, gasPriceWei *big.Int, nativeQuotePrice *big.Rat, cfg config.QualifierConfig) *big.Int {
	units := new(big.Int).SetUint64(gasEstimate(kind, cfg))
	weiCost := new(big.Int).Mul(units, gasPriceWei)

	buffer := cfg.GasBuffer
	if buffer <= 0 {
		buffer = 1.2
	}
	bufferRat := new(big.Rat).SetFloat64(buffer)
	if bufferRat == nil {
		bufferRat = big.NewRat(6, 5)
	}

	costRat := new(big.Rat).SetInt(weiCost)
	costRat.Mul(costRat, bufferRat)
	if nativeQuotePrice != nil {
		costRat.Mul(costRat, nativeQuotePrice)
	}

	quotient := new(big.Int)
	quotient.Div(costRat.Num(), costRat.Denom())
	return quotient
}

// Qualify applies the seven ordered checks of spec §4.6 against candidate.
// On success it returns a copy of candidate with Status=Qualified,
// ExpiresAt populated, and NetProfitQuote reduced by the safety margin. On
// rejection it returns a copy with Status=Rejected and Reason set, plus a
// QualifierRejectErr describing the first failing check.
func (q *Qualifier) Qualify(ctx context.Context, candidate domain.Opportunity, reserveQuoteA, reserveQuoteB *big.Int, gasPriceWei *big.Int, priceImpactLeg1, priceImpactLeg2 float64, now time.Time) (domain.Opportunity, bool, error) {
	minProfit := bigFromFloatQuote(q.cfg.MinProfitQuote)
	if candidate.NetProfitQuote == nil || candidate.NetProfitQuote.Cmp(minProfit) < 0 {
		return q.reject(candidate, "minProfit")
	}

	minMargin := q.cfg.MinMargin
	if minMargin <= 0 {
		minMargin = 0.005
	}
	if candidate.Margin < minMargin {
		return q.reject(candidate, "minMargin")
	}

	minLiquidity := bigFromFloatQuote(q.cfg.MinLiquidityQuote)
	if reserveQuoteA == nil || reserveQuoteA.Cmp(minLiquidity) < 0 || reserveQuoteB == nil || reserveQuoteB.Cmp(minLiquidity) < 0 {
		return q.reject(candidate, "minLiquidity")
	}

	maxImpact := q.cfg.MaxPriceImpact
	if maxImpact <= 0 {
		maxImpact = 0.005
	}
	if priceImpactLeg1 > maxImpact || priceImpactLeg2 > maxImpact {
		return q.reject(candidate, "maxPriceImpactPerLeg")
	}

	if q.cfg.MaxGasPriceWei > 0 && gasPriceWei != nil && gasPriceWei.Cmp(new(big.Int).SetUint64(q.cfg.MaxGasPriceWei)) > 0 {
		return q.reject(candidate, "maxGasPrice")
	}

	safetyMargin := q.cfg.SafetyMargin
	if safetyMargin <= 0 {
		safetyMargin = 0.10
	}
	safetyRat, ok := new(big.Rat).SetString(strconv.FormatFloat(safetyMargin, 'f', -1, 64))
	if !ok {
		safetyRat = new(big.Rat).SetFloat64(safetyMargin)
	}
	keepRat := new(big.Rat).Sub(big.NewRat(1, 1), safetyRat)
	netAfterSafetyRat := new(big.Rat).Mul(new(big.Rat).SetInt(candidate.NetProfitQuote), keepRat)
	netAfterSafety := new(big.Int).Div(netAfterSafetyRat.Num(), netAfterSafetyRat.Denom())
	if netAfterSafety.Cmp(minProfit) < 0 {
		return q.reject(candidate, "safetyMargin")
	}

	timeout := q.cfg.OpportunityTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	qualified := candidate
	qualified.NetProfitQuote = netAfterSafety
	qualified.Margin = opportunityMargin(netAfterSafety, candidate.GasCostQuote, candidate.FeeCostQuote)
	qualified.ExpiresAt = now.Add(timeout)
	qualified.Status = domain.Qualified
	qualified.Reason = ""
	return qualified, true, nil
}

func (q *Qualifier) reject(candidate domain.Opportunity, reason string) (domain.Opportunity, bool, error) {
	rejected := candidate.WithStatus(domain.Rejected, reason)
	q.logger.Debug(context.Background(), "qualifier: rejected", "id", candidate.ID, "reason", reason)
	return rejected, false, apperror.QualifierRejectErr(reason)
}

func bigFromFloatQuote(v float64) *big.Int {
	r := new(big.Rat).SetFloat64(v)
	if r == nil {
		return big.NewInt(0)
	}
	out := new(big.Int)
	out.Div(r.Num(), r.Denom())
	return out
}
