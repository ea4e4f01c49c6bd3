package app

import (
	"github.com/kunalmkv/arbflux/business/amm/domain"
	"github.com/kunalmkv/arbflux/internal/asset"
	"github.com/kunalmkv/arbflux/internal/config"
)

// chainID is fixed: cross-chain arbitrage is explicitly out of scope.
const chainID uint64 = 1

func tokenFromConfig(t config.TokenConfig) *domain.Token {
	return asset.NewAsset(asset.NewTokenAssetID(chainID, t.Addr()), t.Symbol, t.Decimals)
}

func tokenPairKey(t0, t1 *domain.Token) string {
	return t0.Address().Hex() + ":" + t1.Address().Hex()
}

// BuildPairGroups constructs one domain.Pair per (monitored pair, venue)
// combination, grouped by the venue-agnostic token-pair key so the
// Detector can compare prices cross-venue (spec §4.5).
func BuildPairGroups(cfg *config.Config) []PairGroup {
	venues := make([]*domain.Venue, 0, len(cfg.Venues))
	for _, v := range cfg.Venues {
		venues = append(venues, domain.NewVenue(v.Name, v.FactoryAddress(), v.FeeNum, v.FeeDen))
	}

	byKey := make(map[string]*PairGroup)
	var order []string

	for _, pc := range cfg.Pairs {
		tokenA := tokenFromConfig(pc.TokenA)
		tokenB := tokenFromConfig(pc.TokenB)
		t0, t1 := domain.OrderTokens(tokenA, tokenB)
		key := tokenPairKey(t0, t1)

		group, ok := byKey[key]
		if !ok {
			group = &PairGroup{Token0: t0, Token1: t1}
			byKey[key] = group
			order = append(order, key)
		}

		for _, venue := range venues {
			group.Pairs = append(group.Pairs, domain.NewPair(venue, tokenA, tokenB))
		}
	}

	groups := make([]PairGroup, 0, len(order))
	for _, key := range order {
		groups = append(groups, *byKey[key])
	}
	return groups
}

// BuildCycles constructs one Cycle per configured triangular cycle, with
// Legs[i] listing every venue's pair trading Tokens[i] against
// Tokens[(i+1)%3] (spec §4.5 triangular detection).
func BuildCycles(cfg *config.Config) []Cycle {
	venues := make([]*domain.Venue, 0, len(cfg.Venues))
	for _, v := range cfg.Venues {
		venues = append(venues, domain.NewVenue(v.Name, v.FactoryAddress(), v.FeeNum, v.FeeDen))
	}

	cycles := make([]Cycle, 0, len(cfg.Cycles))
	for _, cc := range cfg.Cycles {
		tokens := [3]*domain.Token{
			tokenFromConfig(cc.Tokens[0]),
			tokenFromConfig(cc.Tokens[1]),
			tokenFromConfig(cc.Tokens[2]),
		}
		cycle := Cycle{Tokens: tokens, Quote: tokenFromConfig(cc.Quote)}
		for i := 0; i < 3; i++ {
			tokenIn := tokens[i]
			tokenOut := tokens[(i+1)%3]
			for _, venue := range venues {
				cycle.Legs[i] = append(cycle.Legs[i], domain.NewPair(venue, tokenIn, tokenOut))
			}
		}
		cycles = append(cycles, cycle)
	}
	return cycles
}

// AllPairs flattens every venue-specific domain.Pair referenced by groups
// and cycles, deduplicated by ID, for PriceFeed/PairCache registration.
func AllPairs(groups []PairGroup, cycles []Cycle) []*domain.Pair {
	seen := make(map[string]*domain.Pair)
	for _, g := range groups {
		for _, p := range g.Pairs {
			seen[p.ID()] = p
		}
	}
	for _, c := range cycles {
		for _, leg := range c.Legs {
			for _, p := range leg {
				seen[p.ID()] = p
			}
		}
	}
	out := make([]*domain.Pair, 0, len(seen))
	for _, p := range seen {
		out = append(out, p)
	}
	return out
}
