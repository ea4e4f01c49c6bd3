// Package domain holds the core value objects and pure arithmetic of the
// opportunity engine: tokens, venues, pairs, reserve snapshots, the
// constant-product math library, opportunities and the process-wide
// portfolio state. Nothing here performs I/O.
package domain

import "github.com/kunalmkv/arbflux/internal/asset"

// Token is a 20-byte-address asset with explicit, never-inferred decimals.
// It is the same value object internal/asset already provides; unknown
// decimals are rejected at construction by asset.NewAsset's validation, and
// identity is by (chainID, address), never by symbol.
type Token = asset.Asset
