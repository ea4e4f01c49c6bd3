package domain

import "github.com/ethereum/go-ethereum/common"

// Venue is a stable, immutable-per-process operator of a family of pools
// under one factory (e.g. "uniswap", "sushiswap"), with the fee schedule
// applied by every pool it operates.
type Venue struct {
	Name    string
	Factory common.Address
	FeeNum  uint64
	FeeDen  uint64
}

// DefaultFeeNum and DefaultFeeDen give the canonical Uniswap V2 fee of
// 0.3% (997/1000) when a venue's configuration omits an explicit schedule.
const (
	DefaultFeeNum uint64 = 997
	DefaultFeeDen uint64 = 1000
)

// NewVenue constructs a Venue, defaulting the fee schedule to 997/1000 when
// either component is zero.
func NewVenue(name string, factory common.Address, feeNum, feeDen uint64) *Venue {
	if feeNum == 0 || feeDen == 0 {
		feeNum, feeDen = DefaultFeeNum, DefaultFeeDen
	}
	return &Venue{Name: name, Factory: factory, FeeNum: feeNum, FeeDen: feeDen}
}
