package domain

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func sampleLegs() []Leg {
	return []Leg{
		{Venue: "uniswap", TokenIn: common.HexToAddress("0x1"), TokenOut: common.HexToAddress("0x2")},
		{Venue: "sushiswap", TokenIn: common.HexToAddress("0x2"), TokenOut: common.HexToAddress("0x1")},
	}
}

func TestNewID_DeterministicForSameInputs(t *testing.T) {
	legs := sampleLegs()
	id1 := NewID(TwoLeg, legs, 100, 0)
	id2 := NewID(TwoLeg, legs, 100, 0)
	if id1 != id2 {
		t.Fatalf("expected identical inputs to produce the same id, got %s vs %s", id1, id2)
	}
}

func TestNewID_DiffersOnSeq(t *testing.T) {
	legs := sampleLegs()
	id1 := NewID(TwoLeg, legs, 100, 0)
	id2 := NewID(TwoLeg, legs, 100, 1)
	if id1 == id2 {
		t.Fatalf("expected different seq to disambiguate ids, both were %s", id1)
	}
}

func TestNewID_DiffersOnBlockOrKind(t *testing.T) {
	legs := sampleLegs()
	base := NewID(TwoLeg, legs, 100, 0)
	if base == NewID(TwoLeg, legs, 101, 0) {
		t.Fatalf("expected block number to change id")
	}
	if base == NewID(Triangular, legs, 100, 0) {
		t.Fatalf("expected kind to change id")
	}
}

func TestOpportunity_WithStatusDoesNotMutateReceiver(t *testing.T) {
	orig := Opportunity{ID: "abc", Status: Detected}
	updated := orig.WithStatus(Qualified, "margin ok")

	if orig.Status != Detected {
		t.Fatalf("expected receiver to stay Detected, got %s", orig.Status)
	}
	if updated.Status != Qualified || updated.Reason != "margin ok" {
		t.Fatalf("expected copy to carry the new status/reason, got %s/%s", updated.Status, updated.Reason)
	}
}

func TestOpportunity_IsExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	o := Opportunity{ExpiresAt: now.Add(-time.Second)}
	if !o.IsExpired(now) {
		t.Fatalf("expected opportunity with past ExpiresAt to be expired")
	}
	o2 := Opportunity{ExpiresAt: now.Add(time.Second)}
	if o2.IsExpired(now) {
		t.Fatalf("expected opportunity with future ExpiresAt to not be expired")
	}
	o3 := Opportunity{ExpiresAt: now}
	if !o3.IsExpired(now) {
		t.Fatalf("expected ExpiresAt == now to count as expired")
	}
}

func TestOpportunity_VenuePathAndPairPath(t *testing.T) {
	o := Opportunity{Legs: sampleLegs(), TradeAmountIn: big.NewInt(1)}
	if got := o.VenuePath(); got != "uniswap->sushiswap" {
		t.Fatalf("unexpected venue path: %s", got)
	}
	if got := o.PairPath(); got == "" {
		t.Fatalf("expected non-empty pair path")
	}
}
