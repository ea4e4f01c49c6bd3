package rpcpool

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/kunalmkv/arbflux/internal/apperror"
	"github.com/kunalmkv/arbflux/internal/logger"
)

func testPool(t *testing.T, n int) *Pool {
	t.Helper()
	log := logger.New(testDiscard{}, logger.LevelError, "rpcpool-test", nil)
	p := &Pool{
		failoverThreshold: 3,
		cooldownPeriod:    50 * time.Millisecond,
		logger:            log,
	}
	for i := 0; i < n; i++ {
		p.endpoints = append(p.endpoints, &endpoint{})
	}
	return p
}

type testDiscard struct{}

func (testDiscard) Write(b []byte) (int, error) { return len(b), nil }

func TestPool_RotateAdvancesAndRespectsCooldown(t *testing.T) {
	p := testPool(t, 3)
	p.rotate()
	if p.ActiveIndex() != 1 {
		t.Fatalf("expected rotation to index 1, got %d", p.ActiveIndex())
	}

	// Immediate second rotate within the cooldown window must be a no-op.
	p.rotate()
	if p.ActiveIndex() != 1 {
		t.Fatalf("expected cooldown to suppress rotation, got %d", p.ActiveIndex())
	}

	time.Sleep(60 * time.Millisecond)
	p.rotate()
	if p.ActiveIndex() != 2 {
		t.Fatalf("expected rotation to index 2 after cooldown, got %d", p.ActiveIndex())
	}
}

func TestPool_RotateWrapsAround(t *testing.T) {
	p := testPool(t, 2)
	p.rotate()
	time.Sleep(60 * time.Millisecond)
	p.rotate()
	if p.ActiveIndex() != 0 {
		t.Fatalf("expected wraparound back to index 0, got %d", p.ActiveIndex())
	}
}

func TestClassifyTransportError_Timeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	time.Sleep(2 * time.Millisecond)

	code := classifyTransportError(ctx, errors.New("deadline exceeded"))
	if code != apperror.CodeTransportTimeout {
		t.Fatalf("expected TransportTimeout, got %s", code)
	}
}

func TestClassifyTransportError_Refused(t *testing.T) {
	code := classifyTransportError(context.Background(), errors.New("dial tcp: connection refused"))
	if code != apperror.CodeTransportRefused {
		t.Fatalf("expected TransportRefused, got %s", code)
	}
}

func TestClassifyTransportError_Malformed(t *testing.T) {
	code := classifyTransportError(context.Background(), errors.New("unexpected EOF decoding response"))
	if code != apperror.CodeTransportMalformed {
		t.Fatalf("expected TransportMalformed, got %s", code)
	}
}

func TestDecodeReserves_RejectsShortOutput(t *testing.T) {
	p := testPool(t, 1)
	parsed, err := abi.JSON(strings.NewReader(PairABI))
	if err != nil {
		t.Fatalf("unexpected error building test ABI: %v", err)
	}
	p.pairABI = parsed
	if _, err := p.decodeReserves([]byte{}); err == nil {
		t.Fatalf("expected decode error on empty input")
	}
}

func TestToBlockNumArg_EncodesHex(t *testing.T) {
	if got := toBlockNumArg(255); got != "0xff" {
		t.Fatalf("expected 0xff, got %s", got)
	}
}
