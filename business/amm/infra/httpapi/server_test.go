package httpapi

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kunalmkv/arbflux/business/amm/infra/rpcpool"
)

func noPool() *rpcpool.Pool { return nil }

func TestServer_HandleHealth_UnhealthyWithNoTicks(t *testing.T) {
	s := NewServer(":0", NewIndex(10, 10), noPool, nil)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)

	var got healthView
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Status != "unhealthy" {
		t.Fatalf("expected unhealthy status before any tick is recorded, got %q", got.Status)
	}
	if got.EndpointIndex != -1 {
		t.Fatalf("expected endpoint index -1 with no pool, got %d", got.EndpointIndex)
	}
}

func TestServer_HandleHealth_HealthyAfterRecentTick(t *testing.T) {
	idx := NewIndex(10, 10)
	idx.RecordTick(100, time.Now(), false)
	s := NewServer(":0", idx, noPool, nil)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)

	var got healthView
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Status != "healthy" {
		t.Fatalf("expected healthy status after a recent tick, got %q", got.Status)
	}
	if got.LastBlockNumber != 100 {
		t.Fatalf("expected last block number 100, got %d", got.LastBlockNumber)
	}
}

func TestServer_HandleStatistics(t *testing.T) {
	idx := NewIndex(10, 10)
	idx.RecordTick(7, time.Now(), false)
	s := NewServer(":0", idx, noPool, nil)

	req := httptest.NewRequest("GET", "/statistics", nil)
	rec := httptest.NewRecorder()
	s.handleStatistics(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got statisticsView
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.LastBlockNumber != 7 {
		t.Fatalf("expected last block number 7, got %d", got.LastBlockNumber)
	}
}

func TestServer_HandleList_RejectsNonGet(t *testing.T) {
	s := NewServer(":0", NewIndex(10, 10), noPool, nil)

	req := httptest.NewRequest("POST", "/opportunities", nil)
	rec := httptest.NewRecorder()
	s.handleList(rec, req)

	if rec.Code != 405 {
		t.Fatalf("expected 405 for non-GET method, got %d", rec.Code)
	}
}
