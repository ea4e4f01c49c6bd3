package store

import (
	"context"
	"errors"
	"io"
	"math/big"
	"net/http"
	"testing"
	"time"

	"github.com/kunalmkv/arbflux/business/amm/domain"
	"github.com/kunalmkv/arbflux/internal/config"
	"github.com/kunalmkv/arbflux/internal/httpclient"
	"github.com/kunalmkv/arbflux/internal/logger"
)

type fakeClient struct {
	postFunc func(ctx context.Context, url string) (*httpclient.Response, error)
	posted   []interface{}
}

func (c *fakeClient) NewRequest() httpclient.Request {
	return &recordingRequest{client: c}
}

func (c *fakeClient) NewRequestWithOptions(opts ...httpclient.RequestOption) httpclient.Request {
	return c.NewRequest()
}

func (c *fakeClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return nil, nil
}

// recordingRequest records the posted body on the owning fakeClient so tests
// can assert on what Store actually sent.
type recordingRequest struct {
	client *fakeClient
	body   interface{}
}

func (r *recordingRequest) Get(ctx context.Context, url string) (*httpclient.Response, error) {
	return nil, nil
}
func (r *recordingRequest) Post(ctx context.Context, url string) (*httpclient.Response, error) {
	r.client.posted = append(r.client.posted, r.body)
	return r.client.postFunc(ctx, url)
}
func (r *recordingRequest) Put(ctx context.Context, url string) (*httpclient.Response, error) {
	return nil, nil
}
func (r *recordingRequest) Patch(ctx context.Context, url string) (*httpclient.Response, error) {
	return nil, nil
}
func (r *recordingRequest) Delete(ctx context.Context, url string) (*httpclient.Response, error) {
	return nil, nil
}
func (r *recordingRequest) SetBody(body interface{}) httpclient.Request {
	r.body = body
	return r
}
func (r *recordingRequest) SetHeader(key, value string) httpclient.Request          { return r }
func (r *recordingRequest) SetHeaders(headers map[string]string) httpclient.Request { return r }
func (r *recordingRequest) SetQueryParam(key, value string) httpclient.Request      { return r }
func (r *recordingRequest) SetQueryParams(params map[string]string) httpclient.Request {
	return r
}
func (r *recordingRequest) SetResult(result interface{}) httpclient.Request { return r }

func storeTestLogger() logger.LoggerInterface {
	return logger.New(io.Discard, logger.LevelInfo, "test", nil)
}

func sampleOpportunity(id string) domain.Opportunity {
	return domain.Opportunity{
		ID:             id,
		Kind:           domain.TwoLeg,
		NetProfitQuote: big.NewInt(500),
		Status:         domain.Qualified,
	}
}

func TestStore_Emit_NoopWhenEndpointUnset(t *testing.T) {
	client := &fakeClient{postFunc: func(ctx context.Context, url string) (*httpclient.Response, error) {
		t.Fatalf("expected no HTTP call when endpoint is unset")
		return nil, nil
	}}
	s := New(client, config.StoreConfig{}, storeTestLogger())

	s.Emit(context.Background(), sampleOpportunity("opp-1"))
}

func TestStore_Emit_WritesDirectlyOnSuccess(t *testing.T) {
	client := &fakeClient{postFunc: func(ctx context.Context, url string) (*httpclient.Response, error) {
		return &httpclient.Response{}, nil
	}}
	s := New(client, config.StoreConfig{Endpoint: "http://store.local/opportunities"}, storeTestLogger())

	s.Emit(context.Background(), sampleOpportunity("opp-1"))

	if len(client.posted) != 1 {
		t.Fatalf("expected exactly one HTTP post, got %d", len(client.posted))
	}
	rec, ok := client.posted[0].(record)
	if !ok {
		t.Fatalf("expected posted body to be a record, got %T", client.posted[0])
	}
	if rec.ID != "opp-1" {
		t.Fatalf("expected posted record id opp-1, got %q", rec.ID)
	}
}

func TestStore_Emit_BuffersOnFailureThenDrainsOnRecovery(t *testing.T) {
	failing := true
	client := &fakeClient{postFunc: func(ctx context.Context, url string) (*httpclient.Response, error) {
		if failing {
			return nil, errors.New("connection refused")
		}
		return &httpclient.Response{}, nil
	}}
	s := New(client, config.StoreConfig{Endpoint: "http://store.local/opportunities"}, storeTestLogger())

	s.Emit(context.Background(), sampleOpportunity("opp-1"))
	if len(s.buffer) != 1 {
		t.Fatalf("expected the failed record to be buffered, got %d buffered", len(s.buffer))
	}

	failing = false
	s.Emit(context.Background(), sampleOpportunity("opp-2"))

	if len(s.buffer) != 0 {
		t.Fatalf("expected the buffer to drain once the sink recovers, got %d still buffered", len(s.buffer))
	}
	if len(client.posted) != 3 {
		// opp-1 (fails), opp-2 (succeeds), opp-1 drained (succeeds)
		t.Fatalf("expected 3 posts (1 failed + 1 success + 1 drained), got %d", len(client.posted))
	}
}

func TestStore_Enqueue_DropsOldestOnBufferOverflow(t *testing.T) {
	client := &fakeClient{postFunc: func(ctx context.Context, url string) (*httpclient.Response, error) {
		return nil, errors.New("still down")
	}}
	s := New(client, config.StoreConfig{Endpoint: "http://store.local/opportunities", BufferLimit: 2}, storeTestLogger())

	s.Emit(context.Background(), sampleOpportunity("opp-1"))
	s.Emit(context.Background(), sampleOpportunity("opp-2"))
	s.Emit(context.Background(), sampleOpportunity("opp-3"))

	if len(s.buffer) != 2 {
		t.Fatalf("expected buffer capped at 2, got %d", len(s.buffer))
	}
	if s.buffer[0].ID != "opp-2" || s.buffer[1].ID != "opp-3" {
		t.Fatalf("expected the oldest record to be dropped, got %+v", s.buffer)
	}
}

func TestStore_Enqueue_EscalatesOnceOutageExceedsMax(t *testing.T) {
	client := &fakeClient{postFunc: func(ctx context.Context, url string) (*httpclient.Response, error) {
		return nil, errors.New("still down")
	}}
	s := New(client, config.StoreConfig{Endpoint: "http://store.local/opportunities", OutageMax: 10 * time.Millisecond}, storeTestLogger())

	escalations := make(chan error, 4)
	s.SetEscalationHandler(func(cause error) { escalations <- cause })

	s.Emit(context.Background(), sampleOpportunity("opp-1"))
	time.Sleep(20 * time.Millisecond)
	s.Emit(context.Background(), sampleOpportunity("opp-2"))
	s.Emit(context.Background(), sampleOpportunity("opp-3"))

	select {
	case cause := <-escalations:
		if cause == nil {
			t.Fatalf("expected a non-nil escalation cause")
		}
	case <-time.After(time.Second):
		t.Fatalf("expected an escalation once the outage exceeded OutageMax")
	}

	select {
	case <-escalations:
		t.Fatalf("expected only one escalation per outage")
	default:
	}
}

func TestToRecord_EncodesBigIntFieldsAsStrings(t *testing.T) {
	opp := domain.Opportunity{
		ID:               "opp-1",
		Kind:             domain.Triangular,
		TradeAmountIn:    big.NewInt(1000),
		GrossProfitQuote: big.NewInt(50),
		NetProfitQuote:   big.NewInt(40),
		GasCostQuote:     big.NewInt(10),
		FeeCostQuote:     big.NewInt(5),
		Status:           domain.Qualified,
	}

	rec := toRecord(opp)

	if rec.TradeAmountIn != "1000" || rec.NetProfitQuote != "40" {
		t.Fatalf("expected big.Int fields encoded as decimal strings, got %+v", rec)
	}
	if rec.Kind != "triangular" && rec.Kind != domain.Triangular.String() {
		t.Fatalf("expected kind to round-trip through String(), got %q", rec.Kind)
	}
}
