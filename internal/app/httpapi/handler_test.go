package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/peertrack/peertrack/internal/app/services/collector"
	"github.com/peertrack/peertrack/internal/app/services/health"
	"github.com/peertrack/peertrack/internal/app/services/marketdata"
	"github.com/peertrack/peertrack/internal/app/services/registry"
	"github.com/peertrack/peertrack/internal/app/services/retention"
	"github.com/peertrack/peertrack/internal/app/storage/memory"
)

type staticRater float64

func (r staticRater) ErrorRate() float64 { return float64(r) }

func newTestServer(t *testing.T, fetcher collector.Fetcher) (*httptest.Server, *memory.Store) {
	t.Helper()
	store := memory.New()
	if fetcher == nil {
		fetcher = collector.FetcherFunc(func(context.Context, collector.SearchRequest) (collector.SearchResult, error) {
			return collector.SearchResult{Raw: json.RawMessage(`{"data":[]}`)}, nil
		})
	}
	handler := NewHandler(Deps{
		Registry:  registry.New(store, store, nil),
		Market:    marketdata.New(store, store, fetcher, nil),
		Health:    health.New(store, store, staticRater(0), 0.5, nil),
		Retention: retention.New(store, 30, nil),
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, store
}

func postJSON(t *testing.T, url string, payload string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(payload))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHandler_PairAdmin(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp := postJSON(t, srv.URL+"/api/v1/pairs", `{"asset":"usdt","fiat":"ves"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create pair status %d", resp.StatusCode)
	}
	var created struct {
		ID         string `json:"id"`
		PairSymbol string `json:"pair_symbol"`
		IsActive   bool   `json:"is_active"`
	}
	decodeBody(t, resp, &created)
	if created.PairSymbol != "USDT/VES" || !created.IsActive {
		t.Fatalf("unexpected pair: %#v", created)
	}

	resp = postJSON(t, srv.URL+"/api/v1/pairs", `{"asset":"USDT","fiat":"VES"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("duplicate pair status %d, want 400", resp.StatusCode)
	}

	resp, err := http.Get(srv.URL + "/api/v1/pairs/" + created.ID)
	if err != nil {
		t.Fatalf("get pair: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get pair status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/api/v1/pairs/"+created.ID+"/active", `{"active":false}`)
	var toggled struct {
		IsActive bool `json:"is_active"`
	}
	decodeBody(t, resp, &toggled)
	if toggled.IsActive {
		t.Fatalf("pair should be inactive after toggle")
	}

	resp, err = http.Get(srv.URL + "/api/v1/pairs/missing")
	if err != nil {
		t.Fatalf("get missing pair: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing pair status %d, want 404", resp.StatusCode)
	}
}

func TestHandler_BuyPricesLive(t *testing.T) {
	fetcher := collector.FetcherFunc(func(_ context.Context, req collector.SearchRequest) (collector.SearchResult, error) {
		var ad collector.RawAd
		ad.Adv.AdvNo = "a1"
		ad.Adv.Price = "36.00"
		ad.Adv.SurplusAmount = "500"
		ad.Advertiser.UserNo = "u1"
		ad.Advertiser.NickName = "m1"
		return collector.SearchResult{Ads: []collector.RawAd{ad}, Raw: json.RawMessage(`{}`)}, nil
	})
	srv, _ := newTestServer(t, fetcher)

	resp, err := http.Get(srv.URL + "/api/v1/market/buy")
	if err != nil {
		t.Fatalf("get buy prices: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("buy prices status %d", resp.StatusCode)
	}
	var view struct {
		Metrics *struct {
			BestPrice  string `json:"best_price"`
			SampleSize int    `json:"sample_size"`
		} `json:"metrics"`
		Data []json.RawMessage `json:"data"`
	}
	decodeBody(t, resp, &view)
	if view.Metrics == nil || view.Metrics.SampleSize != 1 {
		t.Fatalf("unexpected metrics: %#v", view.Metrics)
	}
	if len(view.Data) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(view.Data))
	}
}

func TestHandler_FetchFailureMapsToBadGateway(t *testing.T) {
	fetcher := collector.FetcherFunc(func(context.Context, collector.SearchRequest) (collector.SearchResult, error) {
		return collector.SearchResult{}, errors.New("venue down")
	})
	srv, _ := newTestServer(t, fetcher)

	resp, err := http.Get(srv.URL + "/api/v1/market/both")
	if err != nil {
		t.Fatalf("get both prices: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("fetch failure status %d, want 502", resp.StatusCode)
	}
}

func TestHandler_SummaryUnknownPair(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	resp, err := http.Get(srv.URL + "/api/v1/market/summary?asset=DOGE&fiat=VES")
	if err != nil {
		t.Fatalf("get summary: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown pair status %d, want 404", resp.StatusCode)
	}
}

func TestHandler_RawDataRejectsBadTradeType(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	resp, err := http.Get(srv.URL + "/api/v1/market/raw?trade_type=SIDEWAYS")
	if err != nil {
		t.Fatalf("get raw: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad trade type status %d, want 400", resp.StatusCode)
	}
}

func TestHandler_HealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	var report struct {
		Status string `json:"status"`
	}
	decodeBody(t, resp, &report)
	// No active pairs: healthy by definition.
	if resp.StatusCode != http.StatusOK || report.Status != "ok" {
		t.Fatalf("healthz status %d body %q", resp.StatusCode, report.Status)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", resp.StatusCode)
	}
}

func TestHandler_Cleanup(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	resp := postJSON(t, srv.URL+"/api/v1/admin/cleanup", `{}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cleanup status %d", resp.StatusCode)
	}
	var result struct {
		Deleted int `json:"deleted"`
	}
	decodeBody(t, resp, &result)
	if result.Deleted != 0 {
		t.Fatalf("empty store should delete nothing, got %d", result.Deleted)
	}
}
