package collector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/peertrack/peertrack/internal/app/domain/market"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(ClientConfig{BaseURL: srv.URL, RatePerSecond: 1000, RateBurst: 100}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestClient_FetchDecodesAds(t *testing.T) {
	var gotBody map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != searchPath {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"code": "000000",
			"data": [
				{"adv": {"advNo": "a1", "price": "36.50", "surplusAmount": "1000"},
				 "advertiser": {"nickName": "m1", "userNo": "u1"}}
			],
			"total": 1
		}`))
	})

	res, err := client.Fetch(context.Background(), SearchRequest{
		Asset:     "usdt",
		Fiat:      "ves",
		TradeType: market.TradeTypeSell,
		Rows:      20,
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(res.Ads) != 1 || res.Ads[0].Adv.Price != "36.50" {
		t.Fatalf("unexpected ads: %#v", res.Ads)
	}
	if res.Total != 1 {
		t.Fatalf("expected total 1, got %d", res.Total)
	}
	if len(res.Raw) == 0 {
		t.Fatalf("raw payload should be preserved")
	}
	if gotBody["asset"] != "USDT" || gotBody["fiat"] != "VES" || gotBody["tradeType"] != "SELL" {
		t.Fatalf("unexpected request body: %#v", gotBody)
	}
}

func TestClient_FetchClampsRows(t *testing.T) {
	var gotRows float64
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotRows = body["rows"].(float64)
		_, _ = w.Write([]byte(`{"code":"000000","data":[],"total":0}`))
	})

	if _, err := client.Fetch(context.Background(), SearchRequest{
		Asset: "USDT", Fiat: "VES", TradeType: market.TradeTypeBuy, Rows: 200,
	}); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if int(gotRows) != maxRowsPerPage {
		t.Fatalf("expected rows clamped to %d, got %v", maxRowsPerPage, gotRows)
	}
}

func TestClient_FetchHonoursConfiguredRowsCeiling(t *testing.T) {
	rows := make([]float64, 0, 2)
	srv := httptest.NewServer(func() http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			var body map[string]interface{}
			_ = json.NewDecoder(r.Body).Decode(&body)
			rows = append(rows, body["rows"].(float64))
			_, _ = w.Write([]byte(`{"code":"000000","data":[],"total":0}`))
		}
	}())
	t.Cleanup(srv.Close)

	client, err := NewClient(ClientConfig{
		BaseURL: srv.URL, RatePerSecond: 1000, RateBurst: 100, RowsCeiling: 10,
	}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	for _, want := range []int{30, 0} {
		if _, err := client.Fetch(context.Background(), SearchRequest{
			Asset: "USDT", Fiat: "VES", TradeType: market.TradeTypeSell, Rows: want,
		}); err != nil {
			t.Fatalf("fetch: %v", err)
		}
	}
	// Both the over-ceiling and the unset request collapse to the ceiling.
	if len(rows) != 2 || int(rows[0]) != 10 || int(rows[1]) != 10 {
		t.Fatalf("expected configured ceiling 10 applied, got %v", rows)
	}

	// A ceiling above the venue maximum is pulled back down.
	capped, err := NewClient(ClientConfig{
		BaseURL: srv.URL, RatePerSecond: 1000, RateBurst: 100, RowsCeiling: 500,
	}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if capped.rowsCeil != maxRowsPerPage {
		t.Fatalf("ceiling must not exceed %d, got %d", maxRowsPerPage, capped.rowsCeil)
	}
}

func TestClient_FetchVenueErrorCode(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"919001","message":"illegal parameter"}`))
	})

	_, err := client.Fetch(context.Background(), SearchRequest{
		Asset: "USDT", Fiat: "VES", TradeType: market.TradeTypeSell,
	})
	if err == nil {
		t.Fatalf("expected venue error")
	}
	if IsRetryable(err) {
		t.Fatalf("business error codes are not retryable: %v", err)
	}
}

func TestClient_FetchServerErrorRetryable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.Fetch(context.Background(), SearchRequest{
		Asset: "USDT", Fiat: "VES", TradeType: market.TradeTypeSell,
	})
	if err == nil {
		t.Fatalf("expected error on 502")
	}
	if !IsRetryable(err) {
		t.Fatalf("5xx responses should be retryable: %v", err)
	}
}

func TestClient_FetchRateLimitedRetryable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.Fetch(context.Background(), SearchRequest{
		Asset: "USDT", Fiat: "VES", TradeType: market.TradeTypeSell,
	})
	if !IsRetryable(err) {
		t.Fatalf("429 should be retryable: %v", err)
	}
}

func TestClient_FetchBadRequestNotRetryable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := client.Fetch(context.Background(), SearchRequest{
		Asset: "USDT", Fiat: "VES", TradeType: market.TradeTypeSell,
	})
	if err == nil || IsRetryable(err) {
		t.Fatalf("4xx should fail without retry: %v", err)
	}
}
