package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/peertrack/peertrack/internal/app/domain/market"
	"github.com/peertrack/peertrack/pkg/logger"
)

// maxRowsPerPage is the venue-imposed page size ceiling. Requests above it
// are clamped, never rejected.
const maxRowsPerPage = 50

const searchPath = "/bapi/c2c/v2/friendly/c2c/adv/search"

// RawAd is one advertisement as the venue returns it. Optional advertiser
// fields stay nil when the venue omits them so normalization can distinguish
// absent from zero.
type RawAd struct {
	Adv struct {
		AdvNo                string `json:"advNo"`
		Price                string `json:"price"`
		SurplusAmount        string `json:"surplusAmount"`
		MinSingleTransAmount string `json:"minSingleTransAmount"`
		MaxSingleTransAmount string `json:"maxSingleTransAmount"`
		TradeMethods         []struct {
			TradeMethodName string `json:"tradeMethodName"`
			Identifier      string `json:"identifier"`
		} `json:"tradeMethods"`
	} `json:"adv"`
	Advertiser struct {
		NickName        string   `json:"nickName"`
		UserNo          string   `json:"userNo"`
		UserType        string   `json:"userType"`
		MonthOrderCount *int     `json:"monthOrderCount"`
		MonthFinishRate *float64 `json:"monthFinishRate"`
		ProMerchant     *bool    `json:"proMerchant"`
		KycVerified     *bool    `json:"kycVerified"`
		AvgPayTime      *float64 `json:"avgPayTimeMinutes"`
		AvgReleaseTime  *float64 `json:"avgReleaseTimeMinutes"`
	} `json:"advertiser"`
}

// SearchRequest is one venue query for a single page of ads.
type SearchRequest struct {
	Asset       string
	Fiat        string
	TradeType   market.TradeType
	Page        int
	Rows        int
	TransAmount *decimal.Decimal
	PayTypes    []string
}

// SearchResult carries the decoded ads plus the verbatim payload for audit.
type SearchResult struct {
	Ads   []RawAd
	Total int
	Raw   json.RawMessage
}

// Fetcher queries the external venue for one page of order-book ads. The
// fetcher is stateless: transient failures are surfaced to the caller, which
// owns the retry policy.
type Fetcher interface {
	Fetch(ctx context.Context, req SearchRequest) (SearchResult, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req SearchRequest) (SearchResult, error)

func (f FetcherFunc) Fetch(ctx context.Context, req SearchRequest) (SearchResult, error) {
	return f(ctx, req)
}

// transientError marks venue failures worth retrying: transport errors,
// timeouts, rate limiting, and server-side errors.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// IsRetryable reports whether an error came from a transient venue condition.
func IsRetryable(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// Client is the HTTP fetcher against the venue's ad search endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	limiter    *rate.Limiter
	rowsCeil   int
	log        *logger.Logger
}

var _ Fetcher = (*Client)(nil)

// ClientConfig tunes the venue client. RowsCeiling lowers the per-page row
// cap below the venue maximum; it can never raise it.
type ClientConfig struct {
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond float64
	RateBurst     int
	RowsCeiling   int
}

// NewClient builds a venue client.
func NewClient(cfg ClientConfig, log *logger.Logger) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, fmt.Errorf("venue base URL required")
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse venue base URL: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 8
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 4
	}
	if cfg.RowsCeiling <= 0 || cfg.RowsCeiling > maxRowsPerPage {
		cfg.RowsCeiling = maxRowsPerPage
	}
	if log == nil {
		log = logger.NewDefault("venue-client")
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    parsed,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst),
		rowsCeil:   cfg.RowsCeiling,
		log:        log,
	}, nil
}

// Fetch requests one page of ads. Rows are clamped to the configured ceiling.
// An empty-but-successful response yields zero ads and no error.
func (c *Client) Fetch(ctx context.Context, req SearchRequest) (SearchResult, error) {
	if req.Page < 1 {
		req.Page = 1
	}
	if req.Rows < 1 || req.Rows > c.rowsCeil {
		req.Rows = c.rowsCeil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return SearchResult{}, err
	}

	payload := map[string]interface{}{
		"page":      req.Page,
		"rows":      req.Rows,
		"asset":     strings.ToUpper(req.Asset),
		"fiat":      strings.ToUpper(req.Fiat),
		"tradeType": string(req.TradeType),
	}
	if req.TransAmount != nil {
		payload["transAmount"] = req.TransAmount.String()
	}
	if len(req.PayTypes) > 0 {
		payload["payTypes"] = req.PayTypes
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return SearchResult{}, err
	}

	endpoint := *c.baseURL
	endpoint.Path = strings.TrimRight(endpoint.Path, "/") + searchPath

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return SearchResult{}, fmt.Errorf("build venue request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return SearchResult{}, classifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return SearchResult{}, &transientError{err: fmt.Errorf("read venue response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("venue status %d", resp.StatusCode)
		if isRetryableStatus(resp.StatusCode) {
			return SearchResult{}, &transientError{err: err}
		}
		return SearchResult{}, err
	}

	// The venue wraps errors in a 200 with a non-success code.
	if code := gjson.GetBytes(raw, "code").String(); code != "" && code != "000000" {
		msg := gjson.GetBytes(raw, "message").String()
		return SearchResult{}, fmt.Errorf("venue error code %s: %s", code, msg)
	}

	var decoded struct {
		Data  []RawAd `json:"data"`
		Total int     `json:"total"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return SearchResult{}, fmt.Errorf("decode venue response: %w", err)
	}
	if decoded.Total == 0 {
		decoded.Total = len(decoded.Data)
	}

	return SearchResult{Ads: decoded.Data, Total: decoded.Total, Raw: raw}, nil
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return &transientError{err: fmt.Errorf("venue request: %w", err)}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &transientError{err: fmt.Errorf("venue request: %w", err)}
	}
	return fmt.Errorf("venue request: %w", err)
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return status >= 500
}
