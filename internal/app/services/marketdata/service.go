package marketdata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/peertrack/peertrack/internal/app/domain/market"
	"github.com/peertrack/peertrack/internal/app/services/collector"
	"github.com/peertrack/peertrack/internal/app/storage"
	"github.com/peertrack/peertrack/pkg/logger"
)

// Query defaults: the service was built first for the USDT/VES market, so
// callers that omit the pair get it.
const (
	DefaultAsset = "USDT"
	DefaultFiat  = "VES"

	defaultLiveRows = 20
)

// ErrFetchFailed wraps live venue failures so the transport layer can map
// them to an upstream-error response instead of a generic server error.
var ErrFetchFailed = errors.New("venue fetch failed")

// Query selects a market and optional filters for the live read paths.
type Query struct {
	Asset       string
	Fiat        string
	Rows        int
	Page        int
	TransAmount *decimal.Decimal
	PayTypes    []string
}

func (q Query) normalized() Query {
	q.Asset = strings.ToUpper(strings.TrimSpace(q.Asset))
	q.Fiat = strings.ToUpper(strings.TrimSpace(q.Fiat))
	if q.Asset == "" {
		q.Asset = DefaultAsset
	}
	if q.Fiat == "" {
		q.Fiat = DefaultFiat
	}
	if q.Rows <= 0 {
		q.Rows = defaultLiveRows
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	return q
}

// PriceView is one side of the market as seen right now: live entries plus
// the metrics computed over them.
type PriceView struct {
	Metrics   *market.Metrics         `json:"metrics"`
	Data      []market.OrderBookEntry `json:"data"`
	FetchedAt time.Time               `json:"fetched_at"`
}

// BothView pairs the two sides of a live fetch.
type BothView struct {
	Asset string     `json:"asset"`
	Fiat  string     `json:"fiat"`
	Buy   *PriceView `json:"buy"`
	Sell  *PriceView `json:"sell"`
}

// SideSummary is the stored-snapshot view of one side.
type SideSummary struct {
	Metrics     *market.Metrics `json:"metrics"`
	TotalAds    int             `json:"total_ads"`
	Quality     float64         `json:"data_quality_score"`
	CollectedAt time.Time       `json:"collected_at"`
}

// Summary is the persisted market overview: latest snapshot per side, the
// spread between them, and a staleness flag keyed to the pair's own
// collection cadence.
type Summary struct {
	Asset  string           `json:"asset"`
	Fiat   string           `json:"fiat"`
	Symbol string           `json:"symbol"`
	Buy    *SideSummary     `json:"buy"`
	Sell   *SideSummary     `json:"sell"`
	Spread *decimal.Decimal `json:"spread"`
	Stale  bool             `json:"stale"`
}

// Service answers read queries, either from stored snapshots (summary) or
// by hitting the venue directly (price and raw endpoints).
type Service struct {
	pairs     storage.PairStore
	snapshots storage.SnapshotStore
	fetcher   collector.Fetcher
	log       *logger.Logger
}

// New creates the read service.
func New(pairs storage.PairStore, snapshots storage.SnapshotStore, fetcher collector.Fetcher, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("marketdata")
	}
	return &Service{pairs: pairs, snapshots: snapshots, fetcher: fetcher, log: log}
}

// MarketSummary builds the overview for a pair from its latest stored
// snapshots. A side with no snapshot yet is nil; the spread is present only
// when both sides are, and can be negative in a crossed market.
func (s *Service) MarketSummary(ctx context.Context, q Query, now time.Time) (*Summary, error) {
	q = q.normalized()
	symbol := market.Symbol(q.Asset, q.Fiat)
	pair, err := s.pairs.GetPairBySymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}

	out := &Summary{Asset: pair.Asset, Fiat: pair.Fiat, Symbol: pair.PairSymbol}

	// The buy side of the summary is what a user buying the asset pays,
	// which comes from SELL listings.
	buy, buyAt, err := s.sideSummary(ctx, pair.ID, market.TradeTypeSell)
	if err != nil {
		return nil, err
	}
	sell, sellAt, err := s.sideSummary(ctx, pair.ID, market.TradeTypeBuy)
	if err != nil {
		return nil, err
	}
	out.Buy = buy
	out.Sell = sell

	if buy != nil && buy.Metrics != nil && sell != nil && sell.Metrics != nil {
		spread := buy.Metrics.BestPrice.Sub(sell.Metrics.BestPrice)
		out.Spread = &spread
	}

	maxAge := 2 * time.Duration(pair.CollectionIntervalMinutes) * time.Minute
	newest := buyAt
	if sellAt.After(newest) {
		newest = sellAt
	}
	out.Stale = newest.IsZero() || now.Sub(newest) > maxAge
	return out, nil
}

func (s *Service) sideSummary(ctx context.Context, pairID string, tt market.TradeType) (*SideSummary, time.Time, error) {
	snap, err := s.snapshots.LatestSnapshot(ctx, pairID, tt)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, err
	}
	entries, err := s.snapshots.ListEntries(ctx, snap.ID)
	if err != nil {
		return nil, time.Time{}, err
	}
	return &SideSummary{
		Metrics:     ComputeMetrics(entries),
		TotalAds:    snap.TotalAds,
		Quality:     snap.DataQualityScore,
		CollectedAt: snap.CollectedAt,
	}, snap.CollectedAt, nil
}

// BuyPrices fetches live SELL listings, the ones a buyer of the asset
// trades against.
func (s *Service) BuyPrices(ctx context.Context, q Query) (*PriceView, error) {
	return s.livePrices(ctx, q, market.TradeTypeForUserIntent(true))
}

// SellPrices fetches live BUY listings, the ones a seller of the asset
// trades against.
func (s *Service) SellPrices(ctx context.Context, q Query) (*PriceView, error) {
	return s.livePrices(ctx, q, market.TradeTypeForUserIntent(false))
}

// BothPrices fetches both sides. Either side failing fails the call: a
// half-populated comparison is worse than an error.
func (s *Service) BothPrices(ctx context.Context, q Query) (*BothView, error) {
	q = q.normalized()
	buy, err := s.livePrices(ctx, q, market.TradeTypeForUserIntent(true))
	if err != nil {
		return nil, err
	}
	sell, err := s.livePrices(ctx, q, market.TradeTypeForUserIntent(false))
	if err != nil {
		return nil, err
	}
	return &BothView{Asset: q.Asset, Fiat: q.Fiat, Buy: buy, Sell: sell}, nil
}

func (s *Service) livePrices(ctx context.Context, q Query, tt market.TradeType) (*PriceView, error) {
	q = q.normalized()
	res, err := s.fetcher.Fetch(ctx, collector.SearchRequest{
		Asset:       q.Asset,
		Fiat:        q.Fiat,
		TradeType:   tt,
		Page:        q.Page,
		Rows:        q.Rows,
		TransAmount: q.TransAmount,
		PayTypes:    q.PayTypes,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s %s: %v", ErrFetchFailed, q.Asset, q.Fiat, tt, err)
	}

	side := market.SideForTradeType(tt)
	entries := make([]market.OrderBookEntry, 0, len(res.Ads))
	for _, ad := range res.Ads {
		entry, err := collector.NormalizeAd(ad, side)
		if err != nil {
			// Live reads tolerate a malformed ad; it is dropped, not fatal.
			s.log.WithError(err).Warn("skipping malformed ad in live read")
			continue
		}
		entries = append(entries, entry)
	}

	return &PriceView{
		Metrics:   ComputeMetrics(entries),
		Data:      entries,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// RawQuery extends Query with an explicit listing side for the raw endpoint.
type RawQuery struct {
	Query
	TradeType market.TradeType
}

// RawData proxies one venue page verbatim for debugging and audit.
func (s *Service) RawData(ctx context.Context, q RawQuery) (*collector.SearchResult, error) {
	q.Query = q.Query.normalized()
	tt := q.TradeType
	if tt == "" {
		tt = market.TradeTypeSell
	}
	res, err := s.fetcher.Fetch(ctx, collector.SearchRequest{
		Asset:       q.Asset,
		Fiat:        q.Fiat,
		TradeType:   tt,
		Page:        q.Page,
		Rows:        q.Rows,
		TransAmount: q.TransAmount,
		PayTypes:    q.PayTypes,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s %s: %v", ErrFetchFailed, q.Asset, q.Fiat, tt, err)
	}
	return &res, nil
}
