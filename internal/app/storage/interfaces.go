package storage

import (
	"context"
	"errors"
	"time"

	"github.com/peertrack/peertrack/internal/app/domain/market"
)

// ErrNotFound is returned when a requested record does not exist. Callers
// check it with errors.Is.
var ErrNotFound = errors.New("record not found")

// PairStore persists trading pair configuration.
type PairStore interface {
	CreatePair(ctx context.Context, pair market.TradingPair) (market.TradingPair, error)
	UpdatePair(ctx context.Context, pair market.TradingPair) (market.TradingPair, error)
	GetPair(ctx context.Context, id string) (market.TradingPair, error)
	GetPairBySymbol(ctx context.Context, symbol string) (market.TradingPair, error)
	ListPairs(ctx context.Context, activeOnly bool) ([]market.TradingPair, error)
}

// SnapshotStore persists market snapshots and their order-book entries.
// CreateSnapshot is all-or-nothing: either the snapshot and every entry are
// committed, or none are.
type SnapshotStore interface {
	CreateSnapshot(ctx context.Context, snap market.MarketSnapshot, entries []market.OrderBookEntry) (market.MarketSnapshot, error)
	GetSnapshot(ctx context.Context, id string) (market.MarketSnapshot, error)
	LatestSnapshot(ctx context.Context, pairID string, tradeType market.TradeType) (market.MarketSnapshot, error)
	// LatestCollectionTimes reports the most recent collected_at per pair
	// and trade type. A side that was never collected has no entry.
	LatestCollectionTimes(ctx context.Context) (map[string]map[market.TradeType]time.Time, error)
	ListEntries(ctx context.Context, snapshotID string) ([]market.OrderBookEntry, error)
	ListEntriesByMerchant(ctx context.Context, merchantID string, limit int) ([]market.OrderBookEntry, error)
	DeleteSnapshotsBefore(ctx context.Context, cutoff time.Time) (int, error)
}
