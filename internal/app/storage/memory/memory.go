package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/peertrack/peertrack/internal/app/domain/market"
	"github.com/peertrack/peertrack/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local
// development.
type Store struct {
	mu            sync.RWMutex
	nextID        int64
	pairs         map[string]market.TradingPair
	pairsBySymbol map[string]string
	snapshots     map[string]market.MarketSnapshot
	entries       map[string][]market.OrderBookEntry
}

var _ storage.PairStore = (*Store)(nil)
var _ storage.SnapshotStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:        1,
		pairs:         make(map[string]market.TradingPair),
		pairsBySymbol: make(map[string]string),
		snapshots:     make(map[string]market.MarketSnapshot),
		entries:       make(map[string][]market.OrderBookEntry),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// PairStore implementation ----------------------------------------------------

func (s *Store) CreatePair(_ context.Context, pair market.TradingPair) (market.TradingPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pair.PairSymbol = market.Symbol(pair.Asset, pair.Fiat)
	if _, exists := s.pairsBySymbol[pair.PairSymbol]; exists {
		return market.TradingPair{}, fmt.Errorf("pair %s already exists", pair.PairSymbol)
	}

	if pair.ID == "" {
		pair.ID = s.nextIDLocked()
	} else if _, exists := s.pairs[pair.ID]; exists {
		return market.TradingPair{}, fmt.Errorf("pair %s already exists", pair.ID)
	}

	now := time.Now().UTC()
	pair.CreatedAt = now
	pair.UpdatedAt = now

	s.pairs[pair.ID] = clonePair(pair)
	s.pairsBySymbol[pair.PairSymbol] = pair.ID
	return clonePair(pair), nil
}

func (s *Store) UpdatePair(_ context.Context, pair market.TradingPair) (market.TradingPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.pairs[pair.ID]
	if !ok {
		return market.TradingPair{}, fmt.Errorf("pair %s: %w", pair.ID, storage.ErrNotFound)
	}

	pair.PairSymbol = original.PairSymbol
	pair.Asset = original.Asset
	pair.Fiat = original.Fiat
	pair.CreatedAt = original.CreatedAt
	pair.UpdatedAt = time.Now().UTC()

	s.pairs[pair.ID] = clonePair(pair)
	return clonePair(pair), nil
}

func (s *Store) GetPair(_ context.Context, id string) (market.TradingPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pair, ok := s.pairs[id]
	if !ok {
		return market.TradingPair{}, fmt.Errorf("pair %s: %w", id, storage.ErrNotFound)
	}
	return clonePair(pair), nil
}

func (s *Store) GetPairBySymbol(_ context.Context, symbol string) (market.TradingPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.pairsBySymbol[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return market.TradingPair{}, fmt.Errorf("pair %s: %w", symbol, storage.ErrNotFound)
	}
	return clonePair(s.pairs[id]), nil
}

func (s *Store) ListPairs(_ context.Context, activeOnly bool) ([]market.TradingPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]market.TradingPair, 0, len(s.pairs))
	for _, pair := range s.pairs {
		if activeOnly && !pair.IsActive {
			continue
		}
		result = append(result, clonePair(pair))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PairSymbol < result[j].PairSymbol })
	return result, nil
}

// SnapshotStore implementation ------------------------------------------------

func (s *Store) CreateSnapshot(_ context.Context, snap market.MarketSnapshot, entries []market.OrderBookEntry) (market.MarketSnapshot, error) {
	for _, entry := range entries {
		if err := entry.Validate(); err != nil {
			return market.MarketSnapshot{}, fmt.Errorf("entry for merchant %s: %w", entry.MerchantID, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pairs[snap.PairID]; !ok {
		return market.MarketSnapshot{}, fmt.Errorf("pair %s: %w", snap.PairID, storage.ErrNotFound)
	}

	if snap.ID == "" {
		snap.ID = s.nextIDLocked()
	}
	now := time.Now().UTC()
	snap.CreatedAt = now
	if snap.CollectedAt.IsZero() {
		snap.CollectedAt = now
	}
	snap.TotalAds = len(entries)

	stored := make([]market.OrderBookEntry, 0, len(entries))
	for _, entry := range entries {
		entry.ID = s.nextIDLocked()
		entry.SnapshotID = snap.ID
		entry.CreatedAt = now
		stored = append(stored, cloneEntry(entry))
	}

	s.snapshots[snap.ID] = cloneSnapshot(snap)
	s.entries[snap.ID] = stored
	return cloneSnapshot(snap), nil
}

func (s *Store) GetSnapshot(_ context.Context, id string) (market.MarketSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[id]
	if !ok {
		return market.MarketSnapshot{}, fmt.Errorf("snapshot %s: %w", id, storage.ErrNotFound)
	}
	return cloneSnapshot(snap), nil
}

func (s *Store) LatestSnapshot(_ context.Context, pairID string, tradeType market.TradeType) (market.MarketSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest market.MarketSnapshot
	found := false
	for _, snap := range s.snapshots {
		if snap.PairID != pairID || snap.TradeType != tradeType {
			continue
		}
		if !found || snap.CollectedAt.After(latest.CollectedAt) {
			latest = snap
			found = true
		}
	}
	if !found {
		return market.MarketSnapshot{}, fmt.Errorf("snapshot for pair %s %s: %w", pairID, tradeType, storage.ErrNotFound)
	}
	return cloneSnapshot(latest), nil
}

func (s *Store) LatestCollectionTimes(_ context.Context) (map[string]map[market.TradeType]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	times := make(map[string]map[market.TradeType]time.Time)
	for _, snap := range s.snapshots {
		sides, ok := times[snap.PairID]
		if !ok {
			sides = make(map[market.TradeType]time.Time)
			times[snap.PairID] = sides
		}
		if current, ok := sides[snap.TradeType]; !ok || snap.CollectedAt.After(current) {
			sides[snap.TradeType] = snap.CollectedAt
		}
	}
	return times, nil
}

func (s *Store) ListEntries(_ context.Context, snapshotID string) ([]market.OrderBookEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.snapshots[snapshotID]; !ok {
		return nil, fmt.Errorf("snapshot %s: %w", snapshotID, storage.ErrNotFound)
	}

	entries := s.entries[snapshotID]
	result := make([]market.OrderBookEntry, 0, len(entries))
	for _, entry := range entries {
		result = append(result, cloneEntry(entry))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Price.LessThan(result[j].Price) })
	return result, nil
}

func (s *Store) ListEntriesByMerchant(_ context.Context, merchantID string, limit int) ([]market.OrderBookEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []market.OrderBookEntry
	for snapID, entries := range s.entries {
		snap := s.snapshots[snapID]
		for _, entry := range entries {
			if entry.MerchantID == merchantID {
				e := cloneEntry(entry)
				e.CreatedAt = snap.CollectedAt
				result = append(result, e)
			}
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) DeleteSnapshotsBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, snap := range s.snapshots {
		if snap.CollectedAt.Before(cutoff) {
			delete(s.snapshots, id)
			delete(s.entries, id)
			deleted++
		}
	}
	return deleted, nil
}

// clone helpers ---------------------------------------------------------------

func clonePair(pair market.TradingPair) market.TradingPair {
	pair.VolumeRanges = append([]decimal.Decimal(nil), pair.VolumeRanges...)
	pair.CollectionConfig.PayTypes = append([]string(nil), pair.CollectionConfig.PayTypes...)
	pair.CollectionConfig.Extra = cloneRawMap(pair.CollectionConfig.Extra)
	pair.MinTradeAmount = cloneDecimalPtr(pair.MinTradeAmount)
	pair.MaxTradeAmount = cloneDecimalPtr(pair.MaxTradeAmount)
	return pair
}

func cloneSnapshot(snap market.MarketSnapshot) market.MarketSnapshot {
	snap.RawData = append(json.RawMessage(nil), snap.RawData...)
	snap.CollectionMetadata.VolumesSampled = append([]decimal.Decimal(nil), snap.CollectionMetadata.VolumesSampled...)
	return snap
}

func cloneEntry(entry market.OrderBookEntry) market.OrderBookEntry {
	entry.PaymentMethods = append([]string(nil), entry.PaymentMethods...)
	entry.MerchantMetadata = cloneRawMap(entry.MerchantMetadata)
	entry.MinOrderLimit = cloneDecimalPtr(entry.MinOrderLimit)
	entry.MaxOrderLimit = cloneDecimalPtr(entry.MaxOrderLimit)
	entry.AvgPayTimeMinutes = cloneDecimalPtr(entry.AvgPayTimeMinutes)
	entry.AvgReleaseTimeMinutes = cloneDecimalPtr(entry.AvgReleaseTimeMinutes)
	if entry.CompletionRate != nil {
		v := *entry.CompletionRate
		entry.CompletionRate = &v
	}
	if entry.TradeCount != nil {
		v := *entry.TradeCount
		entry.TradeCount = &v
	}
	return entry
}

func cloneDecimalPtr(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

func cloneRawMap(in map[string]json.RawMessage) map[string]json.RawMessage {
	if in == nil {
		return nil
	}
	out := make(map[string]json.RawMessage, len(in))
	for k, v := range in {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}
