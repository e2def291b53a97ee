package collector

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/peertrack/peertrack/internal/app/domain/market"
	appmetrics "github.com/peertrack/peertrack/internal/app/metrics"
	"github.com/peertrack/peertrack/internal/app/storage"
	"github.com/peertrack/peertrack/pkg/logger"
)

// SideCollection is the merged outcome of fetching one (pair, trade type)
// across all sampled volumes, before normalization.
type SideCollection struct {
	Ads              []RawAd
	RawPayloads      []json.RawMessage
	RequestedRows    int
	VolumesPlanned   int
	VolumesSucceeded int
	VolumesSampled   []decimal.Decimal
	Attempt          int
	Latency          time.Duration
}

// Writer normalizes fetched ads and persists one atomic snapshot per side.
type Writer struct {
	store storage.SnapshotStore
	log   *logger.Logger
}

// NewWriter constructs a snapshot writer.
func NewWriter(store storage.SnapshotStore, log *logger.Logger) *Writer {
	if log == nil {
		log = logger.NewDefault("snapshot-writer")
	}
	return &Writer{store: store, log: log}
}

// Write normalizes every ad and persists the snapshot with its entries as
// one atomic unit. If any ad fails validation nothing is persisted.
func (w *Writer) Write(ctx context.Context, pair market.TradingPair, tradeType market.TradeType, col SideCollection) (market.MarketSnapshot, error) {
	side := market.SideForTradeType(tradeType)

	entries := make([]market.OrderBookEntry, 0, len(col.Ads))
	completeMetadata := 0
	for _, ad := range col.Ads {
		entry, err := NormalizeAd(ad, side)
		if err != nil {
			return market.MarketSnapshot{}, err
		}
		entries = append(entries, entry)
		if adMetadataComplete(ad) {
			completeMetadata++
		}
	}

	score := QualityScore(len(entries), col.RequestedRows, completeMetadata,
		col.VolumesPlanned, col.VolumesSucceeded, col.Attempt > 1)

	snap := market.MarketSnapshot{
		PairID:           pair.ID,
		TradeType:        tradeType,
		CollectedAt:      time.Now().UTC(),
		RawData:          mergeRawPayloads(col.RawPayloads),
		DataQualityScore: score,
		CollectionMetadata: market.CollectionMetadata{
			LatencyMS:      col.Latency.Milliseconds(),
			Attempts:       col.Attempt,
			PartialFailure: col.VolumesSucceeded < col.VolumesPlanned,
			RequestedRows:  col.RequestedRows,
			VolumesSampled: col.VolumesSampled,
		},
	}

	snap, err := w.store.CreateSnapshot(ctx, snap, entries)
	if err != nil {
		return market.MarketSnapshot{}, err
	}

	appmetrics.ObserveSnapshot(pair.PairSymbol, string(tradeType), snap.TotalAds, score)
	w.log.WithFields(logger.Fields{
		"pair":       pair.PairSymbol,
		"trade_type": tradeType,
		"total_ads":  snap.TotalAds,
		"quality":    score,
	}).Info("snapshot written")
	return snap, nil
}

// mergeRawPayloads keeps the verbatim venue responses for audit and replay.
// A single query stays a single object; multi-volume sampling is stored as a
// JSON array of the per-volume responses.
func mergeRawPayloads(payloads []json.RawMessage) json.RawMessage {
	switch len(payloads) {
	case 0:
		return nil
	case 1:
		return payloads[0]
	}
	merged, err := json.Marshal(payloads)
	if err != nil {
		return nil
	}
	return merged
}
