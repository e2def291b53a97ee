package collector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/peertrack/peertrack/internal/app/domain/market"
	"github.com/peertrack/peertrack/internal/app/storage"
	"github.com/peertrack/peertrack/pkg/logger"
)

// Service runs the fetch → normalize → persist pipeline for trading pairs.
// One collection task covers both venue listings of a pair.
type Service struct {
	pairs     storage.PairStore
	snapshots storage.SnapshotStore
	fetcher   Fetcher
	writer    *Writer
	log       *logger.Logger
}

// New constructs a collector service.
func New(pairs storage.PairStore, snapshots storage.SnapshotStore, fetcher Fetcher, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("collector")
	}
	return &Service{
		pairs:     pairs,
		snapshots: snapshots,
		fetcher:   fetcher,
		writer:    NewWriter(snapshots, log),
		log:       log,
	}
}

// CollectPair fetches and persists snapshots for both trade types of a pair.
// With forceRefresh false a side that already has a snapshot fresher than the
// pair's interval is skipped, which makes redelivered tasks idempotent. The
// attempt number is recorded in snapshot metadata.
func (s *Service) CollectPair(ctx context.Context, pairID string, forceRefresh bool, attempt int) error {
	pair, err := s.pairs.GetPair(ctx, pairID)
	if err != nil {
		return err
	}
	if !pair.IsActive && !forceRefresh {
		s.log.WithField("pair", pair.PairSymbol).Debug("pair inactive, skipping collection")
		return nil
	}

	now := time.Now().UTC()
	var errs []error
	for _, tradeType := range []market.TradeType{market.TradeTypeSell, market.TradeTypeBuy} {
		if !forceRefresh && s.sideFresh(ctx, pair, tradeType, now) {
			continue
		}
		col, err := s.collectSide(ctx, pair, tradeType)
		if err != nil {
			errs = append(errs, fmt.Errorf("collect %s %s: %w", pair.PairSymbol, tradeType, err))
			continue
		}
		col.Attempt = attempt
		if _, err := s.writer.Write(ctx, pair, tradeType, col); err != nil {
			errs = append(errs, fmt.Errorf("persist %s %s: %w", pair.PairSymbol, tradeType, err))
		}
	}
	return errors.Join(errs...)
}

// sideFresh reports whether a side's latest snapshot is younger than the
// pair's collection interval.
func (s *Service) sideFresh(ctx context.Context, pair market.TradingPair, tradeType market.TradeType, now time.Time) bool {
	latest, err := s.snapshots.LatestSnapshot(ctx, pair.ID, tradeType)
	if err != nil {
		return false
	}
	interval := time.Duration(pair.CollectionIntervalMinutes) * time.Minute
	return now.Sub(latest.CollectedAt) < interval
}

// collectSide queries the venue once per configured volume (or once at the
// default sample volume) and merges the results, deduplicating ads on
// (merchant, price). Volumes are probed smallest first so the first
// occurrence reflects the lowest-volume view of the ad's limits, which is the
// closest proxy for genuinely available liquidity at that price.
func (s *Service) collectSide(ctx context.Context, pair market.TradingPair, tradeType market.TradeType) (SideCollection, error) {
	rows := pair.CollectionConfig.RowsPerPage
	if rows <= 0 || rows > maxRowsPerPage {
		rows = maxRowsPerPage
	}

	volumes := []decimal.Decimal{pair.DefaultSampleVolume}
	if pair.UseVolumeSampling {
		volumes = append([]decimal.Decimal(nil), pair.VolumeRanges...)
		sort.Slice(volumes, func(i, j int) bool { return volumes[i].LessThan(volumes[j]) })
	}

	col := SideCollection{
		RequestedRows:  rows,
		VolumesPlanned: len(volumes),
	}
	seen := make(map[string]struct{})
	start := time.Now()

	var errs []error
	for _, volume := range volumes {
		v := volume
		result, err := s.fetcher.Fetch(ctx, SearchRequest{
			Asset:       pair.Asset,
			Fiat:        pair.Fiat,
			TradeType:   tradeType,
			Page:        1,
			Rows:        rows,
			TransAmount: &v,
			PayTypes:    pair.CollectionConfig.PayTypes,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		col.VolumesSucceeded++
		col.VolumesSampled = append(col.VolumesSampled, v)
		col.RawPayloads = append(col.RawPayloads, result.Raw)

		for _, ad := range result.Ads {
			key := ad.Advertiser.UserNo + "|" + ad.Adv.Price
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			col.Ads = append(col.Ads, ad)
		}
	}
	col.Latency = time.Since(start)

	if col.VolumesSucceeded == 0 {
		return SideCollection{}, errors.Join(errs...)
	}
	if len(errs) > 0 {
		s.log.WithError(errors.Join(errs...)).
			WithField("pair", pair.PairSymbol).
			WithField("trade_type", tradeType).
			Warn("partial volume coverage")
	}
	return col, nil
}
