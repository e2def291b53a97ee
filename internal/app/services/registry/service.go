package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/peertrack/peertrack/internal/app/domain/market"
	"github.com/peertrack/peertrack/internal/app/storage"
	"github.com/peertrack/peertrack/pkg/logger"
)

// Service manages trading pair configuration and computes which pairs are due
// for collection.
type Service struct {
	pairs     storage.PairStore
	snapshots storage.SnapshotStore
	log       *logger.Logger
}

// New constructs a registry service.
func New(pairs storage.PairStore, snapshots storage.SnapshotStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("registry")
	}
	return &Service{
		pairs:     pairs,
		snapshots: snapshots,
		log:       log,
	}
}

// CreateParams describes a new trading pair.
type CreateParams struct {
	Asset                     string
	Fiat                      string
	CollectionIntervalMinutes int
	CollectionConfig          market.CollectionConfig
	UseVolumeSampling         bool
	VolumeRanges              []decimal.Decimal
	DefaultSampleVolume       decimal.Decimal
	MinTradeAmount            *decimal.Decimal
	MaxTradeAmount            *decimal.Decimal
}

// CreatePair registers a new pair. The pair symbol must be unique.
func (s *Service) CreatePair(ctx context.Context, params CreateParams) (market.TradingPair, error) {
	pair := market.TradingPair{
		Asset:                     strings.ToUpper(strings.TrimSpace(params.Asset)),
		Fiat:                      strings.ToUpper(strings.TrimSpace(params.Fiat)),
		IsActive:                  true,
		CollectionIntervalMinutes: params.CollectionIntervalMinutes,
		CollectionConfig:          params.CollectionConfig,
		UseVolumeSampling:         params.UseVolumeSampling,
		VolumeRanges:              params.VolumeRanges,
		DefaultSampleVolume:       params.DefaultSampleVolume,
		MinTradeAmount:            params.MinTradeAmount,
		MaxTradeAmount:            params.MaxTradeAmount,
	}
	if pair.CollectionIntervalMinutes == 0 {
		pair.CollectionIntervalMinutes = 5
	}
	if !pair.UseVolumeSampling && pair.DefaultSampleVolume.IsZero() {
		pair.DefaultSampleVolume = decimal.NewFromInt(100)
	}
	pair.PairSymbol = market.Symbol(pair.Asset, pair.Fiat)

	if err := pair.Validate(); err != nil {
		return market.TradingPair{}, err
	}

	if _, err := s.pairs.GetPairBySymbol(ctx, pair.PairSymbol); err == nil {
		return market.TradingPair{}, fmt.Errorf("pair %s already exists", pair.PairSymbol)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return market.TradingPair{}, err
	}

	pair, err := s.pairs.CreatePair(ctx, pair)
	if err != nil {
		return market.TradingPair{}, err
	}
	s.log.WithField("pair_id", pair.ID).
		WithField("pair", pair.PairSymbol).
		Info("trading pair created")
	return pair, nil
}

// UpdateParams carries the mutable pair fields; nil pointers leave a field
// unchanged.
type UpdateParams struct {
	CollectionIntervalMinutes *int
	CollectionConfig          *market.CollectionConfig
	UseVolumeSampling         *bool
	VolumeRanges              *[]decimal.Decimal
	DefaultSampleVolume       *decimal.Decimal
	MinTradeAmount            *decimal.Decimal
	MaxTradeAmount            *decimal.Decimal
}

// UpdatePair updates mutable fields on a pair.
func (s *Service) UpdatePair(ctx context.Context, pairID string, params UpdateParams) (market.TradingPair, error) {
	pair, err := s.pairs.GetPair(ctx, pairID)
	if err != nil {
		return market.TradingPair{}, err
	}

	if params.CollectionIntervalMinutes != nil {
		pair.CollectionIntervalMinutes = *params.CollectionIntervalMinutes
	}
	if params.CollectionConfig != nil {
		pair.CollectionConfig = *params.CollectionConfig
	}
	if params.UseVolumeSampling != nil {
		pair.UseVolumeSampling = *params.UseVolumeSampling
	}
	if params.VolumeRanges != nil {
		pair.VolumeRanges = *params.VolumeRanges
	}
	if params.DefaultSampleVolume != nil {
		pair.DefaultSampleVolume = *params.DefaultSampleVolume
	}
	if params.MinTradeAmount != nil {
		pair.MinTradeAmount = params.MinTradeAmount
	}
	if params.MaxTradeAmount != nil {
		pair.MaxTradeAmount = params.MaxTradeAmount
	}

	if err := pair.Validate(); err != nil {
		return market.TradingPair{}, err
	}

	pair, err = s.pairs.UpdatePair(ctx, pair)
	if err != nil {
		return market.TradingPair{}, err
	}
	s.log.WithField("pair_id", pair.ID).Info("trading pair updated")
	return pair, nil
}

// SetActive toggles collection for a pair.
func (s *Service) SetActive(ctx context.Context, pairID string, active bool) (market.TradingPair, error) {
	pair, err := s.pairs.GetPair(ctx, pairID)
	if err != nil {
		return market.TradingPair{}, err
	}
	if pair.IsActive == active {
		return pair, nil
	}

	pair.IsActive = active
	pair, err = s.pairs.UpdatePair(ctx, pair)
	if err != nil {
		return market.TradingPair{}, err
	}
	s.log.WithField("pair_id", pair.ID).
		WithField("active", active).
		Info("trading pair state changed")
	return pair, nil
}

// GetPair retrieves a pair by identifier.
func (s *Service) GetPair(ctx context.Context, pairID string) (market.TradingPair, error) {
	return s.pairs.GetPair(ctx, pairID)
}

// GetPairBySymbol retrieves a pair by its unique symbol, e.g. "USDT/VES".
func (s *Service) GetPairBySymbol(ctx context.Context, symbol string) (market.TradingPair, error) {
	return s.pairs.GetPairBySymbol(ctx, symbol)
}

// ListPairs returns all pairs, optionally only the active ones.
func (s *Service) ListPairs(ctx context.Context, activeOnly bool) ([]market.TradingPair, error) {
	return s.pairs.ListPairs(ctx, activeOnly)
}

// DueNow returns every active pair with at least one stale side: a pair is
// due when either trade type has never been collected or its latest snapshot
// is older than the pair's interval. The oldest side governs, so a side that
// keeps failing cannot be masked by a fresh sibling. The result is ordered
// by pair symbol so dispatch is deterministic. Pure read; no side effects.
func (s *Service) DueNow(ctx context.Context, now time.Time) ([]market.TradingPair, error) {
	pairs, err := s.pairs.ListPairs(ctx, true)
	if err != nil {
		return nil, err
	}
	times, err := s.snapshots.LatestCollectionTimes(ctx)
	if err != nil {
		return nil, err
	}

	due := make([]market.TradingPair, 0, len(pairs))
	for _, pair := range pairs {
		sides := times[pair.ID]
		interval := time.Duration(pair.CollectionIntervalMinutes) * time.Minute
		for _, tt := range []market.TradeType{market.TradeTypeSell, market.TradeTypeBuy} {
			latest, collected := sides[tt]
			if !collected || now.Sub(latest) >= interval {
				due = append(due, pair)
				break
			}
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].PairSymbol < due[j].PairSymbol })
	return due, nil
}
