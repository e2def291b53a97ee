package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/peertrack/peertrack/internal/app/domain/market"
	"github.com/peertrack/peertrack/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.PairStore = (*Store)(nil)
var _ storage.SnapshotStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// row types ------------------------------------------------------------------

type pairRow struct {
	ID                        string              `db:"id"`
	Asset                     string              `db:"asset"`
	Fiat                      string              `db:"fiat"`
	PairSymbol                string              `db:"pair_symbol"`
	IsActive                  bool                `db:"is_active"`
	CollectionIntervalMinutes int                 `db:"collection_interval_minutes"`
	CollectionConfig          []byte              `db:"collection_config"`
	UseVolumeSampling         bool                `db:"use_volume_sampling"`
	VolumeRanges              []byte              `db:"volume_ranges"`
	DefaultSampleVolume       decimal.Decimal     `db:"default_sample_volume"`
	MinTradeAmount            decimal.NullDecimal `db:"min_trade_amount"`
	MaxTradeAmount            decimal.NullDecimal `db:"max_trade_amount"`
	CreatedAt                 time.Time           `db:"created_at"`
	UpdatedAt                 time.Time           `db:"updated_at"`
}

func (r pairRow) toDomain() (market.TradingPair, error) {
	pair := market.TradingPair{
		ID:                        r.ID,
		Asset:                     r.Asset,
		Fiat:                      r.Fiat,
		PairSymbol:                r.PairSymbol,
		IsActive:                  r.IsActive,
		CollectionIntervalMinutes: r.CollectionIntervalMinutes,
		UseVolumeSampling:         r.UseVolumeSampling,
		DefaultSampleVolume:       r.DefaultSampleVolume,
		MinTradeAmount:            nullDecimalPtr(r.MinTradeAmount),
		MaxTradeAmount:            nullDecimalPtr(r.MaxTradeAmount),
		CreatedAt:                 r.CreatedAt,
		UpdatedAt:                 r.UpdatedAt,
	}
	if len(r.CollectionConfig) > 0 {
		if err := json.Unmarshal(r.CollectionConfig, &pair.CollectionConfig); err != nil {
			return market.TradingPair{}, fmt.Errorf("decode collection_config: %w", err)
		}
	}
	if len(r.VolumeRanges) > 0 {
		if err := json.Unmarshal(r.VolumeRanges, &pair.VolumeRanges); err != nil {
			return market.TradingPair{}, fmt.Errorf("decode volume_ranges: %w", err)
		}
	}
	return pair, nil
}

type snapshotRow struct {
	ID                 string    `db:"id"`
	PairID             string    `db:"pair_id"`
	TradeType          string    `db:"trade_type"`
	CollectedAt        time.Time `db:"collected_at"`
	RawData            []byte    `db:"raw_data"`
	TotalAds           int       `db:"total_ads"`
	DataQualityScore   float64   `db:"data_quality_score"`
	CollectionMetadata []byte    `db:"collection_metadata"`
	CreatedAt          time.Time `db:"created_at"`
}

func (r snapshotRow) toDomain() (market.MarketSnapshot, error) {
	snap := market.MarketSnapshot{
		ID:               r.ID,
		PairID:           r.PairID,
		TradeType:        market.TradeType(r.TradeType),
		CollectedAt:      r.CollectedAt,
		RawData:          r.RawData,
		TotalAds:         r.TotalAds,
		DataQualityScore: r.DataQualityScore,
		CreatedAt:        r.CreatedAt,
	}
	if len(r.CollectionMetadata) > 0 {
		if err := json.Unmarshal(r.CollectionMetadata, &snap.CollectionMetadata); err != nil {
			return market.MarketSnapshot{}, fmt.Errorf("decode collection_metadata: %w", err)
		}
	}
	return snap, nil
}

type entryRow struct {
	ID                    string              `db:"id"`
	SnapshotID            string              `db:"snapshot_id"`
	Side                  string              `db:"side"`
	Price                 decimal.Decimal     `db:"price"`
	Quantity              decimal.Decimal     `db:"quantity"`
	TotalAmount           decimal.Decimal     `db:"total_amount"`
	MinOrderLimit         decimal.NullDecimal `db:"min_order_limit"`
	MaxOrderLimit         decimal.NullDecimal `db:"max_order_limit"`
	MerchantName          string              `db:"merchant_name"`
	MerchantID            string              `db:"merchant_id"`
	CompletionRate        sql.NullInt64       `db:"completion_rate"`
	TradeCount            sql.NullInt64       `db:"trade_count"`
	PaymentMethods        []byte              `db:"payment_methods"`
	MerchantMetadata      []byte              `db:"merchant_metadata"`
	IsProMerchant         bool                `db:"is_pro_merchant"`
	IsKycVerified         bool                `db:"is_kyc_verified"`
	AvgPayTimeMinutes     decimal.NullDecimal `db:"avg_pay_time_minutes"`
	AvgReleaseTimeMinutes decimal.NullDecimal `db:"avg_release_time_minutes"`
	CreatedAt             time.Time           `db:"created_at"`
}

func (r entryRow) toDomain() (market.OrderBookEntry, error) {
	entry := market.OrderBookEntry{
		ID:                    r.ID,
		SnapshotID:            r.SnapshotID,
		Side:                  market.Side(r.Side),
		Price:                 r.Price,
		Quantity:              r.Quantity,
		TotalAmount:           r.TotalAmount,
		MinOrderLimit:         nullDecimalPtr(r.MinOrderLimit),
		MaxOrderLimit:         nullDecimalPtr(r.MaxOrderLimit),
		MerchantName:          r.MerchantName,
		MerchantID:            r.MerchantID,
		CompletionRate:        nullIntPtr(r.CompletionRate),
		TradeCount:            nullIntPtr(r.TradeCount),
		IsProMerchant:         r.IsProMerchant,
		IsKycVerified:         r.IsKycVerified,
		AvgPayTimeMinutes:     nullDecimalPtr(r.AvgPayTimeMinutes),
		AvgReleaseTimeMinutes: nullDecimalPtr(r.AvgReleaseTimeMinutes),
		CreatedAt:             r.CreatedAt,
	}
	if len(r.PaymentMethods) > 0 {
		if err := json.Unmarshal(r.PaymentMethods, &entry.PaymentMethods); err != nil {
			return market.OrderBookEntry{}, fmt.Errorf("decode payment_methods: %w", err)
		}
	}
	if len(r.MerchantMetadata) > 0 {
		if err := json.Unmarshal(r.MerchantMetadata, &entry.MerchantMetadata); err != nil {
			return market.OrderBookEntry{}, fmt.Errorf("decode merchant_metadata: %w", err)
		}
	}
	return entry, nil
}

// PairStore ------------------------------------------------------------------

func (s *Store) CreatePair(ctx context.Context, pair market.TradingPair) (market.TradingPair, error) {
	if pair.ID == "" {
		pair.ID = uuid.NewString()
	}
	pair.PairSymbol = market.Symbol(pair.Asset, pair.Fiat)
	now := time.Now().UTC()
	pair.CreatedAt = now
	pair.UpdatedAt = now

	configJSON, err := json.Marshal(pair.CollectionConfig)
	if err != nil {
		return market.TradingPair{}, err
	}
	rangesJSON, err := json.Marshal(pair.VolumeRanges)
	if err != nil {
		return market.TradingPair{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO trading_pairs (
			id, asset, fiat, pair_symbol, is_active, collection_interval_minutes,
			collection_config, use_volume_sampling, volume_ranges,
			default_sample_volume, min_trade_amount, max_trade_amount,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, pair.ID, strings.ToUpper(pair.Asset), strings.ToUpper(pair.Fiat), pair.PairSymbol,
		pair.IsActive, pair.CollectionIntervalMinutes, configJSON, pair.UseVolumeSampling,
		rangesJSON, pair.DefaultSampleVolume, toNullDecimal(pair.MinTradeAmount),
		toNullDecimal(pair.MaxTradeAmount), pair.CreatedAt, pair.UpdatedAt)
	if err != nil {
		return market.TradingPair{}, err
	}
	return pair, nil
}

func (s *Store) UpdatePair(ctx context.Context, pair market.TradingPair) (market.TradingPair, error) {
	existing, err := s.GetPair(ctx, pair.ID)
	if err != nil {
		return market.TradingPair{}, err
	}
	pair.Asset = existing.Asset
	pair.Fiat = existing.Fiat
	pair.PairSymbol = existing.PairSymbol
	pair.CreatedAt = existing.CreatedAt
	pair.UpdatedAt = time.Now().UTC()

	configJSON, err := json.Marshal(pair.CollectionConfig)
	if err != nil {
		return market.TradingPair{}, err
	}
	rangesJSON, err := json.Marshal(pair.VolumeRanges)
	if err != nil {
		return market.TradingPair{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE trading_pairs
		SET is_active = $2, collection_interval_minutes = $3, collection_config = $4,
			use_volume_sampling = $5, volume_ranges = $6, default_sample_volume = $7,
			min_trade_amount = $8, max_trade_amount = $9, updated_at = $10
		WHERE id = $1
	`, pair.ID, pair.IsActive, pair.CollectionIntervalMinutes, configJSON,
		pair.UseVolumeSampling, rangesJSON, pair.DefaultSampleVolume,
		toNullDecimal(pair.MinTradeAmount), toNullDecimal(pair.MaxTradeAmount), pair.UpdatedAt)
	if err != nil {
		return market.TradingPair{}, err
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return market.TradingPair{}, fmt.Errorf("pair %s: %w", pair.ID, storage.ErrNotFound)
	}
	return pair, nil
}

const pairColumns = `id, asset, fiat, pair_symbol, is_active, collection_interval_minutes,
	collection_config, use_volume_sampling, volume_ranges, default_sample_volume,
	min_trade_amount, max_trade_amount, created_at, updated_at`

func (s *Store) GetPair(ctx context.Context, id string) (market.TradingPair, error) {
	var row pairRow
	err := s.db.GetContext(ctx, &row, `SELECT `+pairColumns+` FROM trading_pairs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return market.TradingPair{}, fmt.Errorf("pair %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return market.TradingPair{}, err
	}
	return row.toDomain()
}

func (s *Store) GetPairBySymbol(ctx context.Context, symbol string) (market.TradingPair, error) {
	var row pairRow
	err := s.db.GetContext(ctx, &row, `SELECT `+pairColumns+` FROM trading_pairs WHERE pair_symbol = $1`,
		strings.ToUpper(strings.TrimSpace(symbol)))
	if errors.Is(err, sql.ErrNoRows) {
		return market.TradingPair{}, fmt.Errorf("pair %s: %w", symbol, storage.ErrNotFound)
	}
	if err != nil {
		return market.TradingPair{}, err
	}
	return row.toDomain()
}

func (s *Store) ListPairs(ctx context.Context, activeOnly bool) ([]market.TradingPair, error) {
	query := `SELECT ` + pairColumns + ` FROM trading_pairs`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY pair_symbol`

	var rows []pairRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}
	pairs := make([]market.TradingPair, 0, len(rows))
	for _, row := range rows {
		pair, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}

// SnapshotStore ---------------------------------------------------------------

func (s *Store) CreateSnapshot(ctx context.Context, snap market.MarketSnapshot, entries []market.OrderBookEntry) (market.MarketSnapshot, error) {
	for _, entry := range entries {
		if err := entry.Validate(); err != nil {
			return market.MarketSnapshot{}, fmt.Errorf("entry for merchant %s: %w", entry.MerchantID, err)
		}
	}

	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	snap.CreatedAt = now
	if snap.CollectedAt.IsZero() {
		snap.CollectedAt = now
	}
	snap.TotalAds = len(entries)

	metadataJSON, err := json.Marshal(snap.CollectionMetadata)
	if err != nil {
		return market.MarketSnapshot{}, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return market.MarketSnapshot{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO market_snapshots (
			id, pair_id, trade_type, collected_at, raw_data, total_ads,
			data_quality_score, collection_metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, snap.ID, snap.PairID, string(snap.TradeType), snap.CollectedAt, []byte(snap.RawData),
		snap.TotalAds, snap.DataQualityScore, metadataJSON, snap.CreatedAt)
	if err != nil {
		return market.MarketSnapshot{}, err
	}

	for i := range entries {
		entries[i].ID = uuid.NewString()
		entries[i].SnapshotID = snap.ID
		entries[i].CreatedAt = now

		methodsJSON, err := json.Marshal(entries[i].PaymentMethods)
		if err != nil {
			return market.MarketSnapshot{}, err
		}
		merchantJSON, err := json.Marshal(entries[i].MerchantMetadata)
		if err != nil {
			return market.MarketSnapshot{}, err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_book_entries (
				id, snapshot_id, side, price, quantity, total_amount,
				min_order_limit, max_order_limit, merchant_name, merchant_id,
				completion_rate, trade_count, payment_methods, merchant_metadata,
				is_pro_merchant, is_kyc_verified, avg_pay_time_minutes,
				avg_release_time_minutes, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		`, entries[i].ID, snap.ID, string(entries[i].Side), entries[i].Price, entries[i].Quantity,
			entries[i].TotalAmount, toNullDecimal(entries[i].MinOrderLimit), toNullDecimal(entries[i].MaxOrderLimit),
			entries[i].MerchantName, entries[i].MerchantID, toNullInt(entries[i].CompletionRate),
			toNullInt(entries[i].TradeCount), methodsJSON, merchantJSON, entries[i].IsProMerchant,
			entries[i].IsKycVerified, toNullDecimal(entries[i].AvgPayTimeMinutes),
			toNullDecimal(entries[i].AvgReleaseTimeMinutes), entries[i].CreatedAt)
		if err != nil {
			return market.MarketSnapshot{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return market.MarketSnapshot{}, err
	}
	return snap, nil
}

const snapshotColumns = `id, pair_id, trade_type, collected_at, raw_data, total_ads,
	data_quality_score, collection_metadata, created_at`

func (s *Store) GetSnapshot(ctx context.Context, id string) (market.MarketSnapshot, error) {
	var row snapshotRow
	err := s.db.GetContext(ctx, &row, `SELECT `+snapshotColumns+` FROM market_snapshots WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return market.MarketSnapshot{}, fmt.Errorf("snapshot %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return market.MarketSnapshot{}, err
	}
	return row.toDomain()
}

func (s *Store) LatestSnapshot(ctx context.Context, pairID string, tradeType market.TradeType) (market.MarketSnapshot, error) {
	var row snapshotRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+snapshotColumns+` FROM market_snapshots
		WHERE pair_id = $1 AND trade_type = $2
		ORDER BY collected_at DESC
		LIMIT 1
	`, pairID, string(tradeType))
	if errors.Is(err, sql.ErrNoRows) {
		return market.MarketSnapshot{}, fmt.Errorf("snapshot for pair %s %s: %w", pairID, tradeType, storage.ErrNotFound)
	}
	if err != nil {
		return market.MarketSnapshot{}, err
	}
	return row.toDomain()
}

func (s *Store) LatestCollectionTimes(ctx context.Context) (map[string]map[market.TradeType]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pair_id, trade_type, MAX(collected_at) FROM market_snapshots GROUP BY pair_id, trade_type
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	times := make(map[string]map[market.TradeType]time.Time)
	for rows.Next() {
		var pairID, tradeType string
		var collected time.Time
		if err := rows.Scan(&pairID, &tradeType, &collected); err != nil {
			return nil, err
		}
		sides, ok := times[pairID]
		if !ok {
			sides = make(map[market.TradeType]time.Time)
			times[pairID] = sides
		}
		sides[market.TradeType(tradeType)] = collected
	}
	return times, rows.Err()
}

const entryColumns = `id, snapshot_id, side, price, quantity, total_amount,
	min_order_limit, max_order_limit, merchant_name, merchant_id, completion_rate,
	trade_count, payment_methods, merchant_metadata, is_pro_merchant,
	is_kyc_verified, avg_pay_time_minutes, avg_release_time_minutes, created_at`

func (s *Store) ListEntries(ctx context.Context, snapshotID string) ([]market.OrderBookEntry, error) {
	var rows []entryRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+entryColumns+` FROM order_book_entries
		WHERE snapshot_id = $1
		ORDER BY side, price
	`, snapshotID)
	if err != nil {
		return nil, err
	}
	return entriesToDomain(rows)
}

func (s *Store) ListEntriesByMerchant(ctx context.Context, merchantID string, limit int) ([]market.OrderBookEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []entryRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+entryColumns+` FROM order_book_entries
		WHERE merchant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, merchantID, limit)
	if err != nil {
		return nil, err
	}
	return entriesToDomain(rows)
}

func (s *Store) DeleteSnapshotsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM market_snapshots WHERE collected_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// helpers ---------------------------------------------------------------------

func entriesToDomain(rows []entryRow) ([]market.OrderBookEntry, error) {
	entries := make([]market.OrderBookEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func nullDecimalPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

func toNullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func nullIntPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func toNullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}
