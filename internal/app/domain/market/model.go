package market

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TradeType identifies the venue-side listing a snapshot was collected from.
// SELL listings are merchants selling the asset (what a user buys from), BUY
// listings are merchants buying it.
type TradeType string

const (
	TradeTypeBuy  TradeType = "BUY"
	TradeTypeSell TradeType = "SELL"
)

// ParseTradeType accepts a case-insensitive trade type. An unknown value is a
// caller error, never retried.
func ParseTradeType(raw string) (TradeType, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(TradeTypeBuy):
		return TradeTypeBuy, nil
	case string(TradeTypeSell):
		return TradeTypeSell, nil
	default:
		return "", fmt.Errorf("invalid trade type %q", raw)
	}
}

// TradeTypeForUserIntent maps what a client asks for onto the venue listing
// that serves it: a user buying the asset trades against merchants selling
// it, so "buy prices" come from the venue SELL listing, and vice versa.
func TradeTypeForUserIntent(userWantsToBuy bool) TradeType {
	if userWantsToBuy {
		return TradeTypeSell
	}
	return TradeTypeBuy
}

// Side classifies a normalized order-book row. Bid rows are orders to buy the
// asset, ask rows are orders to sell it.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// SideForTradeType returns the order-book side that a venue listing maps to:
// merchants on the SELL listing are asking, merchants on the BUY listing are
// bidding.
func SideForTradeType(tt TradeType) Side {
	if tt == TradeTypeSell {
		return SideAsk
	}
	return SideBid
}

// TradingPair is the per-pair collection configuration. Written by the
// administrative surface, read-only to the collection engine.
type TradingPair struct {
	ID                        string            `json:"id"`
	Asset                     string            `json:"asset"`
	Fiat                      string            `json:"fiat"`
	PairSymbol                string            `json:"pair_symbol"`
	IsActive                  bool              `json:"is_active"`
	CollectionIntervalMinutes int               `json:"collection_interval_minutes"`
	CollectionConfig          CollectionConfig  `json:"collection_config,omitempty"`
	UseVolumeSampling         bool              `json:"use_volume_sampling"`
	VolumeRanges              []decimal.Decimal `json:"volume_ranges,omitempty"`
	DefaultSampleVolume       decimal.Decimal   `json:"default_sample_volume"`
	MinTradeAmount            *decimal.Decimal  `json:"min_trade_amount,omitempty"`
	MaxTradeAmount            *decimal.Decimal  `json:"max_trade_amount,omitempty"`
	CreatedAt                 time.Time         `json:"created_at"`
	UpdatedAt                 time.Time         `json:"updated_at"`
}

// Symbol derives the unique pair symbol from asset and fiat.
func Symbol(asset, fiat string) string {
	return strings.ToUpper(strings.TrimSpace(asset)) + "/" + strings.ToUpper(strings.TrimSpace(fiat))
}

// Validate enforces the pair invariants.
func (p TradingPair) Validate() error {
	if strings.TrimSpace(p.Asset) == "" || strings.TrimSpace(p.Fiat) == "" {
		return fmt.Errorf("asset and fiat are required")
	}
	if p.CollectionIntervalMinutes <= 0 {
		return fmt.Errorf("collection_interval_minutes must be positive")
	}
	if p.UseVolumeSampling && len(p.VolumeRanges) == 0 {
		return fmt.Errorf("volume_ranges required when volume sampling is enabled")
	}
	if !p.UseVolumeSampling && !p.DefaultSampleVolume.IsPositive() {
		return fmt.Errorf("default_sample_volume must be positive")
	}
	for _, v := range p.VolumeRanges {
		if !v.IsPositive() {
			return fmt.Errorf("volume ranges must be positive, got %s", v)
		}
	}
	if p.MinTradeAmount != nil && p.MaxTradeAmount != nil && p.MinTradeAmount.GreaterThan(*p.MaxTradeAmount) {
		return fmt.Errorf("min_trade_amount exceeds max_trade_amount")
	}
	return nil
}

// CollectionConfig carries free-form venue query parameters. The recognized
// keys below are interpreted; everything else is preserved opaquely in Extra
// and round-tripped untouched.
type CollectionConfig struct {
	RowsPerPage int                        `json:"rows_per_page,omitempty"`
	Priority    int                        `json:"priority,omitempty"`
	PayTypes    []string                   `json:"pay_types,omitempty"`
	Extra       map[string]json.RawMessage `json:"-"`
}

type collectionConfigAlias CollectionConfig

// MarshalJSON folds the opaque keys back next to the recognized ones.
func (c CollectionConfig) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(collectionConfigAlias(c))
	if err != nil {
		return nil, err
	}
	if len(c.Extra) == 0 {
		return base, nil
	}
	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range c.Extra {
		if _, known := merged[k]; !known {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON splits recognized keys from opaque ones.
func (c *CollectionConfig) UnmarshalJSON(data []byte) error {
	var alias collectionConfigAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	delete(raw, "rows_per_page")
	delete(raw, "priority")
	delete(raw, "pay_types")
	if len(raw) > 0 {
		alias.Extra = raw
	}
	*c = CollectionConfig(alias)
	return nil
}

// MarketSnapshot is one collection result for one (pair, trade type).
// Immutable once written; removed only by retention cleanup, which cascades
// to its entries.
type MarketSnapshot struct {
	ID                 string             `json:"id"`
	PairID             string             `json:"pair_id"`
	TradeType          TradeType          `json:"trade_type"`
	CollectedAt        time.Time          `json:"collected_at"`
	RawData            json.RawMessage    `json:"raw_data,omitempty"`
	TotalAds           int                `json:"total_ads"`
	DataQualityScore   float64            `json:"data_quality_score"`
	CollectionMetadata CollectionMetadata `json:"collection_metadata"`
	CreatedAt          time.Time          `json:"created_at"`
}

// CollectionMetadata records how a snapshot was gathered.
type CollectionMetadata struct {
	LatencyMS      int64             `json:"latency_ms"`
	Attempts       int               `json:"attempts"`
	PartialFailure bool              `json:"partial_failure"`
	RequestedRows  int               `json:"requested_rows"`
	VolumesSampled []decimal.Decimal `json:"volumes_sampled,omitempty"`
}

// OrderBookEntry is one normalized ad belonging to exactly one snapshot.
// Optional numeric fields stay nil when the venue omitted them; zero is a
// meaningful value and must not be conflated with absence.
type OrderBookEntry struct {
	ID                    string                     `json:"id"`
	SnapshotID            string                     `json:"snapshot_id"`
	Side                  Side                       `json:"side"`
	Price                 decimal.Decimal            `json:"price"`
	Quantity              decimal.Decimal            `json:"quantity"`
	TotalAmount           decimal.Decimal            `json:"total_amount"`
	MinOrderLimit         *decimal.Decimal           `json:"min_order_limit,omitempty"`
	MaxOrderLimit         *decimal.Decimal           `json:"max_order_limit,omitempty"`
	MerchantName          string                     `json:"merchant_name"`
	MerchantID            string                     `json:"merchant_id"`
	CompletionRate        *int                       `json:"completion_rate,omitempty"`
	TradeCount            *int                       `json:"trade_count,omitempty"`
	PaymentMethods        []string                   `json:"payment_methods,omitempty"`
	MerchantMetadata      map[string]json.RawMessage `json:"merchant_metadata,omitempty"`
	IsProMerchant         bool                       `json:"is_pro_merchant"`
	IsKycVerified         bool                       `json:"is_kyc_verified"`
	AvgPayTimeMinutes     *decimal.Decimal           `json:"avg_pay_time_minutes,omitempty"`
	AvgReleaseTimeMinutes *decimal.Decimal           `json:"avg_release_time_minutes,omitempty"`
	CreatedAt             time.Time                  `json:"created_at"`
}

// Validate enforces the row invariants checked before an atomic batch write.
func (e OrderBookEntry) Validate() error {
	if e.Side != SideBid && e.Side != SideAsk {
		return fmt.Errorf("invalid side %q", e.Side)
	}
	if !e.Price.IsPositive() {
		return fmt.Errorf("price must be positive, got %s", e.Price)
	}
	if e.Quantity.IsNegative() {
		return fmt.Errorf("quantity must not be negative, got %s", e.Quantity)
	}
	if e.CompletionRate != nil && (*e.CompletionRate < 0 || *e.CompletionRate > 100) {
		return fmt.Errorf("completion_rate out of range: %d", *e.CompletionRate)
	}
	if e.TradeCount != nil && *e.TradeCount < 0 {
		return fmt.Errorf("trade_count must not be negative: %d", *e.TradeCount)
	}
	return nil
}
