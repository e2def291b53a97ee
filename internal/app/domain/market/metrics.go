package market

import "github.com/shopspring/decimal"

// Metrics summarizes the price distribution of one order-book side. A nil
// *Metrics means the side had no entries to summarize.
type Metrics struct {
	BestPrice            decimal.Decimal `json:"best_price"`
	AveragePrice         decimal.Decimal `json:"average_price"`
	WeightedAveragePrice decimal.Decimal `json:"weighted_average_price"`
	MedianPrice          decimal.Decimal `json:"median_price"`
	PriceRange           decimal.Decimal `json:"price_range"`
	SampleSize           int             `json:"sample_size"`
}
