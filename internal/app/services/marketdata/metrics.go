package marketdata

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/peertrack/peertrack/internal/app/domain/market"
)

// ComputeMetrics derives summary statistics from one side of an order book.
// Returns nil when there are no entries, so callers can distinguish "no
// market" from a market of zero prices. Best price is the lowest ask or the
// highest bid; the weighted average skips zero-quantity entries and falls
// back to the plain average when every quantity is zero.
func ComputeMetrics(entries []market.OrderBookEntry) *market.Metrics {
	if len(entries) == 0 {
		return nil
	}

	prices := make([]decimal.Decimal, len(entries))
	for i, e := range entries {
		prices[i] = e.Price
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i].LessThan(prices[j]) })

	minPrice := prices[0]
	maxPrice := prices[len(prices)-1]

	best := minPrice
	if entries[0].Side == market.SideBid {
		best = maxPrice
	}

	sum := decimal.Zero
	weightedSum := decimal.Zero
	weightTotal := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.Price)
		if e.Quantity.IsPositive() {
			weightedSum = weightedSum.Add(e.Price.Mul(e.Quantity))
			weightTotal = weightTotal.Add(e.Quantity)
		}
	}
	count := decimal.NewFromInt(int64(len(entries)))
	avg := sum.Div(count)

	weightedAvg := avg
	if weightTotal.IsPositive() {
		weightedAvg = weightedSum.Div(weightTotal)
	}

	return &market.Metrics{
		BestPrice:            best,
		AveragePrice:         avg,
		WeightedAveragePrice: weightedAvg,
		MedianPrice:          median(prices),
		PriceRange:           maxPrice.Sub(minPrice),
		SampleSize:           len(entries),
	}
}

// median expects prices sorted ascending.
func median(prices []decimal.Decimal) decimal.Decimal {
	n := len(prices)
	if n%2 == 1 {
		return prices[n/2]
	}
	two := decimal.NewFromInt(2)
	return prices[n/2-1].Add(prices[n/2]).Div(two)
}
