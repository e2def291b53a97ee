package collector

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/peertrack/peertrack/internal/app/domain/market"
)

// NormalizeAd maps one venue ad onto a canonical order-book entry. Absent
// optional numeric fields stay nil; zero is a meaningful value (a merchant
// with a 0% completion rate is not a merchant with no history).
func NormalizeAd(ad RawAd, side market.Side) (market.OrderBookEntry, error) {
	price, err := decimal.NewFromString(strings.TrimSpace(ad.Adv.Price))
	if err != nil {
		return market.OrderBookEntry{}, fmt.Errorf("ad %s: parse price %q: %w", ad.Adv.AdvNo, ad.Adv.Price, err)
	}

	quantity := decimal.Zero
	if raw := strings.TrimSpace(ad.Adv.SurplusAmount); raw != "" {
		quantity, err = decimal.NewFromString(raw)
		if err != nil {
			return market.OrderBookEntry{}, fmt.Errorf("ad %s: parse quantity %q: %w", ad.Adv.AdvNo, raw, err)
		}
	}

	entry := market.OrderBookEntry{
		Side:         side,
		Price:        price,
		Quantity:     quantity,
		TotalAmount:  price.Mul(quantity),
		MerchantName: ad.Advertiser.NickName,
		MerchantID:   ad.Advertiser.UserNo,
	}

	if entry.MinOrderLimit, err = parseOptionalDecimal(ad.Adv.MinSingleTransAmount); err != nil {
		return market.OrderBookEntry{}, fmt.Errorf("ad %s: parse min limit: %w", ad.Adv.AdvNo, err)
	}
	if entry.MaxOrderLimit, err = parseOptionalDecimal(ad.Adv.MaxSingleTransAmount); err != nil {
		return market.OrderBookEntry{}, fmt.Errorf("ad %s: parse max limit: %w", ad.Adv.AdvNo, err)
	}

	if ad.Advertiser.MonthFinishRate != nil {
		rate := int(math.Round(*ad.Advertiser.MonthFinishRate * 100))
		entry.CompletionRate = &rate
	}
	if ad.Advertiser.MonthOrderCount != nil {
		count := *ad.Advertiser.MonthOrderCount
		entry.TradeCount = &count
	}
	if ad.Advertiser.ProMerchant != nil {
		entry.IsProMerchant = *ad.Advertiser.ProMerchant
	}
	if ad.Advertiser.KycVerified != nil {
		entry.IsKycVerified = *ad.Advertiser.KycVerified
	}
	if ad.Advertiser.AvgPayTime != nil {
		d := decimal.NewFromFloat(*ad.Advertiser.AvgPayTime)
		entry.AvgPayTimeMinutes = &d
	}
	if ad.Advertiser.AvgReleaseTime != nil {
		d := decimal.NewFromFloat(*ad.Advertiser.AvgReleaseTime)
		entry.AvgReleaseTimeMinutes = &d
	}

	for _, method := range ad.Adv.TradeMethods {
		name := strings.TrimSpace(method.TradeMethodName)
		if name == "" {
			name = method.Identifier
		}
		if name != "" && !containsString(entry.PaymentMethods, name) {
			entry.PaymentMethods = append(entry.PaymentMethods, name)
		}
	}

	entry.MerchantMetadata = map[string]json.RawMessage{}
	if ad.Advertiser.UserType != "" {
		entry.MerchantMetadata["user_type"] = mustRaw(ad.Advertiser.UserType)
	}
	if ad.Adv.AdvNo != "" {
		entry.MerchantMetadata["adv_no"] = mustRaw(ad.Adv.AdvNo)
	}
	if len(entry.MerchantMetadata) == 0 {
		entry.MerchantMetadata = nil
	}

	if err := entry.Validate(); err != nil {
		return market.OrderBookEntry{}, fmt.Errorf("ad %s: %w", ad.Adv.AdvNo, err)
	}
	return entry, nil
}

// adMetadataComplete reports whether the venue supplied the full merchant
// profile for an ad. Feeds the quality score, not validation.
func adMetadataComplete(ad RawAd) bool {
	return ad.Advertiser.ProMerchant != nil &&
		ad.Advertiser.KycVerified != nil &&
		ad.Advertiser.AvgPayTime != nil &&
		ad.Advertiser.AvgReleaseTime != nil
}

func parseOptionalDecimal(raw string) (*decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func mustRaw(s string) json.RawMessage {
	data, _ := json.Marshal(s)
	return data
}
