package collector

import (
	"testing"

	"github.com/peertrack/peertrack/internal/app/domain/market"
)

func TestNormalizeAd_FullProfile(t *testing.T) {
	ad := testAd("u1", "36.50", "1000")
	ad.Adv.MinSingleTransAmount = "500"
	ad.Adv.MaxSingleTransAmount = "100000"
	ad.Adv.TradeMethods = []struct {
		TradeMethodName string `json:"tradeMethodName"`
		Identifier      string `json:"identifier"`
	}{
		{TradeMethodName: "Banesco"},
		{TradeMethodName: "Banesco"},
		{TradeMethodName: "", Identifier: "PagoMovil"},
	}
	finishRate := 0.987
	orders := 215
	pro := true
	kyc := true
	payTime := 3.5
	releaseTime := 2.0
	ad.Advertiser.MonthFinishRate = &finishRate
	ad.Advertiser.MonthOrderCount = &orders
	ad.Advertiser.ProMerchant = &pro
	ad.Advertiser.KycVerified = &kyc
	ad.Advertiser.AvgPayTime = &payTime
	ad.Advertiser.AvgReleaseTime = &releaseTime

	entry, err := NormalizeAd(ad, market.SideAsk)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	if entry.Price.String() != "36.5" || entry.Quantity.String() != "1000" {
		t.Fatalf("price/quantity wrong: %s / %s", entry.Price, entry.Quantity)
	}
	if entry.TotalAmount.String() != "36500" {
		t.Fatalf("total amount wrong: %s", entry.TotalAmount)
	}
	if entry.MinOrderLimit == nil || entry.MinOrderLimit.String() != "500" {
		t.Fatalf("min limit wrong: %v", entry.MinOrderLimit)
	}
	if entry.CompletionRate == nil || *entry.CompletionRate != 99 {
		t.Fatalf("completion rate should round 0.987 to 99, got %v", entry.CompletionRate)
	}
	if entry.TradeCount == nil || *entry.TradeCount != 215 {
		t.Fatalf("trade count wrong: %v", entry.TradeCount)
	}
	if !entry.IsProMerchant || !entry.IsKycVerified {
		t.Fatalf("merchant flags lost: %#v", entry)
	}
	if len(entry.PaymentMethods) != 2 {
		t.Fatalf("payment methods should deduplicate, got %v", entry.PaymentMethods)
	}
	if !adMetadataComplete(ad) {
		t.Fatalf("full profile should count as complete metadata")
	}
}

func TestNormalizeAd_OptionalFieldsStayNil(t *testing.T) {
	ad := testAd("u2", "36.00", "")

	entry, err := NormalizeAd(ad, market.SideBid)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !entry.Quantity.IsZero() {
		t.Fatalf("missing surplus should mean zero quantity, got %s", entry.Quantity)
	}
	if entry.CompletionRate != nil || entry.TradeCount != nil {
		t.Fatalf("absent profile numbers must stay nil: %#v", entry)
	}
	if entry.MinOrderLimit != nil || entry.MaxOrderLimit != nil {
		t.Fatalf("absent limits must stay nil: %#v", entry)
	}
	if adMetadataComplete(ad) {
		t.Fatalf("empty profile is not complete metadata")
	}
}

func TestNormalizeAd_ZeroCompletionRateIsNotMissing(t *testing.T) {
	ad := testAd("u3", "36.00", "100")
	zero := 0.0
	ad.Advertiser.MonthFinishRate = &zero

	entry, err := NormalizeAd(ad, market.SideAsk)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if entry.CompletionRate == nil || *entry.CompletionRate != 0 {
		t.Fatalf("0%% completion must survive as 0, got %v", entry.CompletionRate)
	}
}

func TestNormalizeAd_InvalidPrice(t *testing.T) {
	ad := testAd("u4", "", "100")
	if _, err := NormalizeAd(ad, market.SideAsk); err == nil {
		t.Fatalf("empty price must fail")
	}

	ad = testAd("u4", "-1", "100")
	if _, err := NormalizeAd(ad, market.SideAsk); err == nil {
		t.Fatalf("non-positive price must fail validation")
	}
}
