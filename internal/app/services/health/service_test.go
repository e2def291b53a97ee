package health

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/peertrack/peertrack/internal/app/domain/market"
	"github.com/peertrack/peertrack/internal/app/storage/memory"
)

type stubRater float64

func (r stubRater) ErrorRate() float64 { return float64(r) }

func seedPair(t *testing.T, store *memory.Store, asset string, intervalMinutes int) market.TradingPair {
	t.Helper()
	pair, err := store.CreatePair(context.Background(), market.TradingPair{
		Asset:                     asset,
		Fiat:                      "VES",
		PairSymbol:                market.Symbol(asset, "VES"),
		IsActive:                  true,
		CollectionIntervalMinutes: intervalMinutes,
		DefaultSampleVolume:       decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("create pair: %v", err)
	}
	return pair
}

func writeSnapshot(t *testing.T, store *memory.Store, pairID string, collectedAt time.Time) {
	t.Helper()
	_, err := store.CreateSnapshot(context.Background(), market.MarketSnapshot{
		PairID:      pairID,
		TradeType:   market.TradeTypeSell,
		CollectedAt: collectedAt,
	}, []market.OrderBookEntry{{
		Side:     market.SideAsk,
		Price:    decimal.NewFromInt(36),
		Quantity: decimal.NewFromInt(1),
	}})
	if err != nil {
		t.Fatalf("create snapshot: %v", err)
	}
}

func TestStatus_HealthyWithFreshData(t *testing.T) {
	store := memory.New()
	pair := seedPair(t, store, "USDT", 5)
	now := time.Now().UTC()
	writeSnapshot(t, store, pair.ID, now.Add(-2*time.Minute))

	svc := New(store, store, stubRater(0.1), 0.5, nil)
	report, err := svc.Status(context.Background(), now)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if report.Status != "ok" || len(report.Issues) != 0 {
		t.Fatalf("expected healthy report, got %#v", report)
	}
	if report.ActivePairs != 1 {
		t.Fatalf("active pairs wrong: %d", report.ActivePairs)
	}
	if report.LastCollectionMinutesAgo == nil || *report.LastCollectionMinutesAgo < 1.9 {
		t.Fatalf("last collection age wrong: %v", report.LastCollectionMinutesAgo)
	}
}

func TestStatus_StalenessUsesShortestInterval(t *testing.T) {
	store := memory.New()
	fast := seedPair(t, store, "USDT", 2)
	seedPair(t, store, "BTC", 60)
	now := time.Now().UTC()

	// 5 minutes exceeds twice the 2-minute interval, even though the
	// 60-minute pair would allow it.
	writeSnapshot(t, store, fast.ID, now.Add(-5*time.Minute))

	svc := New(store, store, stubRater(0), 0.5, nil)
	report, err := svc.Status(context.Background(), now)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if report.Status != "degraded" {
		t.Fatalf("expected degraded report, got %#v", report)
	}
	found := false
	for _, issue := range report.Issues {
		if strings.Contains(issue, "last collection") {
			found = true
		}
	}
	if !found {
		t.Fatalf("staleness issue missing: %v", report.Issues)
	}
}

func TestStatus_NoSnapshotsYet(t *testing.T) {
	store := memory.New()
	seedPair(t, store, "USDT", 5)

	svc := New(store, store, stubRater(0), 0.5, nil)
	report, err := svc.Status(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if report.Status != "degraded" {
		t.Fatalf("active pairs with no data should degrade health")
	}
	if report.LastCollectionMinutesAgo != nil {
		t.Fatalf("no collection time expected, got %v", *report.LastCollectionMinutesAgo)
	}
}

func TestStatus_ErrorRateThreshold(t *testing.T) {
	store := memory.New()
	pair := seedPair(t, store, "USDT", 5)
	now := time.Now().UTC()
	writeSnapshot(t, store, pair.ID, now.Add(-time.Minute))

	svc := New(store, store, stubRater(0.6), 0.5, nil)
	report, err := svc.Status(context.Background(), now)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if report.Status != "degraded" {
		t.Fatalf("error rate above threshold must degrade health")
	}
	found := false
	for _, issue := range report.Issues {
		if strings.Contains(issue, "error rate") {
			found = true
		}
	}
	if !found {
		t.Fatalf("error rate issue missing: %v", report.Issues)
	}
}

func TestStatus_NoActivePairs(t *testing.T) {
	store := memory.New()
	svc := New(store, store, stubRater(0), 0.5, nil)
	report, err := svc.Status(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	// Nothing to collect means nothing can be stale.
	if report.Status != "ok" {
		t.Fatalf("no active pairs should be healthy, got %#v", report)
	}
}
