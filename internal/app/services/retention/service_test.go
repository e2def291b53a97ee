package retention

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/peertrack/peertrack/internal/app/domain/market"
	"github.com/peertrack/peertrack/internal/app/storage/memory"
)

func TestCleanup_DeletesOnlyExpiredSnapshots(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	pair, err := store.CreatePair(ctx, market.TradingPair{
		Asset:                     "USDT",
		Fiat:                      "VES",
		PairSymbol:                "USDT/VES",
		IsActive:                  true,
		CollectionIntervalMinutes: 5,
		DefaultSampleVolume:       decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("create pair: %v", err)
	}

	now := time.Now().UTC()
	var keptIDs []string
	for _, ageDays := range []int{5, 29, 31, 60} {
		snap, err := store.CreateSnapshot(ctx, market.MarketSnapshot{
			PairID:      pair.ID,
			TradeType:   market.TradeTypeSell,
			CollectedAt: now.AddDate(0, 0, -ageDays),
		}, []market.OrderBookEntry{{
			Side:     market.SideAsk,
			Price:    decimal.NewFromInt(36),
			Quantity: decimal.NewFromInt(1),
		}})
		if err != nil {
			t.Fatalf("create snapshot aged %d days: %v", ageDays, err)
		}
		if ageDays < 30 {
			keptIDs = append(keptIDs, snap.ID)
		}
	}

	svc := New(store, 30, nil)
	deleted, err := svc.Cleanup(ctx, now)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 snapshots deleted, got %d", deleted)
	}

	for _, id := range keptIDs {
		if _, err := store.GetSnapshot(ctx, id); err != nil {
			t.Fatalf("snapshot %s inside the window was deleted: %v", id, err)
		}
	}

	// Idempotent: a second run has nothing left to remove.
	deleted, err = svc.Cleanup(ctx, now)
	if err != nil {
		t.Fatalf("second cleanup: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("expected 0 deletions on rerun, got %d", deleted)
	}
}

func TestCleanup_CascadesEntries(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	pair, err := store.CreatePair(ctx, market.TradingPair{
		Asset:                     "USDT",
		Fiat:                      "VES",
		PairSymbol:                "USDT/VES",
		IsActive:                  true,
		CollectionIntervalMinutes: 5,
		DefaultSampleVolume:       decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("create pair: %v", err)
	}

	now := time.Now().UTC()
	snap, err := store.CreateSnapshot(ctx, market.MarketSnapshot{
		PairID:      pair.ID,
		TradeType:   market.TradeTypeSell,
		CollectedAt: now.AddDate(0, 0, -45),
	}, []market.OrderBookEntry{{
		Side:     market.SideAsk,
		Price:    decimal.NewFromInt(36),
		Quantity: decimal.NewFromInt(1),
	}})
	if err != nil {
		t.Fatalf("create snapshot: %v", err)
	}

	svc := New(store, 30, nil)
	if _, err := svc.Cleanup(ctx, now); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	entries, err := store.ListEntries(ctx, snap.ID)
	if err == nil && len(entries) > 0 {
		t.Fatalf("entries should be deleted with their snapshot, got %d", len(entries))
	}
}

func TestNew_DefaultRetention(t *testing.T) {
	svc := New(memory.New(), 0, nil)
	if svc.RetentionDays() != DefaultRetentionDays {
		t.Fatalf("expected default %d days, got %d", DefaultRetentionDays, svc.RetentionDays())
	}
}
