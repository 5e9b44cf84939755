package db

import (
	"context"
	"testing"
	"time"

	"spotbot-core/internal/model"
)

func newTestDB(t *testing.T) *Queries {
	t.Helper()
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("failed to apply migrations: %v", err)
	}
	return database.Queries(nil)
}

func TestLoadSettingsWithoutSaveReturnsNotFound(t *testing.T) {
	q := newTestDB(t)
	ctx := context.Background()

	if _, err := q.LoadSettings(ctx); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveSettingsRoundTrips(t *testing.T) {
	q := newTestDB(t)
	ctx := context.Background()

	want := model.DefaultSettings()
	want.RSIBuyThreshold = 25

	if err := q.SaveSettings(ctx, want); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	got, err := q.LoadSettings(ctx)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestSaveSettingsOverwritesSingleRow(t *testing.T) {
	q := newTestDB(t)
	ctx := context.Background()

	first := model.DefaultSettings()
	second := model.DefaultSettings()
	second.MaxOpenTrades = 7

	if err := q.SaveSettings(ctx, first); err != nil {
		t.Fatalf("SaveSettings first: %v", err)
	}
	if err := q.SaveSettings(ctx, second); err != nil {
		t.Fatalf("SaveSettings second: %v", err)
	}
	got, err := q.LoadSettings(ctx)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if got.MaxOpenTrades != 7 {
		t.Fatalf("MaxOpenTrades=%d, expected 7", got.MaxOpenTrades)
	}
}

func TestActiveTradeLifecycle(t *testing.T) {
	q := newTestDB(t)
	ctx := context.Background()

	trade := model.ActiveTrade{PurchasePrice: 1.5, Amount: 10, Timestamp: time.Now().UTC()}
	if err := q.SaveActiveTrade(ctx, "FOOUSDT", trade); err != nil {
		t.Fatalf("SaveActiveTrade: %v", err)
	}

	loaded, err := q.LoadActiveTrades(ctx)
	if err != nil {
		t.Fatalf("LoadActiveTrades: %v", err)
	}
	got, ok := loaded["FOOUSDT"]
	if !ok {
		t.Fatal("expected FOOUSDT to be present")
	}
	if got.PurchasePrice != trade.PurchasePrice || got.Amount != trade.Amount {
		t.Fatalf("got %+v, want %+v", got, trade)
	}

	if err := q.DeleteActiveTrade(ctx, "FOOUSDT"); err != nil {
		t.Fatalf("DeleteActiveTrade: %v", err)
	}
	loaded, err = q.LoadActiveTrades(ctx)
	if err != nil {
		t.Fatalf("LoadActiveTrades after delete: %v", err)
	}
	if _, ok := loaded["FOOUSDT"]; ok {
		t.Fatal("expected FOOUSDT to be removed")
	}
}

func TestLedgerIsNewestFirstAndRespectsLimit(t *testing.T) {
	q := newTestDB(t)
	ctx := context.Background()

	base := time.Now().UTC()
	trades := []model.CompletedTrade{
		{ID: "1", Timestamp: base, Type: model.TradeBuy, Pair: "FOOUSDT", Price: 1, Amount: 10, Cost: 10},
		{ID: "2", Timestamp: base.Add(time.Minute), Type: model.TradeSell, Pair: "FOOUSDT", Price: 1.1, Amount: 10, Cost: 11},
		{ID: "3", Timestamp: base.Add(2 * time.Minute), Type: model.TradeBuy, Pair: "BARUSDT", Price: 2, Amount: 5, Cost: 10},
	}
	for _, tr := range trades {
		if err := q.SaveLedgerItem(ctx, tr); err != nil {
			t.Fatalf("SaveLedgerItem %s: %v", tr.ID, err)
		}
	}

	got, err := q.LoadLedger(ctx, 2)
	if err != nil {
		t.Fatalf("LoadLedger: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d rows, expected 2", len(got))
	}
	if got[0].ID != "3" || got[1].ID != "2" {
		t.Fatalf("expected newest-first order [3,2], got [%s,%s]", got[0].ID, got[1].ID)
	}
}
