//-------------------------------------------------------------------------
//
// Bazaar ETL
//
// Copyright (c) 2025 - 2026, Sialkot Labs
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package aggregate

import (
	"context"
	"testing"
	"time"

	"github.com/sialkot-labs/bazaar-etl/internal/scd"
	"github.com/sialkot-labs/bazaar-etl/internal/warehouse"
	"github.com/sialkot-labs/bazaar-etl/internal/warehouse/memory"
)

func insertCurrentCustomer(t *testing.T, store *memory.Store, natural string) *scd.Version {
	t.Helper()
	v := &scd.Version{
		Entity:        scd.EntityCustomer,
		NaturalKey:    natural,
		Attributes:    map[string]string{"customer_segment": "Regular"},
		EffectiveFrom: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		IsCurrent:     true,
		VersionNumber: 1,
	}
	if err := store.InsertVersion(context.Background(), v); err != nil {
		t.Fatalf("InsertVersion failed: %v", err)
	}
	return v
}

func TestRebuildReplacesWholesale(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	customer := insertCurrentCustomer(t, store, "C-1")
	_, err := store.InsertFacts(ctx, []warehouse.FactRow{
		fact("O-1:1", "O-1", monthDate(2024, 3, 5), customer.SurrogateKey, 2, 150),
		fact("O-2:1", "O-2", monthDate(2024, 3, 9), customer.SurrogateKey, 1, 50),
	})
	if err != nil {
		t.Fatalf("InsertFacts failed: %v", err)
	}

	// Pre-existing rows must be destroyed, not merged into.
	stale := []warehouse.MonthlySales{{Year: 1999, Month: 1, TotalSales: 1}}
	if err := store.ReplaceMonthlySales(ctx, stale); err != nil {
		t.Fatalf("ReplaceMonthlySales failed: %v", err)
	}

	if err := NewRebuilder(store, 3).Rebuild(ctx); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}

	monthly, err := store.MonthlySales(ctx)
	if err != nil {
		t.Fatalf("MonthlySales failed: %v", err)
	}
	if len(monthly) != 1 {
		t.Fatalf("Expected 1 month row after rebuild, got %d", len(monthly))
	}
	if monthly[0].Year == 1999 {
		t.Fatal("Stale aggregate row survived the rebuild")
	}
	if monthly[0].TotalSales != 200 || monthly[0].OrderCount != 2 {
		t.Errorf("Rebuilt month wrong: %+v", monthly[0])
	}

	behavior, err := store.CustomerBehavior(ctx)
	if err != nil {
		t.Fatalf("CustomerBehavior failed: %v", err)
	}
	if len(behavior) != 1 {
		t.Fatalf("Expected 1 behavior row, got %d", len(behavior))
	}
	if behavior[0].CustomerID != "C-1" || behavior[0].Segment == "" {
		t.Errorf("Behavior row wrong: %+v", behavior[0])
	}
	if behavior[0].CustomerKey != customer.SurrogateKey {
		t.Errorf("Behavior row should carry surrogate %d, got %d",
			customer.SurrogateKey, behavior[0].CustomerKey)
	}
}

func TestRebuildEmptyStore(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	if err := NewRebuilder(store, 3).Rebuild(ctx); err != nil {
		t.Fatalf("Rebuild on empty store failed: %v", err)
	}

	monthly, _ := store.MonthlySales(ctx)
	behavior, _ := store.CustomerBehavior(ctx)
	if len(monthly) != 0 || len(behavior) != 0 {
		t.Errorf("Expected empty aggregates, got %d monthly and %d behavior rows",
			len(monthly), len(behavior))
	}
}

func TestRebuildDefaultPeriods(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	customer := insertCurrentCustomer(t, store, "C-1")
	var rows []warehouse.FactRow
	for i, amount := range []float64{100, 200, 300, 400} {
		d := monthDate(2024, time.Month(i+1), 10)
		orderID := "O-" + d.Format("200601")
		rows = append(rows, fact(orderID+":1", orderID, d, customer.SurrogateKey, 1, amount))
	}
	if _, err := store.InsertFacts(ctx, rows); err != nil {
		t.Fatalf("InsertFacts failed: %v", err)
	}

	// Zero periods falls back to the default window of 3.
	if err := NewRebuilder(store, 0).Rebuild(ctx); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}

	monthly, err := store.MonthlySales(ctx)
	if err != nil {
		t.Fatalf("MonthlySales failed: %v", err)
	}
	if len(monthly) != 4 {
		t.Fatalf("Expected 4 month rows, got %d", len(monthly))
	}
	if monthly[3].MovingAvgSales != 300 {
		t.Errorf("April moving average with default window: expected 300, got %f",
			monthly[3].MovingAvgSales)
	}
}
