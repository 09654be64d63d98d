//-------------------------------------------------------------------------
//
// Bazaar ETL
//
// Copyright (c) 2025 - 2026, Sialkot Labs
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

//go:build integration
// +build integration

// Integration tests for the PostgreSQL warehouse store.
// Run with: go test -tags=integration ./internal/warehouse/postgres/...
// Requires PostgreSQL to be available.
// Set BAZAAR_TEST_CONN environment variable to override connection string.

package postgres_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/sialkot-labs/bazaar-etl/internal/scd"
	"github.com/sialkot-labs/bazaar-etl/internal/testutil"
	"github.com/sialkot-labs/bazaar-etl/internal/warehouse"
	"github.com/sialkot-labs/bazaar-etl/internal/warehouse/postgres"
)

func date(day int) time.Time {
	return time.Date(2024, 3, day, 0, 0, 0, 0, time.UTC)
}

func productVersion(attrs map[string]string, from time.Time, number int) *scd.Version {
	return &scd.Version{
		Entity:        scd.EntityProduct,
		NaturalKey:    "P-100",
		Attributes:    attrs,
		EffectiveFrom: from,
		IsCurrent:     true,
		VersionNumber: number,
	}
}

func TestPostgresStoreIntegration(t *testing.T) {
	baseConnStr := testutil.SkipIfNoPostgres(t)

	testConnStr := testutil.CreateTestDB(t, baseConnStr, "warehouse")
	dbName := testutil.GetDBNameFromConnStr(testConnStr)

	cleanup := testutil.NewTestCleanup(t, baseConnStr, dbName)
	t.Cleanup(cleanup.Cleanup)

	pool := testutil.ConnectTestDB(t, testConnStr)
	cleanup.SetPool(pool)

	ctx := context.Background()
	store := postgres.New(pool)

	if err := store.CreateSchema(ctx); err != nil {
		t.Fatalf("CreateSchema failed: %v", err)
	}
	if err := store.CreateSchema(ctx); err != nil {
		t.Fatalf("CreateSchema is not idempotent: %v", err)
	}

	v1Attrs := map[string]string{
		"product_name":  "Steel Kettle",
		"category_name": "Kitchen",
		"brand":         "Sahar",
		"model":         "SK-2",
		"unit_price":    "1500.00",
		"unit_cost":     "850.50",
		"msrp":          "1750.00",
		"is_active":     "true",
	}

	t.Run("InsertAndReadBack", func(t *testing.T) {
		v1 := productVersion(v1Attrs, date(1), 1)
		if err := store.InsertVersion(ctx, v1); err != nil {
			t.Fatalf("InsertVersion failed: %v", err)
		}
		if v1.SurrogateKey == 0 {
			t.Fatal("InsertVersion did not assign a surrogate key")
		}

		got, err := store.CurrentVersion(ctx, scd.EntityProduct, "P-100")
		if err != nil {
			t.Fatalf("CurrentVersion failed: %v", err)
		}
		if got == nil {
			t.Fatal("CurrentVersion returned nil for inserted key")
		}
		if got.SurrogateKey != v1.SurrogateKey {
			t.Errorf("Surrogate key %d, want %d", got.SurrogateKey, v1.SurrogateKey)
		}
		if !reflect.DeepEqual(got.Attributes, v1Attrs) {
			t.Errorf("Attributes changed across the round trip:\n got %v\nwant %v", got.Attributes, v1Attrs)
		}
		if len(got.PrevValues) != 0 {
			t.Errorf("First version has previous values: %v", got.PrevValues)
		}
		if !got.EffectiveFrom.Equal(date(1)) {
			t.Errorf("EffectiveFrom %v, want %v", got.EffectiveFrom, date(1))
		}
		if got.EffectiveTo != nil {
			t.Errorf("EffectiveTo %v, want open ended", got.EffectiveTo)
		}
		if !got.IsCurrent || got.VersionNumber != 1 {
			t.Errorf("Got current=%t version=%d, want current v1", got.IsCurrent, got.VersionNumber)
		}
	})

	t.Run("DuplicateInsertConflicts", func(t *testing.T) {
		dup := productVersion(v1Attrs, date(1), 1)
		if err := store.InsertVersion(ctx, dup); !errors.Is(err, scd.ErrTransitionConflict) {
			t.Fatalf("Duplicate insert returned %v, want transition conflict", err)
		}
	})

	t.Run("AbsentAttributesStayAbsent", func(t *testing.T) {
		v := &scd.Version{
			Entity:     scd.EntityEmployee,
			NaturalKey: "E-7",
			Attributes: map[string]string{
				"full_name":  "Bilal Sheikh",
				"department": "Sales",
			},
			EffectiveFrom: date(1),
			IsCurrent:     true,
			VersionNumber: 1,
		}
		if err := store.InsertVersion(ctx, v); err != nil {
			t.Fatalf("InsertVersion failed: %v", err)
		}

		got, err := store.CurrentVersion(ctx, scd.EntityEmployee, "E-7")
		if err != nil {
			t.Fatalf("CurrentVersion failed: %v", err)
		}
		if len(got.Attributes) != 2 {
			t.Errorf("Got %d attributes, want the 2 that were stored: %v", len(got.Attributes), got.Attributes)
		}
	})

	t.Run("UpdateInPlace", func(t *testing.T) {
		prior, err := store.CurrentVersion(ctx, scd.EntityProduct, "P-100")
		if err != nil {
			t.Fatalf("CurrentVersion failed: %v", err)
		}

		changed := map[string]string{"unit_price": "1600.00", "msrp": "1800.00"}
		shifts := map[string]string{"msrp": "1750.00"}
		if err := store.UpdateInPlace(ctx, prior, changed, shifts); err != nil {
			t.Fatalf("UpdateInPlace failed: %v", err)
		}

		got, err := store.CurrentVersion(ctx, scd.EntityProduct, "P-100")
		if err != nil {
			t.Fatalf("CurrentVersion failed: %v", err)
		}
		if got.Attributes["unit_price"] != "1600.00" || got.Attributes["msrp"] != "1800.00" {
			t.Errorf("Attributes not rewritten: %v", got.Attributes)
		}
		if got.PrevValues["msrp"] != "1750.00" {
			t.Errorf("Previous msrp %q, want 1750.00", got.PrevValues["msrp"])
		}
		if got.VersionNumber != 1 || !got.EffectiveFrom.Equal(date(1)) {
			t.Errorf("In-place update moved the version: v%d from %v", got.VersionNumber, got.EffectiveFrom)
		}

		stale := *got
		stale.SurrogateKey = got.SurrogateKey + 999
		err = store.UpdateInPlace(ctx, &stale, map[string]string{"unit_price": "9.99"}, nil)
		if !errors.Is(err, scd.ErrTransitionConflict) {
			t.Fatalf("Stale update returned %v, want transition conflict", err)
		}
	})

	t.Run("Transition", func(t *testing.T) {
		prior, err := store.CurrentVersion(ctx, scd.EntityProduct, "P-100")
		if err != nil {
			t.Fatalf("CurrentVersion failed: %v", err)
		}

		nextAttrs := map[string]string{}
		for k, v := range prior.Attributes {
			nextAttrs[k] = v
		}
		nextAttrs["category_name"] = "Appliances"

		next := productVersion(nextAttrs, date(10), prior.VersionNumber+1)
		next.PrevValues = prior.PrevValues
		if err := store.Transition(ctx, prior, next); err != nil {
			t.Fatalf("Transition failed: %v", err)
		}
		if next.SurrogateKey == 0 || next.SurrogateKey == prior.SurrogateKey {
			t.Fatalf("New version got surrogate key %d (prior %d)", next.SurrogateKey, prior.SurrogateKey)
		}

		versions, err := store.AllVersions(ctx, scd.EntityProduct)
		if err != nil {
			t.Fatalf("AllVersions failed: %v", err)
		}
		if len(versions) != 2 {
			t.Fatalf("Got %d product versions, want 2", len(versions))
		}
		closed, current := versions[0], versions[1]
		if closed.IsCurrent || closed.EffectiveTo == nil || !closed.EffectiveTo.Equal(date(10)) {
			t.Errorf("Prior version not closed at %v: current=%t to=%v", date(10), closed.IsCurrent, closed.EffectiveTo)
		}
		if !current.IsCurrent || current.VersionNumber != 2 || current.Attributes["category_name"] != "Appliances" {
			t.Errorf("New version wrong: current=%t v%d attrs=%v", current.IsCurrent, current.VersionNumber, current.Attributes)
		}
		if current.PrevValues["msrp"] != "1750.00" {
			t.Errorf("Previous msrp lost across transition: %v", current.PrevValues)
		}

		// The same prior is no longer current, so replaying the
		// transition must conflict instead of forking the chain.
		replay := productVersion(nextAttrs, date(11), 3)
		if err := store.Transition(ctx, prior, replay); !errors.Is(err, scd.ErrTransitionConflict) {
			t.Fatalf("Replayed transition returned %v, want transition conflict", err)
		}
	})

	t.Run("ResolveAtBoundaries", func(t *testing.T) {
		tests := []struct {
			name  string
			at    time.Time
			wantV int
		}{
			{"start of first version", date(1), 1},
			{"last day before transition", date(9), 1},
			{"transition date belongs to new version", date(10), 2},
			{"far future hits open version", date(10).AddDate(2, 0, 0), 2},
			{"before first version falls back to earliest", date(1).AddDate(-1, 0, 0), 1},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				got, err := store.ResolveAt(ctx, scd.EntityProduct, "P-100", tc.at)
				if err != nil {
					t.Fatalf("ResolveAt(%v) failed: %v", tc.at, err)
				}
				if got.VersionNumber != tc.wantV {
					t.Errorf("ResolveAt(%v) = v%d, want v%d", tc.at, got.VersionNumber, tc.wantV)
				}
			})
		}

		if _, err := store.ResolveAt(ctx, scd.EntityProduct, "P-404", date(5)); !errors.Is(err, warehouse.ErrNotFound) {
			t.Fatalf("Unknown key returned %v, want not found", err)
		}
	})

	t.Run("CurrentVersionMissingKey", func(t *testing.T) {
		got, err := store.CurrentVersion(ctx, scd.EntityCustomer, "C-404")
		if err != nil {
			t.Fatalf("CurrentVersion failed: %v", err)
		}
		if got != nil {
			t.Fatalf("Got %+v for a key with no versions, want nil", got)
		}
	})

	t.Run("ConcurrentFirstInsert", func(t *testing.T) {
		storeAttrs := map[string]string{
			"store_name": "Bazaar Anarkali",
			"store_type": "Outlet",
			"city":       "Lahore",
			"province":   "Punjab",
			"is_active":  "true",
		}
		results := make(chan error, 2)
		for i := 0; i < 2; i++ {
			go func() {
				v := &scd.Version{
					Entity:        scd.EntityStore,
					NaturalKey:    "S-50",
					Attributes:    storeAttrs,
					EffectiveFrom: date(1),
					IsCurrent:     true,
					VersionNumber: 1,
				}
				results <- store.InsertVersion(ctx, v)
			}()
		}

		var successes, conflicts int
		for i := 0; i < 2; i++ {
			switch err := <-results; {
			case err == nil:
				successes++
			case errors.Is(err, scd.ErrTransitionConflict):
				conflicts++
			default:
				t.Fatalf("Unexpected insert error: %v", err)
			}
		}
		if successes != 1 || conflicts != 1 {
			t.Fatalf("Got %d successes and %d conflicts, want exactly one of each", successes, conflicts)
		}

		currents, err := store.CurrentVersions(ctx, scd.EntityStore)
		if err != nil {
			t.Fatalf("CurrentVersions failed: %v", err)
		}
		if len(currents) != 1 {
			t.Fatalf("Got %d current store versions, want 1", len(currents))
		}
	})

	t.Run("CalendarSeeding", func(t *testing.T) {
		rows := warehouse.BuildDateRange(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC))
		if err := store.InsertDates(ctx, rows); err != nil {
			t.Fatalf("InsertDates failed: %v", err)
		}
		if err := store.InsertDates(ctx, rows); err != nil {
			t.Fatalf("Reseeding the same range failed: %v", err)
		}

		var count int
		if err := pool.QueryRow(ctx, "SELECT count(*) FROM dim_date").Scan(&count); err != nil {
			t.Fatalf("Counting calendar rows failed: %v", err)
		}
		if count != 31 {
			t.Fatalf("Got %d calendar rows, want 31", count)
		}

		var monthName string
		if err := pool.QueryRow(ctx, "SELECT month_name FROM dim_date WHERE date_key = 20240115").Scan(&monthName); err != nil {
			t.Fatalf("Reading calendar row failed: %v", err)
		}
		if monthName != "January" {
			t.Errorf("Month name %q, want January", monthName)
		}
	})

	t.Run("FactIdempotence", func(t *testing.T) {
		facts := []warehouse.FactRow{
			{EventID: "O-1:1", OrderID: "O-1", DateKey: 20240302, BusinessDate: date(2), CustomerKey: 1, ProductKey: 1, StoreKey: 1, EmployeeKey: 1, Quantity: 2, UnitPrice: 1500.00, DiscountPct: 5.00, LineAmount: 2850.00},
			{EventID: "O-1:2", OrderID: "O-1", DateKey: 20240302, BusinessDate: date(2), CustomerKey: 1, ProductKey: 1, StoreKey: 1, EmployeeKey: 1, Quantity: 1, UnitPrice: 850.50, DiscountPct: 0, LineAmount: 850.50},
		}
		n, err := store.InsertFacts(ctx, facts)
		if err != nil {
			t.Fatalf("InsertFacts failed: %v", err)
		}
		if n != 2 {
			t.Fatalf("Inserted %d facts, want 2", n)
		}

		replay := append(facts, warehouse.FactRow{
			EventID: "O-2:1", OrderID: "O-2", DateKey: 20240303, BusinessDate: date(3),
			CustomerKey: 1, ProductKey: 1, StoreKey: 1, EmployeeKey: 1,
			Quantity: 3, UnitPrice: 100.00, DiscountPct: 0, LineAmount: 300.00,
		})
		n, err = store.InsertFacts(ctx, replay)
		if err != nil {
			t.Fatalf("Replaying facts failed: %v", err)
		}
		if n != 1 {
			t.Fatalf("Replay inserted %d facts, want only the new one", n)
		}

		stored, err := store.Facts(ctx)
		if err != nil {
			t.Fatalf("Facts failed: %v", err)
		}
		if len(stored) != 3 {
			t.Fatalf("Got %d facts, want 3", len(stored))
		}
		if stored[0].EventID != "O-1:1" || stored[2].EventID != "O-2:1" {
			t.Errorf("Facts out of order: %s .. %s", stored[0].EventID, stored[2].EventID)
		}
		if stored[0].UnitPrice != 1500.00 || stored[0].LineAmount != 2850.00 {
			t.Errorf("Money fields changed across the round trip: %+v", stored[0])
		}
		if !stored[0].BusinessDate.Equal(date(2)) {
			t.Errorf("Business date %v, want %v", stored[0].BusinessDate, date(2))
		}
	})

	t.Run("AggregateReplace", func(t *testing.T) {
		monthly := []warehouse.MonthlySales{
			{Year: 2024, Month: 2, TotalSales: 1200.00, OrderCount: 3, UnitsSold: 5, AvgOrderValue: 400.00, DistinctCustomers: 2, MovingAvgSales: 1200.00},
			{Year: 2024, Month: 3, TotalSales: 4000.50, OrderCount: 2, UnitsSold: 6, AvgOrderValue: 2000.25, DistinctCustomers: 1, MovingAvgSales: 2600.25},
		}
		if err := store.ReplaceMonthlySales(ctx, monthly); err != nil {
			t.Fatalf("ReplaceMonthlySales failed: %v", err)
		}

		got, err := store.MonthlySales(ctx)
		if err != nil {
			t.Fatalf("MonthlySales failed: %v", err)
		}
		if len(got) != 2 || got[0].Month != 2 || got[1].MovingAvgSales != 2600.25 {
			t.Fatalf("Monthly sales read back wrong: %+v", got)
		}

		if err := store.ReplaceMonthlySales(ctx, monthly[1:]); err != nil {
			t.Fatalf("Second replace failed: %v", err)
		}
		got, err = store.MonthlySales(ctx)
		if err != nil {
			t.Fatalf("MonthlySales failed: %v", err)
		}
		if len(got) != 1 || got[0].Month != 3 {
			t.Fatalf("Replace did not swap wholesale: %+v", got)
		}

		behavior := []warehouse.CustomerBehavior{
			{CustomerKey: 1, CustomerID: "C-1", TotalOrders: 2, TotalSpent: 3700.50, LastOrderDate: date(3), RecencyScore: 5, FrequencyScore: 5, MonetaryScore: 5, Segment: "Champions"},
		}
		if err := store.ReplaceCustomerBehavior(ctx, behavior); err != nil {
			t.Fatalf("ReplaceCustomerBehavior failed: %v", err)
		}
		gotB, err := store.CustomerBehavior(ctx)
		if err != nil {
			t.Fatalf("CustomerBehavior failed: %v", err)
		}
		if len(gotB) != 1 || gotB[0].Segment != "Champions" || !gotB[0].LastOrderDate.Equal(date(3)) {
			t.Fatalf("Customer behavior read back wrong: %+v", gotB)
		}
	})

	t.Run("MetadataRoundTrip", func(t *testing.T) {
		got, err := store.GetMetadata(ctx, "never_written")
		if err != nil {
			t.Fatalf("GetMetadata failed: %v", err)
		}
		if got != "" {
			t.Fatalf("Missing key returned %q, want empty", got)
		}

		if err := store.SetMetadata(ctx, warehouse.MetaKeyTool, warehouse.ToolName); err != nil {
			t.Fatalf("SetMetadata failed: %v", err)
		}
		if err := store.SetMetadata(ctx, warehouse.MetaKeySchemaVersion, warehouse.SchemaVersion); err != nil {
			t.Fatalf("SetMetadata failed: %v", err)
		}
		if err := store.SetMetadata(ctx, warehouse.MetaKeySchemaVersion, "2"); err != nil {
			t.Fatalf("Metadata upsert failed: %v", err)
		}

		got, err = store.GetMetadata(ctx, warehouse.MetaKeySchemaVersion)
		if err != nil {
			t.Fatalf("GetMetadata failed: %v", err)
		}
		if got != "2" {
			t.Fatalf("Schema version %q after upsert, want 2", got)
		}
	})

	t.Run("DropSchema", func(t *testing.T) {
		if err := store.DropSchema(ctx); err != nil {
			t.Fatalf("DropSchema failed: %v", err)
		}
		var exists bool
		err := pool.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'fact_sales')").Scan(&exists)
		if err != nil {
			t.Fatalf("Probing dropped schema failed: %v", err)
		}
		if exists {
			t.Fatal("fact_sales still exists after DropSchema")
		}
	})
}
