//-------------------------------------------------------------------------
//
// Bazaar ETL
//
// Copyright (c) 2025 - 2026, Sialkot Labs
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package warehouse defines the star schema row types and the storage
// interface implemented by the memory and postgres backends.
package warehouse

import (
	"context"
	"errors"
	"time"

	"github.com/sialkot-labs/bazaar-etl/internal/scd"
)

// ErrNotFound is returned when a natural key has no version at all.
var ErrNotFound = errors.New("no dimension version for natural key")

// Warehouse metadata keys.
const (
	MetaKeyTool            = "tool"
	MetaKeySchemaVersion   = "schema_version"
	MetaKeyInitializedAt   = "initialized_at"
	MetaKeyAggregatesStale = "aggregates_stale"
	MetaKeyLastBatch       = "last_successful_batch"
)

// ToolName is the marker written into warehouse metadata at init.
const ToolName = "bazaar-etl"

// SchemaVersion is bumped whenever the warehouse DDL changes shape.
const SchemaVersion = "1"

// DateKey renders a date as a YYYYMMDD integer key.
func DateKey(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// FactRow is one sale line with all dimension references resolved to
// surrogate keys.
type FactRow struct {
	EventID      string
	OrderID      string
	DateKey      int
	BusinessDate time.Time
	CustomerKey  int64
	ProductKey   int64
	StoreKey     int64
	EmployeeKey  int64
	Quantity     int
	UnitPrice    float64
	DiscountPct  float64
	LineAmount   float64
}

// MonthlySales is one row of the monthly sales aggregate.
type MonthlySales struct {
	Year              int
	Month             int
	TotalSales        float64
	OrderCount        int64
	UnitsSold         int64
	AvgOrderValue     float64
	DistinctCustomers int64

	// MovingAvgSales is the trailing moving average of TotalSales
	// over the configured number of periods.
	MovingAvgSales float64
}

// CustomerBehavior is one row of the customer RFM aggregate, keyed by
// the customer's current dimension version.
type CustomerBehavior struct {
	CustomerKey    int64
	CustomerID     string
	TotalOrders    int64
	TotalSpent     float64
	LastOrderDate  time.Time
	RecencyScore   int
	FrequencyScore int
	MonetaryScore  int
	Segment        string
}

// DateRow is one row of the calendar dimension.
type DateRow struct {
	DateKey   int
	Date      time.Time
	Year      int
	Quarter   int
	Month     int
	MonthName string
	Day       int
	DayOfWeek int
	DayName   string
	IsWeekend bool
}

// BuildDateRange produces one DateRow per calendar day from start
// through end inclusive. DayOfWeek follows time.Weekday (Sunday = 0).
func BuildDateRange(start, end time.Time) []DateRow {
	start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	end = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)

	var rows []DateRow
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		weekday := d.Weekday()
		rows = append(rows, DateRow{
			DateKey:   DateKey(d),
			Date:      d,
			Year:      d.Year(),
			Quarter:   (int(d.Month())-1)/3 + 1,
			Month:     int(d.Month()),
			MonthName: d.Month().String(),
			Day:       d.Day(),
			DayOfWeek: int(weekday),
			DayName:   weekday.String(),
			IsWeekend: weekday == time.Saturday || weekday == time.Sunday,
		})
	}
	return rows
}

// Store is the full warehouse surface: dimension history maintenance,
// point-in-time resolution, fact append, aggregate replacement, and
// metadata.
type Store interface {
	scd.DimensionStore

	// CreateSchema creates all warehouse objects, tolerating objects
	// that already exist.
	CreateSchema(ctx context.Context) error

	// DropSchema removes all warehouse objects and their data.
	DropSchema(ctx context.Context) error

	// ResolveAt returns the version whose validity interval contains
	// businessDate. Dates before the first version resolve to the
	// earliest version. A key with no versions returns ErrNotFound.
	ResolveAt(ctx context.Context, entity scd.EntityType, naturalKey string, businessDate time.Time) (*scd.Version, error)

	// AllVersions returns every version of an entity type, ordered by
	// natural key then version number.
	AllVersions(ctx context.Context, entity scd.EntityType) ([]*scd.Version, error)

	// CurrentVersions returns the current version of every natural
	// key of an entity type, ordered by natural key.
	CurrentVersions(ctx context.Context, entity scd.EntityType) ([]*scd.Version, error)

	// InsertDates seeds the calendar dimension. Existing date keys
	// are left untouched.
	InsertDates(ctx context.Context, rows []DateRow) error

	// InsertFacts appends fact rows, skipping event ids that are
	// already present. Returns the number of rows actually inserted.
	InsertFacts(ctx context.Context, rows []FactRow) (int64, error)

	// Facts returns all fact rows.
	Facts(ctx context.Context) ([]FactRow, error)

	// ReplaceMonthlySales swaps the monthly sales aggregate wholesale.
	ReplaceMonthlySales(ctx context.Context, rows []MonthlySales) error

	// MonthlySales returns the stored monthly sales aggregate ordered
	// by year then month.
	MonthlySales(ctx context.Context) ([]MonthlySales, error)

	// ReplaceCustomerBehavior swaps the customer RFM aggregate
	// wholesale.
	ReplaceCustomerBehavior(ctx context.Context, rows []CustomerBehavior) error

	// CustomerBehavior returns the stored customer RFM aggregate
	// ordered by customer id.
	CustomerBehavior(ctx context.Context) ([]CustomerBehavior, error)

	// SetMetadata upserts one warehouse metadata key.
	SetMetadata(ctx context.Context, key, value string) error

	// GetMetadata reads one warehouse metadata key. A missing key
	// returns an empty string, not an error.
	GetMetadata(ctx context.Context, key string) (string, error)

	// Close releases backend resources.
	Close()
}
