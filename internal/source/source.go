// Package source defines the change source interface and implementations.
package source

import (
	"context"
	"fmt"
	"time"

	"github.com/sialkot-labs/bazaar-etl/internal/scd"
)

// ExtractionError reports a failure reading operational data. It
// aborts the affected entity type's batch without touching siblings.
type ExtractionError struct {
	// Source is the change source name.
	Source string

	// Entity is the affected entity type, or empty for the sale
	// event stream.
	Entity scd.EntityType

	Err error
}

func (e *ExtractionError) Error() string {
	if e.Entity == "" {
		return fmt.Sprintf("source %s: event extraction failed: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("source %s: %s extraction failed: %v", e.Source, e.Entity, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// SaleEvent is one immutable sale line from the operational store.
// Dimension references are natural keys; the fact loader resolves
// them to surrogate keys.
type SaleEvent struct {
	// EventID uniquely identifies the line as "<order_id>:<line_no>".
	EventID string

	OrderID      string
	BusinessDate time.Time
	ObservedAt   time.Time

	CustomerID string
	ProductID  string
	StoreCode  string
	EmployeeID string

	Quantity    int
	UnitPrice   float64
	DiscountPct float64
	LineAmount  float64
}

// ChangeIterator streams change records lazily, in the style of
// database result sets.
type ChangeIterator interface {
	// Next advances to the next record, returning false at the end of
	// the stream or on error.
	Next() bool

	// Record returns the record at the current position.
	Record() scd.ChangeRecord

	// Err returns the error that stopped iteration, if any.
	Err() error

	// Close releases the iterator's resources. Safe to call twice.
	Close()
}

// EventIterator streams sale events lazily.
type EventIterator interface {
	Next() bool
	Event() SaleEvent
	Err() error
	Close()
}

// ChangeSource provides operational entity changes and sale events to
// the ETL pipeline. Reads have no side effects on the source.
type ChangeSource interface {
	// Name returns the source name.
	Name() string

	// Description returns a human-readable description.
	Description() string

	// EntityTypes returns the entity types this source produces.
	EntityTypes() []scd.EntityType

	// Changes streams the current state of entities changed since the
	// watermark, one record per entity. A zero since streams every
	// entity.
	Changes(ctx context.Context, entity scd.EntityType, since time.Time) (ChangeIterator, error)

	// Events streams sale events observed since the watermark. A zero
	// since streams every event.
	Events(ctx context.Context, since time.Time) (EventIterator, error)

	// Close releases the source's resources.
	Close()
}

// SeedConfig sizes the demo operational data set.
type SeedConfig struct {
	Customers int
	Products  int
	Stores    int
	Employees int
	Orders    int

	// Days is the span of order history ending today.
	Days int

	// RandomSeed makes generation reproducible when non-zero.
	RandomSeed int64
}

// Seeder is implemented by sources that can populate and randomly
// evolve a demo operational store.
type Seeder interface {
	// Seed creates the operational schema and populates it.
	Seed(ctx context.Context, cfg SeedConfig) error

	// Mutate applies n random operational changes to exercise the
	// dimension change paths.
	Mutate(ctx context.Context, n int) error
}
