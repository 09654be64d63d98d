//-------------------------------------------------------------------------
//
// Bazaar ETL
//
// Copyright (c) 2025 - 2026, Sialkot Labs
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package facts resolves sale events against dimension history and
// appends them to the fact table.
package facts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sialkot-labs/bazaar-etl/internal/logging"
	"github.com/sialkot-labs/bazaar-etl/internal/scd"
	"github.com/sialkot-labs/bazaar-etl/internal/source"
	"github.com/sialkot-labs/bazaar-etl/internal/warehouse"
)

const defaultBatchSize = 500

// IntegrityError reports a sale event referencing a natural key with
// no dimension version at any date.
type IntegrityError struct {
	Entity     scd.EntityType
	NaturalKey string
	EventID    string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("event %s references %s %q with no dimension version",
		e.EventID, e.Entity, e.NaturalKey)
}

// QuarantinedEvent pairs a rejected event with the reason it was
// rejected.
type QuarantinedEvent struct {
	Event  source.SaleEvent
	Reason string
}

// Result summarizes one fact load.
type Result struct {
	Scanned     int64
	Loaded      int64
	Replayed    int64
	Quarantined []QuarantinedEvent

	// MaxObserved is the latest ObservedAt seen on the stream,
	// quarantined events included. It advances the fact watermark.
	MaxObserved time.Time
}

// Loader appends resolved sale events to the fact table in batches.
type Loader struct {
	store     warehouse.Store
	batchSize int
	log       zerolog.Logger
}

func NewLoader(store warehouse.Store, batchSize int) *Loader {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Loader{
		store:     store,
		batchSize: batchSize,
		log:       logging.Component("facts"),
	}
}

// Load drains the event stream. Events referencing unknown natural
// keys are quarantined and the load continues. Replays of event ids
// already in the fact table are counted and skipped.
func (l *Loader) Load(ctx context.Context, events source.EventIterator) (*Result, error) {
	res := &Result{}
	batch := make([]warehouse.FactRow, 0, l.batchSize)
	var minDate, maxDate time.Time

	for events.Next() {
		ev := events.Event()
		res.Scanned++
		if ev.ObservedAt.After(res.MaxObserved) {
			res.MaxObserved = ev.ObservedAt
		}

		row, err := l.resolve(ctx, ev)
		if err != nil {
			var integrity *IntegrityError
			if errors.As(err, &integrity) {
				res.Quarantined = append(res.Quarantined, QuarantinedEvent{
					Event:  ev,
					Reason: integrity.Error(),
				})
				l.log.Warn().
					Str("event_id", ev.EventID).
					Str("entity", string(integrity.Entity)).
					Str("natural_key", integrity.NaturalKey).
					Msg("Quarantined event with unresolvable dimension")
				continue
			}
			return nil, err
		}

		if minDate.IsZero() || row.BusinessDate.Before(minDate) {
			minDate = row.BusinessDate
		}
		if row.BusinessDate.After(maxDate) {
			maxDate = row.BusinessDate
		}

		batch = append(batch, row)
		if len(batch) >= l.batchSize {
			if err := l.flush(ctx, batch, res); err != nil {
				return nil, err
			}
			batch = batch[:0]
		}
	}
	if err := events.Err(); err != nil {
		return nil, fmt.Errorf("event stream failed: %w", err)
	}
	if err := l.flush(ctx, batch, res); err != nil {
		return nil, err
	}

	if !minDate.IsZero() {
		if err := l.store.InsertDates(ctx, warehouse.BuildDateRange(minDate, maxDate)); err != nil {
			return nil, fmt.Errorf("failed to extend calendar dimension: %w", err)
		}
	}

	l.log.Info().
		Int64("scanned", res.Scanned).
		Int64("loaded", res.Loaded).
		Int64("replayed", res.Replayed).
		Int("quarantined", len(res.Quarantined)).
		Msg("Fact load complete")
	return res, nil
}

func (l *Loader) flush(ctx context.Context, rows []warehouse.FactRow, res *Result) error {
	if len(rows) == 0 {
		return nil
	}
	inserted, err := l.store.InsertFacts(ctx, rows)
	if err != nil {
		return fmt.Errorf("failed to insert facts: %w", err)
	}
	res.Loaded += inserted
	res.Replayed += int64(len(rows)) - inserted
	return nil
}

// resolve maps every dimension reference to the surrogate key valid at
// the event's business date.
func (l *Loader) resolve(ctx context.Context, ev source.SaleEvent) (warehouse.FactRow, error) {
	row := warehouse.FactRow{
		EventID:      ev.EventID,
		OrderID:      ev.OrderID,
		DateKey:      warehouse.DateKey(ev.BusinessDate),
		BusinessDate: ev.BusinessDate,
		Quantity:     ev.Quantity,
		UnitPrice:    ev.UnitPrice,
		DiscountPct:  ev.DiscountPct,
		LineAmount:   ev.LineAmount,
	}

	refs := []struct {
		entity scd.EntityType
		key    string
		dest   *int64
	}{
		{scd.EntityCustomer, ev.CustomerID, &row.CustomerKey},
		{scd.EntityProduct, ev.ProductID, &row.ProductKey},
		{scd.EntityStore, ev.StoreCode, &row.StoreKey},
		{scd.EntityEmployee, ev.EmployeeID, &row.EmployeeKey},
	}
	for _, ref := range refs {
		version, err := l.store.ResolveAt(ctx, ref.entity, ref.key, ev.BusinessDate)
		if err != nil {
			if errors.Is(err, warehouse.ErrNotFound) {
				return warehouse.FactRow{}, &IntegrityError{
					Entity:     ref.entity,
					NaturalKey: ref.key,
					EventID:    ev.EventID,
				}
			}
			return warehouse.FactRow{}, fmt.Errorf("failed to resolve %s %q: %w", ref.entity, ref.key, err)
		}
		*ref.dest = version.SurrogateKey
	}
	return row, nil
}
