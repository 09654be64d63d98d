//-------------------------------------------------------------------------
//
// Bazaar ETL
//
// Copyright (c) 2025 - 2026, Sialkot Labs
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package aggregate rebuilds the derived rollup tables from fact and
// dimension state. Rollups are destroyed and recomputed wholesale, so
// they always agree with current dimension values.
package aggregate

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sialkot-labs/bazaar-etl/internal/logging"
	"github.com/sialkot-labs/bazaar-etl/internal/scd"
	"github.com/sialkot-labs/bazaar-etl/internal/warehouse"
)

// DefaultPeriods is the moving average window when none is configured.
const DefaultPeriods = 3

// Rebuilder recomputes the aggregate tables from scratch.
type Rebuilder struct {
	store   warehouse.Store
	periods int
	log     zerolog.Logger
}

func NewRebuilder(store warehouse.Store, periods int) *Rebuilder {
	if periods <= 0 {
		periods = DefaultPeriods
	}
	return &Rebuilder{
		store:   store,
		periods: periods,
		log:     logging.Component("aggregate"),
	}
}

// Rebuild replaces both aggregate tables from the fact table and the
// customer dimension history.
func (r *Rebuilder) Rebuild(ctx context.Context) error {
	facts, err := r.store.Facts(ctx)
	if err != nil {
		return fmt.Errorf("failed to read facts: %w", err)
	}
	versions, err := r.store.AllVersions(ctx, scd.EntityCustomer)
	if err != nil {
		return fmt.Errorf("failed to read customer history: %w", err)
	}

	monthly := BuildMonthlySales(facts, versions, r.periods)
	if err := r.store.ReplaceMonthlySales(ctx, monthly); err != nil {
		return fmt.Errorf("failed to replace monthly sales: %w", err)
	}

	behavior := BuildCustomerBehavior(versions, facts)
	if err := r.store.ReplaceCustomerBehavior(ctx, behavior); err != nil {
		return fmt.Errorf("failed to replace customer behavior: %w", err)
	}

	r.log.Info().
		Int("monthly_rows", len(monthly)).
		Int("behavior_rows", len(behavior)).
		Msg("Aggregates rebuilt")
	return nil
}
