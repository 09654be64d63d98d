//-------------------------------------------------------------------------
//
// Bazaar ETL
//
// Copyright (c) 2025 - 2026, Sialkot Labs
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package scd

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sialkot-labs/bazaar-etl/internal/logging"
)

// DimensionStore is the storage surface the applier writes through.
// Implementations serialize writes per natural key; they never need a
// store-wide lock.
type DimensionStore interface {
	// CurrentVersion returns the current version for a natural key,
	// or nil when the key has no versions yet.
	CurrentVersion(ctx context.Context, entity EntityType, naturalKey string) (*Version, error)

	// InsertVersion stores a first version row and assigns its
	// surrogate key. Returns ErrTransitionConflict if the key gained
	// a current version concurrently.
	InsertVersion(ctx context.Context, v *Version) error

	// UpdateInPlace rewrites attribute values on prior without
	// touching its validity interval. Shifted values land in the
	// previous-value slots. Returns ErrTransitionConflict if prior is
	// no longer the current version.
	UpdateInPlace(ctx context.Context, prior *Version, changed, shifts map[string]string) error

	// Transition atomically closes prior at next.EffectiveFrom and
	// inserts next as the new current version. Returns
	// ErrTransitionConflict if prior is no longer the current version.
	Transition(ctx context.Context, prior, next *Version) error
}

// Applier executes classified change records against a dimension
// store, retrying transitions that lose a per-key race.
type Applier struct {
	store    DimensionStore
	attempts int
	log      zerolog.Logger
}

// NewApplier creates an applier. retryAttempts is the total number of
// classify-and-apply attempts per record, minimum 1.
func NewApplier(store DimensionStore, retryAttempts int) *Applier {
	if retryAttempts < 1 {
		retryAttempts = 1
	}
	return &Applier{
		store:    store,
		attempts: retryAttempts,
		log:      logging.Component("scd"),
	}
}

// ApplyRecord classifies one change record against the key's current
// version and executes the result. Each retry re-reads the current
// version and classifies again, so a lost race never applies a plan
// computed against outdated history. The returned action is the one
// that was actually performed.
//
// Classification errors (AmbiguityError, ErrStaleRecord) are returned
// as is; they are record problems, not races, and retrying cannot fix
// them.
func (a *Applier) ApplyRecord(ctx context.Context, spec *DimensionSpec, rec ChangeRecord) (Action, error) {
	var lastErr error
	for attempt := 1; attempt <= a.attempts; attempt++ {
		current, err := a.store.CurrentVersion(ctx, rec.Entity, rec.NaturalKey)
		if err != nil {
			return "", fmt.Errorf("failed to read current version for %s %s: %w", rec.Entity, rec.NaturalKey, err)
		}

		ins, err := Classify(rec, current, spec)
		if err != nil {
			return "", err
		}

		err = applyFuncs[ins.Action](ctx, a.store, ins)
		if err == nil {
			return ins.Action, nil
		}
		if !errors.Is(err, ErrTransitionConflict) {
			return "", err
		}

		lastErr = err
		a.log.Warn().
			Str("entity", string(rec.Entity)).
			Str("natural_key", rec.NaturalKey).
			Int("attempt", attempt).
			Msg("Retrying after transition conflict")
	}
	return "", fmt.Errorf("gave up on %s %s after %d attempts: %w", rec.Entity, rec.NaturalKey, a.attempts, lastErr)
}

type applyFunc func(ctx context.Context, store DimensionStore, ins Instruction) error

// applyFuncs dispatches each classified action to its storage
// operation.
var applyFuncs = map[Action]applyFunc{
	ActionInsert:        applyInsert,
	ActionNoop:          applyNoop,
	ActionInPlaceUpdate: applyInPlaceUpdate,
	ActionNewVersion:    applyNewVersion,
}

func applyInsert(ctx context.Context, store DimensionStore, ins Instruction) error {
	return store.InsertVersion(ctx, &Version{
		Entity:        ins.Record.Entity,
		NaturalKey:    ins.Record.NaturalKey,
		Attributes:    ins.Snapshot,
		EffectiveFrom: ins.Record.BusinessDate,
		IsCurrent:     true,
		VersionNumber: 1,
	})
}

func applyNoop(_ context.Context, _ DimensionStore, _ Instruction) error {
	return nil
}

func applyInPlaceUpdate(ctx context.Context, store DimensionStore, ins Instruction) error {
	return store.UpdateInPlace(ctx, ins.Prior, ins.Changed, ins.Shifts)
}

func applyNewVersion(ctx context.Context, store DimensionStore, ins Instruction) error {
	return store.Transition(ctx, ins.Prior, &Version{
		Entity:        ins.Record.Entity,
		NaturalKey:    ins.Record.NaturalKey,
		Attributes:    ins.Snapshot,
		PrevValues:    ins.PrevValues,
		EffectiveFrom: ins.Record.BusinessDate,
		IsCurrent:     true,
		VersionNumber: ins.Prior.VersionNumber + 1,
	})
}
