// Package etl runs the batch pipeline: extract changed entities, apply
// them to the dimension history, load sale facts, rebuild aggregates.
package etl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sialkot-labs/bazaar-etl/internal/aggregate"
	"github.com/sialkot-labs/bazaar-etl/internal/facts"
	"github.com/sialkot-labs/bazaar-etl/internal/ledger"
	"github.com/sialkot-labs/bazaar-etl/internal/logging"
	"github.com/sialkot-labs/bazaar-etl/internal/scd"
	"github.com/sialkot-labs/bazaar-etl/internal/source"
	"github.com/sialkot-labs/bazaar-etl/internal/warehouse"
)

// Batch modes recorded in the ledger.
const (
	ModeIncremental = "incremental"
	ModeFull        = "full"
)

// Config holds configuration for the batch runner.
type Config struct {
	Source source.ChangeSource
	Store  warehouse.Store
	Ledger *ledger.Ledger

	// Parallelism bounds the number of entity types processed
	// concurrently.
	Parallelism int

	// RetryAttempts bounds version-transition retries per record.
	RetryAttempts int

	// FactBatchSize is the fact insert batch size.
	FactBatchSize int

	// MovingAveragePeriods sizes the monthly moving average window.
	MovingAveragePeriods int

	// FullRefresh ignores stored watermarks and re-extracts everything.
	FullRefresh bool

	// SkipAggregates leaves the aggregate tables untouched.
	SkipAggregates bool
}

// EntitySummary counts the outcomes of one entity type's dimension
// batch.
type EntitySummary struct {
	Extracted int64  `json:"extracted"`
	Inserted  int64  `json:"inserted"`
	Updated   int64  `json:"updated"`
	Versioned int64  `json:"versioned"`
	Noops     int64  `json:"noops"`
	Excluded  int64  `json:"excluded"`
	Failed    int64  `json:"failed"`
	Error     string `json:"error,omitempty"`
}

// FactSummary counts the outcomes of the fact load phase.
type FactSummary struct {
	Scanned     int64  `json:"scanned"`
	Loaded      int64  `json:"loaded"`
	Replayed    int64  `json:"replayed"`
	Quarantined int64  `json:"quarantined"`
	Error       string `json:"error,omitempty"`
}

// AggregateSummary records the outcome of the aggregate rebuild phase.
type AggregateSummary struct {
	Rebuilt bool   `json:"rebuilt"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Summary is the full outcome of one batch run. It is stored as JSON
// in the ledger.
type Summary struct {
	RunID      string                            `json:"run_id"`
	Mode       string                            `json:"mode"`
	Status     string                            `json:"status"`
	StartedAt  time.Time                         `json:"started_at"`
	FinishedAt time.Time                         `json:"finished_at"`
	Entities   map[scd.EntityType]*EntitySummary `json:"entities"`
	Facts      FactSummary                       `json:"facts"`
	Aggregates AggregateSummary                  `json:"aggregates"`
}

// Runner executes ETL batches. Each entity type's dimension batch runs
// as its own job; a failing entity type leaves its watermark alone and
// does not disturb the others.
type Runner struct {
	source         source.ChangeSource
	store          warehouse.Store
	ledger         *ledger.Ledger
	parallelism    int
	retryAttempts  int
	factBatchSize  int
	periods        int
	fullRefresh    bool
	skipAggregates bool
	log            zerolog.Logger
}

// NewRunner creates a batch runner.
func NewRunner(cfg Config) *Runner {
	parallelism := cfg.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}
	return &Runner{
		source:         cfg.Source,
		store:          cfg.Store,
		ledger:         cfg.Ledger,
		parallelism:    parallelism,
		retryAttempts:  cfg.RetryAttempts,
		factBatchSize:  cfg.FactBatchSize,
		periods:        cfg.MovingAveragePeriods,
		fullRefresh:    cfg.FullRefresh,
		skipAggregates: cfg.SkipAggregates,
		log:            logging.Component("etl"),
	}
}

// Run executes one batch and records it in the ledger. Phase failures
// land in the summary and the batch status, not in the returned error;
// the error covers only ledger bookkeeping the run cannot proceed
// without.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	mode := ModeIncremental
	if r.fullRefresh {
		mode = ModeFull
	}

	runID, err := r.ledger.BeginRun(ctx, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to begin batch: %w", err)
	}

	sum := &Summary{
		RunID:     runID,
		Mode:      mode,
		StartedAt: time.Now().UTC(),
		Entities:  make(map[scd.EntityType]*EntitySummary),
	}

	r.log.Info().
		Str("run_id", runID).
		Str("mode", mode).
		Int("parallelism", r.parallelism).
		Msg("Starting batch")

	r.runDimensions(ctx, sum)
	r.runFacts(ctx, runID, sum)
	r.runAggregates(ctx, sum)

	sum.FinishedAt = time.Now().UTC()
	sum.Status = batchStatus(sum)

	if sum.Status == ledger.StatusSucceeded {
		if err := r.store.SetMetadata(ctx, warehouse.MetaKeyLastBatch, sum.FinishedAt.Format(time.RFC3339)); err != nil {
			r.log.Warn().Err(err).Msg("Failed to record last batch in warehouse metadata")
		}
	}

	payload, err := json.Marshal(sum)
	if err != nil {
		return sum, fmt.Errorf("failed to encode batch summary: %w", err)
	}
	if err := r.ledger.CompleteRun(ctx, runID, sum.Status, string(payload)); err != nil {
		return sum, fmt.Errorf("failed to record batch completion: %w", err)
	}

	r.log.Info().
		Str("run_id", runID).
		Str("status", sum.Status).
		Dur("duration", sum.FinishedAt.Sub(sum.StartedAt)).
		Int64("facts_loaded", sum.Facts.Loaded).
		Int64("quarantined", sum.Facts.Quarantined).
		Msg("Batch finished")
	return sum, nil
}

// runDimensions processes every entity type under a bounded group.
// Workers never return errors to the group: a failed entity type is
// recorded in the summary so its siblings keep running.
func (r *Runner) runDimensions(ctx context.Context, sum *Summary) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)

	var mu sync.Mutex
	for _, entity := range r.source.EntityTypes() {
		g.Go(func() error {
			es, err := r.runEntity(gctx, entity)
			if err != nil {
				es.Error = err.Error()
				r.log.Error().
					Err(err).
					Str("entity", string(entity)).
					Msg("Dimension batch failed; watermark left unadvanced")
			}
			mu.Lock()
			sum.Entities[entity] = es
			mu.Unlock()
			return nil
		})
	}

	// Worker errors stay in the summary, so Wait only joins.
	_ = g.Wait()
}

// runEntity extracts and applies one entity type's changes. The
// watermark advances to the latest observed timestamp only when every
// record was applied or deliberately excluded.
func (r *Runner) runEntity(ctx context.Context, entity scd.EntityType) (*EntitySummary, error) {
	es := &EntitySummary{}

	spec, err := scd.SpecFor(entity)
	if err != nil {
		return es, err
	}

	var since time.Time
	if !r.fullRefresh {
		since, err = r.ledger.Watermark(ctx, string(entity))
		if err != nil {
			return es, fmt.Errorf("failed to read %s watermark: %w", entity, err)
		}
	}

	records, err := r.extractChanges(ctx, entity, since)
	es.Extracted = int64(len(records))
	if err != nil {
		return es, err
	}

	applier := scd.NewApplier(r.store, r.retryAttempts)
	var maxObserved time.Time

	for _, group := range groupByKey(records) {
		for _, rec := range group {
			action, err := applier.ApplyRecord(ctx, spec, rec)
			switch {
			case err == nil:
				es.count(action)
			case isExcludable(err):
				es.Excluded++
				r.log.Warn().
					Err(err).
					Str("entity", string(entity)).
					Str("natural_key", rec.NaturalKey).
					Msg("Excluding change record")
			default:
				es.Failed++
				return es, fmt.Errorf("failed to apply %s %s: %w", entity, rec.NaturalKey, err)
			}
			if rec.ObservedAt.After(maxObserved) {
				maxObserved = rec.ObservedAt
			}
		}
	}

	if !maxObserved.IsZero() {
		if err := r.ledger.SetWatermark(ctx, string(entity), maxObserved); err != nil {
			return es, fmt.Errorf("failed to advance %s watermark: %w", entity, err)
		}
	}

	r.log.Info().
		Str("entity", string(entity)).
		Int64("extracted", es.Extracted).
		Int64("inserted", es.Inserted).
		Int64("updated", es.Updated).
		Int64("versioned", es.Versioned).
		Int64("noops", es.Noops).
		Int64("excluded", es.Excluded).
		Msg("Dimension batch complete")
	return es, nil
}

// extractChanges drains the change stream for one entity type.
func (r *Runner) extractChanges(ctx context.Context, entity scd.EntityType, since time.Time) ([]scd.ChangeRecord, error) {
	it, err := r.source.Changes(ctx, entity, since)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var records []scd.ChangeRecord
	for it.Next() {
		records = append(records, it.Record())
	}
	if err := it.Err(); err != nil {
		return records, err
	}
	return records, nil
}

// runFacts loads sale events observed since the fact watermark,
// persists any quarantined events, and advances the watermark on
// success.
func (r *Runner) runFacts(ctx context.Context, runID string, sum *Summary) {
	var since time.Time
	if !r.fullRefresh {
		wm, err := r.ledger.Watermark(ctx, ledger.FactStream)
		if err != nil {
			sum.Facts.Error = err.Error()
			r.log.Error().Err(err).Msg("Fact load failed")
			return
		}
		since = wm
	}

	events, err := r.source.Events(ctx, since)
	if err != nil {
		sum.Facts.Error = err.Error()
		r.log.Error().Err(err).Msg("Fact load failed")
		return
	}
	defer events.Close()

	res, err := facts.NewLoader(r.store, r.factBatchSize).Load(ctx, events)
	if err != nil {
		sum.Facts.Error = err.Error()
		r.log.Error().Err(err).Msg("Fact load failed")
		return
	}

	sum.Facts.Scanned = res.Scanned
	sum.Facts.Loaded = res.Loaded
	sum.Facts.Replayed = res.Replayed
	sum.Facts.Quarantined = int64(len(res.Quarantined))

	if err := r.ledger.AddQuarantined(ctx, runID, quarantineRows(res.Quarantined)); err != nil {
		sum.Facts.Error = fmt.Sprintf("failed to record quarantined events: %v", err)
		r.log.Error().Err(err).Msg("Fact load failed")
		return
	}

	if !res.MaxObserved.IsZero() {
		if err := r.ledger.SetWatermark(ctx, ledger.FactStream, res.MaxObserved); err != nil {
			sum.Facts.Error = fmt.Sprintf("failed to advance fact watermark: %v", err)
			r.log.Error().Err(err).Msg("Fact load failed")
		}
	}
}

// runAggregates rebuilds the aggregate tables. Failure is tolerated:
// the previous aggregates stay visible behind a staleness marker until
// the next successful rebuild.
func (r *Runner) runAggregates(ctx context.Context, sum *Summary) {
	if r.skipAggregates {
		sum.Aggregates.Skipped = true
		return
	}

	err := aggregate.NewRebuilder(r.store, r.periods).Rebuild(ctx)
	if err != nil {
		sum.Aggregates.Error = err.Error()
		r.log.Warn().Err(err).Msg("Aggregate rebuild failed; previous aggregates remain visible")
		if merr := r.store.SetMetadata(ctx, warehouse.MetaKeyAggregatesStale, time.Now().UTC().Format(time.RFC3339)); merr != nil {
			r.log.Error().Err(merr).Msg("Failed to set aggregate staleness marker")
		}
		return
	}

	sum.Aggregates.Rebuilt = true
	if err := r.store.SetMetadata(ctx, warehouse.MetaKeyAggregatesStale, ""); err != nil {
		r.log.Error().Err(err).Msg("Failed to clear aggregate staleness marker")
	}
}

func (es *EntitySummary) count(action scd.Action) {
	switch action {
	case scd.ActionInsert:
		es.Inserted++
	case scd.ActionInPlaceUpdate:
		es.Updated++
	case scd.ActionNewVersion:
		es.Versioned++
	case scd.ActionNoop:
		es.Noops++
	}
}

// isExcludable reports whether an apply error condemns only the record
// itself. Such records are skipped and surfaced; anything else aborts
// the entity type's batch.
func isExcludable(err error) bool {
	var amb *scd.AmbiguityError
	return errors.As(err, &amb) || errors.Is(err, scd.ErrStaleRecord)
}

// groupByKey splits records into per-key groups ordered by business
// date, oldest first, with key order deterministic across runs.
func groupByKey(records []scd.ChangeRecord) [][]scd.ChangeRecord {
	byKey := make(map[string][]scd.ChangeRecord)
	for _, rec := range records {
		byKey[rec.NaturalKey] = append(byKey[rec.NaturalKey], rec)
	}

	keys := make([]string, 0, len(byKey))
	for key := range byKey {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	groups := make([][]scd.ChangeRecord, 0, len(byKey))
	for _, key := range keys {
		group := byKey[key]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].BusinessDate.Before(group[j].BusinessDate)
		})
		groups = append(groups, group)
	}
	return groups
}

// batchStatus derives the overall status from the phase outcomes.
func batchStatus(sum *Summary) string {
	failed, phases := 0, 0
	for _, es := range sum.Entities {
		phases++
		if es.Error != "" {
			failed++
		}
	}
	phases++
	if sum.Facts.Error != "" {
		failed++
	}
	if !sum.Aggregates.Skipped {
		phases++
		if sum.Aggregates.Error != "" {
			failed++
		}
	}

	switch {
	case failed == 0:
		return ledger.StatusSucceeded
	case failed == phases:
		return ledger.StatusFailed
	default:
		return ledger.StatusPartial
	}
}

// quarantineRows converts loader quarantine results to ledger rows.
func quarantineRows(events []facts.QuarantinedEvent) []ledger.QuarantineRow {
	rows := make([]ledger.QuarantineRow, 0, len(events))
	for _, q := range events {
		rows = append(rows, ledger.QuarantineRow{
			EventID:      q.Event.EventID,
			OrderID:      q.Event.OrderID,
			BusinessDate: q.Event.BusinessDate,
			Reason:       q.Reason,
		})
	}
	return rows
}
