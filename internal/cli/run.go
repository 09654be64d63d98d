package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sialkot-labs/bazaar-etl/internal/etl"
	"github.com/sialkot-labs/bazaar-etl/internal/ledger"
	"github.com/sialkot-labs/bazaar-etl/internal/logging"
	"github.com/sialkot-labs/bazaar-etl/internal/scd"
	"github.com/sialkot-labs/bazaar-etl/internal/source"
	"github.com/sialkot-labs/bazaar-etl/internal/warehouse/postgres"
)

var (
	runFull           bool
	runParallelism    int
	runSkipAggregates bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one ETL batch",
	Long: `Execute one ETL batch: extract entities changed since the stored
watermarks, apply them to the slowly changing dimensions, load new sale
facts, and rebuild the reporting aggregates. Each entity type runs as
its own job; a failing entity type keeps its watermark and does not
disturb the others.

With --full the stored watermarks are ignored and the whole operational
store is re-extracted. Idempotent apply and load paths make this safe
on a warehouse that already holds data.

Example:
  bazaar-etl run
  bazaar-etl run --full --parallelism 2 --skip-aggregates`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runFull, "full", false,
		"ignore watermarks and re-extract everything")
	runCmd.Flags().IntVar(&runParallelism, "parallelism", 0,
		"maximum entity types processed concurrently")
	runCmd.Flags().BoolVar(&runSkipAggregates, "skip-aggregates", false,
		"leave the aggregate tables untouched")
}

func runRun(cmd *cobra.Command, args []string) error {
	// Override config with CLI flags
	if runFull {
		cfg.Batch.FullRefresh = true
	}
	if runParallelism > 0 {
		cfg.Batch.Parallelism = runParallelism
	}
	if runSkipAggregates {
		cfg.Batch.SkipAggregates = true
	}

	// Validate configuration
	if err := cfg.ValidateRun(); err != nil {
		return err
	}

	mode := etl.ModeIncremental
	if cfg.Batch.FullRefresh {
		mode = etl.ModeFull
	}

	ctx := context.Background()
	src, err := source.Open(ctx, cfg.Source.Name, cfg.Source.Connection)
	if err != nil {
		return err
	}
	defer src.Close()

	store, err := postgres.Open(ctx, cfg.Warehouse.Connection)
	if err != nil {
		return fmt.Errorf("failed to connect to warehouse: %w", err)
	}
	defer store.Close()

	led, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return fmt.Errorf("failed to open batch ledger: %w", err)
	}
	defer led.Close()

	logging.Info().
		Str("source", src.Name()).
		Str("mode", mode).
		Int("parallelism", cfg.Batch.Parallelism).
		Msg("Starting ETL batch")

	// Set up context with cancellation
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logging.Info().
			Str("signal", sig.String()).
			Msg("Received shutdown signal")
		cancel()
	}()

	runner := etl.NewRunner(etl.Config{
		Source:               src,
		Store:                store,
		Ledger:               led,
		Parallelism:          cfg.Batch.Parallelism,
		RetryAttempts:        cfg.Batch.RetryAttempts,
		FactBatchSize:        cfg.Batch.FactBatchSize,
		MovingAveragePeriods: cfg.Aggregates.MovingAveragePeriods,
		FullRefresh:          cfg.Batch.FullRefresh,
		SkipAggregates:       cfg.Batch.SkipAggregates,
	})

	sum, err := runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("batch aborted: %w", err)
	}

	printSummary(cmd, sum)

	if sum.Status == ledger.StatusFailed {
		return fmt.Errorf("batch %s failed", sum.RunID)
	}
	return nil
}

func printSummary(cmd *cobra.Command, sum *etl.Summary) {
	elapsed := sum.FinishedAt.Sub(sum.StartedAt).Round(time.Millisecond)
	cmd.Printf("Batch %s (%s): %s in %s\n", sum.RunID, sum.Mode, sum.Status, elapsed)

	for _, entity := range scd.EntityTypes() {
		es := sum.Entities[entity]
		if es == nil {
			continue
		}
		cmd.Printf("  %-10s extracted=%d inserted=%d updated=%d versioned=%d noops=%d excluded=%d failed=%d\n",
			entity, es.Extracted, es.Inserted, es.Updated, es.Versioned,
			es.Noops, es.Excluded, es.Failed)
		if es.Error != "" {
			cmd.Printf("  %-10s error: %s\n", "", es.Error)
		}
	}

	cmd.Printf("  %-10s scanned=%d loaded=%d replayed=%d quarantined=%d\n",
		"facts", sum.Facts.Scanned, sum.Facts.Loaded, sum.Facts.Replayed,
		sum.Facts.Quarantined)
	if sum.Facts.Error != "" {
		cmd.Printf("  %-10s error: %s\n", "", sum.Facts.Error)
	}

	switch {
	case sum.Aggregates.Skipped:
		cmd.Printf("  %-10s skipped\n", "aggregates")
	case sum.Aggregates.Error != "":
		cmd.Printf("  %-10s failed, marked stale: %s\n", "aggregates", sum.Aggregates.Error)
	case sum.Aggregates.Rebuilt:
		cmd.Printf("  %-10s rebuilt\n", "aggregates")
	}
}
