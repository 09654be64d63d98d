package cli

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/sialkot-labs/bazaar-etl/internal/db"
	"github.com/sialkot-labs/bazaar-etl/internal/ledger"
	"github.com/sialkot-labs/bazaar-etl/internal/logging"
	"github.com/sialkot-labs/bazaar-etl/internal/warehouse"
	"github.com/sialkot-labs/bazaar-etl/internal/warehouse/postgres"
)

const quarantineListLimit = 50

var (
	statusLimit      int
	statusQuarantine bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent batches, watermarks and quarantine",
	Long: `Show the state of the pipeline: recent batch runs from the ledger,
per-entity watermarks, the quarantine backlog, and warehouse metadata
when the warehouse is reachable.

Example:
  bazaar-etl status --limit 10 --quarantine`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 5,
		"number of recent batches to show")
	statusCmd.Flags().BoolVar(&statusQuarantine, "quarantine", false,
		"list quarantined sale events")
}

func runStatus(cmd *cobra.Command, args []string) error {
	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := context.Background()
	led, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return fmt.Errorf("failed to open batch ledger: %w", err)
	}
	defer led.Close()

	if err := printRuns(ctx, cmd, led); err != nil {
		return err
	}
	if err := printWatermarks(ctx, cmd, led); err != nil {
		return err
	}
	if err := printQuarantine(ctx, cmd, led); err != nil {
		return err
	}

	if cfg.Warehouse.Connection != "" {
		printWarehouse(ctx, cmd)
	}
	return nil
}

func printRuns(ctx context.Context, cmd *cobra.Command, led *ledger.Ledger) error {
	runs, err := led.Runs(ctx, statusLimit)
	if err != nil {
		return fmt.Errorf("failed to read batch runs: %w", err)
	}

	cmd.Println("Recent batches:")
	if len(runs) == 0 {
		cmd.Println("  none recorded")
		return nil
	}
	for _, run := range runs {
		line := fmt.Sprintf("  %s  %-11s  %-9s  started %s",
			run.ID, run.Mode, run.Status,
			run.StartedAt.Format(time.RFC3339))
		if run.FinishedAt != nil {
			line += fmt.Sprintf("  took %s",
				run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
		}
		cmd.Println(line)
	}
	return nil
}

func printWatermarks(ctx context.Context, cmd *cobra.Command, led *ledger.Ledger) error {
	watermarks, err := led.Watermarks(ctx)
	if err != nil {
		return fmt.Errorf("failed to read watermarks: %w", err)
	}

	cmd.Println()
	cmd.Println("Watermarks:")
	if len(watermarks) == 0 {
		cmd.Println("  none; the next batch extracts everything")
		return nil
	}
	names := make([]string, 0, len(watermarks))
	for name := range watermarks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cmd.Printf("  %-10s %s\n", name, watermarks[name].Format(time.RFC3339))
	}
	return nil
}

func printQuarantine(ctx context.Context, cmd *cobra.Command, led *ledger.Ledger) error {
	count, err := led.QuarantineCount(ctx)
	if err != nil {
		return fmt.Errorf("failed to read quarantine: %w", err)
	}

	cmd.Println()
	cmd.Printf("Quarantine: %d events held\n", count)
	if !statusQuarantine || count == 0 {
		return nil
	}

	rows, err := led.Quarantined(ctx, quarantineListLimit)
	if err != nil {
		return fmt.Errorf("failed to list quarantine: %w", err)
	}
	for _, row := range rows {
		cmd.Printf("  %-12s %s  %s\n",
			row.EventID, row.BusinessDate.Format("2006-01-02"), row.Reason)
	}
	if count > int64(len(rows)) {
		cmd.Printf("  ... and %d more\n", count-int64(len(rows)))
	}
	return nil
}

// printWarehouse reports warehouse metadata. The ledger already told
// the main story, so an unreachable warehouse only logs a warning.
func printWarehouse(ctx context.Context, cmd *cobra.Command) {
	conn, err := db.ConnectSingle(ctx, cfg.Warehouse.Connection, "status")
	if err != nil {
		logging.Warn().Err(err).Msg("Warehouse unreachable")
		return
	}
	defer conn.Close(ctx)

	cmd.Println()
	tool, err := postgres.ReadMetadata(ctx, conn, warehouse.MetaKeyTool)
	if err != nil || tool == "" {
		cmd.Println("Warehouse: not initialized (run 'bazaar-etl init')")
		return
	}

	schemaVersion, _ := postgres.ReadMetadata(ctx, conn, warehouse.MetaKeySchemaVersion)
	initializedAt, _ := postgres.ReadMetadata(ctx, conn, warehouse.MetaKeyInitializedAt)
	lastBatch, _ := postgres.ReadMetadata(ctx, conn, warehouse.MetaKeyLastBatch)
	stale, _ := postgres.ReadMetadata(ctx, conn, warehouse.MetaKeyAggregatesStale)

	cmd.Printf("Warehouse: %s schema v%s, initialized %s\n",
		tool, schemaVersion, initializedAt)
	if lastBatch != "" {
		cmd.Printf("  last successful batch %s\n", lastBatch)
	}
	if stale != "" {
		cmd.Printf("  aggregates STALE since %s\n", stale)
	}
}
