package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sialkot-labs/bazaar-etl/internal/logging"
	"github.com/sialkot-labs/bazaar-etl/internal/warehouse"
	"github.com/sialkot-labs/bazaar-etl/internal/warehouse/postgres"
)

var initDropExisting bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the warehouse schema and calendar",
	Long: `Initialize the warehouse database: create the dimension, fact and
aggregate tables, seed the date dimension for the configured calendar
range, and record tool metadata. Safe to re-run; existing tables and
calendar rows are left in place unless --drop-existing is given.

Example:
  bazaar-etl init --warehouse-connection "postgres://..." --drop-existing`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initDropExisting, "drop-existing", false,
		"drop existing warehouse tables before initialization")
}

func runInit(cmd *cobra.Command, args []string) error {
	// Override config with CLI flags
	if initDropExisting {
		cfg.Warehouse.DropExisting = true
	}

	// Validate configuration
	if err := cfg.ValidateInit(); err != nil {
		return err
	}

	// Validated by ValidateInit
	dateStart, _ := time.Parse("2006-01-02", cfg.Warehouse.DateStart)
	dateEnd, _ := time.Parse("2006-01-02", cfg.Warehouse.DateEnd)

	logging.Info().
		Str("date_start", cfg.Warehouse.DateStart).
		Str("date_end", cfg.Warehouse.DateEnd).
		Msg("Initializing warehouse")

	ctx := context.Background()
	store, err := postgres.Open(ctx, cfg.Warehouse.Connection)
	if err != nil {
		return fmt.Errorf("failed to connect to warehouse: %w", err)
	}
	defer store.Close()

	if cfg.Warehouse.DropExisting {
		logging.Info().Msg("Dropping existing warehouse tables")
		if err := store.DropSchema(ctx); err != nil {
			return fmt.Errorf("failed to drop schema: %w", err)
		}
	}

	if err := store.CreateSchema(ctx); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	dates := warehouse.BuildDateRange(dateStart, dateEnd)
	if err := store.InsertDates(ctx, dates); err != nil {
		return fmt.Errorf("failed to seed date dimension: %w", err)
	}

	meta := map[string]string{
		warehouse.MetaKeyTool:          warehouse.ToolName,
		warehouse.MetaKeySchemaVersion: warehouse.SchemaVersion,
		warehouse.MetaKeyInitializedAt: time.Now().UTC().Format(time.RFC3339),
	}
	for key, value := range meta {
		if err := store.SetMetadata(ctx, key, value); err != nil {
			return fmt.Errorf("failed to write warehouse metadata: %w", err)
		}
	}

	logging.Info().
		Int("calendar_days", len(dates)).
		Msg("Warehouse initialized")
	return nil
}
