package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sialkot-labs/bazaar-etl/internal/logging"
	"github.com/sialkot-labs/bazaar-etl/internal/source"
)

var (
	seedCustomers  int
	seedProducts   int
	seedStores     int
	seedEmployees  int
	seedOrders     int
	seedDays       int
	seedRandomSeed int64

	mutateChanges int
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Populate the demo operational store",
	Long: `Create the operational schema on the configured change source and
populate it with synthetic retail data: customers, products, stores,
employees and order history spread over the configured number of days.

Example:
  bazaar-etl seed --customers 1000 --orders 5000 --days 365 --seed 42`,
	RunE: runSeed,
}

var mutateCmd = &cobra.Command{
	Use:   "mutate",
	Short: "Apply random changes to the demo operational store",
	Long: `Apply random operational changes to a seeded demo store: customer
segment shifts and moves, product price changes, store manager changes,
employee transfers and promotions, plus a few fresh orders. Run it
between ETL batches to exercise the dimension change paths.

Example:
  bazaar-etl mutate --changes 50`,
	RunE: runMutate,
}

func init() {
	seedCmd.Flags().IntVar(&seedCustomers, "customers", 0,
		"number of customers to generate")
	seedCmd.Flags().IntVar(&seedProducts, "products", 0,
		"number of products to generate")
	seedCmd.Flags().IntVar(&seedStores, "stores", 0,
		"number of stores to generate")
	seedCmd.Flags().IntVar(&seedEmployees, "employees", 0,
		"number of employees to generate")
	seedCmd.Flags().IntVar(&seedOrders, "orders", 0,
		"number of orders to generate")
	seedCmd.Flags().IntVar(&seedDays, "days", 0,
		"span of order history in days, ending today")
	seedCmd.Flags().Int64Var(&seedRandomSeed, "seed", 0,
		"random seed for reproducible data (0 = random)")

	mutateCmd.Flags().IntVar(&mutateChanges, "changes", 25,
		"number of random changes to apply")
}

func runSeed(cmd *cobra.Command, args []string) error {
	// Override config with CLI flags
	if seedCustomers > 0 {
		cfg.Seed.Customers = seedCustomers
	}
	if seedProducts > 0 {
		cfg.Seed.Products = seedProducts
	}
	if seedStores > 0 {
		cfg.Seed.Stores = seedStores
	}
	if seedEmployees > 0 {
		cfg.Seed.Employees = seedEmployees
	}
	if seedOrders > 0 {
		cfg.Seed.Orders = seedOrders
	}
	if seedDays > 0 {
		cfg.Seed.Days = seedDays
	}
	if seedRandomSeed != 0 {
		cfg.Seed.RandomSeed = seedRandomSeed
	}

	// Validate configuration
	if err := cfg.ValidateSeed(); err != nil {
		return err
	}

	ctx := context.Background()
	src, err := source.Open(ctx, cfg.Source.Name, cfg.Source.Connection)
	if err != nil {
		return err
	}
	defer src.Close()

	seeder, ok := src.(source.Seeder)
	if !ok {
		return fmt.Errorf("source %s does not support seeding", src.Name())
	}

	logging.Info().
		Str("source", src.Name()).
		Int("customers", cfg.Seed.Customers).
		Int("products", cfg.Seed.Products).
		Int("stores", cfg.Seed.Stores).
		Int("employees", cfg.Seed.Employees).
		Int("orders", cfg.Seed.Orders).
		Int("days", cfg.Seed.Days).
		Msg("Seeding operational store")

	err = seeder.Seed(ctx, source.SeedConfig{
		Customers:  cfg.Seed.Customers,
		Products:   cfg.Seed.Products,
		Stores:     cfg.Seed.Stores,
		Employees:  cfg.Seed.Employees,
		Orders:     cfg.Seed.Orders,
		Days:       cfg.Seed.Days,
		RandomSeed: cfg.Seed.RandomSeed,
	})
	if err != nil {
		return fmt.Errorf("failed to seed operational store: %w", err)
	}

	logging.Info().Msg("Operational store seeded")
	return nil
}

func runMutate(cmd *cobra.Command, args []string) error {
	if mutateChanges < 1 {
		return fmt.Errorf("changes must be at least 1")
	}

	// Validate configuration
	if err := cfg.ValidateSeed(); err != nil {
		return err
	}

	ctx := context.Background()
	src, err := source.Open(ctx, cfg.Source.Name, cfg.Source.Connection)
	if err != nil {
		return err
	}
	defer src.Close()

	seeder, ok := src.(source.Seeder)
	if !ok {
		return fmt.Errorf("source %s does not support mutation", src.Name())
	}

	logging.Info().
		Str("source", src.Name()).
		Int("changes", mutateChanges).
		Msg("Mutating operational store")

	if err := seeder.Mutate(ctx, mutateChanges); err != nil {
		return fmt.Errorf("failed to mutate operational store: %w", err)
	}

	logging.Info().Msg("Operational store mutated")
	return nil
}
