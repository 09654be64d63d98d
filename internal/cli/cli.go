//-------------------------------------------------------------------------
//
// Bazaar ETL
//
// Copyright (c) 2025 - 2026, Sialkot Labs
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package cli implements the command-line interface for bazaar-etl.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/sialkot-labs/bazaar-etl/internal/config"
	"github.com/sialkot-labs/bazaar-etl/internal/logging"
	"github.com/sialkot-labs/bazaar-etl/internal/source"
	"github.com/sialkot-labs/bazaar-etl/pkg/version"
)

var (
	// Global flags
	cfgFile       string
	sourceName    string
	sourceConn    string
	warehouseConn string
	ledgerPath    string
	logLevel      string

	// Global config
	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "bazaar-etl",
		Short: "Star-schema ETL for a retail data warehouse",
		Long: `bazaar-etl moves data from a normalized retail operational store into
a star-schema warehouse. Each batch extracts entities changed since the
last run, conforms them as slowly changing dimensions (types 1, 2 and 3),
loads sale facts against the dimension versions valid on the sale date,
and rebuilds the reporting aggregates.

The tool ships with a demo operational store ('seed' and 'mutate') so the
full pipeline can be exercised against synthetic Pakistani retail data.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: ./bazaar-etl.yaml)")
	rootCmd.PersistentFlags().StringVar(&sourceName, "source", "",
		"change source name (see 'bazaar-etl sources')")
	rootCmd.PersistentFlags().StringVar(&sourceConn, "source-connection", "",
		"operational store connection string")
	rootCmd.PersistentFlags().StringVar(&warehouseConn, "warehouse-connection", "",
		"warehouse connection string")
	rootCmd.PersistentFlags().StringVar(&ledgerPath, "ledger", "",
		"batch ledger database path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"log level (debug, info, warn, error)")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(mutateCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sourcesCmd)
}

func initConfig() error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return err
	}

	// Override with CLI flags
	if sourceName != "" {
		cfg.Source.Name = sourceName
	}
	if sourceConn != "" {
		cfg.Source.Connection = sourceConn
	}
	if warehouseConn != "" {
		cfg.Warehouse.Connection = warehouseConn
	}
	if ledgerPath != "" {
		cfg.Ledger.Path = ledgerPath
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	// Reinitialize logger with config
	logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})

	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println(version.Info())
	},
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List registered change sources",
	Long: `List the change sources compiled into this binary. The configured
source.name must match one of them.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println("Registered change sources:")
		cmd.Println()
		for _, r := range source.Registrations() {
			cmd.Printf("  %-10s %s\n", r.Name, r.Description)
		}
		cmd.Println()
		cmd.Println("Select one with source.name in the config or --source.")
	},
}
