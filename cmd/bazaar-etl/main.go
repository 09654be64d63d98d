// Package main is the entry point for bazaar-etl.
package main

import (
	"fmt"
	"os"

	"github.com/sialkot-labs/bazaar-etl/internal/cli"

	// Register change sources
	_ "github.com/sialkot-labs/bazaar-etl/internal/source/retail"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
