package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	rootCmd = &cobra.Command{
		Use:   "cartograph",
		Short: "Cloud inventory graph engine",
		Long: `Cartograph - Cloud Inventory Graph Engine

Cartograph scans AWS accounts for their resources and assembles the
results into a single validated graph: every resource a node, every
relationship an edge, every run a queryable snapshot.

Point it at one account or a whole organization, run a scan, and load
the resulting artifacts wherever your analysis lives.`,
		Version: version,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`Cartograph {{.Version}} - Cloud Inventory Graph Engine
`)
}
