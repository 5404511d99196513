package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cartograph-io/cartograph/storage"
)

var (
	runsStorageDir string
	runsLimit      int
)

// runsCmd represents the runs command
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List completed scan runs",
	Long:  `List the runs recorded in the local catalog, newest first.`,
	Example: `  cartograph runs
  cartograph runs --limit 5`,
	RunE: runRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)

	runsCmd.Flags().StringVar(&runsStorageDir, "storage", ".cartograph", "Storage directory")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum runs to list (0 for all)")
}

func runRuns(cmd *cobra.Command, _ []string) error {
	catalog, err := storage.Open(runsStorageDir)
	if err != nil {
		return err
	}
	defer catalog.Close()

	runs := catalog.ListRuns(runsLimit)
	if len(runs) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}

	fmt.Printf("%-38s %-20s %9s %9s %7s\n", "SCAN ID", "STARTED", "ACCOUNTS", "RESOURCES", "ERRORS")
	for _, rec := range runs {
		started := time.Unix(rec.StartTime, 0).UTC().Format(time.RFC3339)
		fmt.Printf("%-38s %-20s %9d %9d %7d\n",
			rec.ScanID, started, len(rec.ScannedAccounts), rec.Resources, rec.Errors)
	}
	fmt.Printf("\n%d run(s)\n", len(runs))
	return nil
}
