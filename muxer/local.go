package muxer

import (
	"context"
	"time"

	"github.com/cartograph-io/cartograph/access"
	"github.com/cartograph-io/cartograph/artifact"
	"github.com/cartograph-io/cartograph/journal"
	"github.com/cartograph-io/cartograph/regions"
	"github.com/cartograph-io/cartograph/registry"
	"github.com/cartograph-io/cartograph/scan"
	"github.com/cartograph-io/cartograph/telemetry"
)

// LocalOptions configures an in-process muxer.
type LocalOptions struct {
	ScanID            string
	Registry          *registry.Registry
	Provider          access.Provider
	Resolver          *regions.Resolver
	Artifacts         artifact.Store
	MaxAccountWorkers int
	MaxServiceWorkers int
	MaxTries          int
	RetryBackoff      time.Duration
	Journal           *journal.Journal
}

// NewLocal builds a muxer that runs account scans in this process.
func NewLocal(opts LocalOptions) *Mux {
	logger := telemetry.NewLogger("muxer")
	scanLogger := telemetry.NewLogger("scanner")
	return &Mux{
		ScanID: opts.ScanID,
		Schedule: func(ctx context.Context, plan scan.AccountScanPlan) (scan.AccountScanManifest, error) {
			scanner := &scan.AccountScanner{
				Plan:              plan,
				ScanID:            opts.ScanID,
				Registry:          opts.Registry,
				Provider:          opts.Provider,
				Resolver:          opts.Resolver,
				Artifacts:         opts.Artifacts,
				MaxServiceWorkers: opts.MaxServiceWorkers,
				Logger:            scanLogger,
			}
			return scanner.Scan(ctx)
		},
		MaxWorkers:   opts.MaxAccountWorkers,
		MaxTries:     opts.MaxTries,
		RetryBackoff: opts.RetryBackoff,
		Logger:       logger,
		Journal:      opts.Journal,
	}
}
