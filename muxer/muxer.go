// Package muxer schedules account scans across workers, retrying accounts
// that did not complete cleanly, and streams manifests back as they land.
// The local and lambda variants differ only in how one account scan is
// scheduled.
package muxer

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cartograph-io/cartograph/journal"
	"github.com/cartograph-io/cartograph/scan"
	"github.com/cartograph-io/cartograph/telemetry"
)

// Mux fans account scan plans out to Schedule with bounded concurrency.
//
// An account leaves the retry pool only when an attempt returns a manifest
// with no errors. Attempts that raise produce no manifest at all; attempts
// whose manifest carries errors are emitted anyway, so the caller always
// holds the latest state of every account that produced anything.
type Mux struct {
	ScanID string
	// Schedule runs one account scan attempt. The single extension point:
	// in-process for local scans, an Invoke call for lambda scans.
	Schedule func(ctx context.Context, plan scan.AccountScanPlan) (scan.AccountScanManifest, error)

	MaxWorkers   int
	MaxTries     int
	RetryBackoff time.Duration
	Logger       *telemetry.Logger
	Journal      *journal.Journal
}

// Scan schedules every account in the plan and streams manifests on the
// returned channel. The channel closes when all accounts are cleanly
// scanned, retries are exhausted, or ctx is cancelled.
func (m *Mux) Scan(ctx context.Context, plan scan.ScanPlan) <-chan scan.AccountScanManifest {
	out := make(chan scan.AccountScanManifest)
	go func() {
		defer close(out)
		m.run(ctx, plan, out)
	}()
	return out
}

func (m *Mux) run(ctx context.Context, plan scan.ScanPlan, out chan<- scan.AccountScanManifest) {
	maxTries := max(m.MaxTries, 1)
	remaining := plan.AccountPlans()

	m.Logger.WithContext(ctx).Info().
		Str("event", telemetry.EventMuxerStart).
		Str("scan_id", m.ScanID).
		Int("accounts", len(remaining)).
		Msg("scheduling account scans")

	for attempt := 1; attempt <= maxTries && len(remaining) > 0; attempt++ {
		if ctx.Err() != nil {
			return
		}
		if attempt > 1 {
			m.Logger.WithContext(ctx).Info().
				Str("event", telemetry.EventMuxerRetry).
				Int("attempt", attempt).
				Int("accounts", len(remaining)).
				Msg("retrying unscanned accounts")
			select {
			case <-time.After(m.RetryBackoff):
			case <-ctx.Done():
				return
			}
		}

		remaining = m.attempt(ctx, attempt, remaining, out)
		m.journal(journal.Entry{
			Event:  journal.EventAttemptCompleted,
			ScanID: m.ScanID,
			Data:   map[string]any{"attempt": attempt, "unscanned": len(remaining)},
		})
	}

	for _, p := range remaining {
		m.Logger.WithAccount(ctx, p.AccountID).Warn().
			Str("event", telemetry.EventMuxerEnd).
			Msg("account still unscanned after final attempt")
	}
	m.Logger.WithContext(ctx).Info().
		Str("event", telemetry.EventMuxerEnd).
		Str("scan_id", m.ScanID).
		Int("unscanned", len(remaining)).
		Msg("account scheduling done")
}

// attempt schedules one round over the unscanned accounts and returns the
// accounts that must be retried.
func (m *Mux) attempt(ctx context.Context, attempt int, plans []scan.AccountScanPlan, out chan<- scan.AccountScanManifest) []scan.AccountScanPlan {
	var mu sync.Mutex
	var retry []scan.AccountScanPlan

	var g errgroup.Group
	g.SetLimit(max(m.MaxWorkers, 1))
	for _, p := range plans {
		m.Logger.WithAccount(ctx, p.AccountID).Info().
			Str("event", telemetry.EventMuxerQueueScan).
			Int("attempt", attempt).
			Msg("queueing account scan")
		m.journal(journal.Entry{
			Event:     journal.EventAccountQueued,
			ScanID:    m.ScanID,
			AccountID: p.AccountID,
			Data:      map[string]any{"attempt": attempt},
		})

		g.Go(func() error {
			manifest, err := m.Schedule(ctx, p)
			if err != nil {
				telemetry.AccountScanFailures.Inc()
				m.Logger.WithAccount(ctx, p.AccountID).Error().
					Str("event", telemetry.EventAccountScanError).
					Err(err).
					Msg("account scan attempt raised")
				m.journal(journal.Entry{
					Event:     journal.EventAccountFailed,
					ScanID:    m.ScanID,
					AccountID: p.AccountID,
					Error:     err.Error(),
				})
				mu.Lock()
				retry = append(retry, p)
				mu.Unlock()
				return nil
			}

			m.journal(journal.Entry{
				Event:     journal.EventAccountScanned,
				ScanID:    m.ScanID,
				AccountID: p.AccountID,
				Data:      map[string]any{"errors": len(manifest.Errors)},
			})
			if !manifest.Scanned() {
				mu.Lock()
				retry = append(retry, p)
				mu.Unlock()
			}

			select {
			case out <- manifest:
			case <-ctx.Done():
			}
			return nil
		})
	}
	g.Wait()
	return retry
}

func (m *Mux) journal(e journal.Entry) {
	if m.Journal == nil {
		return
	}
	if err := m.Journal.Append(e); err != nil {
		m.Logger.Error().Err(err).Msg("journal append failed")
	}
}
