// Package coordinator drives a whole run: expanding org membership into
// concrete accounts, streaming account manifests out of the muxer, folding
// fragments into one validated graph, and recording the run.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	orgtypes "github.com/aws/aws-sdk-go-v2/service/organizations/types"
	"golang.org/x/sync/errgroup"

	"github.com/cartograph-io/cartograph/access"
	"github.com/cartograph-io/cartograph/artifact"
	"github.com/cartograph-io/cartograph/graph"
	"github.com/cartograph-io/cartograph/journal"
	"github.com/cartograph-io/cartograph/muxer"
	"github.com/cartograph-io/cartograph/registry"
	"github.com/cartograph-io/cartograph/scan"
	"github.com/cartograph-io/cartograph/stats"
	"github.com/cartograph-io/cartograph/storage"
	"github.com/cartograph-io/cartograph/telemetry"
)

// OrgLister lists the active member accounts of an organization master.
type OrgLister func(ctx context.Context, masterAccountID string) ([]string, error)

// NewOrgLister builds an OrgLister backed by the organizations API, using
// the provider's credentials for the master account.
func NewOrgLister(provider access.Provider) OrgLister {
	return func(ctx context.Context, masterAccountID string) ([]string, error) {
		cfg, err := provider.Config(ctx, masterAccountID, "")
		if err != nil {
			return nil, err
		}
		client := organizations.NewFromConfig(cfg)

		var accountIDs []string
		var nextToken *string
		for {
			out, err := client.ListAccounts(ctx, &organizations.ListAccountsInput{NextToken: nextToken})
			if err != nil {
				return nil, err
			}
			for _, acct := range out.Accounts {
				if acct.Status != orgtypes.AccountStatusActive {
					continue
				}
				accountIDs = append(accountIDs, aws.ToString(acct.Id))
			}
			if out.NextToken == nil {
				return accountIDs, nil
			}
			nextToken = out.NextToken
		}
	}
}

// Params configures one run.
type Params struct {
	ScanID       string
	GraphName    string
	GraphVersion string

	Accounts                []string
	ExpandOrgMembership     bool
	Regions                 []string
	PreferredAccountRegions []string

	Mux       *muxer.Mux
	Artifacts artifact.Store
	Registry  *registry.Registry

	// ListOrgAccounts is consulted per configured account when org
	// expansion is on. Nil disables expansion regardless of the flag.
	ListOrgAccounts OrgLister

	Catalog *storage.Catalog
	Journal *journal.Journal
	Logger  *telemetry.Logger
}

// ScanManifest is the run-level summary written alongside the master
// artifact. ScannedAccounts lists every account whose fragment made it into
// the graph, even partially; an account with a fragment and errors appears
// there and in ErrorsByAccount. UnscannedAccounts contributed nothing.
type ScanManifest struct {
	ScanID            string              `json:"scan_id"`
	GraphName         string              `json:"graph_name"`
	GraphVersion      string              `json:"graph_version"`
	StartTime         int64               `json:"start_time"`
	EndTime           int64               `json:"end_time"`
	ScannedAccounts   []string            `json:"scanned_accounts"`
	UnscannedAccounts []string            `json:"unscanned_accounts"`
	ErrorsByAccount   map[string][]string `json:"errors_by_account"`
	ArtifactPaths     []string            `json:"artifact_paths"`
	MasterArtifact    string              `json:"master_artifact"`
	// Errors holds run-level failures, e.g. unreadable artifacts.
	// Account-level failures live in ErrorsByAccount.
	Errors       []string       `json:"errors"`
	APICallStats *stats.Counter `json:"api_call_stats"`
}

// Run executes one complete scan and returns the run manifest and the
// validated graph. A non-nil error is run-fatal: no usable graph exists and
// the process must exit non-zero.
func (p Params) Run(ctx context.Context) (*ScanManifest, *graph.ValidatedGraphSet, error) {
	start := time.Now().Unix()
	log := p.Logger.WithContext(ctx)
	log.Info().
		Str("event", telemetry.EventRunStart).
		Str("scan_id", p.ScanID).
		Msg("starting run")
	p.journal(journal.Entry{Event: journal.EventRunStarted, ScanID: p.ScanID})

	accounts := p.expandAccounts(ctx)
	if len(accounts) == 0 {
		return nil, nil, fmt.Errorf("no accounts to scan")
	}

	plan := scan.ScanPlan{
		GraphName:               p.GraphName,
		GraphVersion:            p.GraphVersion,
		AccountIDs:              accounts,
		Regions:                 p.Regions,
		PreferredAccountRegions: p.PreferredAccountRegions,
	}

	// Accounts may be attempted more than once; only the latest manifest
	// per account counts, or merged fragments would double up.
	latest := map[string]scan.AccountScanManifest{}
	for manifest := range p.Mux.Scan(ctx, plan) {
		latest[manifest.AccountID] = manifest
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	fragments, runErrors := p.collectFragments(ctx, accounts, latest)
	if len(fragments) == 0 {
		return nil, nil, fmt.Errorf("no account produced a scan artifact")
	}

	merged, err := graph.Merge(fragments...)
	if err != nil {
		return nil, nil, err
	}
	validated, err := graph.Validate(merged, p.Registry.Overrides())
	if err != nil {
		return nil, nil, err
	}

	masterPath, err := p.Artifacts.Write(ctx, p.ScanID, "master", validated.Fragment())
	if err != nil {
		return nil, nil, err
	}

	manifest := p.buildManifest(accounts, latest, merged, masterPath, start, runErrors)
	if err := p.writeManifest(ctx, manifest); err != nil {
		return nil, nil, err
	}
	p.record(manifest, validated)

	telemetry.APICalls.Add(float64(merged.Stats.Count))
	log.Info().
		Str("event", telemetry.EventRunEnd).
		Str("scan_id", p.ScanID).
		Int("accounts", len(accounts)).
		Int("scanned", len(manifest.ScannedAccounts)).
		Int("resources", len(validated.Resources())).
		Msg("run complete")
	p.journal(journal.Entry{
		Event:  journal.EventRunCompleted,
		ScanID: p.ScanID,
		Data: map[string]any{
			"scanned":   len(manifest.ScannedAccounts),
			"unscanned": len(manifest.UnscannedAccounts),
			"resources": len(validated.Resources()),
		},
	})
	return manifest, validated, nil
}

// expandAccounts resolves the configured accounts, following org membership
// when enabled. Expansion is tolerant per master: an unreachable org API
// keeps the master itself in the scan rather than failing the run.
func (p Params) expandAccounts(ctx context.Context) []string {
	seen := map[string]struct{}{}
	var accounts []string
	add := func(id string) {
		if _, ok := seen[id]; ok || id == "" {
			return
		}
		seen[id] = struct{}{}
		accounts = append(accounts, id)
	}

	for _, accountID := range p.Accounts {
		add(accountID)
		if !p.ExpandOrgMembership || p.ListOrgAccounts == nil {
			continue
		}
		p.Logger.WithAccount(ctx, accountID).Info().
			Str("event", telemetry.EventOrgExpandStart).
			Msg("expanding org membership")
		members, err := p.ListOrgAccounts(ctx, accountID)
		if err != nil {
			p.Logger.WithAccount(ctx, accountID).Warn().
				Err(err).
				Msg("org expansion failed, scanning master only")
			continue
		}
		for _, member := range members {
			add(member)
		}
		p.Logger.WithAccount(ctx, accountID).Info().
			Str("event", telemetry.EventOrgExpandEnd).
			Int("members", len(members)).
			Msg("org membership expanded")
	}
	return accounts
}

// collectFragments reads every artifact named by the latest manifests.
// Reads run concurrently; artifacts can live in S3 and a big org has
// hundreds of them.
func (p Params) collectFragments(ctx context.Context, accounts []string, latest map[string]scan.AccountScanManifest) ([]*graph.Fragment, []string) {
	type slot struct {
		f   *graph.Fragment
		err error
	}

	var paths []string
	for _, accountID := range accounts {
		manifest, ok := latest[accountID]
		if !ok {
			continue
		}
		paths = append(paths, manifest.ArtifactPaths...)
	}

	slots := make([]slot, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(16)
	for i, path := range paths {
		g.Go(func() error {
			f, err := p.Artifacts.Read(gctx, path)
			slots[i] = slot{f: f, err: err}
			return nil
		})
	}
	g.Wait()

	var fragments []*graph.Fragment
	var runErrors []string
	for i, s := range slots {
		if s.err != nil {
			runErrors = append(runErrors, fmt.Sprintf("reading artifact %s: %v", paths[i], s.err))
			continue
		}
		fragments = append(fragments, s.f)
	}
	return fragments, runErrors
}

func (p Params) buildManifest(accounts []string, latest map[string]scan.AccountScanManifest, merged *graph.Fragment, masterPath string, start int64, runErrors []string) *ScanManifest {
	out := &ScanManifest{
		ScanID:          p.ScanID,
		GraphName:       p.GraphName,
		GraphVersion:    p.GraphVersion,
		StartTime:       start,
		EndTime:         time.Now().Unix(),
		ErrorsByAccount: map[string][]string{},
		MasterArtifact:  masterPath,
		Errors:          runErrors,
		APICallStats:    merged.Stats,
	}
	for _, accountID := range accounts {
		manifest, ok := latest[accountID]
		if ok && len(manifest.Errors) > 0 {
			out.ErrorsByAccount[accountID] = manifest.Errors
		}
		// An account with artifacts counts as scanned even when it also
		// carries errors: its partial fragment is in the graph.
		if ok && len(manifest.ArtifactPaths) > 0 {
			out.ScannedAccounts = append(out.ScannedAccounts, accountID)
		} else {
			out.UnscannedAccounts = append(out.UnscannedAccounts, accountID)
		}
		out.ArtifactPaths = append(out.ArtifactPaths, manifest.ArtifactPaths...)
	}
	return out
}

func (p Params) writeManifest(ctx context.Context, manifest *ScanManifest) error {
	data, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("encoding run manifest: %w", err)
	}
	_, err = p.Artifacts.WriteRaw(ctx, p.ScanID, "manifest", data)
	return err
}

func (p Params) record(manifest *ScanManifest, validated *graph.ValidatedGraphSet) {
	if p.Catalog == nil {
		return
	}
	errorCount := len(manifest.Errors)
	for _, errs := range manifest.ErrorsByAccount {
		errorCount += len(errs)
	}
	err := p.Catalog.RecordRun(storage.RunRecord{
		ScanID:          manifest.ScanID,
		GraphName:       manifest.GraphName,
		GraphVersion:    manifest.GraphVersion,
		StartTime:       manifest.StartTime,
		EndTime:         manifest.EndTime,
		ScannedAccounts: manifest.ScannedAccounts,
		MasterArtifact:  manifest.MasterArtifact,
		Resources:       len(validated.Resources()),
		Errors:          errorCount,
	})
	if err != nil {
		p.Logger.Error().Err(err).Msg("recording run in catalog failed")
	}
}

func (p Params) journal(e journal.Entry) {
	if p.Journal == nil {
		return
	}
	if err := p.Journal.Append(e); err != nil {
		p.Logger.Error().Err(err).Msg("journal append failed")
	}
}
