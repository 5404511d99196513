// Package scan executes the per-account scan: partitioning resource kinds
// into service scan tasks, fanning tasks out across regions, and producing
// one artifact plus one manifest per account.
package scan

import "github.com/cartograph-io/cartograph/stats"

// ScanPlan describes a whole run before account fan-out.
type ScanPlan struct {
	GraphName               string   `json:"graph_name"`
	GraphVersion            string   `json:"graph_version"`
	AccountIDs              []string `json:"account_ids"`
	Regions                 []string `json:"regions"`
	PreferredAccountRegions []string `json:"preferred_account_regions"`
}

// AccountPlans splits the plan into one plan per account.
func (p ScanPlan) AccountPlans() []AccountScanPlan {
	out := make([]AccountScanPlan, 0, len(p.AccountIDs))
	for _, accountID := range p.AccountIDs {
		out = append(out, AccountScanPlan{
			GraphName:               p.GraphName,
			GraphVersion:            p.GraphVersion,
			AccountID:               accountID,
			Regions:                 p.Regions,
			PreferredAccountRegions: p.PreferredAccountRegions,
		})
	}
	return out
}

// AccountScanPlan describes the scan of a single account. It is the unit
// the muxer schedules and, in lambda mode, the event payload.
type AccountScanPlan struct {
	GraphName               string   `json:"graph_name"`
	GraphVersion            string   `json:"graph_version"`
	AccountID               string   `json:"account_id"`
	Regions                 []string `json:"regions"`
	PreferredAccountRegions []string `json:"preferred_account_regions"`
}

// AccountScanManifest summarizes one account scan attempt: where the
// artifact landed, the non-fatal errors hit along the way, and the API call
// statistics. An account counts as cleanly scanned only when Errors is
// empty.
type AccountScanManifest struct {
	AccountID     string         `json:"account_id"`
	ArtifactPaths []string       `json:"artifact_paths"`
	Errors        []string       `json:"errors"`
	APICallStats  *stats.Counter `json:"api_call_stats"`
}

// Scanned reports whether the account scan completed without errors.
func (m AccountScanManifest) Scanned() bool {
	return len(m.Errors) == 0
}
