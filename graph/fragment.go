// Package graph assembles scan fragments into one validated,
// referentially-consistent resource graph.
package graph

import (
	"fmt"

	"github.com/cartograph-io/cartograph/stats"
	"github.com/cartograph-io/cartograph/types"
)

// Fragment is the unvalidated output of one scan task or one account scan:
// resources, non-fatal error strings, and API call statistics. A fragment
// is owned by its producer until merged; merging consumes it.
type Fragment struct {
	Name      string           `json:"name"`
	Version   string           `json:"version"`
	StartTime int64            `json:"start_time"`
	EndTime   int64            `json:"end_time"`
	Resources []types.Resource `json:"resources"`
	Errors    []string         `json:"errors"`
	Stats     *stats.Counter   `json:"stats"`
}

// Merge combines fragments by concatenating resources and errors and
// unioning statistics. All inputs must share a graph name and version; the
// result's time window spans min(start) to max(end).
func Merge(fragments ...*Fragment) (*Fragment, error) {
	if len(fragments) == 0 {
		return nil, fmt.Errorf("no fragments to merge")
	}

	merged := &Fragment{
		Name:      fragments[0].Name,
		Version:   fragments[0].Version,
		StartTime: fragments[0].StartTime,
		EndTime:   fragments[0].EndTime,
		Stats:     stats.NewCounter(),
	}

	for _, f := range fragments {
		if f.Name != merged.Name {
			return nil, fmt.Errorf("unmergeable fragments: differing graph names %q, %q", merged.Name, f.Name)
		}
		if f.Version != merged.Version {
			return nil, fmt.Errorf("unmergeable fragments: differing graph versions %q, %q", merged.Version, f.Version)
		}
		if f.StartTime < merged.StartTime {
			merged.StartTime = f.StartTime
		}
		if f.EndTime > merged.EndTime {
			merged.EndTime = f.EndTime
		}
		merged.Resources = append(merged.Resources, f.Resources...)
		merged.Errors = append(merged.Errors, f.Errors...)
		merged.Stats.Merge(f.Stats)
	}

	return merged, nil
}
