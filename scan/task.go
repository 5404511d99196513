package scan

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/cartograph-io/cartograph/access"
	"github.com/cartograph-io/cartograph/graph"
	"github.com/cartograph-io/cartograph/registry"
	"github.com/cartograph-io/cartograph/stats"
	"github.com/cartograph-io/cartograph/telemetry"
	"github.com/cartograph-io/cartograph/types"
)

// ServiceScanTask scans a group of resource kinds of one service in one
// (account, region) scope. Tasks never fail as a whole: every descriptor
// error is recorded in the returned fragment and scanning moves on, so a
// single broken API never costs the rest of the account.
type ServiceScanTask struct {
	AccountID    string
	Region       string
	ServiceName  string
	Descriptors  []*registry.Descriptor
	Provider     access.Provider
	GraphName    string
	GraphVersion string
	Logger       *telemetry.Logger
}

// Run executes the task and returns its fragment.
func (t *ServiceScanTask) Run(ctx context.Context) *graph.Fragment {
	log := t.Logger.WithAccount(ctx, t.AccountID)
	log.Info().
		Str("event", telemetry.EventServiceScanStart).
		Str("region", t.Region).
		Str("service", t.ServiceName).
		Msg("scanning service")

	f := &graph.Fragment{
		Name:      t.GraphName,
		Version:   t.GraphVersion,
		StartTime: time.Now().Unix(),
		Stats:     stats.NewCounter(),
	}
	defer func() {
		f.EndTime = time.Now().Unix()
		log.Info().
			Str("event", telemetry.EventServiceScanEnd).
			Str("region", t.Region).
			Str("service", t.ServiceName).
			Int("resources", len(f.Resources)).
			Int("errors", len(f.Errors)).
			Msg("service scan done")
	}()

	cfg, err := t.Provider.Config(ctx, t.AccountID, t.Region)
	if err != nil {
		f.Errors = append(f.Errors, fmt.Sprintf("building access for %s in %s: %v", t.AccountID, t.Region, err))
		return f
	}
	acc := access.NewAccessor(cfg, t.AccountID, t.Region)

	for _, desc := range t.Descriptors {
		t.scanKind(ctx, acc, desc, f)
	}
	f.Stats.Merge(acc.Stats)
	return f
}

func (t *ServiceScanTask) scanKind(ctx context.Context, acc *access.Accessor, desc *registry.Descriptor, f *graph.Fragment) {
	raws, err := desc.List(ctx, acc)
	if err != nil {
		// An unsubscribed service legitimately has zero resources.
		if access.IsNotSubscribedError(err) {
			return
		}
		f.Errors = append(f.Errors, fmt.Sprintf("listing %s in %s/%s: %v", desc.TypeName, t.AccountID, t.Region, err))
		return
	}

	sctx := registry.ScanContext{AccountID: t.AccountID, Region: t.Region}
	for _, resourceID := range slices.Sorted(maps.Keys(raws)) {
		links, err := desc.Parse(resourceID, raws[resourceID], sctx)
		if err != nil {
			f.Errors = append(f.Errors, fmt.Sprintf("parsing %s: %v", resourceID, err))
			continue
		}
		f.Resources = append(f.Resources, types.Resource{
			ID:    resourceID,
			Type:  desc.TypeName,
			Links: links,
		})
	}
}
