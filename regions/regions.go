// Package regions computes the concrete regions each resource-type
// descriptor must be scanned in, from the service availability catalog and
// the run's region filters.
package regions

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/cartograph-io/cartograph/registry"
)

// PseudoGlobal is the marker region a catalog uses for services with a
// single global endpoint, e.g. IAM.
const PseudoGlobal = "aws-global"

// Catalog maps a service name to the regions it is available in.
type Catalog map[string][]string

// ServiceRegions returns the catalog entry for a service.
func (c Catalog) ServiceRegions(service string) []string {
	return c[service]
}

// ConfigError indicates an inconsistency between a descriptor and the
// catalog that cannot be recovered at runtime.
type ConfigError struct {
	TypeName string
	Detail   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("region configuration error for %s: %s", e.TypeName, e.Detail)
}

// NoRegionsError indicates all candidate regions for a descriptor were
// filtered away. Callers must not silently skip the descriptor.
type NoRegionsError struct {
	ServiceName string
	TypeName    string
}

func (e *NoRegionsError) Error() string {
	return fmt.Sprintf("no regions available for %s/%s", e.ServiceName, e.TypeName)
}

// Resolver assigns scan regions to descriptors.
type Resolver struct {
	catalog Catalog

	// pick selects one index from n candidates for per-account kinds.
	// Randomized across runs; overridable in tests.
	pick func(n int) int
}

// NewResolver builds a resolver over a service availability catalog.
func NewResolver(catalog Catalog) *Resolver {
	return &Resolver{catalog: catalog, pick: rand.IntN}
}

// Resolve computes the regions desc must be scanned in.
//
// Candidates start from the catalog's availability for the descriptor's
// service. A pseudo-global service collapses to the preferred account-scan
// regions and is only legal for per-account kinds. The descriptor's allow
// and deny lists apply next, then the run's enabled-regions filter.
// Per-account kinds are finally narrowed to the preferred set and exactly
// one region is chosen, so an account-granularity resource is scanned once,
// not once per region.
func (r *Resolver) Resolve(desc *registry.Descriptor, enabledRegions, preferredAccountRegions []string) ([]string, error) {
	candidates := slices.Clone(r.catalog.ServiceRegions(desc.ServiceName))

	if slices.Contains(candidates, PseudoGlobal) {
		if desc.Granularity != registry.PerAccount {
			return nil, &ConfigError{
				TypeName: desc.TypeName,
				Detail: fmt.Sprintf("service %s is global-only but descriptor is %s granularity",
					desc.ServiceName, desc.Granularity),
			}
		}
		candidates = slices.Clone(preferredAccountRegions)
	}

	if len(desc.RegionAllowList) > 0 {
		candidates = intersect(candidates, desc.RegionAllowList)
	}
	if len(desc.RegionDenyList) > 0 {
		candidates = subtract(candidates, desc.RegionDenyList)
	}
	if len(enabledRegions) > 0 {
		candidates = intersect(candidates, enabledRegions)
	}

	if desc.Granularity == registry.PerAccount {
		if len(preferredAccountRegions) > 0 {
			candidates = intersect(candidates, preferredAccountRegions)
		}
		if len(candidates) == 0 {
			return nil, &NoRegionsError{ServiceName: desc.ServiceName, TypeName: desc.TypeName}
		}
		return []string{candidates[r.pick(len(candidates))]}, nil
	}

	if len(candidates) == 0 {
		return nil, &NoRegionsError{ServiceName: desc.ServiceName, TypeName: desc.TypeName}
	}
	return candidates, nil
}

func intersect(regions, keep []string) []string {
	var out []string
	for _, region := range regions {
		if slices.Contains(keep, region) {
			out = append(out, region)
		}
	}
	return out
}

func subtract(regions, drop []string) []string {
	var out []string
	for _, region := range regions {
		if !slices.Contains(drop, region) {
			out = append(out, region)
		}
	}
	return out
}
