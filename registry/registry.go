// Package registry holds the catalog of scannable resource-type
// descriptors. The catalog is built once at process start and passed
// explicitly to the layers that need it; there is no runtime type lookup.
package registry

import (
	"context"
	"fmt"
	"sort"

	"github.com/cartograph-io/cartograph/access"
	"github.com/cartograph-io/cartograph/types"
)

// Granularity defines how often a resource kind is scanned.
type Granularity int

const (
	// PerRegion resource kinds are scanned once per enabled region.
	PerRegion Granularity = iota
	// PerAccount resource kinds are scanned exactly once per account.
	PerAccount
)

func (g Granularity) String() string {
	switch g {
	case PerRegion:
		return "per-region"
	case PerAccount:
		return "per-account"
	default:
		return fmt.Sprintf("granularity(%d)", int(g))
	}
}

// RawResource is the untyped attribute map a list call returns for one
// resource, keyed exactly as the remote API named the fields.
type RawResource map[string]any

// ScanContext carries the scope a resource was listed in, for id and link
// generation during parse.
type ScanContext struct {
	AccountID string
	Region    string
}

// ListFunc lists resources of one kind, returning resource ids mapped to
// raw attributes.
type ListFunc func(ctx context.Context, acc *access.Accessor) (map[string]RawResource, error)

// ParseFunc translates one raw resource into its link collection.
type ParseFunc func(resourceID string, raw RawResource, sctx ScanContext) (types.LinkCollection, error)

// Descriptor identifies one scannable resource kind and how to scan it.
type Descriptor struct {
	// ServiceName is the remote service the kind belongs to, e.g. "ec2".
	ServiceName string
	// TypeName is the fully qualified graph type, e.g. "aws:ec2:instance".
	TypeName string
	// Granularity controls region fan-out for this kind.
	Granularity Granularity
	// RegionAllowList, when set, restricts scanning to these regions.
	RegionAllowList []string
	// RegionDenyList, when set, excludes these regions.
	RegionDenyList []string
	// Parallel marks the kind safe to scan in its own task alongside
	// siblings of the same service.
	Parallel bool
	// OverridableBy names the types permitted to replace a resource of
	// this type when both claim the same identity during deduplication.
	OverridableBy []string

	List  ListFunc
	Parse ParseFunc
}

// Registry is the set of registered descriptors, keyed by type name.
type Registry struct {
	descriptors map[string]*Descriptor
	order       []string
	// overrides for types that appear in graphs without a descriptor,
	// e.g. placeholder resources synthesized by the scanner.
	extraOverrides map[string][]string
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		descriptors:    map[string]*Descriptor{},
		extraOverrides: map[string][]string{},
	}
}

// MustRegister adds a descriptor, panicking on duplicates or missing
// fields. Registration happens once at startup, so failures are
// programming errors.
func (r *Registry) MustRegister(d *Descriptor) {
	if d.TypeName == "" || d.ServiceName == "" {
		panic(fmt.Sprintf("registry: descriptor missing type or service name: %+v", d))
	}
	if d.List == nil || d.Parse == nil {
		panic(fmt.Sprintf("registry: descriptor %s missing list or parse func", d.TypeName))
	}
	if _, exists := r.descriptors[d.TypeName]; exists {
		panic(fmt.Sprintf("registry: duplicate descriptor %s", d.TypeName))
	}
	r.descriptors[d.TypeName] = d
	r.order = append(r.order, d.TypeName)
}

// Get looks up a descriptor by type name.
func (r *Registry) Get(typeName string) (*Descriptor, bool) {
	d, ok := r.descriptors[typeName]
	return d, ok
}

// Descriptors returns all descriptors in registration order.
func (r *Registry) Descriptors() []*Descriptor {
	out := make([]*Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.descriptors[name])
	}
	return out
}

// Services returns the sorted set of service names in the registry.
func (r *Registry) Services() []string {
	seen := map[string]struct{}{}
	for _, d := range r.descriptors {
		seen[d.ServiceName] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// RegisterOverride records that typeName may be replaced by the named
// types during deduplication, for types carrying no descriptor of their
// own.
func (r *Registry) RegisterOverride(typeName string, overridableBy ...string) {
	r.extraOverrides[typeName] = append(r.extraOverrides[typeName], overridableBy...)
}

// Overrides returns the clobber table consumed by graph validation:
// type name mapped to the types allowed to replace it.
func (r *Registry) Overrides() map[string][]string {
	out := make(map[string][]string, len(r.descriptors)+len(r.extraOverrides))
	for name, d := range r.descriptors {
		if len(d.OverridableBy) > 0 {
			out[name] = append([]string(nil), d.OverridableBy...)
		}
	}
	for name, types := range r.extraOverrides {
		out[name] = append(out[name], types...)
	}
	return out
}
