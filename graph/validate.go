package graph

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"

	"github.com/cartograph-io/cartograph/types"
)

// ValidatedGraphSet is a fragment that passed deduplication and referential
// integrity checks. It is immutable from the caller's perspective: further
// merging happens on fragments, never on validated sets.
type ValidatedGraphSet struct {
	fragment Fragment
}

// Validate deduplicates f's resources, resolves cross-type identity claims
// against the override table, and verifies every hard resource link targets
// a resource present in the graph. Transient resource links are exempt from
// the integrity check.
//
// overrides maps a type name to the types allowed to replace it when both
// claim the same resource id.
func Validate(f *Fragment, overrides map[string][]string) (*ValidatedGraphSet, error) {
	resources, err := dedupe(f.Resources, overrides)
	if err != nil {
		return nil, err
	}
	if dupes := duplicateIDs(resources); len(dupes) > 0 {
		return nil, &DuplicateIDsError{IDs: dupes}
	}
	if orphans := orphanedReferences(resources); len(orphans) > 0 {
		return nil, &OrphanedReferencesError{Refs: orphans}
	}

	out := *f
	out.Resources = resources
	return &ValidatedGraphSet{fragment: out}, nil
}

// Fragment returns the validated contents.
func (v *ValidatedGraphSet) Fragment() *Fragment {
	return &v.fragment
}

// Resources returns the deduplicated resources.
func (v *ValidatedGraphSet) Resources() []types.Resource {
	return v.fragment.Resources
}

// Errors returns the non-fatal errors collected during the scan.
func (v *ValidatedGraphSet) Errors() []string {
	return v.fragment.Errors
}

func (v *ValidatedGraphSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.fragment)
}

func (v *ValidatedGraphSet) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &v.fragment)
}

// dedupe collapses resources sharing an id. Same-type duplicates have their
// links merged key-by-key; across types, exactly one claimant must be
// permitted to override all the others. First-seen id order is preserved so
// output is deterministic.
func dedupe(resources []types.Resource, overrides map[string][]string) ([]types.Resource, error) {
	groups := map[string][]types.Resource{}
	var order []string
	for _, res := range resources {
		if _, seen := groups[res.ID]; !seen {
			order = append(order, res.ID)
		}
		groups[res.ID] = append(groups[res.ID], res)
	}

	out := make([]types.Resource, 0, len(order))
	for _, id := range order {
		group := groups[id]
		if len(group) == 1 {
			out = append(out, group[0])
			continue
		}

		winner, err := resolveOverride(id, group, overrides)
		if err != nil {
			return nil, err
		}

		merged := types.Resource{ID: id, Type: winner}
		for _, res := range group {
			if res.Type != winner {
				continue
			}
			links, err := mergeLinks(id, merged.Links, res.Links)
			if err != nil {
				return nil, err
			}
			merged.Links = links
		}
		out = append(out, merged)
	}
	return out, nil
}

// resolveOverride picks the surviving type for a duplicate group. With one
// type present it wins trivially. With several, the winner is the single
// type every other present type consents to be overridden by; zero or
// multiple candidates is a modeling conflict.
func resolveOverride(id string, group []types.Resource, overrides map[string][]string) (string, error) {
	var present []string
	for _, res := range group {
		if !slices.Contains(present, res.Type) {
			present = append(present, res.Type)
		}
	}
	if len(present) == 1 {
		return present[0], nil
	}

	var winners []string
	for _, candidate := range present {
		consented := true
		for _, other := range present {
			if other == candidate {
				continue
			}
			if !slices.Contains(overrides[other], candidate) {
				consented = false
				break
			}
		}
		if consented {
			winners = append(winners, candidate)
		}
	}

	switch len(winners) {
	case 1:
		return winners[0], nil
	case 0:
		return "", &ConflictError{
			ResourceID: id,
			Detail:     fmt.Sprintf("no override winner among types %v", present),
		}
	default:
		return "", &ConflictError{
			ResourceID: id,
			Detail:     fmt.Sprintf("multiple override winners %v among types %v", winners, present),
		}
	}
}

// mergeLinks unions two link collections belonging to duplicates of the
// same type. Scalar-valued kinds merge by predicate and conflict on
// differing values; resource-reference kinds union on (predicate, target)
// because a resource may carry several references under one predicate.
func mergeLinks(id string, a, b types.LinkCollection) (types.LinkCollection, error) {
	out := types.LinkCollection{}

	simple := map[string]any{}
	for _, links := range [][]types.SimpleLink{a.SimpleLinks, b.SimpleLinks} {
		for _, l := range links {
			prev, seen := simple[l.Pred]
			if seen && !reflect.DeepEqual(prev, l.Obj) {
				return out, &ConflictError{
					ResourceID: id,
					Detail:     fmt.Sprintf("conflicting values for key %s: %v, %v", l.Pred, prev, l.Obj),
				}
			}
			if !seen {
				simple[l.Pred] = l.Obj
				out.SimpleLinks = append(out.SimpleLinks, l)
			}
		}
	}

	multi := map[string]types.LinkCollection{}
	for _, links := range [][]types.MultiLink{a.MultiLinks, b.MultiLinks} {
		for _, l := range links {
			prev, seen := multi[l.Pred]
			if seen && !prev.Equal(l.Obj) {
				return out, &ConflictError{
					ResourceID: id,
					Detail:     fmt.Sprintf("conflicting values for key %s", l.Pred),
				}
			}
			if !seen {
				multi[l.Pred] = l.Obj
				out.MultiLinks = append(out.MultiLinks, l)
			}
		}
	}

	tags := map[string]string{}
	for _, links := range [][]types.TagLink{a.TagLinks, b.TagLinks} {
		for _, l := range links {
			prev, seen := tags[l.Pred]
			if seen && prev != l.Obj {
				return out, &ConflictError{
					ResourceID: id,
					Detail:     fmt.Sprintf("conflicting values for tag %s: %q, %q", l.Pred, prev, l.Obj),
				}
			}
			if !seen {
				tags[l.Pred] = l.Obj
				out.TagLinks = append(out.TagLinks, l)
			}
		}
	}

	seenRes := map[[2]string]struct{}{}
	for _, links := range [][]types.ResourceLink{a.ResourceLinks, b.ResourceLinks} {
		for _, l := range links {
			key := [2]string{l.Pred, l.Obj}
			if _, seen := seenRes[key]; seen {
				continue
			}
			seenRes[key] = struct{}{}
			out.ResourceLinks = append(out.ResourceLinks, l)
		}
	}

	seenTransient := map[[2]string]struct{}{}
	for _, links := range [][]types.TransientResourceLink{a.TransientResourceLinks, b.TransientResourceLinks} {
		for _, l := range links {
			key := [2]string{l.Pred, l.Obj}
			if _, seen := seenTransient[key]; seen {
				continue
			}
			seenTransient[key] = struct{}{}
			out.TransientResourceLinks = append(out.TransientResourceLinks, l)
		}
	}

	return out, nil
}

func duplicateIDs(resources []types.Resource) []string {
	counts := map[string]int{}
	for _, res := range resources {
		counts[res.ID]++
	}
	var dupes []string
	for _, res := range resources {
		if counts[res.ID] > 1 {
			dupes = append(dupes, res.ID)
			counts[res.ID] = 0
		}
	}
	slices.Sort(dupes)
	return slices.Compact(dupes)
}

func orphanedReferences(resources []types.Resource) []string {
	present := make(map[string]struct{}, len(resources))
	for _, res := range resources {
		present[res.ID] = struct{}{}
	}
	var orphans []string
	for _, res := range resources {
		for _, link := range res.Links.ResourceLinks {
			if _, ok := present[link.Obj]; !ok {
				orphans = append(orphans, link.Obj)
			}
		}
	}
	slices.Sort(orphans)
	return slices.Compact(orphans)
}
