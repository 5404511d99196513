package types

import (
	"reflect"
	"sort"
)

// SimpleLink attaches a scalar key/value to a resource.
type SimpleLink struct {
	Pred string `json:"pred"`
	Obj  any    `json:"obj"`
}

// MultiLink attaches a named sub-object to a resource, for example an
// EBS volume attachment with its own volume id and attach time.
type MultiLink struct {
	Pred string         `json:"pred"`
	Obj  LinkCollection `json:"obj"`
}

// TagLink attaches a tag key/value to a resource.
type TagLink struct {
	Pred string `json:"pred"`
	Obj  string `json:"obj"`
}

// ResourceLink is a hard reference to another resource. The target must
// exist in the final graph.
type ResourceLink struct {
	Pred string `json:"pred"`
	Obj  string `json:"obj"`
}

// TransientResourceLink is a soft reference to another resource. The target
// may legitimately be absent, e.g. it was not scanned or no longer exists.
type TransientResourceLink struct {
	Pred string `json:"pred"`
	Obj  string `json:"obj"`
}

// LinkCollection holds the five disjoint link kinds a resource may carry.
type LinkCollection struct {
	SimpleLinks            []SimpleLink            `json:"simple_links,omitempty"`
	MultiLinks             []MultiLink             `json:"multi_links,omitempty"`
	TagLinks               []TagLink               `json:"tag_links,omitempty"`
	ResourceLinks          []ResourceLink          `json:"resource_links,omitempty"`
	TransientResourceLinks []TransientResourceLink `json:"transient_resource_links,omitempty"`
}

// IsEmpty reports whether the collection carries no links at all.
func (lc LinkCollection) IsEmpty() bool {
	return len(lc.SimpleLinks) == 0 &&
		len(lc.MultiLinks) == 0 &&
		len(lc.TagLinks) == 0 &&
		len(lc.ResourceLinks) == 0 &&
		len(lc.TransientResourceLinks) == 0
}

// Equal reports deep equality of two collections, ignoring link order.
func (lc LinkCollection) Equal(other LinkCollection) bool {
	return reflect.DeepEqual(lc.sorted(), other.sorted())
}

func (lc LinkCollection) sorted() LinkCollection {
	out := LinkCollection{
		SimpleLinks:            append([]SimpleLink(nil), lc.SimpleLinks...),
		MultiLinks:             append([]MultiLink(nil), lc.MultiLinks...),
		TagLinks:               append([]TagLink(nil), lc.TagLinks...),
		ResourceLinks:          append([]ResourceLink(nil), lc.ResourceLinks...),
		TransientResourceLinks: append([]TransientResourceLink(nil), lc.TransientResourceLinks...),
	}
	sort.Slice(out.SimpleLinks, func(i, j int) bool { return out.SimpleLinks[i].Pred < out.SimpleLinks[j].Pred })
	sort.Slice(out.MultiLinks, func(i, j int) bool { return out.MultiLinks[i].Pred < out.MultiLinks[j].Pred })
	sort.Slice(out.TagLinks, func(i, j int) bool { return out.TagLinks[i].Pred < out.TagLinks[j].Pred })
	sort.Slice(out.ResourceLinks, func(i, j int) bool { return out.ResourceLinks[i].Pred < out.ResourceLinks[j].Pred })
	sort.Slice(out.TransientResourceLinks, func(i, j int) bool {
		return out.TransientResourceLinks[i].Pred < out.TransientResourceLinks[j].Pred
	})
	return out
}
