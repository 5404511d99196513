// Package stats provides a tree-shaped counter for attributing API call
// counts to an ordered tuple of category labels, e.g.
// account/region/service/operation.
package stats

import (
	"encoding/json"
	"fmt"
)

// Counter counts categorized items hierarchically. Incrementing
// ("123", "us-east-1", "ec2") bumps the total, the per-account count, the
// per-region count under that account, and so on.
//
// Counter is not safe for concurrent use. Each scan task owns its own
// counter; counters are combined with Merge at fan-in points only.
type Counter struct {
	Count    int
	Children map[string]*Counter
}

// NewCounter returns an empty counter.
func NewCounter() *Counter {
	return &Counter{Children: map[string]*Counter{}}
}

// Increment bumps the count at every level of the given category path.
func (c *Counter) Increment(categories ...string) {
	c.Count++
	if len(categories) == 0 {
		return
	}
	child, ok := c.Children[categories[0]]
	if !ok {
		child = NewCounter()
		c.Children[categories[0]] = child
	}
	child.Increment(categories[1:]...)
}

// Merge folds another counter into this one. The merge is associative, so
// fragments from many workers can be combined in any order.
func (c *Counter) Merge(other *Counter) {
	if other == nil {
		return
	}
	c.Count += other.Count
	for category, child := range other.Children {
		existing, ok := c.Children[category]
		if !ok {
			existing = NewCounter()
			c.Children[category] = existing
		}
		existing.Merge(child)
	}
}

// MarshalJSON emits {"count": N, "<category>": {...}, ...}.
func (c *Counter) MarshalJSON() ([]byte, error) {
	data := make(map[string]any, len(c.Children)+1)
	data["count"] = c.Count
	for category, child := range c.Children {
		data[category] = child
	}
	return json.Marshal(data)
}

// UnmarshalJSON parses the shape produced by MarshalJSON.
func (c *Counter) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	c.Count = 0
	c.Children = map[string]*Counter{}
	for key, val := range raw {
		if key == "count" {
			if err := json.Unmarshal(val, &c.Count); err != nil {
				return fmt.Errorf("parse count: %w", err)
			}
			continue
		}
		child := NewCounter()
		if err := json.Unmarshal(val, child); err != nil {
			return fmt.Errorf("parse category %q: %w", key, err)
		}
		c.Children[key] = child
	}
	return nil
}
