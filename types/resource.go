// Package types holds the resource and link model shared by the scan and
// graph layers.
package types

// Resource is a single cloud resource: a globally unique identity (an
// ARN-like string), a type name, and the links that describe it.
type Resource struct {
	ID    string         `json:"resource_id"`
	Type  string         `json:"type"`
	Links LinkCollection `json:"link_collection"`
}
