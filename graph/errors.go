package graph

import (
	"fmt"
	"strings"
)

// ConflictError reports duplicate resources sharing an identity that could
// not be merged: conflicting link values or an unresolvable type override.
// This is a run-fatal modeling error, never papered over.
type ConflictError struct {
	ResourceID string
	Detail     string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("unmergeable duplicate resources for %s: %s", e.ResourceID, e.Detail)
}

// DuplicateIDsError reports duplicate resource ids surviving deduplication.
// This defends against a merge bug introducing new duplicates.
type DuplicateIDsError struct {
	IDs []string
}

func (e *DuplicateIDsError) Error() string {
	return fmt.Sprintf("duplicate resource ids after deduplication: %s", strings.Join(e.IDs, ", "))
}

// OrphanedReferencesError reports hard resource links whose targets are not
// present in the graph.
type OrphanedReferencesError struct {
	Refs []string
}

func (e *OrphanedReferencesError) Error() string {
	return fmt.Sprintf("references to resources which were not scanned: %s", strings.Join(e.Refs, ", "))
}
