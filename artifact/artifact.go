// Package artifact persists scan fragments as JSON artifacts, on local
// disk or in S3, and reads them back for graph assembly.
package artifact

import (
	"context"

	"github.com/cartograph-io/cartograph/graph"
)

// Store writes and reads fragment artifacts. Write returns the full path
// of the stored artifact; the same path is later accepted by Read, so
// manifests can carry paths without knowing which backend produced them.
type Store interface {
	Write(ctx context.Context, scanID, name string, f *graph.Fragment) (string, error)
	// WriteRaw stores pre-encoded JSON, e.g. the run manifest.
	WriteRaw(ctx context.Context, scanID, name string, data []byte) (string, error)
	Read(ctx context.Context, path string) (*graph.Fragment, error)
}
