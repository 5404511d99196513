package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cartograph-io/cartograph/graph"
)

// FSStore keeps artifacts under root/<scan id>/<name>.json.
type FSStore struct {
	Root string
}

// NewFSStore returns a filesystem-backed artifact store rooted at root.
func NewFSStore(root string) *FSStore {
	return &FSStore{Root: root}
}

func (s *FSStore) Write(ctx context.Context, scanID, name string, f *graph.Fragment) (string, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("encoding artifact %s/%s: %w", scanID, name, err)
	}
	return s.WriteRaw(ctx, scanID, name, data)
}

func (s *FSStore) WriteRaw(_ context.Context, scanID, name string, data []byte) (string, error) {
	dir := filepath.Join(s.Root, scanID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating artifact dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, name+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing artifact %s: %w", path, err)
	}
	return path, nil
}

func (s *FSStore) Read(_ context.Context, path string) (*graph.Fragment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading artifact %s: %w", path, err)
	}
	var f graph.Fragment
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding artifact %s: %w", path, err)
	}
	return &f, nil
}
