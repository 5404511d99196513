package artifact

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartograph-io/cartograph/graph"
	"github.com/cartograph-io/cartograph/stats"
	"github.com/cartograph-io/cartograph/types"
)

func TestFSStoreRoundTrip(t *testing.T) {
	store := NewFSStore(t.TempDir())
	ctx := context.Background()

	counter := stats.NewCounter()
	counter.Increment("123456789012", "us-east-1", "ec2", "DescribeInstances")
	f := &graph.Fragment{
		Name:      "test",
		Version:   "2",
		StartTime: 100,
		EndTime:   200,
		Resources: []types.Resource{{ID: "arn:aws:ec2:us-east-1:123456789012:instance/i-1", Type: "aws:ec2:instance"}},
		Errors:    []string{"iam throttled"},
		Stats:     counter,
	}

	path, err := store.Write(ctx, "scan-1", "123456789012", f)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.Root, "scan-1", "123456789012.json"), path)

	got, err := store.Read(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, f.Name, got.Name)
	assert.Equal(t, f.Resources, got.Resources)
	assert.Equal(t, f.Errors, got.Errors)
	assert.Equal(t, 1, got.Stats.Count)
}

func TestFSStoreReadMissing(t *testing.T) {
	store := NewFSStore(t.TempDir())
	_, err := store.Read(context.Background(), filepath.Join(store.Root, "nope.json"))
	assert.Error(t, err)
}

func TestParseS3Path(t *testing.T) {
	bucket, key, err := parseS3Path("s3://artifacts/scan-1/123456789012.json")
	require.NoError(t, err)
	assert.Equal(t, "artifacts", bucket)
	assert.Equal(t, "scan-1/123456789012.json", key)

	_, _, err = parseS3Path("/tmp/scan-1/123456789012.json")
	assert.Error(t, err)
}
