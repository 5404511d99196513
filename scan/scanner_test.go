package scan

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartograph-io/cartograph/access"
	"github.com/cartograph-io/cartograph/artifact"
	awsres "github.com/cartograph-io/cartograph/providers/aws"
	"github.com/cartograph-io/cartograph/regions"
	"github.com/cartograph-io/cartograph/registry"
	"github.com/cartograph-io/cartograph/telemetry"
	"github.com/cartograph-io/cartograph/types"
)

const testAccount = "123456789012"

func listN(service string, n int) registry.ListFunc {
	return func(_ context.Context, acc *access.Accessor) (map[string]registry.RawResource, error) {
		out := map[string]registry.RawResource{}
		for i := range n {
			id := fmt.Sprintf("arn:aws:%s:%s:%s:thing/%d", service, acc.Region, acc.AccountID, i)
			out[id] = registry.RawResource{"index": i}
		}
		return out, nil
	}
}

func parseEmpty(_ string, _ registry.RawResource, _ registry.ScanContext) (types.LinkCollection, error) {
	return types.LinkCollection{}, nil
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	reg.MustRegister(&registry.Descriptor{
		ServiceName: "ec2",
		TypeName:    "aws:ec2:instance",
		Granularity: registry.PerRegion,
		List:        listN("ec2", 2),
		Parse:       parseEmpty,
	})
	reg.MustRegister(&registry.Descriptor{
		ServiceName: "ec2",
		TypeName:    "aws:ec2:vpc",
		Granularity: registry.PerRegion,
		List:        listN("ec2", 1),
		Parse:       parseEmpty,
	})
	reg.MustRegister(&registry.Descriptor{
		ServiceName: "s3",
		TypeName:    "aws:s3:bucket",
		Granularity: registry.PerAccount,
		List:        listN("s3", 1),
		Parse:       parseEmpty,
	})
	return reg
}

func testScanner(t *testing.T, reg *registry.Registry) *AccountScanner {
	t.Helper()
	return &AccountScanner{
		Plan: AccountScanPlan{
			GraphName:               "test",
			GraphVersion:            "2",
			AccountID:               testAccount,
			Regions:                 []string{"us-east-1", "us-west-2"},
			PreferredAccountRegions: []string{"us-east-1"},
		},
		ScanID:   "scan-1",
		Registry: reg,
		Provider: access.StaticProvider{Base: aws.Config{}},
		Resolver: regions.NewResolver(regions.Catalog{
			"ec2": {"us-east-1", "us-west-2", "eu-west-1"},
			"s3":  {"us-east-1", "us-west-2"},
		}),
		Artifacts:         artifact.NewFSStore(t.TempDir()),
		MaxServiceWorkers: 4,
		Logger:            telemetry.NewLogger("test"),
		VerifyIdentity: func(context.Context, aws.Config) (string, error) {
			return testAccount, nil
		},
	}
}

func TestPartitionGroupsByRegionAndService(t *testing.T) {
	s := testScanner(t, testRegistry(t))

	tasks, planErrors := s.partition([]string{"us-east-1", "us-west-2"}, []string{"us-east-1"})
	require.Empty(t, planErrors)

	// ec2 in two regions plus s3 in exactly one preferred region
	require.Len(t, tasks, 3)
	byKey := map[string]*ServiceScanTask{}
	for _, task := range tasks {
		byKey[task.Region+"|"+task.ServiceName] = task
	}
	assert.Len(t, byKey["us-east-1|ec2"].Descriptors, 2)
	assert.Len(t, byKey["us-west-2|ec2"].Descriptors, 2)
	assert.Len(t, byKey["us-east-1|s3"].Descriptors, 1)
}

func TestPartitionParallelDescriptorGetsOwnTask(t *testing.T) {
	reg := testRegistry(t)
	reg.MustRegister(&registry.Descriptor{
		ServiceName: "ec2",
		TypeName:    "aws:ec2:snapshot",
		Granularity: registry.PerRegion,
		Parallel:    true,
		List:        listN("ec2", 1),
		Parse:       parseEmpty,
	})
	s := testScanner(t, reg)

	tasks, planErrors := s.partition([]string{"us-east-1"}, []string{"us-east-1"})
	require.Empty(t, planErrors)

	// grouped ec2, solo snapshot, s3
	require.Len(t, tasks, 3)
	var solo int
	for _, task := range tasks {
		if len(task.Descriptors) == 1 && task.Descriptors[0].TypeName == "aws:ec2:snapshot" {
			solo++
		}
	}
	assert.Equal(t, 1, solo)
}

func TestPartitionFallsBackToAllowList(t *testing.T) {
	reg := registry.New()
	reg.MustRegister(&registry.Descriptor{
		ServiceName:     "ec2",
		TypeName:        "aws:ec2:capacity-reservation",
		Granularity:     registry.PerRegion,
		RegionAllowList: []string{"eu-west-1"},
		List:            listN("ec2", 1),
		Parse:           parseEmpty,
	})
	s := testScanner(t, reg)

	// run regions exclude the pinned region; the descriptor must not be dropped
	tasks, planErrors := s.partition([]string{"us-east-1"}, []string{"us-east-1"})
	require.Empty(t, planErrors)
	require.Len(t, tasks, 1)
	assert.Equal(t, "eu-west-1", tasks[0].Region)
}

func TestScanProducesArtifactAndManifest(t *testing.T) {
	s := testScanner(t, testRegistry(t))

	manifest, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testAccount, manifest.AccountID)
	assert.True(t, manifest.Scanned())
	require.Len(t, manifest.ArtifactPaths, 1)

	f, err := s.Artifacts.Read(context.Background(), manifest.ArtifactPaths[0])
	require.NoError(t, err)
	// 2 instances + 1 vpc in each of two regions, 1 bucket in one region
	assert.Len(t, f.Resources, 7)
	assert.Equal(t, "test", f.Name)
}

func TestScanEmbedsListErrors(t *testing.T) {
	reg := registry.New()
	reg.MustRegister(&registry.Descriptor{
		ServiceName: "ec2",
		TypeName:    "aws:ec2:instance",
		Granularity: registry.PerRegion,
		List: func(context.Context, *access.Accessor) (map[string]registry.RawResource, error) {
			return nil, errors.New("throttled")
		},
		Parse: parseEmpty,
	})
	s := testScanner(t, reg)
	s.Plan.Regions = []string{"us-east-1"}

	manifest, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.False(t, manifest.Scanned())
	require.Len(t, manifest.Errors, 1)
	assert.Contains(t, manifest.Errors[0], "aws:ec2:instance")
	assert.Contains(t, manifest.Errors[0], "throttled")
}

func TestScanIdentityMismatchWritesPlaceholder(t *testing.T) {
	s := testScanner(t, testRegistry(t))
	s.VerifyIdentity = func(context.Context, aws.Config) (string, error) {
		return "999999999999", nil
	}

	manifest, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.False(t, manifest.Scanned())

	f, err := s.Artifacts.Read(context.Background(), manifest.ArtifactPaths[0])
	require.NoError(t, err)
	require.Len(t, f.Resources, 1)
	assert.Equal(t, awsres.UnscannedAccountTypeName, f.Resources[0].Type)
	assert.Equal(t, awsres.AccountARN(testAccount), f.Resources[0].ID)
}

func TestScanDiscoversRegionsWhenUnpinned(t *testing.T) {
	s := testScanner(t, testRegistry(t))
	s.Plan.Regions = nil
	discovered := false
	s.DiscoverRegions = func(context.Context, aws.Config) ([]string, error) {
		discovered = true
		return []string{"us-east-1"}, nil
	}

	manifest, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.True(t, discovered)
	assert.True(t, manifest.Scanned())
}
