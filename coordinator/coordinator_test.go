package coordinator

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartograph-io/cartograph/access"
	"github.com/cartograph-io/cartograph/artifact"
	"github.com/cartograph-io/cartograph/muxer"
	"github.com/cartograph-io/cartograph/regions"
	"github.com/cartograph-io/cartograph/registry"
	"github.com/cartograph-io/cartograph/scan"
	"github.com/cartograph-io/cartograph/storage"
	"github.com/cartograph-io/cartograph/telemetry"
	"github.com/cartograph-io/cartograph/types"
)

const testAccount = "123456789012"

func testRegistry() *registry.Registry {
	reg := registry.New()
	reg.MustRegister(&registry.Descriptor{
		ServiceName: "ec2",
		TypeName:    "aws:ec2:instance",
		Granularity: registry.PerRegion,
		List: func(_ context.Context, acc *access.Accessor) (map[string]registry.RawResource, error) {
			id := "arn:aws:ec2:" + acc.Region + ":" + acc.AccountID + ":instance/i-1"
			return map[string]registry.RawResource{id: {"instance_type": "m5.large"}}, nil
		},
		Parse: func(_ string, raw registry.RawResource, _ registry.ScanContext) (types.LinkCollection, error) {
			return types.LinkCollection{
				SimpleLinks: []types.SimpleLink{{Pred: "instance_type", Obj: raw["instance_type"]}},
			}, nil
		},
	})
	return reg
}

func testMux(t *testing.T, reg *registry.Registry, store artifact.Store) *muxer.Mux {
	t.Helper()
	logger := telemetry.NewLogger("test")
	return &muxer.Mux{
		ScanID: "scan-1",
		Schedule: func(ctx context.Context, plan scan.AccountScanPlan) (scan.AccountScanManifest, error) {
			scanner := &scan.AccountScanner{
				Plan:              plan,
				ScanID:            "scan-1",
				Registry:          reg,
				Provider:          access.StaticProvider{Base: aws.Config{}},
				Resolver:          regions.NewResolver(regions.Catalog{"ec2": {"us-east-1"}}),
				Artifacts:         store,
				MaxServiceWorkers: 2,
				Logger:            logger,
				VerifyIdentity: func(context.Context, aws.Config) (string, error) {
					return plan.AccountID, nil
				},
			}
			return scanner.Scan(ctx)
		},
		MaxWorkers: 2,
		MaxTries:   2,
		Logger:     logger,
	}
}

func testParams(t *testing.T, mux *muxer.Mux, store artifact.Store, reg *registry.Registry) Params {
	t.Helper()
	catalog, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { catalog.Close() })

	return Params{
		ScanID:       "scan-1",
		GraphName:    "test",
		GraphVersion: "2",
		Accounts:     []string{testAccount},
		Regions:      []string{"us-east-1"},
		Mux:          mux,
		Artifacts:    store,
		Registry:     reg,
		Catalog:      catalog,
		Logger:       telemetry.NewLogger("test"),
	}
}

func TestRunEndToEnd(t *testing.T) {
	reg := testRegistry()
	store := artifact.NewFSStore(t.TempDir())
	p := testParams(t, testMux(t, reg, store), store, reg)

	manifest, validated, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{testAccount}, manifest.ScannedAccounts)
	assert.Empty(t, manifest.UnscannedAccounts)
	assert.Empty(t, manifest.ErrorsByAccount)
	assert.NotEmpty(t, manifest.MasterArtifact)

	require.Len(t, validated.Resources(), 1)
	assert.Equal(t, "arn:aws:ec2:us-east-1:123456789012:instance/i-1", validated.Resources()[0].ID)

	master, err := store.Read(context.Background(), manifest.MasterArtifact)
	require.NoError(t, err)
	assert.Len(t, master.Resources, 1)

	rec, found, err := p.Catalog.GetRun("scan-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1, rec.Resources)
	assert.Equal(t, []string{testAccount}, rec.ScannedAccounts)
}

func TestRunExpandsOrgMembership(t *testing.T) {
	reg := testRegistry()
	store := artifact.NewFSStore(t.TempDir())
	p := testParams(t, testMux(t, reg, store), store, reg)
	p.ExpandOrgMembership = true
	p.ListOrgAccounts = func(_ context.Context, masterAccountID string) ([]string, error) {
		assert.Equal(t, testAccount, masterAccountID)
		return []string{testAccount, "222222222222"}, nil
	}

	manifest, _, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{testAccount, "222222222222"}, manifest.ScannedAccounts)
}

func TestRunTolerantToOrgExpansionFailure(t *testing.T) {
	reg := testRegistry()
	store := artifact.NewFSStore(t.TempDir())
	p := testParams(t, testMux(t, reg, store), store, reg)
	p.ExpandOrgMembership = true
	p.ListOrgAccounts = func(context.Context, string) ([]string, error) {
		return nil, errors.New("access denied")
	}

	manifest, _, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{testAccount}, manifest.ScannedAccounts)
}

func TestRunAttributesErrorsToAccount(t *testing.T) {
	const sickAccount = "222222222222"
	reg := registry.New()
	reg.MustRegister(&registry.Descriptor{
		ServiceName: "ec2",
		TypeName:    "aws:ec2:instance",
		Granularity: registry.PerRegion,
		List: func(_ context.Context, acc *access.Accessor) (map[string]registry.RawResource, error) {
			if acc.AccountID == sickAccount {
				return nil, errors.New("throttled")
			}
			id := "arn:aws:ec2:" + acc.Region + ":" + acc.AccountID + ":instance/i-1"
			return map[string]registry.RawResource{id: {}}, nil
		},
		Parse: func(string, registry.RawResource, registry.ScanContext) (types.LinkCollection, error) {
			return types.LinkCollection{}, nil
		},
	})
	store := artifact.NewFSStore(t.TempDir())
	p := testParams(t, testMux(t, reg, store), store, reg)
	p.Accounts = []string{testAccount, sickAccount}

	manifest, validated, err := p.Run(context.Background())
	require.NoError(t, err)

	// the sick account still produced a fragment, so it counts as scanned,
	// with its failures attributed in the error map
	assert.ElementsMatch(t, []string{testAccount, sickAccount}, manifest.ScannedAccounts)
	assert.Empty(t, manifest.UnscannedAccounts)
	require.Contains(t, manifest.ErrorsByAccount, sickAccount)
	assert.Contains(t, manifest.ErrorsByAccount[sickAccount][0], "throttled")
	assert.NotContains(t, manifest.ErrorsByAccount, testAccount)

	require.Len(t, validated.Resources(), 1)
}

func TestRunFatalWhenNothingProducedArtifacts(t *testing.T) {
	reg := testRegistry()
	store := artifact.NewFSStore(t.TempDir())
	logger := telemetry.NewLogger("test")
	mux := &muxer.Mux{
		ScanID: "scan-1",
		Schedule: func(context.Context, scan.AccountScanPlan) (scan.AccountScanManifest, error) {
			return scan.AccountScanManifest{}, errors.New("lambda cold start timeout")
		},
		MaxWorkers: 1,
		MaxTries:   2,
		Logger:     logger,
	}
	p := testParams(t, mux, store, reg)

	_, _, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no account produced a scan artifact")
}
