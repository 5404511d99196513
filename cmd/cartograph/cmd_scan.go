package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/google/uuid"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/cartograph-io/cartograph/access"
	"github.com/cartograph-io/cartograph/artifact"
	"github.com/cartograph-io/cartograph/config"
	"github.com/cartograph-io/cartograph/coordinator"
	"github.com/cartograph-io/cartograph/journal"
	"github.com/cartograph-io/cartograph/muxer"
	awsres "github.com/cartograph-io/cartograph/providers/aws"
	"github.com/cartograph-io/cartograph/regions"
	"github.com/cartograph-io/cartograph/registry"
	"github.com/cartograph-io/cartograph/storage"
	"github.com/cartograph-io/cartograph/telemetry"
)

var (
	scanConfigPath string
	scanID         string
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan accounts and assemble the resource graph",
	Long: `Run one complete scan: fan out over the configured accounts,
collect every account's resources into artifacts, and fold them into a
single validated graph.

The run fails with a non-zero exit when the assembled graph is not
usable: conflicting duplicate resources, dangling hard references, or
no account producing any artifact at all.`,
	Example: `  cartograph scan --config cartograph.yaml
  cartograph scan --config cartograph.yaml --scan-id nightly-2026-08-23`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVar(&scanConfigPath, "config", "cartograph.yaml", "Path to config file")
	scanCmd.Flags().StringVar(&scanID, "scan-id", "", "Scan id (default: a random uuid)")
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(scanConfigPath)
	if err != nil {
		return err
	}
	if scanID == "" {
		scanID = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	logger := telemetry.NewLogger("cartograph")

	tracer, err := telemetry.NewTraceProvider(ctx, cfg.Telemetry.OTLPEndpoint, "cartograph")
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = tracer.Shutdown(shutdownCtx)
	}()

	base, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("loading aws config: %w", err)
	}

	params, closeAll, err := buildRun(ctx, cfg, base, logger)
	if err != nil {
		return err
	}
	defer closeAll()

	var g run.Group
	g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))
	if cfg.Telemetry.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{Addr: cfg.Telemetry.MetricsAddr, Handler: mux}
		g.Add(func() error {
			return server.ListenAndServe()
		}, func(error) {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = server.Shutdown(shutdownCtx)
		})
	}

	var runErr error
	g.Add(func() error {
		manifest, validated, err := params.Run(ctx)
		if err != nil {
			runErr = err
			return err
		}
		fmt.Printf("scan %s complete: %d accounts scanned, %d unscanned, %d resources\n",
			manifest.ScanID, len(manifest.ScannedAccounts), len(manifest.UnscannedAccounts),
			len(validated.Resources()))
		fmt.Printf("master artifact: %s\n", manifest.MasterArtifact)
		return nil
	}, func(error) {
		cancel()
	})

	err = g.Run()
	if runErr != nil {
		return runErr
	}
	if err != nil && !isExpectedShutdown(err) {
		return err
	}
	return nil
}

// isExpectedShutdown filters the errors a clean group teardown produces.
func isExpectedShutdown(err error) bool {
	var sigErr run.SignalError
	return errors.As(err, &sigErr) ||
		errors.Is(err, http.ErrServerClosed) ||
		errors.Is(err, context.Canceled)
}

// buildRun wires config into a ready coordinator.
func buildRun(ctx context.Context, cfg *config.Config, base aws.Config, logger *telemetry.Logger) (coordinator.Params, func(), error) {
	none := func() {}

	accounts := cfg.Scan.Accounts
	if len(accounts) == 0 {
		identity, err := sts.NewFromConfig(base).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
		if err != nil {
			return coordinator.Params{}, none, fmt.Errorf("resolving caller account: %w", err)
		}
		accounts = []string{aws.ToString(identity.Account)}
	}

	var provider access.Provider = access.StaticProvider{Base: base}
	if cfg.Access.RoleName != "" {
		provider = access.NewAssumeRoleProvider(base,
			cfg.Access.RoleName, cfg.Access.SessionName, cfg.Access.ExternalID, cfg.Access.HopRoleARNs)
	}

	store, err := newArtifactStore(base, cfg.Scan.ArtifactPath)
	if err != nil {
		return coordinator.Params{}, none, err
	}

	if err := os.MkdirAll(cfg.Storage.Dir, 0o755); err != nil {
		return coordinator.Params{}, none, fmt.Errorf("creating storage dir: %w", err)
	}
	catalog, err := storage.Open(cfg.Storage.Dir)
	if err != nil {
		return coordinator.Params{}, none, err
	}
	runJournal, err := journal.Open(filepath.Join(cfg.Storage.Dir, "journal.jsonl"))
	if err != nil {
		catalog.Close()
		return coordinator.Params{}, none, err
	}
	closeAll := func() {
		_ = runJournal.Close()
		_ = catalog.Close()
	}

	reg := registry.New()
	awsres.Register(reg)
	resolver := regions.NewResolver(awsres.DefaultRegionCatalog(awsres.CommercialRegions))

	var mux *muxer.Mux
	switch cfg.Muxer.Mode {
	case config.MuxerModeLambda:
		mux = muxer.NewLambda(muxer.LambdaOptions{
			ScanID:            scanID,
			Client:            muxer.NewLambdaClient(base, cfg.Muxer.LambdaTimeout.Std()),
			FunctionName:      cfg.Muxer.LambdaFunction,
			MaxAccountWorkers: cfg.Muxer.MaxAccountWorkers,
			MaxTries:          cfg.Muxer.MaxAccountTries,
			RetryBackoff:      cfg.Muxer.RetryBackoff.Std(),
			Journal:           runJournal,
		})
	default:
		mux = muxer.NewLocal(muxer.LocalOptions{
			ScanID:            scanID,
			Registry:          reg,
			Provider:          provider,
			Resolver:          resolver,
			Artifacts:         store,
			MaxAccountWorkers: cfg.Muxer.MaxAccountWorkers,
			MaxServiceWorkers: cfg.Muxer.MaxServiceWorkers,
			MaxTries:          cfg.Muxer.MaxAccountTries,
			RetryBackoff:      cfg.Muxer.RetryBackoff.Std(),
			Journal:           runJournal,
		})
	}

	return coordinator.Params{
		ScanID:                  scanID,
		GraphName:               cfg.Graph.Name,
		GraphVersion:            cfg.Graph.Version,
		Accounts:                accounts,
		ExpandOrgMembership:     cfg.Scan.ExpandOrgMembership,
		Regions:                 cfg.Scan.Regions,
		PreferredAccountRegions: cfg.Scan.PreferredAccountRegions,
		Mux:                     mux,
		Artifacts:               store,
		Registry:                reg,
		ListOrgAccounts:         coordinator.NewOrgLister(provider),
		Catalog:                 catalog,
		Journal:                 runJournal,
		Logger:                  logger,
	}, closeAll, nil
}

func newArtifactStore(base aws.Config, artifactPath string) (artifact.Store, error) {
	if rest, ok := strings.CutPrefix(artifactPath, "s3://"); ok {
		bucket, prefix, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return nil, fmt.Errorf("malformed artifact_path %q", artifactPath)
		}
		return artifact.NewS3Store(s3.NewFromConfig(base), bucket, prefix), nil
	}
	return artifact.NewFSStore(artifactPath), nil
}
