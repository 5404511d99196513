package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"golang.org/x/sync/errgroup"

	"github.com/cartograph-io/cartograph/access"
	"github.com/cartograph-io/cartograph/artifact"
	"github.com/cartograph-io/cartograph/graph"
	awsres "github.com/cartograph-io/cartograph/providers/aws"
	"github.com/cartograph-io/cartograph/regions"
	"github.com/cartograph-io/cartograph/registry"
	"github.com/cartograph-io/cartograph/stats"
	"github.com/cartograph-io/cartograph/telemetry"
	"github.com/cartograph-io/cartograph/types"
)

// AccountScanner scans one account end to end: it verifies the credentials
// actually land in the planned account, discovers enabled regions when the
// plan does not pin them, partitions resource kinds into service scan
// tasks, runs the tasks with bounded parallelism and writes the merged
// fragment as one artifact.
//
// A fatal failure before any task can run does not raise: the scanner
// writes a placeholder fragment holding an unscanned-account resource, so
// the account stays visible in the graph with the reason attached.
type AccountScanner struct {
	Plan              AccountScanPlan
	ScanID            string
	Registry          *registry.Registry
	Provider          access.Provider
	Resolver          *regions.Resolver
	Artifacts         artifact.Store
	MaxServiceWorkers int
	Logger            *telemetry.Logger

	// VerifyIdentity returns the account id the config's credentials
	// resolve to. Defaults to sts GetCallerIdentity.
	VerifyIdentity func(ctx context.Context, cfg aws.Config) (string, error)
	// DiscoverRegions lists the regions enabled for the account. Defaults
	// to ec2 DescribeRegions. Only consulted when the plan pins no regions.
	DiscoverRegions func(ctx context.Context, cfg aws.Config) ([]string, error)
}

// Scan runs the account scan and returns its manifest. An error return
// means the attempt itself broke, e.g. the artifact could not be written;
// such attempts produce no manifest and are eligible for retry.
func (s *AccountScanner) Scan(ctx context.Context) (AccountScanManifest, error) {
	start := time.Now().Unix()
	log := s.Logger.WithAccount(ctx, s.Plan.AccountID)
	log.Info().Str("event", telemetry.EventAccountScanStart).Msg("scanning account")

	begin := time.Now()
	defer func() { telemetry.AccountScanDuration.Observe(time.Since(begin).Seconds()) }()

	cfg, err := s.Provider.Config(ctx, s.Plan.AccountID, "")
	if err != nil {
		return s.unscanned(ctx, start, fmt.Sprintf("building access for %s: %v", s.Plan.AccountID, err))
	}

	gotAccount, err := s.verifyIdentity(ctx, cfg)
	if err != nil {
		return s.unscanned(ctx, start, fmt.Sprintf("verifying identity for %s: %v", s.Plan.AccountID, err))
	}
	if gotAccount != s.Plan.AccountID {
		return s.unscanned(ctx, start,
			fmt.Sprintf("credentials resolve to account %s, not %s", gotAccount, s.Plan.AccountID))
	}

	enabled := s.Plan.Regions
	if len(enabled) == 0 {
		enabled, err = s.discoverRegions(ctx, cfg)
		if err != nil {
			return s.unscanned(ctx, start, fmt.Sprintf("discovering regions for %s: %v", s.Plan.AccountID, err))
		}
	}
	preferred := s.Plan.PreferredAccountRegions
	if len(preferred) == 0 {
		preferred = enabled
	}

	tasks, planErrors := s.partition(enabled, preferred)

	fragments := make([]*graph.Fragment, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.MaxServiceWorkers, 1))
	for i, task := range tasks {
		g.Go(func() error {
			fragments[i] = task.Run(gctx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return AccountScanManifest{}, err
	}

	base := &graph.Fragment{
		Name:      s.Plan.GraphName,
		Version:   s.Plan.GraphVersion,
		StartTime: start,
		EndTime:   time.Now().Unix(),
		Errors:    planErrors,
		Stats:     stats.NewCounter(),
	}
	merged, err := graph.Merge(append([]*graph.Fragment{base}, fragments...)...)
	if err != nil {
		return AccountScanManifest{}, err
	}

	path, err := s.Artifacts.Write(ctx, s.ScanID, s.Plan.AccountID, merged)
	if err != nil {
		return AccountScanManifest{}, err
	}

	telemetry.AccountsScanned.Inc()
	log.Info().
		Str("event", telemetry.EventAccountScanEnd).
		Int("resources", len(merged.Resources)).
		Int("errors", len(merged.Errors)).
		Msg("account scan done")

	return AccountScanManifest{
		AccountID:     s.Plan.AccountID,
		ArtifactPaths: []string{path},
		Errors:        merged.Errors,
		APICallStats:  merged.Stats,
	}, nil
}

// partition maps registered descriptors onto service scan tasks. Kinds of
// the same service in the same region share a task unless marked Parallel,
// which gives them a task of their own.
func (s *AccountScanner) partition(enabled, preferred []string) ([]*ServiceScanTask, []string) {
	var tasks []*ServiceScanTask
	var planErrors []string
	grouped := map[string]*ServiceScanTask{}

	for _, desc := range s.Registry.Descriptors() {
		scanRegions, err := s.Resolver.Resolve(desc, enabled, preferred)
		// A descriptor pinned to specific regions must not be dropped just
		// because the run's region filter excludes them; fall back to the
		// raw allow-list.
		var noRegions *regions.NoRegionsError
		if errors.As(err, &noRegions) && len(desc.RegionAllowList) > 0 {
			scanRegions, err = s.Resolver.Resolve(desc, nil, desc.RegionAllowList)
		}
		if err != nil {
			planErrors = append(planErrors, err.Error())
			continue
		}
		for _, region := range scanRegions {
			if desc.Parallel {
				tasks = append(tasks, s.newTask(region, desc.ServiceName, desc))
				continue
			}
			key := region + "|" + desc.ServiceName
			task, ok := grouped[key]
			if !ok {
				task = s.newTask(region, desc.ServiceName)
				grouped[key] = task
				tasks = append(tasks, task)
			}
			task.Descriptors = append(task.Descriptors, desc)
		}
	}
	return tasks, planErrors
}

func (s *AccountScanner) newTask(region, service string, descs ...*registry.Descriptor) *ServiceScanTask {
	return &ServiceScanTask{
		AccountID:    s.Plan.AccountID,
		Region:       region,
		ServiceName:  service,
		Descriptors:  descs,
		Provider:     s.Provider,
		GraphName:    s.Plan.GraphName,
		GraphVersion: s.Plan.GraphVersion,
		Logger:       s.Logger,
	}
}

// unscanned writes the placeholder artifact for an account-fatal failure.
func (s *AccountScanner) unscanned(ctx context.Context, start int64, reason string) (AccountScanManifest, error) {
	telemetry.AccountScanFailures.Inc()
	s.Logger.WithAccount(ctx, s.Plan.AccountID).Error().
		Str("event", telemetry.EventAccountScanError).
		Str("error", reason).
		Msg("account scan failed")

	f := &graph.Fragment{
		Name:      s.Plan.GraphName,
		Version:   s.Plan.GraphVersion,
		StartTime: start,
		EndTime:   time.Now().Unix(),
		Resources: []types.Resource{awsres.NewUnscannedAccountResource(s.Plan.AccountID, []string{reason})},
		Errors:    []string{reason},
		Stats:     stats.NewCounter(),
	}
	path, err := s.Artifacts.Write(ctx, s.ScanID, s.Plan.AccountID, f)
	if err != nil {
		return AccountScanManifest{}, err
	}
	return AccountScanManifest{
		AccountID:     s.Plan.AccountID,
		ArtifactPaths: []string{path},
		Errors:        f.Errors,
		APICallStats:  f.Stats,
	}, nil
}

func (s *AccountScanner) verifyIdentity(ctx context.Context, cfg aws.Config) (string, error) {
	if s.VerifyIdentity != nil {
		return s.VerifyIdentity(ctx, cfg)
	}
	out, err := sts.NewFromConfig(cfg).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.Account), nil
}

func (s *AccountScanner) discoverRegions(ctx context.Context, cfg aws.Config) ([]string, error) {
	if s.DiscoverRegions != nil {
		return s.DiscoverRegions(ctx, cfg)
	}
	out, err := ec2.NewFromConfig(cfg).DescribeRegions(ctx, &ec2.DescribeRegionsInput{})
	if err != nil {
		return nil, err
	}
	regionNames := make([]string, 0, len(out.Regions))
	for _, r := range out.Regions {
		regionNames = append(regionNames, aws.ToString(r.RegionName))
	}
	return regionNames, nil
}
