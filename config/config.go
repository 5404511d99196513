// Package config loads and validates the cartograph run configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main configuration
type Config struct {
	Graph     Graph     `yaml:"graph"`
	Scan      Scan      `yaml:"scan"`
	Access    Access    `yaml:"access,omitempty"`
	Muxer     Muxer     `yaml:"muxer,omitempty"`
	Telemetry Telemetry `yaml:"telemetry,omitempty"`
	Storage   Storage   `yaml:"storage,omitempty"`
}

// Graph names the graph a run produces.
type Graph struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// Scan defines what gets scanned and where artifacts land.
type Scan struct {
	// Accounts to scan. Empty means scan the caller's own account.
	Accounts []string `yaml:"accounts,omitempty"`
	// ExpandOrgMembership treats each configured account as an org master
	// and scans every member account it can list. With no accounts
	// configured, the caller's own account is the master.
	ExpandOrgMembership bool `yaml:"expand_org_membership,omitempty"`
	// Regions pins the scan to these regions. Empty means discover the
	// enabled regions per account.
	Regions []string `yaml:"regions,omitempty"`
	// PreferredAccountRegions are the regions per-account resource kinds
	// are scanned from.
	PreferredAccountRegions []string `yaml:"preferred_account_regions,omitempty"`
	// ArtifactPath is a local directory or an s3://bucket/prefix url.
	ArtifactPath string `yaml:"artifact_path"`
}

// Access configures cross-account role assumption.
type Access struct {
	RoleName    string   `yaml:"role_name,omitempty"`
	SessionName string   `yaml:"session_name,omitempty"`
	ExternalID  string   `yaml:"external_id,omitempty"`
	HopRoleARNs []string `yaml:"hop_role_arns,omitempty"`
}

// Duration is a time.Duration that accepts yaml strings like "30s" or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return err
	}
	*d = Duration(n)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Muxer configures scheduling: worker bounds, retries, and the optional
// lambda executor.
type Muxer struct {
	Mode              string   `yaml:"mode,omitempty"`
	MaxAccountWorkers int      `yaml:"max_account_workers,omitempty"`
	MaxServiceWorkers int      `yaml:"max_service_workers,omitempty"`
	MaxAccountTries   int      `yaml:"max_account_tries,omitempty"`
	RetryBackoff      Duration `yaml:"retry_backoff,omitempty"`

	LambdaFunction string   `yaml:"lambda_function,omitempty"`
	LambdaTimeout  Duration `yaml:"lambda_timeout,omitempty"`
}

// Telemetry configures tracing and metrics endpoints.
type Telemetry struct {
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
	MetricsAddr  string `yaml:"metrics_addr,omitempty"`
}

// Storage configures the local run catalog and journal.
type Storage struct {
	Dir string `yaml:"dir,omitempty"`
}

// Muxer modes.
const (
	MuxerModeLocal  = "local"
	MuxerModeLambda = "lambda"
)

// Load loads configuration from file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Graph.Version == "" {
		c.Graph.Version = "2"
	}
	if c.Muxer.Mode == "" {
		c.Muxer.Mode = MuxerModeLocal
	}
	if c.Muxer.MaxAccountWorkers == 0 {
		c.Muxer.MaxAccountWorkers = 8
	}
	if c.Muxer.MaxServiceWorkers == 0 {
		c.Muxer.MaxServiceWorkers = 8
	}
	if c.Muxer.MaxAccountTries == 0 {
		c.Muxer.MaxAccountTries = 2
	}
	if c.Muxer.RetryBackoff == 0 {
		c.Muxer.RetryBackoff = Duration(30 * time.Second)
	}
	if c.Muxer.LambdaTimeout == 0 {
		c.Muxer.LambdaTimeout = Duration(15 * time.Minute)
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = ".cartograph"
	}
}

// Validate ensures config has required fields
func (c *Config) Validate() error {
	if c.Graph.Name == "" {
		return fmt.Errorf("graph name is required")
	}
	if c.Scan.ArtifactPath == "" {
		return fmt.Errorf("artifact_path is required")
	}
	switch c.Muxer.Mode {
	case MuxerModeLocal:
	case MuxerModeLambda:
		if c.Muxer.LambdaFunction == "" {
			return fmt.Errorf("lambda_function is required in lambda mode")
		}
	default:
		return fmt.Errorf("unknown muxer mode %q", c.Muxer.Mode)
	}
	return nil
}
