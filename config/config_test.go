package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cartograph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
graph:
  name: cartograph
scan:
  artifact_path: /tmp/artifacts
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "2", cfg.Graph.Version)
	assert.Equal(t, MuxerModeLocal, cfg.Muxer.Mode)
	assert.Equal(t, 8, cfg.Muxer.MaxAccountWorkers)
	assert.Equal(t, 2, cfg.Muxer.MaxAccountTries)
	assert.Equal(t, 30*time.Second, cfg.Muxer.RetryBackoff.Std())
	assert.Equal(t, ".cartograph", cfg.Storage.Dir)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
graph:
  name: cartograph
  version: "2"
scan:
  accounts: ["123456789012"]
  expand_org_membership: true
  regions: ["us-east-1", "us-west-2"]
  preferred_account_regions: ["us-east-1"]
  artifact_path: s3://cartograph-artifacts/scans
access:
  role_name: CartographScanner
  external_id: abc123
muxer:
  mode: lambda
  lambda_function: cartograph-scan
  max_account_workers: 16
  retry_backoff: 1m
telemetry:
  otlp_endpoint: localhost:4317
  metrics_addr: :9090
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Scan.ExpandOrgMembership)
	assert.Equal(t, MuxerModeLambda, cfg.Muxer.Mode)
	assert.Equal(t, "cartograph-scan", cfg.Muxer.LambdaFunction)
	assert.Equal(t, time.Minute, cfg.Muxer.RetryBackoff.Std())
	assert.Equal(t, "CartographScanner", cfg.Access.RoleName)
}

func TestValidateRejectsMissingGraphName(t *testing.T) {
	path := writeConfig(t, `
scan:
  artifact_path: /tmp/artifacts
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "graph name")
}

func TestValidateRejectsLambdaModeWithoutFunction(t *testing.T) {
	path := writeConfig(t, `
graph:
  name: cartograph
scan:
  artifact_path: /tmp/artifacts
muxer:
  mode: lambda
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lambda_function")
}

func TestOrgExpansionWithoutAccountsIsValid(t *testing.T) {
	// no accounts means the caller's own account becomes the master
	path := writeConfig(t, `
graph:
  name: cartograph
scan:
  expand_org_membership: true
  artifact_path: /tmp/artifacts
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Scan.ExpandOrgMembership)
	assert.Empty(t, cfg.Scan.Accounts)
}
