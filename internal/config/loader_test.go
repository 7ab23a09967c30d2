package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratahq/strata/internal/models"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeFile(t, "strata.yaml", `
server:
  logLevel: debug
  metricsPort: 9191
queue:
  concurrency: 8
executor:
  totalTimeout: 5m
service:
  maxConcurrentRollups: 2
risk:
  defaultEdgeWeight: 0.4
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, 9191, cfg.Server.MetricsPort)
	assert.Equal(t, 8, cfg.Queue.Concurrency)
	assert.Equal(t, 5*time.Minute, cfg.Executor.TotalTimeout)
	assert.Equal(t, 2, cfg.Service.MaxConcurrentRollups)
	assert.Equal(t, 0.4, cfg.Risk.DefaultEdgeWeight)

	// Sections absent from the file keep their defaults.
	assert.Equal(t, Default().Queue.MaxAttempts, cfg.Queue.MaxAttempts)
	assert.Equal(t, Default().Falkor.Port, cfg.Falkor.Port)
	assert.Equal(t, Default().RateLimit.MaxRequestsPerWindow, cfg.RateLimit.MaxRequestsPerWindow)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeFile(t, "strata.yaml", `
server:
  logLevel: loud
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadRiskFile(t *testing.T) {
	path := writeFile(t, "risk.yaml", `
defaultEdgeWeight: 0.6
edgeWeights:
  depends_on: 0.9
thresholds:
  - level: critical
    minNodes: 10
    minWeightedReach: 8
`)

	cfg, err := LoadRiskFile(path)
	require.NoError(t, err)
	assert.Equal(t, 0.6, cfg.DefaultEdgeWeight)
	assert.Equal(t, 0.9, cfg.EdgeWeights[models.EdgeTypeDependsOn])
	require.Len(t, cfg.Thresholds, 1)
	assert.Equal(t, models.RiskCritical, cfg.Thresholds[0].Level)
	assert.Equal(t, 10, cfg.Thresholds[0].MinNodes)
}

func TestLoadRiskFileRejectsInvalidWeights(t *testing.T) {
	path := writeFile(t, "risk.yaml", `
defaultEdgeWeight: 2.5
`)
	_, err := LoadRiskFile(path)
	assert.Error(t, err)
}
