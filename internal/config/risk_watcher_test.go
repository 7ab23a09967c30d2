package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratahq/strata/internal/models"
)

const validRisk = `
defaultEdgeWeight: 0.5
thresholds:
  - level: high
    minNodes: 20
    minWeightedReach: 15
`

const updatedRisk = `
defaultEdgeWeight: 0.5
thresholds:
  - level: critical
    minNodes: 5
    minWeightedReach: 4
`

func startWatcher(t *testing.T, path string) *RiskWatcher {
	t.Helper()
	w, err := NewRiskWatcher(RiskWatcherConfig{FilePath: path, DebounceMillis: 10})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop(context.Background()) })
	return w
}

func TestRiskWatcherRequiresPath(t *testing.T) {
	_, err := NewRiskWatcher(RiskWatcherConfig{})
	assert.Error(t, err)
}

func TestRiskWatcherLoadsInitialConfig(t *testing.T) {
	path := writeFile(t, "risk.yaml", validRisk)
	w := startWatcher(t, path)

	current := w.Current()
	require.Len(t, current.Thresholds, 1)
	assert.Equal(t, models.RiskHigh, current.Thresholds[0].Level)
	assert.Equal(t, models.RiskHigh, w.Source()().Thresholds[0].Level)
}

func TestRiskWatcherReloadsOnChange(t *testing.T) {
	path := writeFile(t, "risk.yaml", validRisk)
	w := startWatcher(t, path)

	require.NoError(t, os.WriteFile(path, []byte(updatedRisk), 0o644))

	require.Eventually(t, func() bool {
		current := w.Current()
		return len(current.Thresholds) == 1 && current.Thresholds[0].Level == models.RiskCritical
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 5, w.Current().Thresholds[0].MinNodes)
}

func TestRiskWatcherKeepsPreviousOnInvalidFile(t *testing.T) {
	path := writeFile(t, "risk.yaml", validRisk)
	w := startWatcher(t, path)

	require.NoError(t, os.WriteFile(path, []byte("defaultEdgeWeight: 7\n"), 0o644))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, models.RiskHigh, w.Current().Thresholds[0].Level)

	// A later valid write still takes effect.
	require.NoError(t, os.WriteFile(path, []byte(updatedRisk), 0o644))
	require.Eventually(t, func() bool {
		return w.Current().Thresholds[0].Level == models.RiskCritical
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRiskWatcherFailsOnMissingInitialFile(t *testing.T) {
	w, err := NewRiskWatcher(RiskWatcherConfig{FilePath: "/nonexistent/risk.yaml"})
	require.NoError(t, err)
	assert.Error(t, w.Start(context.Background()))
}
