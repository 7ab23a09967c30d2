package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratahq/strata/internal/models"
	rollerrors "github.com/stratahq/strata/internal/rollup/errors"
)

func TestSchedulerBookkeeping(t *testing.T) {
	fx := newFixture(t, fixtureOptions{})
	sched := NewScheduler(fx.service)

	// No schedule, no entry.
	require.NoError(t, sched.Add(models.RollupConfig{ID: "c1", TenantID: "t1"}))
	assert.Equal(t, 0, sched.Scheduled())

	cfg := models.RollupConfig{ID: "c2", TenantID: "t1", Schedule: "*/15 * * * *"}
	require.NoError(t, sched.Add(cfg))
	assert.Equal(t, 1, sched.Scheduled())

	// Re-adding replaces instead of stacking.
	require.NoError(t, sched.Add(cfg))
	assert.Equal(t, 1, sched.Scheduled())

	sched.Remove("c2")
	assert.Equal(t, 0, sched.Scheduled())
	sched.Remove("missing")
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	fx := newFixture(t, fixtureOptions{})
	sched := NewScheduler(fx.service)

	err := sched.Add(models.RollupConfig{ID: "c1", TenantID: "t1", Schedule: "not-cron"})
	require.Error(t, err)
	assert.Equal(t, rollerrors.CodeInvalidSchedule, rollerrors.CodeOf(err))
}

func TestSchedulerStartStop(t *testing.T) {
	fx := newFixture(t, fixtureOptions{})
	sched := NewScheduler(fx.service)
	require.NoError(t, sched.Add(models.RollupConfig{ID: "c1", TenantID: "t1", Schedule: "0 3 * * *"}))

	require.NoError(t, sched.Start(context.Background()))
	require.NoError(t, sched.Stop(context.Background()))
	assert.Equal(t, "Rollup Scheduler", sched.Name())
}
