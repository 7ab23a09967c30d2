package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratahq/strata/internal/models"
)

func TestSeverityForRisk(t *testing.T) {
	assert.Equal(t, SeverityInfo, SeverityForRisk(models.RiskLow))
	assert.Equal(t, SeverityWarning, SeverityForRisk(models.RiskMedium))
	assert.Equal(t, SeverityError, SeverityForRisk(models.RiskHigh))
	assert.Equal(t, SeverityCritical, SeverityForRisk(models.RiskCritical))
}

func TestCaptureSink(t *testing.T) {
	sink := NewCaptureSink()
	ctx := context.Background()

	sink.Record(ctx, Event{TenantID: "t1", Action: "rollup.create", ResourceID: "c1", Severity: SeverityInfo})
	sink.Record(ctx, Event{TenantID: "t1", Action: "rollup.run", ResourceID: "c1", Severity: SeverityInfo})
	sink.Record(ctx, Event{TenantID: "t1", Action: "rollup.create", ResourceID: "c2", Severity: SeverityInfo})

	events := sink.Events()
	require.Len(t, events, 3)
	for _, event := range events {
		assert.NotZero(t, event.Timestamp)
	}

	creates := sink.ByAction("rollup.create")
	require.Len(t, creates, 2)
	assert.Equal(t, "c2", creates[1].ResourceID)
}

func TestLoggerSinkDoesNotPanic(t *testing.T) {
	sink := NewLoggerSink()
	for _, severity := range []Severity{SeverityInfo, SeverityWarning, SeverityError, SeverityCritical} {
		sink.Record(context.Background(), Event{
			TenantID: "t1",
			Action:   "rollup.update",
			Severity: severity,
			Details:  map[string]interface{}{"version": 2},
		})
	}
}
