// Package audit records state-changing operations and high-signal queries.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/stratahq/strata/internal/logging"
	"github.com/stratahq/strata/internal/models"
)

// Severity scales how an event is surfaced.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// SeverityForRisk maps a blast-radius risk level to an audit severity.
func SeverityForRisk(level models.RiskLevel) Severity {
	switch level {
	case models.RiskCritical:
		return SeverityCritical
	case models.RiskHigh:
		return SeverityError
	case models.RiskMedium:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Event is one audit record. Timestamp is Unix nanoseconds.
type Event struct {
	TenantID     string                 `json:"tenantId"`
	Action       string                 `json:"action"`
	ResourceType string                 `json:"resourceType"`
	ResourceID   string                 `json:"resourceId"`
	Severity     Severity               `json:"severity"`
	Details      map[string]interface{} `json:"details,omitempty"`
	Timestamp    int64                  `json:"timestamp"`
}

// Sink receives audit events. Implementations must tolerate concurrent calls.
type Sink interface {
	Record(ctx context.Context, event Event)
}

// LoggerSink writes events through the structured logger.
type LoggerSink struct {
	logger *logging.Logger
}

// NewLoggerSink creates a sink backed by the process logger.
func NewLoggerSink() *LoggerSink {
	return &LoggerSink{logger: logging.GetLogger("audit")}
}

// Record logs one event at its severity.
func (s *LoggerSink) Record(ctx context.Context, event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixNano()
	}
	fields := []logging.LogField{
		logging.Field("tenantId", event.TenantID),
		logging.Field("action", event.Action),
		logging.Field("resourceType", event.ResourceType),
		logging.Field("resourceId", event.ResourceID),
	}
	for key, value := range event.Details {
		fields = append(fields, logging.Field(key, value))
	}

	switch event.Severity {
	case SeverityCritical, SeverityError:
		s.logger.ErrorWithFields("audit: "+event.Action, fields...)
	case SeverityWarning:
		s.logger.WarnWithFields("audit: "+event.Action, fields...)
	default:
		s.logger.InfoWithFields("audit: "+event.Action, fields...)
	}
}

// CaptureSink buffers events in memory, used by tests.
type CaptureSink struct {
	mu     sync.Mutex
	events []Event
}

// NewCaptureSink creates an empty capture sink.
func NewCaptureSink() *CaptureSink {
	return &CaptureSink{}
}

// Record appends the event.
func (s *CaptureSink) Record(ctx context.Context, event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixNano()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

// Events returns a snapshot of recorded events.
func (s *CaptureSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// ByAction filters the snapshot by action name.
func (s *CaptureSink) ByAction(action string) []Event {
	var out []Event
	for _, event := range s.Events() {
		if event.Action == action {
			out = append(out, event)
		}
	}
	return out
}
