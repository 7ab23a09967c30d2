package store

import (
	"context"

	"github.com/stratahq/strata/internal/index"
	"github.com/stratahq/strata/internal/models"
)

// ConfigStore persists rollup configurations. Every method is tenant-scoped;
// ids belonging to another tenant behave as absent.
type ConfigStore interface {
	// CreateConfig stores a new configuration. Names are unique per tenant.
	CreateConfig(ctx context.Context, cfg models.RollupConfig) error

	// ConfigByID returns one configuration.
	ConfigByID(ctx context.Context, tenantID, id string) (models.RollupConfig, error)

	// ConfigByName returns one configuration by its tenant-unique name.
	ConfigByName(ctx context.Context, tenantID, name string) (models.RollupConfig, error)

	// UpdateConfig replaces a configuration when the stored version equals
	// expectedVersion, bumping the version by one. Returns the stored config.
	UpdateConfig(ctx context.Context, cfg models.RollupConfig, expectedVersion int64) (models.RollupConfig, error)

	// ListConfigs returns all configurations of a tenant sorted by name.
	ListConfigs(ctx context.Context, tenantID string) ([]models.RollupConfig, error)
}

// ExecutionStore persists rollup executions.
type ExecutionStore interface {
	// CreateExecution stores a new execution record.
	CreateExecution(ctx context.Context, exec models.RollupExecution) error

	// SaveExecution overwrites an existing execution record.
	SaveExecution(ctx context.Context, exec models.RollupExecution) error

	// ExecutionByID returns one execution.
	ExecutionByID(ctx context.Context, tenantID, id string) (models.RollupExecution, error)

	// ListExecutions returns the executions of one rollup, newest first.
	ListExecutions(ctx context.Context, tenantID, rollupID string, filter models.ExecutionFilter) ([]models.RollupExecution, error)

	// RunningCount counts non-terminal executions of a tenant. rollupID
	// narrows to one rollup when non-empty.
	RunningCount(ctx context.Context, tenantID, rollupID string) (int, error)
}

// GraphStore persists merged graphs, write-once per execution.
type GraphStore interface {
	// PutGraph stores a merged graph. Graphs are immutable: a second write
	// for the same execution fails.
	PutGraph(ctx context.Context, graph *models.MergedGraph) error

	// Graph loads the merged graph of one execution.
	Graph(ctx context.Context, tenantID, executionID string) (*models.MergedGraph, error)

	// DeleteGraph removes a stored graph, for retention cleanup.
	DeleteGraph(ctx context.Context, tenantID, executionID string) error
}

// IndexStore is the persistence surface behind the tiered reference index.
type IndexStore = index.Store
