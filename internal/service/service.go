// Package service is the tenant-facing facade over rollup configuration,
// execution, and blast-radius queries. Every operation is tenant-scoped:
// resources of another tenant behave as absent.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/stratahq/strata/internal/audit"
	"github.com/stratahq/strata/internal/blast"
	"github.com/stratahq/strata/internal/executor"
	"github.com/stratahq/strata/internal/logging"
	"github.com/stratahq/strata/internal/models"
	"github.com/stratahq/strata/internal/queue"
	"github.com/stratahq/strata/internal/ratelimit"
	rollerrors "github.com/stratahq/strata/internal/rollup/errors"
	"github.com/stratahq/strata/internal/store"
)

// Config bounds service-level admission.
type Config struct {
	MaxRepositoriesPerRollup int           `json:"maxRepositoriesPerRollup" yaml:"maxRepositoriesPerRollup"`
	MaxConcurrentRollups     int           `json:"maxConcurrentRollups" yaml:"maxConcurrentRollups"`
	BlastRadiusTimeout       time.Duration `json:"blastRadiusTimeout" yaml:"blastRadiusTimeout"`
}

// DefaultConfig returns service admission defaults.
func DefaultConfig() Config {
	return Config{
		MaxRepositoriesPerRollup: models.DefaultMaxRepositoriesPerRollup,
		MaxConcurrentRollups:     4,
		BlastRadiusTimeout:       30 * time.Second,
	}
}

// Validate checks the admission bounds.
func (c Config) Validate() error {
	if c.MaxRepositoriesPerRollup < models.MinRepositoriesPerRollup {
		return models.NewValidationError("maxRepositoriesPerRollup must be at least %d, got %d",
			models.MinRepositoriesPerRollup, c.MaxRepositoriesPerRollup)
	}
	if c.MaxConcurrentRollups < 1 {
		return models.NewValidationError("maxConcurrentRollups must be positive, got %d", c.MaxConcurrentRollups)
	}
	if c.BlastRadiusTimeout <= 0 {
		return models.NewValidationError("blastRadiusTimeout must be positive")
	}
	return nil
}

// RunOptions controls how an execution is started.
type RunOptions struct {
	// Async enqueues the execution on the worker pool instead of running it
	// inline.
	Async bool
}

// Service exposes the rollup operations.
type Service struct {
	config     Config
	configs    store.ConfigStore
	executions store.ExecutionStore
	graphs     store.GraphStore
	executor   *executor.Executor
	pool       *queue.Pool
	limiter    *ratelimit.Registry
	blast      *blast.Engine
	sink       audit.Sink
	logger     *logging.Logger
}

// New creates the service. pool and limiter may be nil: a nil pool refuses
// async runs, a nil limiter disables rate limiting.
func New(
	config Config,
	configs store.ConfigStore,
	executions store.ExecutionStore,
	graphs store.GraphStore,
	exec *executor.Executor,
	pool *queue.Pool,
	limiter *ratelimit.Registry,
	blastEngine *blast.Engine,
	sink audit.Sink,
) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, rollerrors.Wrap(rollerrors.CodeInvalidConfig, err, "invalid service configuration")
	}
	return &Service{
		config:     config,
		configs:    configs,
		executions: executions,
		graphs:     graphs,
		executor:   exec,
		pool:       pool,
		limiter:    limiter,
		blast:      blastEngine,
		sink:       sink,
		logger:     logging.GetLogger("service"),
	}, nil
}

// Create validates and stores a new rollup configuration, assigning its id
// and initial version.
func (s *Service) Create(ctx context.Context, cfg models.RollupConfig) (models.RollupConfig, error) {
	if err := s.allow(cfg.TenantID); err != nil {
		return models.RollupConfig{}, err
	}
	if err := cfg.Validate(s.config.MaxRepositoriesPerRollup); err != nil {
		return models.RollupConfig{}, rollerrors.Wrap(rollerrors.CodeInvalidConfig, err, "invalid rollup configuration")
	}

	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	now := time.Now().UnixNano()
	cfg.Status = models.RollupStatusActive
	cfg.Version = 1
	cfg.CreatedAt = now
	cfg.UpdatedAt = now

	if err := s.configs.CreateConfig(ctx, cfg); err != nil {
		return models.RollupConfig{}, err
	}
	s.audit(ctx, cfg.TenantID, "rollup.create", "rollup", cfg.ID, audit.SeverityInfo, map[string]interface{}{
		"name": cfg.Name,
	})
	s.logger.Info("Created rollup %s (%s) for tenant %s", cfg.ID, cfg.Name, cfg.TenantID)
	return cfg, nil
}

// Update replaces a rollup configuration under optimistic concurrency. The
// caller passes the version it read; a mismatch fails with a version
// conflict carrying the current version.
func (s *Service) Update(ctx context.Context, cfg models.RollupConfig, expectedVersion int64) (models.RollupConfig, error) {
	if err := s.allow(cfg.TenantID); err != nil {
		return models.RollupConfig{}, err
	}
	existing, err := s.configs.ConfigByID(ctx, cfg.TenantID, cfg.ID)
	if err != nil {
		return models.RollupConfig{}, err
	}
	if existing.Status == models.RollupStatusArchived {
		return models.RollupConfig{}, rollerrors.Newf(rollerrors.CodeStateArchived,
			"rollup %s is archived", cfg.ID)
	}
	if err := cfg.Validate(s.config.MaxRepositoriesPerRollup); err != nil {
		return models.RollupConfig{}, rollerrors.Wrap(rollerrors.CodeInvalidConfig, err, "invalid rollup configuration")
	}

	cfg.Status = existing.Status
	cfg.CreatedAt = existing.CreatedAt
	cfg.UpdatedAt = time.Now().UnixNano()
	stored, err := s.configs.UpdateConfig(ctx, cfg, expectedVersion)
	if err != nil {
		return models.RollupConfig{}, err
	}
	s.audit(ctx, cfg.TenantID, "rollup.update", "rollup", cfg.ID, audit.SeverityInfo, map[string]interface{}{
		"version": stored.Version,
	})
	return stored, nil
}

// Get returns one rollup configuration.
func (s *Service) Get(ctx context.Context, tenantID, id string) (models.RollupConfig, error) {
	return s.configs.ConfigByID(ctx, tenantID, id)
}

// List returns all rollup configurations of a tenant.
func (s *Service) List(ctx context.Context, tenantID string) ([]models.RollupConfig, error) {
	return s.configs.ListConfigs(ctx, tenantID)
}

// Delete archives a rollup. Archived rollups keep their executions and
// refuse new runs. Archiving is idempotent.
func (s *Service) Delete(ctx context.Context, tenantID, id string) error {
	existing, err := s.configs.ConfigByID(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if existing.Status == models.RollupStatusArchived {
		return nil
	}
	existing.Status = models.RollupStatusArchived
	existing.UpdatedAt = time.Now().UnixNano()
	if _, err := s.configs.UpdateConfig(ctx, existing, existing.Version); err != nil {
		return err
	}
	s.audit(ctx, tenantID, "rollup.delete", "rollup", id, audit.SeverityInfo, nil)
	s.logger.Info("Archived rollup %s for tenant %s", id, tenantID)
	return nil
}

// Run starts an execution of a rollup. scanIDs pins specific scans; an empty
// list selects the latest completed scan per repository. Synchronous runs
// surface the terminal error directly; asynchronous runs surface it via
// GetExecution.
func (s *Service) Run(ctx context.Context, tenantID, id string, scanIDs []string, opts RunOptions) (models.RollupExecution, error) {
	if err := s.allow(tenantID); err != nil {
		return models.RollupExecution{}, err
	}
	cfg, err := s.configs.ConfigByID(ctx, tenantID, id)
	if err != nil {
		return models.RollupExecution{}, err
	}
	if cfg.Status == models.RollupStatusArchived {
		return models.RollupExecution{}, rollerrors.Newf(rollerrors.CodeStateArchived,
			"rollup %s is archived", id)
	}

	running, err := s.executions.RunningCount(ctx, tenantID, "")
	if err != nil {
		return models.RollupExecution{}, err
	}
	if running >= s.config.MaxConcurrentRollups {
		return models.RollupExecution{}, rollerrors.Newf(rollerrors.CodeMaxConcurrent,
			"tenant %s already has %d executions running", tenantID, running).
			WithDetail("retryAfterSeconds", 5)
	}

	execution := models.RollupExecution{
		ID:        uuid.NewString(),
		RollupID:  cfg.ID,
		TenantID:  tenantID,
		ScanIDs:   scanIDs,
		Phase:     models.PhaseQueued,
		StartedAt: time.Now().UnixNano(),
	}
	if err := s.executions.CreateExecution(ctx, execution); err != nil {
		return models.RollupExecution{}, err
	}
	s.audit(ctx, tenantID, "rollup.run", "execution", execution.ID, audit.SeverityInfo, map[string]interface{}{
		"rollupId": cfg.ID,
		"async":    opts.Async,
	})

	if opts.Async {
		if s.pool == nil {
			return models.RollupExecution{}, rollerrors.New(rollerrors.CodeInfraUnavailable,
				"no execution queue configured")
		}
		if err := s.pool.Enqueue(execution.ID, func(jobCtx context.Context) error {
			_, runErr := s.executor.Execute(jobCtx, cfg, execution)
			return runErr
		}); err != nil {
			return models.RollupExecution{}, err
		}
		return execution, nil
	}

	final, err := s.executor.Execute(ctx, cfg, execution)
	if err != nil {
		return final, err
	}
	if final.Error != nil {
		return final, rollerrors.New(rollerrors.Code(final.Error.Code), final.Error.Message)
	}
	return final, nil
}

// GetExecution returns one execution record.
func (s *Service) GetExecution(ctx context.Context, tenantID, executionID string) (models.RollupExecution, error) {
	return s.executions.ExecutionByID(ctx, tenantID, executionID)
}

// ListExecutions returns the executions of one rollup, newest first.
func (s *Service) ListExecutions(ctx context.Context, tenantID, rollupID string, filter models.ExecutionFilter) ([]models.RollupExecution, error) {
	if _, err := s.configs.ConfigByID(ctx, tenantID, rollupID); err != nil {
		return nil, err
	}
	return s.executions.ListExecutions(ctx, tenantID, rollupID, filter)
}

// BlastRadius answers an impact query against the merged graph of a
// completed execution. Audit severity scales with the computed risk level.
func (s *Service) BlastRadius(ctx context.Context, tenantID, executionID string, query models.BlastRadiusQuery) (*models.BlastRadiusResult, error) {
	execution, err := s.executions.ExecutionByID(ctx, tenantID, executionID)
	if err != nil {
		return nil, err
	}
	if execution.Phase != models.PhaseCompleted {
		return nil, rollerrors.Newf(rollerrors.CodeBlastNotReady,
			"execution %s is %s, not completed", executionID, execution.Phase)
	}
	graph, err := s.graphs.Graph(ctx, tenantID, executionID)
	if err != nil {
		return nil, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, s.config.BlastRadiusTimeout)
	defer cancel()
	result, err := s.blast.Analyze(queryCtx, graph, query)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, tenantID, "rollup.blast_radius", "execution", executionID,
		audit.SeverityForRisk(result.RiskLevel), map[string]interface{}{
			"riskLevel":     string(result.RiskLevel),
			"impactedCount": len(result.Impacted),
			"truncated":     result.Truncated,
		})
	return result, nil
}

// allow admits one request for the tenant or returns a rate-limit error with
// a retry-after hint.
func (s *Service) allow(tenantID string) error {
	if s.limiter == nil {
		return nil
	}
	ok, retryAfter := s.limiter.Allow(tenantID)
	if !ok {
		return rollerrors.Newf(rollerrors.CodeRateLimited,
			"tenant %s exceeded the request rate", tenantID).
			WithDetail("retryAfterSeconds", retryAfter)
	}
	return nil
}

func (s *Service) audit(ctx context.Context, tenantID, action, resourceType, resourceID string, severity audit.Severity, details map[string]interface{}) {
	if s.sink == nil {
		return
	}
	s.sink.Record(ctx, audit.Event{
		TenantID:     tenantID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Severity:     severity,
		Details:      details,
	})
}
