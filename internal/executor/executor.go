// Package executor drives the rollup pipeline through its phase state
// machine: queued, fetching, matching, merging, storing, completed, with
// failed and cancelled terminals.
package executor

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/stratahq/strata/internal/audit"
	"github.com/stratahq/strata/internal/index"
	"github.com/stratahq/strata/internal/logging"
	"github.com/stratahq/strata/internal/match"
	"github.com/stratahq/strata/internal/merge"
	"github.com/stratahq/strata/internal/models"
	rollerrors "github.com/stratahq/strata/internal/rollup/errors"
	"github.com/stratahq/strata/internal/scans"
	"github.com/stratahq/strata/internal/store"
)

// Config bounds one execution. Per-phase timeouts apply inside the total
// deadline; the total deadline propagates to every subtask.
type Config struct {
	TotalTimeout         time.Duration `json:"totalTimeout" yaml:"totalTimeout"`
	PerRepositoryTimeout time.Duration `json:"perRepositoryTimeout" yaml:"perRepositoryTimeout"`
	PerMatcherTimeout    time.Duration `json:"perMatcherTimeout" yaml:"perMatcherTimeout"`
	BlastRadiusTimeout   time.Duration `json:"blastRadiusTimeout" yaml:"blastRadiusTimeout"`

	MaxParallelBatches int `json:"maxParallelBatches" yaml:"maxParallelBatches"`

	// Repository fetch retry policy. Match and merge failures are never
	// retried.
	FetchMaxAttempts  int           `json:"fetchMaxAttempts" yaml:"fetchMaxAttempts"`
	FetchInitialDelay time.Duration `json:"fetchInitialDelay" yaml:"fetchInitialDelay"`
	FetchMaxDelay     time.Duration `json:"fetchMaxDelay" yaml:"fetchMaxDelay"`

	Ambiguity match.AmbiguityPolicy `json:"ambiguity" yaml:"ambiguity"`
}

// DefaultConfig returns default execution bounds.
func DefaultConfig() Config {
	return Config{
		TotalTimeout:         10 * time.Minute,
		PerRepositoryTimeout: time.Minute,
		PerMatcherTimeout:    30 * time.Second,
		BlastRadiusTimeout:   30 * time.Second,
		MaxParallelBatches:   4,
		FetchMaxAttempts:     3,
		FetchInitialDelay:    time.Second,
		FetchMaxDelay:        15 * time.Second,
		Ambiguity:            match.DefaultAmbiguityPolicy(),
	}
}

// Validate checks the execution bounds.
func (c Config) Validate() error {
	if c.TotalTimeout <= 0 || c.PerRepositoryTimeout <= 0 || c.PerMatcherTimeout <= 0 {
		return models.NewValidationError("executor timeouts must be positive")
	}
	if c.MaxParallelBatches < 1 {
		return models.NewValidationError("maxParallelBatches must be positive, got %d", c.MaxParallelBatches)
	}
	if c.FetchMaxAttempts < 1 {
		return models.NewValidationError("fetchMaxAttempts must be positive, got %d", c.FetchMaxAttempts)
	}
	return nil
}

// CompletionFunc is called exactly once when an execution reaches a
// terminal phase.
type CompletionFunc func(execution models.RollupExecution)

// Executor runs rollup executions.
type Executor struct {
	config     Config
	provider   scans.GraphProvider
	builder    *index.Builder
	idx        index.Index
	factory    *match.Factory
	merger     *merge.Engine
	executions store.ExecutionStore
	graphs     store.GraphStore
	sink       audit.Sink
	onComplete CompletionFunc
	logger     *logging.Logger
}

// New creates an executor. onComplete may be nil.
func New(
	config Config,
	provider scans.GraphProvider,
	builder *index.Builder,
	idx index.Index,
	factory *match.Factory,
	merger *merge.Engine,
	executions store.ExecutionStore,
	graphs store.GraphStore,
	sink audit.Sink,
	onComplete CompletionFunc,
) (*Executor, error) {
	if err := config.Validate(); err != nil {
		return nil, rollerrors.Wrap(rollerrors.CodeInvalidConfig, err, "invalid executor configuration")
	}
	return &Executor{
		config:     config,
		provider:   provider,
		builder:    builder,
		idx:        idx,
		factory:    factory,
		merger:     merger,
		executions: executions,
		graphs:     graphs,
		sink:       sink,
		onComplete: onComplete,
		logger:     logging.GetLogger("executor"),
	}, nil
}

// Execute drives one execution to a terminal phase and returns the final
// record. Pipeline errors are folded into the record, never returned: the
// returned error only signals persistence problems around the record itself.
func (e *Executor) Execute(ctx context.Context, config models.RollupConfig, execution models.RollupExecution) (models.RollupExecution, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.TotalTimeout)
	defer cancel()

	if execution.Stats.PhaseDurationsMs == nil {
		execution.Stats.PhaseDurationsMs = make(map[string]int64)
	}

	graphs, err := runPhase(ctx, e, &execution, models.PhaseFetching, func(phaseCtx context.Context) ([]*models.ScanGraph, error) {
		return e.fetch(phaseCtx, config, &execution)
	})
	if err != nil {
		return e.finish(ctx, execution, err)
	}

	matchResult, err := runPhase(ctx, e, &execution, models.PhaseMatching, func(phaseCtx context.Context) (*match.Result, error) {
		return e.matchGraphs(phaseCtx, config, graphs, &execution)
	})
	if err != nil {
		return e.finish(ctx, execution, err)
	}

	merged, err := runPhase(ctx, e, &execution, models.PhaseMerging, func(phaseCtx context.Context) (*models.MergedGraph, error) {
		return e.mergeGraphs(phaseCtx, config, graphs, matchResult, &execution)
	})
	if err != nil {
		return e.finish(ctx, execution, err)
	}

	_, err = runPhase(ctx, e, &execution, models.PhaseStoring, func(phaseCtx context.Context) (struct{}, error) {
		if putErr := e.graphs.PutGraph(phaseCtx, merged); putErr != nil {
			return struct{}{}, rollerrors.Wrap(rollerrors.CodeExecStoreFailed, putErr, "failed to store merged graph")
		}
		return struct{}{}, nil
	})
	if err != nil {
		return e.finish(ctx, execution, err)
	}

	return e.finish(ctx, execution, nil)
}

// boundaryErr converts an observed context error into the terminal code the
// state machine records: timeouts fail, explicit cancellation cancels.
func boundaryErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return rollerrors.Wrap(rollerrors.CodeExecTimeout, err, "execution deadline exceeded")
		}
		return rollerrors.Wrap(rollerrors.CodeExecCancelled, err, "execution cancelled")
	}
	return nil
}

// runPhase transitions into phase, runs fn, and records the phase duration.
// Cancellation is observed at the phase boundary.
func runPhase[T any](ctx context.Context, e *Executor, execution *models.RollupExecution, phase models.ExecutionPhase, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := boundaryErr(ctx); err != nil {
		return zero, err
	}
	if !execution.Phase.CanTransition(phase) {
		return zero, rollerrors.Newf(rollerrors.CodeStateInvalidTransition,
			"cannot transition from %s to %s", execution.Phase, phase)
	}
	execution.Phase = phase
	if err := e.executions.SaveExecution(ctx, *execution); err != nil {
		return zero, err
	}
	e.audit(ctx, execution, "execution.phase", audit.SeverityInfo, map[string]interface{}{"phase": string(phase)})

	start := time.Now()
	out, err := fn(ctx)
	execution.Stats.PhaseDurationsMs[string(phase)] = time.Since(start).Milliseconds()
	return out, err
}

// fetch loads one scan graph per repository, fanned out and bounded by
// MaxParallelBatches, then refreshes the reference index. Index updates are
// the sanctioned partial side effect of a failed execution.
func (e *Executor) fetch(ctx context.Context, config models.RollupConfig, execution *models.RollupExecution) ([]*models.ScanGraph, error) {
	graphs := make([]*models.ScanGraph, len(config.RepositoryIDs))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.config.MaxParallelBatches)
	for i, repositoryID := range config.RepositoryIDs {
		i, repositoryID := i, repositoryID
		group.Go(func() error {
			graph, err := e.fetchRepository(groupCtx, config.TenantID, repositoryID, execution.ScanIDs)
			if err != nil {
				return err
			}
			graphs[i] = graph
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		if rollerrors.CodeOf(err) == "" {
			err = rollerrors.Wrap(rollerrors.CodeExecFetchFailed, err, "repository fetch failed")
		}
		return nil, err
	}

	var scanIDs []string
	for _, graph := range graphs {
		scanIDs = append(scanIDs, graph.Scan.ID)
		execution.Stats.NodesSeen += len(graph.Nodes)
		execution.Stats.EdgesSeen += len(graph.Edges)
	}
	execution.ScanIDs = scanIDs
	execution.Stats.RepositoriesFetched = len(graphs)

	buildResult, err := e.builder.Build(ctx, config.TenantID, config.RepositoryIDs, index.BuildOptions{})
	if err != nil {
		return nil, err
	}
	execution.Stats.RepositoriesSkipped = buildResult.RepositoriesSkipped
	return graphs, nil
}

// fetchRepository resolves one repository's scan graph, retrying retryable
// failures with exponential backoff up to FetchMaxAttempts.
func (e *Executor) fetchRepository(ctx context.Context, tenantID, repositoryID string, pinnedScans []string) (*models.ScanGraph, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.config.FetchInitialDelay
	policy.MaxInterval = e.config.FetchMaxDelay
	policy.MaxElapsedTime = 0

	var graph *models.ScanGraph
	attempts := 0
	operation := func() error {
		attempts++
		repoCtx, cancel := context.WithTimeout(ctx, e.config.PerRepositoryTimeout)
		defer cancel()

		g, err := e.loadGraph(repoCtx, tenantID, repositoryID, pinnedScans)
		if err != nil {
			if attempts >= e.config.FetchMaxAttempts || !rollerrors.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			e.logger.Warn("Fetch of repository %s attempt %d/%d failed: %v",
				repositoryID, attempts, e.config.FetchMaxAttempts, err)
			return err
		}
		graph = g
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	return graph, nil
}

// loadGraph fetches the repository's graph: a pinned scan when the run named
// one for this repository, otherwise the latest completed scan.
func (e *Executor) loadGraph(ctx context.Context, tenantID, repositoryID string, pinnedScans []string) (*models.ScanGraph, error) {
	for _, scanID := range pinnedScans {
		graph, err := e.provider.ScanGraph(ctx, tenantID, scanID)
		if err != nil {
			return nil, err
		}
		if graph.Scan.RepositoryID == repositoryID {
			return graph, nil
		}
	}
	scan, err := e.provider.LatestScan(ctx, tenantID, repositoryID)
	if err != nil {
		return nil, err
	}
	return e.provider.ScanGraph(ctx, tenantID, scan.ID)
}

// matchGraphs runs the match engine under the matching-phase deadline.
func (e *Executor) matchGraphs(ctx context.Context, config models.RollupConfig, graphs []*models.ScanGraph, execution *models.RollupExecution) (*match.Result, error) {
	engine, err := match.NewEngine(e.idx, e.factory, config.Matchers, e.config.Ambiguity)
	if err != nil {
		return nil, err
	}

	// The per-matcher budget scales with the configured matcher count.
	matchCtx, cancel := context.WithTimeout(ctx, e.config.PerMatcherTimeout*time.Duration(len(config.Matchers)))
	defer cancel()

	result, err := engine.Run(matchCtx, config.TenantID, graphs)
	if err != nil {
		if errors.Is(matchCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, rollerrors.Wrap(rollerrors.CodeExecTimeout, err, "matching phase deadline exceeded")
		}
		return nil, err
	}

	execution.Stats.CandidatePairs = result.PairsEvaluated + result.PairsMemoized
	execution.Stats.MatcherEvaluations = result.PairsEvaluated
	execution.Stats.EquivalenceClasses = len(result.Classes)
	for _, warning := range result.Warnings {
		if warning.Code == rollerrors.CodeMatchAmbiguous {
			execution.Stats.AmbiguousMatches++
		}
	}
	return result, nil
}

// mergeGraphs folds the matched graphs into the merged graph. Merge errors
// are terminal, never retried.
func (e *Executor) mergeGraphs(ctx context.Context, config models.RollupConfig, graphs []*models.ScanGraph, matchResult *match.Result, execution *models.RollupExecution) (*models.MergedGraph, error) {
	merged, err := e.merger.Merge(ctx, merge.Input{
		ExecutionID:     execution.ID,
		TenantID:        config.TenantID,
		Graphs:          graphs,
		Classes:         matchResult.Classes,
		Options:         config.MergeOptions,
		RepositoryOrder: config.RepositoryOrder(),
	})
	if err != nil {
		return nil, err
	}

	execution.Stats.MergedNodes = len(merged.Nodes)
	execution.Stats.MergedEdges = len(merged.Edges)
	for _, edge := range merged.Edges {
		if edge.Type == models.EdgeTypeCrossRepoIdentity {
			execution.Stats.CrossRepoEdges++
		}
	}
	return merged, nil
}

// finish settles the execution into its terminal phase, persists it, and
// announces completion exactly once.
func (e *Executor) finish(ctx context.Context, execution models.RollupExecution, cause error) (models.RollupExecution, error) {
	observedPhase := execution.Phase

	switch {
	case cause == nil:
		execution.Phase = models.PhaseCompleted
		execution.Error = nil
	case rollerrors.CodeOf(cause) == rollerrors.CodeExecCancelled:
		execution.Phase = models.PhaseCancelled
		execution.Error = &models.ExecutionError{
			Code:    string(rollerrors.CodeExecCancelled),
			Message: cause.Error(),
			Phase:   string(observedPhase),
		}
	default:
		execution.Phase = models.PhaseFailed
		code := rollerrors.CodeOf(cause)
		if code == "" {
			code = rollerrors.CodeExecStoreFailed
		}
		execution.Error = &models.ExecutionError{
			Code:    string(code),
			Message: cause.Error(),
			Phase:   string(observedPhase),
		}
	}
	execution.FinishedAt = time.Now().UnixNano()

	// Persist with a background-derived context: the execution deadline may
	// already have fired, the terminal record must still land.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	saveErr := e.executions.SaveExecution(saveCtx, execution)

	severity := audit.SeverityInfo
	if execution.Phase == models.PhaseFailed {
		severity = audit.SeverityError
	}
	details := map[string]interface{}{"phase": string(execution.Phase)}
	if execution.Error != nil {
		details["errorCode"] = execution.Error.Code
	}
	e.audit(saveCtx, &execution, "execution.finished", severity, details)

	if e.onComplete != nil {
		e.onComplete(execution)
	}
	if cause != nil {
		e.logger.ErrorWithErr("Execution finished", cause, "execution=%s phase=%s", execution.ID, execution.Phase)
	} else {
		e.logger.Info("Execution %s completed: %d nodes, %d edges, %d classes",
			execution.ID, execution.Stats.MergedNodes, execution.Stats.MergedEdges, execution.Stats.EquivalenceClasses)
	}
	return execution, saveErr
}

func (e *Executor) audit(ctx context.Context, execution *models.RollupExecution, action string, severity audit.Severity, details map[string]interface{}) {
	if e.sink == nil {
		return
	}
	e.sink.Record(ctx, audit.Event{
		TenantID:     execution.TenantID,
		Action:       action,
		ResourceType: "execution",
		ResourceID:   execution.ID,
		Severity:     severity,
		Details:      details,
	})
}
