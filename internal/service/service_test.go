package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratahq/strata/internal/audit"
	"github.com/stratahq/strata/internal/blast"
	"github.com/stratahq/strata/internal/executor"
	"github.com/stratahq/strata/internal/index"
	"github.com/stratahq/strata/internal/match"
	"github.com/stratahq/strata/internal/merge"
	"github.com/stratahq/strata/internal/models"
	"github.com/stratahq/strata/internal/queue"
	"github.com/stratahq/strata/internal/ratelimit"
	"github.com/stratahq/strata/internal/refs"
	rollerrors "github.com/stratahq/strata/internal/rollup/errors"
	"github.com/stratahq/strata/internal/scans"
	"github.com/stratahq/strata/internal/store"
)

type fixture struct {
	service  *Service
	mem      *store.Memory
	provider *scans.StaticProvider
	sink     *audit.CaptureSink
	pool     *queue.Pool
}

type fixtureOptions struct {
	config   Config
	limiter  *ratelimit.Registry
	provider scans.GraphProvider
	withPool bool
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	mem := store.NewMemory()
	static := scans.NewStaticProvider()
	var provider scans.GraphProvider = static
	if opts.provider != nil {
		provider = opts.provider
	}

	registry := refs.DefaultRegistry(false)
	tiered := index.NewTieredIndex(mem, nil, nil, registry)
	builder := index.NewBuilder(mem, provider, registry, tiered)
	sink := audit.NewCaptureSink()

	execCfg := executor.DefaultConfig()
	execCfg.FetchInitialDelay = time.Millisecond
	execCfg.FetchMaxDelay = 5 * time.Millisecond
	exec, err := executor.New(execCfg, provider, builder, tiered, match.NewFactory(nil), merge.NewEngine(),
		mem, mem, sink, nil)
	require.NoError(t, err)

	var pool *queue.Pool
	if opts.withPool {
		poolCfg := queue.DefaultConfig()
		poolCfg.Concurrency = 2
		pool, err = queue.NewPool(poolCfg)
		require.NoError(t, err)
		t.Cleanup(func() { _ = pool.Stop(context.Background()) })
	}

	cfg := opts.config
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	svc, err := New(cfg, mem, mem, mem, exec, pool, opts.limiter, blast.NewEngine(nil), sink)
	require.NoError(t, err)
	return &fixture{service: svc, mem: mem, provider: static, sink: sink, pool: pool}
}

func seedARNGraphs(p *scans.StaticProvider, leftARN, rightARN string) {
	p.AddGraph(&models.ScanGraph{
		Scan: models.Scan{ID: "s1", TenantID: "t1", RepositoryID: "r1", CompletedAt: 100},
		Nodes: []models.Node{
			{ID: "n1", Type: "aws_s3_bucket", Name: "bucket",
				Metadata: map[string]models.Value{"arn": models.StringValue(leftARN)}},
		},
	})
	p.AddGraph(&models.ScanGraph{
		Scan: models.Scan{ID: "s2", TenantID: "t1", RepositoryID: "r2", CompletedAt: 100},
		Nodes: []models.Node{
			{ID: "n2", Type: "aws_s3_bucket", Name: "bucket",
				Metadata: map[string]models.Value{"arn": models.StringValue(rightARN)}},
		},
	})
}

func rollupSpec(name string) models.RollupConfig {
	return models.RollupConfig{
		TenantID:      "t1",
		Name:          name,
		RepositoryIDs: []string{"r1", "r2"},
		Matchers: []models.MatcherConfig{
			{Type: models.MatcherTypeARN, Priority: 10, MinConfidence: 0.8},
		},
		MergeOptions: models.DefaultMergeOptions(),
	}
}

func TestCreateAssignsIdentityAndVersion(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()

	created, err := f.service.Create(ctx, rollupSpec("prod"))
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, int64(1), created.Version)
	assert.Equal(t, models.RollupStatusActive, created.Status)
	assert.NotZero(t, created.CreatedAt)
	assert.Len(t, f.sink.ByAction("rollup.create"), 1)

	// Names are unique per tenant.
	_, err = f.service.Create(ctx, rollupSpec("prod"))
	assert.Equal(t, rollerrors.CodeDuplicateName, rollerrors.CodeOf(err))
}

func TestCreateRejectsInvalidConfig(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	spec := rollupSpec("prod")
	spec.RepositoryIDs = []string{"r1"} // below the minimum of two
	_, err := f.service.Create(context.Background(), spec)
	assert.Equal(t, rollerrors.CodeInvalidConfig, rollerrors.CodeOf(err))
}

func TestRunSharedARNProducesMergedGraph(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	seedARNGraphs(f.provider, "arn:aws:s3:::shared-bucket", "arn:aws:s3:::Shared-Bucket")

	created, err := f.service.Create(ctx, rollupSpec("prod"))
	require.NoError(t, err)

	execution, err := f.service.Run(ctx, "t1", created.ID, nil, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.PhaseCompleted, execution.Phase)
	assert.Equal(t, 1, execution.Stats.MergedNodes)
	assert.Equal(t, 1, execution.Stats.CrossRepoEdges)

	graph, err := f.mem.Graph(ctx, "t1", execution.ID)
	require.NoError(t, err)
	require.Len(t, graph.Nodes, 1)
	assert.Equal(t, 2, graph.Nodes[0].SourceCount)
	assert.Len(t, graph.Nodes[0].Representatives, 2)
	assert.Equal(t, 100, graph.Nodes[0].Confidence)
}

func TestRunDistinctARNsStayIsolated(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	seedARNGraphs(f.provider, "arn:aws:s3:::shared-bucket", "arn:aws:s3:::other-bucket")

	created, err := f.service.Create(ctx, rollupSpec("prod"))
	require.NoError(t, err)

	execution, err := f.service.Run(ctx, "t1", created.ID, nil, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.PhaseCompleted, execution.Phase)
	assert.Equal(t, 2, execution.Stats.MergedNodes)
	assert.Equal(t, 0, execution.Stats.CrossRepoEdges)
}

func TestRunSurfacesMergeFailure(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	// Matching pairs whose original dependency edges close a cycle once the
	// classes collapse.
	f.provider.AddGraph(&models.ScanGraph{
		Scan: models.Scan{ID: "s1", TenantID: "t1", RepositoryID: "r1", CompletedAt: 100},
		Nodes: []models.Node{
			{ID: "n1", Type: "module", Name: "a",
				Metadata: map[string]models.Value{"arn": models.StringValue("arn:aws:s3:::pair-a")}},
			{ID: "n2", Type: "module", Name: "b",
				Metadata: map[string]models.Value{"arn": models.StringValue("arn:aws:s3:::pair-b")}},
		},
		Edges: []models.Edge{{SourceID: "n1", TargetID: "n2", Type: models.EdgeTypeDependsOn, Confidence: 100}},
	})
	f.provider.AddGraph(&models.ScanGraph{
		Scan: models.Scan{ID: "s2", TenantID: "t1", RepositoryID: "r2", CompletedAt: 100},
		Nodes: []models.Node{
			{ID: "m1", Type: "module", Name: "c",
				Metadata: map[string]models.Value{"arn": models.StringValue("arn:aws:s3:::pair-b")}},
			{ID: "m2", Type: "module", Name: "d",
				Metadata: map[string]models.Value{"arn": models.StringValue("arn:aws:s3:::pair-a")}},
		},
		Edges: []models.Edge{{SourceID: "m1", TargetID: "m2", Type: models.EdgeTypeDependsOn, Confidence: 100}},
	})

	created, err := f.service.Create(ctx, rollupSpec("prod"))
	require.NoError(t, err)

	execution, err := f.service.Run(ctx, "t1", created.ID, nil, RunOptions{})
	require.Error(t, err)
	assert.Equal(t, rollerrors.CodeMergeCyclic, rollerrors.CodeOf(err))
	assert.Equal(t, models.PhaseFailed, execution.Phase)

	// The same terminal error is visible through GetExecution.
	stored, err := f.service.GetExecution(ctx, "t1", execution.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Error)
	assert.Equal(t, string(rollerrors.CodeMergeCyclic), stored.Error.Code)
}

func TestRunRefusesArchivedRollup(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	seedARNGraphs(f.provider, "arn:aws:s3:::a", "arn:aws:s3:::b")

	created, err := f.service.Create(ctx, rollupSpec("prod"))
	require.NoError(t, err)
	require.NoError(t, f.service.Delete(ctx, "t1", created.ID))

	// Archiving is idempotent.
	require.NoError(t, f.service.Delete(ctx, "t1", created.ID))

	_, err = f.service.Run(ctx, "t1", created.ID, nil, RunOptions{})
	assert.Equal(t, rollerrors.CodeStateArchived, rollerrors.CodeOf(err))

	_, err = f.service.Update(ctx, created, created.Version)
	assert.Equal(t, rollerrors.CodeStateArchived, rollerrors.CodeOf(err))
}

func TestTenantIsolationReportsNotFound(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()

	created, err := f.service.Create(ctx, rollupSpec("prod"))
	require.NoError(t, err)

	// Another tenant sees the resource as absent, never as forbidden.
	_, err = f.service.Get(ctx, "t2", created.ID)
	assert.Equal(t, rollerrors.CodeNotFound, rollerrors.CodeOf(err))
	_, err = f.service.Run(ctx, "t2", created.ID, nil, RunOptions{})
	assert.Equal(t, rollerrors.CodeNotFound, rollerrors.CodeOf(err))
	_, err = f.service.ListExecutions(ctx, "t2", created.ID, models.ExecutionFilter{})
	assert.Equal(t, rollerrors.CodeNotFound, rollerrors.CodeOf(err))
}

func TestRateLimitGatesMutations(t *testing.T) {
	limiter := ratelimit.NewRegistry(ratelimit.Config{
		MaxRequestsPerWindow: 1,
		Window:               time.Hour,
		BurstAllowance:       1,
	})
	f := newFixture(t, fixtureOptions{limiter: limiter})
	ctx := context.Background()

	_, err := f.service.Create(ctx, rollupSpec("prod"))
	require.NoError(t, err)

	_, err = f.service.Create(ctx, rollupSpec("staging"))
	require.Error(t, err)
	re, ok := rollerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, rollerrors.CodeRateLimited, re.Code)
	assert.Greater(t, re.RetryAfterSeconds(), 0)
}

// gatedProvider blocks LatestScan until released, keeping executions
// non-terminal.
type gatedProvider struct {
	inner *scans.StaticProvider
	gate  chan struct{}
}

func (p *gatedProvider) LatestScan(ctx context.Context, tenantID, repositoryID string) (models.Scan, error) {
	select {
	case <-p.gate:
	case <-ctx.Done():
		return models.Scan{}, ctx.Err()
	}
	return p.inner.LatestScan(ctx, tenantID, repositoryID)
}

func (p *gatedProvider) ScanGraph(ctx context.Context, tenantID, scanID string) (*models.ScanGraph, error) {
	return p.inner.ScanGraph(ctx, tenantID, scanID)
}

func TestRunEnforcesConcurrentLimit(t *testing.T) {
	static := scans.NewStaticProvider()
	seedARNGraphs(static, "arn:aws:s3:::a", "arn:aws:s3:::b")
	gated := &gatedProvider{inner: static, gate: make(chan struct{})}

	cfg := DefaultConfig()
	cfg.MaxConcurrentRollups = 2
	f := newFixture(t, fixtureOptions{config: cfg, provider: gated, withPool: true})
	ctx := context.Background()

	created, err := f.service.Create(ctx, rollupSpec("prod"))
	require.NoError(t, err)

	_, err = f.service.Run(ctx, "t1", created.ID, nil, RunOptions{Async: true})
	require.NoError(t, err)
	_, err = f.service.Run(ctx, "t1", created.ID, nil, RunOptions{Async: true})
	require.NoError(t, err)

	_, err = f.service.Run(ctx, "t1", created.ID, nil, RunOptions{Async: true})
	require.Error(t, err)
	re, ok := rollerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, rollerrors.CodeMaxConcurrent, re.Code)
	assert.Greater(t, re.RetryAfterSeconds(), 0)

	close(gated.gate)
}

func TestUpdateOptimisticConcurrencyRace(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()

	created, err := f.service.Create(ctx, rollupSpec("prod"))
	require.NoError(t, err)

	// Two writers race with the same observed version; exactly one wins.
	results := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			patch := created
			_, results[i] = f.service.Update(ctx, patch, created.Version)
		}(i)
	}
	wg.Wait()

	conflicts := 0
	successes := 0
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case rollerrors.CodeOf(err) == rollerrors.CodeVersionConflict:
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, conflicts)

	stored, err := f.service.Get(ctx, "t1", created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)
}

func TestBlastRadiusOnCompletedExecution(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	seedARNGraphs(f.provider, "arn:aws:s3:::shared-bucket", "arn:aws:s3:::shared-bucket")

	created, err := f.service.Create(ctx, rollupSpec("prod"))
	require.NoError(t, err)
	execution, err := f.service.Run(ctx, "t1", created.ID, nil, RunOptions{})
	require.NoError(t, err)

	graph, err := f.mem.Graph(ctx, "t1", execution.ID)
	require.NoError(t, err)
	require.NotEmpty(t, graph.Nodes)

	result, err := f.service.BlastRadius(ctx, "t1", execution.ID, models.BlastRadiusQuery{
		SeedNodeIDs:     []string{graph.Nodes[0].CanonicalID},
		MaxDepth:        5,
		MaxNodes:        10,
		IncludeIndirect: true,
	})
	require.NoError(t, err)
	require.Len(t, result.Impacted, 1)
	assert.Equal(t, 0, result.Impacted[0].Distance)
	assert.Equal(t, models.RiskLow, result.RiskLevel)
	assert.Len(t, f.sink.ByAction("rollup.blast_radius"), 1)
}

func TestBlastRadiusNotReady(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()

	pending := models.RollupExecution{
		ID: "e1", RollupID: "c1", TenantID: "t1",
		Phase: models.PhaseFetching, StartedAt: time.Now().UnixNano(),
	}
	require.NoError(t, f.mem.CreateExecution(ctx, pending))

	_, err := f.service.BlastRadius(ctx, "t1", "e1", models.BlastRadiusQuery{
		SeedNodeIDs: []string{"x"}, MaxDepth: 1, MaxNodes: 1,
	})
	assert.Equal(t, rollerrors.CodeBlastNotReady, rollerrors.CodeOf(err))
}

func TestListExecutionsNewestFirst(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	seedARNGraphs(f.provider, "arn:aws:s3:::a", "arn:aws:s3:::b")

	created, err := f.service.Create(ctx, rollupSpec("prod"))
	require.NoError(t, err)

	first, err := f.service.Run(ctx, "t1", created.ID, nil, RunOptions{})
	require.NoError(t, err)
	second, err := f.service.Run(ctx, "t1", created.ID, nil, RunOptions{})
	require.NoError(t, err)

	listed, err := f.service.ListExecutions(ctx, "t1", created.ID, models.ExecutionFilter{})
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, second.ID, listed[0].ID)
	assert.Equal(t, first.ID, listed[1].ID)
}
