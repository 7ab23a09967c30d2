package index

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/stratahq/strata/internal/logging"
	"github.com/stratahq/strata/internal/models"
	"github.com/stratahq/strata/internal/refs"
	rollerrors "github.com/stratahq/strata/internal/rollup/errors"
	"github.com/stratahq/strata/internal/scans"
)

// Builder walks repository scan graphs, runs the extractor registry over
// every node, and writes index entries in batches. One build per tenant runs
// at a time; a second concurrent build is rejected with the in-flight build
// id so callers can poll instead of piling up.
type Builder struct {
	store    Store
	provider scans.GraphProvider
	registry *refs.Registry
	tiered   *TieredIndex
	logger   *logging.Logger

	mu       sync.Mutex
	building map[string]string // tenantID -> in-flight build id
}

// NewBuilder creates a builder. tiered may be nil when no caches need
// invalidation after a build.
func NewBuilder(store Store, provider scans.GraphProvider, registry *refs.Registry, tiered *TieredIndex) *Builder {
	return &Builder{
		store:    store,
		provider: provider,
		registry: registry,
		tiered:   tiered,
		logger:   logging.GetLogger("index.builder"),
		building: make(map[string]string),
	}
}

// Build indexes the given repositories for one tenant.
func (b *Builder) Build(ctx context.Context, tenantID string, repositoryIDs []string, opts BuildOptions) (*BuildResult, error) {
	buildID := uuid.NewString()

	b.mu.Lock()
	if inFlight, busy := b.building[tenantID]; busy {
		b.mu.Unlock()
		return nil, rollerrors.Newf(rollerrors.CodeLocked,
			"index build already running for tenant %s", tenantID).
			WithDetail("buildId", inFlight)
	}
	b.building[tenantID] = buildID
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.building, tenantID)
		b.mu.Unlock()
	}()

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	failureThreshold := opts.FailureRateThreshold
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureRate
	}

	result := &BuildResult{
		BuildID:           buildID,
		ExtractorFailures: make(map[string]int),
	}

	b.logger.Info("Index build started: tenant=%s build=%s repos=%d force=%v",
		tenantID, buildID, len(repositoryIDs), opts.ForceRebuild)

	for _, repositoryID := range repositoryIDs {
		if err := ctx.Err(); err != nil {
			return nil, rollerrors.Wrap(rollerrors.CodeExecCancelled, err, "index build cancelled")
		}
		if err := b.buildRepository(ctx, tenantID, repositoryID, opts, batchSize, failureThreshold, result); err != nil {
			return nil, err
		}
	}

	if b.tiered != nil {
		b.tiered.InvalidateTenant(ctx, tenantID)
	}
	if len(result.ExtractorFailures) == 0 {
		result.ExtractorFailures = nil
	}

	b.logger.Info("Index build finished: tenant=%s build=%s indexed=%d skipped=%d entries=%d refs=%d",
		tenantID, buildID, result.RepositoriesIndexed, result.RepositoriesSkipped,
		result.EntriesWritten, result.ReferencesExtracted)
	return result, nil
}

func (b *Builder) buildRepository(ctx context.Context, tenantID, repositoryID string, opts BuildOptions, batchSize int, failureThreshold float64, result *BuildResult) error {
	scan, err := b.provider.LatestScan(ctx, tenantID, repositoryID)
	if err != nil {
		return rollerrors.Wrapf(rollerrors.CodeExecFetchFailed, err,
			"resolve latest scan for repository %s", repositoryID)
	}
	graph, err := b.provider.ScanGraph(ctx, tenantID, scan.ID)
	if err != nil {
		return rollerrors.Wrapf(rollerrors.CodeExecFetchFailed, err,
			"fetch scan graph %s", scan.ID)
	}

	entries, extracted, failures := b.extractEntries(tenantID, repositoryID, graph)
	result.NodesScanned += len(graph.Nodes)
	result.ReferencesExtracted += extracted

	for extractor, count := range failures {
		result.ExtractorFailures[extractor] += count
		if len(graph.Nodes) > 0 && float64(count)/float64(len(graph.Nodes)) > failureThreshold {
			return rollerrors.Newf(rollerrors.CodeExecIndexFailed,
				"extractor %s failed on %d of %d nodes in repository %s",
				extractor, count, len(graph.Nodes), repositoryID).
				WithDetail("buildId", result.BuildID)
		}
	}

	var allRefs []refs.ExternalReference
	for _, entry := range entries {
		allRefs = append(allRefs, entry.References...)
	}
	collectionHash := CollectionHash(allRefs)

	if !opts.ForceRebuild {
		stored, err := b.store.CollectionHash(ctx, tenantID, repositoryID)
		if err != nil {
			return rollerrors.Wrap(rollerrors.CodeInfraStorage, err, "read collection hash")
		}
		if stored == collectionHash {
			b.logger.Debug("Repository unchanged, skipping writes: tenant=%s repo=%s", tenantID, repositoryID)
			result.RepositoriesSkipped++
			return nil
		}
	}

	if err := b.store.DeleteRepositoryEntries(ctx, tenantID, repositoryID); err != nil {
		return rollerrors.Wrap(rollerrors.CodeInfraStorage, err, "clear repository entries")
	}
	for start := 0; start < len(entries); start += batchSize {
		end := start + batchSize
		if end > len(entries) {
			end = len(entries)
		}
		if err := b.store.UpsertEntries(ctx, tenantID, entries[start:end]); err != nil {
			return rollerrors.Wrap(rollerrors.CodeInfraStorage, err, "upsert index entries")
		}
		result.EntriesWritten += end - start
	}
	if err := b.store.SetCollectionHash(ctx, tenantID, repositoryID, collectionHash); err != nil {
		return rollerrors.Wrap(rollerrors.CodeInfraStorage, err, "store collection hash")
	}

	result.RepositoriesIndexed++
	return nil
}

// extractEntries runs every applicable extractor over every node. A panic in
// one extractor on one node counts as a failure for that extractor and never
// takes down the build.
func (b *Builder) extractEntries(tenantID, repositoryID string, graph *models.ScanGraph) (entries []IndexEntry, extracted int, failures map[string]int) {
	failures = make(map[string]int)

	for _, node := range graph.Nodes {
		var nodeRefs []refs.ExternalReference
		for _, extractor := range b.registry.Extractors() {
			if !extractor.Applies(node) {
				continue
			}
			found, err := b.safeExtract(extractor, node)
			if err != nil {
				failures[string(extractor.ReferenceType())]++
				b.logger.Warn("Extractor %s failed on node %s: %v", extractor.ReferenceType(), node.ID, err)
				continue
			}
			nodeRefs = append(nodeRefs, found...)
		}
		nodeRefs = refs.DedupeByHash(nodeRefs)
		if len(nodeRefs) == 0 {
			continue
		}
		extracted += len(nodeRefs)
		entries = append(entries, IndexEntry{
			ID:           uuid.NewString(),
			TenantID:     tenantID,
			ScanID:       graph.Scan.ID,
			RepositoryID: repositoryID,
			NodeID:       node.ID,
			References:   nodeRefs,
		})
	}
	return entries, extracted, failures
}

// safeExtract isolates extractor panics on malformed metadata.
func (b *Builder) safeExtract(extractor refs.Extractor, node models.Node) (found []refs.ExternalReference, err error) {
	defer func() {
		if r := recover(); r != nil {
			found = nil
			err = fmt.Errorf("extractor panic: %v", r)
		}
	}()
	return extractor.Extract(node), nil
}
