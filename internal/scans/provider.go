package scans

import (
	"context"
	"sort"
	"sync"

	"github.com/stratahq/strata/internal/models"
	rollerrors "github.com/stratahq/strata/internal/rollup/errors"
)

// GraphProvider supplies per-repository scan graphs to the index builder and
// the rollup executor. Implementations must be tenant-scoped: asking for
// another tenant's repository behaves exactly like the repository not
// existing.
type GraphProvider interface {
	// LatestScan returns the most recent completed scan for a repository.
	LatestScan(ctx context.Context, tenantID, repositoryID string) (models.Scan, error)

	// ScanGraph returns the full graph of one scan.
	ScanGraph(ctx context.Context, tenantID, scanID string) (*models.ScanGraph, error)
}

// StaticProvider serves graphs from memory. It backs tests and the demo
// fixtures; production deployments plug in a provider over the scan store.
type StaticProvider struct {
	mu     sync.RWMutex
	graphs map[string]map[string]*models.ScanGraph // tenantID -> scanID -> graph
}

// NewStaticProvider creates an empty in-memory provider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{
		graphs: make(map[string]map[string]*models.ScanGraph),
	}
}

// AddGraph registers a scan graph under its scan's tenant.
func (p *StaticProvider) AddGraph(graph *models.ScanGraph) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tenant := graph.Scan.TenantID
	if p.graphs[tenant] == nil {
		p.graphs[tenant] = make(map[string]*models.ScanGraph)
	}
	p.graphs[tenant][graph.Scan.ID] = graph
}

// LatestScan returns the scan with the highest CompletedAt for the
// repository, breaking ties by scan id for determinism.
func (p *StaticProvider) LatestScan(ctx context.Context, tenantID, repositoryID string) (models.Scan, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var candidates []models.Scan
	for _, graph := range p.graphs[tenantID] {
		if graph.Scan.RepositoryID == repositoryID {
			candidates = append(candidates, graph.Scan)
		}
	}
	if len(candidates) == 0 {
		return models.Scan{}, rollerrors.Newf(rollerrors.CodeNotFound,
			"no completed scan for repository %s", repositoryID)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].CompletedAt != candidates[j].CompletedAt {
			return candidates[i].CompletedAt > candidates[j].CompletedAt
		}
		return candidates[i].ID > candidates[j].ID
	})
	return candidates[0], nil
}

// ScanGraph returns the graph for one scan id.
func (p *StaticProvider) ScanGraph(ctx context.Context, tenantID, scanID string) (*models.ScanGraph, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	graph, ok := p.graphs[tenantID][scanID]
	if !ok {
		return nil, rollerrors.Newf(rollerrors.CodeNotFound, "scan %s not found", scanID)
	}
	return graph, nil
}
