package store

import (
	"context"
	"sort"
	"sync"

	"github.com/stratahq/strata/internal/index"
	"github.com/stratahq/strata/internal/models"
	rollerrors "github.com/stratahq/strata/internal/rollup/errors"
)

// Memory implements ConfigStore, ExecutionStore, GraphStore and IndexStore
// with mutex-guarded maps. It is the default wiring and the test backend.
type Memory struct {
	mu sync.RWMutex

	// tenant -> config id -> config
	configs map[string]map[string]models.RollupConfig
	// tenant -> execution id -> execution
	executions map[string]map[string]models.RollupExecution
	// tenant -> execution id -> graph
	graphs map[string]map[string]*models.MergedGraph

	// tenant -> node ref key -> entry
	entriesByNode map[string]map[string]index.IndexEntry
	// tenant -> reference hash -> node ref key set
	entriesByHash map[string]map[string]map[string]bool
	// tenant -> repository id -> collection hash
	collectionHashes map[string]map[string]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		configs:          make(map[string]map[string]models.RollupConfig),
		executions:       make(map[string]map[string]models.RollupExecution),
		graphs:           make(map[string]map[string]*models.MergedGraph),
		entriesByNode:    make(map[string]map[string]index.IndexEntry),
		entriesByHash:    make(map[string]map[string]map[string]bool),
		collectionHashes: make(map[string]map[string]string),
	}
}

// CreateConfig stores a new configuration, enforcing per-tenant name
// uniqueness.
func (m *Memory) CreateConfig(ctx context.Context, cfg models.RollupConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tenant := m.configs[cfg.TenantID]
	if tenant == nil {
		tenant = make(map[string]models.RollupConfig)
		m.configs[cfg.TenantID] = tenant
	}
	if _, exists := tenant[cfg.ID]; exists {
		return rollerrors.Newf(rollerrors.CodeInfraStorage, "rollup %s already exists", cfg.ID)
	}
	for _, existing := range tenant {
		if existing.Name == cfg.Name {
			return rollerrors.Newf(rollerrors.CodeDuplicateName, "rollup name %q already used in tenant", cfg.Name)
		}
	}
	tenant[cfg.ID] = cfg
	return nil
}

// ConfigByID returns one configuration, tenant-scoped.
func (m *Memory) ConfigByID(ctx context.Context, tenantID, id string) (models.RollupConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, ok := m.configs[tenantID][id]
	if !ok {
		return models.RollupConfig{}, rollerrors.Newf(rollerrors.CodeNotFound, "rollup %s not found", id)
	}
	return cfg, nil
}

// ConfigByName returns one configuration by name.
func (m *Memory) ConfigByName(ctx context.Context, tenantID, name string) (models.RollupConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, cfg := range m.configs[tenantID] {
		if cfg.Name == name {
			return cfg, nil
		}
	}
	return models.RollupConfig{}, rollerrors.Newf(rollerrors.CodeNotFound, "rollup named %q not found", name)
}

// UpdateConfig replaces a configuration under optimistic concurrency.
func (m *Memory) UpdateConfig(ctx context.Context, cfg models.RollupConfig, expectedVersion int64) (models.RollupConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tenant := m.configs[cfg.TenantID]
	existing, ok := tenant[cfg.ID]
	if !ok {
		return models.RollupConfig{}, rollerrors.Newf(rollerrors.CodeNotFound, "rollup %s not found", cfg.ID)
	}
	if existing.Version != expectedVersion {
		return models.RollupConfig{}, rollerrors.Newf(rollerrors.CodeVersionConflict,
			"rollup %s is at version %d, expected %d", cfg.ID, existing.Version, expectedVersion).
			WithDetail("currentVersion", existing.Version)
	}
	if cfg.Name != existing.Name {
		for _, other := range tenant {
			if other.ID != cfg.ID && other.Name == cfg.Name {
				return models.RollupConfig{}, rollerrors.Newf(rollerrors.CodeDuplicateName,
					"rollup name %q already used in tenant", cfg.Name)
			}
		}
	}
	cfg.Version = expectedVersion + 1
	tenant[cfg.ID] = cfg
	return cfg, nil
}

// ListConfigs returns a tenant's configurations sorted by name.
func (m *Memory) ListConfigs(ctx context.Context, tenantID string) ([]models.RollupConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.RollupConfig, 0, len(m.configs[tenantID]))
	for _, cfg := range m.configs[tenantID] {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CreateExecution stores a new execution record.
func (m *Memory) CreateExecution(ctx context.Context, exec models.RollupExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tenant := m.executions[exec.TenantID]
	if tenant == nil {
		tenant = make(map[string]models.RollupExecution)
		m.executions[exec.TenantID] = tenant
	}
	if _, exists := tenant[exec.ID]; exists {
		return rollerrors.Newf(rollerrors.CodeInfraStorage, "execution %s already exists", exec.ID)
	}
	tenant[exec.ID] = exec
	return nil
}

// SaveExecution overwrites an existing execution record.
func (m *Memory) SaveExecution(ctx context.Context, exec models.RollupExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tenant := m.executions[exec.TenantID]
	if _, exists := tenant[exec.ID]; !exists {
		return rollerrors.Newf(rollerrors.CodeNotFound, "execution %s not found", exec.ID)
	}
	tenant[exec.ID] = exec
	return nil
}

// ExecutionByID returns one execution, tenant-scoped.
func (m *Memory) ExecutionByID(ctx context.Context, tenantID, id string) (models.RollupExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	exec, ok := m.executions[tenantID][id]
	if !ok {
		return models.RollupExecution{}, rollerrors.Newf(rollerrors.CodeNotFound, "execution %s not found", id)
	}
	return exec, nil
}

// ListExecutions returns a rollup's executions newest first.
func (m *Memory) ListExecutions(ctx context.Context, tenantID, rollupID string, filter models.ExecutionFilter) ([]models.RollupExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.RollupExecution
	for _, exec := range m.executions[tenantID] {
		if exec.RollupID != rollupID {
			continue
		}
		if filter.Phase != "" && exec.Phase != filter.Phase {
			continue
		}
		if filter.Since > 0 && exec.StartedAt < filter.Since {
			continue
		}
		out = append(out, exec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt != out[j].StartedAt {
			return out[i].StartedAt > out[j].StartedAt
		}
		return out[i].ID > out[j].ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

// RunningCount counts non-terminal executions.
func (m *Memory) RunningCount(ctx context.Context, tenantID, rollupID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, exec := range m.executions[tenantID] {
		if rollupID != "" && exec.RollupID != rollupID {
			continue
		}
		if !exec.Phase.Terminal() {
			count++
		}
	}
	return count, nil
}

// PutGraph stores a merged graph, write-once per execution.
func (m *Memory) PutGraph(ctx context.Context, graph *models.MergedGraph) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tenant := m.graphs[graph.TenantID]
	if tenant == nil {
		tenant = make(map[string]*models.MergedGraph)
		m.graphs[graph.TenantID] = tenant
	}
	if _, exists := tenant[graph.ExecutionID]; exists {
		return rollerrors.Newf(rollerrors.CodeExecStoreFailed,
			"merged graph for execution %s already stored", graph.ExecutionID)
	}
	tenant[graph.ExecutionID] = cloneGraph(graph)
	return nil
}

// Graph loads the merged graph of one execution.
func (m *Memory) Graph(ctx context.Context, tenantID, executionID string) (*models.MergedGraph, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	graph, ok := m.graphs[tenantID][executionID]
	if !ok {
		return nil, rollerrors.Newf(rollerrors.CodeNotFound, "no merged graph for execution %s", executionID)
	}
	return cloneGraph(graph), nil
}

// DeleteGraph removes a stored graph.
func (m *Memory) DeleteGraph(ctx context.Context, tenantID, executionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.graphs[tenantID][executionID]; !ok {
		return rollerrors.Newf(rollerrors.CodeNotFound, "no merged graph for execution %s", executionID)
	}
	delete(m.graphs[tenantID], executionID)
	return nil
}

// cloneGraph copies the node and edge slices so callers cannot reach the
// stored graph.
func cloneGraph(graph *models.MergedGraph) *models.MergedGraph {
	out := &models.MergedGraph{
		ExecutionID: graph.ExecutionID,
		TenantID:    graph.TenantID,
		Nodes:       make([]models.MergedNode, len(graph.Nodes)),
		Edges:       make([]models.Edge, len(graph.Edges)),
	}
	copy(out.Nodes, graph.Nodes)
	copy(out.Edges, graph.Edges)
	return out
}

// UpsertEntries writes index entries, replacing prior entries per node.
func (m *Memory) UpsertEntries(ctx context.Context, tenantID string, entries []index.IndexEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byNode := m.entriesByNode[tenantID]
	if byNode == nil {
		byNode = make(map[string]index.IndexEntry)
		m.entriesByNode[tenantID] = byNode
	}
	byHash := m.entriesByHash[tenantID]
	if byHash == nil {
		byHash = make(map[string]map[string]bool)
		m.entriesByHash[tenantID] = byHash
	}

	for _, entry := range entries {
		key := entry.NodeRef().String()
		if prior, ok := byNode[key]; ok {
			m.unlinkHashesLocked(tenantID, prior)
		}
		byNode[key] = entry
		for _, ref := range entry.References {
			nodes := byHash[ref.Hash]
			if nodes == nil {
				nodes = make(map[string]bool)
				byHash[ref.Hash] = nodes
			}
			nodes[key] = true
		}
	}
	return nil
}

// EntriesByHash returns the entries containing a reference hash, sorted by
// node ref for determinism.
func (m *Memory) EntriesByHash(ctx context.Context, tenantID, hash string) ([]index.IndexEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	nodes := m.entriesByHash[tenantID][hash]
	if len(nodes) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(nodes))
	for key := range nodes {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]index.IndexEntry, 0, len(keys))
	for _, key := range keys {
		out = append(out, m.entriesByNode[tenantID][key])
	}
	return out, nil
}

// EntryByNode returns the entry of one node, nil when absent.
func (m *Memory) EntryByNode(ctx context.Context, tenantID string, node models.NodeRef) (*index.IndexEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entriesByNode[tenantID][node.String()]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

// CollectionHash returns the stored per-repository collection hash.
func (m *Memory) CollectionHash(ctx context.Context, tenantID, repositoryID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collectionHashes[tenantID][repositoryID], nil
}

// SetCollectionHash records a repository's collection hash.
func (m *Memory) SetCollectionHash(ctx context.Context, tenantID, repositoryID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	hashes := m.collectionHashes[tenantID]
	if hashes == nil {
		hashes = make(map[string]string)
		m.collectionHashes[tenantID] = hashes
	}
	hashes[repositoryID] = hash
	return nil
}

// DeleteRepositoryEntries drops all entries of one repository.
func (m *Memory) DeleteRepositoryEntries(ctx context.Context, tenantID, repositoryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, entry := range m.entriesByNode[tenantID] {
		if entry.RepositoryID != repositoryID {
			continue
		}
		m.unlinkHashesLocked(tenantID, entry)
		delete(m.entriesByNode[tenantID], key)
	}
	delete(m.collectionHashes[tenantID], repositoryID)
	return nil
}

// unlinkHashesLocked removes one entry's hash index links. Caller holds mu.
func (m *Memory) unlinkHashesLocked(tenantID string, entry index.IndexEntry) {
	key := entry.NodeRef().String()
	for _, ref := range entry.References {
		nodes := m.entriesByHash[tenantID][ref.Hash]
		delete(nodes, key)
		if len(nodes) == 0 {
			delete(m.entriesByHash[tenantID], ref.Hash)
		}
	}
}
