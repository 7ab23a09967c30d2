package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratahq/strata/internal/index"
	"github.com/stratahq/strata/internal/models"
	"github.com/stratahq/strata/internal/refs"
	rollerrors "github.com/stratahq/strata/internal/rollup/errors"
)

func testConfig(id, name string) models.RollupConfig {
	return models.RollupConfig{
		ID:            id,
		TenantID:      "t1",
		Name:          name,
		RepositoryIDs: []string{"r1", "r2"},
		Matchers: []models.MatcherConfig{
			{Type: models.MatcherTypeARN, Priority: 10, MinConfidence: 0.8},
		},
		MergeOptions: models.DefaultMergeOptions(),
		Status:       models.RollupStatusActive,
		Version:      1,
	}
}

func TestConfigCRUD(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.CreateConfig(ctx, testConfig("c1", "prod-rollup")))

	got, err := m.ConfigByID(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "prod-rollup", got.Name)

	byName, err := m.ConfigByName(ctx, "t1", "prod-rollup")
	require.NoError(t, err)
	assert.Equal(t, "c1", byName.ID)

	list, err := m.ListConfigs(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestConfigDuplicateName(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.CreateConfig(ctx, testConfig("c1", "prod-rollup")))
	err := m.CreateConfig(ctx, testConfig("c2", "prod-rollup"))
	require.Error(t, err)
	assert.Equal(t, rollerrors.CodeDuplicateName, rollerrors.CodeOf(err))
}

func TestConfigTenantIsolation(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.CreateConfig(ctx, testConfig("c1", "prod-rollup")))

	_, err := m.ConfigByID(ctx, "t2", "c1")
	require.Error(t, err)
	assert.Equal(t, rollerrors.CodeNotFound, rollerrors.CodeOf(err))

	// The same name is free in another tenant.
	other := testConfig("c9", "prod-rollup")
	other.TenantID = "t2"
	assert.NoError(t, m.CreateConfig(ctx, other))
}

func TestConfigOptimisticConcurrency(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.CreateConfig(ctx, testConfig("c1", "prod-rollup")))

	updated := testConfig("c1", "prod-rollup-v2")
	stored, err := m.UpdateConfig(ctx, updated, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)

	// A second update against the stale version loses.
	_, err = m.UpdateConfig(ctx, updated, 1)
	require.Error(t, err)
	re, ok := rollerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, rollerrors.CodeVersionConflict, re.Code)
	assert.Equal(t, int64(2), re.Details["currentVersion"])
}

func TestConfigUpdateRejectsNameCollision(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.CreateConfig(ctx, testConfig("c1", "alpha")))
	require.NoError(t, m.CreateConfig(ctx, testConfig("c2", "beta")))

	renamed := testConfig("c2", "alpha")
	_, err := m.UpdateConfig(ctx, renamed, 1)
	require.Error(t, err)
	assert.Equal(t, rollerrors.CodeDuplicateName, rollerrors.CodeOf(err))
}

func testExecution(id, rollupID string, phase models.ExecutionPhase, startedAt int64) models.RollupExecution {
	return models.RollupExecution{
		ID:        id,
		RollupID:  rollupID,
		TenantID:  "t1",
		ScanIDs:   []string{"s1", "s2"},
		Phase:     phase,
		StartedAt: startedAt,
	}
}

func TestExecutionLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	exec := testExecution("e1", "c1", models.PhaseQueued, 100)
	require.NoError(t, m.CreateExecution(ctx, exec))

	exec.Phase = models.PhaseCompleted
	exec.FinishedAt = 200
	require.NoError(t, m.SaveExecution(ctx, exec))

	got, err := m.ExecutionByID(ctx, "t1", "e1")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseCompleted, got.Phase)

	_, err = m.ExecutionByID(ctx, "t2", "e1")
	require.Error(t, err)
	assert.Equal(t, rollerrors.CodeNotFound, rollerrors.CodeOf(err))
}

func TestListExecutionsFilterAndOrder(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.CreateExecution(ctx, testExecution("e1", "c1", models.PhaseCompleted, 100)))
	require.NoError(t, m.CreateExecution(ctx, testExecution("e2", "c1", models.PhaseFailed, 300)))
	require.NoError(t, m.CreateExecution(ctx, testExecution("e3", "c1", models.PhaseFetching, 200)))
	require.NoError(t, m.CreateExecution(ctx, testExecution("e4", "other", models.PhaseCompleted, 400)))

	list, err := m.ListExecutions(ctx, "t1", "c1", models.ExecutionFilter{})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"e2", "e3", "e1"}, []string{list[0].ID, list[1].ID, list[2].ID})

	list, err = m.ListExecutions(ctx, "t1", "c1", models.ExecutionFilter{Phase: models.PhaseFailed})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "e2", list[0].ID)

	list, err = m.ListExecutions(ctx, "t1", "c1", models.ExecutionFilter{Since: 150})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = m.ListExecutions(ctx, "t1", "c1", models.ExecutionFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "e3", list[0].ID)
}

func TestRunningCount(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.CreateExecution(ctx, testExecution("e1", "c1", models.PhaseFetching, 100)))
	require.NoError(t, m.CreateExecution(ctx, testExecution("e2", "c1", models.PhaseCompleted, 100)))
	require.NoError(t, m.CreateExecution(ctx, testExecution("e3", "c2", models.PhaseMerging, 100)))

	count, err := m.RunningCount(ctx, "t1", "")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = m.RunningCount(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestGraphWriteOnce(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	graph := &models.MergedGraph{
		ExecutionID: "e1",
		TenantID:    "t1",
		Nodes:       []models.MergedNode{{CanonicalID: "merged-aaaa"}},
	}
	require.NoError(t, m.PutGraph(ctx, graph))

	err := m.PutGraph(ctx, graph)
	require.Error(t, err)
	assert.Equal(t, rollerrors.CodeExecStoreFailed, rollerrors.CodeOf(err))

	got, err := m.Graph(ctx, "t1", "e1")
	require.NoError(t, err)
	assert.Len(t, got.Nodes, 1)

	// Mutating the returned copy leaves the stored graph intact.
	got.Nodes[0].CanonicalID = "mutated"
	again, err := m.Graph(ctx, "t1", "e1")
	require.NoError(t, err)
	assert.Equal(t, "merged-aaaa", again.Nodes[0].CanonicalID)

	_, err = m.Graph(ctx, "t2", "e1")
	require.Error(t, err)
	assert.Equal(t, rollerrors.CodeNotFound, rollerrors.CodeOf(err))

	require.NoError(t, m.DeleteGraph(ctx, "t1", "e1"))
	_, err = m.Graph(ctx, "t1", "e1")
	assert.Error(t, err)
}

func indexEntry(scanID, nodeID, repoID, identifier string) index.IndexEntry {
	return index.IndexEntry{
		ID:           scanID + "/" + nodeID,
		TenantID:     "t1",
		ScanID:       scanID,
		RepositoryID: repoID,
		NodeID:       nodeID,
		References: []refs.ExternalReference{{
			Type:                 refs.TypeARN,
			Identifier:           identifier,
			NormalizedIdentifier: identifier,
			Hash:                 refs.HashIdentifier(refs.TypeARN, identifier),
			Confidence:           0.95,
		}},
	}
}

func TestIndexUpsertAndLookup(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	a := indexEntry("s1", "n1", "r1", "arn:aws:s3:::shared")
	b := indexEntry("s2", "n1", "r2", "arn:aws:s3:::shared")
	require.NoError(t, m.UpsertEntries(ctx, "t1", []index.IndexEntry{a, b}))

	hash := refs.HashIdentifier(refs.TypeARN, "arn:aws:s3:::shared")
	entries, err := m.EntriesByHash(ctx, "t1", hash)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "s1", entries[0].ScanID)

	entry, err := m.EntryByNode(ctx, "t1", models.NodeRef{ScanID: "s1", NodeID: "n1"})
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "r1", entry.RepositoryID)

	// Foreign tenant sees nothing.
	entries, err = m.EntriesByHash(ctx, "t2", hash)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestIndexUpsertReplacesPriorReferences(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	old := indexEntry("s1", "n1", "r1", "arn:aws:s3:::old")
	require.NoError(t, m.UpsertEntries(ctx, "t1", []index.IndexEntry{old}))

	updated := indexEntry("s1", "n1", "r1", "arn:aws:s3:::new")
	require.NoError(t, m.UpsertEntries(ctx, "t1", []index.IndexEntry{updated}))

	stale, err := m.EntriesByHash(ctx, "t1", refs.HashIdentifier(refs.TypeARN, "arn:aws:s3:::old"))
	require.NoError(t, err)
	assert.Empty(t, stale)

	fresh, err := m.EntriesByHash(ctx, "t1", refs.HashIdentifier(refs.TypeARN, "arn:aws:s3:::new"))
	require.NoError(t, err)
	assert.Len(t, fresh, 1)
}

func TestIndexDeleteRepositoryEntries(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.UpsertEntries(ctx, "t1", []index.IndexEntry{
		indexEntry("s1", "n1", "r1", "arn:aws:s3:::one"),
		indexEntry("s2", "n1", "r2", "arn:aws:s3:::two"),
	}))
	require.NoError(t, m.SetCollectionHash(ctx, "t1", "r1", "hash-1"))

	require.NoError(t, m.DeleteRepositoryEntries(ctx, "t1", "r1"))

	gone, err := m.EntriesByHash(ctx, "t1", refs.HashIdentifier(refs.TypeARN, "arn:aws:s3:::one"))
	require.NoError(t, err)
	assert.Empty(t, gone)

	kept, err := m.EntriesByHash(ctx, "t1", refs.HashIdentifier(refs.TypeARN, "arn:aws:s3:::two"))
	require.NoError(t, err)
	assert.Len(t, kept, 1)

	hash, err := m.CollectionHash(ctx, "t1", "r1")
	require.NoError(t, err)
	assert.Empty(t, hash)
}

func TestCollectionHashRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	hash, err := m.CollectionHash(ctx, "t1", "r1")
	require.NoError(t, err)
	assert.Empty(t, hash)

	require.NoError(t, m.SetCollectionHash(ctx, "t1", "r1", "hash-1"))
	hash, err = m.CollectionHash(ctx, "t1", "r1")
	require.NoError(t, err)
	assert.Equal(t, "hash-1", hash)
}
