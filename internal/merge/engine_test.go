package merge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratahq/strata/internal/match"
	"github.com/stratahq/strata/internal/models"
	rollerrors "github.com/stratahq/strata/internal/rollup/errors"
)

func nref(scanID, nodeID string) models.NodeRef {
	return models.NodeRef{ScanID: scanID, NodeID: nodeID}
}

func twoRepoInput(classes []match.Class, options models.MergeOptions) Input {
	g1 := &models.ScanGraph{
		Scan: models.Scan{ID: "s1", TenantID: "t1", RepositoryID: "r1"},
		Nodes: []models.Node{
			{ID: "n1", Type: "aws_s3_bucket", Name: "shared",
				Metadata: map[string]models.Value{"arn": models.StringValue("arn:aws:s3:::shared")},
				Location: models.Location{File: "main.tf", LineStart: 1, LineEnd: 5}},
		},
	}
	g2 := &models.ScanGraph{
		Scan: models.Scan{ID: "s2", TenantID: "t1", RepositoryID: "r2"},
		Nodes: []models.Node{
			{ID: "n1", Type: "aws_s3_bucket", Name: "shared",
				Metadata: map[string]models.Value{"arn": models.StringValue("arn:aws:s3:::Shared")},
				Location: models.Location{File: "buckets.tf", LineStart: 3, LineEnd: 9}},
		},
	}
	return Input{
		ExecutionID:     "e1",
		TenantID:        "t1",
		Graphs:          []*models.ScanGraph{g1, g2},
		Classes:         classes,
		Options:         options,
		RepositoryOrder: map[string]int{"r1": 0, "r2": 1},
	}
}

func sharedClass() []match.Class {
	return []match.Class{{
		Members:      []models.NodeRef{nref("s1", "n1"), nref("s2", "n1")},
		Repositories: []string{"r1", "r2"},
		Confidence:   95,
		Reasons:      []string{"arn_identity"},
	}}
}

func TestMergeCrossRepoClass(t *testing.T) {
	e := NewEngine()
	in := twoRepoInput(sharedClass(), models.DefaultMergeOptions())

	got, err := e.Merge(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, got.Nodes, 1)
	node := got.Nodes[0]
	assert.Equal(t, CanonicalID([]models.NodeRef{nref("s1", "n1"), nref("s2", "n1")}), node.CanonicalID)
	assert.Len(t, node.Representatives, 2)
	assert.Equal(t, 2, node.SourceCount)
	assert.Equal(t, 95, node.Confidence)
	assert.Equal(t, []string{"arn_identity"}, node.MatchReasons)
	// PreserveSourceInfo keeps per-representative locations.
	assert.Len(t, node.SourceLocations, 2)
	assert.Equal(t, "main.tf", node.SourceLocations["s1/n1"].File)

	require.Len(t, got.Edges, 1)
	edge := got.Edges[0]
	assert.Equal(t, models.EdgeTypeCrossRepoIdentity, edge.Type)
	assert.Equal(t, singletonCanonicalID(nref("s1", "n1")), edge.SourceID)
	assert.Equal(t, singletonCanonicalID(nref("s2", "n1")), edge.TargetID)
	assert.Equal(t, 95, edge.Confidence)
}

func TestMergeNoMatchIsolation(t *testing.T) {
	e := NewEngine()
	in := twoRepoInput(nil, models.DefaultMergeOptions())

	got, err := e.Merge(context.Background(), in)
	require.NoError(t, err)

	assert.Len(t, got.Nodes, 2)
	assert.Empty(t, got.Edges)
	for _, node := range got.Nodes {
		assert.Equal(t, 1, node.SourceCount)
		assert.Equal(t, 100, node.Confidence)
		assert.Len(t, node.Representatives, 1)
	}
}

func TestMergeCanonicalIDDeterministic(t *testing.T) {
	a := CanonicalID([]models.NodeRef{nref("s1", "n1"), nref("s2", "n1")})
	b := CanonicalID([]models.NodeRef{nref("s2", "n1"), nref("s1", "n1")})
	assert.Equal(t, a, b)
	assert.Regexp(t, "^merged-[0-9a-f]{16}$", a)
	assert.NotEqual(t, a, CanonicalID([]models.NodeRef{nref("s1", "n1")}))
}

func TestMergeCycleRejection(t *testing.T) {
	// R1: n1 -> n2. R2: m1 -> m2. Classes pair (n1,m2) and (m1,n2): the
	// identity edges close a cycle through the dependency edges.
	g1 := &models.ScanGraph{
		Scan: models.Scan{ID: "s1", TenantID: "t1", RepositoryID: "r1"},
		Nodes: []models.Node{
			{ID: "n1", Type: "module", Name: "a"},
			{ID: "n2", Type: "module", Name: "b"},
		},
		Edges: []models.Edge{{SourceID: "n1", TargetID: "n2", Type: models.EdgeTypeDependsOn, Confidence: 100}},
	}
	g2 := &models.ScanGraph{
		Scan: models.Scan{ID: "s2", TenantID: "t1", RepositoryID: "r2"},
		Nodes: []models.Node{
			{ID: "m1", Type: "module", Name: "c"},
			{ID: "m2", Type: "module", Name: "d"},
		},
		Edges: []models.Edge{{SourceID: "m1", TargetID: "m2", Type: models.EdgeTypeDependsOn, Confidence: 100}},
	}
	in := Input{
		ExecutionID: "e1",
		TenantID:    "t1",
		Graphs:      []*models.ScanGraph{g1, g2},
		Classes: []match.Class{
			{Members: []models.NodeRef{nref("s1", "n1"), nref("s2", "m2")}, Confidence: 90},
			{Members: []models.NodeRef{nref("s1", "n2"), nref("s2", "m1")}, Confidence: 90},
		},
		Options: models.DefaultMergeOptions(),
	}

	_, err := NewEngine().Merge(context.Background(), in)
	require.Error(t, err)
	assert.Equal(t, rollerrors.CodeMergeCyclic, rollerrors.CodeOf(err))
}

func TestMergePreExistingCyclePasses(t *testing.T) {
	// A dependency cycle within one repository predates the rollup and must
	// survive the merge untouched.
	g1 := &models.ScanGraph{
		Scan: models.Scan{ID: "s1", TenantID: "t1", RepositoryID: "r1"},
		Nodes: []models.Node{
			{ID: "n1", Type: "module", Name: "a"},
			{ID: "n2", Type: "module", Name: "b"},
		},
		Edges: []models.Edge{
			{SourceID: "n1", TargetID: "n2", Type: models.EdgeTypeDependsOn, Confidence: 100},
			{SourceID: "n2", TargetID: "n1", Type: models.EdgeTypeDependsOn, Confidence: 100},
		},
	}
	g2 := &models.ScanGraph{
		Scan:  models.Scan{ID: "s2", TenantID: "t1", RepositoryID: "r2"},
		Nodes: []models.Node{{ID: "m1", Type: "module", Name: "a"}},
	}
	in := Input{
		ExecutionID: "e1",
		TenantID:    "t1",
		Graphs:      []*models.ScanGraph{g1, g2},
		Classes: []match.Class{
			{Members: []models.NodeRef{nref("s1", "n1"), nref("s2", "m1")}, Confidence: 80},
		},
		Options: models.DefaultMergeOptions(),
	}

	got, err := NewEngine().Merge(context.Background(), in)
	require.NoError(t, err)
	assert.Len(t, got.Nodes, 2)
}

func TestMergeIdentityOnlyTripleClassPasses(t *testing.T) {
	// Three repositories, one class. The pairwise identity edges form a
	// triangle among themselves, which is the class clique, not a
	// dependency cycle.
	graphs := []*models.ScanGraph{
		{Scan: models.Scan{ID: "s1", RepositoryID: "r1"}, Nodes: []models.Node{{ID: "n1", Type: "x", Name: "a"}}},
		{Scan: models.Scan{ID: "s2", RepositoryID: "r2"}, Nodes: []models.Node{{ID: "n1", Type: "x", Name: "a"}}},
		{Scan: models.Scan{ID: "s3", RepositoryID: "r3"}, Nodes: []models.Node{{ID: "n1", Type: "x", Name: "a"}}},
	}
	in := Input{
		ExecutionID: "e1",
		TenantID:    "t1",
		Graphs:      graphs,
		Classes: []match.Class{{
			Members:    []models.NodeRef{nref("s1", "n1"), nref("s2", "n1"), nref("s3", "n1")},
			Confidence: 85,
		}},
		Options: models.DefaultMergeOptions(),
	}

	got, err := NewEngine().Merge(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, got.Nodes, 1)
	// Three representatives produce three pairwise identity edges.
	assert.Len(t, got.Edges, 3)
}

func TestMergeEdgeRewriteAndDedupe(t *testing.T) {
	// Both repos carry an edge bucket -> queue; after rewrite the edges
	// collapse into one with the max confidence.
	g1 := &models.ScanGraph{
		Scan: models.Scan{ID: "s1", TenantID: "t1", RepositoryID: "r1"},
		Nodes: []models.Node{
			{ID: "bucket", Type: "aws_s3_bucket", Name: "b"},
			{ID: "queue", Type: "aws_sqs_queue", Name: "q"},
		},
		Edges: []models.Edge{{SourceID: "bucket", TargetID: "queue", Type: models.EdgeTypeDependsOn, Confidence: 70}},
	}
	g2 := &models.ScanGraph{
		Scan: models.Scan{ID: "s2", TenantID: "t1", RepositoryID: "r2"},
		Nodes: []models.Node{
			{ID: "bucket", Type: "aws_s3_bucket", Name: "b"},
			{ID: "queue", Type: "aws_sqs_queue", Name: "q"},
		},
		Edges: []models.Edge{{SourceID: "bucket", TargetID: "queue", Type: models.EdgeTypeDependsOn, Confidence: 90}},
	}
	options := models.DefaultMergeOptions()
	options.CreateCrossRepoEdges = false
	in := Input{
		ExecutionID: "e1",
		TenantID:    "t1",
		Graphs:      []*models.ScanGraph{g1, g2},
		Classes: []match.Class{
			{Members: []models.NodeRef{nref("s1", "bucket"), nref("s2", "bucket")}, Confidence: 95},
			{Members: []models.NodeRef{nref("s1", "queue"), nref("s2", "queue")}, Confidence: 95},
		},
		Options: options,
	}

	got, err := NewEngine().Merge(context.Background(), in)
	require.NoError(t, err)
	assert.Len(t, got.Nodes, 2)
	require.Len(t, got.Edges, 1)
	assert.Equal(t, 90, got.Edges[0].Confidence)
	assert.Equal(t, models.EdgeTypeDependsOn, got.Edges[0].Type)
}

func TestMergeIntraClassEdgeDropped(t *testing.T) {
	// An edge between two members of the same class would become a
	// self-loop on the canonical node and is dropped.
	g1 := &models.ScanGraph{
		Scan: models.Scan{ID: "s1", TenantID: "t1", RepositoryID: "r1"},
		Nodes: []models.Node{
			{ID: "n1", Type: "x", Name: "a"},
		},
	}
	g2 := &models.ScanGraph{
		Scan: models.Scan{ID: "s2", TenantID: "t1", RepositoryID: "r2"},
		Nodes: []models.Node{
			{ID: "m1", Type: "x", Name: "a"},
			{ID: "m2", Type: "y", Name: "other"},
		},
		Edges: []models.Edge{{SourceID: "m1", TargetID: "m2", Type: models.EdgeTypeReferences, Confidence: 100}},
	}
	options := models.DefaultMergeOptions()
	options.CreateCrossRepoEdges = false
	in := Input{
		ExecutionID: "e1",
		TenantID:    "t1",
		Graphs:      []*models.ScanGraph{g1, g2},
		Classes: []match.Class{
			// m1 and m2 both join n1's class via transitive matches.
			{Members: []models.NodeRef{nref("s1", "n1"), nref("s2", "m1"), nref("s2", "m2")}, Confidence: 75},
		},
		Options: options,
	}

	got, err := NewEngine().Merge(context.Background(), in)
	require.NoError(t, err)
	assert.Len(t, got.Nodes, 1)
	assert.Empty(t, got.Edges)
}

func TestMergeNamedSetEdgeFilter(t *testing.T) {
	g1 := &models.ScanGraph{
		Scan: models.Scan{ID: "s1", TenantID: "t1", RepositoryID: "r1"},
		Nodes: []models.Node{
			{ID: "a", Type: "x", Name: "a"},
			{ID: "b", Type: "x", Name: "b"},
		},
		Edges: []models.Edge{
			{SourceID: "a", TargetID: "b", Type: models.EdgeTypeDependsOn, Confidence: 100},
			{SourceID: "a", TargetID: "b", Type: models.EdgeTypeReferences, Confidence: 100},
		},
	}
	g2 := &models.ScanGraph{
		Scan:  models.Scan{ID: "s2", TenantID: "t1", RepositoryID: "r2"},
		Nodes: []models.Node{{ID: "c", Type: "x", Name: "c"}},
	}
	options := models.DefaultMergeOptions()
	options.EdgeTypePreservation = "named-set"
	options.NamedEdgeTypes = []models.EdgeType{models.EdgeTypeDependsOn}
	in := Input{
		ExecutionID: "e1",
		TenantID:    "t1",
		Graphs:      []*models.ScanGraph{g1, g2},
		Options:     options,
	}

	got, err := NewEngine().Merge(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, got.Edges, 1)
	assert.Equal(t, models.EdgeTypeDependsOn, got.Edges[0].Type)
}

func TestMergeInvalidEdge(t *testing.T) {
	g1 := &models.ScanGraph{
		Scan:  models.Scan{ID: "s1", TenantID: "t1", RepositoryID: "r1"},
		Nodes: []models.Node{{ID: "a", Type: "x", Name: "a"}},
		Edges: []models.Edge{{SourceID: "a", TargetID: "ghost", Type: models.EdgeTypeDependsOn, Confidence: 100}},
	}
	in := Input{
		ExecutionID: "e1",
		TenantID:    "t1",
		Graphs:      []*models.ScanGraph{g1},
		Options:     models.DefaultMergeOptions(),
	}

	_, err := NewEngine().Merge(context.Background(), in)
	require.Error(t, err)
	assert.Equal(t, rollerrors.CodeMergeInvalidEdge, rollerrors.CodeOf(err))
}

func TestMergeMaxNodesLimit(t *testing.T) {
	in := twoRepoInput(nil, models.DefaultMergeOptions())
	in.Options.MaxNodes = 1

	_, err := NewEngine().Merge(context.Background(), in)
	require.Error(t, err)
	assert.Equal(t, rollerrors.CodeMergeLimitExceeded, rollerrors.CodeOf(err))
}

func conflictInput(resolution models.ConflictResolution, leftMeta, rightMeta map[string]models.Value) Input {
	g1 := &models.ScanGraph{
		Scan:  models.Scan{ID: "s1", TenantID: "t1", RepositoryID: "r1"},
		Nodes: []models.Node{{ID: "n1", Type: "x", Name: "a", Metadata: leftMeta}},
	}
	g2 := &models.ScanGraph{
		Scan:  models.Scan{ID: "s2", TenantID: "t1", RepositoryID: "r2"},
		Nodes: []models.Node{{ID: "n1", Type: "x", Name: "a", Metadata: rightMeta}},
	}
	options := models.DefaultMergeOptions()
	options.ConflictResolution = resolution
	options.CreateCrossRepoEdges = false
	return Input{
		ExecutionID: "e1",
		TenantID:    "t1",
		Graphs:      []*models.ScanGraph{g1, g2},
		Classes: []match.Class{
			{Members: []models.NodeRef{nref("s1", "n1"), nref("s2", "n1")}, Confidence: 90},
		},
		Options:         options,
		RepositoryOrder: map[string]int{"r2": 0, "r1": 1}, // r2 first on purpose
	}
}

func TestMergeConflictResolutions(t *testing.T) {
	left := map[string]models.Value{"env": models.StringValue("prod")}
	right := map[string]models.Value{"env": models.StringValue("staging")}

	t.Run("prefer_highest_confidence ties break by scan id", func(t *testing.T) {
		in := conflictInput(models.ConflictPreferHighestConfidence, left, right)
		got, err := NewEngine().Merge(context.Background(), in)
		require.NoError(t, err)
		v, _ := got.Nodes[0].MergedMetadata["env"].AsString()
		assert.Equal(t, "prod", v) // s1 < s2
	})

	t.Run("prefer_first_repo follows config order", func(t *testing.T) {
		in := conflictInput(models.ConflictPreferFirstRepo, left, right)
		got, err := NewEngine().Merge(context.Background(), in)
		require.NoError(t, err)
		v, _ := got.Nodes[0].MergedMetadata["env"].AsString()
		assert.Equal(t, "staging", v) // r2 is first in config order
	})

	t.Run("error fails on scalar disagreement", func(t *testing.T) {
		in := conflictInput(models.ConflictError, left, right)
		_, err := NewEngine().Merge(context.Background(), in)
		require.Error(t, err)
		assert.Equal(t, rollerrors.CodeMergeConflict, rollerrors.CodeOf(err))
	})

	t.Run("error passes on agreement", func(t *testing.T) {
		in := conflictInput(models.ConflictError, left, map[string]models.Value{"env": models.StringValue("prod")})
		got, err := NewEngine().Merge(context.Background(), in)
		require.NoError(t, err)
		v, _ := got.Nodes[0].MergedMetadata["env"].AsString()
		assert.Equal(t, "prod", v)
	})
}

func TestMergeUnionResolution(t *testing.T) {
	t.Run("lists are unioned", func(t *testing.T) {
		in := conflictInput(models.ConflictUnion,
			map[string]models.Value{"zones": models.ListValue(models.StringValue("a"), models.StringValue("b"))},
			map[string]models.Value{"zones": models.ListValue(models.StringValue("b"), models.StringValue("c"))},
		)
		got, err := NewEngine().Merge(context.Background(), in)
		require.NoError(t, err)
		list, ok := got.Nodes[0].MergedMetadata["zones"].AsList()
		require.True(t, ok)
		assert.Len(t, list, 3)
	})

	t.Run("scalar conflict records a marker", func(t *testing.T) {
		in := conflictInput(models.ConflictUnion,
			map[string]models.Value{"env": models.StringValue("prod")},
			map[string]models.Value{"env": models.StringValue("staging")},
		)
		got, err := NewEngine().Merge(context.Background(), in)
		require.NoError(t, err)
		v, _ := got.Nodes[0].MergedMetadata["env"].AsString()
		assert.Equal(t, "prod", v)
		marker, ok := got.Nodes[0].MergedMetadata["env__conflict"]
		require.True(t, ok)
		losers, _ := marker.AsList()
		assert.Len(t, losers, 1)
	})
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	in := twoRepoInput(sharedClass(), models.DefaultMergeOptions())
	beforeNodes := len(in.Graphs[0].Nodes)
	beforeMeta, _ := in.Graphs[0].Nodes[0].Metadata["arn"].AsString()

	_, err := NewEngine().Merge(context.Background(), in)
	require.NoError(t, err)

	assert.Len(t, in.Graphs[0].Nodes, beforeNodes)
	after, _ := in.Graphs[0].Nodes[0].Metadata["arn"].AsString()
	assert.Equal(t, beforeMeta, after)
}

func TestMergeDeterministicOrdering(t *testing.T) {
	in := twoRepoInput(sharedClass(), models.DefaultMergeOptions())
	first, err := NewEngine().Merge(context.Background(), in)
	require.NoError(t, err)
	second, err := NewEngine().Merge(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
