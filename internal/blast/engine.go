package blast

import (
	"context"
	"sort"

	"github.com/stratahq/strata/internal/logging"
	"github.com/stratahq/strata/internal/models"
	rollerrors "github.com/stratahq/strata/internal/rollup/errors"
)

// Engine computes blast-radius results over merged graphs.
type Engine struct {
	risk   RiskSource
	logger *logging.Logger
}

// NewEngine creates a blast-radius engine reading risk settings from source.
func NewEngine(source RiskSource) *Engine {
	if source == nil {
		source = StaticRisk(DefaultRiskConfig())
	}
	return &Engine{
		risk:   source,
		logger: logging.GetLogger("blast.engine"),
	}
}

// outEdge is one traversable adjacency entry.
type outEdge struct {
	target string
	typ    models.EdgeType
}

// Analyze runs a bounded BFS from the query seeds over the merged graph's
// out-edges. Seeds have distance 0; deeper discoveries carry the max edge
// weight seen along their path. The result is truncated when the visited set
// would exceed MaxNodes or a frontier would pass MaxDepth.
func (e *Engine) Analyze(ctx context.Context, graph *models.MergedGraph, query models.BlastRadiusQuery) (*models.BlastRadiusResult, error) {
	if err := validateQuery(graph, query); err != nil {
		return nil, err
	}
	cfg := e.risk()
	if err := cfg.Validate(); err != nil {
		return nil, rollerrors.Wrap(rollerrors.CodeInvalidConfig, err, "invalid risk configuration")
	}

	// IncludeIndirect=false keeps only seeds and direct dependents, so the
	// traversal never needs to leave distance 1. Capping here is a filter,
	// not a truncation.
	effectiveDepth := query.MaxDepth
	depthTruncates := true
	if !query.IncludeIndirect && effectiveDepth > 1 {
		effectiveDepth = 1
		depthTruncates = false
	}

	adjacency := buildAdjacency(graph)

	visited := make(map[string]*models.ImpactedNode, len(query.SeedNodeIDs))
	var frontier []string
	truncated := false

	for _, seed := range query.SeedNodeIDs {
		if _, seen := visited[seed]; seen {
			continue
		}
		if len(visited) >= query.MaxNodes {
			truncated = true
			break
		}
		visited[seed] = &models.ImpactedNode{NodeID: seed, Distance: 0}
		frontier = append(frontier, seed)
	}

	for distance := 1; len(frontier) > 0 && !truncated; distance++ {
		if err := ctx.Err(); err != nil {
			return nil, rollerrors.Wrap(rollerrors.CodeExecCancelled, err, "blast-radius query cancelled")
		}
		if distance > effectiveDepth {
			if depthTruncates && frontierHasUnvisitedEdges(frontier, adjacency, visited) {
				truncated = true
			}
			break
		}

		var next []string
		for _, nodeID := range frontier {
			parent := visited[nodeID]
			for _, edge := range adjacency[nodeID] {
				if _, seen := visited[edge.target]; seen {
					continue
				}
				if len(visited) >= query.MaxNodes {
					truncated = true
					break
				}
				weight := cfg.Weight(edge.typ)
				if parent.RiskWeight > weight {
					weight = parent.RiskWeight
				}
				visited[edge.target] = &models.ImpactedNode{
					NodeID:       edge.target,
					Distance:     distance,
					ViaEdgeTypes: appendEdgeType(parent.ViaEdgeTypes, edge.typ),
					RiskWeight:   weight,
				}
				next = append(next, edge.target)
			}
			if truncated {
				break
			}
		}
		frontier = next
	}

	impacted := make([]models.ImpactedNode, 0, len(visited))
	reach := 0.0
	for _, node := range visited {
		impacted = append(impacted, *node)
		reach += node.RiskWeight
	}
	sort.Slice(impacted, func(i, j int) bool {
		if impacted[i].Distance != impacted[j].Distance {
			return impacted[i].Distance < impacted[j].Distance
		}
		return impacted[i].NodeID < impacted[j].NodeID
	})

	result := &models.BlastRadiusResult{
		Impacted:  impacted,
		RiskLevel: cfg.Classify(len(impacted), reach),
		Truncated: truncated,
	}
	e.logger.Debug("Blast radius: seeds=%d impacted=%d truncated=%v risk=%s",
		len(query.SeedNodeIDs), len(impacted), truncated, result.RiskLevel)
	return result, nil
}

func validateQuery(graph *models.MergedGraph, query models.BlastRadiusQuery) error {
	if len(query.SeedNodeIDs) == 0 {
		return rollerrors.New(rollerrors.CodeInvalidQuery, "seedNodeIds must not be empty")
	}
	if query.MaxDepth < 1 {
		return rollerrors.Newf(rollerrors.CodeInvalidQuery, "maxDepth must be positive, got %d", query.MaxDepth)
	}
	if query.MaxNodes < 1 {
		return rollerrors.Newf(rollerrors.CodeInvalidQuery, "maxNodes must be positive, got %d", query.MaxNodes)
	}
	for _, seed := range query.SeedNodeIDs {
		if _, ok := graph.NodeByID(seed); !ok {
			return rollerrors.Newf(rollerrors.CodeInvalidQuery, "seed node %q is not part of the merged graph", seed)
		}
	}
	return nil
}

// buildAdjacency indexes out-edges by source, dropping edges whose endpoints
// are not canonical merged nodes (identity edges reference representative
// lineage ids, not canonical nodes). Lists are sorted so equal-length paths
// resolve deterministically.
func buildAdjacency(graph *models.MergedGraph) map[string][]outEdge {
	canonical := make(map[string]bool, len(graph.Nodes))
	for i := range graph.Nodes {
		canonical[graph.Nodes[i].CanonicalID] = true
	}
	adjacency := make(map[string][]outEdge)
	for _, edge := range graph.Edges {
		if !canonical[edge.SourceID] || !canonical[edge.TargetID] {
			continue
		}
		adjacency[edge.SourceID] = append(adjacency[edge.SourceID], outEdge{target: edge.TargetID, typ: edge.Type})
	}
	for _, edges := range adjacency {
		sort.Slice(edges, func(i, j int) bool {
			if edges[i].target != edges[j].target {
				return edges[i].target < edges[j].target
			}
			return edges[i].typ < edges[j].typ
		})
	}
	return adjacency
}

// frontierHasUnvisitedEdges reports whether stopping at the depth limit
// actually cut off reachable nodes.
func frontierHasUnvisitedEdges(frontier []string, adjacency map[string][]outEdge, visited map[string]*models.ImpactedNode) bool {
	for _, nodeID := range frontier {
		for _, edge := range adjacency[nodeID] {
			if _, seen := visited[edge.target]; !seen {
				return true
			}
		}
	}
	return false
}

// appendEdgeType extends a path's edge-type set, keeping it sorted and
// duplicate free. The input slice is shared between siblings and never
// mutated.
func appendEdgeType(via []models.EdgeType, t models.EdgeType) []models.EdgeType {
	for _, existing := range via {
		if existing == t {
			return via
		}
	}
	out := make([]models.EdgeType, len(via), len(via)+1)
	copy(out, via)
	out = append(out, t)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
