package models

// Representative records one source node participating in a merged node,
// with the pairwise-match confidence that brought it into the class.
type Representative struct {
	ScanID       string `json:"scanId"`
	RepositoryID string `json:"repositoryId"`
	NodeID       string `json:"nodeId"`
	Confidence   int    `json:"confidence"` // 0..100
}

// MergedNode is the canonical node representing one equivalence class.
type MergedNode struct {
	CanonicalID     string           `json:"canonicalId"`
	Representatives []Representative `json:"representatives"`
	Type            string           `json:"type"`
	Name            string           `json:"name"`
	MergedMetadata  map[string]Value `json:"mergedMetadata,omitempty"`
	SourceCount     int              `json:"sourceCount"` // distinct repositories
	MatchReasons    []string         `json:"matchReasons,omitempty"`
	Confidence      int              `json:"confidence"` // min pairwise confidence of the class
	// SourceLocations is populated when MergeOptions.PreserveSourceInfo is set.
	SourceLocations map[string]Location `json:"sourceLocations,omitempty"` // key: NodeRef string
}

// MergedGraph is the immutable output of one rollup execution.
type MergedGraph struct {
	ExecutionID string       `json:"executionId"`
	TenantID    string       `json:"tenantId"`
	Nodes       []MergedNode `json:"nodes"`
	Edges       []Edge       `json:"edges"`
}

// NodeByID returns the merged node with the given canonical id.
func (g *MergedGraph) NodeByID(canonicalID string) (*MergedNode, bool) {
	for i := range g.Nodes {
		if g.Nodes[i].CanonicalID == canonicalID {
			return &g.Nodes[i], true
		}
	}
	return nil, false
}

// BlastRadiusQuery parameterizes a blast-radius traversal.
type BlastRadiusQuery struct {
	SeedNodeIDs     []string `json:"seedNodeIds"` // canonical ids
	MaxDepth        int      `json:"maxDepth"`
	MaxNodes        int      `json:"maxNodes"`
	IncludeIndirect bool     `json:"includeIndirect"`
}

// RiskLevel buckets blast-radius results.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// ImpactedNode is one entry of a blast-radius result.
type ImpactedNode struct {
	NodeID       string     `json:"nodeId"`
	Distance     int        `json:"distance"` // 0 = seed, 1 = direct
	ViaEdgeTypes []EdgeType `json:"viaEdgeTypes"`
	RiskWeight   float64    `json:"riskWeight"` // max edge weight along the path
}

// BlastRadiusResult is the output of a blast-radius query.
type BlastRadiusResult struct {
	Impacted  []ImpactedNode `json:"impacted"`
	RiskLevel RiskLevel      `json:"riskLevel"`
	Truncated bool           `json:"truncated"`
}
