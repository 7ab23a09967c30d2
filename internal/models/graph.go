package models

// Provider identifies the source-control system hosting a repository.
type Provider string

const (
	ProviderGitHub    Provider = "github"
	ProviderGitLab    Provider = "gitlab"
	ProviderBitbucket Provider = "bitbucket"
)

// EdgeType classifies a graph relation. The core treats the semantics
// opaquely but preserves the type through merge.
type EdgeType string

const (
	EdgeTypeContains   EdgeType = "contains"
	EdgeTypeDependsOn  EdgeType = "depends_on"
	EdgeTypeOperatesOn EdgeType = "operates_on"
	EdgeTypeReferences EdgeType = "references"
	EdgeTypeDeploysTo  EdgeType = "deploys_to"

	// EdgeTypeCrossRepoIdentity is the synthetic edge inserted during merge
	// linking two representatives of the same merged node across repos.
	EdgeTypeCrossRepoIdentity EdgeType = "cross_repo_identity"
)

// Location records where in a source file a node was parsed from.
type Location struct {
	File      string `json:"file"`
	LineStart int    `json:"lineStart"`
	LineEnd   int    `json:"lineEnd"`
}

// Node is one vertex of a per-repository IaC graph. ID is unique within
// its scan only; cross-scan identity is established by the match engine.
type Node struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Name     string           `json:"name"`
	Metadata map[string]Value `json:"metadata,omitempty"`
	Location Location         `json:"location"`
}

// Edge is a directed relation between two nodes of the same scan.
// Confidence is an integer percentage in [0,100].
type Edge struct {
	SourceID   string           `json:"sourceId"`
	TargetID   string           `json:"targetId"`
	Type       EdgeType         `json:"type"`
	Confidence int              `json:"confidence"`
	Metadata   map[string]Value `json:"metadata,omitempty"`
}

// Repository identifies one scanned repository.
type Repository struct {
	ID       string   `json:"id"`
	Provider Provider `json:"provider"`
}

// Scan identifies one parse of one repository at a point in time.
// CompletedAt is Unix nanoseconds.
type Scan struct {
	ID              string `json:"id"`
	TenantID        string `json:"tenantId"`
	RepositoryID    string `json:"repositoryId"`
	CompletedAt     int64  `json:"completedAt"`
	ProducerVersion string `json:"producerVersion"`
}

// ScanGraph is the per-repository graph a GraphProvider returns.
type ScanGraph struct {
	Scan  Scan   `json:"scan"`
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// NodeRef addresses a node across scans.
type NodeRef struct {
	ScanID string `json:"scanId"`
	NodeID string `json:"nodeId"`
}

// String renders the ref as "scanId/nodeId", used as a stable map key.
func (r NodeRef) String() string {
	return r.ScanID + "/" + r.NodeID
}

// Less orders refs lexicographically by (scanId, nodeId).
func (r NodeRef) Less(other NodeRef) bool {
	if r.ScanID != other.ScanID {
		return r.ScanID < other.ScanID
	}
	return r.NodeID < other.NodeID
}

// Validate checks edge invariants.
func (e Edge) Validate() error {
	if e.SourceID == "" || e.TargetID == "" {
		return NewValidationError("edge endpoints must not be empty")
	}
	if e.Confidence < 0 || e.Confidence > 100 {
		return NewValidationError("edge confidence must be in [0,100], got %d", e.Confidence)
	}
	return nil
}

// Validate checks provider membership.
func (r Repository) Validate() error {
	switch r.Provider {
	case ProviderGitHub, ProviderGitLab, ProviderBitbucket:
		return nil
	default:
		return NewValidationError("unknown repository provider %q", r.Provider)
	}
}
