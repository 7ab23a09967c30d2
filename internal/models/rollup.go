package models

import (
	"regexp"

	"github.com/robfig/cron/v3"
)

// MatcherType names a matching strategy.
type MatcherType string

const (
	MatcherTypeARN        MatcherType = "arn"
	MatcherTypeResourceID MatcherType = "resource_id"
	MatcherTypeName       MatcherType = "name"
	MatcherTypeTag        MatcherType = "tag"
	MatcherTypePath       MatcherType = "path"
	MatcherTypeContent    MatcherType = "content"
	MatcherTypeAST        MatcherType = "ast"
	MatcherTypeSemantic   MatcherType = "semantic"
)

// knownMatcherTypes is the closed set of matcher strategies.
var knownMatcherTypes = map[MatcherType]bool{
	MatcherTypeARN:        true,
	MatcherTypeResourceID: true,
	MatcherTypeName:       true,
	MatcherTypeTag:        true,
	MatcherTypePath:       true,
	MatcherTypeContent:    true,
	MatcherTypeAST:        true,
	MatcherTypeSemantic:   true,
}

// ConflictResolution selects how disagreeing attributes merge.
type ConflictResolution string

const (
	ConflictPreferHighestConfidence ConflictResolution = "prefer_highest_confidence"
	ConflictPreferFirstRepo         ConflictResolution = "prefer_first_repo"
	ConflictUnion                   ConflictResolution = "union"
	ConflictError                   ConflictResolution = "error"
)

// RollupStatus is the lifecycle state of a rollup configuration.
type RollupStatus string

const (
	RollupStatusActive   RollupStatus = "active"
	RollupStatusArchived RollupStatus = "archived"
)

// Config limits. MaxRepositoriesPerRollup is a deployment-tunable default.
const (
	MinRepositoriesPerRollup        = 2
	DefaultMaxRepositoriesPerRollup = 50
	MinMatchersPerRollup            = 1
	MaxMatchersPerRollup            = 20
)

// ARNPattern is the grammar every ARN identifier and ARN matcher pattern
// must satisfy.
var ARNPattern = regexp.MustCompile(`^arn:[a-z-]+:[a-z0-9-]+:[a-z0-9-]*:[0-9]*:.+$`)

// cronParser validates 5-field standard cron expressions.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// MatcherConfig configures one matching strategy of a rollup.
type MatcherConfig struct {
	Type          MatcherType       `json:"type" yaml:"type"`
	Priority      int               `json:"priority" yaml:"priority"`           // 1..100, higher wins ties
	Pattern       string            `json:"pattern,omitempty" yaml:"pattern"`   // regex, ARN pattern for type=arn
	Attributes    map[string]string `json:"attributes,omitempty" yaml:"attributes"`
	MinConfidence float64           `json:"minConfidence" yaml:"minConfidence"` // 0..1
}

// Validate checks matcher-level rules.
func (m MatcherConfig) Validate() error {
	if !knownMatcherTypes[m.Type] {
		return NewValidationError("unknown matcher type %q", m.Type)
	}
	if m.Priority < 1 || m.Priority > 100 {
		return NewValidationError("matcher priority must be in [1,100], got %d", m.Priority)
	}
	if m.MinConfidence < 0 || m.MinConfidence > 1 {
		return NewValidationError("matcher minConfidence must be in [0,1], got %v", m.MinConfidence)
	}
	if m.Pattern != "" {
		if m.Type == MatcherTypeARN {
			if !ARNPattern.MatchString(m.Pattern) {
				return NewValidationError("arn matcher pattern %q does not match the ARN grammar", m.Pattern)
			}
		} else if _, err := regexp.Compile(m.Pattern); err != nil {
			return NewValidationError("matcher pattern %q does not compile: %v", m.Pattern, err)
		}
	}
	return nil
}

// MergeOptions controls merged-graph construction.
type MergeOptions struct {
	ConflictResolution   ConflictResolution `json:"conflictResolution" yaml:"conflictResolution"`
	PreserveSourceInfo   bool               `json:"preserveSourceInfo" yaml:"preserveSourceInfo"`
	CreateCrossRepoEdges bool               `json:"createCrossRepoEdges" yaml:"createCrossRepoEdges"`
	MaxNodes             int                `json:"maxNodes" yaml:"maxNodes"` // hard cap on merged nodes
	// EdgeTypePreservation is "all" or "named-set"; NamedEdgeTypes lists the
	// preserved set in named-set mode.
	EdgeTypePreservation string     `json:"edgeTypePreservation" yaml:"edgeTypePreservation"`
	NamedEdgeTypes       []EdgeType `json:"namedEdgeTypes,omitempty" yaml:"namedEdgeTypes"`
}

// Validate checks merge option values.
func (o MergeOptions) Validate() error {
	switch o.ConflictResolution {
	case ConflictPreferHighestConfidence, ConflictPreferFirstRepo, ConflictUnion, ConflictError:
	default:
		return NewValidationError("unknown conflict resolution %q", o.ConflictResolution)
	}
	if o.MaxNodes < 1 {
		return NewValidationError("mergeOptions.maxNodes must be positive, got %d", o.MaxNodes)
	}
	switch o.EdgeTypePreservation {
	case "all":
	case "named-set":
		if len(o.NamedEdgeTypes) == 0 {
			return NewValidationError("edgeTypePreservation=named-set requires namedEdgeTypes")
		}
	default:
		return NewValidationError("edgeTypePreservation must be \"all\" or \"named-set\", got %q", o.EdgeTypePreservation)
	}
	return nil
}

// PreservesEdgeType reports whether edges of the given type survive merge.
// Synthetic cross-repo edges are always preserved.
func (o MergeOptions) PreservesEdgeType(t EdgeType) bool {
	if o.EdgeTypePreservation == "all" || t == EdgeTypeCrossRepoIdentity {
		return true
	}
	for _, named := range o.NamedEdgeTypes {
		if named == t {
			return true
		}
	}
	return false
}

// DefaultMergeOptions returns sane merge defaults.
func DefaultMergeOptions() MergeOptions {
	return MergeOptions{
		ConflictResolution:   ConflictPreferHighestConfidence,
		PreserveSourceInfo:   true,
		CreateCrossRepoEdges: true,
		MaxNodes:             100000,
		EdgeTypePreservation: "all",
	}
}

// RollupConfig is a tenant-scoped cross-repository aggregation definition.
// Version is bumped on every successful update (optimistic concurrency).
// Timestamps are Unix nanoseconds.
type RollupConfig struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenantId"`
	Name          string          `json:"name"` // unique within tenant
	RepositoryIDs []string        `json:"repositoryIds"`
	Matchers      []MatcherConfig `json:"matchers"`
	MergeOptions  MergeOptions    `json:"mergeOptions"`
	Schedule      string          `json:"schedule,omitempty"` // 5-field cron
	Status        RollupStatus    `json:"status"`
	Version       int64           `json:"version"`
	CreatedAt     int64           `json:"createdAt"`
	UpdatedAt     int64           `json:"updatedAt"`
}

// Validate checks the full configuration against the boundary rules.
// maxRepositories comes from deployment config; pass 0 for the default.
func (c RollupConfig) Validate(maxRepositories int) error {
	if maxRepositories <= 0 {
		maxRepositories = DefaultMaxRepositoriesPerRollup
	}
	if c.TenantID == "" {
		return NewValidationError("tenantId must not be empty")
	}
	if c.Name == "" {
		return NewValidationError("name must not be empty")
	}
	if len(c.RepositoryIDs) < MinRepositoriesPerRollup || len(c.RepositoryIDs) > maxRepositories {
		return NewValidationError("repositoryIds must contain between %d and %d entries, got %d",
			MinRepositoriesPerRollup, maxRepositories, len(c.RepositoryIDs))
	}
	seen := make(map[string]bool, len(c.RepositoryIDs))
	for _, id := range c.RepositoryIDs {
		if id == "" {
			return NewValidationError("repositoryIds must not contain empty ids")
		}
		if seen[id] {
			return NewValidationError("repositoryIds contains duplicate %q", id)
		}
		seen[id] = true
	}
	if len(c.Matchers) < MinMatchersPerRollup || len(c.Matchers) > MaxMatchersPerRollup {
		return NewValidationError("matchers must contain between %d and %d entries, got %d",
			MinMatchersPerRollup, MaxMatchersPerRollup, len(c.Matchers))
	}
	for i, m := range c.Matchers {
		if err := m.Validate(); err != nil {
			return NewValidationError("matcher[%d]: %v", i, err)
		}
	}
	if err := c.MergeOptions.Validate(); err != nil {
		return err
	}
	if c.Schedule != "" {
		if _, err := cronParser.Parse(c.Schedule); err != nil {
			return NewValidationError("schedule %q is not a valid 5-field cron expression: %v", c.Schedule, err)
		}
	}
	return nil
}

// RepositoryOrder maps repository id to its position in the config, used by
// the prefer_first_repo conflict resolution.
func (c RollupConfig) RepositoryOrder() map[string]int {
	order := make(map[string]int, len(c.RepositoryIDs))
	for i, id := range c.RepositoryIDs {
		order[id] = i
	}
	return order
}
