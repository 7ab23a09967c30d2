package match

import (
	"context"
	"regexp"

	"github.com/stratahq/strata/internal/models"
	"github.com/stratahq/strata/internal/refs"
	rollerrors "github.com/stratahq/strata/internal/rollup/errors"
)

// Reason labels why two nodes were considered the same resource.
const (
	ReasonARNIdentity       = "arn_identity"
	ReasonResourceID        = "resource_id_identity"
	ReasonNameExact         = "resource_name_exact"
	ReasonTagIntersection   = "tag_intersection"
	ReasonPathPrefix        = "path_prefix"
	ReasonWorkingDir        = "working_dir_match"
	ReasonContentHash       = "content_hash_match"
	ReasonASTShape          = "ast_shape_match"
	ReasonSemanticThreshold = "semantic_threshold"
)

// NodeCtx bundles a node with its cross-scan address and the references the
// index extracted from it.
type NodeCtx struct {
	Ref          models.NodeRef
	RepositoryID string
	Node         models.Node
	References   []refs.ExternalReference
}

// MatchContext carries cross-cutting state shared by all matchers within one
// engine run.
type MatchContext struct {
	TenantID string
}

// MatchResult is one matcher's verdict on one pair.
type MatchResult struct {
	Matched    bool
	Confidence int // 0..100
	Reason     string
}

// Matcher decides whether two nodes from different repositories represent
// the same external resource. Matchers are pure with respect to their
// inputs; all configuration is bound at construction.
type Matcher interface {
	Type() models.MatcherType
	Matches(ctx context.Context, left, right NodeCtx, mctx *MatchContext) (MatchResult, error)
}

// ScorerFunc scores semantic similarity of two nodes in [0,1]. The default
// is token overlap; deployments can plug an embedding-backed scorer.
type ScorerFunc func(left, right models.Node) float64

// Factory builds matchers from configuration.
type Factory struct {
	scorer ScorerFunc
}

// NewFactory creates a factory. scorer may be nil to use the default
// token-overlap scorer.
func NewFactory(scorer ScorerFunc) *Factory {
	if scorer == nil {
		scorer = tokenOverlapScore
	}
	return &Factory{scorer: scorer}
}

// Build constructs the matcher for one config entry.
func (f *Factory) Build(config models.MatcherConfig) (Matcher, error) {
	if err := config.Validate(); err != nil {
		return nil, rollerrors.Wrap(rollerrors.CodeInvalidMatcher, err, "invalid matcher config")
	}

	var pattern *regexp.Regexp
	if config.Pattern != "" && config.Type != models.MatcherTypeARN {
		compiled, err := regexp.Compile(config.Pattern)
		if err != nil {
			return nil, rollerrors.Wrapf(rollerrors.CodeInvalidPattern, err,
				"matcher pattern %q", config.Pattern)
		}
		pattern = compiled
	}

	switch config.Type {
	case models.MatcherTypeARN:
		return &arnMatcher{pattern: config.Pattern}, nil
	case models.MatcherTypeResourceID:
		return &resourceIDMatcher{}, nil
	case models.MatcherTypeName:
		return &nameMatcher{pattern: pattern}, nil
	case models.MatcherTypeTag:
		return newTagMatcher(config.Attributes), nil
	case models.MatcherTypePath:
		return &pathMatcher{}, nil
	case models.MatcherTypeContent:
		return &contentMatcher{}, nil
	case models.MatcherTypeAST:
		return &astMatcher{}, nil
	case models.MatcherTypeSemantic:
		return &semanticMatcher{scorer: f.scorer, threshold: config.MinConfidence}, nil
	default:
		return nil, rollerrors.Newf(rollerrors.CodeInvalidMatcher, "unknown matcher type %q", config.Type)
	}
}
