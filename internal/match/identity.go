package match

import (
	"context"

	"github.com/stratahq/strata/internal/models"
	"github.com/stratahq/strata/internal/refs"
)

// Confidence levels per strategy. Identity-bearing signals rank above
// structural and fuzzy ones.
const (
	confidenceARN        = 100
	confidenceResourceID = 90
	confidenceContent    = 85
	confidenceAST        = 80
)

// arnMatcher matches nodes sharing at least one normalized ARN reference.
// An optional pattern restricts which ARNs participate.
type arnMatcher struct {
	pattern string // exact ARN both sides must carry, empty means any
}

func (m *arnMatcher) Type() models.MatcherType { return models.MatcherTypeARN }

func (m *arnMatcher) Matches(ctx context.Context, left, right NodeCtx, mctx *MatchContext) (MatchResult, error) {
	shared := sharedReferenceHashes(left, right, refs.TypeARN)
	if len(shared) == 0 {
		return MatchResult{}, nil
	}
	if m.pattern != "" {
		want := refs.HashIdentifier(refs.TypeARN, m.pattern)
		if !shared[want] {
			return MatchResult{}, nil
		}
	}
	return MatchResult{Matched: true, Confidence: confidenceARN, Reason: ReasonARNIdentity}, nil
}

// resourceIDMatcher matches nodes sharing a provider-assigned resource id.
type resourceIDMatcher struct{}

func (m *resourceIDMatcher) Type() models.MatcherType { return models.MatcherTypeResourceID }

func (m *resourceIDMatcher) Matches(ctx context.Context, left, right NodeCtx, mctx *MatchContext) (MatchResult, error) {
	if len(sharedReferenceHashes(left, right, refs.TypeResourceID)) == 0 {
		return MatchResult{}, nil
	}
	return MatchResult{Matched: true, Confidence: confidenceResourceID, Reason: ReasonResourceID}, nil
}

// contentMatcher matches nodes whose producers recorded the same content
// digest.
type contentMatcher struct{}

func (m *contentMatcher) Type() models.MatcherType { return models.MatcherTypeContent }

func (m *contentMatcher) Matches(ctx context.Context, left, right NodeCtx, mctx *MatchContext) (MatchResult, error) {
	l := firstStringMetadata(left.Node, "content_hash", "contentHash")
	r := firstStringMetadata(right.Node, "content_hash", "contentHash")
	if l == "" || l != r {
		return MatchResult{}, nil
	}
	return MatchResult{Matched: true, Confidence: confidenceContent, Reason: ReasonContentHash}, nil
}

// astMatcher matches nodes whose producers recorded the same AST shape
// fingerprint.
type astMatcher struct{}

func (m *astMatcher) Type() models.MatcherType { return models.MatcherTypeAST }

func (m *astMatcher) Matches(ctx context.Context, left, right NodeCtx, mctx *MatchContext) (MatchResult, error) {
	l := firstStringMetadata(left.Node, "ast_hash", "astHash", "ast_fingerprint")
	r := firstStringMetadata(right.Node, "ast_hash", "astHash", "ast_fingerprint")
	if l == "" || l != r {
		return MatchResult{}, nil
	}
	return MatchResult{Matched: true, Confidence: confidenceAST, Reason: ReasonASTShape}, nil
}

// sharedReferenceHashes returns the reference hashes of one type present on
// both nodes.
func sharedReferenceHashes(left, right NodeCtx, refType refs.ReferenceType) map[string]bool {
	leftHashes := make(map[string]bool)
	for _, ref := range left.References {
		if ref.Type == refType {
			leftHashes[ref.Hash] = true
		}
	}
	if len(leftHashes) == 0 {
		return nil
	}
	shared := make(map[string]bool)
	for _, ref := range right.References {
		if ref.Type == refType && leftHashes[ref.Hash] {
			shared[ref.Hash] = true
		}
	}
	return shared
}

// firstStringMetadata returns the first non-empty string value among the
// given metadata keys.
func firstStringMetadata(node models.Node, keys ...string) string {
	for _, key := range keys {
		if v, ok := node.Metadata[key]; ok {
			if s, isStr := v.AsString(); isStr && s != "" {
				return s
			}
		}
	}
	return ""
}
