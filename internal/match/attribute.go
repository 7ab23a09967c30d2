package match

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/stratahq/strata/internal/models"
)

const (
	confidenceNameExact  = 70
	confidenceWorkingDir = 75
	confidencePathPrefix = 60

	tagBaseConfidence = 50
	tagPerTagBonus    = 10
	tagMaxConfidence  = 90
	defaultMinTags    = 2
)

// nameMatcher matches nodes with the same type and the same name. An
// optional pattern restricts which names participate.
type nameMatcher struct {
	pattern *regexp.Regexp
}

func (m *nameMatcher) Type() models.MatcherType { return models.MatcherTypeName }

func (m *nameMatcher) Matches(ctx context.Context, left, right NodeCtx, mctx *MatchContext) (MatchResult, error) {
	if left.Node.Name == "" || left.Node.Type != right.Node.Type {
		return MatchResult{}, nil
	}
	if !strings.EqualFold(left.Node.Name, right.Node.Name) {
		return MatchResult{}, nil
	}
	if m.pattern != nil && !m.pattern.MatchString(left.Node.Name) {
		return MatchResult{}, nil
	}
	return MatchResult{Matched: true, Confidence: confidenceNameExact, Reason: ReasonNameExact}, nil
}

// tagMatcher matches nodes sharing at least minTags identical key=value
// tags. Confidence grows with the number of shared tags.
type tagMatcher struct {
	minTags int
}

func newTagMatcher(attributes map[string]string) *tagMatcher {
	minTags := defaultMinTags
	if raw, ok := attributes["minTags"]; ok {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			minTags = n
		}
	}
	return &tagMatcher{minTags: minTags}
}

func (m *tagMatcher) Type() models.MatcherType { return models.MatcherTypeTag }

func (m *tagMatcher) Matches(ctx context.Context, left, right NodeCtx, mctx *MatchContext) (MatchResult, error) {
	leftTags := nodeTags(left.Node)
	if len(leftTags) == 0 {
		return MatchResult{}, nil
	}
	shared := 0
	for key, value := range nodeTags(right.Node) {
		if leftTags[key] == value {
			shared++
		}
	}
	if shared < m.minTags {
		return MatchResult{}, nil
	}
	confidence := tagBaseConfidence + shared*tagPerTagBonus
	if confidence > tagMaxConfidence {
		confidence = tagMaxConfidence
	}
	return MatchResult{Matched: true, Confidence: confidence, Reason: ReasonTagIntersection}, nil
}

// nodeTags flattens the node's "tags" metadata map to string pairs.
func nodeTags(node models.Node) map[string]string {
	raw, ok := node.Metadata["tags"]
	if !ok {
		return nil
	}
	m, ok := raw.AsMap()
	if !ok {
		return nil
	}
	tags := make(map[string]string, len(m))
	for key, value := range m {
		if s, isStr := value.AsString(); isStr {
			tags[key] = s
		}
	}
	return tags
}

// pathMatcher matches nodes by filesystem layout: an exact working
// directory match scores higher than one path being a directory prefix of
// the other.
type pathMatcher struct{}

func (m *pathMatcher) Type() models.MatcherType { return models.MatcherTypePath }

func (m *pathMatcher) Matches(ctx context.Context, left, right NodeCtx, mctx *MatchContext) (MatchResult, error) {
	leftDir := firstStringMetadata(left.Node, "working_dir", "workingDir")
	rightDir := firstStringMetadata(right.Node, "working_dir", "workingDir")
	if leftDir != "" && normalizePath(leftDir) == normalizePath(rightDir) {
		return MatchResult{Matched: true, Confidence: confidenceWorkingDir, Reason: ReasonWorkingDir}, nil
	}

	leftPath := nodePath(left.Node)
	rightPath := nodePath(right.Node)
	if leftPath == "" || rightPath == "" {
		return MatchResult{}, nil
	}
	if pathPrefixOf(leftPath, rightPath) || pathPrefixOf(rightPath, leftPath) {
		return MatchResult{Matched: true, Confidence: confidencePathPrefix, Reason: ReasonPathPrefix}, nil
	}
	return MatchResult{}, nil
}

func nodePath(node models.Node) string {
	if p := firstStringMetadata(node, "path", "file"); p != "" {
		return normalizePath(p)
	}
	return normalizePath(node.Location.File)
}

func normalizePath(p string) string {
	return strings.Trim(strings.ReplaceAll(p, "\\", "/"), "/")
}

// pathPrefixOf reports whether prefix is a directory-boundary prefix of p.
func pathPrefixOf(prefix, p string) bool {
	if prefix == "" {
		return false
	}
	if prefix == p {
		return true
	}
	return strings.HasPrefix(p, prefix+"/")
}
