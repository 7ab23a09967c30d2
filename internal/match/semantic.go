package match

import (
	"context"
	"math"
	"strings"

	"github.com/stratahq/strata/internal/models"
)

// semanticMatcher scores pairs with a pluggable similarity function and
// matches at or above its configured threshold.
type semanticMatcher struct {
	scorer    ScorerFunc
	threshold float64 // 0..1
}

func (m *semanticMatcher) Type() models.MatcherType { return models.MatcherTypeSemantic }

func (m *semanticMatcher) Matches(ctx context.Context, left, right NodeCtx, mctx *MatchContext) (MatchResult, error) {
	score := m.scorer(left.Node, right.Node)
	if score < m.threshold || score <= 0 {
		return MatchResult{}, nil
	}
	confidence := int(math.Round(score * 100))
	if confidence > 100 {
		confidence = 100
	}
	return MatchResult{Matched: true, Confidence: confidence, Reason: ReasonSemanticThreshold}, nil
}

// tokenOverlapScore is the default scorer: cosine similarity over the token
// sets of (type, name, description).
func tokenOverlapScore(left, right models.Node) float64 {
	l := nodeTokens(left)
	r := nodeTokens(right)
	if len(l) == 0 || len(r) == 0 {
		return 0
	}
	shared := 0
	for token := range l {
		if r[token] {
			shared++
		}
	}
	return float64(shared) / math.Sqrt(float64(len(l))*float64(len(r)))
}

func nodeTokens(node models.Node) map[string]bool {
	tokens := make(map[string]bool)
	add := func(s string) {
		for _, token := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
			return r == '_' || r == '-' || r == '.' || r == '/' || r == ' '
		}) {
			if token != "" {
				tokens[token] = true
			}
		}
	}
	add(node.Type)
	add(node.Name)
	if desc, ok := node.Metadata["description"]; ok {
		if s, isStr := desc.AsString(); isStr {
			add(s)
		}
	}
	return tokens
}
