package match

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/stratahq/strata/internal/index"
	"github.com/stratahq/strata/internal/logging"
	"github.com/stratahq/strata/internal/models"
	rollerrors "github.com/stratahq/strata/internal/rollup/errors"
)

// AmbiguityWindow is the confidence-point distance under which two competing
// matches for one node count as ambiguous.
const AmbiguityWindow = 5

// Ambiguity policy modes.
const (
	AmbiguityWarn    = "warn"
	AmbiguityDegrade = "degrade"
)

// AmbiguityPolicy controls what an ambiguous match does to its class.
type AmbiguityPolicy struct {
	Mode            string `json:"mode" yaml:"mode"`
	ConfidenceFloor int    `json:"confidenceFloor" yaml:"confidenceFloor"` // degrade mode caps class confidence here
}

// DefaultAmbiguityPolicy warns without touching confidences.
func DefaultAmbiguityPolicy() AmbiguityPolicy {
	return AmbiguityPolicy{Mode: AmbiguityWarn, ConfidenceFloor: 50}
}

// ConfiguredMatcher pairs a built matcher with its engine-relevant config.
type ConfiguredMatcher struct {
	Matcher       Matcher
	Priority      int
	MinConfidence float64
}

// Class is one identity class: the set of nodes across repositories the
// engine decided are the same resource.
type Class struct {
	Members      []models.NodeRef `json:"members"`      // sorted
	Repositories []string         `json:"repositories"` // distinct, sorted
	Confidence   int              `json:"confidence"`   // min pairwise confidence
	Reasons      []string         `json:"reasons"`      // sorted union
}

// Warning is a non-fatal finding attached to the match result.
type Warning struct {
	Code    rollerrors.Code `json:"code"`
	NodeRef models.NodeRef  `json:"nodeRef"`
	Message string          `json:"message"`
}

// Result is the full outcome of one engine run.
type Result struct {
	Classes        []Class   `json:"classes"`
	Warnings       []Warning `json:"warnings,omitempty"`
	PairsEvaluated int       `json:"pairsEvaluated"`
	PairsMemoized  int       `json:"pairsMemoized"`
}

// pairOutcome memoizes one evaluated pair within a run.
type pairOutcome struct {
	matched    bool
	confidence int
	reason     string
}

// Engine runs configured matchers over candidate pairs and partitions nodes
// into identity classes with union-find.
type Engine struct {
	index     index.Index
	matchers  []ConfiguredMatcher
	ambiguity AmbiguityPolicy
	logger    *logging.Logger
}

// NewEngine builds matchers from config and orders them for evaluation:
// higher priority first, ties by higher minConfidence, then by type name.
func NewEngine(idx index.Index, factory *Factory, configs []models.MatcherConfig, ambiguity AmbiguityPolicy) (*Engine, error) {
	if ambiguity.Mode == "" {
		ambiguity = DefaultAmbiguityPolicy()
	}
	if ambiguity.Mode != AmbiguityWarn && ambiguity.Mode != AmbiguityDegrade {
		return nil, rollerrors.Newf(rollerrors.CodeInvalidConfig, "unknown ambiguity mode %q", ambiguity.Mode)
	}

	matchers := make([]ConfiguredMatcher, 0, len(configs))
	for _, config := range configs {
		matcher, err := factory.Build(config)
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, ConfiguredMatcher{
			Matcher:       matcher,
			Priority:      config.Priority,
			MinConfidence: config.MinConfidence,
		})
	}
	sort.SliceStable(matchers, func(i, j int) bool {
		if matchers[i].Priority != matchers[j].Priority {
			return matchers[i].Priority > matchers[j].Priority
		}
		if matchers[i].MinConfidence != matchers[j].MinConfidence {
			return matchers[i].MinConfidence > matchers[j].MinConfidence
		}
		return matchers[i].Matcher.Type() < matchers[j].Matcher.Type()
	})

	return &Engine{
		index:     idx,
		matchers:  matchers,
		ambiguity: ambiguity,
		logger:    logging.GetLogger("match.engine"),
	}, nil
}

// Run matches nodes across the given scan graphs for one tenant.
func (e *Engine) Run(ctx context.Context, tenantID string, graphs []*models.ScanGraph) (*Result, error) {
	if len(e.matchers) == 0 {
		return nil, rollerrors.New(rollerrors.CodeInvalidConfig, "no matchers configured")
	}

	nodes, err := e.loadNodeCtxs(ctx, tenantID, graphs)
	if err != nil {
		return nil, err
	}
	candidates := e.seedCandidates(nodes)

	e.logger.Debug("Match run: tenant=%s nodes=%d candidates=%d matchers=%d",
		tenantID, len(nodes), len(candidates), len(e.matchers))

	mctx := &MatchContext{TenantID: tenantID}
	uf := newUnionFind()
	memo := make(map[string]pairOutcome)
	// positive matches per node key, used for ambiguity detection and class
	// confidence aggregation.
	matchesByNode := make(map[string][]pairMatch)

	result := &Result{}
	iterations := 0
	for _, pair := range candidates {
		iterations++
		if iterations%cancellationCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, rollerrors.Wrap(rollerrors.CodeExecCancelled, err, "match run cancelled")
			}
		}

		key := pairKey(pair.left.Ref, pair.right.Ref)
		if _, seen := memo[key]; seen {
			result.PairsMemoized++
			continue
		}
		outcome, err := e.evaluatePair(ctx, pair, mctx)
		if err != nil {
			return nil, err
		}
		memo[key] = outcome
		result.PairsEvaluated++
		if !outcome.matched {
			continue
		}

		uf.union(pair.left.Ref, pair.right.Ref)
		pm := pairMatch{
			left:       pair.left,
			right:      pair.right,
			confidence: outcome.confidence,
			reason:     outcome.reason,
		}
		matchesByNode[pair.left.Ref.String()] = append(matchesByNode[pair.left.Ref.String()], pm)
		matchesByNode[pair.right.Ref.String()] = append(matchesByNode[pair.right.Ref.String()], pm)
	}

	result.Warnings = e.detectAmbiguity(matchesByNode)
	result.Classes = e.buildClasses(uf, nodes, matchesByNode, result.Warnings)
	return result, nil
}

const cancellationCheckInterval = 256

// candidatePair is one seeded pair, canonically ordered left < right.
type candidatePair struct {
	left, right NodeCtx
}

// pairMatch is one positive pairwise match.
type pairMatch struct {
	left, right NodeCtx
	confidence  int
	reason      string
}

func pairKey(a, b models.NodeRef) string {
	if b.Less(a) {
		a, b = b, a
	}
	return a.String() + "|" + b.String()
}

// loadNodeCtxs materializes NodeCtx for every node, resolving references via
// the index's reverse lookup.
func (e *Engine) loadNodeCtxs(ctx context.Context, tenantID string, graphs []*models.ScanGraph) ([]NodeCtx, error) {
	var out []NodeCtx
	for _, graph := range graphs {
		for _, node := range graph.Nodes {
			ref := models.NodeRef{ScanID: graph.Scan.ID, NodeID: node.ID}
			references, err := e.index.ReverseLookup(ctx, tenantID, ref)
			if err != nil {
				return nil, rollerrors.Wrapf(rollerrors.CodeExecMatchFailed, err,
					"reverse lookup for node %s", ref)
			}
			out = append(out, NodeCtx{
				Ref:          ref,
				RepositoryID: graph.Scan.RepositoryID,
				Node:         node,
				References:   references,
			})
		}
	}
	return out, nil
}

// seedCandidates produces cross-repository pairs worth evaluating: nodes
// sharing a reference hash, plus nodes sharing (type, name) so name-level
// matchers can fire for nodes without extractable references. Pairs are
// deduplicated and sorted for deterministic evaluation order.
func (e *Engine) seedCandidates(nodes []NodeCtx) []candidatePair {
	byHash := make(map[string][]int)
	byTypeName := make(map[string][]int)
	for i, node := range nodes {
		for _, ref := range node.References {
			byHash[ref.Hash] = append(byHash[ref.Hash], i)
		}
		if node.Node.Name != "" {
			key := node.Node.Type + "\x00" + strings.ToLower(node.Node.Name)
			byTypeName[key] = append(byTypeName[key], i)
		}
	}

	// Duplicate pairs (a hash block and a name block yielding the same pair)
	// are left in: the pairwise memo collapses re-evaluation.
	var pairs []candidatePair
	addBlock := func(indices []int) {
		for i := 0; i < len(indices); i++ {
			for j := i + 1; j < len(indices); j++ {
				a, b := nodes[indices[i]], nodes[indices[j]]
				if a.RepositoryID == b.RepositoryID {
					continue
				}
				if b.Ref.Less(a.Ref) {
					a, b = b, a
				}
				pairs = append(pairs, candidatePair{left: a, right: b})
			}
		}
	}
	for _, indices := range byHash {
		addBlock(indices)
	}
	for _, indices := range byTypeName {
		addBlock(indices)
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].left.Ref != pairs[j].left.Ref {
			return pairs[i].left.Ref.Less(pairs[j].left.Ref)
		}
		return pairs[i].right.Ref.Less(pairs[j].right.Ref)
	})
	return pairs
}

// evaluatePair runs matchers in priority order; the first positive verdict
// meeting its matcher's confidence floor wins.
func (e *Engine) evaluatePair(ctx context.Context, pair candidatePair, mctx *MatchContext) (pairOutcome, error) {
	for _, cm := range e.matchers {
		verdict, err := cm.Matcher.Matches(ctx, pair.left, pair.right, mctx)
		if err != nil {
			return pairOutcome{}, rollerrors.Wrapf(rollerrors.CodeExecMatchFailed, err,
				"matcher %s on pair %s|%s", cm.Matcher.Type(), pair.left.Ref, pair.right.Ref)
		}
		if !verdict.Matched {
			continue
		}
		if float64(verdict.Confidence) < cm.MinConfidence*100 {
			continue
		}
		return pairOutcome{matched: true, confidence: verdict.Confidence, reason: verdict.Reason}, nil
	}
	return pairOutcome{}, nil
}

// detectAmbiguity flags nodes whose two best matches against distinct nodes
// of the same repository sit within the ambiguity window: the node claims to
// be two different resources of one repo almost equally strongly.
func (e *Engine) detectAmbiguity(matchesByNode map[string][]pairMatch) []Warning {
	var warnings []Warning
	keys := make([]string, 0, len(matchesByNode))
	for key := range matchesByNode {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		matches := matchesByNode[key]
		// Best confidence per (repository, counterpart node).
		type rival struct {
			repo       string
			confidence int
		}
		bestByCounterpart := make(map[string]rival)
		var self models.NodeRef
		for _, m := range matches {
			other := m.right
			self = m.left.Ref
			if m.right.Ref.String() == key {
				other = m.left
				self = m.right.Ref
			}
			k := other.Ref.String()
			if prev, ok := bestByCounterpart[k]; !ok || m.confidence > prev.confidence {
				bestByCounterpart[k] = rival{repo: other.RepositoryID, confidence: m.confidence}
			}
		}

		byRepo := make(map[string][]int)
		for _, r := range bestByCounterpart {
			byRepo[r.repo] = append(byRepo[r.repo], r.confidence)
		}
		for repo, confs := range byRepo {
			if len(confs) < 2 {
				continue
			}
			sort.Sort(sort.Reverse(sort.IntSlice(confs)))
			if confs[0]-confs[1] <= AmbiguityWindow {
				warnings = append(warnings, Warning{
					Code:    rollerrors.CodeMatchAmbiguous,
					NodeRef: self,
					Message: fmt.Sprintf("node %s matches two nodes of repository %s within %d confidence points (%d vs %d)",
						self, repo, AmbiguityWindow, confs[0], confs[1]),
				})
				break
			}
		}
	}
	return warnings
}

// buildClasses folds union-find partitions into sorted identity classes.
func (e *Engine) buildClasses(uf *unionFind, nodes []NodeCtx, matchesByNode map[string][]pairMatch, warnings []Warning) []Class {
	repoByRef := make(map[string]string, len(nodes))
	for _, node := range nodes {
		repoByRef[node.Ref.String()] = node.RepositoryID
	}
	ambiguous := make(map[string]bool, len(warnings))
	for _, w := range warnings {
		ambiguous[w.NodeRef.String()] = true
	}

	var classes []Class
	for _, members := range uf.classes() {
		if len(members) < 2 {
			continue
		}
		sort.Slice(members, func(i, j int) bool { return members[i].Less(members[j]) })

		confidence := 101
		reasonSet := make(map[string]bool)
		repoSet := make(map[string]bool)
		degrade := false
		for _, member := range members {
			key := member.String()
			repoSet[repoByRef[key]] = true
			if ambiguous[key] {
				degrade = true
			}
			for _, m := range matchesByNode[key] {
				if m.confidence < confidence {
					confidence = m.confidence
				}
				reasonSet[m.reason] = true
			}
		}
		if confidence > 100 {
			confidence = 0
		}
		if degrade && e.ambiguity.Mode == AmbiguityDegrade && confidence > e.ambiguity.ConfidenceFloor {
			confidence = e.ambiguity.ConfidenceFloor
		}

		reasons := make([]string, 0, len(reasonSet))
		for reason := range reasonSet {
			reasons = append(reasons, reason)
		}
		sort.Strings(reasons)
		repos := make([]string, 0, len(repoSet))
		for repo := range repoSet {
			repos = append(repos, repo)
		}
		sort.Strings(repos)

		classes = append(classes, Class{
			Members:      members,
			Repositories: repos,
			Confidence:   confidence,
			Reasons:      reasons,
		})
	}

	sort.Slice(classes, func(i, j int) bool {
		return classes[i].Members[0].Less(classes[j].Members[0])
	})
	return classes
}
