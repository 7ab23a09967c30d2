package merge

import (
	"context"
	"sort"

	"github.com/stratahq/strata/internal/logging"
	"github.com/stratahq/strata/internal/match"
	"github.com/stratahq/strata/internal/models"
	rollerrors "github.com/stratahq/strata/internal/rollup/errors"
)

// Input bundles everything one merge needs. The engine never mutates any of
// it; the returned graph is built fresh.
type Input struct {
	ExecutionID     string
	TenantID        string
	Graphs          []*models.ScanGraph
	Classes         []match.Class
	Options         models.MergeOptions
	RepositoryOrder map[string]int // config order, drives prefer_first_repo
}

// Engine folds matched scan graphs into one merged graph.
type Engine struct {
	logger *logging.Logger
}

// NewEngine creates a merge engine.
func NewEngine() *Engine {
	return &Engine{logger: logging.GetLogger("merge.engine")}
}

// sourceNode is one original node with its provenance.
type sourceNode struct {
	ref        models.NodeRef
	repository string
	node       models.Node
}

// Merge produces the merged graph for one execution.
func (e *Engine) Merge(ctx context.Context, in Input) (*models.MergedGraph, error) {
	if err := in.Options.Validate(); err != nil {
		return nil, rollerrors.Wrap(rollerrors.CodeInvalidConfig, err, "invalid merge options")
	}

	sources, err := collectSources(in.Graphs)
	if err != nil {
		return nil, err
	}

	classByMember, classes := assignClasses(sources, in.Classes)
	if len(classes) > in.Options.MaxNodes {
		return nil, rollerrors.Newf(rollerrors.CodeMergeLimitExceeded,
			"merged graph would contain %d nodes, limit is %d", len(classes), in.Options.MaxNodes)
	}

	identityEdges := e.identityEdges(classes, in.Options)
	if err := e.checkCycles(ctx, in, sources, identityEdges); err != nil {
		return nil, err
	}

	nodes := make([]models.MergedNode, 0, len(classes))
	for _, class := range classes {
		merged, err := e.mergeClass(class, sources, in)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, merged)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].CanonicalID < nodes[j].CanonicalID })

	edges, err := e.rewriteEdges(in, sources, classByMember)
	if err != nil {
		return nil, err
	}
	edges = append(edges, identityEdges...)
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].SourceID != edges[j].SourceID {
			return edges[i].SourceID < edges[j].SourceID
		}
		if edges[i].TargetID != edges[j].TargetID {
			return edges[i].TargetID < edges[j].TargetID
		}
		return edges[i].Type < edges[j].Type
	})

	e.logger.Debug("Merge complete: execution=%s nodes=%d edges=%d classes=%d",
		in.ExecutionID, len(nodes), len(edges), len(in.Classes))

	return &models.MergedGraph{
		ExecutionID: in.ExecutionID,
		TenantID:    in.TenantID,
		Nodes:       nodes,
		Edges:       edges,
	}, nil
}

// collectSources flattens the scan graphs into a member-keyed map and
// validates that every source edge endpoint exists in its own scan.
func collectSources(graphs []*models.ScanGraph) (map[string]sourceNode, error) {
	sources := make(map[string]sourceNode)
	for _, graph := range graphs {
		known := make(map[string]bool, len(graph.Nodes))
		for _, node := range graph.Nodes {
			ref := models.NodeRef{ScanID: graph.Scan.ID, NodeID: node.ID}
			sources[ref.String()] = sourceNode{
				ref:        ref,
				repository: graph.Scan.RepositoryID,
				node:       node,
			}
			known[node.ID] = true
		}
		for _, edge := range graph.Edges {
			if !known[edge.SourceID] || !known[edge.TargetID] {
				return nil, rollerrors.Newf(rollerrors.CodeMergeInvalidEdge,
					"edge %s->%s in scan %s references a missing node",
					edge.SourceID, edge.TargetID, graph.Scan.ID)
			}
		}
	}
	return sources, nil
}

// mergedClass is one equivalence class with its resolved canonical id.
// Singleton nodes become classes of one.
type mergedClass struct {
	canonicalID string
	members     []models.NodeRef
	confidence  int
	reasons     []string
}

// assignClasses maps every source node to its class, synthesizing singleton
// classes for unmatched nodes. Classes are returned sorted by canonical id.
func assignClasses(sources map[string]sourceNode, classes []match.Class) (map[string]string, []mergedClass) {
	classByMember := make(map[string]string, len(sources))
	out := make([]mergedClass, 0, len(classes))

	for _, class := range classes {
		id := CanonicalID(class.Members)
		for _, member := range class.Members {
			classByMember[member.String()] = id
		}
		out = append(out, mergedClass{
			canonicalID: id,
			members:     class.Members,
			confidence:  class.Confidence,
			reasons:     class.Reasons,
		})
	}

	keys := make([]string, 0, len(sources))
	for key := range sources {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if _, matched := classByMember[key]; matched {
			continue
		}
		source := sources[key]
		id := singletonCanonicalID(source.ref)
		classByMember[key] = id
		out = append(out, mergedClass{
			canonicalID: id,
			members:     []models.NodeRef{source.ref},
			confidence:  100,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].canonicalID < out[j].canonicalID })
	return classByMember, out
}

// orderedMembers returns the class members in conflict-resolution order: the
// member whose attribute wins comes first.
func orderedMembers(class mergedClass, sources map[string]sourceNode, in Input) []models.NodeRef {
	members := make([]models.NodeRef, len(class.members))
	copy(members, class.members)

	switch in.Options.ConflictResolution {
	case models.ConflictPreferFirstRepo:
		sort.SliceStable(members, func(i, j int) bool {
			ri := in.RepositoryOrder[sources[members[i].String()].repository]
			rj := in.RepositoryOrder[sources[members[j].String()].repository]
			if ri != rj {
				return ri < rj
			}
			return members[i].Less(members[j])
		})
	default:
		// prefer_highest_confidence order, also the fallback for union:
		// class confidence is uniform across members, so ties resolve by
		// lexicographic scan id.
		sort.SliceStable(members, func(i, j int) bool {
			return members[i].Less(members[j])
		})
	}
	return members
}

// mergeClass builds the merged node for one class.
func (e *Engine) mergeClass(class mergedClass, sources map[string]sourceNode, in Input) (models.MergedNode, error) {
	members := orderedMembers(class, sources, in)
	primary := sources[members[0].String()]

	merged := models.MergedNode{
		CanonicalID:  class.canonicalID,
		Type:         primary.node.Type,
		Name:         primary.node.Name,
		MatchReasons: class.reasons,
		Confidence:   class.confidence,
	}

	repoSet := make(map[string]bool)
	for _, member := range members {
		source := sources[member.String()]
		repoSet[source.repository] = true
		merged.Representatives = append(merged.Representatives, models.Representative{
			ScanID:       member.ScanID,
			RepositoryID: source.repository,
			NodeID:       member.NodeID,
			Confidence:   class.confidence,
		})
	}
	merged.SourceCount = len(repoSet)

	if in.Options.PreserveSourceInfo {
		merged.SourceLocations = make(map[string]models.Location, len(members))
		for _, member := range members {
			merged.SourceLocations[member.String()] = sources[member.String()].node.Location
		}
	}

	metadata, err := mergeMetadata(members, sources, in.Options.ConflictResolution)
	if err != nil {
		return models.MergedNode{}, rollerrors.Wrapf(rollerrors.CodeMergeConflict, err,
			"merged node %s", class.canonicalID)
	}
	merged.MergedMetadata = metadata
	return merged, nil
}

// mergeMetadata folds member metadata per the conflict resolution. members
// arrive in resolution order: earlier members win conflicts.
func mergeMetadata(members []models.NodeRef, sources map[string]sourceNode, resolution models.ConflictResolution) (map[string]models.Value, error) {
	keySet := make(map[string]bool)
	for _, member := range members {
		for key := range sources[member.String()].node.Metadata {
			keySet[key] = true
		}
	}
	if len(keySet) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(keySet))
	for key := range keySet {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make(map[string]models.Value, len(keys))
	for _, key := range keys {
		var values []models.Value
		for _, member := range members {
			if v, ok := sources[member.String()].node.Metadata[key]; ok {
				values = append(values, v)
			}
		}
		merged, err := mergeValues(key, values, resolution)
		if err != nil {
			return nil, err
		}
		for k, v := range merged {
			out[k] = v
		}
	}
	return out, nil
}

// mergeValues resolves one attribute across representatives. It returns one
// entry keyed by the attribute, plus a conflict-marker entry when the union
// resolution hits disagreeing scalars.
func mergeValues(key string, values []models.Value, resolution models.ConflictResolution) (map[string]models.Value, error) {
	distinct := distinctValues(values)
	if len(distinct) == 1 {
		return map[string]models.Value{key: distinct[0]}, nil
	}

	switch resolution {
	case models.ConflictError:
		return nil, rollerrors.Newf(rollerrors.CodeMergeConflict,
			"attribute %q disagrees across %d representatives", key, len(distinct))

	case models.ConflictUnion:
		if allLists(distinct) {
			return map[string]models.Value{key: unionLists(distinct)}, nil
		}
		// Scalars fall back to the first value and leave a marker with the
		// losing alternatives.
		return map[string]models.Value{
			key:                values[0],
			key + "__conflict": models.ListValue(distinct[1:]...),
		}, nil

	default:
		// prefer_highest_confidence and prefer_first_repo: members are
		// already ordered, the first occurrence wins.
		return map[string]models.Value{key: values[0]}, nil
	}
}

// distinctValues keeps the first occurrence of each canonical form,
// preserving member order.
func distinctValues(values []models.Value) []models.Value {
	seen := make(map[string]bool, len(values))
	var out []models.Value
	for _, v := range values {
		canon := v.Canonical()
		if seen[canon] {
			continue
		}
		seen[canon] = true
		out = append(out, v)
	}
	return out
}

func allLists(values []models.Value) bool {
	for _, v := range values {
		if v.Kind() != models.KindList {
			return false
		}
	}
	return true
}

// unionLists set-unions list values, deduplicating by canonical form and
// sorting for determinism.
func unionLists(values []models.Value) models.Value {
	seen := make(map[string]bool)
	var items []models.Value
	for _, v := range values {
		list, _ := v.AsList()
		for _, item := range list {
			canon := item.Canonical()
			if seen[canon] {
				continue
			}
			seen[canon] = true
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Canonical() < items[j].Canonical() })
	return models.ListValue(items...)
}

// rewriteEdges remaps source edges to canonical endpoints, filters by edge
// type preservation, drops intra-class self-loops, and collapses duplicates
// keeping the max confidence.
func (e *Engine) rewriteEdges(in Input, sources map[string]sourceNode, classByMember map[string]string) ([]models.Edge, error) {
	type edgeKey struct {
		src, tgt string
		typ      models.EdgeType
	}
	best := make(map[edgeKey]models.Edge)
	var order []edgeKey

	for _, graph := range in.Graphs {
		for _, edge := range graph.Edges {
			if !in.Options.PreservesEdgeType(edge.Type) {
				continue
			}
			src := classByMember[models.NodeRef{ScanID: graph.Scan.ID, NodeID: edge.SourceID}.String()]
			tgt := classByMember[models.NodeRef{ScanID: graph.Scan.ID, NodeID: edge.TargetID}.String()]
			if src == "" || tgt == "" {
				return nil, rollerrors.Newf(rollerrors.CodeMergeInvalidEdge,
					"edge %s->%s in scan %s does not resolve to canonical nodes",
					edge.SourceID, edge.TargetID, graph.Scan.ID)
			}
			if src == tgt {
				// Both endpoints merged into the same node.
				continue
			}
			key := edgeKey{src: src, tgt: tgt, typ: edge.Type}
			if existing, ok := best[key]; !ok || edge.Confidence > existing.Confidence {
				if !ok {
					order = append(order, key)
				}
				best[key] = models.Edge{
					SourceID:   src,
					TargetID:   tgt,
					Type:       edge.Type,
					Confidence: edge.Confidence,
					Metadata:   edge.Metadata,
				}
			}
		}
	}

	out := make([]models.Edge, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	return out, nil
}

// identityEdges emits the pairwise cross_repo_identity edges of each class
// spanning two or more repositories. Endpoints use the representatives'
// singleton canonical ids, preserving the original-node lineage alongside
// the collapsed canonical node.
func (e *Engine) identityEdges(classes []mergedClass, options models.MergeOptions) []models.Edge {
	if !options.CreateCrossRepoEdges {
		return nil
	}
	var out []models.Edge
	for _, class := range classes {
		if len(class.members) < 2 {
			continue
		}
		for i := 0; i < len(class.members); i++ {
			for j := i + 1; j < len(class.members); j++ {
				out = append(out, models.Edge{
					SourceID:   singletonCanonicalID(class.members[i]),
					TargetID:   singletonCanonicalID(class.members[j]),
					Type:       models.EdgeTypeCrossRepoIdentity,
					Confidence: class.confidence,
					Metadata: map[string]models.Value{
						"canonicalId": models.StringValue(class.canonicalID),
					},
				})
			}
		}
	}
	return out
}

// checkCycles searches for cycles at original-node granularity: source edges
// keep their direction, identity edges connect representatives both ways. A
// cycle traversing at least one identity edge fails the merge; cycles made
// of source edges alone predate the rollup and pass.
func (e *Engine) checkCycles(ctx context.Context, in Input, sources map[string]sourceNode, identityEdges []models.Edge) error {
	if len(identityEdges) == 0 {
		return nil
	}

	type arc struct {
		to       string
		identity bool
	}
	adjacency := make(map[string][]arc)
	for _, graph := range in.Graphs {
		for _, edge := range graph.Edges {
			src := models.NodeRef{ScanID: graph.Scan.ID, NodeID: edge.SourceID}.String()
			tgt := models.NodeRef{ScanID: graph.Scan.ID, NodeID: edge.TargetID}.String()
			adjacency[src] = append(adjacency[src], arc{to: tgt})
		}
	}
	// Identity edges are undirected for cycle purposes; singleton ids map
	// back to member refs here.
	memberBySingleton := make(map[string]string)
	for key, source := range sources {
		memberBySingleton[singletonCanonicalID(source.ref)] = key
	}
	for _, edge := range identityEdges {
		a, b := memberBySingleton[edge.SourceID], memberBySingleton[edge.TargetID]
		adjacency[a] = append(adjacency[a], arc{to: b, identity: true})
		adjacency[b] = append(adjacency[b], arc{to: a, identity: true})
	}
	for _, arcs := range adjacency {
		sort.Slice(arcs, func(i, j int) bool { return arcs[i].to < arcs[j].to })
	}

	const (
		colorWhite = 0
		colorGray  = 1
		colorBlack = 2
	)
	color := make(map[string]int, len(sources))
	visited := 0

	keys := make([]string, 0, len(sources))
	for key := range sources {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, start := range keys {
		if color[start] != colorWhite {
			continue
		}
		if err := ctx.Err(); err != nil {
			return rollerrors.Wrap(rollerrors.CodeExecCancelled, err, "cycle check cancelled")
		}

		stack := []frame{{node: start}}
		color[start] = colorGray
		visited++
		if visited > in.Options.MaxNodes {
			return rollerrors.Newf(rollerrors.CodeMergeLimitExceeded,
				"cycle check visited more than %d nodes", in.Options.MaxNodes)
		}

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			arcs := adjacency[top.node]
			if top.next >= len(arcs) {
				color[top.node] = colorBlack
				stack = stack[:len(stack)-1]
				continue
			}
			next := arcs[top.next]
			top.next++

			// An undirected identity edge must not be walked straight back
			// to its other endpoint, that is the same edge, not a cycle.
			if next.identity && top.viaIdentity && next.to == top.parent && !top.usedReverse {
				top.usedReverse = true
				continue
			}

			switch color[next.to] {
			case colorGray:
				// Back edge closes a cycle. It fails the merge only when it
				// mixes identity and dependency edges: identity-only cycles
				// are the class clique itself, dependency-only cycles
				// predate the rollup.
				hasIdentity, hasOriginal := cycleArcKinds(stack, next.to, next.identity)
				if hasIdentity && hasOriginal {
					return rollerrors.Newf(rollerrors.CodeMergeCyclic,
						"cross-repository identity edges close a dependency cycle through %s", next.to)
				}
			case colorWhite:
				color[next.to] = colorGray
				visited++
				if visited > in.Options.MaxNodes {
					return rollerrors.Newf(rollerrors.CodeMergeLimitExceeded,
						"cycle check visited more than %d nodes", in.Options.MaxNodes)
				}
				stack = append(stack, frame{node: next.to, parent: top.node, viaIdentity: next.identity})
			}
		}
	}
	return nil
}

// frame is one DFS stack entry of the cycle check.
type frame struct {
	node        string
	parent      string
	next        int
	viaIdentity bool // arc that entered this node
	usedReverse bool // reverse arc of the entering identity edge consumed
}

// cycleArcKinds classifies the arcs of the cycle formed by the closing back
// edge plus the stack segment from the cycle head onward.
func cycleArcKinds(stack []frame, head string, closingIdentity bool) (hasIdentity, hasOriginal bool) {
	hasIdentity = closingIdentity
	hasOriginal = !closingIdentity
	started := false
	for i := range stack {
		if stack[i].node == head {
			started = true
			continue
		}
		if !started {
			continue
		}
		if stack[i].viaIdentity {
			hasIdentity = true
		} else {
			hasOriginal = true
		}
	}
	return hasIdentity, hasOriginal
}
