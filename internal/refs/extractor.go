package refs

import (
	"github.com/stratahq/strata/internal/logging"
	"github.com/stratahq/strata/internal/models"
)

// Extractor emits typed external references from a graph node.
//
// Extractors are pure functions of the input node: no I/O, no shared state.
// They never fail on malformed input; unparseable values are skipped. The
// same reference emitted from multiple metadata keys collapses to one.
type Extractor interface {
	// ReferenceType returns the type of reference this extractor emits.
	ReferenceType() ReferenceType

	// Applies checks whether the node's type enables this extractor.
	Applies(node models.Node) bool

	// Extract emits the node's references of this type, deduplicated.
	Extract(node models.Node) []ExternalReference

	// Normalize canonicalizes an identifier. Idempotent and total: any
	// input yields some output, and normalize(normalize(x)) == normalize(x).
	Normalize(identifier string) string

	// ParseComponents decomposes an identifier into its structural parts,
	// returning false when the identifier does not parse.
	ParseComponents(identifier string) (Components, bool)
}

// BaseExtractor provides the shared name/logger plumbing.
type BaseExtractor struct {
	refType ReferenceType
	logger  *logging.Logger
}

// NewBaseExtractor creates the embedded base for an extractor.
func NewBaseExtractor(refType ReferenceType) BaseExtractor {
	return BaseExtractor{
		refType: refType,
		logger:  logging.GetLogger("refs." + string(refType)),
	}
}

// ReferenceType returns the extractor's reference type.
func (b BaseExtractor) ReferenceType() ReferenceType {
	return b.refType
}

// DedupeByHash collapses references sharing a hash, keeping the highest
// confidence occurrence.
func DedupeByHash(in []ExternalReference) []ExternalReference {
	if len(in) <= 1 {
		return in
	}
	byHash := make(map[string]int, len(in))
	out := make([]ExternalReference, 0, len(in))
	for _, ref := range in {
		if idx, seen := byHash[ref.Hash]; seen {
			if ref.Confidence > out[idx].Confidence {
				out[idx] = ref
			}
			continue
		}
		byHash[ref.Hash] = len(out)
		out = append(out, ref)
	}
	return out
}

// stringMetadataValues walks a metadata value and yields every string leaf.
// Lists and maps are descended; other kinds are skipped.
func stringMetadataValues(v models.Value) []string {
	switch v.Kind() {
	case models.KindString:
		s, _ := v.AsString()
		return []string{s}
	case models.KindList:
		list, _ := v.AsList()
		var out []string
		for _, item := range list {
			out = append(out, stringMetadataValues(item)...)
		}
		return out
	case models.KindMap:
		m, _ := v.AsMap()
		var out []string
		for _, item := range m {
			out = append(out, stringMetadataValues(item)...)
		}
		return out
	default:
		return nil
	}
}
