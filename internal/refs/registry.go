package refs

import (
	"sort"

	"github.com/stratahq/strata/internal/logging"
	"github.com/stratahq/strata/internal/models"
)

// Registry holds the configured extractors and applies every applicable one
// to a node. Extraction is total: malformed metadata never fails a node,
// and duplicate references across extractors collapse by hash.
type Registry struct {
	extractors []Extractor
	logger     *logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		logger: logging.GetLogger("refs.registry"),
	}
}

// DefaultRegistry returns a registry with the full extractor set.
// crossRegion controls ARN region/account blanking.
func DefaultRegistry(crossRegion bool) *Registry {
	r := NewRegistry()
	r.Register(NewARNExtractor(crossRegion))
	r.Register(NewK8sRefExtractor())
	r.Register(NewImageExtractor())
	r.Register(NewGitURLExtractor())
	r.Register(NewStoragePathExtractor())
	r.Register(NewResourceIDExtractor())
	return r
}

// Register adds an extractor, keeping the set ordered by reference type for
// deterministic extraction output.
func (r *Registry) Register(extractor Extractor) {
	r.extractors = append(r.extractors, extractor)
	sort.Slice(r.extractors, func(i, j int) bool {
		return r.extractors[i].ReferenceType() < r.extractors[j].ReferenceType()
	})
	r.logger.Debug("Registered extractor: %s", extractor.ReferenceType())
}

// Extractor returns the registered extractor for a reference type.
func (r *Registry) Extractor(t ReferenceType) (Extractor, bool) {
	for _, e := range r.extractors {
		if e.ReferenceType() == t {
			return e, true
		}
	}
	return nil, false
}

// Extractors returns the registered extractors in reference-type order.
func (r *Registry) Extractors() []Extractor {
	out := make([]Extractor, len(r.extractors))
	copy(out, r.extractors)
	return out
}

// Extract applies every applicable extractor to the node and returns the
// deduplicated union of their references.
func (r *Registry) Extract(node models.Node) []ExternalReference {
	var all []ExternalReference
	for _, extractor := range r.extractors {
		if !extractor.Applies(node) {
			continue
		}
		found := extractor.Extract(node)
		if len(found) > 0 {
			r.logger.Debug("Extractor %s produced %d references for node %s",
				extractor.ReferenceType(), len(found), node.ID)
		}
		all = append(all, found...)
	}
	return DedupeByHash(all)
}

// Count returns the number of registered extractors.
func (r *Registry) Count() int {
	return len(r.extractors)
}
