package refs

import (
	"strings"

	"github.com/stratahq/strata/internal/models"
)

// resourceIDMetadataKeys are the metadata keys treated as provider-assigned
// resource identifiers.
var resourceIDMetadataKeys = map[string]bool{
	"resource_id": true,
	"physical_id": true,
	"self_link":   true,
	"uid":         true,
	"external_id": true,
}

// ResourceIDExtractor emits generic provider-assigned resource identifiers.
// It is the fallback for providers without a richer identifier scheme, so
// its confidence is deliberately lower than the typed extractors.
type ResourceIDExtractor struct {
	BaseExtractor
}

// NewResourceIDExtractor creates a generic resource id extractor.
func NewResourceIDExtractor() *ResourceIDExtractor {
	return &ResourceIDExtractor{BaseExtractor: NewBaseExtractor(TypeResourceID)}
}

// Applies enables the extractor whenever an id-bearing metadata key exists.
func (e *ResourceIDExtractor) Applies(node models.Node) bool {
	for key := range node.Metadata {
		if resourceIDMetadataKeys[key] {
			return true
		}
	}
	return false
}

// Extract emits one reference per id-bearing string value. Short values are
// skipped: single characters collide far too easily to identify anything.
func (e *ResourceIDExtractor) Extract(node models.Node) []ExternalReference {
	var out []ExternalReference
	for key, value := range node.Metadata {
		if !resourceIDMetadataKeys[key] {
			continue
		}
		s, ok := value.AsString()
		if !ok {
			continue
		}
		trimmed := strings.TrimSpace(s)
		if len(trimmed) < 2 {
			continue
		}
		ref := NewReference(TypeResourceID, trimmed, e.Normalize, "", 0.7)
		ref = ref.WithAttribute("sourceKey", key)
		out = append(out, ref)
	}
	return DedupeByHash(out)
}

// Normalize lowercases and strips whitespace.
func (e *ResourceIDExtractor) Normalize(identifier string) string {
	return strings.ToLower(strings.Join(strings.Fields(identifier), ""))
}

// ParseComponents returns the identifier as a single opaque component.
func (e *ResourceIDExtractor) ParseComponents(identifier string) (Components, bool) {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return nil, false
	}
	return Components{"id": trimmed}, true
}
