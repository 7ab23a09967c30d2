package refs

import (
	"strings"

	"github.com/stratahq/strata/internal/models"
)

// K8sRefExtractor emits Kubernetes object references in the canonical
// "<namespace>/<Kind>/<name>" form. Namespace defaults to "default", kind to
// "Unknown"; equality is case-insensitive via normalization.
type K8sRefExtractor struct {
	BaseExtractor
}

// NewK8sRefExtractor creates a Kubernetes reference extractor.
func NewK8sRefExtractor() *K8sRefExtractor {
	return &K8sRefExtractor{BaseExtractor: NewBaseExtractor(TypeK8sRef)}
}

// Applies enables the extractor for Kubernetes-flavored node types and for
// nodes whose metadata looks like a manifest (kind present).
func (e *K8sRefExtractor) Applies(node models.Node) bool {
	t := strings.ToLower(node.Type)
	if strings.HasPrefix(t, "kubernetes_") || strings.HasPrefix(t, "k8s_") || strings.Contains(t, "helm") {
		return true
	}
	_, hasKind := node.Metadata["kind"]
	return hasKind
}

// Extract emits a reference for the node's own identity (kind/name/namespace
// metadata) and for one level of nested reference maps such as targetRef or
// sourceRef blocks.
func (e *K8sRefExtractor) Extract(node models.Node) []ExternalReference {
	var out []ExternalReference

	if ref, ok := e.refFromFields(node.Metadata, 1.0); ok {
		out = append(out, ref)
	}

	for key, value := range node.Metadata {
		m, ok := value.AsMap()
		if !ok {
			continue
		}
		if ref, ok := e.refFromFields(m, 0.9); ok {
			out = append(out, ref.WithAttribute("field", key))
		}
	}

	return DedupeByHash(out)
}

// refFromFields assembles a reference from kind/name/namespace fields.
// A name is required; kind and namespace take their documented defaults.
func (e *K8sRefExtractor) refFromFields(fields map[string]models.Value, confidence float64) (ExternalReference, bool) {
	name := stringField(fields, "name")
	if name == "" {
		return ExternalReference{}, false
	}
	kind := stringField(fields, "kind")
	if kind == "" {
		kind = "Unknown"
	}
	namespace := stringField(fields, "namespace")
	if namespace == "" {
		namespace = "default"
	}

	identifier := namespace + "/" + kind + "/" + name
	ref := NewReference(TypeK8sRef, identifier, e.Normalize, "kubernetes", confidence)
	ref = ref.WithAttribute("kind", kind).WithAttribute("namespace", namespace)
	return ref, true
}

// Normalize lowercases and trims; missing segments get their defaults so
// partial identifiers still normalize to the canonical three-part form.
func (e *K8sRefExtractor) Normalize(identifier string) string {
	s := strings.ToLower(strings.TrimSpace(identifier))
	parts := strings.Split(s, "/")
	switch len(parts) {
	case 1:
		return "default/unknown/" + parts[0]
	case 2:
		return "default/" + parts[0] + "/" + parts[1]
	case 3:
		if parts[0] == "" {
			parts[0] = "default"
		}
		if parts[1] == "" {
			parts[1] = "unknown"
		}
		return strings.Join(parts, "/")
	default:
		return s
	}
}

// ParseComponents splits "<namespace>/<Kind>/<name>".
func (e *K8sRefExtractor) ParseComponents(identifier string) (Components, bool) {
	parts := strings.Split(strings.TrimSpace(identifier), "/")
	if len(parts) != 3 || parts[2] == "" {
		return nil, false
	}
	return Components{
		"namespace": parts[0],
		"kind":      parts[1],
		"name":      parts[2],
	}, true
}

// stringField reads a string-valued field, empty when absent or non-string.
func stringField(fields map[string]models.Value, key string) string {
	v, ok := fields[key]
	if !ok {
		return ""
	}
	s, _ := v.AsString()
	return strings.TrimSpace(s)
}
