package refs

import (
	"strings"

	"github.com/stratahq/strata/internal/models"
)

// imageMetadataKeys are the metadata keys scanned for container images.
var imageMetadataKeys = map[string]bool{
	"image":      true,
	"images":     true,
	"container":  true,
	"containers": true,
	"initContainers": true,
}

// ImageExtractor emits container image references in the canonical
// "[registry/]repository[:tag][@digest]" form. Implicit docker.io and
// latest are made explicit during normalization.
type ImageExtractor struct {
	BaseExtractor
}

// NewImageExtractor creates a container image extractor.
func NewImageExtractor() *ImageExtractor {
	return &ImageExtractor{BaseExtractor: NewBaseExtractor(TypeContainerImage)}
}

// Applies enables the extractor when image-bearing metadata keys exist.
func (e *ImageExtractor) Applies(node models.Node) bool {
	for key := range node.Metadata {
		if imageMetadataKeys[key] {
			return true
		}
	}
	return false
}

// Extract pulls image strings out of the image metadata keys. For container
// lists only the nested "image" field counts; sibling fields like container
// names would otherwise parse as bare docker.io repositories.
func (e *ImageExtractor) Extract(node models.Node) []ExternalReference {
	var out []ExternalReference
	for key, value := range node.Metadata {
		if !imageMetadataKeys[key] {
			continue
		}
		for _, candidate := range imageCandidates(value) {
			trimmed := strings.TrimSpace(candidate)
			if _, ok := e.ParseComponents(trimmed); !ok {
				continue
			}
			ref := NewReference(TypeContainerImage, trimmed, e.Normalize, "", 1.0)
			out = append(out, ref)
		}
	}
	return DedupeByHash(out)
}

// imageCandidates yields image strings from a metadata value: string leaves
// directly, the "image" field from maps, and both recursively from lists.
func imageCandidates(v models.Value) []string {
	switch v.Kind() {
	case models.KindString:
		s, _ := v.AsString()
		return []string{s}
	case models.KindList:
		list, _ := v.AsList()
		var out []string
		for _, item := range list {
			out = append(out, imageCandidates(item)...)
		}
		return out
	case models.KindMap:
		if img, ok := v.Get("image"); ok {
			if s, ok := img.AsString(); ok {
				return []string{s}
			}
		}
		return nil
	default:
		return nil
	}
}

// Normalize lowercases the image, prepends docker.io for bare repositories,
// expands the implicit library/ namespace for official images, and appends
// :latest when neither tag nor digest is present.
func (e *ImageExtractor) Normalize(identifier string) string {
	s := strings.ToLower(strings.TrimSpace(identifier))
	if s == "" {
		return s
	}

	comps, ok := e.ParseComponents(s)
	if !ok {
		return s
	}

	out := comps["registry"] + "/" + comps["repository"]
	if comps["tag"] != "" {
		out += ":" + comps["tag"]
	}
	if comps["digest"] != "" {
		out += "@" + comps["digest"]
	}
	return out
}

// ParseComponents decomposes an image reference into registry, repository,
// tag, and digest, applying docker conventions for implicit parts.
func (e *ImageExtractor) ParseComponents(identifier string) (Components, bool) {
	s := strings.ToLower(strings.TrimSpace(identifier))
	if s == "" || strings.ContainsAny(s, " \t\n") {
		return nil, false
	}

	digest := ""
	if at := strings.Index(s, "@"); at >= 0 {
		digest = s[at+1:]
		s = s[:at]
		if !strings.HasPrefix(digest, "sha256:") {
			return nil, false
		}
	}

	tag := ""
	// A colon after the last slash separates the tag; earlier colons belong
	// to a registry host:port.
	lastSlash := strings.LastIndex(s, "/")
	if colon := strings.LastIndex(s, ":"); colon > lastSlash {
		tag = s[colon+1:]
		s = s[:colon]
	}
	if tag == "" && digest == "" {
		tag = "latest"
	}

	registry := "docker.io"
	repository := s
	if first := strings.Index(s, "/"); first >= 0 {
		head := s[:first]
		// Hosts contain a dot or port, or are "localhost".
		if strings.ContainsAny(head, ".:") || head == "localhost" {
			registry = head
			repository = s[first+1:]
		}
	}
	if repository == "" {
		return nil, false
	}
	if registry == "docker.io" && !strings.Contains(repository, "/") {
		repository = "library/" + repository
	}

	comps := Components{
		"registry":   registry,
		"repository": repository,
	}
	if tag != "" {
		comps["tag"] = tag
	}
	if digest != "" {
		comps["digest"] = digest
	}
	return comps, true
}
