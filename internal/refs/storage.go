package refs

import (
	"net/url"
	"strings"

	"github.com/stratahq/strata/internal/models"
)

// storageMetadataKeys are the metadata keys scanned for storage paths.
var storageMetadataKeys = map[string]bool{
	"bucket":   true,
	"path":     true,
	"location": true,
	"backend":  true,
	"source":   true,
	"uri":      true,
	"url":      true,
}

const azureBlobSuffix = ".blob.core.windows.net"

// StoragePathExtractor emits object-storage references: s3://bucket[/key],
// gs://bucket[/key], and Azure blob HTTPS URLs.
type StoragePathExtractor struct {
	BaseExtractor
}

// NewStoragePathExtractor creates a storage path extractor.
func NewStoragePathExtractor() *StoragePathExtractor {
	return &StoragePathExtractor{BaseExtractor: NewBaseExtractor(TypeStoragePath)}
}

// Applies enables the extractor when storage-bearing metadata keys exist.
func (e *StoragePathExtractor) Applies(node models.Node) bool {
	for key := range node.Metadata {
		if storageMetadataKeys[key] {
			return true
		}
	}
	return false
}

// Extract scans the storage-bearing keys for parseable storage paths.
func (e *StoragePathExtractor) Extract(node models.Node) []ExternalReference {
	var out []ExternalReference
	for key, value := range node.Metadata {
		if !storageMetadataKeys[key] {
			continue
		}
		for _, s := range stringMetadataValues(value) {
			trimmed := strings.TrimSpace(s)
			comps, ok := e.ParseComponents(trimmed)
			if !ok {
				continue
			}
			ref := NewReference(TypeStoragePath, trimmed, e.Normalize, comps["provider"], 1.0)
			ref = ref.WithAttribute("bucket", comps["bucket"])
			out = append(out, ref)
		}
	}
	return DedupeByHash(out)
}

// Normalize lowercases and trims trailing slashes. The scheme prefix is the
// canonical form; Azure blob URLs stay in their HTTPS shape.
func (e *StoragePathExtractor) Normalize(identifier string) string {
	s := strings.ToLower(strings.TrimSpace(identifier))
	return strings.TrimSuffix(s, "/")
}

// ParseComponents decomposes a storage path into provider, bucket (or
// account/container for Azure), and key.
func (e *StoragePathExtractor) ParseComponents(identifier string) (Components, bool) {
	s := strings.ToLower(strings.TrimSpace(identifier))

	for scheme, provider := range map[string]string{"s3": "aws", "gs": "gcp"} {
		prefix := scheme + "://"
		if !strings.HasPrefix(s, prefix) {
			continue
		}
		rest := strings.TrimPrefix(s, prefix)
		if rest == "" {
			return nil, false
		}
		bucket, key := rest, ""
		if slash := strings.Index(rest, "/"); slash >= 0 {
			bucket, key = rest[:slash], strings.Trim(rest[slash+1:], "/")
		}
		if bucket == "" {
			return nil, false
		}
		comps := Components{"provider": provider, "scheme": scheme, "bucket": bucket}
		if key != "" {
			comps["key"] = key
		}
		return comps, true
	}

	// Azure blob: https://<account>.blob.core.windows.net/<container>[/<key>]
	if strings.HasPrefix(s, "https://") {
		u, err := url.Parse(s)
		if err != nil || !strings.HasSuffix(u.Host, azureBlobSuffix) {
			return nil, false
		}
		account := strings.TrimSuffix(u.Host, azureBlobSuffix)
		parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
		if account == "" || len(parts) == 0 || parts[0] == "" {
			return nil, false
		}
		comps := Components{
			"provider": "azure",
			"scheme":   "https",
			"account":  account,
			"bucket":   parts[0],
		}
		if len(parts) == 2 && parts[1] != "" {
			comps["key"] = parts[1]
		}
		return comps, true
	}

	return nil, false
}
