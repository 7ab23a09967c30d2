// Package refs extracts typed external references from IaC graph nodes.
//
// A reference identifies a real-world object (an S3 bucket, a Kubernetes
// Deployment, a container image) independent of the repository that declared
// it. Two nodes from different repositories referring to the same object
// produce references with equal (type, normalizedIdentifier) pairs, which is
// what the external object index and the match engine key on.
package refs

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ReferenceType names a class of external identifier.
type ReferenceType string

const (
	TypeARN            ReferenceType = "arn"
	TypeK8sRef         ReferenceType = "k8s_ref"
	TypeContainerImage ReferenceType = "container_image"
	TypeStoragePath    ReferenceType = "storage_path"
	TypeGitURL         ReferenceType = "git_url"
	TypeResourceID     ReferenceType = "resource_id"
)

// Components is the structured decomposition of an identifier, keyed by
// per-type component names ("partition", "service", "namespace", ...).
type Components map[string]string

// ExternalReference is the typed, normalized identifier of a real-world
// object. Equality is defined by (Type, NormalizedIdentifier), never by the
// raw identifier.
type ExternalReference struct {
	Type                 ReferenceType     `json:"referenceType"`
	Identifier           string            `json:"identifier"`
	NormalizedIdentifier string            `json:"normalizedIdentifier"`
	Provider             string            `json:"provider,omitempty"`
	Attributes           map[string]string `json:"attributes,omitempty"`
	Confidence           float64           `json:"confidence"` // 0..1
	Hash                 string            `json:"hash"`
}

// HashIdentifier computes the stable reference hash:
// SHA-256 over "<referenceType>:<lowercased identifier>", hex-encoded.
func HashIdentifier(t ReferenceType, identifier string) string {
	sum := sha256.Sum256([]byte(string(t) + ":" + strings.ToLower(identifier)))
	return hex.EncodeToString(sum[:])
}

// NewReference builds a reference, filling NormalizedIdentifier via the
// supplied normalizer and computing the hash from the normalized form so
// that differently-cased raw identifiers collide as intended.
func NewReference(t ReferenceType, identifier string, normalize func(string) string, provider string, confidence float64) ExternalReference {
	normalized := normalize(identifier)
	return ExternalReference{
		Type:                 t,
		Identifier:           identifier,
		NormalizedIdentifier: normalized,
		Provider:             provider,
		Confidence:           confidence,
		Hash:                 HashIdentifier(t, normalized),
	}
}

// Equal reports identity by (type, normalized identifier).
func (r ExternalReference) Equal(other ExternalReference) bool {
	return r.Type == other.Type && r.NormalizedIdentifier == other.NormalizedIdentifier
}

// WithAttribute attaches an attribute and returns the reference.
func (r ExternalReference) WithAttribute(key, value string) ExternalReference {
	attrs := make(map[string]string, len(r.Attributes)+1)
	for k, v := range r.Attributes {
		attrs[k] = v
	}
	attrs[key] = value
	r.Attributes = attrs
	return r
}
