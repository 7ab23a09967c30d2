package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/stratahq/strata/internal/models"
	"github.com/stratahq/strata/internal/refs"
)

// IndexEntry maps one graph node to the external references extracted from
// it. Entries are tenant-scoped and keyed by (scanID, nodeID).
type IndexEntry struct {
	ID           string                   `json:"id"`
	TenantID     string                   `json:"tenantId"`
	ScanID       string                   `json:"scanId"`
	RepositoryID string                   `json:"repositoryId"`
	NodeID       string                   `json:"nodeId"`
	References   []refs.ExternalReference `json:"references"`
}

// Validate checks entry invariants: at least one reference and no duplicate
// reference hashes.
func (e IndexEntry) Validate() error {
	if e.TenantID == "" || e.ScanID == "" || e.NodeID == "" {
		return models.NewValidationError("index entry requires tenantId, scanId and nodeId")
	}
	if len(e.References) == 0 {
		return models.NewValidationError("index entry for node %s has no references", e.NodeID)
	}
	seen := make(map[string]bool, len(e.References))
	for _, ref := range e.References {
		if seen[ref.Hash] {
			return models.NewValidationError("index entry for node %s has duplicate reference hash %s", e.NodeID, ref.Hash)
		}
		seen[ref.Hash] = true
	}
	return nil
}

// NodeRef returns the cross-scan address of the indexed node.
func (e IndexEntry) NodeRef() models.NodeRef {
	return models.NodeRef{ScanID: e.ScanID, NodeID: e.NodeID}
}

// CollectionHash folds a set of reference hashes into one digest. The input
// order does not matter: hashes are sorted before hashing, so two extractions
// that produced the same reference set always agree.
func CollectionHash(references []refs.ExternalReference) string {
	hashes := make([]string, 0, len(references))
	for _, ref := range references {
		hashes = append(hashes, ref.Hash)
	}
	sort.Strings(hashes)

	h := sha256.New()
	for _, hash := range hashes {
		h.Write([]byte(hash))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// BuildOptions controls one index build.
type BuildOptions struct {
	// ForceRebuild reindexes repositories even when their stored collection
	// hash is unchanged.
	ForceRebuild bool

	// BatchSize bounds the number of entries per store upsert. Zero means
	// DefaultBatchSize.
	BatchSize int

	// FailureRateThreshold aborts the build when any single extractor fails
	// on more than this fraction of nodes. Zero means DefaultFailureRate.
	FailureRateThreshold float64
}

const (
	// DefaultBatchSize is the upsert batch size when BuildOptions leaves it zero.
	DefaultBatchSize = 500

	// DefaultFailureRate is the per-extractor failure fraction that aborts a build.
	DefaultFailureRate = 0.5
)

// BuildResult summarizes one index build.
type BuildResult struct {
	BuildID             string         `json:"buildId"`
	RepositoriesIndexed int            `json:"repositoriesIndexed"`
	RepositoriesSkipped int            `json:"repositoriesSkipped"`
	NodesScanned        int            `json:"nodesScanned"`
	EntriesWritten      int            `json:"entriesWritten"`
	ReferencesExtracted int            `json:"referencesExtracted"`
	ExtractorFailures   map[string]int `json:"extractorFailures,omitempty"`
}

// Index is the lookup surface the match engine consumes. All lookups are
// tenant-scoped and miss-tolerant: an identifier nobody indexed yields an
// empty slice, never an error.
type Index interface {
	// Lookup resolves entries whose references include the identifier,
	// hashing it per reference type.
	Lookup(ctx context.Context, tenantID string, refType refs.ReferenceType, identifier string) ([]IndexEntry, error)

	// LookupByHash resolves entries by a precomputed reference hash.
	LookupByHash(ctx context.Context, tenantID, hash string) ([]IndexEntry, error)

	// ReverseLookup returns the references extracted from one node.
	ReverseLookup(ctx context.Context, tenantID string, node models.NodeRef) ([]refs.ExternalReference, error)
}

// Store is the persistence surface behind the tiered index. Implementations
// live in internal/store; everything is tenant-scoped.
type Store interface {
	// UpsertEntries writes a batch of entries, replacing prior entries for
	// the same (scan, node).
	UpsertEntries(ctx context.Context, tenantID string, entries []IndexEntry) error

	// EntriesByHash returns the entries containing a reference hash.
	EntriesByHash(ctx context.Context, tenantID, hash string) ([]IndexEntry, error)

	// EntryByNode returns the entry for one node, nil when absent.
	EntryByNode(ctx context.Context, tenantID string, node models.NodeRef) (*IndexEntry, error)

	// CollectionHash returns the stored per-repository collection hash, empty
	// when the repository was never indexed.
	CollectionHash(ctx context.Context, tenantID, repositoryID string) (string, error)

	// SetCollectionHash records a repository's collection hash after a build.
	SetCollectionHash(ctx context.Context, tenantID, repositoryID, hash string) error

	// DeleteRepositoryEntries drops all entries of one repository before a
	// forced rebuild.
	DeleteRepositoryEntries(ctx context.Context, tenantID, repositoryID string) error
}
