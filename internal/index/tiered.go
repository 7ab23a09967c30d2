package index

import (
	"context"

	"github.com/stratahq/strata/internal/logging"
	"github.com/stratahq/strata/internal/models"
	"github.com/stratahq/strata/internal/refs"
	rollerrors "github.com/stratahq/strata/internal/rollup/errors"
)

// TieredIndex is the production Index: an in-process LRU (L1) in front of a
// shared redis cache (L2) in front of the store. Either cache tier may be
// nil; the store is required. A cache tier failing degrades to the next tier
// instead of failing the lookup.
type TieredIndex struct {
	store    Store
	l1       *EntryCache
	l2       *RedisCache
	registry *refs.Registry
	logger   *logging.Logger
}

// NewTieredIndex wires the tiers together. registry supplies per-type
// normalization for identifier lookups.
func NewTieredIndex(store Store, l1 *EntryCache, l2 *RedisCache, registry *refs.Registry) *TieredIndex {
	return &TieredIndex{
		store:    store,
		l1:       l1,
		l2:       l2,
		registry: registry,
		logger:   logging.GetLogger("index.tiered"),
	}
}

// Lookup normalizes the identifier with the type's extractor, hashes it, and
// resolves entries by hash. Unknown reference types are a validation error;
// unknown identifiers are an empty result.
func (t *TieredIndex) Lookup(ctx context.Context, tenantID string, refType refs.ReferenceType, identifier string) ([]IndexEntry, error) {
	extractor, ok := t.registry.Extractor(refType)
	if !ok {
		return nil, rollerrors.Newf(rollerrors.CodeInvalidQuery, "unknown reference type %q", refType)
	}
	hash := refs.HashIdentifier(refType, extractor.Normalize(identifier))
	return t.LookupByHash(ctx, tenantID, hash)
}

// LookupByHash resolves entries through the tiers. Fresh cache hits return
// immediately; stale L2 hits are refreshed from the store.
func (t *TieredIndex) LookupByHash(ctx context.Context, tenantID, hash string) ([]IndexEntry, error) {
	if tenantID == "" {
		return nil, rollerrors.New(rollerrors.CodeInvalidQuery, "tenant id is required")
	}

	if t.l1 != nil {
		if entries, ok := t.l1.Get(tenantID, hash); ok {
			return entries, nil
		}
	}

	if t.l2 != nil {
		entries, found, stale, err := t.l2.Get(ctx, tenantID, hash)
		if err != nil {
			t.logger.Warn("L2 lookup degraded to store: %v", err)
		} else if found && !stale {
			if t.l1 != nil {
				t.l1.Put(tenantID, hash, entries)
			}
			return entries, nil
		}
	}

	entries, err := t.store.EntriesByHash(ctx, tenantID, hash)
	if err != nil {
		return nil, rollerrors.Wrap(rollerrors.CodeInfraStorage, err, "index store lookup failed")
	}

	if t.l2 != nil {
		if err := t.l2.Put(ctx, tenantID, hash, entries); err != nil {
			t.logger.Warn("L2 refresh failed: %v", err)
		}
	}
	if t.l1 != nil {
		t.l1.Put(tenantID, hash, entries)
	}
	return entries, nil
}

// ReverseLookup returns the references extracted from one node. It reads the
// store directly: reverse lookups are per-node and rare, caching them buys
// nothing.
func (t *TieredIndex) ReverseLookup(ctx context.Context, tenantID string, node models.NodeRef) ([]refs.ExternalReference, error) {
	entry, err := t.store.EntryByNode(ctx, tenantID, node)
	if err != nil {
		return nil, rollerrors.Wrap(rollerrors.CodeInfraStorage, err, "index store reverse lookup failed")
	}
	if entry == nil {
		return nil, nil
	}
	return entry.References, nil
}

// InvalidateTenant drops both cache tiers for a tenant after a build
// rewrote its entries.
func (t *TieredIndex) InvalidateTenant(ctx context.Context, tenantID string) {
	if t.l2 != nil {
		if err := t.l2.InvalidateTenant(ctx, tenantID); err != nil {
			t.logger.Warn("L2 tenant invalidation failed: %v", err)
		}
	}
	if t.l1 != nil {
		t.l1.InvalidateTenant(tenantID)
	}
}
