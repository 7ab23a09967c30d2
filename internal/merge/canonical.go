package merge

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/stratahq/strata/internal/models"
)

const canonicalIDPrefix = "merged-"

// CanonicalID derives the deterministic id of a merged node from its sorted
// member set.
func CanonicalID(members []models.NodeRef) string {
	keys := make([]string, 0, len(members))
	for _, member := range members {
		keys = append(keys, member.String())
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, key := range keys {
		h.Write([]byte(key))
		h.Write([]byte{0})
	}
	return canonicalIDPrefix + hex.EncodeToString(h.Sum(nil))[:16]
}

// singletonCanonicalID is the id a node would carry as a class of one. The
// identity edges of a multi-repo class reference their representatives by
// these ids.
func singletonCanonicalID(member models.NodeRef) string {
	return CanonicalID([]models.NodeRef{member})
}
