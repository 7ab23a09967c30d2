package match

import "github.com/stratahq/strata/internal/models"

// unionFind partitions node refs into identity classes. Keys are the
// canonical string form of NodeRef.
type unionFind struct {
	parent map[string]string
	rank   map[string]int
	refs   map[string]models.NodeRef
}

func newUnionFind() *unionFind {
	return &unionFind{
		parent: make(map[string]string),
		rank:   make(map[string]int),
		refs:   make(map[string]models.NodeRef),
	}
}

func (u *unionFind) add(ref models.NodeRef) {
	key := ref.String()
	if _, ok := u.parent[key]; ok {
		return
	}
	u.parent[key] = key
	u.rank[key] = 0
	u.refs[key] = ref
}

func (u *unionFind) find(key string) string {
	root := key
	for u.parent[root] != root {
		root = u.parent[root]
	}
	// Path compression.
	for u.parent[key] != root {
		key, u.parent[key] = u.parent[key], root
	}
	return root
}

func (u *unionFind) union(a, b models.NodeRef) {
	u.add(a)
	u.add(b)
	ra, rb := u.find(a.String()), u.find(b.String())
	if ra == rb {
		return
	}
	if u.rank[ra] < u.rank[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	if u.rank[ra] == u.rank[rb] {
		u.rank[ra]++
	}
}

// sameClass reports whether both refs are known and share a root.
func (u *unionFind) sameClass(a, b models.NodeRef) bool {
	ka, kb := a.String(), b.String()
	if _, ok := u.parent[ka]; !ok {
		return false
	}
	if _, ok := u.parent[kb]; !ok {
		return false
	}
	return u.find(ka) == u.find(kb)
}

// classes groups all known refs by root.
func (u *unionFind) classes() map[string][]models.NodeRef {
	out := make(map[string][]models.NodeRef)
	for key, ref := range u.refs {
		root := u.find(key)
		out[root] = append(out[root], ref)
	}
	return out
}
