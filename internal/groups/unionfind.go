package groups

// unionFind is a disjoint-set forest over string ids with path halving and
// union by size.
type unionFind struct {
	parent map[string]string
	size   map[string]int
}

func newUnionFind(n int) *unionFind {
	return &unionFind{
		parent: make(map[string]string, n),
		size:   make(map[string]int, n),
	}
}

func (u *unionFind) add(id string) {
	if _, ok := u.parent[id]; !ok {
		u.parent[id] = id
		u.size[id] = 1
	}
}

func (u *unionFind) find(id string) string {
	for u.parent[id] != id {
		u.parent[id] = u.parent[u.parent[id]]
		id = u.parent[id]
	}
	return id
}

func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if u.size[ra] < u.size[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	u.size[ra] += u.size[rb]
}
