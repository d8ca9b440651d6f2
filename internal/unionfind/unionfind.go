// Package unionfind implements a disjoint set union structure used to
// group image indexes connected by pairwise similarity edges.
package unionfind

// UnionFind tracks disjoint sets over the elements 0..n-1 with path
// compression and union by rank.
type UnionFind struct {
	parent []int
	rank   []int
}

// New creates a UnionFind where every element 0..n-1 starts in its own set.
func New(n int) *UnionFind {
	uf := &UnionFind{
		parent: make([]int, n),
		rank:   make([]int, n),
	}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

// Len returns the number of elements.
func (uf *UnionFind) Len() int {
	return len(uf.parent)
}

// Find returns the root of the set containing x, compressing the path
// along the way.
func (uf *UnionFind) Find(x int) int {
	root := x
	for uf.parent[root] != root {
		root = uf.parent[root]
	}
	for uf.parent[x] != root {
		uf.parent[x], x = root, uf.parent[x]
	}
	return root
}

// Union merges the sets containing x and y. Smaller rank attaches under
// larger rank; equal ranks attach y under x.
func (uf *UnionFind) Union(x, y int) {
	px, py := uf.Find(x), uf.Find(y)
	if px == py {
		return
	}
	if uf.rank[px] < uf.rank[py] {
		px, py = py, px
	}
	uf.parent[py] = px
	if uf.rank[px] == uf.rank[py] {
		uf.rank[px]++
	}
}

// Connected reports whether x and y are in the same set.
func (uf *UnionFind) Connected(x, y int) bool {
	return uf.Find(x) == uf.Find(y)
}

// Groups returns every set as a map from root element to ascending
// member indexes. Each group contains its root.
func (uf *UnionFind) Groups() map[int][]int {
	groups := make(map[int][]int)
	for i := range uf.parent {
		root := uf.Find(i)
		groups[root] = append(groups[root], i)
	}
	return groups
}

// GroupsWithMultiple returns only the sets with at least two members,
// ordered by their smallest member so repeated runs produce identical
// output. Members are ascending.
func (uf *UnionFind) GroupsWithMultiple() [][]int {
	groups := uf.Groups()
	var result [][]int
	for i := range uf.parent {
		members, ok := groups[uf.Find(i)]
		if !ok || len(members) < 2 {
			continue
		}
		if members[0] != i {
			continue // emit each group once, at its smallest member
		}
		result = append(result, members)
	}
	return result
}
