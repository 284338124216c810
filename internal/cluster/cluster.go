// Package cluster groups accepted duplicate pairs into merge groups: the
// connected components of the graph whose nodes are record ids and whose
// edges are accepted pairs. Matching is treated as transitive.
package cluster

import (
	"github.com/sells-group/contact-resolver/internal/model"
)

// Edge is an undirected link between two record ids.
type Edge struct {
	A string
	B string
}

// EdgesFrom converts accepted pairs to edges.
func EdgesFrom(pairs []model.DuplicatePair) []Edge {
	out := make([]Edge, len(pairs))
	for i, p := range pairs {
		out[i] = Edge{A: p.AID, B: p.BID}
	}
	return out
}

// Components returns the connected components of the edge graph using a
// disjoint-set forest with path compression and union by size. Only ids
// that appear in at least one edge are nodes. Groups are ordered by the
// first appearance of any member in the edge sequence and members by their
// own first appearance, so the result is deterministic for a given input.
// Self-loops are ignored.
func Components(edges []Edge) []model.MergeGroup {
	ds := newDisjointSet()
	for _, e := range edges {
		if e.A == e.B {
			continue
		}
		ds.union(ds.add(e.A), ds.add(e.B))
	}
	return ds.groups()
}

type disjointSet struct {
	ids    []string
	index  map[string]int
	parent []int
	size   []int
}

func newDisjointSet() *disjointSet {
	return &disjointSet{index: make(map[string]int)}
}

// add registers id in first-seen order and returns its node index.
func (d *disjointSet) add(id string) int {
	if i, ok := d.index[id]; ok {
		return i
	}
	i := len(d.ids)
	d.ids = append(d.ids, id)
	d.index[id] = i
	d.parent = append(d.parent, i)
	d.size = append(d.size, 1)
	return i
}

func (d *disjointSet) find(i int) int {
	root := i
	for d.parent[root] != root {
		root = d.parent[root]
	}
	for d.parent[i] != root {
		next := d.parent[i]
		d.parent[i] = root
		i = next
	}
	return root
}

func (d *disjointSet) union(a, b int) {
	ra, rb := d.find(a), d.find(b)
	if ra == rb {
		return
	}
	if d.size[ra] < d.size[rb] {
		ra, rb = rb, ra
	}
	d.parent[rb] = ra
	d.size[ra] += d.size[rb]
}

func (d *disjointSet) groups() []model.MergeGroup {
	slot := make(map[int]int)
	var out []model.MergeGroup
	for i, id := range d.ids {
		root := d.find(i)
		g, ok := slot[root]
		if !ok {
			g = len(out)
			slot[root] = g
			out = append(out, nil)
		}
		out[g] = append(out[g], id)
	}
	return out
}

// Traverse computes the same components with a breadth-first search over
// an adjacency list. It is kept as a reference for Components.
func Traverse(edges []Edge) []model.MergeGroup {
	var order []string
	adj := make(map[string][]string)
	for _, e := range edges {
		if e.A == e.B {
			continue
		}
		for _, id := range [2]string{e.A, e.B} {
			if _, ok := adj[id]; !ok {
				order = append(order, id)
				adj[id] = nil
			}
		}
		adj[e.A] = append(adj[e.A], e.B)
		adj[e.B] = append(adj[e.B], e.A)
	}

	visited := make(map[string]bool, len(order))
	var out []model.MergeGroup
	for _, start := range order {
		if visited[start] {
			continue
		}
		var group model.MergeGroup
		queue := []string{start}
		visited[start] = true
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			group = append(group, id)
			for _, next := range adj[id] {
				if !visited[next] {
					visited[next] = true
					queue = append(queue, next)
				}
			}
		}
		out = append(out, group)
	}
	return out
}
