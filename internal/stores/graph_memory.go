package stores

import (
	"context"
	"errors"

	dgraph "github.com/dominikbraun/graph"

	"legalinterpret/internal/types"
)

// InMemoryGraphStore is a fixture GraphStore backed by
// github.com/dominikbraun/graph, used by component tests and by
// deployments that have not wired a live Neo4j instance.
type InMemoryGraphStore struct {
	g     dgraph.Graph[string, string]
	nodes map[string]types.GraphNode
	edges map[[2]string][]types.GraphEdge // (from,to) -> edges, both directions recorded
}

// urnHash is the vertex-hash function for the URN-keyed graph.
func urnHash(urn string) string { return urn }

// NewInMemoryGraphStore returns an empty directed graph store.
func NewInMemoryGraphStore() *InMemoryGraphStore {
	return &InMemoryGraphStore{
		g:     dgraph.New(urnHash, dgraph.Directed()),
		nodes: make(map[string]types.GraphNode),
		edges: make(map[[2]string][]types.GraphEdge),
	}
}

// AddNode registers a node, idempotently.
func (s *InMemoryGraphStore) AddNode(n types.GraphNode) {
	if _, ok := s.nodes[n.URN]; ok {
		s.nodes[n.URN] = n
		return
	}
	s.nodes[n.URN] = n
	_ = s.g.AddVertex(n.URN)
}

// AddEdge registers a directed edge with a relation type.
func (s *InMemoryGraphStore) AddEdge(from, to, relationType string, props types.Metadata) {
	if _, ok := s.nodes[from]; !ok {
		s.AddNode(types.GraphNode{URN: from})
	}
	if _, ok := s.nodes[to]; !ok {
		s.AddNode(types.GraphNode{URN: to})
	}
	_ = s.g.AddEdge(from, to)
	key := [2]string{from, to}
	s.edges[key] = append(s.edges[key], types.GraphEdge{From: from, To: to, Type: types.InternRelation(relationType), Properties: props})
}

func (s *InMemoryGraphStore) GetNode(_ context.Context, urn string) (types.GraphNode, bool, error) {
	n, ok := s.nodes[urn]
	return n, ok, nil
}

func (s *InMemoryGraphStore) neighborEdges(urn string, direction Direction) []types.GraphEdge {
	var out []types.GraphEdge
	if direction == DirectionOutgoing || direction == DirectionBoth {
		for key, es := range s.edges {
			if key[0] == urn {
				out = append(out, es...)
			}
		}
	}
	if direction == DirectionIncoming || direction == DirectionBoth {
		for key, es := range s.edges {
			if key[1] == urn {
				out = append(out, es...)
			}
		}
	}
	return out
}

func relationAllowed(relType string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, r := range allowed {
		if r == relType {
			return true
		}
	}
	return false
}

func otherEnd(e types.GraphEdge, urn string) string {
	if e.From == urn {
		return e.To
	}
	return e.From
}

func (s *InMemoryGraphStore) Neighbors(_ context.Context, urn string, relationTypes []string, maxHops int, direction Direction) ([]types.GraphNode, []types.GraphEdge, error) {
	if maxHops < 1 || maxHops > 5 {
		return nil, nil, errors.New("max_hops must be in [1,5]")
	}

	visited := map[string]bool{urn: true}
	frontier := []string{urn}
	var nodes []types.GraphNode
	var edges []types.GraphEdge

	for hop := 0; hop < maxHops; hop++ {
		var next []string
		for _, cur := range frontier {
			for _, e := range s.neighborEdges(cur, direction) {
				if !relationAllowed(e.Type, relationTypes) {
					continue
				}
				edges = append(edges, e)
				other := otherEnd(e, cur)
				if !visited[other] {
					visited[other] = true
					next = append(next, other)
					if n, ok := s.nodes[other]; ok {
						nodes = append(nodes, n)
					}
				}
			}
		}
		frontier = next
		if len(frontier) == 0 {
			break
		}
	}
	return nodes, edges, nil
}

// Degree sums out-degree and in-degree as read from the underlying
// dominikbraun/graph adjacency structure, matching the Cypher shape
// `MATCH (n {URN:$urn})--() RETURN count(*)` it reproduces in-memory.
func (s *InMemoryGraphStore) Degree(_ context.Context, urn string) (int, error) {
	adjacency, err := s.g.AdjacencyMap()
	if err != nil {
		return 0, err
	}
	predecessors, err := s.g.PredecessorMap()
	if err != nil {
		return 0, err
	}
	return len(adjacency[urn]) + len(predecessors[urn]), nil
}

func (s *InMemoryGraphStore) ShortestPath(_ context.Context, from, to string, maxHops int) ([]types.GraphEdge, bool, error) {
	if from == to {
		return nil, true, nil
	}

	type step struct {
		urn  string
		path []types.GraphEdge
	}
	visited := map[string]bool{from: true}
	queue := []step{{urn: from}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if len(cur.path) >= maxHops {
			continue
		}
		for _, e := range s.neighborEdges(cur.urn, DirectionBoth) {
			other := otherEnd(e, cur.urn)
			if visited[other] {
				continue
			}
			path := append(append([]types.GraphEdge{}, cur.path...), e)
			if other == to {
				return path, true, nil
			}
			visited[other] = true
			queue = append(queue, step{urn: other, path: path})
		}
	}
	return nil, false, nil
}

func (s *InMemoryGraphStore) SharedNeighbors(_ context.Context, a, b []string) (int, error) {
	neighborsOf := func(urns []string) map[string]bool {
		out := make(map[string]bool)
		for _, u := range urns {
			for _, e := range s.neighborEdges(u, DirectionBoth) {
				out[otherEnd(e, u)] = true
			}
		}
		return out
	}
	na := neighborsOf(a)
	nb := neighborsOf(b)
	count := 0
	for urn := range na {
		if nb[urn] {
			count++
		}
	}
	return count, nil
}
