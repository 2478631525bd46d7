package inmem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Harshitk-cp/scholae/internal/domain"
	"github.com/Harshitk-cp/scholae/internal/store"
)

// GraphStore keeps nodes in an arena keyed by name and edges in an index
// keyed by (from, to, kind). Adjacency is derived from the edge index.
type GraphStore struct {
	mu    sync.RWMutex
	nodes map[string]domain.ConceptNode
	edges map[string]domain.RelationshipEdge
	// observed holds name + "\x00" + task id of applied observations.
	observed map[string]bool

	FailWith func(op string) error
}

func NewGraphStore() *GraphStore {
	return &GraphStore{
		nodes:    make(map[string]domain.ConceptNode),
		edges:    make(map[string]domain.RelationshipEdge),
		observed: make(map[string]bool),
	}
}

func (s *GraphStore) fail(op string) error {
	if s.FailWith == nil {
		return nil
	}
	return s.FailWith(op)
}

func (s *GraphStore) UpsertNode(ctx context.Context, n *domain.ConceptNode) error {
	if err := s.fail("upsert_node"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := *n
	if cur, ok := s.nodes[n.Name]; ok {
		if cur.FirstSeenAt.Before(next.FirstSeenAt) {
			next.FirstSeenAt = cur.FirstSeenAt
		}
		if cur.LastSeenAt.After(next.LastSeenAt) {
			next.LastSeenAt = cur.LastSeenAt
		}
	}
	s.nodes[n.Name] = next
	return nil
}

func (s *GraphStore) ObserveConcept(ctx context.Context, obs domain.ConceptObservation) (*domain.ConceptNode, error) {
	if err := s.fail("observe_concept"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := obs.Name + "\x00" + obs.TaskID
	cur, exists := s.nodes[obs.Name]
	if s.observed[key] && exists {
		return &cur, nil
	}
	var next domain.ConceptNode
	if exists {
		next = obs.Apply(&cur)
	} else {
		next = obs.Apply(nil)
	}
	s.nodes[obs.Name] = next
	s.observed[key] = true
	return &next, nil
}

func (s *GraphStore) SetMastery(ctx context.Context, name string, level domain.Mastery, raiseOnly bool) error {
	if err := s.fail("set_mastery"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.nodes[name]
	if !ok {
		return store.ErrNotFound
	}
	if raiseOnly && level.Rank() <= cur.Mastery.Rank() {
		return nil
	}
	cur.Mastery = level
	s.nodes[name] = cur
	return nil
}

func (s *GraphStore) UpsertEdge(ctx context.Context, e *domain.RelationshipEdge) error {
	if err := s.fail("upsert_edge"); err != nil {
		return err
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.edges[e.Key()]; ok {
		cur.Confidence = e.Confidence
		cur.Evidence = e.Evidence
		s.edges[e.Key()] = cur
		e.CreatedBy, e.CreatedAt = cur.CreatedBy, cur.CreatedAt
		return nil
	}
	s.edges[e.Key()] = *e
	return nil
}

// PathQuery enumerates simple paths over the undirected adjacency by
// depth-first search. Neighbours are visited in name order.
func (s *GraphStore) PathQuery(ctx context.Context, from, to string, maxHops int) ([]domain.RawPath, error) {
	if err := s.fail("path_query"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	adj := s.adjacency()
	_, fromKnown := s.nodes[from]
	s.mu.RUnlock()

	if from == to {
		if !fromKnown && len(adj[from]) == 0 {
			return nil, nil
		}
		return []domain.RawPath{{Nodes: []string{from}}}, nil
	}

	var paths []domain.RawPath
	onPath := map[string]bool{from: true}
	nodes := []string{from}
	var kinds []domain.EdgeKind

	var walk func(cur string)
	walk = func(cur string) {
		if cur == to {
			paths = append(paths, domain.RawPath{
				Nodes: append([]string(nil), nodes...),
				Edges: append([]domain.EdgeKind(nil), kinds...),
			})
			return
		}
		if len(kinds) >= maxHops {
			return
		}
		for _, next := range sortedKeys(adj[cur]) {
			if onPath[next] {
				continue
			}
			for _, kind := range adj[cur][next] {
				onPath[next] = true
				nodes = append(nodes, next)
				kinds = append(kinds, kind)
				walk(next)
				nodes = nodes[:len(nodes)-1]
				kinds = kinds[:len(kinds)-1]
				onPath[next] = false
			}
		}
	}
	walk(from)
	return paths, nil
}

func (s *GraphStore) GetNode(ctx context.Context, name string) (*domain.ConceptNode, error) {
	if err := s.fail("get_node"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &n, nil
}

func (s *GraphStore) ListNodes(ctx context.Context) ([]domain.ConceptNode, error) {
	if err := s.fail("list_nodes"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]domain.ConceptNode, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *GraphStore) ListEdges(ctx context.Context, kinds []domain.EdgeKind) ([]domain.RelationshipEdge, error) {
	if err := s.fail("list_edges"); err != nil {
		return nil, err
	}
	want := make(map[domain.EdgeKind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	return s.filterEdges(func(e domain.RelationshipEdge) bool {
		return len(want) == 0 || want[e.Kind]
	}), nil
}

func (s *GraphStore) EdgesOf(ctx context.Context, concept string) ([]domain.RelationshipEdge, error) {
	if err := s.fail("edges_of"); err != nil {
		return nil, err
	}
	return s.filterEdges(func(e domain.RelationshipEdge) bool { return e.Touches(concept) }), nil
}

func (s *GraphStore) Degrees(ctx context.Context, names []string) (map[string]int, error) {
	if err := s.fail("degrees"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	adj := s.adjacency()
	s.mu.RUnlock()

	out := make(map[string]int, len(names))
	for _, n := range names {
		out[n] = len(adj[n])
	}
	return out, nil
}

// EdgeCount returns the number of distinct (from, to, kind) edges.
func (s *GraphStore) EdgeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.edges)
}

func (s *GraphStore) filterEdges(keep func(domain.RelationshipEdge) bool) []domain.RelationshipEdge {
	s.mu.RLock()
	var out []domain.RelationshipEdge
	for _, e := range s.edges {
		if keep(e) {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// adjacency must be called with s.mu held.
func (s *GraphStore) adjacency() map[string]map[string][]domain.EdgeKind {
	adj := make(map[string]map[string][]domain.EdgeKind)
	link := func(a, b string, k domain.EdgeKind) {
		if adj[a] == nil {
			adj[a] = make(map[string][]domain.EdgeKind)
		}
		adj[a][b] = append(adj[a][b], k)
	}
	for _, e := range s.edges {
		if e.From == e.To {
			continue
		}
		link(e.From, e.To, e.Kind)
		link(e.To, e.From, e.Kind)
	}
	for _, nbrs := range adj {
		for n, kinds := range nbrs {
			sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
			nbrs[n] = kinds
		}
	}
	return adj
}

func sortedKeys(m map[string][]domain.EdgeKind) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
