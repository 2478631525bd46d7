package store

import (
	"context"
	"errors"
	"time"

	"github.com/Harshitk-cp/scholae/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// maxRawPaths bounds the rows a single path query may return.
const maxRawPaths = 5000

type GraphStore struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewGraphStore(db *pgxpool.Pool, logger *zap.Logger) *GraphStore {
	return &GraphStore{db: db, logger: logger}
}

func (s *GraphStore) UpsertNode(ctx context.Context, n *domain.ConceptNode) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO concepts (name, first_seen_at, last_seen_at, mastery, exposure_count)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (name) DO UPDATE
		 SET first_seen_at = LEAST(concepts.first_seen_at, EXCLUDED.first_seen_at),
		     last_seen_at = GREATEST(concepts.last_seen_at, EXCLUDED.last_seen_at),
		     mastery = EXCLUDED.mastery,
		     exposure_count = EXCLUDED.exposure_count`,
		n.Name, n.FirstSeenAt, n.LastSeenAt, n.Mastery, n.ExposureCount,
	)
	return classify("upsert concept", err)
}

// ObserveConcept records the (name, task) pair first, so a replayed
// observation changes nothing. The concept row is locked while the
// exposure is applied, which keeps concurrent runs from losing counts.
func (s *GraphStore) ObserveConcept(ctx context.Context, obs domain.ConceptObservation) (*domain.ConceptNode, error) {
	var node *domain.ConceptNode
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`INSERT INTO concept_observations (name, task_id, observed_at)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (name, task_id) DO NOTHING`,
			obs.Name, obs.TaskID, obs.At,
		)
		if err != nil {
			return err
		}
		fresh := tag.RowsAffected() == 1

		if _, err := tx.Exec(ctx,
			`INSERT INTO concepts (name, first_seen_at, last_seen_at, mastery, exposure_count)
			 VALUES ($1, $2, $2, 'novice', 0)
			 ON CONFLICT (name) DO NOTHING`,
			obs.Name, obs.At,
		); err != nil {
			return err
		}

		cur := domain.ConceptNode{}
		if err := tx.QueryRow(ctx,
			`SELECT name, first_seen_at, last_seen_at, mastery, exposure_count
			 FROM concepts WHERE name = $1 FOR UPDATE`,
			obs.Name,
		).Scan(&cur.Name, &cur.FirstSeenAt, &cur.LastSeenAt, &cur.Mastery, &cur.ExposureCount); err != nil {
			return err
		}
		if !fresh {
			node = &cur
			return nil
		}

		next := obs.Apply(&cur)
		if _, err := tx.Exec(ctx,
			`UPDATE concepts
			 SET first_seen_at = $2, last_seen_at = $3, mastery = $4, exposure_count = $5
			 WHERE name = $1`,
			next.Name, next.FirstSeenAt, next.LastSeenAt, next.Mastery, next.ExposureCount,
		); err != nil {
			return err
		}
		node = &next
		return nil
	})
	if err != nil {
		return nil, classify("observe concept", err)
	}
	return node, nil
}

func (s *GraphStore) SetMastery(ctx context.Context, name string, level domain.Mastery, raiseOnly bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE concepts SET mastery = $2
		 WHERE name = $1
		   AND (NOT $3 OR COALESCE(array_position(ARRAY['novice','familiar','proficient','expert'], mastery), 0)
		                < array_position(ARRAY['novice','familiar','proficient','expert'], $2::text))`,
		name, level, raiseOnly,
	)
	if err != nil {
		return classify("set mastery", err)
	}
	if tag.RowsAffected() == 0 {
		// either missing or already at least this level
		_, err := s.GetNode(ctx, name)
		return err
	}
	return nil
}

func (s *GraphStore) UpsertEdge(ctx context.Context, e *domain.RelationshipEdge) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return classify("upsert edge", s.db.QueryRow(ctx,
		`INSERT INTO concept_edges (from_concept, to_concept, kind, confidence, evidence, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (from_concept, to_concept, kind) DO UPDATE
		 SET confidence = EXCLUDED.confidence,
		     evidence = EXCLUDED.evidence
		 RETURNING created_by, created_at`,
		e.From, e.To, e.Kind, e.Confidence, e.Evidence, e.CreatedBy, e.CreatedAt,
	).Scan(&e.CreatedBy, &e.CreatedAt))
}

// PathQuery walks the undirected adjacency with a recursive CTE. Cycles are
// cut by refusing to revisit a node already on the path.
func (s *GraphStore) PathQuery(ctx context.Context, from, to string, maxHops int) ([]domain.RawPath, error) {
	if from == to {
		if _, err := s.GetNode(ctx, from); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		return []domain.RawPath{{Nodes: []string{from}}}, nil
	}

	rows, err := s.db.Query(ctx,
		`WITH RECURSIVE adj AS (
			SELECT from_concept AS a, to_concept AS b, kind FROM concept_edges
			UNION ALL
			SELECT to_concept, from_concept, kind FROM concept_edges
		 ), walk(node, path, kinds, depth) AS (
			SELECT $1::text, ARRAY[$1::text], ARRAY[]::text[], 0
			UNION ALL
			SELECT adj.b, w.path || adj.b, w.kinds || adj.kind, w.depth + 1
			FROM walk w JOIN adj ON adj.a = w.node
			WHERE w.depth < $3 AND w.node <> $2 AND NOT adj.b = ANY(w.path)
		 )
		 SELECT path, kinds FROM walk WHERE node = $2
		 LIMIT $4`,
		from, to, maxHops, maxRawPaths,
	)
	if err != nil {
		return nil, classify("path query", err)
	}
	defer rows.Close()

	var paths []domain.RawPath
	for rows.Next() {
		var nodes, kinds []string
		if err := rows.Scan(&nodes, &kinds); err != nil {
			return nil, err
		}
		p := domain.RawPath{Nodes: nodes, Edges: make([]domain.EdgeKind, len(kinds))}
		for i, k := range kinds {
			p.Edges[i] = domain.EdgeKind(k)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("path query", err)
	}
	if len(paths) == maxRawPaths {
		s.logger.Warn("path query truncated, bridge ranking may miss paths",
			zap.String("from", from),
			zap.String("to", to),
			zap.Int("max_hops", maxHops),
			zap.Int("limit", maxRawPaths))
	}
	return paths, nil
}

func (s *GraphStore) GetNode(ctx context.Context, name string) (*domain.ConceptNode, error) {
	n := &domain.ConceptNode{}
	err := s.db.QueryRow(ctx,
		`SELECT name, first_seen_at, last_seen_at, mastery, exposure_count FROM concepts WHERE name = $1`,
		name,
	).Scan(&n.Name, &n.FirstSeenAt, &n.LastSeenAt, &n.Mastery, &n.ExposureCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classify("get concept", err)
	}
	return n, nil
}

func (s *GraphStore) ListNodes(ctx context.Context) ([]domain.ConceptNode, error) {
	rows, err := s.db.Query(ctx,
		`SELECT name, first_seen_at, last_seen_at, mastery, exposure_count FROM concepts ORDER BY name`)
	if err != nil {
		return nil, classify("list concepts", err)
	}
	defer rows.Close()

	var nodes []domain.ConceptNode
	for rows.Next() {
		var n domain.ConceptNode
		if err := rows.Scan(&n.Name, &n.FirstSeenAt, &n.LastSeenAt, &n.Mastery, &n.ExposureCount); err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, classify("list concepts", rows.Err())
}

func (s *GraphStore) ListEdges(ctx context.Context, kinds []domain.EdgeKind) ([]domain.RelationshipEdge, error) {
	if len(kinds) == 0 {
		return s.queryEdges(ctx, "list edges",
			`SELECT from_concept, to_concept, kind, confidence, evidence, created_by, created_at
			 FROM concept_edges ORDER BY from_concept, to_concept, kind`)
	}
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return s.queryEdges(ctx, "list edges",
		`SELECT from_concept, to_concept, kind, confidence, evidence, created_by, created_at
		 FROM concept_edges WHERE kind = ANY($1) ORDER BY from_concept, to_concept, kind`, names)
}

func (s *GraphStore) EdgesOf(ctx context.Context, concept string) ([]domain.RelationshipEdge, error) {
	return s.queryEdges(ctx, "edges of concept",
		`SELECT from_concept, to_concept, kind, confidence, evidence, created_by, created_at
		 FROM concept_edges WHERE from_concept = $1 OR to_concept = $1
		 ORDER BY from_concept, to_concept, kind`, concept)
}

func (s *GraphStore) queryEdges(ctx context.Context, op, query string, args ...any) ([]domain.RelationshipEdge, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var edges []domain.RelationshipEdge
	for rows.Next() {
		var e domain.RelationshipEdge
		if err := rows.Scan(&e.From, &e.To, &e.Kind, &e.Confidence, &e.Evidence, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, classify(op, rows.Err())
}

func (s *GraphStore) Degrees(ctx context.Context, names []string) (map[string]int, error) {
	degrees := make(map[string]int, len(names))
	for _, n := range names {
		degrees[n] = 0
	}
	if len(names) == 0 {
		return degrees, nil
	}

	rows, err := s.db.Query(ctx,
		`SELECT n, COUNT(DISTINCT m) FROM (
			SELECT from_concept AS n, to_concept AS m FROM concept_edges
			UNION ALL
			SELECT to_concept, from_concept FROM concept_edges
		 ) adj
		 WHERE n = ANY($1) AND n <> m
		 GROUP BY n`,
		names,
	)
	if err != nil {
		return nil, classify("concept degrees", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var degree int
		if err := rows.Scan(&name, &degree); err != nil {
			return nil, err
		}
		degrees[name] = degree
	}
	return degrees, classify("concept degrees", rows.Err())
}
