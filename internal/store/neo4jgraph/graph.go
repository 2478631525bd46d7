// Package neo4jgraph implements the concept GraphStore on Neo4j. Concepts
// are (:Concept {name}) nodes; every relationship is a :RELATES edge whose
// kind property holds the edge kind, so (from, to, kind) stays the MERGE key.
package neo4jgraph

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Harshitk-cp/scholae/internal/domain"
	"github.com/Harshitk-cp/scholae/internal/store"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

const maxRawPaths = 5000

type Config struct {
	URI      string
	Username string
	Password string
	Database string
}

type GraphStore struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *zap.Logger
}

// Connect opens a driver and verifies connectivity, backing off
// exponentially between attempts.
func Connect(ctx context.Context, cfg Config, logger *zap.Logger) (*GraphStore, error) {
	auth := neo4j.BasicAuth(cfg.Username, cfg.Password, "")

	const maxAttempts = 5
	baseDelay := 100 * time.Millisecond
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		driver, err := neo4j.NewDriverWithContext(cfg.URI, auth)
		if err == nil {
			if err = driver.VerifyConnectivity(ctx); err == nil {
				logger.Info("connected to neo4j", zap.String("uri", cfg.URI))
				g := &GraphStore{driver: driver, database: cfg.Database, logger: logger}
				if err := g.ensureSchema(ctx); err != nil {
					_ = driver.Close(ctx)
					return nil, err
				}
				return g, nil
			}
			_ = driver.Close(ctx)
		}
		lastErr = err
		logger.Warn("neo4j connect failed", zap.Int("attempt", attempt+1), zap.Error(err))

		delay := baseDelay * time.Duration(math.Pow(2, float64(attempt)))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("neo4j connect cancelled: %w", ctx.Err())
		}
	}
	return nil, fmt.Errorf("neo4j connect failed after %d attempts: %w", maxAttempts, lastErr)
}

// ensureSchema creates the uniqueness constraints MERGE relies on under
// concurrent writers.
func (s *GraphStore) ensureSchema(ctx context.Context) error {
	for _, stmt := range []string{
		`CREATE CONSTRAINT concept_name IF NOT EXISTS FOR (c:Concept) REQUIRE c.name IS UNIQUE`,
		`CREATE CONSTRAINT concept_observation IF NOT EXISTS FOR (o:ConceptObservation) REQUIRE (o.name, o.task_id) IS UNIQUE`,
	} {
		if _, err := s.query(ctx, "ensure schema", stmt, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *GraphStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *GraphStore) query(ctx context.Context, op, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	res, err := neo4j.ExecuteQuery(ctx, s.driver, cypher, params,
		neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(s.database))
	if err != nil {
		if neo4j.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded) {
			return nil, domain.NewTransientStoreError(op, err)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return res.Records, nil
}

func (s *GraphStore) UpsertNode(ctx context.Context, n *domain.ConceptNode) error {
	_, err := s.query(ctx, "upsert concept",
		`MERGE (c:Concept {name: $name})
		 ON CREATE SET c.first_seen_at = $first_seen_at, c.last_seen_at = $last_seen_at
		 SET c.first_seen_at = CASE WHEN $first_seen_at < c.first_seen_at THEN $first_seen_at ELSE c.first_seen_at END,
		     c.last_seen_at = CASE WHEN $last_seen_at > c.last_seen_at THEN $last_seen_at ELSE c.last_seen_at END,
		     c.mastery = $mastery,
		     c.exposure_count = $exposure_count`,
		map[string]any{
			"name":           n.Name,
			"first_seen_at":  n.FirstSeenAt,
			"last_seen_at":   n.LastSeenAt,
			"mastery":        string(n.Mastery),
			"exposure_count": n.ExposureCount,
		})
	return err
}

// ObserveConcept runs as one transaction. The _lock write takes the node
// lock before exposure_count is read, and the observation node marks the
// (name, task) pair as applied.
func (s *GraphStore) ObserveConcept(ctx context.Context, obs domain.ConceptObservation) (*domain.ConceptNode, error) {
	records, err := s.query(ctx, "observe concept",
		`MERGE (c:Concept {name: $name})
		 ON CREATE SET c.first_seen_at = $at, c.last_seen_at = $at, c.mastery = 'novice', c.exposure_count = 0
		 SET c._lock = true
		 MERGE (o:ConceptObservation {name: $name, task_id: $task_id})
		 ON CREATE SET o.observed_at = $at, o.fresh = true
		 WITH c, o, coalesce(o.fresh, false) AS fresh
		 REMOVE o.fresh, c._lock
		 WITH c, fresh
		 SET c.exposure_count = c.exposure_count + CASE WHEN fresh THEN 1 ELSE 0 END,
		     c.first_seen_at = CASE WHEN fresh AND $at < c.first_seen_at THEN $at ELSE c.first_seen_at END,
		     c.last_seen_at = CASE WHEN fresh AND $at > c.last_seen_at THEN $at ELSE c.last_seen_at END
		 WITH c
		 SET c.mastery = CASE
		     WHEN c.exposure_count >= $expert THEN 'expert'
		     WHEN c.exposure_count >= $proficient AND c.mastery IN ['novice', 'familiar'] THEN 'proficient'
		     WHEN c.exposure_count >= $familiar AND c.mastery = 'novice' THEN 'familiar'
		     ELSE c.mastery END
		 RETURN c.name AS name, c.first_seen_at AS first_seen_at, c.last_seen_at AS last_seen_at,
		        c.mastery AS mastery, c.exposure_count AS exposure_count`,
		map[string]any{
			"name":       obs.Name,
			"task_id":    obs.TaskID,
			"at":         obs.At,
			"familiar":   domain.FamiliarExposures,
			"proficient": domain.ProficientExposures,
			"expert":     domain.ExpertExposures,
		})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("observe concept %s: no row returned", obs.Name)
	}
	n := nodeFromRecord(records[0])
	return &n, nil
}

func (s *GraphStore) SetMastery(ctx context.Context, name string, level domain.Mastery, raiseOnly bool) error {
	records, err := s.query(ctx, "set mastery",
		`MATCH (c:Concept {name: $name})
		 WITH c, ['novice', 'familiar', 'proficient', 'expert'] AS levels
		 SET c.mastery = CASE
		     WHEN NOT $raise_only THEN $level
		     WHEN [i IN range(0, 3) WHERE levels[i] = $level][0] >
		          coalesce([i IN range(0, 3) WHERE levels[i] = c.mastery][0], -1) THEN $level
		     ELSE c.mastery END
		 RETURN c.name AS name`,
		map[string]any{"name": name, "level": string(level), "raise_only": raiseOnly})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *GraphStore) UpsertEdge(ctx context.Context, e *domain.RelationshipEdge) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	records, err := s.query(ctx, "upsert edge",
		`MERGE (a:Concept {name: $from})
		 ON CREATE SET a.first_seen_at = $created_at, a.last_seen_at = $created_at, a.mastery = 'novice', a.exposure_count = 0
		 MERGE (b:Concept {name: $to})
		 ON CREATE SET b.first_seen_at = $created_at, b.last_seen_at = $created_at, b.mastery = 'novice', b.exposure_count = 0
		 MERGE (a)-[r:RELATES {kind: $kind}]->(b)
		 ON CREATE SET r.created_by = $created_by, r.created_at = $created_at
		 SET r.confidence = $confidence, r.evidence = $evidence
		 RETURN r.created_by AS created_by, r.created_at AS created_at`,
		map[string]any{
			"from":       e.From,
			"to":         e.To,
			"kind":       string(e.Kind),
			"confidence": e.Confidence,
			"evidence":   e.Evidence,
			"created_by": e.CreatedBy,
			"created_at": e.CreatedAt,
		})
	if err != nil {
		return err
	}
	if len(records) == 1 {
		e.CreatedBy = stringValue(records[0], "created_by")
		e.CreatedAt = timeValue(records[0], "created_at")
	}
	return nil
}

// PathQuery matches variable-length undirected paths. Cypher only
// guarantees relationship uniqueness, so node-simple paths are enforced in
// the query and rechecked here.
func (s *GraphStore) PathQuery(ctx context.Context, from, to string, maxHops int) ([]domain.RawPath, error) {
	if from == to {
		if _, err := s.GetNode(ctx, from); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		return []domain.RawPath{{Nodes: []string{from}}}, nil
	}
	if maxHops < 1 {
		return nil, nil
	}

	cypher := fmt.Sprintf(
		`MATCH p = (a:Concept {name: $from})-[:RELATES*1..%d]-(b:Concept {name: $to})
		 WHERE all(n IN nodes(p) WHERE single(m IN nodes(p) WHERE m = n))
		 RETURN [n IN nodes(p) | n.name] AS nodes, [r IN relationships(p) | r.kind] AS kinds
		 LIMIT $limit`, maxHops)

	records, err := s.query(ctx, "path query", cypher, map[string]any{
		"from": from, "to": to, "limit": maxRawPaths,
	})
	if err != nil {
		return nil, err
	}
	if len(records) == maxRawPaths {
		s.logger.Warn("path query truncated, bridge ranking may miss paths",
			zap.String("from", from), zap.String("to", to), zap.Int("limit", maxRawPaths))
	}

	var paths []domain.RawPath
	for _, rec := range records {
		nodes := stringsValue(rec, "nodes")
		kinds := stringsValue(rec, "kinds")
		if !simple(nodes) {
			continue
		}
		p := domain.RawPath{Nodes: nodes, Edges: make([]domain.EdgeKind, len(kinds))}
		for i, k := range kinds {
			p.Edges[i] = domain.EdgeKind(k)
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func (s *GraphStore) GetNode(ctx context.Context, name string) (*domain.ConceptNode, error) {
	records, err := s.query(ctx, "get concept",
		`MATCH (c:Concept {name: $name})
		 RETURN c.name AS name, c.first_seen_at AS first_seen_at, c.last_seen_at AS last_seen_at,
		        c.mastery AS mastery, c.exposure_count AS exposure_count`,
		map[string]any{"name": name})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, store.ErrNotFound
	}
	n := nodeFromRecord(records[0])
	return &n, nil
}

func (s *GraphStore) ListNodes(ctx context.Context) ([]domain.ConceptNode, error) {
	records, err := s.query(ctx, "list concepts",
		`MATCH (c:Concept)
		 RETURN c.name AS name, c.first_seen_at AS first_seen_at, c.last_seen_at AS last_seen_at,
		        c.mastery AS mastery, c.exposure_count AS exposure_count
		 ORDER BY c.name`, nil)
	if err != nil {
		return nil, err
	}
	nodes := make([]domain.ConceptNode, 0, len(records))
	for _, rec := range records {
		nodes = append(nodes, nodeFromRecord(rec))
	}
	return nodes, nil
}

const edgeReturn = `RETURN a.name AS from, b.name AS to, r.kind AS kind, r.confidence AS confidence,
	r.evidence AS evidence, r.created_by AS created_by, r.created_at AS created_at
	ORDER BY from, to, kind`

func (s *GraphStore) ListEdges(ctx context.Context, kinds []domain.EdgeKind) ([]domain.RelationshipEdge, error) {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	records, err := s.query(ctx, "list edges",
		`MATCH (a:Concept)-[r:RELATES]->(b:Concept)
		 WHERE size($kinds) = 0 OR r.kind IN $kinds
		 `+edgeReturn,
		map[string]any{"kinds": names})
	if err != nil {
		return nil, err
	}
	return edgesFromRecords(records), nil
}

func (s *GraphStore) EdgesOf(ctx context.Context, concept string) ([]domain.RelationshipEdge, error) {
	records, err := s.query(ctx, "edges of concept",
		`MATCH (a:Concept)-[r:RELATES]->(b:Concept)
		 WHERE a.name = $name OR b.name = $name
		 `+edgeReturn,
		map[string]any{"name": concept})
	if err != nil {
		return nil, err
	}
	return edgesFromRecords(records), nil
}

func (s *GraphStore) Degrees(ctx context.Context, names []string) (map[string]int, error) {
	degrees := make(map[string]int, len(names))
	for _, n := range names {
		degrees[n] = 0
	}
	if len(names) == 0 {
		return degrees, nil
	}
	records, err := s.query(ctx, "concept degrees",
		`UNWIND $names AS name
		 OPTIONAL MATCH (c:Concept {name: name})-[:RELATES]-(m:Concept)
		 WHERE m <> c
		 RETURN name, count(DISTINCT m) AS degree`,
		map[string]any{"names": names})
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		degrees[stringValue(rec, "name")] = int(intValue(rec, "degree"))
	}
	return degrees, nil
}

func nodeFromRecord(rec *neo4j.Record) domain.ConceptNode {
	return domain.ConceptNode{
		Name:          stringValue(rec, "name"),
		FirstSeenAt:   timeValue(rec, "first_seen_at"),
		LastSeenAt:    timeValue(rec, "last_seen_at"),
		Mastery:       domain.Mastery(stringValue(rec, "mastery")),
		ExposureCount: int(intValue(rec, "exposure_count")),
	}
}

func edgesFromRecords(records []*neo4j.Record) []domain.RelationshipEdge {
	edges := make([]domain.RelationshipEdge, 0, len(records))
	for _, rec := range records {
		edges = append(edges, domain.RelationshipEdge{
			From:       stringValue(rec, "from"),
			To:         stringValue(rec, "to"),
			Kind:       domain.EdgeKind(stringValue(rec, "kind")),
			Confidence: floatValue(rec, "confidence"),
			Evidence:   stringValue(rec, "evidence"),
			CreatedBy:  stringValue(rec, "created_by"),
			CreatedAt:  timeValue(rec, "created_at"),
		})
	}
	return edges
}

func simple(nodes []string) bool {
	seen := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if seen[n] {
			return false
		}
		seen[n] = true
	}
	return true
}

func stringValue(rec *neo4j.Record, key string) string {
	v, _ := rec.Get(key)
	s, _ := v.(string)
	return s
}

func intValue(rec *neo4j.Record, key string) int64 {
	v, _ := rec.Get(key)
	i, _ := v.(int64)
	return i
}

func floatValue(rec *neo4j.Record, key string) float64 {
	v, _ := rec.Get(key)
	f, _ := v.(float64)
	return f
}

func timeValue(rec *neo4j.Record, key string) time.Time {
	v, _ := rec.Get(key)
	t, _ := v.(time.Time)
	return t.UTC()
}

func stringsValue(rec *neo4j.Record, key string) []string {
	v, _ := rec.Get(key)
	list, _ := v.([]any)
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
