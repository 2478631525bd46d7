package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/Harshitk-cp/scholae/internal/api"
	"github.com/Harshitk-cp/scholae/internal/config"
	"github.com/Harshitk-cp/scholae/internal/domain"
	"github.com/Harshitk-cp/scholae/internal/embedding"
	"github.com/Harshitk-cp/scholae/internal/events"
	"github.com/Harshitk-cp/scholae/internal/store"
	"github.com/Harshitk-cp/scholae/internal/store/inmem"
	"github.com/Harshitk-cp/scholae/internal/store/neo4jgraph"
	"github.com/Harshitk-cp/scholae/internal/store/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	BackendPostgres = "postgres"
	BackendNeo4j    = "neo4j"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

// backends is the set of stores chosen by configuration, plus what must
// be closed when the process stops.
type backends struct {
	memory     domain.MemoryStore
	graph      domain.GraphStore
	provenance domain.ProvenanceStore
	checks     map[string]api.HealthCheck

	closers []func()
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openBackends(ctx context.Context, logger *zap.Logger) (*backends, error) {
	b := &backends{checks: make(map[string]api.HealthCheck)}

	storeBackend := config.StoreBackend()
	graphBackend := config.GraphBackend()
	provenanceBackend := config.ProvenanceBackend()

	var pool *pgxpool.Pool
	if storeBackend == BackendPostgres || graphBackend == BackendPostgres || provenanceBackend == BackendPostgres {
		dbURL := config.DatabaseURL()
		if dbURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
		var err error
		pool, err = pgxpool.New(ctx, dbURL)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		b.closers = append(b.closers, pool.Close)
		if err := pool.Ping(ctx); err != nil {
			b.close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
		if err := store.Migrate(ctx, pool, logger); err != nil {
			b.close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		b.checks[BackendPostgres] = pool.Ping
		logger.Info("connected to database")
	}

	switch storeBackend {
	case BackendPostgres:
		embedder, err := embedding.NewClient(config.EmbeddingProvider(), config.EmbeddingAPIKey())
		if err != nil {
			logger.Warn("embedding client unavailable, using keyword search",
				zap.String("provider", config.EmbeddingProvider()), zap.Error(err))
			embedder = nil
		}
		b.memory = store.NewMemoryStore(pool, embedder)
	case BackendMemory:
		b.memory = inmem.NewMemoryStore()
	default:
		b.close()
		return nil, fmt.Errorf("unknown STORE_BACKEND %q (valid: postgres, memory)", storeBackend)
	}

	switch graphBackend {
	case BackendPostgres:
		b.graph = store.NewGraphStore(pool, logger)
	case BackendNeo4j:
		g, err := neo4jgraph.Connect(ctx, neo4jgraph.Config{
			URI:      config.Neo4jURI(),
			Username: config.Neo4jUser(),
			Password: config.Neo4jPassword(),
			Database: config.Neo4jDatabase(),
		}, logger)
		if err != nil {
			b.close()
			return nil, err
		}
		b.graph = g
		b.closers = append(b.closers, func() {
			cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = g.Close(cctx)
		})
	case BackendMemory:
		b.graph = inmem.NewGraphStore()
	default:
		b.close()
		return nil, fmt.Errorf("unknown GRAPH_BACKEND %q (valid: postgres, neo4j, memory)", graphBackend)
	}

	switch provenanceBackend {
	case BackendPostgres:
		b.provenance = store.NewProvenanceStore(pool)
	case BackendSQLite:
		p, err := sqlite.Open(config.SQLitePath())
		if err != nil {
			b.close()
			return nil, fmt.Errorf("open provenance db: %w", err)
		}
		b.provenance = p
		b.closers = append(b.closers, func() { _ = p.Close() })
	case BackendMemory:
		b.provenance = inmem.NewProvenanceStore()
	default:
		b.close()
		return nil, fmt.Errorf("unknown PROVENANCE_BACKEND %q (valid: postgres, sqlite, memory)", provenanceBackend)
	}

	logger.Info("backends ready",
		zap.String("store", storeBackend),
		zap.String("graph", graphBackend),
		zap.String("provenance", provenanceBackend))
	return b, nil
}

// newPublisher returns a Kafka publisher when brokers are configured and a
// log publisher otherwise.
func newPublisher(logger *zap.Logger) (domain.TransitionPublisher, error) {
	brokers := config.KafkaBrokers()
	if brokers == "" {
		return events.NewLogPublisher(logger), nil
	}
	p, err := events.NewKafkaPublisher(brokers, config.KafkaTopic(), logger)
	if err != nil {
		return nil, err
	}
	logger.Info("publishing transitions to kafka", zap.String("brokers", brokers), zap.String("topic", config.KafkaTopic()))
	return p, nil
}
