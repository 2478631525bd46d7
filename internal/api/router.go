package api

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	"github.com/Harshitk-cp/scholae/internal/api/handlers"
	mw "github.com/Harshitk-cp/scholae/internal/api/middleware"
	"github.com/Harshitk-cp/scholae/internal/buildconfig"
	"github.com/Harshitk-cp/scholae/internal/config"
	"github.com/Harshitk-cp/scholae/internal/orchestrator"
	"github.com/Harshitk-cp/scholae/internal/provenance"
	"github.com/Harshitk-cp/scholae/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// HealthCheck reports whether one backing dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Services are the components the HTTP surface exposes. Checks are run by
// /health, keyed by dependency name.
type Services struct {
	Orchestrator  *orchestrator.Orchestrator
	Provenance    *provenance.Log
	Consolidation *service.ConsolidationService
	Concepts      *service.ConceptService
	Reasoning     *service.ReasoningService
	Checks        map[string]HealthCheck
}

// App holds the router and request counters.
type App struct {
	Router       *chi.Mux
	startTime    time.Time
	requestCount atomic.Int64
	errorCount   atomic.Int64
	metrics      *mw.MetricsCollector
}

func NewApp(svc Services, logger *zap.Logger) *App {
	runHandler := handlers.NewRunHandler(svc.Orchestrator, logger)
	provenanceHandler := handlers.NewProvenanceHandler(svc.Provenance)
	memoryHandler := handlers.NewMemoryHandler(svc.Consolidation)
	conceptHandler := handlers.NewConceptHandler(svc.Concepts)
	graphHandler := handlers.NewGraphHandler(svc.Reasoning, config.BridgeMaxHops())

	r := chi.NewRouter()
	app := &App{
		Router:    r,
		startTime: time.Now(),
	}
	app.metrics = mw.NewMetricsCollector(&app.requestCount, &app.errorCount)

	// Global middleware (order matters)
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(app.metrics.Middleware)
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(mw.RateLimit(config.RateLimitRPS(), config.RateLimitBurst()))

	r.Get("/health", healthHandler(svc.Checks))
	r.Get("/metrics", app.metricsHandler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(mw.BearerAuth(config.APIToken()))

		r.Route("/runs", func(r chi.Router) {
			r.Post("/", runHandler.Submit)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", runHandler.Get)
				r.Post("/approve", runHandler.Approve)
				r.Post("/reject", runHandler.Reject)
				r.Get("/stream", runHandler.Stream)
			})
		})

		r.Get("/provenance", provenanceHandler.List)

		r.Route("/memory", func(r chi.Router) {
			r.Post("/consolidate", memoryHandler.Consolidate)
			r.Get("/report", memoryHandler.Report)
			r.Get("/gaps", memoryHandler.Gaps)
		})

		r.Route("/concepts/{name}", func(r chi.Router) {
			r.Get("/", conceptHandler.Get)
			r.Post("/decay", conceptHandler.Decay)
		})

		r.Route("/graph", func(r chi.Router) {
			r.Get("/bridges", graphHandler.Bridges)
			r.Get("/contradictions/{concept}", graphHandler.Contradictions)
			r.Get("/communities", graphHandler.Communities)
			r.Get("/influence/{concept}", graphHandler.Influence)
			r.Get("/lifecycle/{concept}", graphHandler.Lifecycle)
		})
	})

	return app
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names := make([]string, 0, len(checks))
		for name := range checks {
			names = append(names, name)
		}
		sort.Strings(names)

		status := http.StatusOK
		deps := make(map[string]string, len(checks))
		for _, name := range names {
			if err := checks[name](r.Context()); err != nil {
				deps[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			deps[name] = "ok"
		}

		body := map[string]any{
			"status":       "ok",
			"build":        buildconfig.VersionInfo(),
			"dependencies": deps,
		}
		if status != http.StatusOK {
			body["status"] = "error"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func (app *App) metricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(app.startTime)

		response := map[string]any{
			"uptime_seconds": uptime.Seconds(),
			"uptime_human":   uptime.Round(time.Second).String(),
			"request_count":  app.requestCount.Load(),
			"error_count":    app.errorCount.Load(),
			"server_errors":  app.metrics.ServerErrors(),
			"goroutines":     runtime.NumGoroutine(),
			"memory": map[string]any{
				"alloc_mb":       float64(memStats.Alloc) / 1024 / 1024,
				"total_alloc_mb": float64(memStats.TotalAlloc) / 1024 / 1024,
				"sys_mb":         float64(memStats.Sys) / 1024 / 1024,
				"num_gc":         memStats.NumGC,
			},
			"go_version": runtime.Version(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}

var (
	_ handlers.RunOrchestrator  = (*orchestrator.Orchestrator)(nil)
	_ handlers.ProvenanceReader = (*provenance.Log)(nil)
	_ handlers.Consolidator     = (*service.ConsolidationService)(nil)
	_ handlers.ConceptEvolver   = (*service.ConceptService)(nil)
	_ handlers.GraphReasoner    = (*service.ReasoningService)(nil)
)
