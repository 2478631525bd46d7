package cli

import (
	"fmt"

	"github.com/Harshitk-cp/scholae/internal/agent"
	"github.com/Harshitk-cp/scholae/internal/config"
	"github.com/Harshitk-cp/scholae/internal/domain"
	"github.com/Harshitk-cp/scholae/internal/llm"
	"github.com/Harshitk-cp/scholae/internal/orchestrator"
	"github.com/Harshitk-cp/scholae/internal/provenance"
	"github.com/Harshitk-cp/scholae/internal/service"
	"go.uber.org/zap"
)

// services are the domain components built over one set of backends.
type services struct {
	model         service.StrengthModel
	recall        *service.RecallService
	reasoning     *service.ReasoningService
	concepts      *service.ConceptService
	consolidation *service.ConsolidationService
	provenance    *provenance.Log
}

func newServices(b *backends, logger *zap.Logger) *services {
	model := service.StrengthModel{BaseStability: config.MemoryBaseStability()}
	thresholds := service.Thresholds{
		Stable: config.ConsolidationStableThreshold(),
		Prune:  config.ConsolidationPruneThreshold(),
	}
	consolidation := service.NewConsolidationService(b.memory, b.graph, model, thresholds, logger)
	consolidation.SetInterval(config.ConsolidationInterval())

	return &services{
		model:         model,
		recall:        service.NewRecallService(b.memory, model, logger),
		reasoning:     service.NewReasoningService(b.graph, logger),
		concepts:      service.NewConceptService(b.graph, model, logger),
		consolidation: consolidation,
		provenance:    provenance.NewLog(b.provenance, logger),
	}
}

// newLLM builds the configured LLM client behind the concept cache. The
// returned func releases the cache.
func newLLM(logger *zap.Logger) (domain.LLMClient, func(), error) {
	provider := config.LLMProvider()
	client, err := llm.NewClient(provider, config.LLMAPIKey())
	if err != nil {
		return nil, nil, fmt.Errorf("init LLM client: %w", err)
	}
	cached, err := llm.NewCachedClient(client, config.LLMCacheSize())
	if err != nil {
		return nil, nil, err
	}
	logger.Info("LLM client initialized", zap.String("provider", provider))
	return cached, cached.Close, nil
}

func newOrchestrator(b *backends, svc *services, llmClient domain.LLMClient, publisher domain.TransitionPublisher, logger *zap.Logger) *orchestrator.Orchestrator {
	runner := agent.NewRunner(agent.Deps{
		Recall:    svc.recall,
		Reasoning: svc.reasoning,
		LLM:       llmClient,
		Logger:    logger,
		MaxHops:   config.BridgeMaxHops(),
	})

	cfg := orchestrator.DefaultConfig()
	cfg.HITLThreshold = config.HITLConfidenceThreshold()
	cfg.MaxParallelTasks = config.MaxParallelTasks()
	cfg.Retry.MaxAttempts = config.TaskMaxAttempts()
	cfg.Retry.InitialDelay = config.RetryInitialDelay()
	cfg.Retry.MaxDelay = config.RetryMaxDelay()
	cfg.RunRetention = config.RunRetention()

	return orchestrator.New(runner, orchestrator.Stores{
		Memory:     b.memory,
		Graph:      b.graph,
		Provenance: svc.provenance,
		Publisher:  publisher,
	}, cfg, logger)
}
