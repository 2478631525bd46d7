package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Harshitk-cp/scholae/internal/api"
	"github.com/Harshitk-cp/scholae/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server and the background consolidation worker",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(config.LogLevel())
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, logger)
	if err != nil {
		return err
	}
	defer b.close()

	llmClient, closeLLM, err := newLLM(logger)
	if err != nil {
		return err
	}
	defer closeLLM()

	publisher, err := newPublisher(logger)
	if err != nil {
		return err
	}

	svc := newServices(b, logger)
	orch := newOrchestrator(b, svc, llmClient, publisher, logger)

	app := api.NewApp(api.Services{
		Orchestrator:  orch,
		Provenance:    svc.provenance,
		Consolidation: svc.consolidation,
		Concepts:      svc.concepts,
		Reasoning:     svc.reasoning,
		Checks:        b.checks,
	}, logger)

	svc.consolidation.Start()

	srv := &http.Server{
		Addr:              config.ServerAddr(),
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		svc.consolidation.Stop()
		httpErr := srv.Shutdown(shutdownCtx)
		orchErr := orch.Shutdown(shutdownCtx)
		return errors.Join(httpErr, orchErr)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}
