package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stock-ledger/internal/api"
	"stock-ledger/internal/broker"
	"stock-ledger/internal/service"
	"stock-ledger/internal/util"
	"stock-ledger/internal/valuation"
	"stock-ledger/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the valuation worker",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := util.GetLogger()
	logger.Info("Starting stock ledger")

	if cfg.Observ.JaegerEndpoint != "" {
		tp, err := util.InitTracer(util.TracingConfig{
			Endpoint:    cfg.Observ.JaegerEndpoint,
			Environment: cfg.Server.Env,
			SampleRatio: cfg.Observ.TraceSampleRatio,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Warn("Error shutting down tracer", zap.Error(err))
			}
		}()
	}

	ctx := cmd.Context()
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	rc := openRedis()
	if rc != nil {
		defer rc.Close()
	}
	if err := ensureSchema(ctx, st, rc); err != nil {
		return err
	}

	var publisher service.EventPublisher
	var producer *broker.Producer
	if cfg.Kafka.Enabled() {
		producer = broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicStock)
		defer producer.Close()
		publisher = broker.NewEventPublisher(producer)
		logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	var cache service.ReportCache
	if rc != nil {
		cache = rc
	}

	excluded := valuation.WithExcludedNames(cfg.Business.ExcludedNames...)
	valuations := service.NewValuationService(st, cache, cfg.Business.ValuationCacheTTL,
		cfg.Business.AlertPeriodDays, excluded)
	inventory := service.NewInventoryService(st, publisher, valuations, cfg.Business.AlertPeriodDays, excluded)
	loans := service.NewLoanService(st, publisher, valuations, cfg.Business.AdjustStockOnLoanByDefault)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var valuationWorker *worker.ValuationWorker
	if cfg.Kafka.Enabled() {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicStock, cfg.Kafka.ConsumerGroup)
		valuationWorker = worker.NewValuationWorker(consumer, valuations)
		go func() {
			if err := valuationWorker.Start(workerCtx); err != nil && err != context.Canceled {
				logger.Error("Valuation worker error", zap.Error(err))
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(inventory, loans, valuations, st)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("failed to start server: %w", err)
	}

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if valuationWorker != nil {
		valuationWorker.Stop()
	}

	logger.Info("Server exited")
	return nil
}
