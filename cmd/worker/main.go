package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"

	"github.com/facturio/facturio/internal/anaf"
	"github.com/facturio/facturio/internal/app"
	"github.com/facturio/facturio/internal/company"
	"github.com/facturio/facturio/internal/deliverynote"
	"github.com/facturio/facturio/internal/exchange"
	"github.com/facturio/facturio/internal/invoice"
	jobmetrics "github.com/facturio/facturio/internal/jobs"
	"github.com/facturio/facturio/internal/platform/cache"
	"github.com/facturio/facturio/internal/platform/db"
	"github.com/facturio/facturio/internal/proforma"
	"github.com/facturio/facturio/internal/recurring"
	"github.com/facturio/facturio/internal/series"
	"github.com/facturio/facturio/jobs"
)

// workerConfig extends the shared config with worker-only settings.
type workerConfig struct {
	// BridgeURL locates the SPV/e-Transport submission bridge.
	BridgeURL string `envconfig:"SUBMIT_BRIDGE_URL" default:"http://127.0.0.1:9090"`
}

// bridgeSubmitter adapts the bridge client to the job port.
type bridgeSubmitter struct {
	client *anaf.BridgeClient
}

func (s bridgeSubmitter) Submit(ctx context.Context, documentID uuid.UUID, provider string) (jobs.Outcome, error) {
	result, err := s.client.Submit(ctx, documentID, provider)
	if err != nil {
		return jobs.Outcome{}, err
	}
	return jobs.Outcome{
		CompanyID: result.CompanyID,
		Accepted:  result.Accepted,
		UploadID:  result.UploadID,
		Detail:    result.Detail,
	}, nil
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	var wcfg workerConfig
	if err := envconfig.Process("", &wcfg); err != nil {
		slog.Default().Error("load worker config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(nil)
	queue := jobs.NewClient(cfg.RedisAddr)
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue close", slog.Any("error", err))
		}
	}()

	companies := company.NewRepository(pool)
	tokens := anaf.NewPGTokenResolver(pool)
	seriesService := series.NewService(series.NewRepository(pool))

	invoiceService := invoice.NewService(invoice.NewRepository(pool), companies, seriesService, tokens, queue)
	proformaService := proforma.NewService(proforma.NewRepository(pool), companies, seriesService)
	noteService := deliverynote.NewService(deliverynote.NewRepository(pool), companies, seriesService, queue)

	rates := exchange.NewService(exchange.FixedSource{}, redisClient)
	templateRepo := recurring.NewRepository(pool)
	engine := recurring.NewEngine(templateRepo, invoiceService, proformaService, rates, recurring.NewProductPrices(pool))

	submitter := bridgeSubmitter{client: anaf.NewBridgeClient(wcfg.BridgeURL)}
	server := jobs.NewServer(cfg.RedisAddr, jobs.Handlers{
		Submit:    jobs.NewSubmitJob(submitter, invoiceService, noteService, logger, metrics),
		Scheduled: jobs.NewScheduledSubmissionsJob(invoiceService, logger, metrics),
		Recurring: jobs.NewRecurringProcessJob(engine, logger, metrics),
		Cleanup:   jobs.NewCleanupArchiveJob(pool, logger, metrics),
	}, logger)

	go func() {
		logger.Info("starting worker")
		if err := server.Run(); err != nil {
			logger.Error("worker", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down worker")
	server.Shutdown()
}
