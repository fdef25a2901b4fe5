package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/facturio/facturio/internal/anaf"
	"github.com/facturio/facturio/internal/app"
	"github.com/facturio/facturio/internal/company"
	"github.com/facturio/facturio/internal/convert"
	"github.com/facturio/facturio/internal/deliverynote"
	"github.com/facturio/facturio/internal/exchange"
	"github.com/facturio/facturio/internal/invoice"
	"github.com/facturio/facturio/internal/observability"
	"github.com/facturio/facturio/internal/platform/cache"
	"github.com/facturio/facturio/internal/platform/db"
	"github.com/facturio/facturio/internal/proforma"
	"github.com/facturio/facturio/internal/receipt"
	"github.com/facturio/facturio/internal/recurring"
	"github.com/facturio/facturio/internal/series"
	"github.com/facturio/facturio/internal/shared"
	"github.com/facturio/facturio/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
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

	metrics := observability.NewMetrics()
	queue := jobs.NewClient(cfg.RedisAddr)
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue close", slog.Any("error", err))
		}
	}()

	companies := company.NewRepository(pool)
	tokens := anaf.NewPGTokenResolver(pool)
	idempotency := shared.NewIdempotencyStore(pool)

	seriesService := series.NewService(series.NewRepository(pool))
	seriesHandler := series.NewHandler(seriesService)

	invoiceService := invoice.NewService(invoice.NewRepository(pool), companies, seriesService, tokens, queue).
		WithIdempotency(idempotency).
		WithMetrics(metrics)
	invoiceHandler := invoice.NewHandler(invoiceService)

	proformaService := proforma.NewService(proforma.NewRepository(pool), companies, seriesService)
	proformaHandler := proforma.NewHandler(proformaService)

	noteService := deliverynote.NewService(deliverynote.NewRepository(pool), companies, seriesService, queue).
		WithMetrics(metrics)
	noteHandler := deliverynote.NewHandler(noteService)

	receiptService := receipt.NewService(receipt.NewRepository(pool), companies, seriesService).
		WithMetrics(metrics)
	receiptHandler := receipt.NewHandler(receiptService)

	pipeline := convert.NewPipeline(invoiceService, proformaService, noteService, receiptService)
	convertHandler := convert.NewHandler(pipeline)

	rates := exchange.NewService(exchange.FixedSource{}, redisClient)
	templateRepo := recurring.NewRepository(pool)
	recurringService := recurring.NewService(templateRepo)
	recurringEngine := recurring.NewEngine(templateRepo, invoiceService, proformaService, rates, recurring.NewProductPrices(pool)).
		WithMetrics(metrics)
	recurringHandler := recurring.NewHandler(recurringService, recurringEngine)

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		SeriesHandler:       seriesHandler,
		InvoiceHandler:      invoiceHandler,
		ProformaHandler:     proformaHandler,
		DeliveryNoteHandler: noteHandler,
		ReceiptHandler:      receiptHandler,
		RecurringHandler:    recurringHandler,
		ConvertHandler:      convertHandler,
		Metrics:             metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
