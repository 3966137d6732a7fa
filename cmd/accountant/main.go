package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"accountant/internal/amqp"
	"accountant/internal/backend"
	"accountant/internal/cache"
	"accountant/internal/config"
	"accountant/internal/core"
	apphttp "accountant/internal/http"
	"accountant/internal/intent"
	"accountant/internal/ledger"
	applog "accountant/internal/log"
	"accountant/internal/rates"
	"accountant/internal/report"
	"accountant/internal/scheduler"
	gsheet "accountant/internal/sheets/google"
	"accountant/internal/telegram"
	"accountant/internal/worker"
)

// queueSink publishes events instead of handling them in the request path.
type queueSink struct{ client *amqp.Client }

func (q queueSink) HandleEvent(ctx context.Context, ev core.ChannelEvent) error {
	return q.client.PublishEvent(ctx, ev)
}

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	cfg := config.Load()

	logger := applog.New(applog.Config{
		Level:     applog.ParseLevel(cfg.LogLevel),
		Component: applog.ComponentApp,
		Format:    cfg.LogFormat,
		Output:    os.Stdout,
	})
	applog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}
	loc, _ := cfg.Location()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", applog.FieldError, err)
		os.Exit(1)
	}
	store, err := backend.NewFactory(logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", applog.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	if store.Cleanup != nil {
		defer func() {
			if err := store.Cleanup(); err != nil {
				logger.Error("Backend cleanup failed", applog.FieldError, err)
			}
		}()
	}

	// Rates
	rateCache := rates.New(rates.Config{
		HomeCurrency: cfg.HomeCurrency,
		PrimaryURL:   cfg.RatesPrimaryURL,
		FallbackURL:  cfg.RatesFallbackURL,
		TTL:          cfg.RateCacheTTL,
		Logger:       logger,
	})
	caches := cache.NewManager(logger.Logger)
	caches.Register("rates", rateCache.Store())
	caches.Start(10 * time.Minute)
	defer caches.Stop()

	// Chat
	bot, err := telegram.New(cfg.TelegramToken, cfg.TelegramChannelID, logger)
	if err != nil {
		logger.Error("Failed to initialize Telegram client", applog.FieldError, err)
		os.Exit(1)
	}

	parser := intent.New(cfg.HomeCurrency)
	engine := ledger.New(store.Backend, rateCache, parser, bot,
		ledger.WithLocation(loc),
		ledger.WithLogger(logger))
	reports := report.New(store.Backend, cfg.HomeCurrency, report.WithLocation(loc))
	events := worker.NewEventWorker(engine, reports, parser, bot, logger)

	checks := []apphttp.ReadinessCheck{{Name: "storage", Pinger: store.Backend}}

	// Ingress goes straight to the worker, or through the queue when configured.
	var sink apphttp.EventSink = events
	var background sync.WaitGroup
	if cfg.QueueEnabled() {
		queue, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", applog.FieldError, err)
			os.Exit(1)
		}
		defer queue.Close()
		sink = queueSink{client: queue}
		checks = append(checks, apphttp.ReadinessCheck{Name: "amqp", Pinger: queue})

		background.Add(1)
		go func() {
			defer background.Done()
			if err := queue.ConsumeEvents(ctx, events.HandleEvent); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Event consumption stopped", applog.FieldError, err)
				cancel()
			}
		}()
		logger.Info("Event queue enabled", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	}

	// Scheduled reports, mirrored to Sheets when configured.
	var publisher scheduler.Publisher
	if cfg.SheetsEnabled() {
		sheets, err := gsheet.New(ctx, gsheet.Config{
			SpreadsheetID: cfg.GoogleSpreadsheetID,
			SheetName:     cfg.GoogleSheetName,
			Home:          cfg.HomeCurrency,
		}, logger)
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", applog.FieldError, err)
			os.Exit(1)
		}
		publisher = sheets
		logger.Info("Google Sheets mirror enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	}
	jobs, err := scheduler.New(scheduler.Config{
		Location:       loc,
		Reminder:       cfg.ReminderSchedule,
		DailySummary:   cfg.DailySummarySchedule,
		MonthlySummary: cfg.MonthlySummarySchedule,
	}, reports, bot, publisher, logger)
	if err != nil {
		logger.Error("Failed to schedule jobs", applog.FieldError, err)
		os.Exit(1)
	}
	jobs.Start()

	// HTTP
	opts := apphttp.Options{Checks: checks, Logger: logger}
	if cfg.WebhookMode() {
		opts.WebhookPath = cfg.WebhookPath()
		opts.Decoder = bot
		opts.Sink = sink
		if err := bot.SetWebhook(strings.TrimSuffix(cfg.WebhookURL, "/") + cfg.WebhookPath()); err != nil {
			logger.Error("Failed to register webhook", applog.FieldError, err)
			os.Exit(1)
		}
	} else {
		background.Add(1)
		go func() {
			defer background.Done()
			if err := bot.Poll(ctx, sink.HandleEvent); err != nil {
				logger.Error("Polling stopped", applog.FieldError, err)
				cancel()
			}
		}()
	}

	srv := apphttp.NewServer(":"+cfg.Port, opts)
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 45 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	go func() {
		logger.Info("Starting accountant",
			"port", cfg.Port,
			"backend", cfg.DataBackend,
			"webhook", cfg.WebhookMode(),
			"queue", cfg.QueueEnabled(),
			"home_currency", cfg.HomeCurrency,
			"timezone", cfg.Timezone)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", applog.FieldError, err, "port", cfg.Port)
			cancel()
		}
	}()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", applog.FieldError, err)
	}
	jobs.Stop(shutdownCtx)
	cancel()

	done := make(chan struct{})
	go func() {
		background.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("Stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timeout reached")
	}
}
