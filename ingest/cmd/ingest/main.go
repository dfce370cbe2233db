package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/storepulse-systems/storepulse/common/database"
	"github.com/storepulse-systems/storepulse/common/logging"
	"github.com/storepulse-systems/storepulse/ingest/internal/alertclient"
	"github.com/storepulse-systems/storepulse/ingest/internal/auth"
	"github.com/storepulse-systems/storepulse/ingest/internal/bus"
	"github.com/storepulse-systems/storepulse/ingest/internal/config"
	"github.com/storepulse-systems/storepulse/ingest/internal/handlers"
	"github.com/storepulse-systems/storepulse/ingest/internal/liveness"
	"github.com/storepulse-systems/storepulse/ingest/internal/metricstore"
	"github.com/storepulse-systems/storepulse/ingest/internal/notifier"
	"github.com/storepulse-systems/storepulse/ingest/internal/ratelimit"
	"github.com/storepulse-systems/storepulse/ingest/internal/repository"
	"github.com/storepulse-systems/storepulse/ingest/internal/server"
	"github.com/storepulse-systems/storepulse/ingest/internal/service"
	"github.com/storepulse-systems/storepulse/ingest/internal/tick"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format).
		With(logging.Service("ingest"))
	logging.SetDefault(logger)

	slog.Info("Starting ingest gateway",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Logging.Level),
		slog.String("log_format", cfg.Logging.Format),
	)
	if *configPath != "" {
		slog.Info("Loaded configuration", slog.String("config_path", *configPath))
	}

	// Run database migrations
	log.Println("Running database migrations...")
	m, err := migrate.New(cfg.Database.MigrationsPath, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to initialize migrations: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Database migrations completed")

	// Initialize repository
	repo, err := repository.NewPostgresRepository(context.Background(), cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer repo.Close()

	// Initialize authentication
	if cfg.Auth.EdgeToken == "" {
		log.Println("WARNING: auth.edge_token is empty, edge agents cannot authenticate")
	}
	authn := auth.NewAuthenticator(cfg.Auth.EdgeToken, cfg.Auth.JWTSecret)

	// Initialize liveness classification
	classifier := liveness.NewClassifier(liveness.Thresholds{
		Online:   cfg.Liveness.OnlineThreshold,
		Degraded: cfg.Liveness.DegradedThreshold,
	})

	// Initialize the notification channel
	var channel notifier.Channel
	if cfg.Notification.WebhookURL != "" {
		channel = notifier.NewWebhookChannel(cfg.Notification.WebhookURL, cfg.Notification.WebhookTimeout)
		log.Printf("Transition notifications delivered via webhook: %s", cfg.Notification.WebhookURL)
	} else {
		channel = notifier.NewLogChannel(logger.Logger)
		log.Println("No webhook configured, transition notifications go to the log")
	}

	cooldowns := notifier.Cooldowns{
		Online:   0,
		Degraded: cfg.Notification.DegradedCooldown,
		Offline:  cfg.Notification.OfflineCooldown,
	}
	notif := notifier.New(repo, channel, cooldowns, logger.Logger)

	// Initialize rate limiter
	var rateLimiter ratelimit.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter, err := ratelimit.NewRedisRateLimiter(
			cfg.RateLimit.RedisURL,
			cfg.RateLimit.Requests,
			cfg.RateLimit.Window,
			false,
		)
		if err != nil {
			log.Printf("WARNING: Failed to initialize Redis rate limiter: %v", err)
			log.Println("Continuing without rate limiting")
			rateLimiter = &ratelimit.NoOpRateLimiter{}
		} else {
			rateLimiter = limiter
			log.Printf("Rate limiting enabled: %d events per %s per store", cfg.RateLimit.Requests, cfg.RateLimit.Window)
		}
	} else {
		rateLimiter = &ratelimit.NoOpRateLimiter{}
		log.Println("Rate limiting disabled in configuration")
	}
	defer rateLimiter.Close()

	// Initialize alert forwarding
	var alerts alertclient.Forwarder
	if cfg.AlertService.URL != "" {
		alerts = alertclient.New(cfg.AlertService.URL, cfg.AlertService.Token, cfg.AlertService.Timeout)
		log.Printf("Alert forwarding enabled: %s", cfg.AlertService.URL)
	} else {
		log.Println("No alert service configured, alerts are stored but not forwarded")
	}

	// Initialize metric storage
	var metricSink metricstore.Sink
	if cfg.MetricStore.Enabled {
		client, err := metricstore.NewClient(metricstore.Config{
			URL:           cfg.MetricStore.URL,
			Username:      cfg.MetricStore.Username,
			Password:      cfg.MetricStore.Password,
			TLSSkipVerify: cfg.MetricStore.TLSSkipVerify,
			IndexPrefix:   cfg.MetricStore.IndexPrefix,
		})
		if err != nil {
			log.Fatalf("Failed to create OpenSearch client: %v", err)
		}
		metricSink = client
		log.Printf("Metric buckets indexed to OpenSearch: %s", cfg.MetricStore.URL)
	} else {
		metricSink = metricstore.NoOpSink{}
		log.Println("Metric storage disabled, metric buckets are ledgered only")
	}

	// Initialize the event bus
	var publisher bus.Publisher
	if cfg.Bus.Enabled {
		busCfg := bus.DefaultConfig()
		busCfg.URL = cfg.Bus.URL
		p, err := bus.NewNATSPublisher(busCfg)
		if err != nil {
			log.Printf("WARNING: Failed to connect to NATS: %v", err)
			log.Println("Continuing without event fan-out")
			publisher = bus.NoOpPublisher{}
		} else {
			publisher = p
			log.Printf("Event fan-out to NATS enabled: %s", cfg.Bus.URL)
		}
	} else {
		publisher = bus.NoOpPublisher{}
		log.Println("Event bus disabled in configuration")
	}
	defer publisher.Close()

	// Initialize the ingestion gateway
	gateway := service.NewGateway(repo, authn, classifier, notif, alerts, metricSink, publisher, logger.Logger)

	// Initialize the periodic liveness sweep
	ticker := tick.NewDriver(repo, classifier, notif, logger.Logger)

	tickCtx, tickCancel := context.WithCancel(context.Background())
	defer tickCancel()
	go runTickLoop(tickCtx, ticker, cfg.Liveness.TickInterval)

	// Initialize HTTP handlers
	handler := handlers.NewEventsHandler(gateway, authn, rateLimiter, ticker, repo, logger.Logger)
	router := server.NewRouter(handler, cfg.Server.CORSAllowedOrigins)

	// Create server with config values
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Ingest gateway listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// runTickLoop sweeps all active stores on a fixed interval so a store
// that stops sending entirely is still reclassified and announced.
func runTickLoop(ctx context.Context, driver *tick.Driver, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			runCtx, cancel := database.TickContext(ctx)
			if _, err := driver.Run(runCtx, ""); err != nil {
				slog.Warn("liveness sweep failed", slog.String("error", err.Error()))
			}
			cancel()
		}
	}
}
