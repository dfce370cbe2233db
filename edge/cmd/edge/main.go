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

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/storepulse-systems/storepulse/common/logging"
	"github.com/storepulse-systems/storepulse/edge/internal/agent"
	"github.com/storepulse-systems/storepulse/edge/internal/config"
	"github.com/storepulse-systems/storepulse/edge/internal/heartbeat"
	"github.com/storepulse-systems/storepulse/edge/internal/outbox"
	"github.com/storepulse-systems/storepulse/edge/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format).
		With(logging.Service("edge"), logging.StoreID(cfg.Store.ID))
	logging.SetDefault(logger)

	slog.Info("Starting edge agent",
		slog.String("ingest_url", cfg.Ingest.URL),
		slog.Int("cameras", len(cfg.Cameras)),
		slog.Duration("heartbeat_interval", cfg.Heartbeat.Interval),
		slog.Duration("flush_interval", cfg.Outbox.FlushInterval),
	)

	queue, err := outbox.Open(cfg.Outbox.Path, cfg.Outbox.Capacity, logger.Logger)
	if err != nil {
		log.Fatalf("Failed to open outbox: %v", err)
	}
	defer queue.Close()

	workers := make([]heartbeat.CameraWorker, 0, len(cfg.Cameras))
	for _, cam := range cfg.Cameras {
		workers = append(workers, heartbeat.NewFileWorker(cam.ID, cam.LivenessFile, 2*cfg.Heartbeat.Interval))
	}

	scheduler := heartbeat.NewScheduler(queue, workers, heartbeat.Config{
		StoreID:  cfg.Store.ID,
		OrgID:    cfg.Store.OrgID,
		Interval: cfg.Heartbeat.Interval,
	}, logger.Logger)

	flusher := transport.NewFlusher(queue, transport.Config{
		EndpointURL: cfg.Ingest.URL,
		EdgeToken:   cfg.Ingest.EdgeToken,
		Interval:    cfg.Outbox.FlushInterval,
		BatchSize:   cfg.Outbox.BatchSize,
		Timeout:     cfg.Ingest.Timeout,
		MaxAttempts: cfg.Ingest.MaxAttempts,
	}, logger.Logger)

	a := agent.New(queue, scheduler, flusher, logger.Logger)
	a.Start(context.Background())

	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			slog.Info("metrics listener started", slog.String("addr", addr))
			if err := http.ListenAndServe(addr, mux); err != nil {
				slog.Error("metrics listener failed", slog.String("error", err.Error()))
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down edge agent...")
	a.Stop(15 * time.Second)
}
