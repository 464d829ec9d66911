package main

import (
	"context"
	"log"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/02loveslollipop/lora-telemetry-relay/services/relay/config"
	"github.com/02loveslollipop/lora-telemetry-relay/services/relay/db"
	httpserver "github.com/02loveslollipop/lora-telemetry-relay/services/relay/http"
	"github.com/02loveslollipop/lora-telemetry-relay/services/relay/pipeline"
	"github.com/02loveslollipop/lora-telemetry-relay/services/relay/uplink"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := config.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("relay stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	openCtx, openCancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	store, err := db.Open(openCtx, db.Options{
		URL:        cfg.DatabaseURL,
		Database:   cfg.DatabaseName,
		Collection: cfg.Collection,
		Fields:     cfg.Schema.Fields,
	})
	openCancel()
	if err != nil {
		return err
	}
	defer store.Close()

	svc := pipeline.New(store, pipeline.Options{
		Schema:        cfg.Schema,
		HistoryLimit:  cfg.HistoryLimit,
		ExportLimit:   cfg.ExportLimit,
		StoreTimeout:  cfg.StoreTimeout,
		AppendRetries: cfg.AppendRetries,
		Logger:        logger,
	})

	if cfg.MQTT.Enabled() {
		sub := uplink.New(cfg.MQTT, cfg.Schema.DeviceKeys, svc, logger)
		go func() {
			if err := sub.Run(ctx); err != nil {
				logger.Error("mqtt uplink stopped", slog.Any("error", err))
			}
		}()
	}

	srv := httpserver.New(cfg, svc, logger)
	logger.Info("relay listening",
		slog.String("addr", cfg.ListenAddr()),
		slog.String("backend", backendName(cfg.DatabaseURL)),
		slog.Any("fields", cfg.Schema.Fields),
		slog.Any("required", cfg.Schema.Required))

	return srv.Run(ctx)
}

// backendName returns the URL scheme only, so credentials never reach logs.
func backendName(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "unknown"
	}
	return u.Scheme
}
