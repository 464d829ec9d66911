package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	relayconfig "github.com/02loveslollipop/lora-telemetry-relay/services/relay/config"
	"github.com/02loveslollipop/lora-telemetry-relay/services/relay/db"
	"github.com/02loveslollipop/lora-telemetry-relay/services/relay/telemetry"
	"github.com/02loveslollipop/lora-telemetry-relay/services/retention/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("retention failed: %v", err)
	}

	logger := relayconfig.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err := run(cfg, logger, time.Now()); err != nil {
		log.Fatalf("retention failed: %v", err)
	}
}

func run(cfg config.Config, logger *slog.Logger, now time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.StoreTimeout)
	defer cancel()

	store, err := db.Open(ctx, db.Options{
		URL:        cfg.DatabaseURL,
		Database:   cfg.DatabaseName,
		Collection: cfg.Collection,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	return sweep(ctx, store, cfg, logger, now)
}

// sweep removes readings older than now - MaxAge, or only counts them on a
// dry run.
func sweep(ctx context.Context, store db.Gateway, cfg config.Config, logger *slog.Logger, now time.Time) error {
	cutoff := now.UTC().Truncate(time.Second).Add(-cfg.MaxAge)
	logger = logger.With(
		slog.String("cutoff", telemetry.FormatTimestamp(cutoff)),
		slog.Bool("dry_run", cfg.DryRun),
	)

	if cfg.DryRun {
		counter, ok := store.(db.Counter)
		if !ok {
			logger.Warn("dry-run: backend cannot count readings, nothing done")
			return nil
		}
		n, err := counter.CountOlderThan(ctx, &cutoff)
		if err != nil {
			return err
		}
		logger.Info("dry-run: would remove readings", slog.Int64("count", n))
		return nil
	}

	removed, err := store.Purge(ctx, &cutoff)
	if err != nil {
		return err
	}
	logger.Info("removed readings", slog.Int64("count", removed))
	return nil
}
