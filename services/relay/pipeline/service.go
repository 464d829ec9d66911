package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/02loveslollipop/lora-telemetry-relay/services/relay/db"
	"github.com/02loveslollipop/lora-telemetry-relay/services/relay/telemetry"
)

const (
	DefaultHistoryLimit  = 200
	DefaultExportLimit   = 10000
	DefaultStoreTimeout  = 10 * time.Second
	DefaultAppendRetries = 2
	DefaultRetryInterval = 200 * time.Millisecond
)

// Options tunes a Service. Zero values fall back to the defaults above.
type Options struct {
	Schema        telemetry.Schema
	HistoryLimit  int
	ExportLimit   int
	StoreTimeout  time.Duration
	AppendRetries int
	RetryInterval time.Duration
	Logger        *slog.Logger
	Now           func() time.Time
}

// Service runs readings through normalize, validate and store, and serves
// them back for the dashboard and exports.
type Service struct {
	gw         db.Gateway
	normalizer *telemetry.Normalizer
	validator  *telemetry.Validator
	columns    []string

	historyLimit  int
	exportLimit   int
	storeTimeout  time.Duration
	appendRetries int
	retryInterval time.Duration
	log           *slog.Logger
}

// New builds a Service on top of gw.
func New(gw db.Gateway, opts Options) *Service {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.ExportLimit <= 0 {
		opts.ExportLimit = DefaultExportLimit
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	if opts.AppendRetries < 0 {
		opts.AppendRetries = 0
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Service{
		gw:            gw,
		normalizer:    telemetry.NewNormalizer(opts.Schema, opts.Now),
		validator:     telemetry.NewValidator(opts.Schema.Required),
		columns:       append([]string(nil), opts.Schema.Fields...),
		historyLimit:  opts.HistoryLimit,
		exportLimit:   opts.ExportLimit,
		storeTimeout:  opts.StoreTimeout,
		appendRetries: opts.AppendRetries,
		retryInterval: opts.RetryInterval,
		log:           opts.Logger,
	}
}

// Columns returns the sensor fields in export order.
func (s *Service) Columns() []string {
	return append([]string(nil), s.columns...)
}

// HistoryLimit is the default and maximum number of history readings.
func (s *Service) HistoryLimit() int {
	return s.historyLimit
}

// IngestResult describes what happened to one payload.
type IngestResult struct {
	Reading  telemetry.Reading
	Decision telemetry.Decision
}

// Stored reports whether the reading was accepted and persisted.
func (r IngestResult) Stored() bool {
	return r.Decision.Verdict == telemetry.Accepted
}

// Ingest normalizes and validates raw, then appends accepted readings.
// A rejection is not an error; only storage failures are.
func (s *Service) Ingest(ctx context.Context, raw map[string]any) (IngestResult, error) {
	reading := s.normalizer.Normalize(raw)
	decision := s.validator.Validate(reading)
	res := IngestResult{Reading: reading, Decision: decision}

	if decision.Verdict != telemetry.Accepted {
		s.log.Warn("reading rejected",
			slog.String("device_id", reading.DeviceID),
			slog.Any("missing", decision.Missing))
		return res, nil
	}

	if err := s.appendWithRetry(ctx, reading); err != nil {
		s.log.Error("append reading",
			slog.String("device_id", reading.DeviceID),
			slog.Any("error", err))
		return res, err
	}

	s.log.Debug("reading stored",
		slog.String("device_id", reading.DeviceID),
		slog.Int("fields", len(reading.Fields)))
	return res, nil
}

func (s *Service) appendWithRetry(ctx context.Context, r telemetry.Reading) error {
	op := func() error {
		callCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
		defer cancel()

		err := s.gw.Append(callCtx, r)
		if err != nil && !errors.Is(err, db.ErrUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.retryInterval
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(s.appendRetries)), ctx)

	return backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
		s.log.Warn("append failed, retrying",
			slog.Duration("wait", wait),
			slog.Any("error", err))
	})
}

// History returns up to limit readings in ascending timestamp order. limit
// is clamped to [1, HistoryLimit]; zero or negative means HistoryLimit.
// On failure it returns an empty slice with the error.
func (s *Service) History(ctx context.Context, limit int) ([]telemetry.Reading, error) {
	if limit <= 0 || limit > s.historyLimit {
		limit = s.historyLimit
	}

	readings, err := s.recent(ctx, limit)
	if err != nil {
		s.log.Error("query history", slog.Int("limit", limit), slog.Any("error", err))
		return []telemetry.Reading{}, err
	}
	return readings, nil
}

// Export returns readings at or after since, oldest first, scanning at most
// ExportLimit of the newest readings.
func (s *Service) Export(ctx context.Context, since time.Time) ([]telemetry.Reading, error) {
	readings, err := s.recent(ctx, s.exportLimit)
	if err != nil {
		s.log.Error("query export", slog.Any("error", err))
		return nil, err
	}
	if since.IsZero() {
		return readings, nil
	}

	kept := readings[:0]
	for _, r := range readings {
		if !r.Timestamp.Before(since) {
			kept = append(kept, r)
		}
	}
	return kept, nil
}

// Cleanup purges readings strictly older than olderThan, or all readings
// when olderThan is nil.
func (s *Service) Cleanup(ctx context.Context, olderThan *time.Time) (int64, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	removed, err := s.gw.Purge(callCtx, olderThan)
	if err != nil {
		s.log.Error("purge readings", slog.Any("error", err))
		return 0, err
	}

	attrs := []any{slog.Int64("removed", removed)}
	if olderThan != nil {
		attrs = append(attrs, slog.String("older_than", telemetry.FormatTimestamp(*olderThan)))
	}
	s.log.Info("readings purged", attrs...)
	return removed, nil
}

// recent fetches the newest limit readings and flips them to ascending order.
func (s *Service) recent(ctx context.Context, limit int) ([]telemetry.Reading, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	readings, err := s.gw.QueryRecent(callCtx, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(readings)-1; i < j; i, j = i+1, j-1 {
		readings[i], readings[j] = readings[j], readings[i]
	}
	if readings == nil {
		readings = []telemetry.Reading{}
	}
	return readings, nil
}
