package db

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/02loveslollipop/lora-telemetry-relay/services/relay/telemetry"
)

var (
	// ErrUnavailable marks failures where the backend could not be reached
	// and nothing was written, so the operation may be retried.
	ErrUnavailable = errors.New("backend unavailable")
	// ErrConstraint marks writes rejected by a backend constraint.
	ErrConstraint = errors.New("constraint violation")
	// ErrSerialization marks readings the backend could not encode or
	// stored records it could not decode.
	ErrSerialization = errors.New("serialization error")
	// ErrInvalidLimit is returned by QueryRecent for non-positive limits.
	ErrInvalidLimit = errors.New("limit must be positive")
	// ErrUnsupportedBackend is returned by Open for unknown URL schemes.
	ErrUnsupportedBackend = errors.New("unsupported backend")
)

// Gateway is the storage capability consumed by the pipeline. Readings are
// append-only: there is no update path. Implementations must be safe for
// concurrent use and must not pin a connection across calls.
type Gateway interface {
	// Append stores one reading as an independent insert.
	Append(ctx context.Context, r telemetry.Reading) error

	// QueryRecent returns up to limit readings, newest first. Ordering is
	// applied by the backend before the limit.
	QueryRecent(ctx context.Context, limit int) ([]telemetry.Reading, error)

	// Purge removes readings strictly older than olderThan, or every
	// reading when olderThan is nil, and reports how many were removed.
	Purge(ctx context.Context, olderThan *time.Time) (int64, error)

	// Close releases backend resources.
	Close()
}

// Counter is implemented by gateways that can count readings without
// removing them. The retention job uses it for dry runs.
type Counter interface {
	// CountOlderThan counts readings strictly older than olderThan, or all
	// readings when olderThan is nil.
	CountOlderThan(ctx context.Context, olderThan *time.Time) (int64, error)
}

// Options selects and parametrizes a backend.
type Options struct {
	// URL picks the backend by scheme: postgres, postgresql, mongodb,
	// mongodb+srv or memory.
	URL string
	// Database is the Mongo database name.
	Database string
	// Collection is the Mongo collection or the Postgres table.
	Collection string
	// Fields are the sensor fields the backend must be able to store.
	Fields []string
}

// Open connects to the backend named by opts.URL and prepares its schema.
func Open(ctx context.Context, opts Options) (Gateway, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	switch u.Scheme {
	case "postgres", "postgresql":
		return NewPostgresStore(ctx, opts.URL, opts.Collection, opts.Fields)
	case "mongodb", "mongodb+srv":
		return NewMongoStore(ctx, opts.URL, opts.Database, opts.Collection)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, u.Scheme)
	}
}
