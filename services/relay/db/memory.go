package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/02loveslollipop/lora-telemetry-relay/services/relay/telemetry"
)

var (
	_ Gateway = (*MemoryStore)(nil)
	_ Counter = (*MemoryStore)(nil)
)

// MemoryStore keeps readings in process memory. It backs local development
// (memory:// URLs) and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	readings []telemetry.Reading
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append stores a copy of r.
func (s *MemoryStore) Append(ctx context.Context, r telemetry.Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings = append(s.readings, cloneReading(r))
	return nil
}

// QueryRecent returns the newest readings first. Readings sharing a
// timestamp come back in reverse insertion order.
func (s *MemoryStore) QueryRecent(ctx context.Context, limit int) ([]telemetry.Reading, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]telemetry.Reading, 0, len(s.readings))
	for i := len(s.readings) - 1; i >= 0; i-- {
		out = append(out, cloneReading(s.readings[i]))
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Purge removes readings strictly older than olderThan, or all of them.
func (s *MemoryStore) Purge(ctx context.Context, olderThan *time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if olderThan == nil {
		removed := int64(len(s.readings))
		s.readings = nil
		return removed, nil
	}

	kept := s.readings[:0]
	var removed int64
	for _, r := range s.readings {
		if r.Timestamp.Before(*olderThan) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	s.readings = kept
	return removed, nil
}

// CountOlderThan counts what Purge would remove.
func (s *MemoryStore) CountOlderThan(ctx context.Context, olderThan *time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if olderThan == nil {
		return int64(len(s.readings)), nil
	}
	var n int64
	for _, r := range s.readings {
		if r.Timestamp.Before(*olderThan) {
			n++
		}
	}
	return n, nil
}

// Len reports the number of stored readings.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.readings)
}

// Close is a no-op.
func (s *MemoryStore) Close() {}

func cloneReading(r telemetry.Reading) telemetry.Reading {
	fields := make(map[string]float64, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	r.Fields = fields
	return r
}
