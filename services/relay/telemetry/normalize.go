package telemetry

import (
	"strings"
	"time"
)

// Normalizer maps raw request payloads onto Readings for a fixed schema.
type Normalizer struct {
	schema Schema
	now    func() time.Time
}

// NewNormalizer builds a Normalizer. A nil clock defaults to time.Now.
func NewNormalizer(schema Schema, now func() time.Time) *Normalizer {
	if now == nil {
		now = time.Now
	}
	return &Normalizer{schema: schema, now: now}
}

// Normalize coerces every schema field found in raw and stamps the reading
// with the server clock. Unknown keys are ignored; raw may be nil.
func (n *Normalizer) Normalize(raw map[string]any) Reading {
	reading := Reading{
		Timestamp: n.now().UTC().Truncate(time.Microsecond),
		DeviceID:  n.deviceID(raw),
		Fields:    make(map[string]float64, len(n.schema.Fields)),
	}

	for _, name := range n.schema.Fields {
		if v, ok := n.lookup(raw, name); ok {
			reading.Fields[name] = v
		}
	}
	return reading
}

// lookup tries the canonical key, then each alias, returning the first
// value that coerces.
func (n *Normalizer) lookup(raw map[string]any, name string) (float64, bool) {
	if v, ok := raw[name]; ok {
		if f, ok := Coerce(v); ok {
			return f, true
		}
	}
	for _, alias := range n.schema.Aliases[name] {
		if v, ok := raw[alias]; ok {
			if f, ok := Coerce(v); ok {
				return f, true
			}
		}
	}
	return 0, false
}

func (n *Normalizer) deviceID(raw map[string]any) string {
	for _, key := range n.schema.DeviceKeys {
		if s, ok := raw[key].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	if n.schema.DefaultDeviceID != "" {
		return n.schema.DefaultDeviceID
	}
	return DefaultDeviceID
}
