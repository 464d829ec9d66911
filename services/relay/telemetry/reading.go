package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// TimeLayout is the fixed-width ISO-8601 form used for every stored and
// served timestamp. Readings are always UTC, so the layout sorts
// lexicographically in chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// Reading is one normalized sensor observation. Fields holds only the sensor
// values that were present and numeric; a missing key means "absent".
type Reading struct {
	Timestamp time.Time
	DeviceID  string
	Fields    map[string]float64
}

// Value returns the named sensor value and whether it is present.
func (r Reading) Value(name string) (float64, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

// FormatTimestamp renders t in TimeLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// FieldNames returns the present field names in sorted order.
func (r Reading) FieldNames() []string {
	names := make([]string, 0, len(r.Fields))
	for name := range r.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MarshalJSON flattens the reading into a single object:
// {"timestamp": "...", "deviceId": "...", "<field>": <value>, ...}.
// Absent fields are omitted.
func (r Reading) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"timestamp":`)
	ts, _ := json.Marshal(FormatTimestamp(r.Timestamp))
	buf.Write(ts)
	buf.WriteString(`,"deviceId":`)
	id, err := json.Marshal(r.DeviceID)
	if err != nil {
		return nil, err
	}
	buf.Write(id)

	for _, name := range r.FieldNames() {
		key, _ := json.Marshal(name)
		val, err := json.Marshal(r.Fields[name])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		buf.WriteByte(',')
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reverses MarshalJSON. Non-numeric and null field values are
// treated as absent.
func (r *Reading) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	*r = Reading{Fields: map[string]float64{}}
	for key, value := range raw {
		switch key {
		case "timestamp":
			s, ok := value.(string)
			if !ok {
				return fmt.Errorf("timestamp: expected string, got %T", value)
			}
			ts, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return fmt.Errorf("timestamp: %w", err)
			}
			r.Timestamp = ts.UTC()
		case "deviceId":
			if s, ok := value.(string); ok {
				r.DeviceID = s
			}
		default:
			if f, ok := Coerce(value); ok {
				r.Fields[key] = f
			}
		}
	}
	return nil
}
