package telemetry

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// DefaultDeviceID is used when a payload carries no usable device identifier.
const DefaultDeviceID = "lora-station"

var fieldNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

var reservedFieldNames = map[string]struct{}{
	"timestamp": {},
	"deviceid":  {},
	"device_id": {},
	"_id":       {},
	"id":        {},
}

// Schema describes the deployment's sensor payload: which numeric fields are
// recognized, which must be present, and where the device id lives.
type Schema struct {
	// Fields lists the canonical sensor field names, in column order.
	Fields []string `toml:"fields"`
	// Required lists the primary fields a reading needs to be stored.
	Required []string `toml:"required"`
	// Aliases maps a canonical field to alternative payload keys, tried in
	// order after the canonical key.
	Aliases map[string][]string `toml:"aliases"`
	// DeviceKeys are the payload keys searched for the device id.
	DeviceKeys []string `toml:"device_keys"`
	// DefaultDeviceID replaces a missing or empty device id.
	DefaultDeviceID string `toml:"default_device_id"`
}

// DefaultSchema returns the field set of the reference station: a primary
// and secondary temperature, humidity, pressure, battery voltage and
// percentage, RSSI and four auxiliary probes.
func DefaultSchema() Schema {
	return Schema{
		Fields:   []string{"temp", "temp2", "hum", "pres", "batt", "pct", "rssi", "t1", "t2", "t3", "t4"},
		Required: []string{"temp"},
		Aliases: map[string][]string{
			"temp": {"temp1", "t_aht"},
			"hum":  {"h_aht", "humedad", "humidity"},
			"batt": {"voltage"},
			"pct":  {"battery"},
			"pres": {"pressure"},
		},
		DeviceKeys:      []string{"deviceId", "device_id"},
		DefaultDeviceID: DefaultDeviceID,
	}
}

// Validate checks field names and that every required field is a declared
// field. Field names double as column names, so they are restricted to
// lower-case identifiers.
func (s Schema) Validate() error {
	if len(s.Fields) == 0 {
		return errors.New("schema declares no fields")
	}

	seen := make(map[string]struct{}, len(s.Fields))
	for _, name := range s.Fields {
		if !fieldNamePattern.MatchString(name) {
			return fmt.Errorf("invalid field name %q", name)
		}
		if _, reserved := reservedFieldNames[name]; reserved {
			return fmt.Errorf("field name %q is reserved", name)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate field %q", name)
		}
		seen[name] = struct{}{}
	}

	if len(s.Required) == 0 {
		return errors.New("schema requires no fields")
	}
	for _, name := range s.Required {
		if _, ok := seen[name]; !ok {
			return fmt.Errorf("required field %q is not a declared field", name)
		}
	}

	for name := range s.Aliases {
		if _, ok := seen[name]; !ok {
			return fmt.Errorf("alias target %q is not a declared field", name)
		}
	}
	return nil
}

// HasField reports whether name is a declared field.
func (s Schema) HasField(name string) bool {
	for _, f := range s.Fields {
		if f == name {
			return true
		}
	}
	return false
}

// ParseFieldList splits a comma separated env value, dropping blanks.
func ParseFieldList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
