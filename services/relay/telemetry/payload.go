package telemetry

import (
	"encoding/json"
	"errors"
	"io"
)

// ErrNotObject is returned by DecodePayload when the body is valid JSON but
// not an object.
var ErrNotObject = errors.New("payload is not a JSON object")

// DecodePayload reads one JSON object from r. Numbers are kept as
// json.Number so out-of-range values reach Coerce instead of failing the
// whole payload.
func DecodePayload(r io.Reader) (map[string]any, error) {
	var raw map[string]any
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrNotObject
	}
	return raw, nil
}
