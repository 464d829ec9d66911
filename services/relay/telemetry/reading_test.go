package telemetry

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadingJSONShape(t *testing.T) {
	r := Reading{
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 1000, time.UTC),
		DeviceID:  "st-1",
		Fields:    map[string]float64{"temp": 22.5, "rssi": -60},
	}

	b, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"timestamp":"2025-06-01T12:00:00.000001Z","deviceId":"st-1","rssi":-60,"temp":22.5}`, string(b))
}

func TestReadingJSONRoundTrip(t *testing.T) {
	r := Reading{
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 123456000, time.UTC),
		DeviceID:  "st-1",
		Fields: map[string]float64{
			"temp": 0.1 + 0.2,
			"pres": math.SmallestNonzeroFloat64,
			"batt": math.MaxFloat64,
		},
	}

	b, err := json.Marshal(r)
	require.NoError(t, err)

	var back Reading
	require.NoError(t, json.Unmarshal(b, &back))
	assert.True(t, r.Timestamp.Equal(back.Timestamp))
	assert.Equal(t, r.DeviceID, back.DeviceID)
	require.Len(t, back.Fields, 3)
	for name, v := range r.Fields {
		assert.Equal(t, math.Float64bits(v), math.Float64bits(back.Fields[name]), name)
	}
}

func TestReadingUnmarshalSkipsNulls(t *testing.T) {
	var r Reading
	err := json.Unmarshal([]byte(`{"timestamp":"2025-06-01T12:00:00Z","deviceId":"a","temp":1,"hum":null}`), &r)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"temp": 1}, r.Fields)
}

func TestReadingUnmarshalRejectsBadTimestamp(t *testing.T) {
	var r Reading
	require.Error(t, json.Unmarshal([]byte(`{"timestamp":12}`), &r))
	require.Error(t, json.Unmarshal([]byte(`{"timestamp":"yesterday"}`), &r))
}
