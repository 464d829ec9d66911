package uplink

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/02loveslollipop/lora-telemetry-relay/services/relay/config"
	"github.com/02loveslollipop/lora-telemetry-relay/services/relay/db"
	"github.com/02loveslollipop/lora-telemetry-relay/services/relay/pipeline"
	"github.com/02loveslollipop/lora-telemetry-relay/services/relay/telemetry"
)

type message struct {
	topic   string
	payload []byte
}

func (m message) Duplicate() bool   { return false }
func (m message) Qos() byte         { return 1 }
func (m message) Retained() bool    { return false }
func (m message) Topic() string     { return m.topic }
func (m message) MessageID() uint16 { return 1 }
func (m message) Payload() []byte   { return m.payload }
func (m message) Ack()              {}

type recorder struct {
	mu   sync.Mutex
	seen []map[string]any
}

func (r *recorder) Ingest(_ context.Context, raw map[string]any) (pipeline.IngestResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, raw)
	return pipeline.IngestResult{}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandlerDerivesDeviceFromTopic(t *testing.T) {
	rec := &recorder{}
	s := New(config.MQTT{Topic: "lora/+/up"}, nil, rec, quietLogger())

	h := s.handler(context.Background())
	h(nil, message{topic: "lora/st-4/up", payload: []byte(`{"temp":21.5}`)})
	h(nil, message{topic: "lora/st-4/up", payload: []byte(`{"temp":21.5,"device_id":"own"}`)})

	require.Len(t, rec.seen, 2)
	assert.Equal(t, "st-4", rec.seen[0]["deviceId"])
	assert.Equal(t, json.Number("21.5"), rec.seen[0]["temp"])
	assert.NotContains(t, rec.seen[1], "deviceId")
}

func TestHandlerDropsMalformedPayloads(t *testing.T) {
	rec := &recorder{}
	s := New(config.MQTT{Topic: "lora/#"}, nil, rec, quietLogger())

	h := s.handler(context.Background())
	for _, p := range []string{"", "garbage", "[1]", "null"} {
		h(nil, message{topic: "lora/x", payload: []byte(p)})
	}
	assert.Empty(t, rec.seen)
}

func TestHandlerFeedsPipeline(t *testing.T) {
	store := db.NewMemoryStore()
	svc := pipeline.New(store, pipeline.Options{Schema: telemetry.DefaultSchema(), Logger: quietLogger()})
	s := New(config.MQTT{Topic: "lora/+/up"}, nil, svc, quietLogger())

	h := s.handler(context.Background())
	h(nil, message{topic: "lora/st-2/up", payload: []byte(`{"t_aht":"19.25","rssi":-88}`)})
	h(nil, message{topic: "lora/st-2/up", payload: []byte(`{"rssi":-88}`)})

	got, err := store.QueryRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "st-2", got[0].DeviceID)
	assert.Equal(t, map[string]float64{"temp": 19.25, "rssi": -88}, got[0].Fields)
}

func TestHandlerHonoursSchemaDeviceKeys(t *testing.T) {
	schema := telemetry.DefaultSchema()
	schema.DeviceKeys = []string{"node", "deviceId"}

	store := db.NewMemoryStore()
	svc := pipeline.New(store, pipeline.Options{Schema: schema, Logger: quietLogger()})
	s := New(config.MQTT{Topic: "lora/+/up"}, schema.DeviceKeys, svc, quietLogger())

	h := s.handler(context.Background())
	h(nil, message{topic: "lora/st-5/up", payload: []byte(`{"temp":20,"node":"own-node"}`)})
	h(nil, message{topic: "lora/st-5/up", payload: []byte(`{"temp":21}`)})

	got, err := store.QueryRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "st-5", got[0].DeviceID)
	assert.Equal(t, "own-node", got[1].DeviceID)
}

func TestHandlerKeepsValidFieldsBesideOverflow(t *testing.T) {
	store := db.NewMemoryStore()
	svc := pipeline.New(store, pipeline.Options{Schema: telemetry.DefaultSchema(), Logger: quietLogger()})
	s := New(config.MQTT{Topic: "lora/+/up"}, nil, svc, quietLogger())

	s.handler(context.Background())(nil, message{topic: "lora/st-1/up", payload: []byte(`{"temp":21.5,"rssi":1e999}`)})

	got, err := store.QueryRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, map[string]float64{"temp": 21.5}, got[0].Fields)
}

func TestDeviceFromTopic(t *testing.T) {
	tests := []struct {
		filter, topic, want string
	}{
		{"lora/+/up", "lora/st-1/up", "st-1"},
		{"+/telemetry", "gw7/telemetry", "gw7"},
		{"lora/#", "lora/st-1/up", ""},
		{"lora/up", "lora/up", ""},
		{"lora/+/up", "lora", ""},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, deviceFromTopic(test.filter, test.topic), test.filter+" "+test.topic)
	}
}
