package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/02loveslollipop/lora-telemetry-relay/services/relay/telemetry"
)

func TestEncodeReading(t *testing.T) {
	r := telemetry.Reading{
		Timestamp: time.Date(2025, 3, 1, 12, 0, 0, 5000, time.UTC),
		DeviceID:  "st-1",
		Fields:    map[string]float64{"temp": 21.5, "batt": 3.7},
	}

	doc := encodeReading(r)
	assert.Equal(t, bson.D{
		{Key: "timestamp", Value: "2025-03-01T12:00:00.000005Z"},
		{Key: "deviceId", Value: "st-1"},
		{Key: "batt", Value: 3.7},
		{Key: "temp", Value: 21.5},
	}, doc)
}

func TestDecodeReadingRoundTrip(t *testing.T) {
	r := telemetry.Reading{
		Timestamp: time.Date(2025, 3, 1, 12, 0, 0, 123456000, time.UTC),
		DeviceID:  "st-1",
		Fields:    map[string]float64{"temp": 0.1 + 0.2},
	}

	raw, err := bson.Marshal(encodeReading(r))
	require.NoError(t, err)
	var doc bson.M
	require.NoError(t, bson.Unmarshal(raw, &doc))

	back, err := decodeReading(doc)
	require.NoError(t, err)
	assert.True(t, r.Timestamp.Equal(back.Timestamp))
	assert.Equal(t, r.DeviceID, back.DeviceID)
	assert.Equal(t, r.Fields, back.Fields)
}

func TestDecodeLegacyDocument(t *testing.T) {
	doc := bson.M{
		"_id":       primitive.NewObjectID(),
		"timestamp": "2024-11-05T14:03:22.104512",
		"temp":      int32(21),
		"hum":       nil,
		"batt":      int64(4),
		"note":      "ignored",
	}

	r, err := decodeReading(doc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 11, 5, 14, 3, 22, 104512000, time.UTC), r.Timestamp)
	assert.Empty(t, r.DeviceID)
	assert.Equal(t, map[string]float64{"temp": 21, "batt": 4}, r.Fields)
}

func TestDecodeRejectsDateTimestamp(t *testing.T) {
	when := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := decodeReading(bson.M{"timestamp": primitive.NewDateTimeFromTime(when)})
	require.ErrorIs(t, err, ErrSerialization)
}

func TestRecentFilterSkipsNonStringTimestamps(t *testing.T) {
	assert.Equal(t, bson.D{{Key: "timestamp", Value: bson.D{
		{Key: "$type", Value: "string"},
	}}}, recentFilter())
}

func TestDecodeRejectsMissingTimestamp(t *testing.T) {
	_, err := decodeReading(bson.M{"temp": 1.0})
	require.ErrorIs(t, err, ErrSerialization)

	_, err = decodeReading(bson.M{"timestamp": "not a time"})
	require.ErrorIs(t, err, ErrSerialization)
}

func TestPurgeFilter(t *testing.T) {
	assert.Equal(t, bson.D{}, purgeFilter(nil))

	cut := time.Date(2025, 3, 1, 0, 0, 0, 0, time.FixedZone("COT", -5*3600))
	assert.Equal(t, bson.D{{Key: "timestamp", Value: bson.D{
		{Key: "$lt", Value: "2025-03-01T05:00:00.000000Z"},
	}}}, purgeFilter(&cut))
}
