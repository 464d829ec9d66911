package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relvacode/iso8601"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/02loveslollipop/lora-telemetry-relay/services/relay/telemetry"
)

var (
	_ Gateway = (*MongoStore)(nil)
	_ Counter = (*MongoStore)(nil)
)

// MongoStore keeps readings as flat documents:
// {timestamp: "<TimeLayout>", deviceId: "...", <field>: <double>, ...}.
// Timestamps are stored as strings so documents written by older relays,
// which used naive ISO-8601 strings, sort alongside new ones.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoStore connects to uri and ensures the timestamp index exists.
func NewMongoStore(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	if database == "" || collection == "" {
		return nil, errors.New("mongo: database and collection are required")
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("%w: mongo ping: %w", ErrUnavailable, err)
	}

	coll := client.Database(database).Collection(collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "timestamp", Value: -1}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, classifyMongo("ensure index", err)
	}

	return &MongoStore{client: client, coll: coll}, nil
}

// Close disconnects the client.
func (s *MongoStore) Close() {
	if s.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.client.Disconnect(ctx)
}

// Append inserts one document.
func (s *MongoStore) Append(ctx context.Context, r telemetry.Reading) error {
	if _, err := s.coll.InsertOne(ctx, encodeReading(r)); err != nil {
		return classifyMongo("append reading", err)
	}
	return nil
}

// QueryRecent sorts by timestamp descending on the server, then limits.
func (s *MongoStore) QueryRecent(ctx context.Context, limit int) ([]telemetry.Reading, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit)).
		SetProjection(bson.D{{Key: "_id", Value: 0}})

	cur, err := s.coll.Find(ctx, recentFilter(), opts)
	if err != nil {
		return nil, classifyMongo("query recent", err)
	}
	defer cur.Close(ctx)

	readings := make([]telemetry.Reading, 0)
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: decode reading: %w", ErrSerialization, err)
		}
		r, err := decodeReading(doc)
		if err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	if err := cur.Err(); err != nil {
		return nil, classifyMongo("query recent", err)
	}
	return readings, nil
}

// Purge issues a single DeleteMany and reports its count.
func (s *MongoStore) Purge(ctx context.Context, olderThan *time.Time) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, purgeFilter(olderThan))
	if err != nil {
		return 0, classifyMongo("purge readings", err)
	}
	return res.DeletedCount, nil
}

// CountOlderThan counts what Purge would remove.
func (s *MongoStore) CountOlderThan(ctx context.Context, olderThan *time.Time) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, purgeFilter(olderThan))
	if err != nil {
		return 0, classifyMongo("count readings", err)
	}
	return n, nil
}

// recentFilter keeps the sort within string timestamps. Mongo orders BSON
// dates after every string, so documents with date timestamps would
// otherwise always come back as the newest.
func recentFilter() bson.D {
	return bson.D{{Key: "timestamp", Value: bson.D{{Key: "$type", Value: "string"}}}}
}

func purgeFilter(olderThan *time.Time) bson.D {
	if olderThan == nil {
		return bson.D{}
	}
	return bson.D{{Key: "timestamp", Value: bson.D{
		{Key: "$lt", Value: telemetry.FormatTimestamp(*olderThan)},
	}}}
}

func encodeReading(r telemetry.Reading) bson.D {
	doc := bson.D{
		{Key: "timestamp", Value: telemetry.FormatTimestamp(r.Timestamp)},
		{Key: "deviceId", Value: r.DeviceID},
	}
	for _, name := range r.FieldNames() {
		doc = append(doc, bson.E{Key: name, Value: r.Fields[name]})
	}
	return doc
}

// decodeReading accepts both current documents and legacy ones, whose
// timestamps may be naive ISO-8601 strings and whose values may be stored
// as integers or nulls. Timestamps must be strings.
func decodeReading(doc bson.M) (telemetry.Reading, error) {
	r := telemetry.Reading{Fields: make(map[string]float64)}

	for key, value := range doc {
		switch key {
		case "_id":
		case "timestamp":
			ts, err := decodeTimestamp(value)
			if err != nil {
				return telemetry.Reading{}, fmt.Errorf("%w: %w", ErrSerialization, err)
			}
			r.Timestamp = ts
		case "deviceId":
			if id, ok := value.(string); ok {
				r.DeviceID = id
			}
		default:
			if f, ok := telemetry.Coerce(value); ok {
				r.Fields[key] = f
			}
		}
	}

	if r.Timestamp.IsZero() {
		return telemetry.Reading{}, fmt.Errorf("%w: document has no timestamp", ErrSerialization)
	}
	return r, nil
}

func decodeTimestamp(value any) (time.Time, error) {
	switch v := value.(type) {
	case string:
		ts, err := iso8601.ParseString(v)
		if err != nil {
			return time.Time{}, fmt.Errorf("timestamp %q: %w", v, err)
		}
		return ts.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("timestamp: unexpected type %T", value)
	}
}

// classifyMongo maps driver failures onto the gateway error kinds. The
// driver already retries reads and writes once, so network errors are not
// reported as retryable.
func classifyMongo(op string, err error) error {
	switch {
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %s: %w", ErrConstraint, op, err)
	case errors.Is(err, mongo.ErrClientDisconnected):
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
