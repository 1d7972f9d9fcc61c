// Package storage implements the MongoDB-backed persistence layer for
// API keys, usage logs and usage counters.
package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	collAPIKeys       = "api_keys"
	collUsageLogs     = "usage_logs"
	collUsageCounters = "usage_counters"
)

// ErrNotFound is returned when a lookup matches no document.
var ErrNotFound = errors.New("storage: not found")

// Options configures the MongoDB connection
type Options struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
	OpTimeout      time.Duration
}

// Store handles persistence of keys, usage logs and counters
type Store struct {
	client    *mongo.Client
	keys      *mongo.Collection
	logs      *mongo.Collection
	counters  *mongo.Collection
	opTimeout time.Duration
}

// Connect establishes the MongoDB connection and verifies it with a ping.
func Connect(ctx context.Context, opts Options) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, errors.Wrap(err, "connect to mongodb")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, errors.Wrap(err, "ping mongodb")
	}

	return newWithDatabase(client.Database(opts.Database), opts.OpTimeout), nil
}

// newWithDatabase wires a store around an established database handle
func newWithDatabase(db *mongo.Database, opTimeout time.Duration) *Store {
	return &Store{
		client:    db.Client(),
		keys:      db.Collection(collAPIKeys),
		logs:      db.Collection(collUsageLogs),
		counters:  db.Collection(collUsageCounters),
		opTimeout: opTimeout,
	}
}

// Close disconnects the underlying client
func (s *Store) Close(ctx context.Context) error {
	return errors.Wrap(s.client.Disconnect(ctx), "disconnect mongodb")
}

// EnsureIndexes creates the unique key indexes and the log sort index.
// Safe to call on every startup.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	unique := options.Index().SetUnique(true)

	if _, err := s.keys.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "key", Value: 1}},
		Options: unique,
	}); err != nil {
		return errors.Wrap(err, "create api_keys index")
	}

	if _, err := s.logs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "key", Value: 1}, {Key: "created_at", Value: -1}},
	}); err != nil {
		return errors.Wrap(err, "create usage_logs index")
	}

	if _, err := s.counters.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "key", Value: 1}},
		Options: unique,
	}); err != nil {
		return errors.Wrap(err, "create usage_counters index")
	}

	return nil
}

// opContext bounds a single storage operation. The parent context still
// applies, so request cancellation wins when it fires first.
func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opTimeout)
}
