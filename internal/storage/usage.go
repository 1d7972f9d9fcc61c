package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/SudeepMi/decentralized-api-usage-tracker/internal/models"
)

// RecordUsage appends a usage log entry and bumps the per-key counter
// inside one multi-document transaction. Either both writes land or
// neither does.
func (s *Store) RecordUsage(ctx context.Context, entry *models.UsageLogEntry) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	session, err := s.client.StartSession()
	if err != nil {
		return errors.Wrap(err, "start session")
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		if _, err := s.logs.InsertOne(sc, entry); err != nil {
			return nil, errors.Wrap(err, "insert usage log")
		}
		_, err := s.counters.UpdateOne(sc,
			counterFilter(entry.Key),
			counterUpdate(entry.CreatedAt),
			options.Update().SetUpsert(true))
		if err != nil {
			return nil, errors.Wrap(err, "bump usage counter")
		}
		return nil, nil
	})
	return errors.Wrap(err, "record usage")
}

// CounterTotal returns the running request total for a key. A key that
// was never used reports zero, not an error.
func (s *Store) CounterTotal(ctx context.Context, key string) (int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var counter models.UsageCounter
	err := s.counters.FindOne(ctx, counterFilter(key)).Decode(&counter)
	if err == mongo.ErrNoDocuments {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "load usage counter")
	}
	return counter.Total, nil
}

// RecentLogs returns the newest usage log entries for a key, most
// recent first.
func (s *Store) RecentLogs(ctx context.Context, key string, limit int64) ([]models.UsageLogEntry, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit)
	cur, err := s.logs.Find(ctx, bson.M{"key": key}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "query usage logs")
	}

	logs := make([]models.UsageLogEntry, 0, int(limit))
	if err := cur.All(ctx, &logs); err != nil {
		return nil, errors.Wrap(err, "decode usage logs")
	}
	return logs, nil
}

// counterFilter matches the single counter document for a key
func counterFilter(key string) bson.M {
	return bson.M{"key": key}
}

// counterUpdate increments the total and stamps the update time. The
// upsert path inherits the key field from the filter.
func counterUpdate(now time.Time) bson.M {
	return bson.M{
		"$inc": bson.M{"total": 1},
		"$set": bson.M{"updated_at": now},
	}
}
