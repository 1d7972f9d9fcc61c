package storage

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/SudeepMi/decentralized-api-usage-tracker/internal/models"
)

// InsertKey persists a freshly issued API key record
func (s *Store) InsertKey(ctx context.Context, rec *models.ApiKeyRecord) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if _, err := s.keys.InsertOne(ctx, rec); err != nil {
		return errors.Wrap(err, "insert api key")
	}
	return nil
}

// FindActiveKey looks up an API key that exists and is active. Unknown
// and deactivated keys both return ErrNotFound; callers cannot tell the
// two apart.
func (s *Store) FindActiveKey(ctx context.Context, key string) (*models.ApiKeyRecord, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var rec models.ApiKeyRecord
	err := s.keys.FindOne(ctx, bson.M{"key": key, "active": true}).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find api key")
	}
	return &rec, nil
}
