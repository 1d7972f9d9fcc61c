package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// UsageLogEntry represents one proxied request as recorded in the audit log.
// The raw key is stored for lookups but never serialized back to clients.
type UsageLogEntry struct {
	ID                 primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	RequestID          string             `bson:"request_id" json:"requestId"`
	Key                string             `bson:"key" json:"-"`
	OwnerID            string             `bson:"owner_id" json:"ownerId"`
	Method             string             `bson:"method" json:"method"`
	Endpoint           string             `bson:"endpoint" json:"endpoint"`
	Params             map[string]string  `bson:"params" json:"params"`
	Status             int                `bson:"status" json:"status"`
	RequestFingerprint string             `bson:"request_fingerprint" json:"requestFingerprint"`
	Tag                string             `bson:"tag" json:"tag"`
	CreatedAt          time.Time          `bson:"created_at" json:"createdAt"`
}

// UsageCounter represents the running request total for one API key
type UsageCounter struct {
	Key       string    `bson:"key" json:"key"`
	Total     int64     `bson:"total" json:"total"`
	UpdatedAt time.Time `bson:"updated_at" json:"updatedAt"`
}
