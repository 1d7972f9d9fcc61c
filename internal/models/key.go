package models

import (
	"time"
)

// ApiKeyRecord represents an issued API key and its owner binding
type ApiKeyRecord struct {
	Key        string    `bson:"key" json:"key"`
	OwnerID    string    `bson:"owner_id" json:"ownerId"`
	Active     bool      `bson:"active" json:"active"`
	CreatedAt  time.Time `bson:"created_at" json:"createdAt"`
	UsageCount int64     `bson:"usage_count" json:"usageCount"`
}

// Mask abbreviates an API key for responses and log lines.
// Only the first 8 characters survive.
func Mask(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:8] + "..."
}
