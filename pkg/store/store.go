// Package store defines the document storage capability the platform
// persists through: tenant records, warnings, audit logs, and anti-delete
// snapshots. Values are JSON documents addressed by collection and key.
package store

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotFound is returned by Get when no document exists under the key.
var ErrNotFound = errors.New("store: not found")

// Collection names used across the platform.
const (
	CollectionBots     = "bots"
	CollectionWarnings = "warnings"
	CollectionLogs     = "logs"
	CollectionDeleted  = "deleted_messages"
)

// Document is a raw query result.
type Document struct {
	Key  string
	Data json.RawMessage
}

// Decode unmarshals the document body into out.
func (d Document) Decode(out any) error {
	return json.Unmarshal(d.Data, out)
}

// Store is a document get/set/delete/query capability. Query returns
// documents whose key starts with prefix in ascending key order; a limit
// of 0 means no limit.
type Store interface {
	Get(ctx context.Context, collection, key string, out any) error
	Set(ctx context.Context, collection, key string, v any) error
	Delete(ctx context.Context, collection, key string) error
	Query(ctx context.Context, collection, prefix string, limit int) ([]Document, error)
	Close() error
}
