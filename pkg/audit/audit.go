// Package audit appends activity records to the store. Entries are
// immutable once written; keys sort by time so queries come back in
// chronological order.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tinyland-inc/ledbot/pkg/logger"
	"github.com/tinyland-inc/ledbot/pkg/model"
	"github.com/tinyland-inc/ledbot/pkg/store"
)

// Logger appends audit entries for tenants.
type Logger struct {
	store store.Store
}

func NewLogger(st store.Store) *Logger {
	return &Logger{store: st}
}

// entryKey yields a per-tenant, time-sortable store key.
func entryKey(botID string, ts time.Time, id string) string {
	return fmt.Sprintf("%s/%020d-%s", botID, ts.UnixNano(), id)
}

// Log appends one entry. Persistence failures are logged and swallowed:
// an audit miss must never break the pipeline.
func (l *Logger) Log(ctx context.Context, botID string, typ model.LogType, message string, metadata map[string]any) {
	now := time.Now().UTC()
	entry := model.LogEntry{
		ID:        uuid.New().String(),
		BotID:     botID,
		Type:      typ,
		Message:   message,
		Metadata:  metadata,
		Timestamp: now,
	}
	key := entryKey(botID, now, entry.ID)
	if err := l.store.Set(ctx, store.CollectionLogs, key, entry); err != nil {
		logger.ErrorCF("audit", "Failed to persist audit entry", map[string]any{
			"bot_id": botID,
			"type":   string(typ),
			"error":  err.Error(),
		})
	}
}

// Recent returns up to limit entries for the tenant, newest first.
func (l *Logger) Recent(ctx context.Context, botID string, limit int) ([]model.LogEntry, error) {
	docs, err := l.store.Query(ctx, store.CollectionLogs, botID+"/", 0)
	if err != nil {
		return nil, fmt.Errorf("querying logs for %s: %w", botID, err)
	}

	entries := make([]model.LogEntry, 0, len(docs))
	for i := len(docs) - 1; i >= 0; i-- {
		if limit > 0 && len(entries) >= limit {
			break
		}
		var e model.LogEntry
		if err := docs[i].Decode(&e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
