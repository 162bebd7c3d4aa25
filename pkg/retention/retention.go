// Package retention prunes aged audit log entries and anti-delete
// snapshots on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/tinyland-inc/ledbot/pkg/config"
	"github.com/tinyland-inc/ledbot/pkg/logger"
	"github.com/tinyland-inc/ledbot/pkg/model"
	"github.com/tinyland-inc/ledbot/pkg/store"
)

const defaultCron = "0 3 * * *"

// Start launches the retention scheduler. Returns a cancel func; when
// retention is disabled the cancel is a no-op.
func Start(ctx context.Context, cfg config.RetentionConfig, st store.Store) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.InfoC("retention", "Retention disabled")
		return func() {}, nil
	}

	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = defaultCron
	}
	if !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid retention cron expression: %s", cfg.Cron)
	}

	maxAge := time.Duration(cfg.MaxAge) * 24 * time.Hour
	if cfg.MaxAge <= 0 {
		maxAge = 30 * 24 * time.Hour
	}

	logger.InfoCF("retention", "Retention scheduler started", map[string]any{
		"cron":    cronExpr,
		"max_age": maxAge.String(),
	})

	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, st, cronExpr, maxAge)
	return cancel, nil
}

// runScheduler sleeps until each cron tick and runs a prune pass.
func runScheduler(ctx context.Context, st store.Store, cronExpr string, maxAge time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.ErrorCF("retention", "Next tick computation failed", map[string]any{
				"cron":  cronExpr,
				"error": err.Error(),
			})
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
		}

		if err := RunOnce(ctx, st, maxAge); err != nil {
			logger.ErrorCF("retention", "Prune run failed", map[string]any{
				"error": err.Error(),
			})
		}
	}
}

// RunOnce prunes every log entry and anti-delete snapshot older than
// maxAge. Exported so an admin trigger or test can run a pass directly.
func RunOnce(ctx context.Context, st store.Store, maxAge time.Duration) error {
	cutoff := time.Now().UTC().Add(-maxAge)

	logs, err := pruneLogs(ctx, st, cutoff)
	if err != nil {
		return err
	}
	snaps, err := pruneSnapshots(ctx, st, cutoff)
	if err != nil {
		return err
	}

	logger.InfoCF("retention", "Prune pass complete", map[string]any{
		"logs":      logs,
		"snapshots": snaps,
	})
	return nil
}

func pruneLogs(ctx context.Context, st store.Store, cutoff time.Time) (int, error) {
	docs, err := st.Query(ctx, store.CollectionLogs, "", 0)
	if err != nil {
		return 0, fmt.Errorf("list logs: %w", err)
	}

	pruned := 0
	for _, doc := range docs {
		var entry model.LogEntry
		if err := doc.Decode(&entry); err != nil {
			continue
		}
		if entry.Timestamp.After(cutoff) {
			continue
		}
		if err := st.Delete(ctx, store.CollectionLogs, doc.Key); err != nil {
			return pruned, fmt.Errorf("prune log %s: %w", doc.Key, err)
		}
		pruned++
	}
	return pruned, nil
}

func pruneSnapshots(ctx context.Context, st store.Store, cutoff time.Time) (int, error) {
	docs, err := st.Query(ctx, store.CollectionDeleted, "", 0)
	if err != nil {
		return 0, fmt.Errorf("list snapshots: %w", err)
	}

	pruned := 0
	for _, doc := range docs {
		var snap model.DeletedMessage
		if err := doc.Decode(&snap); err != nil {
			continue
		}
		if snap.Timestamp.After(cutoff) {
			continue
		}
		if err := st.Delete(ctx, store.CollectionDeleted, doc.Key); err != nil {
			return pruned, fmt.Errorf("prune snapshot %s: %w", doc.Key, err)
		}
		pruned++
	}
	return pruned, nil
}
