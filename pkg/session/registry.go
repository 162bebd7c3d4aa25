package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tinyland-inc/ledbot/pkg/audit"
	"github.com/tinyland-inc/ledbot/pkg/dispatch"
	"github.com/tinyland-inc/ledbot/pkg/logger"
	"github.com/tinyland-inc/ledbot/pkg/model"
	"github.com/tinyland-inc/ledbot/pkg/store"
	"github.com/tinyland-inc/ledbot/pkg/transport"
)

var (
	// ErrTenantNotFound means no tenant record exists under that ID.
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrTenantExists means a tenant record already exists under that ID.
	ErrTenantExists = errors.New("tenant already exists")
	// ErrNotRunning means the tenant has no live session.
	ErrNotRunning = errors.New("session not running")
)

// Registry owns every live session in the process. Lifecycle calls for
// the same tenant are serialized on a per-tenant slot, so Start, Stop
// and Redeploy can race from multiple callers without ever producing
// two connections for one tenant. Distinct tenants never block each
// other.
type Registry struct {
	dialer   transport.Dialer
	store    store.Store
	pipeline *dispatch.Pipeline
	audit    *audit.Logger
	backoff  Backoff

	// defaultCommands seeds the enabled set of newly created tenants.
	defaultCommands []string

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	slots map[string]*slot
}

// slot holds the per-tenant serialization point. sup is nil when the
// tenant is not running. retries counts consecutive failed reconnects
// and resets on every deliberate Start. stopRequested tells a pending
// delayed reconnect to abandon itself.
type slot struct {
	mu            sync.Mutex
	sup           *Supervisor
	retries       int
	stopRequested bool
}

// NewRegistry builds a registry. Shutdown must be called to release
// the sessions it starts.
func NewRegistry(dialer transport.Dialer, st store.Store, pipe *dispatch.Pipeline, auditLog *audit.Logger, backoff Backoff, defaultCommands []string) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		dialer:          dialer,
		store:           st,
		pipeline:        pipe,
		audit:           auditLog,
		backoff:         backoff.norm(),
		defaultCommands: defaultCommands,
		ctx:             ctx,
		cancel:          cancel,
		slots:           make(map[string]*slot),
	}
}

func (r *Registry) slot(tenantID string) *slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[tenantID]
	if !ok {
		s = &slot{}
		r.slots[tenantID] = s
	}
	return s
}

// CreateTenant registers a new tenant record with default config. It
// does not start a session.
func (r *Registry) CreateTenant(ctx context.Context, tenantID, userID, phone string) (*model.Bot, error) {
	var existing model.Bot
	err := r.store.Get(ctx, store.CollectionBots, tenantID, &existing)
	if err == nil {
		return nil, fmt.Errorf("%w: %s", ErrTenantExists, tenantID)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("lookup tenant: %w", err)
	}

	cfg := model.DefaultBotConfig()
	cfg.EnabledCommands = append([]string(nil), r.defaultCommands...)

	now := time.Now().UTC()
	bot := &model.Bot{
		ID:          tenantID,
		UserID:      userID,
		PhoneNumber: phone,
		Status:      model.StatusOffline,
		Config:      cfg,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.store.Set(ctx, store.CollectionBots, tenantID, bot); err != nil {
		return nil, fmt.Errorf("persist tenant: %w", err)
	}
	return bot, nil
}

// Start brings a tenant online. Starting an already-running tenant
// stops the old session first, so at most one connection exists.
func (r *Registry) Start(ctx context.Context, tenantID string) error {
	s := r.slot(tenantID)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.retries = 0
	s.stopRequested = false
	return r.startLocked(ctx, s, tenantID)
}

// startLocked dials and installs a supervisor. Caller holds s.mu.
func (r *Registry) startLocked(ctx context.Context, s *slot, tenantID string) error {
	if _, err := r.loadBot(ctx, tenantID); err != nil {
		return err
	}

	if s.sup != nil {
		s.sup.stop(ctx)
		s.sup = nil
	}

	r.setStatus(ctx, tenantID, model.StatusConnecting, false)

	conn, err := r.dialer.Dial(ctx, tenantID)
	if err != nil {
		r.setStatus(ctx, tenantID, model.StatusError, false)
		return fmt.Errorf("dial session: %w", err)
	}

	var sup *Supervisor
	sup = newSupervisor(tenantID, conn, r.store, r.pipeline, r.audit, func(reason transport.CloseReason) {
		r.handleClose(sup, tenantID, reason)
	})
	sup.start(r.ctx)
	s.sup = sup

	logger.InfoCF("session", "Session started", map[string]any{"tenant": tenantID})
	return nil
}

// Stop takes a tenant offline deliberately. Stopping a stopped tenant
// is a no-op.
func (r *Registry) Stop(ctx context.Context, tenantID string) error {
	s := r.slot(tenantID)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopRequested = true
	if s.sup == nil {
		return nil
	}
	s.sup.stop(ctx)
	s.sup = nil

	r.setStatus(ctx, tenantID, model.StatusOffline, false)
	r.audit.Log(ctx, tenantID, model.LogConnection, "Bot stopped", nil)
	return nil
}

// Redeploy wipes the tenant's transport credentials and starts a fresh
// session, which forces a new pairing round.
func (r *Registry) Redeploy(ctx context.Context, tenantID string) error {
	s := r.slot(tenantID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := r.loadBot(ctx, tenantID); err != nil {
		return err
	}

	if s.sup != nil {
		s.sup.stop(ctx)
		s.sup = nil
	}
	if err := r.dialer.ResetCredentials(ctx, tenantID); err != nil {
		return fmt.Errorf("reset credentials: %w", err)
	}
	r.audit.Log(ctx, tenantID, model.LogConnection, "Bot redeployed", nil)

	s.retries = 0
	s.stopRequested = false
	return r.startLocked(ctx, s, tenantID)
}

// Pair requests a pairing code for a running session.
func (r *Registry) Pair(ctx context.Context, tenantID, phone string) (string, error) {
	s := r.slot(tenantID)
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()

	if sup == nil {
		return "", ErrNotRunning
	}
	return sup.Pair(ctx, phone)
}

// PairingArtifact returns the pending QR payload or pairing code, or
// empty when the tenant is not waiting to pair.
func (r *Registry) PairingArtifact(tenantID string) string {
	s := r.slot(tenantID)
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()

	if sup == nil {
		return ""
	}
	return sup.Artifact()
}

// Status reports the live status if the tenant is running, else the
// persisted one.
func (r *Registry) Status(ctx context.Context, tenantID string) (model.Status, error) {
	s := r.slot(tenantID)
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()

	if sup != nil {
		return sup.Status(), nil
	}
	bot, err := r.loadBot(ctx, tenantID)
	if err != nil {
		return "", err
	}
	return bot.Status, nil
}

// Bot returns the tenant record with its status made live when a
// session is running.
func (r *Registry) Bot(ctx context.Context, tenantID string) (*model.Bot, error) {
	bot, err := r.loadBot(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	s := r.slot(tenantID)
	s.mu.Lock()
	if s.sup != nil {
		bot.Status = s.sup.Status()
	}
	s.mu.Unlock()
	return bot, nil
}

// Bots lists every tenant record, statuses made live where sessions run.
func (r *Registry) Bots(ctx context.Context) ([]*model.Bot, error) {
	docs, err := r.store.Query(ctx, store.CollectionBots, "", 0)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	bots := make([]*model.Bot, 0, len(docs))
	for _, doc := range docs {
		var bot model.Bot
		if err := doc.Decode(&bot); err != nil {
			logger.WarnCF("session", "Skipping undecodable tenant record", map[string]any{
				"key":   doc.Key,
				"error": err.Error(),
			})
			continue
		}
		s := r.slot(bot.ID)
		s.mu.Lock()
		if s.sup != nil {
			bot.Status = s.sup.Status()
		}
		s.mu.Unlock()
		bots = append(bots, &bot)
	}
	return bots, nil
}

// UpdateConfig merges a JSON patch into the tenant's config and
// persists it. Running sessions pick the change up on their next
// message because the pipeline reads the stored record per message.
func (r *Registry) UpdateConfig(ctx context.Context, tenantID string, patch json.RawMessage) (*model.Bot, error) {
	bot, err := r.loadBot(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(patch, &bot.Config); err != nil {
		return nil, fmt.Errorf("decode config patch: %w", err)
	}
	bot.UpdatedAt = time.Now().UTC()
	if err := r.store.Set(ctx, store.CollectionBots, tenantID, bot); err != nil {
		return nil, fmt.Errorf("persist config: %w", err)
	}
	return bot, nil
}

// Shutdown stops every running session and the registry itself.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.slots))
	for id := range r.slots {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := r.Stop(ctx, id); err != nil {
				logger.WarnCF("session", "Stop during shutdown failed", map[string]any{
					"tenant": id,
					"error":  err.Error(),
				})
			}
		}(id)
	}
	wg.Wait()
	r.cancel()
}

// handleClose runs after an unexpected connection close. Terminal
// reasons park the tenant offline; anything else schedules a delayed
// reconnect unless the retry budget is spent. A close belonging to a
// superseded session is ignored.
func (r *Registry) handleClose(sup *Supervisor, tenantID string, reason transport.CloseReason) {
	s := r.slot(tenantID)
	s.mu.Lock()
	if s.sup != sup {
		s.mu.Unlock()
		return
	}
	s.sup = nil

	if reason.Terminal() {
		s.mu.Unlock()
		r.setStatus(r.ctx, tenantID, model.StatusOffline, false)
		r.audit.Log(r.ctx, tenantID, model.LogConnection, "Bot logged out", nil)
		return
	}

	if s.stopRequested {
		s.mu.Unlock()
		return
	}

	s.retries++
	attempt := s.retries
	s.mu.Unlock()

	if attempt > r.backoff.MaxRetries {
		logger.ErrorCF("session", "Reconnect retries exhausted", map[string]any{
			"tenant":  tenantID,
			"retries": attempt - 1,
		})
		r.setStatus(r.ctx, tenantID, model.StatusError, false)
		r.audit.Log(r.ctx, tenantID, model.LogError, "Reconnect retries exhausted", nil)
		return
	}

	delay := r.backoff.Delay(attempt)
	logger.InfoCF("session", "Scheduling reconnect", map[string]any{
		"tenant":  tenantID,
		"attempt": attempt,
		"delay":   delay.String(),
	})

	go func() {
		select {
		case <-r.ctx.Done():
			return
		case <-time.After(delay):
		}

		s.mu.Lock()
		if s.stopRequested || s.sup != nil {
			s.mu.Unlock()
			return
		}
		err := r.startLocked(r.ctx, s, tenantID)
		s.mu.Unlock()
		if err != nil {
			logger.ErrorCF("session", "Reconnect failed", map[string]any{
				"tenant":  tenantID,
				"attempt": attempt,
				"error":   err.Error(),
			})
			// The dial never produced a connection, so no close event
			// will arrive; drive the next attempt directly.
			r.handleClose(nil, tenantID, transport.CloseNetwork)
		}
	}()
}

func (r *Registry) loadBot(ctx context.Context, tenantID string) (*model.Bot, error) {
	var bot model.Bot
	if err := r.store.Get(ctx, store.CollectionBots, tenantID, &bot); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
		}
		return nil, fmt.Errorf("load tenant: %w", err)
	}
	return &bot, nil
}

func (r *Registry) setStatus(ctx context.Context, tenantID string, status model.Status, connected bool) {
	bot, err := r.loadBot(ctx, tenantID)
	if err != nil {
		return
	}
	bot.Status = status
	bot.UpdatedAt = time.Now().UTC()
	if connected {
		now := time.Now().UTC()
		bot.LastConnected = &now
	}
	if err := r.store.Set(ctx, store.CollectionBots, tenantID, bot); err != nil {
		logger.ErrorCF("session", "Status persist failed", map[string]any{
			"tenant": tenantID,
			"error":  err.Error(),
		})
	}
}
