// Package session owns the per-tenant connection lifecycle: pairing,
// reconnect with backoff, terminal logout, and the wiring of inbound
// transport events into the dispatch pipeline. The state machine is
//
//	offline → connecting → {online | pairing_required}
//	online/pairing_required → (close) → connecting (retryable)
//	online/pairing_required → (logged out) → offline (terminal)
//	retries exhausted → error
//
// A tenant has at most one live transport connection at any time; the
// registry enforces that invariant by serializing start/stop/redeploy
// per tenant.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyland-inc/ledbot/pkg/audit"
	"github.com/tinyland-inc/ledbot/pkg/dispatch"
	"github.com/tinyland-inc/ledbot/pkg/logger"
	"github.com/tinyland-inc/ledbot/pkg/model"
	"github.com/tinyland-inc/ledbot/pkg/store"
	"github.com/tinyland-inc/ledbot/pkg/transport"
)

// Supervisor drives one tenant's connection. It is created by the
// Registry and must not be shared; all lifecycle calls go through the
// registry so they stay serialized.
type Supervisor struct {
	tenantID string
	conn     transport.Conn
	store    store.Store
	pipeline *dispatch.Pipeline
	audit    *audit.Logger

	// onClose is invoked exactly once when the connection closes on its
	// own (not through stop); the registry decides whether to reconnect.
	onClose func(reason transport.CloseReason)

	mu       sync.Mutex
	status   model.Status
	artifact string // QR payload or pairing code while pairing_required

	cancel   context.CancelFunc
	done     chan struct{}
	stopping atomic.Bool
}

func newSupervisor(tenantID string, conn transport.Conn, st store.Store, pipe *dispatch.Pipeline, auditLog *audit.Logger, onClose func(transport.CloseReason)) *Supervisor {
	return &Supervisor{
		tenantID: tenantID,
		conn:     conn,
		store:    st,
		pipeline: pipe,
		audit:    auditLog,
		onClose:  onClose,
		status:   model.StatusConnecting,
		done:     make(chan struct{}),
	}
}

// Status returns the current in-memory lifecycle status.
func (s *Supervisor) Status() model.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Artifact returns the pairing artifact, present only while the
// session is waiting to be paired.
func (s *Supervisor) Artifact() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.artifact
}

// Pair requests a numeric pairing code from the transport.
func (s *Supervisor) Pair(ctx context.Context, phone string) (string, error) {
	code, err := s.conn.RequestPairingCode(ctx, phone)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.status = model.StatusPairingRequired
	s.artifact = code
	s.mu.Unlock()
	s.persistStatus(ctx, model.StatusPairingRequired, false)
	return code, nil
}

// start launches the event loop.
func (s *Supervisor) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	go s.run(ctx)
}

// stop tears the connection down deliberately: best-effort logout,
// socket close, and a wait for the event loop to drain. The onClose
// callback is suppressed.
func (s *Supervisor) stop(ctx context.Context) {
	s.stopping.Store(true)

	logoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := s.conn.Logout(logoutCtx); err != nil {
		logger.WarnCF("session", "Logout failed", map[string]any{
			"tenant": s.tenantID,
			"error":  err.Error(),
		})
	}
	cancel()

	s.conn.Close()
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
}

// run processes transport events to completion, one at a time, so a
// tenant's message handling is strictly ordered and non-reentrant.
func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.conn.Events():
			if done := s.handleEvent(ctx, ev); done {
				return
			}
		}
	}
}

// handleEvent returns true when the event loop should exit.
func (s *Supervisor) handleEvent(ctx context.Context, ev transport.Event) bool {
	switch ev.Type {
	case transport.EventQRCode:
		s.mu.Lock()
		s.status = model.StatusPairingRequired
		s.artifact = ev.QR
		s.mu.Unlock()
		s.persistStatus(ctx, model.StatusPairingRequired, false)

	case transport.EventPairingCode:
		s.mu.Lock()
		s.status = model.StatusPairingRequired
		s.artifact = ev.Code
		s.mu.Unlock()
		s.persistStatus(ctx, model.StatusPairingRequired, false)

	case transport.EventConnectionOpened:
		s.mu.Lock()
		s.status = model.StatusOnline
		s.artifact = ""
		s.mu.Unlock()
		s.persistStatus(ctx, model.StatusOnline, true)
		s.audit.Log(ctx, s.tenantID, model.LogConnection, "Bot connected successfully", nil)

	case transport.EventConnectionClosed:
		if s.stopping.Load() {
			return true
		}
		logger.InfoCF("session", "Connection closed", map[string]any{
			"tenant": s.tenantID,
			"reason": string(ev.Reason),
		})
		s.conn.Close()
		if s.onClose != nil {
			// Detached so the registry can serialize close handling on
			// the tenant slot without blocking this event loop's exit.
			go s.onClose(ev.Reason)
		}
		return true

	case transport.EventMessageReceived:
		s.handleMessage(ctx, ev.Message)

	case transport.EventMessageDeleted:
		bot, err := s.loadBot(ctx)
		if err != nil {
			return false
		}
		s.pipeline.HandleDeleted(ctx, s.conn, bot, ev.Message)
	}
	return false
}

func (s *Supervisor) handleMessage(ctx context.Context, msg *transport.Message) {
	if msg == nil {
		return
	}

	bot, err := s.loadBot(ctx)
	if err != nil {
		logger.ErrorCF("session", "Tenant record unavailable", map[string]any{
			"tenant": s.tenantID,
			"error":  err.Error(),
		})
		return
	}

	// Status broadcasts never enter the pipeline; with auto-view-status
	// enabled they are acknowledged as read and dropped.
	if msg.ChatID == transport.StatusBroadcast {
		if bot.Config.AutoViewStatus {
			if err := s.conn.MarkRead(ctx, msg.ChatID, msg.ID); err != nil {
				logger.DebugCF("session", "Status ack failed", map[string]any{
					"tenant": s.tenantID,
					"error":  err.Error(),
				})
			}
		}
		return
	}

	s.pipeline.Handle(ctx, s.conn, bot, msg)
}

func (s *Supervisor) loadBot(ctx context.Context) (*model.Bot, error) {
	var bot model.Bot
	if err := s.store.Get(ctx, store.CollectionBots, s.tenantID, &bot); err != nil {
		return nil, err
	}
	return &bot, nil
}

// persistStatus writes the durable status projection. In-memory state
// is authoritative while the supervisor lives; the store only mirrors it.
func (s *Supervisor) persistStatus(ctx context.Context, status model.Status, connected bool) {
	bot, err := s.loadBot(ctx)
	if err != nil {
		logger.ErrorCF("session", "Status persist failed", map[string]any{
			"tenant": s.tenantID,
			"error":  err.Error(),
		})
		return
	}
	bot.Status = status
	bot.UpdatedAt = time.Now().UTC()
	if connected {
		now := time.Now().UTC()
		bot.LastConnected = &now
	}
	if err := s.store.Set(ctx, store.CollectionBots, s.tenantID, bot); err != nil {
		logger.ErrorCF("session", "Status persist failed", map[string]any{
			"tenant": s.tenantID,
			"error":  err.Error(),
		})
	}
}
