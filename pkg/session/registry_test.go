package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tinyland-inc/ledbot/pkg/audit"
	"github.com/tinyland-inc/ledbot/pkg/command"
	"github.com/tinyland-inc/ledbot/pkg/dispatch"
	"github.com/tinyland-inc/ledbot/pkg/model"
	"github.com/tinyland-inc/ledbot/pkg/ratelimit"
	"github.com/tinyland-inc/ledbot/pkg/store"
	"github.com/tinyland-inc/ledbot/pkg/transport"
)

// scriptConn is a transport connection driven by the test via pushed
// events.
type scriptConn struct {
	events chan transport.Event

	mu        sync.Mutex
	loggedOut bool
	closed    bool
	marked    []string
}

func newScriptConn() *scriptConn {
	return &scriptConn{events: make(chan transport.Event, 16)}
}

func (c *scriptConn) push(ev transport.Event) { c.events <- ev }

func (c *scriptConn) Events() <-chan transport.Event { return c.events }
func (c *scriptConn) SelfID() string                 { return "bot@s.whatsapp.net" }

func (c *scriptConn) SendText(_ context.Context, _, _ string, _ ...string) error { return nil }
func (c *scriptConn) React(_ context.Context, _, _, _ string) error              { return nil }

func (c *scriptConn) MarkRead(_ context.Context, chatID, messageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.marked = append(c.marked, chatID+"/"+messageID)
	return nil
}

func (c *scriptConn) DeleteMessage(_ context.Context, _, _ string) error { return nil }
func (c *scriptConn) GroupMetadata(_ context.Context, _ string) (*transport.GroupMetadata, error) {
	return &transport.GroupMetadata{}, nil
}
func (c *scriptConn) UpdateMembership(_ context.Context, _ string, _ []string, _ transport.MembershipOp) error {
	return nil
}
func (c *scriptConn) GroupInviteCode(_ context.Context, _ string) (string, error) { return "", nil }
func (c *scriptConn) RequestPairingCode(_ context.Context, _ string) (string, error) {
	return "ABCD-1234", nil
}

func (c *scriptConn) Logout(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loggedOut = true
	return nil
}

func (c *scriptConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *scriptConn) wasLoggedOut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedOut
}

// scriptDialer hands out a fresh scriptConn per dial.
type scriptDialer struct {
	mu     sync.Mutex
	conns  []*scriptConn
	resets int
	fail   error
}

func (d *scriptDialer) Dial(_ context.Context, _ string) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return nil, d.fail
	}
	c := newScriptConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *scriptDialer) ResetCredentials(_ context.Context, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resets++
	return nil
}

func (d *scriptDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *scriptDialer) conn(i int) *scriptConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func newTestRegistry(t *testing.T) (*Registry, *scriptDialer, *store.MemoryStore) {
	t.Helper()

	st := store.NewMemoryStore()
	dialer := &scriptDialer{}

	reg := command.NewRegistry()
	limiter := ratelimit.New(ratelimit.Config{})
	auditLog := audit.NewLogger(st)
	pipe := dispatch.NewPipeline(reg, limiter, st, auditLog)

	backoff := Backoff{Initial: time.Millisecond, Max: 5 * time.Millisecond, MaxRetries: 3, Jitter: 0}
	r := NewRegistry(dialer, st, pipe, auditLog, backoff, []string{"alive"})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		r.Shutdown(ctx)
	})
	return r, dialer, st
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestRegistry_CreateTenant(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	bot, err := r.CreateTenant(ctx, "t1", "user1", "4915112345678")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if bot.Status != model.StatusOffline {
		t.Errorf("expected offline, got %s", bot.Status)
	}
	if bot.Config.Prefix != "-" {
		t.Errorf("expected default prefix, got %q", bot.Config.Prefix)
	}
	if len(bot.Config.EnabledCommands) != 1 || bot.Config.EnabledCommands[0] != "alive" {
		t.Errorf("expected seeded enabled set, got %v", bot.Config.EnabledCommands)
	}

	if _, err := r.CreateTenant(ctx, "t1", "user1", ""); !errors.Is(err, ErrTenantExists) {
		t.Errorf("duplicate create: expected ErrTenantExists, got %v", err)
	}
}

func TestRegistry_StartUnknownTenant(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	if err := r.Start(context.Background(), "ghost"); !errors.Is(err, ErrTenantNotFound) {
		t.Fatalf("expected ErrTenantNotFound, got %v", err)
	}
}

func TestRegistry_StartToOnline(t *testing.T) {
	r, dialer, _ := newTestRegistry(t)
	ctx := context.Background()

	if _, err := r.CreateTenant(ctx, "t1", "u", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := r.Start(ctx, "t1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := dialer.dialCount(); got != 1 {
		t.Fatalf("expected 1 dial, got %d", got)
	}

	status, _ := r.Status(ctx, "t1")
	if status != model.StatusConnecting {
		t.Errorf("expected connecting, got %s", status)
	}

	dialer.conn(0).push(transport.Event{Type: transport.EventConnectionOpened})
	waitFor(t, time.Second, func() bool {
		s, _ := r.Status(ctx, "t1")
		return s == model.StatusOnline
	}, "online status")

	bot, err := r.Bot(ctx, "t1")
	if err != nil {
		t.Fatalf("bot: %v", err)
	}
	if bot.LastConnected == nil {
		t.Error("expected last_connected to be set")
	}
}

func TestRegistry_StartTwiceKeepsOneConnection(t *testing.T) {
	r, dialer, _ := newTestRegistry(t)
	ctx := context.Background()

	r.CreateTenant(ctx, "t1", "u", "")
	if err := r.Start(ctx, "t1"); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := r.Start(ctx, "t1"); err != nil {
		t.Fatalf("second start: %v", err)
	}

	if got := dialer.dialCount(); got != 2 {
		t.Fatalf("expected 2 dials, got %d", got)
	}
	if !dialer.conn(0).wasLoggedOut() {
		t.Error("first connection should have been logged out")
	}
}

func TestRegistry_PairRequiresRunningSession(t *testing.T) {
	r, dialer, _ := newTestRegistry(t)
	ctx := context.Background()

	r.CreateTenant(ctx, "t1", "u", "")
	if _, err := r.Pair(ctx, "t1", "4915112345678"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}

	r.Start(ctx, "t1")
	code, err := r.Pair(ctx, "t1", "4915112345678")
	if err != nil {
		t.Fatalf("pair: %v", err)
	}
	if code != "ABCD-1234" {
		t.Errorf("unexpected code %q", code)
	}
	if got := r.PairingArtifact("t1"); got != "ABCD-1234" {
		t.Errorf("expected pending artifact, got %q", got)
	}
	_ = dialer
}

func TestRegistry_QRCodeMarksPairingRequired(t *testing.T) {
	r, dialer, _ := newTestRegistry(t)
	ctx := context.Background()

	r.CreateTenant(ctx, "t1", "u", "")
	r.Start(ctx, "t1")

	dialer.conn(0).push(transport.Event{Type: transport.EventQRCode, QR: "qr-payload"})
	waitFor(t, time.Second, func() bool {
		s, _ := r.Status(ctx, "t1")
		return s == model.StatusPairingRequired
	}, "pairing_required status")

	if got := r.PairingArtifact("t1"); got != "qr-payload" {
		t.Errorf("expected qr artifact, got %q", got)
	}

	// Opening clears the artifact.
	dialer.conn(0).push(transport.Event{Type: transport.EventConnectionOpened})
	waitFor(t, time.Second, func() bool {
		return r.PairingArtifact("t1") == ""
	}, "artifact cleared")
}

func TestRegistry_TerminalCloseGoesOffline(t *testing.T) {
	r, dialer, _ := newTestRegistry(t)
	ctx := context.Background()

	r.CreateTenant(ctx, "t1", "u", "")
	r.Start(ctx, "t1")
	dialer.conn(0).push(transport.Event{Type: transport.EventConnectionOpened})
	waitFor(t, time.Second, func() bool {
		s, _ := r.Status(ctx, "t1")
		return s == model.StatusOnline
	}, "online status")

	dialer.conn(0).push(transport.Event{
		Type:   transport.EventConnectionClosed,
		Reason: transport.CloseLoggedOut,
	})
	waitFor(t, time.Second, func() bool {
		s, _ := r.Status(ctx, "t1")
		return s == model.StatusOffline
	}, "offline status")

	// Terminal closes never reconnect.
	time.Sleep(20 * time.Millisecond)
	if got := dialer.dialCount(); got != 1 {
		t.Errorf("expected no reconnect, got %d dials", got)
	}
}

func TestRegistry_NetworkCloseReconnects(t *testing.T) {
	r, dialer, _ := newTestRegistry(t)
	ctx := context.Background()

	r.CreateTenant(ctx, "t1", "u", "")
	r.Start(ctx, "t1")
	dialer.conn(0).push(transport.Event{Type: transport.EventConnectionOpened})
	waitFor(t, time.Second, func() bool {
		s, _ := r.Status(ctx, "t1")
		return s == model.StatusOnline
	}, "online status")

	dialer.conn(0).push(transport.Event{
		Type:   transport.EventConnectionClosed,
		Reason: transport.CloseNetwork,
	})
	waitFor(t, time.Second, func() bool {
		return dialer.dialCount() == 2
	}, "reconnect dial")

	dialer.conn(1).push(transport.Event{Type: transport.EventConnectionOpened})
	waitFor(t, time.Second, func() bool {
		s, _ := r.Status(ctx, "t1")
		return s == model.StatusOnline
	}, "online after reconnect")
}

func TestRegistry_StopPreventsReconnect(t *testing.T) {
	r, dialer, _ := newTestRegistry(t)
	ctx := context.Background()

	r.CreateTenant(ctx, "t1", "u", "")
	r.Start(ctx, "t1")
	if err := r.Stop(ctx, "t1"); err != nil {
		t.Fatalf("stop: %v", err)
	}

	status, _ := r.Status(ctx, "t1")
	if status != model.StatusOffline {
		t.Errorf("expected offline, got %s", status)
	}
	if !dialer.conn(0).wasLoggedOut() {
		t.Error("stop should log the connection out")
	}

	time.Sleep(20 * time.Millisecond)
	if got := dialer.dialCount(); got != 1 {
		t.Errorf("expected no reconnect after stop, got %d dials", got)
	}

	// Stopping a stopped tenant is a no-op.
	if err := r.Stop(ctx, "t1"); err != nil {
		t.Errorf("second stop: %v", err)
	}
}

func TestRegistry_RetriesExhaustedParksInError(t *testing.T) {
	r, dialer, _ := newTestRegistry(t)
	ctx := context.Background()

	r.CreateTenant(ctx, "t1", "u", "")
	r.Start(ctx, "t1")

	dialer.mu.Lock()
	dialer.fail = errors.New("bridge unreachable")
	dialer.mu.Unlock()

	dialer.conn(0).push(transport.Event{
		Type:   transport.EventConnectionClosed,
		Reason: transport.CloseNetwork,
	})

	waitFor(t, 2*time.Second, func() bool {
		s, _ := r.Status(ctx, "t1")
		return s == model.StatusError
	}, "error status after exhausted retries")
}

func TestRegistry_RedeployResetsCredentials(t *testing.T) {
	r, dialer, _ := newTestRegistry(t)
	ctx := context.Background()

	r.CreateTenant(ctx, "t1", "u", "")
	r.Start(ctx, "t1")

	if err := r.Redeploy(ctx, "t1"); err != nil {
		t.Fatalf("redeploy: %v", err)
	}

	dialer.mu.Lock()
	resets := dialer.resets
	dialer.mu.Unlock()
	if resets != 1 {
		t.Errorf("expected 1 credential reset, got %d", resets)
	}
	if got := dialer.dialCount(); got != 2 {
		t.Errorf("expected fresh dial after redeploy, got %d", got)
	}
	if !dialer.conn(0).wasLoggedOut() {
		t.Error("old connection should have been logged out")
	}
}

func TestRegistry_DistinctTenantsIndependent(t *testing.T) {
	r, dialer, _ := newTestRegistry(t)
	ctx := context.Background()

	r.CreateTenant(ctx, "t1", "u", "")
	r.CreateTenant(ctx, "t2", "u", "")
	r.Start(ctx, "t1")
	r.Start(ctx, "t2")

	dialer.conn(0).push(transport.Event{Type: transport.EventConnectionOpened})
	dialer.conn(1).push(transport.Event{
		Type:   transport.EventConnectionClosed,
		Reason: transport.CloseLoggedOut,
	})

	waitFor(t, time.Second, func() bool {
		s1, _ := r.Status(ctx, "t1")
		s2, _ := r.Status(ctx, "t2")
		return s1 == model.StatusOnline && s2 == model.StatusOffline
	}, "independent tenant states")
}

func TestRegistry_UpdateConfigPatchMerges(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	r.CreateTenant(ctx, "t1", "u", "")

	bot, err := r.UpdateConfig(ctx, "t1", json.RawMessage(`{"prefix":"!","anti_delete":true}`))
	if err != nil {
		t.Fatalf("update config: %v", err)
	}
	if bot.Config.Prefix != "!" {
		t.Errorf("expected prefix !, got %q", bot.Config.Prefix)
	}
	if !bot.Config.AntiDelete {
		t.Error("expected anti_delete enabled")
	}
	// Untouched fields survive the patch.
	if bot.Config.StickerAuthor != "LED Bot" {
		t.Errorf("expected sticker author preserved, got %q", bot.Config.StickerAuthor)
	}
	if len(bot.Config.EnabledCommands) != 1 {
		t.Errorf("expected enabled set preserved, got %v", bot.Config.EnabledCommands)
	}
}

func TestRegistry_AutoViewStatusAcknowledged(t *testing.T) {
	r, dialer, st := newTestRegistry(t)
	ctx := context.Background()

	r.CreateTenant(ctx, "t1", "u", "")

	// Enable auto view before starting.
	if _, err := r.UpdateConfig(ctx, "t1", json.RawMessage(`{"auto_view_status":true}`)); err != nil {
		t.Fatalf("update config: %v", err)
	}
	r.Start(ctx, "t1")
	conn := dialer.conn(0)
	conn.push(transport.Event{Type: transport.EventConnectionOpened})

	conn.push(transport.Event{
		Type: transport.EventMessageReceived,
		Message: &transport.Message{
			ID:       "s1",
			ChatID:   transport.StatusBroadcast,
			SenderID: "peer@s.whatsapp.net",
			Kind:     transport.KindText,
			Text:     "story",
		},
	})

	waitFor(t, time.Second, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return len(conn.marked) == 1 && conn.marked[0] == transport.StatusBroadcast+"/s1"
	}, "status marked read")
	_ = st
}
