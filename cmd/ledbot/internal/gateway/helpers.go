package gateway

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tinyland-inc/ledbot/cmd/ledbot/internal"
	"github.com/tinyland-inc/ledbot/pkg/api"
	"github.com/tinyland-inc/ledbot/pkg/audit"
	"github.com/tinyland-inc/ledbot/pkg/command"
	"github.com/tinyland-inc/ledbot/pkg/commands"
	"github.com/tinyland-inc/ledbot/pkg/config"
	"github.com/tinyland-inc/ledbot/pkg/dispatch"
	"github.com/tinyland-inc/ledbot/pkg/logger"
	"github.com/tinyland-inc/ledbot/pkg/model"
	"github.com/tinyland-inc/ledbot/pkg/ratelimit"
	"github.com/tinyland-inc/ledbot/pkg/retention"
	"github.com/tinyland-inc/ledbot/pkg/session"
	"github.com/tinyland-inc/ledbot/pkg/store"
	"github.com/tinyland-inc/ledbot/pkg/transport"
)

func gatewayCmd(debug bool) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	applyLogLevel(cfg, debug)

	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not configured")
	}

	st, err := store.OpenPebble(cfg.StorePath())
	if err != nil {
		return fmt.Errorf("error opening store: %w", err)
	}

	reg := command.NewRegistry()
	if err := commands.RegisterAll(reg); err != nil {
		return fmt.Errorf("error registering commands: %w", err)
	}
	logger.InfoCF("gateway", "Commands registered", map[string]any{"count": len(reg.Names())})

	limiter := ratelimit.New(ratelimit.Config{
		Points:     model.DefaultBotConfig().RatePoints,
		Window:     time.Duration(model.DefaultBotConfig().RateWindowSecs) * time.Second,
		SweepEvery: 5 * time.Minute,
	})

	auditLog := audit.NewLogger(st)
	pipeline := dispatch.NewPipeline(reg, limiter, st, auditLog)

	dialer, err := transport.NewBridgeDialer(transport.BridgeConfig{
		URL:              cfg.Bridge.URL,
		HandshakeTimeout: time.Duration(cfg.Bridge.HandshakeTimeout) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("error creating bridge dialer: %w", err)
	}

	sessions := session.NewRegistry(dialer, st, pipeline, auditLog, session.Backoff{
		Initial:    cfg.BackoffInitial(),
		Max:        cfg.BackoffMax(),
		MaxRetries: cfg.Session.MaxRetries,
		Jitter:     cfg.Session.BackoffJitter,
	}, reg.Names())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resumeSessions(ctx, st, sessions)

	stopRetention, err := retention.Start(ctx, cfg.Retention, st)
	if err != nil {
		return fmt.Errorf("error starting retention: %w", err)
	}

	issuer := api.NewTokenIssuer(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenExpiry)*time.Minute)
	server := api.NewServer(sessions, reg, auditLog, issuer)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Listen(ctx, cfg.Gateway.Addr())
	}()

	fmt.Printf("✓ Gateway started on %s\n", cfg.Gateway.Addr())
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		fmt.Println("\nShutting down...")
	case err := <-serverErr:
		if err != nil {
			logger.ErrorCF("gateway", "HTTP server error", map[string]any{"error": err.Error()})
		}
	}

	cancel()
	stopRetention()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	sessions.Shutdown(shutdownCtx)
	shutdownCancel()

	limiter.Stop()
	if err := st.Close(); err != nil {
		logger.WarnCF("gateway", "Store close failed", map[string]any{"error": err.Error()})
	}
	fmt.Println("✓ Gateway stopped")

	return nil
}

func applyLogLevel(cfg *config.Config, debug bool) {
	if debug || cfg.Log.Debug {
		logger.SetLevel(logger.DEBUG)
		fmt.Println("🔍 Debug mode enabled")
		return
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		logger.SetLevel(logger.DEBUG)
	case "warn":
		logger.SetLevel(logger.WARN)
	case "error":
		logger.SetLevel(logger.ERROR)
	default:
		logger.SetLevel(logger.INFO)
	}
}

// resumeSessions restarts every tenant that was connected or mid-connect
// when the process last exited.
func resumeSessions(ctx context.Context, st store.Store, sessions *session.Registry) {
	docs, err := st.Query(ctx, store.CollectionBots, "", 0)
	if err != nil {
		logger.WarnCF("gateway", "Resume scan failed", map[string]any{"error": err.Error()})
		return
	}

	resumed := 0
	for _, doc := range docs {
		var bot model.Bot
		if err := doc.Decode(&bot); err != nil {
			continue
		}
		switch bot.Status {
		case model.StatusOnline, model.StatusConnecting, model.StatusPairingRequired:
			if err := sessions.Start(ctx, bot.ID); err != nil {
				logger.WarnCF("gateway", "Resume failed", map[string]any{
					"tenant": bot.ID,
					"error":  err.Error(),
				})
				continue
			}
			resumed++
		}
	}
	if resumed > 0 {
		logger.InfoCF("gateway", "Sessions resumed", map[string]any{"count": resumed})
	}
}
