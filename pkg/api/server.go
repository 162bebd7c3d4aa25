// Package api exposes the tenant management HTTP surface: bot CRUD,
// lifecycle actions, pairing, config patches and audit log access.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tinyland-inc/ledbot/pkg/audit"
	"github.com/tinyland-inc/ledbot/pkg/command"
	"github.com/tinyland-inc/ledbot/pkg/logger"
	"github.com/tinyland-inc/ledbot/pkg/session"
)

const defaultLogLimit = 50

// Server wires the gin router to the session registry.
type Server struct {
	registry *session.Registry
	commands *command.Registry
	audit    *audit.Logger
	issuer   *TokenIssuer
	engine   *gin.Engine
	http     *http.Server
}

func NewServer(reg *session.Registry, cmds *command.Registry, auditLog *audit.Logger, issuer *TokenIssuer) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		registry: reg,
		commands: cmds,
		audit:    auditLog,
		issuer:   issuer,
		engine:   engine,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)

	api := s.engine.Group("/api")
	api.Use(rateMiddleware(newLimiterPool(10, 20)))
	api.Use(authMiddleware(s.issuer))

	api.GET("/commands", s.handleCommands)

	api.POST("/bots", s.handleCreateBot)
	api.GET("/bots", s.handleListBots)
	api.GET("/bots/:id", s.handleGetBot)
	api.POST("/bots/:id/start", s.handleStart)
	api.POST("/bots/:id/stop", s.handleStop)
	api.POST("/bots/:id/redeploy", s.handleRedeploy)
	api.POST("/bots/:id/pair", s.handlePair)
	api.GET("/bots/:id/qr", s.handleQR)
	api.PUT("/bots/:id/config", s.handleUpdateConfig)
	api.GET("/bots/:id/logs", s.handleLogs)
}

// Handler exposes the router, mainly for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Listen serves until the context is cancelled, then drains.
func (s *Server) Listen(ctx context.Context, addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.ListenAndServe()
	}()

	logger.InfoCF("api", "HTTP API listening", map[string]any{"addr": addr})

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleCommands(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"commands": s.commands.Descriptors()})
}

type createBotRequest struct {
	ID          string `json:"id"`
	PhoneNumber string `json:"phone_number"`
}

func (s *Server) handleCreateBot(c *gin.Context) {
	var req createBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	bot, err := s.registry.CreateTenant(c.Request.Context(), req.ID, c.GetString("user_id"), req.PhoneNumber)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, bot)
}

func (s *Server) handleListBots(c *gin.Context) {
	bots, err := s.registry.Bots(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	owner := c.GetString("user_id")
	owned := bots[:0]
	for _, bot := range bots {
		if bot.UserID == owner {
			owned = append(owned, bot)
		}
	}
	c.JSON(http.StatusOK, gin.H{"bots": owned})
}

// authorizeTenant rejects access to a tenant the caller does not own.
// Foreign tenants read as not found so ids cannot be probed.
func (s *Server) authorizeTenant(c *gin.Context) bool {
	bot, err := s.registry.Bot(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return false
	}
	if bot.UserID != c.GetString("user_id") {
		c.JSON(http.StatusNotFound, gin.H{"error": session.ErrTenantNotFound.Error()})
		return false
	}
	return true
}

func (s *Server) handleGetBot(c *gin.Context) {
	if !s.authorizeTenant(c) {
		return
	}
	bot, err := s.registry.Bot(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, bot)
}

func (s *Server) handleStart(c *gin.Context) {
	if !s.authorizeTenant(c) {
		return
	}
	id := c.Param("id")
	if err := s.registry.Start(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	status, _ := s.registry.Status(c.Request.Context(), id)
	c.JSON(http.StatusOK, gin.H{"id": id, "status": status})
}

func (s *Server) handleStop(c *gin.Context) {
	if !s.authorizeTenant(c) {
		return
	}
	id := c.Param("id")
	if err := s.registry.Stop(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": "offline"})
}

func (s *Server) handleRedeploy(c *gin.Context) {
	if !s.authorizeTenant(c) {
		return
	}
	id := c.Param("id")
	if err := s.registry.Redeploy(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	status, _ := s.registry.Status(c.Request.Context(), id)
	c.JSON(http.StatusOK, gin.H{"id": id, "status": status})
}

type pairRequest struct {
	PhoneNumber string `json:"phone_number" binding:"required"`
}

func (s *Server) handlePair(c *gin.Context) {
	var req pairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "phone_number is required"})
		return
	}
	if !s.authorizeTenant(c) {
		return
	}
	code, err := s.registry.Pair(c.Request.Context(), c.Param("id"), req.PhoneNumber)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pairing_code": code})
}

func (s *Server) handleQR(c *gin.Context) {
	if !s.authorizeTenant(c) {
		return
	}
	artifact := s.registry.PairingArtifact(c.Param("id"))
	if artifact == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no pending pairing artifact"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"qr": artifact})
}

func (s *Server) handleUpdateConfig(c *gin.Context) {
	var patch json.RawMessage
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if !s.authorizeTenant(c) {
		return
	}
	bot, err := s.registry.UpdateConfig(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, bot)
}

func (s *Server) handleLogs(c *gin.Context) {
	if !s.authorizeTenant(c) {
		return
	}
	limit := defaultLogLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := s.audit.Recent(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": entries})
}

// fail maps registry errors onto HTTP status codes.
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrTenantNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrTenantExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrNotRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		logger.ErrorCF("api", "Request failed", map[string]any{"error": err.Error()})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
