// Package server exposes the authentication core over HTTP for the demo
// host: credential login, token refresh, logout, password reset and
// change, plus health and metrics endpoints.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kodex-auth/go-core/internal/authflow"
	"github.com/kodex-auth/go-core/internal/reset"
	"github.com/kodex-auth/go-core/internal/token"
)

// Config tunes the HTTP server.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	MaxBodyBytes int64

	// DefaultRealm is used when a request carries no X-Realm-ID header.
	DefaultRealm string

	Logger *zap.Logger
}

// Validate applies defaults.
func (c *Config) Validate() error {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 15 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
	if c.DefaultRealm == "" {
		c.DefaultRealm = "default"
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return nil
}

// Server hosts the HTTP surface over the core services.
type Server struct {
	engine *gin.Engine
	http   *http.Server
	auth   *authflow.Authenticator
	tokens *token.Manager
	resets *reset.Service
	cfg    Config
	logger *zap.Logger
}

// New creates the server and registers all routes. The metrics handler
// is optional; when nil no /metrics route is exposed.
func New(auth *authflow.Authenticator, tokens *token.Manager, resets *reset.Service,
	metricsHandler http.Handler, cfg Config) (*Server, error) {
	if auth == nil {
		return nil, errors.New("authenticator is required")
	}
	if tokens == nil {
		return nil, errors.New("token manager is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	s := &Server{
		engine: engine,
		auth:   auth,
		tokens: tokens,
		resets: resets,
		cfg:    cfg,
		logger: cfg.Logger,
	}

	engine.Use(requestLogger(cfg.Logger))
	engine.Use(recovery(cfg.Logger))
	engine.Use(bodyLimit(cfg.MaxBodyBytes))

	engine.GET("/healthz", s.health)
	if metricsHandler != nil {
		engine.GET("/metrics", gin.WrapH(metricsHandler))
	}

	v1 := engine.Group("/v1/auth")
	{
		v1.POST("/login", s.login)
		v1.POST("/refresh", s.refresh)
		v1.POST("/logout", s.logout)
		v1.POST("/password/reset", s.requestReset)
		v1.POST("/password/reset/complete", s.completeReset)
	}

	authed := v1.Group("", s.bearerAuth())
	{
		authed.POST("/password/change", s.changePassword)
		authed.GET("/me", s.me)
	}

	s.http = &http.Server{
		Addr:           cfg.Addr,
		Handler:        engine,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: 1 << 20,
	}
	return s, nil
}

// Handler exposes the route tree, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.cfg.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// realm resolves the tenant for a request.
func (s *Server) realm(c *gin.Context) string {
	if realm := c.GetHeader("X-Realm-ID"); realm != "" {
		return realm
	}
	return s.cfg.DefaultRealm
}
