// Package http implements the API Server: an OpenAI-compatible
// gin.Engine that gates every chat request on a valid upstream
// credential and translates to/from the ChatGPT backend's envelope.
package http

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mindlink-dev/mindlink/internal/infrastructure/chatgpt"
	"github.com/mindlink-dev/mindlink/internal/interfaces/http/handlers"
	"github.com/mindlink-dev/mindlink/internal/interfaces/wsfeed"
	apperrors "github.com/mindlink-dev/mindlink/pkg/errors"
)

// Config controls where the server listens and gin's run mode.
type Config struct {
	Host string
	Port int
	Mode string // debug, release
}

// CredentialFn returns a valid upstream access token, performing
// login or refresh as needed.
type CredentialFn func(ctx context.Context) (string, error)

// Server owns the gin engine and its lifecycle.
type Server struct {
	mu        sync.Mutex
	handler   *gin.Engine
	server    *http.Server
	log       *zap.Logger
	cfg       Config
	isServing bool
}

// NewServer wires the OpenAI-compatible handler and returns a Server
// not yet listening. feed may be nil, in which case /ws/events is not
// registered.
func NewServer(cfg Config, client *chatgpt.Client, ensureCredential CredentialFn, feed *wsfeed.Hub, log *zap.Logger) *Server {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(log))
	router.Use(corsMiddleware())

	h := handlers.NewOpenAIHandler(client, handlers.CredentialFn(ensureCredential), log)
	setupRoutes(router, h, feed)

	return &Server{
		handler: router,
		server:  &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), Handler: router},
		log:     log,
		cfg:     cfg,
	}
}

// Start launches the server in its own goroutine and returns
// immediately.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Info("starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("API server error", zap.Error(err))
		}
	}()
	s.isServing = true
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Info("stopping API server")
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	s.isServing = false
	return nil
}

// Restart stops and relaunches the server on its current configuration.
func (s *Server) Restart(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.server = &http.Server{Addr: fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port), Handler: s.handler}
	s.mu.Unlock()

	return s.Start(ctx)
}

// Configure changes the bind address for the next Start/Restart. It
// is forbidden while the server is serving, matching the Lifecycle
// contract: the operator must stop before rebinding.
func (s *Server) Configure(host string, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isServing {
		return apperrors.New(apperrors.KindConfiguration, "cannot configure the API server while it is running").
			WithAction("stop the server before changing host/port")
	}
	s.cfg.Host = host
	s.cfg.Port = port
	s.server = &http.Server{Addr: fmt.Sprintf("%s:%d", host, port), Handler: s.handler}
	return nil
}

// CheckHealth reports whether the server answers its own /health
// endpoint locally.
func (s *Server) CheckHealth(ctx context.Context) bool {
	s.mu.Lock()
	addr := s.cfg
	serving := s.isServing
	s.mu.Unlock()
	if !serving {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s:%d/health", addr.Host, addr.Port), nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// LocalURL returns the address the server is configured to listen on.
func (s *Server) LocalURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("http://%s:%d", s.cfg.Host, s.cfg.Port)
}

func setupRoutes(router *gin.Engine, h *handlers.OpenAIHandler, feed *wsfeed.Hub) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().Unix(),
			"service":   "mindlink",
		})
	})

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service":     "mindlink",
			"description": "local OpenAI-compatible supervisor for a ChatGPT Plus/Pro account",
		})
	})

	v1 := router.Group("/v1")
	{
		v1.GET("/models", h.ListModels)
		v1.POST("/chat/completions", h.ChatCompletions)
	}

	if feed != nil {
		router.GET("/ws/events", gin.WrapH(http.HandlerFunc(feed.ServeWS)))
	}
}

func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()
		log.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "*")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
