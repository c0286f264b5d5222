// Package web serves the HTTP job API and the live progress stream
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bill-scraper/config"
	"github.com/bill-scraper/history"
	"github.com/bill-scraper/jobs"
)

// JobService is the part of the orchestrator the handlers use
type JobService interface {
	CreateJob(ctx context.Context, req jobs.Request) (string, error)
	GetStatus(id string) (jobs.Snapshot, error)
	Active() (string, bool)
	Subscribe(id string) (<-chan jobs.Snapshot, func(), error)
	Profiles() []config.VendorProfile
}

// HistoryReader lists archived jobs
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Record, error)
}

// Dependencies holds everything the handlers need. History may be nil.
type Dependencies struct {
	Logger      *slog.Logger
	Jobs        JobService
	History     HistoryReader
	Settings    *SettingsStore
	DownloadDir string
}

// NewRouter configures the gin engine with every API route
func NewRouter(deps *Dependencies) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	h := &handler{deps: deps, logger: deps.Logger}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	api := r.Group("/api")
	{
		api.POST("/start-job", h.startJob)
		api.GET("/job-status/:job_id", h.jobStatus)
		api.GET("/job-stream/:job_id", h.jobStream)
		api.GET("/jobs", h.jobHistory)
		api.GET("/vendors", h.vendors)
		api.GET("/recent", h.recent)
		api.GET("/me", h.me)
		api.POST("/settings", h.updateSettings)
	}
	return r
}

// LoggerMiddleware logs every request with slog
func LoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("HTTP request",
			slog.Int("status", c.Writer.Status()),
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("ip", c.ClientIP()),
			slog.Duration("latency", time.Since(start)),
		)
		for _, e := range c.Errors {
			logger.Error("request error", slog.String("path", path), slog.String("error", e.Error()))
		}
	}
}

// Server is the HTTP front end
type Server struct {
	srv     *http.Server
	logger  *slog.Logger
	timeout time.Duration
}

// NewServer binds the router to the configured port
func NewServer(cfg config.ServerConfig, deps *Dependencies) *Server {
	gin.SetMode(gin.ReleaseMode)
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Server{
		srv: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewRouter(deps),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		logger:  deps.Logger,
		timeout: cfg.ShutdownTimeout,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to serve HTTP: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}
