// Package web serves the operational HTTP surface: a liveness probe and a
// read-only snapshot of every active playback session.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vcmplayer/backend/internal/music"
	"vcmplayer/backend/pkg/logger"
)

const shutdownTimeout = 5 * time.Second

// StatusSource supplies the playback snapshot. *music.Registry satisfies it.
type StatusSource interface {
	Snapshot() []music.Status
}

// Server is the status HTTP server.
type Server struct {
	src    StatusSource
	router *gin.Engine
	srv    *http.Server
	log    *zap.Logger
}

// New builds the server on the given port. Callers pick the gin mode before
// calling this.
func New(src StatusSource, port string) *Server {
	s := &Server{src: src, log: logger.Named("web")}

	router := gin.New()
	router.Use(ginLogger(s.log))
	router.Use(gin.Recovery())
	router.GET("/health", s.handleHealth)
	router.GET("/status", s.handleStatus)

	s.router = router
	s.srv = &http.Server{Addr: ":" + port, Handler: router}
	return s
}

// Handler returns the HTTP handler serving the routes.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then drains in-flight requests before
// returning.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("status server listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.log.Error("status server forced to shut down", zap.Error(err))
		return err
	}
	s.log.Info("status server stopped")
	return <-errCh
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	sessions := s.src.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"sessions": len(sessions),
		"chats":    sessions,
	})
}

// ginLogger logs one line per request through the service logger.
func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Info("HTTP Request",
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}
