// Package server is a local preview server for generated report output.
// It exists for dashboard review during report development; the scheduled
// runner never starts it.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
)

type Server struct {
	Engine *gin.Engine
	Addr   string
	dir    string
}

// New builds a preview server for the report output directory.
func New(addr, dir, mode string) *Server {
	if mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	s := &Server{
		Engine: r,
		Addr:   addr,
		dir:    dir,
	}

	r.GET("/health", s.healthHandler)
	r.Static("/reports", dir)
	r.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusFound, "/reports/")
	})

	return s
}

func (s *Server) healthHandler(c *gin.Context) {
	if _, err := os.Stat(s.dir); err != nil {
		slog.Error("Health check failed: output directory unreadable", "dir", s.dir, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  "output directory unreadable",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"dir":    s.dir,
	})
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.Addr,
		Handler: s.Engine,
	}

	slog.Info("Starting preview server...", "address", s.Addr, "dir", s.dir)

	go func() {
		<-ctx.Done()
		slog.Info("Stopping preview server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Preview server forced to shutdown", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
