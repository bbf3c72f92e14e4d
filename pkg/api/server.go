// Package api is the HTTP gateway: REST operations, an SSE stream for
// submit-and-stream-until-idle, and a WebSocket event subscribe.
package api

import (
	"context"
	stdsql "database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/miniagent/pkg/actor"
	"github.com/codeready-toolchain/miniagent/pkg/database"
	"github.com/codeready-toolchain/miniagent/pkg/registry"
	"github.com/codeready-toolchain/miniagent/pkg/services"
	"github.com/codeready-toolchain/miniagent/pkg/store"
	"github.com/codeready-toolchain/miniagent/pkg/version"
)

// Server exposes the facade over HTTP.
type Server struct {
	svc *services.SessionService
	// db is non-nil only with the postgres backend; health then pings it.
	db  *stdsql.DB
	log *slog.Logger
}

// NewServer wires the gateway. db may be nil for the file backend.
func NewServer(svc *services.SessionService, db *stdsql.DB, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{svc: svc, db: db, log: log}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/health", s.health)
	r.GET("/api/sessions", s.listSessions)
	r.GET("/api/sessions/:name/events", s.getEvents)
	r.GET("/api/sessions/:name/state", s.getState)
	r.POST("/api/sessions/:name/events", s.addEvents)
	r.POST("/api/sessions/:name/messages", s.postMessage)
	r.POST("/api/sessions/:name/interrupt", s.interruptTurn)
	r.DELETE("/api/sessions/:name", s.endSession)
	r.GET("/api/ws", s.handleWS)
	return r
}

func (s *Server) health(c *gin.Context) {
	resp := gin.H{
		"status":  "ok",
		"version": version.Full(),
	}
	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		status, err := database.Health(ctx, s.db)
		resp["database"] = status
		if err != nil {
			resp["status"] = "degraded"
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
	}
	c.JSON(http.StatusOK, resp)
}

// respondError maps facade errors onto HTTP statuses.
func (s *Server) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, store.ErrInvalidName):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session name"})
	case errors.Is(err, actor.ErrSessionEnded), errors.Is(err, registry.ErrClosed):
		c.JSON(http.StatusConflict, gin.H{"error": "session ended"})
	default:
		s.log.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
