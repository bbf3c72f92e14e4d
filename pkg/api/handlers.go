package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/miniagent/pkg/events"
)

func (s *Server) listSessions(c *gin.Context) {
	names, err := s.svc.ListSessions(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": names})
}

func (s *Server) getEvents(c *gin.Context) {
	evs, err := s.svc.GetEvents(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs})
}

func (s *Server) getState(c *gin.Context) {
	st, err := s.svc.GetState(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// AddEventsRequest carries externally-supplied events. Identity fields are
// ignored; the actor stamps them on ingest.
type AddEventsRequest struct {
	Events []events.Event `json:"events" binding:"required"`
}

func (s *Server) addEvents(c *gin.Context) {
	var req AddEventsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	payloads := make([]events.Payload, len(req.Events))
	for i, e := range req.Events {
		payloads[i] = e.Payload
	}
	accepted, err := s.svc.AddEvents(c.Request.Context(), c.Param("name"), payloads)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": accepted})
}

// PostMessageRequest submits one user message for the SSE streaming route.
type PostMessageRequest struct {
	Content       string `json:"content" binding:"required"`
	IdleTimeoutMS int    `json:"idle_timeout_ms"`
}

// postMessage maps add_and_stream_until_idle onto server-sent events: one
// "data: <json event>" frame per event, stream end signals idle.
func (s *Server) postMessage(c *gin.Context) {
	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	stream, err := s.svc.AddAndStreamUntilIdle(
		c.Request.Context(),
		c.Param("name"),
		[]events.Payload{&events.UserMessage{Content: req.Content}},
		time.Duration(req.IdleTimeoutMS)*time.Millisecond,
	)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	for e := range stream {
		data, err := json.Marshal(e)
		if err != nil {
			s.log.Error("failed to encode event", "session", c.Param("name"), "error", err)
			continue
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return
		}
		c.Writer.Flush()
	}
}

func (s *Server) interruptTurn(c *gin.Context) {
	if err := s.svc.InterruptTurn(c.Request.Context(), c.Param("name")); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "interrupted"})
}

func (s *Server) endSession(c *gin.Context) {
	if err := s.svc.EndSession(c.Request.Context(), c.Param("name")); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ended"})
}
