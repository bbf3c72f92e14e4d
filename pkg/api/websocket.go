package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
)

const wsWriteTimeout = 5 * time.Second

// handleWS upgrades to WebSocket and forwards the session's live broadcast,
// one JSON event per text message. The socket closes when the client goes
// away or the session ends.
func (s *Server) handleWS(c *gin.Context) {
	name := c.Query("session")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing session query parameter"})
		return
	}

	sub, cancelSub, err := s.svc.Subscribe(c.Request.Context(), name)
	if err != nil {
		s.respondError(c, err)
		return
	}
	defer cancelSub()

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "session", name, "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// We never expect client frames; CloseRead surfaces disconnects
	// through the returned context.
	ctx := conn.CloseRead(c.Request.Context())

	for {
		select {
		case e, ok := <-sub:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "session ended")
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				s.log.Error("failed to encode event", "session", name, "error", err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
