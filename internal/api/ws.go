package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/zapdeskhq/zapdesk/internal/store"
)

// websocket upgrades the connection and joins it to the owner's push group.
// The read loop only watches for the peer closing; all traffic is outbound.
func (s *Server) websocket(c *gin.Context) {
	ownerID := c.Query("owner")
	if ownerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner is required"})
		return
	}
	if _, err := s.db.GetOwner(ownerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown owner"})
			return
		}
		s.fail(c, err)
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Debug("websocket accept failed", zap.Error(err))
		return
	}

	sub := s.hub.JoinOwner(conn, ownerID)
	defer s.hub.Remove(sub)

	readCtx := c.Request.Context()
	for {
		if _, _, err := conn.Read(readCtx); err != nil {
			if readCtx.Err() == nil && websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				s.log.Debug("websocket read ended", zap.String("owner_id", ownerID), zap.Error(err))
			}
			return
		}
	}
}
