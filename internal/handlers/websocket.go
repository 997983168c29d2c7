package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HandleRawSignaling upgrades /ws/:peerId to a raw-mode relay session.
func (h *Handlers) HandleRawSignaling(c *gin.Context) {
	h.Relay.ServeRaw(c.Writer, c.Request, c.Param("peerId"))
}

// HandleEventSignaling upgrades /ws to an event-mode relay session.
func (h *Handlers) HandleEventSignaling(c *gin.Context) {
	h.Relay.ServeEvent(c.Writer, c.Request)
}

// Peers returns a snapshot of the peers connected to this instance. When a
// presence store is configured, "online" carries the count across all
// instances.
func (h *Handlers) Peers(c *gin.Context) {
	peers := h.Relay.Peers()
	resp := gin.H{
		"mode":  h.Relay.Mode(),
		"count": len(peers),
		"peers": peers,
	}
	if h.Presence != nil {
		online, err := h.Presence.OnlinePeerCount(c.Request.Context())
		if err != nil {
			h.Logger.Warn("failed to count online peers", zap.Error(err))
		} else {
			resp["online"] = online
		}
	}
	c.JSON(http.StatusOK, resp)
}
