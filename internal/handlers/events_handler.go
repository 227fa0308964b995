package handlers

import (
	"net/http"

	"catalog-import-service/internal/middleware"
	"catalog-import-service/internal/realtime"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// StreamEvents streams session events as server-sent events. The first frame
// is a progress snapshot so late subscribers start from current counters.
// @Summary Stream session events
// @Tags Import Sessions
// @Produce text/event-stream
// @Param id path string true "Session ID"
// @Success 200 {string} string "event stream"
// @Failure 404 {object} models.ErrorResponse
// @Router /api/v1/import-sessions/{id}/events [get]
func (h *SessionHandler) StreamEvents(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	tenantID := middleware.GetTenantID(c)
	ctx := c.Request.Context()

	if _, err := h.service.Get(ctx, tenantID, id); err != nil {
		respondServiceError(c, err)
		return
	}

	sub := h.hub.Subscribe(id.String())
	defer h.hub.Unsubscribe(sub)

	// Re-read after subscribing so nothing between the two reads is lost
	session, err := h.service.Get(ctx, tenantID, id)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	snapshot, err := realtime.NewEnvelope(id.String(), realtime.ProgressEvent{SessionProgress: session.Progress()})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	snapshot.Final = session.Status.IsTerminal()

	realtime.SetSSEHeaders(c.Writer)
	c.Status(http.StatusOK)

	log := h.logger.WithFields(logrus.Fields{
		"session_id": id.String(),
		"tenant_id":  tenantID,
	})
	log.Debug("Event stream opened")

	if snapshot.Final {
		if err := realtime.WriteSSE(c.Writer, snapshot); err != nil {
			log.WithError(err).Debug("Event stream write failed")
		}
		c.Writer.Flush()
		return
	}

	if err := realtime.Stream(ctx, c.Writer, sub, &snapshot, h.heartbeat); err != nil {
		log.WithError(err).Debug("Event stream ended")
		return
	}
	log.Debug("Event stream closed")
}
