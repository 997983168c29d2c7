package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mossy-p/classroom-signaling/internal/middleware"
	"github.com/mossy-p/classroom-signaling/internal/models"
	"github.com/mossy-p/classroom-signaling/internal/redis"
)

// sessionView is a class session with its live room occupancy.
type sessionView struct {
	models.ClassSession
	LiveParticipants int64 `json:"liveParticipants"`
}

type sessionStatusResponse struct {
	SessionID string               `json:"sessionId"`
	RoomID    string               `json:"roomId"`
	Status    models.SessionStatus `json:"status"`
}

// CreateSession schedules a class (teachers only)
func (h *Handlers) CreateSession(c *gin.Context) {
	ident := middleware.CurrentIdentity(c)

	var req models.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.ScheduledEnd.After(req.ScheduledStart) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scheduledEnd must be after scheduledStart"})
		return
	}

	cs := models.ClassSession{
		Title:          req.Title,
		Description:    req.Description,
		TeacherID:      ident.UserID,
		TeacherName:    ident.Username,
		StudentIDs:     dedupe(req.StudentIDs),
		ScheduledStart: req.ScheduledStart,
		ScheduledEnd:   req.ScheduledEnd,
	}
	if err := h.Sessions.CreateSession(c.Request.Context(), &cs); err != nil {
		h.Logger.Error("failed to store class session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session"})
		return
	}

	h.Logger.Info("class session created",
		zap.String("session_id", cs.ID),
		zap.String("room_id", cs.RoomID),
		zap.String("teacher_id", cs.TeacherID),
		zap.Int("students", len(cs.StudentIDs)))

	c.JSON(http.StatusCreated, models.CreateSessionResponse{
		SessionID: cs.ID,
		RoomID:    cs.RoomID,
	})
}

// GetSession returns a session to its teacher or an enrolled student.
func (h *Handlers) GetSession(c *gin.Context) {
	cs, ok := h.loadSession(c)
	if !ok {
		return
	}
	if !canView(middleware.CurrentIdentity(c), cs) {
		c.JSON(http.StatusForbidden, gin.H{"error": "You do not have access to this session"})
		return
	}

	view := sessionView{ClassSession: *cs}
	count, err := h.Sessions.RoomPeerCount(c.Request.Context(), cs.RoomID)
	if err != nil {
		h.Logger.Warn("failed to count room peers", zap.String("room_id", cs.RoomID), zap.Error(err))
	}
	view.LiveParticipants = count

	c.JSON(http.StatusOK, view)
}

// ListTeacherSessions lists the caller's sessions (teachers only)
func (h *Handlers) ListTeacherSessions(c *gin.Context) {
	ident := middleware.CurrentIdentity(c)
	sessions, err := h.Sessions.ListTeacherSessions(c.Request.Context(), ident.UserID)
	if err != nil {
		h.Logger.Error("failed to list teacher sessions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list sessions"})
		return
	}
	c.JSON(http.StatusOK, sessions)
}

// ListUpcomingSessions lists the caller's future sessions (students only)
func (h *Handlers) ListUpcomingSessions(c *gin.Context) {
	ident := middleware.CurrentIdentity(c)
	sessions, err := h.Sessions.ListUpcomingSessions(c.Request.Context(), ident.UserID, h.now())
	if err != nil {
		h.Logger.Error("failed to list upcoming sessions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list sessions"})
		return
	}
	c.JSON(http.StatusOK, sessions)
}

// ActiveSession returns the session the caller should be in right now.
func (h *Handlers) ActiveSession(c *gin.Context) {
	ident := middleware.CurrentIdentity(c)
	cs, err := h.Sessions.ActiveSession(c.Request.Context(), ident.UserID, ident.Role, h.now())
	if errors.Is(err, redis.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "No active session"})
		return
	}
	if err != nil {
		h.Logger.Error("failed to load active session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load session"})
		return
	}
	c.JSON(http.StatusOK, cs)
}

// UpdateSessionStatus sets the status of a session (owning teacher only)
func (h *Handlers) UpdateSessionStatus(c *gin.Context) {
	var req models.UpdateSessionStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.setStatus(c, req.Status)
}

// UpdateSession edits the details of a session that has not completed
// (owning teacher only)
func (h *Handlers) UpdateSession(c *gin.Context) {
	cs, ok := h.loadOwnedSession(c)
	if !ok {
		return
	}

	var req models.UpdateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.ScheduledEnd.After(req.ScheduledStart) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scheduledEnd must be after scheduledStart"})
		return
	}
	if req.StudentIDs != nil {
		req.StudentIDs = dedupe(req.StudentIDs)
	}

	updated, err := h.Sessions.UpdateSessionDetails(c.Request.Context(), cs.ID, req)
	switch {
	case errors.Is(err, redis.ErrSessionCompleted):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot edit a completed session"})
		return
	case errors.Is(err, redis.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	case err != nil:
		h.Logger.Error("failed to update class session", zap.String("session_id", cs.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update session"})
		return
	}

	h.Logger.Info("class session updated",
		zap.String("session_id", updated.ID),
		zap.Int("students", len(updated.StudentIDs)))

	c.JSON(http.StatusOK, models.UpdateSessionResponse{
		Message:   "Session updated successfully",
		SessionID: updated.ID,
	})
}

func (h *Handlers) StartSession(c *gin.Context) {
	h.setStatus(c, models.SessionActive)
}

func (h *Handlers) EndSession(c *gin.Context) {
	h.setStatus(c, models.SessionCompleted)
}

// DeleteSession deletes a session (owning teacher only)
func (h *Handlers) DeleteSession(c *gin.Context) {
	cs, ok := h.loadOwnedSession(c)
	if !ok {
		return
	}

	if err := h.Sessions.DeleteSession(c.Request.Context(), cs.ID); err != nil && !errors.Is(err, redis.ErrNotFound) {
		h.Logger.Error("failed to delete class session", zap.String("session_id", cs.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete session"})
		return
	}

	h.Logger.Info("class session deleted", zap.String("session_id", cs.ID), zap.String("teacher_id", cs.TeacherID))
	c.JSON(http.StatusOK, gin.H{"message": "Session deleted"})
}

func (h *Handlers) setStatus(c *gin.Context, status models.SessionStatus) {
	cs, ok := h.loadOwnedSession(c)
	if !ok {
		return
	}

	updated, err := h.Sessions.UpdateSessionStatus(c.Request.Context(), cs.ID, status)
	if errors.Is(err, redis.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	if err != nil {
		h.Logger.Error("failed to update class session", zap.String("session_id", cs.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update session"})
		return
	}

	h.Logger.Info("class session status changed",
		zap.String("session_id", updated.ID),
		zap.String("from", string(cs.Status)),
		zap.String("to", string(updated.Status)))

	c.JSON(http.StatusOK, sessionStatusResponse{
		SessionID: updated.ID,
		RoomID:    updated.RoomID,
		Status:    updated.Status,
	})
}

func (h *Handlers) loadSession(c *gin.Context) (*models.ClassSession, bool) {
	cs, err := h.Sessions.GetSession(c.Request.Context(), c.Param("sessionId"))
	if errors.Is(err, redis.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return nil, false
	}
	if err != nil {
		h.Logger.Error("failed to load class session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load session"})
		return nil, false
	}
	return cs, true
}

func (h *Handlers) loadOwnedSession(c *gin.Context) (*models.ClassSession, bool) {
	cs, ok := h.loadSession(c)
	if !ok {
		return nil, false
	}
	// Verify user is the teacher
	if cs.TeacherID != middleware.CurrentIdentity(c).UserID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the session's teacher can change it"})
		return nil, false
	}
	return cs, true
}

func canView(ident models.Identity, cs *models.ClassSession) bool {
	if ident.UserID == cs.TeacherID {
		return true
	}
	if ident.Role != models.RoleStudent {
		return false
	}
	for _, id := range cs.StudentIDs {
		if id == ident.UserID {
			return true
		}
	}
	return false
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
