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

func (h *Handlers) ListTeachers(c *gin.Context) {
	h.listByRole(c, models.RoleTeacher)
}

func (h *Handlers) ListStudents(c *gin.Context) {
	h.listByRole(c, models.RoleStudent)
}

// ListTeacherStudents returns the students assigned to a teacher.
func (h *Handlers) ListTeacherStudents(c *gin.Context) {
	students, err := h.Users.ListAssignedStudents(c.Request.Context(), c.Param("teacherId"))
	switch {
	case errors.Is(err, redis.ErrNotFound), errors.Is(err, redis.ErrWrongRole):
		c.JSON(http.StatusNotFound, gin.H{"error": "Teacher not found"})
		return
	case err != nil:
		h.Logger.Error("failed to list assigned students", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list students"})
		return
	}
	c.JSON(http.StatusOK, students)
}

// AssignStudents replaces every student assigned to a teacher.
func (h *Handlers) AssignStudents(c *gin.Context) {
	var req models.AssignStudentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "studentIds must be an array"})
		return
	}

	teacherID := c.Param("teacherId")
	studentIDs := dedupe(req.StudentIDs)
	if err := h.Users.AssignStudents(c.Request.Context(), teacherID, studentIDs); err != nil {
		switch {
		case errors.Is(err, redis.ErrNotFound), errors.Is(err, redis.ErrWrongRole):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.Logger.Error("failed to assign students", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to assign students"})
		}
		return
	}

	h.Logger.Info("students assigned",
		zap.String("teacher_id", teacherID),
		zap.String("admin_id", middleware.CurrentIdentity(c).UserID),
		zap.Int("students", len(studentIDs)))
	c.JSON(http.StatusOK, gin.H{"message": "Students assigned successfully"})
}

func (h *Handlers) listByRole(c *gin.Context, role string) {
	users, err := h.Users.ListUsersByRole(c.Request.Context(), role)
	if err != nil {
		h.Logger.Error("failed to list users", zap.String("role", role), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list users"})
		return
	}
	c.JSON(http.StatusOK, users)
}
