package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mossy-p/classroom-signaling/internal/middleware"
	"github.com/mossy-p/classroom-signaling/internal/models"
	"github.com/mossy-p/classroom-signaling/internal/redis"
)

// ChangePassword replaces the caller's password after checking the current one.
func (h *Handlers) ChangePassword(c *gin.Context) {
	var req models.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ident := middleware.CurrentIdentity(c)
	ctx := c.Request.Context()
	hash, err := h.Users.GetPasswordHash(ctx, ident.UserID)
	if errors.Is(err, redis.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	if err != nil {
		h.Logger.Error("failed to load credentials", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update password"})
		return
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(req.CurrentPassword)) != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Current password is incorrect"})
		return
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), h.BcryptCost)
	if err != nil {
		h.Logger.Error("failed to hash password", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update password"})
		return
	}
	if err := h.Users.SetPasswordHash(ctx, ident.UserID, newHash); err != nil {
		h.Logger.Error("failed to store password", zap.String("user_id", ident.UserID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update password"})
		return
	}

	h.Logger.Info("password changed", zap.String("user_id", ident.UserID))
	c.JSON(http.StatusOK, gin.H{"message": "Password updated successfully"})
}

func (h *Handlers) GetAccessibility(c *gin.Context) {
	ident := middleware.CurrentIdentity(c)
	settings, err := h.Users.GetAccessibility(c.Request.Context(), ident.UserID)
	if err != nil {
		h.Logger.Error("failed to load accessibility settings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load settings"})
		return
	}
	c.JSON(http.StatusOK, settings)
}

// UpdateAccessibility saves the caller's accessibility settings.
func (h *Handlers) UpdateAccessibility(c *gin.Context) {
	var req models.AccessibilitySettings
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.FontSize == "" {
		req.FontSize = models.FontMedium
	}

	ident := middleware.CurrentIdentity(c)
	if err := h.Users.SetAccessibility(c.Request.Context(), ident.UserID, req); err != nil {
		h.Logger.Error("failed to store accessibility settings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update settings"})
		return
	}

	c.JSON(http.StatusOK, models.AccessibilityResponse{
		Message:  "Settings updated successfully",
		Settings: req,
	})
}
