package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mossy-p/classroom-signaling/internal/middleware"
	"github.com/mossy-p/classroom-signaling/internal/models"
	"github.com/mossy-p/classroom-signaling/internal/redis"
)

// Register creates a teacher or student account.
func (h *Handlers) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), h.BcryptCost)
	if err != nil {
		h.Logger.Error("failed to hash password", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register"})
		return
	}

	user := models.User{Username: req.Username, Email: req.Email, Role: req.Role}
	if h.isAdminName(req.Username) {
		user.Role = models.RoleAdmin
	}
	if err := h.Users.CreateUser(c.Request.Context(), &user, hash); err != nil {
		switch {
		case errors.Is(err, redis.ErrUsernameTaken), errors.Is(err, redis.ErrEmailTaken):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			h.Logger.Error("failed to store user", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register"})
		}
		return
	}

	h.Logger.Info("user registered", zap.String("user_id", user.ID), zap.String("role", user.Role))
	c.JSON(http.StatusCreated, user)
}

// Login checks a username/password pair and issues a JWT.
func (h *Handlers) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	user, hash, err := h.Users.GetCredentials(c.Request.Context(), req.Username)
	if err != nil && !errors.Is(err, redis.ErrNotFound) {
		h.Logger.Error("failed to load credentials", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to log in"})
		return
	}
	if err != nil || bcrypt.CompareHashAndPassword(hash, []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
		return
	}

	token, err := h.Tokens.Issue(*user)
	if err != nil {
		h.Logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to generate token",
		})
		return
	}

	c.JSON(http.StatusOK, models.LoginResponse{
		Token: token,
		User:  *user,
	})
}

// Me returns the authenticated user.
func (h *Handlers) Me(c *gin.Context) {
	ident := middleware.CurrentIdentity(c)
	user, err := h.Users.GetUser(c.Request.Context(), ident.UserID)
	if errors.Is(err, redis.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	if err != nil {
		h.Logger.Error("failed to load user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load user"})
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handlers) isAdminName(username string) bool {
	for _, name := range h.AdminUsernames {
		if strings.EqualFold(name, username) {
			return true
		}
	}
	return false
}
