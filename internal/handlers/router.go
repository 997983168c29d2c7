package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/mossy-p/classroom-signaling/config"
	"github.com/mossy-p/classroom-signaling/internal/logging"
	"github.com/mossy-p/classroom-signaling/internal/metrics"
	"github.com/mossy-p/classroom-signaling/internal/middleware"
	"github.com/mossy-p/classroom-signaling/internal/models"
)

// NewRouter wires every HTTP and WebSocket route.
func NewRouter(h *Handlers, cfg *config.Config, m *metrics.Metrics) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), logging.GinLogger(h.Logger))

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(cfg.AllowedOrigins))

	router.GET("/health", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(metrics.PrometheusHandler(m)))

	auth := middleware.JWTAuth(h.Tokens)
	teacherOnly := middleware.RequireRole(models.RoleTeacher)
	studentOnly := middleware.RequireRole(models.RoleStudent)
	adminOnly := middleware.RequireRole(models.RoleAdmin)

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/auth/register", h.Register)
		apiGroup.POST("/auth/login", h.Login)
		apiGroup.GET("/auth/me", auth, h.Me)

		sessions := apiGroup.Group("/sessions", auth)
		sessions.POST("", teacherOnly, h.CreateSession)
		sessions.GET("/teacher", teacherOnly, h.ListTeacherSessions)
		sessions.GET("/upcoming", studentOnly, h.ListUpcomingSessions)
		sessions.GET("/active", h.ActiveSession)
		sessions.GET("/:sessionId", h.GetSession)
		sessions.PUT("/:sessionId", teacherOnly, h.UpdateSession)
		sessions.PUT("/:sessionId/status", teacherOnly, h.UpdateSessionStatus)
		sessions.POST("/:sessionId/start", teacherOnly, h.StartSession)
		sessions.POST("/:sessionId/end", teacherOnly, h.EndSession)
		sessions.DELETE("/:sessionId", teacherOnly, h.DeleteSession)

		users := apiGroup.Group("/users", auth)
		users.PUT("/password", h.ChangePassword)
		users.GET("/accessibility", h.GetAccessibility)
		users.PUT("/accessibility", h.UpdateAccessibility)

		admin := apiGroup.Group("/admin", auth, adminOnly)
		admin.GET("/teachers", h.ListTeachers)
		admin.GET("/students", h.ListStudents)
		admin.GET("/teachers/:teacherId/students", h.ListTeacherStudents)
		admin.POST("/teachers/:teacherId/students", h.AssignStudents)

		apiGroup.GET("/signaling/peers", auth, h.Peers)
	}

	// WebSocket signaling endpoint
	if h.Relay.Mode() == config.ModeEvent {
		router.GET("/ws", h.HandleEventSignaling)
	} else {
		router.GET("/ws/:peerId", h.HandleRawSignaling)
	}

	return router
}
