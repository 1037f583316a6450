package main

import (
	"github.com/gin-gonic/gin"
	"github.com/teamboard/backend/internal/middleware"
	"github.com/teamboard/backend/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices) {
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS())

	// Credential endpoints get a tighter rate limit than the rest.
	authLimiter := middleware.NewRateLimiter(5, 10)

	r.GET("/health", svc.healthHandler.CheckHealth)

	// Realtime socket. Authentication happens in-band via the
	// authenticate frame, not through the HTTP middleware.
	r.GET("/ws", svc.socketHandler.Handle)

	api := r.Group("/api")
	{
		// Auth routes (public, rate limited)
		auth := api.Group("/auth", authLimiter.Middleware())
		{
			auth.POST("/register", svc.authHandler.Register)
			auth.POST("/login", svc.authHandler.Login)
		}

		// Protected routes
		protected := api.Group("")
		protected.Use(middleware.AuthRequired())
		{
			protected.GET("/auth/me", svc.authHandler.GetCurrentUser)
			protected.POST("/auth/logout", svc.authHandler.Logout)
			protected.POST("/auth/change-password", svc.authHandler.ChangePassword)
			protected.PUT("/auth/profile", svc.authHandler.UpdateProfile)

			protected.GET("/users", svc.userHandler.List)
			protected.GET("/presence", svc.healthHandler.Presence)

			// Projects
			protected.GET("/projects", svc.projectHandler.List)
			protected.GET("/projects/:id", svc.projectHandler.GetByID)
			protected.POST("/projects", svc.projectHandler.Create)
			protected.PUT("/projects/:id", svc.projectHandler.Update)
			protected.DELETE("/projects/:id", svc.projectHandler.Delete)
			protected.GET("/projects/:id/members", svc.projectHandler.ListMembers)
			protected.DELETE("/projects/:id/members/:user_id", svc.projectHandler.RemoveMember)
			protected.POST("/projects/:id/leave", svc.projectHandler.Leave)

			// Join requests
			protected.POST("/projects/:id/join-requests", svc.teamHandler.Create)
			protected.PUT("/join-requests/:id", svc.teamHandler.Respond)
			protected.GET("/join-requests/incoming", svc.teamHandler.ListIncoming)
			protected.GET("/join-requests/outgoing", svc.teamHandler.ListOutgoing)

			// Messages (HTTP fallback; the socket is the primary path)
			protected.GET("/projects/:id/messages", svc.messageHandler.List)
			protected.POST("/projects/:id/messages", svc.messageHandler.Send)
			protected.DELETE("/projects/:id/messages/:message_id", svc.messageHandler.Delete)

			// Tasks
			protected.GET("/projects/:id/tasks", svc.taskHandler.List)
			protected.POST("/projects/:id/tasks", svc.taskHandler.Create)
			protected.PUT("/projects/:id/tasks/:task_id", svc.taskHandler.Update)
			protected.DELETE("/projects/:id/tasks/:task_id", svc.taskHandler.Delete)

			// Notifications
			protected.GET("/notifications", svc.notificationHandler.List)
			protected.PUT("/notifications/:id/read", svc.notificationHandler.MarkRead)
			protected.PUT("/notifications/read-all", svc.notificationHandler.MarkAllRead)
		}

		// Admin only routes
		admin := api.Group("")
		admin.Use(middleware.AuthRequired(), middleware.AdminRequired(), middleware.AuditLog())
		{
			admin.PUT("/users/:id", svc.userHandler.Update)
			admin.DELETE("/users/:id", svc.userHandler.Delete)

			admin.GET("/system-logs", svc.systemLogHandler.List)
			admin.POST("/system-logs/cleanup", svc.systemLogHandler.Cleanup)
		}
	}
}
