package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yanqian/rag-service/internal/infra/config"
)

// NewRouter wires up the HTTP handlers and returns a configured server.
func NewRouter(cfg *config.Config, handler *Handler) *http.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(
		gin.Recovery(),
		errorHandlingMiddleware(handler.logger),
		requestLogger(handler.logger),
		corsMiddleware(cfg.HTTP.AllowedOrigins),
		rateLimitMiddleware(cfg.HTTP.RateLimit, handler.logger),
	)

	api := router.Group("/api/v1")
	{
		authRoutes := api.Group("/auth")
		{
			authRoutes.POST("/register", handler.Register)
			authRoutes.POST("/login", handler.Login)
			authRoutes.POST("/refresh", handler.Refresh)
			authRoutes.GET("/google/login", handler.GoogleLogin)
			authRoutes.GET("/google/callback", handler.GoogleCallback)
		}

		protected := api.Group("/")
		protected.Use(authMiddleware(handler.authSvc))
		{
			protected.POST("/auth/logout", handler.Logout)
			protected.GET("/auth/me", handler.Profile)

			workspaces := protected.Group("/workspaces")
			{
				workspaces.POST("", handler.CreateWorkspace)
				workspaces.GET("", handler.ListWorkspaces)
				workspaces.GET("/:id", handler.GetWorkspace)
				workspaces.PUT("/:id", handler.UpdateWorkspace)
				workspaces.POST("/:id/archive", handler.ArchiveWorkspace)
				workspaces.POST("/:id/share", handler.ShareWorkspace)
				workspaces.GET("/:id/acl", handler.ListWorkspaceACL)
				workspaces.POST("/:id/acl", handler.GrantWorkspaceACL)
				workspaces.DELETE("/:id/acl/:userId", handler.RevokeWorkspaceACL)

				workspaces.POST("/:id/documents", handler.UploadDocument)
				workspaces.GET("/:id/documents", handler.ListDocuments)
				workspaces.GET("/:id/documents/:docId", handler.GetDocument)
				workspaces.DELETE("/:id/documents/:docId", handler.DeleteDocument)
				workspaces.GET("/:id/documents/:docId/download", handler.DownloadDocument)
				workspaces.GET("/:id/documents/:docId/status", handler.DocumentStatus)
				workspaces.POST("/:id/documents/:docId/reprocess", handler.ReprocessDocument)
				workspaces.POST("/:id/documents/:docId/cancel", handler.CancelDocumentProcessing)

				workspaces.POST("/:id/conversations", handler.CreateConversation)
				workspaces.GET("/:id/conversations/:convId/messages", handler.GetConversationHistory)
				workspaces.DELETE("/:id/conversations/:convId", handler.ClearConversation)

				workspaces.POST("/:id/ask", handler.AskQuestion)
				workspaces.POST("/:id/ask/stream", handler.AskQuestionStream)
			}
		}
	}

	return &http.Server{
		Addr:           cfg.HTTP.Address,
		Handler:        withRetry(router, cfg.HTTP.Retry, handler.logger),
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("http request", "method", c.Request.Method, "path", c.Request.URL.Path, "status", c.Writer.Status(), "latency_ms", latency.Milliseconds())
	}
}
