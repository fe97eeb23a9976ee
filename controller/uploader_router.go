package controller

import (
	"strings"

	"chunk-upload-service/controller/handler"
	"chunk-upload-service/controller/respond"
	"chunk-upload-service/model"
	"chunk-upload-service/service/auth_service"
	"chunk-upload-service/service/upload_service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// SetupUploaderRouter setup uploader service router
func SetupUploaderRouter(controlService *upload_service.ControlService,
	authService *auth_service.AuthService) *gin.Engine {
	// Create Gin engine
	r := gin.Default()

	// Add CORS middleware
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"}, // Allow all origins, can be configured to specific domains
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Content-Length", "Accept-Encoding", "X-CSRF-Token", "Authorization", "Accept", "Cache-Control", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * 3600, // 12 hours
	}))

	// Add timing middleware
	r.Use(respond.TimingMiddleware())

	// Create handler
	uploadControlHandler := handler.NewUploadControlHandler(controlService)

	// API v1 route group, all upload routes require a verified caller
	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(authService))
	{
		uploads := v1.Group("/uploads")
		{
			// Initiate a resumable upload
			uploads.POST("", uploadControlHandler.InitiateUpload)

			// Query upload state
			uploads.GET("/:uploadId", uploadControlHandler.GetUploadState)

			// Start the chunk transfer
			uploads.POST("/:uploadId/start", uploadControlHandler.StartTransfer)

			// Apply pause/resume/retry/cancel, action addressed in the path
			for _, action := range []model.ControlAction{
				model.ActionPause, model.ActionResume, model.ActionRetry, model.ActionCancel,
			} {
				uploads.POST("/:uploadId/"+string(action), uploadControlHandler.ControlActionByPath(action))
			}

			// Same operation with the action in a JSON body
			uploads.POST("/:uploadId/control", uploadControlHandler.ApplyControlAction)
		}
	}

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "uploader",
		})
	})

	return r
}

// AuthMiddleware verify the bearer token and stash the caller's user ID in
// the request context. Requests without a valid token never reach a handler.
func AuthMiddleware(authService *auth_service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Authorization")
		token = strings.TrimPrefix(token, "Bearer ")

		userId, err := authService.Verify(token)
		if err != nil {
			respond.Unauthorized(c, "invalid or missing token")
			c.Abort()
			return
		}

		c.Set("userId", userId)
		c.Next()
	}
}
