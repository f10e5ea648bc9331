package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	emaildelivery "github.com/CafeIT25/pmo-agent/internal/email/delivery"
	taskdelivery "github.com/CafeIT25/pmo-agent/internal/task/delivery"
)

// identity pulls the caller's user id from the X-User-ID header. The service
// sits behind a gateway that authenticates requests and forwards identity.
func identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-User-ID")
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing X-User-ID header"})
			return
		}
		c.Set("userID", userID)
		c.Next()
	}
}

// SetupRoutes wires all HTTP endpoints.
func SetupRoutes(r *gin.Engine, taskHandler *taskdelivery.TaskHandler, emailHandler *emaildelivery.EmailHandler) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiGroup := r.Group("/api", identity())
	{
		tasks := apiGroup.Group("/tasks")
		{
			tasks.GET("", taskHandler.GetTasks)
			tasks.POST("", taskHandler.CreateTask)
			tasks.GET("/:id", taskHandler.GetTaskByID)
			tasks.PUT("/:id", taskHandler.UpdateTask)
			tasks.DELETE("/:id", taskHandler.DeleteTask)
			tasks.PATCH("/:id/status", taskHandler.UpdateTaskStatus)
			tasks.GET("/:id/history", taskHandler.GetTaskHistory)
			tasks.GET("/:id/ai-supports", taskHandler.GetTaskAISupports)
		}

		accounts := apiGroup.Group("/accounts")
		{
			accounts.POST("", emailHandler.ConnectAccount)
			accounts.GET("", emailHandler.GetAccounts)
			accounts.POST("/:id/sync", emailHandler.TriggerSync)
		}

		apiGroup.GET("/jobs/:id", emailHandler.GetJob)
		apiGroup.GET("/sync-jobs", emailHandler.GetSyncJobs)
		apiGroup.GET("/usage/monthly", emailHandler.GetMonthlyUsage)
	}
}
