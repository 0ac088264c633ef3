package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pixelmint/genstudio/internal/api/handler"
	"github.com/pixelmint/genstudio/internal/observability"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "genstudio-api",
		})
	})

	// Prometheus scrape endpoint
	r.GET("/metrics", gin.WrapH(observability.Handler()))

	jobHandler := handler.NewJobHandler(deps)
	creditHandler := handler.NewCreditHandler(deps)
	callbackHandler := handler.NewCallbackHandler(deps)
	wsHandler := handler.NewWSHandler(deps)

	// Websocket notification stream
	r.GET("/ws", wsHandler.ServeWS)

	// Generator completion callbacks
	callback := r.Group("/callback")
	{
		callback.POST("/task-complete", callbackHandler.TaskComplete)
		callback.POST("/task-failed", callbackHandler.TaskFailed)
	}

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Submit a new generation job
			jobs.POST("", jobHandler.SubmitJob)

			// GET /api/v1/jobs - List jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job details
			jobs.GET("/:job_id", jobHandler.GetJob)

			// POST /api/v1/jobs/:job_id/cancel - Cancel a job and refund
			jobs.POST("/:job_id/cancel", jobHandler.CancelJob)
		}

		credits := v1.Group("/credits")
		{
			// GET /api/v1/credits/:user_id - Current balance
			credits.GET("/:user_id", creditHandler.GetBalance)

			// GET /api/v1/credits/:user_id/check - Pre-flight affordability check
			credits.GET("/:user_id/check", creditHandler.CheckBalance)

			// GET /api/v1/credits/:user_id/transactions - Ledger history
			credits.GET("/:user_id/transactions", creditHandler.ListTransactions)

			// POST /api/v1/credits/:user_id/recharge - Add credits
			credits.POST("/:user_id/recharge", creditHandler.Recharge)
		}
	}

	return r
}
