package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"vod-publisher/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", healthHandler(deps))

	jobHandler := handler.NewJobHandler(deps)

	v1 := r.Group("/api/v1")
	{
		// POST /api/v1/manifests - Submit a batch of videos to publish
		v1.POST("/manifests", jobHandler.SubmitManifest)

		jobs := v1.Group("/jobs")
		{
			// GET /api/v1/jobs - List a channel's jobs with pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job status
			jobs.GET("/:job_id", jobHandler.GetJob)

			// POST /api/v1/jobs/:job_id/cancel - Cancel a waiting job
			jobs.POST("/:job_id/cancel", jobHandler.CancelJob)
		}

		history := v1.Group("/channels/:channel_id/history")
		{
			// GET  /api/v1/channels/:channel_id/history/published
			history.GET("/published", jobHandler.ListPublishedHistory)

			// GET  /api/v1/channels/:channel_id/history/failed
			history.GET("/failed", jobHandler.ListFailedHistory)

			// POST /api/v1/channels/:channel_id/history/refresh
			history.POST("/refresh", jobHandler.RefreshHistory)
		}
	}

	return r
}

func healthHandler(deps *handler.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}
		healthy := true

		if deps.DBHealth != nil {
			if err := deps.DBHealth.HealthCheck(c.Request.Context()); err != nil {
				checks["database"] = err.Error()
				healthy = false
			} else {
				checks["database"] = "ok"
			}
		}

		if deps.CacheHealth != nil {
			if err := deps.CacheHealth.HealthCheck(c.Request.Context()); err != nil {
				checks["cache"] = err.Error()
				healthy = false
			} else {
				checks["cache"] = "ok"
			}
		}

		status := http.StatusOK
		state := "healthy"
		if !healthy {
			status = http.StatusServiceUnavailable
			state = "degraded"
		}

		c.JSON(status, gin.H{
			"status":  state,
			"service": "vod-publisher-api",
			"checks":  checks,
		})
	}
}
