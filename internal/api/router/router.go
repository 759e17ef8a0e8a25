package router

import (
	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/predict-dispatch/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	healthHandler := handler.NewHealthHandler(deps)
	r.GET("/health", healthHandler.Health)

	predictHandler := handler.NewPredictHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// POST /api/v1/predict - Submit features and wait for the prediction
		v1.POST("/predict", predictHandler.Predict)

		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Submit features without waiting
			jobs.POST("", predictHandler.SubmitJob)

			// GET /api/v1/jobs/:job_id/result - Wait for and consume a job result
			jobs.GET("/:job_id/result", predictHandler.GetJobResult)
		}
	}

	return r
}
