package router

import (
	"Zhixue-Auto-Marking-Backend/internal/api"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func SetupRouter(gradingHandler *api.GradingHandler, allowedOrigins []string) *gin.Engine {
	r := gin.Default()

	config := cors.DefaultConfig()
	config.AllowOrigins = allowedOrigins
	config.AllowHeaders = append(config.AllowHeaders, "Content-Type")
	r.Use(cors.New(config))

	apiV1 := r.Group("/api/v1")
	{
		apiV1.POST("/session/start", gradingHandler.StartSessionHandler)
		apiV1.POST("/session/confirm-login", gradingHandler.ConfirmLoginHandler)
		apiV1.POST("/session/close", gradingHandler.CloseSessionHandler)
		apiV1.POST("/grading/start", gradingHandler.StartGradingHandler)
		apiV1.POST("/grading/stop", gradingHandler.StopGradingHandler)
		apiV1.POST("/grading/decision", gradingHandler.DecisionHandler)
		apiV1.GET("/status", gradingHandler.StatusHandler)
		apiV1.GET("/health", func(c *gin.Context) {
			c.JSON(200, gin.H{"status": "UP"})
		})
	}

	return r
}
