package api

import (
	"alcyxob/coaching-app/internal/domain"
	"alcyxob/coaching-app/internal/service"
	"net/http"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(
	router *gin.Engine,
	authService service.AuthService,
	generationService service.GenerationService,
) {
	authHandler := NewAuthHandler(authService)
	generationHandler := NewGenerationHandler(generationService)

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	apiV1 := router.Group("/api/v1")
	{
		authGroup := apiV1.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
		}
	}

	protected := apiV1.Group("")
	protected.Use(AuthMiddleware(authService))
	{
		protected.GET("/me", func(c *gin.Context) {
			userID, err := getUserIDFromContext(c)
			if err != nil {
				abortWithError(c, http.StatusInternalServerError, "Failed to get user ID from token")
				return
			}
			role, _ := getUserRoleFromContext(c)
			c.JSON(http.StatusOK, gin.H{"userId": userID.Hex(), "role": role})
		})

		coach := protected.Group("/coach")
		coach.Use(RoleMiddleware(domain.RoleCoach))
		{
			templates := coach.Group("/templates/:templateId")
			{
				templates.POST("/preview", generationHandler.Preview)
				templates.POST("/generate", generationHandler.Generate)
				templates.POST("/generate/bulk", generationHandler.BulkGenerate)
				templates.GET("/records", generationHandler.GetTemplateRecords)
				templates.GET("/usage", generationHandler.GetTemplateUsage)
			}

			coach.GET("/series/:seriesId/records", generationHandler.GetSeriesRecords)
			coach.GET("/series/:seriesId/calendar.ics", generationHandler.GetSeriesCalendar)

			coach.GET("/batches/:batchId/records", generationHandler.GetBatchRecords)
			coach.POST("/batches/:batchId/report", generationHandler.ExportBatchReport)
		}
	}
}
