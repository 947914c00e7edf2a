// Package routes provides HTTP route configuration for the presentation layer.
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fashionmirror/fashionmirror-go/internal/application/container"
	"github.com/fashionmirror/fashionmirror-go/internal/presentation/http/handlers"
	"github.com/fashionmirror/fashionmirror-go/internal/presentation/http/middleware"
)

// SetupRoutes configures all HTTP routes and middleware with dependency injection.
func SetupRoutes(container *container.Container) *gin.Engine {
	r := gin.Default()

	r.Use(middleware.CORSMiddleware(container.MerchantRegistry))

	// Initialize handlers
	widgetHandlers := handlers.NewWidgetHandlers(container.WidgetService, container.Logger, container.PerfTracker)
	tryOnHandlers := handlers.NewTryOnHandlers(
		container.SessionService,
		container.OrchestratorService,
		container.SessionStore,
		container.Logger,
		container.PerfTracker,
	)
	mediaHandlers := handlers.NewMediaHandlers(container.ImageFetcher, container.Logger, container.PerfTracker)
	wsHandlers := handlers.NewWSHandlers(container.Broadcaster, container.Logger)
	merchantHandlers := handlers.NewMerchantHandlers(
		container.MerchantRegistry, container.EmailService, container.Logger, container.PerfTracker)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":           "ok",
			"uptime":           container.PerfTracker.Uptime().String(),
			"activeOperations": container.PerfTracker.ActiveOperations(),
			"merchants":        container.MerchantRegistry.Count(),
		})
	})

	// Public onboarding routes, no merchant context yet.
	merchantAPI := r.Group("/api/v1/merchant")
	{
		merchantAPI.POST("/provision", merchantHandlers.HandleProvisionMerchant)
		merchantAPI.POST("/activation", merchantHandlers.HandleActivateMerchant)
	}

	// Websocket upgrade does its own origin check at handshake time.
	r.GET("/api/v1/widget/ws", wsHandlers.HandleWidgetWS)

	// Image proxy serves the embedded frame; session ownership, not merchant
	// context, is its access model.
	r.GET("/api/v1/fetch-image", mediaHandlers.GetFetchImage)
	r.GET("/api/v1/tryon/result/:id", tryOnHandlers.GetResult)
	r.GET("/api/v1/tryon/aggregate/:id", tryOnHandlers.GetAggregate)

	// API routes with merchant context and origin validation.
	api := r.Group("/api/v1")
	api.Use(middleware.MerchantMiddleware(container.MerchantRegistry, container.PerfTracker))
	{
		api.GET("/widget/embed", widgetHandlers.GetEmbed)

		tryon := api.Group("/tryon")
		{
			tryon.POST("/session", tryOnHandlers.PostSession)
			tryon.GET("/session/:id", tryOnHandlers.GetSession)
			tryon.POST("/session/:id/retry", tryOnHandlers.PostRetry)
			tryon.DELETE("/session/:id", tryOnHandlers.DeleteSession)
			tryon.POST("", tryOnHandlers.PostTryOn)
			tryon.POST("/progressive", tryOnHandlers.PostProgressive)
		}
	}

	return r
}
