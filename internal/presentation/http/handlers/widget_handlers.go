package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fashionmirror/fashionmirror-go/internal/application/services"
	"github.com/fashionmirror/fashionmirror-go/internal/domain/widget"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/observability/logging"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/observability/performance"
	"github.com/fashionmirror/fashionmirror-go/internal/presentation/http/middleware"
	"github.com/fashionmirror/fashionmirror-go/pkg/config"
)

// WidgetHandlers serves the host loader support endpoints.
type WidgetHandlers struct {
	widgetService *services.WidgetService
	logger        *logging.ChanneledLogger
	perfTracker   *performance.Tracker
}

// NewWidgetHandlers creates widget handlers with injected dependencies
func NewWidgetHandlers(widgetService *services.WidgetService, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *WidgetHandlers {
	return &WidgetHandlers{
		widgetService: widgetService,
		logger:        logger,
		perfTracker:   perfTracker,
	}
}

// GetEmbed builds a signed embed URL for the query's session descriptor. The
// host loader calls this once per open(); the returned widgetId pairs the
// host and frame ends of the message channel.
func (h *WidgetHandlers) GetEmbed(c *gin.Context) {
	start := time.Now()
	merchantCtx, exists := middleware.GetMerchantContext(c)
	if !exists {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "merchant context not found"})
		return
	}

	marker := h.perfTracker.StartOperation("widget_embed_request", merchantCtx.Key)
	defer marker.Complete()

	descriptor := widget.DescriptorFromQuery(c.Request.URL.Query())
	descriptor.MerchantKey = merchantCtx.Key

	instance := h.widgetService.Init(services.WidgetConfig{
		MerchantKey: merchantCtx.Key,
		Theme:       descriptor.Theme,
		Locale:      descriptor.Locale,
		Options:     descriptor.Options,
	})
	err := instance.Open(services.OpenOptions{
		MerchantKey: merchantCtx.Key,
		Product:     descriptor.Product,
		User:        descriptor.User,
		ModelImage:  descriptor.ModelImage,
		Options:     &descriptor.Options,
		Theme:       descriptor.Theme,
		Locale:      descriptor.Locale,
	})
	if err != nil {
		respondWidgetError(c, err)
		return
	}

	marker.SetSuccess(true)
	h.logger.Widget().Info("Widget embed request completed",
		"widgetId", instance.ID(), "merchantKey", merchantCtx.Key, "duration", time.Since(start))
	c.JSON(http.StatusOK, gin.H{
		"widgetId": instance.ID(),
		"embedUrl": instance.EmbedURL(),
		"version":  config.WidgetVersion,
	})
}
