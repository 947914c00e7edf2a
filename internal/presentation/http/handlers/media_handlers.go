package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/media"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/observability/logging"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/observability/performance"
)

// MediaHandlers serves the same-origin image fetch proxy.
type MediaHandlers struct {
	fetcher     media.Fetcher
	logger      *logging.ChanneledLogger
	perfTracker *performance.Tracker
}

// NewMediaHandlers creates media handlers with injected dependencies
func NewMediaHandlers(fetcher media.Fetcher, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *MediaHandlers {
	return &MediaHandlers{
		fetcher:     fetcher,
		logger:      logger,
		perfTracker: perfTracker,
	}
}

// GetFetchImage proxies an external image so the embedded frame can read it
// same-origin. The upstream content type is preserved; non-image upstreams are
// rejected by the fetcher.
func (h *MediaHandlers) GetFetchImage(c *gin.Context) {
	start := time.Now()
	rawURL := c.Query("url")
	if rawURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url parameter is required"})
		return
	}

	marker := h.perfTracker.StartOperation("fetch_image_request", "")
	defer marker.Complete()

	data, contentType, err := h.fetcher.FetchImage(c.Request.Context(), rawURL)
	if err != nil {
		marker.SetError(err)
		h.logger.Media().Warn("Image proxy fetch failed", "url", rawURL, "error", err.Error())
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not fetch image"})
		return
	}

	marker.SetSuccess(true)
	h.logger.Media().Debug("Image proxy fetch completed",
		"url", rawURL, "bytes", len(data), "duration", time.Since(start))
	c.Header("Cache-Control", "public, max-age=3600")
	c.Data(http.StatusOK, contentType, data)
}
