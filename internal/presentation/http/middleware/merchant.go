package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/merchant"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/observability/performance"
)

const merchantContextKey = "merchantContext"

// MerchantContext carries the resolved merchant for one request.
type MerchantContext struct {
	Key  string
	Info *merchant.Info
}

// MerchantMiddleware resolves the merchant key from the X-Merchant-Key header
// or the merchantKey query parameter and validates the request origin against
// the merchant's registered origins. Requests from foreign origins are
// rejected before any handler runs.
func MerchantMiddleware(registry *merchant.Registry, perfTracker *performance.Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip OPTIONS requests (CORS preflight)
		if c.Request.Method == "OPTIONS" {
			c.Next()
			return
		}

		key := c.GetHeader("X-Merchant-Key")
		if key == "" {
			key = c.Query("merchantKey")
		}
		if key == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "merchant key required"})
			c.Abort()
			return
		}

		marker := perfTracker.StartOperation("merchant_resolution", key)
		defer marker.Complete()

		info, ok := registry.Lookup(key)
		if !ok && !isLocalHost(c.Request.Host) {
			marker.SetSuccess(false)
			c.JSON(http.StatusForbidden, gin.H{"error": "unknown merchant key"})
			c.Abort()
			return
		}

		origin := c.GetHeader("Origin")
		if origin != "" && !registry.OriginAllowed(key, origin) {
			marker.SetSuccess(false)
			c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed for merchant"})
			c.Abort()
			return
		}

		c.Set(merchantContextKey, &MerchantContext{Key: key, Info: info})
		marker.SetSuccess(true)
		c.Next()
	}
}

// GetMerchantContext returns the merchant context set by MerchantMiddleware.
func GetMerchantContext(c *gin.Context) (*MerchantContext, bool) {
	value, exists := c.Get(merchantContextKey)
	if !exists {
		return nil, false
	}
	ctx, ok := value.(*MerchantContext)
	return ctx, ok
}

func isLocalHost(host string) bool {
	return strings.HasPrefix(host, "localhost:") ||
		strings.HasPrefix(host, "127.0.0.1:") ||
		strings.HasPrefix(host, "[::1]:") ||
		host == "localhost" || host == "127.0.0.1"
}
