package middleware

import (
	"net/url"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/merchant"
)

// CORSMiddleware allows localhost development origins plus any origin some
// active merchant has registered. The widget is embedded cross-origin on
// merchant storefronts, so the allowlist is the merchant registry itself.
func CORSMiddleware(registry *merchant.Registry) gin.HandlerFunc {
	config := cors.Config{
		AllowOriginFunc: func(origin string) bool {
			if isLocalOrigin(origin) {
				return true
			}
			return registry.AnyOriginAllowed(origin)
		},
		AllowMethods: []string{
			"GET", "POST", "PUT", "DELETE", "OPTIONS",
		},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept", "Authorization",
			"X-Merchant-Key", "X-Widget-ID", "X-Requested-With",
			"Cache-Control",
		},
		AllowCredentials: true,
		ExposeHeaders: []string{
			"Content-Type", "Cache-Control", "Connection",
		},
	}

	return cors.New(config)
}

func isLocalOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1" ||
		strings.HasSuffix(host, ".localhost")
}
