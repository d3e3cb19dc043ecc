// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file sets conservative security headers for the JSON API and cache
// headers for content-addressed image assets.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// SecurityOptions configures SecurityHeaders.
type SecurityOptions struct {
	EnableHSTS   bool          // only honored on HTTPS requests
	HSTSMaxAge   time.Duration // defaults to 180 days
	NoStore      bool          // Cache-Control: no-store on API responses
	EnablePolicy bool          // Permissions-Policy and friends
}

// SecurityHeaders adds baseline hardening headers and exposes X-Request-ID
// and Idempotency-Replayed to browser clients.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := int(opt.HSTSMaxAge.Seconds())
	if maxAge <= 0 {
		maxAge = int((180 * 24 * time.Hour).Seconds())
	}
	hsts := "max-age=" + strconv.Itoa(maxAge) + "; includeSubDomains; preload"

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if opt.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}
		if opt.NoStore {
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
			h.Set("Expires", "0")
		}
		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}
		exposeHeaders(h, requestIDHeader, HeaderIdempotencyReplayed)

		c.Next()
	}
}

// ImmutableAssets marks responses as cacheable forever. Asset keys are
// content digests, so a URL never changes meaning.
func ImmutableAssets(maxAge time.Duration) gin.HandlerFunc {
	if maxAge <= 0 {
		maxAge = 365 * 24 * time.Hour
	}
	val := "public, max-age=" + strconv.Itoa(int(maxAge.Seconds())) + ", immutable"
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Cache-Control", val)
		h.Del("Pragma")
		h.Del("Expires")
		c.Next()
	}
}

func exposeHeaders(h http.Header, names ...string) {
	const hdr = "Access-Control-Expose-Headers"
	cur := h.Get(hdr)
	for _, n := range names {
		if strings.Contains(cur, n) {
			continue
		}
		if cur == "" {
			cur = n
		} else {
			cur += ", " + n
		}
	}
	if cur != "" {
		h.Set(hdr, cur)
	}
}

// isHTTPS reports TLS either directly or via X-Forwarded-Proto.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
