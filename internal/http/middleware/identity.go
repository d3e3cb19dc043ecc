package middleware

import (
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderUserID carries the caller identity set by the fronting gateway.
const HeaderUserID = "X-User-ID"

// AnonymousUser is used when no identity is supplied.
const AnonymousUser = "demo-user"

const ctxKeyUserID = "userID"

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9._@\-]{1,64}$`)

// Identity stores the X-User-ID header under "userID" unless an upstream
// authenticator already set one. Malformed identities are ignored.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := c.Get(ctxKeyUserID); !ok {
			if id := strings.TrimSpace(c.GetHeader(HeaderUserID)); userIDPattern.MatchString(id) {
				c.Set(ctxKeyUserID, id)
			}
		}
		c.Next()
	}
}

// UserID returns the request identity, or AnonymousUser.
func UserID(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyUserID); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return AnonymousUser
}
