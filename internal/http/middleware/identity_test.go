package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name   string
		header string
		preset string
		want   string
	}{
		{"header", "alice", "", "alice"},
		{"trimmed", "  bob@example.org ", "", "bob@example.org"},
		{"missing", "", "", AnonymousUser},
		{"malformed", "a b<c>", "", AnonymousUser},
		{"too long", strings.Repeat("x", 65), "", AnonymousUser},
		{"upstream wins", "mallory", "carol", "carol"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			if tc.preset != "" {
				r.Use(func(c *gin.Context) { c.Set("userID", tc.preset); c.Next() })
			}
			r.Use(Identity())
			var got string
			r.GET("/", func(c *gin.Context) { got = UserID(c); c.Status(http.StatusOK) })

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set(HeaderUserID, tc.header)
			}
			r.ServeHTTP(httptest.NewRecorder(), req)
			if got != tc.want {
				t.Fatalf("UserID = %q; want %q", got, tc.want)
			}
		})
	}
}
