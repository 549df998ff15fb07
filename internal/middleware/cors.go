package middleware

import (
	"net/http"
	"strings"

	"github.com/R3E-Network/draw_auditor/internal/httputil"
)

// CORS lets browser front-ends (the odds calculator) call the API.
type CORS struct {
	allowedOrigins []string
	allowAll       bool
}

// NewCORS creates the middleware. "*" allows every origin; entries starting
// with "." match subdomains.
func NewCORS(allowedOrigins []string) *CORS {
	c := &CORS{allowedOrigins: allowedOrigins}
	for _, origin := range allowedOrigins {
		if origin == "*" {
			c.allowAll = true
		}
	}
	return c
}

// Handler sets CORS headers and answers preflight requests.
func (c *CORS) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (c.allowAll || c.allowed(origin)) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+httputil.RequestIDHeader)
			w.Header().Set("Access-Control-Expose-Headers", httputil.RequestIDHeader)
			w.Header().Set("Access-Control-Max-Age", "3600")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (c *CORS) allowed(origin string) bool {
	for _, a := range c.allowedOrigins {
		if a == origin || (strings.HasPrefix(a, ".") && strings.HasSuffix(origin, a)) {
			return true
		}
	}
	return false
}
