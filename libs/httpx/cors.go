package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSPolicy controls cross-origin access for browser booking pages.
// ExposedHeaders lists response headers scripts on other origins may read.
type CORSPolicy struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// corsHeaders holds the header values computed once from a policy.
type corsHeaders struct {
	origins     []string
	methods     string
	allow       string
	expose      string
	maxAge      string
	credentials bool
}

func newCORSHeaders(p CORSPolicy) corsHeaders {
	h := corsHeaders{
		origins:     compact(p.AllowedOrigins),
		methods:     strings.Join(compact(p.AllowedMethods), ", "),
		allow:       strings.Join(compact(p.AllowedHeaders), ", "),
		expose:      strings.Join(compact(p.ExposedHeaders), ", "),
		credentials: p.AllowCredentials,
	}
	if secs := int(p.MaxAge / time.Second); secs > 0 {
		h.maxAge = strconv.Itoa(secs)
	}
	return h
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin.
// A wildcard is echoed back as the origin when credentials are allowed.
func (h corsHeaders) allowOrigin(origin string) (string, bool) {
	for _, o := range h.origins {
		switch {
		case o == "*" && h.credentials:
			return origin, true
		case o == "*":
			return "*", true
		case strings.EqualFold(o, origin):
			return origin, true
		}
	}
	return "", false
}

func (h corsHeaders) writePreflight(hdr http.Header) {
	setIf(hdr, "Access-Control-Allow-Methods", h.methods)
	setIf(hdr, "Access-Control-Allow-Headers", h.allow)
	setIf(hdr, "Access-Control-Max-Age", h.maxAge)
	hdr.Add("Vary", "Access-Control-Request-Method")
	hdr.Add("Vary", "Access-Control-Request-Headers")
}

// WithCORS applies policy to requests carrying an allowed Origin. Preflights
// are answered with 204 without reaching next. An empty origin list disables it.
func WithCORS(policy CORSPolicy) Middleware {
	h := newCORSHeaders(policy)
	if len(h.origins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			value, ok := h.allowOrigin(origin)
			if origin == "" || !ok {
				next.ServeHTTP(w, r)
				return
			}

			hdr := w.Header()
			hdr.Set("Access-Control-Allow-Origin", value)
			hdr.Add("Vary", "Origin")
			if h.credentials {
				hdr.Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.writePreflight(hdr)
				w.WriteHeader(http.StatusNoContent)
				return
			}
			setIf(hdr, "Access-Control-Expose-Headers", h.expose)
			next.ServeHTTP(w, r)
		})
	}
}

func setIf(hdr http.Header, key, value string) {
	if value != "" {
		hdr.Set(key, value)
	}
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
