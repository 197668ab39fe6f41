package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/jmcleod/chorus/auth"
)

// bearerToken returns the token from an "Authorization: Bearer <token>"
// header, or "" when there is none.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// authSources collects the credentials presented with r. Cookies that fail
// to open are ignored.
func (a *API) authSources(r *http.Request) []auth.AuthSource {
	var sources []auth.AuthSource
	if token := bearerToken(r); token != "" {
		sources = append(sources, auth.BearerToken{Token: token})
	}
	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		cs, err := a.cookies.Decode(c.Value)
		if err == nil {
			sources = append(sources, cs)
		} else {
			a.logger.DebugContext(r.Context(), "ignoring session cookie", "error", err)
		}
	}
	return sources
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}

// RequestLogger logs one line per request through logger.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.InfoContext(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", chimw.GetReqID(r.Context()),
			)
		})
	}
}
