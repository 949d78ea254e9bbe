// Package middleware holds the HTTP middleware specific to the scansplit server.
package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/scansplit/internal/logging"
)

// Logger writes one structured line per request once the handler returns.
//
// Fields: method, path, status, bytes, duration_ms, ip and user_agent. The
// request ID from chi's RequestID middleware is attached by
// logging.FromContext. Health probes log at debug level so they do not
// drown out upload traffic. Event streams are logged when they close.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		level := slog.LevelInfo
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			level = slog.LevelDebug
		}

		logging.FromContext(r.Context()).Log(r.Context(), level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", clientAddr(r),
			"user_agent", r.UserAgent(),
		)
	})
}

// clientAddr strips the port that RemoteAddr carries when TrustedRealIP
// left it untouched.
func clientAddr(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
