// Package middleware provides HTTP middlewares that feed the observability pipeline.
package middleware

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/httplog/v3"
	"go.opentelemetry.io/otel/propagation"
)

// TraceContext extracts W3C trace context sent by the client so that log records
// written while handling the request carry the caller's trace and span IDs.
func TraceContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := propagation.TraceContext{}.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Logging logs HTTP requests with method, path, status, and duration.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return httplog.RequestLogger(logger, &httplog.Options{
		Schema: httplog.SchemaECS.Concise(true),

		// Request bodies may carry trust decisions from the IDE, never log them
		LogRequestHeaders:  []string{"Content-Type", "Origin"},
		LogResponseHeaders: []string{},
		LogRequestBody:     nil,
		LogResponseBody:    nil,

		RecoverPanics: false, // use dedicated middleware, panics are logged regardless
	})
}
