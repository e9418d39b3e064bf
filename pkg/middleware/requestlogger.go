package middleware

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/catalogsearch/pkg/logger"
)

// RequestLogger stores a request-scoped logger in the context, enriched with
// the correlation id and the OpenTelemetry trace and span ids. Handlers
// retrieve it with logger.FromContext.
//
// Mount it after RequestLogging and Tracing so both ids are available.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
