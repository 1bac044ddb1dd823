package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5"

	"github.com/smsbra/otp-api/internal/pkg/logger"
	"github.com/smsbra/otp-api/internal/pkg/metrics"
	"github.com/smsbra/otp-api/internal/pkg/response"
)

// Recover turns a handler panic into a 500, logged with the request's
// logger and counted per route in m (which may be nil).
// http.ErrAbortHandler is re-raised so net/http can drop the connection.
func Recover(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				route := "unmatched"
				if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
					route = rctx.RoutePattern()
				}
				m.Panic(route)

				logger.FromContext(r.Context()).Error().
					Interface("error", rec).
					Str("stack", string(debug.Stack())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("route", route).
					Msg("Panic recovered")

				response.InternalError(w)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
