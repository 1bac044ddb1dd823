package middleware

import (
	"net/http"
	"slices"

	"github.com/go-chi/cors"
)

// CORSHandler allows browser clients from allowedOrigins to call the user
// and admin API. Webhook headers are not listed; gateways call server to
// server.
//
// Credentials are only allowed for an explicit origin list. With "*" the
// handler would reflect any origin along with cookies.
func CORSHandler(allowedOrigins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: !slices.Contains(allowedOrigins, "*"),
		MaxAge:           300,
	})
}
