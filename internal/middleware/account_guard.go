package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/smsbra/otp-api/internal/pkg/errorhandler"
	"github.com/smsbra/otp-api/internal/pkg/response"
)

// ActiveCheck returns an error unless the account may spend or buy credits.
type ActiveCheck func(ctx context.Context, accountID uuid.UUID) error

// RequireActiveAccount blocks authenticated requests from disabled accounts.
// It must run after Auth.
func RequireActiveAccount(check ActiveCheck) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accountID := GetAccountID(r.Context())
			if accountID == uuid.Nil {
				response.Unauthorized(w, "Authentication required")
				return
			}

			if err := check(r.Context(), accountID); err != nil {
				errorhandler.HandleError(r.Context(), w, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
