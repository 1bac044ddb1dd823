package provider

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/smsbra/otp-api/internal/pkg/errorhandler"
	"github.com/smsbra/otp-api/internal/pkg/response"
)

// Handler serves operator views of the upstream provider account.
type Handler struct {
	inspector Inspector
}

func NewHandler(inspector Inspector) *Handler {
	return &Handler{inspector: inspector}
}

// Balance handles GET /admin/provider/balance
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.inspector.Balance(r.Context())
	if err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}
	response.OK(w, map[string]interface{}{"balance": balance})
}

// Availability handles GET /admin/provider/availability?country=<id>
func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	counts, err := h.inspector.Availability(r.Context(), r.URL.Query().Get("country"))
	if err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}
	response.OK(w, counts)
}

// RegisterAdmin adds operator endpoints to an already guarded admin router.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Get("/provider/balance", h.Balance)
	r.Get("/provider/availability", h.Availability)
}
