package catalog

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/smsbra/otp-api/internal/pkg/errorhandler"
	"github.com/smsbra/otp-api/internal/pkg/response"
	"github.com/smsbra/otp-api/internal/pkg/validator"
)

type Handler struct {
	catalog *Catalog
}

func NewHandler(c *Catalog) *Handler {
	return &Handler{catalog: c}
}

// List handles GET /services
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.catalog.ListActive(r.Context())
	if err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}
	response.OK(w, items)
}

// Get handles GET /services/{code}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.catalog.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}
	response.OK(w, s)
}

// Upsert handles PUT /admin/services
func (h *Handler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req UpsertRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	s, err := h.catalog.Upsert(r.Context(), req)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}
	response.OK(w, s)
}

// Routes mounts the public catalog under /services.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Get("/{code}", h.Get)
	return r
}

// RegisterAdmin adds operator endpoints to an already guarded admin router.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Put("/services", h.Upsert)
}
