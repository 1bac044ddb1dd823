package account

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/smsbra/otp-api/internal/middleware"
	"github.com/smsbra/otp-api/internal/pkg/errorhandler"
	"github.com/smsbra/otp-api/internal/pkg/response"
	"github.com/smsbra/otp-api/internal/pkg/validator"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Me handles GET /accounts/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())
	if accountID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	a, err := h.svc.Get(r.Context(), accountID)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}
	response.OK(w, a)
}

// Create handles POST /admin/accounts
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	a, err := h.svc.Create(r.Context(), req)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}
	response.Created(w, a)
}

type statusRequest struct {
	Active *bool `json:"active" validate:"required"`
}

// SetStatus handles POST /admin/accounts/{id}/status
func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid account id")
		return
	}

	var req statusRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	if err := h.svc.SetActive(r.Context(), id, *req.Active); err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}
	response.OK(w, map[string]interface{}{"id": id, "active": *req.Active})
}

// Routes mounts the account-holder endpoints under /accounts.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/me", h.Me)
	return r
}

// RegisterAdmin adds operator endpoints to an already guarded admin router.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/accounts", h.Create)
	r.Post("/accounts/{id}/status", h.SetStatus)
}
