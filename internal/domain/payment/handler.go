package payment

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/smsbra/otp-api/internal/middleware"
	"github.com/smsbra/otp-api/internal/pkg/errorhandler"
	"github.com/smsbra/otp-api/internal/pkg/response"
	"github.com/smsbra/otp-api/internal/pkg/signature"
	"github.com/smsbra/otp-api/internal/pkg/validator"
)

const maxCallbackBody = 64 << 10

// Handler handles payment HTTP requests
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// ListPackages handles GET /payments/packages
func (h *Handler) ListPackages(w http.ResponseWriter, r *http.Request) {
	response.OK(w, h.svc.Packages())
}

// CreatePurchase handles POST /payments/purchases
func (h *Handler) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())
	if accountID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req PurchaseRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}
	req.AccountID = accountID

	out, err := h.svc.Purchase(r.Context(), req)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}
	response.Created(w, out)
}

// Webhook handles POST /webhooks/payments. The signature covers the raw
// body, so it is checked before anything is decoded.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBody))
	if err != nil {
		response.BadRequest(w, "unreadable body")
		return
	}
	if err := h.svc.VerifySignature(body, r.Header.Get(signature.Header)); err != nil {
		response.Unauthorized(w, "invalid signature")
		return
	}

	var cb Callback
	if err := json.Unmarshal(body, &cb); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if errs := validator.Validate(cb); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	out, err := h.svc.Settle(r.Context(), cb, body)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}
	response.OK(w, out)
}

// Events handles GET /admin/payments/{gateway}/{reference}/events
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.Events(r.Context(), chi.URLParam(r, "gateway"), chi.URLParam(r, "reference"))
	if err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}
	response.OK(w, events)
}

// Routes mounts the account-holder endpoints under /payments.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/packages", h.ListPackages)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/purchases", h.CreatePurchase)
	})
	return r
}

// WebhookRoutes returns the gateway callback router (signature, no JWT).
func (h *Handler) WebhookRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Webhook)
	return r
}

// RegisterAdmin adds operator endpoints to an already guarded admin router.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Get("/payments/{gateway}/{reference}/events", h.Events)
}
