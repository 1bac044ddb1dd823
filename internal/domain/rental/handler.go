package rental

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/smsbra/otp-api/internal/middleware"
	"github.com/smsbra/otp-api/internal/pkg/errorhandler"
	"github.com/smsbra/otp-api/internal/pkg/response"
	"github.com/smsbra/otp-api/internal/pkg/validator"
)

// WebhookTokenHeader carries the shared secret on provider callbacks.
const WebhookTokenHeader = "X-Webhook-Token"

type Handler struct {
	svc          *Service
	webhookToken string
}

func NewHandler(svc *Service, webhookToken string) *Handler {
	return &Handler{svc: svc, webhookToken: webhookToken}
}

func rentalParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid rental id")
		return uuid.Nil, false
	}
	return id, true
}

// Create handles POST /rentals
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())
	if accountID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req CreateRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}
	req.AccountID = accountID

	rent, err := h.svc.Create(r.Context(), req)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}
	response.Created(w, rent)
}

// List handles GET /rentals
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())
	if accountID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	q := r.URL.Query()
	filter := ListFilter{
		Status:      Status(q.Get("status")),
		ServiceCode: q.Get("service_code"),
	}
	for name, dst := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.BadRequest(w, "invalid "+name+" timestamp, expected RFC3339")
			return
		}
		*dst = &t
	}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))

	page, err := h.svc.List(r.Context(), accountID, filter)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}
	response.WithMeta(w, page.Items, response.NewMeta(page.Total, page.Page, page.Limit))
}

// Get handles GET /rentals/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	h.withRental(w, r, func(accountID, rentalID uuid.UUID) (*Rental, error) {
		return h.svc.Status(r.Context(), accountID, rentalID)
	})
}

// Reactivate handles POST /rentals/{id}/reactivate
func (h *Handler) Reactivate(w http.ResponseWriter, r *http.Request) {
	h.withRental(w, r, func(accountID, rentalID uuid.UUID) (*Rental, error) {
		return h.svc.Reactivate(r.Context(), accountID, rentalID)
	})
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=255"`
}

// Cancel handles POST /rentals/{id}/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := response.DecodeJSON(r.Body, &req); err != nil {
			response.BadRequest(w, "invalid JSON body")
			return
		}
		if errs := validator.Validate(req); errs != nil {
			response.ValidationError(w, errs)
			return
		}
	}

	h.withRental(w, r, func(accountID, rentalID uuid.UUID) (*Rental, error) {
		return h.svc.Cancel(r.Context(), accountID, rentalID, req.Reason)
	})
}

func (h *Handler) withRental(w http.ResponseWriter, r *http.Request, fn func(accountID, rentalID uuid.UUID) (*Rental, error)) {
	accountID := middleware.GetAccountID(r.Context())
	if accountID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}
	rentalID, ok := rentalParam(w, r)
	if !ok {
		return
	}

	rent, err := fn(accountID, rentalID)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}
	response.OK(w, rent)
}

// ProviderWebhook handles POST /webhooks/provider
func (h *Handler) ProviderWebhook(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(WebhookTokenHeader)
	if h.webhookToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.webhookToken)) != 1 {
		response.Unauthorized(w, "invalid webhook token")
		return
	}

	var cb Callback
	if err := response.DecodeJSON(r.Body, &cb); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if errs := validator.Validate(cb); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	rent, err := h.svc.ProviderCallback(r.Context(), cb)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}
	response.OK(w, map[string]interface{}{"rental_id": rent.ID, "status": rent.Status})
}

// Routes mounts the account-holder endpoints under /rentals.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/reactivate", h.Reactivate)
	r.Post("/{id}/cancel", h.Cancel)
	return r
}
