package ledger

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

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

// Balance handles GET /credits/balance
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())
	if accountID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	balance, err := h.svc.Balance(r.Context(), accountID)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}
	response.OK(w, map[string]interface{}{"balance": balance})
}

// Transactions handles GET /credits/transactions
func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())
	if accountID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	filter, msg := parseFilter(r)
	if msg != "" {
		response.BadRequest(w, msg)
		return
	}

	page, err := h.svc.History(r.Context(), accountID, filter)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}
	response.WithMeta(w, page.Items, response.NewMeta(page.Total, page.Page, page.Limit))
}

// Stats handles GET /credits/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())
	if accountID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	stats, err := h.svc.Stats(r.Context(), accountID)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}
	response.OK(w, stats)
}

func parseFilter(r *http.Request) (HistoryFilter, string) {
	q := r.URL.Query()
	var f HistoryFilter

	if raw := q.Get("kind"); raw != "" {
		for _, k := range strings.Split(raw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				f.Kinds = append(f.Kinds, Kind(k))
			}
		}
	}
	f.Status = Status(q.Get("status"))

	for name, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, "invalid " + name + " timestamp, expected RFC3339"
		}
		*dst = &t
	}

	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return f, "invalid page"
		}
		f.Page = n
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return f, "invalid limit"
		}
		f.Limit = n
	}
	return f, ""
}

type creditRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" validate:"max=255"`
	Gateway     string          `json:"gateway" validate:"omitempty,gateway"`
	Reference   string          `json:"reference" validate:"max=128"`
}

type refundRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason" validate:"required,max=255"`
	Reference string          `json:"reference" validate:"required,max=128"`
}

func accountParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid account id")
		return uuid.Nil, false
	}
	return id, true
}

// AdminCredit handles POST /admin/accounts/{id}/credits
func (h *Handler) AdminCredit(w http.ResponseWriter, r *http.Request) {
	id, ok := accountParam(w, r)
	if !ok {
		return
	}

	var req creditRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	description := req.Description
	if description == "" {
		description = "manual credit"
	}
	t, err := h.svc.Credit(r.Context(), id, req.Amount, KindPurchase, Meta{
		Description: description,
		Gateway:     req.Gateway,
		Reference:   req.Reference,
		Fields:      Metadata{"issued_by": middleware.GetAccountID(r.Context()).String()},
	})
	if err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}
	response.Created(w, t)
}

// AdminRefund handles POST /admin/accounts/{id}/refunds
func (h *Handler) AdminRefund(w http.ResponseWriter, r *http.Request) {
	id, ok := accountParam(w, r)
	if !ok {
		return
	}

	var req refundRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	t, err := h.svc.Refund(r.Context(), id, req.Amount, req.Reason, req.Reference)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}
	response.OK(w, t)
}

// AdminReconcile handles GET /admin/accounts/{id}/reconcile
func (h *Handler) AdminReconcile(w http.ResponseWriter, r *http.Request) {
	id, ok := accountParam(w, r)
	if !ok {
		return
	}

	rec, err := h.svc.Reconcile(r.Context(), id)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}
	response.OK(w, rec)
}

// Routes mounts the account-holder endpoints under /credits.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/balance", h.Balance)
	r.Get("/transactions", h.Transactions)
	r.Get("/stats", h.Stats)
	return r
}

// RegisterAdmin adds operator endpoints to an already guarded admin router.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/accounts/{id}/credits", h.AdminCredit)
	r.Post("/accounts/{id}/refunds", h.AdminRefund)
	r.Get("/accounts/{id}/reconcile", h.AdminReconcile)
}
