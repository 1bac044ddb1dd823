package ledger_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smsbra/otp-api/internal/domain/ledger"
	"github.com/smsbra/otp-api/internal/middleware"
	"github.com/smsbra/otp-api/internal/pkg/jwt"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
	Meta *struct {
		Total int `json:"total"`
	} `json:"meta"`
}

func newRouter(t *testing.T, balance int64) (http.Handler, string, uuid.UUID) {
	t.Helper()
	svc, _, id := newService(t, balance)
	h := ledger.NewHandler(svc)
	jwtSvc := jwt.NewService("secret", time.Minute)

	r := chi.NewRouter()
	r.Mount("/credits", h.Routes(middleware.Auth(jwtSvc)))
	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.Auth(jwtSvc), middleware.RequireAdmin())
		h.RegisterAdmin(r)
	})

	token, err := jwtSvc.GenerateAccessToken(id, jwt.RoleAdmin)
	require.NoError(t, err)
	return r, token, id
}

func do(t *testing.T, h http.Handler, token, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func TestBalanceEndpoint(t *testing.T) {
	h, token, _ := newRouter(t, 12)

	w, env := do(t, h, token, http.MethodGet, "/credits/balance", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"balance":"12"}`, string(env.Data))
}

func TestTransactionsEndpointPaginates(t *testing.T) {
	h, token, _ := newRouter(t, 12)

	w, env := do(t, h, token, http.MethodGet, "/credits/transactions?kind=purchase&limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, env.Meta)
	assert.Equal(t, 1, env.Meta.Total)

	w, _ = do(t, h, token, http.MethodGet, "/credits/transactions?from=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = do(t, h, token, http.MethodGet, "/credits/transactions?status=weird", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", env.Error.Code)
}

func TestAdminRefundIdempotent(t *testing.T) {
	h, token, id := newRouter(t, 0)
	body := `{"amount":"6","reason":"support","reference":"ticket-42"}`

	w, _ := do(t, h, token, http.MethodPost, "/admin/accounts/"+id.String()+"/refunds", body)
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = do(t, h, token, http.MethodPost, "/admin/accounts/"+id.String()+"/refunds", body)
	require.Equal(t, http.StatusOK, w.Code)

	_, env := do(t, h, token, http.MethodGet, "/credits/balance", "")
	assert.JSONEq(t, `{"balance":"6"}`, string(env.Data))
}

func TestAdminCreditRejectsNonPositive(t *testing.T) {
	h, token, id := newRouter(t, 0)

	w, env := do(t, h, token, http.MethodPost, "/admin/accounts/"+id.String()+"/credits", `{"amount":"0"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_AMOUNT", env.Error.Code)

	w, _ = do(t, h, token, http.MethodPost, "/admin/accounts/not-a-uuid/credits", `{"amount":"1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminReconcile(t *testing.T) {
	h, token, id := newRouter(t, 9)

	w, env := do(t, h, token, http.MethodGet, "/admin/accounts/"+id.String()+"/reconcile", "")
	require.Equal(t, http.StatusOK, w.Code)

	var rec ledger.Reconciliation
	require.NoError(t, json.Unmarshal(env.Data, &rec))
	assert.True(t, rec.Consistent)
}
