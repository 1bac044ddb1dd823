package rental

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smsbra/otp-api/internal/middleware"
	"github.com/smsbra/otp-api/internal/pkg/jwt"
)

func newTestRouter(t *testing.T, h *harness) (http.Handler, string) {
	t.Helper()
	jwtSvc := jwt.NewService("secret", time.Minute)
	handler := NewHandler(h.svc, "hook-token")

	r := chi.NewRouter()
	r.Mount("/rentals", handler.Routes(middleware.Auth(jwtSvc)))
	r.Post("/webhooks/provider", handler.ProviderWebhook)

	token, err := jwtSvc.GenerateAccessToken(h.account, jwt.RoleUser)
	require.NoError(t, err)
	return r, token
}

func call(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) (int, map[string]json.RawMessage) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var env map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func TestRentalHTTPFlow(t *testing.T) {
	h := newHarness(t, "1.00")
	router, token := newTestRouter(t, h)
	auth := map[string]string{"Authorization": "Bearer " + token}

	code, env := call(t, router, http.MethodPost, "/rentals", `{"service_code":"wa"}`, auth)
	require.Equal(t, http.StatusCreated, code)
	var created Rental
	require.NoError(t, json.Unmarshal(env["data"], &created))
	assert.Equal(t, StatusActive, created.Status)

	code, _ = call(t, router, http.MethodPost, "/webhooks/provider",
		`{"activation_id":"`+created.ActivationID+`","status":"code_received","code":"8080"}`,
		map[string]string{WebhookTokenHeader: "hook-token"})
	require.Equal(t, http.StatusOK, code)

	code, env = call(t, router, http.MethodGet, "/rentals/"+created.ID.String(), "", auth)
	require.Equal(t, http.StatusOK, code)
	var got Rental
	require.NoError(t, json.Unmarshal(env["data"], &got))
	assert.Equal(t, StatusCompleted, got.Status)

	code, env = call(t, router, http.MethodPost, "/rentals/"+created.ID.String()+"/cancel", "", auth)
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, string(env["error"]), "INVALID_STATE")

	code, env = call(t, router, http.MethodGet, "/rentals?status=completed", "", auth)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env["meta"]), `"total":1`)
}

func TestRentalHTTPErrors(t *testing.T) {
	h := newHarness(t, "0.10")
	router, token := newTestRouter(t, h)
	auth := map[string]string{"Authorization": "Bearer " + token}

	code, env := call(t, router, http.MethodPost, "/rentals", `{"service_code":"wa"}`, auth)
	assert.Equal(t, http.StatusPaymentRequired, code)
	assert.Contains(t, string(env["error"]), "INSUFFICIENT_CREDITS")

	code, _ = call(t, router, http.MethodPost, "/rentals", `{"service_code":"WA!"}`, auth)
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, _ = call(t, router, http.MethodGet, "/rentals/not-a-uuid", "", auth)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = call(t, router, http.MethodPost, "/rentals", `{"service_code":"wa"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestProviderWebhookRequiresToken(t *testing.T) {
	h := newHarness(t, "1.00")
	router, _ := newTestRouter(t, h)

	code, _ := call(t, router, http.MethodPost, "/webhooks/provider", `{"activation_id":"act-1","code":"1"}`,
		map[string]string{WebhookTokenHeader: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = call(t, router, http.MethodPost, "/webhooks/provider", `{"activation_id":"act-1","code":"1"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = call(t, router, http.MethodPost, "/webhooks/provider", `{"activation_id":"missing","code":"1"}`,
		map[string]string{WebhookTokenHeader: "hook-token"})
	assert.Equal(t, http.StatusNotFound, code)
}
