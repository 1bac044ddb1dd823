package provider_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/smsbra/otp-api/internal/domain/provider"
	"github.com/smsbra/otp-api/internal/domain/provider/providertest"
)

type downInspector struct{}

func (downInspector) Balance(context.Context) (decimal.Decimal, error) {
	return decimal.Zero, fmt.Errorf("%w: get balance", provider.ErrUnavailable)
}

func (downInspector) Availability(context.Context, string) (map[string]int, error) {
	return nil, provider.Rejected(provider.ReasonBadKey, "BAD_KEY")
}

func serve(t *testing.T, insp provider.Inspector, path string) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	r := chi.NewRouter()
	provider.NewHandler(insp).RegisterAdmin(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

	var env map[string]json.RawMessage
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("invalid envelope %q: %v", w.Body.String(), err)
	}
	return w, env
}

func TestProviderBalance(t *testing.T) {
	w, env := serve(t, providertest.New(), "/provider/balance")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if string(env["data"]) != `{"balance":"100"}` {
		t.Fatalf("unexpected data %s", env["data"])
	}
}

func TestProviderAvailability(t *testing.T) {
	w, env := serve(t, providertest.New(), "/provider/availability?country=73")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var counts map[string]int
	if err := json.Unmarshal(env["data"], &counts); err != nil || counts["wa"] != 10 {
		t.Fatalf("unexpected availability %s", env["data"])
	}
}

func TestProviderHandlerErrors(t *testing.T) {
	w, _ := serve(t, downInspector{}, "/provider/balance")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}

	w, _ = serve(t, downInspector{}, "/provider/availability")
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
}
