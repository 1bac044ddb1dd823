package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewMeta(t *testing.T) {
	tests := []struct {
		name             string
		total, page, lim int
		wantPages        int
		wantNext         bool
		wantPrev         bool
	}{
		{"empty", 0, 1, 20, 0, false, false},
		{"single page", 5, 1, 20, 1, false, false},
		{"middle page", 45, 2, 20, 3, true, true},
		{"last page", 45, 3, 20, 3, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMeta(tt.total, tt.page, tt.lim)
			if m.Pages != tt.wantPages || m.HasNext != tt.wantNext || m.HasPrev != tt.wantPrev {
				t.Fatalf("unexpected meta: %+v", m)
			}
		})
	}
}

func TestErrorEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusConflict, "INVALID_STATE", "rental is not active")

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}

	var resp Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if resp.Success || resp.Error == nil || resp.Error.Code != "INVALID_STATE" {
		t.Fatalf("unexpected envelope: %+v", resp)
	}
}
