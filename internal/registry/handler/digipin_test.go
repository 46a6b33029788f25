package handler_test

import (
	"net/http"
	"testing"

	"go.uber.org/zap"

	"github.com/resolutionconsent/digipin/internal/geocodec"
	"github.com/resolutionconsent/digipin/internal/registry/handler"
)

func setupDigiPinRouter(t *testing.T) http.Handler {
	t.Helper()
	r, v1 := newRouter()
	handler.NewDigiPinHandler(zap.NewNop()).Register(v1)
	return r
}

func TestEncode_200(t *testing.T) {
	router := setupDigiPinRouter(t)

	w, resp := do(t, router, http.MethodGet, "/api/v1/digipin?lat=28.6139&lon=77.209", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	want, _ := geocodec.Encode(28.6139, 77.209)
	if resp["digipin"] != want {
		t.Errorf("digipin = %v, want %s", resp["digipin"], want)
	}
}

func TestEncode_400(t *testing.T) {
	router := setupDigiPinRouter(t)
	for _, q := range []string{"?lat=abc&lon=77", "?lon=77", "?lat=40&lon=77", "?lat=20&lon=100"} {
		w, _ := do(t, router, http.MethodGet, "/api/v1/digipin"+q, "", nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, w.Code)
		}
	}
}

func TestDecode(t *testing.T) {
	router := setupDigiPinRouter(t)
	code, _ := geocodec.Encode(12.9716, 77.5946)

	// Separators are optional and lookup is case-insensitive.
	w, resp := do(t, router, http.MethodGet, "/api/v1/digipin/"+geocodec.Normalize(code), "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if resp["digipin"] != code {
		t.Errorf("digipin = %v, want %s", resp["digipin"], code)
	}
	cell := resp["cell"].(map[string]any)
	if lat := 12.9716; lat < cell["min_lat"].(float64) || lat > cell["max_lat"].(float64) {
		t.Errorf("cell %v does not contain the encoded latitude", cell)
	}

	w, _ = do(t, router, http.MethodGet, "/api/v1/digipin/XYZ", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid code: expected 400, got %d", w.Code)
	}
}
