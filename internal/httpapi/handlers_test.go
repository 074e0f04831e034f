package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Jcrispin99/gym-app-sub001/internal/cache"
	"github.com/Jcrispin99/gym-app-sub001/internal/service"
	"github.com/Jcrispin99/gym-app-sub001/internal/store/memory"
)

// newTestAPI builds a full API over the in-memory store so handler tests
// exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	svc := service.New(repo, cache.NoopStockCache{}, logger, 1, 5*time.Second)

	return New(svc, logger, "*")
}

func doJSON(t *testing.T, handler http.Handler, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Buffer
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func TestHandleHealth(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
}

func TestListSeriesFiltersByDocumentType(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/series?document_type=nota_credito", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	series, ok := body["series"].([]any)
	if !ok || len(series) != 2 {
		t.Fatalf("expected the 2 seeded credit-note series, got %v", body["series"])
	}
}

func TestSeriesNextAndPreview(t *testing.T) {
	handler := newTestAPI(t).Handler()

	// Seeded series ids are assigned in insertion order; B01 is 1.
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/series/1/preview", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("preview: expected 200, got %d", rec.Code)
	}
	preview := decodeBody(t, rec)["number"].(map[string]any)
	if preview["correlative"] != "00000001" {
		t.Fatalf("expected preview 00000001, got %v", preview["correlative"])
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/series/1/next", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("next: expected 200, got %d", rec.Code)
	}
	allocated := decodeBody(t, rec)["number"].(map[string]any)
	if allocated["correlative"] != "00000001" {
		t.Fatalf("expected allocation to match preview, got %v", allocated["correlative"])
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/series/1/preview", nil)
	preview = decodeBody(t, rec)["number"].(map[string]any)
	if preview["correlative"] != "00000002" {
		t.Fatalf("expected next preview 00000002, got %v", preview["correlative"])
	}
}

func TestSeriesNotFound(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/series/999/next", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCreateSeriesRejectsUnknownType(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/series", map[string]any{
		"code":          "Z01",
		"document_type": "ticket",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestRejectsUnknownJSONFields(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/warehouses", map[string]any{
		"name":       "Anexo",
		"unexpected": true,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}

func postAndPostSale(t *testing.T, handler http.Handler) int64 {
	t.Helper()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/purchases", map[string]any{
		"series_id":    5,
		"warehouse_id": 1,
		"lines": []map[string]any{
			{"variant_id": 1, "quantity": "20", "unit_cost": "3"},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create purchase: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	purchase := decodeBody(t, rec)["purchase"].(map[string]any)
	purchaseID := int64(purchase["id"].(float64))

	rec = doJSON(t, handler, http.MethodPost, fmt.Sprintf("/api/v1/purchases/%d/post", purchaseID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("post purchase: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sales", map[string]any{
		"series_id":    1,
		"warehouse_id": 1,
		"lines": []map[string]any{
			{"variant_id": 1, "quantity": "10", "unit_price": "5", "tax_rate": "18"},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create sale: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	sale := decodeBody(t, rec)["sale"].(map[string]any)
	saleID := int64(sale["id"].(float64))

	rec = doJSON(t, handler, http.MethodPost, fmt.Sprintf("/api/v1/sales/%d/post", saleID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("post sale: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	posted := decodeBody(t, rec)["sale"].(map[string]any)
	if posted["number"] != "B01-00000001" {
		t.Fatalf("expected number B01-00000001, got %v", posted["number"])
	}
	return saleID
}

func TestSaleLifecycleOverHTTP(t *testing.T) {
	handler := newTestAPI(t).Handler()
	saleID := postAndPostSale(t, handler)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/stock?variant_id=1&warehouse_id=1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stock: expected 200, got %d", rec.Code)
	}
	stock := decodeBody(t, rec)
	if stock["quantity"] != "10" {
		t.Fatalf("expected quantity 10 after purchase and sale, got %v", stock["quantity"])
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/kardex?variant_id=1&warehouse_id=1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("kardex: expected 200, got %d", rec.Code)
	}
	entries := decodeBody(t, rec)["entries"].([]any)
	if len(entries) != 2 {
		t.Fatalf("expected 2 kardex entries, got %d", len(entries))
	}

	rec = doJSON(t, handler, http.MethodPost, fmt.Sprintf("/api/v1/sales/%d/post", saleID), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("double post: expected 400, got %d", rec.Code)
	}
}

func TestReturnFlowOverHTTP(t *testing.T) {
	handler := newTestAPI(t).Handler()
	saleID := postAndPostSale(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/credit-notes", map[string]any{
		"original_sale_id": saleID,
		"reason":           "devolución",
		"items": []map[string]any{
			{"variant_id": 1, "quantity": "3"},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create credit note: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	note := decodeBody(t, rec)["credit_note"].(map[string]any)
	if note["number"] != "BC01-00000001" {
		t.Fatalf("expected BC01-00000001, got %v", note["number"])
	}

	rec = doJSON(t, handler, http.MethodGet, fmt.Sprintf("/api/v1/sales/%d/return-availability", saleID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("availability: expected 200, got %d", rec.Code)
	}
	availability := decodeBody(t, rec)
	available := availability["available"].(map[string]any)
	if available["1"] != "7" {
		t.Fatalf("expected 7 available, got %v", available["1"])
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/credit-notes", map[string]any{
		"original_sale_id": saleID,
		"items": []map[string]any{
			{"variant_id": 1, "quantity": "8"},
		},
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("over-return: expected 422, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, fmt.Sprintf("/api/v1/sales/%d/credit-notes", saleID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list credit notes: expected 200, got %d", rec.Code)
	}
	notes := decodeBody(t, rec)["credit_notes"].([]any)
	if len(notes) != 1 {
		t.Fatalf("expected 1 credit note, got %d", len(notes))
	}
}

func TestEnforceStockReturns422(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", map[string]any{
		"series_id":    1,
		"warehouse_id": 1,
		"lines": []map[string]any{
			{"variant_id": 2, "quantity": "5", "unit_price": "6"},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create sale: expected 201, got %d", rec.Code)
	}
	sale := decodeBody(t, rec)["sale"].(map[string]any)
	saleID := int64(sale["id"].(float64))

	rec = doJSON(t, handler, http.MethodPost, fmt.Sprintf("/api/v1/sales/%d/post", saleID), map[string]any{
		"enforce_stock": true,
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for enforced oversell, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSecurityHeaders(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodGet, "/healthz", nil)
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing nosniff header")
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing request id header")
	}
}
