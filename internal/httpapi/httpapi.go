package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Jcrispin99/gym-app-sub001/internal/domain"
	"github.com/Jcrispin99/gym-app-sub001/internal/service"
	"github.com/Jcrispin99/gym-app-sub001/internal/store"
	"github.com/Jcrispin99/gym-app-sub001/internal/xid"
)

type API struct {
	service       *service.Service
	logger        *logrus.Logger
	allowedOrigin string
}

func New(svc *service.Service, logger *logrus.Logger, allowedOrigin string) *API {
	if logger == nil {
		logger = logrus.New()
	}
	return &API{
		service:       svc,
		logger:        logger,
		allowedOrigin: allowedOrigin,
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)

	mux.HandleFunc("/api/v1/series", a.handleSeries)
	mux.HandleFunc("/api/v1/series/", a.handleSeriesActions)
	mux.HandleFunc("/api/v1/warehouses", a.handleWarehouses)
	mux.HandleFunc("/api/v1/variants", a.handleVariants)
	mux.HandleFunc("/api/v1/purchases", a.handlePurchases)
	mux.HandleFunc("/api/v1/purchases/", a.handlePurchaseActions)
	mux.HandleFunc("/api/v1/sales", a.handleSales)
	mux.HandleFunc("/api/v1/sales/", a.handleSaleActions)
	mux.HandleFunc("/api/v1/credit-notes", a.handleCreditNotes)
	mux.HandleFunc("/api/v1/credit-notes/", a.handleCreditNoteActions)
	mux.HandleFunc("/api/v1/adjustments", a.handleAdjustments)
	mux.HandleFunc("/api/v1/kardex", a.handleKardex)
	mux.HandleFunc("/api/v1/stock", a.handleStock)

	return a.withMiddleware(mux)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(a.logger, w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleSeries(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		series, err := a.service.ListSeries(r.Context(), r.URL.Query().Get("document_type"), r.URL.Query().Get("register_id"))
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"series": series})
	case http.MethodPost:
		var req domain.SeriesCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(a.logger, w, http.StatusBadRequest, err)
			return
		}
		created, err := a.service.CreateSeries(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"series": created})
	default:
		writeError(a.logger, w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	}
}

// handleSeriesActions routes /api/v1/series/{id}, /{id}/next and
// /{id}/preview.
func (a *API) handleSeriesActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/series/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) < 1 || parts[0] == "" {
		writeError(a.logger, w, http.StatusBadRequest, errors.New("series id required"))
		return
	}
	seriesID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(a.logger, w, http.StatusBadRequest, errors.New("invalid series id"))
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		series, err := a.service.GetSeries(r.Context(), seriesID)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"series": series})
	case len(parts) == 2 && parts[1] == "next" && r.Method == http.MethodPost:
		number, err := a.service.AllocateNumber(r.Context(), seriesID)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"number": number})
	case len(parts) == 2 && parts[1] == "preview" && r.Method == http.MethodGet:
		number, err := a.service.PreviewNumber(r.Context(), seriesID)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"number": number})
	default:
		writeError(a.logger, w, http.StatusBadRequest, errors.New("invalid series action path"))
	}
}

func (a *API) handleWarehouses(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		warehouses, err := a.service.ListWarehouses(r.Context())
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"warehouses": warehouses})
	case http.MethodPost:
		var req domain.WarehouseCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(a.logger, w, http.StatusBadRequest, err)
			return
		}
		created, err := a.service.CreateWarehouse(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"warehouse": created})
	default:
		writeError(a.logger, w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	}
}

func (a *API) handleVariants(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		variants, err := a.service.ListVariants(r.Context())
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"variants": variants})
	case http.MethodPost:
		var req domain.VariantCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(a.logger, w, http.StatusBadRequest, err)
			return
		}
		created, err := a.service.CreateVariant(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"variant": created})
	default:
		writeError(a.logger, w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	}
}

func (a *API) handlePurchases(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(a.logger, w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	var req domain.PurchaseCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(a.logger, w, http.StatusBadRequest, err)
		return
	}
	created, err := a.service.CreatePurchase(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"purchase": created})
}

func (a *API) handlePurchaseActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/purchases/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) < 1 || parts[0] == "" {
		writeError(a.logger, w, http.StatusBadRequest, errors.New("purchase id required"))
		return
	}
	purchaseID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(a.logger, w, http.StatusBadRequest, errors.New("invalid purchase id"))
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		purchase, err := a.service.GetPurchase(r.Context(), purchaseID)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"purchase": purchase})
	case len(parts) == 2 && parts[1] == "post" && r.Method == http.MethodPost:
		posted, err := a.service.PostPurchase(r.Context(), purchaseID)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"purchase": posted})
	default:
		writeError(a.logger, w, http.StatusBadRequest, errors.New("invalid purchase action path"))
	}
}

func (a *API) handleSales(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(a.logger, w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	var req domain.SaleCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(a.logger, w, http.StatusBadRequest, err)
		return
	}
	created, err := a.service.CreateSale(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"sale": created})
}

// handleSaleActions routes /api/v1/sales/{id}, /{id}/post,
// /{id}/return-availability and /{id}/credit-notes.
func (a *API) handleSaleActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/sales/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) < 1 || parts[0] == "" {
		writeError(a.logger, w, http.StatusBadRequest, errors.New("sale id required"))
		return
	}
	saleID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(a.logger, w, http.StatusBadRequest, errors.New("invalid sale id"))
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		sale, err := a.service.GetSale(r.Context(), saleID)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
	case len(parts) == 2 && parts[1] == "post" && r.Method == http.MethodPost:
		var req domain.SalePostRequest
		if r.ContentLength > 0 {
			if err := decodeJSON(r, &req); err != nil {
				writeError(a.logger, w, http.StatusBadRequest, err)
				return
			}
		}
		posted, err := a.service.PostSale(r.Context(), saleID, req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sale": posted})
	case len(parts) == 2 && parts[1] == "return-availability" && r.Method == http.MethodGet:
		availability, err := a.service.ReturnAvailability(r.Context(), saleID)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, availability)
	case len(parts) == 2 && parts[1] == "credit-notes" && r.Method == http.MethodGet:
		notes, err := a.service.ListCreditNotes(r.Context(), saleID)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"credit_notes": notes})
	default:
		writeError(a.logger, w, http.StatusBadRequest, errors.New("invalid sale action path"))
	}
}

func (a *API) handleCreditNotes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(a.logger, w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	var req domain.CreditNoteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(a.logger, w, http.StatusBadRequest, err)
		return
	}
	created, err := a.service.CreateCreditNote(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"credit_note": created})
}

func (a *API) handleCreditNoteActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/credit-notes/"), "/")
	if rest == "" || strings.Contains(rest, "/") {
		writeError(a.logger, w, http.StatusBadRequest, errors.New("credit note id required"))
		return
	}
	noteID, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		writeError(a.logger, w, http.StatusBadRequest, errors.New("invalid credit note id"))
		return
	}
	if r.Method != http.MethodGet {
		writeError(a.logger, w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}

	note, err := a.service.GetCreditNote(r.Context(), noteID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"credit_note": note})
}

func (a *API) handleAdjustments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(a.logger, w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	var req domain.AdjustmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(a.logger, w, http.StatusBadRequest, err)
		return
	}
	created, err := a.service.CreateAdjustment(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"adjustment": created})
}

func (a *API) handleKardex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(a.logger, w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	variantID, warehouseID, err := ledgerKeyParams(r)
	if err != nil {
		writeError(a.logger, w, http.StatusBadRequest, err)
		return
	}
	entries, err := a.service.Kardex(r.Context(), variantID, warehouseID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (a *API) handleStock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(a.logger, w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	variantID, warehouseID, err := ledgerKeyParams(r)
	if err != nil {
		writeError(a.logger, w, http.StatusBadRequest, err)
		return
	}
	status, err := a.service.CurrentStock(r.Context(), variantID, warehouseID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func ledgerKeyParams(r *http.Request) (int64, int64, error) {
	variantID, err := strconv.ParseInt(r.URL.Query().Get("variant_id"), 10, 64)
	if err != nil || variantID < 1 {
		return 0, 0, errors.New("variant_id query parameter required")
	}
	warehouseID := int64(0)
	if raw := r.URL.Query().Get("warehouse_id"); raw != "" {
		warehouseID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || warehouseID < 1 {
			return 0, 0, errors.New("invalid warehouse_id query parameter")
		}
	}
	return variantID, warehouseID, nil
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		requestID := xid.New("req")
		w.Header().Set("X-Request-ID", requestID)

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		a.logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"method":     r.Method,
			"path":       r.URL.Path,
			"elapsed":    time.Since(startedAt).String(),
		}).Info("request")
	})
}

// writeServiceError maps domain errors onto HTTP statuses. Unknown errors
// become 500s with the detail kept out of the response body.
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(a.logger, w, http.StatusNotFound, err)
	case service.IsValidation(err), errors.Is(err, store.ErrSeriesNotConfigured), errors.Is(err, store.ErrInsufficientStock):
		writeError(a.logger, w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, store.ErrConflict):
		writeError(a.logger, w, http.StatusConflict, err)
	case errors.Is(err, store.ErrInvalidDocument):
		writeError(a.logger, w, http.StatusBadRequest, err)
	default:
		writeError(a.logger, w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(logger *logrus.Logger, w http.ResponseWriter, status int, err error) {
	// 5xx detail stays in the log; the response body gets a generic message
	// so SQL errors and file paths never leak to clients.
	msg := err.Error()
	if status >= 500 {
		logger.WithError(err).Error("internal error")
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{"error": msg})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}
