package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopledger/internal/analytics"
	"shopledger/internal/db"
	"shopledger/internal/logger"
	"shopledger/internal/repository"
	"shopledger/internal/service"
	"shopledger/internal/settings"
)

var testNow = time.Date(2025, 3, 14, 15, 30, 0, 0, time.Local)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	dir := t.TempDir()
	now := func() time.Time { return testNow }
	repo, err := repository.Open(context.Background(), repository.Options{
		DataDir:     dir,
		LockTimeout: time.Second,
		Now:         now,
		Logger:      logger.Nop(),
	})
	require.NoError(t, err)
	store, err := settings.Open(filepath.Join(dir, "settings.yaml"))
	require.NoError(t, err)
	engine := analytics.New(repo.Inventory, repo.Invoices, repo.Expenses, analytics.Options{Now: now, Logger: logger.Nop()})
	svc := service.New(repo, engine, store, service.Options{LowStockThreshold: 5, Logger: logger.Nop()})
	return NewRouter(NewHandler(svc), logger.Nop())
}

func do(t *testing.T, router http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthzSetsRequestID(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(HeaderRequestID, "abc-123")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(HeaderRequestID))
}

func TestProductRoutes(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/api/v1/products",
		`{"name":"Air Max","size":"42","price":5000,"buying_price":3000,"stock":10}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "SC-SKU-00001", decodeBody(t, rec)["product_id"])

	rec = do(t, router, http.MethodGet, "/api/v1/products/SC-SKU-00001", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Air Max", decodeBody(t, rec)["name"])

	rec = do(t, router, http.MethodGet, "/api/v1/products/lookup?name=Air+Max&size=42.0", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/v1/products/availability?name=Air+Max&size=42&qty=11", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["available"])

	rec = do(t, router, http.MethodGet, "/api/v1/products/SC-SKU-99999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "not found")

	rec = do(t, router, http.MethodPost, "/api/v1/products", `{"name":"","price":1,"stock":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/v1/products", `{"bogus":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/v1/inventory/low-stock?threshold=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["count"])
}

func TestSaleReturnAndStatusRoutes(t *testing.T) {
	router := newTestRouter(t)
	rec := do(t, router, http.MethodPost, "/api/v1/products",
		`{"name":"Air Max","size":"42","price":5000,"buying_price":3000,"stock":1}`)
	require.Equal(t, http.StatusOK, rec.Code)

	sale := `{"invoice":{"date":"03/14/2025","customer_name":"Rahim","items":[{"name":"Air Max","size":"42","qty":2,"price":5000}]}}`
	rec = do(t, router, http.MethodPost, "/api/v1/invoices", sale)
	require.Equal(t, http.StatusConflict, rec.Code)
	shortfalls, ok := decodeBody(t, rec)["shortfalls"].([]any)
	require.True(t, ok)
	assert.Len(t, shortfalls, 1)

	oversell := `{"allow_oversell":true,"invoice":{"date":"03/14/2025","customer_name":"Rahim","items":[{"name":"Air Max","size":"42","qty":2,"price":5000}]}}`
	rec = do(t, router, http.MethodPost, "/api/v1/invoices", oversell)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	invoice := decodeBody(t, rec)["invoice"].(map[string]any)
	assert.Equal(t, "#SC-2025-001", invoice["invoice_number"])
	assert.Equal(t, 10000.0, invoice["grand_total"])

	rec = do(t, router, http.MethodGet, "/api/v1/invoices/%23SC-2025-001", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodPut, "/api/v1/invoices/%23SC-2025-001/status", `{"status":"due"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, router, http.MethodGet, "/api/v1/invoices?status=DUE", "")
	assert.Equal(t, float64(1), decodeBody(t, rec)["count"])

	rec = do(t, router, http.MethodPut, "/api/v1/invoices/%23SC-2025-001/status", `{"status":"LATER"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/v1/invoices/%23SC-2025-001/returns",
		`{"items":[{"name":"Air Max","size":"42","qty":1,"price":5000}],"restock":true}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "RET-SC_2025_001", decodeBody(t, rec)["invoice_number"])

	rec = do(t, router, http.MethodGet, "/api/v1/invoices/RET-SC_2025_001", "")
	require.Equal(t, http.StatusOK, rec.Code)
	original := decodeBody(t, rec)["original"].(map[string]any)
	assert.Equal(t, "#SC-2025-001", original["invoice_number"])

	rec = do(t, router, http.MethodGet, "/api/v1/invoices?q=rahim", "")
	assert.Equal(t, float64(2), decodeBody(t, rec)["count"])

	rec = do(t, router, http.MethodDelete, "/api/v1/invoices/%23SC-2025-404", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExpenseAndCategoryRoutes(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/api/v1/expenses", `{"category":"Courier","amount":120,"date":"03/10/2025"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "EXP-00001", decodeBody(t, rec)["expense_id"])

	rec = do(t, router, http.MethodPost, "/api/v1/expenses", `{"category":"Courier","amount":-5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/v1/expenses/EXP-00001", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decodeBody(t, rec)["product"])

	rec = do(t, router, http.MethodGet, "/api/v1/expenses/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 120.0, decodeBody(t, rec)["current_month"])

	rec = do(t, router, http.MethodDelete, "/api/v1/categories/Customs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, router, http.MethodDelete, "/api/v1/categories/Customs", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, router, http.MethodPost, "/api/v1/categories", `{"name":"Customs"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["changed"])
}

func TestAnalyticsRoutes(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, http.MethodGet, "/api/v1/analytics/dashboard", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/v1/analytics/net-profit?period=week", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "week", decodeBody(t, rec)["period"])

	rec = do(t, router, http.MethodGet, "/api/v1/analytics/net-profit?period=decade", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/v1/analytics/daily-trends?days=7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(8), decodeBody(t, rec)["count"])

	rec = do(t, router, http.MethodGet, "/api/v1/analytics/monthly?months=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImportAndExportRoutes(t *testing.T) {
	router := newTestRouter(t)

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", "stock.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte("name,size,price,stock\nAir Max,42,5000,10\n"))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/inventory/import", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(1), decodeBody(t, rec)["total_rows"])

	rec = do(t, router, http.MethodGet, "/api/v1/export/workbook", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".xlsx")
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))

	rec = do(t, router, http.MethodPost, "/api/v1/backups", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), decodeBody(t, rec)["count"])
}

func TestSaveWorkbookUsesOutputFolder(t *testing.T) {
	router := newTestRouter(t)
	out := filepath.Join(t.TempDir(), "reports")

	rec := do(t, router, http.MethodGet, "/api/v1/settings/output_folder", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodPut, "/api/v1/settings/output_folder", fmt.Sprintf(`{"value":%q}`, out))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/api/v1/settings/output_folder", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, out, decodeBody(t, rec)["value"])

	rec = do(t, router, http.MethodPost, "/api/v1/export/workbook", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	path := decodeBody(t, rec)["path"]
	assert.Equal(t, filepath.Join(out, "shopledger_export_2025-03-14.xlsx"), path)
	assert.FileExists(t, path.(string))

	rec = do(t, router, http.MethodPut, "/api/v1/settings/expense_categories", `{"value":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorStatusMapping(t *testing.T) {
	cases := map[error]int{
		fmt.Errorf("x: %w", repository.ErrNotFound):   http.StatusNotFound,
		fmt.Errorf("x: %w", repository.ErrValidation): http.StatusBadRequest,
		&service.ShortfallError{}:                     http.StatusConflict,
		fmt.Errorf("inventory.csv: %w", db.ErrLocked): http.StatusServiceUnavailable,
		fmt.Errorf("disk full"):                       http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, errorStatus(err), err.Error())
	}
}

func TestRecovererWritesJSONError(t *testing.T) {
	handler := Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal Server Error", decodeBody(t, rec)["error"])
}
