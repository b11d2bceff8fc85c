package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"openinvoice/backend/internal/domain"
	"openinvoice/backend/internal/logging"
	"openinvoice/backend/internal/metrics"
	"openinvoice/backend/internal/service"
	"openinvoice/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	m := metrics.New()
	logger := logging.Discard()
	svc := service.New(repo, service.Options{Metrics: m, Logger: logger})
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, Options{AllowedOrigin: "*", Metrics: m, Logger: logger})
}

func login(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("login as %s failed, status %d", username, res.Code)
	}

	var payload domain.LoginResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response failed: %v", err)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		t.Fatalf("expected access token in login response")
	}
	return payload.AccessToken
}

func doJSON(t *testing.T, handler http.Handler, method, path, token, csrf string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api.Handler(), http.MethodGet, "/healthz", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/v1/auth/login", "", "", map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleInvoices_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api.Handler(), http.MethodGet, "/api/v1/invoices", "", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleInvoices_WithMemberToken(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "member", "member123")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/invoices?limit=2", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Invoices []domain.Invoice `json:"invoices"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Invoices) != 2 {
		t.Fatalf("expected two invoices, got %d", len(body.Invoices))
	}
}

func TestHandleGetInvoice_NotFound(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "member", "member123")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/invoices/inv_missing", token, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleCreditPreview_ReportsIssues(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "member", "member123")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/invoices/inv_demo_partial/credit-preview", token, csrf, map[string]any{
		"line_id": "line_workshop",
		"amount":  "45.00",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var resp struct {
		Valid  bool `json:"valid"`
		Bounds struct {
			MaxCreditable struct {
				Amount string `json:"amount"`
			} `json:"max_creditable"`
		} `json:"bounds"`
		Issues []struct {
			Code string `json:"code"`
		} `json:"issues"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.Valid || len(resp.Issues) != 1 || resp.Issues[0].Code != "amount_exceeds_limit" {
		t.Fatalf("unexpected preview %+v", resp)
	}
	if resp.Bounds.MaxCreditable.Amount != "40.00" {
		t.Fatalf("expected max creditable 40.00, got %s", resp.Bounds.MaxCreditable.Amount)
	}
}

func TestHandleCreditPreview_AmbiguousInputIsBadRequest(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "member", "member123")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/invoices/inv_demo_partial/credit-preview", token, csrf, map[string]any{
		"line_id":  "line_workshop",
		"amount":   "10",
		"quantity": 1,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleIssueCreditNote(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "admin", "admin123")
	csrf := fetchCSRFToken(t, api)
	path := "/api/v1/invoices/inv_demo_consulting/credit-notes"

	rec := doJSON(t, handler, http.MethodPost, path, token, csrf, map[string]any{
		"reason": "overbilled",
		"lines": []map[string]any{
			{"line_id": "line_consulting", "amount": "200.01"},
		},
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for over-credit, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var rejected struct {
		Issues []struct {
			LineID string `json:"line_id"`
			Code   string `json:"code"`
		} `json:"issues"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&rejected); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(rejected.Issues) != 1 || rejected.Issues[0].LineID != "line_consulting" {
		t.Fatalf("unexpected issues %+v", rejected.Issues)
	}

	rec = doJSON(t, handler, http.MethodPost, path, token, csrf, map[string]any{
		"reason": "overbilled",
		"lines": []map[string]any{
			{"line_id": "line_consulting", "quantity": 3},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created domain.CreditNoteResponse
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if created.CreditNote.TotalAmount.String() != "60.00" {
		t.Fatalf("expected total 60.00, got %s", created.CreditNote.TotalAmount)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/credit-notes/export", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected export 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("expected csv content type, got %q", ct)
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], "line_consulting,3,60.00,EUR") {
		t.Fatalf("unexpected export %q", rec.Body.String())
	}
}

func TestHandleIssueCreditNote_MemberForbidden(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "member", "member123")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/invoices/inv_demo_consulting/credit-notes", token, csrf, map[string]any{
		"lines": []map[string]any{{"line_id": "line_consulting", "amount": "1"}},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleTierEdit(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "member", "member123")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/tiers/edit", token, csrf, map[string]any{
		"op":          "model",
		"model":       "volume",
		"currency":    "EUR",
		"flat_amount": "9.99",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var resp domain.TierEditResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(resp.Schedule) != 2 || resp.Schedule[1].ToValue != nil {
		t.Fatalf("expected two seeded tiers ending unbounded, got %+v", resp.Schedule)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/tiers/edit", token, csrf, map[string]any{
		"op":       "rotate",
		"currency": "EUR",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown op, got %d", rec.Code)
	}
}

func TestHandleCreatePrice_ValidationIssues(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "admin", "admin123")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/prices", token, csrf, map[string]any{
		"product_id":  "prod_seats",
		"model":       "flat",
		"currency":    "ZZZ",
		"flat_amount": "10",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/prices", token, csrf, map[string]any{
		"product_id":  "prod_seats",
		"model":       "flat",
		"currency":    "usd",
		"flat_amount": "10.499",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created domain.PriceResponse
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if created.Price.FlatAmount.String() != "10.49" || created.Price.Currency != "USD" {
		t.Fatalf("unexpected price %+v", created.Price)
	}
}

func TestHandleNumberingPreview(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "member", "member123")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/numbering/preview", token, csrf, map[string]any{
		"template":      "Q{SEQ:3}",
		"next_sequence": 41,
		"count":         2,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp domain.NumberingPreviewResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(resp.Numbers) != 2 || resp.Numbers[0] != "Q041" || resp.Numbers[1] != "Q042" {
		t.Fatalf("unexpected numbers %v", resp.Numbers)
	}
}

func TestMetricsEndpointCountsRoutes(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	doJSON(t, handler, http.MethodGet, "/healthz", "", "", nil)
	rec := doJSON(t, handler, http.MethodGet, "/metrics", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `openinvoice_http_requests_total{method="GET",route="/healthz",status="200"} 1`) {
		t.Fatalf("expected healthz request counter in metrics output")
	}
}
