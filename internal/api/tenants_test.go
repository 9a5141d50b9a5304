package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/guardline-ai/bastion/internal/auth"
)

func adminDeps(t *testing.T) *Dependencies {
	t.Helper()
	return &Dependencies{Auth: auth.NewStaticAuthenticator(), Logger: zap.NewNop()}
}

func postBody(t *testing.T, handler http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func TestCreateTenant_RejectsBadName(t *testing.T) {
	deps := adminDeps(t)

	w := postBody(t, deps.handleCreateTenant, http.MethodPost, "/api/firewall/tenants", `{"name":""}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty name: expected 400, got %d", w.Code)
	}

	long := strings.Repeat("x", 256)
	w = postBody(t, deps.handleCreateTenant, http.MethodPost, "/api/firewall/tenants", `{"name":"`+long+`"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("oversized name: expected 400, got %d", w.Code)
	}
}

func TestUpdateTenant_RejectsUnknownMode(t *testing.T) {
	deps := adminDeps(t)

	w := postBody(t, deps.handleUpdateTenant, http.MethodPatch, "/api/firewall/tenants/t_1", `{"mode":"audit"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown mode: expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSetEntitlement_RejectsUnknownLevel(t *testing.T) {
	deps := adminDeps(t)

	w := postBody(t, deps.handleSetEntitlement, http.MethodPut,
		"/api/firewall/tenants/t_1/entitlement", `{"explainability_level":"superuser"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown level: expected 400, got %d", w.Code)
	}
}

func TestPutRouteBinding_Validation(t *testing.T) {
	deps := adminDeps(t)

	w := postBody(t, deps.handlePutRouteBinding, http.MethodPut,
		"/api/firewall/routes", `{"path_prefix":"v1/chat","policy_id":"pol_1"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("relative prefix: expected 400, got %d", w.Code)
	}

	w = postBody(t, deps.handlePutRouteBinding, http.MethodPut,
		"/api/firewall/routes", `{"path_prefix":"/v1/chat"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing policy id: expected 400, got %d", w.Code)
	}
}

func TestDeleteRouteBinding_RequiresPrefix(t *testing.T) {
	deps := adminDeps(t)

	req := httptest.NewRequest(http.MethodDelete, "/api/firewall/routes", nil)
	w := httptest.NewRecorder()
	deps.handleDeleteRouteBinding(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing path_prefix: expected 400, got %d", w.Code)
	}
}

// Control-plane routes answer 503 when the gateway runs without Postgres.
func TestAdminRoutes_WithoutDatabase(t *testing.T) {
	deps := adminDeps(t)

	for _, tc := range []struct {
		method, target string
	}{
		{http.MethodPost, "/api/firewall/tenants"},
		{http.MethodGet, "/api/firewall/tenants"},
		{http.MethodPost, "/api/firewall/tenants/t_1/rotate-key"},
		{http.MethodGet, "/api/firewall/policies"},
		{http.MethodPut, "/api/firewall/routes"},
	} {
		req := httptest.NewRequest(tc.method, tc.target, strings.NewReader(`{}`))
		w := httptest.NewRecorder()
		deps.requireStore(func(http.ResponseWriter, *http.Request) {
			t.Errorf("%s %s reached the handler without a store", tc.method, tc.target)
		})(w, req)
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s %s: expected 503, got %d", tc.method, tc.target, w.Code)
		}
	}
}
