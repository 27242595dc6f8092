package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	app "github.com/EstateOps/admin_core/internal/app"
	"github.com/EstateOps/admin_core/internal/app/auth"
	"github.com/EstateOps/admin_core/internal/app/domain/actor"
	"github.com/EstateOps/admin_core/internal/app/domain/building"
	"github.com/EstateOps/admin_core/internal/app/domain/unit"
	"github.com/EstateOps/admin_core/internal/app/storage/memory"
)

type env struct {
	handler http.Handler
	store   *memory.Store
	app     *app.Application
}

func newEnv(t *testing.T) *env {
	t.Helper()

	store := memory.New()
	application, err := app.New(app.Stores{
		Requests:  store,
		Buildings: store,
		Units:     store,
		Ledger:    store,
	}, app.Options{}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}

	authMgr, err := auth.NewManager("test-secret", []auth.User{
		{Username: "root", Password: "rootpw", Role: actor.RoleAdmin},
		{Username: "alice", Password: "alicepw", Role: actor.RoleOwner, TenantID: "t1"},
		{Username: "carol", Password: "carolpw", Role: actor.RoleOperator, TenantID: "t1"},
	}, []string{"svc-token"})
	if err != nil {
		t.Fatalf("new auth manager: %v", err)
	}

	handler, err := NewHandler(application, authMgr, Options{})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return &env{handler: handler, store: store, app: application}
}

func (e *env) login(t *testing.T, username, password string) string {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/auth/login", "", map[string]any{
		"username": username,
		"password": password,
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("login %s: %d %s", username, resp.Code, resp.Body.String())
	}
	var payload map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	return payload["token"]
}

func (e *env) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	e.handler.ServeHTTP(resp, req)
	return resp
}

func TestDeletionRequestLifecycleOverHTTP(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	buildingA, _ := e.store.CreateBuilding(ctx, building.Building{TenantID: "t1", Name: "A"})
	buildingB, _ := e.store.CreateBuilding(ctx, building.Building{TenantID: "t1", Name: "B"})
	var unitIDs []string
	for _, number := range []string{"201", "202", "203"} {
		u, _ := e.store.CreateUnit(ctx, unit.Unit{BuildingID: buildingB.ID, Number: number, Active: true})
		unitIDs = append(unitIDs, u.ID)
	}

	ownerToken := e.login(t, "alice", "alicepw")
	adminToken := e.login(t, "root", "rootpw")

	// Owner submits.
	resp := e.do(t, http.MethodPost, "/deletion-requests", ownerToken, map[string]any{
		"tenant_id": "t1",
		"reason":    "churned",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("submit: %d %s", resp.Code, resp.Body.String())
	}
	var created map[string]any
	json.Unmarshal(resp.Body.Bytes(), &created)
	reqID := created["id"].(string)
	if created["status"] != "PENDING" {
		t.Fatalf("expected PENDING, got %v", created["status"])
	}

	// Owner may not decide.
	resp = e.do(t, http.MethodPost, "/deletion-requests/"+reqID+"/decision", ownerToken, map[string]any{"approve": true})
	if resp.Code != http.StatusForbidden {
		t.Fatalf("owner decision: expected 403, got %d", resp.Code)
	}

	// Admin approves; fan-out marks both buildings.
	resp = e.do(t, http.MethodPost, "/deletion-requests/"+reqID+"/decision", adminToken, map[string]any{"approve": true})
	if resp.Code != http.StatusOK {
		t.Fatalf("approve: %d %s", resp.Code, resp.Body.String())
	}
	for _, id := range []string{buildingA.ID, buildingB.ID} {
		b, _ := e.store.GetBuilding(ctx, id)
		if b.Status != building.StatusPendingDeletion {
			t.Fatalf("building %s: expected PENDING_DELETION, got %s", id, b.Status)
		}
	}

	// Approving again is an idempotent success.
	resp = e.do(t, http.MethodPost, "/deletion-requests/"+reqID+"/decision", adminToken, map[string]any{"approve": true})
	if resp.Code != http.StatusOK {
		t.Fatalf("repeat approve: %d %s", resp.Code, resp.Body.String())
	}

	// Archiving B while occupied: 409 with the progress snapshot.
	resp = e.do(t, http.MethodPost, "/buildings/"+buildingB.ID+"/complete", adminToken, nil)
	if resp.Code != http.StatusConflict {
		t.Fatalf("blocked archive: expected 409, got %d %s", resp.Code, resp.Body.String())
	}
	var blocked map[string]any
	json.Unmarshal(resp.Body.Bytes(), &blocked)
	if blocked["total_units"].(float64) != 3 || blocked["units_ready"].(bool) {
		t.Fatalf("unexpected 409 payload: %v", blocked)
	}

	// The empty building archives at once.
	resp = e.do(t, http.MethodPost, "/buildings/"+buildingA.ID+"/complete", adminToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("archive empty building: %d %s", resp.Code, resp.Body.String())
	}

	// Drain B, then archive it.
	for _, id := range unitIDs {
		e.store.SetUnitActive(ctx, id, false)
	}
	resp = e.do(t, http.MethodPost, "/buildings/"+buildingB.ID+"/complete", adminToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("archive drained building: %d %s", resp.Code, resp.Body.String())
	}

	// Progress read triggers the completion check and reports the final state.
	resp = e.do(t, http.MethodGet, "/tenants/t1/progress", ownerToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("progress: %d %s", resp.Code, resp.Body.String())
	}
	var prog map[string]any
	json.Unmarshal(resp.Body.Bytes(), &prog)
	if prog["buildings_archived"].(float64) != 2 {
		t.Fatalf("unexpected progress: %v", prog)
	}

	resp = e.do(t, http.MethodGet, "/deletion-requests/"+reqID, ownerToken, nil)
	var final map[string]any
	json.Unmarshal(resp.Body.Bytes(), &final)
	if final["status"] != "COMPLETED" {
		t.Fatalf("expected COMPLETED, got %v", final["status"])
	}

	// The ledger recorded the whole story.
	resp = e.do(t, http.MethodGet, "/ledger?tenant_id=t1", adminToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("ledger: %d", resp.Code)
	}
	var entries []map[string]any
	json.Unmarshal(resp.Body.Bytes(), &entries)
	if len(entries) < 5 {
		t.Fatalf("expected a full ledger, got %d entries", len(entries))
	}
}

func TestAuthRequired(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodGet, "/deletion-requests", "", nil)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.Code)
	}

	resp = e.do(t, http.MethodGet, "/deletion-requests", "garbage", nil)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", resp.Code)
	}

	// Healthz stays open.
	resp = e.do(t, http.MethodGet, "/healthz", "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("healthz: %d", resp.Code)
	}
}

func TestServiceTokenActsAsSystem(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	b, _ := e.store.CreateBuilding(ctx, building.Building{TenantID: "t1", Name: "A"})
	e.store.UpdateBuildingStatus(ctx, b.ID, building.StatusActive, building.StatusPendingDeletion)

	resp := e.do(t, http.MethodPost, "/buildings/"+b.ID+"/complete", "svc-token", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("service token archive: %d %s", resp.Code, resp.Body.String())
	}
}

func TestScopeFiltering(t *testing.T) {
	e := newEnv(t)

	ownerToken := e.login(t, "alice", "alicepw")
	adminToken := e.login(t, "root", "rootpw")

	resp := e.do(t, http.MethodPost, "/deletion-requests", ownerToken, map[string]any{
		"tenant_id": "t1", "reason": "one",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("submit: %d", resp.Code)
	}
	// Admin creates for another tenant.
	resp = e.do(t, http.MethodPost, "/deletion-requests", adminToken, map[string]any{
		"tenant_id": "t2", "reason": "two",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("admin submit: %d", resp.Code)
	}

	var list []map[string]any
	resp = e.do(t, http.MethodGet, "/deletion-requests?scope=all", ownerToken, nil)
	json.Unmarshal(resp.Body.Bytes(), &list)
	if len(list) != 1 || list[0]["tenant_id"] != "t1" {
		t.Fatalf("owner scope=all should clamp to own tenant: %v", list)
	}

	resp = e.do(t, http.MethodGet, "/deletion-requests?scope=all", adminToken, nil)
	list = nil
	json.Unmarshal(resp.Body.Bytes(), &list)
	if len(list) != 2 {
		t.Fatalf("admin scope=all should see both: %v", list)
	}

	resp = e.do(t, http.MethodGet, "/deletion-requests?scope=bogus", ownerToken, nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("bogus scope: expected 400, got %d", resp.Code)
	}
}

func TestSecondSubmitConflicts(t *testing.T) {
	e := newEnv(t)
	ownerToken := e.login(t, "alice", "alicepw")

	resp := e.do(t, http.MethodPost, "/deletion-requests", ownerToken, map[string]any{
		"tenant_id": "t1", "reason": "first",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("submit: %d", resp.Code)
	}
	resp = e.do(t, http.MethodPost, "/deletion-requests", ownerToken, map[string]any{
		"tenant_id": "t1", "reason": "second",
	})
	if resp.Code != http.StatusConflict {
		t.Fatalf("second submit: expected 409, got %d", resp.Code)
	}
}

func TestRejectionRequiresReason(t *testing.T) {
	e := newEnv(t)
	ownerToken := e.login(t, "alice", "alicepw")
	adminToken := e.login(t, "root", "rootpw")

	resp := e.do(t, http.MethodPost, "/deletion-requests", ownerToken, map[string]any{
		"tenant_id": "t1", "reason": "churned",
	})
	var created map[string]any
	json.Unmarshal(resp.Body.Bytes(), &created)
	reqID := created["id"].(string)

	resp = e.do(t, http.MethodPost, "/deletion-requests/"+reqID+"/decision", adminToken, map[string]any{"approve": false})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("reject without reason: expected 400, got %d", resp.Code)
	}

	resp = e.do(t, http.MethodPost, "/deletion-requests/"+reqID+"/decision", adminToken, map[string]any{
		"approve": false, "rejection_reason": "retention saved them",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("reject: %d %s", resp.Code, resp.Body.String())
	}
}

func TestAuditLogAdminOnly(t *testing.T) {
	e := newEnv(t)
	ownerToken := e.login(t, "alice", "alicepw")
	adminToken := e.login(t, "root", "rootpw")

	e.do(t, http.MethodGet, "/deletion-requests", ownerToken, nil)

	resp := e.do(t, http.MethodGet, "/audit", ownerToken, nil)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("owner audit read: expected 403, got %d", resp.Code)
	}

	resp = e.do(t, http.MethodGet, "/audit?limit=10", adminToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("admin audit read: %d", resp.Code)
	}
	var entries []map[string]any
	json.Unmarshal(resp.Body.Bytes(), &entries)
	if len(entries) == 0 {
		t.Fatal("expected recorded audit entries")
	}
	found := false
	for _, entry := range entries {
		if entry["actor_id"] == "alice" && entry["path"] == "/deletion-requests" {
			found = true
		}
	}
	if !found {
		t.Fatalf("owner request not audited: %v", entries)
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	e := newEnv(t)
	ownerToken := e.login(t, "alice", "alicepw")

	resp := e.do(t, http.MethodPost, "/deletion-requests", ownerToken, map[string]any{
		"tenant_id": "t1", "reason": "x", "surprise": true,
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: expected 400, got %d", resp.Code)
	}
}

func TestBuildingTargetsEndpoint(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	adminToken := e.login(t, "root", "rootpw")

	b, _ := e.store.CreateBuilding(ctx, building.Building{TenantID: "t1", Name: "A"})
	for i := 0; i < 3; i++ {
		e.store.CreateUnit(ctx, unit.Unit{BuildingID: b.ID, Number: fmt.Sprintf("10%d", i), Active: i > 0})
	}

	resp := e.do(t, http.MethodGet, "/buildings/"+b.ID+"/targets-status", adminToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("targets-status: %d", resp.Code)
	}
	var status map[string]any
	json.Unmarshal(resp.Body.Bytes(), &status)
	if status["total_units"].(float64) != 3 || status["units_ready"].(bool) {
		t.Fatalf("unexpected status: %v", status)
	}

	resp = e.do(t, http.MethodGet, "/buildings/missing/targets-status", adminToken, nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("missing building: expected 404, got %d", resp.Code)
	}
}
