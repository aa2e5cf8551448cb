package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/c0deZ3R0/go-registry-kit/lifecycle"
	"github.com/c0deZ3R0/go-registry-kit/registry"
	syncmgr "github.com/c0deZ3R0/go-registry-kit/sync"
)

func setupAPI(t *testing.T) (http.Handler, *registry.Registry, *syncmgr.Manager) {
	t.Helper()

	reg, err := registry.New(registry.Options{})
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	lc := lifecycle.NewManager(reg, lifecycle.Options{})
	sm := syncmgr.NewManager(reg, syncmgr.Options{})

	t.Cleanup(func() {
		sm.Close()
		lc.Close()
		reg.Close()
	})

	srv := NewServer(reg, lc, sm, Options{})
	return srv.Router(), reg, sm
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func componentBody(id string) map[string]interface{} {
	return map[string]interface{}{
		"id":          id,
		"name":        "Auth Service",
		"type":        "service",
		"application": "app-local",
	}
}

func TestHealth(t *testing.T) {
	h, _, _ := setupAPI(t)

	w := doJSON(t, h, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if body["success"] != true {
		t.Errorf("success = %v, want true", body["success"])
	}
}

func TestRegisterAndGetComponent(t *testing.T) {
	h, _, _ := setupAPI(t)

	w := doJSON(t, h, http.MethodPost, "/api/v1/components", componentBody("auth-service"))
	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	comp := body["component"].(map[string]interface{})
	if comp["state"] != "registered" {
		t.Errorf("state = %v, want registered", comp["state"])
	}

	w = doJSON(t, h, http.MethodGet, "/api/v1/components/auth-service", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d: %s", w.Code, w.Body.String())
	}
	state := decodeBody(t, w)["state"].(map[string]interface{})
	comp = state["component"].(map[string]interface{})
	if comp["id"] != "auth-service" {
		t.Errorf("id = %v, want auth-service", comp["id"])
	}
}

func TestRegisterValidation(t *testing.T) {
	h, _, _ := setupAPI(t)

	tests := []struct {
		name string
		body interface{}
	}{
		{"missing name", map[string]interface{}{"id": "c1", "type": "service"}},
		{"missing type", map[string]interface{}{"id": "c1", "name": "C"}},
		{"bad id chars", map[string]interface{}{"id": "c 1!", "name": "C", "type": "service"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, h, http.MethodPost, "/api/v1/components", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
			}
			body := decodeBody(t, w)
			errObj := body["error"].(map[string]interface{})
			if errObj["message"] == "" {
				t.Error("error message missing")
			}
		})
	}
}

func TestRegisterInvalidJSON(t *testing.T) {
	h, _, _ := setupAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/components", bytes.NewBufferString("{nope"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	h, _, _ := setupAPI(t)

	doJSON(t, h, http.MethodPost, "/api/v1/components", componentBody("auth-service"))
	w := doJSON(t, h, http.MethodPost, "/api/v1/components", componentBody("auth-service"))
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %s", w.Code, w.Body.String())
	}
	errObj := decodeBody(t, w)["error"].(map[string]interface{})
	if errObj["code"] != "DUPLICATE_ID" {
		t.Errorf("code = %v, want DUPLICATE_ID", errObj["code"])
	}
}

func TestListComponents(t *testing.T) {
	h, _, _ := setupAPI(t)

	doJSON(t, h, http.MethodPost, "/api/v1/components", componentBody("auth-service"))
	other := componentBody("worker-1")
	other["type"] = "worker"
	doJSON(t, h, http.MethodPost, "/api/v1/components", other)

	w := doJSON(t, h, http.MethodGet, "/api/v1/components?type=worker", nil)
	body := decodeBody(t, w)
	if body["count"].(float64) != 1 {
		t.Errorf("count = %v, want 1", body["count"])
	}

	w = doJSON(t, h, http.MethodGet, "/api/v1/components?state=bogus", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad state status = %d, want 400", w.Code)
	}
}

func TestUpdateComponent(t *testing.T) {
	h, _, _ := setupAPI(t)
	doJSON(t, h, http.MethodPost, "/api/v1/components", componentBody("auth-service"))

	w := doJSON(t, h, http.MethodPatch, "/api/v1/components/auth-service",
		map[string]interface{}{"name": "Renamed", "new_version": "2"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	comp := decodeBody(t, w)["component"].(map[string]interface{})
	if comp["name"] != "Renamed" {
		t.Errorf("name = %v, want Renamed", comp["name"])
	}

	w = doJSON(t, h, http.MethodPatch, "/api/v1/components/ghost",
		map[string]interface{}{"name": "X"})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown id status = %d, want 404", w.Code)
	}
}

func TestRollback(t *testing.T) {
	h, _, _ := setupAPI(t)
	doJSON(t, h, http.MethodPost, "/api/v1/components", componentBody("auth-service"))
	doJSON(t, h, http.MethodPatch, "/api/v1/components/auth-service",
		map[string]interface{}{"name": "Renamed", "new_version": "2"})

	w := doJSON(t, h, http.MethodPost, "/api/v1/components/auth-service/rollback",
		map[string]interface{}{"target_version": "1"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	comp := decodeBody(t, w)["component"].(map[string]interface{})
	if comp["name"] != "Auth Service" {
		t.Errorf("name = %v, want Auth Service", comp["name"])
	}

	w = doJSON(t, h, http.MethodPost, "/api/v1/components/auth-service/rollback",
		map[string]interface{}{"target_version": "99"})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown version status = %d, want 404", w.Code)
	}

	w = doJSON(t, h, http.MethodPost, "/api/v1/components/auth-service/rollback",
		map[string]interface{}{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty version status = %d, want 400", w.Code)
	}
}

func TestVersionHistoryEndpoint(t *testing.T) {
	h, _, _ := setupAPI(t)
	doJSON(t, h, http.MethodPost, "/api/v1/components", componentBody("auth-service"))
	doJSON(t, h, http.MethodPatch, "/api/v1/components/auth-service",
		map[string]interface{}{"name": "Renamed", "new_version": "2"})

	w := doJSON(t, h, http.MethodGet, "/api/v1/components/auth-service/versions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if got := decodeBody(t, w)["count"].(float64); got != 2 {
		t.Errorf("count = %v, want 2", got)
	}
}

func TestLifecycleRoutes(t *testing.T) {
	h, _, _ := setupAPI(t)
	doJSON(t, h, http.MethodPost, "/api/v1/components", componentBody("auth-service"))

	steps := []struct {
		action string
		state  string
	}{
		{"initialize", "initialized"},
		{"load", "loaded"},
		{"activate", "active"},
		{"deactivate", "inactive"},
	}
	for _, step := range steps {
		w := doJSON(t, h, http.MethodPost,
			"/api/v1/components/auth-service/lifecycle/"+step.action, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s status = %d: %s", step.action, w.Code, w.Body.String())
		}
		if got := decodeBody(t, w)["state"]; got != step.state {
			t.Errorf("%s state = %v, want %s", step.action, got, step.state)
		}
	}
}

func TestLifecycleIllegalTransition(t *testing.T) {
	h, _, _ := setupAPI(t)
	doJSON(t, h, http.MethodPost, "/api/v1/components", componentBody("auth-service"))

	// activate straight from registered is not a legal edge
	w := doJSON(t, h, http.MethodPost, "/api/v1/components/auth-service/lifecycle/activate", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %s", w.Code, w.Body.String())
	}
	errObj := decodeBody(t, w)["error"].(map[string]interface{})
	if errObj["code"] != "ILLEGAL_TRANSITION" {
		t.Errorf("code = %v, want ILLEGAL_TRANSITION", errObj["code"])
	}
}

func TestStateHistoryEndpoint(t *testing.T) {
	h, _, _ := setupAPI(t)
	doJSON(t, h, http.MethodPost, "/api/v1/components", componentBody("auth-service"))
	doJSON(t, h, http.MethodPost, "/api/v1/components/auth-service/lifecycle/initialize", nil)

	w := doJSON(t, h, http.MethodGet, "/api/v1/components/auth-service/history", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	// registered seed + initializing + initialized
	if got := decodeBody(t, w)["count"].(float64); got != 3 {
		t.Errorf("count = %v, want 3", got)
	}
}

func TestErrorLogEndpoint(t *testing.T) {
	h, _, _ := setupAPI(t)
	doJSON(t, h, http.MethodPost, "/api/v1/components", componentBody("auth-service"))

	w := doJSON(t, h, http.MethodGet, "/api/v1/components/auth-service/errors", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["count"].(float64) != 0 {
		t.Errorf("count = %v, want 0", body["count"])
	}
	if _, ok := body["recovery_attempts"]; !ok {
		t.Error("recovery_attempts missing")
	}
}

func TestUnregisterBlockedByDependents(t *testing.T) {
	h, _, _ := setupAPI(t)
	doJSON(t, h, http.MethodPost, "/api/v1/components", componentBody("auth-service"))
	dep := componentBody("api-gateway")
	dep["dependencies"] = []string{"auth-service"}
	doJSON(t, h, http.MethodPost, "/api/v1/components", dep)

	w := doJSON(t, h, http.MethodDelete, "/api/v1/components/auth-service", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %s", w.Code, w.Body.String())
	}
	errObj := decodeBody(t, w)["error"].(map[string]interface{})
	if errObj["code"] != "HAS_DEPENDENTS" {
		t.Errorf("code = %v, want HAS_DEPENDENTS", errObj["code"])
	}

	w = doJSON(t, h, http.MethodDelete, "/api/v1/components/api-gateway", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete dependent status = %d: %s", w.Code, w.Body.String())
	}
	w = doJSON(t, h, http.MethodDelete, "/api/v1/components/auth-service", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete after dependent gone status = %d: %s", w.Code, w.Body.String())
	}
}

func TestSnapshotEndpoints(t *testing.T) {
	h, _, _ := setupAPI(t)
	doJSON(t, h, http.MethodPost, "/api/v1/components", componentBody("auth-service"))

	w := doJSON(t, h, http.MethodPost, "/api/v1/snapshots",
		map[string]interface{}{"name": "before-change"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}
	snap := decodeBody(t, w)["snapshot"].(map[string]interface{})
	snapID := snap["id"].(string)

	w = doJSON(t, h, http.MethodGet, "/api/v1/snapshots", nil)
	if got := decodeBody(t, w)["count"].(float64); got != 1 {
		t.Errorf("list count = %v, want 1", got)
	}

	w = doJSON(t, h, http.MethodGet, "/api/v1/snapshots/"+snapID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d: %s", w.Code, w.Body.String())
	}

	doJSON(t, h, http.MethodPatch, "/api/v1/components/auth-service",
		map[string]interface{}{"name": "Renamed"})

	w = doJSON(t, h, http.MethodPost, "/api/v1/snapshots/"+snapID+"/restore", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("restore status = %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, h, http.MethodGet, "/api/v1/components/auth-service", nil)
	state := decodeBody(t, w)["state"].(map[string]interface{})
	comp := state["component"].(map[string]interface{})
	if comp["name"] != "Auth Service" {
		t.Errorf("name after restore = %v, want Auth Service", comp["name"])
	}

	w = doJSON(t, h, http.MethodGet, "/api/v1/snapshots/ghost", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown snapshot status = %d, want 404", w.Code)
	}
}

func TestExportEndpoint(t *testing.T) {
	h, _, _ := setupAPI(t)
	doJSON(t, h, http.MethodPost, "/api/v1/components", componentBody("auth-service"))

	w := doJSON(t, h, http.MethodGet, "/api/v1/export", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	export := decodeBody(t, w)["export"].(map[string]interface{})
	if _, ok := export["components"]; !ok {
		t.Error("export missing components")
	}
}

func TestSyncEndToEnd(t *testing.T) {
	h, _, sm := setupAPI(t)
	sm.RegisterTarget(syncmgr.NewMemoryTarget("app-b"))
	doJSON(t, h, http.MethodPost, "/api/v1/components", componentBody("auth-service"))

	w := doJSON(t, h, http.MethodPost, "/api/v1/sync", map[string]interface{}{
		"component_ids":       []string{"auth-service"},
		"target_applications": []string{"app-b"},
		"mode":                "full",
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("sync status = %d: %s", w.Code, w.Body.String())
	}
	op := decodeBody(t, w)["operation"].(map[string]interface{})
	opID := op["id"].(string)

	deadline := time.Now().Add(5 * time.Second)
	var status string
	for time.Now().Before(deadline) {
		w = doJSON(t, h, http.MethodGet, "/api/v1/sync/operations/"+opID, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("get operation status = %d: %s", w.Code, w.Body.String())
		}
		op = decodeBody(t, w)["operation"].(map[string]interface{})
		status = op["status"].(string)
		if status == "completed" || status == "failed" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if status != "completed" {
		t.Fatalf("operation status = %q, want completed", status)
	}

	w = doJSON(t, h, http.MethodGet, "/api/v1/sync/analytics?component_id=auth-service", nil)
	if got := decodeBody(t, w)["count"].(float64); got != 1 {
		t.Errorf("analytics count = %v, want 1", got)
	}

	w = doJSON(t, h, http.MethodGet, "/api/v1/components/auth-service/last-sync", nil)
	body := decodeBody(t, w)
	if body["synced"] != true {
		t.Errorf("synced = %v, want true", body["synced"])
	}

	w = doJSON(t, h, http.MethodGet, "/api/v1/sync/history", nil)
	if got := decodeBody(t, w)["count"].(float64); got != 1 {
		t.Errorf("history count = %v, want 1", got)
	}
}

func TestSyncValidationOverHTTP(t *testing.T) {
	h, _, _ := setupAPI(t)

	w := doJSON(t, h, http.MethodPost, "/api/v1/sync", map[string]interface{}{
		"component_ids": []string{"auth-service"},
		"mode":          "full",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
	}
}

func TestResolveConflictEndpoint(t *testing.T) {
	h, _, _ := setupAPI(t)

	w := doJSON(t, h, http.MethodPost, "/api/v1/sync/conflicts/ghost/resolve",
		map[string]interface{}{"winner": "sideways"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad winner status = %d, want 400: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, h, http.MethodPost, "/api/v1/sync/conflicts/ghost/resolve",
		map[string]interface{}{"winner": "local"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown conflict status = %d, want 404: %s", w.Code, w.Body.String())
	}
}

func TestQueueDepthEndpoint(t *testing.T) {
	h, _, _ := setupAPI(t)

	w := doJSON(t, h, http.MethodGet, "/api/v1/sync/queue", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if got := decodeBody(t, w)["depth"].(float64); got != 0 {
		t.Errorf("depth = %v, want 0", got)
	}
}

func TestConcurrentRegistrationsOverHTTP(t *testing.T) {
	h, _, _ := setupAPI(t)

	done := make(chan int, 10)
	for i := 0; i < 10; i++ {
		go func(n int) {
			w := doJSON(t, h, http.MethodPost, "/api/v1/components",
				componentBody(fmt.Sprintf("comp-%d", n)))
			done <- w.Code
		}(i)
	}
	for i := 0; i < 10; i++ {
		if code := <-done; code != http.StatusCreated {
			t.Errorf("status = %d, want 201", code)
		}
	}

	w := doJSON(t, h, http.MethodGet, "/api/v1/components", nil)
	if got := decodeBody(t, w)["count"].(float64); got != 10 {
		t.Errorf("count = %v, want 10", got)
	}
}
