package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/Bestalexmartin/Cuebe-sub002/internal/script"
)

const testBearerToken = "valid-token"

type stubTokens struct{}

func (stubTokens) ValidateToken(token string) (string, error) {
	if token == testBearerToken {
		return "user-1", nil
	}
	return "", errors.New("unknown token")
}

type sequentialIDProvider struct {
	next int
}

func (p *sequentialIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("generated-%d", p.next), nil
}

func newTestHandler(t *testing.T) (http.Handler, *ScriptHub) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(&script.Script{}, &script.ScriptElement{}, &script.ScriptChange{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	service, err := script.NewService(script.ServiceConfig{
		Database:   db,
		Clock:      func() time.Time { return time.Unix(1700000500, 0).UTC() },
		IDProvider: &sequentialIDProvider{},
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}

	hub := NewScriptHub()
	handler, err := NewHTTPHandler(Dependencies{
		Tokens:        stubTokens{},
		ScriptService: service,
		Hub:           hub,
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}
	return handler, hub
}

func authedRequest(t *testing.T, method, target string, body []byte) *http.Request {
	t.Helper()
	request := httptest.NewRequest(method, target, bytes.NewReader(body))
	request.Header.Set("Authorization", "Bearer "+testBearerToken)
	request.Header.Set("Content-Type", "application/json")
	return request
}

func createTestScript(t *testing.T, handler http.Handler) script.ScriptState {
	t.Helper()
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, authedRequest(t, http.MethodPost, "/scripts", []byte(`{"title":"Evening Show"}`)))
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var state script.ScriptState
	if err := json.Unmarshal(recorder.Body.Bytes(), &state); err != nil {
		t.Fatalf("failed to decode create response: %v", err)
	}
	return state
}

func TestRouterRejectsMissingCredential(t *testing.T) {
	handler, _ := newTestHandler(t)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/scripts/script-1", nil))

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil || body["detail"] == "" {
		t.Fatalf("expected a detail body, got %s", recorder.Body.String())
	}
}

func TestRouterCreateAndFetchScript(t *testing.T) {
	handler, _ := newTestHandler(t)
	created := createTestScript(t, handler)
	if created.ScriptID == "" || created.OwnerID != "user-1" {
		t.Fatalf("unexpected created state %+v", created)
	}

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, authedRequest(t, http.MethodGet, "/scripts/"+created.ScriptID, nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var fetched script.ScriptState
	if err := json.Unmarshal(recorder.Body.Bytes(), &fetched); err != nil {
		t.Fatalf("failed to decode fetch response: %v", err)
	}
	if fetched.Title != "Evening Show" || fetched.Revision != 0 {
		t.Fatalf("unexpected fetched state %+v", fetched)
	}
}

func TestRouterSaveAppliesOperationBatch(t *testing.T) {
	handler, _ := newTestHandler(t)
	created := createTestScript(t, handler)

	body := []byte(`{"operations":[
		{"id":"op-1","timestamp":1700000100000,"type":"element_create","element":{"element_id":"cue-a","kind":"cue","label":"Preset","position":0}},
		{"id":"op-2","timestamp":1700000200000,"element_id":"cue-a","type":"field_update","field":"label","old_value":"Preset","new_value":"Blackout"}
	]}`)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, authedRequest(t, http.MethodPost, "/scripts/"+created.ScriptID+"/save", body))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var state script.ScriptState
	if err := json.Unmarshal(recorder.Body.Bytes(), &state); err != nil {
		t.Fatalf("failed to decode save response: %v", err)
	}
	if state.Revision != 1 {
		t.Fatalf("expected revision 1, got %d", state.Revision)
	}
	if len(state.Elements) != 1 || state.Elements[0].Label != "Blackout" {
		t.Fatalf("expected the batch applied in order, got %+v", state.Elements)
	}
}

func TestRouterSaveRejectionIs422WithDetail(t *testing.T) {
	handler, _ := newTestHandler(t)
	created := createTestScript(t, handler)

	body := []byte(`{"operations":[
		{"id":"op-1","timestamp":1700000100000,"element_id":"cue-missing","type":"field_update","field":"label","new_value":"x"}
	]}`)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, authedRequest(t, http.MethodPost, "/scripts/"+created.ScriptID+"/save", body))
	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var payload map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil || payload["detail"] == "" {
		t.Fatalf("expected a detail body, got %s", recorder.Body.String())
	}

	// The rejection rolled the whole batch back.
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, authedRequest(t, http.MethodGet, "/scripts/"+created.ScriptID, nil))
	var state script.ScriptState
	if err := json.Unmarshal(recorder.Body.Bytes(), &state); err != nil {
		t.Fatalf("failed to decode fetch response: %v", err)
	}
	if state.Revision != 0 {
		t.Fatalf("rejected batch must not advance the revision, got %d", state.Revision)
	}
}

func TestRouterSaveUnknownScriptIs404(t *testing.T) {
	handler, _ := newTestHandler(t)

	body := []byte(`{"operations":[
		{"id":"op-1","timestamp":1700000100000,"element_id":"cue-a","type":"field_update","field":"label","new_value":"x"}
	]}`)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, authedRequest(t, http.MethodPost, "/scripts/no-such-script/save", body))
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestRouterSaveRequiresOperations(t *testing.T) {
	handler, _ := newTestHandler(t)
	created := createTestScript(t, handler)

	cases := []struct {
		name string
		body string
	}{
		{name: "empty batch", body: `{"operations":[]}`},
		{name: "malformed json", body: `{"operations":`},
		{name: "unknown operation type", body: `{"operations":[{"id":"op-1","timestamp":1,"type":"mystery"}]}`},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			handler.ServeHTTP(recorder, authedRequest(t, http.MethodPost, "/scripts/"+created.ScriptID+"/save", []byte(testCase.body)))
			if recorder.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", recorder.Code, recorder.Body.String())
			}
		})
	}
}
