package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Bestalexmartin/Cuebe-sub002/internal/script"
	"github.com/Bestalexmartin/Cuebe-sub002/internal/syncengine"
)

type staticTokens struct {
	token string
	err   error
}

func (t staticTokens) Token(_ context.Context) (string, error) {
	return t.token, t.err
}

func testOperations(t *testing.T) []script.EditOperation {
	t.Helper()
	operationID, err := script.NewOperationID("op-a")
	if err != nil {
		t.Fatalf("unexpected operation id error: %v", err)
	}
	return []script.EditOperation{{
		ID:          operationID,
		Timestamp:   time.Unix(1700000100, 0).UTC(),
		ElementID:   "cue-a",
		Kind:        script.OperationFieldUpdate,
		FieldUpdate: &script.FieldUpdatePayload{Field: "label", NewValue: "Blackout"},
	}}
}

func TestHTTPPersisterRequiresBaseURL(t *testing.T) {
	if _, err := NewHTTPPersister(HTTPPersisterConfig{BaseURL: "  "}); !errors.Is(err, ErrMissingBaseURL) {
		t.Fatalf("expected ErrMissingBaseURL, got %v", err)
	}
}

func TestHTTPPersisterPersistSubmitsBatch(t *testing.T) {
	var gotPath, gotAuth, gotContentType string
	var gotBody struct {
		Operations []json.RawMessage `json:"operations"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("unexpected body decode error: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(script.ScriptState{ScriptID: "script-1", Revision: 7})
	}))
	defer server.Close()

	persister, err := NewHTTPPersister(HTTPPersisterConfig{
		BaseURL: server.URL + "/",
		Tokens:  staticTokens{token: "bearer-token"},
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	state, err := persister.Persist(context.Background(), "script-1", testOperations(t))
	if err != nil {
		t.Fatalf("unexpected persist error: %v", err)
	}

	if gotPath != "POST /scripts/script-1/save" {
		t.Fatalf("unexpected request %q", gotPath)
	}
	if gotAuth != "Bearer bearer-token" {
		t.Fatalf("expected bearer credential, got %q", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Fatalf("unexpected content type %q", gotContentType)
	}
	if len(gotBody.Operations) != 1 {
		t.Fatalf("expected one operation in the batch, got %d", len(gotBody.Operations))
	}
	if state.Revision != 7 {
		t.Fatalf("expected the reconciled document, got revision %d", state.Revision)
	}
}

func TestHTTPPersisterSurfacesEndpointDetail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]string{"detail": "operation rejected: unknown field"})
	}))
	defer server.Close()

	persister, err := NewHTTPPersister(HTTPPersisterConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	_, err = persister.Persist(context.Background(), "script-1", testOperations(t))
	var requestErr *syncengine.RequestError
	if !errors.As(err, &requestErr) {
		t.Fatalf("expected RequestError, got %v", err)
	}
	if requestErr.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("unexpected status %d", requestErr.StatusCode)
	}
	if requestErr.Detail != "operation rejected: unknown field" {
		t.Fatalf("unexpected detail %q", requestErr.Detail)
	}
}

func TestHTTPPersisterFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/scripts/script-1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(script.ScriptState{ScriptID: "script-1", Revision: 3})
	}))
	defer server.Close()

	persister, err := NewHTTPPersister(HTTPPersisterConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	state, err := persister.Fetch(context.Background(), "script-1")
	if err != nil {
		t.Fatalf("unexpected fetch error: %v", err)
	}
	if state.Revision != 3 {
		t.Fatalf("expected revision 3, got %d", state.Revision)
	}
}

func TestHTTPPersisterCredentialErrorAbortsRequest(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer server.Close()

	persister, err := NewHTTPPersister(HTTPPersisterConfig{
		BaseURL: server.URL,
		Tokens:  staticTokens{err: errors.New("keychain locked")},
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	if _, err := persister.Fetch(context.Background(), "script-1"); err == nil {
		t.Fatalf("expected a credential error")
	}
	if requests != 0 {
		t.Fatalf("no request may leave without a resolved credential")
	}
}
