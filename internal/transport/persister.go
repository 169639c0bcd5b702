// Package transport provides the concrete network collaborators of the
// synchronization engine: an HTTP persister for the authoritative save
// endpoint and a websocket channel for collaborator broadcasts.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Bestalexmartin/Cuebe-sub002/internal/script"
	"github.com/Bestalexmartin/Cuebe-sub002/internal/syncengine"
)

var (
	// ErrMissingBaseURL indicates the persister configuration lacks the server base URL.
	ErrMissingBaseURL = errors.New("transport: base url is required")
)

const defaultRequestTimeout = 30 * time.Second

// HTTPPersisterConfig describes the dependencies of the HTTP persister.
type HTTPPersisterConfig struct {
	// BaseURL is the server root, e.g. "https://api.example.com". Required.
	BaseURL string
	// Client overrides the HTTP client; defaults to one with a 30s timeout.
	Client *http.Client
	// Tokens supplies the bearer credential. Optional; requests go out
	// unauthenticated without it.
	Tokens syncengine.TokenProvider
	Logger *zap.Logger
}

// HTTPPersister submits ordered operation batches to the save endpoint and
// returns the server's reconciled document.
type HTTPPersister struct {
	baseURL string
	client  *http.Client
	tokens  syncengine.TokenProvider
	logger  *zap.Logger
}

// NewHTTPPersister validates the configuration and constructs the persister.
func NewHTTPPersister(cfg HTTPPersisterConfig) (*HTTPPersister, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, ErrMissingBaseURL
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPPersister{
		baseURL: base,
		client:  client,
		tokens:  cfg.Tokens,
		logger:  logger,
	}, nil
}

type saveRequest struct {
	Operations []script.EditOperation `json:"operations"`
}

// Persist submits the snapshot to the save endpoint. Non-2xx responses come
// back as a *syncengine.RequestError carrying the endpoint's status and
// detail message.
func (p *HTTPPersister) Persist(ctx context.Context, scriptID string, operations []script.EditOperation) (*script.ScriptState, error) {
	body, err := json.Marshal(saveRequest{Operations: operations})
	if err != nil {
		return nil, fmt.Errorf("encode save request: %w", err)
	}

	endpoint := p.scriptURL(scriptID) + "/save"
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build save request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	return p.do(ctx, request)
}

// Fetch reloads the server's current copy of the script.
func (p *HTTPPersister) Fetch(ctx context.Context, scriptID string) (*script.ScriptState, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, p.scriptURL(scriptID), nil)
	if err != nil {
		return nil, fmt.Errorf("build fetch request: %w", err)
	}
	return p.do(ctx, request)
}

func (p *HTTPPersister) do(ctx context.Context, request *http.Request) (*script.ScriptState, error) {
	if err := p.authorize(ctx, request); err != nil {
		return nil, err
	}

	response, err := p.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", request.URL.Path, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, response.Body)
		_ = response.Body.Close()
	}()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return nil, p.requestError(response)
	}

	var state script.ScriptState
	if err := json.NewDecoder(response.Body).Decode(&state); err != nil {
		return nil, fmt.Errorf("decode response from %s: %w", request.URL.Path, err)
	}
	return &state, nil
}

func (p *HTTPPersister) authorize(ctx context.Context, request *http.Request) error {
	if p.tokens == nil {
		return nil
	}
	token, err := p.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("resolve credential: %w", err)
	}
	if strings.TrimSpace(token) != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

// requestError extracts the endpoint's {"detail": ...} body. An unreadable
// body still yields the status code.
func (p *HTTPPersister) requestError(response *http.Response) error {
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		p.logger.Debug("unreadable error body",
			zap.Int("status", response.StatusCode), zap.Error(err))
	}
	return &syncengine.RequestError{
		StatusCode: response.StatusCode,
		Detail:     payload.Detail,
	}
}

func (p *HTTPPersister) scriptURL(scriptID string) string {
	return p.baseURL + "/scripts/" + url.PathEscape(scriptID)
}
