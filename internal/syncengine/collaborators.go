package syncengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/Bestalexmartin/Cuebe-sub002/internal/script"
)

// ErrChannelClosed marks a send that failed because the underlying channel
// connection is closed or broken. The retry loop reconnects before retrying
// when it sees this.
var ErrChannelClosed = errors.New("syncengine: channel closed")

// SyncChannel is the best-effort realtime channel used to notify other
// viewers of pending changes before they are persisted.
type SyncChannel interface {
	Send(msg BroadcastMessage) error
	Reconnect() error
}

// Persister is the authoritative endpoint. Persist submits an ordered
// operation batch and returns the fully reconciled document; Fetch reloads
// the server's current copy (used by the discard path).
type Persister interface {
	Persist(ctx context.Context, scriptID string, operations []script.EditOperation) (*script.ScriptState, error)
	Fetch(ctx context.Context, scriptID string) (*script.ScriptState, error)
}

// TokenProvider supplies the bearer credential for authenticated calls.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// RequestError carries the status and detail of a rejected persistence
// request. Detail is shown verbatim in the failure UI.
type RequestError struct {
	StatusCode int
	Detail     string
}

func (e *RequestError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Detail)
}
