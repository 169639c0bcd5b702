package syncengine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Bestalexmartin/Cuebe-sub002/internal/script"
)

type fakeChannel struct {
	mu            sync.Mutex
	sent          []BroadcastMessage
	failRemaining int
	failWith      error
	reconnects    int
	reconnectErr  error
}

func (c *fakeChannel) Send(msg BroadcastMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failRemaining > 0 {
		c.failRemaining--
		if c.failWith != nil {
			return c.failWith
		}
		return fmt.Errorf("send failed")
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeChannel) Reconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnects++
	return c.reconnectErr
}

func (c *fakeChannel) sentMessages() []BroadcastMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	messages := make([]BroadcastMessage, len(c.sent))
	copy(messages, c.sent)
	return messages
}

type fakePersister struct {
	mu        sync.Mutex
	batches   [][]script.EditOperation
	fetches   int
	state     *script.ScriptState
	err       error
	onPersist func()
}

func (p *fakePersister) Persist(_ context.Context, _ string, operations []script.EditOperation) (*script.ScriptState, error) {
	p.mu.Lock()
	batch := make([]script.EditOperation, len(operations))
	copy(batch, operations)
	p.batches = append(p.batches, batch)
	hook := p.onPersist
	p.mu.Unlock()

	if hook != nil {
		hook()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return p.state, nil
}

func (p *fakePersister) Fetch(_ context.Context, _ string) (*script.ScriptState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetches++
	if p.err != nil {
		return nil, p.err
	}
	return p.state, nil
}

func (p *fakePersister) persistCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.batches)
}

func (p *fakePersister) lastBatch() []script.EditOperation {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.batches) == 0 {
		return nil
	}
	return p.batches[len(p.batches)-1]
}

type staticTokens struct {
	token string
	err   error
}

func (t staticTokens) Token(_ context.Context) (string, error) {
	return t.token, t.err
}

type recordingStatus struct {
	mu             sync.Mutex
	savingStarted  int
	savingFinished int
	succeeded      int
	failures       []SaveFailure
	failureCleared int
}

func (s *recordingStatus) SavingStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.savingStarted++
}

func (s *recordingStatus) SavingFinished() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.savingFinished++
}

func (s *recordingStatus) SaveSucceeded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.succeeded++
}

func (s *recordingStatus) SaveFailed(failure SaveFailure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failure)
}

func (s *recordingStatus) FailureCleared() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failureCleared++
}

func (s *recordingStatus) lastFailure() (SaveFailure, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.failures) == 0 {
		return SaveFailure{}, false
	}
	return s.failures[len(s.failures)-1], true
}

func testState(revision int64) *script.ScriptState {
	return &script.ScriptState{
		ScriptID:         "script-1",
		OwnerID:          "user-1",
		Title:            "Evening Show",
		Venue:            "Main Stage",
		Revision:         revision,
		UpdatedAtSeconds: 1700000500,
		Elements: []script.ElementState{
			{ElementID: "cue-a", Position: 0, Kind: "cue", Label: "Preset"},
		},
	}
}

func fieldUpdateOp(t *testing.T, id, elementID, newLabel string) script.EditOperation {
	t.Helper()
	operationID, err := script.NewOperationID(id)
	if err != nil {
		t.Fatalf("unexpected operation id error: %v", err)
	}
	return script.EditOperation{
		ID:          operationID,
		Timestamp:   time.Unix(1700000100, 0).UTC(),
		ElementID:   elementID,
		Description: "rename " + elementID,
		Kind:        script.OperationFieldUpdate,
		FieldUpdate: &script.FieldUpdatePayload{Field: "label", NewValue: newLabel},
	}
}

func scriptInfoOp(t *testing.T, id string, changes map[string]any) script.EditOperation {
	t.Helper()
	operationID, err := script.NewOperationID(id)
	if err != nil {
		t.Fatalf("unexpected operation id error: %v", err)
	}
	return script.EditOperation{
		ID:         operationID,
		Timestamp:  time.Unix(1700000100, 0).UTC(),
		Kind:       script.OperationScriptInfoUpdate,
		ScriptInfo: &script.ScriptInfoPayload{Changes: changes},
	}
}

func noSleep(_ time.Duration) {}
