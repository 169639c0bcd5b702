package syncengine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Bestalexmartin/Cuebe-sub002/internal/script"
)

var (
	// ErrDuplicateOperation indicates an enqueue with an id already present.
	ErrDuplicateOperation = errors.New("syncengine: duplicate operation id")
)

// OperationQueue is the ordered, append-only sequence of pending edit
// operations for one open document. Operations are appended by the editor,
// snapshotted by the save coordinator, and removed only after the exact
// snapshot they belong to was persisted; a failed cycle leaves the queue
// untouched so no edit is lost.
type OperationQueue struct {
	mu         sync.Mutex
	operations []script.EditOperation
	ids        map[string]struct{}
}

// NewOperationQueue constructs an empty queue.
func NewOperationQueue() *OperationQueue {
	return &OperationQueue{
		ids: make(map[string]struct{}),
	}
}

// Enqueue validates and appends one operation. Ordering is preserved;
// duplicate ids are rejected rather than silently deduplicated.
func (q *OperationQueue) Enqueue(operation script.EditOperation) error {
	if err := operation.Validate(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	id := operation.ID.String()
	if _, exists := q.ids[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateOperation, id)
	}
	q.ids[id] = struct{}{}
	q.operations = append(q.operations, operation)
	return nil
}

// Snapshot returns an immutable copy of the current contents. The caller
// confirms consumption later via RemoveAll; until then the queue keeps the
// operations so a failed cycle loses nothing.
func (q *OperationQueue) Snapshot() []script.EditOperation {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.operations) == 0 {
		return nil
	}
	snapshot := make([]script.EditOperation, len(q.operations))
	copy(snapshot, q.operations)
	return snapshot
}

// RemoveAll removes exactly the operations of a persisted snapshot, by id.
// Operations enqueued after the snapshot was taken survive.
func (q *OperationQueue) RemoveAll(snapshot []script.EditOperation) {
	if len(snapshot) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	persisted := make(map[string]struct{}, len(snapshot))
	for _, operation := range snapshot {
		persisted[operation.ID.String()] = struct{}{}
	}

	remaining := q.operations[:0]
	for _, operation := range q.operations {
		id := operation.ID.String()
		if _, ok := persisted[id]; ok {
			delete(q.ids, id)
			continue
		}
		remaining = append(remaining, operation)
	}
	q.operations = remaining
}

// Clear discards every pending operation. Used by the discard-and-reload
// recovery path, never by a save cycle.
func (q *OperationQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.operations = nil
	q.ids = make(map[string]struct{})
}

// Len returns the number of pending operations.
func (q *OperationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.operations)
}

// IsEmpty reports whether the queue has no pending operations.
func (q *OperationQueue) IsEmpty() bool {
	return q.Len() == 0
}
