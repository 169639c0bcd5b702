package syncengine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Bestalexmartin/Cuebe-sub002/internal/script"
)

var (
	errMissingScriptID  = errors.New("syncengine: script id is required")
	errMissingChannel   = errors.New("syncengine: sync channel is required")
	errMissingPersister = errors.New("syncengine: persister is required")
)

// EngineConfig describes the collaborators of one synchronization engine.
type EngineConfig struct {
	ScriptID        string
	IntervalSeconds int
	Channel         SyncChannel
	Persist         Persister
	Tokens          TokenProvider
	Status          StatusSink
	Logger          *zap.Logger
	Clock           func() time.Time
	Tickers         TickerFactory
	RetryAttempts   int
	RetryDelay      time.Duration
	Sleep           func(d time.Duration)
}

// Engine owns the synchronization state of one open script document: the
// pending operation queue, the change baseline, the autosave scheduler, and
// the save coordinator. Exactly one engine exists per open document and it
// is torn down when the document closes.
type Engine struct {
	scriptID    string
	queue       *OperationQueue
	detector    *ChangeDetector
	scheduler   *AutoSaveScheduler
	coordinator *SaveCoordinator
	persist     Persister
	status      StatusSink
	logger      *zap.Logger

	mu       sync.Mutex
	document *script.ScriptState
	editable map[string]any
}

// NewEngine validates the configuration and wires the engine components.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.ScriptID == "" {
		return nil, errMissingScriptID
	}
	if cfg.Channel == nil {
		return nil, errMissingChannel
	}
	if cfg.Persist == nil {
		return nil, errMissingPersister
	}

	status := cfg.Status
	if status == nil {
		status = NopStatusSink{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	engine := &Engine{
		scriptID: cfg.ScriptID,
		queue:    NewOperationQueue(),
		detector: NewChangeDetector(),
		persist:  cfg.Persist,
		status:   status,
		logger:   logger,
		editable: make(map[string]any),
	}

	engine.coordinator = NewSaveCoordinator(CoordinatorConfig{
		ScriptID:      cfg.ScriptID,
		Queue:         engine.queue,
		Detector:      engine.detector,
		Channel:       cfg.Channel,
		Persist:       cfg.Persist,
		Tokens:        cfg.Tokens,
		Status:        status,
		Logger:        logger,
		OnReconciled:  engine.replaceDocument,
		RetryAttempts: cfg.RetryAttempts,
		RetryDelay:    cfg.RetryDelay,
		Sleep:         cfg.Sleep,
	})

	engine.scheduler = NewAutoSaveScheduler(SchedulerConfig{
		IntervalSeconds: cfg.IntervalSeconds,
		Queue:           engine.queue,
		Save:            engine.coordinator.Save,
		Tickers:         cfg.Tickers,
		Clock:           cfg.Clock,
		Logger:          logger,
	})

	return engine, nil
}

// Load seeds the engine with the server's current document. Establishes the
// change baseline; until then the unsaved-changes flag stays false.
func (e *Engine) Load(state *script.ScriptState) {
	e.replaceDocument(state)
	e.detector.SetBaseline(DocumentFields(state))
}

// Start launches the autosave tick loop.
func (e *Engine) Start(ctx context.Context) {
	e.scheduler.Start(ctx)
}

// Close tears the engine down.
func (e *Engine) Close() {
	e.scheduler.Stop()
}

// Enqueue appends one edit operation. Document-metadata changes also fold
// into the live editable fields so the change detector sees them.
func (e *Engine) Enqueue(operation script.EditOperation) error {
	if err := e.queue.Enqueue(operation); err != nil {
		return err
	}

	if operation.Kind == script.OperationScriptInfoUpdate && operation.ScriptInfo != nil {
		e.mu.Lock()
		for field, value := range operation.ScriptInfo.Changes {
			e.editable[field] = value
		}
		e.mu.Unlock()
	}

	e.scheduler.OperationQueued()
	return nil
}

// HasUnsavedChanges reports whether any pending operation or any live form
// edit diverges from the last known-saved state.
func (e *Engine) HasUnsavedChanges() bool {
	if !e.queue.IsEmpty() {
		return true
	}
	e.mu.Lock()
	current := make(map[string]any, len(e.editable))
	for field, value := range e.editable {
		current[field] = value
	}
	e.mu.Unlock()
	return e.detector.HasChanges(current)
}

// SaveNow runs an immediate save cycle, e.g. from a manual save action.
// Dropped (returns false) while a cycle is already in flight.
func (e *Engine) SaveNow(ctx context.Context) bool {
	return e.scheduler.SaveNow(ctx)
}

// Pause suspends autosave until Resume.
func (e *Engine) Pause() {
	e.scheduler.Pause()
}

// Resume re-arms autosave.
func (e *Engine) Resume() {
	e.scheduler.Resume()
}

// SchedulerState exposes the scheduler snapshot for UI display.
func (e *Engine) SchedulerState() SchedulerState {
	return e.scheduler.State()
}

// RecentlySaved reports whether the transient save-succeeded indicator
// should still show.
func (e *Engine) RecentlySaved() bool {
	return e.scheduler.RecentlySaved()
}

// Document returns the current authoritative document.
func (e *Engine) Document() *script.ScriptState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.document
}

// PendingOperations reports the queue length.
func (e *Engine) PendingOperations() int {
	return e.queue.Len()
}

// DiscardAndReload abandons every local edit and replaces local state with
// the server's last-known document. This is the recovery choice offered
// alongside "continue editing" after a failed save.
func (e *Engine) DiscardAndReload(ctx context.Context) error {
	state, err := e.persist.Fetch(ctx, e.scriptID)
	if err != nil {
		e.logger.Error("discard reload failed",
			zap.String("script_id", e.scriptID), zap.Error(err))
		return err
	}

	e.queue.Clear()
	e.scheduler.QueueDrained()
	e.replaceDocument(state)
	e.detector.SetBaseline(DocumentFields(state))
	e.status.FailureCleared()
	e.logger.Info("local changes discarded, server copy reloaded",
		zap.String("script_id", e.scriptID),
		zap.Int64("revision", state.Revision))
	return nil
}

// replaceDocument swaps in an authoritative document and refreshes the live
// editable fields from it.
func (e *Engine) replaceDocument(state *script.ScriptState) {
	if state == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.document = state
	e.editable = DocumentFields(state)
}
