package syncengine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Bestalexmartin/Cuebe-sub002/internal/script"
)

const (
	// DefaultRetryAttempts bounds broadcast attempts per partition.
	DefaultRetryAttempts = 5
	// DefaultRetryDelay is the fixed delay between broadcast attempts.
	DefaultRetryDelay = 1500 * time.Millisecond
)

var errNoToken = errors.New("syncengine: no credential available")

// CoordinatorConfig describes the dependencies of the save coordinator.
type CoordinatorConfig struct {
	ScriptID string
	Queue    *OperationQueue
	Detector *ChangeDetector
	Channel  SyncChannel
	Persist  Persister
	Tokens   TokenProvider
	Status   StatusSink
	Logger   *zap.Logger

	// OnReconciled receives the authoritative post-save document; the owner
	// replaces its local copy with it wholesale.
	OnReconciled func(state *script.ScriptState)

	RetryAttempts int
	RetryDelay    time.Duration
	// Sleep is injected so tests skip the real inter-attempt delay.
	Sleep func(d time.Duration)
	// NewBroadcastID generates the operation_id stamped on broadcast
	// envelopes; defaults to a UUID.
	NewBroadcastID func() string
}

// SaveCoordinator orchestrates one save cycle: snapshot the queue, broadcast
// the snapshot to collaborators with bounded retry, persist it to the
// authoritative endpoint, and on success reconcile local state with the
// server's response. Broadcast runs before persistence, but persistence is
// the only source of truth.
type SaveCoordinator struct {
	scriptID string
	queue    *OperationQueue
	detector *ChangeDetector
	channel  SyncChannel
	persist  Persister
	tokens   TokenProvider
	status   StatusSink
	logger   *zap.Logger

	onReconciled   func(state *script.ScriptState)
	retryAttempts  int
	retryDelay     time.Duration
	sleep          func(d time.Duration)
	newBroadcastID func() string

	saving atomic.Bool
}

// NewSaveCoordinator constructs a coordinator, applying the default retry
// policy where the configuration leaves it unset.
func NewSaveCoordinator(cfg CoordinatorConfig) *SaveCoordinator {
	status := cfg.Status
	if status == nil {
		status = NopStatusSink{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	newBroadcastID := cfg.NewBroadcastID
	if newBroadcastID == nil {
		newBroadcastID = uuid.NewString
	}
	return &SaveCoordinator{
		scriptID:       cfg.ScriptID,
		queue:          cfg.Queue,
		detector:       cfg.Detector,
		channel:        cfg.Channel,
		persist:        cfg.Persist,
		tokens:         cfg.Tokens,
		status:         status,
		logger:         logger,
		onReconciled:   cfg.OnReconciled,
		retryAttempts:  attempts,
		retryDelay:     delay,
		sleep:          sleep,
		newBroadcastID: newBroadcastID,
	}
}

// Save runs one save cycle and reports success. An empty queue is a no-op
// success with no network traffic. A trigger arriving while a cycle is in
// flight is dropped; the running cycle's snapshot is unaffected and newly
// queued operations wait for the next cycle.
func (c *SaveCoordinator) Save(ctx context.Context) (succeeded bool) {
	if c.queue.IsEmpty() {
		return true
	}
	if !c.saving.CompareAndSwap(false, true) {
		c.logger.Debug("save trigger dropped, cycle already in flight",
			zap.String("script_id", c.scriptID))
		return false
	}

	c.status.SavingStarted()
	defer func() {
		if recovered := recover(); recovered != nil {
			c.logger.Error("save cycle panicked",
				zap.String("script_id", c.scriptID),
				zap.Any("panic", recovered))
			c.status.SaveFailed(SaveFailure{
				Reason: FailurePersist,
				Detail: fmt.Sprintf("internal error: %v", recovered),
			})
			succeeded = false
		}
		c.status.SavingFinished()
		c.saving.Store(false)
	}()

	// All subsequent steps operate on this exact snapshot; the live queue
	// is never re-read, so edits arriving mid-cycle wait for the next one.
	snapshot := c.queue.Snapshot()
	if len(snapshot) == 0 {
		return true
	}

	if err := c.checkCredential(ctx); err != nil {
		c.logger.Warn("save aborted, no credential",
			zap.String("script_id", c.scriptID), zap.Error(err))
		c.status.SaveFailed(SaveFailure{
			Reason: FailureAuthMissing,
			Detail: "no credential available",
			Err:    err,
		})
		return false
	}

	if err := c.broadcastSnapshot(snapshot); err != nil {
		c.logger.Warn("broadcast exhausted, save aborted",
			zap.String("script_id", c.scriptID),
			zap.Int("operations", len(snapshot)),
			zap.Error(err))
		c.status.SaveFailed(SaveFailure{
			Reason: FailureBroadcast,
			Detail: "unable to notify collaborators",
			Err:    err,
		})
		return false
	}

	state, err := c.persist.Persist(ctx, c.scriptID, snapshot)
	if err != nil {
		failure := SaveFailure{Reason: FailurePersist, Detail: err.Error(), Err: err}
		var requestErr *RequestError
		if errors.As(err, &requestErr) {
			failure.StatusCode = requestErr.StatusCode
			failure.Detail = requestErr.Detail
		}
		c.logger.Error("persist failed, queue preserved",
			zap.String("script_id", c.scriptID),
			zap.Int("operations", len(snapshot)),
			zap.Error(err))
		c.status.SaveFailed(failure)
		return false
	}

	c.reconcile(snapshot, state)
	return true
}

func (c *SaveCoordinator) checkCredential(ctx context.Context) error {
	if c.tokens == nil {
		return nil
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	if strings.TrimSpace(token) == "" {
		return errNoToken
	}
	return nil
}

// broadcastSnapshot sends the document-metadata and element partitions as
// two independent messages. A collaborator may observe metadata without the
// corresponding element changes when the second send fails after the first
// succeeded; the next successful persist converges everyone.
func (c *SaveCoordinator) broadcastSnapshot(snapshot []script.EditOperation) error {
	metadata, elements := partitionSnapshot(snapshot)

	if len(metadata) > 0 {
		msg := BroadcastMessage{
			UpdateType:  UpdateTypeScriptInfo,
			Changes:     mergeMetadataChanges(metadata),
			OperationID: c.newBroadcastID(),
		}
		if err := c.sendWithRetry(msg); err != nil {
			return err
		}
	}
	if len(elements) > 0 {
		msg := BroadcastMessage{
			UpdateType:  UpdateTypeElements,
			Changes:     elements,
			OperationID: c.newBroadcastID(),
		}
		if err := c.sendWithRetry(msg); err != nil {
			return err
		}
	}
	return nil
}

func (c *SaveCoordinator) sendWithRetry(msg BroadcastMessage) error {
	var lastErr error
	for attempt := 1; attempt <= c.retryAttempts; attempt++ {
		if attempt > 1 {
			c.sleep(c.retryDelay)
			if errors.Is(lastErr, ErrChannelClosed) {
				if err := c.channel.Reconnect(); err != nil {
					c.logger.Warn("channel reconnect failed",
						zap.String("script_id", c.scriptID),
						zap.Int("attempt", attempt),
						zap.Error(err))
				}
			}
		}

		lastErr = c.channel.Send(msg)
		if lastErr == nil {
			return nil
		}
		c.logger.Warn("broadcast attempt failed",
			zap.String("script_id", c.scriptID),
			zap.String("update_type", msg.UpdateType),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
	}
	return lastErr
}

// reconcile replaces local state with the authoritative response: the
// document is swapped wholesale, exactly the snapshotted operations leave
// the queue, and the change baseline moves to the saved fields.
func (c *SaveCoordinator) reconcile(snapshot []script.EditOperation, state *script.ScriptState) {
	if c.onReconciled != nil && state != nil {
		c.onReconciled(state)
	}
	c.queue.RemoveAll(snapshot)
	if c.detector != nil && state != nil {
		c.detector.Rebase(DocumentFields(state))
	}
	c.status.FailureCleared()
	c.status.SaveSucceeded()
	c.logger.Info("save cycle completed",
		zap.String("script_id", c.scriptID),
		zap.Int("operations", len(snapshot)),
		zap.Int("pending_after", c.queue.Len()))
}

// DocumentFields projects the user-editable fields of a reconciled document
// for baseline comparison.
func DocumentFields(state *script.ScriptState) map[string]any {
	return map[string]any{
		"title":              state.Title,
		"venue":              state.Venue,
		"performance_date_s": state.PerformanceDateSeconds,
	}
}
