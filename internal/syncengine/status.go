package syncengine

// FailureReason classifies a failed save cycle.
type FailureReason string

const (
	// FailureBroadcast means every attempt to notify collaborators failed;
	// nothing was persisted.
	FailureBroadcast FailureReason = "broadcast_failed"
	// FailurePersist means the authoritative save request failed.
	FailurePersist FailureReason = "persist_failed"
	// FailureAuthMissing means no credential was available when the cycle
	// started; no network call was made.
	FailureAuthMissing FailureReason = "auth_missing"
)

// SaveFailure describes a recoverable failed save cycle. The user chooses
// between continuing to edit (queue intact, next cycle resubmits) and
// discarding local changes to reload the server copy.
type SaveFailure struct {
	Reason     FailureReason
	Detail     string
	StatusCode int
	Err        error
}

// StatusSink receives UI-facing engine signals. Implementations must not
// block; the engine calls them inline during a save cycle.
type StatusSink interface {
	SavingStarted()
	SavingFinished()
	SaveSucceeded()
	SaveFailed(failure SaveFailure)
	FailureCleared()
}

// NopStatusSink discards all signals.
type NopStatusSink struct{}

func (NopStatusSink) SavingStarted()           {}
func (NopStatusSink) SavingFinished()          {}
func (NopStatusSink) SaveSucceeded()           {}
func (NopStatusSink) SaveFailed(_ SaveFailure) {}
func (NopStatusSink) FailureCleared()          {}
