package syncengine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SchedulerPhase names a state of the autosave state machine.
type SchedulerPhase string

const (
	// PhaseIdle means nothing is pending and no countdown runs.
	PhaseIdle SchedulerPhase = "idle"
	// PhaseCounting means a countdown toward the next save is running.
	PhaseCounting SchedulerPhase = "counting"
	// PhaseSaving means a save cycle is in flight; ticks are suppressed.
	PhaseSaving SchedulerPhase = "saving"
	// PhasePaused means the user disabled autosave; no countdown runs.
	PhasePaused SchedulerPhase = "paused"
)

// AllowedIntervals is the enumerated set of autosave intervals in seconds;
// zero disables autosave.
var AllowedIntervals = []int{0, 10, 60, 120, 300}

// successDisplayDuration bounds how long the transient save-succeeded
// signal stays visible.
const successDisplayDuration = 2 * time.Second

// SchedulerState is a snapshot of the scheduler for UI display.
type SchedulerState struct {
	IsSaving         bool
	IsPaused         bool
	SecondsRemaining int
	LastSaveTime     time.Time
}

// Ticker abstracts the 1-second tick source so tests drive time manually.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory builds the scheduler's owned ticker.
type TickerFactory func(interval time.Duration) Ticker

type wallTicker struct {
	ticker *time.Ticker
}

func (t *wallTicker) C() <-chan time.Time { return t.ticker.C }
func (t *wallTicker) Stop()               { t.ticker.Stop() }

func newWallTicker(interval time.Duration) Ticker {
	return &wallTicker{ticker: time.NewTicker(interval)}
}

// SchedulerConfig describes the dependencies of the autosave scheduler.
type SchedulerConfig struct {
	// IntervalSeconds is the configured countdown; zero disables autosave.
	IntervalSeconds int
	// Queue is consulted for emptiness on state transitions.
	Queue *OperationQueue
	// Save runs one save cycle and reports success. Required.
	Save func(ctx context.Context) bool
	// Tickers overrides the owned tick source; defaults to a wall clock
	// ticker at 1-second resolution.
	Tickers TickerFactory
	Clock   func() time.Time
	Logger  *zap.Logger
}

// AutoSaveScheduler is the countdown state machine that triggers a save
// after the configured idle interval once the queue is non-empty. One
// scheduler exists per engine instance and owns a single cancellable ticker.
type AutoSaveScheduler struct {
	mu        sync.Mutex
	phase     SchedulerPhase
	remaining int
	interval  int
	paused    bool
	lastSave  time.Time

	queue   *OperationQueue
	save    func(ctx context.Context) bool
	tickers TickerFactory
	clock   func() time.Time
	logger  *zap.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewAutoSaveScheduler validates the configuration and constructs the
// scheduler in the Idle phase. Call Start to begin consuming ticks.
func NewAutoSaveScheduler(cfg SchedulerConfig) *AutoSaveScheduler {
	tickers := cfg.Tickers
	if tickers == nil {
		tickers = newWallTicker
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AutoSaveScheduler{
		phase:    PhaseIdle,
		interval: normalizeInterval(cfg.IntervalSeconds),
		queue:    cfg.Queue,
		save:     cfg.Save,
		tickers:  tickers,
		clock:    clock,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// normalizeInterval snaps an arbitrary value onto the enumerated set,
// falling back to disabled.
func normalizeInterval(seconds int) int {
	for _, allowed := range AllowedIntervals {
		if seconds == allowed {
			return seconds
		}
	}
	return 0
}

// Start launches the tick loop on the scheduler's owned ticker. The loop
// exits when ctx is cancelled or Stop is called.
func (s *AutoSaveScheduler) Start(ctx context.Context) {
	ticker := s.tickers(time.Second)
	go func() {
		defer close(s.doneCh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C():
				s.Tick(ctx)
			}
		}
	}()
}

// Stop cancels the tick loop. Idempotent.
func (s *AutoSaveScheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

// Done is closed once the tick loop has exited.
func (s *AutoSaveScheduler) Done() <-chan struct{} {
	return s.doneCh
}

// State returns a snapshot for UI display.
func (s *AutoSaveScheduler) State() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SchedulerState{
		IsSaving:         s.phase == PhaseSaving,
		IsPaused:         s.paused,
		SecondsRemaining: s.remaining,
		LastSaveTime:     s.lastSave,
	}
}

// Phase returns the current state machine phase.
func (s *AutoSaveScheduler) Phase() SchedulerPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// RecentlySaved reports whether the last successful save happened within the
// transient success-display window.
func (s *AutoSaveScheduler) RecentlySaved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSave.IsZero() {
		return false
	}
	return s.clock().Sub(s.lastSave) <= successDisplayDuration
}

// OperationQueued notes that the queue went from empty to non-empty and
// starts the countdown when autosave is armed.
func (s *AutoSaveScheduler) OperationQueued() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.paused || s.interval == 0 {
		return
	}
	if s.phase != PhaseIdle {
		return
	}
	s.phase = PhaseCounting
	s.remaining = s.interval
}

// QueueDrained notes that the queue emptied outside a save cycle (an
// external discard); any running countdown is cancelled immediately.
func (s *AutoSaveScheduler) QueueDrained() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == PhaseCounting {
		s.phase = PhaseIdle
		s.remaining = 0
	}
}

// Pause stops the countdown and holds the scheduler until Resume. The
// countdown resets; un-pausing restarts from the full interval.
func (s *AutoSaveScheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.paused = true
	s.remaining = 0
	if s.phase != PhaseSaving {
		s.phase = PhasePaused
	}
}

// Resume re-arms the scheduler; if work is already pending the countdown
// restarts from the configured interval.
func (s *AutoSaveScheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.paused = false
	if s.phase == PhaseSaving {
		return
	}
	if s.interval > 0 && s.queue != nil && !s.queue.IsEmpty() {
		s.phase = PhaseCounting
		s.remaining = s.interval
	} else {
		s.phase = PhaseIdle
		s.remaining = 0
	}
}

// Tick advances the countdown by one second and runs a save cycle when it
// reaches zero. Ticks outside the Counting phase are no-ops, which also
// suppresses the ticker while a save is in flight.
func (s *AutoSaveScheduler) Tick(ctx context.Context) {
	s.mu.Lock()
	if s.phase != PhaseCounting {
		s.mu.Unlock()
		return
	}
	if s.remaining > 0 {
		s.remaining--
	}
	if s.remaining > 0 {
		s.mu.Unlock()
		return
	}
	s.phase = PhaseSaving
	s.mu.Unlock()

	s.runSave(ctx)
}

// SaveNow triggers an immediate save cycle, e.g. from a manual save action.
// Returns false without side effects when a cycle is already in flight.
func (s *AutoSaveScheduler) SaveNow(ctx context.Context) bool {
	s.mu.Lock()
	if s.phase == PhaseSaving {
		s.mu.Unlock()
		return false
	}
	s.phase = PhaseSaving
	s.remaining = 0
	s.mu.Unlock()

	return s.runSave(ctx)
}

func (s *AutoSaveScheduler) runSave(ctx context.Context) bool {
	succeeded := false
	if s.save != nil {
		succeeded = s.save(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if succeeded {
		s.lastSave = s.clock()
	} else {
		s.logger.Warn("save cycle failed, queue preserved",
			zap.Int("pending_operations", s.pendingLocked()))
	}

	// Failure preserves the queue, so pending work re-arms the countdown;
	// success re-arms it for operations enqueued mid-flight.
	if !s.paused && s.interval > 0 && s.queue != nil && !s.queue.IsEmpty() {
		s.phase = PhaseCounting
		s.remaining = s.interval
	} else if s.paused {
		s.phase = PhasePaused
		s.remaining = 0
	} else {
		s.phase = PhaseIdle
		s.remaining = 0
	}
	return succeeded
}

func (s *AutoSaveScheduler) pendingLocked() int {
	if s.queue == nil {
		return 0
	}
	return s.queue.Len()
}
