package agent

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// SupervisionPolicy decides what happens when a supervised run fails.
type SupervisionPolicy int

const (
	// PolicyRestart retries the run, up to MaxRestarts times within Window,
	// unless the error is classified fatal.
	PolicyRestart SupervisionPolicy = iota
	// PolicyResume returns the error to the caller without retrying, as if
	// the run had "resumed" past the failure at a higher level.
	PolicyResume
	// PolicyStop returns the error immediately; no retries.
	PolicyStop
	// PolicyEscalate wraps the error in EscalatedError and returns it,
	// signaling a parent supervisor (if any) should decide next steps.
	PolicyEscalate
)

func (p SupervisionPolicy) String() string {
	switch p {
	case PolicyRestart:
		return "restart"
	case PolicyResume:
		return "resume"
	case PolicyStop:
		return "stop"
	case PolicyEscalate:
		return "escalate"
	default:
		return "unknown"
	}
}

// SupervisorConfig configures a Supervisor's restart policy and backoff.
type SupervisorConfig struct {
	Policy SupervisionPolicy

	// MaxRestarts and Window bound PolicyRestart: at most MaxRestarts
	// restarts are allowed within any rolling Window; once exceeded, the
	// run stops instead of restarting.
	MaxRestarts int
	Window      time.Duration

	// BaseBackoff/MaxBackoff control the exponential backoff applied
	// before each restart: base * 2^attempt, capped at MaxBackoff.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// IsFatal classifies an error as non-retryable regardless of policy,
	// e.g. an auth failure that a restart can never fix. Defaults to
	// treating every error as transient (retryable).
	IsFatal func(error) bool

	// EventBuffer sizes each subscriber's event channel. Default 64.
	EventBuffer int
}

// DefaultSupervisorConfig returns the supervisor's default restart policy:
// up to 3 restarts per 60s window, 100ms base backoff doubling to a 30s cap.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		Policy:      PolicyRestart,
		MaxRestarts: 3,
		Window:      60 * time.Second,
		BaseBackoff: 100 * time.Millisecond,
		MaxBackoff:  30 * time.Second,
		EventBuffer: 64,
	}
}

// EscalatedError wraps an error that a supervised run decided to escalate
// rather than resolve itself.
type EscalatedError struct {
	TaskName string
	Err      error
}

func (e *EscalatedError) Error() string {
	return fmt.Sprintf("escalated from %q: %v", e.TaskName, e.Err)
}

func (e *EscalatedError) Unwrap() error { return e.Err }

// SupervisionEventType identifies the kind of lifecycle event a Supervisor emits.
type SupervisionEventType string

const (
	SupervisionTaskStarted   SupervisionEventType = "task_started"
	SupervisionTaskCompleted SupervisionEventType = "task_completed"
	SupervisionTaskFailed    SupervisionEventType = "task_failed"
	SupervisionTaskRestarted SupervisionEventType = "task_restarted"
	SupervisionShuttingDown  SupervisionEventType = "shutting_down"
)

// SupervisionEvent is a single lifecycle event from a supervised run.
type SupervisionEvent struct {
	Type        SupervisionEventType
	TaskName    string
	Error       error
	Attempt     int
	WillRestart bool
	At          time.Time
}

// Supervisor wraps an execution-loop body (the entire agentic run, not a
// single provider call — see FailoverOrchestrator for that level) with a
// restart/resume/stop/escalate policy, sliding-window failure counting, and
// a broadcast of lifecycle events for observability.
type Supervisor struct {
	name   string
	config SupervisorConfig

	mu        sync.Mutex
	failures  []time.Time // restart timestamps within the current window
	subs      []chan SupervisionEvent
	closeSubs bool
}

// NewSupervisor creates a Supervisor for the named run.
func NewSupervisor(name string, config SupervisorConfig) *Supervisor {
	if config.MaxRestarts <= 0 {
		config.MaxRestarts = 3
	}
	if config.Window <= 0 {
		config.Window = 60 * time.Second
	}
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = 100 * time.Millisecond
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = 64
	}
	if config.IsFatal == nil {
		config.IsFatal = func(error) bool { return false }
	}
	return &Supervisor{name: name, config: config}
}

// Subscribe returns a channel of this supervisor's lifecycle events. Events
// are dropped (never block emission) if a subscriber's buffer is full,
// matching the event_sink.go convention of non-blocking observability fan-out.
func (s *Supervisor) Subscribe() <-chan SupervisionEvent {
	ch := make(chan SupervisionEvent, s.config.EventBuffer)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

func (s *Supervisor) emit(ev SupervisionEvent) {
	s.mu.Lock()
	subs := s.subs
	s.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Shutdown emits SupervisionShuttingDown and closes every subscriber channel.
// Call Run to completion (or cancel its context) before calling Shutdown.
func (s *Supervisor) Shutdown() {
	s.emit(SupervisionEvent{Type: SupervisionShuttingDown, TaskName: s.name, At: time.Now()})
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		close(ch)
	}
	s.subs = nil
}

// Run executes body under supervision, restarting it per SupervisorConfig
// until it succeeds, the context is cancelled, or the policy decides to
// stop/resume/escalate. body panics are recovered and treated as errors.
func (s *Supervisor) Run(ctx context.Context, body func(ctx context.Context) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.emit(SupervisionEvent{Type: SupervisionTaskStarted, TaskName: s.name, At: time.Now()})
		err := s.runOnce(ctx, body)
		if err == nil {
			s.emit(SupervisionEvent{Type: SupervisionTaskCompleted, TaskName: s.name, At: time.Now()})
			return nil
		}

		action := s.decide(err)
		s.emit(SupervisionEvent{
			Type:        SupervisionTaskFailed,
			TaskName:    s.name,
			Error:       err,
			WillRestart: action == PolicyRestart,
			At:          time.Now(),
		})

		switch action {
		case PolicyRestart:
			attempt := s.recordRestart()
			delay := s.backoffFor(attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			s.emit(SupervisionEvent{Type: SupervisionTaskRestarted, TaskName: s.name, Attempt: attempt, At: time.Now()})
			continue
		case PolicyResume:
			return err
		case PolicyEscalate:
			return &EscalatedError{TaskName: s.name, Err: err}
		case PolicyStop:
			fallthrough
		default:
			return err
		}
	}
}

// runOnce invokes body once, converting a panic into an error so a single
// bad iteration can't take down the whole supervised process.
func (s *Supervisor) runOnce(ctx context.Context, body func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("supervised run panicked", "task", s.name, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic in supervised run %q: %v", s.name, r)
		}
	}()
	return body(ctx)
}

// decide applies the configured policy, including the fatal-error override
// and the sliding-window restart cap, to choose an action for err.
func (s *Supervisor) decide(err error) SupervisionPolicy {
	if s.config.IsFatal(err) {
		return PolicyStop
	}

	switch s.config.Policy {
	case PolicyRestart:
		if s.restartsInWindow() < s.config.MaxRestarts {
			return PolicyRestart
		}
		return PolicyStop
	default:
		return s.config.Policy
	}
}

// restartsInWindow prunes restart timestamps older than Window and returns
// how many remain — the count of restarts attempted within the current
// rolling window.
func (s *Supervisor) restartsInWindow() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-s.config.Window)
	kept := s.failures[:0]
	for _, t := range s.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.failures = kept
	return len(s.failures)
}

func (s *Supervisor) recordRestart() int {
	s.mu.Lock()
	s.failures = append(s.failures, time.Now())
	attempt := len(s.failures)
	s.mu.Unlock()
	return attempt
}

// backoffFor returns base * 2^(attempt-1), capped at MaxBackoff.
func (s *Supervisor) backoffFor(attempt int) time.Duration {
	delay := s.config.BaseBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= s.config.MaxBackoff {
			return s.config.MaxBackoff
		}
	}
	if delay > s.config.MaxBackoff {
		delay = s.config.MaxBackoff
	}
	return delay
}

// NewCircuitHealthSweep schedules a periodic health sweep over orchestrator's
// provider circuit breakers on a long-lived process, logging any that remain
// open past their timeout so operators see stuck circuits instead of only
// finding out on the next failed request. Returns a started *cron.Cron the
// caller must Stop() on shutdown.
func NewCircuitHealthSweep(spec string, orchestrator *FailoverOrchestrator, logger *slog.Logger) (*cron.Cron, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		for _, state := range orchestrator.ProviderStates() {
			if !state.CircuitOpen {
				continue
			}
			logger.Warn("provider circuit breaker still open",
				"provider", state.Name,
				"failures", state.Failures,
				"open_since", state.CircuitOpenAt,
			)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule circuit health sweep: %w", err)
	}
	c.Start()
	return c, nil
}
