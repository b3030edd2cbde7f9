// Package deviceflow drives GitHub's OAuth device authorization grant as an
// explicit state machine: request a code, show it to the user, poll for the
// token, and handle expiry, back-off, denial and cancellation.
package deviceflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/easygit/ghswitch/internal/githubapi"
	"github.com/easygit/ghswitch/internal/log"
)

// State is the flow's position in the device authorization grant.
type State int

const (
	// StateIdle is the state before Start.
	StateIdle State = iota
	// StateRequesting covers the device-code request.
	StateRequesting
	// StatePolling covers the window where the user enters the code while
	// the flow polls the token endpoint.
	StatePolling
	// Terminal states.
	StateSucceeded
	StateExpired
	StateDenied
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StatePolling:
		return "polling"
	case StateSucceeded:
		return "succeeded"
	case StateExpired:
		return "expired"
	case StateDenied:
		return "denied"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateExpired, StateDenied, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Session is one authorization attempt. It is never persisted.
type Session struct {
	ID              string
	VerificationURL string
	UserCode        string
	DeviceCode      string
	ExpiresAt       time.Time
}

// Result is the outcome of an attempt.
type Result struct {
	State State
	// Token is set when State is StateSucceeded.
	Token string
	// Reason carries the server-reported error for StateFailed, and a
	// user-facing explanation for the other failure states.
	Reason string
}

// API is the slice of the GitHub client the flow depends on.
type API interface {
	RequestDeviceCode(ctx context.Context) (*githubapi.DeviceCode, error)
	PollToken(ctx context.Context, deviceCode string) (*githubapi.PollResult, error)
}

// Flow runs device authorization attempts. All transitions are serialized
// under one mutex; the poll loop and the expiry countdown are independent
// timed tasks that feed the same transition functions, and a tick arriving
// after a terminal state is a no-op.
type Flow struct {
	api API

	mu       sync.Mutex
	state    State
	session  *Session
	interval time.Duration
	result   Result
	done     chan struct{}
	stop     context.CancelFunc
	group    *errgroup.Group
	logger   *slog.Logger

	// now, unit and minInterval are seams for tests. unit is what the
	// server's second counts (interval, expires_in) are multiplied by.
	now         func() time.Time
	unit        time.Duration
	minInterval time.Duration
}

// New returns a Flow in StateIdle.
func New(api API) *Flow {
	return &Flow{
		api:         api,
		state:       StateIdle,
		logger:      slog.Default(),
		now:         time.Now,
		unit:        time.Second,
		minInterval: time.Second,
	}
}

// State returns the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Session returns the current attempt's session, or nil before Start.
func (f *Flow) Session() *Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session
}

// Interval returns the current poll interval.
func (f *Flow) Interval() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interval
}

// Start begins an authorization attempt: requests a device code and, on
// success, enters polling with the countdown running. Start fails when an
// attempt is already in flight.
func (f *Flow) Start(ctx context.Context) (*Session, error) {
	f.mu.Lock()
	if f.state != StateIdle && !f.state.Terminal() {
		f.mu.Unlock()
		return nil, fmt.Errorf("device flow already running (state %s)", f.state)
	}
	f.state = StateRequesting
	f.session = nil
	f.result = Result{}
	f.done = make(chan struct{})
	f.stop = nil
	f.group = nil
	f.mu.Unlock()

	code, err := f.api.RequestDeviceCode(ctx)

	f.mu.Lock()
	if f.state.Terminal() {
		// Cancel landed while the request was in flight. The terminal
		// state is sticky; the response, if any, is discarded.
		state := f.state
		f.mu.Unlock()
		return nil, fmt.Errorf("device flow %s during device code request", state)
	}
	if err != nil {
		f.finishLocked(Result{State: StateFailed, Reason: err.Error()})
		f.mu.Unlock()
		return nil, err
	}

	interval := time.Duration(code.Interval) * f.unit
	if interval <= 0 {
		interval = 5 * f.unit
	}

	session := &Session{
		ID:              uuid.NewString(),
		VerificationURL: code.VerificationURI,
		UserCode:        code.UserCode,
		DeviceCode:      code.DeviceCode,
		ExpiresAt:       f.now().Add(time.Duration(code.ExpiresIn) * f.unit),
	}

	attemptCtx, stop := context.WithCancel(ctx)
	group, attemptCtx := errgroup.WithContext(attemptCtx)

	f.state = StatePolling
	f.session = session
	f.interval = interval
	f.stop = stop
	f.group = group
	f.logger = log.WithSession(session.ID)
	f.logger.Debug("device flow started",
		"user_code", session.UserCode, "expires_at", session.ExpiresAt, "interval", interval)
	f.mu.Unlock()

	group.Go(func() error {
		f.pollLoop(attemptCtx, session)
		return nil
	})
	group.Go(func() error {
		f.countdown(attemptCtx, session)
		return nil
	})

	return session, nil
}

// Wait blocks until the current attempt reaches a terminal state.
func (f *Flow) Wait(ctx context.Context) (Result, error) {
	f.mu.Lock()
	done := f.done
	group := f.group
	f.mu.Unlock()

	if done == nil {
		return Result{}, fmt.Errorf("device flow not started")
	}

	select {
	case <-ctx.Done():
		f.Cancel()
		<-done
	case <-done:
	}
	if group != nil {
		_ = group.Wait()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, nil
}

// Cancel moves an in-flight attempt to StateCancelled. Cancelling an
// already-terminal flow is a no-op.
func (f *Flow) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finishLocked(Result{State: StateCancelled, Reason: "authorization cancelled"})
}

// Restart discards the current session and begins a fresh attempt. It is
// the "generate new code" action after expiry, and is only valid once the
// previous attempt has finished.
func (f *Flow) Restart(ctx context.Context) (*Session, error) {
	f.mu.Lock()
	if f.state != StateIdle && !f.state.Terminal() {
		f.mu.Unlock()
		return nil, fmt.Errorf("cannot restart while an attempt is in flight (state %s)", f.state)
	}
	f.session = nil
	f.mu.Unlock()
	return f.Start(ctx)
}

// pollLoop issues token polls no more often than the current interval until
// the attempt finishes. Transport errors are tolerated: they are logged and
// polling continues on the next tick.
func (f *Flow) pollLoop(ctx context.Context, session *Session) {
	timer := time.NewTimer(f.Interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		result, err := f.api.PollToken(ctx, session.DeviceCode)
		if err != nil {
			if ctx.Err() == nil {
				f.logger.Debug("token poll failed, will retry", "error", err)
			}
		} else if f.applyPoll(result) {
			return
		}

		timer.Reset(f.Interval())
	}
}

// applyPoll classifies one poll response. Returns true when the attempt
// reached a terminal state.
func (f *Flow) applyPoll(result *githubapi.PollResult) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state.Terminal() {
		return true
	}

	switch {
	case result.AccessToken != "":
		f.logger.Debug("device flow authorized")
		f.finishLocked(Result{State: StateSucceeded, Token: result.AccessToken})
		return true
	case result.Reason == githubapi.ReasonPending:
		return false
	case result.Reason == githubapi.ReasonSlowDown:
		next := time.Duration(result.Interval) * f.unit
		if next <= 0 {
			next = f.interval + 5*f.unit
		}
		if next < f.minInterval {
			next = f.minInterval
		}
		f.logger.Debug("server requested slow down", "interval", next)
		f.interval = next
		return false
	case result.Reason == githubapi.ReasonExpired:
		f.finishLocked(Result{State: StateExpired, Reason: "the device code has expired"})
		return true
	case result.Reason == githubapi.ReasonDenied:
		f.finishLocked(Result{State: StateDenied, Reason: "authorization was denied"})
		return true
	default:
		f.finishLocked(Result{State: StateFailed, Reason: result.Reason})
		return true
	}
}

// countdown forces expiry when the session's deadline passes, independent
// of what the poll loop observes.
func (f *Flow) countdown(ctx context.Context, session *Session) {
	remaining := session.ExpiresAt.Sub(f.now())
	if remaining < 0 {
		remaining = 0
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
		f.mu.Lock()
		f.finishLocked(Result{State: StateExpired, Reason: "the device code has expired"})
		f.mu.Unlock()
	}
}

// finishLocked records a terminal result exactly once and stops both timed
// tasks. Callers hold f.mu.
func (f *Flow) finishLocked(result Result) {
	if f.state.Terminal() || f.done == nil {
		return
	}
	f.state = result.State
	f.result = result
	if f.logger != nil {
		f.logger.Debug("device flow finished", "state", result.State.String(), "reason", result.Reason)
	}
	if f.stop != nil {
		f.stop()
	}
	close(f.done)
}
