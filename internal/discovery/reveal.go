package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"newsharvest/internal/fetcher"
)

// Session is a live, scriptable page. fetcher.ChromeSession implements it.
type Session interface {
	Navigate(ctx context.Context, rawURL string) error
	WaitInteractable(ctx context.Context, selector string, timeout time.Duration) error
	Activate(ctx context.Context, selector string) error
	ForceActivate(ctx context.Context, selector string) error
	Links(ctx context.Context, selector string) ([]string, error)
	Close() error
}

// SessionOpener starts a session for one discovery run.
type SessionOpener func(ctx context.Context) (Session, error)

// RevealState is the state of an incremental-reveal run.
type RevealState int

const (
	StateIdle RevealState = iota
	StateAwaitingReveal
	StateRevealed
	StateExhausted
	StateFailed
)

func (s RevealState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingReveal:
		return "awaiting_reveal"
	case StateRevealed:
		return "revealed"
	case StateExhausted:
		return "exhausted"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s RevealState) terminal() bool {
	return s == StateExhausted || s == StateFailed
}

// Reveal drives a "load more" control and scans the revealed items after
// every activation.
type Reveal struct {
	StartURL        string
	ControlSelector string
	ItemSelector    string
	MaxAttempts     int
	WaitTimeout     time.Duration
	Pause           time.Duration
	RetryPause      time.Duration
	Open            SessionOpener
	Logger          *slog.Logger
}

// Name implements Strategy.
func (r *Reveal) Name() string { return "reveal" }

// Discover implements Strategy. The session is closed exactly once, on entry
// to a terminal state or, at the latest, when Discover returns.
func (r *Reveal) Discover(ctx context.Context, boundary Boundary, emit Emit) (Outcome, error) {
	if r.Open == nil || r.ControlSelector == "" || r.ItemSelector == "" || r.MaxAttempts <= 0 {
		return Outcome{Stop: StopFailed, State: StateFailed}, errors.New("reveal: session opener, selectors and max attempts are required")
	}
	if boundary == nil {
		boundary = NoBoundary{}
	}
	session, err := r.Open(ctx)
	if err != nil {
		return Outcome{Stop: StopFailed, State: StateFailed, Cause: err}, fmt.Errorf("open session: %w", err)
	}

	run := &revealRun{
		cfg:      r,
		session:  session,
		boundary: boundary,
		em:       newEmitter(emit),
		logger:   orDefault(r.Logger).With("strategy", r.Name(), "start_url", r.StartURL),
		state:    StateIdle,
	}
	defer run.release()

	for !run.state.terminal() {
		run.step(ctx)
	}
	return Outcome{
		Stop:    run.stop,
		Cause:   run.cause,
		URLs:    run.em.urls(),
		Reveals: run.attempts,
		State:   run.state,
	}, nil
}

type revealRun struct {
	cfg      *Reveal
	session  Session
	boundary Boundary
	em       *emitter
	logger   *slog.Logger

	state    RevealState
	attempts int
	stop     StopReason
	cause    error

	releaseOnce sync.Once
}

func (r *revealRun) step(ctx context.Context) {
	if err := ctx.Err(); err != nil {
		r.finish(StateExhausted, StopCancelled, err)
		return
	}
	switch r.state {
	case StateIdle:
		if err := r.session.Navigate(ctx, r.cfg.StartURL); err != nil {
			r.fail(ctx, fmt.Errorf("load start page: %w", err))
			return
		}
		// Items already on the page count before the first reveal.
		if r.scan(ctx) {
			r.state = StateAwaitingReveal
		}
	case StateAwaitingReveal:
		if r.attempts >= r.cfg.MaxAttempts {
			r.finish(StateExhausted, StopAttemptCap, nil)
			return
		}
		if err := r.reveal(ctx); err != nil {
			r.fail(ctx, err)
			return
		}
		r.attempts++
		r.state = StateRevealed
		if err := fetcher.Pause(ctx, r.cfg.Pause); err != nil {
			r.finish(StateExhausted, StopCancelled, err)
		}
	case StateRevealed:
		if r.scan(ctx) {
			r.state = StateAwaitingReveal
		}
	}
}

// reveal waits for the control and activates it, retrying a blocked click
// once through a forced script click.
func (r *revealRun) reveal(ctx context.Context) error {
	sel := r.cfg.ControlSelector
	if err := r.session.WaitInteractable(ctx, sel, r.cfg.WaitTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrInteraction, err)
	}
	err := r.session.Activate(ctx, sel)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fetcher.ErrRevealBlocked) {
		return fmt.Errorf("%w: %w", ErrInteraction, err)
	}
	r.logger.Debug("reveal blocked, retrying with script click", "attempt", r.attempts+1)
	if err := fetcher.Pause(ctx, r.cfg.RetryPause); err != nil {
		return err
	}
	if err := r.session.ForceActivate(ctx, sel); err != nil {
		return fmt.Errorf("%w: %w", ErrInteraction, err)
	}
	return nil
}

// scan emits unseen items in document order. It returns false when the run
// reached a terminal state.
func (r *revealRun) scan(ctx context.Context) bool {
	links, err := r.session.Links(ctx, r.cfg.ItemSelector)
	if err != nil {
		r.fail(ctx, fmt.Errorf("scan items: %w", err))
		return false
	}
	for _, raw := range links {
		link := normaliseURL(raw)
		if link == "" {
			continue
		}
		if r.boundary.Contains(link) {
			r.logger.Info("boundary reached", "url", link, "reveals", r.attempts)
			r.finish(StateExhausted, StopBoundary, nil)
			return false
		}
		if !r.em.offer(candidate(link)) {
			r.finish(StateExhausted, StopConsumer, nil)
			return false
		}
	}
	return true
}

func (r *revealRun) fail(ctx context.Context, err error) {
	if ctx.Err() != nil {
		r.finish(StateExhausted, StopCancelled, ctx.Err())
		return
	}
	r.logger.Warn("reveal run failed", "state", r.state.String(), "reveals", r.attempts, "error", err)
	r.finish(StateFailed, StopFailed, err)
}

func (r *revealRun) finish(state RevealState, stop StopReason, cause error) {
	r.state = state
	r.stop = stop
	r.cause = cause
	r.release()
}

func (r *revealRun) release() {
	r.releaseOnce.Do(func() {
		if err := r.session.Close(); err != nil {
			r.logger.Warn("closing session failed", "error", err)
		}
	})
}
