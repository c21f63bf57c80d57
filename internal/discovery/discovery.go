// Package discovery finds article URLs a site has published since the last
// run. Each crawl pattern is a Strategy; all of them stop at the boundary of
// already-known URLs (except Chain, which relies on the merge) and report how
// they stopped instead of failing.
package discovery

import (
	"context"
	"errors"
	"log/slog"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"newsharvest/pkg/types"
)

// ErrInteraction marks a reveal control that never became actionable.
var ErrInteraction = errors.New("interaction failure")

// Boundary is the read-only set of URLs persisted before the run started.
type Boundary interface {
	Contains(rawURL string) bool
}

// Emit receives each new candidate in discovery order. Returning false stops discovery.
type Emit func(types.Candidate) bool

// Strategy produces the ordered, de-duplicated sequence of new article URLs for one site.
type Strategy interface {
	Name() string
	Discover(ctx context.Context, boundary Boundary, emit Emit) (Outcome, error)
}

// StopReason says why a discovery run ended.
type StopReason string

const (
	StopBoundary    StopReason = "boundary"
	StopPageCap     StopReason = "page_cap"
	StopAttemptCap  StopReason = "attempt_cap"
	StopNotFoundRun StopReason = "not_found_run"
	StopChainEnd    StopReason = "chain_end"
	StopStepCap     StopReason = "step_cap"
	StopFeedEnd     StopReason = "feed_end"
	StopFailed      StopReason = "failed"
	StopCancelled   StopReason = "cancelled"
	StopConsumer    StopReason = "consumer"
)

// Outcome summarises a discovery run. URLs is always the partial result so far.
type Outcome struct {
	Stop    StopReason
	Cause   error
	URLs    []string
	Pages   int
	Reveals int
	State   RevealState
	LastID  int
	Skipped []string
}

// emitter de-duplicates candidates within a run and remembers emission order.
type emitter struct {
	seen    *orderedmap.OrderedMap[string, struct{}]
	emit    Emit
	stopped bool
}

func newEmitter(emit Emit) *emitter {
	if emit == nil {
		emit = func(types.Candidate) bool { return true }
	}
	return &emitter{seen: orderedmap.New[string, struct{}](), emit: emit}
}

// offer emits c unless it was already emitted. It returns false once the consumer asked to stop.
func (e *emitter) offer(c types.Candidate) bool {
	if e.stopped {
		return false
	}
	if _, dup := e.seen.Get(c.URL); dup {
		return true
	}
	e.seen.Set(c.URL, struct{}{})
	if !e.emit(c) {
		e.stopped = true
		return false
	}
	return true
}

func (e *emitter) has(rawURL string) bool {
	_, ok := e.seen.Get(rawURL)
	return ok
}

func (e *emitter) urls() []string {
	out := make([]string, 0, e.seen.Len())
	for pair := e.seen.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

// Collect runs s and gathers every emitted URL. Useful for dry runs and tests.
func Collect(ctx context.Context, s Strategy, boundary Boundary) ([]string, Outcome, error) {
	var found []string
	out, err := s.Discover(ctx, boundary, func(c types.Candidate) bool {
		found = append(found, c.URL)
		return true
	})
	return found, out, err
}

// NoBoundary is an empty boundary for first runs.
type NoBoundary struct{}

// Contains always reports false.
func (NoBoundary) Contains(string) bool { return false }

func orDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

// cancelled reports whether ctx has been cancelled and records it on out.
func cancelled(ctx context.Context, out *Outcome) bool {
	if err := ctx.Err(); err != nil {
		out.Stop = StopCancelled
		out.Cause = err
		return true
	}
	return false
}

func candidate(rawURL string) types.Candidate {
	return types.Candidate{URL: rawURL}
}
