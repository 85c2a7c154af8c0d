// Package retry defines the retry, backoff, throttling, and polling
// policies used by the call pipeline. Policies are small immutable values;
// composition happens through the WithAttemptLimit and WithTimeLimit
// decorators. The adaptive throttler is the only mutable object and is
// shared by every call on a client.
package retry

import (
	"time"

	"cloudsdk/pkg/apperror"
)

// State is a snapshot of one logical call handed to every policy decision.
type State struct {
	// Start is when the first attempt began. Backoff and time limits use
	// the monotonic clock reading embedded in this value.
	Start time.Time
	// AttemptCount is the number of attempts already issued.
	AttemptCount int
	// Idempotent says whether the call may be retried after errors that
	// could have mutated state.
	Idempotent bool
}

// Elapsed returns the time spent on the call so far.
func (s State) Elapsed() time.Duration { return time.Since(s.Start) }

// Verdict is the policy decision for one error.
type Verdict int

const (
	// Continue means the error is transient and the call should be retried.
	Continue Verdict = iota
	// Permanent means the error will not go away; surface it.
	Permanent
	// Exhausted means the error may be transient but the retry budget is
	// spent.
	Exhausted
)

// Result pairs a verdict with the error that produced it.
type Result struct {
	Verdict Verdict
	Err     *apperror.Error
}

// ContinueWith wraps err in a Continue result.
func ContinueWith(err *apperror.Error) Result { return Result{Verdict: Continue, Err: err} }

// PermanentWith wraps err in a Permanent result.
func PermanentWith(err *apperror.Error) Result { return Result{Verdict: Permanent, Err: err} }

// ExhaustedWith wraps err in an Exhausted result.
func ExhaustedWith(err *apperror.Error) Result { return Result{Verdict: Exhausted, Err: err} }

// ThrottleResult is the policy decision when the throttler rejects a retry
// attempt. There is no Exhausted: a throttled attempt either keeps waiting
// or gives up.
type ThrottleResult struct {
	Verdict Verdict
	Err     *apperror.Error
}

// Policy decides whether errors are worth retrying and how much retry
// budget remains.
type Policy interface {
	// OnError classifies the error from a finished attempt.
	OnError(state State, err *apperror.Error) Result
	// OnThrottle decides what to do when the throttler rejected a retry
	// attempt before it was sent.
	OnThrottle(state State, err *apperror.Error) ThrottleResult
	// RemainingTime returns the budget left for the whole call, if the
	// policy enforces one.
	RemainingTime(state State) (time.Duration, bool)
}

// Aip194Strict retries errors that AIP-194 classifies as transient and
// nothing else. This is the library default.
type Aip194Strict struct{}

// OnError implements Policy.
func (Aip194Strict) OnError(state State, err *apperror.Error) Result {
	if err.Retryable(state.Idempotent) {
		return ContinueWith(err)
	}
	return PermanentWith(err)
}

// OnThrottle implements Policy. Throttled attempts keep waiting.
func (Aip194Strict) OnThrottle(State, *apperror.Error) ThrottleResult {
	return ThrottleResult{Verdict: Continue}
}

// RemainingTime implements Policy. The base policy has no deadline.
func (Aip194Strict) RemainingTime(State) (time.Duration, bool) { return 0, false }

// AlwaysRetry treats every error as transient. Only safe for tests and for
// operations known to be harmless to repeat.
type AlwaysRetry struct{}

// OnError implements Policy.
func (AlwaysRetry) OnError(_ State, err *apperror.Error) Result { return ContinueWith(err) }

// OnThrottle implements Policy.
func (AlwaysRetry) OnThrottle(State, *apperror.Error) ThrottleResult {
	return ThrottleResult{Verdict: Continue}
}

// RemainingTime implements Policy.
func (AlwaysRetry) RemainingTime(State) (time.Duration, bool) { return 0, false }

// NeverRetry surfaces every error immediately.
type NeverRetry struct{}

// OnError implements Policy.
func (NeverRetry) OnError(_ State, err *apperror.Error) Result { return PermanentWith(err) }

// OnThrottle implements Policy.
func (NeverRetry) OnThrottle(_ State, err *apperror.Error) ThrottleResult {
	return ThrottleResult{Verdict: Permanent, Err: err}
}

// RemainingTime implements Policy.
func (NeverRetry) RemainingTime(State) (time.Duration, bool) { return 0, false }

// attemptLimit terminates the inner policy after a fixed attempt count.
type attemptLimit struct {
	inner    Policy
	attempts int
}

// WithAttemptLimit wraps a policy so the call gives up with Exhausted once
// n attempts have been issued.
func WithAttemptLimit(inner Policy, n int) Policy {
	return &attemptLimit{inner: inner, attempts: n}
}

func (p *attemptLimit) OnError(state State, err *apperror.Error) Result {
	r := p.inner.OnError(state, err)
	if r.Verdict == Continue && state.AttemptCount >= p.attempts {
		return ExhaustedWith(err)
	}
	return r
}

func (p *attemptLimit) OnThrottle(state State, err *apperror.Error) ThrottleResult {
	if state.AttemptCount >= p.attempts {
		return ThrottleResult{Verdict: Permanent, Err: err}
	}
	return p.inner.OnThrottle(state, err)
}

func (p *attemptLimit) RemainingTime(state State) (time.Duration, bool) {
	return p.inner.RemainingTime(state)
}

// timeLimit terminates the inner policy after a total elapsed duration.
type timeLimit struct {
	inner Policy
	limit time.Duration
}

// WithTimeLimit wraps a policy so the call gives up with Exhausted once the
// total elapsed time exceeds d. RemainingTime returns the smaller of the
// inner budget and the deadline.
func WithTimeLimit(inner Policy, d time.Duration) Policy {
	return &timeLimit{inner: inner, limit: d}
}

func (p *timeLimit) OnError(state State, err *apperror.Error) Result {
	r := p.inner.OnError(state, err)
	if r.Verdict == Continue && state.Elapsed() > p.limit {
		return ExhaustedWith(err)
	}
	return r
}

func (p *timeLimit) OnThrottle(state State, err *apperror.Error) ThrottleResult {
	if state.Elapsed() > p.limit {
		return ThrottleResult{Verdict: Permanent, Err: err}
	}
	return p.inner.OnThrottle(state, err)
}

func (p *timeLimit) RemainingTime(state State) (time.Duration, bool) {
	remaining := p.limit - state.Elapsed()
	if remaining < 0 {
		remaining = 0
	}
	if inner, ok := p.inner.RemainingTime(state); ok && inner < remaining {
		return inner, true
	}
	return remaining, true
}
