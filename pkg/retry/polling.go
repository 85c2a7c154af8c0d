package retry

import (
	"time"

	"cloudsdk/pkg/apperror"
)

// PollingErrorPolicy decides whether an error polling a long-running
// operation is recoverable. It is independent of the retry policy used for
// the poll RPC itself.
type PollingErrorPolicy interface {
	OnError(state State, err *apperror.Error) Result
}

// PollingBackoffPolicy yields the wait between polls of a long-running
// operation.
type PollingBackoffPolicy interface {
	WaitPeriod(state State) time.Duration
}

// AlwaysContinue keeps polling through any error. Operations eventually
// complete or the caller cancels; this is the library default.
type AlwaysContinue struct{}

// OnError implements PollingErrorPolicy.
func (AlwaysContinue) OnError(_ State, err *apperror.Error) Result { return ContinueWith(err) }

// PollingAip194Strict stops polling on errors AIP-194 classifies as
// permanent. Polls are reads and therefore idempotent.
type PollingAip194Strict struct{}

// OnError implements PollingErrorPolicy.
func (PollingAip194Strict) OnError(_ State, err *apperror.Error) Result {
	if err.Retryable(true) {
		return ContinueWith(err)
	}
	return PermanentWith(err)
}

// pollingAttemptLimit bounds the number of polling attempts.
type pollingAttemptLimit struct {
	inner    PollingErrorPolicy
	attempts int
}

// WithPollingAttemptLimit wraps a polling policy so it exhausts after n
// attempts.
func WithPollingAttemptLimit(inner PollingErrorPolicy, n int) PollingErrorPolicy {
	return &pollingAttemptLimit{inner: inner, attempts: n}
}

func (p *pollingAttemptLimit) OnError(state State, err *apperror.Error) Result {
	r := p.inner.OnError(state, err)
	if r.Verdict == Continue && state.AttemptCount >= p.attempts {
		return ExhaustedWith(err)
	}
	return r
}

// pollingTimeLimit bounds the total time spent polling.
type pollingTimeLimit struct {
	inner PollingErrorPolicy
	limit time.Duration
}

// WithPollingTimeLimit wraps a polling policy so it exhausts once the total
// elapsed time exceeds d.
func WithPollingTimeLimit(inner PollingErrorPolicy, d time.Duration) PollingErrorPolicy {
	return &pollingTimeLimit{inner: inner, limit: d}
}

func (p *pollingTimeLimit) OnError(state State, err *apperror.Error) Result {
	r := p.inner.OnError(state, err)
	if r.Verdict == Continue && state.Elapsed() > p.limit {
		return ExhaustedWith(err)
	}
	return r
}

// PollingBackoff adapts ExponentialBackoff to the polling interface.
type PollingBackoff struct {
	ExponentialBackoff
}

// WaitPeriod implements PollingBackoffPolicy.
func (b *PollingBackoff) WaitPeriod(state State) time.Duration {
	return b.OnFailure(state)
}
