package pipeline

import (
	"context"
	"log/slog"
	"time"

	"cloudsdk/pkg/apperror"
	"cloudsdk/pkg/options"
	"cloudsdk/pkg/retry"
)

// StreamRetryPolicy classifies errors for bidirectional streams, where a
// mid-stream transport error means the stream can be re-opened and
// replayed rather than the whole call failed.
type StreamRetryPolicy struct {
	// Inner handles everything that is not a mid-stream transport error.
	// Defaults to Aip194Strict.
	Inner retry.Policy
}

// OnError implements retry.Policy. Mid-stream transport losses always
// continue: the session layer replays the application state on the new
// stream.
func (p StreamRetryPolicy) OnError(state retry.State, err *apperror.Error) retry.Result {
	if err.IsTransport() && err.HTTPStatusCode() == 0 {
		return retry.ContinueWith(err)
	}
	return p.inner().OnError(state, err)
}

// OnThrottle implements retry.Policy.
func (p StreamRetryPolicy) OnThrottle(state retry.State, err *apperror.Error) retry.ThrottleResult {
	return p.inner().OnThrottle(state, err)
}

// RemainingTime implements retry.Policy.
func (p StreamRetryPolicy) RemainingTime(state retry.State) (time.Duration, bool) {
	return p.inner().RemainingTime(state)
}

func (p StreamRetryPolicy) inner() retry.Policy {
	if p.Inner != nil {
		return p.Inner
	}
	return retry.Aip194Strict{}
}

// RunStream drives a resumable bidirectional stream. The session function
// opens one stream and runs it to completion; returning nil ends the call.
// When the session fails with an error the policy classifies as transient,
// the pipeline backs off and calls session again -- the session owner is
// responsible for replaying any application-visible state (active read
// ranges, committed offsets) onto the new stream.
func RunStream(ctx context.Context, p *Pipeline, call *Call, session func(ctx context.Context) error) error {
	opts := options.Merge(call.Options, p.Defaults)
	policy := opts.RetryPolicy
	if policy == nil {
		policy = StreamRetryPolicy{}
	}
	backoff := opts.BackoffPolicy
	if backoff == nil {
		backoff = retry.DefaultBackoff()
	}

	start := time.Now()
	attemptCount := 0
	for {
		attemptCount++
		state := retry.State{Start: start, AttemptCount: attemptCount, Idempotent: true}
		err := session(ctx)
		if err == nil {
			return nil
		}
		appErr := asAppError(err)
		if ctx.Err() != nil {
			return appErr
		}
		verdict := policy.OnError(state, appErr)
		if verdict.Verdict != retry.Continue {
			return verdict.Err
		}
		slog.Debug("stream interrupted, reconnecting",
			"method", call.Method, "attempt", attemptCount, "error", appErr)
		if serr := sleepBackoff(ctx, backoff, state, appErr); serr != nil {
			return serr
		}
	}
}
