package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc/codes"

	"cloudsdk/pkg/apperror"
	"cloudsdk/pkg/auth"
	"cloudsdk/pkg/options"
	"cloudsdk/pkg/retry"
)

// fixedBackoff keeps tests fast.
type fixedBackoff struct{ d time.Duration }

func (b fixedBackoff) OnFailure(retry.State) time.Duration { return b.d }

// countingThrottler records the accounting calls the pipeline makes.
type countingThrottler struct {
	mu        sync.Mutex
	successes int
	failures  int
	throttle  bool
}

func (c *countingThrottler) ThrottleRetryAttempt() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.throttle
}

func (c *countingThrottler) OnSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successes++
}

func (c *countingThrottler) OnRetryFailure(retry.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
}

// recordingPolicy wraps a policy and captures the state of the last
// OnError call.
type recordingPolicy struct {
	inner     retry.Policy
	lastState retry.State
}

func (p *recordingPolicy) OnError(state retry.State, err *apperror.Error) retry.Result {
	p.lastState = state
	return p.inner.OnError(state, err)
}

func (p *recordingPolicy) OnThrottle(state retry.State, err *apperror.Error) retry.ThrottleResult {
	return p.inner.OnThrottle(state, err)
}

func (p *recordingPolicy) RemainingTime(state retry.State) (time.Duration, bool) {
	return p.inner.RemainingTime(state)
}

type staticCreds struct{}

func (staticCreds) Headers(context.Context, auth.Extensions) (auth.CacheableHeaders, error) {
	return auth.CacheableHeaders{
		Etag:    "static",
		Headers: auth.Headers{{Name: "authorization", Value: "Bearer t", Sensitive: true}},
	}, nil
}

func (staticCreds) UniverseDomain(context.Context) (string, bool) { return "", false }

func unavailable() *apperror.Error {
	return apperror.Service(&apperror.Status{Code: codes.Unavailable, Message: "down"})
}

func newTestPipeline(th retry.Throttler) *Pipeline {
	return &Pipeline{
		Credentials: staticCreds{},
		Throttler:   th,
		Service:     "testsvc",
		Client:      "Client",
		RPCSystem:   "http",
	}
}

// TestInvoke_RetryThenSuccess replays [Unavailable, Unavailable, Ok]: the
// call succeeds and the throttler sees two failures and one success.
func TestInvoke_RetryThenSuccess(t *testing.T) {
	th := &countingThrottler{}
	p := newTestPipeline(th)
	responses := []error{unavailable(), unavailable(), nil}
	attempts := 0

	call := &Call{
		Method:     "GetThing",
		Idempotent: true,
		Options: &options.RequestOptions{
			RetryPolicy:   retry.WithAttemptLimit(retry.AlwaysRetry{}, 5),
			BackoffPolicy: fixedBackoff{time.Millisecond},
		},
	}
	got, err := Invoke(context.Background(), p, call, func(ctx context.Context, creds auth.Headers) (string, error) {
		if len(creds) == 0 {
			t.Error("attempt received no credential headers")
		}
		err := responses[attempts]
		attempts++
		if err != nil {
			return "", err
		}
		return "response", nil
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got != "response" {
		t.Errorf("result = %q", got)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if th.successes != 1 || th.failures != 2 {
		t.Errorf("throttler saw %d successes, %d failures; want 1, 2", th.successes, th.failures)
	}
}

// TestInvoke_AuthRetryExhaustion replays transient credential failures:
// the transport is never invoked, the error is Authentication, and the
// final OnError sees attempt_count == 3.
func TestInvoke_AuthRetryExhaustion(t *testing.T) {
	p := newTestPipeline(&countingThrottler{})
	p.Credentials = failingCreds{}
	policy := &recordingPolicy{inner: retry.WithAttemptLimit(retry.AlwaysRetry{}, 3)}
	transportCalls := 0

	call := &Call{
		Method: "GetThing",
		Options: &options.RequestOptions{
			RetryPolicy:   policy,
			BackoffPolicy: fixedBackoff{time.Millisecond},
		},
	}
	_, err := Invoke(context.Background(), p, call, func(ctx context.Context, creds auth.Headers) (string, error) {
		transportCalls++
		return "", nil
	})
	if err == nil {
		t.Fatal("Invoke succeeded with failing credentials")
	}
	appErr, ok := apperror.AsInner[*apperror.Error](err)
	if !ok || !appErr.IsAuthentication() {
		t.Errorf("err = %v, want authentication", err)
	}
	if transportCalls != 0 {
		t.Errorf("transport invoked %d times, want 0", transportCalls)
	}
	if policy.lastState.AttemptCount != 3 {
		t.Errorf("final OnError attempt_count = %d, want 3", policy.lastState.AttemptCount)
	}
}

type failingCreds struct{}

func (failingCreds) Headers(context.Context, auth.Extensions) (auth.CacheableHeaders, error) {
	return auth.CacheableHeaders{}, apperror.Authentication(errors.New("token endpoint 503"), true)
}

func (failingCreds) UniverseDomain(context.Context) (string, bool) { return "", false }

// TestInvoke_PermanentError verifies non-retryable errors surface on the
// first attempt.
func TestInvoke_PermanentError(t *testing.T) {
	th := &countingThrottler{}
	p := newTestPipeline(th)
	attempts := 0

	call := &Call{Method: "GetThing", Idempotent: true}
	_, err := Invoke(context.Background(), p, call, func(ctx context.Context, creds auth.Headers) (string, error) {
		attempts++
		return "", apperror.Service(&apperror.Status{Code: codes.NotFound, Message: "gone"})
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if th.successes != 0 {
		t.Error("throttler recorded a success for a failed call")
	}
}

// TestInvoke_TimeLimitDuringBackoff verifies a call whose budget runs out
// during a backoff sleep returns without further attempts.
func TestInvoke_TimeLimitDuringBackoff(t *testing.T) {
	p := newTestPipeline(&countingThrottler{})
	attempts := 0

	call := &Call{
		Method:     "GetThing",
		Idempotent: true,
		Options: &options.RequestOptions{
			RetryPolicy:   retry.WithTimeLimit(retry.AlwaysRetry{}, 30*time.Millisecond),
			BackoffPolicy: fixedBackoff{50 * time.Millisecond},
		},
	}
	_, err := Invoke(context.Background(), p, call, func(ctx context.Context, creds auth.Headers) (string, error) {
		attempts++
		return "", unavailable()
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (budget expired during the sleep)", attempts)
	}
}

// giveUpOnThrottle retries errors but stops the call the first time the
// throttler suppresses an attempt.
type giveUpOnThrottle struct {
	retry.AlwaysRetry
}

func (giveUpOnThrottle) OnThrottle(_ retry.State, err *apperror.Error) retry.ThrottleResult {
	return retry.ThrottleResult{Verdict: retry.Permanent, Err: err}
}

// TestInvoke_ThrottledRetry verifies throttled attempts are not sent and
// the policy decides whether to keep waiting.
func TestInvoke_ThrottledRetry(t *testing.T) {
	th := &countingThrottler{throttle: true}
	p := newTestPipeline(th)
	attempts := 0

	call := &Call{
		Method:     "GetThing",
		Idempotent: true,
		Options: &options.RequestOptions{
			RetryPolicy:   giveUpOnThrottle{},
			BackoffPolicy: fixedBackoff{time.Millisecond},
		},
	}
	_, err := Invoke(context.Background(), p, call, func(ctx context.Context, creds auth.Headers) (string, error) {
		attempts++
		return "", unavailable()
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (second attempt throttled)", attempts)
	}
}

// TestInvoke_AttemptTimeout verifies the per-attempt deadline reaches the
// attempt context.
func TestInvoke_AttemptTimeout(t *testing.T) {
	p := newTestPipeline(&countingThrottler{})
	call := &Call{
		Method: "GetThing",
		Options: &options.RequestOptions{
			RetryPolicy:    retry.NeverRetry{},
			AttemptTimeout: 10 * time.Millisecond,
		},
	}
	_, err := Invoke(context.Background(), p, call, func(ctx context.Context, creds auth.Headers) (string, error) {
		deadline, ok := ctx.Deadline()
		if !ok {
			t.Error("attempt context has no deadline")
		} else if until := time.Until(deadline); until > 15*time.Millisecond {
			t.Errorf("deadline too far away: %v", until)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
