// Package pipeline implements the retry loop every call goes through:
// throttler checks, per-attempt credential fetch, attempt timeouts, backoff
// sleeps, and one client span per attempt. Transports supply an attempt
// function; the pipeline decides how often to run it.
package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"cloudsdk/pkg/apperror"
	"cloudsdk/pkg/auth"
	"cloudsdk/pkg/metrics"
	"cloudsdk/pkg/options"
	"cloudsdk/pkg/retry"
	"cloudsdk/pkg/telemetry"
	"cloudsdk/pkg/transport"
)

// Pipeline carries the client-wide pieces shared by every call: the
// credential, the option defaults, the shared throttler, and metrics.
type Pipeline struct {
	// Credentials produce auth headers for each attempt.
	Credentials auth.Credentials
	// Defaults are the per-client options; per-call options layer on top.
	Defaults *options.RequestOptions
	// Throttler is shared across all calls on the client.
	Throttler retry.Throttler
	// Metrics is optional.
	Metrics *metrics.Metrics

	// Service is the short service name ("storage", "pubsub").
	Service string
	// Client is the client type name used in span names.
	Client string
	// RPCSystem is "http" or "grpc".
	RPCSystem string
}

// Call describes one logical call for observability and retry
// classification.
type Call struct {
	// Method is the RPC name, such as "ReadObject".
	Method string
	// Idempotent is the generated idempotency default; options may
	// override it.
	Idempotent bool
	// HTTPMethod and URLTemplate name the per-attempt span for HTTP
	// transports.
	HTTPMethod  string
	URLTemplate string
	// Resource is the resource name from the request, when known.
	Resource string
	// Options are the per-call overrides; nil inherits the client
	// defaults.
	Options *options.RequestOptions
}

// Invoke runs one logical call through the retry loop. The attempt
// function sends exactly one request with the supplied credential headers
// and a context bounded by the attempt deadline.
func Invoke[T any](ctx context.Context, p *Pipeline, call *Call, attempt func(ctx context.Context, creds auth.Headers) (T, error)) (T, error) {
	var zero T
	opts := options.Merge(call.Options, p.Defaults)
	policy := opts.RetryPolicy
	if policy == nil {
		policy = retry.Aip194Strict{}
	}
	backoff := opts.BackoffPolicy
	if backoff == nil {
		backoff = retry.DefaultBackoff()
	}
	throttler := opts.Throttler
	if throttler == nil {
		throttler = p.Throttler
	}
	idempotent := opts.IdempotentOr(call.Idempotent)

	done := p.Metrics.CallStarted()
	defer done()

	ctx, callSpan := telemetry.StartSpan(ctx,
		telemetry.SpanName(p.Service, p.Client, call.Method),
		trace.WithAttributes(telemetry.ClientAttributes(p.Service, p.Service, transport.ClientVersion, p.RPCSystem)...),
		trace.WithAttributes(telemetry.ResourceAttribute(call.Resource)...),
	)
	defer callSpan.End()

	start := time.Now()
	attemptCount := 0
	var lastErr *apperror.Error
	var cachedHeaders auth.Headers
	var cachedEtag string

	for {
		state := retry.State{Start: start, AttemptCount: attemptCount, Idempotent: idempotent}

		// A time limit can run out during a backoff sleep; give up before
		// issuing another attempt.
		if attemptCount > 0 {
			if rem, ok := policy.RemainingTime(state); ok && rem <= 0 {
				err := exhausted(lastErr)
				telemetry.SetError(callSpan, err, telemetry.ErrClientRetryExhausted)
				return zero, err
			}
			if throttler != nil && throttler.ThrottleRetryAttempt() {
				p.Metrics.ObserveThrottled(p.Service, call.Method)
				tr := policy.OnThrottle(state, lastErr)
				if tr.Verdict != retry.Continue {
					err := throttleErr(tr, lastErr)
					telemetry.SetError(callSpan, err, telemetry.ErrorType(err, false))
					return zero, err
				}
				if err := sleepBackoff(ctx, backoff, state, lastErr); err != nil {
					telemetry.SetError(callSpan, err, telemetry.ErrorType(err, false))
					return zero, err
				}
				continue
			}
			p.Metrics.ObserveRetry(p.Service, call.Method)
		}
		attemptCount++
		state.AttemptCount = attemptCount

		result, err := runAttempt(ctx, p, call, opts, policy, state, &cachedHeaders, &cachedEtag, attempt)
		if err == nil {
			if throttler != nil {
				throttler.OnSuccess()
			}
			telemetry.SetOK(callSpan)
			return result, nil
		}

		appErr := asAppError(err)
		lastErr = appErr
		// Cancellation is not the service's fault: surface it without
		// touching the throttler.
		if ctx.Err() != nil {
			telemetry.SetError(callSpan, appErr, telemetry.ErrClientTimeout)
			return zero, appErr
		}
		verdict := policy.OnError(state, appErr)
		if throttler != nil {
			throttler.OnRetryFailure(verdict)
		}
		switch verdict.Verdict {
		case retry.Continue:
			if err := sleepBackoff(ctx, backoff, state, appErr); err != nil {
				telemetry.SetError(callSpan, err, telemetry.ErrorType(err, false))
				return zero, err
			}
		case retry.Permanent:
			telemetry.SetError(callSpan, verdict.Err, telemetry.ErrorType(verdict.Err, false))
			return zero, verdict.Err
		case retry.Exhausted:
			telemetry.SetError(callSpan, verdict.Err, telemetry.ErrClientRetryExhausted)
			return zero, verdict.Err
		}
	}
}

// runAttempt issues a single attempt: fetch credentials, bound the
// deadline, send, and record the attempt span and metrics.
func runAttempt[T any](ctx context.Context, p *Pipeline, call *Call, opts *options.RequestOptions, policy retry.Policy, state retry.State, cachedHeaders *auth.Headers, cachedEtag *string, attempt func(ctx context.Context, creds auth.Headers) (T, error)) (T, error) {
	var zero T
	attemptStart := time.Now()

	spanName := telemetry.SpanName(p.Service, p.Client, call.Method)
	if call.HTTPMethod != "" {
		spanName = telemetry.HTTPSpanName(call.HTTPMethod, call.URLTemplate)
	}
	ctx, span := telemetry.StartSpan(ctx, spanName)
	defer span.End()

	deadline, hasDeadline := attemptDeadline(opts, policy, state)
	if hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	ext := auth.Extensions{}
	if hasDeadline {
		ext = ext.WithDeadlineHint(deadline)
	}
	if *cachedEtag != "" {
		ext = ext.WithEtag(*cachedEtag)
	}
	credStart := time.Now()
	cacheable, err := p.Credentials.Headers(ctx, ext)
	p.Metrics.ObserveCredentialFetch(err == nil, time.Since(credStart))
	if err != nil {
		appErr := asAppError(err)
		telemetry.SetError(span, appErr, telemetry.ErrClientAuthentication)
		p.Metrics.ObserveAttempt(p.Service, call.Method, false, time.Since(attemptStart))
		return zero, appErr
	}
	if !cacheable.NotModified {
		*cachedHeaders = cacheable.Headers
		*cachedEtag = cacheable.Etag
	}

	result, err := attempt(ctx, *cachedHeaders)
	p.Metrics.ObserveAttempt(p.Service, call.Method, err == nil, time.Since(attemptStart))
	if err != nil {
		appErr := asAppError(err)
		telemetry.SetError(span, appErr, telemetry.ErrorType(appErr, false))
		return zero, appErr
	}
	telemetry.SetOK(span)
	return result, nil
}

// attemptDeadline computes the per-attempt deadline: the smaller of the
// attempt timeout and the retry policy's remaining budget.
func attemptDeadline(opts *options.RequestOptions, policy retry.Policy, state retry.State) (time.Time, bool) {
	now := time.Now()
	var deadline time.Time
	if opts.AttemptTimeout > 0 {
		deadline = now.Add(opts.AttemptTimeout)
	}
	if rem, ok := policy.RemainingTime(state); ok {
		d := now.Add(rem)
		if deadline.IsZero() || d.Before(deadline) {
			deadline = d
		}
	}
	return deadline, !deadline.IsZero()
}

// sleepBackoff waits for the backoff period, honoring a server-provided
// RetryInfo delay and the context.
func sleepBackoff(ctx context.Context, backoff retry.BackoffPolicy, state retry.State, lastErr *apperror.Error) *apperror.Error {
	delay := backoff.OnFailure(state)
	if lastErr != nil {
		if d, ok := lastErr.RetryDelay(); ok {
			delay = d
		}
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return apperror.IO(ctx.Err())
	case <-timer.C:
		return nil
	}
}

func exhausted(lastErr *apperror.Error) *apperror.Error {
	if lastErr != nil {
		return lastErr
	}
	return apperror.Othermsg("retry budget exhausted before the first attempt")
}

func throttleErr(tr retry.ThrottleResult, lastErr *apperror.Error) *apperror.Error {
	if tr.Err != nil {
		return tr.Err
	}
	return exhausted(lastErr)
}

func asAppError(err error) *apperror.Error {
	if appErr, ok := apperror.AsInner[*apperror.Error](err); ok {
		return appErr
	}
	return apperror.Other(err)
}
