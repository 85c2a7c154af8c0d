// Package lro polls long-running operations. A long-running RPC returns an
// operation handle; the Poller turns the handle into a polling state
// machine yielding progress metadata until the operation completes with a
// response or an error.
package lro

import (
	"context"
	"errors"
	"iter"
	"time"

	"google.golang.org/grpc/codes"

	"cloudsdk/pkg/apperror"
	"cloudsdk/pkg/retry"
	"cloudsdk/pkg/wkt"
)

var (
	errMissingResult = errors.New("operation reported done with neither response nor error")
	errSpentHandle   = errors.New("poller already returned a completed result")
)

// codeFromInt converts the numeric code embedded in an operation error.
func codeFromInt(code int32) codes.Code {
	return codes.Code(uint32(code))
}

// Operation is the wire form of a long-running operation.
type Operation struct {
	// Name addresses the operation in poll RPCs.
	Name string `json:"name"`
	// Done is set once the operation reached a terminal state.
	Done bool `json:"done"`
	// Metadata carries service-specific progress.
	Metadata *wkt.Any `json:"metadata,omitempty"`
	// Response is the success payload, set only when Done.
	Response *wkt.Any `json:"response,omitempty"`
	// Error is the failure status, set only when Done.
	Error *OperationError `json:"error,omitempty"`
}

// OperationError is the google.rpc.Status embedded in a failed operation.
type OperationError struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

// PollingResultKind discriminates PollingResult.
type PollingResultKind int

const (
	// InProgress means the operation has not finished; Metadata may carry
	// progress.
	InProgress PollingResultKind = iota
	// Completed means the operation finished; Response or Err is set.
	Completed
	// PollingError means the poll RPC itself failed transiently; the
	// operation may still be running.
	PollingError
)

// PollingResult is the outcome of one Poll.
type PollingResult[R, M any] struct {
	Kind     PollingResultKind
	Metadata *M
	Response *R
	Err      error
}

// QueryFunc issues the service-specific "get operation" RPC. It goes
// through the call pipeline, so one poll may internally retry.
type QueryFunc func(ctx context.Context, name string) (Operation, error)

// Poller polls one operation until it completes. R is the response type;
// M is the metadata type. Not safe for concurrent use: the poller issues
// at most one outstanding query at a time.
type Poller[R, M any] struct {
	name     string
	query    QueryFunc
	errPol   retry.PollingErrorPolicy
	backoff  retry.PollingBackoffPolicy
	start    time.Time
	attempts int
	last     *M
	pending  *PollingResult[R, M]
	spent    bool
}

// New builds a poller for the operation named by the initial RPC response.
// A nil error policy defaults to AlwaysContinue; a nil backoff policy
// defaults to exponential backoff.
func New[R, M any](op Operation, query QueryFunc, errPol retry.PollingErrorPolicy, backoff retry.PollingBackoffPolicy) *Poller[R, M] {
	if errPol == nil {
		errPol = retry.AlwaysContinue{}
	}
	if backoff == nil {
		backoff = &retry.PollingBackoff{}
	}
	p := &Poller[R, M]{
		name:    op.Name,
		query:   query,
		errPol:  errPol,
		backoff: backoff,
		start:   time.Now(),
	}
	// The initial response may already be terminal, or carry metadata.
	if op.Done || op.Metadata != nil {
		if r, ok := p.interpret(op); ok {
			p.pending = &r
		}
	}
	return p
}

// interpret converts one wire operation into a polling result, updating
// the cached metadata.
func (p *Poller[R, M]) interpret(op Operation) (PollingResult[R, M], bool) {
	if !op.Done {
		if op.Metadata != nil {
			var m M
			if err := op.Metadata.Decode(&m); err == nil {
				p.last = &m
			}
		}
		return PollingResult[R, M]{Kind: InProgress, Metadata: p.last}, true
	}
	switch {
	case op.Error != nil:
		status := &apperror.Status{Code: codeFromInt(op.Error.Code), Message: op.Error.Message}
		return PollingResult[R, M]{Kind: Completed, Err: apperror.Service(status)}, true
	case op.Response != nil:
		var r R
		if err := op.Response.Decode(&r); err != nil {
			return PollingResult[R, M]{Kind: Completed, Err: apperror.Serde(err)}, true
		}
		return PollingResult[R, M]{Kind: Completed, Response: &r}, true
	default:
		return PollingResult[R, M]{
			Kind: Completed,
			Err:  apperror.PollingFailed(errMissingResult),
		}, true
	}
}

// Poll queries the operation once. It returns ok=false once a Completed
// result has been delivered: the handle is spent.
func (p *Poller[R, M]) Poll(ctx context.Context) (PollingResult[R, M], bool) {
	if p.spent {
		return PollingResult[R, M]{}, false
	}
	if p.pending != nil {
		r := *p.pending
		p.pending = nil
		if r.Kind == Completed {
			p.spent = true
		}
		return r, true
	}
	p.attempts++
	op, err := p.query(ctx, p.name)
	if err != nil {
		appErr := asAppError(err)
		state := retry.State{Start: p.start, AttemptCount: p.attempts, Idempotent: true}
		verdict := p.errPol.OnError(state, appErr)
		if verdict.Verdict == retry.Continue {
			return PollingResult[R, M]{Kind: PollingError, Err: appErr}, true
		}
		p.spent = true
		return PollingResult[R, M]{Kind: Completed, Err: verdict.Err}, true
	}
	r, _ := p.interpret(op)
	if r.Kind == Completed {
		p.spent = true
	}
	return r, true
}

// WaitPeriod returns how long to sleep before the next poll.
func (p *Poller[R, M]) WaitPeriod() time.Duration {
	state := retry.State{Start: p.start, AttemptCount: p.attempts, Idempotent: true}
	return p.backoff.WaitPeriod(state)
}

// UntilDone polls until the operation completes, sleeping the backoff
// period between polls, and returns the final response or error.
func (p *Poller[R, M]) UntilDone(ctx context.Context) (*R, error) {
	for {
		r, ok := p.Poll(ctx)
		if !ok {
			return nil, apperror.PollingFailed(errSpentHandle)
		}
		switch r.Kind {
		case Completed:
			return r.Response, r.Err
		case InProgress, PollingError:
			if err := sleep(ctx, p.WaitPeriod()); err != nil {
				return nil, err
			}
		}
	}
}

// Stream returns an iterator over polling results, sleeping between
// polls, ending after the Completed result.
func (p *Poller[R, M]) Stream(ctx context.Context) iter.Seq[PollingResult[R, M]] {
	return func(yield func(PollingResult[R, M]) bool) {
		for {
			r, ok := p.Poll(ctx)
			if !ok {
				return
			}
			if !yield(r) {
				return
			}
			if r.Kind == Completed {
				return
			}
			if err := sleep(ctx, p.WaitPeriod()); err != nil {
				return
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return apperror.IO(ctx.Err())
	case <-timer.C:
		return nil
	}
}

func asAppError(err error) *apperror.Error {
	if appErr, ok := apperror.AsInner[*apperror.Error](err); ok {
		return appErr
	}
	return apperror.Other(err)
}
