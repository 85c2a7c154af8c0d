// Package options defines the per-call configuration bundle and its
// layering rules. Generated request builders attach a RequestOptions to
// every call; unset fields inherit the client defaults, which in turn
// inherit the library defaults. Precedence is always per-call > per-client
// > library.
package options

import (
	"time"

	"github.com/google/uuid"

	"cloudsdk/pkg/apperror"
	"cloudsdk/pkg/retry"
)

// ReadResumePolicy decides whether an interrupted download should be
// resumed with a narrowed range or surfaced to the caller.
type ReadResumePolicy interface {
	// OnResume classifies a mid-stream error. Continue means reconnect and
	// resume; anything else surfaces the error.
	OnResume(state retry.State, err *apperror.Error) retry.Verdict
}

// ChecksumConfig selects which checksums the storage writer computes and
// which ones the reader verifies.
type ChecksumConfig struct {
	CRC32C bool
	MD5    bool
}

// RequestOptions is the configuration bundle attached to a single call.
// Nil or zero fields mean "inherit".
type RequestOptions struct {
	RetryPolicy          retry.Policy
	BackoffPolicy        retry.BackoffPolicy
	Throttler            retry.Throttler
	PollingErrorPolicy   retry.PollingErrorPolicy
	PollingBackoffPolicy retry.PollingBackoffPolicy

	// AttemptTimeout bounds a single attempt; the retry time limit bounds
	// the whole call.
	AttemptTimeout time.Duration

	// Idempotent overrides the generated idempotency classification.
	Idempotent *bool

	ReadResumePolicy ReadResumePolicy

	// ResumableUploadThreshold is the payload size above which uploads
	// switch to the resumable protocol.
	ResumableUploadThreshold int64
	// ResumableUploadBufferSize is the target size of each resumable PUT.
	ResumableUploadBufferSize int64

	// PathTemplate overrides the method's URL template.
	PathTemplate string

	Checksum *ChecksumConfig

	// AutomaticDecompression controls transparent gunzip of downloads.
	AutomaticDecompression *bool
}

// Defaults carried by the library when neither the call nor the client set
// a value.
const (
	DefaultResumableUploadThreshold  = 16 * 1024 * 1024
	DefaultResumableUploadBufferSize = 8 * 1024 * 1024
)

// SetIdempotency overrides the generated idempotency default.
func (o *RequestOptions) SetIdempotency(idempotent bool) {
	o.Idempotent = &idempotent
}

// IdempotentOr returns the effective idempotency given the generated
// default.
func (o *RequestOptions) IdempotentOr(generated bool) bool {
	if o == nil || o.Idempotent == nil {
		return generated
	}
	return *o.Idempotent
}

// Merge layers o (per-call) over defaults (per-client), returning the
// effective options. Neither input is modified.
func Merge(o, defaults *RequestOptions) *RequestOptions {
	out := &RequestOptions{}
	if defaults != nil {
		*out = *defaults
	}
	if o == nil {
		return out
	}
	if o.RetryPolicy != nil {
		out.RetryPolicy = o.RetryPolicy
	}
	if o.BackoffPolicy != nil {
		out.BackoffPolicy = o.BackoffPolicy
	}
	if o.Throttler != nil {
		out.Throttler = o.Throttler
	}
	if o.PollingErrorPolicy != nil {
		out.PollingErrorPolicy = o.PollingErrorPolicy
	}
	if o.PollingBackoffPolicy != nil {
		out.PollingBackoffPolicy = o.PollingBackoffPolicy
	}
	if o.AttemptTimeout > 0 {
		out.AttemptTimeout = o.AttemptTimeout
	}
	if o.Idempotent != nil {
		out.Idempotent = o.Idempotent
	}
	if o.ReadResumePolicy != nil {
		out.ReadResumePolicy = o.ReadResumePolicy
	}
	if o.ResumableUploadThreshold > 0 {
		out.ResumableUploadThreshold = o.ResumableUploadThreshold
	}
	if o.ResumableUploadBufferSize > 0 {
		out.ResumableUploadBufferSize = o.ResumableUploadBufferSize
	}
	if o.PathTemplate != "" {
		out.PathTemplate = o.PathTemplate
	}
	if o.Checksum != nil {
		out.Checksum = o.Checksum
	}
	if o.AutomaticDecompression != nil {
		out.AutomaticDecompression = o.AutomaticDecompression
	}
	return out
}

// EnsureRequestID populates an auto-populated request-ID field if the
// builder left it empty, and returns whether the call is therefore safe to
// retry. Methods with server-deduplicated request IDs are idempotent even
// when they mutate state.
func EnsureRequestID(current string) (id string, idempotent bool) {
	if current != "" {
		return current, true
	}
	return uuid.NewString(), true
}
