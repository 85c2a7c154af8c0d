// Package apperror provides the error model shared by all clients in this
// repository. Every failure surfaces as a single opaque *Error carrying a
// Kind, an optional AIP-193 Status, and the underlying cause. It also
// includes utilities for converting to and from gRPC status errors and for
// classifying errors as retryable under AIP-194.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind identifies the broad category of a client error.
type Kind int

const (
	// KindOther is the catch-all for errors that fit no other category.
	KindOther Kind = iota
	// KindAuthentication indicates the credential layer could not produce
	// usable auth headers.
	KindAuthentication
	// KindIO indicates a network failure before any byte of the response
	// was received (DNS, connect, TLS, request write).
	KindIO
	// KindSerde indicates the response could not be decoded into the
	// expected model.
	KindSerde
	// KindTransport indicates an HTTP or gRPC level failure whose body was
	// not a valid AIP-193 status, or a mid-response connection loss.
	KindTransport
	// KindService indicates the service returned an AIP-193 Status.
	KindService
	// KindBinding indicates the request failed local path template
	// validation before any network I/O.
	KindBinding
	// KindPollingFailed indicates a long-running operation finished in an
	// unusable state.
	KindPollingFailed
	// KindChecksum indicates downloaded or uploaded data failed integrity
	// verification.
	KindChecksum
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindIO:
		return "io"
	case KindSerde:
		return "serde"
	case KindTransport:
		return "transport"
	case KindService:
		return "service"
	case KindBinding:
		return "binding"
	case KindPollingFailed:
		return "polling failed"
	case KindChecksum:
		return "checksum"
	default:
		return "other"
	}
}

// Error is the single error type returned by clients. Construct values with
// the kind-specific constructors; inspect them with the Is* predicates,
// Status, HTTPHeaders, and AsInner.
type Error struct {
	kind    Kind
	message string
	cause   error

	status      *Status
	httpStatus  int
	httpHeaders http.Header
	binding     *BindingError
	transient   bool
}

// New constructs an error with an explicit kind wrapping cause.
func New(kind Kind, cause error) *Error {
	return &Error{kind: kind, cause: cause}
}

// IO wraps a network error that happened before the first byte of the
// response. IO errors are always retryable.
func IO(cause error) *Error {
	return &Error{kind: KindIO, cause: cause}
}

// Serde wraps a response decoding failure.
func Serde(cause error) *Error {
	return &Error{kind: KindSerde, cause: cause}
}

// Service wraps an AIP-193 status returned by the service.
func Service(status *Status) *Error {
	return &Error{kind: KindService, status: status}
}

// Authentication wraps a credential failure. Transient failures (token
// endpoint 5xx, metadata server timeouts) are retried by the call pipeline;
// permanent failures surface immediately.
func Authentication(cause error, transient bool) *Error {
	return &Error{kind: KindAuthentication, cause: cause, transient: transient}
}

// Transport wraps a non-2xx HTTP response whose body was not a valid
// AIP-193 status, preserving the status code and headers verbatim.
func Transport(statusCode int, headers http.Header, message string) *Error {
	return &Error{kind: KindTransport, message: message, httpStatus: statusCode, httpHeaders: headers}
}

// TransportErr wraps a connection-level transport failure (for example a
// stream reset after the response started).
func TransportErr(cause error) *Error {
	return &Error{kind: KindTransport, cause: cause}
}

// Binding wraps the result of a failed path template validation.
func Binding(b *BindingError) *Error {
	return &Error{kind: KindBinding, binding: b}
}

// PollingFailed wraps a long-running operation that finished without a
// usable result.
func PollingFailed(cause error) *Error {
	return &Error{kind: KindPollingFailed, cause: cause}
}

// Checksum reports an integrity mismatch between computed and advertised
// checksums.
func Checksum(message string) *Error {
	return &Error{kind: KindChecksum, message: message}
}

// Other wraps an error that fits no other category.
func Other(cause error) *Error {
	return &Error{kind: KindOther, cause: cause}
}

// Othermsg creates an Other error from a plain message.
func Othermsg(format string, args ...any) *Error {
	return &Error{kind: KindOther, message: fmt.Sprintf(format, args...)}
}

// Kind returns the category of the error.
func (e *Error) Kind() Kind { return e.kind }

// IsAuthentication reports whether the error came from the credential layer.
func (e *Error) IsAuthentication() bool { return e.kind == KindAuthentication }

// IsIO reports whether the error is a pre-response network failure.
func (e *Error) IsIO() bool { return e.kind == KindIO }

// IsSerde reports whether the error is a decode failure.
func (e *Error) IsSerde() bool { return e.kind == KindSerde }

// IsTransport reports whether the error is a transport-level failure.
func (e *Error) IsTransport() bool { return e.kind == KindTransport }

// IsService reports whether the error carries an AIP-193 status.
func (e *Error) IsService() bool { return e.kind == KindService }

// IsBinding reports whether the error came from path template validation.
func (e *Error) IsBinding() bool { return e.kind == KindBinding }

// IsPollingFailed reports whether a long-running operation finished badly.
func (e *Error) IsPollingFailed() bool { return e.kind == KindPollingFailed }

// IsChecksum reports whether the error is an integrity failure.
func (e *Error) IsChecksum() bool { return e.kind == KindChecksum }

// IsTransient reports whether an authentication error may succeed if the
// credential fetch is retried. It is false for every other kind.
func (e *Error) IsTransient() bool { return e.kind == KindAuthentication && e.transient }

// Status returns the AIP-193 status for service errors, or nil.
func (e *Error) Status() *Status { return e.status }

// BindingError returns the binding validation report, or nil.
func (e *Error) BindingError() *BindingError { return e.binding }

// HTTPStatusCode returns the HTTP status code for transport errors that
// carry one, or zero.
func (e *Error) HTTPStatusCode() int { return e.httpStatus }

// HTTPHeaders returns the HTTP response headers for transport errors that
// carry them, or nil.
func (e *Error) HTTPHeaders() http.Header { return e.httpHeaders }

// Error implements the error interface. The output includes the kind, a
// short summary, and the causal chain.
func (e *Error) Error() string {
	switch {
	case e.status != nil:
		return fmt.Sprintf("[%s] %s: %s", e.kind, e.status.Code, e.status.Message)
	case e.binding != nil:
		return fmt.Sprintf("[%s] %s", e.kind, e.binding)
	case e.cause != nil && e.message != "":
		return fmt.Sprintf("[%s] %s: %v", e.kind, e.message, e.cause)
	case e.cause != nil:
		return fmt.Sprintf("[%s] %v", e.kind, e.cause)
	case e.httpStatus != 0:
		return fmt.Sprintf("[%s] http status %d: %s", e.kind, e.httpStatus, e.message)
	default:
		return fmt.Sprintf("[%s] %s", e.kind, e.message)
	}
}

// Unwrap returns the wrapped cause, allowing errors.Is / errors.As to walk
// the chain.
func (e *Error) Unwrap() error { return e.cause }

// Source returns the immediate cause of the error, or nil.
func (e *Error) Source() error { return e.cause }

// AsInner walks the cause chain and returns the first error of concrete
// type T.
func AsInner[T error](err error) (T, bool) {
	var target T
	ok := errors.As(err, &target)
	return target, ok
}

// Retryable classifies the error under AIP-194 strict mode. Service errors
// with code Unavailable are always transient; Aborted, DeadlineExceeded,
// Internal and ResourceExhausted are transient only for idempotent calls.
// IO errors are transient; connection-level transport errors are transient
// only for idempotent calls. Authentication errors follow their transient flag. Everything else is
// permanent.
func (e *Error) Retryable(idempotent bool) bool {
	switch e.kind {
	case KindIO:
		return true
	case KindTransport:
		// A transport error carrying an HTTP status saw a full response and
		// is not retried. Connection-level failures behave like IO errors
		// for idempotent calls.
		return e.httpStatus == 0 && idempotent
	case KindAuthentication:
		return e.transient
	case KindService:
		return e.status != nil && e.status.Retryable(idempotent)
	default:
		return false
	}
}

// RetryDelay returns the server-suggested backoff from a RetryInfo status
// detail, if present.
func (e *Error) RetryDelay() (time.Duration, bool) {
	if e.status == nil {
		return 0, false
	}
	return e.status.RetryDelay()
}
