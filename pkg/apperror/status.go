package apperror

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"cloudsdk/pkg/wkt"
)

// Status is the AIP-193 error payload returned by Google APIs, over HTTP in
// the body of non-2xx responses and over gRPC in the trailers.
type Status struct {
	// Code is the canonical gRPC status code.
	Code codes.Code
	// Message is a developer-facing description of the failure.
	Message string
	// Details is the ordered list of typed detail payloads.
	Details []StatusDetail
}

// StatusDetail is one entry of Status.Details. The concrete type is one of
// the google.rpc detail messages below, or UnknownDetail for types this
// library does not recognize.
type StatusDetail interface {
	statusDetail()
}

// FieldViolation describes a single bad request field.
type FieldViolation struct {
	Field       string `json:"field"`
	Description string `json:"description"`
}

// BadRequest describes violations in a client request.
type BadRequest struct {
	FieldViolations []FieldViolation `json:"fieldViolations"`
}

// ErrorInfo describes the cause of the error with structured details.
type ErrorInfo struct {
	Reason   string            `json:"reason"`
	Domain   string            `json:"domain"`
	Metadata map[string]string `json:"metadata"`
}

// ResourceInfo describes the resource that is being accessed.
type ResourceInfo struct {
	ResourceType string `json:"resourceType"`
	ResourceName string `json:"resourceName"`
	Owner        string `json:"owner"`
	Description  string `json:"description"`
}

// RetryInfo tells the client when it may retry the failed request.
type RetryInfo struct {
	// RetryDelay is the minimum wait before retrying.
	RetryDelay time.Duration
}

// QuotaViolation describes a single quota violation.
type QuotaViolation struct {
	Subject     string `json:"subject"`
	Description string `json:"description"`
}

// QuotaFailure describes how a quota check failed.
type QuotaFailure struct {
	Violations []QuotaViolation `json:"violations"`
}

// PreconditionViolation describes a single failed precondition.
type PreconditionViolation struct {
	Type        string `json:"type"`
	Subject     string `json:"subject"`
	Description string `json:"description"`
}

// PreconditionFailure describes which preconditions have failed.
type PreconditionFailure struct {
	Violations []PreconditionViolation `json:"violations"`
}

// HelpLink is a URL pointing to additional context on the error.
type HelpLink struct {
	Description string `json:"description"`
	URL         string `json:"url"`
}

// Help provides links to documentation or for performing an out-of-band
// action.
type Help struct {
	Links []HelpLink `json:"links"`
}

// LocalizedMessage is an error message localized for the caller.
type LocalizedMessage struct {
	Locale  string `json:"locale"`
	Message string `json:"message"`
}

// DebugInfo describes additional debugging info; only present for calls
// from allow-listed projects.
type DebugInfo struct {
	StackEntries []string `json:"stackEntries"`
	Detail       string   `json:"detail"`
}

// UnknownDetail preserves a detail payload whose @type this library does
// not recognize. The raw JSON round-trips unchanged.
type UnknownDetail struct {
	Type string
	Raw  json.RawMessage
}

func (BadRequest) statusDetail()          {}
func (ErrorInfo) statusDetail()           {}
func (ResourceInfo) statusDetail()        {}
func (RetryInfo) statusDetail()           {}
func (QuotaFailure) statusDetail()        {}
func (PreconditionFailure) statusDetail() {}
func (Help) statusDetail()                {}
func (LocalizedMessage) statusDetail()    {}
func (DebugInfo) statusDetail()           {}
func (UnknownDetail) statusDetail()       {}

// Retryable implements AIP-194 strict classification for the status code.
func (s *Status) Retryable(idempotent bool) bool {
	switch s.Code {
	case codes.Unavailable:
		return true
	case codes.Aborted, codes.DeadlineExceeded, codes.Internal, codes.ResourceExhausted:
		return idempotent
	default:
		return false
	}
}

// RetryDelay returns the delay from the first RetryInfo detail, if any.
func (s *Status) RetryDelay() (time.Duration, bool) {
	for _, d := range s.Details {
		if ri, ok := d.(RetryInfo); ok {
			return ri.RetryDelay, true
		}
	}
	return 0, false
}

// ErrorInfo returns the first ErrorInfo detail, if any.
func (s *Status) ErrorInfo() (ErrorInfo, bool) {
	for _, d := range s.Details {
		if ei, ok := d.(ErrorInfo); ok {
			return ei, true
		}
	}
	return ErrorInfo{}, false
}

const detailTypePrefix = "type.googleapis.com/google.rpc."

// statusJSON mirrors the HTTP wire form of google.rpc.Status inside the
// {"error": ...} envelope.
type statusJSON struct {
	Code    int               `json:"code"`
	Message string            `json:"message"`
	Status  string            `json:"status"`
	Details []json.RawMessage `json:"details"`
}

type statusEnvelope struct {
	Error *statusJSON `json:"error"`
}

// httpCodeNames maps the textual status field of the HTTP error envelope to
// canonical codes. The numeric code in the envelope is the HTTP status, not
// the gRPC code, so the name takes precedence.
var httpCodeNames = map[string]codes.Code{
	"OK":                  codes.OK,
	"CANCELLED":           codes.Canceled,
	"UNKNOWN":             codes.Unknown,
	"INVALID_ARGUMENT":    codes.InvalidArgument,
	"DEADLINE_EXCEEDED":   codes.DeadlineExceeded,
	"NOT_FOUND":           codes.NotFound,
	"ALREADY_EXISTS":      codes.AlreadyExists,
	"PERMISSION_DENIED":   codes.PermissionDenied,
	"RESOURCE_EXHAUSTED":  codes.ResourceExhausted,
	"FAILED_PRECONDITION": codes.FailedPrecondition,
	"ABORTED":             codes.Aborted,
	"OUT_OF_RANGE":        codes.OutOfRange,
	"UNIMPLEMENTED":       codes.Unimplemented,
	"INTERNAL":            codes.Internal,
	"UNAVAILABLE":         codes.Unavailable,
	"DATA_LOSS":           codes.DataLoss,
	"UNAUTHENTICATED":     codes.Unauthenticated,
}

// CodeName returns the SCREAMING_SNAKE_CASE name of a canonical code, as
// used on the wire and in the grpc.status span attribute.
func CodeName(c codes.Code) string {
	for name, code := range httpCodeNames {
		if code == c {
			return name
		}
	}
	return fmt.Sprintf("CODE(%d)", int(c))
}

// codeFromHTTP maps an HTTP status code to the closest canonical code.
// Used when the error body carries no recognizable status name.
func codeFromHTTP(httpStatus int) codes.Code {
	switch httpStatus {
	case 400:
		return codes.InvalidArgument
	case 401:
		return codes.Unauthenticated
	case 403:
		return codes.PermissionDenied
	case 404:
		return codes.NotFound
	case 409:
		return codes.Aborted
	case 412:
		return codes.FailedPrecondition
	case 416:
		return codes.OutOfRange
	case 429:
		return codes.ResourceExhausted
	case 499:
		return codes.Canceled
	case 501:
		return codes.Unimplemented
	case 503:
		return codes.Unavailable
	case 504:
		return codes.DeadlineExceeded
	default:
		return codes.Unknown
	}
}

// StatusFromJSON attempts to parse an AIP-193 status out of an HTTP error
// body. It accepts both the bare google.rpc.Status form and the
// {"error": {...}} envelope. A body that is not a valid status returns
// ok=false; the caller should surface the response as a transport error.
func StatusFromJSON(body []byte, httpStatus int) (*Status, bool) {
	var envelope statusEnvelope
	payload := &statusJSON{}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		payload = envelope.Error
	} else if err := json.Unmarshal(body, payload); err != nil {
		return nil, false
	}
	if payload.Message == "" && payload.Status == "" && payload.Code == 0 {
		return nil, false
	}
	code, ok := httpCodeNames[payload.Status]
	if !ok {
		code = codeFromHTTP(httpStatus)
	}
	s := &Status{Code: code, Message: payload.Message}
	for _, raw := range payload.Details {
		s.Details = append(s.Details, decodeDetailJSON(raw))
	}
	return s, true
}

func decodeDetailJSON(raw json.RawMessage) StatusDetail {
	var head struct {
		Type string `json:"@type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return UnknownDetail{Raw: raw}
	}
	name := strings.TrimPrefix(head.Type, detailTypePrefix)
	switch name {
	case "BadRequest":
		var d BadRequest
		if json.Unmarshal(raw, &d) == nil {
			return d
		}
	case "ErrorInfo":
		var d ErrorInfo
		if json.Unmarshal(raw, &d) == nil {
			return d
		}
	case "ResourceInfo":
		var d ResourceInfo
		if json.Unmarshal(raw, &d) == nil {
			return d
		}
	case "RetryInfo":
		var d struct {
			RetryDelay string `json:"retryDelay"`
		}
		if json.Unmarshal(raw, &d) == nil {
			if delay, err := wkt.ParseDuration(d.RetryDelay); err == nil {
				return RetryInfo{RetryDelay: delay}
			}
		}
	case "QuotaFailure":
		var d QuotaFailure
		if json.Unmarshal(raw, &d) == nil {
			return d
		}
	case "PreconditionFailure":
		var d PreconditionFailure
		if json.Unmarshal(raw, &d) == nil {
			return d
		}
	case "Help":
		var d Help
		if json.Unmarshal(raw, &d) == nil {
			return d
		}
	case "LocalizedMessage":
		var d LocalizedMessage
		if json.Unmarshal(raw, &d) == nil {
			return d
		}
	case "DebugInfo":
		var d DebugInfo
		if json.Unmarshal(raw, &d) == nil {
			return d
		}
	}
	return UnknownDetail{Type: head.Type, Raw: raw}
}

// FromGRPC converts a gRPC error into a Service error, decoding the status
// details carried in the trailers. Non-status errors map to transport
// errors.
func FromGRPC(err error) *Error {
	if err == nil {
		return nil
	}
	st, ok := grpcstatus.FromError(err)
	if !ok {
		return TransportErr(err)
	}
	return Service(StatusFromGRPC(st))
}

// StatusFromGRPC converts a gRPC status into the Status model.
func StatusFromGRPC(st *grpcstatus.Status) *Status {
	s := &Status{Code: st.Code(), Message: st.Message()}
	for _, d := range st.Details() {
		switch d := d.(type) {
		case *errdetails.BadRequest:
			br := BadRequest{}
			for _, v := range d.GetFieldViolations() {
				br.FieldViolations = append(br.FieldViolations, FieldViolation{
					Field:       v.GetField(),
					Description: v.GetDescription(),
				})
			}
			s.Details = append(s.Details, br)
		case *errdetails.ErrorInfo:
			s.Details = append(s.Details, ErrorInfo{
				Reason:   d.GetReason(),
				Domain:   d.GetDomain(),
				Metadata: d.GetMetadata(),
			})
		case *errdetails.ResourceInfo:
			s.Details = append(s.Details, ResourceInfo{
				ResourceType: d.GetResourceType(),
				ResourceName: d.GetResourceName(),
				Owner:        d.GetOwner(),
				Description:  d.GetDescription(),
			})
		case *errdetails.RetryInfo:
			s.Details = append(s.Details, RetryInfo{RetryDelay: d.GetRetryDelay().AsDuration()})
		case *errdetails.QuotaFailure:
			qf := QuotaFailure{}
			for _, v := range d.GetViolations() {
				qf.Violations = append(qf.Violations, QuotaViolation{
					Subject:     v.GetSubject(),
					Description: v.GetDescription(),
				})
			}
			s.Details = append(s.Details, qf)
		case *errdetails.PreconditionFailure:
			pf := PreconditionFailure{}
			for _, v := range d.GetViolations() {
				pf.Violations = append(pf.Violations, PreconditionViolation{
					Type:        v.GetType(),
					Subject:     v.GetSubject(),
					Description: v.GetDescription(),
				})
			}
			s.Details = append(s.Details, pf)
		case *errdetails.Help:
			h := Help{}
			for _, l := range d.GetLinks() {
				h.Links = append(h.Links, HelpLink{Description: l.GetDescription(), URL: l.GetUrl()})
			}
			s.Details = append(s.Details, h)
		case *errdetails.LocalizedMessage:
			s.Details = append(s.Details, LocalizedMessage{Locale: d.GetLocale(), Message: d.GetMessage()})
		case *errdetails.DebugInfo:
			s.Details = append(s.Details, DebugInfo{StackEntries: d.GetStackEntries(), Detail: d.GetDetail()})
		default:
			s.Details = append(s.Details, UnknownDetail{Type: fmt.Sprintf("%T", d)})
		}
	}
	return s
}

// ToGRPC converts an *Error back into a gRPC status error. Service errors
// keep their code and message; everything else maps to codes.Unknown.
func ToGRPC(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) && e.status != nil {
		return grpcstatus.Error(e.status.Code, e.status.Message)
	}
	return grpcstatus.Error(codes.Unknown, err.Error())
}
