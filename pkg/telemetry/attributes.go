package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"cloudsdk/pkg/apperror"
)

// Standard attribute keys: the OpenTelemetry semantic conventions plus the
// Google-specific gcp.* keys.
const (
	AttrOtelKind              = "otel.kind"
	AttrOtelStatusCode        = "otel.status_code"
	AttrOtelStatusDescription = "otel.status_description"

	AttrRPCSystem      = "rpc.system"
	AttrHTTPMethod     = "http.request.method"
	AttrHTTPStatusCode = "http.response.status_code"
	AttrURLScheme      = "url.scheme"
	AttrURLTemplate    = "url.template"
	AttrURLFull        = "url.full"
	AttrURLDomain      = "url.domain"
	AttrServerAddress  = "server.address"
	AttrServerPort     = "server.port"
	AttrGRPCStatus     = "grpc.status"

	AttrClientService  = "gcp.client.service"
	AttrClientVersion  = "gcp.client.version"
	AttrClientRepo     = "gcp.client.repo"
	AttrClientArtifact = "gcp.client.artifact"
	AttrClientLanguage = "gcp.client.language"
	AttrResourceName   = "gcp.resource.name"
	AttrErrorType      = "error.type"
)

// Values for otel.status_code.
const (
	StatusOK    = "OK"
	StatusError = "ERROR"
	StatusUnset = "UNSET"
)

// Values for rpc.system.
const (
	RPCSystemHTTP = "http"
	RPCSystemGRPC = "grpc"
)

// Values for error.type.
const (
	ErrClientTimeout        = "CLIENT_TIMEOUT"
	ErrClientConnection     = "CLIENT_CONNECTION_ERROR"
	ErrClientRequest        = "CLIENT_REQUEST_ERROR"
	ErrClientResponseDecode = "CLIENT_RESPONSE_DECODE_ERROR"
	ErrClientAuthentication = "CLIENT_AUTHENTICATION_ERROR"
	ErrClientRetryExhausted = "CLIENT_RETRY_EXHAUSTED"
	ErrUnknown              = "UNKNOWN"
)

// SpanName renders the library span name, "storage::Client::ReadObject".
func SpanName(service, client, method string) string {
	return fmt.Sprintf("%s::%s::%s", service, client, method)
}

// HTTPSpanName renders the per-attempt span name, "GET /b/{bucket}/o".
func HTTPSpanName(httpMethod, urlTemplate string) string {
	if urlTemplate == "" {
		return httpMethod
	}
	return httpMethod + " " + urlTemplate
}

// ClientAttributes is the constant attribute set every client span
// carries.
func ClientAttributes(service, artifact, version, rpcSystem string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrOtelKind, "Client"),
		attribute.String(AttrRPCSystem, rpcSystem),
		attribute.String(AttrClientService, service),
		attribute.String(AttrClientArtifact, artifact),
		attribute.String(AttrClientVersion, version),
		attribute.String(AttrClientRepo, "googleapis/google-cloud-go"),
		attribute.String(AttrClientLanguage, "go"),
	}
}

// HTTPAttemptAttributes is the per-attempt attribute set for an HTTP
// request.
func HTTPAttemptAttributes(method, urlTemplate, fullURL, scheme, host string, port int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrURLScheme, scheme),
		attribute.String(AttrURLFull, fullURL),
		attribute.String(AttrURLDomain, host),
		attribute.String(AttrServerAddress, host),
		attribute.Int(AttrServerPort, port),
	}
	if urlTemplate != "" {
		attrs = append(attrs, attribute.String(AttrURLTemplate, urlTemplate))
	}
	return attrs
}

// GRPCAttemptAttributes is the per-attempt attribute set for a gRPC call.
func GRPCAttemptAttributes(host string, port int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrServerAddress, host),
		attribute.Int(AttrServerPort, port),
	}
}

// ResourceAttribute renders the gcp.resource.name attribute when the
// request names a resource.
func ResourceAttribute(resource string) []attribute.KeyValue {
	if resource == "" {
		return nil
	}
	return []attribute.KeyValue{attribute.String(AttrResourceName, resource)}
}

// ErrorType classifies an error for the error.type attribute.
func ErrorType(err error, exhausted bool) string {
	if exhausted {
		return ErrClientRetryExhausted
	}
	var e *apperror.Error
	if !errors.As(err, &e) {
		return ErrUnknown
	}
	switch {
	case e.IsAuthentication():
		return ErrClientAuthentication
	case e.IsSerde():
		return ErrClientResponseDecode
	case e.IsBinding():
		return ErrClientRequest
	case e.IsIO():
		if errors.Is(e, context.DeadlineExceeded) {
			return ErrClientTimeout
		}
		return ErrClientConnection
	case e.IsTransport():
		if e.HTTPStatusCode() != 0 {
			return ErrUnknown
		}
		return ErrClientConnection
	default:
		return ErrUnknown
	}
}
