package apperror

import (
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// TestStatusFromJSON verifies AIP-193 decoding of the error envelope.
func TestStatusFromJSON(t *testing.T) {
	body := []byte(`{
	  "error": {
	    "code": 429,
	    "message": "Quota exceeded",
	    "status": "RESOURCE_EXHAUSTED",
	    "details": [
	      {
	        "@type": "type.googleapis.com/google.rpc.ErrorInfo",
	        "reason": "RATE_LIMIT_EXCEEDED",
	        "domain": "googleapis.com",
	        "metadata": {"quota_limit": "ReadsPerMinute"}
	      },
	      {
	        "@type": "type.googleapis.com/google.rpc.RetryInfo",
	        "retryDelay": "30s"
	      },
	      {
	        "@type": "type.googleapis.com/google.rpc.BadRequest",
	        "fieldViolations": [{"field": "page_size", "description": "too big"}]
	      },
	      {
	        "@type": "type.example.com/custom.Detail",
	        "anything": true
	      }
	    ]
	  }
	}`)
	status, ok := StatusFromJSON(body, 429)
	if !ok {
		t.Fatal("StatusFromJSON() failed to parse a valid status")
	}
	if status.Code != codes.ResourceExhausted {
		t.Errorf("Code = %v, want ResourceExhausted", status.Code)
	}
	if status.Message != "Quota exceeded" {
		t.Errorf("Message = %q", status.Message)
	}
	if len(status.Details) != 4 {
		t.Fatalf("len(Details) = %d, want 4", len(status.Details))
	}
	ei, ok := status.Details[0].(ErrorInfo)
	if !ok || ei.Reason != "RATE_LIMIT_EXCEEDED" || ei.Metadata["quota_limit"] != "ReadsPerMinute" {
		t.Errorf("Details[0] = %+v", status.Details[0])
	}
	if d, ok := status.RetryDelay(); !ok || d != 30*time.Second {
		t.Errorf("RetryDelay() = %v, %v", d, ok)
	}
	br, ok := status.Details[2].(BadRequest)
	if !ok || len(br.FieldViolations) != 1 || br.FieldViolations[0].Field != "page_size" {
		t.Errorf("Details[2] = %+v", status.Details[2])
	}
	ud, ok := status.Details[3].(UnknownDetail)
	if !ok || ud.Type != "type.example.com/custom.Detail" {
		t.Errorf("Details[3] = %+v", status.Details[3])
	}
}

// TestStatusFromJSON_BareStatus verifies the non-enveloped form parses
// too.
func TestStatusFromJSON_BareStatus(t *testing.T) {
	body := []byte(`{"code": 404, "message": "not found", "status": "NOT_FOUND"}`)
	status, ok := StatusFromJSON(body, 404)
	if !ok || status.Code != codes.NotFound || status.Message != "not found" {
		t.Errorf("StatusFromJSON() = %+v, %v", status, ok)
	}
}

// TestStatusFromJSON_Garbage verifies non-status bodies are rejected so
// the transport can preserve them verbatim.
func TestStatusFromJSON_Garbage(t *testing.T) {
	for _, body := range []string{"<html>502</html>", "{}", `{"unrelated": true}`, ""} {
		if _, ok := StatusFromJSON([]byte(body), 502); ok {
			t.Errorf("StatusFromJSON(%q) parsed, want rejection", body)
		}
	}
}

// TestStatusFromJSON_UnknownStatusName verifies the HTTP status code is
// the fallback code source.
func TestStatusFromJSON_UnknownStatusName(t *testing.T) {
	body := []byte(`{"error": {"code": 503, "message": "down"}}`)
	status, ok := StatusFromJSON(body, 503)
	if !ok || status.Code != codes.Unavailable {
		t.Errorf("StatusFromJSON() = %+v, %v; want Unavailable", status, ok)
	}
}

// TestCodeName verifies wire names round-trip for every canonical code.
func TestCodeName(t *testing.T) {
	for name, code := range httpCodeNames {
		if got := CodeName(code); got != name {
			t.Errorf("CodeName(%v) = %q, want %q", code, got, name)
		}
	}
}

// TestFromGRPC verifies gRPC status errors convert into the Status model.
func TestFromGRPC(t *testing.T) {
	err := FromGRPC(grpcstatus.Error(codes.Unavailable, "try again"))
	if !err.IsService() {
		t.Fatalf("FromGRPC() kind = %v, want service", err.Kind())
	}
	if err.Status().Code != codes.Unavailable || err.Status().Message != "try again" {
		t.Errorf("Status() = %+v", err.Status())
	}
	if !err.Retryable(false) {
		t.Error("Unavailable should be retryable without idempotency")
	}
	if FromGRPC(nil) != nil {
		t.Error("FromGRPC(nil) != nil")
	}
}

// TestToGRPC verifies service errors convert back to status errors.
func TestToGRPC(t *testing.T) {
	orig := Service(&Status{Code: codes.PermissionDenied, Message: "nope"})
	st, ok := grpcstatus.FromError(ToGRPC(orig))
	if !ok || st.Code() != codes.PermissionDenied || st.Message() != "nope" {
		t.Errorf("ToGRPC() = %v", st)
	}
}
