package transport

import (
	"testing"

	"cloudsdk/pkg/apperror"
)

// TestHostFromEndpoint mirrors the recognized endpoint forms: regional and
// locational overrides become the host, while VPC-SC, PSC, and custom
// domains keep the default host.
func TestHostFromEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		want     string
	}{
		{"default", "", "test.googleapis.com"},
		{"global", "http://www.googleapis.com", "test.googleapis.com"},
		{"VPC-SC private", "http://private.googleapis.com", "test.googleapis.com"},
		{"VPC-SC restricted", "http://restricted.googleapis.com", "test.googleapis.com"},
		{"PSC custom endpoint", "http://test-my-private-ep.p.googleapis.com", "test.googleapis.com"},
		{"locational endpoint", "https://us-central1-test.googleapis.com", "us-central1-test.googleapis.com"},
		{"regional endpoint", "https://test.us-central1.rep.googleapis.com", "test.us-central1.rep.googleapis.com"},
		{"universe domain", "https://test.my-universe-domain.com", "test.googleapis.com"},
		{"emulator", "localhost:5678", "test.googleapis.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, defaultEndpoint := range []string{"https://test.googleapis.com/", "https://test.googleapis.com"} {
				got, err := HostFromEndpoint(tt.endpoint, defaultEndpoint)
				if err != nil {
					t.Fatalf("HostFromEndpoint(%q, %q): %v", tt.endpoint, defaultEndpoint, err)
				}
				if got != tt.want {
					t.Errorf("HostFromEndpoint(%q, %q) = %q, want %q", tt.endpoint, defaultEndpoint, got, tt.want)
				}
			}
		})
	}
}

// TestHostFromEndpoint_Showcase verifies non-googleapis defaults pass
// through.
func TestHostFromEndpoint_Showcase(t *testing.T) {
	for _, endpoint := range []string{"", "localhost:5678"} {
		got, err := HostFromEndpoint(endpoint, "https://localhost:7469/")
		if err != nil {
			t.Fatal(err)
		}
		if got != "localhost" {
			t.Errorf("HostFromEndpoint(%q) = %q, want localhost", endpoint, got)
		}
	}
}

// TestHostFromEndpoint_Error verifies endpoints without an authority are
// rejected.
func TestHostFromEndpoint_Error(t *testing.T) {
	if _, err := HostFromEndpoint("http://", "https://test.googleapis.com/"); err == nil {
		t.Error("expected an error for an endpoint with no host")
	}
}

// TestMatchTemplate verifies the path template wildcard grammar.
func TestMatchTemplate(t *testing.T) {
	tests := []struct {
		value    string
		template string
		want     bool
	}{
		{"projects/p1", "projects/*", true},
		{"projects/p1/buckets/b1", "projects/*/buckets/*", true},
		{"projects/p1", "projects/*/buckets/*", false},
		{"p1", "*", true},
		{"p1/p2", "*", false},
		{"a/b/c", "**", true},
		{"a", "**", true},
		{"", "**", false},
		{"projects/p/objects/a/b/c", "projects/*/objects/**", true},
		{"folders/f", "projects/*", false},
		{"projects//buckets/b", "projects/*/buckets/*", false},
	}
	for _, tt := range tests {
		if got := MatchTemplate(tt.value, tt.template); got != tt.want {
			t.Errorf("MatchTemplate(%q, %q) = %v, want %v", tt.value, tt.template, got, tt.want)
		}
	}
}

// TestValidateBinding verifies AND/OR semantics and the error shape for an
// unset required field, matching the delete-bucket-with-empty-name case.
func TestValidateBinding(t *testing.T) {
	err := ValidateBinding([]BindingGroup{
		{Alternatives: []PathBinding{{Subs: []Substitution{
			{FieldName: "name", Value: "", Template: "**"},
		}}}},
	})
	if err == nil {
		t.Fatal("ValidateBinding accepted an unset required field")
	}
	if !err.IsBinding() {
		t.Fatalf("kind = %v, want binding", err.Kind())
	}
	b := err.BindingError()
	if len(b.Paths) != 1 || len(b.Paths[0].Subs) != 1 {
		t.Fatalf("unexpected shape: %+v", b)
	}
	sub := b.Paths[0].Subs[0]
	if sub.FieldName != "name" || sub.Problem != apperror.ProblemUnsetExpecting || sub.Template != "**" {
		t.Errorf("sub = %+v, want name UnsetExpecting(**)", sub)
	}

	// Any single matching alternative validates the group.
	err = ValidateBinding([]BindingGroup{
		{Alternatives: []PathBinding{
			{Subs: []Substitution{{FieldName: "parent", Value: "folders/f", Template: "projects/*"}}},
			{Subs: []Substitution{{FieldName: "parent", Value: "folders/f", Template: "folders/*"}}},
		}},
	})
	if err != nil {
		t.Errorf("ValidateBinding rejected a group with a matching alternative: %v", err)
	}

	// Every group must match.
	err = ValidateBinding([]BindingGroup{
		{Alternatives: []PathBinding{{Subs: []Substitution{
			{FieldName: "bucket", Value: "b", Template: "*"},
		}}}},
		{Alternatives: []PathBinding{{Subs: []Substitution{
			{FieldName: "object", Value: "", Template: "**"},
		}}}},
	})
	if err == nil {
		t.Error("ValidateBinding accepted a request with one failing group")
	}
}
