package apperror

import (
	"fmt"
	"strings"
)

// ProblemKind says why a request field failed to match a path template.
type ProblemKind int

const (
	// ProblemUnset means the field was empty and the template accepts any
	// non-empty value.
	ProblemUnset ProblemKind = iota
	// ProblemUnsetExpecting means the field was empty and the template
	// expects a specific shape.
	ProblemUnsetExpecting
	// ProblemMismatch means the field was set but did not match the
	// expected template.
	ProblemMismatch
)

// SubstitutionMismatch reports a single failed template substitution.
type SubstitutionMismatch struct {
	// FieldName is the request field the template draws from.
	FieldName string
	// Problem classifies the failure.
	Problem ProblemKind
	// Template is the expected shape, set for ProblemUnsetExpecting and
	// ProblemMismatch.
	Template string
	// Actual is the offending value, set for ProblemMismatch.
	Actual string
}

func (m SubstitutionMismatch) String() string {
	switch m.Problem {
	case ProblemUnset:
		return fmt.Sprintf("field %q is unset", m.FieldName)
	case ProblemUnsetExpecting:
		return fmt.Sprintf("field %q is unset, expected a value matching %q", m.FieldName, m.Template)
	default:
		return fmt.Sprintf("field %q value %q does not match %q", m.FieldName, m.Actual, m.Template)
	}
}

// PathMismatch is the record of one path template that could not be built.
// All substitutions in Subs must succeed for the path to match (AND).
type PathMismatch struct {
	Subs []SubstitutionMismatch
}

func (p PathMismatch) String() string {
	parts := make([]string, len(p.Subs))
	for i, s := range p.Subs {
		parts[i] = s.String()
	}
	return strings.Join(parts, " and ")
}

// BindingError reports that no path template of a method could be satisfied
// by the request. Entries in Paths are alternatives (OR); the request is
// valid if any single one would have matched.
type BindingError struct {
	Paths []PathMismatch
}

func (b *BindingError) Error() string { return b.String() }

func (b *BindingError) String() string {
	parts := make([]string, len(b.Paths))
	for i, p := range b.Paths {
		parts[i] = p.String()
	}
	return "cannot bind request to any path template: " + strings.Join(parts, "; or ")
}
