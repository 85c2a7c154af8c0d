package transport

import (
	"strings"

	"cloudsdk/pkg/apperror"
)

// Substitution is one request field bound into a path template: the field
// value must match the template for the path to be usable.
type Substitution struct {
	// FieldName is the request field, such as "name" or "parent".
	FieldName string
	// Value is the field's current value.
	Value string
	// Template is the expected shape, such as "projects/*/buckets/**".
	Template string
}

// PathBinding is one candidate path: every substitution must match (AND).
type PathBinding struct {
	Subs []Substitution
}

// BindingGroup is the set of alternative paths for one routing key: any
// single binding matching makes the group valid (OR).
type BindingGroup struct {
	Alternatives []PathBinding
}

// ValidateBinding checks every routing group against the request before
// any network I/O. It returns nil when each group has at least one fully
// matched path, and a Binding error describing every failed alternative
// otherwise.
func ValidateBinding(groups []BindingGroup) *apperror.Error {
	var failed []apperror.PathMismatch
	ok := true
	for _, g := range groups {
		groupOK := false
		var groupPaths []apperror.PathMismatch
		for _, alt := range g.Alternatives {
			var subs []apperror.SubstitutionMismatch
			for _, s := range alt.Subs {
				if m, bad := matchSubstitution(s); bad {
					subs = append(subs, m)
				}
			}
			if len(subs) == 0 {
				groupOK = true
				break
			}
			groupPaths = append(groupPaths, apperror.PathMismatch{Subs: subs})
		}
		if !groupOK {
			ok = false
			failed = append(failed, groupPaths...)
		}
	}
	if ok {
		return nil
	}
	return apperror.Binding(&apperror.BindingError{Paths: failed})
}

func matchSubstitution(s Substitution) (apperror.SubstitutionMismatch, bool) {
	if s.Value == "" {
		if s.Template == "" || s.Template == "*" {
			return apperror.SubstitutionMismatch{
				FieldName: s.FieldName,
				Problem:   apperror.ProblemUnset,
			}, true
		}
		return apperror.SubstitutionMismatch{
			FieldName: s.FieldName,
			Problem:   apperror.ProblemUnsetExpecting,
			Template:  s.Template,
		}, true
	}
	if s.Template == "" || MatchTemplate(s.Value, s.Template) {
		return apperror.SubstitutionMismatch{}, false
	}
	return apperror.SubstitutionMismatch{
		FieldName: s.FieldName,
		Problem:   apperror.ProblemMismatch,
		Template:  s.Template,
		Actual:    s.Value,
	}, true
}

// MatchTemplate reports whether value matches a path template. Templates
// are slash-separated segments where "*" matches exactly one non-empty
// segment, "**" matches one or more trailing segments, and anything else
// matches literally.
func MatchTemplate(value, template string) bool {
	return matchSegments(strings.Split(value, "/"), strings.Split(template, "/"))
}

func matchSegments(value, template []string) bool {
	if len(template) == 0 {
		return len(value) == 0
	}
	head, rest := template[0], template[1:]
	if head == "**" {
		// Greedy: consume at least one segment, then try every split for
		// the remaining template.
		for take := 1; take <= len(value); take++ {
			if allNonEmpty(value[:take]) && matchSegments(value[take:], rest) {
				return true
			}
		}
		return false
	}
	if len(value) == 0 {
		return false
	}
	if head == "*" {
		return value[0] != "" && matchSegments(value[1:], rest)
	}
	return value[0] == head && matchSegments(value[1:], rest)
}

func allNonEmpty(segments []string) bool {
	for _, s := range segments {
		if s == "" {
			return false
		}
	}
	return true
}
