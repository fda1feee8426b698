package graph

import (
	"errors"
	"fmt"
	"strings"

	"joinplan/internal/query"
)

// Sentinel errors for errors.Is matching. The typed errors below carry the
// causal data; these exist so callers can classify without string matching.
var (
	ErrQualifierConflict     = errors.New("joinplan: join qualifier conflict")
	ErrPreloadConflict       = errors.New("joinplan: preload requirement conflict")
	ErrBindingCollision      = errors.New("joinplan: binding name collision")
	ErrInvariant             = errors.New("joinplan: graph invariant violated")
	ErrRequiredUnderOptional = errors.New("joinplan: required join beneath optional path")
	ErrUnknownPath           = errors.New("joinplan: unknown association path")
	ErrAmbiguousField        = errors.New("joinplan: ambiguous field reference")
	ErrMalformedPath         = errors.New("joinplan: malformed path specification")
	ErrJoinMismatch          = errors.New("joinplan: existing join is incompatible")
	ErrNotJoined             = errors.New("joinplan: association not joined")
	ErrFilterRetrofit        = errors.New("joinplan: cannot attach filters to an existing join")
)

func renderPath(path []string) string {
	if len(path) == 0 {
		return "(root)"
	}
	return strings.Join(path, ".")
}

// QualifierConflictError reports two irreconcilable join qualifiers recorded
// for the same association path.
type QualifierConflictError struct {
	Path []string
	A, B query.Qualifier
}

func (e *QualifierConflictError) Error() string {
	return fmt.Sprintf("joinplan: conflicting join qualifiers :%s and :%s for %q", e.A, e.B, renderPath(e.Path))
}

func (e *QualifierConflictError) Is(err error) bool { return err == ErrQualifierConflict }

// PreloadConflictError reports irreconcilable preload requirements for the
// same association path.
type PreloadConflictError struct {
	Path   []string
	Reason string
}

func (e *PreloadConflictError) Error() string {
	return fmt.Sprintf("joinplan: conflicting preload requirements for %q: %s", renderPath(e.Path), e.Reason)
}

func (e *PreloadConflictError) Is(err error) bool { return err == ErrPreloadConflict }

// BindingCollisionError reports one derived binding name claimed by two
// different target relations.
type BindingCollisionError struct {
	Path             []string
	Binding          string
	TargetA, TargetB string
}

func (e *BindingCollisionError) Error() string {
	return fmt.Sprintf("joinplan: binding %q at %q maps to both relation %q and relation %q",
		e.Binding, renderPath(e.Path), e.TargetA, e.TargetB)
}

func (e *BindingCollisionError) Is(err error) bool { return err == ErrBindingCollision }

// InvariantError reports an internally inconsistent node state.
type InvariantError struct {
	Path   []string
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("joinplan: invariant violated at %q: %s", renderPath(e.Path), e.Reason)
}

func (e *InvariantError) Is(err error) bool { return err == ErrInvariant }

// RequiredUnderOptionalError reports an inner-join marker beneath a hop
// already locked to a left join. Optionality is infectious downward; a
// required marker cannot make a branch under an optional path mandatory.
type RequiredUnderOptionalError struct {
	Path  []string
	Field string
}

func (e *RequiredUnderOptionalError) Error() string {
	return fmt.Sprintf("joinplan: field %q at %q requires an inner join beneath an optional (left) path",
		e.Field, renderPath(e.Path))
}

func (e *RequiredUnderOptionalError) Is(err error) bool { return err == ErrRequiredUnderOptional }

// UnknownPathError reports a reference to a path not present in the graph or
// not resolvable as an association.
type UnknownPathError struct {
	Root string
	Path []string
}

func (e *UnknownPathError) Error() string {
	return fmt.Sprintf("joinplan: unknown association path %q from relation %q", renderPath(e.Path), e.Root)
}

func (e *UnknownPathError) Is(err error) bool { return err == ErrUnknownPath }

// AmbiguousFieldError reports a name-only lookup that matched several paths.
type AmbiguousFieldError struct {
	Field string
	Paths [][]string
}

func (e *AmbiguousFieldError) Error() string {
	rendered := make([]string, len(e.Paths))
	for i, p := range e.Paths {
		rendered[i] = renderPath(p)
	}
	return fmt.Sprintf("joinplan: field %q is ambiguous, present at %s", e.Field, strings.Join(rendered, ", "))
}

func (e *AmbiguousFieldError) Is(err error) bool { return err == ErrAmbiguousField }

// MalformedPathError reports an unparseable path specification.
type MalformedPathError struct {
	Spec   string
	Reason string
}

func (e *MalformedPathError) Error() string {
	return fmt.Sprintf("joinplan: malformed path %q: %s", e.Spec, e.Reason)
}

func (e *MalformedPathError) Is(err error) bool { return err == ErrMalformedPath }

// JoinMismatchError reports a live-query binding that exists but does not
// match the association join the graph expects.
type JoinMismatchError struct {
	Binding  string
	Reason   string
	Expected string
	Actual   string
}

func (e *JoinMismatchError) Error() string {
	msg := fmt.Sprintf("joinplan: existing join %q is incompatible: %s", e.Binding, e.Reason)
	if e.Expected != "" || e.Actual != "" {
		msg += fmt.Sprintf(" (expected %s, got %s)", e.Expected, e.Actual)
	}
	return msg
}

func (e *JoinMismatchError) Is(err error) bool { return err == ErrJoinMismatch }

// NotJoinedError reports a through-join preload for an association that is
// not effectively joined in the live query.
type NotJoinedError struct {
	Path    []string
	Binding string
}

func (e *NotJoinedError) Error() string {
	return fmt.Sprintf("joinplan: association %q (binding %q) is not joined; join it explicitly or preload it with a separate query",
		renderPath(e.Path), e.Binding)
}

func (e *NotJoinedError) Is(err error) bool { return err == ErrNotJoined }

// FilterRetrofitError reports on-join filters requested for a join that
// already exists; filters cannot be retrofitted without changing semantics.
type FilterRetrofitError struct {
	Binding string
	Path    []string
}

func (e *FilterRetrofitError) Error() string {
	return fmt.Sprintf("joinplan: join %q for %q already exists and cannot take additional on-join filters",
		e.Binding, renderPath(e.Path))
}

func (e *FilterRetrofitError) Is(err error) bool { return err == ErrFilterRetrofit }
