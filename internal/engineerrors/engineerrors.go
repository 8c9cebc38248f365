// Package engineerrors implements the engine's error taxonomy (spec.md §7)
// on top of crossplane-runtime's errors package: each kind is a typed
// wrapper a caller can recover with errors.As, instead of matching on
// message text.
package engineerrors

import (
	"github.com/crossplane/crossplane-runtime/pkg/errors"
)

// Kind identifies which row of the spec.md §7 taxonomy an error belongs to.
type Kind string

const (
	KindUserInput         Kind = "UserInputError"
	KindWorkspaceConflict Kind = "WorkspaceConflict"
	KindDependencyCycle   Kind = "DependencyCycle"
	KindClone             Kind = "CloneError"
	KindBuild             Kind = "BuildError"
	KindStateInconsistency Kind = "StateInconsistency"
	KindUpdateBlocked     Kind = "UpdateBlocked"
)

// Error wraps an underlying error with the taxonomy kind it belongs to.
type Error struct {
	kind Kind
	err  error
}

func (e *Error) Error() string { return e.err.Error() }
func (e *Error) Unwrap() error { return e.err }

// Kind reports which taxonomy row produced this error.
func (e *Error) Kind() Kind { return e.kind }

func wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, err: err}
}

// UserInput wraps a malformed command line or dependency script error.
func UserInput(msg string, args ...any) error {
	return wrap(KindUserInput, errors.Errorf(msg, args...))
}

// WorkspaceConflict wraps an incompatible-merge error (spec.md §4.6).
func WorkspaceConflict(msg string, args ...any) error {
	return wrap(KindWorkspaceConflict, errors.Errorf(msg, args...))
}

// DependencyCycle wraps a circular-dependency error. chain should list every
// package name in the cycle, in walk order.
func DependencyCycle(chain []string) error {
	return wrap(KindDependencyCycle, errors.Errorf("circular dependency: %v", chain))
}

// Clone wraps a failure surfaced by the clone driver.
func Clone(err error, pkg string) error {
	return wrap(KindClone, errors.Wrapf(err, "cannot clone package %q", pkg))
}

// Build wraps a failure surfaced by the build driver.
func Build(err error, pkg string, config string) error {
	return wrap(KindBuild, errors.Wrapf(err, "cannot build package %q (config %q)", pkg, config))
}

// StateInconsistency wraps an invariant violation detected mid-run.
func StateInconsistency(msg string, args ...any) error {
	return wrap(KindStateInconsistency, errors.Errorf(msg, args...))
}

// UpdateBlocked wraps an update-policy violation. Demotion to a warning
// under if_* policies is the resolver's decision, not this constructor's;
// this always constructs the fatal form.
func UpdateBlocked(msg string, args ...any) error {
	return wrap(KindUpdateBlocked, errors.Errorf(msg, args...))
}

// As recovers the engine Kind of err, if any.
func As(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.kind, true
	}
	return "", false
}
