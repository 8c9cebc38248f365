package engineerrors

import (
	"testing"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
)

func TestAsRecoversKind(t *testing.T) {
	cases := map[string]struct {
		reason string
		err    error
		want   Kind
	}{
		"UserInput":       {reason: "a malformed-input error recovers KindUserInput", err: UserInput("bad flag %q", "-X"), want: KindUserInput},
		"WorkspaceConflict": {reason: "an incompatible-merge error recovers KindWorkspaceConflict", err: WorkspaceConflict("conflict"), want: KindWorkspaceConflict},
		"DependencyCycle":  {reason: "a cycle error recovers KindDependencyCycle", err: DependencyCycle([]string{"a", "b", "a"}), want: KindDependencyCycle},
		"Clone":            {reason: "a wrapped clone failure recovers KindClone", err: Clone(errors.New("boom"), "zlib"), want: KindClone},
		"Build":            {reason: "a wrapped build failure recovers KindBuild", err: Build(errors.New("boom"), "zlib", "Release"), want: KindBuild},
		"StateInconsistency": {reason: "an invariant violation recovers KindStateInconsistency", err: StateInconsistency("impossible state"), want: KindStateInconsistency},
		"UpdateBlocked":    {reason: "a blocked update recovers KindUpdateBlocked", err: UpdateBlocked("dirty tree"), want: KindUpdateBlocked},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, ok := As(tc.err)
			if !ok {
				t.Fatalf("\n%s\nAs(...): expected a recoverable engine error, got none", tc.reason)
			}
			if got != tc.want {
				t.Errorf("\n%s\nAs(...): got %v, want %v", tc.reason, got, tc.want)
			}
		})
	}
}

func TestAsRejectsPlainError(t *testing.T) {
	if _, ok := As(errors.New("plain")); ok {
		t.Error("As(...): a plain error should not recover any engine Kind")
	}
}

func TestWrapNilIsNil(t *testing.T) {
	if err := wrap(KindUserInput, nil); err != nil {
		t.Errorf("wrap(kind, nil): expected nil, got %v", err)
	}
}

func TestErrorUnwraps(t *testing.T) {
	inner := errors.New("boom")
	err := Clone(inner, "zlib")
	if errors.Cause(err).Error() != inner.Error() {
		t.Errorf("Unwrap chain broken: got cause %v, want %v", errors.Cause(err), inner)
	}
}
