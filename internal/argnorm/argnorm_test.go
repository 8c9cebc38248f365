package argnorm

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cmakex/cmakex-go/internal/model"
)

func TestNormalize(t *testing.T) {
	type args struct {
		raw []string
		cwd string
	}
	type want struct {
		out model.BuildArgs
		err bool
	}
	cases := map[string]struct {
		reason string
		args   args
		want   want
	}{
		"EmptyIsValid": {
			reason: "An empty argument list normalizes to an empty set.",
			args:   args{raw: nil, cwd: "/proj"},
			want:   want{out: model.BuildArgs{}},
		},
		"SortsByKey": {
			reason: "Output is sorted by (switch, name) regardless of input order.",
			args:   args{raw: []string{"-DFOO=1", "-DBAR=2"}, cwd: "/proj"},
			want: want{out: model.BuildArgs{
				{Switch: "-D", Name: "BAR", Value: "2"},
				{Switch: "-D", Name: "FOO", Value: "1"},
			}},
		},
		"LaterShadowsEarlier": {
			reason: "A later occurrence of the same (switch, name) replaces an earlier one.",
			args:   args{raw: []string{"-DFOO=1", "-DFOO=2"}, cwd: "/proj"},
			want:   want{out: model.BuildArgs{{Switch: "-D", Name: "FOO", Value: "2"}}},
		},
		"JoinsShortForm": {
			reason: "A bare switch like -G joins with the following bare value.",
			args:   args{raw: []string{"-G", "Ninja"}, cwd: "/proj"},
			want:   want{out: model.BuildArgs{{Switch: "-G", Value: "Ninja"}}},
		},
		"AbsolutizesPathArg": {
			reason: "A relative value for a _DIR-suffixed name is made absolute against cwd.",
			args:   args{raw: []string{"-DFOO_DIR=sub/dir"}, cwd: "/proj"},
			want:   want{out: model.BuildArgs{{Switch: "-D", Name: "FOO_DIR", Value: "/proj/sub/dir"}}},
		},
		"LeavesNonPathArgAlone": {
			reason: "A value that isn't path-shaped by name is left untouched.",
			args:   args{raw: []string{"-DVERSION=1.2.3"}, cwd: "/proj"},
			want:   want{out: model.BuildArgs{{Switch: "-D", Name: "VERSION", Value: "1.2.3"}}},
		},
		"RewritesBackslashes": {
			reason: "Backslashes in a path-shaped value become forward slashes.",
			args:   args{raw: []string{`-DCMAKE_INSTALL_PREFIX=C:\out\dir`}, cwd: ""},
			want:   want{out: model.BuildArgs{{Switch: "-D", Name: "CMAKE_INSTALL_PREFIX", Value: "C:/out/dir"}}},
		},
		"EmptyTokenErrors": {
			reason: "An empty raw token is malformed input.",
			args:   args{raw: []string{""}, cwd: "/proj"},
			want:   want{err: true},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := Normalize(tc.args.raw, tc.args.cwd)
			if tc.want.err {
				if err == nil {
					t.Fatalf("\n%s\nNormalize(...): expected an error, got none", tc.reason)
				}
				return
			}
			if err != nil {
				t.Fatalf("\n%s\nNormalize(...): unexpected error: %v", tc.reason, err)
			}
			if diff := cmp.Diff(tc.want.out, got); diff != "" {
				t.Errorf("\n%s\nNormalize(...): -want, +got:\n%s", tc.reason, diff)
			}
		})
	}
}

func TestIncompatible(t *testing.T) {
	cases := map[string]struct {
		reason     string
		have, want model.BuildArgs
		wantBad    model.BuildArgs
	}{
		"SameValueCompatible": {
			reason:  "An identical key/value pair is never incompatible.",
			have:    model.BuildArgs{{Switch: "-D", Name: "FOO", Value: "1"}},
			want:    model.BuildArgs{{Switch: "-D", Name: "FOO", Value: "1"}},
			wantBad: nil,
		},
		"DifferentValueIncompatible": {
			reason:  "A differing value for the same key is incompatible.",
			have:    model.BuildArgs{{Switch: "-D", Name: "FOO", Value: "1"}},
			want:    model.BuildArgs{{Switch: "-D", Name: "FOO", Value: "2"}},
			wantBad: model.BuildArgs{{Switch: "-D", Name: "FOO", Value: "2"}},
		},
		"AbsentKeyNotIncompatible": {
			reason:  "have having no opinion on a key isn't a conflict.",
			have:    nil,
			want:    model.BuildArgs{{Switch: "-D", Name: "FOO", Value: "1"}},
			wantBad: nil,
		},
		"UnsetOpposesDefine": {
			reason:  "An explicit -U in want opposes a -D of the same name in have.",
			have:    model.BuildArgs{{Switch: "-D", Name: "FOO", Value: "1"}},
			want:    model.BuildArgs{{Switch: "-U", Name: "FOO"}},
			wantBad: model.BuildArgs{{Switch: "-U", Name: "FOO"}},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got := Incompatible(tc.have, tc.want)
			if diff := cmp.Diff(tc.wantBad, got); diff != "" {
				t.Errorf("\n%s\nIncompatible(...): -want, +got:\n%s", tc.reason, diff)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	raw := []string{"-DFOO=1", "-G", "Ninja", "-DBAR_DIR=rel"}
	first, err := Normalize(raw, "/proj")
	if err != nil {
		t.Fatalf("Normalize(...): unexpected error: %v", err)
	}
	reRaw := make([]string, 0, len(first))
	for _, a := range first {
		if a.Name == "" {
			reRaw = append(reRaw, a.Switch, a.Value)
			continue
		}
		if a.Type != "" {
			reRaw = append(reRaw, a.Switch+a.Name+":"+a.Type+"="+a.Value)
		} else {
			reRaw = append(reRaw, a.Switch+a.Name+"="+a.Value)
		}
	}
	second, err := Normalize(reRaw, "/proj")
	if err != nil {
		t.Fatalf("Normalize(...) on renormalized input: unexpected error: %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("Normalize is not idempotent: -first, +second:\n%s", diff)
	}
}
