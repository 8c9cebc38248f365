// Package argnorm implements the build-tool argument normalizer (C1):
// canonicalizing build-tool arguments so that requests for the same
// package can be compared structurally instead of string-by-string.
package argnorm

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/crossplane/crossplane-runtime/pkg/errors"

	"github.com/cmakex/cmakex-go/internal/model"
)

// Normalize applies the rules of spec.md §4.1 to a raw argument list:
// joining adjacent short forms, absolutizing relative path values against
// cwd, rewriting backslashes to forward slashes in path values, reducing
// by (switch, name) shadowing (later wins), and emitting a canonical,
// key-sorted order.
func Normalize(raw []string, cwd string) (model.BuildArgs, error) {
	parsed, err := parseAll(raw)
	if err != nil {
		return nil, err
	}
	parsed = joinShortForms(parsed)

	byKey := map[string]model.BuildArg{}
	var order []string
	for _, a := range parsed {
		a = absolutizePath(a, cwd)
		key := a.Key()
		if _, seen := byKey[key]; !seen {
			order = append(order, key)
		}
		byKey[key] = a
	}
	sort.Strings(order)

	out := make(model.BuildArgs, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[k])
	}
	return out, nil
}

// token is an intermediate form before short-form joining: a raw token is
// either a standalone "-DNAME:TYPE=VALUE"-shaped argument, or one half of a
// two-token short form like "-G" "Ninja".
type token struct {
	arg      model.BuildArg
	combined bool // true once this token has absorbed its pair
}

func parseAll(raw []string) ([]model.BuildArg, error) {
	out := make([]model.BuildArg, 0, len(raw))
	for _, r := range raw {
		a, err := parseOne(r)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// parseOne decodes a single "-D<name>[:<type>]=<value>" style argument, or
// a bare switch like "-G" or "-Wno-dev" with no name/value.
func parseOne(raw string) (model.BuildArg, error) {
	if raw == "" {
		return model.BuildArg{}, errors.New("empty build argument")
	}
	if !strings.HasPrefix(raw, "-") {
		// A bare value destined to be joined with the preceding short-form
		// switch; carries no key of its own until joined.
		return model.BuildArg{Switch: "", Name: "", Value: raw}, nil
	}
	if strings.HasPrefix(raw, "-D") {
		rest := raw[2:]
		eq := strings.IndexByte(rest, '=')
		if eq < 0 {
			return model.BuildArg{Switch: "-D", Name: rest}, nil
		}
		nameType := rest[:eq]
		value := rest[eq+1:]
		if colon := strings.IndexByte(nameType, ':'); colon >= 0 {
			return model.BuildArg{Switch: "-D", Name: nameType[:colon], Type: nameType[colon+1:], Value: value}, nil
		}
		return model.BuildArg{Switch: "-D", Name: nameType, Value: value}, nil
	}
	if strings.HasPrefix(raw, "-U") {
		return model.BuildArg{Switch: "-U", Name: raw[2:]}, nil
	}
	// Short-form switches like "-G", "-A", "-T" take their value as the
	// following token; unset/equal forms like "--toolchain=x" are
	// self-contained.
	if eq := strings.IndexByte(raw, '='); eq >= 0 && strings.HasPrefix(raw, "--") {
		return model.BuildArg{Switch: raw[:eq], Value: raw[eq+1:]}, nil
	}
	return model.BuildArg{Switch: raw}, nil
}

// joinShortForms merges an adjacent (switch-only, bare-value) pair into one
// argument, per spec.md §4.1(a).
func joinShortForms(parsed []model.BuildArg) []model.BuildArg {
	out := make([]model.BuildArg, 0, len(parsed))
	for i := 0; i < len(parsed); i++ {
		a := parsed[i]
		isShortSwitch := a.Switch != "" && a.Name == "" && a.Value == "" && a.Switch != "-D" && a.Switch != "-U"
		if isShortSwitch && i+1 < len(parsed) {
			next := parsed[i+1]
			if next.Switch == "" && next.Name == "" {
				out = append(out, model.BuildArg{Switch: a.Switch, Value: next.Value})
				i++
				continue
			}
		}
		out = append(out, a)
	}
	return out
}

// absolutizePath makes relative path-valued arguments absolute against cwd
// and rewrites backslashes to forward slashes, per spec.md §4.1(b). Only
// arguments whose name looks path-shaped (ends in _DIR, _PATH, or equals
// well-known CMake path variables) are treated as paths; anything else is
// left untouched so that e.g. -DVERSION=1.2.3 isn't mangled.
func absolutizePath(a model.BuildArg, cwd string) model.BuildArg {
	if a.Value == "" || !looksLikePathArg(a) {
		return a
	}
	v := strings.ReplaceAll(a.Value, `\`, "/")
	if !filepath.IsAbs(v) && cwd != "" {
		v = filepath.ToSlash(filepath.Join(cwd, v))
	}
	a.Value = v
	return a
}

func looksLikePathArg(a model.BuildArg) bool {
	if a.Switch == "-G" || a.Switch == "-A" || a.Switch == "-T" {
		return false
	}
	n := strings.ToUpper(a.Name)
	return strings.HasSuffix(n, "_DIR") || strings.HasSuffix(n, "_PATH") ||
		n == "CMAKE_INSTALL_PREFIX" || n == "CMAKE_TOOLCHAIN_FILE" || n == "CMAKE_PREFIX_PATH"
}

// Incompatible reports the subset of `want`'s arguments that `have` cannot
// satisfy: a key present in both with differing values, or an explicit
// "-U<name>" in one list opposite a "-D<name>=..." for the same name in the
// other. `have` is compatible with (a superset of the constraints of)
// `want` when the returned list is empty.
func Incompatible(have, want model.BuildArgs) model.BuildArgs {
	haveByName := map[string]model.BuildArg{}
	haveUnset := map[string]bool{}
	for _, a := range have {
		if a.Switch == "-U" {
			haveUnset[a.Name] = true
			continue
		}
		haveByName[a.Key()] = a
	}

	var bad model.BuildArgs
	for _, w := range want {
		if w.Switch == "-U" {
			if _, ok := haveByName["-D:"+w.Name]; ok {
				bad = append(bad, w)
			}
			continue
		}
		if haveUnset[w.Name] {
			bad = append(bad, w)
			continue
		}
		if h, ok := haveByName[w.Key()]; ok {
			if h.Value != w.Value || h.Type != w.Type {
				bad = append(bad, w)
			}
			continue
		}
		// want's key doesn't appear in have at all: not a conflict by
		// itself (have may simply not have an opinion), so it doesn't
		// belong in the incompatibility set.
	}
	return bad
}

// Compatible reports whether have satisfies every constraint in want (see
// Incompatible).
func Compatible(have, want model.BuildArgs) bool {
	return len(Incompatible(have, want)) == 0
}

// Merge concatenates two argument lists and renormalizes (re-sorts, applies
// shadowing) without touching paths a second time (values are assumed
// already normalized).
func Merge(a, b model.BuildArgs) model.BuildArgs {
	byKey := map[string]model.BuildArg{}
	var order []string
	for _, arg := range append(append(model.BuildArgs{}, a...), b...) {
		if _, seen := byKey[arg.Key()]; !seen {
			order = append(order, arg.Key())
		}
		byKey[arg.Key()] = arg
	}
	sort.Strings(order)
	out := make(model.BuildArgs, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[k])
	}
	return out
}
