// Package installdb implements the install database (C2): it persists,
// per installed package-config, the descriptor used to build it, and
// answers whether a new request is already satisfied by it.
//
// State lives under <deps-install>/_cmakex/pkg_db/<PackageName>/<ConfigName>.desc,
// one JSON file per installed config, grounded on the LocalCache pattern
// (an afero.Fs plus a root directory) the teacher uses for its own
// on-disk schema cache.
package installdb

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/crossplane/crossplane-runtime/pkg/errors"

	"github.com/cmakex/cmakex-go/internal/model"
)

const dbSubdir = "_cmakex/pkg_db"

// DB is the install database rooted at a deps-install prefix path.
type DB struct {
	fs   afero.Fs
	root string // the deps-install directory this DB is rooted at
}

// New returns a DB for the given deps-install directory.
func New(fs afero.Fs, depsInstallDir string) *DB {
	return &DB{fs: fs, root: depsInstallDir}
}

func (db *DB) dir(pkg model.PackageName) string {
	return filepath.Join(db.root, dbSubdir, string(pkg))
}

func (db *DB) descPath(pkg model.PackageName, cfg model.ConfigName) string {
	return filepath.Join(db.dir(pkg), cfg.String()+".desc")
}

// Status is the outcome of Evaluate for one config.
type Status string

const (
	StatusNotInstalled        Status = "not_installed"
	StatusSatisfied           Status = "satisfied"
	StatusDifferentButSatisfied Status = "different_but_satisfied"
	StatusDifferent           Status = "different"
)

// Evaluation is one config's outcome from Evaluate.
type Evaluation struct {
	Status                Status
	IncompatibleArgsLocal model.BuildArgs // differences that matter for a local rebuild
	IncompatibleArgsAny   model.BuildArgs // differences that matter even accepting a prebuilt
	Installed             *model.InstalledConfigDescriptor
}

// cosmeticArgNames are the build-arg keys the engine itself injects or
// whose tail commonly varies across otherwise-identical installs; a
// difference confined to these keys downgrades "different" to
// "different_but_satisfied" (spec.md §4.2, Open Question 2). This set is
// deliberately small and documented here rather than left implicit.
var cosmeticArgNames = map[string]struct{}{
	"-D:CMAKE_INSTALL_PREFIX": {},
	"-D:CMAKE_PREFIX_PATH":    {},
	"-D:CMAKE_MODULE_PATH":    {},
}

func isCosmetic(arg model.BuildArg) bool {
	_, ok := cosmeticArgNames[arg.Key()]
	return ok
}

// Evaluate reports, per requested config, whether the currently-requested
// final build args and dependency set are satisfied by what's on disk.
func (db *DB) Evaluate(pkg model.PackageName, subdirectory string, perConfigFinalArgs map[model.ConfigName]model.BuildArgs, requestedDeps map[model.PackageName]struct{}) (map[model.ConfigName]Evaluation, error) {
	out := map[model.ConfigName]Evaluation{}
	for cfg, wantArgs := range perConfigFinalArgs {
		desc, found, err := db.get(pkg, cfg)
		if err != nil {
			return nil, err
		}
		out[cfg] = evaluateOne(desc, found, subdirectory, wantArgs, requestedDeps)
	}
	return out, nil
}

func evaluateOne(desc model.InstalledConfigDescriptor, found bool, subdirectory string, wantArgs model.BuildArgs, requestedDeps map[model.PackageName]struct{}) Evaluation {
	if !found {
		return Evaluation{Status: StatusNotInstalled}
	}
	if desc.Subdirectory != subdirectory {
		return Evaluation{Status: StatusDifferent, Installed: &desc}
	}
	for dep := range requestedDeps {
		if _, ok := desc.DependencyFingerprints[dep]; !ok {
			return Evaluation{Status: StatusDifferent, Installed: &desc}
		}
	}

	var cosmeticOnly, hardDiff model.BuildArgs
	for _, diff := range diffArgs(desc.FinalBuildArgs, wantArgs) {
		if isCosmetic(diff) {
			cosmeticOnly = append(cosmeticOnly, diff)
		} else {
			hardDiff = append(hardDiff, diff)
		}
	}
	switch {
	case len(hardDiff) > 0:
		return Evaluation{Status: StatusDifferent, IncompatibleArgsLocal: hardDiff, IncompatibleArgsAny: append(append(model.BuildArgs{}, hardDiff...), cosmeticOnly...), Installed: &desc}
	case len(cosmeticOnly) > 0:
		return Evaluation{Status: StatusDifferentButSatisfied, IncompatibleArgsAny: cosmeticOnly, Installed: &desc}
	default:
		return Evaluation{Status: StatusSatisfied, Installed: &desc}
	}
}

// diffArgs returns every argument in want whose key is missing from have or
// whose value/type differs.
func diffArgs(have, want model.BuildArgs) model.BuildArgs {
	byKey := map[string]model.BuildArg{}
	for _, a := range have {
		byKey[a.Key()] = a
	}
	var out model.BuildArgs
	for _, w := range want {
		h, ok := byKey[w.Key()]
		if !ok || h.Value != w.Value || h.Type != w.Type {
			out = append(out, w)
		}
	}
	return out
}

// Record persists a descriptor, atomically replacing any prior one for the
// same (package, config).
func (db *DB) Record(desc model.InstalledConfigDescriptor) error {
	path := db.descPath(desc.Package, desc.Config)
	if err := db.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "cannot create install db directory for %s", desc.Package)
	}
	b, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "cannot marshal installed descriptor")
	}
	tmp := path + ".tmp"
	if err := afero.WriteFile(db.fs, tmp, b, 0o644); err != nil {
		return errors.Wrapf(err, "cannot write %s", tmp)
	}
	if err := db.fs.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "cannot atomically replace %s", path)
	}
	return nil
}

func (db *DB) get(pkg model.PackageName, cfg model.ConfigName) (model.InstalledConfigDescriptor, bool, error) {
	b, err := afero.ReadFile(db.fs, db.descPath(pkg, cfg))
	if err != nil {
		if os.IsNotExist(err) {
			return model.InstalledConfigDescriptor{}, false, nil
		}
		return model.InstalledConfigDescriptor{}, false, errors.Wrapf(err, "cannot read descriptor for %s/%s", pkg, cfg)
	}
	var desc model.InstalledConfigDescriptor
	if err := json.Unmarshal(b, &desc); err != nil {
		return model.InstalledConfigDescriptor{}, false, errors.Wrapf(err, "cannot parse descriptor for %s/%s", pkg, cfg)
	}
	return desc, true, nil
}

// TryGetInstalledPkgAllConfigs loads every config descriptor recorded for
// pkg under any of the given prefix paths, checking each DB in turn.
func TryGetInstalledPkgAllConfigs(fs afero.Fs, pkg model.PackageName, prefixPaths []string) (model.InstalledPackage, error) {
	for _, p := range prefixPaths {
		db := New(fs, p)
		entries, err := afero.ReadDir(fs, db.dir(pkg))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.Wrapf(err, "cannot list configs for %s under %s", pkg, p)
		}
		result := model.InstalledPackage{}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			cfg := model.NormalizeConfigName(trimDescSuffix(e.Name()))
			desc, found, err := db.get(pkg, cfg)
			if err != nil {
				return nil, err
			}
			if found {
				result[cfg] = desc
			}
		}
		if len(result) > 0 {
			return result, nil
		}
	}
	return nil, nil
}

// QuickCheckOnPrefixPaths returns the single prefix path on which pkg is
// detectable, and the configs installed there. It fails if more than one
// prefix path contains the package (spec.md's mutual-exclusion concerns are
// about local clone vs. prefix install, but the prefix-path probe itself
// must also be unambiguous across several prefix paths).
func QuickCheckOnPrefixPaths(fs afero.Fs, pkg model.PackageName, prefixPaths []string) (string, []model.ConfigName, error) {
	var hitPath string
	var hitConfigs []model.ConfigName
	for _, p := range prefixPaths {
		db := New(fs, p)
		entries, err := afero.ReadDir(fs, db.dir(pkg))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", nil, errors.Wrapf(err, "cannot probe %s under %s", pkg, p)
		}
		if len(entries) == 0 {
			continue
		}
		if hitPath != "" {
			return "", nil, errors.Errorf("package %q found on more than one prefix path: %q and %q", pkg, hitPath, p)
		}
		hitPath = p
		for _, e := range entries {
			if !e.IsDir() {
				hitConfigs = append(hitConfigs, model.NormalizeConfigName(trimDescSuffix(e.Name())))
			}
		}
	}
	return hitPath, hitConfigs, nil
}

func trimDescSuffix(name string) string {
	const suffix = ".desc"
	if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
		return name[:len(name)-len(suffix)]
	}
	return name
}
