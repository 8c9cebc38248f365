// Package layout computes the on-disk paths the engine reads and writes
// under a binary dir (spec.md §6's "on-disk layout inside the binary
// dir"), and persists the engine-wide facts file cmakex_cache.json,
// grounded on the cachetracker/installdb atomic-rename pattern.
package layout

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/crossplane/crossplane-runtime/pkg/errors"

	"github.com/cmakex/cmakex-go/internal/model"
)

// Paths computes every directory the engine touches for one run.
type Paths struct {
	BinaryDir      string
	DepsSourceDir  string
	DepsBuildDir   string
	DepsInstallDir string
	SingleBuildDir bool
}

// New derives Paths from an EngineConfig, defaulting the deps-source,
// deps-build, and deps-install trio to subdirectories of the binary dir
// when the config leaves them unset.
func New(cfg model.EngineConfig) Paths {
	p := Paths{
		BinaryDir:      cfg.BinaryDir,
		DepsSourceDir:  cfg.DepsSourceDir,
		DepsBuildDir:   cfg.DepsBuildDir,
		DepsInstallDir: cfg.DepsInstallDir,
		SingleBuildDir: cfg.SingleBuildDir,
	}
	if p.DepsSourceDir == "" {
		p.DepsSourceDir = filepath.Join(cfg.BinaryDir, "_deps")
	}
	if p.DepsBuildDir == "" {
		p.DepsBuildDir = filepath.Join(cfg.BinaryDir, "_deps-build")
	}
	if p.DepsInstallDir == "" {
		p.DepsInstallDir = filepath.Join(cfg.BinaryDir, "_deps-install")
	}
	return p
}

// CloneDir is where pkg's source is cloned.
func (p Paths) CloneDir(pkg model.PackageName) string {
	return filepath.Join(p.DepsSourceDir, string(pkg))
}

// BuildDir is where pkg is configured and built for cfg. When
// SingleBuildDir is set every config shares one directory (the build
// driver distinguishes configs itself, as multi-config generators do);
// otherwise each config gets its own subdirectory.
func (p Paths) BuildDir(pkg model.PackageName, cfg model.ConfigName) string {
	if p.SingleBuildDir {
		return filepath.Join(p.DepsBuildDir, string(pkg))
	}
	return filepath.Join(p.DepsBuildDir, string(pkg), cfg.String())
}

// InstallDir is the shared prefix every package installs into.
func (p Paths) InstallDir() string {
	return p.DepsInstallDir
}

// HijackDir is where find-module shadowing shims are written.
func (p Paths) HijackDir() string {
	return filepath.Join(p.DepsInstallDir, "_cmakex", "hijack")
}

// HijackModulePath is where a find-module shim for module (e.g. "ZLIB"
// for a FindZLIB.cmake) lives.
func (p Paths) HijackModulePath(module string) string {
	return filepath.Join(p.HijackDir(), "Find"+module+".cmake")
}

// WriteHijackModule writes a find-module shim that forces the native
// build tool to prefer pkg's own exported config file over a
// system-provided find-module of the same name (spec.md's "hijack
// module").
func WriteHijackModule(fs afero.Fs, p Paths, pkg model.PackageName, module string) error {
	path := p.HijackModulePath(module)
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "cannot create hijack module directory for %s", module)
	}
	content := "# Generated by cmakex. Defers to " + string(pkg) + "'s own exported config file.\n" +
		"find_package(" + string(pkg) + " CONFIG REQUIRED)\n"
	tmp := path + ".tmp"
	if err := afero.WriteFile(fs, tmp, []byte(content), 0o644); err != nil {
		return errors.Wrapf(err, "cannot write %s", tmp)
	}
	return fs.Rename(tmp, path)
}

// CacheFile is the path to the engine-wide facts file.
func (p Paths) CacheFile() string {
	return filepath.Join(p.BinaryDir, "cmakex_cache.json")
}

// CacheFacts are the engine-wide facts recorded in cmakex_cache.json on
// the first run in a binary dir and checked for consistency afterwards.
type CacheFacts struct {
	GeneratorKind    string `json:"generator_kind"`
	PerConfigBinDirs bool   `json:"per_config_bin_dirs"`
	HomeDir          string `json:"home_dir"`
}

// LoadCacheFacts reads the facts file, returning the zero value and no
// error if it doesn't exist yet (first run in this binary dir).
func LoadCacheFacts(fs afero.Fs, p Paths) (CacheFacts, bool, error) {
	b, err := afero.ReadFile(fs, p.CacheFile())
	if err != nil {
		if os.IsNotExist(err) {
			return CacheFacts{}, false, nil
		}
		return CacheFacts{}, false, errors.Wrap(err, "cannot read cmakex_cache.json")
	}
	var f CacheFacts
	if err := json.Unmarshal(b, &f); err != nil {
		return CacheFacts{}, false, errors.Wrap(err, "cannot parse cmakex_cache.json")
	}
	return f, true, nil
}

// SaveCacheFacts atomically replaces the facts file.
func SaveCacheFacts(fs afero.Fs, p Paths, f CacheFacts) error {
	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return errors.Wrap(err, "cannot marshal cmakex_cache.json")
	}
	if err := fs.MkdirAll(p.BinaryDir, 0o755); err != nil {
		return errors.Wrap(err, "cannot create binary dir")
	}
	tmp := p.CacheFile() + ".tmp"
	if err := afero.WriteFile(fs, tmp, b, 0o644); err != nil {
		return errors.Wrap(err, "cannot write cmakex_cache.json")
	}
	return fs.Rename(tmp, p.CacheFile())
}

// EnsureConsistentBinDirsPolicy checks a freshly loaded (or default)
// CacheFacts against the run's single_build_dir setting, erroring if a
// prior run in this binary dir recorded the opposite per-config-bin-dirs
// policy: switching it after packages were already built there would
// make existing build directories unreadable to the other layout.
func EnsureConsistentBinDirsPolicy(existing CacheFacts, found bool, singleBuildDir bool) error {
	if !found {
		return nil
	}
	wantPerConfig := !singleBuildDir
	if existing.PerConfigBinDirs != wantPerConfig {
		return errors.Errorf("binary dir was previously built with per_config_bin_dirs=%v, cannot switch to %v without a clean binary dir", existing.PerConfigBinDirs, wantPerConfig)
	}
	return nil
}
