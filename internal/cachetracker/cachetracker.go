// Package cachetracker implements the per-package build-directory cache
// tracker (C3): it remembers which build-tool cache variables have already
// been applied to a build directory and which are pending, and computes a
// stable fingerprint of the effective argument set.
//
// State is split across two files so that a configure step interrupted
// mid-run never poisons the next run's fingerprint: ConfirmPending moves
// pending into applied only after the configure step reports success.
package cachetracker

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/cmakex/cmakex-go/internal/argnorm"
	"github.com/cmakex/cmakex-go/internal/model"
)

const (
	appliedFileName = "cmakex_cache_tracker.json"
	pendingSuffix    = ".pending.json"
)

// Tracker manages the applied/pending cache-variable files for one build
// directory.
type Tracker struct {
	fs        afero.Fs
	buildDir  string
	log       logging.Logger
	toolchain string // path to a toolchain file whose content feeds the fingerprint, if any
}

type fileFormat struct {
	Args model.BuildArgs `json:"args"`
}

// New returns a Tracker rooted at buildDir. toolchainFile may be empty.
func New(fs afero.Fs, buildDir string, toolchainFile string, log logging.Logger) *Tracker {
	return &Tracker{fs: fs, buildDir: buildDir, toolchain: toolchainFile, log: log}
}

func (t *Tracker) appliedPath() string { return filepath.Join(t.buildDir, appliedFileName) }
func (t *Tracker) pendingPath() string {
	return filepath.Join(t.buildDir, appliedFileName+pendingSuffix)
}

// Applied returns the set of cache variables already applied to the build
// directory. A missing file is treated as "no prior build" (spec.md §7's
// local recovery rule), not an error.
func (t *Tracker) Applied() (model.BuildArgs, error) {
	return t.readOrEmpty(t.appliedPath())
}

// Pending returns the set of cache variables queued but not yet confirmed.
func (t *Tracker) Pending() (model.BuildArgs, error) {
	return t.readOrEmpty(t.pendingPath())
}

func (t *Tracker) readOrEmpty(path string) (model.BuildArgs, error) {
	b, err := afero.ReadFile(t.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "cannot read cache tracker file %s", path)
	}
	var ff fileFormat
	if err := json.Unmarshal(b, &ff); err != nil {
		// A corrupt cache file is recovered from the same way a missing one
		// is: treat it as an initial build rather than aborting the run.
		t.log.Debug("cache tracker file is corrupt, treating as initial build", "path", path, "error", err)
		return nil, nil
	}
	return ff.Args, nil
}

// AddPending merges args into the pending set (C3's add_pending) and
// returns the tentative effective argument set (applied ∪ pending,
// shadowed and renormalized) along with its fingerprint.
func (t *Tracker) AddPending(args model.BuildArgs) (Tentative, error) {
	applied, err := t.Applied()
	if err != nil {
		return Tentative{}, err
	}
	pending, err := t.Pending()
	if err != nil {
		return Tentative{}, err
	}
	pending = argnorm.Merge(pending, args)
	if err := t.write(t.pendingPath(), pending); err != nil {
		return Tentative{}, err
	}

	effective := argnorm.Merge(applied, pending)
	return t.tentative(effective)
}

// ConfirmPending moves the pending set into applied and persists it. Called
// only after the configure step that consumed AddPending's result reports
// success.
func (t *Tracker) ConfirmPending() error {
	applied, err := t.Applied()
	if err != nil {
		return err
	}
	pending, err := t.Pending()
	if err != nil {
		return err
	}
	merged := argnorm.Merge(applied, pending)
	if err := t.write(t.appliedPath(), merged); err != nil {
		return err
	}
	if err := t.fs.Remove(t.pendingPath()); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "cannot clear pending cache tracker file")
	}
	return nil
}

func (t *Tracker) write(path string, args model.BuildArgs) error {
	b, err := json.MarshalIndent(fileFormat{Args: args}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "cannot marshal cache tracker file")
	}
	if err := t.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "cannot create directory for %s", path)
	}
	tmp := path + ".tmp"
	if err := afero.WriteFile(t.fs, tmp, b, 0o644); err != nil {
		return errors.Wrapf(err, "cannot write %s", tmp)
	}
	if err := t.fs.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "cannot atomically replace %s", path)
	}
	return nil
}

// Tentative is the per-config effective argument set computed ahead of a
// build, plus its fingerprint (a digest of the effective args, prefixed by
// a digest of the toolchain file's content when one is set). The install
// DB does not store this fingerprint: descriptors are compared by their
// own FinalBuildArgs and Hash.
type Tentative struct {
	FinalArgs   model.BuildArgs
	Fingerprint string
}

func (t *Tracker) tentative(effective model.BuildArgs) (Tentative, error) {
	fp := effective.Fingerprint()
	if t.toolchain != "" {
		content, err := afero.ReadFile(t.fs, t.toolchain)
		if err == nil {
			fp = (model.BuildArgs{{Switch: "-toolchain-content", Value: string(content)}}).Fingerprint() + fp
		}
	}
	return Tentative{FinalArgs: effective, Fingerprint: fp}, nil
}
