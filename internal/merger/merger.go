// Package merger implements the request merger (C6): combining multiple
// requests naming the same package into one coherent request, or
// rejecting incompatible ones, per spec.md §4.6.
package merger

import (
	"github.com/crossplane/crossplane-runtime/pkg/errors"

	"github.com/cmakex/cmakex-go/internal/argnorm"
	"github.com/cmakex/cmakex-go/internal/engineerrors"
	"github.com/cmakex/cmakex-go/internal/model"
)

// Warning is a non-fatal observation raised while merging (e.g. a silent
// revision-override win, or a prefix-installed config set overriding a
// request's narrower one).
type Warning struct {
	Message string
}

// Result is the outcome of a successful Merge.
type Result struct {
	Request  model.PackageRequest
	Warnings []Warning
}

// Merge combines new into existing, per spec.md §4.6. acceptedFromPrefix
// should be true when the package in question was accepted from a
// prefix-path install (it relaxes the 'configs' equality rule).
func Merge(existing, new model.PackageRequest, acceptedFromPrefix bool) (Result, error) {
	if existing.Name != new.Name {
		return Result{}, engineerrors.WorkspaceConflict("cannot merge requests for different packages: %q and %q", existing.Name, new.Name)
	}

	res := Result{Request: existing}
	res.Request.ShallowClone = existing.ShallowClone || new.ShallowClone

	if err := mergeRepoURL(&res, existing, new); err != nil {
		return Result{}, err
	}
	if err := mergeRevision(&res, existing, new); err != nil {
		return Result{}, err
	}
	if err := mergeSubdirectory(&res, existing, new); err != nil {
		return Result{}, err
	}
	if err := mergeBuildArgs(&res, existing, new); err != nil {
		return Result{}, err
	}
	if err := mergeConfigs(&res, existing, new, acceptedFromPrefix); err != nil {
		return Result{}, err
	}
	if err := mergeDepends(&res, existing, new); err != nil {
		return Result{}, err
	}

	res.Request.NameOnly = existing.NameOnly && new.NameOnly
	res.Request.DefineOnly = existing.DefineOnly && new.DefineOnly
	return res, nil
}

func mergeRepoURL(res *Result, existing, new model.PackageRequest) error {
	switch {
	case existing.Clone.RepoURL == "":
		res.Request.Clone.RepoURL = new.Clone.RepoURL
	case new.Clone.RepoURL == "" || new.Clone.RepoURL == existing.Clone.RepoURL:
		res.Request.Clone.RepoURL = existing.Clone.RepoURL
	default:
		return engineerrors.WorkspaceConflict("package %q: conflicting repo URLs %q and %q", existing.Name, existing.Clone.RepoURL, new.Clone.RepoURL)
	}
	return nil
}

func mergeRevision(res *Result, existing, new model.PackageRequest) error {
	switch {
	case existing.Clone.Revision == "":
		res.Request.Clone.Revision = new.Clone.Revision
		res.Request.RevisionOverride = new.RevisionOverride
	case new.Clone.Revision == "" || new.Clone.Revision == existing.Clone.Revision:
		res.Request.Clone.Revision = existing.Clone.Revision
		res.Request.RevisionOverride = existing.RevisionOverride || new.RevisionOverride
	case existing.RevisionOverride:
		if new.RevisionOverride {
			return engineerrors.WorkspaceConflict("package %q: conflicting overriding revisions %q and %q", existing.Name, existing.Clone.Revision, new.Clone.Revision)
		}
		// existing's override wins silently.
		res.Request.Clone.Revision = existing.Clone.Revision
		res.Request.RevisionOverride = true
	case new.RevisionOverride:
		res.Request.Clone.Revision = new.Clone.Revision
		res.Request.RevisionOverride = true
	default:
		res.Warnings = append(res.Warnings, Warning{Message: "package " + string(existing.Name) + ": differing revisions " + existing.Clone.Revision + " and " + new.Clone.Revision + "; new wins"})
		res.Request.Clone.Revision = new.Clone.Revision
	}
	return nil
}

func mergeSubdirectory(res *Result, existing, new model.PackageRequest) error {
	switch {
	case existing.Build.Subdirectory == "":
		res.Request.Build.Subdirectory = new.Build.Subdirectory
	case new.Build.Subdirectory == "" || new.Build.Subdirectory == existing.Build.Subdirectory:
		res.Request.Build.Subdirectory = existing.Build.Subdirectory
	default:
		return engineerrors.WorkspaceConflict("package %q: conflicting subdirectories %q and %q", existing.Name, existing.Build.Subdirectory, new.Build.Subdirectory)
	}
	return nil
}

func mergeBuildArgs(res *Result, existing, new model.PackageRequest) error {
	// Compare new directly against existing, not the already-shadowed merge
	// result: merging always resolves a shared key to new's value, so
	// checking the merge against existing would flag every intentional
	// override as a conflict.
	if bad := argnorm.Incompatible(existing.Build.BuildArgs, new.Build.BuildArgs); len(bad) > 0 {
		return engineerrors.WorkspaceConflict("package %q: incompatible build arguments: %v", existing.Name, bad)
	}
	res.Request.Build.BuildArgs = argnorm.Merge(existing.Build.BuildArgs, new.Build.BuildArgs)
	return nil
}

func mergeConfigs(res *Result, existing, new model.PackageRequest, acceptedFromPrefix bool) error {
	switch {
	case len(existing.Build.Configs) == 0:
		res.Request.Build.Configs = new.Build.Configs
	case len(new.Build.Configs) == 0:
		res.Request.Build.Configs = existing.Build.Configs
	case existing.Build.Configs.Equal(new.Build.Configs):
		res.Request.Build.Configs = existing.Build.Configs
	case acceptedFromPrefix:
		// Installed set wins; warn (spec.md §4.7 Open Question 1).
		res.Warnings = append(res.Warnings, Warning{Message: "package " + string(existing.Name) + ": requested configs differ from the prefix-installed set; installed set wins"})
		res.Request.Build.Configs = existing.Build.Configs
	default:
		return engineerrors.WorkspaceConflict("package %q: conflicting config sets %v and %v", existing.Name, existing.Build.Configs.Sorted(), new.Build.Configs.Sorted())
	}
	return nil
}

func mergeDepends(res *Result, existing, new model.PackageRequest) error {
	switch {
	case new.DependsFromScript:
		// A dependency script's declared deps are authoritative for its own
		// package.
		res.Request.Depends = new.Depends
		res.Request.DependsFromScript = true
	case existing.DependsFromScript:
		res.Request.Depends = existing.Depends
		res.Request.DependsFromScript = true
	case len(existing.Depends) == 0:
		res.Request.Depends = new.Depends
	case len(new.Depends) == 0:
		res.Request.Depends = existing.Depends
	case dependsEqual(existing.Depends, new.Depends):
		res.Request.Depends = existing.Depends
	default:
		return engineerrors.WorkspaceConflict("package %q: conflicting dependency lists %v and %v", existing.Name, existing.DependsSorted(), new.DependsSorted())
	}
	return nil
}

func dependsEqual(a, b map[model.PackageName]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

// Commutative is a test helper: it reports whether merging a then b gives
// the same request (modulo warnings and order-insensitive fields) as
// merging b then a, when both succeed. Exported so resolver-level property
// tests can reuse it.
func Commutative(a, b model.PackageRequest, acceptedFromPrefix bool) (ab, ba Result, err error) {
	ab, err = Merge(a, b, acceptedFromPrefix)
	if err != nil {
		return Result{}, Result{}, errors.Wrap(err, "merge(a, b) failed")
	}
	ba, err = Merge(b, a, acceptedFromPrefix)
	if err != nil {
		return Result{}, Result{}, errors.Wrap(err, "merge(b, a) failed")
	}
	return ab, ba, nil
}
