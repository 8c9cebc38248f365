// Package clonedriver implements the clone driver (C4) the resolver uses to
// mirror a remote repository at a requested revision into a working
// directory and query its state, backed by go-git, grounded on the
// teacher's own git.Clone/go-billy usage in cmd/crank/init.go.
package clonedriver

import (
	"context"
	"os"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/storage/filesystem"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/cmakex/cmakex-go/internal/model"
	"github.com/cmakex/cmakex-go/internal/ociref"
)

// RemoteInfo is what ls_remote reports about a repository.
type RemoteInfo struct {
	HeadBranch string
	Branches   map[string]string
	Tags       map[string]string
}

// Status is the working-tree state clone_status reports.
type Status struct {
	Present      bool
	LocalChanges bool
	SHA          string
}

// Driver is the clone driver interface the resolver depends on (spec.md
// §4.4). It is an interface so the resolver can be tested against a fake.
type Driver interface {
	Clone(ctx context.Context, dir string, spec model.CloneSpec, shallow bool) error
	LsRemote(ctx context.Context, url string) (RemoteInfo, error)
	CurrentBranchOrHEAD(dir string) (string, error)
	IsExistingCommit(dir string, ref string) (bool, error)
	CloneStatus(dir string) (Status, error)
	Fetch(ctx context.Context, dir string) error
	Checkout(ctx context.Context, dir string, ref string) error
	MergeFFOnly(ctx context.Context, dir string, ref string) error
	ResetHard(ctx context.Context, dir string, ref string) error
}

// GoGitDriver is the production Driver, backed by go-git.
type GoGitDriver struct {
	log logging.Logger
}

// New returns a GoGitDriver.
func New(log logging.Logger) *GoGitDriver {
	return &GoGitDriver{log: log}
}

var _ Driver = (*GoGitDriver)(nil)

func open(dir string) (*git.Repository, error) {
	fs := osfs.New(dir)
	dot, err := fs.Chroot(".git")
	if err != nil {
		return nil, err
	}
	st := filesystem.NewStorage(dot, nil)
	return git.Open(st, fs)
}

// Clone mirrors repo to dir at spec.Revision (or the remote's default
// branch if empty), shallow-cloning (depth 1, single branch) when
// requested.
func (d *GoGitDriver) Clone(ctx context.Context, dir string, spec model.CloneSpec, shallow bool) error {
	if ociref.IsOCIRef(spec.RepoURL) {
		if _, err := ociref.ResolveOCIRef(spec.RepoURL); err != nil {
			return errors.Wrapf(err, "invalid OCI reference %s", spec.RepoURL)
		}
		return errors.Errorf("%s names an OCI artifact, not a git remote; vendor it into %s before resolving", spec.RepoURL, dir)
	}

	opts := &git.CloneOptions{
		URL: spec.RepoURL,
	}
	if shallow {
		opts.Depth = 1
		opts.SingleBranch = true
	}
	rev := spec.Revision
	if rev == "" {
		info, err := d.LsRemote(ctx, spec.RepoURL)
		if err != nil {
			return errors.Wrapf(err, "cannot determine default branch for %s", spec.RepoURL)
		}
		rev = info.HeadBranch
	}
	if !model.IsSHAShaped(rev) {
		opts.ReferenceName = plumbing.NewBranchReferenceName(rev)
		if info, err := d.LsRemote(ctx, spec.RepoURL); err == nil {
			if _, isTag := info.Tags[rev]; isTag {
				opts.ReferenceName = plumbing.NewTagReferenceName(rev)
			}
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "cannot create clone directory %s", dir)
	}

	r, err := git.PlainCloneContext(ctx, dir, false, opts)
	if err != nil {
		return errors.Wrapf(err, "cannot clone %s", spec.RepoURL)
	}
	if model.IsSHAShaped(rev) {
		wt, err := r.Worktree()
		if err != nil {
			return errors.Wrap(err, "cannot open worktree after clone")
		}
		if err := wt.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(rev)}); err != nil {
			return errors.Wrapf(err, "cannot checkout %s", rev)
		}
	}
	d.log.Debug("cloned repository", "url", spec.RepoURL, "revision", rev, "dir", dir, "shallow", shallow)
	return nil
}

// LsRemote reports the remote's head branch, branches, and tags.
func (d *GoGitDriver) LsRemote(ctx context.Context, url string) (RemoteInfo, error) {
	remote := git.NewRemote(nil, &config.RemoteConfig{Name: "origin", URLs: []string{url}})
	refs, err := remote.ListContext(ctx, &git.ListOptions{})
	if err != nil {
		return RemoteInfo{}, errors.Wrapf(err, "cannot list remote refs for %s", url)
	}
	info := RemoteInfo{Branches: map[string]string{}, Tags: map[string]string{}}
	for _, ref := range refs {
		name := ref.Name()
		switch {
		case name == plumbing.HEAD:
			if ref.Type() == plumbing.SymbolicReference {
				info.HeadBranch = ref.Target().Short()
			}
		case name.IsBranch():
			info.Branches[name.Short()] = ref.Hash().String()
		case name.IsTag():
			info.Tags[name.Short()] = ref.Hash().String()
		}
	}
	if info.HeadBranch == "" {
		if _, ok := info.Branches["main"]; ok {
			info.HeadBranch = "main"
		} else if _, ok := info.Branches["master"]; ok {
			info.HeadBranch = "master"
		}
	}
	return info, nil
}

// CurrentBranchOrHEAD returns the branch name dir's worktree is on, or the
// literal "HEAD" when detached.
func (d *GoGitDriver) CurrentBranchOrHEAD(dir string) (string, error) {
	r, err := open(dir)
	if err != nil {
		return "", errors.Wrapf(err, "cannot open repository at %s", dir)
	}
	head, err := r.Head()
	if err != nil {
		return "", errors.Wrap(err, "cannot resolve HEAD")
	}
	if head.Name() == plumbing.HEAD || !head.Name().IsBranch() {
		return "HEAD", nil
	}
	return head.Name().Short(), nil
}

// IsExistingCommit reports whether ref resolves to a commit in dir's repo.
func (d *GoGitDriver) IsExistingCommit(dir string, ref string) (bool, error) {
	r, err := open(dir)
	if err != nil {
		return false, errors.Wrapf(err, "cannot open repository at %s", dir)
	}
	_, err = r.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return false, nil //nolint:nilerr // absence is reported via the bool, not an error.
	}
	return true, nil
}

// CloneStatus reports whether dir holds a clone, whether it's clean, and
// the SHA it's at.
func (d *GoGitDriver) CloneStatus(dir string) (Status, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return Status{Present: false}, nil
	}
	r, err := open(dir)
	if err != nil {
		return Status{}, errors.Wrapf(err, "cannot open repository at %s", dir)
	}
	head, err := r.Head()
	if err != nil {
		return Status{}, errors.Wrap(err, "cannot resolve HEAD")
	}
	wt, err := r.Worktree()
	if err != nil {
		return Status{}, errors.Wrap(err, "cannot open worktree")
	}
	st, err := wt.Status()
	if err != nil {
		return Status{}, errors.Wrap(err, "cannot compute worktree status")
	}
	return Status{Present: true, LocalChanges: !st.IsClean(), SHA: head.Hash().String()}, nil
}

// Fetch fetches from origin.
func (d *GoGitDriver) Fetch(ctx context.Context, dir string) error {
	r, err := open(dir)
	if err != nil {
		return errors.Wrapf(err, "cannot open repository at %s", dir)
	}
	err = r.FetchContext(ctx, &git.FetchOptions{RemoteName: "origin"})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return errors.Wrap(err, "cannot fetch")
	}
	return nil
}

// Checkout checks dir out to ref (a branch, tag, or SHA).
func (d *GoGitDriver) Checkout(ctx context.Context, dir string, ref string) error {
	r, err := open(dir)
	if err != nil {
		return errors.Wrapf(err, "cannot open repository at %s", dir)
	}
	wt, err := r.Worktree()
	if err != nil {
		return errors.Wrap(err, "cannot open worktree")
	}
	opts := &git.CheckoutOptions{}
	if model.IsSHAShaped(ref) {
		opts.Hash = plumbing.NewHash(ref)
	} else if _, err := r.Reference(plumbing.NewBranchReferenceName(ref), true); err == nil {
		opts.Branch = plumbing.NewBranchReferenceName(ref)
	} else {
		h, err := r.ResolveRevision(plumbing.Revision(ref))
		if err != nil {
			return errors.Wrapf(err, "cannot resolve %s", ref)
		}
		opts.Hash = *h
	}
	if err := wt.Checkout(opts); err != nil {
		return errors.Wrapf(err, "cannot checkout %s", ref)
	}
	return nil
}

// MergeFFOnly moves dir's worktree forward to ref, failing if ref is not a
// descendant of the current HEAD. The worktree is checked out at ref's
// commit with HEAD detached; no branch ref is moved.
func (d *GoGitDriver) MergeFFOnly(ctx context.Context, dir string, ref string) error {
	r, err := open(dir)
	if err != nil {
		return errors.Wrapf(err, "cannot open repository at %s", dir)
	}
	wt, err := r.Worktree()
	if err != nil {
		return errors.Wrap(err, "cannot open worktree")
	}
	target, err := r.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return errors.Wrapf(err, "cannot resolve %s", ref)
	}
	head, err := r.Head()
	if err != nil {
		return errors.Wrap(err, "cannot resolve HEAD")
	}
	headCommit, err := r.CommitObject(head.Hash())
	if err != nil {
		return errors.Wrapf(err, "cannot load commit %s", head.Hash())
	}
	targetCommit, err := r.CommitObject(*target)
	if err != nil {
		return errors.Wrapf(err, "cannot load commit %s", target)
	}
	ok, err := headCommit.IsAncestor(targetCommit)
	if err != nil {
		return errors.Wrapf(err, "cannot check ancestry of %s", ref)
	}
	if !ok {
		return errors.Errorf("cannot fast-forward to %s: not a descendant of %s", ref, head.Hash())
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: *target}); err != nil {
		return errors.Wrapf(err, "cannot fast-forward to %s", ref)
	}
	return nil
}

// ResetHard resets dir's worktree hard to ref, discarding local changes.
func (d *GoGitDriver) ResetHard(ctx context.Context, dir string, ref string) error {
	r, err := open(dir)
	if err != nil {
		return errors.Wrapf(err, "cannot open repository at %s", dir)
	}
	wt, err := r.Worktree()
	if err != nil {
		return errors.Wrap(err, "cannot open worktree")
	}
	target, err := r.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return errors.Wrapf(err, "cannot resolve %s", ref)
	}
	if err := wt.Reset(&git.ResetOptions{Commit: *target, Mode: git.HardReset}); err != nil {
		return errors.Wrapf(err, "cannot reset hard to %s", ref)
	}
	return nil
}
