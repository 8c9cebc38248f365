// Package resolver implements the recursive resolver (C7), the engine's
// core algorithm: for each requested package it evaluates install status,
// decides whether to clone or update, recurses into its dependencies,
// computes the build reason (if any), and linearizes the final build
// order, per spec.md §4.7.
package resolver

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/cmakex/cmakex-go/internal/argnorm"
	"github.com/cmakex/cmakex-go/internal/cachetracker"
	"github.com/cmakex/cmakex-go/internal/clonedriver"
	"github.com/cmakex/cmakex-go/internal/dag"
	"github.com/cmakex/cmakex-go/internal/depsscript"
	"github.com/cmakex/cmakex-go/internal/engineerrors"
	"github.com/cmakex/cmakex-go/internal/installdb"
	"github.com/cmakex/cmakex-go/internal/layout"
	"github.com/cmakex/cmakex-go/internal/merger"
	"github.com/cmakex/cmakex-go/internal/model"

	"github.com/spf13/afero"
)

// depsScriptName is the file the resolver looks for at the root of a
// cloned package's (sub)directory to discover its own declared
// dependencies, analogous to the top-level EngineConfig.DepsScript but
// local to one dependency's source tree.
const depsScriptName = "cmakex-deps"

// ConfigState is the per-config outcome of resolving one package.
type ConfigState struct {
	TentativeFinalArgs    model.BuildArgs
	TentativeFingerprint  string
	Evaluation            installdb.Evaluation
	BuildReasons          []string
}

// PackageState is the in-memory record for one package across the whole
// resolution pass (spec.md §3's PackageState).
type PackageState struct {
	Request                model.PackageRequest
	FoundOnPrefixPath       string
	ClonedSHA               string
	JustCloned              bool
	// LocalChanges reports whether the cloned working tree had uncommitted
	// changes the last time its status was checked this run.
	LocalChanges            bool
	PerConfig               map[model.ConfigName]*ConfigState
	DependenciesFromScript  bool
	BuildingNow             bool
	ResolvedRevision        string

	// Deps is the dependency set actually recursed into this run (from a
	// cloned package's own script, the request's declared depends, or a
	// prefix-installed descriptor's recorded deps), used for build-order
	// linearization and for reporting the resolved graph.
	Deps []model.PackageName
}

// Plan is the resolver's output: the linear build order plus bookkeeping
// the executor and caller need.
type Plan struct {
	BuildOrder      []model.PackageName
	PkgsEncountered map[model.PackageName]struct{}
	Warnings        []string
	// HijackModules lists the find-module shims to (re-)emit for packages
	// the resolver decided not to rebuild, keyed by package name.
	HijackModules map[model.PackageName][]string
	// States is every package's final in-memory state, consulted by the
	// executor to find each built package's tentative final args.
	States map[model.PackageName]*PackageState
}

// Engine runs the resolver against one workspace.
type Engine struct {
	fs      afero.Fs
	log     logging.Logger
	cfg     model.EngineConfig
	paths   layout.Paths
	clone   clonedriver.Driver
	scripts *depsscript.Runner

	// prefixPaths are external CMAKE_PREFIX_PATH-style directories probed
	// for a pre-installed package, mirroring install_deps_phase_one.cpp's
	// prefix_paths (built solely from CMAKE_PREFIX_PATH). The engine's own
	// deps-install dir is never in this list: it's the same directory a
	// just-cloned dependency builds into, so including it here would make
	// probePrefixPath see a package as both prefix-installed and locally
	// cloned on every rerun. It's consulted separately, as e.paths.InstallDir(),
	// wherever the engine's own install DB needs to be read.
	prefixPaths []string

	defMap         map[model.PackageName]model.PackageRequest
	pkgMap         map[model.PackageName]*PackageState
	requesterStack []model.PackageName
	warnings       []string
}

// New returns an Engine ready to resolve requests under cfg.
func New(fs afero.Fs, log logging.Logger, cfg model.EngineConfig, clone clonedriver.Driver, scripts *depsscript.Runner, extraPrefixPaths []string) *Engine {
	paths := layout.New(cfg)
	return &Engine{
		fs:          fs,
		log:         log,
		cfg:         cfg,
		paths:       paths,
		clone:       clone,
		scripts:     scripts,
		prefixPaths: extraPrefixPaths,
		defMap:      map[model.PackageName]model.PackageRequest{},
		pkgMap:      map[model.PackageName]*PackageState{},
	}
}

// Resolve defines every top-level request, then resolves each in turn,
// returning the linearized build plan.
func (e *Engine) Resolve(ctx context.Context, requests []model.PackageRequest) (*Plan, error) {
	for _, r := range requests {
		if err := e.define(r); err != nil {
			return nil, err
		}
	}

	encountered := map[model.PackageName]struct{}{}
	for _, r := range requests {
		res, err := e.resolveOne(ctx, r.Name)
		if err != nil {
			return nil, err
		}
		for p := range res.pkgsEncountered {
			encountered[p] = struct{}{}
		}
	}

	order, err := e.linearize()
	if err != nil {
		return nil, err
	}

	hijack := map[model.PackageName][]string{}
	for name, st := range e.pkgMap {
		if !st.BuildingNow {
			for _, cs := range st.PerConfig {
				if cs.Evaluation.Installed != nil && len(cs.Evaluation.Installed.HijackModules) > 0 {
					hijack[name] = cs.Evaluation.Installed.HijackModules
				}
			}
		}
	}

	return &Plan{
		BuildOrder:      order,
		PkgsEncountered: encountered,
		Warnings:        e.warnings,
		HijackModules:   hijack,
		States:          e.pkgMap,
	}, nil
}

// define merges a request into the definition map, per the package's
// current prefix-path acceptance state if already known.
func (e *Engine) define(r model.PackageRequest) error {
	existing, ok := e.defMap[r.Name]
	if !ok {
		e.defMap[r.Name] = r
		return nil
	}
	acceptedFromPrefix := e.pkgMap[r.Name] != nil && e.pkgMap[r.Name].FoundOnPrefixPath != ""
	res, err := merger.Merge(existing, r, acceptedFromPrefix)
	if err != nil {
		return err
	}
	for _, w := range res.Warnings {
		e.warn(w.Message)
	}
	e.defMap[r.Name] = res.Request
	return nil
}

func (e *Engine) warn(msg string) {
	e.warnings = append(e.warnings, msg)
	e.log.Info("warning", "message", msg)
}

type resolveResult struct {
	pkgsEncountered map[model.PackageName]struct{}
	buildingSomePkg bool
}

// resolveOne implements one call of spec.md §4.7's resolve(pkg), including
// its bounded two-attempt retry when a rebuild is only discovered after
// the prefix-path/install-DB evaluation and the package hasn't been
// cloned yet.
func (e *Engine) resolveOne(ctx context.Context, pkg model.PackageName) (resolveResult, error) {
	for _, p := range e.requesterStack {
		if p == pkg {
			chain := append([]string{}, stringsOf(e.requesterStack)...)
			chain = append(chain, string(pkg))
			return resolveResult{}, engineerrors.DependencyCycle(trimToCycle(chain, string(pkg)))
		}
	}
	e.requesterStack = append(e.requesterStack, pkg)
	defer func() { e.requesterStack = e.requesterStack[:len(e.requesterStack)-1] }()

	st, ok := e.pkgMap[pkg]
	if !ok {
		req, defined := e.defMap[pkg]
		if !defined {
			return resolveResult{}, engineerrors.UserInput("package %q was requested but never defined", pkg)
		}
		st = &PackageState{Request: req, PerConfig: map[model.ConfigName]*ConfigState{}}
		e.pkgMap[pkg] = st
	}
	// Invariant 4: every in-memory request has a non-empty configs set;
	// name-only (or script-emitted, config-silent) requests inherit the
	// command line's default configs.
	if len(st.Request.Build.Configs) == 0 {
		st.Request.Build.Configs = model.NewConfigSet()
		for _, c := range e.cfg.Configs {
			st.Request.Build.Configs[c] = struct{}{}
		}
	}

	if err := e.probePrefixPath(ctx, pkg, st); err != nil {
		return resolveResult{}, err
	}

	const maxAttempts = 2
	var rr resolveResult
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := e.computeTentativeArgs(st); err != nil {
			return resolveResult{}, err
		}
		if st.FoundOnPrefixPath == "" {
			if err := e.driveCloneOrUpdate(ctx, pkg, st); err != nil {
				return resolveResult{}, err
			}
		}

		evs, err := e.evaluate(pkg, st)
		if err != nil {
			return resolveResult{}, err
		}
		for cfg, ev := range evs {
			st.PerConfig[cfg].Evaluation = ev
		}

		childRR, err := e.recurseDependencies(ctx, pkg, st)
		if err != nil {
			return resolveResult{}, err
		}
		rr = resolveResult{
			pkgsEncountered: union(map[model.PackageName]struct{}{pkg: {}}, childRR.pkgsEncountered),
			buildingSomePkg: childRR.buildingSomePkg,
		}

		anyReason := false
		for cfg, ev := range evs {
			reasons := e.computeBuildReasons(st, ev, rr.buildingSomePkg)
			st.PerConfig[cfg].BuildReasons = reasons
			if len(reasons) > 0 {
				anyReason = true
			}
		}

		if !anyReason {
			return rr, nil
		}

		if st.ClonedSHA != "" || st.FoundOnPrefixPath != "" && attempt == maxAttempts {
			st.BuildingNow = true
			rr.buildingSomePkg = true
			return rr, nil
		}

		// Not cloned yet: clone now (using the installed SHA if one is on
		// record, else the request's revision) and re-evaluate, bounded to
		// two attempts total (spec.md §9's two-attempt resolver loop).
		rev := st.Request.Clone.Revision
		for _, ev := range evs {
			if ev.Installed != nil && ev.Installed.Clone.Revision != "" {
				rev = ev.Installed.Clone.Revision
				break
			}
		}
		spec := model.CloneSpec{RepoURL: st.Request.Clone.RepoURL, Revision: rev}
		if err := e.clone.Clone(ctx, e.paths.CloneDir(pkg), spec, st.Request.ShallowClone); err != nil {
			return resolveResult{}, engineerrors.Clone(err, string(pkg))
		}
		st.JustCloned = true
		status, err := e.clone.CloneStatus(e.paths.CloneDir(pkg))
		if err != nil {
			return resolveResult{}, engineerrors.Clone(err, string(pkg))
		}
		st.ClonedSHA = status.SHA
		st.FoundOnPrefixPath = ""
	}

	st.BuildingNow = true
	rr.buildingSomePkg = true
	return rr, nil
}

func stringsOf(names []model.PackageName) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = string(n)
	}
	return out
}

// trimToCycle trims chain (a requester stack plus the repeated name) down
// to just the cyclic portion, starting and ending on repeated.
func trimToCycle(chain []string, repeated string) []string {
	for i, p := range chain {
		if p == repeated {
			return append([]string{}, chain[i:]...)
		}
	}
	return chain
}

func union(a, b map[model.PackageName]struct{}) map[model.PackageName]struct{} {
	out := map[model.PackageName]struct{}{}
	for k := range a {
		out[k] = struct{}{}
	}
	for k := range b {
		out[k] = struct{}{}
	}
	return out
}

// probePrefixPath implements step 1 of spec.md §4.7's pseudocode.
func (e *Engine) probePrefixPath(ctx context.Context, pkg model.PackageName, st *PackageState) error {
	hit, installedConfigs, err := installdb.QuickCheckOnPrefixPaths(e.fs, pkg, e.prefixPaths)
	if err != nil {
		return err
	}
	if hit == "" {
		return nil
	}
	status, err := e.clone.CloneStatus(e.paths.CloneDir(pkg))
	if err != nil {
		return engineerrors.Clone(err, string(pkg))
	}
	if status.Present {
		return engineerrors.StateInconsistency("package %q found both on prefix path %q and cloned locally", pkg, hit)
	}

	installedSet := model.ConfigSet{}
	for _, c := range installedConfigs {
		installedSet[c] = struct{}{}
	}
	if !st.Request.Build.Configs.Subset(installedSet) {
		e.warn("package " + string(pkg) + ": requested configs not fully present on prefix path " + hit + "; using installed config set")
		st.Request.Build.Configs = installedSet
	}
	st.FoundOnPrefixPath = hit
	return nil
}

// computeTentativeArgs implements step 2: per requested config, folds in
// the engine-injected install-prefix and search-path arguments and asks
// the cache tracker for the tentative effective argument set.
func (e *Engine) computeTentativeArgs(st *PackageState) error {
	for cfg := range st.Request.Build.Configs {
		if _, ok := st.PerConfig[cfg]; !ok {
			st.PerConfig[cfg] = &ConfigState{}
		}
		buildDir := e.paths.BuildDir(st.Request.Name, cfg)
		tracker := cachetracker.New(e.fs, buildDir, "", e.log)
		want := argnorm.Merge(st.Request.Build.BuildArgs, e.engineInjectedArgs())
		tentative, err := tracker.AddPending(want)
		if err != nil {
			return err
		}
		st.PerConfig[cfg].TentativeFinalArgs = tentative.FinalArgs
		st.PerConfig[cfg].TentativeFingerprint = tentative.Fingerprint
	}
	return nil
}

// engineInjectedArgs are the install-prefix and search-path arguments the
// engine itself adds to every dependency build, independent of what the
// request asked for.
func (e *Engine) engineInjectedArgs() model.BuildArgs {
	return model.BuildArgs{
		{Switch: "-D", Name: "CMAKE_INSTALL_PREFIX", Value: e.paths.InstallDir()},
		{Switch: "-D", Name: "CMAKE_PREFIX_PATH", Value: e.paths.InstallDir()},
	}
}

// driveCloneOrUpdate implements step 3's update-or-clone state machine.
func (e *Engine) driveCloneOrUpdate(ctx context.Context, pkg model.PackageName, st *PackageState) error {
	dir := e.paths.CloneDir(pkg)
	status, err := e.clone.CloneStatus(dir)
	if err != nil {
		return engineerrors.Clone(err, string(pkg))
	}

	st.LocalChanges = status.Present && status.LocalChanges

	target := st.Request.Clone.Revision
	if !status.Present {
		if target == "" {
			info, err := e.clone.LsRemote(ctx, st.Request.Clone.RepoURL)
			if err != nil {
				return engineerrors.Clone(err, string(pkg))
			}
			target = info.HeadBranch
		}
		if err := e.clone.Clone(ctx, dir, model.CloneSpec{RepoURL: st.Request.Clone.RepoURL, Revision: target}, st.Request.ShallowClone); err != nil {
			return engineerrors.Clone(err, string(pkg))
		}
		st.JustCloned = true
		status, err = e.clone.CloneStatus(dir)
		if err != nil {
			return engineerrors.Clone(err, string(pkg))
		}
		st.ClonedSHA = status.SHA
		return nil
	}

	st.ClonedSHA = status.SHA
	if target == "" || status.SHA == target {
		return nil
	}

	policy := e.cfg.UpdatePolicy
	if status.LocalChanges {
		if !policy.ToleratesLocalChanges() {
			if policy == model.UpdateIfClean || policy == model.UpdateIfVeryClean {
				e.warn("package " + string(pkg) + ": local changes present, update policy " + string(policy) + " skips the update")
				return nil
			}
			return engineerrors.UpdateBlocked("package %q has local changes; update policy %q forbids updating", pkg, policy)
		}
		if err := e.clone.ResetHard(ctx, dir, target); err != nil {
			return engineerrors.Clone(err, string(pkg))
		}
		st.ClonedSHA = target
		st.LocalChanges = false
		return nil
	}

	if !policy.AllowsBranchSwitch() && !policy.TakesForceAction() {
		if policy == model.UpdateIfClean || policy == model.UpdateIfVeryClean {
			e.warn("package " + string(pkg) + ": not at the requested revision, update policy " + string(policy) + " skips the update")
			return nil
		}
		return engineerrors.UpdateBlocked("package %q is not at the requested revision and update policy %q forbids switching", pkg, policy)
	}
	if err := e.clone.Fetch(ctx, dir); err != nil {
		return engineerrors.Clone(err, string(pkg))
	}
	if err := e.clone.MergeFFOnly(ctx, dir, target); err != nil {
		if !policy.TakesForceAction() {
			return engineerrors.UpdateBlocked("package %q cannot fast-forward to %q under policy %q: %v", pkg, target, policy, err)
		}
		if err := e.clone.ResetHard(ctx, dir, target); err != nil {
			return engineerrors.Clone(err, string(pkg))
		}
	}
	status, err = e.clone.CloneStatus(dir)
	if err != nil {
		return engineerrors.Clone(err, string(pkg))
	}
	st.ClonedSHA = status.SHA
	st.LocalChanges = status.LocalChanges
	return nil
}

// evaluate implements step 4, delegating to the install DB.
func (e *Engine) evaluate(pkg model.PackageName, st *PackageState) (map[model.ConfigName]installdb.Evaluation, error) {
	root := e.paths.InstallDir()
	if st.FoundOnPrefixPath != "" {
		root = st.FoundOnPrefixPath
	}
	db := installdb.New(e.fs, root)
	args := map[model.ConfigName]model.BuildArgs{}
	for cfg, cs := range st.PerConfig {
		args[cfg] = cs.TentativeFinalArgs
	}
	return db.Evaluate(pkg, st.Request.Build.Subdirectory, args, st.Request.Depends)
}

// recurseDependencies implements step 5: it picks the dependency source in
// priority order (cloned script, request.depends, prefix-installed
// descriptors) and resolves each, per spec.md §9's Open Question 3 — a
// not-cloned, not-on-prefix-path package has no legal dependency source
// and that is a StateInconsistency, never silently "no dependencies".
func (e *Engine) recurseDependencies(ctx context.Context, pkg model.PackageName, st *PackageState) (resolveResult, error) {
	deps, err := e.discoverDependencies(ctx, pkg, st)
	if err != nil {
		return resolveResult{}, err
	}
	st.Deps = deps

	out := resolveResult{pkgsEncountered: map[model.PackageName]struct{}{}}
	for _, dep := range deps {
		childRR, err := e.resolveOne(ctx, dep)
		if err != nil {
			return resolveResult{}, err
		}
		for p := range childRR.pkgsEncountered {
			out.pkgsEncountered[p] = struct{}{}
		}
		if childRR.buildingSomePkg {
			out.buildingSomePkg = true
		}
	}
	return out, nil
}

func (e *Engine) discoverDependencies(ctx context.Context, pkg model.PackageName, st *PackageState) ([]model.PackageName, error) {
	if st.ClonedSHA != "" || st.JustCloned {
		scriptPath, ok, err := e.findDepsScript(pkg, st.Request.Build.Subdirectory)
		if err != nil {
			return nil, err
		}
		if ok {
			reqs, err := e.scripts.Run(ctx, scriptPath, filepath.Dir(scriptPath))
			if err != nil {
				return nil, engineerrors.UserInput("dependency script for %q failed: %v", pkg, err)
			}
			st.DependenciesFromScript = true
			var names []model.PackageName
			for _, r := range reqs {
				if err := e.define(r); err != nil {
					return nil, err
				}
				names = append(names, r.Name)
			}
			return names, nil
		}
	}

	if len(st.Request.Depends) > 0 {
		return st.Request.DependsSorted(), nil
	}

	if st.FoundOnPrefixPath != "" {
		installed, err := installdb.TryGetInstalledPkgAllConfigs(e.fs, pkg, []string{st.FoundOnPrefixPath})
		if err != nil {
			return nil, err
		}
		seen := map[model.PackageName]struct{}{}
		var names []model.PackageName
		for _, desc := range installed {
			for dep := range desc.DependencyFingerprints {
				if _, ok := seen[dep]; !ok {
					seen[dep] = struct{}{}
					names = append(names, dep)
				}
			}
		}
		return names, nil
	}

	// Neither cloned nor found on a prefix path: nothing can define this
	// package's dependencies. resolveOne clones every package that is not
	// found on a prefix path before getting here, so this only happens when
	// a clone reports no SHA.
	return nil, engineerrors.StateInconsistency("package %q is neither cloned nor found on a prefix path; its dependencies cannot be enumerated", pkg)
}

// findDepsScript looks for depsScriptName at the root of pkg's clone
// directory (honoring the requested subdirectory).
func (e *Engine) findDepsScript(pkg model.PackageName, subdirectory string) (string, bool, error) {
	dir := e.paths.CloneDir(pkg)
	if subdirectory != "" {
		dir = filepath.Join(dir, subdirectory)
	}
	path := filepath.Join(dir, depsScriptName)
	info, err := e.fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, errors.Wrapf(err, "cannot stat %s", path)
	}
	if info.IsDir() {
		return "", false, nil
	}
	return path, true, nil
}

// computeBuildReasons implements spec.md §4.7's build-reason derivation,
// first matched rule wins.
func (e *Engine) computeBuildReasons(st *PackageState, ev installdb.Evaluation, dependencyRebuilt bool) []string {
	if dependencyRebuilt {
		return []string{"dependency rebuilt"}
	}
	switch ev.Status {
	case installdb.StatusNotInstalled:
		return []string{"initial build"}
	case installdb.StatusDifferent:
		return []string{"build options changed: " + ev.IncompatibleArgsLocal.Fingerprint()}
	}
	// satisfied or different_but_satisfied from here on.
	if st.LocalChanges {
		return []string{"cloned working tree has uncommitted changes"}
	}
	if ev.Installed != nil && st.ClonedSHA != "" && ev.Installed.Clone.Revision != st.ClonedSHA {
		return []string{"source at new commit"}
	}
	if ev.Installed != nil {
		if reason := e.dependencyFingerprintDrift(st, ev.Installed); reason != "" {
			return []string{reason}
		}
	}
	if e.cfg.ForceBuild && (st.JustCloned || st.ClonedSHA != "") {
		return []string{"forced"}
	}
	return nil
}

// dependencyFingerprintDrift compares installed's recorded per-dependency
// fingerprints against each dependency's current installed descriptor (as
// resolved earlier this run), reporting the first dependency whose hash no
// longer matches what this package was last built against.
func (e *Engine) dependencyFingerprintDrift(st *PackageState, installed *model.InstalledConfigDescriptor) string {
	for _, dep := range st.Deps {
		depSt, ok := e.pkgMap[dep]
		if !ok {
			continue
		}
		for cfg, cs := range depSt.PerConfig {
			if cs.Evaluation.Installed == nil {
				continue
			}
			current := cs.Evaluation.Installed.Hash()
			stored, ok := installed.DependencyFingerprints[dep][cfg]
			if !ok || stored != current {
				return "dependency " + string(dep) + " changed since last build"
			}
		}
	}
	return ""
}

// linearize implements invariant 2 and testable property 6: it builds a
// dependency graph over only the packages marked BuildingNow and performs
// a deterministic topological sort, independent of DFS visitation order.
func (e *Engine) linearize() ([]model.PackageName, error) {
	g := dag.NewMapDag()

	building := map[model.PackageName]struct{}{}
	var order []model.PackageName
	for name, st := range e.pkgMap {
		if st.BuildingNow {
			building[name] = struct{}{}
			order = append(order, name)
		}
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	nodes := map[model.PackageName]*depNode{}
	for _, name := range order {
		n := &depNode{id: string(name)}
		nodes[name] = n
		if err := g.AddNode(n); err != nil {
			return nil, err
		}
	}
	for _, name := range order {
		for _, dep := range e.pkgMap[name].Deps {
			if _, ok := building[dep]; !ok {
				continue
			}
			if _, err := g.AddEdge(string(name), nodes[dep]); err != nil {
				return nil, err
			}
		}
	}

	sorted, err := g.Sort()
	if err != nil {
		var cycle *dag.CycleError
		if errors.As(err, &cycle) {
			return nil, engineerrors.DependencyCycle(cycle.Chain)
		}
		return nil, err
	}
	out := make([]model.PackageName, len(sorted))
	for i, s := range sorted {
		out[i] = model.PackageName(s)
	}
	return out, nil
}

type depNode struct {
	id        string
	neighbors []dag.Node
}

func (n *depNode) Identifier() string   { return n.id }
func (n *depNode) Neighbors() []dag.Node { return n.neighbors }
func (n *depNode) AddNeighbors(ns ...dag.Node) error {
	n.neighbors = append(n.neighbors, ns...)
	return nil
}
