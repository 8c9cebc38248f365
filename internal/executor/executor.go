// Package executor implements the build plan executor (C8): it iterates
// the resolver's linearized build order and, for each package's active
// configs in order, drives the build driver through configure, build, and
// install, recording a fresh descriptor in the install DB on success, per
// spec.md §4.8.
package executor

import (
	"context"
	"sort"

	"github.com/spf13/afero"

	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/cmakex/cmakex-go/internal/builddriver"
	"github.com/cmakex/cmakex-go/internal/cachetracker"
	"github.com/cmakex/cmakex-go/internal/engineerrors"
	"github.com/cmakex/cmakex-go/internal/installdb"
	"github.com/cmakex/cmakex-go/internal/layout"
	"github.com/cmakex/cmakex-go/internal/model"
	"github.com/cmakex/cmakex-go/internal/resolver"
)

// Executor drives the build driver over a resolved Plan.
type Executor struct {
	fs    afero.Fs
	log   logging.Logger
	paths layout.Paths
	build builddriver.Driver
}

// New returns an Executor.
func New(fs afero.Fs, log logging.Logger, paths layout.Paths, build builddriver.Driver) *Executor {
	return &Executor{fs: fs, log: log, paths: paths, build: build}
}

// Run executes every package in plan.BuildOrder, aborting the whole run on
// the first step failure (spec.md §5: "a failed step aborts the run;
// on-disk artifacts from prior successful steps remain intact").
func (ex *Executor) Run(ctx context.Context, plan *resolver.Plan) error {
	db := installdb.New(ex.fs, ex.paths.InstallDir())

	for _, pkg := range plan.BuildOrder {
		st, ok := plan.States[pkg]
		if !ok {
			return engineerrors.StateInconsistency("package %q in build order has no resolved state", pkg)
		}

		configs := make([]model.ConfigName, 0, len(st.PerConfig))
		for cfg := range st.PerConfig {
			configs = append(configs, cfg)
		}
		sort.Slice(configs, func(i, j int) bool { return configs[i] < configs[j] })

		sourceDir := ex.paths.CloneDir(pkg)
		if st.Request.Build.Subdirectory != "" {
			sourceDir = sourceDir + "/" + st.Request.Build.Subdirectory
		}

		for _, cfg := range configs {
			cs := st.PerConfig[cfg]
			buildDir := ex.paths.BuildDir(pkg, cfg)

			if _, err := ex.build.Configure(ctx, pkg, sourceDir, buildDir, cfg, cs.TentativeFinalArgs); err != nil {
				return engineerrors.Build(err, string(pkg), cfg.String())
			}
			tracker := cachetracker.New(ex.fs, buildDir, "", ex.log)
			if err := tracker.ConfirmPending(); err != nil {
				return err
			}

			if _, err := ex.build.Build(ctx, pkg, buildDir, cfg, nil, nil); err != nil {
				return engineerrors.Build(err, string(pkg), cfg.String())
			}

			out, modules, err := ex.build.Install(ctx, pkg, buildDir, cfg)
			if err != nil {
				return engineerrors.Build(err, string(pkg), cfg.String())
			}
			ex.log.Debug("installed package", "package", pkg, "config", cfg.String(), "exit_code", out.ExitCode)

			depFingerprints := map[model.PackageName]map[model.ConfigName]string{}
			for _, dep := range st.Request.DependsSorted() {
				depDesc, err := installdb.TryGetInstalledPkgAllConfigs(ex.fs, dep, []string{ex.paths.InstallDir()})
				if err != nil {
					return err
				}
				fps := map[model.ConfigName]string{}
				for depCfg, desc := range depDesc {
					fps[depCfg] = desc.Hash()
				}
				depFingerprints[dep] = fps
			}

			desc := model.InstalledConfigDescriptor{
				Package:                pkg,
				Config:                 cfg,
				Clone:                  model.CloneSpec{RepoURL: st.Request.Clone.RepoURL, Revision: st.ClonedSHA},
				Subdirectory:           st.Request.Build.Subdirectory,
				FinalBuildArgs:         cs.TentativeFinalArgs,
				DependencyFingerprints: depFingerprints,
				HijackModules:          modules,
			}
			if err := db.Record(desc); err != nil {
				return err
			}
		}
	}
	return nil
}
