package main

import (
	"context"
	"fmt"

	"github.com/alecthomas/kong"
	"github.com/docker/docker/client"
	"github.com/spf13/afero"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/cmakex/cmakex-go/internal/argnorm"
	"github.com/cmakex/cmakex-go/internal/builddriver"
	"github.com/cmakex/cmakex-go/internal/clonedriver"
	"github.com/cmakex/cmakex-go/internal/depsscript"
	"github.com/cmakex/cmakex-go/internal/executor"
	"github.com/cmakex/cmakex-go/internal/layout"
	"github.com/cmakex/cmakex-go/internal/model"
	"github.com/cmakex/cmakex-go/internal/resolver"
)

const (
	errNormalizeArgs = "cannot normalize command-line build arguments"
	errRunDepsScript = "cannot run the top-level dependency script"
	errResolve       = "cannot resolve dependency graph"
	errExecute       = "cannot build the resolved dependency plan"
	errWriteHijack   = "cannot write hijack module"
	errDockerClient  = "cannot create docker client for container builds"
)

// BuildCmd resolves and builds every dependency declared by the project's
// dependency script, mirroring spec.md §6's invocation surface.
type BuildCmd struct {
	SourceDir string `arg:"" help:"Project source directory." type:"path"`
	BinaryDir string `arg:"" help:"Project binary (build) directory." type:"path"`

	Configs []string `help:"Build configurations (e.g. Debug,Release)." default:"NoConfig"`
	Args    []string `help:"Extra build-tool arguments (e.g. -DFOO=BAR), applied to every dependency." short:"D"`

	DepsScript string `help:"Path to the top-level dependency script." default:"cmakex-deps"`

	Update                  string `help:"Update policy: off, if_clean, if_very_clean, all_clean, all_very_clean, force." default:"if_clean" enum:"off,if_clean,if_very_clean,all_clean,all_very_clean,force"`
	Force                   bool   `help:"Rebuild every cloned package regardless of its installed status."`
	ClearDownloadedIncludes bool   `help:"Remove previously downloaded include-only packages before resolving."`
	SingleBuildDir          bool   `help:"Share one build directory per package across configs instead of one per (package, config)."`

	DepsSourceDir  string `help:"Override the dependency clone directory (default: <binary-dir>/_deps)." type:"path"`
	DepsBuildDir   string `help:"Override the dependency build directory (default: <binary-dir>/_deps-build)." type:"path"`
	DepsInstallDir string `help:"Override the shared dependency install prefix (default: <binary-dir>/_deps-install)." type:"path"`

	ContainerBuilds bool   `help:"Run configure/build/install steps inside a container instead of on the host."`
	ContainerImage  string `help:"Container image providing the native build tool." default:"cmakex/build-env:latest"`
}

// Run resolves the dependency graph and builds every package the
// resolver decides needs it.
func (c *BuildCmd) Run(k *kong.Context, log logging.Logger) error {
	ctx := context.Background()
	fs := afero.NewOsFs()

	args, err := argnorm.Normalize(c.Args, c.SourceDir)
	if err != nil {
		return errors.Wrap(err, errNormalizeArgs)
	}

	cfg := model.EngineConfig{
		SourceDir:               c.SourceDir,
		BinaryDir:               c.BinaryDir,
		Configs:                 configNames(c.Configs),
		BuildArgs:               args,
		DepsScript:              c.DepsScript,
		UpdatePolicy:            model.UpdatePolicy(c.Update),
		ForceBuild:              c.Force,
		ClearDownloadedIncludes: c.ClearDownloadedIncludes,
		SingleBuildDir:          c.SingleBuildDir,
		DepsSourceDir:           c.DepsSourceDir,
		DepsBuildDir:            c.DepsBuildDir,
		DepsInstallDir:          c.DepsInstallDir,
		ContainerBuilds:         c.ContainerBuilds,
	}
	paths := layout.New(cfg)

	facts, found, err := layout.LoadCacheFacts(fs, paths)
	if err != nil {
		return err
	}
	if err := layout.EnsureConsistentBinDirsPolicy(facts, found, cfg.SingleBuildDir); err != nil {
		return err
	}
	facts.PerConfigBinDirs = !cfg.SingleBuildDir
	if err := layout.SaveCacheFacts(fs, paths, facts); err != nil {
		return err
	}

	clone := clonedriver.New(log)
	scripts := &depsscript.Runner{}

	requests, err := topLevelRequests(ctx, scripts, cfg)
	if err != nil {
		return errors.Wrap(err, errRunDepsScript)
	}

	eng := resolver.New(fs, log, cfg, clone, scripts, nil)
	plan, err := eng.Resolve(ctx, requests)
	if err != nil {
		return errors.Wrap(err, errResolve)
	}
	for _, w := range plan.Warnings {
		fmt.Fprintln(k.Stdout, "warning:", w)
	}

	if len(plan.BuildOrder) == 0 {
		fmt.Fprintln(k.Stdout, "nothing to build")
	} else {
		fmt.Fprintln(k.Stdout, "build order:", plan.BuildOrder)
	}

	build, err := buildDriver(c, log)
	if err != nil {
		return err
	}
	ex := executor.New(fs, log, paths, build)
	if err := ex.Run(ctx, plan); err != nil {
		return errors.Wrap(err, errExecute)
	}

	for pkg, modules := range plan.HijackModules {
		for _, m := range modules {
			if err := layout.WriteHijackModule(fs, paths, pkg, m); err != nil {
				return errors.Wrap(err, errWriteHijack)
			}
		}
	}
	return nil
}

// buildDriver picks the host or container build driver according to
// BuildCmd.ContainerBuilds.
func buildDriver(c *BuildCmd, log logging.Logger) (builddriver.Driver, error) {
	if !c.ContainerBuilds {
		return builddriver.New(log), nil
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, errDockerClient)
	}
	return builddriver.NewContainerDriver(cli, c.ContainerImage, log), nil
}

func configNames(raw []string) []model.ConfigName {
	out := make([]model.ConfigName, 0, len(raw))
	for _, r := range raw {
		out = append(out, model.NormalizeConfigName(r))
	}
	return out
}

// topLevelRequests runs the project's top-level dependency script (if any)
// to obtain the initial set of package requests.
func topLevelRequests(ctx context.Context, scripts *depsscript.Runner, cfg model.EngineConfig) ([]model.PackageRequest, error) {
	if cfg.DepsScript == "" {
		return nil, nil
	}
	return scripts.Run(ctx, cfg.DepsScript, cfg.SourceDir)
}
