package main

import (
	"context"
	"fmt"

	"github.com/alecthomas/kong"
	"github.com/emicklei/dot"
	"github.com/spf13/afero"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/cmakex/cmakex-go/internal/argnorm"
	"github.com/cmakex/cmakex-go/internal/clonedriver"
	"github.com/cmakex/cmakex-go/internal/depsscript"
	"github.com/cmakex/cmakex-go/internal/model"
	"github.com/cmakex/cmakex-go/internal/resolver"
)

// DepsCmd resolves the dependency graph and reports the resulting build
// plan without invoking the build driver, for inspection and CI dry-runs.
type DepsCmd struct {
	SourceDir string `arg:"" help:"Project source directory." type:"path"`
	BinaryDir string `arg:"" help:"Project binary (build) directory." type:"path"`

	Configs    []string `help:"Build configurations (e.g. Debug,Release)." default:"NoConfig"`
	Args       []string `help:"Extra build-tool arguments, applied to every dependency." short:"D"`
	DepsScript string   `help:"Path to the top-level dependency script." default:"cmakex-deps"`

	Graph bool `help:"Render the dependency graph as Graphviz DOT instead of a plain build order."`
}

// Run resolves the dependency graph and prints either the build order or
// (with --graph) a DOT rendering of it.
func (c *DepsCmd) Run(k *kong.Context, log logging.Logger) error {
	ctx := context.Background()
	fs := afero.NewOsFs()

	args, err := argnorm.Normalize(c.Args, c.SourceDir)
	if err != nil {
		return errors.Wrap(err, errNormalizeArgs)
	}

	cfg := model.EngineConfig{
		SourceDir:  c.SourceDir,
		BinaryDir:  c.BinaryDir,
		Configs:    configNames(c.Configs),
		BuildArgs:  args,
		DepsScript: c.DepsScript,
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

	if !c.Graph {
		for _, pkg := range plan.BuildOrder {
			fmt.Fprintln(k.Stdout, pkg)
		}
		return nil
	}

	fmt.Fprintln(k.Stdout, renderGraph(plan))
	return nil
}

// renderGraph builds a Graphviz DOT representation of the packages the
// resolver decided to (re)build and the dependency edges between them.
func renderGraph(plan *resolver.Plan) string {
	g := dot.NewGraph(dot.Directed)
	nodes := map[model.PackageName]dot.Node{}
	for _, pkg := range plan.BuildOrder {
		nodes[pkg] = g.Node(string(pkg))
	}
	for _, pkg := range plan.BuildOrder {
		for _, dep := range depNames(plan, pkg) {
			if to, ok := nodes[dep]; ok {
				g.Edge(nodes[pkg], to)
			}
		}
	}
	return g.String()
}

func depNames(plan *resolver.Plan, pkg model.PackageName) []model.PackageName {
	st, ok := plan.States[pkg]
	if !ok {
		return nil
	}
	return st.Deps
}
