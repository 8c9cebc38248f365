// Package main implements the cmakex CLI: a dependency resolution and
// incremental rebuild engine layered on the native build tool.
package main

import (
	"github.com/alecthomas/kong"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"

	"github.com/crossplane/crossplane-runtime/pkg/logging"
)

type verboseFlag bool

// BeforeApply binds a logging.Logger into the kong context as soon as the
// flag is parsed, so every subcommand's Run method can request one.
func (v verboseFlag) BeforeApply(ctx *kong.Context) error { //nolint:unparam // BeforeApply requires this signature.
	zl, err := zap.NewDevelopment()
	if err != nil {
		zl = zap.NewNop()
	}
	logger := logging.NewLogrLogger(zapr.NewLogger(zl))
	ctx.BindTo(logger, (*logging.Logger)(nil))
	return nil
}

var cli struct {
	Build   BuildCmd   `cmd:"" default:"1" help:"Resolve and build every declared dependency."`
	Deps    DepsCmd    `cmd:"" help:"Print the dependency resolution plan without building anything."`
	Version VersionCmd `cmd:"" help:"Print version information."`

	Verbose verboseFlag `help:"Print verbose logging statements." short:"v"`
}

func main() {
	logger := logging.NewNopLogger()
	ctx := kong.Parse(&cli,
		kong.Name("cmakex"),
		kong.Description("A lightweight package manager layered on a native build tool."),
		kong.BindTo(logger, (*logging.Logger)(nil)),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run())
}
