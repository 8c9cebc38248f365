package main

import (
	"fmt"

	"github.com/alecthomas/kong"

	"github.com/cmakex/cmakex-go/internal/version"
)

// VersionCmd prints the running binary's version.
type VersionCmd struct{}

// Run prints the binary's version string to stdout.
func (c *VersionCmd) Run(k *kong.Context) error {
	fmt.Fprintln(k.Stdout, version.New().GetVersionString())
	return nil
}
