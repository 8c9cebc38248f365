// Package depsscript runs a dependency script and decodes the package
// requests it emits, implementing the dependency-script protocol of
// spec.md §6: one tab-separated directive per line, decoded into a
// PackageRequest. Grounded on the build driver's os/exec-plus-line-capture
// pattern (internal/builddriver), since both are "run an external program
// and parse its stdout a line at a time".
package depsscript

import (
	"bufio"
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/crossplane/crossplane-runtime/pkg/errors"

	"github.com/cmakex/cmakex-go/internal/model"
)

// Runner executes a dependency script and parses its directive stream.
type Runner struct {
	// Interpreter, if set, is prepended to the script path as the command
	// to run (e.g. "python3"); when empty the script is executed directly
	// and must be marked executable.
	Interpreter string
}

// Run executes scriptPath with cwd as its working directory and decodes
// every directive line it writes to stdout, in order.
func (r *Runner) Run(ctx context.Context, scriptPath, cwd string) ([]model.PackageRequest, error) {
	var cmd *exec.Cmd
	if r.Interpreter != "" {
		cmd = exec.CommandContext(ctx, r.Interpreter, scriptPath)
	} else {
		cmd = exec.CommandContext(ctx, scriptPath)
	}
	cmd.Dir = cwd

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "cannot open dependency script stdout")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "cannot start dependency script %s", scriptPath)
	}

	var reqs []model.PackageRequest
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		req, err := ParseDirective(line)
		if err != nil {
			_ = cmd.Wait()
			return nil, errors.Wrapf(err, "malformed directive from %s", scriptPath)
		}
		reqs = append(reqs, req)
	}
	if err := cmd.Wait(); err != nil {
		return nil, errors.Wrapf(err, "dependency script %s failed", scriptPath)
	}
	return reqs, nil
}

// ParseDirective decodes one tab-separated directive line into a
// PackageRequest, per spec.md §6's field order: name, repo_url, revision,
// subdirectory, comma-joined build args, comma-joined configs,
// comma-joined depends, define_only, revision_override, shallow_clone,
// name_only.
func ParseDirective(line string) (model.PackageRequest, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != 11 {
		return model.PackageRequest{}, errors.Errorf("expected 11 tab-separated fields, got %d", len(fields))
	}

	name, repoURL, revision, subdirectory := fields[0], fields[1], fields[2], fields[3]
	if name == "" {
		return model.PackageRequest{}, errors.New("directive names no package")
	}

	req := model.PackageRequest{
		Name:              model.PackageName(name),
		Clone:             model.CloneSpec{RepoURL: repoURL, Revision: revision},
		Build:             model.BuildParams{Subdirectory: subdirectory},
		DependsFromScript: true,
	}
	if fields[4] != "" {
		for _, tok := range strings.Split(fields[4], ",") {
			req.Build.BuildArgs = append(req.Build.BuildArgs, model.BuildArg{Switch: "-D", Name: tok})
		}
	}
	if fields[5] != "" {
		req.Build.Configs = model.NewConfigSet(strings.Split(fields[5], ",")...)
	}
	if fields[6] != "" {
		req.Depends = map[model.PackageName]struct{}{}
		for _, d := range strings.Split(fields[6], ",") {
			req.Depends[model.PackageName(d)] = struct{}{}
		}
	}

	var err error
	if req.DefineOnly, err = parseBoolField(fields[7]); err != nil {
		return model.PackageRequest{}, err
	}
	if req.RevisionOverride, err = parseBoolField(fields[8]); err != nil {
		return model.PackageRequest{}, err
	}
	if req.ShallowClone, err = parseBoolField(fields[9]); err != nil {
		return model.PackageRequest{}, err
	}
	if req.NameOnly, err = parseBoolField(fields[10]); err != nil {
		return model.PackageRequest{}, err
	}
	return req, nil
}

func parseBoolField(f string) (bool, error) {
	if f == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(f)
	if err != nil {
		return false, errors.Wrapf(err, "invalid boolean flag %q", f)
	}
	return b, nil
}
