// Package builddriver implements the build driver (C5): invoking the
// underlying native build tool to configure, build, and install one
// (package, config) into a target prefix, grounded on the teacher's
// os/exec usage in cmd/crank/plugin/plugin.go and cmd/xfn/spark/spark.go.
package builddriver

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/cmakex/cmakex-go/internal/model"
)

// OutputFn receives a line of captured stdout or stderr as it's produced.
type OutputFn func(line string)

// Output is what a driver call reports back.
type Output struct {
	Stdout   []string
	Stderr   []string
	ExitCode int
}

// Driver is the build driver interface the resolver/executor depend on
// (spec.md §4.5).
type Driver interface {
	Configure(ctx context.Context, pkg model.PackageName, sourceDir, buildDir string, config model.ConfigName, args model.BuildArgs) (Output, error)
	Build(ctx context.Context, pkg model.PackageName, buildDir string, config model.ConfigName, targets []string, extraArgs []string) (Output, error)
	Install(ctx context.Context, pkg model.PackageName, buildDir string, config model.ConfigName) (Output, []string, error)
}

// CMakeDriver is the production Driver: it shells out to cmake. Logs for
// each step are captured to <build-dir>/cmakex-log-<step>-<config>.txt in
// addition to being returned in the step's Output, per spec.md §4.8's
// "per-step log file naming scheme".
type CMakeDriver struct {
	log      logging.Logger
	CMakeBin string // defaults to "cmake" if empty
}

// New returns a CMakeDriver.
func New(log logging.Logger) *CMakeDriver {
	return &CMakeDriver{log: log, CMakeBin: "cmake"}
}

var _ Driver = (*CMakeDriver)(nil)

func (d *CMakeDriver) bin() string {
	if d.CMakeBin == "" {
		return "cmake"
	}
	return d.CMakeBin
}

// Configure runs `cmake -S sourceDir -B buildDir <args...>`.
func (d *CMakeDriver) Configure(ctx context.Context, pkg model.PackageName, sourceDir, buildDir string, config model.ConfigName, args model.BuildArgs) (Output, error) {
	cmdArgs := []string{"-S", sourceDir, "-B", buildDir}
	cmdArgs = append(cmdArgs, renderArgs(args)...)
	return d.run(ctx, pkg, buildDir, "configure", config, cmdArgs)
}

// Build runs `cmake --build buildDir --config config [--target targets...] -- extraArgs...`.
func (d *CMakeDriver) Build(ctx context.Context, pkg model.PackageName, buildDir string, config model.ConfigName, targets []string, extraArgs []string) (Output, error) {
	cmdArgs := []string{"--build", buildDir}
	if config != "" {
		cmdArgs = append(cmdArgs, "--config", string(config))
	}
	for _, t := range targets {
		cmdArgs = append(cmdArgs, "--target", t)
	}
	if len(extraArgs) > 0 {
		cmdArgs = append(cmdArgs, "--")
		cmdArgs = append(cmdArgs, extraArgs...)
	}
	return d.run(ctx, pkg, buildDir, "build", config, cmdArgs)
}

// Install runs `cmake --install buildDir --config config` and reports any
// Find<Module>.cmake shims the install step wrote (any installed file with
// that name, wherever it was installed), so the resolver can hijack them.
func (d *CMakeDriver) Install(ctx context.Context, pkg model.PackageName, buildDir string, config model.ConfigName) (Output, []string, error) {
	cmdArgs := []string{"--install", buildDir}
	if config != "" {
		cmdArgs = append(cmdArgs, "--config", string(config))
	}
	out, err := d.run(ctx, pkg, buildDir, "install", config, cmdArgs)
	if err != nil {
		return out, nil, err
	}
	modules, _ := findInstalledModules(out.Stdout)
	return out, modules, nil
}

func (d *CMakeDriver) run(ctx context.Context, pkg model.PackageName, buildDir, step string, config model.ConfigName, args []string) (Output, error) {
	if err := os.MkdirAll(buildDir, 0o755); err != nil {
		return Output{}, err
	}
	cmd := exec.CommandContext(ctx, d.bin(), args...)
	cmd.Dir = buildDir

	logPath := filepath.Join(buildDir, "cmakex-log-"+step+"-"+config.String()+".txt")
	logFile, err := os.Create(logPath)
	if err != nil {
		return Output{}, err
	}
	defer logFile.Close()

	var mu sync.Mutex
	out := Output{}
	capture := func(r io.Reader, lines *[]string) {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			line := sc.Text()
			mu.Lock()
			*lines = append(*lines, line)
			logFile.WriteString(line + "\n")
			mu.Unlock()
		}
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return Output{}, err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return Output{}, err
	}

	if err := cmd.Start(); err != nil {
		return Output{}, err
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); capture(stdoutPipe, &out.Stdout) }()
	go func() { defer wg.Done(); capture(stderrPipe, &out.Stderr) }()
	wg.Wait()

	err = cmd.Wait()
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}
	if err != nil {
		d.log.Debug("build step failed", "package", pkg, "step", step, "config", config.String(), "error", err)
		return out, err
	}
	return out, nil
}

func renderArgs(args model.BuildArgs) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		switch a.Switch {
		case "-D":
			tok := "-D" + a.Name
			if a.Type != "" {
				tok += ":" + a.Type
			}
			tok += "=" + a.Value
			out = append(out, tok)
		case "-U":
			out = append(out, "-U"+a.Name)
		default:
			if a.Value != "" {
				out = append(out, a.Switch, a.Value)
			} else {
				out = append(out, a.Switch)
			}
		}
	}
	return out
}

// findInstalledModules scans install output for lines naming a written
// Find<Module>.cmake shim (cmake prints "-- Installing: <path>" per file).
func findInstalledModules(stdout []string) ([]string, error) {
	var modules []string
	const marker = "-- Installing: "
	for _, line := range stdout {
		idx := strings.Index(line, marker)
		if idx < 0 {
			continue
		}
		base := filepath.Base(line[idx+len(marker):])
		if strings.HasPrefix(base, "Find") && filepath.Ext(base) == ".cmake" {
			modules = append(modules, strings.TrimSuffix(strings.TrimPrefix(base, "Find"), ".cmake"))
		}
	}
	return modules, nil
}
