package builddriver

import (
	"context"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/cmakex/cmakex-go/internal/model"
)

// ContainerDriver runs configure/build/install steps inside a short-lived
// container instead of on the host, for hermetic dependency builds
// (EngineConfig.ContainerBuilds). Grounded on the pack's docker/docker and
// docker/go-connections usage (crossplane and lazydocker both depend on
// github.com/docker/docker for their own container interactions).
type ContainerDriver struct {
	log   logging.Logger
	image string // base image providing the native build tool
	cli   client.APIClient
}

// NewContainerDriver returns a ContainerDriver that runs steps in `image`
// using the given Docker API client.
func NewContainerDriver(cli client.APIClient, image string, log logging.Logger) *ContainerDriver {
	return &ContainerDriver{cli: cli, image: image, log: log}
}

var _ Driver = (*ContainerDriver)(nil)

// Configure runs cmake's configure step inside the container image,
// mounting sourceDir and buildDir as bind mounts.
func (d *ContainerDriver) Configure(ctx context.Context, pkg model.PackageName, sourceDir, buildDir string, cfg model.ConfigName, args model.BuildArgs) (Output, error) {
	cmd := append([]string{"cmake", "-S", "/src", "-B", "/build"}, renderArgs(args)...)
	return d.runInContainer(ctx, pkg, "configure", cfg, sourceDir, buildDir, cmd)
}

// Build runs cmake's build step inside the container image.
func (d *ContainerDriver) Build(ctx context.Context, pkg model.PackageName, buildDir string, cfg model.ConfigName, targets []string, extraArgs []string) (Output, error) {
	cmd := []string{"cmake", "--build", "/build"}
	if cfg != "" {
		cmd = append(cmd, "--config", string(cfg))
	}
	for _, t := range targets {
		cmd = append(cmd, "--target", t)
	}
	if len(extraArgs) > 0 {
		cmd = append(cmd, "--")
		cmd = append(cmd, extraArgs...)
	}
	return d.runInContainer(ctx, pkg, "build", cfg, "", buildDir, cmd)
}

// Install runs cmake's install step inside the container image.
func (d *ContainerDriver) Install(ctx context.Context, pkg model.PackageName, buildDir string, cfg model.ConfigName) (Output, []string, error) {
	cmd := []string{"cmake", "--install", "/build"}
	if cfg != "" {
		cmd = append(cmd, "--config", string(cfg))
	}
	out, err := d.runInContainer(ctx, pkg, "install", cfg, "", buildDir, cmd)
	if err != nil {
		return out, nil, err
	}
	modules, _ := findInstalledModules(out.Stdout)
	return out, modules, nil
}

func (d *ContainerDriver) runInContainer(ctx context.Context, pkg model.PackageName, step string, cfg model.ConfigName, sourceDir, buildDir string, cmd []string) (Output, error) {
	mounts := []mountSpec{{source: buildDir, target: "/build"}}
	if sourceDir != "" {
		mounts = append(mounts, mountSpec{source: sourceDir, target: "/src"})
	}

	created, err := d.cli.ContainerCreate(ctx, &container.Config{
		Image:      d.image,
		Cmd:        cmd,
		WorkingDir: "/build",
	}, hostConfigFor(mounts), nil, nil, "")
	if err != nil {
		return Output{}, errors.Wrapf(err, "cannot create container for %s/%s", pkg, step)
	}
	defer d.cli.ContainerRemove(ctx, created.ID, container.RemoveOptions{Force: true})

	if err := d.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return Output{}, errors.Wrapf(err, "cannot start container for %s/%s", pkg, step)
	}

	statusCh, errCh := d.cli.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return Output{}, errors.Wrapf(err, "cannot wait for container for %s/%s", pkg, step)
		}
	case status := <-statusCh:
		out := Output{ExitCode: int(status.StatusCode)}
		if status.StatusCode != 0 {
			return out, errors.Errorf("container for %s/%s exited with status %d", pkg, step, status.StatusCode)
		}
		return out, nil
	}
	return Output{}, nil
}

type mountSpec struct {
	source string
	target string
}

func hostConfigFor(mounts []mountSpec) *container.HostConfig {
	hc := &container.HostConfig{}
	for _, m := range mounts {
		hc.Mounts = append(hc.Mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: m.source,
			Target: m.target,
		})
	}
	return hc
}
