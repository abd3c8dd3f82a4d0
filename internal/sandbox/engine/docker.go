package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	appErr "codesandbox/pkg/errors"
	"codesandbox/pkg/utils/logger"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/jsonmessage"
	"go.uber.org/zap"
)

// ContainerSpec is the resource envelope of a session container.
type ContainerSpec struct {
	Image       string
	Cmd         []string
	HostDir     string
	MountPath   string
	MemoryBytes int64
	NanoCPUs    int64
	PidsLimit   int64
	TmpfsSize   string
	Labels      map[string]string
}

// ExecStream is an attached in-container process.
type ExecStream interface {
	ID() string
	// Output yields the multiplexed stdout/stderr stream.
	Output() io.Reader
	Stdin() io.Writer
	CloseWrite() error
	Close() error
}

// ContainerClient is the subset of the container engine the backend needs.
type ContainerClient interface {
	ImageExists(ctx context.Context, ref string) (bool, error)
	PullImage(ctx context.Context, ref string) error
	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)
	StartContainer(ctx context.Context, id string) error
	Exec(ctx context.Context, containerID string, argv []string, workDir string, withStdin bool) (ExecStream, error)
	ExecStatus(ctx context.Context, execID string) (running bool, exitCode int, err error)
	MemoryUsage(ctx context.Context, containerID string) (int64, error)
	RemoveContainer(ctx context.Context, id string) error
}

// DockerClient implements ContainerClient with the Docker Engine API.
type DockerClient struct {
	cli *client.Client
}

// NewDockerClient connects using the environment, or host when set.
func NewDockerClient(host string) (*DockerClient, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ContainerEngineError, "create docker client failed")
	}
	return &DockerClient{cli: cli}, nil
}

// Close releases the client transport.
func (d *DockerClient) Close() error {
	return d.cli.Close()
}

func (d *DockerClient) ImageExists(ctx context.Context, ref string) (bool, error) {
	_, _, err := d.cli.ImageInspectWithRaw(ctx, ref)
	if err == nil {
		return true, nil
	}
	if errdefs.IsNotFound(err) {
		return false, nil
	}
	return false, appErr.Wrapf(err, appErr.ContainerEngineError, "inspect image %s failed", ref)
}

// PullImage blocks until the pull stream ends, logging progress as it goes.
func (d *DockerClient) PullImage(ctx context.Context, ref string) error {
	rc, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return appErr.Wrapf(err, appErr.ImagePullFailed, "pull image %s failed", ref)
	}
	defer rc.Close()

	dec := json.NewDecoder(rc)
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return appErr.Wrapf(err, appErr.ImagePullFailed, "read pull progress for %s failed", ref)
		}
		if msg.Error != nil {
			return appErr.Wrapf(msg.Error, appErr.ImagePullFailed, "pull image %s failed", ref)
		}
		fields := []zap.Field{zap.String("image", ref), zap.String("status", msg.Status)}
		if msg.ID != "" {
			fields = append(fields, zap.String("layer", msg.ID))
		}
		if msg.Progress != nil && msg.Progress.Total > 0 {
			fields = append(fields, zap.Int64("current", msg.Progress.Current), zap.Int64("total", msg.Progress.Total))
		}
		logger.Debug(ctx, "image pull progress", fields...)
	}
}

func (d *DockerClient) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	pids := spec.PidsLimit
	hostCfg := &container.HostConfig{
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		Mounts: []mount.Mount{{
			Type:     mount.TypeBind,
			Source:   spec.HostDir,
			Target:   spec.MountPath,
			ReadOnly: true,
		}},
		Resources: container.Resources{
			Memory:     spec.MemoryBytes,
			MemorySwap: spec.MemoryBytes,
			NanoCPUs:   spec.NanoCPUs,
		},
	}
	if pids > 0 {
		hostCfg.Resources.PidsLimit = &pids
	}
	if spec.TmpfsSize != "" {
		hostCfg.Tmpfs = map[string]string{"/tmp": "rw,noexec,nosuid,size=" + spec.TmpfsSize}
	}
	resp, err := d.cli.ContainerCreate(ctx, &container.Config{
		Image:           spec.Image,
		Cmd:             spec.Cmd,
		WorkingDir:      spec.MountPath,
		NetworkDisabled: true,
		Labels:          spec.Labels,
	}, hostCfg, nil, nil, "")
	if err != nil {
		return "", appErr.Wrapf(err, appErr.ContainerEngineError, "create container failed")
	}
	for _, w := range resp.Warnings {
		logger.Warn(ctx, "container create warning", zap.String("warning", w))
	}
	return resp.ID, nil
}

func (d *DockerClient) StartContainer(ctx context.Context, id string) error {
	if err := d.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return appErr.Wrapf(err, appErr.ContainerEngineError, "start container failed")
	}
	return nil
}

func (d *DockerClient) Exec(ctx context.Context, containerID string, argv []string, workDir string, withStdin bool) (ExecStream, error) {
	created, err := d.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          argv,
		WorkingDir:   workDir,
		AttachStdin:  withStdin,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ContainerExecFailed, "create exec failed")
	}
	resp, err := d.cli.ContainerExecAttach(ctx, created.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ContainerExecFailed, "attach exec failed")
	}
	return &dockerExec{id: created.ID, resp: resp}, nil
}

func (d *DockerClient) ExecStatus(ctx context.Context, execID string) (bool, int, error) {
	insp, err := d.cli.ContainerExecInspect(ctx, execID)
	if err != nil {
		return false, 0, appErr.Wrapf(err, appErr.ContainerExecFailed, "inspect exec failed")
	}
	return insp.Running, insp.ExitCode, nil
}

type memoryStats struct {
	MemoryStats struct {
		Usage uint64 `json:"usage"`
	} `json:"memory_stats"`
}

func (d *DockerClient) MemoryUsage(ctx context.Context, containerID string) (int64, error) {
	stats, err := d.cli.ContainerStatsOneShot(ctx, containerID)
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.ContainerEngineError, "read container stats failed")
	}
	defer stats.Body.Close()
	var ms memoryStats
	if err := json.NewDecoder(stats.Body).Decode(&ms); err != nil {
		return 0, appErr.Wrapf(err, appErr.ContainerEngineError, "decode container stats failed")
	}
	return int64(ms.MemoryStats.Usage), nil
}

func (d *DockerClient) RemoveContainer(ctx context.Context, id string) error {
	err := d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return appErr.Wrapf(err, appErr.ContainerEngineError, "remove container failed")
	}
	return nil
}

type dockerExec struct {
	id   string
	resp types.HijackedResponse
}

func (e *dockerExec) ID() string        { return e.id }
func (e *dockerExec) Output() io.Reader { return e.resp.Reader }
func (e *dockerExec) Stdin() io.Writer  { return e.resp.Conn }
func (e *dockerExec) CloseWrite() error { return e.resp.CloseWrite() }
func (e *dockerExec) Close() error {
	e.resp.Close()
	return nil
}
