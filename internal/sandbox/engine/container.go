package engine

import (
	"context"
	"fmt"
	"io"
	"time"

	"codesandbox/internal/sandbox/observer"
	"codesandbox/internal/sandbox/profile"
	"codesandbox/internal/sandbox/result"
	appErr "codesandbox/pkg/errors"
	"codesandbox/pkg/utils/logger"

	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"
)

const (
	defaultMountPath       = "/app"
	defaultSampleInterval  = 100 * time.Millisecond
	defaultTeardownTimeout = 10 * time.Second
	exitStatusTimeout      = 2 * time.Second
	exitStatusPoll         = 20 * time.Millisecond
)

// ContainerConfig controls the container backend.
type ContainerConfig struct {
	Image           string
	KeeperCmd       []string
	MountPath       string
	MemoryBytes     int64
	NanoCPUs        int64
	PidsLimit       int64
	TmpfsSize       string
	HeapMB          int64
	TimeLimit       time.Duration
	SampleInterval  time.Duration
	TeardownTimeout time.Duration
	MaxOutputBytes  int64
	InputMode       string
	StderrIsError   bool
}

func (c *ContainerConfig) applyDefaults() {
	if c.MountPath == "" {
		c.MountPath = defaultMountPath
	}
	if len(c.KeeperCmd) == 0 {
		c.KeeperCmd = []string{"sleep", "infinity"}
	}
	if c.SampleInterval <= 0 {
		c.SampleInterval = defaultSampleInterval
	}
	if c.TeardownTimeout <= 0 {
		c.TeardownTimeout = defaultTeardownTimeout
	}
}

// ContainerBackend runs every case of a session inside one container.
type ContainerBackend struct {
	cfg     ContainerConfig
	client  ContainerClient
	images  *ImageRegistry
	metrics observer.MetricsRecorder
}

// NewContainerBackend creates the container backend. images is shared process-wide.
func NewContainerBackend(cfg ContainerConfig, client ContainerClient, images *ImageRegistry, metrics observer.MetricsRecorder) *ContainerBackend {
	cfg.applyDefaults()
	if metrics == nil {
		metrics = observer.Noop{}
	}
	if images == nil {
		images = NewImageRegistry(client)
	}
	return &ContainerBackend{cfg: cfg, client: client, images: images, metrics: metrics}
}

func (b *ContainerBackend) Name() string { return BackendDocker }

// Open brings a container to the running state. On failure nothing is left behind.
func (b *ContainerBackend) Open(ctx context.Context, artifact Artifact) (CaseRunner, error) {
	s := &containerSession{backend: b, artifact: artifact, state: stateUninitialized}
	if err := s.ensureImage(ctx); err != nil {
		return nil, err
	}
	if err := s.createAndStart(ctx); err != nil {
		_ = s.teardown(ctx)
		return nil, err
	}
	return s, nil
}

type sessionState int

const (
	stateUninitialized sessionState = iota
	stateImageReady
	stateContainerCreated
	stateContainerRunning
	stateTornDown
)

func (s sessionState) String() string {
	switch s {
	case stateUninitialized:
		return "uninitialized"
	case stateImageReady:
		return "image_ready"
	case stateContainerCreated:
		return "container_created"
	case stateContainerRunning:
		return "container_running"
	case stateTornDown:
		return "torn_down"
	default:
		return "unknown"
	}
}

// containerSession owns one container. It is used by a single goroutine.
type containerSession struct {
	backend     *ContainerBackend
	artifact    Artifact
	state       sessionState
	containerID string
}

func (s *containerSession) transition(ctx context.Context, next sessionState) {
	logger.Debug(ctx, "container session state",
		zap.String("from", s.state.String()),
		zap.String("to", next.String()),
		zap.String("container_id", s.containerID),
	)
	s.state = next
}

func (s *containerSession) ensureImage(ctx context.Context) error {
	if err := s.backend.images.Ensure(ctx, s.backend.cfg.Image); err != nil {
		if appErr.GetCode(err) == appErr.InternalServerError {
			return appErr.Wrapf(err, appErr.ImagePullFailed, "prepare image %s failed", s.backend.cfg.Image)
		}
		return err
	}
	s.transition(ctx, stateImageReady)
	return nil
}

func (s *containerSession) createAndStart(ctx context.Context) error {
	cfg := s.backend.cfg
	start := time.Now()
	id, err := s.backend.client.CreateContainer(ctx, ContainerSpec{
		Image:       cfg.Image,
		Cmd:         cfg.KeeperCmd,
		HostDir:     s.artifact.Dir,
		MountPath:   cfg.MountPath,
		MemoryBytes: cfg.MemoryBytes,
		NanoCPUs:    cfg.NanoCPUs,
		PidsLimit:   cfg.PidsLimit,
		TmpfsSize:   cfg.TmpfsSize,
		Labels:      map[string]string{"app": "codesandbox"},
	})
	if err != nil {
		s.backend.metrics.ObserveContainerStart(ctx, time.Since(start), false)
		return err
	}
	s.containerID = id
	s.transition(ctx, stateContainerCreated)

	if err := s.backend.client.StartContainer(ctx, id); err != nil {
		s.backend.metrics.ObserveContainerStart(ctx, time.Since(start), false)
		return err
	}
	s.backend.metrics.ObserveContainerStart(ctx, time.Since(start), true)
	s.transition(ctx, stateContainerRunning)
	return nil
}

// Run executes one case with an in-container exec.
func (s *containerSession) Run(ctx context.Context, input string) (result.RunResult, error) {
	if s.state != stateContainerRunning {
		return result.RunResult{}, appErr.New(appErr.ContainerEngineError).WithMessagef("container session is %s", s.state)
	}
	res, err := s.execOne(ctx, input)
	if err != nil {
		return res, err
	}
	classify(&res, s.backend.cfg.StderrIsError)
	s.backend.metrics.ObserveRun(ctx, BackendDocker, res.Failed(), res.TimeMs, res.MemoryBytes, res.MemoryMeasured)
	return res, nil
}

func (s *containerSession) execOne(ctx context.Context, input string) (result.RunResult, error) {
	cfg := s.backend.cfg
	argv, err := profile.BuildCommand(s.artifact.Language.RunCmdTpl, profile.Vars{
		Dir:    cfg.MountPath,
		Main:   s.artifact.Language.MainClass,
		HeapMB: cfg.HeapMB,
	})
	if err != nil {
		return result.RunResult{}, err
	}
	stdinMode := cfg.InputMode == InputModeStdin
	if !stdinMode {
		argv = append(argv, profile.CaseArgs(input)...)
	}

	stream, err := s.backend.client.Exec(ctx, s.containerID, argv, cfg.MountPath, stdinMode)
	if err != nil {
		return result.RunResult{}, err
	}
	defer stream.Close()

	start := time.Now()
	sampler := startMemorySampler(ctx, s.backend.client, s.containerID, cfg.SampleInterval)

	if stdinMode {
		if _, err := io.WriteString(stream.Stdin(), profile.CaseStdin(input)); err != nil {
			logger.Warn(ctx, "write exec stdin failed", zap.Error(err))
		}
		_ = stream.CloseWrite()
	}

	stdout := newLimitedBuffer(cfg.MaxOutputBytes)
	stderr := newLimitedBuffer(cfg.MaxOutputBytes)
	captureDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(stdout, stderr, stream.Output())
		captureDone <- err
	}()

	var deadline <-chan time.Time
	if cfg.TimeLimit > 0 {
		timer := time.NewTimer(cfg.TimeLimit)
		defer timer.Stop()
		deadline = timer.C
	}

	timedOut := false
	var captureErr error
	select {
	case captureErr = <-captureDone:
	case <-deadline:
		timedOut = true
		_ = stream.Close()
		<-captureDone
	case <-ctx.Done():
		_ = stream.Close()
		<-captureDone
	}
	elapsed := time.Since(start)
	peak, measured := sampler.stop()

	// Buffers are only read once the capture goroutine has finished.
	res := result.RunResult{
		Stdout:         stdout.String(),
		Stderr:         stderr.String(),
		TimeMs:         elapsed.Milliseconds(),
		MemoryBytes:    peak,
		MemoryMeasured: measured,
	}
	if timedOut {
		res.TimedOut = true
		res.ExitCode = -1
		res.ErrorMessage = fmt.Sprintf("time limit exceeded after %dms", cfg.TimeLimit.Milliseconds())
		logger.Info(ctx, "exec timed out", zap.String("exec_id", stream.ID()), zap.Int64("time_ms", res.TimeMs))
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return res, appErr.Wrapf(err, appErr.Timeout, "exec cancelled")
	}
	if captureErr != nil {
		logger.Warn(ctx, "exec output stream ended with error", zap.Error(captureErr))
	}

	code, err := s.waitExitCode(ctx, stream.ID())
	if err != nil {
		return res, err
	}
	res.ExitCode = code
	return res, nil
}

// waitExitCode polls briefly: the output stream can close just before the engine records the exit.
func (s *containerSession) waitExitCode(ctx context.Context, execID string) (int, error) {
	deadline := time.Now().Add(exitStatusTimeout)
	for {
		running, code, err := s.backend.client.ExecStatus(ctx, execID)
		if err != nil {
			return -1, err
		}
		if !running {
			return code, nil
		}
		if time.Now().After(deadline) {
			return -1, appErr.New(appErr.ContainerExecFailed).WithMessage("exec still running after its output closed")
		}
		select {
		case <-ctx.Done():
			return -1, appErr.Wrapf(ctx.Err(), appErr.Timeout, "wait for exec exit cancelled")
		case <-time.After(exitStatusPoll):
		}
	}
}

// Close force-removes the container. It uses its own bounded context so a
// cancelled session still cleans up.
func (s *containerSession) Close(ctx context.Context) error {
	return s.teardown(ctx)
}

func (s *containerSession) teardown(ctx context.Context) error {
	if s.state == stateTornDown {
		return nil
	}
	defer s.transition(ctx, stateTornDown)
	if s.containerID == "" {
		return nil
	}
	rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.backend.cfg.TeardownTimeout)
	defer cancel()
	if err := s.backend.client.RemoveContainer(rmCtx, s.containerID); err != nil {
		logger.Error(ctx, "remove container failed", zap.String("container_id", s.containerID), zap.Error(err))
		return err
	}
	return nil
}

// memorySampler tracks the running maximum of container memory for one exec.
type memorySampler struct {
	cancel   context.CancelFunc
	done     chan struct{}
	peak     int64
	measured bool
}

func startMemorySampler(ctx context.Context, client ContainerClient, containerID string, interval time.Duration) *memorySampler {
	sctx, cancel := context.WithCancel(ctx)
	m := &memorySampler{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			if usage, err := client.MemoryUsage(sctx, containerID); err == nil {
				m.measured = true
				if usage > m.peak {
					m.peak = usage
				}
			}
			select {
			case <-sctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return m
}

// stop halts sampling and returns the peak. Fields are read only after the goroutine exits.
func (m *memorySampler) stop() (int64, bool) {
	m.cancel()
	<-m.done
	return m.peak, m.measured
}
