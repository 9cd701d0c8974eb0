// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package executor

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"sync"
	"time"

	"github.com/docker/go-connections/nat"

	"github.com/rapidaai/mediacore/pkg/commons"
	"github.com/rapidaai/mediacore/pkg/manifest"
	"github.com/rapidaai/mediacore/pkg/pipelineerr"
	"github.com/rapidaai/mediacore/pkg/registry"
	"github.com/rapidaai/mediacore/pkg/runtimedata"
)

// DockerConfig parameterizes a container-backed node (§4.4.3): same
// zero-copy IPC contract as the subprocess executor, but the worker runs
// inside a container for environment isolation.
type DockerConfig struct {
	NodeID  string
	Image   string
	Command string
	Args    []string
	Env     []string

	ResourceLimits manifest.ResourceLimits
	// Ports exposes container ports in Docker's "80/tcp" spec form, for
	// nodes whose worker also serves a network-facing health or debug
	// endpoint alongside the shared-memory IPC (§4.4.3 resource limits are
	// declared per node; port publishing rides the same docker params).
	Ports []string

	SlotCapacity         int
	HeartbeatInterval    time.Duration
	MissedHeartbeatLimit int
	GracePeriod          time.Duration
	BaseDir              string
	// DockerBin overrides the "docker" binary name, primarily for tests
	// that stub it out with a fake CLI.
	DockerBin string
}

func (c DockerConfig) dockerBin() string {
	if c.DockerBin != "" {
		return c.DockerBin
	}
	return "docker"
}

func (c DockerConfig) baseDir() string {
	if c.BaseDir != "" {
		return c.BaseDir
	}
	return "/dev/shm"
}

var containerNameRe = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

func containerNameForImage(image string) string {
	return "mediacore-" + containerNameRe.ReplaceAllString(image, "-")
}

type containerRef struct {
	count int
}

// containerManager tracks one running container per image across every
// DockerExecutor in the process, so nodes that share an image share one
// container instead of each spawning its own (§4.4.3: "idempotent and
// reference-counted across nodes that share an image").
type containerManager struct {
	mu   sync.Mutex
	refs map[string]*containerRef
}

var containers = &containerManager{refs: map[string]*containerRef{}}

func (m *containerManager) acquire(dockerBin, image, shmDir string, limits manifest.ResourceLimits, ports []string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := containerNameForImage(image)
	if ref, ok := m.refs[name]; ok {
		ref.count++
		return name, nil
	}

	args := []string{"run", "-d", "--name", name, "--rm", "-v", shmDir + ":/dev/shm"}
	if limits.MemoryMB > 0 {
		args = append(args, "--memory", fmt.Sprintf("%dm", limits.MemoryMB))
	}
	if limits.CPUCores > 0 {
		args = append(args, "--cpus", fmt.Sprintf("%.2f", limits.CPUCores))
	}
	if len(ports) > 0 {
		exposed, bindings, err := nat.ParsePortSpecs(ports)
		if err != nil {
			return "", fmt.Errorf("docker: parse port specs %v: %w", ports, err)
		}
		for port := range exposed {
			args = append(args, "--expose", string(port))
		}
		for port, binds := range bindings {
			for _, b := range binds {
				hostPort := b.HostPort
				if hostPort == "" {
					hostPort = port.Port()
				}
				args = append(args, "-p", fmt.Sprintf("%s:%s", hostPort, port))
			}
		}
	}
	args = append(args, image, "sleep", "infinity")

	if err := exec.Command(dockerBin, args...).Run(); err != nil {
		return "", fmt.Errorf("docker run %s: %w", image, err)
	}
	m.refs[name] = &containerRef{count: 1}
	return name, nil
}

func (m *containerManager) release(dockerBin, image string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := containerNameForImage(image)
	ref, ok := m.refs[name]
	if !ok {
		return nil
	}
	ref.count--
	if ref.count > 0 {
		return nil
	}
	delete(m.refs, name)
	return exec.Command(dockerBin, "rm", "-f", name).Run()
}

// DockerExecutor delegates the IPC/heartbeat/process-lifecycle mechanics to
// an embedded SubprocessExecutor whose "process" is a `docker exec` into a
// shared, reference-counted container.
type DockerExecutor struct {
	cfg    DockerConfig
	logger commons.Logger

	mu    sync.Mutex
	inner *SubprocessExecutor
}

// NewDocker builds an uninitialized DockerExecutor.
func NewDocker(cfg DockerConfig, logger commons.Logger) *DockerExecutor {
	if logger == nil {
		logger = commons.NewNopLogger()
	}
	return &DockerExecutor{cfg: cfg, logger: logger}
}

func (d *DockerExecutor) Initialize(ctx context.Context, init registry.InitContext) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inner != nil {
		return nil
	}

	name, err := containers.acquire(d.cfg.dockerBin(), d.cfg.Image, d.cfg.baseDir(), d.cfg.ResourceLimits, d.cfg.Ports)
	if err != nil {
		return pipelineerr.New(pipelineerr.KindNodeInit, d.cfg.NodeID, "acquire container", err)
	}

	execArgs := append([]string{"exec", "-i", name, d.cfg.Command}, d.cfg.Args...)
	inner := NewSubprocess(SubprocessConfig{
		NodeID:               d.cfg.NodeID,
		Command:              d.cfg.dockerBin(),
		Args:                 execArgs,
		Env:                  d.cfg.Env,
		SlotCapacity:         d.cfg.SlotCapacity,
		HeartbeatInterval:    d.cfg.HeartbeatInterval,
		MissedHeartbeatLimit: d.cfg.MissedHeartbeatLimit,
		GracePeriod:          d.cfg.GracePeriod,
		BaseDir:              d.cfg.BaseDir,
	}, d.logger)

	if err := inner.Initialize(ctx, init); err != nil {
		containers.release(d.cfg.dockerBin(), d.cfg.Image)
		return err
	}
	d.inner = inner
	return nil
}

func (d *DockerExecutor) ProcessUnary(ctx context.Context, input runtimedata.RuntimeData) ([]runtimedata.RuntimeData, error) {
	d.mu.Lock()
	inner := d.inner
	d.mu.Unlock()
	if inner == nil {
		return nil, pipelineerr.New(pipelineerr.KindNodeProcess, d.cfg.NodeID, "docker executor not initialized", nil)
	}
	return inner.ProcessUnary(ctx, input)
}

func (d *DockerExecutor) OpenStream(ctx context.Context, init registry.InitContext) (registry.StreamHandle, error) {
	d.mu.Lock()
	inner := d.inner
	d.mu.Unlock()
	if inner == nil {
		return nil, pipelineerr.New(pipelineerr.KindNodeProcess, d.cfg.NodeID, "docker executor not initialized", nil)
	}
	return inner.OpenStream(ctx, init)
}

func (d *DockerExecutor) Cleanup(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inner == nil {
		return nil
	}
	innerErr := d.inner.Cleanup(ctx)
	d.inner = nil
	if err := containers.release(d.cfg.dockerBin(), d.cfg.Image); err != nil {
		d.logger.Warnw("failed to release container", "node_id", d.cfg.NodeID, "image", d.cfg.Image, "error", err)
	}
	return innerErr
}
