// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rapidaai/mediacore/pkg/commons"
	"github.com/rapidaai/mediacore/pkg/executor/internal/procgroup"
	"github.com/rapidaai/mediacore/pkg/ipcring"
	"github.com/rapidaai/mediacore/pkg/pipelineerr"
	"github.com/rapidaai/mediacore/pkg/registry"
	"github.com/rapidaai/mediacore/pkg/runtimedata"
)

const (
	defaultHeartbeatInterval    = 250 * time.Millisecond
	defaultMissedHeartbeatLimit = 3
	defaultGracePeriod          = 5 * time.Second
)

// SubprocessConfig parameterizes one subprocess-backed node (§4.4.2): the
// worker command to spawn and the shared-memory IPC it communicates over.
type SubprocessConfig struct {
	NodeID  string
	Command string
	Args    []string
	Env     []string

	SlotCapacity         int
	HeartbeatInterval    time.Duration
	MissedHeartbeatLimit int
	GracePeriod          time.Duration
	// BaseDir overrides /dev/shm, primarily for tests.
	BaseDir string
}

func (c SubprocessConfig) slotCapacity() int {
	if c.SlotCapacity > 0 {
		return c.SlotCapacity
	}
	return ipcring.DefaultSlotCapacity
}

func (c SubprocessConfig) heartbeatInterval() time.Duration {
	if c.HeartbeatInterval > 0 {
		return c.HeartbeatInterval
	}
	return defaultHeartbeatInterval
}

func (c SubprocessConfig) missedHeartbeatLimit() int {
	if c.MissedHeartbeatLimit > 0 {
		return c.MissedHeartbeatLimit
	}
	return defaultMissedHeartbeatLimit
}

func (c SubprocessConfig) gracePeriod() time.Duration {
	if c.GracePeriod > 0 {
		return c.GracePeriod
	}
	return defaultGracePeriod
}

// SubprocessExecutor runs a node's logic in a separate worker process,
// exchanging RuntimeData over a pair of zero-copy shared-memory rings
// (§4.4.2). It owns the worker's full lifecycle: spawn on Initialize,
// SIGTERM-then-grace-then-SIGKILL on Cleanup, and continuous heartbeat
// liveness checking in between.
type SubprocessExecutor struct {
	cfg    SubprocessConfig
	logger commons.Logger

	mu          sync.Mutex
	initialized bool
	cleanedUp   bool

	namespace string
	cmd       *exec.Cmd
	waitCh    chan error
	exitErr   error

	toWorker      *ipcring.Channel
	fromWorker    *ipcring.Channel
	heartbeatRing *ipcring.Ring

	processExited   chan struct{}
	heartbeatCancel context.CancelFunc
	unhealthy       atomic.Bool
}

// NewSubprocess builds an uninitialized SubprocessExecutor. Call
// Initialize to spawn the worker.
func NewSubprocess(cfg SubprocessConfig, logger commons.Logger) *SubprocessExecutor {
	if logger == nil {
		logger = commons.NewNopLogger()
	}
	return &SubprocessExecutor{cfg: cfg, logger: logger}
}

func (s *SubprocessExecutor) Initialize(ctx context.Context, init registry.InitContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}

	s.namespace = init.SessionID + "-" + s.cfg.NodeID
	baseDir := s.cfg.BaseDir

	toWorker, err := ipcring.CreateChannel(s.namespace, "to-worker", s.cfg.slotCapacity(), baseDir)
	if err != nil {
		return pipelineerr.New(pipelineerr.KindNodeInit, s.cfg.NodeID, "create to-worker IPC channel", err)
	}
	fromWorker, err := ipcring.CreateChannel(s.namespace, "from-worker", s.cfg.slotCapacity(), baseDir)
	if err != nil {
		toWorker.Close()
		return pipelineerr.New(pipelineerr.KindNodeInit, s.cfg.NodeID, "create from-worker IPC channel", err)
	}
	heartbeatRing, err := ipcring.Create(ipcring.Config{
		Namespace: s.namespace, Name: "heartbeat", SlotCapacity: 8, SlotCount: 2, BaseDir: baseDir,
	})
	if err != nil {
		toWorker.Close()
		fromWorker.Close()
		return pipelineerr.New(pipelineerr.KindNodeInit, s.cfg.NodeID, "create heartbeat ring", err)
	}

	cmd := exec.Command(s.cfg.Command, s.cfg.Args...)
	cmd.Env = append(append(os.Environ(), s.cfg.Env...),
		"MEDIACORE_SHM_NAMESPACE="+s.namespace,
		"MEDIACORE_SHM_BASEDIR="+baseDir,
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	procgroup.Set(cmd)

	if err := cmd.Start(); err != nil {
		toWorker.Close()
		fromWorker.Close()
		heartbeatRing.Close()
		return pipelineerr.New(pipelineerr.KindNodeInit, s.cfg.NodeID, "start worker process", err)
	}

	s.cmd = cmd
	s.toWorker = toWorker
	s.fromWorker = fromWorker
	s.heartbeatRing = heartbeatRing
	s.waitCh = make(chan error, 1)
	s.processExited = make(chan struct{})

	s.startWaitLoop()
	s.startHeartbeatMonitor()
	s.initialized = true
	return nil
}

func (s *SubprocessExecutor) startWaitLoop() {
	cmd, waitCh, processExited := s.cmd, s.waitCh, s.processExited
	go func() {
		err := cmd.Wait()
		// waitCh is buffered: report the exit before taking s.mu, since
		// Cleanup holds s.mu while procgroup.Terminate waits on waitCh.
		waitCh <- err
		s.mu.Lock()
		s.exitErr = err
		s.mu.Unlock()
		close(processExited)
	}()
}

func (s *SubprocessExecutor) startHeartbeatMonitor() {
	hctx, cancel := context.WithCancel(context.Background())
	s.heartbeatCancel = cancel
	ring := s.heartbeatRing
	interval := s.cfg.heartbeatInterval()
	limit := s.cfg.missedHeartbeatLimit()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		var lastSeq uint64
		missed := 0
		for {
			select {
			case <-hctx.Done():
				return
			case <-ticker.C:
				seq := ring.ProducerSequence()
				if seq == lastSeq {
					missed++
				} else {
					missed = 0
					lastSeq = seq
					// Consume the newest heartbeat (already published, so
					// this returns at once) to free ring space; otherwise
					// the worker's Publish blocks once the ring is full.
					_, _ = ring.Observe(hctx, seq-1)
				}
				if missed >= limit {
					s.unhealthy.Store(true)
					s.logger.Warnw("subprocess worker missed heartbeat threshold",
						"node_id", s.cfg.NodeID, "missed", missed)
				}
			}
		}
	}()
}

func (s *SubprocessExecutor) aliveErr() error {
	if s.unhealthy.Load() {
		return pipelineerr.New(pipelineerr.KindNodeProcess, s.cfg.NodeID,
			"subprocess worker unhealthy: missed heartbeat threshold exceeded", nil)
	}
	select {
	case <-s.processExited:
		s.mu.Lock()
		exitErr := s.exitErr
		s.mu.Unlock()
		return pipelineerr.New(pipelineerr.KindNodeProcess, s.cfg.NodeID, "subprocess worker exited unexpectedly", exitErr)
	default:
		return nil
	}
}

func (s *SubprocessExecutor) ProcessUnary(ctx context.Context, input runtimedata.RuntimeData) ([]runtimedata.RuntimeData, error) {
	if err := s.aliveErr(); err != nil {
		return nil, err
	}
	if err := s.toWorker.SendData(ctx, input); err != nil {
		return nil, pipelineerr.New(pipelineerr.KindNodeProcess, s.cfg.NodeID, "send to worker", err)
	}
	out, err := s.recvWithLifecycle(ctx)
	if err != nil {
		return nil, err
	}
	return []runtimedata.RuntimeData{out}, nil
}

func (s *SubprocessExecutor) recvWithLifecycle(ctx context.Context) (runtimedata.RuntimeData, error) {
	type result struct {
		data runtimedata.RuntimeData
		err  error
	}
	resultCh := make(chan result, 1)
	go func() {
		data, err := s.fromWorker.RecvData(ctx)
		resultCh <- result{data, err}
	}()
	select {
	case <-s.processExited:
		s.mu.Lock()
		exitErr := s.exitErr
		s.mu.Unlock()
		return nil, pipelineerr.New(pipelineerr.KindNodeProcess, s.cfg.NodeID, "subprocess worker exited unexpectedly", exitErr)
	case r := <-resultCh:
		if r.err != nil {
			return nil, pipelineerr.New(pipelineerr.KindNodeProcess, s.cfg.NodeID, "recv from worker", r.err)
		}
		return r.data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// OpenStream returns a StreamHandle that forwards Send/Recv directly to the
// worker's IPC channel.
func (s *SubprocessExecutor) OpenStream(ctx context.Context, init registry.InitContext) (registry.StreamHandle, error) {
	if err := s.aliveErr(); err != nil {
		return nil, err
	}
	return &subprocessStreamHandle{exec: s, doneCh: make(chan struct{})}, nil
}

func (s *SubprocessExecutor) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cleanedUp {
		return nil
	}
	s.cleanedUp = true
	if s.heartbeatCancel != nil {
		s.heartbeatCancel()
	}

	var termErr error
	if s.cmd != nil {
		termErr = procgroup.Terminate(s.cmd, s.waitCh, s.cfg.gracePeriod())
	}

	if s.toWorker != nil {
		s.toWorker.Close()
	}
	if s.fromWorker != nil {
		s.fromWorker.Close()
	}
	if s.heartbeatRing != nil {
		s.heartbeatRing.Close()
	}
	// Ephemeral IPC shared memory is removed on cleanup so no segments
	// outlive the session (§6).
	if s.namespace != "" {
		if err := ipcring.RemoveNamespace(s.cfg.BaseDir, s.namespace); err != nil {
			s.logger.Warnw("failed to remove subprocess IPC namespace", "node_id", s.cfg.NodeID, "error", err)
		}
	}
	return termErr
}

type subprocessStreamHandle struct {
	exec      *SubprocessExecutor
	closeOnce sync.Once
	doneCh    chan struct{}
}

func (h *subprocessStreamHandle) Send(ctx context.Context, input runtimedata.RuntimeData) error {
	if err := h.exec.aliveErr(); err != nil {
		return err
	}
	select {
	case <-h.doneCh:
		return fmt.Errorf("executor: send on closed subprocess stream")
	default:
	}
	if err := h.exec.toWorker.SendData(ctx, input); err != nil {
		return pipelineerr.New(pipelineerr.KindNodeProcess, h.exec.cfg.NodeID, "send to worker", err)
	}
	return nil
}

func (h *subprocessStreamHandle) Recv(ctx context.Context) (runtimedata.RuntimeData, bool, error) {
	select {
	case <-h.doneCh:
		return nil, false, nil
	default:
	}
	data, err := h.exec.recvWithLifecycle(ctx)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (h *subprocessStreamHandle) Close() error {
	h.closeOnce.Do(func() { close(h.doneCh) })
	return nil
}
