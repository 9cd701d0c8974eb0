// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/mediacore/pkg/ipcring"
	"github.com/rapidaai/mediacore/pkg/pipelineerr"
	"github.com/rapidaai/mediacore/pkg/registry"
)

func newTestSubprocessConfig(t *testing.T, command string, args ...string) SubprocessConfig {
	t.Helper()
	return SubprocessConfig{
		NodeID:               "test-node",
		Command:              command,
		Args:                 args,
		BaseDir:              t.TempDir(),
		HeartbeatInterval:    15 * time.Millisecond,
		MissedHeartbeatLimit: 2,
		GracePeriod:          200 * time.Millisecond,
	}
}

func TestSubprocessInitializeSpawnsAndCleanupTerminates(t *testing.T) {
	cfg := newTestSubprocessConfig(t, "sh", "-c", "sleep 5")
	exec := NewSubprocess(cfg, nil)

	ctx := context.Background()
	require.NoError(t, exec.Initialize(ctx, registry.InitContext{SessionID: "sess-1"}))
	assert.NotNil(t, exec.cmd.Process)

	deadline := time.Now().Add(2 * time.Second)
	err := exec.Cleanup(ctx)
	assert.True(t, time.Now().Before(deadline), "cleanup should terminate the worker well within its grace+kill window")
	// sh -c sleep, once SIGTERM'd, typically reports a non-zero exit; we
	// only assert Cleanup returned without hanging.
	_ = err
}

func TestSubprocessCleanupIsIdempotent(t *testing.T) {
	cfg := newTestSubprocessConfig(t, "sh", "-c", "sleep 1")
	exec := NewSubprocess(cfg, nil)
	ctx := context.Background()
	require.NoError(t, exec.Initialize(ctx, registry.InitContext{SessionID: "sess-2"}))

	_ = exec.Cleanup(ctx)
	assert.NotPanics(t, func() { _ = exec.Cleanup(ctx) })
}

func TestSubprocessProcessExitSurfacesAsNodeProcessError(t *testing.T) {
	cfg := newTestSubprocessConfig(t, "sh", "-c", "exit 0")
	exec := NewSubprocess(cfg, nil)
	ctx := context.Background()
	require.NoError(t, exec.Initialize(ctx, registry.InitContext{SessionID: "sess-3"}))
	defer exec.Cleanup(ctx)

	require.Eventually(t, func() bool {
		select {
		case <-exec.processExited:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	_, err := exec.ProcessUnary(ctx, nil)
	require.Error(t, err)
	assert.Equal(t, pipelineerr.KindNodeProcess, pipelineerr.KindOf(err))
}

func TestSubprocessUnhealthyAfterMissedHeartbeats(t *testing.T) {
	cfg := newTestSubprocessConfig(t, "sh", "-c", "sleep 5")
	exec := NewSubprocess(cfg, nil)
	ctx := context.Background()
	require.NoError(t, exec.Initialize(ctx, registry.InitContext{SessionID: "sess-4"}))
	defer exec.Cleanup(ctx)

	// No one ever publishes to the heartbeat ring (the real worker would),
	// so the monitor must flip unhealthy after missedHeartbeatLimit ticks.
	require.Eventually(t, func() bool {
		return exec.unhealthy.Load()
	}, time.Second, 5*time.Millisecond)

	_, err := exec.ProcessUnary(ctx, nil)
	require.Error(t, err)
	assert.Equal(t, pipelineerr.KindNodeProcess, pipelineerr.KindOf(err))
}

func TestSubprocessHealthyWhileHeartbeatsArrive(t *testing.T) {
	cfg := newTestSubprocessConfig(t, "sh", "-c", "sleep 5")
	exec := NewSubprocess(cfg, nil)
	ctx := context.Background()
	require.NoError(t, exec.Initialize(ctx, registry.InitContext{SessionID: "sess-5"}))
	defer exec.Cleanup(ctx)

	// Simulate the worker's periodic heartbeat publish directly against the
	// same ring the monitor polls.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		var seq uint64
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_ = exec.heartbeatRing.Publish(ctx, seq, []byte{1})
				seq++
			}
		}
	}()

	time.Sleep(100 * time.Millisecond)
	assert.False(t, exec.unhealthy.Load())
}

func TestSubprocessConfigDefaults(t *testing.T) {
	cfg := SubprocessConfig{}
	assert.Equal(t, ipcring.DefaultSlotCapacity, cfg.slotCapacity())
	assert.Equal(t, defaultHeartbeatInterval, cfg.heartbeatInterval())
	assert.Equal(t, defaultMissedHeartbeatLimit, cfg.missedHeartbeatLimit())
	assert.Equal(t, defaultGracePeriod, cfg.gracePeriod())
}
