// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package procgroup manages the lifecycle of a subprocess-executor worker
// process: grouped so a single signal reaps the whole tree, and terminated
// SIGTERM-then-grace-then-SIGKILL (§4.4.2).
package procgroup

import (
	"os/exec"
	"time"
)

// Set configures cmd to start as the leader of its own process group, a
// prerequisite for Terminate to reap the whole tree instead of only the
// immediate child.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// Terminate sends a graceful-shutdown signal to cmd's process group, waits
// up to grace for waitCh to report exit, and force-kills the group if it
// hasn't. It consumes and returns whatever waitCh reports, and is a no-op
// returning nil if cmd was never started.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	_ = terminate(cmd)
	select {
	case err := <-waitCh:
		return err
	case <-time.After(grace):
		_ = forceKill(cmd)
		return <-waitCh
	}
}
