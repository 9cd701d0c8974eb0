// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/rapidaai/mediacore/pkg/runtimedata"
)

// ChannelStreamHandle implements registry.StreamHandle over two buffered
// Go channels, mirroring the teacher's baseStreamer inputCh/outputCh pair:
// Send pushes onto inputCh (consumed by the node's processing goroutine),
// and the node pushes results onto outputCh for Recv to drain. Close is
// idempotent, matching baseStreamer's pushDisconnection closed-flag guard.
type ChannelStreamHandle struct {
	inputCh  chan runtimedata.RuntimeData
	outputCh chan runtimedata.RuntimeData
	errCh    chan error

	mu           sync.Mutex
	inputClosed  bool
	outputClosed bool
}

// NewChannelStreamHandle builds a handle with the given per-direction
// channel capacity (the runner's default edge capacity is 32; callers may
// size this independently for a node's internal buffering needs).
func NewChannelStreamHandle(capacity int) *ChannelStreamHandle {
	return &ChannelStreamHandle{
		inputCh:  make(chan runtimedata.RuntimeData, capacity),
		outputCh: make(chan runtimedata.RuntimeData, capacity),
		errCh:    make(chan error, 1),
	}
}

// InputCh exposes the consumer side for the node's own processing
// goroutine to range over.
func (h *ChannelStreamHandle) InputCh() <-chan runtimedata.RuntimeData { return h.inputCh }

// PushOutput is called by the node's processing goroutine to emit a
// result. It does not block indefinitely against a closed handle.
func (h *ChannelStreamHandle) PushOutput(ctx context.Context, output runtimedata.RuntimeData) error {
	h.mu.Lock()
	closed := h.outputClosed
	h.mu.Unlock()
	if closed {
		return fmt.Errorf("executor: push on closed stream")
	}
	select {
	case h.outputCh <- output:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fail records a terminal error the node's goroutine observed, surfaced to
// the next Recv call.
func (h *ChannelStreamHandle) Fail(err error) {
	select {
	case h.errCh <- err:
	default:
	}
	h.closeOutput()
}

func (h *ChannelStreamHandle) closeOutput() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.outputClosed {
		return
	}
	h.outputClosed = true
	close(h.outputCh)
}

func (h *ChannelStreamHandle) Send(ctx context.Context, input runtimedata.RuntimeData) error {
	h.mu.Lock()
	closed := h.inputClosed
	h.mu.Unlock()
	if closed {
		return fmt.Errorf("executor: send on closed stream")
	}
	select {
	case h.inputCh <- input:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *ChannelStreamHandle) Recv(ctx context.Context) (runtimedata.RuntimeData, bool, error) {
	select {
	case err := <-h.errCh:
		return nil, false, err
	case out, ok := <-h.outputCh:
		if !ok {
			return nil, false, nil
		}
		return out, true, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (h *ChannelStreamHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.inputClosed {
		h.inputClosed = true
		close(h.inputCh)
	}
	if !h.outputClosed {
		h.outputClosed = true
		close(h.outputCh)
	}
	return nil
}
