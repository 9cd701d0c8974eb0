// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package executor implements the four NodeExecutor backends named in
// §4.4: native (this file), subprocess, docker, and remote.
package executor

import (
	"context"
	"sync"

	"github.com/rapidaai/mediacore/pkg/registry"
	"github.com/rapidaai/mediacore/pkg/runtimedata"
)

// UnaryFunc is the shape a native node's business logic takes: one input
// in, zero-or-more outputs out. Most built-in DSP nodes (resample, VAD,
// codec conversion) are plain functions of this shape with no streaming
// state, so NativeExecutor wraps one directly instead of requiring every
// native node author to implement the full NodeExecutor interface.
type UnaryFunc func(ctx context.Context, input runtimedata.RuntimeData) ([]runtimedata.RuntimeData, error)

// StreamFunc opens a stateful streaming session for a native node that
// needs to accumulate state across calls.
type StreamFunc func(ctx context.Context, init registry.InitContext) (registry.StreamHandle, error)

// InitFunc is an optional hook a native node attaches via WithInit for
// session-scoped values only available at Initialize time, not at
// construction — most notably init.ControlMessages, a node's inbox on the
// session's control bus (§4.7).
type InitFunc func(ctx context.Context, init registry.InitContext) error

// NativeExecutor runs inside the core's address space with no
// serialization: the call dispatch is a direct Go function call, the same
// shape the teacher's transformer clients use to invoke an in-process
// `Transform` method rather than crossing a process boundary.
type NativeExecutor struct {
	unary      UnaryFunc
	streamFunc StreamFunc
	initFunc   InitFunc

	mu          sync.Mutex
	initialized bool
	cleanedUp   bool
}

// NewNative builds a NativeExecutor around a stateless unary function. Pass
// a nil streamFunc if the node never runs in streaming mode.
func NewNative(unary UnaryFunc, streamFunc StreamFunc) *NativeExecutor {
	return &NativeExecutor{unary: unary, streamFunc: streamFunc}
}

// WithInit attaches fn to run once, during Initialize. Chainable so a node
// factory can write `executor.NewNative(unary, nil).WithInit(fn)`.
func (n *NativeExecutor) WithInit(fn InitFunc) *NativeExecutor {
	n.initFunc = fn
	return n
}

func (n *NativeExecutor) Initialize(ctx context.Context, init registry.InitContext) error {
	n.mu.Lock()
	n.initialized = true
	n.mu.Unlock()
	if n.initFunc != nil {
		return n.initFunc(ctx, init)
	}
	return nil
}

func (n *NativeExecutor) ProcessUnary(ctx context.Context, input runtimedata.RuntimeData) ([]runtimedata.RuntimeData, error) {
	return n.unary(ctx, input)
}

func (n *NativeExecutor) OpenStream(ctx context.Context, init registry.InitContext) (registry.StreamHandle, error) {
	if n.streamFunc == nil {
		return nil, errNotStreaming
	}
	return n.streamFunc(ctx, init)
}

func (n *NativeExecutor) Cleanup(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cleanedUp = true
	return nil
}

var errNotStreaming = &notStreamingError{}

type notStreamingError struct{}

func (*notStreamingError) Error() string {
	return "executor: node does not support streaming (is_streaming=false or no stream function registered)"
}
