// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package runner implements the pipeline runner from §4.6: the unary and
// streaming execution engine, scheduling, per-edge bounded buffering, and
// backpressure. Per-node goroutine + bounded channel generalizes
// base_streamer.go's inputCh/outputCh pair from "one streamer, two
// channels" to "N nodes, one channel per edge"; cancellation/task-group
// propagation uses golang.org/x/sync/errgroup instead of a hand-rolled
// sync.WaitGroup + error channel.
package runner

import (
	"context"

	"github.com/rapidaai/mediacore/pkg/metrics"
	"github.com/rapidaai/mediacore/pkg/runtimedata"
)

// DefaultEdgeCapacity is §4.6's default bounded-channel size per edge.
const DefaultEdgeCapacity = 32

// edge is one producer/consumer bounded channel between two ports. When
// lossy is true, a full edge drops its oldest buffered item to make room
// (§4.6 "Backpressure": "No drops except when a node is explicitly
// configured as lossy (then: drop-oldest on overflow; recorded as a
// metric)"); otherwise Push blocks, cascading backpressure upstream.
type edge struct {
	ch          chan runtimedata.RuntimeData
	lossy       bool
	nodeID      string // the producing node, for drop metrics
	port        string
	closeOnce   bool
}

func newEdge(capacity int, lossy bool, nodeID, port string) *edge {
	if capacity <= 0 {
		capacity = DefaultEdgeCapacity
	}
	return &edge{ch: make(chan runtimedata.RuntimeData, capacity), lossy: lossy, nodeID: nodeID, port: port}
}

// push writes v onto the edge. A non-lossy edge blocks until ctx is done or
// room is available, propagating backpressure to the caller (and through
// it, to whatever produced v). A lossy edge never blocks: it drops the
// oldest buffered item to make room instead.
func (e *edge) push(ctx context.Context, v runtimedata.RuntimeData) error {
	if !e.lossy {
		select {
		case e.ch <- v:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for {
		select {
		case e.ch <- v:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		select {
		case <-e.ch:
			metrics.RecordEdgeDrop(e.nodeID, e.port)
		default:
		}
	}
}

func (e *edge) close() {
	if e.closeOnce {
		return
	}
	e.closeOnce = true
	close(e.ch)
}
