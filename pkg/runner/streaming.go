// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rapidaai/mediacore/pkg/control"
	"github.com/rapidaai/mediacore/pkg/manifest"
	"github.com/rapidaai/mediacore/pkg/metrics"
	"github.com/rapidaai/mediacore/pkg/pipelineerr"
	"github.com/rapidaai/mediacore/pkg/registry"
	"github.com/rapidaai/mediacore/pkg/runtimedata"
)

// ErrClosed is returned by RecvOutput once a session has already surfaced
// its terminal state to one prior call (§7: "subsequent calls return
// Closed"), and by SendInput as soon as the session has ended.
var ErrClosed = errors.New("runner: session is closed")

// Session is one open streaming execution of a graph (§4.6/§6). It is safe
// for SendInput/RecvOutput to be called from different goroutines, but not
// concurrently with themselves (matching a single producer / single
// consumer per logical direction).
type Session struct {
	id       string
	runner   *Runner
	g        *manifest.Graph
	deadline time.Time

	executors map[string]registry.NodeExecutor
	bus       *control.Bus
	breaker   *pipelineerr.CircuitBreaker

	sourceEdges map[string]*edge
	externalOut chan *runtimedata.TransportData

	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	firstErr    error
	seq         uint64
	reportedEnd atomic.Bool
	closeOnce   sync.Once
	cleanupOnce sync.Once
}

// SessionID returns the session's UUID.
func (s *Session) SessionID() string { return s.id }

// ControlBus returns the session's control-message fan-out bus, so a host
// transport can Publish cancel/batch-hint/deadline messages (§4.7) and
// node implementations that want them can Subscribe by node_id.
func (s *Session) ControlBus() *control.Bus { return s.bus }

// IsActive reports whether the session's node tasks are still running.
func (s *Session) IsActive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// OpenStream builds every node's executor, wires per-edge bounded channels
// for g's connections, and starts one goroutine per node (§4.6:
// "Scheduling model: Each node runs as its own concurrent task"). ctx's
// cancellation (and/or deadline) bounds the whole session.
func (r *Runner) OpenStream(ctx context.Context, g *manifest.Graph, sessionID string, deadline time.Duration) (*Session, error) {
	if sessionID == "" {
		sessionID = newSessionID()
	}
	dl := sessionDeadline(ctx, deadline)
	sessCtx, cancel := withOptionalDeadline(ctx, dl)

	bus := control.New(sessionID, r.logger)
	// Every node gets its own control-bus subscription before Initialize
	// runs, so a node that wants CancelSpeculation/BatchHint/DeadlineWarning
	// delivery (§4.7) can start draining it from its first process call
	// onward — built-in nodes that don't care simply never read
	// init.ControlMessages.
	initByNode := map[string]registry.InitContext{}
	executors, err := r.buildExecutors(sessCtx, g, func(id string) registry.InitContext {
		ic := registry.InitContext{SessionID: sessionID, Deadline: dl, NodeID: id, ControlMessages: bus.Subscribe(id)}
		initByNode[id] = ic
		return ic
	})
	if err != nil {
		cancel()
		bus.Close()
		return nil, err
	}

	edges := map[manifest.Connection]*edge{}
	for _, id := range g.Order {
		lossy := nodeIsLossy(g.Nodes[id])
		for _, conn := range g.FanOut[id] {
			edges[conn] = newEdge(r.cfg.EdgeCapacity, lossy, id, conn.From.Port)
		}
	}
	sourceEdges := map[string]*edge{}
	for _, id := range g.Order {
		if len(g.FanIn[id]) == 0 {
			sourceEdges[id] = newEdge(r.cfg.EdgeCapacity, false, "external", "in")
		}
	}

	s := &Session{
		id:          sessionID,
		runner:      r,
		g:           g,
		deadline:    dl,
		executors:   executors,
		bus:         bus,
		breaker:     pipelineerr.NewCircuitBreaker(),
		sourceEdges: sourceEdges,
		externalOut: make(chan *runtimedata.TransportData, r.cfg.EdgeCapacity),
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	metrics.SessionOpened()

	eg, egCtx := errgroup.WithContext(sessCtx)
	for _, id := range g.Order {
		id := id
		eg.Go(func() error {
			// A bare context.Canceled/context.DeadlineExceeded (from
			// Session.Close or the session deadline firing) must reach
			// s.firstErr already classified, or RecvOutput's
			// pipelineerr.Cancelled check below never recognizes it.
			return pipelineerr.WrapContext(id, s.runNode(egCtx, id, edges, initByNode[id]))
		})
	}

	go s.await(eg)
	return s, nil
}

func (s *Session) await(eg *errgroup.Group) {
	err := eg.Wait()
	s.mu.Lock()
	s.firstErr = err
	s.mu.Unlock()
	close(s.externalOut)
	close(s.done)
	s.cleanup()
}

func (s *Session) cleanup() {
	s.cleanupOnce.Do(func() {
		s.runner.cleanupAll(context.Background(), s.executors)
		s.bus.Close()
		metrics.SessionClosed()
	})
}

// nextSeq returns the next monotonic sequence number for outbound
// TransportData envelopes, satisfying §3's per-edge-FIFO auditing use.
func (s *Session) nextSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.seq
	s.seq++
	return v
}

// SendInput pushes td.Payload into every source node (a node with no
// incoming connection). With more than one source node, every source
// receives the same payload value; no copy is made. The common case — and the
// one the ingestion registry (§4.8) normally drives instead of this call —
// is exactly one source node.
func (s *Session) SendInput(ctx context.Context, td *runtimedata.TransportData) error {
	if !s.IsActive() {
		return ErrClosed
	}
	for _, se := range s.sourceEdges {
		if err := se.push(ctx, td.Payload); err != nil {
			return err
		}
	}
	return nil
}

// RecvOutput returns the next TransportData produced by a sink node (a
// node with no outgoing connection), ok=false once the session has ended.
// The first call after end-of-stream surfaces the session's terminal
// error (nil if it ended cleanly or was cancelled by this same caller);
// every call after that returns ErrClosed, per §7's "subsequent calls
// return Closed".
func (s *Session) RecvOutput(ctx context.Context) (*runtimedata.TransportData, bool, error) {
	select {
	case td, ok := <-s.externalOut:
		if ok {
			return td, true, nil
		}
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}

	if s.reportedEnd.CompareAndSwap(false, true) {
		s.mu.Lock()
		err := s.firstErr
		s.mu.Unlock()
		if err != nil && !pipelineerr.Cancelled(err) {
			return nil, false, err
		}
		return nil, false, nil
	}
	return nil, false, ErrClosed
}

// Close cancels the session (the "canonical cause" of cancellation per
// §5) and closes every source edge. It is idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		for _, se := range s.sourceEdges {
			se.close()
		}
	})
	return nil
}

// runNode is the per-node concurrent task (§4.6/§5): it merges every
// inbound edge (plus the source edge, if this node has no fan-in), drives
// the node's executor (OpenStream for is_streaming nodes, ProcessUnary in
// a loop otherwise), and routes produced values to every outbound edge —
// or, for a sink node, to the session's externalOut channel.
func (s *Session) runNode(ctx context.Context, id string, edges map[manifest.Connection]*edge, init registry.InitContext) error {
	node := s.g.Nodes[id]
	ex := s.executors[id]

	var inputs []<-chan runtimedata.RuntimeData
	if se, ok := s.sourceEdges[id]; ok {
		inputs = append(inputs, se.ch)
	}
	for _, conn := range s.g.FanIn[id] {
		inputs = append(inputs, edges[conn].ch)
	}

	var outEdges []*edge
	for _, conn := range s.g.FanOut[id] {
		outEdges = append(outEdges, edges[conn])
	}
	isSink := len(outEdges) == 0

	route := func(ctx context.Context, v runtimedata.RuntimeData) error {
		if isSink {
			td := &runtimedata.TransportData{SessionID: s.id, SequenceNumber: s.nextSeq(), Payload: v}
			select {
			case s.externalOut <- td:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		for _, oe := range outEdges {
			if err := oe.push(ctx, v); err != nil {
				return err
			}
		}
		return nil
	}
	closeOutputs := func() {
		for _, oe := range outEdges {
			oe.close()
		}
	}

	merged := mergeChannels(ctx, inputs)

	if node.IsStreaming {
		handle, err := ex.OpenStream(ctx, init)
		if err != nil {
			return pipelineerr.New(pipelineerr.KindNodeInit, id, "open_stream", err)
		}
		defer handle.Close()
		defer closeOutputs()

		streamGroup, streamCtx := errgroup.WithContext(ctx)
		streamGroup.Go(func() error {
			return consumeMerged(streamCtx, merged, s.runner.cfg.NodeReadTimeout, id, func(v runtimedata.RuntimeData) error {
				return handle.Send(streamCtx, v)
			})
		})
		streamGroup.Go(func() error {
			for {
				out, ok, err := handle.Recv(streamCtx)
				if err != nil {
					return pipelineerr.New(pipelineerr.KindNodeProcess, id, "stream recv", err)
				}
				if !ok {
					return nil
				}
				if err := route(streamCtx, out); err != nil {
					return err
				}
			}
		})
		return streamGroup.Wait()
	}

	defer closeOutputs()
	err := consumeMerged(ctx, merged, s.runner.cfg.NodeReadTimeout, id, func(v runtimedata.RuntimeData) error {
		var outs []runtimedata.RuntimeData
		procErr := s.runner.cfg.RetryPolicy.Do(ctx, id, func() error {
			var procErr error
			outs, procErr = ex.ProcessUnary(ctx, v)
			return classifyProcessError(id, procErr)
		})
		if procErr != nil {
			if pipelineerr.Cancelled(procErr) {
				return procErr
			}
			justTripped := s.breaker.RecordFailure(id)
			if justTripped && nodeAllowsDegradedOperation(s.g, id) {
				return errNodeDegraded
			}
			if justTripped {
				return procErr
			}
			// Below the breaker threshold: drop this item and keep the
			// node running so consecutive failures can be counted.
			s.runner.logger.Warnw("runner: node failed to process an item, item dropped", "node_id", id, "error", procErr)
			return nil
		}
		s.breaker.RecordSuccess(id)
		for _, o := range outs {
			if err := route(ctx, o); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, errNodeDegraded) {
		s.runner.logger.Warnw("runner: circuit breaker tripped, node proceeding in degraded mode", "node_id", id)
		return nil
	}
	return err
}

// errNodeDegraded signals that the circuit breaker tripped on id and
// downstream tolerates its absence (§7): runNode stops feeding this node
// and returns nil rather than an error, so the session's errgroup is not
// cancelled and the rest of the graph keeps running.
var errNodeDegraded = errors.New("runner: node circuit-broken, proceeding in degraded mode")

// mergeChannels fans every input channel into one shared channel, each
// source forwarded by its own goroutine so per-edge order is preserved
// (no ordering is implied between distinct edges, matching §5b).
func mergeChannels(ctx context.Context, inputs []<-chan runtimedata.RuntimeData) <-chan runtimedata.RuntimeData {
	out := make(chan runtimedata.RuntimeData)
	var wg sync.WaitGroup
	wg.Add(len(inputs))
	for _, in := range inputs {
		in := in
		go func() {
			defer wg.Done()
			for {
				select {
				case v, ok := <-in:
					if !ok {
						return
					}
					select {
					case out <- v:
					case <-ctx.Done():
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// consumeMerged drains merged, calling fn per item, until merged closes,
// ctx is done, or a node-local read timeout elapses (§5's "bounded by
// min(session_deadline_remaining, node_read_timeout)" — ctx already
// carries the session deadline, so only the node-local timeout needs
// enforcing here).
func consumeMerged(ctx context.Context, merged <-chan runtimedata.RuntimeData, readTimeout time.Duration, nodeID string, fn func(runtimedata.RuntimeData) error) error {
	for {
		timer := time.NewTimer(readTimeout)
		select {
		case v, ok := <-merged:
			timer.Stop()
			if !ok {
				return nil
			}
			if err := fn(v); err != nil {
				return err
			}
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			return pipelineerr.New(pipelineerr.KindTimeout, nodeID, "edge read timed out", nil)
		}
	}
}
