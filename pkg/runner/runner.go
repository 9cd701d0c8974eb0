// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package runner

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rapidaai/mediacore/pkg/commons"
	"github.com/rapidaai/mediacore/pkg/manifest"
	"github.com/rapidaai/mediacore/pkg/pipelineerr"
	"github.com/rapidaai/mediacore/pkg/registry"
)

// Config tunes the runner's defaults. Zero values fall back to the spec's
// own defaults.
type Config struct {
	EdgeCapacity    int
	NodeReadTimeout time.Duration
	RetryPolicy     pipelineerr.RetryPolicy
}

func (c Config) withDefaults() Config {
	if c.EdgeCapacity <= 0 {
		c.EdgeCapacity = DefaultEdgeCapacity
	}
	if c.NodeReadTimeout <= 0 {
		c.NodeReadTimeout = 30 * time.Second
	}
	if c.RetryPolicy == (pipelineerr.RetryPolicy{}) {
		c.RetryPolicy = pipelineerr.DefaultRetryPolicy()
	}
	return c
}

// Runner is the scheduling engine described in §4.6. It is thread-safe and
// may host many concurrent sessions (unary calls or streaming sessions).
type Runner struct {
	registry *registry.Registry
	logger   commons.Logger
	cfg      Config
}

// New builds a Runner against reg. logger may be nil (a nop logger is
// used).
func New(reg *registry.Registry, logger commons.Logger, cfg Config) *Runner {
	if logger == nil {
		logger = commons.NewNopLogger()
	}
	return &Runner{registry: reg, logger: logger, cfg: cfg.withDefaults()}
}

// lossyParams is the shape the runner reads out of a node's own Params to
// decide whether its outgoing edges drop-oldest on overflow instead of
// blocking (§4.6: "a node is explicitly configured as lossy").
type lossyParams struct {
	Lossy bool `json:"lossy"`
}

func nodeIsLossy(n *manifest.Node) bool {
	if len(n.Params) == 0 {
		return false
	}
	var p lossyParams
	_ = json.Unmarshal(n.Params, &p)
	return p.Lossy
}

// buildExecutors constructs and initializes one NodeExecutor per graph
// node. initFor builds each node's own InitContext (its node_id and, in a
// streaming session, its control-bus subscription differ per node; a
// unary run shares one base InitContext with no bus). On any failure it
// cleans up everything already initialized before returning, so a partial
// build never leaks executor resources.
func (r *Runner) buildExecutors(ctx context.Context, g *manifest.Graph, initFor func(nodeID string) registry.InitContext) (map[string]registry.NodeExecutor, error) {
	built := make(map[string]registry.NodeExecutor, len(g.Nodes))
	for _, id := range g.Order {
		n := g.Nodes[id]
		ex, err := r.registry.New(n.NodeType, n.Params)
		if err != nil {
			r.cleanupAll(ctx, built)
			return nil, pipelineerr.New(pipelineerr.KindNodeInit, id, "construct node", err)
		}
		if err := ex.Initialize(ctx, initFor(id)); err != nil {
			built[id] = ex
			r.cleanupAll(ctx, built)
			return nil, pipelineerr.New(pipelineerr.KindNodeInit, id, "initialize node", err)
		}
		built[id] = ex
	}
	return built, nil
}

// cleanupAll invokes Cleanup on every executor exactly once, logging (not
// propagating) any failure — §5's "invokes each executor's cleanup exactly
// once, swallowing and logging cleanup errors".
func (r *Runner) cleanupAll(ctx context.Context, executors map[string]registry.NodeExecutor) {
	var once sync.Once
	once.Do(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for id, ex := range executors {
			if err := ex.Cleanup(cleanupCtx); err != nil {
				r.logger.Warnw("runner: node cleanup failed", "node_id", id, "error", err)
			}
		}
		_ = ctx
	})
}

// nodeAllowsDegradedOperation reports whether a circuit-broken nodeID can be
// dropped from the graph without failing the whole run, per §7: "the
// session proceeds in degraded mode if downstream allows it". Downstream
// allows it when every connection leaving nodeID targets an input port the
// receiving node has marked optional (checkRequiredPorts, at build time,
// already guarantees every non-optional port has *some* incoming edge; this
// just asks whether nodeID's specific edges are all skippable). A node with
// no outgoing connections (a sink) is trivially degradable.
func nodeAllowsDegradedOperation(g *manifest.Graph, nodeID string) bool {
	for _, conn := range g.FanOut[nodeID] {
		downstream, ok := g.Nodes[conn.To.NodeID]
		if !ok {
			return false
		}
		if !contains(downstream.OptionalInputPorts, conn.To.Port) {
			return false
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// newSessionID returns a fresh session_id when the caller did not supply
// one.
func newSessionID() string { return uuid.NewString() }

func sessionDeadline(ctx context.Context, explicit time.Duration) time.Time {
	if dl, ok := ctx.Deadline(); ok {
		return dl
	}
	if explicit > 0 {
		return time.Now().Add(explicit)
	}
	return time.Time{}
}

func withOptionalDeadline(ctx context.Context, deadline time.Time) (context.Context, context.CancelFunc) {
	if deadline.IsZero() {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, deadline)
}
