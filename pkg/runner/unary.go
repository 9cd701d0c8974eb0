// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package runner

import (
	"context"

	"github.com/rapidaai/mediacore/pkg/manifest"
	"github.com/rapidaai/mediacore/pkg/pipelineerr"
	"github.com/rapidaai/mediacore/pkg/registry"
	"github.com/rapidaai/mediacore/pkg/runtimedata"
)

// RunUnary drives g to completion against one input, per §4.6's "Unary
// mode": nodes run in topological order, each node's ProcessUnary is called
// once per value delivered to it, and the call returns one TransportData.
// Fan-out (one producer feeding more than one downstream input) is resolved
// by appending the same produced values to every destination's inputs; no
// copy is made. A failed call does not stop the node's remaining inputs:
// when the circuit breaker trips on a node that nothing downstream needs,
// the node is dropped; otherwise any failure fails the run.
func (r *Runner) RunUnary(ctx context.Context, g *manifest.Graph, input *runtimedata.TransportData) (*runtimedata.TransportData, error) {
	sessionID := input.SessionID
	if sessionID == "" {
		sessionID = newSessionID()
	}
	deadline := sessionDeadline(ctx, 0)
	runCtx, cancel := withOptionalDeadline(ctx, deadline)
	defer cancel()

	executors, err := r.buildExecutors(runCtx, g, func(id string) registry.InitContext {
		return registry.InitContext{SessionID: sessionID, Deadline: deadline, NodeID: id}
	})
	if err != nil {
		return nil, err
	}
	defer r.cleanupAll(context.Background(), executors)

	breaker := pipelineerr.NewCircuitBreaker()
	degraded := map[string]bool{}

	pending := map[string][]runtimedata.RuntimeData{}
	for _, id := range g.Order {
		if len(g.FanIn[id]) == 0 {
			pending[id] = append(pending[id], input.Payload)
		}
	}

	var finalOutputs []runtimedata.RuntimeData
	for _, id := range g.Order {
		if degraded[id] {
			continue
		}
		inputs := pending[id]
		ex := executors[id]

		var produced []runtimedata.RuntimeData
		var lastErr error
		for _, in := range inputs {
			var outs []runtimedata.RuntimeData
			err := r.cfg.RetryPolicy.Do(runCtx, id, func() error {
				var procErr error
				outs, procErr = ex.ProcessUnary(runCtx, in)
				return classifyProcessError(id, procErr)
			})
			if err != nil {
				if pipelineerr.Cancelled(err) {
					return nil, err
				}
				justTripped := breaker.RecordFailure(id)
				if justTripped && nodeAllowsDegradedOperation(g, id) {
					degraded[id] = true
					produced = nil
					break
				}
				if justTripped {
					return nil, err
				}
				lastErr = err
				continue
			}
			breaker.RecordSuccess(id)
			produced = append(produced, outs...)
		}
		if degraded[id] {
			continue
		}
		if lastErr != nil {
			return nil, lastErr
		}

		fanOut := g.FanOut[id]
		if len(fanOut) == 0 {
			finalOutputs = append(finalOutputs, produced...)
			continue
		}
		for _, conn := range fanOut {
			pending[conn.To.NodeID] = append(pending[conn.To.NodeID], produced...)
		}
	}

	if len(finalOutputs) == 0 {
		return nil, pipelineerr.New(pipelineerr.KindNodeProcess, "", "unary run produced no output", nil)
	}
	return &runtimedata.TransportData{
		SessionID:      sessionID,
		SequenceNumber: input.SequenceNumber,
		Metadata:       input.Metadata,
		Payload:        finalOutputs[0],
	}, nil
}

// classifyProcessError wraps a raw node error as a pipelineerr.Error
// carrying node_id and a Transient-vs-fatal classification, unless err
// already is one (e.g. returned by a subprocess/remote executor that
// already classified it).
func classifyProcessError(nodeID string, err error) error {
	if err == nil {
		return nil
	}
	if pipelineerr.KindOf(err) != "" {
		return err
	}
	return pipelineerr.New(pipelineerr.KindNodeProcess, nodeID, "process_unary failed", err)
}
