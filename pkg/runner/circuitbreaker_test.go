// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/mediacore/pkg/manifest"
	"github.com/rapidaai/mediacore/pkg/runtimedata"
)

// fanInToFailManifest feeds the same single input through five independent
// source nodes into one "fail" node (so one RunUnary call drives it through
// five consecutive failures, tripping the breaker), plus an unrelated
// source/sink node "d1" whose output is the only thing the run can still
// surface — demonstrating the session keeps going instead of failing
// outright once the broken node has no downstream to protect.
func fanInToFailManifest() *manifest.Manifest {
	m := &manifest.Manifest{
		Version: "1",
		Nodes: []manifest.Node{
			{ID: "d1", NodeType: "echo"},
			{ID: "fail", NodeType: "fail"},
		},
	}
	for _, src := range []string{"c1", "c2", "c3", "c4", "c5"} {
		m.Nodes = append(m.Nodes, manifest.Node{ID: src, NodeType: "echo"})
		m.Connections = append(m.Connections, manifest.Connection{
			From: manifest.Endpoint{NodeID: src, Port: "out"},
			To:   manifest.Endpoint{NodeID: "fail", Port: "in"},
		})
	}
	return m
}

func TestRunUnaryCircuitBreakerDegradesSinkNodeWithNoDownstream(t *testing.T) {
	reg := newTestRegistry(t)
	g := buildGraph(t, fanInToFailManifest(), reg)
	r := New(reg, nil, Config{})

	in := &runtimedata.TransportData{
		SessionID: "sess-cb",
		Payload:   &runtimedata.Text{Content: "x", StreamIDV: "s1"},
	}
	out, err := r.RunUnary(context.Background(), g, in)
	require.NoError(t, err)
	text, ok := out.Payload.(*runtimedata.Text)
	require.True(t, ok)
	assert.Equal(t, "x", text.Content)
}

func TestStreamSessionCircuitBreakerEndsSessionWithoutErrorWhenNoDownstream(t *testing.T) {
	reg := newTestRegistry(t)
	m := &manifest.Manifest{
		Version: "1",
		Nodes:   []manifest.Node{{ID: "n1", NodeType: "fail"}},
	}
	g := buildGraph(t, m, reg)
	r := New(reg, nil, Config{EdgeCapacity: 8})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sess, err := r.OpenStream(ctx, g, "", 0)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, sess.SendInput(ctx, &runtimedata.TransportData{
			Payload: &runtimedata.Text{Content: "x", StreamIDV: "s1"},
		}))
	}

	select {
	case <-sess.done:
	case <-time.After(time.Second):
		t.Fatal("session did not end after the circuit breaker should have tripped")
	}

	_, ok, err := sess.RecvOutput(ctx)
	assert.False(t, ok)
	assert.NoError(t, err)
}
