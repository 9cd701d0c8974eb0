// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package manifest

import (
	"fmt"
	"sort"

	"github.com/rapidaai/mediacore/pkg/pipelineerr"
)

// NodeTypeChecker reports whether a node_type is registered. Build accepts
// this as an interface rather than importing the registry package directly
// to keep manifest free of a dependency on node construction.
type NodeTypeChecker interface {
	Has(typeName string) bool
}

// Graph is the validated, build-ready form of a Manifest: a DAG with a
// precomputed topological order and per-node fan-in/fan-out edge sets.
type Graph struct {
	Manifest *Manifest
	Nodes    map[string]*Node

	// Order is a topological order of node IDs: every connection's From
	// node appears before its To node.
	Order []string

	// FanOut[nodeID] lists every connection whose From.NodeID is nodeID.
	FanOut map[string][]Connection
	// FanIn[nodeID] lists every connection whose To.NodeID is nodeID.
	FanIn map[string][]Connection
}

// Build validates m against §4.2's invariants and returns the DAG. checker
// may be nil to skip the unknown-node-type check (e.g. unit tests that
// only exercise graph shape).
func Build(m *Manifest, checker NodeTypeChecker) (*Graph, error) {
	nodes := make(map[string]*Node, len(m.Nodes))
	for i := range m.Nodes {
		n := &m.Nodes[i]
		nodes[n.ID] = n
		if checker != nil && !checker.Has(n.NodeType) {
			return nil, pipelineerr.Build(pipelineerr.KindUnknownNodeType, fmt.Sprintf("node %q: unregistered node_type %q", n.ID, n.NodeType))
		}
	}

	if err := checkDanglingEdges(m, nodes); err != nil {
		return nil, err
	}
	if err := checkFanoutUniqueness(m); err != nil {
		return nil, err
	}
	if err := checkPortTypes(m, nodes); err != nil {
		return nil, err
	}

	order, err := topologicalSort(m, nodes)
	if err != nil {
		return nil, err
	}

	if err := checkRequiredPorts(m, nodes); err != nil {
		return nil, err
	}

	g := &Graph{
		Manifest: m,
		Nodes:    nodes,
		Order:    order,
		FanOut:   map[string][]Connection{},
		FanIn:    map[string][]Connection{},
	}
	for _, c := range m.Connections {
		g.FanOut[c.From.NodeID] = append(g.FanOut[c.From.NodeID], c)
		g.FanIn[c.To.NodeID] = append(g.FanIn[c.To.NodeID], c)
	}
	return g, nil
}

func checkDanglingEdges(m *Manifest, nodes map[string]*Node) error {
	for _, c := range m.Connections {
		fromNode, ok := nodes[c.From.NodeID]
		if !ok {
			return pipelineerr.Build(pipelineerr.KindDanglingEdge, fmt.Sprintf("connection %s -> %s: node %q does not exist", c.From, c.To, c.From.NodeID))
		}
		toNode, ok := nodes[c.To.NodeID]
		if !ok {
			return pipelineerr.Build(pipelineerr.KindDanglingEdge, fmt.Sprintf("connection %s -> %s: node %q does not exist", c.From, c.To, c.To.NodeID))
		}
		if len(fromNode.OutputPorts) > 0 && !contains(fromNode.OutputPorts, c.From.Port) {
			return pipelineerr.Build(pipelineerr.KindDanglingEdge, fmt.Sprintf("connection %s -> %s: node %q has no output port %q", c.From, c.To, fromNode.ID, c.From.Port))
		}
		if len(toNode.InputPorts) > 0 && !contains(toNode.InputPorts, c.To.Port) {
			return pipelineerr.Build(pipelineerr.KindDanglingEdge, fmt.Sprintf("connection %s -> %s: node %q has no input port %q", c.From, c.To, toNode.ID, c.To.Port))
		}
	}
	return nil
}

// checkFanoutUniqueness enforces "no edge leaves an output port to more
// than one input of the same downstream node" (§3): a given (from
// endpoint) may not target the same downstream node twice.
func checkFanoutUniqueness(m *Manifest) error {
	seen := map[string]map[string]bool{}
	for _, c := range m.Connections {
		fromKey := c.From.String()
		if seen[fromKey] == nil {
			seen[fromKey] = map[string]bool{}
		}
		if seen[fromKey][c.To.NodeID] {
			return pipelineerr.Build(pipelineerr.KindInvalidManifest,
				fmt.Sprintf("output %s is connected to node %q more than once", c.From, c.To.NodeID))
		}
		seen[fromKey][c.To.NodeID] = true
	}
	return nil
}

// checkPortTypes enforces PortTypeMismatch (§4.2/§7): where both a
// connection's source output port and destination input port declare a
// runtimedata.Kind name, they must agree.
func checkPortTypes(m *Manifest, nodes map[string]*Node) error {
	for _, c := range m.Connections {
		fromNode := nodes[c.From.NodeID]
		toNode := nodes[c.To.NodeID]
		outType, outDeclared := fromNode.OutputPortTypes[c.From.Port]
		inType, inDeclared := toNode.InputPortTypes[c.To.Port]
		if outDeclared && inDeclared && outType != inType {
			return pipelineerr.Build(pipelineerr.KindPortTypeMismatch,
				fmt.Sprintf("connection %s -> %s: output type %q does not match input type %q", c.From, c.To, outType, inType))
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// topologicalSort runs Kahn's algorithm. On a cycle it returns a
// Cycle{nodes…} error naming every node left unprocessed — a superset of
// the offending strongly connected component(s), which is always a
// sufficient witness for a human reading the error.
func topologicalSort(m *Manifest, nodes map[string]*Node) ([]string, error) {
	inDegree := make(map[string]int, len(nodes))
	adjacency := make(map[string][]string, len(nodes))
	for id := range nodes {
		inDegree[id] = 0
	}
	for _, c := range m.Connections {
		adjacency[c.From.NodeID] = append(adjacency[c.From.NodeID], c.To.NodeID)
		inDegree[c.To.NodeID]++
	}

	var ready []string
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready) // deterministic order among independent roots

	order := make([]string, 0, len(nodes))
	for len(ready) > 0 {
		sort.Strings(ready)
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, next := range adjacency[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if len(order) != len(nodes) {
		var remaining []string
		for id, deg := range inDegree {
			if deg > 0 {
				remaining = append(remaining, id)
			}
		}
		sort.Strings(remaining)
		return nil, pipelineerr.Build(pipelineerr.KindCycle, fmt.Sprintf("cycle among nodes: %v", remaining))
	}
	return order, nil
}

// checkRequiredPorts enforces "every input port of every reachable node
// either has an incoming edge or is marked optional" (§3). Nodes that do
// not declare InputPorts are skipped — their required-ness is not
// statically known.
func checkRequiredPorts(m *Manifest, nodes map[string]*Node) error {
	hasIncoming := map[string]map[string]bool{}
	for _, c := range m.Connections {
		if hasIncoming[c.To.NodeID] == nil {
			hasIncoming[c.To.NodeID] = map[string]bool{}
		}
		hasIncoming[c.To.NodeID][c.To.Port] = true
	}
	for _, n := range nodes {
		if len(n.InputPorts) == 0 {
			continue
		}
		for _, port := range n.InputPorts {
			if hasIncoming[n.ID][port] {
				continue
			}
			if contains(n.OptionalInputPorts, port) {
				continue
			}
			return pipelineerr.Build(pipelineerr.KindMissingRequired,
				fmt.Sprintf("node %q: required input port %q has no incoming connection", n.ID, port))
		}
	}
	return nil
}
