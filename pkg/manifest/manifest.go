// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package manifest parses and validates the declarative pipeline document
// (§6) and builds the executable graph from it (§4.2).
package manifest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rapidaai/mediacore/pkg/pipelineerr"
)

// ExecutionHint selects which NodeExecutor backend instantiates a node.
type ExecutionHint string

const (
	ExecutionHintNative     ExecutionHint = "native"
	ExecutionHintSubprocess ExecutionHint = "subprocess"
	ExecutionHintDocker     ExecutionHint = "docker"
	ExecutionHintRemote     ExecutionHint = "remote"
)

// RuntimeHint selects the worker interpreter/ABI a subprocess/docker node
// runs under. "auto" lets the registry factory decide from node_type.
type RuntimeHint string

const (
	RuntimeHintAuto   RuntimeHint = "auto"
	RuntimeHintRust   RuntimeHint = "rust"
	RuntimeHintPython RuntimeHint = "python"
)

// ResourceLimits bounds a docker-backed node's container (§4.4.3).
type ResourceLimits struct {
	MemoryMB int     `json:"memory_mb"`
	CPUCores float64 `json:"cpu_cores"`
}

// DockerParams configures the container executor for a node whose
// execution_hint is "docker".
type DockerParams struct {
	PythonVersion  string         `json:"python_version"`
	PythonPackages []string       `json:"python_packages"`
	ResourceLimits ResourceLimits `json:"resource_limits"`
}

// Node is one vertex of the pipeline graph.
type Node struct {
	ID            string          `json:"id"`
	NodeType      string          `json:"node_type"`
	Params        json.RawMessage `json:"params"`
	IsStreaming   bool            `json:"is_streaming"`
	ExecutionHint ExecutionHint   `json:"execution_hint"`
	RuntimeHint   RuntimeHint     `json:"runtime_hint"`
	Docker        *DockerParams   `json:"docker,omitempty"`

	// InputPorts/OutputPorts declare the node's port set explicitly. When
	// omitted the builder accepts any port name a connection uses on that
	// node and skips the "declared but unconnected required port" check for
	// it.
	InputPorts  []string `json:"input_ports,omitempty"`
	OutputPorts []string `json:"output_ports,omitempty"`
	// OptionalInputPorts lists InputPorts entries allowed to have no
	// incoming edge (§3: "every input port... either has an incoming edge
	// or is marked optional").
	OptionalInputPorts []string `json:"optional_input_ports,omitempty"`

	// InputPortTypes/OutputPortTypes optionally declare the runtimedata.Kind
	// string (e.g. "audio", "text") each port carries. When both ends of a
	// connection declare a type, Build rejects a mismatch as
	// PortTypeMismatch (§4.2); undeclared ports are not checked.
	InputPortTypes  map[string]string `json:"input_port_types,omitempty"`
	OutputPortTypes map[string]string `json:"output_port_types,omitempty"`
}

// Endpoint is a parsed "node_id.port" reference.
type Endpoint struct {
	NodeID string
	Port   string
}

func (e Endpoint) String() string { return e.NodeID + "." + e.Port }

func parseEndpoint(s string) (Endpoint, error) {
	idx := strings.LastIndex(s, ".")
	if idx <= 0 || idx == len(s)-1 {
		return Endpoint{}, fmt.Errorf("endpoint %q must have the form node_id.port", s)
	}
	return Endpoint{NodeID: s[:idx], Port: s[idx+1:]}, nil
}

// Connection is a directed edge from one node's output port to another
// node's input port.
type Connection struct {
	From Endpoint
	To   Endpoint
}

// rawConnection mirrors the wire shape: {"from":"node_a.out","to":"node_b.in"}.
type rawConnection struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Metadata is free-form pipeline bookkeeping, not interpreted by the core.
type Metadata struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at"`
}

// Manifest is the parsed form of the pipeline document described in §6.
type Manifest struct {
	Version     string   `json:"version"`
	Metadata    Metadata `json:"metadata"`
	Nodes       []Node   `json:"nodes"`
	Connections []Connection
}

// rawManifest is the direct JSON mirror; Connections there are strings
// that Parse splits into Endpoint pairs.
type rawManifest struct {
	Version     string          `json:"version"`
	Metadata    Metadata        `json:"metadata"`
	Nodes       []Node          `json:"nodes"`
	Connections []rawConnection `json:"connections"`
}

// Parse decodes and structurally validates a JSON pipeline manifest. It
// does not check the registry or graph-level invariants — see Build for
// that.
func Parse(data []byte) (*Manifest, error) {
	var raw rawManifest
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, pipelineerr.Build(pipelineerr.KindInvalidManifest, fmt.Sprintf("malformed JSON: %v", err))
	}
	if raw.Version == "" {
		return nil, pipelineerr.Build(pipelineerr.KindInvalidManifest, "version is required")
	}
	if len(raw.Nodes) == 0 {
		return nil, pipelineerr.Build(pipelineerr.KindInvalidManifest, "manifest must declare at least one node")
	}

	m := &Manifest{Version: raw.Version, Metadata: raw.Metadata, Nodes: raw.Nodes}

	seenIDs := make(map[string]bool, len(raw.Nodes))
	for i, n := range raw.Nodes {
		if n.ID == "" {
			return nil, pipelineerr.Build(pipelineerr.KindInvalidManifest, fmt.Sprintf("node at index %d has an empty id", i))
		}
		if seenIDs[n.ID] {
			return nil, pipelineerr.Build(pipelineerr.KindInvalidManifest, fmt.Sprintf("duplicate node id %q", n.ID))
		}
		seenIDs[n.ID] = true
		if n.NodeType == "" {
			return nil, pipelineerr.Build(pipelineerr.KindInvalidManifest, fmt.Sprintf("node %q has an empty node_type", n.ID))
		}
		switch n.ExecutionHint {
		case ExecutionHintNative, ExecutionHintSubprocess, ExecutionHintDocker, ExecutionHintRemote, "":
		default:
			return nil, pipelineerr.Build(pipelineerr.KindInvalidManifest, fmt.Sprintf("node %q has unknown execution_hint %q", n.ID, n.ExecutionHint))
		}
	}

	m.Connections = make([]Connection, 0, len(raw.Connections))
	for _, rc := range raw.Connections {
		from, err := parseEndpoint(rc.From)
		if err != nil {
			return nil, pipelineerr.Build(pipelineerr.KindInvalidManifest, fmt.Sprintf("connection from: %v", err))
		}
		to, err := parseEndpoint(rc.To)
		if err != nil {
			return nil, pipelineerr.Build(pipelineerr.KindInvalidManifest, fmt.Sprintf("connection to: %v", err))
		}
		m.Connections = append(m.Connections, Connection{From: from, To: to})
	}
	return m, nil
}
