// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package registry implements the process-wide node-type registry (§4.3):
// it maps a manifest's node_type strings to factories that construct
// NodeExecutor instances, the same lookup-and-reject-unknown shape the
// teacher uses to resolve a provider name to a transformer implementation.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rapidaai/mediacore/pkg/runtimedata"
)

// Category is the execution backend family a node_type belongs to. It is
// informational metadata alongside the factory — the factory itself
// decides how to build the concrete NodeExecutor.
type Category string

const (
	CategoryNative         Category = "native"
	CategorySubprocessPython Category = "subprocess-python"
	CategoryDockerPython     Category = "docker-python"
	CategoryRemote           Category = "remote"
)

// InitContext carries the session-scoped values every NodeExecutor needs
// at Initialize/OpenStream time: which session it belongs to, by when it
// must finish (§5's per-session deadline), its own node_id, and (for
// streaming sessions) its inbox on the control plane's side channel
// (§4.7) — a node that wants CancelSpeculation/BatchHint/DeadlineWarning
// delivery subscribes by reading from ControlMessages. It is nil for
// unary runs, which have no control bus.
type InitContext struct {
	SessionID       string
	Deadline        time.Time
	NodeID          string
	ControlMessages <-chan *runtimedata.ControlMessage
}

// StreamHandle is the bidirectional handle a streaming NodeExecutor opens
// per session (§4.4). Recv returns ok=false once the stream is closed,
// matching the contract's "a closed recv() returns None".
type StreamHandle interface {
	Send(ctx context.Context, input runtimedata.RuntimeData) error
	Recv(ctx context.Context) (output runtimedata.RuntimeData, ok bool, err error)
	Close() error
}

// NodeExecutor is the uniform contract every execution backend implements
// (§4.4): native, subprocess, docker, remote.
type NodeExecutor interface {
	Initialize(ctx context.Context, init InitContext) error
	ProcessUnary(ctx context.Context, input runtimedata.RuntimeData) ([]runtimedata.RuntimeData, error)
	OpenStream(ctx context.Context, init InitContext) (StreamHandle, error)
	Cleanup(ctx context.Context) error
}

// NodeFactory builds one NodeExecutor instance from a node's JSON params.
// It is called once per node per session.
type NodeFactory func(params json.RawMessage) (NodeExecutor, error)

type entry struct {
	category Category
	factory  NodeFactory
}

// Registry maps node_type to NodeFactory. It is safe for concurrent
// Lookup/Has calls at any time; Register/RegisterBulk are expected to run
// only during process startup and panic-free-reject after Freeze.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]entry
	frozen   bool
}

// New returns an empty, unfrozen registry.
func New() *Registry {
	return &Registry{entries: map[string]entry{}}
}

// Register adds typeName -> factory under category. It fails loudly (§4.3)
// on a name clash or if the registry has already been frozen.
func (r *Registry) Register(typeName string, category Category, factory NodeFactory) error {
	if typeName == "" {
		return fmt.Errorf("registry: node type name must not be empty")
	}
	if factory == nil {
		return fmt.Errorf("registry: node type %q: factory must not be nil", typeName)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("registry: cannot register %q: registry is frozen (read-only after startup)", typeName)
	}
	if _, exists := r.entries[typeName]; exists {
		return fmt.Errorf("registry: node type %q is already registered", typeName)
	}
	r.entries[typeName] = entry{category: category, factory: factory}
	return nil
}

// RegistrationSpec bundles one Register call's arguments, for bulk setup.
type RegistrationSpec struct {
	TypeName string
	Category Category
	Factory  NodeFactory
}

// RegisterBulk registers every spec, stopping at (and returning) the first
// failure. Specs already registered before the failure remain registered —
// callers that want all-or-nothing semantics should build a fresh Registry
// per attempt.
func (r *Registry) RegisterBulk(specs []RegistrationSpec) error {
	for _, s := range specs {
		if err := r.Register(s.TypeName, s.Category, s.Factory); err != nil {
			return err
		}
	}
	return nil
}

// Freeze marks the registry read-only. Called once at the end of startup
// (§4.3: "set up at startup; read-only during execution").
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Has reports whether typeName is registered. Registry implements
// manifest.NodeTypeChecker via this method.
func (r *Registry) Has(typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[typeName]
	return ok
}

// Lookup returns the factory and category registered for typeName.
func (r *Registry) Lookup(typeName string) (factory NodeFactory, category Category, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, found := r.entries[typeName]
	if !found {
		return nil, "", false
	}
	return e.factory, e.category, true
}

// New constructs a fresh NodeExecutor for typeName by invoking its
// registered factory with params.
func (r *Registry) New(typeName string, params json.RawMessage) (NodeExecutor, error) {
	factory, _, ok := r.Lookup(typeName)
	if !ok {
		return nil, fmt.Errorf("registry: unknown node type %q", typeName)
	}
	return factory(params)
}

// TypeNames returns every registered type name, sorted, for diagnostics
// and CLI introspection.
func (r *Registry) TypeNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
