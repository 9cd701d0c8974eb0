// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package pipelineerr implements the closed error taxonomy from §7: build-time
// failures that are never retried, and per-node runtime failures that carry
// a retry classification.
package pipelineerr

import (
	"context"
	"errors"
	"fmt"
)

// Kind enumerates the error taxonomy. Build-time kinds are always fatal;
// runtime kinds carry their own Retryable() classification.
type Kind string

const (
	KindInvalidManifest   Kind = "invalid_manifest"
	KindUnknownNodeType   Kind = "unknown_node_type"
	KindDanglingEdge      Kind = "dangling_edge"
	KindCycle             Kind = "cycle"
	KindPortTypeMismatch  Kind = "port_type_mismatch"
	KindMissingRequired   Kind = "missing_required_port"
	KindNodeInit          Kind = "node_init"
	KindNodeProcess       Kind = "node_process"
	KindNodeCleanup       Kind = "node_cleanup"
	KindTransient         Kind = "transient"
	KindTimeout           Kind = "timeout"
	KindCancelled         Kind = "cancelled"
	KindResourceExhausted Kind = "resource_exhausted"
)

// buildTimeKinds are always fatal at manifest build and never retried.
var buildTimeKinds = map[Kind]bool{
	KindInvalidManifest:  true,
	KindUnknownNodeType:  true,
	KindDanglingEdge:     true,
	KindCycle:            true,
	KindPortTypeMismatch: true,
	KindMissingRequired:  true,
}

// Error is the structured node/session error described in §7's
// "Propagation" subsection: { node_id, kind, message, cause_chain }.
type Error struct {
	Kind      Kind
	NodeID    string
	Message   string
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s[%s]: %s", e.Kind, e.NodeID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// IsBuildTime reports whether this error kind is fatal at manifest build and
// must never be retried.
func (e *Error) IsBuildTime() bool { return buildTimeKinds[e.Kind] }

// New builds an Error of the given kind. Retryable is derived from the kind
// alone: true for the runtime kinds Transient and Timeout, false for every
// other kind, build-time kinds included.
func New(kind Kind, nodeID, message string, cause error) *Error {
	e := &Error{Kind: kind, NodeID: nodeID, Message: message, Cause: cause}
	e.Retryable = kind == KindTransient || kind == KindTimeout
	return e
}

// Build wraps a manifest/graph-build failure. These are never retried.
func Build(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Retryable: false}
}

// Cancelled reports whether err is (or wraps) a Cancelled-kind Error.
func Cancelled(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindCancelled
	}
	return false
}

// Retryable reports whether err is (or wraps) an Error flagged retryable.
func Retryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// WrapContext classifies a bare context.Canceled/context.DeadlineExceeded
// as the structured Cancelled/Timeout Error kinds, so later callers that
// only know how to recognize *Error (Cancelled, Retryable, KindOf) see it
// correctly instead of an opaque context error (§7: "Cancelled — not an
// error for callers who initiated the cancel"). err that is nil, already
// an *Error, or neither of those two sentinels passes through unchanged.
func WrapContext(nodeID string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return New(KindCancelled, nodeID, "context cancelled", err)
	case errors.Is(err, context.DeadlineExceeded):
		return New(KindTimeout, nodeID, "context deadline exceeded", err)
	default:
		return err
	}
}

// KindOf extracts the Kind from err, or "" if err does not wrap an Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
