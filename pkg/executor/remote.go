// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/rapidaai/mediacore/pkg/commons"
	"github.com/rapidaai/mediacore/pkg/manifest"
	"github.com/rapidaai/mediacore/pkg/pipelineerr"
	"github.com/rapidaai/mediacore/pkg/registry"
	"github.com/rapidaai/mediacore/pkg/runtimedata"
	"github.com/rapidaai/mediacore/pkg/wire"
)

// StreamSession is one open bidirectional remote execution session.
type StreamSession interface {
	Send(ctx context.Context, td *runtimedata.TransportData) error
	Recv(ctx context.Context) (*runtimedata.TransportData, bool, error)
	Close() error
}

// PipelineTransport dispatches process_unary/open_stream calls to a remote
// endpoint carrying a sub-manifest and the TransportData envelope (§4.4.4).
// From the caller's perspective the remote side is indistinguishable from a
// local executor tree.
type PipelineTransport interface {
	ExecuteUnary(ctx context.Context, endpoint string, sub *manifest.Manifest, input *runtimedata.TransportData) (*runtimedata.TransportData, error)
	OpenStream(ctx context.Context, endpoint string, sub *manifest.Manifest) (StreamSession, error)
}

// RemoteConfig parameterizes a node whose execution_hint is "remote".
type RemoteConfig struct {
	NodeID      string
	Endpoint    string
	SubManifest *manifest.Manifest
}

// RemoteExecutor forwards a node's calls to another process's pipeline
// core over a PipelineTransport.
type RemoteExecutor struct {
	cfg       RemoteConfig
	transport PipelineTransport

	mu        sync.Mutex
	sessionID string
	seq       uint64
}

// NewRemote builds a RemoteExecutor against the given transport (typically
// *WebSocketTransport, or a fake in tests).
func NewRemote(cfg RemoteConfig, transport PipelineTransport) *RemoteExecutor {
	return &RemoteExecutor{cfg: cfg, transport: transport}
}

func (r *RemoteExecutor) Initialize(ctx context.Context, init registry.InitContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionID = init.SessionID
	r.seq = 0
	return nil
}

func (r *RemoteExecutor) nextEnvelope(payload runtimedata.RuntimeData) *runtimedata.TransportData {
	r.mu.Lock()
	defer r.mu.Unlock()
	td := &runtimedata.TransportData{SessionID: r.sessionID, SequenceNumber: r.seq, Payload: payload}
	r.seq++
	return td
}

func (r *RemoteExecutor) ProcessUnary(ctx context.Context, input runtimedata.RuntimeData) ([]runtimedata.RuntimeData, error) {
	out, err := r.transport.ExecuteUnary(ctx, r.cfg.Endpoint, r.cfg.SubManifest, r.nextEnvelope(input))
	if err != nil {
		return nil, pipelineerr.New(pipelineerr.KindNodeProcess, r.cfg.NodeID, "remote process_unary", err)
	}
	return []runtimedata.RuntimeData{out.Payload}, nil
}

func (r *RemoteExecutor) OpenStream(ctx context.Context, init registry.InitContext) (registry.StreamHandle, error) {
	session, err := r.transport.OpenStream(ctx, r.cfg.Endpoint, r.cfg.SubManifest)
	if err != nil {
		return nil, pipelineerr.New(pipelineerr.KindNodeProcess, r.cfg.NodeID, "remote open_stream", err)
	}
	return &remoteStreamHandle{exec: r, session: session}, nil
}

func (r *RemoteExecutor) Cleanup(ctx context.Context) error { return nil }

type remoteStreamHandle struct {
	exec    *RemoteExecutor
	session StreamSession
}

func (h *remoteStreamHandle) Send(ctx context.Context, input runtimedata.RuntimeData) error {
	return h.session.Send(ctx, h.exec.nextEnvelope(input))
}

func (h *remoteStreamHandle) Recv(ctx context.Context) (runtimedata.RuntimeData, bool, error) {
	td, ok, err := h.session.Recv(ctx)
	if err != nil || !ok {
		return nil, ok, err
	}
	return td.Payload, true, nil
}

func (h *remoteStreamHandle) Close() error { return h.session.Close() }

// WebSocketTransport is the reference PipelineTransport implementation,
// grounded on the teacher's cartesia websocket client
// (websocket.DefaultDialer.Dial / ReadMessage loop) and its own
// api/talk/webrtc.go upgrader for the server side a remote peer would run.
// Each TransportData is sent as exactly one binary websocket message
// carrying its wire.Encode'd bytes; websocket already frames messages, so
// no additional length prefix is needed on top (contrast with
// wire.EncodeFramed, used for byte-stream transports with no framing of
// their own).
type WebSocketTransport struct {
	logger commons.Logger
	dialer *websocket.Dialer
}

// NewWebSocketTransport builds a transport using gorilla/websocket's
// default dialer.
func NewWebSocketTransport(logger commons.Logger) *WebSocketTransport {
	if logger == nil {
		logger = commons.NewNopLogger()
	}
	return &WebSocketTransport{logger: logger, dialer: websocket.DefaultDialer}
}

func (t *WebSocketTransport) dial(ctx context.Context, endpoint string) (*websocket.Conn, error) {
	conn, _, err := t.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket transport: dial %s: %w", endpoint, err)
	}
	return conn, nil
}

// sendManifestHandshake sends sub (if any) as one JSON text frame ahead of
// the binary TransportData traffic, so the remote side knows which
// sub-graph to instantiate before the first payload arrives.
func (t *WebSocketTransport) sendManifestHandshake(conn *websocket.Conn, sub *manifest.Manifest) error {
	if sub == nil {
		return nil
	}
	body, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("websocket transport: marshal sub-manifest: %w", err)
	}
	return conn.WriteMessage(websocket.TextMessage, body)
}

// ExecuteUnary opens a short-lived connection, sends one sub-manifest +
// TransportData envelope, and reads exactly one reply envelope back.
func (t *WebSocketTransport) ExecuteUnary(ctx context.Context, endpoint string, sub *manifest.Manifest, input *runtimedata.TransportData) (*runtimedata.TransportData, error) {
	conn, err := t.dial(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := t.sendManifestHandshake(conn, sub); err != nil {
		return nil, err
	}
	body, err := wire.Encode(input.Payload)
	if err != nil {
		return nil, fmt.Errorf("websocket transport: encode payload: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, body); err != nil {
		return nil, fmt.Errorf("websocket transport: send: %w", err)
	}
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("websocket transport: read reply: %w", err)
	}
	v, _, err := wire.Decode(msg)
	if err != nil {
		return nil, fmt.Errorf("websocket transport: decode reply: %w", err)
	}
	return &runtimedata.TransportData{SessionID: input.SessionID, SequenceNumber: input.SequenceNumber, Payload: v}, nil
}

// OpenStream dials once and keeps the connection open for the lifetime of
// the returned session.
func (t *WebSocketTransport) OpenStream(ctx context.Context, endpoint string, sub *manifest.Manifest) (StreamSession, error) {
	conn, err := t.dial(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if err := t.sendManifestHandshake(conn, sub); err != nil {
		conn.Close()
		return nil, err
	}
	return &webSocketSession{conn: conn}, nil
}

type webSocketSession struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *webSocketSession) Send(ctx context.Context, td *runtimedata.TransportData) error {
	body, err := wire.Encode(td.Payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, body)
}

func (s *webSocketSession) Recv(ctx context.Context) (*runtimedata.TransportData, bool, error) {
	_, msg, err := s.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, false, nil
		}
		return nil, false, err
	}
	v, _, err := wire.Decode(msg)
	if err != nil {
		return nil, false, err
	}
	return &runtimedata.TransportData{Payload: v}, true, nil
}

func (s *webSocketSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return s.conn.Close()
}
