// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package executor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/mediacore/pkg/manifest"
	"github.com/rapidaai/mediacore/pkg/registry"
	"github.com/rapidaai/mediacore/pkg/runtimedata"
)

var echoUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// newEchoServer upgrades every connection and echoes back any binary
// message it reads, skipping text frames (the JSON sub-manifest
// handshake), standing in for a remote pipeline core under test.
func newEchoServer(t *testing.T) *httptest.Server {
	t.Helper()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := echoUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				return
			}
		}
	})
	return httptest.NewServer(handler)
}

func wsURL(t *testing.T, server *httptest.Server) string {
	t.Helper()
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWebSocketTransportExecuteUnaryRoundTrip(t *testing.T) {
	server := newEchoServer(t)
	defer server.Close()

	transport := NewWebSocketTransport(nil)
	input := &runtimedata.TransportData{
		SessionID:      "s1",
		SequenceNumber: 3,
		Payload:        &runtimedata.Text{StreamIDV: "s1", Content: "ping"},
	}

	out, err := transport.ExecuteUnary(context.Background(), wsURL(t, server), nil, input)
	require.NoError(t, err)
	text, ok := out.Payload.(*runtimedata.Text)
	require.True(t, ok)
	assert.Equal(t, "ping", text.Content)
}

func TestWebSocketTransportStreamRoundTrip(t *testing.T) {
	server := newEchoServer(t)
	defer server.Close()

	transport := NewWebSocketTransport(nil)
	session, err := transport.OpenStream(context.Background(), wsURL(t, server), nil)
	require.NoError(t, err)
	defer session.Close()

	ctx := context.Background()
	require.NoError(t, session.Send(ctx, &runtimedata.TransportData{
		SessionID: "s1", Payload: &runtimedata.Text{StreamIDV: "s1", Content: "hello"},
	}))

	td, ok, err := session.Recv(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	text, ok := td.Payload.(*runtimedata.Text)
	require.True(t, ok)
	assert.Equal(t, "hello", text.Content)
}

// recordingTransport is a fake PipelineTransport used to verify the
// envelope RemoteExecutor builds without needing a real socket.
type recordingTransport struct {
	unaryReply *runtimedata.TransportData
	lastInput  *runtimedata.TransportData
	session    StreamSession
}

func (r *recordingTransport) ExecuteUnary(ctx context.Context, endpoint string, sub *manifest.Manifest, input *runtimedata.TransportData) (*runtimedata.TransportData, error) {
	r.lastInput = input
	return r.unaryReply, nil
}

func (r *recordingTransport) OpenStream(ctx context.Context, endpoint string, sub *manifest.Manifest) (StreamSession, error) {
	return r.session, nil
}

// fakeStreamSession replays a fixed queue of TransportData to Recv and
// records everything passed to Send.
type fakeStreamSession struct {
	recvQueue []*runtimedata.TransportData
	sent      []*runtimedata.TransportData
	closed    bool
}

func (f *fakeStreamSession) Send(ctx context.Context, td *runtimedata.TransportData) error {
	f.sent = append(f.sent, td)
	return nil
}

func (f *fakeStreamSession) Recv(ctx context.Context) (*runtimedata.TransportData, bool, error) {
	if len(f.recvQueue) == 0 {
		return nil, false, nil
	}
	td := f.recvQueue[0]
	f.recvQueue = f.recvQueue[1:]
	return td, true, nil
}

func (f *fakeStreamSession) Close() error {
	f.closed = true
	return nil
}

func TestRemoteExecutorProcessUnaryWrapsEnvelope(t *testing.T) {
	reply := &runtimedata.TransportData{SessionID: "s1", Payload: &runtimedata.Text{StreamIDV: "s1", Content: "reply"}}
	transport := &recordingTransport{unaryReply: reply}
	exec := NewRemote(RemoteConfig{NodeID: "remote-1", Endpoint: "ws://example"}, transport)

	require.NoError(t, exec.Initialize(context.Background(), registry.InitContext{SessionID: "s1"}))
	out, err := exec.ProcessUnary(context.Background(), &runtimedata.Text{StreamIDV: "s1", Content: "req"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	text, ok := out[0].(*runtimedata.Text)
	require.True(t, ok)
	assert.Equal(t, "reply", text.Content)
	assert.Equal(t, "s1", transport.lastInput.SessionID)
	assert.Equal(t, uint64(0), transport.lastInput.SequenceNumber)

	// A second call advances the envelope's per-edge sequence number.
	_, err = exec.ProcessUnary(context.Background(), &runtimedata.Text{StreamIDV: "s1", Content: "req2"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), transport.lastInput.SequenceNumber)
}

func TestRemoteExecutorOpenStreamDelegatesToSession(t *testing.T) {
	fake := &fakeStreamSession{
		recvQueue: []*runtimedata.TransportData{
			{Payload: &runtimedata.Text{StreamIDV: "s1", Content: "one"}},
		},
	}
	transport := &recordingTransport{session: fake}
	exec := NewRemote(RemoteConfig{NodeID: "remote-1", Endpoint: "ws://example"}, transport)
	require.NoError(t, exec.Initialize(context.Background(), registry.InitContext{SessionID: "s1"}))

	handle, err := exec.OpenStream(context.Background(), registry.InitContext{SessionID: "s1"})
	require.NoError(t, err)

	require.NoError(t, handle.Send(context.Background(), &runtimedata.Text{StreamIDV: "s1", Content: "out"}))
	require.Len(t, fake.sent, 1)
	sentText, ok := fake.sent[0].Payload.(*runtimedata.Text)
	require.True(t, ok)
	assert.Equal(t, "out", sentText.Content)

	got, ok, err := handle.Recv(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	gotText, ok := got.(*runtimedata.Text)
	require.True(t, ok)
	assert.Equal(t, "one", gotText.Content)

	_, ok, err = handle.Recv(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, handle.Close())
	assert.True(t, fake.closed)
}
