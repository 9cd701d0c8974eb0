// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package ipcring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/mediacore/pkg/runtimedata"
	"github.com/rapidaai/mediacore/pkg/wire"
)

func TestChannelSendRecvDataRoundTrip(t *testing.T) {
	baseDir := t.TempDir()
	ch, err := CreateChannel("sess-1", "to-worker", 4096, baseDir)
	require.NoError(t, err)
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	text := &runtimedata.Text{StreamIDV: "s1", Content: "hello worker"}
	require.NoError(t, ch.SendData(ctx, text))

	got, err := ch.RecvData(ctx)
	require.NoError(t, err)
	gotText, ok := got.(*runtimedata.Text)
	require.True(t, ok)
	assert.Equal(t, "hello worker", gotText.Content)
	assert.Equal(t, "s1", gotText.StreamID())
}

func TestChannelSendRecvControlBypassesData(t *testing.T) {
	baseDir := t.TempDir()
	ch, err := CreateChannel("sess-2", "to-worker", 4096, baseDir)
	require.NoError(t, err)
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, err := runtimedata.NewBatchHint("sess-2", 1000, 8)
	require.NoError(t, err)
	require.NoError(t, ch.SendControl(ctx, msg))

	// A data send queued after the control send must not block or
	// interfere with control delivery: the two travel on separate rings.
	require.NoError(t, ch.SendData(ctx, &runtimedata.Text{StreamIDV: "s1", Content: "after"}))

	got, err := ch.RecvControl(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sess-2", got.SessionID)

	hint, ok, err := got.AsBatchHint()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(8), hint.SuggestedBatchSize)

	data, err := ch.RecvData(ctx)
	require.NoError(t, err)
	dataText, ok := data.(*runtimedata.Text)
	require.True(t, ok)
	assert.Equal(t, "after", dataText.Content)
}

func TestOpenChannelAttachesToCreatedChannel(t *testing.T) {
	baseDir := t.TempDir()
	producer, err := CreateChannel("sess-3", "to-worker", 4096, baseDir)
	require.NoError(t, err)
	defer producer.Close()

	consumer, err := OpenChannel("sess-3", "to-worker", baseDir)
	require.NoError(t, err)
	defer consumer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, producer.SendData(ctx, &runtimedata.Text{StreamIDV: "s1", Content: "ping"}))
	got, err := consumer.RecvData(ctx)
	require.NoError(t, err)
	gotText, ok := got.(*runtimedata.Text)
	require.True(t, ok)
	assert.Equal(t, "ping", gotText.Content)
}

func TestChannelRecvControlRejectsNonControlFrame(t *testing.T) {
	// The control ring should only ever carry ControlMessage frames; a
	// caller that publishes a non-control frame directly to it (bypassing
	// SendControl) must see a typed decode error from RecvControl rather
	// than a silent type assertion panic.
	baseDir := t.TempDir()
	ch, err := CreateChannel("sess-4", "to-worker", 4096, baseDir)
	require.NoError(t, err)
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	encoded, err := wire.Encode(&runtimedata.Text{StreamIDV: "s1", Content: "oops"})
	require.NoError(t, err)
	require.NoError(t, ch.Control.Publish(ctx, ch.controlSendSeq, encoded))
	ch.controlSendSeq++

	_, err = ch.RecvControl(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-control frame")
}
