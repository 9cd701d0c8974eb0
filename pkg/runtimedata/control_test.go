// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package runtimedata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCancelSpeculationRoundTrip(t *testing.T) {
	msg, err := NewCancelSpeculation("sess-1", 1000, 100, 200)
	require.NoError(t, err)
	require.NoError(t, msg.Validate())

	kind, err := msg.PayloadKind()
	require.NoError(t, err)
	assert.Equal(t, ControlPayloadCancelSpeculation, kind)

	cs, ok, err := msg.AsCancelSpeculation()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(100), cs.FromTimestampUs)
	assert.Equal(t, uint64(200), cs.ToTimestampUs)

	_, ok, err = msg.AsBatchHint()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCancelSpeculationInvertedRangeRejected(t *testing.T) {
	msg, err := NewCancelSpeculation("sess-1", 1000, 500, 100)
	require.NoError(t, err)
	assert.Error(t, msg.Validate())
}

func TestNewBatchHintRoundTrip(t *testing.T) {
	msg, err := NewBatchHint("sess-1", 1000, 16)
	require.NoError(t, err)
	require.NoError(t, msg.Validate())

	bh, ok, err := msg.AsBatchHint()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(16), bh.SuggestedBatchSize)
}

func TestNewDeadlineWarningRoundTrip(t *testing.T) {
	msg, err := NewDeadlineWarning("sess-1", 1000, 50000)
	require.NoError(t, err)
	require.NoError(t, msg.Validate())

	dw, ok, err := msg.AsDeadlineWarning()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(50000), dw.DeadlineUs)
}

func TestControlMessageValidate(t *testing.T) {
	assert.NoError(t, (&ControlMessage{SessionID: "sess-1"}).Validate())
	assert.Error(t, (&ControlMessage{}).Validate())
	assert.Error(t, (&ControlMessage{SessionID: "sess-1", Payload: []byte("not json")}).Validate())
}

func TestUnknownPayloadKindIgnored(t *testing.T) {
	msg := &ControlMessage{SessionID: "sess-1", Payload: []byte(`{"type":"future_extension","x":1}`)}
	require.NoError(t, msg.Validate())

	kind, err := msg.PayloadKind()
	require.NoError(t, err)
	assert.Equal(t, ControlPayloadKind("future_extension"), kind)

	_, ok, err := msg.AsCancelSpeculation()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTransportDataValidate(t *testing.T) {
	td := &TransportData{SessionID: "sess-1", Payload: &Text{StreamIDV: "s1", Content: "hi"}}
	assert.NoError(t, td.Validate())

	assert.Error(t, (&TransportData{Payload: &Text{StreamIDV: "s1"}}).Validate())
	assert.Error(t, (&TransportData{SessionID: "sess-1"}).Validate())

	invalid := &TransportData{SessionID: "sess-1", Payload: &Text{}}
	assert.Error(t, invalid.Validate())
}

func TestNowMicrosIsMonotonicAndNonZero(t *testing.T) {
	a := NowMicros()
	b := NowMicros()
	assert.NotZero(t, a)
	assert.GreaterOrEqual(t, b, a)
}
