// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package nodes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/mediacore/pkg/registry"
	"github.com/rapidaai/mediacore/pkg/runtimedata"
)

func TestG711RoundTripsThroughEncodeAndDecode(t *testing.T) {
	enc := NewG711Encode("enc", G711MuLaw)
	dec := NewG711Decode("dec", G711MuLaw, 8000, 1, "call-1")
	require.NoError(t, enc.Initialize(context.Background(), registry.InitContext{SessionID: "s1"}))
	require.NoError(t, dec.Initialize(context.Background(), registry.InitContext{SessionID: "s1"}))

	in := &runtimedata.Audio{
		Samples:      int16ToBytes([]int16{0, 1000, -1000, 32000}),
		SampleRateHz: 8000,
		Channels:     1,
		Format:       runtimedata.SampleFormatI16,
		StreamIDV:    "call-1",
	}

	encoded, err := enc.ProcessUnary(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, encoded, 1)

	decoded, err := dec.ProcessUnary(context.Background(), encoded[0])
	require.NoError(t, err)
	require.Len(t, decoded, 1)

	out, ok := decoded[0].(*runtimedata.Audio)
	require.True(t, ok)
	require.NoError(t, out.Validate())
	assert.Equal(t, "call-1", out.StreamIDV)
}

func TestG711DecodeDefaultsStreamIDToNodeID(t *testing.T) {
	dec := NewG711Decode("g711_decode", G711ALaw, 8000, 1, "")
	require.NoError(t, dec.Initialize(context.Background(), registry.InitContext{SessionID: "s1"}))

	in := &runtimedata.Binary{Bytes: []byte{0xD5, 0x55}, ContentType: "audio/pcma"}
	out, err := dec.ProcessUnary(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, out, 1)

	audio, ok := out[0].(*runtimedata.Audio)
	require.True(t, ok)
	require.NoError(t, audio.Validate())
	assert.Equal(t, "g711_decode", audio.StreamIDV)
}

func TestG711DecodeAdvancesTimestampAcrossFrames(t *testing.T) {
	dec := NewG711Decode("dec", G711MuLaw, 8000, 1, "call-1")
	require.NoError(t, dec.Initialize(context.Background(), registry.InitContext{SessionID: "s1"}))

	frame := &runtimedata.Binary{Bytes: make([]byte, 80), ContentType: "audio/pcmu"} // 10ms @ 8kHz

	first, err := dec.ProcessUnary(context.Background(), frame)
	require.NoError(t, err)
	second, err := dec.ProcessUnary(context.Background(), frame)
	require.NoError(t, err)

	a1 := first[0].(*runtimedata.Audio)
	a2 := second[0].(*runtimedata.Audio)
	assert.Equal(t, uint64(0), a1.TimestampUsV)
	assert.Equal(t, uint64(10_000), a2.TimestampUsV)
}
