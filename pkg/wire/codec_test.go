// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/mediacore/pkg/runtimedata"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data runtimedata.RuntimeData
	}{
		{
			name: "audio",
			data: &runtimedata.Audio{
				StreamIDV: "s1", TimestampUsV: 1234, SampleRateHz: 16000,
				Channels: 1, Format: runtimedata.SampleFormatI16,
				Samples: []byte{1, 2, 3, 4},
			},
		},
		{
			name: "video",
			data: &runtimedata.Video{
				StreamIDV: "v1", TimestampUsV: 99, FrameNumber: 7,
				Width: 2, Height: 1, Format: runtimedata.PixelFormatRGB24,
				PixelData: make([]byte, 6),
			},
		},
		{
			name: "text",
			data: &runtimedata.Text{StreamIDV: "t1", Content: "hello world"},
		},
		{
			name: "numpy c-contiguous",
			data: &runtimedata.Numpy{
				Shape: []uint64{2, 2}, Strides: []int64{8, 4}, DType: "float32",
				CContiguous: true, Data: make([]byte, 16),
			},
		},
		{
			name: "numpy scalar",
			data: &runtimedata.Numpy{
				Shape: []uint64{}, Strides: []int64{}, DType: "int32",
				CContiguous: true, FContiguous: true, Data: make([]byte, 4),
			},
		},
		{
			name: "control_message",
			data: mustCancelSpeculation(t, "sess-1", 42, 100, 200),
		},
		{
			name: "json",
			data: &runtimedata.JSON{SchemaTag: "transcript.v1", Payload: []byte(`{"text":"hi"}`)},
		},
		{
			name: "binary",
			data: &runtimedata.Binary{ContentType: "application/octet-stream", Bytes: []byte{0xde, 0xad}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := Encode(tt.data)
			require.NoError(t, err)

			decoded, n, err := Decode(encoded)
			require.NoError(t, err)
			assert.Equal(t, len(encoded), n)
			assert.Equal(t, tt.data, decoded)
		})
	}
}

func mustCancelSpeculation(t *testing.T, sessionID string, ts, from, to uint64) *runtimedata.ControlMessage {
	t.Helper()
	msg, err := runtimedata.NewCancelSpeculation(sessionID, ts, from, to)
	require.NoError(t, err)
	return msg
}

func TestDecodeUnknownTag(t *testing.T) {
	_, _, err := Decode([]byte{0xff})
	assert.Error(t, err)
}

func TestDecodeTruncated(t *testing.T) {
	encoded, err := Encode(&runtimedata.Text{StreamIDV: "s1", Content: "hello"})
	require.NoError(t, err)

	_, _, err = Decode(encoded[:len(encoded)-2])
	assert.Error(t, err)
}

func TestFramedRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	msg := &runtimedata.Text{StreamIDV: "s1", Content: "framed"}
	require.NoError(t, EncodeFramed(&buf, msg))

	decoded, err := DecodeFramed(&buf)
	require.NoError(t, err)
	assert.Equal(t, msg, decoded)
}

func TestFramedOversizeRejected(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeFramed(&buf, &runtimedata.Binary{Bytes: []byte{1}}))

	corrupted := buf.Bytes()
	corrupted[0] = 0xff
	corrupted[1] = 0xff
	corrupted[2] = 0xff
	corrupted[3] = 0xff

	_, err := DecodeFramed(bytes.NewReader(corrupted))
	assert.Error(t, err)
}
