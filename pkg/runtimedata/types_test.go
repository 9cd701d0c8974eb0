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

func TestAudioValidate(t *testing.T) {
	tests := []struct {
		name    string
		audio   Audio
		wantErr bool
	}{
		{
			name: "valid stereo i16",
			audio: Audio{
				StreamIDV: "s1", Channels: 2, Format: SampleFormatI16,
				Samples: make([]byte, 2*2*100),
			},
		},
		{
			name:    "empty stream id",
			audio:   Audio{Channels: 1, Format: SampleFormatI16, Samples: make([]byte, 2)},
			wantErr: true,
		},
		{
			name:    "zero channels",
			audio:   Audio{StreamIDV: "s1", Channels: 0, Format: SampleFormatI16, Samples: make([]byte, 2)},
			wantErr: true,
		},
		{
			name:    "misaligned buffer",
			audio:   Audio{StreamIDV: "s1", Channels: 2, Format: SampleFormatF32, Samples: make([]byte, 7)},
			wantErr: true,
		},
		{
			name:    "unknown format",
			audio:   Audio{StreamIDV: "s1", Channels: 1, Format: SampleFormat(99), Samples: make([]byte, 2)},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.audio.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAudioNumSamples(t *testing.T) {
	a := Audio{StreamIDV: "s1", Channels: 2, Format: SampleFormatI16, Samples: make([]byte, 40)}
	require.NoError(t, a.Validate())
	assert.Equal(t, 10, a.NumSamples())
}

func TestVideoValidate(t *testing.T) {
	size, err := FrameSize(4, 2, PixelFormatRGB24)
	require.NoError(t, err)

	v := Video{StreamIDV: "v1", Width: 4, Height: 2, Format: PixelFormatRGB24, PixelData: make([]byte, size)}
	assert.NoError(t, v.Validate())

	v.PixelData = make([]byte, size-1)
	assert.Error(t, v.Validate())
}

func TestVideoValidateYUV420P(t *testing.T) {
	size, err := FrameSize(4, 4, PixelFormatYUV420P)
	require.NoError(t, err)
	assert.Equal(t, 4*4+2*2*2, size)

	v := Video{StreamIDV: "v1", Width: 4, Height: 4, Format: PixelFormatYUV420P, PixelData: make([]byte, size)}
	assert.NoError(t, v.Validate())
}

func TestVideoValidateUnknownFormat(t *testing.T) {
	v := Video{StreamIDV: "v1", Width: 4, Height: 4, Format: PixelFormat(255), PixelData: []byte{1}}
	assert.Error(t, v.Validate())
}

func TestTextValidate(t *testing.T) {
	assert.NoError(t, (&Text{StreamIDV: "s1", Content: "hello"}).Validate())
	assert.Error(t, (&Text{Content: "hello"}).Validate())
}

func TestJSONValidate(t *testing.T) {
	assert.NoError(t, (&JSON{Payload: []byte(`{"a":1}`)}).Validate())
	assert.Error(t, (&JSON{Payload: []byte(`not json`)}).Validate())
}

func TestBinaryValidate(t *testing.T) {
	assert.NoError(t, (&Binary{Bytes: []byte{1, 2, 3}}).Validate())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "audio", KindAudio.String())
	assert.Equal(t, "control_message", KindControlMessage.String())
	assert.Equal(t, "unknown", Kind(255).String())
}
