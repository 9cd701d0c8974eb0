// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package nodes

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDbToLinearAmplitude(t *testing.T) {
	assert.InDelta(t, 1.0, dbToLinearAmplitude(0), 1e-9)
	assert.InDelta(t, 0.1, dbToLinearAmplitude(-20), 1e-9)
	assert.InDelta(t, 10.0, dbToLinearAmplitude(20), 1e-9)
}

func TestRmsAmplitude(t *testing.T) {
	assert.Equal(t, 0.0, rmsAmplitude(nil))

	silence := make([]float32, 100)
	assert.Equal(t, 0.0, rmsAmplitude(silence))

	constant := []float32{0.5, -0.5, 0.5, -0.5}
	assert.InDelta(t, 0.5, rmsAmplitude(constant), 1e-6)
}

func TestBytesToFloat32RoundTrips(t *testing.T) {
	want := []float32{1.5, -2.25, 0, 100.125}
	b := make([]byte, len(want)*4)
	for i, f := range want {
		bits := math.Float32bits(f)
		b[i*4] = byte(bits)
		b[i*4+1] = byte(bits >> 8)
		b[i*4+2] = byte(bits >> 16)
		b[i*4+3] = byte(bits >> 24)
	}

	got := bytesToFloat32(b)
	assert.Equal(t, want, got)
}

func TestVADThresholdGatesQuietAudioFromReachingTheBuffer(t *testing.T) {
	// A -30dB gate should reject near-silent samples well below that
	// amplitude without needing a real detector model loaded.
	gate := dbToLinearAmplitude(-30)
	quiet := []float32{0.0001, -0.0001, 0.0001, -0.0001}
	assert.Less(t, rmsAmplitude(quiet), gate)

	loud := []float32{0.8, -0.8, 0.8, -0.8}
	assert.Greater(t, rmsAmplitude(loud), gate)
}
