// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package ingest

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeWAV(t *testing.T, path string, sampleRate uint32, channels uint16, samples []int16) {
	t.Helper()
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	bps := sampleRate * uint32(channels) * 2

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, channels)
	binary.Write(&buf, binary.LittleEndian, sampleRate)
	binary.Write(&buf, binary.LittleEndian, bps)
	binary.Write(&buf, binary.LittleEndian, uint16(channels*2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestFileSourceEmitsAudioChunks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.wav")
	samples := make([]int16, 48000) // 1 second at 48kHz mono
	writeWAV(t, path, 48000, 1, samples)

	reg := New()
	require.NoError(t, reg.Register(NewFilePlugin()))
	reg.Freeze()

	src, err := OpenURI(reg, path, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	items, errs := src.Start(ctx)

	total := 0
	for range items {
		total++
	}
	select {
	case err := <-errs:
		assert.NoError(t, err)
	default:
	}
	assert.Greater(t, total, 0)
}

func TestFileSourceAudioShape(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.wav")
	writeWAV(t, path, 16000, 1, make([]int16, 16000))

	reg := New()
	require.NoError(t, reg.Register(NewFilePlugin()))
	reg.Freeze()

	src, err := OpenURI(reg, path, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	items, _ := src.Start(ctx)

	first, ok := <-items
	require.True(t, ok)
	assert.Equal(t, "audio:0", first.Track)
	require.NoError(t, first.Data.Validate())
}

func TestStdinSourceEmitsConfiguredFormat(t *testing.T) {
	raw := make([]byte, 3200) // 100ms @ 16kHz mono 16-bit
	plugin := NewStdinPlugin(bytes.NewReader(raw))
	cfg, err := json.Marshal(StdinConfig{SampleRateHz: 16000, Channels: 1, Format: "i16"})
	require.NoError(t, err)
	require.NoError(t, plugin.Validate(cfg))

	src, err := plugin.Create(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	items, errs := src.Start(ctx)

	total := 0
	for range items {
		total++
	}
	select {
	case err := <-errs:
		assert.NoError(t, err)
	default:
	}
	assert.Greater(t, total, 0)
}

func TestTrackSelectionFirstAudioVideo(t *testing.T) {
	sel := DefaultTrackSelection()
	seen := map[string]bool{}
	assert.True(t, sel.Accepts("audio:0", seen))
	assert.False(t, sel.Accepts("audio:1", seen))
	assert.True(t, sel.Accepts("video:0", seen))
	assert.False(t, sel.Accepts("subtitle:0", seen))
}

func TestRegistrySchemeClashFails(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register(NewFilePlugin()))
	err := reg.Register(NewFilePlugin())
	assert.Error(t, err)
}

func TestRegistryFreezeRejectsLateRegistration(t *testing.T) {
	reg := New()
	reg.Freeze()
	assert.Error(t, reg.Register(NewFilePlugin()))
}
