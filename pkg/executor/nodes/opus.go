// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package nodes implements the built-in native DSP nodes named by §1's
// example scenarios: audio resampling, voice-activity detection, G.711
// telephony codec conversion, Opus codec conversion, and a trivial echo
// node for unary round-trip testing. Each constructor returns an
// *executor.NativeExecutor wrapping a stateless or lightly-stateful
// processing function, the same shape native nodes take throughout §4.4.1.
package nodes

import (
	"context"
	"sync"

	"gopkg.in/hraban/opus.v2"

	"github.com/rapidaai/mediacore/pkg/executor"
	"github.com/rapidaai/mediacore/pkg/pipelineerr"
	"github.com/rapidaai/mediacore/pkg/runtimedata"
)

// Opus framing constants, grounded on the teacher's WebRTC channel
// (internal/channel/webrtc/internal/types.go): 48kHz, 20ms frames, stereo
// signaling per RFC 7587 even when the encoded source is mono.
const (
	opusSampleRateHz = 48000
	opusChannels     = 2
	opusFrameMillis  = 20
	opusFrameSamples = opusSampleRateHz * opusFrameMillis / 1000 // 960 samples/channel
	opusMaxFrameSize = opusFrameSamples * 6                      // headroom for decode, per hraban/opus examples
)

// OpusEncodeConfig parameterizes the Opus encode node.
type OpusEncodeConfig struct {
	Bitrate int // bits/sec; 0 uses the library default
}

// NewOpusEncode builds a NativeExecutor that encodes interleaved 16-bit PCM
// Audio frames into Opus-compressed Binary frames, one Opus packet per
// input Audio buffer. The encoder is created lazily on first use since the
// input's channel count is only known once data arrives.
func NewOpusEncode(nodeID string, cfg OpusEncodeConfig) *executor.NativeExecutor {
	var (
		mu  sync.Mutex
		enc *opus.Encoder
	)

	ensureEncoder := func(channels int) (*opus.Encoder, error) {
		mu.Lock()
		defer mu.Unlock()
		if enc != nil {
			return enc, nil
		}
		e, err := opus.NewEncoder(opusSampleRateHz, channels, opus.AppVoIP)
		if err != nil {
			return nil, err
		}
		if cfg.Bitrate > 0 {
			if err := e.SetBitrate(cfg.Bitrate); err != nil {
				return nil, err
			}
		}
		enc = e
		return enc, nil
	}

	unary := func(ctx context.Context, input runtimedata.RuntimeData) ([]runtimedata.RuntimeData, error) {
		audio, ok := input.(*runtimedata.Audio)
		if !ok {
			return nil, pipelineerr.New(pipelineerr.KindNodeProcess, nodeID, "opus encode: expected Audio input", nil)
		}
		if audio.Format != runtimedata.SampleFormatI16 {
			return nil, pipelineerr.New(pipelineerr.KindNodeProcess, nodeID, "opus encode: requires 16-bit PCM input", nil)
		}
		e, err := ensureEncoder(int(audio.Channels))
		if err != nil {
			return nil, pipelineerr.New(pipelineerr.KindNodeInit, nodeID, "opus encoder init", err)
		}
		pcm := bytesToInt16(audio.Samples)
		out := make([]byte, opusMaxFrameSize)
		n, err := e.Encode(pcm, out)
		if err != nil {
			return nil, pipelineerr.New(pipelineerr.KindNodeProcess, nodeID, "opus encode", err)
		}
		return []runtimedata.RuntimeData{&runtimedata.Binary{
			Bytes:       out[:n],
			ContentType: "audio/opus",
		}}, nil
	}

	return executor.NewNative(unary, nil)
}

// OpusDecodeConfig parameterizes the Opus decode node.
type OpusDecodeConfig struct {
	Channels int    // defaults to opusChannels if zero
	StreamID string // stamped on every decoded Audio frame; defaults to nodeID if empty
}

// NewOpusDecode builds a NativeExecutor that decodes one Opus packet
// (Binary) per call back into a 16-bit PCM Audio frame.
//
// Binary carries no stream_id or timestamp, so (as with NewG711Decode) the
// decoded Audio stamps cfg.StreamID (or nodeID) and synthesizes a running
// clock advanced by each frame's own duration rather than copying fields
// that don't exist on the input envelope.
func NewOpusDecode(nodeID string, cfg OpusDecodeConfig) *executor.NativeExecutor {
	channels := cfg.Channels
	if channels == 0 {
		channels = opusChannels
	}
	streamID := cfg.StreamID
	if streamID == "" {
		streamID = nodeID
	}

	var (
		mu      sync.Mutex
		dec     *opus.Decoder
		clockUs uint64
	)
	ensureDecoder := func() (*opus.Decoder, error) {
		mu.Lock()
		defer mu.Unlock()
		if dec != nil {
			return dec, nil
		}
		d, err := opus.NewDecoder(opusSampleRateHz, channels)
		if err != nil {
			return nil, err
		}
		dec = d
		return dec, nil
	}

	unary := func(ctx context.Context, input runtimedata.RuntimeData) ([]runtimedata.RuntimeData, error) {
		bin, ok := input.(*runtimedata.Binary)
		if !ok {
			return nil, pipelineerr.New(pipelineerr.KindNodeProcess, nodeID, "opus decode: expected Binary input", nil)
		}
		d, err := ensureDecoder()
		if err != nil {
			return nil, pipelineerr.New(pipelineerr.KindNodeInit, nodeID, "opus decoder init", err)
		}
		pcm := make([]int16, opusMaxFrameSize)
		n, err := d.Decode(bin.Bytes, pcm)
		if err != nil {
			return nil, pipelineerr.New(pipelineerr.KindNodeProcess, nodeID, "opus decode", err)
		}

		mu.Lock()
		ts := clockUs
		clockUs += uint64(n) * 1_000_000 / uint64(opusSampleRateHz)
		mu.Unlock()

		return []runtimedata.RuntimeData{&runtimedata.Audio{
			Samples:      int16ToBytes(pcm[:n*channels]),
			SampleRateHz: opusSampleRateHz,
			Channels:     uint16(channels),
			Format:       runtimedata.SampleFormatI16,
			StreamIDV:    streamID,
			TimestampUsV: ts,
		}}, nil
	}

	return executor.NewNative(unary, nil)
}

func bytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(uint16(b[2*i]) | uint16(b[2*i+1])<<8)
	}
	return out
}

func int16ToBytes(s []int16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}
