// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package nodes

import (
	"context"
	"sync"

	"github.com/zaf/g711"

	"github.com/rapidaai/mediacore/pkg/executor"
	"github.com/rapidaai/mediacore/pkg/pipelineerr"
	"github.com/rapidaai/mediacore/pkg/runtimedata"
)

// G711Law selects which ITU-T G.711 companding table a codec node applies.
type G711Law int

const (
	G711MuLaw G711Law = iota
	G711ALaw
)

// NewG711Encode builds a NativeExecutor that compands 16-bit linear PCM
// Audio down to 8-bit G.711 Binary, one sample at a time via the table
// lookups zaf/g711 exposes (Lin2Ulaw/Lin2Alaw), the telephony trunk codec
// every SIP/RTP leg in the teacher's stack ultimately carries.
func NewG711Encode(nodeID string, law G711Law) *executor.NativeExecutor {
	contentType := "audio/pcmu"
	if law == G711ALaw {
		contentType = "audio/pcma"
	}

	unary := func(ctx context.Context, input runtimedata.RuntimeData) ([]runtimedata.RuntimeData, error) {
		audio, ok := input.(*runtimedata.Audio)
		if !ok {
			return nil, pipelineerr.New(pipelineerr.KindNodeProcess, nodeID, "g711 encode: expected Audio input", nil)
		}
		if audio.Format != runtimedata.SampleFormatI16 {
			return nil, pipelineerr.New(pipelineerr.KindNodeProcess, nodeID, "g711 encode: requires 16-bit PCM input", nil)
		}
		pcm := bytesToInt16(audio.Samples)
		out := make([]byte, len(pcm))
		for i, s := range pcm {
			if law == G711ALaw {
				out[i] = g711.Lin2Alaw(s)
			} else {
				out[i] = g711.Lin2Ulaw(s)
			}
		}
		return []runtimedata.RuntimeData{&runtimedata.Binary{Bytes: out, ContentType: contentType}}, nil
	}
	return executor.NewNative(unary, nil)
}

// NewG711Decode builds the inverse of NewG711Encode: one 8-bit G.711 Binary
// byte per sample expands back to 16-bit linear PCM Audio.
//
// Binary carries no stream_id or timestamp (§4.1's wire format only gives it
// content_type + bytes), so the decoded Audio cannot copy those fields from
// its input the way resample/VAD copy them from an Audio input. streamID
// stamps every frame this node emits (falling back to nodeID when the caller
// leaves it blank); TimestampUsV is synthesized as a running clock advanced
// by each frame's own duration, the same "derive it from sample count and
// rate" approach §3's stream_id invariant expects a decoder boundary to use
// when no upstream timestamp is available.
func NewG711Decode(nodeID string, law G711Law, sampleRateHz uint32, channels uint16, streamID string) *executor.NativeExecutor {
	if streamID == "" {
		streamID = nodeID
	}

	var (
		mu      sync.Mutex
		clockUs uint64
	)

	unary := func(ctx context.Context, input runtimedata.RuntimeData) ([]runtimedata.RuntimeData, error) {
		bin, ok := input.(*runtimedata.Binary)
		if !ok {
			return nil, pipelineerr.New(pipelineerr.KindNodeProcess, nodeID, "g711 decode: expected Binary input", nil)
		}
		pcm := make([]int16, len(bin.Bytes))
		for i, b := range bin.Bytes {
			if law == G711ALaw {
				pcm[i] = g711.Alaw2Lin(b)
			} else {
				pcm[i] = g711.Ulaw2Lin(b)
			}
		}

		mu.Lock()
		ts := clockUs
		if channels > 0 && sampleRateHz > 0 {
			samplesPerChannel := uint64(len(pcm)) / uint64(channels)
			clockUs += samplesPerChannel * 1_000_000 / uint64(sampleRateHz)
		}
		mu.Unlock()

		return []runtimedata.RuntimeData{&runtimedata.Audio{
			Samples:      int16ToBytes(pcm),
			SampleRateHz: sampleRateHz,
			Channels:     channels,
			Format:       runtimedata.SampleFormatI16,
			StreamIDV:    streamID,
			TimestampUsV: ts,
		}}, nil
	}
	return executor.NewNative(unary, nil)
}
