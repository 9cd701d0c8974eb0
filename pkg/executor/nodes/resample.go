// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package nodes

import (
	"context"
	"sync"

	resampler "github.com/tphakala/go-audio-resampler"

	"github.com/rapidaai/mediacore/pkg/executor"
	"github.com/rapidaai/mediacore/pkg/pipelineerr"
	"github.com/rapidaai/mediacore/pkg/runtimedata"
)

// ResampleConfig parameterizes the AudioResample node from §1's first
// scenario: ingest audio at one sample rate, hand a second node (VAD,
// codec, transcription) audio at the rate it expects.
type ResampleConfig struct {
	OutputSampleRateHz uint32
}

// NewAudioResample builds a NativeExecutor that converts 16-bit PCM Audio
// from its input sample rate to cfg.OutputSampleRateHz. One resampler.
// Resampler is built per distinct (input_rate, channels) pair observed,
// since the library is instantiated against a fixed rate/channel pair and a
// single node may see streams from more than one upstream source.
func NewAudioResample(nodeID string, cfg ResampleConfig) *executor.NativeExecutor {
	type key struct {
		inRate   uint32
		channels uint16
	}

	var (
		mu        sync.Mutex
		resampers = map[key]*resampler.Resampler{}
	)

	get := func(k key) (*resampler.Resampler, error) {
		mu.Lock()
		defer mu.Unlock()
		if r, ok := resampers[k]; ok {
			return r, nil
		}
		r, err := resampler.New(int(k.inRate), int(cfg.OutputSampleRateHz), int(k.channels))
		if err != nil {
			return nil, err
		}
		resampers[k] = r
		return r, nil
	}

	unary := func(ctx context.Context, input runtimedata.RuntimeData) ([]runtimedata.RuntimeData, error) {
		audio, ok := input.(*runtimedata.Audio)
		if !ok {
			return nil, pipelineerr.New(pipelineerr.KindNodeProcess, nodeID, "audio_resample: expected Audio input", nil)
		}
		if audio.Format != runtimedata.SampleFormatI16 {
			return nil, pipelineerr.New(pipelineerr.KindNodeProcess, nodeID, "audio_resample: requires 16-bit PCM input", nil)
		}
		if audio.SampleRateHz == cfg.OutputSampleRateHz {
			return []runtimedata.RuntimeData{audio}, nil
		}

		r, err := get(key{inRate: audio.SampleRateHz, channels: audio.Channels})
		if err != nil {
			return nil, pipelineerr.New(pipelineerr.KindNodeInit, nodeID, "audio_resample: build resampler", err)
		}

		in := bytesToInt16(audio.Samples)
		out, err := r.Resample(in)
		if err != nil {
			return nil, pipelineerr.New(pipelineerr.KindNodeProcess, nodeID, "audio_resample: resample", err)
		}

		return []runtimedata.RuntimeData{&runtimedata.Audio{
			Samples:      int16ToBytes(out),
			SampleRateHz: cfg.OutputSampleRateHz,
			Channels:     audio.Channels,
			Format:       runtimedata.SampleFormatI16,
			StreamIDV:    audio.StreamIDV,
			TimestampUsV: audio.TimestampUsV,
		}}, nil
	}

	return executor.NewNative(unary, nil)
}
