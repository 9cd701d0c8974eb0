// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package nodes

import (
	"context"
	"encoding/json"
	"math"
	"sync"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/rapidaai/mediacore/pkg/executor"
	"github.com/rapidaai/mediacore/pkg/pipelineerr"
	"github.com/rapidaai/mediacore/pkg/registry"
	"github.com/rapidaai/mediacore/pkg/runtimedata"
)

// maxTrackedCancelRanges bounds how many CancelSpeculation ranges a single
// VAD node keeps around to test incoming/buffered audio against. Control
// traffic is low-volume and advisory/cancel in nature (§4.7); a small ring
// of the most recent ranges is enough to catch the cancel a caller actually
// cares about without growing unbounded over a long-lived session.
const maxTrackedCancelRanges = 16

// cancelRange is one accepted CancelSpeculation window.
type cancelRange struct {
	from, to uint64
}

// overlaps reports whether [start, end) intersects r.
func (r cancelRange) overlaps(start, end uint64) bool {
	return start < r.to && end > r.from
}

// VADConfig parameterizes the VAD node from §1's second scenario:
// `VAD(threshold=-30dB)`. ThresholdDB is the spec's own parameter name; the
// underlying silero-vad-go detector scores speech probability in [0,1], not
// decibels, so NewVAD maps ThresholdDB to an RMS energy pre-gate ahead of
// the model (silence well below the gate never reaches the detector) while
// leaving the model's own probability threshold at ModelThreshold. This
// mapping is recorded as an Open-Question resolution in DESIGN.md.
type VADConfig struct {
	ModelPath            string
	SampleRateHz         int
	ThresholdDB          float64
	ModelThreshold       float32
	MinSilenceDurationMs int
	SpeechPadMs          int
}

// segment is the JSON shape emitted per detected speech region.
type segment struct {
	StartUs uint64 `json:"start_us"`
	EndUs   uint64 `json:"end_us"`
}

// NewVAD builds a NativeExecutor around silero-vad-go's Detector. Each
// process_unary call accumulates f32 PCM into one node-wide buffer (frames
// from different streams are not kept apart) and returns the detected
// speech segments as Json RuntimeData once enough audio has been seen for
// the detector to commit to a boundary; calls before that return no
// output. No stream function is registered, so OpenStream fails. This
// follows the accumulate-then-detect batching the library's
// own Detect(pcm []float32) call shape requires (it runs over a window, not
// sample by sample).
func NewVAD(nodeID string, cfg VADConfig) (*executor.NativeExecutor, error) {
	if cfg.SampleRateHz == 0 {
		cfg.SampleRateHz = 16000
	}
	if cfg.ModelThreshold == 0 {
		cfg.ModelThreshold = 0.5
	}

	detector, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            cfg.ModelPath,
		SampleRate:           cfg.SampleRateHz,
		Threshold:            cfg.ModelThreshold,
		MinSilenceDurationMs: cfg.MinSilenceDurationMs,
		SpeechPadMs:          cfg.SpeechPadMs,
	})
	if err != nil {
		return nil, pipelineerr.New(pipelineerr.KindNodeInit, nodeID, "vad: build detector", err)
	}

	gate := dbToLinearAmplitude(cfg.ThresholdDB)

	var mu sync.Mutex
	var buffered []float32
	var bufferedStartUs uint64
	haveStart := false
	var cancels []cancelRange
	var controlCh <-chan *runtimedata.ControlMessage

	// recordCancel stores from/to (discarding the oldest tracked range past
	// maxTrackedCancelRanges) and, if it overlaps the window currently
	// accumulating, discards that window outright — "abandon that work and
	// discard already-computed buffers in that range" (§4.7). Repeating the
	// same range is harmless: the buffer is either already empty or gets
	// dropped again, matching "nodes must be idempotent under repeated
	// cancels".
	recordCancel := func(from, to uint64) {
		mu.Lock()
		defer mu.Unlock()
		cancels = append(cancels, cancelRange{from: from, to: to})
		if len(cancels) > maxTrackedCancelRanges {
			cancels = cancels[len(cancels)-maxTrackedCancelRanges:]
		}
		// The accumulating window spans at most ~1s (the threshold process
		// waits for before calling Detect); treat the whole span as
		// outstanding work subject to cancellation, not just its start
		// instant.
		if haveStart && (cancelRange{from: from, to: to}).overlaps(bufferedStartUs, bufferedStartUs+1_000_000) {
			buffered = nil
			haveStart = false
		}
	}

	// cancelled reports whether [start,end) falls inside any tracked
	// CancelSpeculation range, without holding mu (callers already do).
	cancelled := func(start, end uint64) bool {
		for _, r := range cancels {
			if r.overlaps(start, end) {
				return true
			}
		}
		return false
	}

	// drainControl non-blockingly consumes every ControlMessage queued
	// since the last call, applying any CancelSpeculation it carries.
	// BatchHint/DeadlineWarning are advisory and this node does not batch
	// or adapt precision, so both are ignored per §4.7's "unsupported
	// nodes ignore".
	drainControl := func() {
		if controlCh == nil {
			return
		}
		for {
			select {
			case msg, ok := <-controlCh:
				if !ok {
					return
				}
				if cs, isCancel, err := msg.AsCancelSpeculation(); err == nil && isCancel {
					recordCancel(cs.FromTimestampUs, cs.ToTimestampUs)
				}
			default:
				return
			}
		}
	}

	process := func(audio *runtimedata.Audio) ([]runtimedata.RuntimeData, error) {
		if audio.Format != runtimedata.SampleFormatF32 {
			return nil, pipelineerr.New(pipelineerr.KindNodeProcess, nodeID, "vad: requires f32 PCM input", nil)
		}
		drainControl()
		samples := bytesToFloat32(audio.Samples)
		frameEndUs := audio.TimestampUsV
		if audio.SampleRateHz > 0 {
			frameEndUs += uint64(len(samples)) * 1_000_000 / uint64(audio.SampleRateHz)
		}

		mu.Lock()
		if cancelled(audio.TimestampUsV, frameEndUs) {
			// In-flight speculative work covering this frame's range was
			// cancelled: discard the frame instead of accumulating it.
			mu.Unlock()
			return nil, nil
		}
		if !haveStart {
			bufferedStartUs = audio.TimestampUsV
			haveStart = true
		}
		if rmsAmplitude(samples) >= gate {
			buffered = append(buffered, samples...)
		}
		pending := len(buffered)
		mu.Unlock()

		// Wait for at least ~1s of gated audio before asking the model to
		// commit a segment boundary, matching the library's window-based
		// Detect contract.
		if pending < cfg.SampleRateHz {
			return nil, nil
		}

		mu.Lock()
		window := buffered
		start := bufferedStartUs
		buffered = nil
		haveStart = false
		mu.Unlock()

		segs, err := detector.Detect(window)
		if err != nil {
			return nil, pipelineerr.New(pipelineerr.KindNodeProcess, nodeID, "vad: detect", err)
		}

		outputs := make([]runtimedata.RuntimeData, 0, len(segs))
		for _, s := range segs {
			startUs := start + uint64(s.SpeechStartAt*float64(1_000_000))
			endUs := start + uint64(s.SpeechEndAt*float64(1_000_000))
			mu.Lock()
			skip := cancelled(startUs, endUs)
			mu.Unlock()
			if skip {
				continue
			}
			body, err := json.Marshal(segment{StartUs: startUs, EndUs: endUs})
			if err != nil {
				continue
			}
			outputs = append(outputs, &runtimedata.JSON{Payload: body, SchemaTag: "vad_segment"})
		}
		return outputs, nil
	}

	unary := func(ctx context.Context, input runtimedata.RuntimeData) ([]runtimedata.RuntimeData, error) {
		audio, ok := input.(*runtimedata.Audio)
		if !ok {
			return nil, pipelineerr.New(pipelineerr.KindNodeProcess, nodeID, "vad: expected Audio input", nil)
		}
		return process(audio)
	}

	initFn := func(ctx context.Context, init registry.InitContext) error {
		mu.Lock()
		controlCh = init.ControlMessages
		mu.Unlock()
		return nil
	}

	return executor.NewNative(unary, nil).WithInit(initFn), nil
}

// dbToLinearAmplitude converts a dBFS threshold to the linear amplitude
// ratio silence must clear before it is even offered to the model
// (10^(db/20), the standard audio-engineering conversion).
func dbToLinearAmplitude(db float64) float64 {
	return math.Pow(10, db/20)
}

func rmsAmplitude(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func bytesToFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		bits := uint32(b[i*4]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}
