// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package runtimedata implements the RuntimeData sum type (§3): the typed
// media buffer that flows along every edge of a pipeline graph.
package runtimedata

import "fmt"

// Kind tags a RuntimeData variant. Values match the wire tag byte in §4.1.
type Kind uint8

const (
	KindAudio          Kind = 1
	KindVideo          Kind = 2
	KindText           Kind = 3
	KindNumpy          Kind = 4
	KindControlMessage Kind = 5
	KindJSON           Kind = 6
	KindBinary         Kind = 7
)

func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	case KindText:
		return "text"
	case KindNumpy:
		return "numpy"
	case KindControlMessage:
		return "control_message"
	case KindJSON:
		return "json"
	case KindBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// RuntimeData is the closed sum type every node produces and consumes.
// Concrete variants (Audio, Video, Text, Json, Binary, Numpy,
// ControlMessage) each implement this, analogous to how the teacher's
// internal_type.Stream interface is implemented by each
// protos.Conversation*Message variant and routed through one channel.
type RuntimeData interface {
	// Kind identifies which variant this value is.
	Kind() Kind
	// Validate checks the variant's data-model invariants (§3).
	Validate() error
}

// StreamCarrier is implemented by variants that carry a stream_id and must
// therefore satisfy the monotone-timestamp invariant within that stream.
type StreamCarrier interface {
	RuntimeData
	StreamID() string
	TimestampUs() uint64
}

// SampleFormat distinguishes PCM encodings carried by Audio.
type SampleFormat uint8

const (
	SampleFormatF32 SampleFormat = 1
	SampleFormatI16 SampleFormat = 2
)

func (f SampleFormat) bytesPerSample() int {
	switch f {
	case SampleFormatF32:
		return 4
	case SampleFormatI16:
		return 2
	default:
		return 0
	}
}

// Audio is a buffer of interleaved PCM samples.
type Audio struct {
	Samples      []byte
	SampleRateHz uint32
	Channels     uint16
	Format       SampleFormat
	StreamIDV    string
	TimestampUsV uint64
}

func (a *Audio) Kind() Kind             { return KindAudio }
func (a *Audio) StreamID() string       { return a.StreamIDV }
func (a *Audio) TimestampUs() uint64    { return a.TimestampUsV }
func (a *Audio) BytesPerSample() int    { return a.Format.bytesPerSample() }
func (a *Audio) FrameBytes() int        { return a.BytesPerSample() * int(a.Channels) }
func (a *Audio) NumSamples() int {
	fb := a.FrameBytes()
	if fb == 0 {
		return 0
	}
	return len(a.Samples) / fb
}

func (a *Audio) Validate() error {
	if a.StreamIDV == "" {
		return fmt.Errorf("audio: stream_id must not be empty")
	}
	if a.Format != SampleFormatF32 && a.Format != SampleFormatI16 {
		return fmt.Errorf("audio: unknown sample format %d", a.Format)
	}
	if a.Channels == 0 {
		return fmt.Errorf("audio: channels must be > 0")
	}
	fb := a.FrameBytes()
	if fb == 0 || len(a.Samples)%fb != 0 {
		return fmt.Errorf("audio: samples length %d is not a multiple of channels(%d)*sample_size(%d)",
			len(a.Samples), a.Channels, a.BytesPerSample())
	}
	return nil
}

// PixelFormat enumerates supported Video pixel layouts.
type PixelFormat uint8

const (
	PixelFormatRGB24  PixelFormat = 1
	PixelFormatBGR24  PixelFormat = 2
	PixelFormatYUV420P PixelFormat = 3
	PixelFormatNV12   PixelFormat = 4
	PixelFormatRGBA32 PixelFormat = 5
)

// RowStride returns the byte size of one packed row (for YUV420P and NV12,
// one row of the luma plane) for the given width and format. FrameSize
// gives the total frame size.
func RowStride(width uint32, format PixelFormat) (stride int, err error) {
	switch format {
	case PixelFormatRGB24, PixelFormatBGR24:
		return int(width) * 3, nil
	case PixelFormatRGBA32:
		return int(width) * 4, nil
	case PixelFormatNV12:
		return int(width), nil
	case PixelFormatYUV420P:
		return int(width), nil
	default:
		return 0, fmt.Errorf("video: unknown pixel format %d", format)
	}
}

// FrameSize returns the total byte length of a frame of the given
// dimensions and format, accounting for chroma-subsampled planar formats.
func FrameSize(width, height uint32, format PixelFormat) (int, error) {
	stride, err := RowStride(width, format)
	if err != nil {
		return 0, err
	}
	switch format {
	case PixelFormatYUV420P:
		// Y plane full res, U/V planes each at half res in both dimensions.
		ySize := stride * int(height)
		chromaStride := (int(width) + 1) / 2
		chromaRows := (int(height) + 1) / 2
		return ySize + 2*chromaStride*chromaRows, nil
	case PixelFormatNV12:
		ySize := stride * int(height)
		chromaRows := (int(height) + 1) / 2
		return ySize + stride*chromaRows, nil
	default:
		return stride * int(height), nil
	}
}

// Video is a single decoded or raw video frame.
type Video struct {
	PixelData    []byte
	Width        uint32
	Height       uint32
	Format       PixelFormat
	FrameNumber  uint64
	TimestampUsV uint64
	StreamIDV    string
}

func (v *Video) Kind() Kind          { return KindVideo }
func (v *Video) StreamID() string    { return v.StreamIDV }
func (v *Video) TimestampUs() uint64 { return v.TimestampUsV }

func (v *Video) Validate() error {
	if v.StreamIDV == "" {
		return fmt.Errorf("video: stream_id must not be empty")
	}
	want, err := FrameSize(v.Width, v.Height, v.Format)
	if err != nil {
		return err
	}
	if len(v.PixelData) != want {
		return fmt.Errorf("video: pixel_data length %d does not match expected frame size %d for %dx%d format %d",
			len(v.PixelData), want, v.Width, v.Height, v.Format)
	}
	return nil
}

// Text is a UTF-8 text buffer, e.g. a transcript segment.
type Text struct {
	Content      string
	StreamIDV    string
	TimestampUsV uint64
}

func (t *Text) Kind() Kind          { return KindText }
func (t *Text) StreamID() string    { return t.StreamIDV }
func (t *Text) TimestampUs() uint64 { return t.TimestampUsV }

func (t *Text) Validate() error {
	if t.StreamIDV == "" {
		return fmt.Errorf("text: stream_id must not be empty")
	}
	return nil
}

// JSON carries a canonical JSON payload plus an optional schema tag so
// consumers can dispatch on shape without a full parse.
type JSON struct {
	Payload   []byte
	SchemaTag string
}

func (j *JSON) Kind() Kind { return KindJSON }

func (j *JSON) Validate() error {
	if !jsonValid(j.Payload) {
		return fmt.Errorf("json: payload is not valid JSON")
	}
	return nil
}

// Binary is an escape hatch for opaque byte payloads that do not fit any
// other variant.
type Binary struct {
	Bytes       []byte
	ContentType string
}

func (b *Binary) Kind() Kind    { return KindBinary }
func (b *Binary) Validate() error { return nil }
