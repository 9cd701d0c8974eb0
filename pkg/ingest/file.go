// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package ingest

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rapidaai/mediacore/pkg/runtimedata"
)

// frameDurationUs is the chunk size file ingestion slices audio into: 20ms,
// matching the Opus/WebRTC frame convention the teacher's
// channel/webrtc/internal/types.go OpusFrameBytes constant is built around.
const frameDurationUs = 20_000

// FileConfig is the JSON config a "file://" or bare-path source accepts.
type FileConfig struct {
	Path string `json:"path"`
}

// FilePlugin reads a PCM WAV file from local disk and emits 20ms Audio
// chunks tagged "audio:0", built in the reverse of
// default_audio_recorder.go's createWAVFile (same RIFF/fmt/data chunk
// layout, read back instead of written).
type FilePlugin struct{}

func NewFilePlugin() *FilePlugin { return &FilePlugin{} }

func (FilePlugin) Name() string             { return "file" }
func (FilePlugin) AcceptedSchemes() []string { return []string{"file"} }

func (FilePlugin) Validate(config json.RawMessage) error {
	var cfg FileConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return fmt.Errorf("file ingest: invalid config: %w", err)
	}
	if cfg.Path == "" {
		return fmt.Errorf("file ingest: path is required")
	}
	return nil
}

func (FilePlugin) Create(config json.RawMessage) (IngestSource, error) {
	var cfg FileConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return nil, err
	}
	return &fileSource{path: cfg.Path}, nil
}

type fileSource struct {
	path string
	f    *os.File
}

func (s *fileSource) Start(ctx context.Context) (<-chan Item, <-chan error) {
	items := make(chan Item, 8)
	errs := make(chan error, 1)

	go func() {
		defer close(items)
		defer close(errs)

		f, err := os.Open(s.path)
		if err != nil {
			errs <- fmt.Errorf("file ingest: open %s: %w", s.path, err)
			return
		}
		s.f = f
		defer f.Close()

		header, err := readWAVHeader(f)
		if err != nil {
			errs <- fmt.Errorf("file ingest: %s: %w", s.path, err)
			return
		}

		frameBytes := header.bytesPerSecond() * frameDurationUs / 1_000_000
		// Round down to a whole sample-frame so each chunk stays
		// interleaved-sample aligned (§3's Audio invariant).
		sampleFrame := header.bytesPerSample() * int(header.channels)
		frameBytes -= frameBytes % sampleFrame
		if frameBytes == 0 {
			frameBytes = sampleFrame
		}

		buf := make([]byte, frameBytes)
		var tsUs uint64
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			n, err := io.ReadFull(f, buf)
			if n > 0 {
				format := runtimedata.SampleFormatI16
				if header.bitsPerSample == 32 {
					format = runtimedata.SampleFormatF32
				}
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				audio := &runtimedata.Audio{
					Samples:      chunk,
					SampleRateHz: header.sampleRate,
					Channels:     header.channels,
					Format:       format,
					StreamIDV:    "audio:0",
					TimestampUsV: tsUs,
				}
				select {
				case items <- Item{Track: "audio:0", Data: audio}:
				case <-ctx.Done():
					return
				}
				tsUs += uint64(n) * 1_000_000 / uint64(header.bytesPerSecond())
			}
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return
			}
			if err != nil {
				errs <- fmt.Errorf("file ingest: read %s: %w", s.path, err)
				return
			}
		}
	}()

	return items, errs
}

func (s *fileSource) Close() error {
	if s.f != nil {
		return s.f.Close()
	}
	return nil
}

type wavHeader struct {
	channels      uint16
	sampleRate    uint32
	bitsPerSample uint16
}

func (h wavHeader) bytesPerSample() int { return int(h.bitsPerSample) / 8 }
func (h wavHeader) bytesPerSecond() int {
	return int(h.sampleRate) * int(h.channels) * h.bytesPerSample()
}

// readWAVHeader walks RIFF chunks until it finds "fmt " and "data",
// leaving f positioned at the start of the PCM payload.
func readWAVHeader(f *os.File) (wavHeader, error) {
	var riffID [4]byte
	if _, err := io.ReadFull(f, riffID[:]); err != nil {
		return wavHeader{}, fmt.Errorf("read RIFF id: %w", err)
	}
	if string(riffID[:]) != "RIFF" {
		return wavHeader{}, fmt.Errorf("not a RIFF file")
	}
	if _, err := io.CopyN(io.Discard, f, 4); err != nil { // RIFF size
		return wavHeader{}, err
	}
	var waveID [4]byte
	if _, err := io.ReadFull(f, waveID[:]); err != nil {
		return wavHeader{}, err
	}
	if string(waveID[:]) != "WAVE" {
		return wavHeader{}, fmt.Errorf("not a WAVE file")
	}

	var h wavHeader
	sawFmt := false
	for {
		var chunkID [4]byte
		if _, err := io.ReadFull(f, chunkID[:]); err != nil {
			return wavHeader{}, fmt.Errorf("read chunk id: %w", err)
		}
		var size uint32
		if err := binary.Read(f, binary.LittleEndian, &size); err != nil {
			return wavHeader{}, err
		}
		switch string(chunkID[:]) {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(f, body); err != nil {
				return wavHeader{}, err
			}
			h.channels = binary.LittleEndian.Uint16(body[2:4])
			h.sampleRate = binary.LittleEndian.Uint32(body[4:8])
			h.bitsPerSample = binary.LittleEndian.Uint16(body[14:16])
			sawFmt = true
		case "data":
			if !sawFmt {
				return wavHeader{}, fmt.Errorf("data chunk before fmt chunk")
			}
			return h, nil
		default:
			if _, err := io.CopyN(io.Discard, f, int64(size)); err != nil {
				return wavHeader{}, fmt.Errorf("skip chunk %q: %w", chunkID, err)
			}
		}
	}
}
