// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rapidaai/mediacore/pkg/runtimedata"
)

// StdinConfig parameterizes the raw-PCM stdin source: the spec's "-"
// shorthand carries no container/header, so the caller must declare the
// format out of band.
type StdinConfig struct {
	SampleRateHz uint32 `json:"sample_rate_hz"`
	Channels     uint16 `json:"channels"`
	Format       string `json:"format"` // "f32" or "i16"
	ChunkBytes   int    `json:"chunk_bytes"`
}

// StdinPlugin reads raw interleaved PCM from the process's stdin.
type StdinPlugin struct {
	stdin io.Reader
}

// NewStdinPlugin builds a plugin reading from r (os.Stdin in production,
// a bytes.Reader in tests).
func NewStdinPlugin(r io.Reader) *StdinPlugin { return &StdinPlugin{stdin: r} }

func (StdinPlugin) Name() string             { return "stdin" }
func (StdinPlugin) AcceptedSchemes() []string { return []string{"stdin"} }

func (StdinPlugin) Validate(config json.RawMessage) error {
	var cfg StdinConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return fmt.Errorf("stdin ingest: invalid config: %w", err)
	}
	if cfg.SampleRateHz == 0 || cfg.Channels == 0 {
		return fmt.Errorf("stdin ingest: sample_rate_hz and channels are required")
	}
	switch cfg.Format {
	case "f32", "i16", "":
	default:
		return fmt.Errorf("stdin ingest: unknown format %q", cfg.Format)
	}
	return nil
}

func (p *StdinPlugin) Create(config json.RawMessage) (IngestSource, error) {
	var cfg StdinConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return nil, err
	}
	if cfg.ChunkBytes == 0 {
		cfg.ChunkBytes = 4096
	}
	format := runtimedata.SampleFormatI16
	if cfg.Format == "f32" {
		format = runtimedata.SampleFormatF32
	}
	return &stdinSource{r: bufio.NewReader(p.stdin), cfg: cfg, format: format}, nil
}

type stdinSource struct {
	r      *bufio.Reader
	cfg    StdinConfig
	format runtimedata.SampleFormat
}

func (s *stdinSource) Start(ctx context.Context) (<-chan Item, <-chan error) {
	items := make(chan Item, 8)
	errs := make(chan error, 1)

	bytesPerSample := 2
	if s.format == runtimedata.SampleFormatF32 {
		bytesPerSample = 4
	}
	frameSize := bytesPerSample * int(s.cfg.Channels)
	chunkBytes := s.cfg.ChunkBytes - (s.cfg.ChunkBytes % frameSize)
	if chunkBytes == 0 {
		chunkBytes = frameSize
	}

	go func() {
		defer close(items)
		defer close(errs)
		var tsUs uint64
		buf := make([]byte, chunkBytes)
		bytesPerSecond := int(s.cfg.SampleRateHz) * frameSize
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			n, err := io.ReadFull(s.r, buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				audio := &runtimedata.Audio{
					Samples:      chunk,
					SampleRateHz: s.cfg.SampleRateHz,
					Channels:     s.cfg.Channels,
					Format:       s.format,
					StreamIDV:    "audio:0",
					TimestampUsV: tsUs,
				}
				select {
				case items <- Item{Track: "audio:0", Data: audio}:
				case <-ctx.Done():
					return
				}
				tsUs += uint64(n) * 1_000_000 / uint64(bytesPerSecond)
			}
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return
			}
			if err != nil {
				errs <- fmt.Errorf("stdin ingest: read: %w", err)
				return
			}
		}
	}()

	return items, errs
}

func (s *stdinSource) Close() error { return nil }
