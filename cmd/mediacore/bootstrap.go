// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rapidaai/mediacore/pkg/executor/nodes"
	"github.com/rapidaai/mediacore/pkg/ingest"
	"github.com/rapidaai/mediacore/pkg/registry"
)

// buildNodeRegistry registers every built-in native node type this repo
// ships (§4's "Built-in native nodes" supplement) and freezes the registry,
// matching §4.3's "set up at startup; read-only during execution".
func buildNodeRegistry() (*registry.Registry, error) {
	reg := registry.New()

	specs := []registry.RegistrationSpec{
		{TypeName: "echo", Category: registry.CategoryNative, Factory: func(json.RawMessage) (registry.NodeExecutor, error) {
			return nodes.NewEcho(), nil
		}},
		{TypeName: "audio_resample", Category: registry.CategoryNative, Factory: func(params json.RawMessage) (registry.NodeExecutor, error) {
			var cfg nodes.ResampleConfig
			if err := json.Unmarshal(params, &cfg); err != nil {
				return nil, fmt.Errorf("audio_resample: invalid params: %w", err)
			}
			return nodes.NewAudioResample("audio_resample", cfg), nil
		}},
		{TypeName: "vad", Category: registry.CategoryNative, Factory: func(params json.RawMessage) (registry.NodeExecutor, error) {
			var cfg nodes.VADConfig
			if err := json.Unmarshal(params, &cfg); err != nil {
				return nil, fmt.Errorf("vad: invalid params: %w", err)
			}
			return nodes.NewVAD("vad", cfg)
		}},
		{TypeName: "g711_encode", Category: registry.CategoryNative, Factory: func(params json.RawMessage) (registry.NodeExecutor, error) {
			var cfg struct {
				Law string `json:"law"`
			}
			if err := json.Unmarshal(params, &cfg); err != nil {
				return nil, fmt.Errorf("g711_encode: invalid params: %w", err)
			}
			return nodes.NewG711Encode("g711_encode", g711LawFromString(cfg.Law)), nil
		}},
		{TypeName: "g711_decode", Category: registry.CategoryNative, Factory: func(params json.RawMessage) (registry.NodeExecutor, error) {
			var cfg struct {
				Law          string `json:"law"`
				SampleRateHz uint32 `json:"sample_rate_hz"`
				Channels     uint16 `json:"channels"`
				StreamID     string `json:"stream_id"`
			}
			if err := json.Unmarshal(params, &cfg); err != nil {
				return nil, fmt.Errorf("g711_decode: invalid params: %w", err)
			}
			return nodes.NewG711Decode("g711_decode", g711LawFromString(cfg.Law), cfg.SampleRateHz, cfg.Channels, cfg.StreamID), nil
		}},
		{TypeName: "opus_encode", Category: registry.CategoryNative, Factory: func(params json.RawMessage) (registry.NodeExecutor, error) {
			var cfg nodes.OpusEncodeConfig
			if err := json.Unmarshal(params, &cfg); err != nil {
				return nil, fmt.Errorf("opus_encode: invalid params: %w", err)
			}
			return nodes.NewOpusEncode("opus_encode", cfg), nil
		}},
		{TypeName: "opus_decode", Category: registry.CategoryNative, Factory: func(params json.RawMessage) (registry.NodeExecutor, error) {
			var cfg nodes.OpusDecodeConfig
			if err := json.Unmarshal(params, &cfg); err != nil {
				return nil, fmt.Errorf("opus_decode: invalid params: %w", err)
			}
			return nodes.NewOpusDecode("opus_decode", cfg), nil
		}},
	}

	if err := reg.RegisterBulk(specs); err != nil {
		return nil, err
	}
	reg.Freeze()
	return reg, nil
}

func g711LawFromString(s string) nodes.G711Law {
	if s == "alaw" {
		return nodes.G711ALaw
	}
	return nodes.G711MuLaw
}

// buildIngestRegistry registers the always-available file/stdin ingestion
// plugins (§6: "file://…, bare path, - (stdin) are always accepted").
func buildIngestRegistry() (*ingest.Registry, error) {
	reg := ingest.New()
	if err := reg.RegisterBulk([]ingest.Plugin{
		ingest.NewFilePlugin(),
		ingest.NewStdinPlugin(os.Stdin),
	}); err != nil {
		return nil, err
	}
	reg.Freeze()
	return reg, nil
}
