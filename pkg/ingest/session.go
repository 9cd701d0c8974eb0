// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package ingest

import (
	"context"
	"encoding/json"
	"fmt"
)

// OpenURI resolves uri against r, handling the always-accepted forms from
// §6 ("file://…", a bare path, "-" for stdin) before falling through to a
// scheme lookup for opt-in live-protocol plugins (rtmp, rtsp, udp, srt).
func OpenURI(r *Registry, uri string, config json.RawMessage) (IngestSource, error) {
	switch {
	case uri == "-":
		p, ok := r.Lookup("stdin")
		if !ok {
			return nil, fmt.Errorf("ingest: stdin plugin not registered")
		}
		if err := p.Validate(config); err != nil {
			return nil, fmt.Errorf("ingest: stdin: invalid config: %w", err)
		}
		return p.Create(config)
	case hasFileScheme(uri):
		body, err := json.Marshal(FileConfig{Path: uri[len("file://"):]})
		if err != nil {
			return nil, err
		}
		p, ok := r.Lookup("file")
		if !ok {
			return nil, fmt.Errorf("ingest: file plugin not registered")
		}
		if err := p.Validate(body); err != nil {
			return nil, err
		}
		return p.Create(body)
	case hasScheme(uri):
		return r.Open(uri, config)
	default:
		// Bare path (no scheme prefix): treat as a file plugin config,
		// per §6.
		body, err := json.Marshal(FileConfig{Path: uri})
		if err != nil {
			return nil, err
		}
		p, ok := r.Lookup("file")
		if !ok {
			return nil, fmt.Errorf("ingest: file plugin not registered")
		}
		if err := p.Validate(body); err != nil {
			return nil, err
		}
		return p.Create(body)
	}
}

func hasScheme(uri string) bool {
	_, err := parseScheme(uri)
	return err == nil
}

func hasFileScheme(uri string) bool {
	return len(uri) > len("file://") && uri[:len("file://")] == "file://"
}

// Selected wraps Start with §4.8's track-selection policy applied: items
// from tracks the policy rejects are dropped before reaching the runner's
// source node(s).
func Selected(ctx context.Context, src IngestSource, sel TrackSelection) (<-chan Item, <-chan error) {
	raw, errs := src.Start(ctx)
	out := make(chan Item, 8)
	go func() {
		defer close(out)
		seen := map[string]bool{}
		for item := range raw {
			if !sel.Accepts(item.Track, seen) {
				continue
			}
			select {
			case out <- item:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, errs
}
