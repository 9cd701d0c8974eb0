// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package ingest implements the ingestion plugin registry from §4.8:
// pluggable media-source adapters, selected by URI scheme, that produce
// tagged RuntimeData streams feeding a pipeline's source node(s). The
// registration shape generalizes pkg/registry's "name -> factory,
// read-only after startup" pattern from node types to source schemes —
// the same shape the teacher applies per transport
// (internal/telephony/{twilio,vonage}), each a swappable adapter selected
// by provider name.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/rapidaai/mediacore/pkg/runtimedata"
)

// TrackSelection controls which of an IngestSource's tagged tracks
// (audio:N, video:N, subtitle:N) are surfaced to the pipeline (§4.8).
type TrackSelection struct {
	// Mode selects the policy: "first_audio_video" (default), "all", or
	// "specific" (Tracks names the tracks to keep).
	Mode   string
	Tracks []string
}

const (
	SelectFirstAudioVideo = "first_audio_video"
	SelectAll             = "all"
	SelectSpecific        = "specific"
)

// DefaultTrackSelection is §4.8's default policy.
func DefaultTrackSelection() TrackSelection {
	return TrackSelection{Mode: SelectFirstAudioVideo}
}

// Accepts reports whether a track tag (e.g. "audio:0") passes the
// selection, tracking the first audio and first video tag seen in
// SelectFirstAudioVideo mode via the seenKinds map the caller threads
// across calls (one per distinct kind prefix before "first_audio_video"
// stops accepting more of that kind).
func (s TrackSelection) Accepts(track string, seenKinds map[string]bool) bool {
	switch s.Mode {
	case SelectAll, "":
		return true
	case SelectSpecific:
		for _, t := range s.Tracks {
			if t == track {
				return true
			}
		}
		return false
	case SelectFirstAudioVideo:
		kind := trackKind(track)
		if kind != "audio" && kind != "video" {
			return false
		}
		if seenKinds[kind] {
			return false
		}
		seenKinds[kind] = true
		return true
	default:
		return false
	}
}

func trackKind(track string) string {
	for i, r := range track {
		if r == ':' {
			return track[:i]
		}
	}
	return track
}

// Item is one RuntimeData value tagged with the track it came from.
type Item struct {
	Track string
	Data  runtimedata.RuntimeData
}

// IngestSource produces a stream of tagged RuntimeData from one external
// origin (file, stdin, a live protocol). Start returns a channel the
// runner's source node(s) range over; the channel closes at end-of-stream.
// Backpressure is natural Go channel semantics: a source that is not
// drained blocks its own producer goroutine (§4.8: "backpressure
// propagates through the stream's natural recv blocking").
type IngestSource interface {
	Start(ctx context.Context) (<-chan Item, <-chan error)
	Close() error
}

// Plugin builds and validates IngestSource instances for one or more URI
// schemes.
type Plugin interface {
	Name() string
	AcceptedSchemes() []string
	Validate(config json.RawMessage) error
	Create(config json.RawMessage) (IngestSource, error)
}

// Registry maps a URI scheme to the Plugin that serves it. Read-only
// during execution, mirroring pkg/registry.Registry.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
	frozen  bool
}

// New returns an empty, unfrozen ingestion registry.
func New() *Registry {
	return &Registry{plugins: map[string]Plugin{}}
}

// Register binds every scheme p.AcceptedSchemes() names to p. It fails
// loudly on a scheme clash or after Freeze, matching §4.3's "name clashes
// on registration fail loudly" for the node registry.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("ingest: cannot register %q: registry is frozen", p.Name())
	}
	schemes := p.AcceptedSchemes()
	if len(schemes) == 0 {
		return fmt.Errorf("ingest: plugin %q declares no accepted schemes", p.Name())
	}
	for _, scheme := range schemes {
		if _, exists := r.plugins[scheme]; exists {
			return fmt.Errorf("ingest: scheme %q is already registered", scheme)
		}
	}
	for _, scheme := range schemes {
		r.plugins[scheme] = p
	}
	return nil
}

// RegisterBulk registers every plugin, stopping at the first failure.
func (r *Registry) RegisterBulk(plugins []Plugin) error {
	for _, p := range plugins {
		if err := r.Register(p); err != nil {
			return err
		}
	}
	return nil
}

// Freeze marks the registry read-only, called once at the end of startup.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Lookup returns the plugin registered for scheme.
func (r *Registry) Lookup(scheme string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[scheme]
	return p, ok
}

// Schemes returns every registered scheme, sorted.
func (r *Registry) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.plugins))
	for scheme := range r.plugins {
		out = append(out, scheme)
	}
	sort.Strings(out)
	return out
}

// Open resolves uri's scheme against the registry and creates a source for
// it. Bare paths and "-" (stdin) are handled by the caller before Open is
// reached (§6: "file://…, bare path, - (stdin) are always accepted");
// Open itself only dispatches on an explicit "scheme://" prefix.
func (r *Registry) Open(uri string, config json.RawMessage) (IngestSource, error) {
	scheme, err := parseScheme(uri)
	if err != nil {
		return nil, err
	}
	p, ok := r.Lookup(scheme)
	if !ok {
		return nil, fmt.Errorf("ingest: no plugin registered for scheme %q", scheme)
	}
	if err := p.Validate(config); err != nil {
		return nil, fmt.Errorf("ingest: %s: invalid config: %w", p.Name(), err)
	}
	return p.Create(config)
}

func parseScheme(uri string) (string, error) {
	for i, r := range uri {
		if r == ':' {
			return uri[:i], nil
		}
		if !isSchemeChar(r) {
			break
		}
	}
	return "", fmt.Errorf("ingest: %q has no URI scheme", uri)
}

func isSchemeChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '+' || r == '-' || r == '.'
}
