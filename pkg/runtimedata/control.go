// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package runtimedata

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/timestamppb"
)

// NowMicros stamps a ControlMessage at call time, mirroring the teacher's
// timestamppb.Now() use when stamping outbound protobuf messages
// (base_streamer.go's ConversationUserMessage). Control-message timestamps
// stay plain microseconds on the wire (§4.1); timestamppb is only the
// intermediate clock source so the core does not hand-roll its own
// monotonic-to-wall-clock conversion.
func NowMicros() uint64 {
	return uint64(timestamppb.Now().AsTime().UnixMicro())
}

// ControlPayloadKind discriminates the JSON shape carried inside a
// ControlMessage's Payload (§4.7). It is read from the payload's own
// "type" field, not from the wire envelope, so new kinds can be added
// without touching the envelope format.
type ControlPayloadKind string

const (
	ControlPayloadCancelSpeculation ControlPayloadKind = "cancel_speculation"
	ControlPayloadBatchHint         ControlPayloadKind = "batch_hint"
	ControlPayloadDeadlineWarning   ControlPayloadKind = "deadline_warning"
)

type controlPayloadEnvelope struct {
	Type ControlPayloadKind `json:"type"`
}

// CancelSpeculation instructs downstream nodes whose outstanding work
// covers timestamps in [FromTimestampUs, ToTimestampUs] to abandon that
// work and discard already-computed buffers in that range. Nodes must be
// idempotent under repeated cancels for the same range.
type CancelSpeculation struct {
	FromTimestampUs uint64 `json:"from_timestamp_us"`
	ToTimestampUs   uint64 `json:"to_timestamp_us"`
}

// BatchHint is advisory: nodes that batch may resize accordingly, nodes
// that don't batch ignore it.
type BatchHint struct {
	SuggestedBatchSize uint32 `json:"suggested_batch_size"`
}

// DeadlineWarning asks downstream nodes to adapt quality/precision to meet
// the named deadline.
type DeadlineWarning struct {
	DeadlineUs uint64 `json:"deadline_us"`
}

// NewCancelSpeculation builds a ControlMessage carrying a CancelSpeculation
// payload for sessionID, stamped at tsUs.
func NewCancelSpeculation(sessionID string, tsUs uint64, from, to uint64) (*ControlMessage, error) {
	return newControlMessage(sessionID, tsUs, ControlPayloadCancelSpeculation, CancelSpeculation{FromTimestampUs: from, ToTimestampUs: to})
}

// NewBatchHint builds a ControlMessage carrying a BatchHint payload.
func NewBatchHint(sessionID string, tsUs uint64, size uint32) (*ControlMessage, error) {
	return newControlMessage(sessionID, tsUs, ControlPayloadBatchHint, BatchHint{SuggestedBatchSize: size})
}

// NewDeadlineWarning builds a ControlMessage carrying a DeadlineWarning payload.
func NewDeadlineWarning(sessionID string, tsUs uint64, deadlineUs uint64) (*ControlMessage, error) {
	return newControlMessage(sessionID, tsUs, ControlPayloadDeadlineWarning, DeadlineWarning{DeadlineUs: deadlineUs})
}

func newControlMessage(sessionID string, tsUs uint64, kind ControlPayloadKind, body interface{}) (*ControlMessage, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("control_message: marshal %s payload: %w", kind, err)
	}
	merged, err := mergeType(kind, raw)
	if err != nil {
		return nil, err
	}
	return &ControlMessage{SessionID: sessionID, TimestampUs: tsUs, Payload: merged}, nil
}

func mergeType(kind ControlPayloadKind, body []byte) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	typeRaw, err := json.Marshal(kind)
	if err != nil {
		return nil, err
	}
	fields["type"] = typeRaw
	return json.Marshal(fields)
}

// ControlMessage is the out-of-band, tag-5 message that carries the
// payload shapes from §4.7 on a side channel that bypasses data-edge
// ordering (§5c). The wire form is exactly session_id + timestamp_us + a
// JSON payload blob; the payload's own "type" field selects its shape, so
// a receiver built against an older schema can ignore payloads it does not
// recognize instead of failing to decode the envelope.
type ControlMessage struct {
	SessionID   string
	TimestampUs uint64
	Payload     []byte
}

func (c *ControlMessage) Kind() Kind { return KindControlMessage }

// PayloadKind extracts the discriminant from Payload's "type" field. An
// empty result (with a nil error) means the payload carries no recognized
// discriminant and should be treated as an unknown, forward-compatible
// variant per §4.7.
func (c *ControlMessage) PayloadKind() (ControlPayloadKind, error) {
	var env controlPayloadEnvelope
	if len(c.Payload) == 0 {
		return "", nil
	}
	if err := json.Unmarshal(c.Payload, &env); err != nil {
		return "", fmt.Errorf("control_message: payload is not valid JSON: %w", err)
	}
	return env.Type, nil
}

// AsCancelSpeculation decodes Payload as a CancelSpeculation, or reports ok=false
// if PayloadKind() is not ControlPayloadCancelSpeculation.
func (c *ControlMessage) AsCancelSpeculation() (cs CancelSpeculation, ok bool, err error) {
	kind, err := c.PayloadKind()
	if err != nil || kind != ControlPayloadCancelSpeculation {
		return CancelSpeculation{}, false, err
	}
	if err := json.Unmarshal(c.Payload, &cs); err != nil {
		return CancelSpeculation{}, false, err
	}
	return cs, true, nil
}

// AsBatchHint decodes Payload as a BatchHint, or reports ok=false if
// PayloadKind() is not ControlPayloadBatchHint.
func (c *ControlMessage) AsBatchHint() (bh BatchHint, ok bool, err error) {
	kind, err := c.PayloadKind()
	if err != nil || kind != ControlPayloadBatchHint {
		return BatchHint{}, false, err
	}
	if err := json.Unmarshal(c.Payload, &bh); err != nil {
		return BatchHint{}, false, err
	}
	return bh, true, nil
}

// AsDeadlineWarning decodes Payload as a DeadlineWarning, or reports ok=false
// if PayloadKind() is not ControlPayloadDeadlineWarning.
func (c *ControlMessage) AsDeadlineWarning() (dw DeadlineWarning, ok bool, err error) {
	kind, err := c.PayloadKind()
	if err != nil || kind != ControlPayloadDeadlineWarning {
		return DeadlineWarning{}, false, err
	}
	if err := json.Unmarshal(c.Payload, &dw); err != nil {
		return DeadlineWarning{}, false, err
	}
	return dw, true, nil
}

// Validate enforces the structural invariants from §4.7 that do not depend
// on knowing the current session (session_id mismatch and staleness are
// warn-not-reject policies owned by the control-plane dispatcher, not shape
// validity): a message always names a session, the payload (if present) is
// valid JSON, and a CancelSpeculation payload's range is well-ordered.
func (c *ControlMessage) Validate() error {
	if c.SessionID == "" {
		return fmt.Errorf("control_message: session_id must not be empty")
	}
	if len(c.Payload) == 0 {
		return nil
	}
	if !jsonValid(c.Payload) {
		return fmt.Errorf("control_message: payload is not valid JSON")
	}
	if cs, ok, err := c.AsCancelSpeculation(); err == nil && ok {
		if !(cs.FromTimestampUs < cs.ToTimestampUs) {
			return fmt.Errorf("control_message: cancel_speculation from_timestamp_us (%d) must be < to_timestamp_us (%d)",
				cs.FromTimestampUs, cs.ToTimestampUs)
		}
	}
	return nil
}

// TransportData wraps one RuntimeData plus the session envelope used
// across every core/transport boundary (§3): session_id, a monotonic
// sequence number for per-edge FIFO auditing, and free-form metadata.
type TransportData struct {
	SessionID      string
	SequenceNumber uint64
	Metadata       map[string]string
	Payload        RuntimeData
}

// Validate delegates to the payload's own invariant check after confirming
// the envelope itself is well-formed.
func (t *TransportData) Validate() error {
	if t.SessionID == "" {
		return fmt.Errorf("transport_data: session_id must not be empty")
	}
	if t.Payload == nil {
		return fmt.Errorf("transport_data: payload must not be nil")
	}
	return t.Payload.Validate()
}
