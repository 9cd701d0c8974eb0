// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package control implements the control-plane fan-out and validation from
// §4.7: cancel/batch-hint/deadline messages delivered on a side channel
// that bypasses data-edge ordering (§5c: "ControlMessage delivery is not
// ordered with data on data edges"). The side-channel signal shape
// (non-blocking, idempotent-safe send) is grounded directly on
// base_streamer.go's flushAudioCh/pushDisconnection pair.
package control

import (
	"fmt"
	"sync"
	"time"

	"github.com/rapidaai/mediacore/pkg/commons"
	"github.com/rapidaai/mediacore/pkg/metrics"
	"github.com/rapidaai/mediacore/pkg/runtimedata"
)

// staleAfter is the §4.7 threshold past which a control message is still
// processed, but logged with a warning, instead of dropped outright.
const staleAfter = time.Second

// subscriberChanCapacity bounds each node's control inbox. Control traffic
// is low-volume and advisory/cancel in nature, so a small buffer plus a
// non-blocking send (drop-and-warn on a wedged subscriber) is preferable to
// letting one slow node block fan-out to every other node.
const subscriberChanCapacity = 16

// Bus fans out ControlMessage values to every node subscribed for a
// session, bypassing the per-edge data channels entirely. One Bus serves
// one streaming session.
type Bus struct {
	sessionID string
	logger    commons.Logger
	now       func() time.Time

	mu     sync.RWMutex
	subs   map[string]chan *runtimedata.ControlMessage
	closed bool
}

// New builds a Bus scoped to sessionID. logger may be nil (a nop logger is
// used).
func New(sessionID string, logger commons.Logger) *Bus {
	if logger == nil {
		logger = commons.NewNopLogger()
	}
	return &Bus{
		sessionID: sessionID,
		logger:    logger,
		now:       time.Now,
		subs:      map[string]chan *runtimedata.ControlMessage{},
	}
}

// Subscribe registers nodeID to receive every message Publish fans out
// from now on. Calling Subscribe again for the same nodeID replaces its
// channel (the previous one is closed).
func (b *Bus) Subscribe(nodeID string) <-chan *runtimedata.ControlMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.subs[nodeID]; ok {
		close(old)
	}
	ch := make(chan *runtimedata.ControlMessage, subscriberChanCapacity)
	b.subs[nodeID] = ch
	return ch
}

// Unsubscribe closes and removes nodeID's channel. Safe to call more than
// once for the same nodeID.
func (b *Bus) Unsubscribe(nodeID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[nodeID]; ok {
		close(ch)
		delete(b.subs, nodeID)
	}
}

// Publish validates msg per §4.7 and fans it out to every current
// subscriber. A subscriber whose inbox is full is skipped with a warning
// rather than blocking every other subscriber (control messages are
// advisory/cancel signals — a repeat cancel is harmless, per the spec's
// "nodes must be idempotent under repeated cancels").
func (b *Bus) Publish(msg *runtimedata.ControlMessage) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("control: reject: %w", err)
	}

	if msg.SessionID != b.sessionID {
		b.logger.Warnw("control: session_id mismatch, processing anyway",
			"bus_session", b.sessionID, "message_session", msg.SessionID)
	}

	age := b.now().Sub(microsToTime(msg.TimestampUs))
	if age > staleAfter {
		b.logger.Warnw("control: stale message processed", "age", age, "session_id", msg.SessionID)
	}

	kind, err := msg.PayloadKind()
	if err != nil {
		b.logger.Warnw("control: payload kind undecodable, forwarding as unknown", "error", err)
	} else if kind == "" {
		b.logger.Debugw("control: forward-compatible unknown payload, forwarding as-is")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("control: bus for session %s is closed", b.sessionID)
	}
	// emittedAt is msg's own stamped timestamp, not a clock read taken here:
	// the quantity §4.7's P95 target cares about is emission (message
	// creation) to fan-out, not the duration of this function's own
	// non-blocking loop over subscriber channels (which is always ~0 and
	// would make the histogram meaningless).
	emittedAt := microsToTime(msg.TimestampUs)
	for nodeID, ch := range b.subs {
		select {
		case ch <- msg:
		default:
			b.logger.Warnw("control: subscriber inbox full, dropping", "node_id", nodeID)
		}
	}
	metrics.ObserveControlPropagation(b.now().Sub(emittedAt))
	return nil
}

// PublishCancelSpeculation stamps and fans out a CancelSpeculation message
// for the range [from, to], the convenience path a host transport uses
// instead of hand-building the ControlMessage envelope itself.
func (b *Bus) PublishCancelSpeculation(from, to uint64) error {
	msg, err := runtimedata.NewCancelSpeculation(b.sessionID, runtimedata.NowMicros(), from, to)
	if err != nil {
		return err
	}
	return b.Publish(msg)
}

// PublishBatchHint stamps and fans out a BatchHint message.
func (b *Bus) PublishBatchHint(size uint32) error {
	msg, err := runtimedata.NewBatchHint(b.sessionID, runtimedata.NowMicros(), size)
	if err != nil {
		return err
	}
	return b.Publish(msg)
}

// PublishDeadlineWarning stamps and fans out a DeadlineWarning message.
func (b *Bus) PublishDeadlineWarning(deadlineUs uint64) error {
	msg, err := runtimedata.NewDeadlineWarning(b.sessionID, runtimedata.NowMicros(), deadlineUs)
	if err != nil {
		return err
	}
	return b.Publish(msg)
}

// Close closes every subscriber channel and marks the bus closed. Further
// Publish calls fail.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for nodeID, ch := range b.subs {
		close(ch)
		delete(b.subs, nodeID)
	}
}

func microsToTime(us uint64) time.Time {
	return time.UnixMicro(int64(us))
}
