// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package ipcring

import (
	"context"
	"fmt"

	"github.com/rapidaai/mediacore/pkg/metrics"
	"github.com/rapidaai/mediacore/pkg/runtimedata"
	"github.com/rapidaai/mediacore/pkg/wire"
)

// Channel pairs a data ring with a dedicated control ring so
// ControlMessage traffic (tag 5) never queues behind large media payloads
// on the same ring (§4.5: "Messages with tag 5... may be interleaved on a
// separate ring to guarantee that cancels are not head-of-line blocked").
type Channel struct {
	Name string

	Data    *Ring
	Control *Ring

	sendSeq        uint64
	recvSeq        uint64
	controlSendSeq uint64
	controlRecvSeq uint64
}

// CreateChannel allocates both rings for one direction of a worker
// connection (e.g. "to-worker" or "from-worker"); call it once per
// direction per session. baseDir overrides /dev/shm when empty-string
// default does not apply (tests on a host without a tmpfs mount there).
func CreateChannel(namespace, name string, slotCapacity int, baseDir string) (*Channel, error) {
	data, err := Create(Config{Namespace: namespace, Name: name + "-data", SlotCapacity: slotCapacity, BaseDir: baseDir})
	if err != nil {
		return nil, err
	}
	control, err := Create(Config{Namespace: namespace, Name: name + "-control", SlotCapacity: 64 * 1024, BaseDir: baseDir})
	if err != nil {
		data.Close()
		return nil, err
	}
	return &Channel{Name: name, Data: data, Control: control}, nil
}

// OpenChannel attaches to rings created by the other side (the worker
// process's view of CreateChannel's output).
func OpenChannel(namespace, name string, baseDir string) (*Channel, error) {
	data, err := Open(Config{Namespace: namespace, Name: name + "-data", BaseDir: baseDir})
	if err != nil {
		return nil, err
	}
	control, err := Open(Config{Namespace: namespace, Name: name + "-control", BaseDir: baseDir})
	if err != nil {
		data.Close()
		return nil, err
	}
	return &Channel{Name: name, Data: data, Control: control}, nil
}

// SendData encodes v and publishes it to the data ring.
func (c *Channel) SendData(ctx context.Context, v runtimedata.RuntimeData) error {
	encoded, err := wire.Encode(v)
	if err != nil {
		return fmt.Errorf("ipcring: encode data frame: %w", err)
	}
	if err := c.Data.Publish(ctx, c.sendSeq, encoded); err != nil {
		return err
	}
	c.sendSeq++
	metrics.SetIPCRingDepth(c.Name, "producer", float64(c.Data.ProducerSequence()-c.Data.ConsumerSequence()))
	return nil
}

// RecvData observes the next data-ring slot and decodes it.
func (c *Channel) RecvData(ctx context.Context) (runtimedata.RuntimeData, error) {
	raw, err := c.Data.Observe(ctx, c.recvSeq)
	if err != nil {
		return nil, err
	}
	c.recvSeq++
	metrics.SetIPCRingDepth(c.Name, "consumer", float64(c.Data.ProducerSequence()-c.Data.ConsumerSequence()))
	v, _, err := wire.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("ipcring: decode data frame: %w", err)
	}
	return v, nil
}

// SendControl publishes msg to the control ring, bypassing the data ring
// entirely so it cannot queue behind an in-flight media payload.
func (c *Channel) SendControl(ctx context.Context, msg *runtimedata.ControlMessage) error {
	encoded, err := wire.Encode(msg)
	if err != nil {
		return fmt.Errorf("ipcring: encode control frame: %w", err)
	}
	if err := c.Control.Publish(ctx, c.controlSendSeq, encoded); err != nil {
		return err
	}
	c.controlSendSeq++
	return nil
}

// RecvControl observes the next control-ring slot and decodes it.
func (c *Channel) RecvControl(ctx context.Context) (*runtimedata.ControlMessage, error) {
	raw, err := c.Control.Observe(ctx, c.controlRecvSeq)
	if err != nil {
		return nil, err
	}
	c.controlRecvSeq++
	v, _, err := wire.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("ipcring: decode control frame: %w", err)
	}
	msg, ok := v.(*runtimedata.ControlMessage)
	if !ok {
		return nil, fmt.Errorf("ipcring: control ring carried non-control frame %T", v)
	}
	return msg, nil
}

// Close detaches from both rings without removing their backing files.
func (c *Channel) Close() error {
	dataErr := c.Data.Close()
	controlErr := c.Control.Close()
	if dataErr != nil {
		return dataErr
	}
	return controlErr
}
