// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package ipcring implements the zero-copy shared-memory SPSC ring (§4.5)
// used by the subprocess and docker executors to exchange IPC-encoded
// RuntimeData with their worker process without going through a pipe
// read/write syscall per message.
//
// Each ring is backed by a file under /dev/shm/<namespace>/, mmap'd
// MAP_SHARED by both the core and the worker. A small header carries the
// consumer's read cursor so the producer can apply backpressure; each slot
// carries its own sequence field that the producer release-stores after
// writing a payload and the consumer acquire-loads before reading one.
//
// There is no cross-process futex available to pure Go without cgo, so
// Publish/Observe block via a sleep-and-recheck poll (the sleep starts at
// pollInterval and doubles up to pollMaxInterval) against the shared
// sequence field rather than a true OS wait queue. The polling
// interval is short enough to keep P95 wake-up latency well under the
// control-plane's 10 ms target for small payloads.
package ipcring

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultSlotCapacity is the maximum payload size per slot absent an
// explicit override (§4.5's "default 8 MiB, configurable").
const DefaultSlotCapacity = 8 * 1024 * 1024

// DefaultSlotCount bounds how many in-flight messages a ring holds before
// the producer blocks.
const DefaultSlotCount = 64

const (
	headerSize      = 16 // consumerSeq(u64) + producerSeq(u64)
	slotHeaderSize  = 8 + 4 // sequence(u64) + payload_len(u32)
	pollInterval    = 50 * time.Microsecond
	pollMaxInterval = 2 * time.Millisecond
)

// Config parameterizes a Ring's shared-memory layout.
type Config struct {
	// Namespace scopes a session's rings under /dev/shm so concurrent
	// sessions never collide; cleanup removes the whole namespace
	// directory.
	Namespace string
	// Name identifies this ring within the namespace (e.g. "data-in",
	// "control").
	Name string
	// SlotCapacity bounds a single payload's byte length. Zero uses
	// DefaultSlotCapacity.
	SlotCapacity int
	// SlotCount bounds in-flight messages before Publish blocks for
	// backpressure. Zero uses DefaultSlotCount.
	SlotCount int
	// BaseDir overrides /dev/shm, primarily for tests on systems without
	// a tmpfs at that path.
	BaseDir string
}

func (c Config) slotCapacity() int {
	if c.SlotCapacity > 0 {
		return c.SlotCapacity
	}
	return DefaultSlotCapacity
}

func (c Config) slotCount() int {
	if c.SlotCount > 0 {
		return c.SlotCount
	}
	return DefaultSlotCount
}

func (c Config) baseDir() string {
	if c.BaseDir != "" {
		return c.BaseDir
	}
	return "/dev/shm"
}

func (c Config) path() string {
	return filepath.Join(c.baseDir(), c.Namespace, c.Name)
}

func (c Config) slotSize() int {
	return slotHeaderSize + c.slotCapacity()
}

func (c Config) totalSize() int {
	return headerSize + c.slotSize()*c.slotCount()
}

// Ring is one mmap'd shared-memory SPSC channel. The same process may hold
// both a Producer and Consumer view of two different Rings (one per
// direction) to form a full-duplex channel to a worker.
type Ring struct {
	cfg  Config
	file *os.File
	mem  []byte
}

// Create allocates (or truncates and re-initializes) the backing file and
// maps it. Both the producer-side and consumer-side process call Create
// (or Open, for a process that did not create the file) against the same
// path; whichever starts first wins the initialization race harmlessly
// since both write the same sentinel values.
func Create(cfg Config) (*Ring, error) {
	if err := os.MkdirAll(filepath.Join(cfg.baseDir(), cfg.Namespace), 0o755); err != nil {
		return nil, fmt.Errorf("ipcring: create namespace dir: %w", err)
	}
	f, err := os.OpenFile(cfg.path(), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ipcring: open %s: %w", cfg.path(), err)
	}
	size := cfg.totalSize()
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("ipcring: truncate %s to %d: %w", cfg.path(), size, err)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("ipcring: mmap %s: %w", cfg.path(), err)
	}
	r := &Ring{cfg: cfg, file: f, mem: mem}
	r.initSlots()
	return r, nil
}

// Open maps an already-created ring file (the worker-process side).
func Open(cfg Config) (*Ring, error) {
	f, err := os.OpenFile(cfg.path(), os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ipcring: open %s: %w", cfg.path(), err)
	}
	size := cfg.totalSize()
	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("ipcring: mmap %s: %w", cfg.path(), err)
	}
	return &Ring{cfg: cfg, file: f, mem: mem}, nil
}

// initSlots seeds every slot's sequence field with its pre-lap-zero
// sentinel (idx - slotCount, modulo 2^64), a value that never equals the
// seq+1 Observe waits for on the first lap, so an unwritten slot is never
// taken for a published one.
func (r *Ring) initSlots() {
	for i := 0; i < r.cfg.slotCount(); i++ {
		atomic.StoreUint64(r.slotSeqPtr(i), uint64(i)-uint64(r.cfg.slotCount()))
	}
}

func (r *Ring) consumerSeqPtr() *uint64 {
	return (*uint64)(unsafePointer(r.mem, 0))
}

func (r *Ring) producerSeqPtr() *uint64 {
	return (*uint64)(unsafePointer(r.mem, 8))
}

func (r *Ring) slotOffset(idx int) int {
	return headerSize + idx*r.cfg.slotSize()
}

func (r *Ring) slotSeqPtr(idx int) *uint64 {
	return (*uint64)(unsafePointer(r.mem, r.slotOffset(idx)))
}

func (r *Ring) slotLenPtr(idx int) *uint32 {
	return (*uint32)(unsafePointer(r.mem, r.slotOffset(idx)+8))
}

func (r *Ring) slotData(idx int) []byte {
	start := r.slotOffset(idx) + slotHeaderSize
	return r.mem[start : start+r.cfg.slotCapacity()]
}

// ProducerSequence returns the number of slots published so far (one past
// the last published sequence number, 0 before the first Publish).
// Health monitors poll this directly instead of calling Observe so they
// never block waiting on a slot that may never arrive (§4.4.2 heartbeat
// liveness: a stalled heartbeat ring, not a stalled data ring, is what
// signals a wedged worker).
func (r *Ring) ProducerSequence() uint64 {
	return atomic.LoadUint64(r.producerSeqPtr())
}

// ConsumerSequence returns the number of slots observed so far (one past
// the last observed sequence number), the complement callers subtract from
// ProducerSequence to compute ring occupancy for depth metrics.
func (r *Ring) ConsumerSequence() uint64 {
	return atomic.LoadUint64(r.consumerSeqPtr())
}

// Close unmaps and closes the backing file. It does not remove the file;
// call Remove (typically from the side that created it) for that.
func (r *Ring) Close() error {
	if err := unix.Munmap(r.mem); err != nil {
		r.file.Close()
		return fmt.Errorf("ipcring: munmap: %w", err)
	}
	return r.file.Close()
}

// Remove deletes the backing shared-memory file. Call after Close once
// every holder has detached, as part of executor Cleanup (§6: "Ephemeral
// IPC shared memory is... removed on cleanup").
func Remove(cfg Config) error {
	if err := os.Remove(cfg.path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ipcring: remove %s: %w", cfg.path(), err)
	}
	return nil
}

// RemoveNamespace deletes an entire session's ring directory.
func RemoveNamespace(baseDir, namespace string) error {
	dir := filepath.Join(baseDirOrDefault(baseDir), namespace)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("ipcring: remove namespace %s: %w", dir, err)
	}
	return nil
}

func baseDirOrDefault(baseDir string) string {
	if baseDir != "" {
		return baseDir
	}
	return "/dev/shm"
}

// Publish writes payload into the next slot and release-stores its ready
// sequence, blocking (bounded by ctx) while the ring is full — i.e. while
// the consumer has not yet caught up to within one lap of this sequence.
func (r *Ring) Publish(ctx context.Context, seq uint64, payload []byte) error {
	if len(payload) > r.cfg.slotCapacity() {
		return fmt.Errorf("ipcring: payload of %d bytes exceeds slot capacity %d", len(payload), r.cfg.slotCapacity())
	}
	idx := int(seq % uint64(r.cfg.slotCount()))

	if err := r.waitFor(ctx, func() bool {
		return seq-atomic.LoadUint64(r.consumerSeqPtr()) < uint64(r.cfg.slotCount())
	}); err != nil {
		return err
	}

	atomic.StoreUint32(r.slotLenPtr(idx), uint32(len(payload)))
	copy(r.slotData(idx), payload)
	atomic.StoreUint64(r.slotSeqPtr(idx), seq+1) // release-store: publish
	atomic.StoreUint64(r.producerSeqPtr(), seq+1)
	return nil
}

// Observe blocks (bounded by ctx) until slot seq has been published, then
// acquire-loads and returns a copy of its payload and advances the shared
// consumer cursor so Publish can reuse the slot one lap later.
func (r *Ring) Observe(ctx context.Context, seq uint64) ([]byte, error) {
	idx := int(seq % uint64(r.cfg.slotCount()))

	if err := r.waitFor(ctx, func() bool {
		return atomic.LoadUint64(r.slotSeqPtr(idx)) == seq+1 // acquire-load
	}); err != nil {
		return nil, err
	}

	n := atomic.LoadUint32(r.slotLenPtr(idx))
	out := make([]byte, n)
	copy(out, r.slotData(idx)[:n])
	atomic.StoreUint64(r.consumerSeqPtr(), seq+1)
	return out, nil
}

func (r *Ring) waitFor(ctx context.Context, ready func() bool) error {
	interval := pollInterval
	for !ready() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
		if interval < pollMaxInterval {
			interval *= 2
			if interval > pollMaxInterval {
				interval = pollMaxInterval
			}
		}
	}
	return nil
}
