// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package ipcring

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, name string, slotCapacity, slotCount int) Config {
	t.Helper()
	return Config{
		Namespace:    "ringtest",
		Name:         name,
		SlotCapacity: slotCapacity,
		SlotCount:    slotCount,
		BaseDir:      t.TempDir(),
	}
}

func TestRingPublishObserveRoundTrip(t *testing.T) {
	cfg := testConfig(t, "roundtrip", 64, 4)
	r, err := Create(cfg)
	require.NoError(t, err)
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, r.Publish(ctx, 0, []byte("hello")))
	require.NoError(t, r.Publish(ctx, 1, []byte("world")))

	got0, err := r.Observe(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got0))

	got1, err := r.Observe(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "world", string(got1))
}

func TestRingObserveBlocksUntilPublished(t *testing.T) {
	cfg := testConfig(t, "blocks", 64, 4)
	r, err := Create(cfg)
	require.NoError(t, err)
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	var got []byte
	var obsErr error
	go func() {
		defer wg.Done()
		got, obsErr = r.Observe(ctx, 0)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, r.Publish(ctx, 0, []byte("late")))
	wg.Wait()

	require.NoError(t, obsErr)
	assert.Equal(t, "late", string(got))
}

func TestRingPublishBlocksOnBackpressure(t *testing.T) {
	cfg := testConfig(t, "backpressure", 64, 2)
	r, err := Create(cfg)
	require.NoError(t, err)
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, r.Publish(ctx, 0, []byte("a")))
	require.NoError(t, r.Publish(ctx, 1, []byte("b")))

	publishDone := make(chan error, 1)
	go func() {
		publishDone <- r.Publish(ctx, 2, []byte("c"))
	}()

	select {
	case <-publishDone:
		t.Fatal("Publish should have blocked while consumer has not caught up")
	case <-time.After(50 * time.Millisecond):
	}

	_, err = r.Observe(ctx, 0)
	require.NoError(t, err)

	select {
	case err := <-publishDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Publish did not unblock after consumer advanced")
	}

	got, err := r.Observe(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "b", string(got))
	got, err = r.Observe(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "c", string(got))
}

func TestRingPublishRejectsOversizePayload(t *testing.T) {
	cfg := testConfig(t, "oversize", 8, 2)
	r, err := Create(cfg)
	require.NoError(t, err)
	defer r.Close()

	err = r.Publish(context.Background(), 0, make([]byte, 9))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds slot capacity")
}

func TestRingObserveRespectsContextCancellation(t *testing.T) {
	cfg := testConfig(t, "cancel", 64, 2)
	r, err := Create(cfg)
	require.NoError(t, err)
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = r.Observe(ctx, 0)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOpenAttachesToExistingRing(t *testing.T) {
	cfg := testConfig(t, "open", 64, 2)
	producer, err := Create(cfg)
	require.NoError(t, err)
	defer producer.Close()

	consumer, err := Open(cfg)
	require.NoError(t, err)
	defer consumer.Close()

	ctx := context.Background()
	require.NoError(t, producer.Publish(ctx, 0, []byte("shared")))
	got, err := consumer.Observe(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "shared", string(got))
}

func TestRemoveDeletesBackingFile(t *testing.T) {
	cfg := testConfig(t, "remove", 64, 2)
	r, err := Create(cfg)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, Remove(cfg))
	require.NoError(t, Remove(cfg)) // idempotent: missing file is not an error
}
