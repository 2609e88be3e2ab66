// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of sungrow-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package spool

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSpool(t *testing.T, path string) *Spool {
	t.Helper()
	sp, err := Open(path)
	require.NoError(t, err)
	return sp
}

func TestEnqueuePeekAck(t *testing.T) {
	sp := openTestSpool(t, filepath.Join(t.TempDir(), "spool.db"))
	defer sp.Close()

	require.NoError(t, sp.Enqueue([]byte("one")))
	require.NoError(t, sp.Enqueue([]byte("two")))
	require.NoError(t, sp.Enqueue([]byte("three")))

	count, err := sp.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	entries, err := sp.Peek(2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, []byte("one"), entries[0].Payload)
	assert.Equal(t, []byte("two"), entries[1].Payload)
	assert.Less(t, entries[0].Sequence, entries[1].Sequence)

	// Peek does not remove.
	count, err = sp.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	require.NoError(t, sp.Ack([]int64{entries[0].Sequence, entries[1].Sequence}))
	count, err = sp.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	remaining, err := sp.Peek(10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, []byte("three"), remaining[0].Payload)
}

func TestPeekEdgeCases(t *testing.T) {
	sp := openTestSpool(t, filepath.Join(t.TempDir(), "spool.db"))
	defer sp.Close()

	entries, err := sp.Peek(10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	entries, err = sp.Peek(0)
	require.NoError(t, err)
	assert.Empty(t, entries)

	entries, err = sp.Peek(-5)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAckEdgeCases(t *testing.T) {
	sp := openTestSpool(t, filepath.Join(t.TempDir(), "spool.db"))
	defer sp.Close()

	require.NoError(t, sp.Enqueue([]byte("payload")))

	// Empty ack is a no-op, unknown sequences are ignored.
	require.NoError(t, sp.Ack(nil))
	require.NoError(t, sp.Ack([]int64{99999}))

	count, err := sp.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

// Three payloads survive a close/reopen; acking two and reopening again
// leaves exactly the third.
func TestDurableRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spool.db")

	sp := openTestSpool(t, path)
	require.NoError(t, sp.Enqueue([]byte("a")))
	require.NoError(t, sp.Enqueue([]byte("b")))
	require.NoError(t, sp.Enqueue([]byte("c")))
	require.NoError(t, sp.Close())

	sp = openTestSpool(t, path)
	entries, err := sp.Peek(10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []byte("a"), entries[0].Payload)
	assert.Equal(t, []byte("b"), entries[1].Payload)
	assert.Equal(t, []byte("c"), entries[2].Payload)

	require.NoError(t, sp.Ack([]int64{entries[0].Sequence, entries[1].Sequence}))
	require.NoError(t, sp.Close())

	sp = openTestSpool(t, path)
	defer sp.Close()
	count, err := sp.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	remaining, err := sp.Peek(10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, []byte("c"), remaining[0].Payload)
}

// A sequence removed by Ack is never handed out again, even after a
// restart.
func TestSequencesNeverReused(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spool.db")

	sp := openTestSpool(t, path)
	require.NoError(t, sp.Enqueue([]byte("a")))
	require.NoError(t, sp.Enqueue([]byte("b")))

	entries, err := sp.Peek(10)
	require.NoError(t, err)
	highest := entries[len(entries)-1].Sequence

	require.NoError(t, sp.Ack([]int64{entries[0].Sequence, entries[1].Sequence}))
	require.NoError(t, sp.Close())

	sp = openTestSpool(t, path)
	defer sp.Close()
	require.NoError(t, sp.Enqueue([]byte("c")))

	entries, err = sp.Peek(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Greater(t, entries[0].Sequence, highest)
}

func TestConcurrentEnqueueAndPeek(t *testing.T) {
	sp := openTestSpool(t, filepath.Join(t.TempDir(), "spool.db"))
	defer sp.Close()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				payload := fmt.Sprintf("w%d-%d", worker, j)
				if err := sp.Enqueue([]byte(payload)); err != nil {
					t.Errorf("enqueue failed: %v", err)
					return
				}
				if _, err := sp.Peek(5); err != nil {
					t.Errorf("peek failed: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	count, err := sp.Count()
	require.NoError(t, err)
	assert.Equal(t, 100, count)
}
