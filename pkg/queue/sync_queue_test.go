package queue

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/crawl-scheduler/pkg/utils"
)

func newSyncStringQueue(t *testing.T, capacity int) *SyncQueue[string] {
	t.Helper()
	q, _ := newStringQueue(t, capacity)
	return NewSyncQueue(q, testLogger())
}

func TestSyncQueue_AddPop(t *testing.T) {
	sq := newSyncStringQueue(t, 2)
	for i := 0; i < 5; i++ {
		require.NoError(t, sq.Add(fmt.Sprint(i)))
	}
	assert.Equal(t, 5, sq.Len())
	assert.Equal(t, 1, sq.SpillCount())

	for i := 0; i < 5; i++ {
		got, ok, err := sq.Pop()
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprint(i), got)
	}

	assert.Equal(t, 0, sq.Len())
}

func TestSyncQueue_CloseDrainsThenStops(t *testing.T) {
	sq := newSyncStringQueue(t, 1)
	require.NoError(t, sq.Add("a"))
	require.NoError(t, sq.Add("b"))
	sq.Close()

	assert.ErrorIs(t, sq.Add("c"), utils.ErrQueueClosed)

	got, ok, err := sq.Pop()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", got)
	got, ok, err = sq.Pop()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", got)

	_, ok, err = sq.Pop()
	require.NoError(t, err)
	assert.False(t, ok, "closed and drained")
}

func TestSyncQueue_PopBlocksUntilAdd(t *testing.T) {
	sq := newSyncStringQueue(t, 1)

	result := make(chan string, 1)
	go func() {
		item, _, _ := sq.Pop()
		result <- item
	}()

	time.Sleep(50 * time.Millisecond)
	select {
	case <-result:
		t.Fatal("Pop() returned before Add(), should have blocked")
	default:
	}

	require.NoError(t, sq.Add("unblock"))
	select {
	case got := <-result:
		assert.Equal(t, "unblock", got)
	case <-time.After(time.Second):
		t.Fatal("Pop() did not return after Add()")
	}
}

func TestSyncQueue_ProducersConsumersPreserveCount(t *testing.T) {
	sq := newSyncStringQueue(t, 4) // Small window forces spilling under load

	const producers, perProducer = 4, 250
	seen := make(map[string]bool)
	var seenMu sync.Mutex

	var consumers sync.WaitGroup
	for i := 0; i < 3; i++ {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			for {
				item, ok, err := sq.Pop()
				if err != nil {
					t.Errorf("Pop() error: %v", err)
					return
				}
				if !ok {
					return
				}
				seenMu.Lock()
				seen[item] = true
				seenMu.Unlock()
			}
		}()
	}

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if err := sq.Add(fmt.Sprintf("%d-%d", p, i)); err != nil {
					t.Errorf("Add() error: %v", err)
				}
			}
		}(p)
	}
	wg.Wait()
	sq.Close()
	consumers.Wait()

	assert.Len(t, seen, producers*perProducer)
	assert.NoError(t, sq.Release())
}
