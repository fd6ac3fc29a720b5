package queue

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/crawl-scheduler/pkg/utils"
)

// SyncQueue shares a DiskQueue between producer and consumer goroutines
// Pop blocks until an element arrives or the queue is closed and drained
type SyncQueue[T any] struct {
	q      *DiskQueue[T]
	mu     sync.Mutex
	cond   *sync.Cond // Signalled on Add and Close
	closed bool
	log    *logrus.Entry
}

// NewSyncQueue wraps q. q must not be used directly afterwards
func NewSyncQueue[T any](q *DiskQueue[T], log *logrus.Entry) *SyncQueue[T] {
	sq := &SyncQueue[T]{q: q, log: log}
	sq.cond = sync.NewCond(&sq.mu)
	return sq
}

// Add appends item. Fails with ErrQueueClosed after Close
func (sq *SyncQueue[T]) Add(item T) error {
	sq.mu.Lock()
	defer sq.mu.Unlock()

	if sq.closed {
		sq.log.Warn("Attempted to add item to closed queue")
		return utils.ErrQueueClosed
	}
	if err := sq.q.Offer(item); err != nil {
		return err
	}
	sq.cond.Signal()
	return nil
}

// Pop removes the head, blocking while the queue is empty and open
// Returns ok=false once the queue is closed and empty
func (sq *SyncQueue[T]) Pop() (item T, ok bool, err error) {
	sq.mu.Lock()
	defer sq.mu.Unlock()

	for sq.q.Len() == 0 {
		if sq.closed {
			return item, false, nil
		}
		sq.cond.Wait()
	}
	return sq.q.Poll()
}

// Close stops further adds and wakes every blocked Pop. Remaining elements can still be popped
func (sq *SyncQueue[T]) Close() {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	if !sq.closed {
		sq.closed = true
		sq.cond.Broadcast()
	}
}

// Release deletes any overflow state. Call once consumers are done
func (sq *SyncQueue[T]) Release() error {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	sq.closed = true
	sq.cond.Broadcast()
	return sq.q.Close()
}

// Len returns the number of queued elements
func (sq *SyncQueue[T]) Len() int {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	return sq.q.Len()
}

// SpillCount reports how many overflow files the underlying queue has created
func (sq *SyncQueue[T]) SpillCount() int {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	return sq.q.SpillCount()
}
