package scheduler

import (
	"errors"
	"fmt"

	"github.com/Sriram-PR/crawl-scheduler/pkg/models"
	"github.com/Sriram-PR/crawl-scheduler/pkg/queue"
	"github.com/Sriram-PR/crawl-scheduler/pkg/utils"
)

// Emitter receives every classified URL exactly once. Implementations must be
// safe for concurrent use: domains finish on resolver goroutines.
type Emitter interface {
	Emit(rec models.ScoredURL) error
}

// EmitterFunc adapts a function to Emitter
type EmitterFunc func(rec models.ScoredURL) error

// Emit implements Emitter
func (f EmitterFunc) Emit(rec models.ScoredURL) error { return f(rec) }

// MultiEmitter forwards to every emitter, continuing past failures
type MultiEmitter []Emitter

// Emit implements Emitter. All errors are joined
func (m MultiEmitter) Emit(rec models.ScoredURL) error {
	var errs []error
	for _, e := range m {
		if e == nil {
			continue
		}
		if err := e.Emit(rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// QueueEmitter stages results in a shared spill queue for a downstream reader
type QueueEmitter struct {
	Queue *queue.SyncQueue[models.ScoredURL]
}

// Emit implements Emitter
func (q QueueEmitter) Emit(rec models.ScoredURL) error {
	if err := q.Queue.Add(rec); err != nil {
		return fmt.Errorf("%w: staging %s: %w", utils.ErrEmit, rec.URL, err)
	}
	return nil
}
