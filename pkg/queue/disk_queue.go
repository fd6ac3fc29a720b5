package queue

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/crawl-scheduler/pkg/utils"
)

const (
	defaultRefillRatio = 0.75
	maxFrameSize       = 64 << 20 // Guards against reading a corrupt length prefix
)

// DiskQueueOptions tunes a DiskQueue. The zero value is usable
type DiskQueueOptions struct {
	SpillDir    string        // Directory for the overflow file; defaults to os.TempDir()
	RefillRatio float64       // Refill from disk when resident count drops below capacity*ratio; defaults to 0.75
	Logger      *logrus.Entry // Defaults to a discarding logger
}

// DiskQueue is a FIFO queue that keeps at most capacity elements in memory and
// spills the rest to an append-only file.
//
// The resident window always holds the logical head. Once anything has spilled,
// every new element goes to the overflow file until it is drained back, so the
// logical order is: resident window, in-flight element, overflow file.
//
// DiskQueue is not safe for concurrent use; wrap it in a SyncQueue to share it.
type DiskQueue[T any] struct {
	capacity        int
	refillThreshold int
	codec           Codec[T]
	spillDir        string
	log             *logrus.Entry

	// Size accounting. Len() == len(resident) + onDisk + (1 if hasInFlight)
	resident    []T
	onDisk      int  // Elements written to the overflow file and not yet read back
	inFlight    T    // Element already read off disk, not yet placed into the window
	hasInFlight bool // Whether inFlight holds an element

	spillPath  string
	writeFile  *os.File
	writer     *bufio.Writer
	readFile   *os.File
	reader     *bufio.Reader
	writeErr   error // Sticky: once a spill write fails, further spills fail until Clear
	readErr    error // Sticky: a failed read leaves the file position unknown
	closed     bool
	spillCount int // Number of overflow files created over the queue's lifetime
}

// NewDiskQueue creates a queue using the JSON codec
func NewDiskQueue[T any](capacity int, opts DiskQueueOptions) (*DiskQueue[T], error) {
	return NewDiskQueueWithCodec[T](capacity, JSONCodec[T]{}, opts)
}

// NewDiskQueueWithCodec creates a queue with a caller-supplied element codec
func NewDiskQueueWithCodec[T any](capacity int, codec Codec[T], opts DiskQueueOptions) (*DiskQueue[T], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: queue capacity must be >= 1, got %d", utils.ErrConfigValidation, capacity)
	}
	if codec == nil {
		return nil, fmt.Errorf("%w: queue codec is nil", utils.ErrConfigValidation)
	}

	ratio := opts.RefillRatio
	if ratio <= 0 || ratio > 1 {
		ratio = defaultRefillRatio
	}
	threshold := int(float64(capacity) * ratio)
	if threshold < 1 {
		threshold = 1
	}

	spillDir := opts.SpillDir
	if spillDir == "" {
		spillDir = os.TempDir()
	}

	logger := opts.Logger
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = logrus.NewEntry(l)
	}

	// Start small; the window grows on demand up to capacity
	initial := capacity
	if initial > 1024 {
		initial = 1024
	}

	return &DiskQueue[T]{
		capacity:        capacity,
		refillThreshold: threshold,
		codec:           codec,
		spillDir:        spillDir,
		log:             logger.WithField("component", "disk_queue"),
		resident:        make([]T, 0, initial),
	}, nil
}

// Offer appends item to the tail of the queue
// Fails with ErrNullItem for nil pointers, maps, slices, channels, funcs or interfaces
// Fails with ErrQueueIO if the element had to spill and the write failed; the queue is unchanged in that case
func (q *DiskQueue[T]) Offer(item T) error {
	if q.closed {
		return utils.ErrQueueClosed
	}
	if isNil(item) {
		return utils.ErrNullItem
	}

	// Anything already outside the window is older than item, so item must queue behind it
	if q.onDisk > 0 || q.hasInFlight || len(q.resident) >= q.capacity {
		return q.spill(item)
	}
	q.resident = append(q.resident, item)
	return nil
}

// Poll removes and returns the head. ok is false when the queue is empty
// A non-nil error means the overflow file could not be read and the window is empty; nothing was removed.
// Resident elements are still served after a read failure
func (q *DiskQueue[T]) Poll() (item T, ok bool, err error) {
	if err = q.refill(); err != nil && len(q.resident) == 0 {
		return item, false, err
	}
	if len(q.resident) == 0 {
		return item, false, nil
	}

	item = q.resident[0]
	var zero T
	q.resident[0] = zero // Release the reference held by the backing array
	q.resident = q.resident[1:]
	if len(q.resident) == 0 {
		q.resident = q.resident[:0:0]
	}
	return item, true, nil
}

// Remove is Poll that fails with ErrEmptyQueue instead of reporting ok=false
func (q *DiskQueue[T]) Remove() (T, error) {
	item, ok, err := q.Poll()
	if err != nil {
		return item, err
	}
	if !ok {
		return item, utils.ErrEmptyQueue
	}
	return item, nil
}

// Peek returns the head without removing it. ok is false when the queue is empty
func (q *DiskQueue[T]) Peek() (item T, ok bool, err error) {
	if err = q.refill(); err != nil && len(q.resident) == 0 {
		return item, false, err
	}
	if len(q.resident) == 0 {
		return item, false, nil
	}
	return q.resident[0], true, nil
}

// PeekAt returns the element index positions from the head without removing it
// Only the resident window is addressable; the overflow file is sequential-only, so
// indices at or beyond the window fail with ErrIndexOutOfRange even if the element exists
func (q *DiskQueue[T]) PeekAt(index int) (T, error) {
	var zero T
	if err := q.refill(); err != nil && index >= len(q.resident) {
		return zero, err
	}
	if index < 0 || index >= len(q.resident) {
		return zero, fmt.Errorf("%w: index %d, resident window holds %d", utils.ErrIndexOutOfRange, index, len(q.resident))
	}
	return q.resident[index], nil
}

// Len returns the number of elements offered and not yet removed
func (q *DiskQueue[T]) Len() int {
	n := len(q.resident) + q.onDisk
	if q.hasInFlight {
		n++
	}
	return n
}

// IsEmpty reports whether Len() == 0
func (q *DiskQueue[T]) IsEmpty() bool {
	return q.Len() == 0
}

// Resident returns the number of elements currently held in memory, in-flight included
func (q *DiskQueue[T]) Resident() int {
	if q.hasInFlight {
		return len(q.resident) + 1
	}
	return len(q.resident)
}

// Spilled reports whether an overflow file currently exists
func (q *DiskQueue[T]) Spilled() bool {
	return q.writeFile != nil
}

// SpillCount returns how many overflow files have been created over the queue's lifetime
func (q *DiskQueue[T]) SpillCount() int {
	return q.spillCount
}

// Clear discards every element and deletes the overflow file
func (q *DiskQueue[T]) Clear() error {
	q.resident = q.resident[:0:0]
	var zero T
	q.inFlight = zero
	q.hasInFlight = false
	q.onDisk = 0
	q.writeErr = nil
	q.readErr = nil
	return q.removeSpillFile()
}

// Close clears the queue and rejects further offers
func (q *DiskQueue[T]) Close() error {
	if q.closed {
		return nil
	}
	err := q.Clear()
	q.closed = true
	return err
}

// spill appends item to the overflow file, creating the file on first use
func (q *DiskQueue[T]) spill(item T) error {
	if q.writeErr != nil {
		return fmt.Errorf("%w: overflow unavailable after earlier write failure: %w", utils.ErrQueueIO, q.writeErr)
	}

	data, err := q.codec.Encode(item)
	if err != nil {
		// Nothing reached the file, so the queue stays usable
		return fmt.Errorf("%w: encoding element: %w", utils.ErrQueueIO, err)
	}

	if q.writeFile == nil {
		if err := q.openSpillFile(); err != nil {
			return err
		}
	}

	var header [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(header[:], uint64(len(data)))
	if _, err := q.writer.Write(header[:n]); err != nil {
		return q.failWrite(err)
	}
	if _, err := q.writer.Write(data); err != nil {
		return q.failWrite(err)
	}
	q.onDisk++
	return nil
}

func (q *DiskQueue[T]) failWrite(err error) error {
	q.writeErr = err
	q.log.WithFields(logrus.Fields{"path": q.spillPath, "on_disk": q.onDisk}).Errorf("Overflow write failed: %v", err)
	return fmt.Errorf("%w: writing overflow file: %w", utils.ErrQueueIO, err)
}

func (q *DiskQueue[T]) openSpillFile() error {
	if err := os.MkdirAll(q.spillDir, 0755); err != nil {
		return fmt.Errorf("%w: creating spill dir %s: %w", utils.ErrQueueIO, q.spillDir, err)
	}
	path := filepath.Join(q.spillDir, "spill-"+uuid.NewString()+".q")

	wf, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("%w: creating overflow file: %w", utils.ErrQueueIO, err)
	}
	rf, err := os.Open(path)
	if err != nil {
		wf.Close()
		os.Remove(path)
		return fmt.Errorf("%w: opening overflow file for read: %w", utils.ErrQueueIO, err)
	}

	q.spillPath = path
	q.writeFile = wf
	q.writer = bufio.NewWriter(wf)
	q.readFile = rf
	q.reader = bufio.NewReader(rf)
	q.spillCount++
	q.log.WithFields(logrus.Fields{"path": path, "capacity": q.capacity}).Debug("Created overflow file")
	return nil
}

// removeSpillFile closes and deletes the overflow file if there is one
func (q *DiskQueue[T]) removeSpillFile() error {
	if q.writeFile == nil {
		return nil
	}
	var firstErr error
	if err := q.writeFile.Close(); err != nil {
		firstErr = err
	}
	if err := q.readFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := os.Remove(q.spillPath); err != nil && !os.IsNotExist(err) && firstErr == nil {
		firstErr = err
	}
	q.log.WithField("path", q.spillPath).Debug("Removed overflow file")

	q.writeFile, q.writer, q.readFile, q.reader = nil, nil, nil, nil
	q.spillPath = ""
	if firstErr != nil {
		return fmt.Errorf("%w: removing overflow file: %w", utils.ErrQueueIO, firstErr)
	}
	return nil
}

// refill promotes elements from the overflow file into the resident window once
// the window drops below the refill threshold. The in-flight element goes first,
// then sequential reads until the window is full, then one element of read-ahead.
func (q *DiskQueue[T]) refill() error {
	if q.onDisk == 0 && !q.hasInFlight {
		return nil
	}
	if len(q.resident) >= q.refillThreshold {
		return nil
	}

	if q.hasInFlight {
		q.resident = append(q.resident, q.inFlight)
		var zero T
		q.inFlight = zero
		q.hasInFlight = false
	}

	if q.onDisk > 0 {
		if q.readErr != nil {
			return fmt.Errorf("%w: overflow unreadable after earlier failure: %w", utils.ErrQueueIO, q.readErr)
		}
		// Buffered frames must reach the file before the reader can see them
		if err := q.writer.Flush(); err != nil {
			return q.failWrite(err)
		}
	}

	for len(q.resident) < q.capacity && q.onDisk > 0 {
		item, err := q.readNext()
		if err != nil {
			return err
		}
		q.resident = append(q.resident, item)
		q.onDisk--
	}

	if q.onDisk > 0 {
		item, err := q.readNext()
		if err != nil {
			return err
		}
		q.inFlight = item
		q.hasInFlight = true
		q.onDisk--
	}

	if q.onDisk == 0 {
		// Everything written has been read back; the file has no further use
		if err := q.removeSpillFile(); err != nil {
			q.log.Warnf("Failed to remove drained overflow file: %v", err)
		}
	}
	return nil
}

// readNext reads one frame from the overflow file. A failure is sticky because
// the reader's position within the frame stream is no longer known
func (q *DiskQueue[T]) readNext() (T, error) {
	var zero T
	size, err := binary.ReadUvarint(q.reader)
	if err != nil {
		return zero, q.failRead(fmt.Errorf("reading frame length: %w", err))
	}
	if size > maxFrameSize {
		return zero, q.failRead(fmt.Errorf("frame length %d exceeds limit", size))
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(q.reader, buf); err != nil {
		return zero, q.failRead(fmt.Errorf("reading frame body: %w", err))
	}
	item, err := q.codec.Decode(buf)
	if err != nil {
		return zero, q.failRead(err)
	}
	return item, nil
}

func (q *DiskQueue[T]) failRead(err error) error {
	q.readErr = err
	q.log.WithFields(logrus.Fields{"path": q.spillPath, "on_disk": q.onDisk}).Errorf("Overflow read failed: %v", err)
	return fmt.Errorf("%w: %w", utils.ErrQueueIO, err)
}

// isNil reports whether item is an absent value
func isNil[T any](item T) bool {
	v := reflect.ValueOf(any(item))
	if !v.IsValid() {
		return true // nil interface
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Chan, reflect.Func:
		return v.IsNil()
	}
	return false
}
