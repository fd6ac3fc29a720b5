package queue

import (
	"container/heap"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/crawl-scheduler/pkg/models"
)

// --- Frontier Priority Queue ---

// PQItem represents an accepted URL waiting in the fetch frontier
type PQItem struct {
	scored *models.ScoredURL
	seq    uint64 // Insertion order, breaks score ties so equal scores pop FIFO
	index  int    // The index of the item in the heap (required by heap interface)
}

// PriorityQueue implements heap.Interface, highest score first
type PriorityQueue []*PQItem

func (pq PriorityQueue) Len() int { return len(pq) }

func (pq PriorityQueue) Less(i, j int) bool {
	if pq[i].scored.Score != pq[j].scored.Score {
		return pq[i].scored.Score > pq[j].scored.Score
	}
	return pq[i].seq < pq[j].seq
}

func (pq PriorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

// Push adds an element to the heap
func (pq *PriorityQueue) Push(x any) {
	n := len(*pq)
	item := x.(*PQItem)
	item.index = n
	*pq = append(*pq, item)
}

// Pop removes and returns the highest-score element from the heap
func (pq *PriorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil  // avoid memory leak
	item.index = -1 // for safety
	*pq = old[0 : n-1]
	return item
}

// FrontierQueue orders accepted URLs by score for the fetch stage
type FrontierQueue struct {
	pq      PriorityQueue
	mu      sync.Mutex
	cond    *sync.Cond // Condition variable to wait for items
	closed  bool
	nextSeq uint64
	log     *logrus.Entry
}

// NewFrontierQueue creates an empty frontier
func NewFrontierQueue(log *logrus.Entry) *FrontierQueue {
	fq := &FrontierQueue{log: log}
	fq.cond = sync.NewCond(&fq.mu)
	heap.Init(&fq.pq)
	return fq
}

// Add pushes an accepted URL. Non-accepted dispositions are ignored and reported as false
func (fq *FrontierQueue) Add(item *models.ScoredURL) bool {
	fq.mu.Lock()
	defer fq.mu.Unlock()

	if fq.closed {
		fq.log.Warnf("Attempted to add item to closed frontier: %s", item.URL)
		return false
	}
	if !item.IsAccepted() {
		fq.log.Debugf("Frontier ignoring %s URL: %s", item.Disposition, item.URL)
		return false
	}

	heap.Push(&fq.pq, &PQItem{scored: item, seq: fq.nextSeq})
	fq.nextSeq++
	fq.cond.Signal()
	return true
}

// Pop retrieves and removes the highest-score URL
// It blocks if the frontier is empty until an item is added or the frontier is closed
// Returns the item and true, or nil and false if the frontier is closed and empty
func (fq *FrontierQueue) Pop() (*models.ScoredURL, bool) {
	fq.mu.Lock()
	defer fq.mu.Unlock()

	for len(fq.pq) == 0 {
		if fq.closed {
			return nil, false
		}
		fq.cond.Wait()
	}

	item := heap.Pop(&fq.pq).(*PQItem)
	return item.scored, true
}

// Close signals that no more items will be added
func (fq *FrontierQueue) Close() {
	fq.mu.Lock()
	defer fq.mu.Unlock()
	if !fq.closed {
		fq.closed = true
		fq.cond.Broadcast()
	}
}

// Len returns the current number of items in the frontier (thread-safe)
func (fq *FrontierQueue) Len() int {
	fq.mu.Lock()
	defer fq.mu.Unlock()
	return len(fq.pq)
}
