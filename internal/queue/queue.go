// Package queue implements the bounded priority message queue (spec.md
// §4.6): higher priority dequeues first, FIFO within a priority level.
// Built on container/heap with condition-variable blocking, following
// the teacher's preference for explicit mutex/condvar coordination over
// channel-of-channels tricks in its worker-pool code
// (internal/webhooks/dispatcher.go).
package queue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/moverstatus/moverd/internal/errs"
)

// Message is the payload carried into the dispatcher, independent of
// provider wire format (spec.md §3 Message). Declared here rather than
// imported from internal/notify to keep the queue free of a dependency
// on the notification package; internal/dispatch bridges the two.
type Message struct {
	Title    string
	Content  string
	Priority int
	Tags     []string
	Metadata map[string]string
}

// QueuedMessage is owned by the queue from enqueue until a worker
// dequeues it (spec.md §3). DeliveryID must be unique across the
// dispatcher's lifetime; the queue itself does not enforce that — the
// dispatcher allocates it.
type QueuedMessage struct {
	Message    Message
	Priority   int
	Providers  []string
	DeliveryID string
	CreatedAt  time.Time
}

// item is the heap element: QueuedMessage plus its insertion sequence
// number, used only to break priority ties in FIFO order.
type item struct {
	msg QueuedMessage
	seq uint64
}

type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].msg.Priority != h[j].msg.Priority {
		return h[i].msg.Priority > h[j].msg.Priority // higher priority first
	}
	return h[i].seq < h[j].seq // earlier sequence (FIFO) first
}
func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x any)   { *h = append(*h, x.(*item)) }
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Queue is a bounded, blocking priority queue. Enqueue blocks while full;
// Dequeue blocks while empty. Once Shutdown is called, Enqueue returns
// errs.ErrQueueClosed; Dequeue keeps returning messages still queued and
// returns errs.ErrQueueClosed once the queue is empty.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	heap     itemHeap
	capacity int
	nextSeq  uint64
	closed   bool
}

// New returns a Queue with the given bounded capacity. capacity <= 0
// means unbounded.
func New(capacity int) *Queue {
	q := &Queue{heap: itemHeap{}, capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Enqueue blocks until space is available or the queue is shut down.
func (q *Queue) Enqueue(msg QueuedMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.capacity > 0 && len(q.heap) >= q.capacity && !q.closed {
		q.notFull.Wait()
	}
	if q.closed {
		return errs.ErrQueueClosed
	}

	heap.Push(&q.heap, &item{msg: msg, seq: q.nextSeq})
	q.nextSeq++
	q.notEmpty.Signal()
	return nil
}

// TryEnqueue is a non-blocking Enqueue: it fails immediately with
// errs.ErrQueueFull if the queue has no space, rather than waiting.
func (q *Queue) TryEnqueue(msg QueuedMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return errs.ErrQueueClosed
	}
	if q.capacity > 0 && len(q.heap) >= q.capacity {
		return errs.ErrQueueFull
	}

	heap.Push(&q.heap, &item{msg: msg, seq: q.nextSeq})
	q.nextSeq++
	q.notEmpty.Signal()
	return nil
}

// Dequeue blocks until a message arrives or the queue is shut down.
func (q *Queue) Dequeue() (QueuedMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.heap) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if len(q.heap) == 0 && q.closed {
		return QueuedMessage{}, errs.ErrQueueClosed
	}

	it := heap.Pop(&q.heap).(*item)
	q.notFull.Signal()
	return it.msg, nil
}

// Size returns the current number of queued messages.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// IsEmpty reports whether the queue currently holds no messages.
func (q *Queue) IsEmpty() bool {
	return q.Size() == 0
}

// IsFull reports whether the queue is at capacity. Always false for an
// unbounded queue.
func (q *Queue) IsFull() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.capacity > 0 && len(q.heap) >= q.capacity
}

// Shutdown marks the queue closed and wakes every blocked Enqueue and
// Dequeue call so they can observe errs.ErrQueueClosed. Idempotent.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}
