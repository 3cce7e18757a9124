package webhook

import (
	"sync"
	"time"
)

// QueueItem is an event waiting for delivery together with the routes it
// matched at ingestion.
type QueueItem struct {
	ID           string    `json:"id"`
	Event        Event     `json:"event"`
	Routes       []Route   `json:"routes"`
	AttemptCount int       `json:"attemptCount"`
	EnqueuedAt   time.Time `json:"enqueuedAt"`
}

// Queue is a bounded FIFO ring. Pushing onto a full queue evicts the
// oldest item.
type Queue struct {
	mutex    sync.Mutex
	items    []QueueItem
	head     int
	size     int
	maxDepth int
}

func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}

	return &Queue{
		items: make([]QueueItem, capacity),
	}
}

// Push appends item. When the queue was full the evicted item is returned
// with true.
func (q *Queue) Push(item QueueItem) (QueueItem, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	var (
		evicted QueueItem
		dropped bool
	)

	if q.size == len(q.items) {
		evicted = q.items[q.head]
		dropped = true
		q.items[q.head] = QueueItem{}
		q.head = (q.head + 1) % len(q.items)
		q.size--
	}

	q.items[(q.head+q.size)%len(q.items)] = item
	q.size++

	if q.size > q.maxDepth {
		q.maxDepth = q.size
	}

	return evicted, dropped
}

// PushFront puts item back at the head, ahead of everything queued. On a
// full queue item is itself the oldest, so it is the one evicted.
func (q *Queue) PushFront(item QueueItem) (QueueItem, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.size == len(q.items) {
		return item, true
	}

	q.head = (q.head - 1 + len(q.items)) % len(q.items)
	q.items[q.head] = item
	q.size++

	if q.size > q.maxDepth {
		q.maxDepth = q.size
	}

	return QueueItem{}, false
}

// Pop removes the oldest item.
func (q *Queue) Pop() (QueueItem, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.size == 0 {
		return QueueItem{}, false
	}

	item := q.items[q.head]
	q.items[q.head] = QueueItem{}
	q.head = (q.head + 1) % len(q.items)
	q.size--

	return item, true
}

func (q *Queue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	return q.size
}

func (q *Queue) Cap() int {
	return len(q.items)
}

// MaxDepth is the highest depth observed since creation.
func (q *Queue) MaxDepth() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	return q.maxDepth
}

// Items returns the queued items oldest first without removing them.
func (q *Queue) Items() []QueueItem {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	out := make([]QueueItem, 0, q.size)
	for i := 0; i < q.size; i++ {
		out = append(out, q.items[(q.head+i)%len(q.items)])
	}
	return out
}
