package scheduler

import (
	"container/heap"
	"sync"
	"time"
)

// Task is one queued unit of pipeline work.
type Task struct {
	DocID      string
	Content    []byte
	Attempt    int       // transport retry count, not resource re-evaluations
	NotBefore  time.Time // zero means immediately eligible
	EnqueuedAt time.Time
}

// taskHeap orders tasks by eligibility time, then arrival. A task pushed
// back with backoff sorts behind tasks that are already eligible.
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if !h[i].NotBefore.Equal(h[j].NotBefore) {
		return h[i].NotBefore.Before(h[j].NotBefore)
	}
	return h[i].EnqueuedAt.Before(h[j].EnqueuedAt)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *taskHeap) Push(x interface{}) {
	*h = append(*h, x.(*Task))
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	*h = old[0 : n-1]
	return item
}

// Queue wraps taskHeap with a mutex for safe concurrent access.
type Queue struct {
	h  taskHeap
	mu sync.Mutex
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{h: make(taskHeap, 0)}
}

// Push enqueues a task.
func (q *Queue) Push(t *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}
	heap.Push(&q.h, t)
}

// PopReady removes and returns the next task whose NotBefore has passed,
// or nil when nothing is eligible yet.
func (q *Queue) PopReady() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return nil
	}
	if q.h[0].NotBefore.After(time.Now()) {
		return nil
	}
	return heap.Pop(&q.h).(*Task)
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}
