package task

import "container/heap"

// Queue is a priority-ordered task queue: highest priority first,
// FIFO within a priority level. Not safe for concurrent use by
// multiple goroutines; the Fleet Coordinator is the queue's sole
// owner and serializes access to it.
type Queue struct {
	items heapSlice
	seq    uint64
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	q := &Queue{}
	heap.Init(&q.items)
	return q
}

// Push enqueues t, assigning it the next submission sequence number.
func (q *Queue) Push(t *Task) {
	q.seq++
	t.submittedSeq = q.seq
	heap.Push(&q.items, t)
}

// Peek returns the head of the queue without removing it, or nil if
// empty.
func (q *Queue) Peek() *Task {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// Pop removes and returns the head of the queue, or nil if empty.
func (q *Queue) Pop() *Task {
	if len(q.items) == 0 {
		return nil
	}
	return heap.Pop(&q.items).(*Task)
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	return len(q.items)
}

// Remove drops the task with the given id from the queue, reporting
// whether it was found (used by cancelTask on a still-queued task).
func (q *Queue) Remove(id string) bool {
	for i, t := range q.items {
		if t.ID == id {
			heap.Remove(&q.items, i)
			return true
		}
	}
	return false
}

// heapSlice implements container/heap: higher Priority first, and
// within equal priority, lower submittedSeq (earlier submission)
// first.
type heapSlice []*Task

func (h heapSlice) Len() int { return len(h) }

func (h heapSlice) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].submittedSeq < h[j].submittedSeq
}

func (h heapSlice) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *heapSlice) Push(x interface{}) {
	*h = append(*h, x.(*Task))
}

func (h *heapSlice) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
