package limiter

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// entry is one submitted operation.
type entry struct {
	ctx      context.Context
	fn       Func
	opts     RunOptions
	fut      *Future
	seq      uint64
	enqueued time.Time

	// index is the position in the queue heap, -1 once removed.
	index int

	stopWatch   func() bool
	releaseOnce sync.Once
}

// queue is a max-heap on priority with submission order as tiebreak.
type queue []*entry

func (q queue) Len() int { return len(q) }

func (q queue) Less(i, j int) bool {
	if q[i].opts.Priority != q[j].opts.Priority {
		return q[i].opts.Priority > q[j].opts.Priority
	}
	return q[i].seq < q[j].seq
}

func (q queue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *queue) Push(x any) {
	e := x.(*entry)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *queue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}

// remove takes e out of the queue if it is still queued.
func (q *queue) remove(e *entry) bool {
	if e.index < 0 || e.index >= q.Len() || (*q)[e.index] != e {
		return false
	}
	heap.Remove(q, e.index)
	return true
}
