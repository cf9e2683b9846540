package task

import "container/heap"

// queueItem pairs a queued task with its admission sequence number so
// equal priorities dequeue in FIFO order.
type queueItem struct {
	task *Task
	seq  uint64
	idx  int
}

// priorityQueue is a stable max-heap: higher priority first, earlier
// enqueue first on ties. Guarded by the Manager's mutex.
type priorityQueue []*queueItem

func (q priorityQueue) Len() int { return len(q) }

func (q priorityQueue) Less(i, j int) bool {
	if q[i].task.Priority != q[j].task.Priority {
		return q[i].task.Priority > q[j].task.Priority
	}
	return q[i].seq < q[j].seq
}

func (q priorityQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].idx = i
	q[j].idx = j
}

func (q *priorityQueue) Push(x interface{}) {
	item := x.(*queueItem)
	item.idx = len(*q)
	*q = append(*q, item)
}

func (q *priorityQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.idx = -1
	*q = old[:n-1]
	return item
}

var _ heap.Interface = (*priorityQueue)(nil)
