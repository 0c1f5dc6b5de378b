package orchestrator

import "container/heap"

type queuedRequest struct {
	id       string
	priority int
	seq      uint64
}

// requestHeap orders by priority descending, then submission order.
type requestHeap []queuedRequest

func (h requestHeap) Len() int { return len(h) }
func (h requestHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h requestHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *requestHeap) Push(x any)   { *h = append(*h, x.(queuedRequest)) }
func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// priorityQueue is not safe for concurrent use; the Engine guards it.
type priorityQueue struct {
	h   requestHeap
	seq uint64
}

func (q *priorityQueue) push(id string, priority int) {
	q.seq++
	heap.Push(&q.h, queuedRequest{id: id, priority: priority, seq: q.seq})
}

func (q *priorityQueue) pop() (string, bool) {
	if q.h.Len() == 0 {
		return "", false
	}
	return heap.Pop(&q.h).(queuedRequest).id, true
}

func (q *priorityQueue) remove(id string) bool {
	for i, r := range q.h {
		if r.id == id {
			heap.Remove(&q.h, i)
			return true
		}
	}
	return false
}

func (q *priorityQueue) len() int { return q.h.Len() }
