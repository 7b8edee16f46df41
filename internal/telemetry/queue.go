package telemetry

import "sync"

type entry struct {
	seq  uint64
	data []byte
}

// queue is a bounded FIFO that drops its oldest entry when full.
type queue struct {
	mu      sync.Mutex
	items   []entry
	next    uint64
	limit   int
	dropped uint64
	notify  chan struct{}
}

func newQueue(limit int) *queue {
	return &queue{limit: limit, notify: make(chan struct{}, 1)}
}

// push appends msg and reports whether an older message was dropped.
func (q *queue) push(msg []byte) bool {
	q.mu.Lock()
	dropped := false
	if len(q.items) >= q.limit {
		q.items = q.items[1:]
		q.dropped++
		dropped = true
	}
	q.next++
	q.items = append(q.items, entry{seq: q.next, data: msg})
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return dropped
}

// peek returns the oldest entry without removing it.
func (q *queue) peek() (entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return entry{}, false
	}
	return q.items[0], true
}

// pop removes the oldest entry if it is still seq. A concurrent push may
// already have dropped it.
func (q *queue) pop(seq uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) > 0 && q.items[0].seq == seq {
		q.items = q.items[1:]
	}
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *queue) droppedCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
