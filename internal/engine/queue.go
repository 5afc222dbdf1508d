package engine

import (
	"sort"
	"sync"

	"github.com/fairyhunter13/engage-engine/internal/domain"
)

// accountQueue is one account's pending actions, ordered by
// (ScheduledAt, Priority, EnqueueSeq). Strict FIFO among items with equal
// times and priorities.
type accountQueue struct {
	mu    sync.Mutex
	items []domain.PlannedAction
	// wake is signalled on push so a parked worker re-evaluates its head.
	wake chan struct{}
}

func newAccountQueue() *accountQueue {
	return &accountQueue{wake: make(chan struct{}, 1)}
}

func (q *accountQueue) push(a domain.PlannedAction) {
	q.mu.Lock()
	idx := sort.Search(len(q.items), func(i int) bool {
		it := q.items[i]
		if !it.ScheduledAt.Equal(a.ScheduledAt) {
			return it.ScheduledAt.After(a.ScheduledAt)
		}
		if it.Priority != a.Priority {
			return it.Priority > a.Priority
		}
		return it.EnqueueSeq > a.EnqueueSeq
	})
	q.items = append(q.items, domain.PlannedAction{})
	copy(q.items[idx+1:], q.items[idx:])
	q.items[idx] = a
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// peek returns the head without removing it.
func (q *accountQueue) peek() (domain.PlannedAction, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return domain.PlannedAction{}, false
	}
	return q.items[0], true
}

// pop removes and returns the head.
func (q *accountQueue) pop() (domain.PlannedAction, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return domain.PlannedAction{}, false
	}
	head := q.items[0]
	q.items = q.items[1:]
	return head, true
}

// drain removes and returns every queued item.
func (q *accountQueue) drain() []domain.PlannedAction {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

func (q *accountQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
