package settlement

import (
	"math/big"
	"strings"
	"sync"
	"time"

	"gorelaybridge/types"
)

// Queue is the FIFO of accepted transfers awaiting outbound execution.
// Triage enqueues, the settler dequeues; an item is never touched by both at once.
// The dequeued item stays reserved until the settler calls Done.
type Queue struct {
	mu       sync.Mutex
	items    []*types.SettlementItem
	inFlight *types.SettlementItem
}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Enqueue(item *types.SettlementItem) {
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
}

// Dequeue pops the head and holds it as in flight. ok is false when the queue is empty.
func (q *Queue) Dequeue() (item *types.SettlementItem, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	item = q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	q.inFlight = item
	return item, true
}

// Done releases the reservation of a dequeued item. Calling it twice is harmless.
func (q *Queue) Done(item *types.SettlementItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inFlight == item {
		q.inFlight = nil
	}
}

// InFlight returns a copy of the item being settled, if any.
func (q *Queue) InFlight() (types.SettlementItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inFlight == nil {
		return types.SettlementItem{}, false
	}
	return *q.inFlight, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pending sums the amounts queued or in flight for asset.
func (q *Queue) Pending(asset string) *big.Int {
	q.mu.Lock()
	defer q.mu.Unlock()
	total := new(big.Int)
	if q.inFlight != nil && strings.EqualFold(q.inFlight.Asset, asset) {
		total.Add(total, q.inFlight.Amount)
	}
	for _, it := range q.items {
		if strings.EqualFold(it.Asset, asset) {
			total.Add(total, it.Amount)
		}
	}
	return total
}

// Snapshot copies the queued items, head first.
func (q *Queue) Snapshot() []types.SettlementItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]types.SettlementItem, 0, len(q.items))
	for _, it := range q.items {
		out = append(out, *it)
	}
	return out
}
