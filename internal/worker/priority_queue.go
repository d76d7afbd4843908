package worker

import (
	"sort"
	"sync"
	"time"

	"github.com/alpaca-lotto/internal/types"
)

// drawEntry is one lottery awaiting its draw
type drawEntry struct {
	ID       int64
	DrawTime time.Time
	Status   types.LotteryStatus
}

// DrawQueue orders lotteries by proximity to their draw time, soonest
// first. The watcher refreshes nearby draws before distant ones when a
// poll cycle cannot read every lottery.
type DrawQueue struct {
	entries []drawEntry
	mu      sync.RWMutex
}

// NewDrawQueue creates an empty draw queue
func NewDrawQueue() *DrawQueue {
	return &DrawQueue{
		entries: make([]drawEntry, 0),
	}
}

// Refresh replaces the queue contents with the given lotteries
func (q *DrawQueue) Refresh(lotteries []types.Lottery) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = q.entries[:0]
	for _, lottery := range lotteries {
		q.entries = append(q.entries, drawEntry{
			ID:       lottery.ID,
			DrawTime: lottery.DrawTime,
			Status:   lottery.Status,
		})
	}
	q.sortLocked()
}

// Upsert inserts a lottery or updates its draw time and status
func (q *DrawQueue) Upsert(lottery *types.Lottery) {
	if lottery == nil {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.entries {
		if q.entries[i].ID == lottery.ID {
			q.entries[i].DrawTime = lottery.DrawTime
			q.entries[i].Status = lottery.Status
			q.sortLocked()
			return
		}
	}

	q.entries = append(q.entries, drawEntry{
		ID:       lottery.ID,
		DrawTime: lottery.DrawTime,
		Status:   lottery.Status,
	})
	q.sortLocked()
}

// Remove drops a lottery from the queue
func (q *DrawQueue) Remove(lotteryID int64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.entries {
		if q.entries[i].ID == lotteryID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return
		}
	}
}

// OrderedIDs returns every queued lottery id, soonest draw first
func (q *DrawQueue) OrderedIDs() []int64 {
	q.mu.RLock()
	defer q.mu.RUnlock()

	ids := make([]int64, len(q.entries))
	for i, e := range q.entries {
		ids[i] = e.ID
	}
	return ids
}

// Due returns the ids of lotteries whose draw time has passed
func (q *DrawQueue) Due(now time.Time) []int64 {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var ids []int64
	for _, e := range q.entries {
		if !e.DrawTime.After(now) {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// NextDraw returns the soonest queued draw time
func (q *DrawQueue) NextDraw() (time.Time, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if len(q.entries) == 0 {
		return time.Time{}, false
	}
	return q.entries[0].DrawTime, true
}

// Len returns the number of queued lotteries
func (q *DrawQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries)
}

// sortLocked orders entries by draw time, ties broken by id so the
// order is stable across refreshes. Caller holds the write lock.
func (q *DrawQueue) sortLocked() {
	sort.Slice(q.entries, func(i, j int) bool {
		if q.entries[i].DrawTime.Equal(q.entries[j].DrawTime) {
			return q.entries[i].ID < q.entries[j].ID
		}
		return q.entries[i].DrawTime.Before(q.entries[j].DrawTime)
	})
}
