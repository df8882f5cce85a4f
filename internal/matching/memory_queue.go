package matching

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryQueue is a single-process QueueStore guarded by one mutex.
// Terminal entries are kept for DefaultEntryRetention after their last
// update and pruned on the next Admit, mirroring the Redis key expiry.
type MemoryQueue struct {
	mu        sync.Mutex
	entries   map[string]*QueueEntry
	retention time.Duration
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		entries:   make(map[string]*QueueEntry),
		retention: DefaultEntryRetention,
	}
}

func (q *MemoryQueue) Admit(ctx context.Context, entry QueueEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	q.prune(entry.EnqueuedAt)
	if cur, ok := q.entries[entry.UserID()]; ok && cur.Status == StatusWaiting && !cur.ExpiredAt(entry.EnqueuedAt) {
		return ErrAlreadyQueued
	}
	e := entry
	q.entries[entry.UserID()] = &e
	return nil
}

func (q *MemoryQueue) Get(ctx context.Context, userID string) (*QueueEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[userID]
	if !ok {
		return nil, ErrEntryNotFound
	}
	out := *e
	return &out, nil
}

func (q *MemoryQueue) Waiting(ctx context.Context) ([]QueueEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	out := make([]QueueEntry, 0, len(q.entries))
	for _, e := range q.entries {
		if e.Status == StatusWaiting {
			out = append(out, *e)
		}
	}
	q.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].EnqueuedAt.Equal(out[j].EnqueuedAt) {
			return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
		}
		return out[i].UserID() < out[j].UserID()
	})
	return out, nil
}

func (q *MemoryQueue) Transition(ctx context.Context, userID string, from, to Status, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[userID]
	if !ok || e.Status != from {
		return false, nil
	}
	e.Status = to
	e.UpdatedAt = at
	return true, nil
}

func (q *MemoryQueue) ClaimPair(ctx context.Context, candidateID, requesterID string, now, since time.Time) (ClaimOutcome, error) {
	if err := ctx.Err(); err != nil {
		return ClaimCandidateTaken, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	cand, ok := q.entries[candidateID]
	if !ok || cand.Status != StatusWaiting || cand.IsMalformed() || cand.ExpiredAt(now) {
		return ClaimCandidateTaken, nil
	}

	var req *QueueEntry
	if requesterID != "" {
		if r, ok := q.entries[requesterID]; ok {
			switch {
			case r.Status == StatusWaiting:
				if r.ExpiredAt(now) {
					return ClaimRequesterTaken, nil
				}
				req = r
			case r.Status == StatusMatched && !r.UpdatedAt.Before(since):
				return ClaimRequesterTaken, nil
			}
		}
	}

	cand.Status = StatusMatched
	cand.MatchedWith = requesterID
	cand.UpdatedAt = now
	if req != nil {
		req.Status = StatusMatched
		req.MatchedWith = candidateID
		req.UpdatedAt = now
	}
	return ClaimOK, nil
}

// prune drops terminal entries last updated more than the retention
// before now. Callers hold q.mu.
func (q *MemoryQueue) prune(now time.Time) {
	cutoff := now.Add(-q.retention)
	for id, e := range q.entries {
		if e.Status != StatusWaiting && e.UpdatedAt.Before(cutoff) {
			delete(q.entries, id)
		}
	}
}

// put stores an entry as-is. Tests use it to plant malformed entries.
func (q *MemoryQueue) put(entry QueueEntry) {
	q.mu.Lock()
	e := entry
	q.entries[entry.UserID()] = &e
	q.mu.Unlock()
}
