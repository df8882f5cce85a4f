package matching

import (
	"context"
	"errors"
	"time"

	"github.com/peermatch/matcher/internal/logger"
	"github.com/peermatch/matcher/internal/metrics"
)

// Lifecycle owns the status transitions of queue entries:
//
//	waiting -> matched    (claimed by a match)
//	waiting -> expired    (past ExpiresAt, seen by a sweep or a pool read)
//	waiting -> cancelled  (explicit removal)
//
// All other statuses are terminal.
type Lifecycle struct {
	store     QueueStore
	now       func() time.Time
	log       *logger.Logger
	onExpired func(QueueEntry)
}

// LifecycleOption customizes a Lifecycle.
type LifecycleOption func(*Lifecycle)

// WithLifecycleClock sets the clock used for admission and expiry.
func WithLifecycleClock(now func() time.Time) LifecycleOption {
	return func(l *Lifecycle) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLifecycleLogger sets the logger.
func WithLifecycleLogger(log *logger.Logger) LifecycleOption {
	return func(l *Lifecycle) {
		if log != nil {
			l.log = log
		}
	}
}

// OnExpired registers a hook called once for every entry this process
// moves to expired.
func OnExpired(fn func(QueueEntry)) LifecycleOption {
	return func(l *Lifecycle) { l.onExpired = fn }
}

func NewLifecycle(store QueueStore, opts ...LifecycleOption) *Lifecycle {
	l := &Lifecycle{store: store, now: time.Now, log: logger.Nop()}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.Component("queue")
	return l
}

// Admit validates req and adds a waiting entry expiring after the urgency
// TTL.
func (l *Lifecycle) Admit(ctx context.Context, req Request) (*QueueEntry, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := l.now()
	entry := QueueEntry{
		Request:    req,
		EnqueuedAt: now,
		ExpiresAt:  now.Add(req.Urgency.TTL()),
		Status:     StatusWaiting,
		UpdatedAt:  now,
	}
	if err := l.store.Admit(ctx, entry); err != nil {
		return nil, err
	}

	metrics.QueueTransitions.WithLabelValues(string(StatusWaiting)).Inc()
	l.log.Debug("entry admitted",
		"user_id", req.UserID,
		"session_type", req.SessionType,
		"urgency", req.Urgency,
		"expires_at", entry.ExpiresAt)
	return &entry, nil
}

// CandidatePool returns waiting, unexpired entries whose session type is
// compatible with req, excluding the requester, oldest first. Expired
// entries met on the way are moved to expired.
func (l *Lifecycle) CandidatePool(ctx context.Context, req Request) ([]QueueEntry, error) {
	waiting, err := l.store.Waiting(ctx)
	if err != nil {
		return nil, err
	}

	now := l.now()
	pool := make([]QueueEntry, 0, len(waiting))
	for _, e := range waiting {
		if e.UserID() == req.UserID {
			continue
		}
		if e.IsMalformed() {
			l.log.Warn("skipping malformed queue entry", "user_id", e.UserID())
			continue
		}
		if e.ExpiredAt(now) {
			l.expire(ctx, e, now)
			continue
		}
		if !req.SessionType.CompatibleWith(e.Request.SessionType) {
			continue
		}
		pool = append(pool, e)
	}
	return pool, nil
}

// SweepExpired moves every waiting entry with ExpiresAt before now to
// expired and returns how many this call moved. Concurrent sweeps never
// count the same entry twice.
func (l *Lifecycle) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	waiting, err := l.store.Waiting(ctx)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, e := range waiting {
		if e.IsMalformed() {
			l.log.Warn("sweep skipped malformed queue entry", "user_id", e.UserID())
			continue
		}
		if !e.ExpiresAt.Before(now) {
			continue
		}
		if l.expire(ctx, e, now) {
			expired++
		}
	}
	metrics.MatchQueueSize.Set(float64(len(waiting) - expired))
	return expired, nil
}

func (l *Lifecycle) expire(ctx context.Context, e QueueEntry, now time.Time) bool {
	ok, err := l.store.Transition(ctx, e.UserID(), StatusWaiting, StatusExpired, now)
	if err != nil {
		l.log.Error("expire entry failed", "user_id", e.UserID(), "error", err)
		return false
	}
	if !ok {
		return false
	}

	metrics.QueueTransitions.WithLabelValues(string(StatusExpired)).Inc()
	l.log.Info("entry expired",
		"user_id", e.UserID(),
		"waited", now.Sub(e.EnqueuedAt).Round(time.Second).String())
	if l.onExpired != nil {
		e.Status = StatusExpired
		e.UpdatedAt = now
		l.onExpired(e)
	}
	return true
}

// Remove cancels the user's waiting entry. It is a no-op for unknown users
// and terminal entries.
func (l *Lifecycle) Remove(ctx context.Context, userID string) error {
	ok, err := l.store.Transition(ctx, userID, StatusWaiting, StatusCancelled, l.now())
	if err != nil {
		return err
	}
	if ok {
		metrics.QueueTransitions.WithLabelValues(string(StatusCancelled)).Inc()
		l.log.Info("entry cancelled", "user_id", userID)
	}
	return nil
}

// TryClaim atomically moves the user's waiting, unexpired entry to
// matched. It returns false if the entry was already claimed, expired or
// cancelled.
func (l *Lifecycle) TryClaim(ctx context.Context, userID string) (bool, error) {
	outcome, err := l.ClaimPair(ctx, userID, "", time.Time{})
	if err != nil {
		return false, err
	}
	return outcome == ClaimOK, nil
}

// ClaimPair claims candidateID for requesterID in one atomic step. since
// is when the caller's attempt began: a requester paired at or after it
// yields ClaimRequesterTaken, while older terminal entries are ignored.
func (l *Lifecycle) ClaimPair(ctx context.Context, candidateID, requesterID string, since time.Time) (ClaimOutcome, error) {
	outcome, err := l.store.ClaimPair(ctx, candidateID, requesterID, l.now(), since)
	if err != nil {
		return outcome, err
	}
	if outcome == ClaimOK {
		metrics.QueueTransitions.WithLabelValues(string(StatusMatched)).Inc()
	}
	return outcome, nil
}

// Entry returns the user's current entry, or nil if there is none.
func (l *Lifecycle) Entry(ctx context.Context, userID string) (*QueueEntry, error) {
	e, err := l.store.Get(ctx, userID)
	if errors.Is(err, ErrEntryNotFound) {
		return nil, nil
	}
	return e, err
}

// Waiting lists every waiting entry oldest first.
func (l *Lifecycle) Waiting(ctx context.Context) ([]QueueEntry, error) {
	return l.store.Waiting(ctx)
}
