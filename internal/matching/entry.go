package matching

import (
	"context"
	"time"
)

// Status is the lifecycle state of a queue entry.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusMatched   Status = "matched"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusWaiting, StatusMatched, StatusExpired, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsFinal reports whether s is terminal. Only waiting entries can move.
func (s Status) IsFinal() bool {
	switch s {
	case StatusMatched, StatusExpired, StatusCancelled:
		return true
	default:
		return false
	}
}

// QueueEntry is a request waiting to be matched.
type QueueEntry struct {
	Request     Request   `json:"request"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Status      Status    `json:"status"`
	MatchedWith string    `json:"matched_with,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// UserID is the id of the user who owns the entry.
func (e QueueEntry) UserID() string { return e.Request.UserID }

// IsMalformed reports whether the entry lacks the data needed to judge
// expiry.
func (e QueueEntry) IsMalformed() bool {
	return e.ExpiresAt.IsZero() || e.Request.UserID == ""
}

// ExpiredAt reports whether a waiting entry is past its deadline at now.
func (e QueueEntry) ExpiredAt(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// ClaimOutcome is the result of an atomic pair claim.
type ClaimOutcome int

const (
	// ClaimOK means both entries moved to matched.
	ClaimOK ClaimOutcome = iota
	// ClaimCandidateTaken means the candidate was no longer claimable.
	ClaimCandidateTaken
	// ClaimRequesterTaken means the requester was paired by another attempt
	// since this one started, or their waiting entry has lapsed.
	ClaimRequesterTaken
)

func (o ClaimOutcome) String() string {
	switch o {
	case ClaimOK:
		return "ok"
	case ClaimCandidateTaken:
		return "candidate_taken"
	case ClaimRequesterTaken:
		return "requester_taken"
	default:
		return "unknown"
	}
}

// QueueStore is the shared backing store of the waiting pool. Every
// state change is a single atomic compare-and-swap so that several matcher
// instances can share one store.
type QueueStore interface {
	// Admit inserts a waiting entry. It returns ErrAlreadyQueued if the user
	// already has a waiting entry that has not lapsed by the new entry's
	// EnqueuedAt; terminal and lapsed entries are replaced.
	Admit(ctx context.Context, entry QueueEntry) error

	// Get returns the entry for userID or ErrEntryNotFound.
	Get(ctx context.Context, userID string) (*QueueEntry, error)

	// Waiting returns every waiting entry ordered by EnqueuedAt.
	Waiting(ctx context.Context) ([]QueueEntry, error)

	// Transition moves userID from one status to another if, and only if,
	// its current status is from. It reports whether the move happened.
	Transition(ctx context.Context, userID string, from, to Status, at time.Time) (bool, error)

	// ClaimPair atomically marks candidateID matched with requesterID. The
	// candidate must be waiting and unexpired at now. A waiting requester
	// entry is marked matched in the same step and must be unexpired at now.
	// A requester entry matched at or after since aborts the claim. Other
	// terminal requester entries count as no entry and are left untouched.
	// An empty requesterID claims the candidate alone.
	ClaimPair(ctx context.Context, candidateID, requesterID string, now, since time.Time) (ClaimOutcome, error)
}
