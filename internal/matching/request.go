package matching

import (
	"fmt"
	"strings"
	"time"

	"github.com/peermatch/matcher/internal/profile"
)

// SessionType is the pedagogical direction a requester wants.
type SessionType string

const (
	SessionLearning      SessionType = "learning"
	SessionTeaching      SessionType = "teaching"
	SessionCollaboration SessionType = "collaboration"
)

// IsValid reports whether t is a known session type.
func (t SessionType) IsValid() bool {
	switch t {
	case SessionLearning, SessionTeaching, SessionCollaboration:
		return true
	default:
		return false
	}
}

// CompatibleWith reports whether a request of type t may be paired with a
// waiting request of type o:
//
//	learning      <-> teaching, collaboration
//	teaching      <-> learning, collaboration
//	collaboration <-> collaboration, learning, teaching
func (t SessionType) CompatibleWith(o SessionType) bool {
	switch t {
	case SessionLearning:
		return o == SessionTeaching || o == SessionCollaboration
	case SessionTeaching:
		return o == SessionLearning || o == SessionCollaboration
	case SessionCollaboration:
		return o.IsValid()
	default:
		return false
	}
}

// Urgency controls how long a request may wait in the queue.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// IsValid reports whether u is a known urgency.
func (u Urgency) IsValid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh:
		return true
	default:
		return false
	}
}

// TTL is how long a request of this urgency stays in the queue.
func (u Urgency) TTL() time.Duration {
	switch u {
	case UrgencyHigh:
		return 15 * time.Minute
	case UrgencyMedium:
		return 30 * time.Minute
	case UrgencyLow:
		return 60 * time.Minute
	default:
		return 0
	}
}

const (
	MinSessionDuration = 15  // minutes
	MaxSessionDuration = 180 // minutes
)

// Request is a user's submitted matching request. It is treated as
// immutable once accepted.
type Request struct {
	UserID          string      `json:"user_id"`
	PreferredSkills []string    `json:"preferred_skills"`
	SessionType     SessionType `json:"session_type"`
	MaxDuration     int         `json:"max_duration"` // minutes
	Urgency         Urgency     `json:"urgency"`
}

// Validate rejects malformed requests before any scoring happens.
func (r Request) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return &InputError{Field: "user_id", Reason: "is required"}
	}
	if len(r.preferredSet()) == 0 {
		return &InputError{Field: "preferred_skills", Reason: "must contain at least one skill"}
	}
	if !r.SessionType.IsValid() {
		return &InputError{Field: "session_type", Reason: fmt.Sprintf("unknown value %q", r.SessionType)}
	}
	if r.MaxDuration < MinSessionDuration || r.MaxDuration > MaxSessionDuration {
		return &InputError{
			Field:  "max_duration",
			Reason: fmt.Sprintf("%d minutes is outside %d-%d", r.MaxDuration, MinSessionDuration, MaxSessionDuration),
		}
	}
	if !r.Urgency.IsValid() {
		return &InputError{Field: "urgency", Reason: fmt.Sprintf("unknown value %q", r.Urgency)}
	}
	return nil
}

// preferredSet returns the normalized preferred skill names.
func (r Request) preferredSet() map[string]struct{} {
	set := make(map[string]struct{}, len(r.PreferredSkills))
	for _, s := range r.PreferredSkills {
		if name := profile.NormalizeSkill(s); name != "" {
			set[name] = struct{}{}
		}
	}
	return set
}
