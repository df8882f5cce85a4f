package matching

import (
	"encoding/json"
	"fmt"
	"time"
)

// Bus is the pub/sub transport the service listens and publishes on.
// *messaging.NATSClient satisfies it.
type Bus interface {
	SubscribeMatchRequest(handler func(data []byte)) error
	SubscribeMatchCancel(handler func(data []byte)) error
	PublishMatchFound(userID string, data []byte) error
	PublishMatchExpired(userID string, data []byte) error
}

// MatchFound is published on match.found.<user_id> to each side of a match.
type MatchFound struct {
	MatchID            string      `json:"match_id"`
	PartnerID          string      `json:"partner_id"`
	SessionType        SessionType `json:"session_type"`
	CompatibilityScore float64     `json:"compatibility_score"`
	Breakdown          Breakdown   `json:"score_breakdown"`
}

// MatchExpired is published on match.expired.<user_id> when a waiting entry
// runs out of time unmatched.
type MatchExpired struct {
	UserID     string    `json:"user_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	ExpiredAt  time.Time `json:"expired_at"`
}

// CancelRequest is the payload of match.cancel.
type CancelRequest struct {
	UserID string `json:"user_id"`
}

// publishMatchFound notifies both users. Each side learns the other as its
// partner; the score is symmetric from the notification's point of view.
func publishMatchFound(bus Bus, res *MatchResult, sessionType SessionType) error {
	sides := []struct{ user, partner string }{
		{res.RequesterID, res.PartnerID},
		{res.PartnerID, res.RequesterID},
	}
	for _, side := range sides {
		data, err := json.Marshal(MatchFound{
			MatchID:            res.MatchID,
			PartnerID:          side.partner,
			SessionType:        sessionType,
			CompatibilityScore: res.CompatibilityScore,
			Breakdown:          res.Breakdown,
		})
		if err != nil {
			return fmt.Errorf("matching: marshal match.found for %s: %w", side.user, err)
		}
		if err := bus.PublishMatchFound(side.user, data); err != nil {
			return fmt.Errorf("matching: publish match.found for %s: %w", side.user, err)
		}
	}
	return nil
}

func publishMatchExpired(bus Bus, e QueueEntry) error {
	data, err := json.Marshal(MatchExpired{
		UserID:     e.UserID(),
		EnqueuedAt: e.EnqueuedAt,
		ExpiredAt:  e.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("matching: marshal match.expired for %s: %w", e.UserID(), err)
	}
	if err := bus.PublishMatchExpired(e.UserID(), data); err != nil {
		return fmt.Errorf("matching: publish match.expired for %s: %w", e.UserID(), err)
	}
	return nil
}
