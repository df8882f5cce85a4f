package matching

import (
	"sort"
	"time"

	"github.com/peermatch/matcher/internal/profile"
)

// Hard minimums. A candidate failing any one of them is never matchable,
// whatever its total.
const (
	MinTotalScore        = 0.4
	MinSkillScore        = 0.2
	MinAvailabilityScore = 0.1
)

// Candidate is a waiting user eligible to be scored.
type Candidate struct {
	Profile    *profile.UserProfile
	EnqueuedAt time.Time
}

// ScoredCandidate is a candidate that passed the hard minimums.
type ScoredCandidate struct {
	Candidate
	Breakdown Breakdown
}

// MatchResult is a selected partner for a requester.
type MatchResult struct {
	MatchID            string    `json:"match_id,omitempty"`
	RequesterID        string    `json:"requester_id"`
	PartnerID          string    `json:"partner_id"`
	CompatibilityScore float64   `json:"compatibility_score"`
	Breakdown          Breakdown `json:"score_breakdown"`
	LatencyMs          int64     `json:"latency_ms"`
}

// Qualifies reports whether a breakdown meets every hard minimum.
func Qualifies(b Breakdown) bool {
	return b.Total >= MinTotalScore &&
		b.Skill >= MinSkillScore &&
		b.Availability >= MinAvailabilityScore
}

// Selector ranks candidates with a Scorer. It is stateless.
type Selector struct {
	scorer *Scorer
}

func NewSelector(scorer *Scorer) *Selector {
	return &Selector{scorer: scorer}
}

// Rank scores every candidate, drops those below the hard minimums and
// returns the rest best first. Equal totals go to the candidate that has
// waited longest, then to the lower user id.
func (s *Selector) Rank(requester *profile.UserProfile, candidates []Candidate, req Request) []ScoredCandidate {
	ranked := make([]ScoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Profile == nil || c.Profile.ID == requester.ID {
			continue
		}
		b := s.scorer.Score(requester, c.Profile, req)
		if !Qualifies(b) {
			continue
		}
		ranked = append(ranked, ScoredCandidate{Candidate: c, Breakdown: b})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Breakdown.Total != b.Breakdown.Total {
			return a.Breakdown.Total > b.Breakdown.Total
		}
		if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
			return a.EnqueuedAt.Before(b.EnqueuedAt)
		}
		return a.Profile.ID < b.Profile.ID
	})
	return ranked
}

// SelectBestMatch returns the best qualifying candidate, or false when the
// list is empty or nobody qualifies.
func (s *Selector) SelectBestMatch(requester *profile.UserProfile, candidates []Candidate, req Request) (*MatchResult, bool) {
	ranked := s.Rank(requester, candidates, req)
	if len(ranked) == 0 {
		return nil, false
	}
	return newMatchResult(requester.ID, ranked[0]), true
}

func newMatchResult(requesterID string, c ScoredCandidate) *MatchResult {
	return &MatchResult{
		RequesterID:        requesterID,
		PartnerID:          c.Profile.ID,
		CompatibilityScore: c.Breakdown.Total,
		Breakdown:          c.Breakdown,
	}
}
