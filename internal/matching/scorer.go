package matching

import (
	"fmt"
	"math"
	"time"

	"github.com/peermatch/matcher/internal/profile"
)

// Fallback scores used when data is sparse or missing.
const (
	// NeutralScore is returned when a factor cannot be judged at all.
	NeutralScore = 0.5
	// MinimalScore is returned when data exists but shows no fit. It is not
	// zero so one sparse factor cannot eliminate an otherwise good pair.
	MinimalScore = 0.1
)

const (
	preferredSkillWeight = 2.0
	otherSkillWeight     = 1.0
	breadthPerMatch      = 0.1
	breadthBonusCap      = 0.2

	ratingScale          = 5.0
	recurringBonus       = 0.2
	recurringMinRating   = 4.0
	recurringMinSessions = 2
)

// Weights are the per-factor multipliers of the total score.
type Weights struct {
	Skill          float64
	Timezone       float64
	Availability   float64
	Communication  float64
	SessionHistory float64
}

// DefaultWeights are the production weights.
var DefaultWeights = Weights{
	Skill:          0.30,
	Timezone:       0.15,
	Availability:   0.15,
	Communication:  0.15,
	SessionHistory: 0.25,
}

const weightTolerance = 1e-9

// Sum returns the sum of all weights.
func (w Weights) Sum() float64 {
	return w.Skill + w.Timezone + w.Availability + w.Communication + w.SessionHistory
}

// Validate checks that every weight is non-negative and the weights sum to 1.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"skill":           w.Skill,
		"timezone":        w.Timezone,
		"availability":    w.Availability,
		"communication":   w.Communication,
		"session_history": w.SessionHistory,
	} {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("matching: weight %s is %v", name, v)
		}
	}
	if sum := w.Sum(); math.Abs(sum-1.0) > weightTolerance {
		return fmt.Errorf("matching: weights sum to %v, want 1.0", sum)
	}
	return nil
}

// Breakdown is a compatibility score with its five sub-scores.
type Breakdown struct {
	Skill          float64 `json:"skill"`
	Timezone       float64 `json:"timezone"`
	Availability   float64 `json:"availability"`
	Communication  float64 `json:"communication"`
	SessionHistory float64 `json:"session_history"`
	Total          float64 `json:"total"`
}

// Scorer computes compatibility between a requester and one candidate.
// It holds no mutable state and is safe for concurrent use.
type Scorer struct {
	weights Weights
	now     func() time.Time
}

// ScorerOption customizes a Scorer.
type ScorerOption func(*Scorer)

// WithWeights overrides DefaultWeights.
func WithWeights(w Weights) ScorerOption {
	return func(s *Scorer) { s.weights = w }
}

// WithClock sets the clock used for the timezone comparison.
func WithClock(now func() time.Time) ScorerOption {
	return func(s *Scorer) {
		if now != nil {
			s.now = now
		}
	}
}

// NewScorer builds a Scorer and validates its weights.
func NewScorer(opts ...ScorerOption) (*Scorer, error) {
	s := &Scorer{weights: DefaultWeights, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.weights.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Score returns the compatibility breakdown of candidate for requester's
// request. It never fails: missing data falls back to named constants.
func (s *Scorer) Score(requester, candidate *profile.UserProfile, req Request) Breakdown {
	b := Breakdown{
		Skill:          skillScore(requester, candidate, req),
		Timezone:       timezoneScore(requester.Timezone, candidate.Timezone, s.now()),
		Availability:   availabilityScore(requester.Availability, candidate.Availability),
		Communication:  communicationScore(requester.Communication, candidate.Communication),
		SessionHistory: historyScore(requester, candidate),
	}
	total := b.Skill*s.weights.Skill +
		b.Timezone*s.weights.Timezone +
		b.Availability*s.weights.Availability +
		b.Communication*s.weights.Communication +
		b.SessionHistory*s.weights.SessionHistory
	b.Total = round2(clamp(total, 0, 1))
	return b
}

func skillScore(requester, candidate *profile.UserProfile, req Request) float64 {
	mine := requester.SkillLevels()
	theirs := candidate.SkillLevels()
	preferred := req.preferredSet()

	var weighted, weightSum float64
	matches := 0
	for name, myLevel := range mine {
		theirLevel, ok := theirs[name]
		if !ok {
			continue
		}
		w := otherSkillWeight
		if _, ok := preferred[name]; ok {
			w = preferredSkillWeight
		}
		weighted += Complementarity(req.SessionType, myLevel, theirLevel) * w
		weightSum += w
		matches++
	}
	if matches == 0 {
		return MinimalScore
	}

	breadth := math.Min(float64(matches)*breadthPerMatch, breadthBonusCap)
	return math.Min(weighted/weightSum+breadth, 1.0)
}

// Complementarity scores how well two proficiency levels fit the direction
// of the session type.
func Complementarity(t SessionType, requesterLevel, candidateLevel int) float64 {
	switch t {
	case SessionLearning:
		// The candidate should know more than the requester.
		switch {
		case candidateLevel > requesterLevel:
			return directionalFit(candidateLevel - requesterLevel)
		case candidateLevel == requesterLevel:
			return 0.6
		default:
			return 0.3
		}
	case SessionTeaching:
		switch {
		case requesterLevel > candidateLevel:
			return directionalFit(requesterLevel - candidateLevel)
		case requesterLevel == candidateLevel:
			return 0.4
		default:
			return 0.2
		}
	case SessionCollaboration:
		switch d := absInt(requesterLevel - candidateLevel); {
		case d == 0:
			return 1.0
		case d == 1:
			return 0.9
		case d == 2:
			return 0.7
		default:
			return 0.4
		}
	default:
		return MinimalScore
	}
}

// directionalFit maps a positive level gap in the right direction.
func directionalFit(d int) float64 {
	switch {
	case d == 1:
		return 1.0
	case d == 2:
		return 0.9
	case d == 3:
		return 0.7
	default:
		return 0.5
	}
}

func timezoneScore(a, b string, now time.Time) float64 {
	ha, okA := localHour(a, now)
	hb, okB := localHour(b, now)
	if !okA || !okB {
		return NeutralScore
	}

	diff := math.Abs(ha - hb)
	diff = math.Min(diff, 24-diff)
	switch {
	case diff == 0:
		return 1.0
	case diff <= 2:
		return 0.9
	case diff <= 4:
		return 0.7
	case diff <= 6:
		return 0.5
	case diff <= 8:
		return 0.3
	default:
		return MinimalScore
	}
}

// localHour is the fractional wall-clock hour in zone at now.
func localHour(zone string, now time.Time) (float64, bool) {
	if zone == "" {
		return 0, false
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return 0, false
	}
	t := now.In(loc)
	return float64(t.Hour()) + float64(t.Minute())/60, true
}

var weekdays = [...]time.Weekday{
	time.Sunday, time.Monday, time.Tuesday, time.Wednesday,
	time.Thursday, time.Friday, time.Saturday,
}

func availabilityScore(a, b profile.Availability) float64 {
	if a.IsEmpty() || b.IsEmpty() {
		return NeutralScore
	}

	overlap, possible := 0, 0
	for _, day := range weekdays {
		for _, x := range a[day] {
			for _, y := range b[day] {
				overlap += x.Overlap(y)
			}
		}
		possible += max(a.DayMinutes(day), b.DayMinutes(day))
	}
	if possible == 0 {
		return MinimalScore
	}
	// Partial schedules are common, so any overlap is boosted.
	return math.Min(float64(overlap)/float64(possible)*2, 1.0)
}

func communicationScore(a, b *profile.Communication) float64 {
	if a == nil || b == nil {
		return NeutralScore
	}

	var factors []float64
	if a.Style != "" && b.Style != "" {
		switch {
		case a.Style == b.Style:
			factors = append(factors, 1.0)
		case a.Style == profile.StyleBalanced || b.Style == profile.StyleBalanced:
			factors = append(factors, 0.8)
		default:
			factors = append(factors, 0.4)
		}
	}
	if len(a.Languages) > 0 && len(b.Languages) > 0 {
		if sharesLanguage(a.Languages, b.Languages) {
			factors = append(factors, 1.0)
		} else {
			factors = append(factors, 0.2)
		}
	}
	if a.MaxSessionDuration > 0 && b.MaxSessionDuration > 0 {
		switch d := absInt(a.MaxSessionDuration - b.MaxSessionDuration); {
		case d <= 15:
			factors = append(factors, 1.0)
		case d <= 30:
			factors = append(factors, 0.8)
		case d <= 60:
			factors = append(factors, 0.6)
		default:
			factors = append(factors, 0.3)
		}
	}
	if len(factors) == 0 {
		return NeutralScore
	}
	return mean(factors)
}

func sharesLanguage(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, l := range a {
		set[profile.NormalizeSkill(l)] = struct{}{}
	}
	for _, l := range b {
		if _, ok := set[profile.NormalizeSkill(l)]; ok {
			return true
		}
	}
	return false
}

// historyScore rates the pair's shared sessions, merging the ratings both
// sides recorded. Each side logs the same sessions, so the session count is
// the larger of the two logs.
func historyScore(requester, candidate *profile.UserProfile) float64 {
	mine := requester.SessionsWith(candidate.ID)
	theirs := candidate.SessionsWith(requester.ID)

	var ratings []float64
	for _, s := range append(mine, theirs...) {
		if s.Rating >= 1 && s.Rating <= 5 {
			ratings = append(ratings, float64(s.Rating))
		}
	}
	if len(ratings) > 0 {
		avg := mean(ratings)
		score := avg / ratingScale
		if max(len(mine), len(theirs)) >= recurringMinSessions && avg >= recurringMinRating {
			score += recurringBonus
		}
		return clamp(score, MinimalScore, 1.0)
	}
	return clamp(estimatedHistory(requester.Stats, candidate.Stats), MinimalScore, 1.0)
}

// estimatedHistory blends lifetime stats when the pair has never met.
func estimatedHistory(a, b *profile.Stats) float64 {
	var factors []float64

	var ratings []float64
	for _, st := range []*profile.Stats{a, b} {
		if st != nil && st.AverageRating > 0 {
			ratings = append(ratings, math.Min(st.AverageRating, ratingScale))
		}
	}
	if len(ratings) > 0 {
		factors = append(factors, mean(ratings)/ratingScale)
	}

	if a != nil && b != nil {
		if r, ok := parity(a.TotalSessions, b.TotalSessions); ok {
			factors = append(factors, r)
		}
		if r, ok := parity(a.CurrentStreak, b.CurrentStreak); ok {
			factors = append(factors, r)
		}
	}
	if len(factors) == 0 {
		return NeutralScore
	}
	return mean(factors)
}

// parity is min/max of two non-negative counts.
func parity(x, y int) (float64, bool) {
	x, y = max(x, 0), max(y, 0)
	hi := max(x, y)
	if hi == 0 {
		return 0, false
	}
	return float64(min(x, y)) / float64(hi), true
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
