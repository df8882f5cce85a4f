// Package profile defines the read-only user profile snapshot consumed by the
// matcher, plus the stores that supply it.
package profile

import (
	"fmt"
	"strings"
	"time"
)

// CommunicationStyle is a user's preferred conversational register.
type CommunicationStyle string

const (
	StyleFormal   CommunicationStyle = "formal"
	StyleCasual   CommunicationStyle = "casual"
	StyleBalanced CommunicationStyle = "balanced"
)

// IsValid reports whether s is one of the known styles.
func (s CommunicationStyle) IsValid() bool {
	switch s {
	case StyleFormal, StyleCasual, StyleBalanced:
		return true
	default:
		return false
	}
}

// Skill is a named skill with a self-assessed proficiency level in 1..5.
type Skill struct {
	Name  string `json:"name"`
	Level int    `json:"level"`
}

// TimeOfDay is minutes since midnight. It encodes as "HH:MM".
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM". "24:00" is accepted as end of day.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var h, m int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("profile: invalid time of day %q: %w", s, err)
	}
	if h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("profile: time of day %q out of range", s)
	}
	return TimeOfDay(h*60 + m), nil
}

// MustTimeOfDay is ParseTimeOfDay for literals; it panics on bad input.
func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Interval is a half-open [Start, End) window within one day.
type Interval struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

// Minutes returns the interval length, or 0 for an inverted interval.
func (i Interval) Minutes() int {
	if i.End <= i.Start {
		return 0
	}
	return int(i.End - i.Start)
}

// Overlap returns the number of minutes shared by i and o.
func (i Interval) Overlap(o Interval) int {
	start := max(i.Start, o.Start)
	end := min(i.End, o.End)
	if end <= start || i.Minutes() == 0 || o.Minutes() == 0 {
		return 0
	}
	return int(end - start)
}

// Availability maps a weekday to the intervals the user is free that day.
type Availability map[time.Weekday][]Interval

// DayMinutes is the total scheduled minutes on the given day.
func (a Availability) DayMinutes(day time.Weekday) int {
	total := 0
	for _, iv := range a[day] {
		total += iv.Minutes()
	}
	return total
}

// IsEmpty reports whether no interval is scheduled on any day.
func (a Availability) IsEmpty() bool {
	for _, ivs := range a {
		if len(ivs) > 0 {
			return false
		}
	}
	return true
}

// Communication holds conversational preferences.
type Communication struct {
	Style              CommunicationStyle `json:"style,omitempty"`
	Languages          []string           `json:"languages,omitempty"`
	MaxSessionDuration int                `json:"max_session_duration,omitempty"` // minutes
}

// Stats are lifetime session statistics.
type Stats struct {
	AverageRating float64 `json:"average_rating"` // 1..5, 0 when unrated
	TotalSessions int     `json:"total_sessions"`
	CurrentStreak int     `json:"current_streak"`
}

// PastSession is one earlier session with a partner, as seen from the
// profile owner's side.
type PastSession struct {
	PartnerID string    `json:"partner_id"`
	Rating    int       `json:"rating"` // 1..5, 0 when not rated
	Completed bool      `json:"completed"`
	At        time.Time `json:"at"`
}

// UserProfile is the normalized snapshot the scorer works on. Availability,
// Communication, Stats and PastSessions are optional.
type UserProfile struct {
	ID            string         `json:"id"`
	Timezone      string         `json:"timezone"`
	Skills        []Skill        `json:"skills"`
	Availability  Availability   `json:"availability,omitempty"`
	Communication *Communication `json:"communication,omitempty"`
	Stats         *Stats         `json:"stats,omitempty"`
	PastSessions  []PastSession  `json:"past_sessions,omitempty"`
}

// SessionsWith returns the completed sessions the owner had with partnerID.
func (p *UserProfile) SessionsWith(partnerID string) []PastSession {
	var out []PastSession
	for _, s := range p.PastSessions {
		if s.Completed && s.PartnerID == partnerID {
			out = append(out, s)
		}
	}
	return out
}

// SkillLevels returns skill levels keyed by normalized name. Skills with an
// empty name are dropped; a duplicate name keeps the higher level.
func (p *UserProfile) SkillLevels() map[string]int {
	levels := make(map[string]int, len(p.Skills))
	for _, s := range p.Skills {
		name := NormalizeSkill(s.Name)
		if name == "" {
			continue
		}
		if cur, ok := levels[name]; !ok || s.Level > cur {
			levels[name] = s.Level
		}
	}
	return levels
}

// NormalizeSkill folds a skill name for comparison.
func NormalizeSkill(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
