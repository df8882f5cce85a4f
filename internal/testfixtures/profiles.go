package testfixtures

import (
	"time"

	"github.com/peermatch/matcher/internal/profile"
)

// Weekly builds an availability with a single window on one day.
func Weekly(day time.Weekday, start, end string) profile.Availability {
	return profile.Availability{
		day: {{Start: profile.MustTimeOfDay(start), End: profile.MustTimeOfDay(end)}},
	}
}

// PythonLearner is a beginner who wants to learn Python: level 2, two
// hours on Monday mornings, casual English speaker with a modest record.
func PythonLearner(id string) profile.UserProfile {
	return profile.UserProfile{
		ID:           id,
		Timezone:     "Europe/Berlin",
		Skills:       []profile.Skill{{Name: "Python", Level: 2}},
		Availability: Weekly(time.Monday, "10:00", "12:00"),
		Communication: &profile.Communication{
			Style: profile.StyleCasual,
		},
		Stats: &profile.Stats{AverageRating: 3.0, TotalSessions: 10, CurrentStreak: 2},
	}
}

// PythonTutor is an experienced Python user in the same timezone and slot
// as PythonLearner, rated 4.5 over twenty sessions.
func PythonTutor(id string) profile.UserProfile {
	return profile.UserProfile{
		ID:           id,
		Timezone:     "Europe/Berlin",
		Skills:       []profile.Skill{{Name: "Python", Level: 4}},
		Availability: Weekly(time.Monday, "10:00", "12:00"),
		Communication: &profile.Communication{
			Style: profile.StyleCasual,
		},
		Stats: &profile.Stats{AverageRating: 4.5, TotalSessions: 20, CurrentStreak: 4},
	}
}

// Stranger shares nothing with the Python fixtures.
func Stranger(id string) profile.UserProfile {
	return profile.UserProfile{
		ID:           id,
		Timezone:     "Asia/Tokyo",
		Skills:       []profile.Skill{{Name: "Watercolor", Level: 3}},
		Availability: Weekly(time.Saturday, "20:00", "21:00"),
		Communication: &profile.Communication{
			Style:     profile.StyleFormal,
			Languages: []string{"ja"},
		},
	}
}
