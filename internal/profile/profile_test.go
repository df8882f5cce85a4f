package profile

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------- TimeOfDay tests ----------

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in      string
		want    TimeOfDay
		wantErr bool
	}{
		{"00:00", 0, false},
		{"09:30", 570, false},
		{" 18:05 ", 1085, false},
		{"24:00", 1440, false},
		{"24:01", 0, true},
		{"12:60", 0, true},
		{"-1:00", 0, true},
		{"noon", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeOfDay(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTimeOfDay_JSON(t *testing.T) {
	iv := Interval{Start: MustTimeOfDay("09:00"), End: MustTimeOfDay("17:30")}

	data, err := json.Marshal(iv)
	require.NoError(t, err)
	assert.JSONEq(t, `{"start":"09:00","end":"17:30"}`, string(data))

	var bad Interval
	assert.Error(t, json.Unmarshal([]byte(`{"start":"9am","end":"17:30"}`), &bad))
}

func TestMustTimeOfDay_PanicsOnBadInput(t *testing.T) {
	assert.Panics(t, func() { MustTimeOfDay("25:00") })
}

// ---------- Interval tests ----------

func TestInterval_Overlap(t *testing.T) {
	span := func(a, b string) Interval {
		return Interval{Start: MustTimeOfDay(a), End: MustTimeOfDay(b)}
	}

	tests := []struct {
		name string
		a, b Interval
		want int
	}{
		{"identical", span("10:00", "12:00"), span("10:00", "12:00"), 120},
		{"partial", span("10:00", "12:00"), span("11:00", "13:00"), 60},
		{"contained", span("08:00", "18:00"), span("12:00", "12:30"), 30},
		{"touching", span("10:00", "11:00"), span("11:00", "12:00"), 0},
		{"disjoint", span("10:00", "11:00"), span("14:00", "15:00"), 0},
		{"inverted", span("12:00", "10:00"), span("09:00", "13:00"), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Overlap(tt.b))
			assert.Equal(t, tt.want, tt.b.Overlap(tt.a))
		})
	}
}

func TestAvailability_DayMinutesAndEmpty(t *testing.T) {
	a := Availability{
		time.Monday: {
			{Start: MustTimeOfDay("09:00"), End: MustTimeOfDay("10:00")},
			{Start: MustTimeOfDay("14:00"), End: MustTimeOfDay("14:30")},
			{Start: MustTimeOfDay("16:00"), End: MustTimeOfDay("15:00")},
		},
		time.Tuesday: nil,
	}
	assert.Equal(t, 90, a.DayMinutes(time.Monday))
	assert.Zero(t, a.DayMinutes(time.Sunday))
	assert.False(t, a.IsEmpty())

	assert.True(t, Availability{time.Friday: {}}.IsEmpty())
	assert.True(t, Availability(nil).IsEmpty())
}

// ---------- Profile helper tests ----------

func TestSkillLevels_NormalizesNames(t *testing.T) {
	p := UserProfile{Skills: []Skill{
		{Name: " Python ", Level: 2},
		{Name: "python", Level: 4},
		{Name: "Go", Level: 3},
		{Name: "  ", Level: 5},
	}}

	assert.Equal(t, map[string]int{"python": 4, "go": 3}, p.SkillLevels())
}

func TestSessionsWith_CompletedOnly(t *testing.T) {
	p := UserProfile{PastSessions: []PastSession{
		{PartnerID: "bob", Rating: 5, Completed: true},
		{PartnerID: "bob", Rating: 2, Completed: false},
		{PartnerID: "carol", Rating: 4, Completed: true},
	}}

	got := p.SessionsWith("bob")
	require.Len(t, got, 1)
	assert.Equal(t, 5, got[0].Rating)
	assert.Empty(t, p.SessionsWith("dave"))
}

func TestCommunicationStyle_IsValid(t *testing.T) {
	assert.True(t, StyleFormal.IsValid())
	assert.True(t, StyleCasual.IsValid())
	assert.True(t, StyleBalanced.IsValid())
	assert.False(t, CommunicationStyle("shouty").IsValid())
	assert.False(t, CommunicationStyle("").IsValid())
}
