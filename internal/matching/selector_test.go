package matching

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peermatch/matcher/internal/profile"
	"github.com/peermatch/matcher/internal/testfixtures"
)

func newTestSelector(t *testing.T) *Selector {
	t.Helper()
	return NewSelector(newTestScorer(t))
}

func candidateAt(p profile.UserProfile, at time.Time) Candidate {
	return Candidate{Profile: &p, EnqueuedAt: at}
}

// ---------- Threshold tests ----------

func TestQualifies_HardMinimums(t *testing.T) {
	good := Breakdown{Skill: 0.9, Timezone: 1, Availability: 0.5, Communication: 1, SessionHistory: 0.6, Total: 0.8}
	assert.True(t, Qualifies(good))

	lowSkill := good
	lowSkill.Skill = 0.15
	assert.False(t, Qualifies(lowSkill), "skill below minimum must never qualify, whatever the total")

	lowAvailability := good
	lowAvailability.Availability = 0.05
	assert.False(t, Qualifies(lowAvailability))

	lowTotal := good
	lowTotal.Total = 0.39
	assert.False(t, Qualifies(lowTotal))

	atLimits := Breakdown{Skill: MinSkillScore, Availability: MinAvailabilityScore, Total: MinTotalScore}
	assert.True(t, Qualifies(atLimits))
}

func TestRank_DropsCandidateWithoutSharedSkill(t *testing.T) {
	s := newTestSelector(t)
	learner := testfixtures.PythonLearner("learner")

	// Same slot and zone as the learner, so the total clears 0.4 on its
	// own, but the skill score is the 0.1 fallback.
	colleague := testfixtures.PythonTutor("colleague")
	colleague.Skills = []profile.Skill{{Name: "Rust", Level: 4}}

	b := s.scorer.Score(&learner, &colleague, pythonRequest("learner"))
	require.GreaterOrEqual(t, b.Total, MinTotalScore)
	require.Less(t, b.Skill, MinSkillScore)

	ranked := s.Rank(&learner, []Candidate{candidateAt(colleague, testfixtures.ReferenceTime)}, pythonRequest("learner"))
	assert.Empty(t, ranked)
}

// ---------- Selection tests ----------

func TestSelectBestMatch_EmptyPool(t *testing.T) {
	s := newTestSelector(t)
	learner := testfixtures.PythonLearner("learner")

	res, ok := s.SelectBestMatch(&learner, nil, pythonRequest("learner"))
	assert.False(t, ok)
	assert.Nil(t, res)
}

func TestSelectBestMatch_NobodyQualifies(t *testing.T) {
	s := newTestSelector(t)
	learner := testfixtures.PythonLearner("learner")
	stranger := testfixtures.Stranger("stranger")

	_, ok := s.SelectBestMatch(&learner, []Candidate{candidateAt(stranger, testfixtures.ReferenceTime)}, pythonRequest("learner"))
	assert.False(t, ok)
}

func TestSelectBestMatch_PicksHighestTotal(t *testing.T) {
	s := newTestSelector(t)
	learner := testfixtures.PythonLearner("learner")
	tutor := testfixtures.PythonTutor("tutor")
	weaker := testfixtures.PythonTutor("weaker")
	weaker.Communication = &profile.Communication{Style: profile.StyleFormal}

	res, ok := s.SelectBestMatch(&learner, []Candidate{
		candidateAt(weaker, testfixtures.ReferenceTime),
		candidateAt(tutor, testfixtures.ReferenceTime.Add(time.Minute)),
	}, pythonRequest("learner"))

	require.True(t, ok)
	assert.Equal(t, "tutor", res.PartnerID)
	assert.Equal(t, "learner", res.RequesterID)
	assert.Equal(t, res.Breakdown.Total, res.CompatibilityScore)
}

func TestRank_TieBreaksOnWaitThenID(t *testing.T) {
	s := newTestSelector(t)
	learner := testfixtures.PythonLearner("learner")
	t0 := testfixtures.ReferenceTime

	ranked := s.Rank(&learner, []Candidate{
		candidateAt(testfixtures.PythonTutor("c"), t0),
		candidateAt(testfixtures.PythonTutor("b"), t0),
		candidateAt(testfixtures.PythonTutor("a"), t0.Add(time.Second)),
	}, pythonRequest("learner"))

	require.Len(t, ranked, 3)
	ids := []string{ranked[0].Profile.ID, ranked[1].Profile.ID, ranked[2].Profile.ID}
	assert.Equal(t, []string{"b", "c", "a"}, ids)
}

func TestRank_SkipsRequesterAndNilProfiles(t *testing.T) {
	s := newTestSelector(t)
	learner := testfixtures.PythonLearner("learner")

	ranked := s.Rank(&learner, []Candidate{
		candidateAt(learner, testfixtures.ReferenceTime),
		{Profile: nil},
	}, pythonRequest("learner"))
	assert.Empty(t, ranked)
}
