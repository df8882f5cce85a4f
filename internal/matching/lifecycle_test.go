package matching

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peermatch/matcher/internal/testfixtures"
)

type storeFactory func(t *testing.T) QueueStore

// queueStores lists every QueueStore implementation. Lifecycle tests run
// against each of them.
func queueStores() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) QueueStore { return NewMemoryQueue() },
		"redis": func(t *testing.T) QueueStore {
			q, _ := setupRedisQueue(t)
			return q
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, store QueueStore)) {
	for name, factory := range queueStores() {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func newTestLifecycle(store QueueStore, opts ...LifecycleOption) (*Lifecycle, *testfixtures.Clock) {
	clock := testfixtures.NewClock(time.Time{})
	opts = append([]LifecycleOption{WithLifecycleClock(clock.NowFunc())}, opts...)
	return NewLifecycle(store, opts...), clock
}

func queuedRequest(userID string, st SessionType, u Urgency) Request {
	return Request{
		UserID:          userID,
		PreferredSkills: []string{"python"},
		SessionType:     st,
		MaxDuration:     60,
		Urgency:         u,
	}
}

func poolIDs(pool []QueueEntry) []string {
	ids := make([]string, len(pool))
	for i, e := range pool {
		ids[i] = e.UserID()
	}
	return ids
}

// plantMalformed stores a waiting entry with no expiry.
func plantMalformed(t *testing.T, store QueueStore, userID string, at time.Time) {
	t.Helper()
	switch q := store.(type) {
	case *MemoryQueue:
		q.put(QueueEntry{
			Request:    queuedRequest(userID, SessionCollaboration, UrgencyLow),
			EnqueuedAt: at,
			Status:     StatusWaiting,
		})
	case *RedisQueue:
		ctx := context.Background()
		require.NoError(t, q.rdb.HSet(ctx, entryKey(userID),
			"request", `{"user_id":"`+userID+`","session_type":"collaboration"}`,
			"enqueued_at", at.UnixMilli(),
			"status", string(StatusWaiting),
		).Err())
		require.NoError(t, q.rdb.ZAdd(ctx, keyMatchQueue, redisZ(at, userID)).Err())
	default:
		t.Fatalf("unsupported store %T", store)
	}
}

// ---------- Admit tests ----------

func TestLifecycle_AdmitSetsUrgencyTTL(t *testing.T) {
	forEachStore(t, func(t *testing.T, store QueueStore) {
		l, clock := newTestLifecycle(store)
		ctx := context.Background()

		for u, ttl := range map[Urgency]time.Duration{
			UrgencyHigh:   15 * time.Minute,
			UrgencyMedium: 30 * time.Minute,
			UrgencyLow:    60 * time.Minute,
		} {
			e, err := l.Admit(ctx, queuedRequest("user-"+string(u), SessionLearning, u))
			require.NoError(t, err)
			assert.Equal(t, StatusWaiting, e.Status)
			assert.Equal(t, clock.Now().Add(ttl), e.ExpiresAt)

			stored, err := l.Entry(ctx, e.UserID())
			require.NoError(t, err)
			require.NotNil(t, stored)
			assert.True(t, stored.ExpiresAt.Equal(e.ExpiresAt))
			assert.Equal(t, u, stored.Request.Urgency)
		}
	})
}

func TestLifecycle_AdmitRejectsDuplicateWaiting(t *testing.T) {
	forEachStore(t, func(t *testing.T, store QueueStore) {
		l, _ := newTestLifecycle(store)
		ctx := context.Background()
		req := queuedRequest("alice", SessionLearning, UrgencyMedium)

		_, err := l.Admit(ctx, req)
		require.NoError(t, err)

		_, err = l.Admit(ctx, req)
		assert.ErrorIs(t, err, ErrAlreadyQueued)

		require.NoError(t, l.Remove(ctx, "alice"))
		_, err = l.Admit(ctx, req)
		assert.NoError(t, err, "a cancelled entry must not block a new request")
	})
}

func TestLifecycle_AdmitReplacesLapsedEntry(t *testing.T) {
	forEachStore(t, func(t *testing.T, store QueueStore) {
		l, clock := newTestLifecycle(store)
		ctx := context.Background()
		req := queuedRequest("alice", SessionLearning, UrgencyHigh)

		_, err := l.Admit(ctx, req)
		require.NoError(t, err)

		clock.Advance(20 * time.Minute)
		e, err := l.Admit(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, clock.Now().Add(15*time.Minute), e.ExpiresAt)
	})
}

func TestLifecycle_AdmitRejectsInvalidRequest(t *testing.T) {
	l, _ := newTestLifecycle(NewMemoryQueue())
	ctx := context.Background()

	cases := map[string]func(r *Request){
		"empty user":        func(r *Request) { r.UserID = " " },
		"no skills":         func(r *Request) { r.PreferredSkills = []string{"", "  "} },
		"duration too low":  func(r *Request) { r.MaxDuration = 10 },
		"duration too high": func(r *Request) { r.MaxDuration = 181 },
		"bad urgency":       func(r *Request) { r.Urgency = "now" },
		"bad session type":  func(r *Request) { r.SessionType = "mentoring" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := queuedRequest("alice", SessionLearning, UrgencyLow)
			mutate(&req)
			_, err := l.Admit(ctx, req)
			assert.True(t, IsInputError(err), "got %v", err)
		})
	}
}

// ---------- Candidate pool tests ----------

func TestLifecycle_HighUrgencyExpiresAfterFifteenMinutes(t *testing.T) {
	forEachStore(t, func(t *testing.T, store QueueStore) {
		l, clock := newTestLifecycle(store)
		ctx := context.Background()

		_, err := l.Admit(ctx, queuedRequest("tutor", SessionTeaching, UrgencyHigh))
		require.NoError(t, err)
		learner := queuedRequest("learner", SessionLearning, UrgencyLow)

		clock.Advance(14 * time.Minute)
		pool, err := l.CandidatePool(ctx, learner)
		require.NoError(t, err)
		assert.Equal(t, []string{"tutor"}, poolIDs(pool))

		clock.Advance(2 * time.Minute)
		pool, err = l.CandidatePool(ctx, learner)
		require.NoError(t, err)
		assert.Empty(t, pool)

		e, err := l.Entry(ctx, "tutor")
		require.NoError(t, err)
		assert.Equal(t, StatusExpired, e.Status)
	})
}

func TestLifecycle_CandidatePoolCompatibilityMatrix(t *testing.T) {
	forEachStore(t, func(t *testing.T, store QueueStore) {
		l, clock := newTestLifecycle(store)
		ctx := context.Background()

		for _, id := range []string{"learning", "teaching", "collaboration"} {
			_, err := l.Admit(ctx, queuedRequest(id, SessionType(id), UrgencyLow))
			require.NoError(t, err)
			clock.Advance(time.Second)
		}

		cases := map[SessionType][]string{
			SessionLearning:      {"teaching", "collaboration"},
			SessionTeaching:      {"learning", "collaboration"},
			SessionCollaboration: {"learning", "teaching", "collaboration"},
		}
		for st, want := range cases {
			pool, err := l.CandidatePool(ctx, queuedRequest("newcomer", st, UrgencyLow))
			require.NoError(t, err)
			assert.Equal(t, want, poolIDs(pool), "requester %s", st)
		}
	})
}

func TestLifecycle_CandidatePoolExcludesRequester(t *testing.T) {
	forEachStore(t, func(t *testing.T, store QueueStore) {
		l, _ := newTestLifecycle(store)
		ctx := context.Background()
		req := queuedRequest("alice", SessionCollaboration, UrgencyLow)

		_, err := l.Admit(ctx, req)
		require.NoError(t, err)

		pool, err := l.CandidatePool(ctx, req)
		require.NoError(t, err)
		assert.Empty(t, pool)
	})
}

func TestLifecycle_CandidatePoolSkipsMalformedEntries(t *testing.T) {
	forEachStore(t, func(t *testing.T, store QueueStore) {
		l, clock := newTestLifecycle(store)
		ctx := context.Background()

		plantMalformed(t, store, "broken", clock.Now())
		_, err := l.Admit(ctx, queuedRequest("bob", SessionCollaboration, UrgencyLow))
		require.NoError(t, err)

		pool, err := l.CandidatePool(ctx, queuedRequest("alice", SessionCollaboration, UrgencyLow))
		require.NoError(t, err)
		assert.Equal(t, []string{"bob"}, poolIDs(pool))
	})
}

// ---------- Sweep tests ----------

func TestLifecycle_SweepExpiredIsIdempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, store QueueStore) {
		l, clock := newTestLifecycle(store)
		ctx := context.Background()
		start := clock.Now()

		_, err := l.Admit(ctx, queuedRequest("high", SessionLearning, UrgencyHigh))
		require.NoError(t, err)
		_, err = l.Admit(ctx, queuedRequest("medium", SessionLearning, UrgencyMedium))
		require.NoError(t, err)
		_, err = l.Admit(ctx, queuedRequest("low", SessionLearning, UrgencyLow))
		require.NoError(t, err)

		n, err := l.SweepExpired(ctx, start.Add(15*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 0, n, "an entry exactly at its deadline is not yet expired")

		n, err = l.SweepExpired(ctx, start.Add(31*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = l.SweepExpired(ctx, start.Add(31*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		waiting, err := l.Waiting(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"low"}, poolIDs(waiting))
	})
}

func TestLifecycle_ConcurrentSweepsCountEachEntryOnce(t *testing.T) {
	forEachStore(t, func(t *testing.T, store QueueStore) {
		var hooked atomic.Int64
		l, clock := newTestLifecycle(store, OnExpired(func(QueueEntry) { hooked.Add(1) }))
		ctx := context.Background()

		const users = 20
		for i := 0; i < users; i++ {
			_, err := l.Admit(ctx, queuedRequest(fmt.Sprintf("user-%02d", i), SessionLearning, UrgencyHigh))
			require.NoError(t, err)
		}
		later := clock.Now().Add(time.Hour)

		var total atomic.Int64
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				n, err := l.SweepExpired(ctx, later)
				assert.NoError(t, err)
				total.Add(int64(n))
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(users), total.Load())
		assert.Equal(t, int64(users), hooked.Load())
	})
}

func TestLifecycle_SweepSkipsMalformedEntries(t *testing.T) {
	forEachStore(t, func(t *testing.T, store QueueStore) {
		l, clock := newTestLifecycle(store)
		ctx := context.Background()

		plantMalformed(t, store, "broken", clock.Now())
		_, err := l.Admit(ctx, queuedRequest("bob", SessionLearning, UrgencyHigh))
		require.NoError(t, err)

		n, err := l.SweepExpired(ctx, clock.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

// ---------- Remove tests ----------

func TestLifecycle_RemoveCancelsWaitingOnly(t *testing.T) {
	forEachStore(t, func(t *testing.T, store QueueStore) {
		l, _ := newTestLifecycle(store)
		ctx := context.Background()

		assert.NoError(t, l.Remove(ctx, "nobody"))

		_, err := l.Admit(ctx, queuedRequest("alice", SessionLearning, UrgencyLow))
		require.NoError(t, err)
		_, err = l.Admit(ctx, queuedRequest("bob", SessionTeaching, UrgencyLow))
		require.NoError(t, err)

		ok, err := l.TryClaim(ctx, "bob")
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, l.Remove(ctx, "alice"))
		require.NoError(t, l.Remove(ctx, "bob"))

		alice, err := l.Entry(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, alice.Status)

		bob, err := l.Entry(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, StatusMatched, bob.Status, "remove must not touch a terminal entry")
	})
}

// ---------- Claim tests ----------

func TestLifecycle_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	forEachStore(t, func(t *testing.T, store QueueStore) {
		l, clock := newTestLifecycle(store)
		ctx := context.Background()

		_, err := l.Admit(ctx, queuedRequest("tutor", SessionTeaching, UrgencyLow))
		require.NoError(t, err)

		var wins atomic.Int64
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				outcome, err := l.ClaimPair(ctx, "tutor", fmt.Sprintf("learner-%d", i), clock.Now())
				assert.NoError(t, err)
				if outcome == ClaimOK {
					wins.Add(1)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int64(1), wins.Load())
	})
}

func TestLifecycle_ClaimPairMarksBothSides(t *testing.T) {
	forEachStore(t, func(t *testing.T, store QueueStore) {
		l, clock := newTestLifecycle(store)
		ctx := context.Background()

		_, err := l.Admit(ctx, queuedRequest("tutor", SessionTeaching, UrgencyLow))
		require.NoError(t, err)
		_, err = l.Admit(ctx, queuedRequest("learner", SessionLearning, UrgencyLow))
		require.NoError(t, err)

		outcome, err := l.ClaimPair(ctx, "tutor", "learner", clock.Now())
		require.NoError(t, err)
		assert.Equal(t, ClaimOK, outcome)

		for id, partner := range map[string]string{"tutor": "learner", "learner": "tutor"} {
			e, err := l.Entry(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, StatusMatched, e.Status)
			assert.Equal(t, partner, e.MatchedWith)
		}

		waiting, err := l.Waiting(ctx)
		require.NoError(t, err)
		assert.Empty(t, waiting)
	})
}

func TestLifecycle_ClaimPairRequesterPairedMeanwhile(t *testing.T) {
	forEachStore(t, func(t *testing.T, store QueueStore) {
		l, clock := newTestLifecycle(store)
		ctx := context.Background()
		started := clock.Now()

		for _, id := range []string{"tutor", "other"} {
			_, err := l.Admit(ctx, queuedRequest(id, SessionTeaching, UrgencyLow))
			require.NoError(t, err)
		}
		_, err := l.Admit(ctx, queuedRequest("learner", SessionLearning, UrgencyLow))
		require.NoError(t, err)

		clock.Advance(time.Second)
		outcome, err := l.ClaimPair(ctx, "other", "learner", clock.Now())
		require.NoError(t, err)
		require.Equal(t, ClaimOK, outcome)

		outcome, err = l.ClaimPair(ctx, "tutor", "learner", started)
		require.NoError(t, err)
		assert.Equal(t, ClaimRequesterTaken, outcome)

		tutor, err := l.Entry(ctx, "tutor")
		require.NoError(t, err)
		assert.Equal(t, StatusWaiting, tutor.Status, "an aborted claim must leave the candidate waiting")
	})
}

func TestLifecycle_ClaimPairIgnoresOldTerminalRequester(t *testing.T) {
	forEachStore(t, func(t *testing.T, store QueueStore) {
		l, clock := newTestLifecycle(store)
		ctx := context.Background()

		_, err := l.Admit(ctx, queuedRequest("learner", SessionLearning, UrgencyLow))
		require.NoError(t, err)
		require.NoError(t, l.Remove(ctx, "learner"))

		clock.Advance(time.Second)
		_, err = l.Admit(ctx, queuedRequest("tutor", SessionTeaching, UrgencyLow))
		require.NoError(t, err)

		outcome, err := l.ClaimPair(ctx, "tutor", "learner", clock.Now())
		require.NoError(t, err)
		assert.Equal(t, ClaimOK, outcome)

		learner, err := l.Entry(ctx, "learner")
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, learner.Status)
		assert.Empty(t, learner.MatchedWith)

		tutor, err := l.Entry(ctx, "tutor")
		require.NoError(t, err)
		assert.Equal(t, StatusMatched, tutor.Status)
		assert.Equal(t, "learner", tutor.MatchedWith)
	})
}

func TestLifecycle_ClaimPairIgnoresEarlierMatch(t *testing.T) {
	forEachStore(t, func(t *testing.T, store QueueStore) {
		l, clock := newTestLifecycle(store)
		ctx := context.Background()

		for _, id := range []string{"tutor", "other"} {
			_, err := l.Admit(ctx, queuedRequest(id, SessionTeaching, UrgencyLow))
			require.NoError(t, err)
		}
		_, err := l.Admit(ctx, queuedRequest("learner", SessionLearning, UrgencyLow))
		require.NoError(t, err)
		outcome, err := l.ClaimPair(ctx, "other", "learner", clock.Now())
		require.NoError(t, err)
		require.Equal(t, ClaimOK, outcome)

		clock.Advance(time.Minute)
		outcome, err = l.ClaimPair(ctx, "tutor", "learner", clock.Now())
		require.NoError(t, err)
		assert.Equal(t, ClaimOK, outcome)

		learner, err := l.Entry(ctx, "learner")
		require.NoError(t, err)
		assert.Equal(t, "other", learner.MatchedWith, "the earlier pairing is not rewritten")
	})
}

func TestLifecycle_ClaimPairRejectsLapsedRequester(t *testing.T) {
	forEachStore(t, func(t *testing.T, store QueueStore) {
		l, clock := newTestLifecycle(store)
		ctx := context.Background()

		_, err := l.Admit(ctx, queuedRequest("learner", SessionLearning, UrgencyHigh))
		require.NoError(t, err)
		clock.Advance(16 * time.Minute)
		_, err = l.Admit(ctx, queuedRequest("tutor", SessionTeaching, UrgencyLow))
		require.NoError(t, err)

		outcome, err := l.ClaimPair(ctx, "tutor", "learner", clock.Now())
		require.NoError(t, err)
		assert.Equal(t, ClaimRequesterTaken, outcome)

		tutor, err := l.Entry(ctx, "tutor")
		require.NoError(t, err)
		assert.Equal(t, StatusWaiting, tutor.Status)
	})
}

func TestLifecycle_TryClaimRejectsExpiredCandidate(t *testing.T) {
	forEachStore(t, func(t *testing.T, store QueueStore) {
		l, clock := newTestLifecycle(store)
		ctx := context.Background()

		_, err := l.Admit(ctx, queuedRequest("tutor", SessionTeaching, UrgencyHigh))
		require.NoError(t, err)

		clock.Advance(16 * time.Minute)
		ok, err := l.TryClaim(ctx, "tutor")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestLifecycle_EntryUnknownUser(t *testing.T) {
	forEachStore(t, func(t *testing.T, store QueueStore) {
		l, _ := newTestLifecycle(store)
		e, err := l.Entry(context.Background(), "ghost")
		assert.NoError(t, err)
		assert.Nil(t, e)
	})
}
