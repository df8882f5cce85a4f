package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/peermatch/matcher/internal/logger"
	"github.com/peermatch/matcher/internal/matching"
	"github.com/peermatch/matcher/internal/messaging"
	"github.com/peermatch/matcher/internal/profile"
)

// runMatch seeds one tutor and one learner per pair, each pair with its own
// topic so the only qualifying partner is the intended one. Tutors queue
// first; learners then request and the time until their match_found
// arrives is recorded.
func runMatch(args []string) {
	fs := flag.NewFlagSet("match", flag.ExitOnError)
	redisAddr := fs.String("redis", "localhost:6379", "Redis address used by the matcher")
	natsURL := fs.String("nats", "nats://localhost:4222", "NATS server URL")
	pairs := fs.Int("pairs", 200, "Number of tutor/learner pairs")
	rampUp := fs.Duration("ramp", 5*time.Second, "Spread learner requests over this duration")
	matchTimeout := fs.Duration("match-timeout", 30*time.Second, "How long to wait for all match_found messages")
	fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logger.Nop()

	rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}

	natsCfg := messaging.DefaultNATSConfig()
	natsCfg.URL = *natsURL
	natsCfg.Name = "peermatch-loadtest"
	bus, err := messaging.NewNATSClient(natsCfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nats: %v\n", err)
		os.Exit(1)
	}
	defer bus.Close()

	runID := time.Now().UnixNano()
	tutorID := func(i int) string { return fmt.Sprintf("lt-%d-tutor-%d", runID, i) }
	learnerID := func(i int) string { return fmt.Sprintf("lt-%d-learner-%d", runID, i) }

	fmt.Printf("Match test: %d pairs against redis=%s nats=%s (ramp=%s, match-timeout=%s)\n",
		*pairs, *redisAddr, *natsURL, *rampUp, *matchTimeout)

	// -----------------------------------------------------------------------
	// Phase 1: Seed profiles
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Phase 1: Seed profiles ---")
	store := profile.NewRedisStore(rdb)
	for i := 0; i < *pairs; i++ {
		topic := fmt.Sprintf("topic-%d", i)
		if err := store.Put(ctx, seedProfile(tutorID(i), topic, 4)); err != nil {
			fmt.Fprintf(os.Stderr, "seed %s: %v\n", tutorID(i), err)
			os.Exit(1)
		}
		if err := store.Put(ctx, seedProfile(learnerID(i), topic, 2)); err != nil {
			fmt.Fprintf(os.Stderr, "seed %s: %v\n", learnerID(i), err)
			os.Exit(1)
		}
	}
	fmt.Printf("Seeded %d profiles\n", *pairs*2)

	collector := NewCollector()

	var mu sync.Mutex
	sentAt := make(map[string]time.Time, *pairs)
	pending := make(map[string]bool, *pairs)

	for i := 0; i < *pairs; i++ {
		id, want := learnerID(i), tutorID(i)
		pending[id] = true
		err := bus.Subscribe(messaging.SubjectMatchFound+"."+id, func(data []byte) {
			var msg matching.MatchFound
			if err := json.Unmarshal(data, &msg); err != nil {
				collector.AddError()
				return
			}
			mu.Lock()
			start, ok := sentAt[id]
			first := pending[id]
			delete(pending, id)
			mu.Unlock()
			if ok && first {
				collector.AddMatch(time.Since(start), msg.PartnerID == want)
			}
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "subscribe: %v\n", err)
			os.Exit(1)
		}
	}

	// -----------------------------------------------------------------------
	// Phase 2: Queue tutors
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Phase 2: Queue tutors ---")
	for i := 0; i < *pairs; i++ {
		if err := publishRequest(bus, tutorID(i), fmt.Sprintf("topic-%d", i), matching.SessionTeaching); err != nil {
			collector.AddError()
			continue
		}
		collector.AddRequest()
	}

	// -----------------------------------------------------------------------
	// Phase 3: Learners request
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Phase 3: Learners request ---")
	interval := *rampUp / time.Duration(max(*pairs, 1))
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	for i := 0; i < *pairs; i++ {
		select {
		case <-ctx.Done():
			ticker.Stop()
			collector.Report(len(pending))
			return
		case <-ticker.C:
		}
		id := learnerID(i)
		mu.Lock()
		sentAt[id] = time.Now()
		mu.Unlock()
		if err := publishRequest(bus, id, fmt.Sprintf("topic-%d", i), matching.SessionLearning); err != nil {
			collector.AddError()
			continue
		}
		collector.AddRequest()
	}
	ticker.Stop()

	// -----------------------------------------------------------------------
	// Phase 4: Wait for matches
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Phase 4: Wait for matches ---")
	deadline := time.NewTimer(*matchTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(250 * time.Millisecond)
	defer poll.Stop()

wait:
	for collector.MatchedCount() < *pairs {
		select {
		case <-ctx.Done():
			break wait
		case <-deadline.C:
			break wait
		case <-poll.C:
		}
	}

	mu.Lock()
	waiting := len(pending)
	mu.Unlock()
	collector.Report(waiting)
}

func publishRequest(bus *messaging.NATSClient, userID, topic string, st matching.SessionType) error {
	data, err := json.Marshal(matching.Request{
		UserID:          userID,
		PreferredSkills: []string{topic},
		SessionType:     st,
		MaxDuration:     60,
		Urgency:         matching.UrgencyLow,
	})
	if err != nil {
		return err
	}
	return bus.Publish(messaging.SubjectMatchRequest, data)
}

// seedProfile builds a profile that is always available in UTC so that
// only the topic decides who pairs with whom.
func seedProfile(id, topic string, level int) profile.UserProfile {
	allDay := []profile.Interval{{Start: 0, End: profile.MustTimeOfDay("24:00")}}
	avail := make(profile.Availability, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		avail[d] = allDay
	}
	return profile.UserProfile{
		ID:            id,
		Timezone:      "UTC",
		Skills:        []profile.Skill{{Name: topic, Level: level}},
		Availability:  avail,
		Communication: &profile.Communication{Style: profile.StyleBalanced, Languages: []string{"en"}},
		Stats:         &profile.Stats{AverageRating: 4, TotalSessions: 5},
	}
}
