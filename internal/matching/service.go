package matching

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/peermatch/matcher/internal/analytics"
	"github.com/peermatch/matcher/internal/logger"
	"github.com/peermatch/matcher/internal/metrics"
	"github.com/peermatch/matcher/internal/profile"
)

const (
	DefaultMatchTimeout       = 2 * time.Second
	DefaultMatchInterval      = 2 * time.Second
	DefaultSweepInterval      = 5 * time.Second
	DefaultProfileConcurrency = 16
	DefaultClaimRetries       = 1
)

// RateLimiter throttles match requests per user. *ratelimit.Limiter
// satisfies it.
type RateLimiter interface {
	Allow(ctx context.Context, identifier string) (bool, error)
}

// ServiceConfig tunes a Service. Zero durations and concurrency take the
// defaults above; ClaimRetries is used as given.
type ServiceConfig struct {
	MatchTimeout       time.Duration // upper bound on one FindMatch
	MatchInterval      time.Duration // how often the match loop retries waiting entries
	SweepInterval      time.Duration // how often expired entries are swept
	ProfileConcurrency int           // concurrent candidate profile reads
	ClaimRetries       int           // extra claims after a conflict
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.MatchTimeout <= 0 {
		c.MatchTimeout = DefaultMatchTimeout
	}
	if c.MatchInterval <= 0 {
		c.MatchInterval = DefaultMatchInterval
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.ProfileConcurrency <= 0 {
		c.ProfileConcurrency = DefaultProfileConcurrency
	}
	if c.ClaimRetries < 0 {
		c.ClaimRetries = 0
	}
	return c
}

// ServiceDeps are the collaborators of a Service. Profiles, Queue and
// Selector are required; the rest may be nil.
type ServiceDeps struct {
	Profiles  profile.Store
	Queue     QueueStore
	Selector  *Selector
	Analytics analytics.Sink
	Bus       Bus
	Limiter   RateLimiter
	Log       *logger.Logger
	Tracer    trace.Tracer
	Now       func() time.Time
}

// Service pairs waiting users. FindMatch and Enqueue serve callers
// directly; Start adds the NATS subscriptions and the background match
// and sweep loops.
type Service struct {
	profiles  profile.Store
	lifecycle *Lifecycle
	selector  *Selector
	analytics analytics.Sink
	bus       Bus
	limiter   RateLimiter
	log       *logger.Logger
	tracer    trace.Tracer
	now       func() time.Time
	cfg       ServiceConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService wires a Service. The queue lifecycle is built here so that
// expiries can be published on the bus.
func NewService(deps ServiceDeps, cfg ServiceConfig) *Service {
	s := &Service{
		profiles:  deps.Profiles,
		selector:  deps.Selector,
		analytics: deps.Analytics,
		bus:       deps.Bus,
		limiter:   deps.Limiter,
		log:       deps.Log,
		tracer:    deps.Tracer,
		now:       deps.Now,
		cfg:       cfg.withDefaults(),
	}
	if s.analytics == nil {
		s.analytics = analytics.Nop
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("github.com/peermatch/matcher/internal/matching")
	}
	if s.now == nil {
		s.now = time.Now
	}

	s.lifecycle = NewLifecycle(deps.Queue,
		WithLifecycleClock(s.now),
		WithLifecycleLogger(s.log),
		OnExpired(s.notifyExpired),
	)
	s.log = s.log.Component("matcher")
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Lifecycle exposes the queue lifecycle the service drives.
func (s *Service) Lifecycle() *Lifecycle { return s.lifecycle }

// Start subscribes to the bus and starts the match and sweep loops.
func (s *Service) Start() error {
	if s.bus != nil {
		if err := s.bus.SubscribeMatchRequest(s.handleMatchRequest); err != nil {
			return err
		}
		if err := s.bus.SubscribeMatchCancel(s.handleCancelRequest); err != nil {
			return err
		}
	}

	s.wg.Add(2)
	go s.matchLoop()
	go s.sweepLoop()

	s.log.Info("service started",
		"match_interval", s.cfg.MatchInterval.String(),
		"sweep_interval", s.cfg.SweepInterval.String(),
		"match_timeout", s.cfg.MatchTimeout.String())
	return nil
}

// Stop ends the background loops and waits for them to return.
func (s *Service) Stop() {
	s.cancel()
	s.wg.Wait()
	s.log.Info("service stopped")
}

// Enqueue admits req to the waiting pool and immediately tries to match
// it. A nil result with a nil error means the user stays queued until the
// match loop pairs them or the entry expires.
func (s *Service) Enqueue(ctx context.Context, req Request) (*MatchResult, error) {
	if err := req.Validate(); err != nil {
		metrics.MatchAttempts.WithLabelValues("invalid").Inc()
		return nil, err
	}
	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, req.UserID)
		if err != nil {
			s.log.Warn("rate limiter unavailable", "user_id", req.UserID, "error", err)
		}
		if !allowed {
			return nil, ErrRateLimited
		}
	}

	if _, err := s.lifecycle.Admit(ctx, req); err != nil {
		return nil, err
	}

	res, err := s.FindMatch(ctx, req)
	if errors.Is(err, ErrProfileNotFound) {
		if rmErr := s.lifecycle.Remove(ctx, req.UserID); rmErr != nil {
			s.log.Warn("remove entry without profile", "user_id", req.UserID, "error", rmErr)
		}
	}
	return res, err
}

// Cancel withdraws the user's waiting entry.
func (s *Service) Cancel(ctx context.Context, userID string) error {
	return s.lifecycle.Remove(ctx, userID)
}

// FindMatch looks for the best partner for req among waiting users and
// claims them. It returns (nil, nil) when nobody qualifies, when the
// attempt times out and when a store fails; callers only see input errors,
// ErrProfileNotFound and ErrClaimConflict.
func (s *Service) FindMatch(ctx context.Context, req Request) (*MatchResult, error) {
	return s.attempt(ctx, req, true)
}

// attempt runs one match attempt. Misses are only recorded when
// recordMiss is set so that the match loop does not flood analytics.
func (s *Service) attempt(ctx context.Context, req Request, recordMiss bool) (*MatchResult, error) {
	start := time.Now()

	ctx, span := s.tracer.Start(ctx, "matching.FindMatch", trace.WithAttributes(
		attribute.String("user.id", req.UserID),
		attribute.String("match.session_type", string(req.SessionType)),
		attribute.String("match.urgency", string(req.Urgency)),
	))
	defer span.End()

	if err := req.Validate(); err != nil {
		metrics.MatchAttempts.WithLabelValues("invalid").Inc()
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	startedAt := s.now()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.MatchTimeout)
	defer cancel()

	res, poolSize, err := s.match(ctx, req, startedAt)
	latency := time.Since(start)

	outcome := "no_match"
	switch {
	case errors.Is(err, ErrProfileNotFound):
		outcome = "not_found"
	case errors.Is(err, ErrClaimConflict):
		outcome = "conflict"
	case err != nil:
		outcome = "error"
	case res != nil:
		outcome = "matched"
	case ctx.Err() != nil:
		outcome = "timeout"
	}
	metrics.MatchAttempts.WithLabelValues(outcome).Inc()
	metrics.MatchLatency.Observe(latency.Seconds())
	span.SetAttributes(
		attribute.String("match.outcome", outcome),
		attribute.Int("match.pool_size", poolSize),
	)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}

	if res != nil {
		res.LatencyMs = latency.Milliseconds()
		metrics.CompatibilityScore.Observe(res.CompatibilityScore)
		s.publish(res, req.SessionType)
		s.log.Info("match found",
			"match_id", res.MatchID,
			"requester_id", res.RequesterID,
			"partner_id", res.PartnerID,
			"score", res.CompatibilityScore,
			"latency_ms", res.LatencyMs)
	}
	if res != nil || recordMiss {
		s.record(ctx, req.UserID, res, latency, poolSize)
	}
	return res, err
}

// match does the work of one attempt and reports the candidate pool size.
func (s *Service) match(ctx context.Context, req Request, startedAt time.Time) (*MatchResult, int, error) {
	requester, err := s.profiles.Get(ctx, req.UserID)
	if errors.Is(err, profile.ErrNotFound) {
		return nil, 0, ErrProfileNotFound
	}
	if err != nil {
		s.log.Warn("load requester profile", "user_id", req.UserID, "error", err)
		return nil, 0, nil
	}

	pool, err := s.lifecycle.CandidatePool(ctx, req)
	if err != nil {
		s.log.Warn("read candidate pool", "user_id", req.UserID, "error", err)
		return nil, 0, nil
	}
	metrics.CandidatePoolSize.Observe(float64(len(pool)))
	if len(pool) == 0 {
		return nil, 0, nil
	}

	candidates, err := s.loadCandidates(ctx, pool)
	if err != nil {
		s.log.Warn("load candidate profiles", "user_id", req.UserID, "error", err)
		return nil, len(pool), nil
	}

	ranked := s.selector.Rank(requester, candidates, req)
	res, err := s.claimBest(ctx, req.UserID, ranked, startedAt)
	return res, len(pool), err
}

// loadCandidates fetches candidate profiles concurrently. Candidates
// without a profile are skipped; a cancelled context aborts the load.
func (s *Service) loadCandidates(ctx context.Context, pool []QueueEntry) ([]Candidate, error) {
	loaded := make([]*Candidate, len(pool))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.ProfileConcurrency)
	for i, e := range pool {
		g.Go(func() error {
			p, err := s.profiles.Get(gctx, e.UserID())
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				if !errors.Is(err, profile.ErrNotFound) {
					s.log.Warn("load candidate profile", "user_id", e.UserID(), "error", err)
				}
				return nil
			}
			loaded[i] = &Candidate{Profile: p, EnqueuedAt: e.EnqueuedAt}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(loaded))
	for _, c := range loaded {
		if c != nil {
			candidates = append(candidates, *c)
		}
	}
	return candidates, nil
}

// claimBest claims the best ranked candidate, moving on to the next one
// after a conflict up to ClaimRetries times. ErrClaimConflict is returned
// only when every ranked candidate was tried and lost; if the retries run
// out first the requester simply stays queued.
func (s *Service) claimBest(ctx context.Context, requesterID string, ranked []ScoredCandidate, startedAt time.Time) (*MatchResult, error) {
	attempts := 0
	for _, c := range ranked {
		if attempts > s.cfg.ClaimRetries {
			return nil, nil
		}
		attempts++

		outcome, err := s.lifecycle.ClaimPair(ctx, c.Profile.ID, requesterID, startedAt)
		if err != nil {
			s.log.Warn("claim candidate", "user_id", requesterID, "candidate_id", c.Profile.ID, "error", err)
			return nil, nil
		}
		switch outcome {
		case ClaimOK:
			res := newMatchResult(requesterID, c)
			res.MatchID = uuid.NewString()
			return res, nil
		case ClaimCandidateTaken:
			metrics.ClaimConflicts.Inc()
			s.log.Debug("candidate claimed concurrently", "user_id", requesterID, "candidate_id", c.Profile.ID)
		case ClaimRequesterTaken:
			// Another attempt already paired the requester, or their entry lapsed.
			return nil, nil
		}
	}
	if attempts > 0 {
		return nil, ErrClaimConflict
	}
	return nil, nil
}

func (s *Service) publish(res *MatchResult, sessionType SessionType) {
	if s.bus == nil {
		return
	}
	if err := publishMatchFound(s.bus, res, sessionType); err != nil {
		s.log.Error("publish match", "match_id", res.MatchID, "error", err)
	}
}

// record hands the attempt to the analytics sink. Sink failures are
// logged and never reach the caller.
func (s *Service) record(ctx context.Context, userID string, res *MatchResult, latency time.Duration, poolSize int) {
	e := analytics.Event{
		ID:        uuid.NewString(),
		Timestamp: s.now(),
		UserID:    userID,
		LatencyMs: latency.Milliseconds(),
		PoolSize:  poolSize,
	}
	if res != nil {
		score := res.CompatibilityScore
		e.MatchFound = true
		e.CompatibilityScore = &score
	}
	if err := s.analytics.Record(context.WithoutCancel(ctx), e); err != nil {
		s.log.Warn("record analytics", "user_id", userID, "error", err)
	}
}

func (s *Service) notifyExpired(e QueueEntry) {
	if s.bus == nil {
		return
	}
	if err := publishMatchExpired(s.bus, e); err != nil {
		s.log.Error("publish expiry", "user_id", e.UserID(), "error", err)
	}
}

func (s *Service) handleMatchRequest(data []byte) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		s.log.Warn("invalid match request", "error", err)
		return
	}

	res, err := s.Enqueue(s.ctx, req)
	switch {
	case err != nil:
		s.log.Warn("enqueue failed", "user_id", req.UserID, "error", err)
	case res == nil:
		s.log.Debug("enqueued without immediate match", "user_id", req.UserID)
	}
}

func (s *Service) handleCancelRequest(data []byte) {
	var req CancelRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.log.Warn("invalid cancel request", "error", err)
		return
	}
	if err := s.Cancel(s.ctx, req.UserID); err != nil {
		s.log.Warn("cancel failed", "user_id", req.UserID, "error", err)
	}
}

// matchLoop retries every waiting entry, oldest first, on each tick.
func (s *Service) matchLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.MatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.log.Debug("match loop stopped")
			return
		case <-ticker.C:
			s.processQueue(s.ctx)
		}
	}
}

// processQueue makes one pass over the waiting pool. Entries paired
// earlier in the same pass fail their claim and are skipped.
func (s *Service) processQueue(ctx context.Context) int {
	waiting, err := s.lifecycle.Waiting(ctx)
	if err != nil {
		s.log.Warn("read waiting pool", "error", err)
		return 0
	}

	matched := 0
	paired := make(map[string]bool)
	for _, e := range waiting {
		if ctx.Err() != nil {
			break
		}
		if paired[e.UserID()] || e.IsMalformed() || e.ExpiredAt(s.now()) {
			continue
		}
		res, err := s.attempt(ctx, e.Request, false)
		if err != nil {
			continue
		}
		if res != nil {
			paired[res.RequesterID] = true
			paired[res.PartnerID] = true
			matched++
		}
	}
	return matched
}

func (s *Service) sweepLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.log.Debug("sweep loop stopped")
			return
		case <-ticker.C:
			n, err := s.lifecycle.SweepExpired(s.ctx, s.now())
			if err != nil {
				s.log.Warn("sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.log.Info("swept expired entries", "count", n)
			}
		}
	}
}
