// Package ratelimit provides Redis-backed fixed window rate limiting using
// INCR + EXPIRE. The matcher uses it to throttle match requests per user.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/peermatch/matcher/internal/logger"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix, e.g. "rl:match:"
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// RuleMatch allows 10 match requests per minute per user.
var RuleMatch = Rule{Key: "rl:match:", Limit: 10, Window: time.Minute}

// MatchRule returns RuleMatch with the given limit and window. Non-positive
// values keep the defaults.
func MatchRule(limit int, window time.Duration) Rule {
	r := RuleMatch
	if limit > 0 {
		r.Limit = limit
	}
	if window > 0 {
		r.Window = window
	}
	return r
}

// Limiter performs rate limiting checks against Redis for a single rule.
type Limiter struct {
	client redis.Cmdable
	rule   Rule
	log    *logger.Logger
}

// NewLimiter creates a Limiter enforcing rule.
func NewLimiter(client redis.Cmdable, rule Rule, log *logger.Logger) *Limiter {
	if log == nil {
		log = logger.Nop()
	}
	return &Limiter{client: client, rule: rule, log: log.Component("ratelimit")}
}

// Allow increments the identifier's counter and reports whether it is still
// within the limit. The expiry is set on the first increment of a window.
//
// On Redis errors it fails open (returns true with the error) so that a Redis
// outage does not block legitimate traffic.
func (l *Limiter) Allow(ctx context.Context, identifier string) (bool, error) {
	key := l.rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.log.Warn("redis INCR failed, failing open", "key", key, "error", err)
		return true, err
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, l.rule.Window).Err(); err != nil {
			l.log.Warn("redis EXPIRE failed, failing open", "key", key, "error", err)
			// A key without TTL would block the identifier forever.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= l.rule.Limit, nil
}
