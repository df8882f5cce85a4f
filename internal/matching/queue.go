package matching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Redis key patterns for the waiting pool.
	keyMatchQueue  = "match:queue"  // Sorted set of waiting users, score = enqueued_at (ms)
	keyEntryPrefix = "match:entry:" // + <user_id> -> Hash

	// DefaultEntryRetention is how long a terminal entry stays readable
	// after leaving the waiting state.
	DefaultEntryRetention = 10 * time.Minute
)

// RedisQueue is a QueueStore shared by every matcher instance. All state
// changes run as Lua scripts so they are atomic across processes.
type RedisQueue struct {
	rdb        *redis.Client
	retention  time.Duration
	admit      *redis.Script
	transition *redis.Script
	claim      *redis.Script
}

// NewRedisQueue creates a queue store backed by Redis. A retention of zero
// selects DefaultEntryRetention.
func NewRedisQueue(rdb *redis.Client, retention time.Duration) *RedisQueue {
	if retention <= 0 {
		retention = DefaultEntryRetention
	}
	return &RedisQueue{
		rdb:        rdb,
		retention:  retention,
		admit:      redis.NewScript(admitLua),
		transition: redis.NewScript(transitionLua),
		claim:      redis.NewScript(claimLua),
	}
}

func entryKey(userID string) string { return keyEntryPrefix + userID }

func (q *RedisQueue) Admit(ctx context.Context, entry QueueEntry) error {
	payload, err := json.Marshal(entry.Request)
	if err != nil {
		return fmt.Errorf("matching: encode request: %w", err)
	}

	// Keep the hash around for the waiting time plus the retention window
	// so abandoned keys clean themselves up.
	ttl := entry.ExpiresAt.Sub(entry.EnqueuedAt) + q.retention

	res, err := q.admit.Run(ctx, q.rdb,
		[]string{entryKey(entry.UserID()), keyMatchQueue},
		entry.UserID(),
		payload,
		entry.EnqueuedAt.UnixMilli(),
		entry.ExpiresAt.UnixMilli(),
		int64(ttl.Seconds()),
	).Int()
	if err != nil {
		return fmt.Errorf("matching: admit %s: %w", entry.UserID(), err)
	}
	if res == 0 {
		return ErrAlreadyQueued
	}
	return nil
}

func (q *RedisQueue) Get(ctx context.Context, userID string) (*QueueEntry, error) {
	fields, err := q.rdb.HGetAll(ctx, entryKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("matching: get %s: %w", userID, err)
	}
	if len(fields) == 0 {
		return nil, ErrEntryNotFound
	}
	e := decodeEntry(userID, fields)
	return &e, nil
}

// Waiting returns waiting entries oldest first. Members of the queue set
// whose hash has vanished are dropped from the set.
func (q *RedisQueue) Waiting(ctx context.Context) ([]QueueEntry, error) {
	ids, err := q.rdb.ZRange(ctx, keyMatchQueue, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("matching: list queue: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := q.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, entryKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("matching: load queue entries: %w", err)
	}

	var orphans []interface{}
	out := make([]QueueEntry, 0, len(ids))
	for i, id := range ids {
		fields := cmds[i].Val()
		if len(fields) == 0 {
			orphans = append(orphans, id)
			continue
		}
		e := decodeEntry(id, fields)
		if e.Status != StatusWaiting {
			continue
		}
		out = append(out, e)
	}
	if len(orphans) > 0 {
		q.rdb.ZRem(ctx, keyMatchQueue, orphans...)
	}
	return out, nil
}

func (q *RedisQueue) Transition(ctx context.Context, userID string, from, to Status, at time.Time) (bool, error) {
	res, err := q.transition.Run(ctx, q.rdb,
		[]string{entryKey(userID), keyMatchQueue},
		userID,
		string(from),
		string(to),
		at.UnixMilli(),
		int64(q.retention.Seconds()),
	).Int()
	if err != nil {
		return false, fmt.Errorf("matching: transition %s %s->%s: %w", userID, from, to, err)
	}
	return res == 1, nil
}

func (q *RedisQueue) ClaimPair(ctx context.Context, candidateID, requesterID string, now, since time.Time) (ClaimOutcome, error) {
	reqKey := entryKey(candidateID)
	if requesterID != "" {
		reqKey = entryKey(requesterID)
	}
	res, err := q.claim.Run(ctx, q.rdb,
		[]string{entryKey(candidateID), reqKey, keyMatchQueue},
		candidateID,
		requesterID,
		now.UnixMilli(),
		int64(q.retention.Seconds()),
		since.UnixMilli(),
	).Int()
	if err != nil {
		return ClaimCandidateTaken, fmt.Errorf("matching: claim %s: %w", candidateID, err)
	}
	switch res {
	case 1:
		return ClaimOK, nil
	case -1:
		return ClaimRequesterTaken, nil
	default:
		return ClaimCandidateTaken, nil
	}
}

// decodeEntry builds an entry from its hash. Unparseable fields are left
// zero so callers can treat the entry as malformed.
func decodeEntry(userID string, fields map[string]string) QueueEntry {
	e := QueueEntry{Status: Status(fields["status"]), MatchedWith: fields["matched_with"]}
	if err := json.Unmarshal([]byte(fields["request"]), &e.Request); err != nil {
		e.Request = Request{}
	}
	e.Request.UserID = userID
	e.EnqueuedAt = parseMillis(fields["enqueued_at"])
	e.ExpiresAt = parseMillis(fields["expires_at"])
	e.UpdatedAt = parseMillis(fields["updated_at"])
	return e
}

func parseMillis(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// admitLua inserts a waiting entry unless an unexpired one is already
// waiting.
//
//	KEYS: entry, queue
//	ARGV: user_id, request, enqueued_at, expires_at, ttl_seconds
//	1 = admitted, 0 = already waiting
const admitLua = `
local key = KEYS[1]
local status = redis.call('HGET', key, 'status')
if status == 'waiting' then
    local expires = tonumber(redis.call('HGET', key, 'expires_at'))
    if expires and expires >= tonumber(ARGV[3]) then return 0 end
end

redis.call('DEL', key)
redis.call('HSET', key,
    'request', ARGV[2],
    'enqueued_at', ARGV[3],
    'expires_at', ARGV[4],
    'status', 'waiting',
    'updated_at', ARGV[3])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
redis.call('EXPIRE', key, ARGV[5])
return 1
`

// transitionLua is a compare-and-swap on the entry status.
//
//	KEYS: entry, queue
//	ARGV: user_id, from, to, updated_at, retention_seconds
//	1 = moved, 0 = status did not match
const transitionLua = `
local key = KEYS[1]
local status = redis.call('HGET', key, 'status')
if status ~= ARGV[2] then return 0 end

redis.call('HSET', key, 'status', ARGV[3], 'updated_at', ARGV[4])
if ARGV[3] ~= 'waiting' then
    redis.call('ZREM', KEYS[2], ARGV[1])
    redis.call('EXPIRE', key, ARGV[5])
end
return 1
`

// claimLua marks a candidate, and the requester if waiting, as matched.
// A requester entry in any other state is left alone unless it was matched
// at or after since.
//
//	KEYS: candidate entry, requester entry, queue
//	ARGV: candidate_id, requester_id ('' for none), now_ms, retention_seconds, since_ms
//	1 = claimed, 0 = candidate not claimable, -1 = requester paired meanwhile or lapsed
const claimLua = `
local cand_key = KEYS[1]
local req_key = KEYS[2]
local cand_id = ARGV[1]
local req_id = ARGV[2]
local now = tonumber(ARGV[3])
local since = tonumber(ARGV[5])

local cstatus = redis.call('HGET', cand_key, 'status')
if cstatus ~= 'waiting' then return 0 end
local expires = tonumber(redis.call('HGET', cand_key, 'expires_at'))
if not expires or expires <= 0 or now > expires then return 0 end

local claim_req = false
if req_id ~= '' then
    local rstatus = redis.call('HGET', req_key, 'status')
    if rstatus == 'waiting' then
        local rexpires = tonumber(redis.call('HGET', req_key, 'expires_at'))
        if not rexpires or rexpires <= 0 or now > rexpires then return -1 end
        claim_req = true
    elseif rstatus == 'matched' then
        local rupdated = tonumber(redis.call('HGET', req_key, 'updated_at'))
        if rupdated and rupdated >= since then return -1 end
    end
end

redis.call('HSET', cand_key, 'status', 'matched', 'matched_with', req_id, 'updated_at', ARGV[3])
redis.call('ZREM', KEYS[3], cand_id)
redis.call('EXPIRE', cand_key, ARGV[4])

if claim_req then
    redis.call('HSET', req_key, 'status', 'matched', 'matched_with', cand_id, 'updated_at', ARGV[3])
    redis.call('ZREM', KEYS[3], req_id)
    redis.call('EXPIRE', req_key, ARGV[4])
end
return 1
`
