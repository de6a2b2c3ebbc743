package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	casStatusNotFound    int64 = 0
	casStatusSwapped     int64 = 1
	casStatusMismatch    int64 = 2
	casStatusTerminal    int64 = 3
	casStatusInvalidBlob int64 = 4
)

// casScript reads the fixed record prefix (version, round index, status) and
// swaps the blob only when the session is active on the expected round.
const casScript = `
local data = redis.call("GET", KEYS[1])
if not data then
  return 0
end
if #data < 6 or string.byte(data, 1) ~= 1 then
  return 4
end

local b1, b2, b3, b4 = string.byte(data, 2, 5)
local round = ((b1 * 256 + b2) * 256 + b3) * 256 + b4
local status = string.byte(data, 6)

if status ~= 1 then
  return 3
end
if round ~= tonumber(ARGV[1]) then
  return 2
end

redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
if ARGV[4] == "1" then
  redis.call("ZADD", KEYS[2], ARGV[5], ARGV[6])
else
  redis.call("ZREM", KEYS[2], ARGV[6])
end
return 1
`

var casLua = redis.NewScript(casScript)

// RedisStore is a Redis-backed session store. Active sessions are also
// indexed in a ZSET scored by expiry for counting and reaping.
type RedisStore struct {
	redis redis.UniversalClient
	opts  Options
}

// NewRedisStore creates a [RedisStore]. The client is owned by the caller.
func NewRedisStore(client redis.UniversalClient, opts Options) *RedisStore {
	return &RedisStore{redis: client, opts: opts.withDefaults()}
}

func (s *RedisStore) key(sessionID string) string {
	return s.opts.Prefix + ":s:" + sessionID
}

func (s *RedisStore) activeKey() string {
	return s.opts.Prefix + ":active"
}

// Create persists a new record with SET NX and indexes it as active.
//
//	Performance: 1 MULTI/EXEC (SET NX + ZADD).
func (s *RedisStore) Create(ctx context.Context, r *Record) error {
	data, err := Encode(r)
	if err != nil {
		return err
	}
	ttl := retention(r, s.opts.Now(), s.opts.TerminalGrace)
	if ttl <= 0 {
		return errors.New("session already expired at creation")
	}

	var setCmd *redis.BoolCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		setCmd = pipe.SetNX(ctx, s.key(r.SessionID), data, ttl)
		if !r.Status.Terminal() {
			pipe.ZAdd(ctx, s.activeKey(), redis.Z{Score: float64(r.ExpiresAt), Member: r.SessionID})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !setCmd.Val() {
		return ErrExists
	}
	return nil
}

// Get loads a record. Records past their TTL are reported as ErrNotFound even
// if Redis has not evicted them yet.
//
//	Performance: 1 Redis GET.
func (s *RedisStore) Get(ctx context.Context, sessionID string) (*Record, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	r, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	r.SessionID = sessionID

	if r.Status == StatusActive && r.Expired(s.opts.Now()) {
		return nil, ErrNotFound
	}
	return r, nil
}

// CompareAndSwap runs the Lua CAS script.
//
//	Performance: 1 EVALSHA.
func (s *RedisStore) CompareAndSwap(ctx context.Context, next *Record, expectedRound uint32) error {
	if err := validateTransition(next, expectedRound); err != nil {
		return err
	}
	data, err := Encode(next)
	if err != nil {
		return err
	}

	now := s.opts.Now()
	ttl := retention(next, now, s.opts.TerminalGrace)
	if ttl <= 0 {
		return ErrNotFound
	}
	active := "0"
	if next.Status == StatusActive {
		active = "1"
	}

	res, err := casLua.Run(ctx, s.redis,
		[]string{s.key(next.SessionID), s.activeKey()},
		strconv.FormatUint(uint64(expectedRound), 10),
		data,
		ttl.Milliseconds(),
		active,
		next.ExpiresAt,
		next.SessionID,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch res {
	case casStatusSwapped:
		return nil
	case casStatusNotFound:
		return ErrNotFound
	case casStatusMismatch:
		return ErrRoundMismatch
	case casStatusTerminal:
		return ErrTerminal
	case casStatusInvalidBlob:
		return ErrCorrupt
	default:
		return fmt.Errorf("%w: unexpected cas result %d", ErrUnavailable, res)
	}
}

// Delete removes the record and its index entry.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(sessionID))
		pipe.ZRem(ctx, s.activeKey(), sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// ActiveCount counts index entries whose expiry is still ahead.
func (s *RedisStore) ActiveCount(ctx context.Context) (int, error) {
	min := strconv.FormatInt(s.opts.Now().UnixMilli(), 10)
	n, err := s.redis.ZCount(ctx, s.activeKey(), "("+min, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if n < 0 {
		return 0, nil
	}
	return int(n), nil
}

// Reap drops index entries for sessions whose TTL has passed. The records
// themselves are evicted by Redis key expiry.
func (s *RedisStore) Reap(ctx context.Context) (int, error) {
	max := strconv.FormatInt(s.opts.Now().UnixMilli(), 10)
	n, err := s.redis.ZRemRangeByScore(ctx, s.activeKey(), "-inf", max).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(n), nil
}

// Ping measures a PING round trip.
func (s *RedisStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return time.Since(start), nil
}

// Close is a no-op; the Redis client belongs to the caller.
func (s *RedisStore) Close() error { return nil }
