package challenge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// consumedMarker replaces a code once it has been taken so that replays are
// reported as mismatches until the original TTL elapses.
const consumedMarker = "\x00consumed"

var (
	getScript = redis.NewScript(`
		local cur = redis.call('GET', KEYS[1])
		if not cur then
			return false
		end
		return {cur, redis.call('PTTL', KEYS[1])}
	`)

	putScript = redis.NewScript(`
		local cur = redis.call('GET', KEYS[1])
		if cur and cur ~= ARGV[3] then
			return {0, cur, redis.call('PTTL', KEYS[1])}
		end
		redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
		return {1, ARGV[1], tonumber(ARGV[2])}
	`)

	takeScript = redis.NewScript(`
		local cur = redis.call('GET', KEYS[1])
		if not cur then
			return 0
		end
		if cur == ARGV[2] or cur ~= ARGV[1] then
			return 2
		end
		local ttl = redis.call('PTTL', KEYS[1])
		if ttl > 0 then
			redis.call('SET', KEYS[1], ARGV[2], 'PX', ttl)
		else
			redis.call('DEL', KEYS[1])
		end
		return 1
	`)
)

// RedisStore implements Store on Redis. Every operation is a single script so
// concurrent callers observe a consistent view of each key.
type RedisStore struct {
	client redis.Cmdable
	now    func() time.Time
}

// NewRedisStore builds a Redis-backed challenge store.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func (s *RedisStore) Get(ctx context.Context, key Key) (Challenge, error) {
	res, err := getScript.Run(ctx, s.client, []string{key.String()}).Slice()
	if errors.Is(err, redis.Nil) {
		return Challenge{}, ErrAbsent
	}
	if err != nil {
		return Challenge{}, fmt.Errorf("challenge get: %w", err)
	}
	if len(res) != 2 {
		return Challenge{}, fmt.Errorf("challenge get: unexpected reply %v", res)
	}
	code, _ := res[0].(string)
	if code == consumedMarker {
		return Challenge{}, ErrConsumed
	}
	pttl, _ := res[1].(int64)
	return Challenge{Code: code, ExpiresAt: s.expiry(pttl)}, nil
}

func (s *RedisStore) Put(ctx context.Context, key Key, code string, ttl time.Duration) (Challenge, bool, error) {
	if ttl <= 0 {
		return Challenge{}, false, fmt.Errorf("challenge put: ttl must be positive")
	}
	res, err := putScript.Run(ctx, s.client, []string{key.String()}, code, ttl.Milliseconds(), consumedMarker).Slice()
	if err != nil {
		return Challenge{}, false, fmt.Errorf("challenge put: %w", err)
	}
	if len(res) != 3 {
		return Challenge{}, false, fmt.Errorf("challenge put: unexpected reply %v", res)
	}
	stored, _ := res[0].(int64)
	current, _ := res[1].(string)
	pttl, _ := res[2].(int64)
	return Challenge{Code: current, ExpiresAt: s.expiry(pttl)}, stored == 1, nil
}

func (s *RedisStore) TakeIfMatches(ctx context.Context, key Key, code string) (TakeResult, error) {
	res, err := takeScript.Run(ctx, s.client, []string{key.String()}, code, consumedMarker).Int64()
	if err != nil {
		return Absent, fmt.Errorf("challenge take: %w", err)
	}
	switch res {
	case 1:
		return Taken, nil
	case 2:
		return Mismatch, nil
	default:
		return Absent, nil
	}
}

func (s *RedisStore) Clear(ctx context.Context, key Key) error {
	if err := s.client.Del(ctx, key.String()).Err(); err != nil {
		return fmt.Errorf("challenge clear: %w", err)
	}
	return nil
}

func (s *RedisStore) expiry(pttl int64) time.Time {
	if pttl < 0 {
		pttl = 0
	}
	return s.now().Add(time.Duration(pttl) * time.Millisecond)
}
