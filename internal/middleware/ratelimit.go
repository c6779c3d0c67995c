package middleware

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const (
	challengeRateKeyPrefix = "rl:challenge:"
	maxLocalLimiters       = 10000
)

// localLimiters is the in-process fallback used while Redis is unreachable.
type localLimiters struct {
	mu       sync.Mutex
	perMin   int
	limiters map[string]*rate.Limiter
}

func (l *localLimiters) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		if len(l.limiters) >= maxLocalLimiters {
			l.limiters = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMin)), l.perMin)
		l.limiters[key] = lim
	}
	return lim.Allow()
}

// ChallengeRateLimit limits code requests per contact, or per IP when the body
// carries none, using a fixed one-minute Redis window. When Redis errors the
// limit is enforced per process instead.
func ChallengeRateLimit(cache redis.Cmdable, maxPerMin int, logger *slog.Logger) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 5
	}
	fallback := &localLimiters{perMin: maxPerMin, limiters: make(map[string]*rate.Limiter)}

	return func(c *fiber.Ctx) error {
		var req struct {
			Contact string `json:"contact"`
		}
		_ = c.BodyParser(&req)
		subject := strings.ToLower(strings.TrimSpace(req.Contact))
		if subject == "" {
			subject = c.IP()
		}
		key := challengeRateKeyPrefix + subject

		var allowed bool
		if cache != nil {
			cnt, err := cache.Incr(c.UserContext(), key).Result()
			if err == nil && cnt == 1 {
				cache.Expire(c.UserContext(), key, time.Minute)
			}
			if err != nil {
				logger.Warn("rate limit store unavailable, using local limiter", slog.Any("error", err))
				allowed = fallback.allow(key)
			} else {
				allowed = cnt <= int64(maxPerMin)
			}
		} else {
			allowed = fallback.allow(key)
		}

		if !allowed {
			return fiber.NewError(fiber.StatusTooManyRequests, "too many code requests, try again later")
		}
		return c.Next()
	}
}
