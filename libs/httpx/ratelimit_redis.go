package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter is a fixed-window limiter whose counters live in Redis,
// so every replica behind a load balancer shares one budget per client.
type RedisRateLimiter struct {
	// TrustForwardedFor has the same meaning as on RateLimiter.
	TrustForwardedFor bool

	rdb    *redis.Client
	limit  int64
	window time.Duration
	prefix string
}

func NewRedisRateLimiter(rdb *redis.Client, limit int, window time.Duration, prefix string) *RedisRateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	if prefix == "" {
		prefix = "freeslots:rl"
	}
	return &RedisRateLimiter{rdb: rdb, limit: int64(limit), window: window, prefix: prefix}
}

// Middleware answers 429 once a client spends its window budget. When Redis
// is unreachable requests pass if failOpen is set and get 503 otherwise.
func (rl *RedisRateLimiter) Middleware(logger *slog.Logger, failOpen bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			count, ttl, err := rl.hit(r.Context(), rl.prefix+":"+clientKey(r, rl.TrustForwardedFor))
			if err != nil {
				logger.Warn("redis rate limiter error", "err", err, "fail_open", failOpen)
				if failOpen {
					next.ServeHTTP(w, r)
					return
				}
				WriteError(w, http.StatusServiceUnavailable, "rate limiter unavailable")
				return
			}
			if count > rl.limit {
				if ttl <= 0 {
					ttl = rl.window
				}
				tooManyRequests(w, ttl)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ReadyCheck pings the Redis server backing the limiter.
func (rl *RedisRateLimiter) ReadyCheck() func(context.Context) error {
	return func(ctx context.Context) error {
		return rl.rdb.Ping(ctx).Err()
	}
}

// hit counts one request against key and reports the count and the time left
// in the current window. The expiry is only set by the first hit.
func (rl *RedisRateLimiter) hit(ctx context.Context, key string) (int64, time.Duration, error) {
	var (
		incr *redis.IntCmd
		pttl *redis.DurationCmd
	)
	_, err := rl.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, rl.window)
		pttl = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return incr.Val(), pttl.Val(), nil
}
