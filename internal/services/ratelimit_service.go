package services

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	loginAttemptWindow = 15 * time.Minute
	maxLoginAttempts   = 5
)

// RateLimitService tracks login attempts per abuse key (caller IP + email) in
// a sliding window, backed by redis so the count holds across instances.
type RateLimitService interface {
	// Allow reports whether another attempt is permitted. Fail-closed: if
	// redis is unreachable the answer is false.
	Allow(ctx context.Context, key string) bool

	// Record appends the current attempt. Entries age out of the window
	// rather than being banned permanently.
	Record(ctx context.Context, key string)

	Window() time.Duration
}

type rateLimitService struct {
	redis *redis.Client
	now   func() time.Time // overridable in tests
}

func NewRateLimitService(redisClient *redis.Client) RateLimitService {
	return &rateLimitService{redis: redisClient, now: time.Now}
}

func (s *rateLimitService) Allow(ctx context.Context, key string) bool {
	rk := attemptKey(key)
	cutoff := s.now().Add(-loginAttemptWindow).UnixNano()

	if err := s.redis.ZRemRangeByScore(ctx, rk, "0", strconv.FormatInt(cutoff, 10)).Err(); err != nil {
		log.Printf("[ratelimit][allow] redis unavailable, denying: err=%v", err)
		return false
	}
	count, err := s.redis.ZCard(ctx, rk).Result()
	if err != nil {
		log.Printf("[ratelimit][allow] redis unavailable, denying: err=%v", err)
		return false
	}
	return count < maxLoginAttempts
}

func (s *rateLimitService) Record(ctx context.Context, key string) {
	rk := attemptKey(key)
	now := s.now()

	// unique member so near-simultaneous attempts both count
	member := strconv.FormatInt(now.UnixNano(), 10) + ":" + uuid.NewString()
	if err := s.redis.ZAdd(ctx, rk, redis.Z{Score: float64(now.UnixNano()), Member: member}).Err(); err != nil {
		log.Printf("[ratelimit][record] redis unavailable: key=%q err=%v", key, err)
		return
	}
	if err := s.redis.Expire(ctx, rk, loginAttemptWindow).Err(); err != nil {
		log.Printf("[ratelimit][record] expire failed: key=%q err=%v", key, err)
	}
}

func (s *rateLimitService) Window() time.Duration {
	return loginAttemptWindow
}

func attemptKey(key string) string {
	return "login_attempts:" + key
}
