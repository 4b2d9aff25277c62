package echoapi

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const (
	maxRateLimitedUsers = 10000
	minLimiterTTL       = time.Minute
)

func adminMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.IsAdmin && contextHasAnyRole(ctx, roles) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// userRateLimiter holds one token bucket per recently active user.
// A bucket idle long enough to be full again is dropped: a new one behaves the same.
type userRateLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters *expirable.LRU[string, *rate.Limiter]
}

func newUserRateLimiter(perSecond float64, burst int) *userRateLimiter {
	return newSizedUserRateLimiter(perSecond, burst, maxRateLimitedUsers)
}

func newSizedUserRateLimiter(perSecond float64, burst, size int) *userRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &userRateLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: expirable.NewLRU[string, *rate.Limiter](size, nil, limiterTTL(perSecond, burst)),
	}
}

// limiterTTL is the time an empty bucket takes to fill up again, at least minLimiterTTL.
func limiterTTL(perSecond float64, burst int) time.Duration {
	if perSecond <= 0 {
		return minLimiterTTL
	}
	if refill := time.Duration(float64(burst) / perSecond * float64(time.Second)); refill > minLimiterTTL {
		return refill
	}
	return minLimiterTTL
}

func (rl *userRateLimiter) allow(userID string) bool {
	rl.mu.Lock()
	lim, ok := rl.limiters.Get(userID)
	if !ok {
		lim = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters.Add(userID, lim)
	}
	rl.mu.Unlock()
	return lim.Allow()
}

// middleware rejects the requests of users over their rate; a zero limit disables it.
func (rl *userRateLimiter) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if rl.limit <= 0 {
				return next(ctx)
			}
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if !rl.allow(claims.Subject) {
				return errTooManyRequests
			}
			return next(ctx)
		}
	}
}
