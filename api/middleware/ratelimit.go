package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/dirscrape/config"
	"github.com/use-agent/dirscrape/models"
	"golang.org/x/time/rate"
)

// idleLimiterTTL is how long an identity's bucket survives without requests.
const idleLimiterTTL = time.Hour

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiters maps identities to token buckets. Idle entries are pruned on
// insert, at most once per minute.
type limiters struct {
	mu        sync.Mutex
	cfg       config.RateLimitConfig
	entries   map[string]*limiterEntry
	lastPrune time.Time
}

func (l *limiters) get(identity string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[identity]
	if !ok {
		if now.Sub(l.lastPrune) > time.Minute {
			for id, e := range l.entries {
				if now.Sub(e.lastSeen) > idleLimiterTTL {
					delete(l.entries, id)
				}
			}
			l.lastPrune = now
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)}
		l.entries[identity] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

// RateLimit returns per-identity (API key or IP) token-bucket rate limiting
// middleware powered by golang.org/x/time/rate. Rejected requests get a
// Retry-After header.
func RateLimit(cfg config.RateLimitConfig) gin.HandlerFunc {
	if cfg.RequestsPerSecond <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	l := &limiters{cfg: cfg, entries: make(map[string]*limiterEntry)}

	return func(c *gin.Context) {
		// Prefer API key as identity (set by auth middleware); fall back to IP.
		identity := c.GetString(IdentityKey)
		if identity == "" {
			identity = c.ClientIP()
		}

		now := time.Now()
		limiter := l.get(identity, now)
		if !limiter.AllowN(now, 1) {
			wait := time.Duration(float64(time.Second) / cfg.RequestsPerSecond)
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			abort(c, http.StatusTooManyRequests, models.ErrCodeRateLimited, "rate limit exceeded, please slow down")
			return
		}

		c.Next()
	}
}
