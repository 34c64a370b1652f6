package httpx

import (
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxRateBuckets bounds the in-process table before refilled buckets are dropped.
const maxRateBuckets = 10000

// RateLimiter decides whether a key may make another request. Allow grants limit
// requests per window.
type RateLimiter interface {
	Allow(key string, limit int, window time.Duration) rateDecision
	Close()
}

type rateDecision struct {
	allowed   bool
	count     int
	windowEnd time.Time
}

// bucketLimiter keeps one token bucket per key, refilling limit tokens per window.
// A bucket that has refilled completely carries no state and may be dropped.
type bucketLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	now     func() time.Time
}

// NewMemoryRateLimiter returns a limiter local to this process.
func NewMemoryRateLimiter() RateLimiter {
	return &bucketLimiter{buckets: make(map[string]*rate.Limiter), now: time.Now}
}

func (l *bucketLimiter) Allow(key string, limit int, window time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	now := l.now()
	every := rate.Every(window / time.Duration(limit))

	l.mu.Lock()
	defer l.mu.Unlock()
	bucket, ok := l.buckets[key]
	if !ok || bucket.Burst() != limit || bucket.Limit() != every {
		if len(l.buckets) >= maxRateBuckets {
			l.dropRefilled(now)
		}
		bucket = rate.NewLimiter(every, limit)
		l.buckets[key] = bucket
	}

	allowed := bucket.AllowN(now, 1)
	tokens := math.Max(bucket.TokensAt(now), 0)
	refill := time.Duration((float64(limit) - tokens) * float64(window) / float64(limit))
	return rateDecision{
		allowed:   allowed,
		count:     limit - int(math.Floor(tokens)),
		windowEnd: now.Add(refill),
	}
}

func (l *bucketLimiter) dropRefilled(now time.Time) {
	for key, bucket := range l.buckets {
		if bucket.TokensAt(now) >= float64(bucket.Burst()) {
			delete(l.buckets, key)
		}
	}
}

// Close is a no-op; buckets are dropped lazily.
func (l *bucketLimiter) Close() {}

// withRateLimit checks the budget of keyFn's key on route. Keys are scoped by route so reads
// never consume the transition budget.
func (r *Router) withRateLimit(route string, limit int, window time.Duration, keyFn func(*http.Request) string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if limit <= 0 || r.limiter == nil {
			next(w, req)
			return
		}
		key := keyFn(req)
		decision := r.limiter.Allow(route+"|"+key, limit, window)
		r.applyRateHeaders(w, limit, decision)
		if !decision.allowed {
			r.recordRateLimitHit(route, rateMetricKey(key))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, req)
	}
}

// rateLimitKeyIP keys on the connection's peer address. Forwarding headers are client
// controlled and are never used for budgets.
func rateLimitKeyIP(req *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		host = strings.TrimSpace(req.RemoteAddr)
	}
	if host == "" {
		host = "unknown"
	}
	return "ip:" + host
}

// rateLimitKeyTransition gives every caller a separate budget per service and transition,
// so a restart loop on one record leaves the others untouched.
func rateLimitKeyTransition(serviceID, transition string) func(*http.Request) string {
	return func(req *http.Request) string {
		return rateLimitKeyIP(req) + "|" + serviceID + "|" + strings.ToLower(transition)
	}
}

func rateMetricKey(key string) string {
	if key == "" {
		return "unknown"
	}
	if idx := strings.IndexRune(key, ':'); idx > 0 {
		return key[:idx]
	}
	return key
}
