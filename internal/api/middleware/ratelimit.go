package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/fleethub/fleethub/internal/api/respond"
)

// anonymousKey buckets requests carrying no bearer credential.
const anonymousKey = "__anonymous__"

// RateLimiter is a per-principal sliding-window limiter. The principal key
// is the raw bearer token when present, else a shared anonymous bucket.
type RateLimiter struct {
	max    int
	window time.Duration

	mu      sync.Mutex
	buckets map[string][]time.Time

	// Now is the clock; tests swap it for a fake.
	Now func() time.Time

	done chan struct{}
}

// NewRateLimiter creates a limiter allowing max requests per window and
// starts the minutely bucket sweeper. The sweeper goroutine never blocks
// process exit; call Stop to end it deterministically.
func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		max:     max,
		window:  window,
		buckets: make(map[string][]time.Time),
		Now:     time.Now,
		done:    make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

// Stop terminates the background sweeper.
func (rl *RateLimiter) Stop() {
	select {
	case <-rl.done:
	default:
		close(rl.done)
	}
}

// Middleware enforces the limit and stamps X-RateLimit-* headers on every
// response, 429 with Retry-After when over.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := anonymousKey
		if tok, ok := BearerToken(r); ok {
			key = "bearer:" + tok
		}

		now := rl.Now()
		allowed, remaining, oldest := rl.take(key, now)

		reset := oldest.Add(rl.window).Unix()
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.max))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))

		if !allowed {
			retryAfter := int(math.Ceil(
				(rl.window - now.Sub(oldest)).Seconds()))
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			respond.JSON(w, http.StatusTooManyRequests, map[string]any{
				"error":      fmt.Sprintf("rate limit exceeded: %d requests per %s", rl.max, rl.window),
				"retryAfter": retryAfter,
			})
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		next.ServeHTTP(w, r)
	})
}

// take prunes expired timestamps for key, then either records now and
// allows, or denies. Returns the oldest retained timestamp for the reset
// header (now itself when the bucket was empty).
func (rl *RateLimiter) take(key string, now time.Time) (allowed bool, remaining int, oldest time.Time) {
	cutoff := now.Add(-rl.window)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	stamps := rl.buckets[key]
	kept := stamps[:0]
	for _, t := range stamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= rl.max {
		rl.buckets[key] = kept
		return false, 0, kept[0]
	}

	kept = append(kept, now)
	rl.buckets[key] = kept
	return true, rl.max - len(kept), kept[0]
}

// sweepLoop drops empty buckets every minute so one-off principals don't
// accumulate forever.
func (rl *RateLimiter) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			cutoff := rl.Now().Add(-rl.window)
			rl.mu.Lock()
			for key, stamps := range rl.buckets {
				live := false
				for _, t := range stamps {
					if t.After(cutoff) {
						live = true
						break
					}
				}
				if !live {
					delete(rl.buckets, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}
