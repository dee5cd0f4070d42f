// Package ratelimit implements a sliding-window per-IP request limiter,
// sharded across a fixed number of locks so no single global mutex
// serializes every request the way a flat map would.
package ratelimit

import (
	"hash/fnv"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/nilsbr/rushd/internal/utils"
)

// shardCount is the number of independent lock/map pairs an IP's requests
// are hashed into. Chosen as a power of two so the mask is a cheap AND.
const shardCount = 32

// Config controls the limiter's window size and rate.
type Config struct {
	RequestsPerSecond int
	MaxEntries        int           // per shard; 0 = unlimited
	SweepInterval     time.Duration
	IdleTTL           time.Duration
	TrustProxy        bool
}

type entry struct {
	mu        sync.Mutex
	timestamps []time.Time
	lastSeen  time.Time
}

type shard struct {
	mu        sync.Mutex
	entries   map[string]*entry
	lastSweep time.Time
}

// Limiter enforces Config.RequestsPerSecond requests per IP within a
// trailing one-second window, evicting old timestamps lazily on each check
// rather than running a separate ticking goroutine.
type Limiter struct {
	cfg    Config
	shards [shardCount]*shard
}

// New creates a Limiter from cfg, filling in sane defaults for zero fields.
func New(cfg Config) *Limiter {
	if cfg.RequestsPerSecond < 1 {
		cfg.RequestsPerSecond = 1
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 15 * time.Minute
	}

	l := &Limiter{cfg: cfg}
	for i := range l.shards {
		l.shards[i] = &shard{entries: make(map[string]*entry), lastSweep: time.Now()}
	}
	return l
}

func (l *Limiter) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return l.shards[h.Sum32()%shardCount]
}

// Allow reports whether key (typically a client IP) may make another
// request now, along with how many requests remain in the current window
// and, if denied, how long until the oldest request in the window expires.
func (l *Limiter) Allow(key string, now time.Time) (ok bool, remaining int, retryAfter time.Duration) {
	sh := l.shardFor(key)

	sh.mu.Lock()
	if sh.maxEntriesExceeded(l.cfg.MaxEntries) {
		sh.sweepLocked(now, l.cfg.IdleTTL)
	}
	e := sh.entries[key]
	if e == nil {
		e = &entry{}
		sh.entries[key] = e
	}
	sh.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	windowStart := now.Add(-time.Second)
	kept := e.timestamps[:0]
	for _, ts := range e.timestamps {
		if ts.After(windowStart) {
			kept = append(kept, ts)
		}
	}
	e.timestamps = kept
	e.lastSeen = now

	if len(e.timestamps) >= l.cfg.RequestsPerSecond {
		oldest := e.timestamps[0]
		return false, 0, oldest.Add(time.Second).Sub(now)
	}

	e.timestamps = append(e.timestamps, now)
	remaining = l.cfg.RequestsPerSecond - len(e.timestamps)
	return true, remaining, 0
}

func (s *shard) maxEntriesExceeded(max int) bool {
	return max > 0 && len(s.entries) >= max
}

func (s *shard) sweepLocked(now time.Time, ttl time.Duration) {
	for key, e := range s.entries {
		e.mu.Lock()
		stale := now.Sub(e.lastSeen) > ttl
		e.mu.Unlock()
		if stale {
			delete(s.entries, key)
		}
	}
	s.lastSweep = now
}

// Middleware wraps next with per-IP sliding-window rate limiting, matching
// the original token-bucket middleware's header and status code contract:
// 429 with Retry-After/X-RateLimit-* on rejection, informational headers on
// the following requests.
func Middleware(l *Limiter) func(http.Handler) http.Handler {
	limitStr := strconv.Itoa(l.cfg.RequestsPerSecond)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := utils.ClientIP(r, l.cfg.TrustProxy)
			ok, remaining, retry := l.Allow(key, time.Now())
			if !ok {
				sec := int(retry.Seconds())
				if sec < 1 {
					sec = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(sec))
				w.Header().Set("X-RateLimit-Limit", limitStr)
				w.Header().Set("X-RateLimit-Remaining", "0")
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}

			w.Header().Set("X-RateLimit-Limit", limitStr)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			next.ServeHTTP(w, r)
		})
	}
}
