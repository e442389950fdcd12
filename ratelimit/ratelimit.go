// Package ratelimit enforces per-client quotas at the service boundary.
// Clients are keyed by a hash of IP and user agent; each operation has an
// hourly burst ceiling and a daily quota, and a request must clear both.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Operations with independent quotas. Reads are cheap cache hits most of
// the time; revalidations always run the pipeline and are budgeted tighter.
const (
	OpRead       = "read"
	OpRevalidate = "revalidate"
)

// Limits is the pair of ceilings for one operation.
type Limits struct {
	PerHour int `yaml:"per_hour"`
	PerDay  int `yaml:"per_day"`
}

// Config configures the limiter.
type Config struct {
	Read       Limits `yaml:"read"`
	Revalidate Limits `yaml:"revalidate"`
}

func (c *Config) defaults() {
	if c.Read.PerHour <= 0 {
		c.Read.PerHour = 120
	}
	if c.Read.PerDay <= 0 {
		c.Read.PerDay = 1000
	}
	if c.Revalidate.PerHour <= 0 {
		c.Revalidate.PerHour = 20
	}
	if c.Revalidate.PerDay <= 0 {
		c.Revalidate.PerDay = 100
	}
}

// Decision is the outcome of a quota check. RetryAfter is set only on
// rejection, from the reset time of the exhausted window that expires
// soonest.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

type bucket struct {
	count   int
	resetAt time.Time
}

// Limiter holds process-wide counters. All access goes through one mutex;
// expired buckets are collected inline during checks.
type Limiter struct {
	cfg Config

	mu      sync.Mutex
	buckets map[string]*bucket
	checks  int

	now func() time.Time
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	cfg.defaults()
	return &Limiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// ClientKey derives the quota key from client identity.
func ClientKey(ip, userAgent string) string {
	sum := sha256.Sum256([]byte(ip + "|" + userAgent))
	return hex.EncodeToString(sum[:])
}

// KeyFromRequest is ClientKey applied to an incoming request.
func KeyFromRequest(r *http.Request) string {
	return ClientKey(ExtractIP(r), r.Header.Get("User-Agent"))
}

// Allow checks both windows for (clientKey, op) and, when both pass,
// consumes one unit from each. Rejected requests consume nothing.
func (l *Limiter) Allow(clientKey, op string) Decision {
	limits := l.limitsFor(op)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.checks++
	if l.checks%256 == 0 {
		l.gcLocked(now)
	}

	hour := l.windowLocked(clientKey+":"+op+":h", now, time.Hour)
	day := l.windowLocked(clientKey+":"+op+":d", now, 24*time.Hour)

	var blocked []*bucket
	if hour.count >= limits.PerHour {
		blocked = append(blocked, hour)
	}
	if day.count >= limits.PerDay {
		blocked = append(blocked, day)
	}
	if len(blocked) > 0 {
		soonest := blocked[0].resetAt
		for _, b := range blocked[1:] {
			if b.resetAt.Before(soonest) {
				soonest = b.resetAt
			}
		}
		retry := soonest.Sub(now)
		if retry < time.Second {
			retry = time.Second
		}
		return Decision{Allowed: false, RetryAfter: retry}
	}

	hour.count++
	day.count++
	return Decision{Allowed: true}
}

func (l *Limiter) limitsFor(op string) Limits {
	if op == OpRevalidate {
		return l.cfg.Revalidate
	}
	return l.cfg.Read
}

// windowLocked fetches the live bucket for key, resetting it when its
// window has lapsed. Caller holds the mutex.
func (l *Limiter) windowLocked(key string, now time.Time, span time.Duration) *bucket {
	b, ok := l.buckets[key]
	if !ok || now.After(b.resetAt) {
		b = &bucket{resetAt: now.Add(span)}
		l.buckets[key] = b
	}
	return b
}

func (l *Limiter) gcLocked(now time.Time) {
	for k, b := range l.buckets {
		if now.After(b.resetAt) {
			delete(l.buckets, k)
		}
	}
}

// ExtractIP returns the client IP from X-Forwarded-For or RemoteAddr.
func ExtractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
