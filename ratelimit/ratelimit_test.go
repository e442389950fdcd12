package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"
)

// testLimiter pins the clock so window math is deterministic.
func testLimiter(cfg Config) (*Limiter, *time.Time) {
	l := New(cfg)
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestAllow_HourlyBurst(t *testing.T) {
	// WHAT: The request over the hourly ceiling is rejected with a
	// retry-after pointing at the hour window's reset.
	l, now := testLimiter(Config{Read: Limits{PerHour: 3, PerDay: 100}})
	key := ClientKey("203.0.113.9", "curl/8")

	for i := range 3 {
		if d := l.Allow(key, OpRead); !d.Allowed {
			t.Fatalf("request %d rejected", i)
		}
	}
	d := l.Allow(key, OpRead)
	if d.Allowed {
		t.Fatal("4th request allowed past burst of 3")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Hour {
		t.Errorf("retry after = %v", d.RetryAfter)
	}

	// The hour window lapses; requests flow again.
	*now = now.Add(61 * time.Minute)
	if d := l.Allow(key, OpRead); !d.Allowed {
		t.Error("rejected after hour window reset")
	}
}

func TestAllow_DailyQuota(t *testing.T) {
	// WHAT: The daily ceiling holds even when each hour stays under burst.
	// WHY: Both windows must pass, not either.
	l, now := testLimiter(Config{Read: Limits{PerHour: 10, PerDay: 15}})
	key := ClientKey("203.0.113.9", "curl/8")

	for i := range 15 {
		if i == 10 {
			*now = now.Add(time.Hour + time.Minute)
		}
		if d := l.Allow(key, OpRead); !d.Allowed {
			t.Fatalf("request %d rejected under quota", i)
		}
	}
	d := l.Allow(key, OpRead)
	if d.Allowed {
		t.Fatal("16th request allowed past daily quota of 15")
	}
	if d.RetryAfter > 24*time.Hour {
		t.Errorf("retry after = %v", d.RetryAfter)
	}
}

func TestAllow_OperationsIndependent(t *testing.T) {
	// WHAT: Exhausting the revalidate quota leaves reads untouched.
	l, _ := testLimiter(Config{
		Read:       Limits{PerHour: 100, PerDay: 1000},
		Revalidate: Limits{PerHour: 1, PerDay: 10},
	})
	key := ClientKey("203.0.113.9", "curl/8")

	if d := l.Allow(key, OpRevalidate); !d.Allowed {
		t.Fatal("first revalidate rejected")
	}
	if d := l.Allow(key, OpRevalidate); d.Allowed {
		t.Fatal("second revalidate allowed past burst of 1")
	}
	if d := l.Allow(key, OpRead); !d.Allowed {
		t.Error("read rejected by revalidate exhaustion")
	}
}

func TestAllow_ClientsIndependent(t *testing.T) {
	// WHAT: Different IP or user agent means a different budget.
	l, _ := testLimiter(Config{Read: Limits{PerHour: 1, PerDay: 10}})

	a := ClientKey("203.0.113.9", "curl/8")
	b := ClientKey("203.0.113.10", "curl/8")
	c := ClientKey("203.0.113.9", "Mozilla/5.0")

	if d := l.Allow(a, OpRead); !d.Allowed {
		t.Fatal("client a rejected")
	}
	if d := l.Allow(a, OpRead); d.Allowed {
		t.Fatal("client a over budget")
	}
	if d := l.Allow(b, OpRead); !d.Allowed {
		t.Error("different IP shares a budget")
	}
	if d := l.Allow(c, OpRead); !d.Allowed {
		t.Error("different user agent shares a budget")
	}
}

func TestAllow_RejectionsConsumeNothing(t *testing.T) {
	// WHAT: Hammering a rejected limit does not eat the daily quota.
	l, now := testLimiter(Config{Read: Limits{PerHour: 2, PerDay: 4}})
	key := ClientKey("203.0.113.9", "curl/8")

	l.Allow(key, OpRead)
	l.Allow(key, OpRead)
	for range 50 {
		if d := l.Allow(key, OpRead); d.Allowed {
			t.Fatal("allowed past hourly burst")
		}
	}

	*now = now.Add(61 * time.Minute)
	if d := l.Allow(key, OpRead); !d.Allowed {
		t.Error("daily quota consumed by rejected requests")
	}
	if d := l.Allow(key, OpRead); !d.Allowed {
		t.Error("daily quota consumed by rejected requests")
	}
}

func TestGC_DropsExpiredBuckets(t *testing.T) {
	// WHAT: Lapsed buckets are swept during checks; the map stays bounded.
	l, now := testLimiter(Config{Read: Limits{PerHour: 5, PerDay: 50}})

	l.Allow(ClientKey("203.0.113.1", "x"), OpRead)
	l.Allow(ClientKey("203.0.113.2", "x"), OpRead)

	*now = now.Add(25 * time.Hour)
	l.mu.Lock()
	l.gcLocked(*now)
	size := len(l.buckets)
	l.mu.Unlock()
	if size != 0 {
		t.Errorf("buckets after gc = %d, want 0", size)
	}
}

func TestClientKey_Shape(t *testing.T) {
	// WHAT: Keys are stable 64-hex digests; raw identity never leaks.
	k := ClientKey("203.0.113.9", "curl/8")
	if len(k) != 64 {
		t.Errorf("key length = %d", len(k))
	}
	if k != ClientKey("203.0.113.9", "curl/8") {
		t.Error("key not deterministic")
	}
}

func TestExtractIP(t *testing.T) {
	// WHAT: X-Forwarded-For's first hop wins; RemoteAddr is the fallback.
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "198.51.100.7:4411"
	if got := ExtractIP(r); got != "198.51.100.7" {
		t.Errorf("remote addr: got %q", got)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := ExtractIP(r); got != "203.0.113.9" {
		t.Errorf("xff: got %q", got)
	}
}
