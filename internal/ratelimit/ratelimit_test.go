package ratelimit

import (
	"strconv"
	"testing"
	"time"
)

func TestAllowWithinLimit(t *testing.T) {
	l := New(Config{RequestsPerSecond: 3})
	now := time.Now()
	for i := 0; i < 3; i++ {
		ok, _, _ := l.Allow("1.2.3.4", now)
		if !ok {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	ok, _, retry := l.Allow("1.2.3.4", now)
	if ok {
		t.Fatalf("4th request should be denied")
	}
	if retry <= 0 {
		t.Fatalf("expected positive retry-after, got %v", retry)
	}
}

func TestWindowSlidesForward(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1})
	start := time.Now()
	ok, _, _ := l.Allow("5.6.7.8", start)
	if !ok {
		t.Fatalf("first request should be allowed")
	}
	ok, _, _ = l.Allow("5.6.7.8", start.Add(500*time.Millisecond))
	if ok {
		t.Fatalf("second request within window should be denied")
	}
	ok, _, _ = l.Allow("5.6.7.8", start.Add(1100*time.Millisecond))
	if !ok {
		t.Fatalf("request after window should be allowed")
	}
}

func TestDistinctKeysAreIndependent(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1})
	now := time.Now()
	ok1, _, _ := l.Allow("10.0.0.1", now)
	ok2, _, _ := l.Allow("10.0.0.2", now)
	if !ok1 || !ok2 {
		t.Fatalf("distinct keys should each get their own budget")
	}
}

func TestSweepRemovesIdleEntries(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1, MaxEntries: 1, IdleTTL: time.Millisecond})
	now := time.Now()
	l.Allow("a", now)
	// a second key hashed into the same shard as "a" forces the
	// maxEntriesExceeded check, triggering a sweep that evicts the idle "a"
	// entry given the 1ms TTL
	sh := l.shardFor("a")
	other := ""
	for i := 0; other == ""; i++ {
		if k := strconv.Itoa(i); l.shardFor(k) == sh {
			other = k
		}
	}
	later := now.Add(10 * time.Millisecond)
	ok, _, _ := l.Allow(other, later)
	if !ok {
		t.Fatalf("expected room for new key after sweep")
	}
	if _, still := sh.entries["a"]; still {
		t.Fatalf("expected idle entry \"a\" swept from its shard")
	}
}
