package ratelimit_test

import (
	"testing"
	"time"

	"github.com/payflow/payflow/internal/ratelimit"
)

func TestAllow_WithinBudget(t *testing.T) {
	l := ratelimit.New(ratelimit.Config{Window: time.Minute, Max: 3})

	for i := 0; i < 3; i++ {
		if !l.Allow("k") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if l.Allow("k") {
		t.Error("request over budget should be denied")
	}
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	l := ratelimit.New(ratelimit.Config{Window: time.Minute, Max: 1})

	if !l.Allow("a") {
		t.Fatal("first request for a should pass")
	}
	if !l.Allow("b") {
		t.Error("b must not share a's budget")
	}
	if l.Allow("a") {
		t.Error("a is over budget")
	}
}

func TestAllow_WindowResets(t *testing.T) {
	now := time.Now()
	l := ratelimit.NewWithClock(ratelimit.Config{Window: time.Minute, Max: 1}, func() time.Time { return now })

	if !l.Allow("k") {
		t.Fatal("first request should pass")
	}
	if l.Allow("k") {
		t.Fatal("second request in window should be denied")
	}

	now = now.Add(time.Minute + time.Second)
	if !l.Allow("k") {
		t.Error("request in a fresh window should pass")
	}
}

func TestAllow_ZeroMaxDisables(t *testing.T) {
	l := ratelimit.New(ratelimit.Config{Window: time.Minute, Max: 0})

	for i := 0; i < 100; i++ {
		if !l.Allow("k") {
			t.Fatal("limiting should be disabled with Max=0")
		}
	}
}
