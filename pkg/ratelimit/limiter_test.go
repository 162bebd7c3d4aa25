package ratelimit

import (
	"testing"
	"time"
)

func TestLimiter_ExhaustAndRefill(t *testing.T) {
	now := time.Unix(1000, 0)
	lim := New(Config{
		Points: 10,
		Window: time.Minute,
		Clock:  func() time.Time { return now },
	})

	for i := 0; i < 10; i++ {
		if !lim.Consume("alice") {
			t.Fatalf("consume %d: expected allow", i+1)
		}
	}
	if lim.Consume("alice") {
		t.Fatal("11th consume: expected deny")
	}
	// A second denial must not dig below zero.
	if lim.Consume("alice") {
		t.Fatal("12th consume: expected deny")
	}

	// A lapsed window refills the full budget.
	now = now.Add(61 * time.Second)
	for i := 0; i < 10; i++ {
		if !lim.Consume("alice") {
			t.Fatalf("post-window consume %d: expected allow", i+1)
		}
	}
	if lim.Consume("alice") {
		t.Fatal("post-window 11th consume: expected deny")
	}
}

func TestLimiter_SendersAreIndependent(t *testing.T) {
	now := time.Unix(1000, 0)
	lim := New(Config{
		Points: 2,
		Window: time.Minute,
		Clock:  func() time.Time { return now },
	})

	lim.Consume("alice")
	lim.Consume("alice")
	if lim.Consume("alice") {
		t.Fatal("alice should be exhausted")
	}
	if !lim.Consume("bob") {
		t.Fatal("bob should be unaffected by alice")
	}
}

func TestLimiter_ConsumeWithOverrides(t *testing.T) {
	now := time.Unix(1000, 0)
	lim := New(Config{
		Points: 10,
		Window: time.Minute,
		Clock:  func() time.Time { return now },
	})

	// Tenant override of 2 points per 30s.
	if !lim.ConsumeWith("t1:alice", 2, 30*time.Second) {
		t.Fatal("first consume: expected allow")
	}
	if !lim.ConsumeWith("t1:alice", 2, 30*time.Second) {
		t.Fatal("second consume: expected allow")
	}
	if lim.ConsumeWith("t1:alice", 2, 30*time.Second) {
		t.Fatal("third consume: expected deny")
	}

	now = now.Add(31 * time.Second)
	if !lim.ConsumeWith("t1:alice", 2, 30*time.Second) {
		t.Fatal("post-window consume: expected allow")
	}
}

func TestLimiter_SweepEvictsLapsed(t *testing.T) {
	now := time.Unix(1000, 0)
	lim := New(Config{
		Points: 10,
		Window: time.Minute,
		Clock:  func() time.Time { return now },
	})

	lim.Consume("alice")
	lim.Consume("bob")
	if got := lim.Len(); got != 2 {
		t.Fatalf("expected 2 buckets, got %d", got)
	}

	now = now.Add(2 * time.Minute)
	lim.Consume("carol")

	if evicted := lim.Sweep(); evicted != 2 {
		t.Fatalf("expected 2 evictions, got %d", evicted)
	}
	if got := lim.Len(); got != 1 {
		t.Fatalf("expected 1 bucket after sweep, got %d", got)
	}
}

func TestLimiter_Remaining(t *testing.T) {
	now := time.Unix(1000, 0)
	lim := New(Config{
		Points: 5,
		Window: time.Minute,
		Clock:  func() time.Time { return now },
	})

	if got := lim.Remaining("alice"); got != 5 {
		t.Fatalf("fresh sender: expected 5 remaining, got %d", got)
	}
	lim.Consume("alice")
	lim.Consume("alice")
	if got := lim.Remaining("alice"); got != 3 {
		t.Fatalf("expected 3 remaining, got %d", got)
	}
}
