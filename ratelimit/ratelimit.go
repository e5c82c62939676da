// Package ratelimit provides the token bucket that caps how much work
// breakpoint hits may consume. The bucket fills at a constant rate up to a
// fixed capacity, so short bursts are admitted while sustained overuse is
// rejected.
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"
)

// Capacity is derived from the fill rate rather than exposed as a second
// knob. A small factor keeps a burst from impacting the host process; the
// bucket then only rejects when consumption stays high for a while.
const (
	// DefaultConditionRate is the sustained budget, in interpreter steps
	// per second, for evaluating breakpoint conditions.
	DefaultConditionRate = 5000

	conditionCapacityFactor = 0.1
)

// Bucket is a thread-safe token bucket. Token counts may go momentarily
// negative through Take.
type Bucket struct {
	// tokens is read and decremented without the mutex; the mutex is only
	// held to increment it, which keeps it from overshooting capacity.
	tokens   atomic.Int64
	capacity int64
	fillRate int64

	mu         sync.Mutex
	fractional float64
	fillTime   int64

	now func() int64
}

// NewBucket creates a full bucket holding at most capacity tokens and
// refilling at fillRate tokens per second.
func NewBucket(capacity, fillRate int64) *Bucket {
	start := time.Now()
	b := &Bucket{
		capacity: capacity,
		fillRate: fillRate,
		now:      func() int64 { return time.Since(start).Nanoseconds() },
	}
	b.fillTime = b.now()
	b.tokens.Store(capacity)
	return b
}

// NewConditionBucket creates a bucket sized for condition evaluation cost
// with the default sustained rate.
func NewConditionBucket() *Bucket {
	return NewBucket(int64(DefaultConditionRate*conditionCapacityFactor), DefaultConditionRate)
}

// Request takes n tokens if the bucket holds at least that many and
// reports whether they were granted. Nothing is taken on refusal. Asking
// for more than the bucket's capacity always fails.
func (b *Bucket) Request(n int64) bool {
	if n > b.capacity {
		return false
	}
	if b.tokens.Add(-n) >= 0 {
		return true
	}
	return b.requestSlow(n)
}

// Take removes n tokens unconditionally; the balance may go negative.
func (b *Bucket) Take(n int64) {
	remaining := b.tokens.Add(-n)
	if remaining < 0 {
		// Refill opportunistically, otherwise a bucket that is only ever
		// drained would sink forever and waste accrued tokens.
		now := b.now()
		b.mu.Lock()
		b.refill(remaining, now)
		b.mu.Unlock()
	}
}

func (b *Bucket) requestSlow(n int64) bool {
	// Reading the clock outside the lock reduces contention.
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	cur := b.tokens.Load()
	if cur >= 0 {
		// Another request refilled the bucket between our decrement and
		// the lock acquisition.
		return true
	}
	if b.refill(n+cur, now) >= 0 {
		return true
	}

	// The request cannot be satisfied; give the tokens back.
	b.tokens.Add(n)
	return false
}

// refill credits tokens accrued since the last refill and returns the new
// balance. available is the balance not counting the in-flight request.
// Callers hold b.mu.
func (b *Bucket) refill(available, now int64) int64 {
	if now <= b.fillTime {
		return b.tokens.Load()
	}
	elapsed := now - b.fillTime
	b.fillTime = now

	accrued := float64(elapsed) * (float64(b.fillRate) / 1e9)
	if accrued > float64(b.capacity) {
		accrued = float64(b.capacity)
	}
	b.fractional += accrued
	ideal := int64(b.fractional)

	add := ideal
	if max := b.capacity - available; max < ideal {
		b.fractional = 0
		add = max
	} else {
		b.fractional -= float64(add)
	}
	return b.tokens.Add(add)
}
