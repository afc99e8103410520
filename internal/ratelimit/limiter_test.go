package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCounter returns a scripted count per key, incrementing on each call
// the way the real window counter does.
type fakeCounter struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
	keys   []string
}

func newFakeCounter() *fakeCounter {
	return &fakeCounter{counts: make(map[string]int64)}
}

func (c *fakeCounter) Count(ctx context.Context, key string, now time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	c.counts[key]++
	c.keys = append(c.keys, key)
	return c.counts[key], nil
}

func testLimiter(limit int, failOpen bool, counter counter) *Limiter {
	return &Limiter{
		counter:  counter,
		limit:    limit,
		window:   time.Minute,
		failOpen: failOpen,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestLimiter_AllowsUpToLimit(t *testing.T) {
	t.Parallel()

	limiter := testLimiter(5, false, newFakeCounter())

	for i := 0; i < 5; i++ {
		result := limiter.Allow(context.Background(), "203.0.113.7")
		assert.True(t, result.Allowed, "request %d within the limit must be admitted", i+1)
		assert.Equal(t, 5, result.Limit)
		assert.Equal(t, 4-i, result.Remaining)
	}
}

func TestLimiter_DeniesBeyondLimit(t *testing.T) {
	t.Parallel()

	limiter := testLimiter(2, false, newFakeCounter())

	limiter.Allow(context.Background(), "203.0.113.7")
	limiter.Allow(context.Background(), "203.0.113.7")
	result := limiter.Allow(context.Background(), "203.0.113.7")

	assert.False(t, result.Allowed)
	assert.Equal(t, 0, result.Remaining)
	assert.Equal(t, time.Minute, result.RetryAfter)
	assert.True(t, result.ResetAt.After(time.Now()))
}

func TestLimiter_ClientsAreIndependent(t *testing.T) {
	t.Parallel()

	limiter := testLimiter(1, false, newFakeCounter())

	first := limiter.Allow(context.Background(), "203.0.113.7")
	second := limiter.Allow(context.Background(), "203.0.113.8")

	assert.True(t, first.Allowed)
	assert.True(t, second.Allowed, "a saturated client must not affect others")
}

func TestLimiter_DeniedRequestsStillCount(t *testing.T) {
	t.Parallel()

	counter := newFakeCounter()
	limiter := testLimiter(1, false, counter)

	limiter.Allow(context.Background(), "203.0.113.7")
	limiter.Allow(context.Background(), "203.0.113.7")
	limiter.Allow(context.Background(), "203.0.113.7")

	assert.Len(t, counter.keys, 3, "every admission decision hits the counter")
}

// windowCounter models the sliding window the redis recipe maintains:
// entries older than the window are trimmed before the new request is added
// and counted, so a client's budget frees up as old requests age out.
type windowCounter struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string][]time.Time
}

func newWindowCounter(window time.Duration) *windowCounter {
	return &windowCounter{window: window, entries: make(map[string][]time.Time)}
}

func (c *windowCounter) Count(ctx context.Context, key string, now time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := now.Add(-c.window)
	kept := c.entries[key][:0]
	for _, ts := range c.entries[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	c.entries[key] = kept

	return int64(len(kept)), nil
}

func TestLimiter_WindowExpiryReadmits(t *testing.T) {
	t.Parallel()

	window := 50 * time.Millisecond
	limiter := &Limiter{
		counter:  newWindowCounter(window),
		limit:    2,
		window:   window,
		failOpen: false,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	limiter.Allow(context.Background(), "203.0.113.7")
	limiter.Allow(context.Background(), "203.0.113.7")
	denied := limiter.Allow(context.Background(), "203.0.113.7")
	require.False(t, denied.Allowed, "third request inside the window must be denied")

	time.Sleep(window + 10*time.Millisecond)

	readmitted := limiter.Allow(context.Background(), "203.0.113.7")
	assert.True(t, readmitted.Allowed, "a request after the window fully elapses must be admitted")
	assert.Equal(t, 1, readmitted.Remaining, "the expired window leaves only the new request counted")
}

func TestLimiter_FailOpenAdmitsWhenCounterDown(t *testing.T) {
	t.Parallel()

	counter := newFakeCounter()
	counter.err = errors.New("connection refused")
	limiter := testLimiter(5, true, counter)

	result := limiter.Allow(context.Background(), "203.0.113.7")

	assert.True(t, result.Allowed)
	assert.Equal(t, 5, result.Remaining)
}

func TestLimiter_FailClosedRejectsWhenCounterDown(t *testing.T) {
	t.Parallel()

	counter := newFakeCounter()
	counter.err = errors.New("connection refused")
	limiter := testLimiter(5, false, counter)

	result := limiter.Allow(context.Background(), "203.0.113.7")

	assert.False(t, result.Allowed)
	assert.Equal(t, 0, result.Remaining)
	assert.Equal(t, time.Minute, result.RetryAfter)
}

func TestLimiter_IPv6KeySanitization(t *testing.T) {
	t.Parallel()

	counter := newFakeCounter()
	limiter := testLimiter(5, false, counter)

	limiter.Allow(context.Background(), "2001:db8::1")

	require.Len(t, counter.keys, 1)
	assert.Equal(t, "rate_limit:2001_db8__1", counter.keys[0])
}
