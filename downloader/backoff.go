package downloader

import (
	"math/rand"
	"time"
)

// backoff computes a doubling delay capped at max, extended with a jitter
// term so concurrent retries of many segments don't all wake up at once.
// Grounded on the teacher's proxy.BackoffStrategy (initial, current, max,
// doubling Next()), extended here with the jitter spec.md requires.
type backoff struct {
	base    time.Duration
	max     time.Duration
	current time.Duration
}

func newBackoff(base, max time.Duration) *backoff {
	return &backoff{base: base, max: max, current: base}
}

// next returns the delay for the upcoming attempt and advances the
// internal doubling state.
func (b *backoff) next() time.Duration {
	delay := b.current
	if delay > b.max {
		delay = b.max
	}

	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}

	jitterSpan := int64(float64(delay) * 0.3)
	var jitter time.Duration
	if jitterSpan > 0 {
		jitter = time.Duration(rand.Int63n(jitterSpan))
	}
	total := delay + jitter
	if total > b.max {
		return b.max
	}
	return total
}

func (b *backoff) reset() {
	b.current = b.base
}
