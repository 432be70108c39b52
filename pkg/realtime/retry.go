package realtime

import (
	"math"
	"math/rand"
	"time"
)

// Retryer decides how long to wait before the next reconnection attempt.
type Retryer interface {
	// NextDelay returns the delay before the next attempt. attempt is
	// 0-based. The second return value reports whether to keep retrying.
	NextDelay(attempt int, lastErr error) (time.Duration, bool)

	// Reset is called after a successful connection.
	Reset()
}

// ExponentialBackoff implements exponential backoff with jitter. The zero
// number of MaxRetries means unlimited attempts, which is what the manager
// wants: reconnection only stops when the manager is closed.
type ExponentialBackoff struct {
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the grown delay.
	MaxDelay time.Duration

	// Multiplier is the growth factor between attempts.
	Multiplier float64

	// JitterFactor is the maximum jitter as a fraction of the delay
	// (0.0 to 1.0). Jitter avoids synchronized retries across clients.
	JitterFactor float64

	// MaxRetries limits the number of attempts; 0 means unlimited.
	MaxRetries int
}

func NewExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:    500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.3,
	}
}

func (r *ExponentialBackoff) NextDelay(attempt int, lastErr error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}

	delay := float64(r.BaseDelay) * math.Pow(r.Multiplier, float64(attempt))
	if delay > float64(r.MaxDelay) {
		delay = float64(r.MaxDelay)
	}

	if r.JitterFactor > 0 {
		//nolint:gosec // math/rand is fine for jitter, not security-critical
		jitter := delay * r.JitterFactor * (2*rand.Float64() - 1)
		delay += jitter
		if delay < 0 {
			delay = float64(r.BaseDelay)
		}
	}

	return time.Duration(delay), true
}

func (r *ExponentialBackoff) Reset() {}
