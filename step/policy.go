package step

import (
	"math/rand"
	"time"
)

// RetryPolicy configures automatic retry behavior for a step, per spec.md
// §4.4's default policy (base 1s, factor 2, jitter ±20%, max 5 min, max
// attempts 10). Grounded on the teacher's graph/policy.go RetryPolicy, with
// MaxDelay's jitter changed from a teacher-style [0, base) addend to the
// spec's symmetric ±fraction multiplier.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts allowed, including the
	// first. A value of 1 means no retries.
	MaxAttempts int

	// BaseDelay is the delay before the second attempt; later attempts
	// double it until MaxDelay caps growth.
	BaseDelay time.Duration

	// MaxDelay caps the exponential growth of BaseDelay*2^n.
	MaxDelay time.Duration

	// JitterFraction randomizes each computed delay by ±JitterFraction
	// (e.g. 0.2 for ±20%) to avoid synchronized retry storms across runs.
	JitterFraction float64

	// Retryable overrides the default classifier's retry/fatal split for an
	// unclassified error. If nil, every unclassified error is retryable.
	Retryable func(error) bool
}

// DefaultRetryPolicy returns spec.md §4.4's default: base 1s, factor 2,
// jitter ±20%, cap 5 minutes, 10 attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    10,
		BaseDelay:      time.Second,
		MaxDelay:       5 * time.Minute,
		JitterFraction: 0.2,
	}
}

// PolicyOption overrides one field of a RetryPolicy built from
// DefaultRetryPolicy.
type PolicyOption func(*RetryPolicy)

// WithMaxAttempts overrides MaxAttempts.
func WithMaxAttempts(n int) PolicyOption {
	return func(p *RetryPolicy) { p.MaxAttempts = n }
}

// WithBaseDelay overrides BaseDelay.
func WithBaseDelay(d time.Duration) PolicyOption {
	return func(p *RetryPolicy) { p.BaseDelay = d }
}

// WithDefaultRetryPolicy builds a RetryPolicy from DefaultRetryPolicy with
// opts applied over it, for assigning into Executor.Policies.
func WithDefaultRetryPolicy(opts ...PolicyOption) RetryPolicy {
	p := DefaultRetryPolicy()
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// computeBackoff returns the delay before the next attempt after a failed
// attempt numbered attempt (1-based). attempt 1 failing yields the delay
// before attempt 2, attempt 2 failing yields the delay before attempt 3, and
// so on, doubling each time up to maxDelay and then jittered by
// ±jitterFraction. rng may be nil, in which case a process-global,
// non-deterministic source is used — callers that need deterministic replay
// must supply a seeded rng.
func computeBackoff(attempt int, base, maxDelay time.Duration, jitterFraction float64, rng *rand.Rand) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	shift := attempt - 1
	if shift > 62 {
		shift = 62
	}
	delay := base * time.Duration(1<<uint(shift))
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}

	if jitterFraction <= 0 {
		return delay
	}

	var r float64
	if rng != nil {
		r = rng.Float64()
	} else {
		r = rand.Float64() // #nosec G404 -- jitter timing, not security-sensitive
	}
	multiplier := 1 - jitterFraction + r*2*jitterFraction
	jittered := time.Duration(float64(delay) * multiplier)
	if jittered < 0 {
		jittered = 0
	}
	return jittered
}

// NextAttemptDelay computes the delay before retrying the attempt that just
// failed, using p's parameters (falling back to DefaultRetryPolicy's where p
// leaves a field at its zero value).
func (p RetryPolicy) NextAttemptDelay(attempt int, rng *rand.Rand) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultRetryPolicy().BaseDelay
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultRetryPolicy().MaxDelay
	}
	jitter := p.JitterFraction
	if jitter == 0 {
		jitter = DefaultRetryPolicy().JitterFraction
	}
	return computeBackoff(attempt, base, maxDelay, jitter, rng)
}

// ExhaustedAt reports whether attempt has used up the policy's retry budget
// (i.e. no further attempt should be scheduled).
func (p RetryPolicy) ExhaustedAt(attempt int) bool {
	max := p.MaxAttempts
	if max <= 0 {
		max = DefaultRetryPolicy().MaxAttempts
	}
	return attempt >= max
}
