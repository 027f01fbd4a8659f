// Package backoff computes retry delays for failed delivery attempts.
package backoff

import (
	"math"
	"math/rand"
	"time"

	"fieldq/internal/config"
)

// Policy kinds. "exp" doubles the delay per attempt up to the cap,
// "exp-jitter" additionally randomizes within [delay/2, delay], "fixed"
// always waits the base delay, and "none" disables automatic retries
// entirely.
const (
	KindExponential       = "exp"
	KindExponentialJitter = "exp-jitter"
	KindFixed             = "fixed"
	KindNone              = "none"
)

// Policy describes how retry delays grow across attempts.
type Policy struct {
	Kind string
	Base time.Duration
	Cap  time.Duration

	// MaxAttempts caps automatic retries; zero means unlimited.
	MaxAttempts int
}

// FromConfig builds a policy from the retry configuration section.
func FromConfig(cfg config.Retry) Policy {
	return Policy{
		Kind:        cfg.Policy,
		Base:        time.Duration(cfg.BaseSeconds) * time.Second,
		Cap:         time.Duration(cfg.CapSeconds) * time.Second,
		MaxAttempts: cfg.MaxAttempts,
	}
}

// NextDelay returns how long to wait before the attempt following the given
// completed attempt count. attempts is the number of attempts already made,
// so the first retry passes 1.
func (p Policy) NextDelay(attempts int) time.Duration {
	if p.Kind == KindNone {
		return 0
	}
	if attempts < 1 {
		attempts = 1
	}

	base := p.Base
	if base <= 0 {
		base = time.Second
	}

	switch p.Kind {
	case KindFixed:
		return p.clamp(base)
	case KindExponentialJitter:
		delay := p.clamp(scale(base, attempts-1))
		half := delay / 2
		return half + time.Duration(rand.Int63n(int64(half)+1))
	default:
		return p.clamp(scale(base, attempts-1))
	}
}

// Exhausted reports whether automatic retries are spent for the given
// completed attempt count. Under the "none" policy any completed attempt
// exhausts the item.
func (p Policy) Exhausted(attempts int) bool {
	if p.Kind == KindNone {
		return attempts >= 1
	}
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}

func (p Policy) clamp(d time.Duration) time.Duration {
	if p.Cap > 0 && d > p.Cap {
		return p.Cap
	}
	return d
}

// scale doubles base per step, guarding against overflow for large counts.
func scale(base time.Duration, steps int) time.Duration {
	if steps <= 0 {
		return base
	}
	if steps > 62 || float64(base)*math.Pow(2, float64(steps)) > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return base << uint(steps)
}
