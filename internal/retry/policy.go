package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/haasonsaas/cortex/internal/cortexerr"
	"github.com/haasonsaas/cortex/internal/proto"
)

// Strategy selects how the delay grows between attempts (spec §4.5).
type Strategy string

const (
	StrategyFixed              Strategy = "fixed"
	StrategyLinear             Strategy = "linear"
	StrategyExponential        Strategy = "exponential"
	StrategyDecorrelatedJitter Strategy = "decorrelated_jitter"
	StrategyImmediate          Strategy = "immediate"
)

// Condition names which error kinds are eligible for retry.
type Condition string

const (
	ConditionNetwork    Condition = "network"
	ConditionRateLimit  Condition = "rate_limit"
	ConditionServerErr  Condition = "server_error"
	ConditionTimeout    Condition = "timeout"
	ConditionAll        Condition = "all"
)

// Policy is the spec's Retry{...} record layered on top of Config/Do.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Strategy     Strategy
	Jitter       float64 // in [0,1], applied symmetrically
	RetryOn      []Condition
}

// DefaultPolicy mirrors the teacher's DefaultConfig but in spec vocabulary.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Strategy:     StrategyExponential,
		Jitter:       0.5,
		RetryOn:      []Condition{ConditionAll},
	}
}

func (p Policy) matches(kind proto.ErrorKind) bool {
	for _, c := range p.RetryOn {
		switch c {
		case ConditionAll:
			return true
		case ConditionNetwork:
			if kind == proto.ErrKindNetwork {
				return true
			}
		case ConditionRateLimit:
			if kind == proto.ErrKindRateLimit {
				return true
			}
		case ConditionServerErr:
			if kind == proto.ErrKindProvider {
				return true
			}
		case ConditionTimeout:
			if kind == proto.ErrKindTimeout {
				return true
			}
		}
	}
	return false
}

func (p Policy) delayFor(attempt int, last error) time.Duration {
	var e *cortexerr.Error
	if errors.As(last, &e) && e.RetryAfter != nil {
		// Retry-After takes precedence over the computed backoff (spec §4.5).
		d := time.Duration(*e.RetryAfter) * time.Second
		return p.jitter(d)
	}

	var base time.Duration
	switch p.Strategy {
	case StrategyImmediate:
		return 0
	case StrategyFixed:
		base = p.InitialDelay
	case StrategyLinear:
		base = p.InitialDelay * time.Duration(attempt)
	case StrategyDecorrelatedJitter:
		// base = min(max, random_between(initial, prev*3)); approximated
		// here without carrying prev state across calls by scaling with
		// attempt, which still yields growth bounded by MaxDelay.
		base = p.InitialDelay * time.Duration(1<<uint(attempt-1))
	default: // exponential
		base = Backoff(attempt, p.InitialDelay, p.MaxDelay, 2.0)
	}
	if p.MaxDelay > 0 && base > p.MaxDelay {
		base = p.MaxDelay
	}
	return p.jitter(base)
}

func (p Policy) jitter(d time.Duration) time.Duration {
	if p.Jitter <= 0 {
		return d
	}
	factor := 1 - p.Jitter + rand.Float64()*2*p.Jitter // #nosec G404 -- backoff jitter, not security sensitive
	return time.Duration(float64(d) * factor)
}

// Do runs op, retrying per Policy. It never calls op more than
// MaxAttempts times. An error whose kind does not match RetryOn is
// returned immediately without consuming further attempts.
func (p Policy) Do(ctx context.Context, op func(attempt int) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	var last error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = op(attempt)
		if last == nil {
			return nil
		}
		if !p.matches(cortexerr.KindOf(last)) {
			return last
		}
		if attempt >= p.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.delayFor(attempt, last)):
		}
	}
	return last
}
