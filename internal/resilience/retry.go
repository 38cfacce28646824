package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"
)

// State is a step of the retry state machine.
type State string

const (
	StateAttempting State = "attempting"
	StateRetrying   State = "retrying"
	StateSucceeded  State = "succeeded"
	// StateFallback means every attempt failed and the caller should degrade.
	StateFallback State = "fallback"
)

// Transition records one move of the state machine.
type Transition struct {
	State   State         `json:"state"`
	Attempt int           `json:"attempt"`
	Delay   time.Duration `json:"delay,omitempty"`
	Err     string        `json:"error,omitempty"`
}

// Trace is the history of one guarded call.
type Trace struct {
	Op          string       `json:"op"`
	Transitions []Transition `json:"transitions"`

	mu sync.Mutex
}

func (t *Trace) record(s State, attempt int, delay time.Duration, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr := Transition{State: s, Attempt: attempt, Delay: delay}
	if err != nil {
		tr.Err = err.Error()
	}
	t.Transitions = append(t.Transitions, tr)
}

// Final returns the last state reached.
func (t *Trace) Final() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.Transitions) == 0 {
		return StateAttempting
	}
	return t.Transitions[len(t.Transitions)-1].State
}

// Attempts returns how many times the operation ran.
func (t *Trace) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, tr := range t.Transitions {
		if tr.State == StateAttempting {
			n++
		}
	}
	return n
}

// Policy bounds retries of an external call. Rate-limited failures wait RateLimitMultiplier times
// longer than ordinary ones. No wait exceeds MaxDelay.
type Policy struct {
	MaxRetries          uint64        `koanf:"max_retries"`
	BaseDelay           time.Duration `koanf:"base_delay"`
	MaxDelay            time.Duration `koanf:"max_delay"`
	RateLimitMultiplier float64       `koanf:"rate_limit_multiplier"`
}

// DefaultPolicy is used when no tuning is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:          3,
		BaseDelay:           500 * time.Millisecond,
		MaxDelay:            10 * time.Second,
		RateLimitMultiplier: 4,
	}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.RateLimitMultiplier < 1 {
		p.RateLimitMultiplier = 1
	}
	return p
}

// Do runs fn until it succeeds, fails permanently, exhausts the policy or ctx ends. A non-nil
// error always comes with a trace ending in StateFallback.
func (p Policy) Do(ctx context.Context, op string, fn func(context.Context) error) (*Trace, error) {
	p = p.normalized()
	tr := &Trace{Op: op}

	var (
		attempt     int
		lastErr     error
		rateLimited bool
	)

	expo := retry.NewExponential(p.BaseDelay)
	backoff := retry.WithMaxRetries(p.MaxRetries, retry.BackoffFunc(func() (time.Duration, bool) {
		d, stop := expo.Next()
		if stop {
			return 0, true
		}
		if rateLimited {
			d = time.Duration(float64(d) * p.RateLimitMultiplier)
		}
		d = min(d, p.MaxDelay)
		tr.record(StateRetrying, attempt, d, lastErr)
		log.Debug().Str("op", op).Int("attempt", attempt).Dur("delay", d).Bool("rate_limited", rateLimited).Msg("Retrying external call")
		return d, false
	}))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		tr.record(StateAttempting, attempt, 0, nil)

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		rateLimited = IsRateLimit(err)
		if IsPermanent(err) || ctx.Err() != nil {
			return err
		}
		return retry.RetryableError(err)
	})

	if err == nil {
		tr.record(StateSucceeded, attempt, 0, nil)
		return tr, nil
	}

	tr.record(StateFallback, attempt, 0, err)
	log.Warn().Err(err).Str("op", op).Int("attempts", attempt).Msg("External call failed, falling back")
	return tr, fmt.Errorf("%s failed after %d attempt(s): %w", op, attempt, err)
}

// RateLimitError marks a failure caused by provider throttling.
type RateLimitError struct {
	Err error
}

func (e *RateLimitError) Error() string {
	return "rate limited: " + e.Err.Error()
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// IsRateLimit reports whether err signals throttling, either as a *RateLimitError or through the
// status text providers put in their messages.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "resource_exhausted") || strings.Contains(msg, "rate limit")
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so that Do gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
