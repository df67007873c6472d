package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTimeout         = 10 * time.Second
	defaultBreakerFailures = 5
	defaultBreakerCooldown = 30 * time.Second
)

// ErrTimeout is returned when the service does not answer within the timeout.
var ErrTimeout = errors.New("completion timed out")

// DefaultFallbacks are the canned replies used when the service cannot answer.
var DefaultFallbacks = []string{
	"I'm not sure about that one yet. An admin can teach me with /teach.",
	"Sorry, I can't answer that right now. Please try again in a bit.",
	"Good question! I don't have an answer at the moment.",
}

// Options configures a Guard. Zero values select the defaults.
type Options struct {
	Timeout         time.Duration
	Fallbacks       []string
	Pick            func(n int) int // index into Fallbacks; defaults to a uniform random pick
	BreakerFailures uint32          // consecutive failures that open the breaker
	BreakerCooldown time.Duration   // how long the breaker stays open
	Logger          *slog.Logger
}

// Result is what the bot sends. Fallback is true when Text is a canned reply.
type Result struct {
	Text     string
	Fallback bool
}

// Guard turns a Provider into a call that always yields a reply: one attempt
// bounded by a timeout, with a fallback reply on any failure. Identical
// concurrent requests (same key) share one call, and a circuit breaker skips
// the service entirely while it keeps failing.
type Guard struct {
	provider  Provider
	timeout   time.Duration
	fallbacks []string
	pick      func(n int) int
	breaker   *gobreaker.CircuitBreaker
	flight    singleflight.Group
	logger    *slog.Logger
}

func NewGuard(provider Provider, opts Options) *Guard {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if len(opts.Fallbacks) == 0 {
		opts.Fallbacks = DefaultFallbacks
	}
	if opts.Pick == nil {
		opts.Pick = rand.IntN
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = defaultBreakerFailures
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = defaultBreakerCooldown
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	logger := opts.Logger
	failures := opts.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "completion",
		MaxRequests: 1,
		Timeout:     opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Guard{
		provider:  provider,
		timeout:   opts.Timeout,
		fallbacks: opts.Fallbacks,
		pick:      opts.Pick,
		breaker:   breaker,
		logger:    logger,
	}
}

// Complete asks the service for an answer. It never returns an error: any
// failure is logged and replaced by a fallback reply. key identifies requests
// that may share one call, typically the group and normalized query.
//
// The shared call outlives any single caller. A caller whose ctx ends stops
// waiting and gets a fallback; the others still receive the answer.
func (g *Guard) Complete(ctx context.Context, key string, req Request) Result {
	ch := g.flight.DoChan(key, func() (any, error) {
		return g.breaker.Execute(func() (any, error) {
			return g.attempt(context.WithoutCancel(ctx), req)
		})
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			g.logger.Warn("completion failed, using fallback", "key", key, "error", r.Err)
			return Result{Text: g.Fallback(), Fallback: true}
		}
		if r.Shared {
			g.logger.Debug("completion shared", "key", key)
		}
		return Result{Text: r.Val.(string)}
	case <-ctx.Done():
		g.logger.Debug("caller left before completion finished", "key", key, "error", ctx.Err())
		return Result{Text: g.Fallback(), Fallback: true}
	}
}

// Fallback returns one of the configured fallback replies.
func (g *Guard) Fallback() string {
	i := g.pick(len(g.fallbacks))
	if i < 0 || i >= len(g.fallbacks) {
		i = 0
	}
	return g.fallbacks[i]
}

// State reports the circuit breaker state ("closed", "half-open", "open").
func (g *Guard) State() string {
	return g.breaker.State().String()
}

func (g *Guard) attempt(ctx context.Context, req Request) (string, error) {
	type result struct {
		resp Response
		err  error
	}
	// Buffered so the goroutine can always deliver and exit after a timeout.
	ch := make(chan result, 1)

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	go func() {
		defer cancel()
		resp, err := g.provider.Complete(callCtx, req)
		ch <- result{resp, err}
	}()

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) {
				return "", ErrTimeout
			}
			return "", r.err
		}
		if !r.resp.OK || strings.TrimSpace(r.resp.Text) == "" {
			return "", ErrMalformed
		}
		return r.resp.Text, nil
	case <-timer.C:
		return "", fmt.Errorf("%w after %s", ErrTimeout, g.timeout)
	}
}
