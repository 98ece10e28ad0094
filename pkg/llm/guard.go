package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"github.com/xhad/veritas/internal/models"
	"github.com/xhad/veritas/internal/types"
	"golang.org/x/time/rate"
)

// GuardConfig bounds calls to a provider.
type GuardConfig struct {
	Name string
	// Timeout applies to each call. Zero means no timeout.
	Timeout time.Duration
	// RateLimit is requests per second. Zero means unlimited.
	RateLimit float64
	Burst     int
	// BreakerFailures consecutive failures open the breaker for
	// BreakerCooldown. Zero disables the breaker.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// Guard applies a timeout, a rate limit and a circuit breaker to provider
// calls and classifies their errors.
type Guard struct {
	config  GuardConfig
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

func NewGuard(config GuardConfig) *Guard {
	g := &Guard{config: config}

	if config.RateLimit > 0 {
		burst := config.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}

	if config.BreakerFailures > 0 {
		cooldown := config.BreakerCooldown
		if cooldown <= 0 {
			cooldown = 30 * time.Second
		}
		g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        config.Name,
			MaxRequests: 1,
			Timeout:     cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= config.BreakerFailures
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
		})
	}

	return g
}

// Do runs fn under the guard. Errors come back classified by Classify.
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %w", ErrRateLimited, err)
		}
	}

	call := func() error {
		cctx, cancel := ctx, context.CancelFunc(func() {})
		if g.config.Timeout > 0 {
			cctx, cancel = context.WithTimeout(ctx, g.config.Timeout)
		}
		defer cancel()

		err := fn(cctx)
		if err != nil && ctx.Err() == nil && errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s call exceeded %s", ErrProviderTimeout, g.config.Name, g.config.Timeout)
		}
		return Classify(ctx, err)
	}

	if g.breaker == nil {
		return call()
	}

	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, call()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s circuit open", ErrProviderUnavailable, g.config.Name)
	}
	return err
}

type guardedEmbedder struct {
	inner types.Embedder
	guard *Guard
}

// GuardEmbedder wraps an embedder so every call goes through g.
func GuardEmbedder(inner types.Embedder, g *Guard) types.Embedder {
	return &guardedEmbedder{inner: inner, guard: g}
}

func (e *guardedEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := e.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = e.inner.EmbedDocuments(ctx, texts)
		return err
	})
	return out, err
}

func (e *guardedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := e.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = e.inner.EmbedQuery(ctx, text)
		return err
	})
	return out, err
}

type guardedCompleter struct {
	inner types.Completer
	guard *Guard
}

// GuardCompleter wraps a completer so every call goes through g. The result
// always supports streaming; completers that cannot stream deliver the whole
// answer as a single chunk.
func GuardCompleter(inner types.Completer, g *Guard) types.StreamingCompleter {
	return &guardedCompleter{inner: inner, guard: g}
}

func (c *guardedCompleter) Complete(ctx context.Context, payload models.PromptPayload) (string, error) {
	var out string
	err := c.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = c.inner.Complete(ctx, payload)
		return err
	})
	return out, err
}

func (c *guardedCompleter) CompleteStream(ctx context.Context, payload models.PromptPayload, onChunk func(string) error) (string, error) {
	var out string
	err := c.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		if s, ok := c.inner.(types.StreamingCompleter); ok {
			out, err = s.CompleteStream(ctx, payload, onChunk)
			return err
		}
		out, err = c.inner.Complete(ctx, payload)
		if err != nil {
			return err
		}
		return onChunk(out)
	})
	return out, err
}
