package llm_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/veritas/internal/models"
	"github.com/xhad/veritas/pkg/llm"
	"github.com/xhad/veritas/pkg/llm/llmtest"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"status 429", errors.New("API returned unexpected status code: 429"), llm.ErrRateLimited},
		{"rate limit text", errors.New("Rate limit reached for requests"), llm.ErrRateLimited},
		{"deadline", fmt.Errorf("post: %w", context.DeadlineExceeded), llm.ErrProviderTimeout},
		{"net timeout", timeoutErr{}, llm.ErrProviderTimeout},
		{"connection refused", errors.New("dial tcp 127.0.0.1:11434: connect: connection refused"), llm.ErrProviderUnavailable},
		{"already classified", fmt.Errorf("wrapped: %w", llm.ErrRateLimited), llm.ErrRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := llm.Classify(ctx, tt.err)
			assert.ErrorIs(t, got, tt.want)
			assert.True(t, llm.IsRetryable(got))
		})
	}

	assert.NoError(t, llm.Classify(ctx, nil))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	got := llm.Classify(cancelled, errors.New("connection reset"))
	assert.ErrorIs(t, got, context.Canceled)
	assert.False(t, llm.IsRetryable(got))
}

func TestGuard_Timeout(t *testing.T) {
	g := llm.NewGuard(llm.GuardConfig{Name: "completion", Timeout: 20 * time.Millisecond})

	err := g.Do(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, llm.ErrProviderTimeout)
}

func TestGuard_CallerCancellationIsNotRetryable(t *testing.T) {
	g := llm.NewGuard(llm.GuardConfig{Name: "completion", Timeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())

	err := g.Do(ctx, func(ctx context.Context) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, llm.IsRetryable(err))
}

func TestGuard_BreakerOpens(t *testing.T) {
	g := llm.NewGuard(llm.GuardConfig{
		Name:            "completion",
		BreakerFailures: 2,
		BreakerCooldown: time.Hour,
	})

	calls := 0
	failing := func(ctx context.Context) error {
		calls++
		return errors.New("connection refused")
	}

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, g.Do(context.Background(), failing), llm.ErrProviderUnavailable)
	}
	err := g.Do(context.Background(), failing)
	assert.ErrorIs(t, err, llm.ErrProviderUnavailable)
	assert.Contains(t, err.Error(), "circuit open")
	assert.Equal(t, 2, calls, "open breaker must not reach the provider")
}

func TestGuard_RateLimiterWaits(t *testing.T) {
	g := llm.NewGuard(llm.GuardConfig{Name: "embedding", RateLimit: 50, Burst: 1})

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, g.Do(context.Background(), func(ctx context.Context) error { return nil }))
	}
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestGuardEmbedder(t *testing.T) {
	emb := llm.GuardEmbedder(llmtest.NewHashEmbedder(16), llm.NewGuard(llm.GuardConfig{Name: "embedding", Timeout: time.Second}))

	vectors, err := emb.EmbedDocuments(context.Background(), []string{"a b", "c"})
	require.NoError(t, err)
	assert.Len(t, vectors, 2)
	assert.Len(t, vectors[0], 16)

	q, err := emb.EmbedQuery(context.Background(), "a b")
	require.NoError(t, err)
	assert.Equal(t, vectors[0], q)
}

func TestGuardCompleter_StreamFallback(t *testing.T) {
	c := llm.GuardCompleter(&llmtest.Completer{Answer: "Paris is the capital."}, llm.NewGuard(llm.GuardConfig{Name: "completion"}))

	var chunks []string
	answer, err := c.CompleteStream(context.Background(), models.PromptPayload{}, func(s string) error {
		chunks = append(chunks, s)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Paris is the capital.", answer)
	assert.Equal(t, []string{"Paris is the capital."}, chunks)
}

func TestGuardCompleter_ClassifiesErrors(t *testing.T) {
	c := llm.GuardCompleter(&llmtest.Completer{
		Failures: []error{errors.New("429 Too Many Requests")},
		Answer:   "ok",
	}, llm.NewGuard(llm.GuardConfig{Name: "completion"}))

	_, err := c.Complete(context.Background(), models.PromptPayload{})
	assert.ErrorIs(t, err, llm.ErrRateLimited)

	answer, err := c.Complete(context.Background(), models.PromptPayload{})
	require.NoError(t, err)
	assert.Equal(t, "ok", answer)
}
