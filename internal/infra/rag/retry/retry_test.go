package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanqian/rag-service/internal/infra/rag/retry"
)

type statusErr struct{ code int }

func (e statusErr) Error() string  { return "boom" }
func (e statusErr) StatusCode() int { return e.code }

func TestIsTransient_NilError(t *testing.T) {
	assert.False(t, retry.IsTransient(nil))
}

func TestIsTransient_StatusCodeClassification(t *testing.T) {
	assert.True(t, retry.IsTransient(statusErr{code: 503}))
	assert.True(t, retry.IsTransient(statusErr{code: 429}))
	assert.False(t, retry.IsTransient(statusErr{code: 404}))
	assert.False(t, retry.IsTransient(statusErr{code: 400}))
}

func TestIsTransient_MessagePatternFallback(t *testing.T) {
	assert.True(t, retry.IsTransient(errors.New("dial tcp: connection refused")))
	assert.True(t, retry.IsTransient(errors.New("context deadline exceeded")))
	assert.False(t, retry.IsTransient(errors.New("invalid api key")))
}

func TestIsTransient_StatusCodeInMessageNeverOverridesPermanent(t *testing.T) {
	assert.False(t, retry.IsTransient(errors.New("request failed: status=401 unauthorized")))
	assert.True(t, retry.IsTransient(errors.New("request failed: status=503 unavailable")))
}

func TestDo_SucceedsWithoutRetryOnFirstTry(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesTransientErrorsUntilSuccess(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("temporarily unavailable")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_DoesNotRetryPermanentErrors(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, func(ctx context.Context) error {
		calls++
		return errors.New("status=400 bad request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ReturnsLastErrorAfterExhaustingAttempts(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), retry.Config{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, func(ctx context.Context) error {
		calls++
		return errors.New("rate limit exceeded")
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestDoStream_RetriesOnlyStreamOpen(t *testing.T) {
	calls := 0
	stream, err := retry.DoStream(context.Background(), retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, func(ctx context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("connection reset")
		}
		return "opened", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "opened", stream)
	assert.Equal(t, 2, calls)
}

func TestDoStream_PermanentErrorStopsImmediately(t *testing.T) {
	calls := 0
	_, err := retry.DoStream(context.Background(), retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, func(ctx context.Context) (string, error) {
		calls++
		return "", errors.New("status=403 forbidden")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
