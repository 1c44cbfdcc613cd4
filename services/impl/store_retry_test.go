package impl

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/doc-catalog/services"
)

func TestWithStoreRetryRecoversTransientFailure(t *testing.T) {
	calls := 0
	err := withStoreRetry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("%w: connection reset", services.ErrStorage)
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithStoreRetryGivesUpAfterBudget(t *testing.T) {
	calls := 0
	err := withStoreRetry(context.Background(), func() error {
		calls++
		return fmt.Errorf("%w: still down", services.ErrStorage)
	})

	assert.ErrorIs(t, err, services.ErrStorage)
	assert.Equal(t, len(storeRetryDelays)+1, calls)
}

func TestWithStoreRetrySkipsDomainErrors(t *testing.T) {
	calls := 0
	err := withStoreRetry(context.Background(), func() error {
		calls++
		return fmt.Errorf("%w: document 9", services.ErrNotFound)
	})

	assert.ErrorIs(t, err, services.ErrNotFound)
	assert.Equal(t, 1, calls)
}

func TestWithStoreRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := withStoreRetry(ctx, func() error {
		calls++
		return fmt.Errorf("%w: down", services.ErrStorage)
	})

	assert.ErrorIs(t, err, services.ErrStorage)
	assert.Equal(t, 1, calls)
}
