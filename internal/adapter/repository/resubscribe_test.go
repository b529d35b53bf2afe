package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResubscribe_BackoffStartsOverAfterDelivery(t *testing.T) {
	var waits []time.Duration
	resubscribeAfter = func(d time.Duration) <-chan time.Time {
		waits = append(waits, d)
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}
	t.Cleanup(func() { resubscribeAfter = time.After })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results := []bool{false, false, false, false, false, false, true, false, false}
	attempt := 0
	resubscribe(ctx, func(context.Context) bool {
		delivered := results[attempt]
		attempt++
		if attempt == len(results) {
			cancel()
		}
		return delivered
	})

	assert.Equal(t, len(results), attempt)
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second,
		time.Second, 2 * time.Second,
	}, waits)
}

func TestResubscribe_StopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	resubscribe(ctx, func(context.Context) bool {
		called = true
		return false
	})
	assert.False(t, called)
}
