package repository

import (
	"context"
	"time"
)

const (
	resubscribeMin = time.Second
	resubscribeMax = 30 * time.Second
)

// resubscribeAfter is replaced in tests.
var resubscribeAfter = time.After

// resubscribe runs listen until ctx ends. Between attempts it waits with a
// doubling backoff that starts over once an attempt delivered a snapshot.
func resubscribe(ctx context.Context, listen func(context.Context) (delivered bool)) {
	wait := resubscribeMin
	for ctx.Err() == nil {
		if listen(ctx) {
			wait = resubscribeMin
		}
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-resubscribeAfter(wait):
		}
		wait *= 2
		if wait > resubscribeMax {
			wait = resubscribeMax
		}
	}
}
