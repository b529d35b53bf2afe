package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"chatsync/internal/domain/entity"
)

// IdentityResolver resolves the display name messages are authored under.
type IdentityResolver interface {
	DisplayName(ctx context.Context, uid string) (string, error)
}

// IDGenerator produces client message ids and local ids for messages that
// have not been confirmed by the feed yet.
type IDGenerator interface {
	ClientMessageID() string
	LocalID() string
}

// Metrics receives reconciler events. All methods must be cheap and safe
// for concurrent use.
type Metrics interface {
	OutboxDepth(n int)
	Transmit(path string, ok bool)
	Flushed(sent, failed int)
	Notice(event entity.NoticeEvent)
}

type uuidIDs struct{}

func (uuidIDs) ClientMessageID() string {
	return uuid.NewString()
}

func (uuidIDs) LocalID() string {
	return fmt.Sprintf("local-%x-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

type nopMetrics struct{}

func (nopMetrics) OutboxDepth(int)           {}
func (nopMetrics) Transmit(string, bool)     {}
func (nopMetrics) Flushed(int, int)          {}
func (nopMetrics) Notice(entity.NoticeEvent) {}
