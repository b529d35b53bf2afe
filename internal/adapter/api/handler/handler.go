package handler

import (
	"context"

	"chatsync/internal/domain/entity"
	"chatsync/internal/infrastructure/ratelimit"
	"chatsync/internal/usecase"
)

// ChatService is the reconciler surface the HTTP handlers drive.
type ChatService interface {
	SendMessage(ctx context.Context, text, attachment string) (entity.SendResult, error)
	Flush(ctx context.Context) usecase.FlushReport
	CurrentVisibleMessages() []entity.Message
	ConnectivityStatus() entity.ConnectivityState
	PendingCount() int
}

// ConnectivitySwitch lets an operator override the probed connectivity.
type ConnectivitySwitch interface {
	Force(online bool)
	Release()
	Forced() (online bool, ok bool)
}

var (
	chatHandler   *ChatHandler
	healthHandler *HealthHandler
)

func Setup(
	chat ChatService,
	connectivity ConnectivitySwitch,
	limiter *ratelimit.RateLimiter,
	maxAttachmentBytes int,
) {
	chatHandler = NewChatHandler(chat, connectivity, limiter, maxAttachmentBytes)
	healthHandler = NewHealthHandler(chat)
}

func GetChatHandler() *ChatHandler {
	return chatHandler
}

func GetHealthHandler() *HealthHandler {
	return healthHandler
}
