package handler

import (
	"fmt"
	"math"

	"github.com/labstack/echo/v4"

	"chatsync/internal/domain/entity"
	"chatsync/internal/infrastructure/attachment"
	"chatsync/internal/infrastructure/ratelimit"
	"chatsync/pkg/errors"
	"chatsync/pkg/response"
	"chatsync/pkg/utils"
)

type ChatHandler struct {
	chat               ChatService
	connectivity       ConnectivitySwitch
	limiter            *ratelimit.RateLimiter
	maxAttachmentBytes int
}

func NewChatHandler(chat ChatService, connectivity ConnectivitySwitch, limiter *ratelimit.RateLimiter, maxAttachmentBytes int) *ChatHandler {
	return &ChatHandler{
		chat:               chat,
		connectivity:       connectivity,
		limiter:            limiter,
		maxAttachmentBytes: maxAttachmentBytes,
	}
}

type sendMessageRequest struct {
	Text  string `json:"text" validate:"max=4000"`
	Image string `json:"image,omitempty"`
}

type setConnectivityRequest struct {
	Mode string `json:"mode" validate:"required,oneof=online offline auto"`
}

type statusResponse struct {
	Connectivity entity.ConnectivityState `json:"connectivity"`
	Pending      int                      `json:"pending"`
	Override     *bool                    `json:"override,omitempty"`
}

// SendMessage composes and sends a message. Sent messages answer 201,
// queued ones 202, and a failed direct send that fell back to the outbox
// answers with the TRANSMIT_FAILED error plus the queued message.
func (h *ChatHandler) SendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, errors.BadRequest("Invalid request body", err))
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	if err := h.allow(c, ratelimit.ActionSendMessage); err != nil {
		return response.Error(c, err)
	}

	if err := attachment.Validate(req.Image, h.maxAttachmentBytes); err != nil {
		return response.Error(c, err)
	}

	result, err := h.chat.SendMessage(c.Request().Context(), req.Text, req.Image)
	switch result.Status {
	case entity.SendSent:
		return response.Created(c, result)
	case entity.SendQueued:
		return response.Accepted(c, result)
	case entity.SendTransmitFailed:
		return response.ErrorWithData(c, err, result)
	default:
		if err == nil {
			err = errors.Internal("Unexpected send result", nil)
		}
		return response.Error(c, err)
	}
}

// GetMessages returns the newest window of the visible list, confirmed
// messages first and pending ones after.
func (h *ChatHandler) GetMessages(c echo.Context) error {
	limit := utils.TailWindow(c)
	messages := h.chat.CurrentVisibleMessages()
	return response.Window(c, utils.Tail(messages, limit), len(messages), limit)
}

func (h *ChatHandler) GetStatus(c echo.Context) error {
	status := statusResponse{
		Connectivity: h.chat.ConnectivityStatus(),
		Pending:      h.chat.PendingCount(),
	}
	if h.connectivity != nil {
		if online, ok := h.connectivity.Forced(); ok {
			status.Override = &online
		}
	}
	return response.Success(c, status)
}

// Flush runs a flush pass now, regardless of connectivity.
func (h *ChatHandler) Flush(c echo.Context) error {
	if err := h.allow(c, ratelimit.ActionFlush); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, h.chat.Flush(c.Request().Context()))
}

// SetConnectivity forces the connectivity reading or returns to probing.
func (h *ChatHandler) SetConnectivity(c echo.Context) error {
	if h.connectivity == nil {
		return response.Error(c, errors.NotFound("Connectivity override", nil))
	}

	var req setConnectivityRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, errors.BadRequest("Invalid request body", err))
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	switch req.Mode {
	case "online":
		h.connectivity.Force(true)
	case "offline":
		h.connectivity.Force(false)
	default:
		h.connectivity.Release()
	}

	return h.GetStatus(c)
}

func (h *ChatHandler) allow(c echo.Context, action string) error {
	if h.limiter == nil {
		return nil
	}
	key, _ := c.Get("uid").(string)
	if key == "" {
		key = c.RealIP()
	}
	if ok, wait := h.limiter.Allow(key, action); !ok {
		return errors.TooManyRequests(fmt.Sprintf("Too many requests, retry in %ds", int(math.Ceil(wait.Seconds()))))
	}
	return nil
}
