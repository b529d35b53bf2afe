package websocket

import (
	"context"
	"encoding/json"
	"time"

	"chatsync/internal/domain/entity"
	"chatsync/internal/infrastructure/attachment"
	"chatsync/pkg/errors"
	"chatsync/pkg/logger"
)

// WebSocket Message Types
const (
	MessageTypePing        = "ping"
	MessageTypePong        = "pong"
	MessageTypeSendMessage = "send_message"
	MessageTypeSendResult  = "send_result"
	MessageTypeMessages    = "messages"
	MessageTypeNotice      = "notice"
	MessageTypeError       = "error"
)

const sendTimeout = 30 * time.Second

// WebSocket Message Structure
type WSMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// SendMessageData is what a UI sends to compose a message. TempID is
// echoed back so the UI can match the result to its input.
type SendMessageData struct {
	TempID string `json:"temp_id"`
	Text   string `json:"text"`
	Image  string `json:"image,omitempty"`
}

type SendResultData struct {
	TempID string            `json:"temp_id,omitempty"`
	Result entity.SendResult `json:"result"`
	Error  *ErrorData        `json:"error,omitempty"`
}

type MessagesData struct {
	Messages []entity.Message         `json:"messages"`
	Status   entity.ConnectivityState `json:"status"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HandleClientMessage processes incoming WebSocket messages
func (m *Manager) HandleClientMessage(client *Client, messageBytes []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		logger.Warn("WebSocket: failed to unmarshal message from client %s: %v", client.ID, err)
		m.sendErrorToClient(client, errors.BadRequest("Invalid message format", err))
		return
	}

	switch msg.Type {
	case MessageTypePing:
		m.sendToClient(client, MessageTypePong, nil)

	case MessageTypeSendMessage:
		m.handleSendMessage(client, msg.Data)

	default:
		logger.Debug("WebSocket: unknown message type %q from %s", msg.Type, client.ID)
		m.sendErrorToClient(client, errors.BadRequest("Unknown message type: "+msg.Type, nil))
	}
}

func (m *Manager) handleSendMessage(client *Client, raw json.RawMessage) {
	var data SendMessageData
	if err := json.Unmarshal(raw, &data); err != nil {
		m.sendErrorToClient(client, errors.BadRequest("Invalid send_message payload", err))
		return
	}

	if err := attachment.Validate(data.Image, m.maxAttachmentBytes); err != nil {
		m.sendToClient(client, MessageTypeSendResult, SendResultData{
			TempID: data.TempID,
			Error:  toErrorData(err),
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	result, err := m.session.SendMessage(ctx, data.Text, data.Image)
	reply := SendResultData{TempID: data.TempID, Result: result}
	if err != nil {
		reply.Error = toErrorData(err)
	}
	m.sendToClient(client, MessageTypeSendResult, reply)
}

func (m *Manager) sendToClient(client *Client, msgType string, data interface{}) {
	payload, err := encode(msgType, data)
	if err != nil {
		logger.Error("WebSocket: failed to encode %s for %s: %v", msgType, client.ID, err)
		return
	}

	// The hub closes Send when it drops a client, so only write while registered.
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if _, ok := m.clients[client]; !ok {
		return
	}
	select {
	case client.Send <- payload:
	default:
		logger.Warn("WebSocket: send buffer full for %s, dropping %s", client.ID, msgType)
	}
}

func (m *Manager) sendErrorToClient(client *Client, err error) {
	m.sendToClient(client, MessageTypeError, toErrorData(err))
}

func toErrorData(err error) *ErrorData {
	if appErr, ok := err.(*errors.AppError); ok {
		return &ErrorData{Code: appErr.Code, Message: appErr.Message}
	}
	return &ErrorData{Code: errors.CodeInternal, Message: err.Error()}
}
