package entity

type SendStatus string

const (
	SendSent           SendStatus = "sent"
	SendQueued         SendStatus = "queued"
	SendTransmitFailed SendStatus = "transmit_failed"
	SendEmptyMessage   SendStatus = "empty_message"
)

// SendResult reports what happened to a send attempt. Message is nil for
// SendEmptyMessage.
type SendResult struct {
	Status  SendStatus `json:"status"`
	Message *Message   `json:"message,omitempty"`
}
