package entity

import "time"

// NoticeKind is the banner style a UI should use.
type NoticeKind string

const (
	NoticeOffline NoticeKind = "offline"
	NoticeOnline  NoticeKind = "online"
)

// NoticeEvent names what caused a notice.
type NoticeEvent string

const (
	EventDisconnected NoticeEvent = "disconnected"
	EventReconnected  NoticeEvent = "reconnected"
	EventSynced       NoticeEvent = "synced"
	EventQueued       NoticeEvent = "queued"
	EventFeedError    NoticeEvent = "feed_error"
)

// Notice is a transient, user-facing banner event.
type Notice struct {
	Event NoticeEvent `json:"event"`
	Kind  NoticeKind  `json:"kind"`
	Text  string      `json:"text"`
	At    time.Time   `json:"at"`
}

var noticeTemplates = map[NoticeEvent]Notice{
	EventDisconnected: {Event: EventDisconnected, Kind: NoticeOffline, Text: "Offline"},
	EventReconnected:  {Event: EventReconnected, Kind: NoticeOnline, Text: "Reconnected"},
	EventSynced:       {Event: EventSynced, Kind: NoticeOnline, Text: "All pending messages sent"},
	EventQueued:       {Event: EventQueued, Kind: NoticeOffline, Text: "Message will send when you're back online"},
	EventFeedError:    {Event: EventFeedError, Kind: NoticeOffline, Text: "Showing cached messages"},
}

// NewNotice builds the standard notice for an event.
func NewNotice(event NoticeEvent, at time.Time) Notice {
	n, ok := noticeTemplates[event]
	if !ok {
		n = Notice{Event: event, Kind: NoticeOnline, Text: string(event)}
	}
	n.At = at
	return n
}
