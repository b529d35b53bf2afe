package entity

import (
	"encoding/json"
	"fmt"
	"time"
)

type TimestampKind int

const (
	TimestampUnknown TimestampKind = iota
	TimestampServer
	TimestampLocal
)

// Timestamp is either a server-assigned ordering token, a local wall-clock
// reading in unix milliseconds, or unknown. The zero value is unknown.
type Timestamp struct {
	kind   TimestampKind
	server time.Time
	local  int64
}

func ServerTimestamp(t time.Time) Timestamp {
	return Timestamp{kind: TimestampServer, server: t.UTC()}
}

func LocalTimestamp(ms int64) Timestamp {
	return Timestamp{kind: TimestampLocal, local: ms}
}

func (t Timestamp) Kind() TimestampKind {
	return t.kind
}

// DisplayTime converts any timestamp kind to a wall-clock time for display.
// ok is false for unknown timestamps.
func (t Timestamp) DisplayTime() (time.Time, bool) {
	switch t.kind {
	case TimestampServer:
		return t.server, true
	case TimestampLocal:
		return time.UnixMilli(t.local).UTC(), true
	case TimestampUnknown:
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

// ServerToken returns the server ordering token. ok is false unless the
// timestamp was assigned by the feed.
func (t Timestamp) ServerToken() (time.Time, bool) {
	if t.kind != TimestampServer {
		return time.Time{}, false
	}
	return t.server, true
}

// LocalMillis returns the local reading. ok is false unless the timestamp
// was taken on this device.
func (t Timestamp) LocalMillis() (int64, bool) {
	if t.kind != TimestampLocal {
		return 0, false
	}
	return t.local, true
}

func (t Timestamp) String() string {
	switch t.kind {
	case TimestampServer:
		return "server:" + t.server.Format(time.RFC3339Nano)
	case TimestampLocal:
		return fmt.Sprintf("local:%d", t.local)
	default:
		return "unknown"
	}
}

type timestampJSON struct {
	Server      *string `json:"server,omitempty"`
	Local       *int64  `json:"local,omitempty"`
	Seconds     *int64  `json:"seconds,omitempty"`
	Nanoseconds *int64  `json:"nanoseconds,omitempty"`
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	switch t.kind {
	case TimestampServer:
		s := t.server.Format(time.RFC3339Nano)
		return json.Marshal(timestampJSON{Server: &s})
	case TimestampLocal:
		ms := t.local
		return json.Marshal(timestampJSON{Local: &ms})
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts the tagged form written by MarshalJSON, a bare
// number of unix milliseconds, and the {seconds, nanoseconds} shape used
// by Firestore web clients.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = Timestamp{}
		return nil
	}

	var ms int64
	if err := json.Unmarshal(data, &ms); err == nil {
		*t = LocalTimestamp(ms)
		return nil
	}

	var raw timestampJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid timestamp: %w", err)
	}

	switch {
	case raw.Server != nil:
		parsed, err := time.Parse(time.RFC3339Nano, *raw.Server)
		if err != nil {
			return fmt.Errorf("invalid server timestamp: %w", err)
		}
		*t = ServerTimestamp(parsed)
	case raw.Local != nil:
		*t = LocalTimestamp(*raw.Local)
	case raw.Seconds != nil:
		var nanos int64
		if raw.Nanoseconds != nil {
			nanos = *raw.Nanoseconds
		}
		*t = ServerTimestamp(time.Unix(*raw.Seconds, nanos))
	default:
		*t = Timestamp{}
	}
	return nil
}
