package rtmp

import (
	"github.com/torresjeff/rtmp-publisher/amf/amf0"
)

// NetConnection and NetStream status codes, as sent in the info object of onStatus and _result commands.
const (
	CodeConnectSuccess  = "NetConnection.Connect.Success"
	CodeConnectRejected = "NetConnection.Connect.Rejected"
	CodeConnectClosed   = "NetConnection.Connect.Closed"
	CodeConnectFailed   = "NetConnection.Connect.Failed"

	CodePublishStart     = "NetStream.Publish.Start"
	CodePublishBadName   = "NetStream.Publish.BadName"
	CodeUnpublishSuccess = "NetStream.Unpublish.Success"
)

const (
	LevelStatus = "status"
	LevelError  = "error"
)

type EventType uint8

const (
	// EventStatus carries a NetConnection or NetStream status.
	EventStatus EventType = iota
	// EventIOError reports a transport or timeout error. The terminal status follows it.
	EventIOError
	// EventUserControl reports a User Control message other than ping.
	EventUserControl
)

// Event is delivered to Session.OnEvent from the session goroutine.
type Event struct {
	Type        EventType
	Code        string
	Level       string
	Description string
	// StreamID is the message stream the event arrived on, 0 for the connection.
	StreamID uint32
	// Info is the complete info object of a status, when the server sent one.
	Info        amf0.Object
	UserControl *UserControl
	Err         error
}

// Terminal reports whether the event ends the connection. Every connection attempt ends with exactly one.
func (e Event) Terminal() bool {
	return e.Type == EventStatus && (e.Code == CodeConnectClosed || e.Code == CodeConnectFailed)
}

// statusEvent builds a status event from an info object. Objects without a string code aren't statuses.
func statusEvent(info amf0.Value, streamID uint32) (Event, bool) {
	obj, ok := amf0.AsObject(info)
	if !ok {
		return Event{}, false
	}
	code, ok := obj.GetString("code")
	if !ok {
		return Event{}, false
	}
	level, _ := obj.GetString("level")
	description, _ := obj.GetString("description")
	return Event{
		Type:        EventStatus,
		Code:        code,
		Level:       level,
		Description: description,
		StreamID:    streamID,
		Info:        obj,
	}, true
}

func newStatusEvent(code, level, description string) Event {
	return Event{
		Type:        EventStatus,
		Code:        code,
		Level:       level,
		Description: description,
		Info: amf0.Object{
			"code":        amf0.String(code),
			"level":       amf0.String(level),
			"description": amf0.String(description),
		},
	}
}
