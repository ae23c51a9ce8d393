// Package sse streams server events to HTTP clients using the
// text/event-stream wire format. The server publishes notifications
// (resource updates, tool activity) to a Broker; clients subscribe on
// GET /events with optional type filtering and Last-Event-ID replay.
package sse

import (
	"strconv"
	"strings"
)

// Event is one server-sent event.
type Event struct {
	// ID is the event identifier used for Last-Event-ID replay.
	ID string `json:"id"`
	// Type is the event type delivered in the "event:" field.
	Type string `json:"type"`
	// Data is the payload; multiline data is split across data: fields.
	Data string `json:"data"`
	// Retry, when positive, tells the client its reconnect delay in ms.
	Retry int `json:"retry,omitempty"`
}

// Errors returned by this package.
type sseError string

func (e sseError) Error() string { return string(e) }

const (
	// ErrInvalidField is returned when an id or type contains newlines.
	ErrInvalidField = sseError("sse: field contains line break")

	// ErrStreamClosed is returned when publishing to a closed broker.
	ErrStreamClosed = sseError("sse: stream closed")
)

// Encode renders the event in wire format, ending with the blank line
// that dispatches it.
func Encode(ev Event) (string, error) {
	if strings.ContainsAny(ev.ID, "\r\n") || strings.ContainsAny(ev.Type, "\r\n") {
		return "", ErrInvalidField
	}

	var sb strings.Builder
	if ev.Type != "" {
		sb.WriteString("event: ")
		sb.WriteString(ev.Type)
		sb.WriteByte('\n')
	}
	if ev.ID != "" {
		sb.WriteString("id: ")
		sb.WriteString(ev.ID)
		sb.WriteByte('\n')
	}
	if ev.Retry > 0 {
		sb.WriteString("retry: ")
		sb.WriteString(strconv.Itoa(ev.Retry))
		sb.WriteByte('\n')
	}
	for _, line := range strings.Split(ev.Data, "\n") {
		sb.WriteString("data: ")
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	sb.WriteByte('\n')
	return sb.String(), nil
}

// Keepalive is the comment line sent on idle connections. EventSource
// clients ignore comment lines.
const Keepalive = ": keepalive\n\n"
