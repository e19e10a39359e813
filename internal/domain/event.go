package domain

import (
	"time"
)

// EventKind type of outbound notification.
type EventKind string

const (
	EventSignal         EventKind = "signal"
	EventPositionOpened EventKind = "position_opened"
	EventPositionClosed EventKind = "position_closed"
	EventRiskAlert      EventKind = "risk_alert"
)

// Event outbound notification emitted by the engine.
type Event struct {
	Kind    EventKind         `json:"kind"`
	Asset   string            `json:"asset,omitempty"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	At      time.Time         `json:"at"`
}

// NewEvent creates an event stamped with the given time.
func NewEvent(kind EventKind, asset Pair, message string, at time.Time) Event {
	e := Event{Kind: kind, Message: message, At: at, Fields: map[string]string{}}
	if !asset.IsZero() {
		e.Asset = asset.String()
	}
	return e
}

// With adds a field and returns the event.
func (e Event) With(key, value string) Event {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	e.Fields[key] = value
	return e
}
