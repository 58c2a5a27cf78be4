// Package ipc speaks the player's newline-delimited JSON IPC protocol and
// keeps a live view of playback state.
package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Observed property names.
const (
	PropPlaylistPos  = "playlist-pos"
	PropPlaybackTime = "playback-time"
	PropPause        = "pause"
)

// EventPropertyChange is the only inbound event type acted upon.
const EventPropertyChange = "property-change"

// Command is an outbound message.
type Command interface {
	Args() []any
}

// ObserveCommand subscribes to change notifications of one property.
type ObserveCommand struct {
	ID       int
	Property string
}

func (c ObserveCommand) Args() []any {
	return []any{"observe_property", c.ID, c.Property}
}

// RawCommand is any other player command, e.g. {"cycle", "pause"}.
type RawCommand []any

func (c RawCommand) Args() []any {
	return c
}

// EncodeCommand renders cmd as one protocol line, newline included.
func EncodeCommand(cmd Command) ([]byte, error) {
	b, err := json.Marshal(struct {
		Command []any `json:"command"`
	}{Command: cmd.Args()})
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Event is an inbound message.
type Event interface {
	Type() string
}

// PropertyChangeEvent reports a new value for an observed property.
type PropertyChangeEvent struct {
	ID   int
	Name string
	Data json.RawMessage
}

func (PropertyChangeEvent) Type() string { return EventPropertyChange }

// Int returns Data as an integer. Non-integral numbers and null are rejected.
func (e PropertyChangeEvent) Int() (int, bool) {
	f, ok := e.Float()
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

// Float returns Data as a number; null is rejected.
func (e PropertyChangeEvent) Float() (float64, bool) {
	var f *float64
	if err := json.Unmarshal(e.Data, &f); err != nil || f == nil {
		return 0, false
	}
	return *f, true
}

// Bool returns the truthiness of Data: false for null, false, 0 and "".
func (e PropertyChangeEvent) Bool() bool {
	var v any
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case nil:
		return false
	}
	return true
}

// UnknownEvent is every other well-formed message: command replies, other
// event types. It is kept only for logging.
type UnknownEvent struct {
	Event string
	Raw   json.RawMessage
}

func (e UnknownEvent) Type() string { return e.Event }

var ErrMalformed = errors.New("malformed ipc message")

type wireMessage struct {
	Event string          `json:"event"`
	ID    int             `json:"id"`
	Name  string          `json:"name"`
	Data  json.RawMessage `json:"data"`
}

// ParseEvent decodes one protocol line.
func ParseEvent(line []byte) (Event, error) {
	var msg wireMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if msg.Event == EventPropertyChange && msg.Name != "" {
		return PropertyChangeEvent{ID: msg.ID, Name: msg.Name, Data: msg.Data}, nil
	}
	return UnknownEvent{Event: msg.Event, Raw: append(json.RawMessage(nil), line...)}, nil
}
