// Package event carries booth lifecycle events to any number of observers.
package event

import (
	"bytes"
	"encoding/json"
	"time"
)

type Type string

const (
	TypeCountdown    Type = "countdown"
	TypeCaptureStart Type = "capture_start"
	TypeCaptureDone  Type = "capture_done"
	TypePrintDone    Type = "print_done"
	TypeError        Type = "error"
)

// Event is a booth status notification as sent to spectators.
type Event struct {
	Type    Type      `json:"type"`
	Value   *int      `json:"value,omitempty"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}

func Countdown(n int) Event {
	return Event{Type: TypeCountdown, Value: &n, Time: time.Now()}
}

func CaptureStart() Event {
	return Event{Type: TypeCaptureStart, Time: time.Now()}
}

func CaptureDone() Event {
	return Event{Type: TypeCaptureDone, Time: time.Now()}
}

func PrintDone() Event {
	return Event{Type: TypePrintDone, Time: time.Now()}
}

func Error(msg string) Event {
	return Event{Type: TypeError, Message: msg, Time: time.Now()}
}

// Known reports whether the event type is one the booth emits.
func (e Event) Known() bool {
	switch e.Type {
	case TypeCountdown, TypeCaptureStart, TypeCaptureDone, TypePrintDone, TypeError:
		return true
	}
	return false
}

// Parse recognises a JSON object with a non-empty "type" field.
func Parse(data []byte) (Event, bool) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return Event{}, false
	}
	var e Event
	if err := json.Unmarshal(data, &e); err != nil || e.Type == "" {
		return Event{}, false
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	return e, true
}
