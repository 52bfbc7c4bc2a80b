package pty

import (
	"errors"
	"fmt"
	"time"
)

// ID identifies a terminal session for the lifetime of the process.
// IDs are assigned from 1 upwards and never reused.
type ID uint32

// ErrSessionNotFound is returned when an operation names a session that is
// not (or no longer) registered.
var ErrSessionNotFound = errors.New("pty: session not found")

func notFound(id ID) error {
	return fmt.Errorf("%w: %d", ErrSessionNotFound, id)
}

// Size is a terminal geometry in character cells.
type Size struct {
	Rows uint16 `json:"rows"`
	Cols uint16 `json:"cols"`
}

// Event names published to the presentation layer.
const (
	EventOutput = "terminal-output"
	EventExit   = "terminal-exit"
)

// OutputEvent carries one chunk of decoded terminal output.
type OutputEvent struct {
	ID   ID     `json:"id"`
	Data string `json:"data"`
}

// ExitEvent is published once, after the last OutputEvent of a session.
// Code is nil when the exit status could not be determined.
type ExitEvent struct {
	ID   ID   `json:"id"`
	Code *int `json:"code"`
}

// EventSink receives terminal events. Implementations must not block for
// long: the caller is the session's reader goroutine.
type EventSink interface {
	TerminalOutput(ev OutputEvent)
	TerminalExit(ev ExitEvent)
}

type multiSink []EventSink

// MultiSink returns a sink that forwards every event to each of sinks in order.
func MultiSink(sinks ...EventSink) EventSink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multiSink) TerminalOutput(ev OutputEvent) {
	for _, s := range m {
		s.TerminalOutput(ev)
	}
}

func (m multiSink) TerminalExit(ev ExitEvent) {
	for _, s := range m {
		s.TerminalExit(ev)
	}
}

// Info is a read-only snapshot of a registered session.
type Info struct {
	ID        ID        `json:"id"`
	Shell     string    `json:"shell"`
	Dir       string    `json:"dir"`
	Rows      uint16    `json:"rows"`
	Cols      uint16    `json:"cols"`
	CreatedAt time.Time `json:"createdAt"`
}
