package hub

import "github.com/user/termdeck/internal/pty"

// Client → server message types.
const (
	TypeTerminalInput  = "terminal_input"
	TypeTerminalResize = "terminal_resize"
	TypeTerminalClose  = "terminal_close"
	TypeSubscribe      = "subscribe"
)

// Server → client message types besides pty.EventOutput and pty.EventExit.
const (
	TypeTerminals = "terminals"
	TypeError     = "error"
)

type OutputMessage struct {
	Type string `json:"type"`
	ID   pty.ID `json:"id"`
	Data string `json:"data"`
}

// ExitMessage carries a null code when the exit status is unknown.
type ExitMessage struct {
	Type string `json:"type"`
	ID   pty.ID `json:"id"`
	Code *int   `json:"code"`
}

type TerminalsMessage struct {
	Type string     `json:"type"`
	List []pty.Info `json:"list"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	ID      pty.ID `json:"id,omitempty"`
	Message string `json:"message"`
}

type ClientMessage struct {
	Type string   `json:"type"`
	ID   pty.ID   `json:"id,omitempty"`
	Data string   `json:"data,omitempty"`
	Rows uint16   `json:"rows,omitempty"`
	Cols uint16   `json:"cols,omitempty"`
	IDs  []pty.ID `json:"ids,omitempty"`
}

// hubBroadcast is routed to clients subscribed to terminal; 0 means every
// client.
type hubBroadcast struct {
	data     []byte
	terminal pty.ID
}
