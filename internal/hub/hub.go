package hub

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"github.com/user/termdeck/internal/pty"
)

const defaultBatchInterval = 100 * time.Millisecond

// Controller is the terminal control surface reachable from websocket
// clients.
type Controller interface {
	Write(id pty.ID, data []byte) error
	Resize(id pty.ID, size pty.Size) error
	Close(id pty.ID)
	List() []pty.Info
}

// Hub fans terminal events out to connected GUI clients and implements
// pty.EventSink.
type Hub struct {
	clients     map[string]*Client
	register    chan *clientRegistration
	unregister  chan *Client
	broadcast   chan hubBroadcast
	token       string
	mu          sync.RWMutex
	controller  Controller
	rateLimiter *RateLimiter
	running     atomic.Bool
	stopped     chan struct{}
	stopOnce    sync.Once
}

type clientRegistration struct {
	client           *Client
	initialTerminals []byte
}

func New(token string, controller Controller) *Hub {
	h := &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *clientRegistration, 16),
		unregister: make(chan *Client, 16),
		broadcast:  make(chan hubBroadcast, 256),
		token:      token,
		controller: controller,
		stopped:    make(chan struct{}),
	}
	h.SetBatchInterval(defaultBatchInterval)
	return h
}

// SetBatchInterval sets the output coalescing window; 0 disables batching.
// Call it before Run.
func (h *Hub) SetBatchInterval(d time.Duration) {
	if d <= 0 {
		h.rateLimiter = nil
		return
	}
	h.rateLimiter = NewRateLimiter(d, h.sendOutput)
}

// SetController replaces the controller. Call it before Run.
func (h *Hub) SetController(c Controller) {
	h.controller = c
}

func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer h.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			h.stopOnce.Do(func() { close(h.stopped) })
			h.mu.Lock()
			for _, c := range h.clients {
				close(c.send)
			}
			h.clients = make(map[string]*Client)
			h.mu.Unlock()
			h.rejectQueued()
			return

		case reg := <-h.register:
			h.mu.Lock()
			h.clients[reg.client.id] = reg.client
			h.mu.Unlock()
			if reg.initialTerminals != nil {
				select {
				case reg.client.send <- reg.initialTerminals:
				default:
				}
			}
			go reg.client.writePump(ctx)
			go reg.client.readPump(ctx)
			log.Printf("client connected: %s (total: %d)", reg.client.id, h.ClientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			h.mu.Unlock()
			log.Printf("client disconnected: %s (total: %d)", client.id, h.ClientCount())

		case msg := <-h.broadcast:
			h.broadcastToClients(msg)
		}
	}
}

// rejectQueued closes connections that registered after the hub stopped.
func (h *Hub) rejectQueued() {
	for {
		select {
		case reg := <-h.register:
			reg.client.conn.Close(websocket.StatusTryAgainLater, "server shutting down")
		default:
			return
		}
	}
}

func (h *Hub) broadcastToClients(msg hubBroadcast) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if !c.wantsTerminal(msg.terminal) {
			continue
		}
		select {
		case c.send <- msg.data:
		default:
			log.Printf("client %s send buffer full, dropping message", c.id)
		}
	}
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" || token != h.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Printf("websocket accept error: %v", err)
		return
	}

	client := newClient(conn, h)
	initial, _ := json.Marshal(h.terminalsMessage())

	select {
	case <-h.stopped:
		conn.Close(websocket.StatusTryAgainLater, "server shutting down")
		return
	default:
	}

	select {
	case h.register <- &clientRegistration{client: client, initialTerminals: initial}:
	case <-h.stopped:
		conn.Close(websocket.StatusTryAgainLater, "server shutting down")
	default:
		log.Printf("hub not accepting connections")
		conn.Close(websocket.StatusTryAgainLater, "server busy")
	}
}

// TerminalOutput queues output for broadcast, coalescing it when batching
// is enabled.
func (h *Hub) TerminalOutput(ev pty.OutputEvent) {
	if h.rateLimiter != nil {
		h.rateLimiter.Add(ev)
		return
	}
	h.sendOutput(OutputMessage{Type: pty.EventOutput, ID: ev.ID, Data: ev.Data})
}

// TerminalExit flushes the terminal's pending output before the exit event.
func (h *Hub) TerminalExit(ev pty.ExitEvent) {
	msg := ExitMessage{Type: pty.EventExit, ID: ev.ID, Code: ev.Code}
	if h.rateLimiter != nil {
		h.rateLimiter.Flush(ev.ID, func() { h.send(msg, ev.ID) })
		return
	}
	h.send(msg, ev.ID)
}

// BroadcastTerminals tells every client the current terminal list.
func (h *Hub) BroadcastTerminals() {
	h.send(h.terminalsMessage(), 0)
}

func (h *Hub) terminalsMessage() TerminalsMessage {
	list := []pty.Info{}
	if h.controller != nil {
		list = h.controller.List()
	}
	return TerminalsMessage{Type: TypeTerminals, List: list}
}

func (h *Hub) sendOutput(msg OutputMessage) {
	h.send(msg, msg.ID)
}

// send blocks until the Run loop takes the message so events are never
// dropped or reordered at the hub; it gives up only once the hub has stopped.
func (h *Hub) send(v any, terminal pty.ID) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("error marshaling message: %v", err)
		return
	}
	select {
	case h.broadcast <- hubBroadcast{data: data, terminal: terminal}:
	case <-h.stopped:
	}
}

func (h *Hub) SendError(client *Client, id pty.ID, message string) {
	msg := ErrorMessage{Type: TypeError, ID: id, Message: message}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("error marshaling error message: %v", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[client.id]; !ok {
		return
	}
	select {
	case client.send <- data:
	default:
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) isRunning() bool {
	return h.running.Load()
}

func (h *Hub) unregisterClient(c *Client) {
	if !h.isRunning() {
		c.conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	select {
	case h.unregister <- c:
	default:
		log.Printf("unregister channel full for client %s, forcing close", c.id)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}
}
