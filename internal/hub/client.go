package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/user/termdeck/internal/pty"
)

const readLimit = 1 << 20

type Client struct {
	id            string
	conn          *websocket.Conn
	send          chan []byte
	hub           *Hub
	subMu         sync.RWMutex
	subscribeAll  bool
	subscriptions map[pty.ID]struct{}
}

func newClient(conn *websocket.Conn, hub *Hub) *Client {
	return &Client{
		id:            uuid.NewString(),
		conn:          conn,
		send:          make(chan []byte, 256),
		hub:           hub,
		subscribeAll:  true,
		subscriptions: make(map[pty.ID]struct{}),
	}
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregisterClient(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	c.conn.SetReadLimit(readLimit)

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				log.Printf("client %s read error: %v", c.id, err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("client %s invalid message: %v", c.id, err)
			c.hub.SendError(c, 0, "invalid message format")
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg ClientMessage) {
	if msg.Type == TypeSubscribe {
		c.subscribe(msg.IDs)
		return
	}

	ctrl := c.hub.controller
	if ctrl == nil {
		c.hub.SendError(c, msg.ID, "terminal control unavailable")
		return
	}

	switch msg.Type {
	case TypeTerminalInput:
		if err := ctrl.Write(msg.ID, []byte(msg.Data)); err != nil {
			c.hub.SendError(c, msg.ID, err.Error())
		}
	case TypeTerminalResize:
		if err := ctrl.Resize(msg.ID, pty.Size{Rows: msg.Rows, Cols: msg.Cols}); err != nil {
			c.hub.SendError(c, msg.ID, err.Error())
		}
	case TypeTerminalClose:
		ctrl.Close(msg.ID)
		c.hub.BroadcastTerminals()
	default:
		c.hub.SendError(c, msg.ID, "unknown message type: "+msg.Type)
	}
}

// subscribe limits the client to ids; an empty list means every terminal.
func (c *Client) subscribe(ids []pty.ID) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subscriptions = make(map[pty.ID]struct{}, len(ids))
	c.subscribeAll = len(ids) == 0
	for _, id := range ids {
		c.subscriptions[id] = struct{}{}
	}
}

func (c *Client) wantsTerminal(id pty.ID) bool {
	if id == 0 {
		return true
	}
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	if c.subscribeAll {
		return true
	}
	_, ok := c.subscriptions[id]
	return ok
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}
}
