package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/user/termdeck/internal/pty"
)

type fakeController struct {
	mu       sync.Mutex
	writes   []string
	resizes  []pty.Size
	closed   []pty.ID
	list     []pty.Info
	writeErr error
}

func (f *fakeController) Write(id pty.ID, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, fmt.Sprintf("%d:%s", id, data))
	return nil
}

func (f *fakeController) Resize(id pty.ID, size pty.Size) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resizes = append(f.resizes, size)
	return nil
}

func (f *fakeController) Close(id pty.ID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, id)
	kept := f.list[:0]
	for _, info := range f.list {
		if info.ID != id {
			kept = append(kept, info)
		}
	}
	f.list = kept
}

func (f *fakeController) List() []pty.Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pty.Info(nil), f.list...)
}

func (f *fakeController) snapshot() ([]string, []pty.Size, []pty.ID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...), append([]pty.Size(nil), f.resizes...), append([]pty.ID(nil), f.closed...)
}

func startHub(t *testing.T, h *Hub) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	server := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return server.URL
}

func dial(t *testing.T, serverURL, token string) *websocket.Conn {
	t.Helper()
	url := fmt.Sprintf("ws://%s/ws?token=%s", serverURL[7:], token)
	dialCtx, dialCancel := context.WithTimeout(context.Background(), 2*time.Second)
	conn, _, err := websocket.Dial(dialCtx, url, nil)
	dialCancel()
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) (string, []byte) {
	t.Helper()
	readCtx, readCancel := context.WithTimeout(context.Background(), 2*time.Second)
	_, data, err := conn.Read(readCtx)
	readCancel()
	if err != nil {
		t.Fatalf("failed to read message: %v", err)
	}
	var base struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &base); err != nil {
		t.Fatalf("failed to unmarshal base message: %v", err)
	}
	return base.Type, data
}

func writeMessage(t *testing.T, conn *websocket.Conn, msg ClientMessage) {
	t.Helper()
	data, _ := json.Marshal(msg)
	writeCtx, writeCancel := context.WithTimeout(context.Background(), time.Second)
	err := conn.Write(writeCtx, websocket.MessageText, data)
	writeCancel()
	if err != nil {
		t.Fatalf("failed to send message: %v", err)
	}
}

func TestTokenAuthentication(t *testing.T) {
	validToken := "secret-token-123"

	tests := []struct {
		name       string
		token      string
		wantStatus int
	}{
		{"valid token", validToken, http.StatusSwitchingProtocols},
		{"invalid token", "wrong-token", http.StatusUnauthorized},
		{"missing token", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			serverURL := startHub(t, New(validToken, nil))

			url := fmt.Sprintf("ws://%s/ws", serverURL[7:])
			if tt.token != "" {
				url = fmt.Sprintf("%s?token=%s", url, tt.token)
			}

			dialCtx, dialCancel := context.WithTimeout(context.Background(), 2*time.Second)
			conn, resp, err := websocket.Dial(dialCtx, url, nil)
			dialCancel()

			if resp != nil && resp.StatusCode != tt.wantStatus {
				t.Errorf("status code mismatch: got %d, want %d", resp.StatusCode, tt.wantStatus)
			}

			if tt.wantStatus == http.StatusSwitchingProtocols {
				if err != nil {
					t.Fatalf("expected successful connection, got error: %v", err)
				}
				conn.Close(websocket.StatusNormalClosure, "")
			} else if conn != nil {
				conn.Close(websocket.StatusNormalClosure, "")
			}
		})
	}
}

func TestClientLifecycle(t *testing.T) {
	token := "test-token"
	ctrl := &fakeController{list: []pty.Info{{ID: 1, Shell: "/bin/zsh", Rows: 24, Cols: 80}}}
	hub := New(token, ctrl)
	serverURL := startHub(t, hub)

	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}

	conn := dial(t, serverURL, token)
	waitForClientCount(t, hub, 1, time.Second)

	typ, data := readMessage(t, conn)
	if typ != TypeTerminals {
		t.Fatalf("expected initial terminals message, got type: %s", typ)
	}
	var initial TerminalsMessage
	if err := json.Unmarshal(data, &initial); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if len(initial.List) != 1 || initial.List[0].ID != 1 || initial.List[0].Shell != "/bin/zsh" {
		t.Fatalf("initial list = %+v", initial.List)
	}

	writeMessage(t, conn, ClientMessage{Type: TypeTerminalInput, ID: 1, Data: "ls -la\n"})
	writeMessage(t, conn, ClientMessage{Type: TypeTerminalResize, ID: 1, Rows: 40, Cols: 120})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		writes, resizes, _ := ctrl.snapshot()
		if len(writes) == 1 && len(resizes) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	writes, resizes, _ := ctrl.snapshot()
	if len(writes) != 1 || writes[0] != "1:ls -la\n" {
		t.Errorf("input not received correctly: %v", writes)
	}
	if len(resizes) != 1 || resizes[0] != (pty.Size{Rows: 40, Cols: 120}) {
		t.Errorf("resize not received correctly: %v", resizes)
	}

	conn.Close(websocket.StatusNormalClosure, "")
	waitForClientCount(t, hub, 0, time.Second)
}

func TestBroadcastFanOut(t *testing.T) {
	token := "test-token"
	hub := New(token, nil)
	hub.SetBatchInterval(0)
	serverURL := startHub(t, hub)

	var clients []*websocket.Conn
	for i := 0; i < 2; i++ {
		clients = append(clients, dial(t, serverURL, token))
	}
	waitForClientCount(t, hub, 2, time.Second)

	hub.TerminalOutput(pty.OutputEvent{ID: 3, Data: "broadcast test"})

	for i, conn := range clients {
		if typ, _ := readMessage(t, conn); typ != TypeTerminals {
			t.Fatalf("client %d expected initial terminals message, got type: %s", i, typ)
		}

		typ, data := readMessage(t, conn)
		if typ != pty.EventOutput {
			t.Fatalf("client %d expected output, got type: %s", i, typ)
		}
		var msg OutputMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("client %d failed to unmarshal: %v", i, err)
		}
		if msg.ID != 3 || msg.Data != "broadcast test" {
			t.Errorf("client %d received wrong output: %+v", i, msg)
		}
	}
}

func TestRateLimiting(t *testing.T) {
	token := "test-token"
	hub := New(token, nil)
	hub.SetBatchInterval(50 * time.Millisecond)
	serverURL := startHub(t, hub)

	conn := dial(t, serverURL, token)
	waitForClientCount(t, hub, 1, time.Second)
	readMessage(t, conn)

	for i := 0; i < 5; i++ {
		hub.TerminalOutput(pty.OutputEvent{ID: 1, Data: fmt.Sprintf("msg%d ", i)})
	}

	_, data := readMessage(t, conn)
	var msg OutputMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if msg.Data != "msg0 msg1 msg2 msg3 msg4 " {
		t.Errorf("batched message = %q, want all chunks in order", msg.Data)
	}
}

func TestExitFlushesPendingOutput(t *testing.T) {
	token := "test-token"
	hub := New(token, nil)
	hub.SetBatchInterval(time.Hour)
	serverURL := startHub(t, hub)

	conn := dial(t, serverURL, token)
	waitForClientCount(t, hub, 1, time.Second)
	readMessage(t, conn)

	code := 0
	hub.TerminalOutput(pty.OutputEvent{ID: 2, Data: "bye\r\n"})
	hub.TerminalExit(pty.ExitEvent{ID: 2, Code: &code})

	typ, data := readMessage(t, conn)
	if typ != pty.EventOutput || !strings.Contains(string(data), "bye") {
		t.Fatalf("first message = %s, want flushed output", data)
	}
	typ, data = readMessage(t, conn)
	if typ != pty.EventExit {
		t.Fatalf("second message type = %s, want exit", typ)
	}
	var exit ExitMessage
	if err := json.Unmarshal(data, &exit); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if exit.ID != 2 || exit.Code == nil || *exit.Code != 0 {
		t.Fatalf("exit = %+v", exit)
	}
}

func TestExitMessageUnknownCodeIsNull(t *testing.T) {
	data, err := json.Marshal(ExitMessage{Type: pty.EventExit, ID: 5})
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	if !strings.Contains(string(data), `"code":null`) {
		t.Fatalf("exit message = %s, want null code", data)
	}
}

func TestControlErrorIsSentToClient(t *testing.T) {
	token := "test-token"
	ctrl := &fakeController{writeErr: errors.New("pty: session not found: 9")}
	hub := New(token, ctrl)
	serverURL := startHub(t, hub)

	conn := dial(t, serverURL, token)
	waitForClientCount(t, hub, 1, time.Second)
	readMessage(t, conn)

	writeMessage(t, conn, ClientMessage{Type: TypeTerminalInput, ID: 9, Data: "x"})
	typ, data := readMessage(t, conn)
	if typ != TypeError {
		t.Fatalf("message type = %s, want error", typ)
	}
	var msg ErrorMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if msg.ID != 9 || !strings.Contains(msg.Message, "not found") {
		t.Fatalf("error message = %+v", msg)
	}

	writeMessage(t, conn, ClientMessage{Type: "bogus"})
	if typ, _ := readMessage(t, conn); typ != TypeError {
		t.Fatalf("message type = %s, want error for unknown type", typ)
	}
}

func TestTerminalCloseBroadcastsList(t *testing.T) {
	token := "test-token"
	ctrl := &fakeController{list: []pty.Info{{ID: 1}, {ID: 2}}}
	hub := New(token, ctrl)
	serverURL := startHub(t, hub)

	conn := dial(t, serverURL, token)
	waitForClientCount(t, hub, 1, time.Second)
	readMessage(t, conn)

	writeMessage(t, conn, ClientMessage{Type: TypeTerminalClose, ID: 1})
	typ, data := readMessage(t, conn)
	if typ != TypeTerminals {
		t.Fatalf("message type = %s, want terminals", typ)
	}
	var msg TerminalsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if len(msg.List) != 1 || msg.List[0].ID != 2 {
		t.Fatalf("terminals after close = %+v", msg.List)
	}
	if _, _, closed := ctrl.snapshot(); len(closed) != 1 || closed[0] != 1 {
		t.Fatalf("closed = %v, want [1]", closed)
	}
}

func TestBroadcastToClientsRespectsSubscription(t *testing.T) {
	h := New("token", nil)

	clientA := &Client{id: "a", send: make(chan []byte, 1), subscriptions: map[pty.ID]struct{}{}}
	clientA.subscribe([]pty.ID{1})
	clientB := &Client{id: "b", send: make(chan []byte, 1), subscriptions: map[pty.ID]struct{}{}}
	clientB.subscribe([]pty.ID{2})
	clientAll := &Client{id: "all", send: make(chan []byte, 2), subscriptions: map[pty.ID]struct{}{}}
	clientAll.subscribe(nil)

	h.clients = map[string]*Client{
		clientA.id:   clientA,
		clientB.id:   clientB,
		clientAll.id: clientAll,
	}

	h.broadcastToClients(hubBroadcast{data: []byte(`{"type":"terminal-output"}`), terminal: 1})

	select {
	case <-clientA.send:
	default:
		t.Fatal("expected clientA to receive message for terminal 1")
	}
	select {
	case <-clientAll.send:
	default:
		t.Fatal("expected subscribe-all client to receive message")
	}
	select {
	case <-clientB.send:
		t.Fatal("did not expect clientB to receive message for terminal 1")
	default:
	}

	h.broadcastToClients(hubBroadcast{data: []byte(`{"type":"terminals"}`)})
	for _, c := range []*Client{clientA, clientB} {
		select {
		case <-c.send:
		default:
			t.Fatalf("client %s missed an untargeted message", c.id)
		}
	}
}

func TestRateLimiterDirect(t *testing.T) {
	var received []OutputMessage
	var mu sync.Mutex

	limiter := NewRateLimiter(50*time.Millisecond, func(msg OutputMessage) {
		mu.Lock()
		received = append(received, msg)
		mu.Unlock()
	})

	for i := 0; i < 3; i++ {
		limiter.Add(pty.OutputEvent{ID: 1, Data: fmt.Sprintf("text%d ", i)})
	}
	limiter.Add(pty.OutputEvent{ID: 2, Data: "other"})

	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 {
		t.Fatalf("expected 2 batched messages, got %d", len(received))
	}
	for _, msg := range received {
		if msg.ID == 1 && msg.Data != "text0 text1 text2 " {
			t.Errorf("batched message for terminal 1 = %q", msg.Data)
		}
		if msg.Type != pty.EventOutput {
			t.Errorf("batched message type = %q", msg.Type)
		}
	}
}

func TestRateLimiterFlushRunsAfterPending(t *testing.T) {
	var order []string
	limiter := NewRateLimiter(time.Hour, func(msg OutputMessage) {
		order = append(order, "output:"+msg.Data)
	})

	limiter.Add(pty.OutputEvent{ID: 1, Data: "a"})
	limiter.Add(pty.OutputEvent{ID: 1, Data: "b"})
	limiter.Flush(1, func() { order = append(order, "exit") })
	limiter.Flush(1, func() { order = append(order, "again") })

	if got := strings.Join(order, ","); got != "output:ab,exit,again" {
		t.Fatalf("order = %s", got)
	}
}

func TestConnectionBeforeRun(t *testing.T) {
	token := "test-token"
	hub := New(token, nil)

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer server.Close()

	conn := dial(t, server.URL, token)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	typ, data := readMessage(t, conn)
	if typ != TypeTerminals {
		t.Fatalf("expected terminals message, got type: %s", typ)
	}
	var msg TerminalsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if msg.List == nil || len(msg.List) != 0 {
		t.Errorf("expected empty list, got %v", msg.List)
	}
}

func TestHighClientCountShutdown(t *testing.T) {
	token := "test-token"
	hub := New(token, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer server.Close()

	numClients := 20
	for i := 0; i < numClients; i++ {
		dial(t, server.URL, token)
	}

	waitForClientCount(t, hub, numClients, 2*time.Second)

	cancel()
	time.Sleep(200 * time.Millisecond)

	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients after shutdown, got %d", hub.ClientCount())
	}

	done := make(chan struct{})
	go func() {
		hub.TerminalOutput(pty.OutputEvent{ID: 1, Data: "late"})
		hub.TerminalExit(pty.ExitEvent{ID: 1})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("events after shutdown blocked")
	}
}

func TestConnectionAfterShutdownIsRejected(t *testing.T) {
	token := "test-token"
	hub := New(token, nil)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer server.Close()
	conn := dial(t, server.URL, token)

	readCtx, readCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer readCancel()
	_, _, err := conn.Read(readCtx)
	if status := websocket.CloseStatus(err); status != websocket.StatusTryAgainLater {
		t.Fatalf("read after shutdown: status = %v, err = %v, want StatusTryAgainLater", status, err)
	}
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func waitForClientCount(t *testing.T, hub *Hub, expected int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == expected {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	if hub.ClientCount() != expected {
		t.Errorf("expected %d clients, got %d", expected, hub.ClientCount())
	}
}
