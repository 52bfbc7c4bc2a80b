package pty

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeBackend hands out in-memory pairs whose child is driven by the test.
type fakeBackend struct {
	mu    sync.Mutex
	pairs []*fakePair

	openErr   error
	spawnErr  error
	writerErr error
	readerErr error
	resizeErr error
}

func (b *fakeBackend) OpenPair(size Size) (Pair, error) {
	if b.openErr != nil {
		return nil, b.openErr
	}
	outR, outW := io.Pipe()
	p := &fakePair{
		backend: b,
		size:    size,
		outR:    outR,
		outW:    outW,
		input:   &fakeInput{},
		child:   &fakeChild{done: make(chan childResult, 1)},
	}
	b.mu.Lock()
	b.pairs = append(b.pairs, p)
	b.mu.Unlock()
	return p, nil
}

func (b *fakeBackend) pair(t *testing.T, i int) *fakePair {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	if i >= len(b.pairs) {
		t.Fatalf("pair %d not opened (have %d)", i, len(b.pairs))
	}
	return b.pairs[i]
}

type fakePair struct {
	backend *fakeBackend

	mu      sync.Mutex
	size    Size
	cmd     Command
	spawned bool
	closed  bool

	outR  *io.PipeReader
	outW  *io.PipeWriter
	input *fakeInput
	child *fakeChild
}

func (p *fakePair) Spawn(cmd Command) (Child, error) {
	if p.backend.spawnErr != nil {
		return nil, p.backend.spawnErr
	}
	p.mu.Lock()
	p.cmd = cmd
	p.spawned = true
	p.mu.Unlock()
	return p.child, nil
}

func (p *fakePair) TakeWriter() (io.Writer, error) {
	if p.backend.writerErr != nil {
		return nil, p.backend.writerErr
	}
	return p.input, nil
}

func (p *fakePair) CloneReader() (io.ReadCloser, error) {
	if p.backend.readerErr != nil {
		return nil, p.backend.readerErr
	}
	return p.outR, nil
}

func (p *fakePair) Resize(size Size) error {
	if p.backend.resizeErr != nil {
		return p.backend.resizeErr
	}
	p.mu.Lock()
	p.size = size
	p.mu.Unlock()
	return nil
}

func (p *fakePair) Close() error {
	// The output pipe stays open: the test decides when the child exits.
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePair) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePair) command() Command {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cmd
}

// emit makes the child print data.
func (p *fakePair) emit(t *testing.T, data []byte) {
	t.Helper()
	if _, err := p.outW.Write(data); err != nil {
		t.Fatalf("emit: %v", err)
	}
}

// exit ends the child's output stream and lets Wait return.
func (p *fakePair) exit(code int, err error) {
	_ = p.outW.Close()
	p.child.done <- childResult{code: code, err: err}
}

type childResult struct {
	code int
	err  error
}

type fakeChild struct {
	done chan childResult
}

func (c *fakeChild) Wait() (int, error) {
	r := <-c.done
	return r.code, r.err
}

// fakeInput records what the registry writes to the master side.
type fakeInput struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	flushes int
	err     error

	// When block is set, Write signals entered and waits for block to close.
	block   chan struct{}
	entered chan struct{}
}

func (in *fakeInput) Write(p []byte) (int, error) {
	in.mu.Lock()
	block, entered, err := in.block, in.entered, in.err
	in.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if err != nil {
		return 0, err
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	return in.buf.Write(p)
}

func (in *fakeInput) Flush() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.flushes++
	return nil
}

func (in *fakeInput) snapshot() (string, int) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.buf.String(), in.flushes
}

// recordingSink keeps every event in publication order.
type recordingSink struct {
	mu     sync.Mutex
	events []recordedEvent
	notify chan struct{}
}

type recordedEvent struct {
	kind string
	id   ID
	data string
	code *int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{notify: make(chan struct{}, 1)}
}

func (s *recordingSink) TerminalOutput(ev OutputEvent) {
	s.record(recordedEvent{kind: EventOutput, id: ev.ID, data: ev.Data})
}

func (s *recordingSink) TerminalExit(ev ExitEvent) {
	s.record(recordedEvent{kind: EventExit, id: ev.ID, code: ev.Code})
}

func (s *recordingSink) record(ev recordedEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *recordingSink) eventsFor(id ID) []recordedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []recordedEvent
	for _, ev := range s.events {
		if ev.id == id {
			out = append(out, ev)
		}
	}
	return out
}

func (s *recordingSink) outputFor(id ID) string {
	var b strings.Builder
	for _, ev := range s.eventsFor(id) {
		if ev.kind == EventOutput {
			b.WriteString(ev.data)
		}
	}
	return b.String()
}

// waitFor polls until cond holds or the timeout expires.
func (s *recordingSink) waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if cond() {
			return
		}
		select {
		case <-s.notify:
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func (s *recordingSink) waitForExit(t *testing.T, id ID, timeout time.Duration) ExitEvent {
	t.Helper()
	var ev ExitEvent
	s.waitFor(t, timeout, "exit event", func() bool {
		for _, rec := range s.eventsFor(id) {
			if rec.kind == EventExit {
				ev = ExitEvent{ID: rec.id, Code: rec.code}
				return true
			}
		}
		return false
	})
	return ev
}

func (s *recordingSink) waitForOutput(t *testing.T, id ID, substr string, timeout time.Duration) {
	t.Helper()
	s.waitFor(t, timeout, "output "+substr, func() bool {
		return strings.Contains(s.outputFor(id), substr)
	})
}

var errFake = errors.New("fake failure")
