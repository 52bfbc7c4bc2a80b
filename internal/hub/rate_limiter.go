package hub

import (
	"strings"
	"sync"
	"time"

	"github.com/user/termdeck/internal/pty"
)

// RateLimiter coalesces output chunks per terminal for one interval.
// onFlush always runs with the limiter's mutex held, so a batch handed to it
// can never overtake a later Flush of the same terminal.
type RateLimiter struct {
	mu       sync.Mutex
	pending  map[pty.ID]*pendingOutput
	interval time.Duration
	onFlush  func(OutputMessage)
}

type pendingOutput struct {
	data  strings.Builder
	timer *time.Timer
}

func NewRateLimiter(interval time.Duration, onFlush func(OutputMessage)) *RateLimiter {
	return &RateLimiter{
		pending:  make(map[pty.ID]*pendingOutput),
		interval: interval,
		onFlush:  onFlush,
	}
}

func (r *RateLimiter) Add(ev pty.OutputEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.pending[ev.ID]
	if !exists {
		p = &pendingOutput{}
		r.pending[ev.ID] = p
		id := ev.ID
		p.timer = time.AfterFunc(r.interval, func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.pending[id] == p {
				r.flushLocked(id)
			}
		})
	}
	p.data.WriteString(ev.Data)
}

// Flush sends any pending output for id, then runs then (if non-nil) before
// releasing the lock.
func (r *RateLimiter) Flush(id pty.ID, then func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushLocked(id)
	if then != nil {
		then()
	}
}

func (r *RateLimiter) flushLocked(id pty.ID) {
	p, exists := r.pending[id]
	if !exists {
		return
	}
	delete(r.pending, id)
	p.timer.Stop()

	if r.onFlush != nil && p.data.Len() > 0 {
		r.onFlush(OutputMessage{Type: pty.EventOutput, ID: id, Data: p.data.String()})
	}
}
