package pty

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"syscall"
	"time"
)

const readBufferSize = 4096

// Session is one registered terminal: a PTY pair, its shell, and the
// exclusive writer for the master side. The reader goroutine is not tracked
// here; it owns its own handle and ends on its own.
type Session struct {
	id        ID
	shell     string
	dir       string
	createdAt time.Time

	pair   Pair
	output *scrollback

	writeMu sync.Mutex
	writer  io.Writer

	sizeMu sync.Mutex
	size   Size
}

type flusher interface {
	Flush() error
}

// write forwards data verbatim and flushes it before returning. Writes to
// the same session are serialized; writes to different sessions are not.
func (s *Session) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.writer.Write(data); err != nil {
		return err
	}
	if f, ok := s.writer.(flusher); ok {
		return f.Flush()
	}
	return nil
}

func (s *Session) resize(size Size) error {
	s.sizeMu.Lock()
	defer s.sizeMu.Unlock()

	if err := s.pair.Resize(size); err != nil {
		return err
	}
	s.size = size
	return nil
}

func (s *Session) info() Info {
	s.sizeMu.Lock()
	size := s.size
	s.sizeMu.Unlock()

	return Info{
		ID:        s.id,
		Shell:     s.shell,
		Dir:       s.dir,
		Rows:      size.Rows,
		Cols:      size.Cols,
		CreatedAt: s.createdAt,
	}
}

// pump is the session's reader goroutine. It publishes output in read order,
// then waits for the child and publishes exactly one exit event.
func pump(id ID, reader io.ReadCloser, child Child, output *scrollback, sink EventSink, logger *slog.Logger) {
	defer reader.Close()

	publish := func(text string) {
		if text == "" {
			return
		}
		output.Write([]byte(text))
		sink.TerminalOutput(OutputEvent{ID: id, Data: text})
	}

	dec := newOutputDecoder()
	buf := make([]byte, readBufferSize)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			publish(dec.decode(buf[:n]))
		}
		if err != nil {
			// A PTY master reports EIO, not EOF, once the child side hangs up.
			if !errors.Is(err, io.EOF) && !errors.Is(err, syscall.EIO) {
				logger.Debug("terminal read ended", "id", id, "error", err)
			}
			break
		}
		if n == 0 {
			break
		}
	}
	publish(dec.flush())

	ev := ExitEvent{ID: id}
	code, err := child.Wait()
	if err != nil {
		logger.Debug("terminal exit status unavailable", "id", id, "error", err)
	} else {
		ev.Code = &code
	}
	logger.Info("terminal exited", "id", id, "code", exitCodeAttr(ev.Code))
	sink.TerminalExit(ev)
}

func exitCodeAttr(code *int) any {
	if code == nil {
		return "unknown"
	}
	return *code
}
