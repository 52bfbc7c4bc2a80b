//go:build !windows

package pty

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	creackpty "github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// NativeBackend allocates real pseudo-terminals through creack/pty.
type NativeBackend struct{}

// NewNativeBackend returns the operating system PTY backend.
func NewNativeBackend() *NativeBackend {
	return &NativeBackend{}
}

// OpenPair allocates a PTY pair sized to size. A zero size is passed through
// to the kernel unchanged.
func (NativeBackend) OpenPair(size Size) (Pair, error) {
	master, tty, err := creackpty.Open()
	if err != nil {
		return nil, err
	}
	if err := creackpty.Setsize(master, winsize(size)); err != nil {
		_ = tty.Close()
		_ = master.Close()
		return nil, err
	}
	return &nativePair{master: master, tty: tty}, nil
}

type nativePair struct {
	master *os.File

	mu          sync.Mutex
	tty         *os.File
	writerTaken bool
	closed      bool
}

func (p *nativePair) Spawn(c Command) (Child, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, errors.New("pty: pair is closed")
	}
	if p.tty == nil {
		return nil, errors.New("pty: pair already has a child")
	}

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	cmd.Stdin = p.tty
	cmd.Stdout = p.tty
	cmd.Stderr = p.tty
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Setctty: true}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	// The child holds the only slave descriptors from here on, so reads on
	// the master report end-of-stream once it and its descendants exit.
	_ = p.tty.Close()
	p.tty = nil

	return &nativeChild{cmd: cmd}, nil
}

func (p *nativePair) TakeWriter() (io.Writer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, errors.New("pty: pair is closed")
	}
	if p.writerTaken {
		return nil, errors.New("pty: writer already taken")
	}
	p.writerTaken = true
	return p.master, nil
}

func (p *nativePair) CloneReader() (io.ReadCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, errors.New("pty: pair is closed")
	}

	raw, err := p.master.SyscallConn()
	if err != nil {
		return nil, err
	}
	dup := -1
	var dupErr error
	if err := raw.Control(func(fd uintptr) {
		dup, dupErr = unix.FcntlInt(fd, unix.F_DUPFD_CLOEXEC, 0)
	}); err != nil {
		return nil, err
	}
	if dupErr != nil {
		return nil, fmt.Errorf("dup master: %w", dupErr)
	}
	return os.NewFile(uintptr(dup), p.master.Name()), nil
}

func (p *nativePair) Resize(size Size) error {
	return creackpty.Setsize(p.master, winsize(size))
}

func (p *nativePair) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	if p.tty != nil {
		_ = p.tty.Close()
		p.tty = nil
	}
	return p.master.Close()
}

type nativeChild struct {
	cmd *exec.Cmd
}

func (c *nativeChild) Wait() (int, error) {
	err := c.cmd.Wait()
	state := c.cmd.ProcessState
	if state == nil {
		return 0, err
	}
	if code := state.ExitCode(); code >= 0 {
		return code, nil
	}
	return 0, fmt.Errorf("pty: child did not exit normally: %s", state)
}

func winsize(size Size) *creackpty.Winsize {
	return &creackpty.Winsize{Rows: size.Rows, Cols: size.Cols}
}
