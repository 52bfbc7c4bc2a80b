package pty

import "io"

// Command describes the program spawned on the slave side of a Pair.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

// Backend allocates pseudo-terminal pairs.
type Backend interface {
	OpenPair(size Size) (Pair, error)
}

// Pair is one master/slave pseudo-terminal.
//
// TakeWriter and CloneReader return two independent capabilities over the
// master side. The reader stays usable after Close, so a reader goroutine
// keeps draining output until the child side hangs up.
type Pair interface {
	Spawn(cmd Command) (Child, error)
	TakeWriter() (io.Writer, error)
	CloneReader() (io.ReadCloser, error)
	Resize(size Size) error
	Close() error
}

// Child is a process spawned on a Pair.
type Child interface {
	// Wait blocks until the process exits. It returns an error when the
	// exit code is indeterminate (for example, the process was signalled).
	Wait() (int, error)
}
