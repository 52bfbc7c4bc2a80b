package history

import "github.com/user/termdeck/internal/pty"

// Tracked is a pty.Registry whose Create and Close are also recorded.
type Tracked struct {
	*pty.Registry
	rec *Recorder
}

func Track(reg *pty.Registry, rec *Recorder) *Tracked {
	return &Tracked{Registry: reg, rec: rec}
}

func (t *Tracked) Create(size pty.Size, dir string) (pty.ID, error) {
	id, err := t.Registry.Create(size, dir)
	if err != nil {
		return 0, err
	}
	// A concurrent Close may already have removed the session.
	info, err := t.Registry.Get(id)
	if err != nil {
		t.rec.Closed(id)
		return id, nil
	}
	t.rec.Created(info)
	return id, nil
}

func (t *Tracked) Close(id pty.ID) {
	t.Registry.Close(id)
	t.rec.Closed(id)
}
