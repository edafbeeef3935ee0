// Package sessions tracks open relay sessions so the gateway can warn and
// drain them on shutdown.
package sessions

import (
	"context"
	"sync"
)

// Handle is what the tracker needs from a live session: a way to cancel it
// and a way to push a warning envelope to its client.
type Handle struct {
	Cancel func()
	Warn   func(code, message string) error
}

type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*entry
	wg       sync.WaitGroup
}

type entry struct {
	handle Handle
	once   sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[string]*entry)}
}

// Register adds a session under id. Registering the same id again retires
// the previous entry. The returned func is idempotent.
func (t *Tracker) Register(id string, h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}
	e := &entry{handle: h}

	t.mu.Lock()
	old := t.sessions[id]
	t.sessions[id] = e
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.retire(id, old)
	}
	return func() { t.retire(id, e) }
}

func (t *Tracker) retire(id string, e *entry) {
	e.once.Do(func() {
		t.mu.Lock()
		if t.sessions[id] == e {
			delete(t.sessions, id)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// WarnAll pushes a warning to every open session. Warn funcs run outside the
// tracker lock.
func (t *Tracker) WarnAll(code, message string) (sent int) {
	if t == nil {
		return 0
	}
	var warns []func(code, message string) error
	t.mu.Lock()
	for _, e := range t.sessions {
		if e.handle.Warn != nil {
			warns = append(warns, e.handle.Warn)
		}
	}
	t.mu.Unlock()

	for _, warn := range warns {
		_ = warn(code, message)
		sent++
	}
	return sent
}

func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}
	var cancels []func()
	t.mu.Lock()
	for _, e := range t.sessions {
		if e.handle.Cancel != nil {
			cancels = append(cancels, e.handle.Cancel)
		}
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered session has unregistered or ctx ends.
// Returns false on timeout.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	if ctx == nil {
		t.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
