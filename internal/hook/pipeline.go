// Package hook is the ordered extension mechanism fired around session
// lifecycle and remote exchanges. Hooks at session.new, session.del and
// remote.send may veto the operation; remote.recv hooks are isolated
// and can never block reply delivery.
package hook

import (
	"log/slog"
	"sync"

	"github.com/user/chatkeeper/internal/types"
)

// Point names a place in the control flow where hooks fire.
type Point string

const (
	SessionNew Point = "session.new"
	SessionDel Point = "session.del"
	RemoteSend Point = "remote.send"
	RemoteRecv Point = "remote.recv"
)

// Func is a single hook callback. Returning an error vetoes the
// operation at propagating points.
type Func func(payload any) error

type entry struct {
	name string
	fn   Func
}

// Pipeline holds the ordered hook lists per point. It is explicitly
// constructed and passed to its consumers; there is no package-level
// registry.
type Pipeline struct {
	mu    sync.RWMutex
	hooks map[Point][]entry
	log   *slog.Logger
}

func NewPipeline(log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		hooks: make(map[Point][]entry),
		log:   log,
	}
}

// Register appends fn to the point's list. Hooks run in registration
// order.
func (p *Pipeline) Register(point Point, name string, fn Func) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hooks[point] = append(p.hooks[point], entry{name: name, fn: fn})
}

func (p *Pipeline) snapshot(point Point) []entry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.hooks[point]
}

// Run invokes the point's hooks in order and returns the first error,
// skipping the rest.
func (p *Pipeline) Run(point Point, payload any) error {
	for _, e := range p.snapshot(point) {
		if err := e.fn(payload); err != nil {
			return err
		}
	}
	return nil
}

// RunIsolated invokes every hook regardless of failures. Errors are
// logged and returned for the caller to surface, never to abort on.
func (p *Pipeline) RunIsolated(point Point, payload any) []error {
	var errs []error
	for _, e := range p.snapshot(point) {
		if err := e.fn(payload); err != nil {
			p.log.Error("hook failed", "point", string(point), "hook", e.name, "error", err)
			errs = append(errs, err)
		}
	}
	return errs
}

// SessionNewPayload is passed to session.new hooks before the session
// row exists.
type SessionNewPayload struct {
	User     types.UserInfo
	Name     string
	Model    string
	Required int
}

// SessionDelPayload is passed to session.del hooks before deletion.
type SessionDelPayload struct {
	User    types.UserInfo
	Session *types.Session
}

// RemoteSendPayload is passed to remote.send hooks before dispatch.
type RemoteSendPayload struct {
	User     types.UserInfo
	Message  string
	Model    string
	Required int
}

// RemoteRecvPayload is passed to remote.recv hooks after every exchange,
// successful or not. Data carries the raw response when there is one.
type RemoteRecvPayload struct {
	User    types.UserInfo
	Session *types.Session
	Stream  bool
	Success bool
	Data    any
}
