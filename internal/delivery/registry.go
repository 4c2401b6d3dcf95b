// Package delivery routes outbound replies to whichever chat adapter
// owns the recipient's platform. Adapters register themselves at
// startup; nothing else in the process knows how a platform talks.
package delivery

import (
	"fmt"
	"sync"

	"github.com/user/chatkeeper/internal/types"
)

// Handler sends one reply to a user on the handler's platform.
type Handler func(user types.UserInfo, text string) error

// Registry maps platform names to their delivery handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register installs the handler for a platform, replacing any previous
// one.
func (r *Registry) Register(platform string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[platform] = handler
}

// Deliver hands the reply to the recipient's platform handler.
func (r *Registry) Deliver(user types.UserInfo, text string) error {
	r.mu.RLock()
	handler, ok := r.handlers[user.Platform]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("delivery: no handler for platform %s", user.Platform)
	}
	return handler(user, text)
}

// ReplyFunc adapts the registry into the reply callback the remote
// client expects, bound to one recipient.
func (r *Registry) ReplyFunc(user types.UserInfo, onError func(error)) func(string) {
	return func(text string) {
		if err := r.Deliver(user, text); err != nil && onError != nil {
			onError(err)
		}
	}
}
