// Package registry resolves which session is active for a user and
// mediates session creation, switching, and deletion. The active
// pointer lives in the per-user config store, one entry per owner hash;
// the conversation store itself never knows about "active".
package registry

import (
	"errors"
	"fmt"

	"github.com/user/chatkeeper/internal/store"
	"github.com/user/chatkeeper/internal/types"
	"github.com/user/chatkeeper/internal/userconf"
)

const (
	// Namespace is this service's namespace in the user config store.
	Namespace = "chatkeeper"
	activeKey = "session_active"
)

// ErrNoActiveSession is returned when an operation needs an active
// session and the user has none.
var ErrNoActiveSession = errors.New("registry: no active session")

// SessionNotFoundError reports a lookup that matched nothing, carrying
// whichever of name and id was asked for.
type SessionNotFoundError struct {
	Name string
	ID   types.SessionID
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("registry: session not found: name=%q id=%q", e.Name, e.ID)
}

type Registry struct {
	store *store.Store
	conf  *userconf.Store
}

func New(st *store.Store, conf *userconf.Store) *Registry {
	return &Registry{store: st, conf: conf}
}

// GetActive returns the user's active session, or nil when none is set.
func (r *Registry) GetActive(owner types.OwnerHash) (*types.Session, error) {
	var sess types.Session
	ok, err := r.conf.Get(Namespace, activeKey, owner, &sess)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

// SetActive atomically replaces the active pointer. A nil session
// clears it.
func (r *Registry) SetActive(owner types.OwnerHash, sess *types.Session) error {
	if sess == nil {
		return r.conf.Clear(Namespace, activeKey, owner)
	}
	return r.conf.Set(Namespace, activeKey, owner, sess)
}

// CreateAndActivate creates a session and makes it the active one. On
// any failure the previous pointer is left unchanged.
func (r *Registry) CreateAndActivate(owner types.OwnerHash, name, model string) (*types.Session, error) {
	sess, err := r.store.CreateSession(owner, name, model)
	if err != nil {
		return nil, err
	}
	if err := r.SetActive(owner, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// ResolveByNameOrID scans the user's sessions, matching by name first,
// then by id.
func (r *Registry) ResolveByNameOrID(owner types.OwnerHash, name string, id types.SessionID) (*types.Session, error) {
	sessions, err := r.store.ListSessions(owner)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		if name != "" && sessions[i].Name == name {
			return &sessions[i], nil
		}
	}
	for i := range sessions {
		if id != "" && sessions[i].ID == id {
			return &sessions[i], nil
		}
	}
	return nil, &SessionNotFoundError{Name: name, ID: id}
}

// DeleteActiveOrNamed deletes the given session, or the active one when
// sess is nil. The active pointer is cleared only if the deleted
// session was the active one.
func (r *Registry) DeleteActiveOrNamed(owner types.OwnerHash, sess *types.Session) error {
	active, err := r.GetActive(owner)
	if err != nil {
		return err
	}
	wasActive := false
	if sess == nil {
		if active == nil {
			return ErrNoActiveSession
		}
		sess = active
		wasActive = true
	} else if active != nil && active.ID == sess.ID {
		wasActive = true
	}

	if err := r.store.DeleteSession(sess.ID); err != nil {
		return err
	}
	if wasActive {
		return r.SetActive(owner, nil)
	}
	return nil
}
