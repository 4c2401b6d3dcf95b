// Package reply renders the user-facing text for every outcome the
// service can deliver. Each reply kind maps to a builder function; an
// unmapped kind falls back to the default entry.
package reply

import (
	"fmt"
	"strings"

	"github.com/user/chatkeeper/internal/types"
)

type Kind int

const (
	KindDefault Kind = iota
	KindResponse
	KindBusy
	KindAuthDenied
	KindRemoteError
	KindStoreError
	KindNoSession
	KindSessionCreated
	KindSessionDeleted
	KindSessionSwitched
	KindSessionList
	KindSessionNotFound
)

// Params carries whatever the builder for a kind needs; unused fields
// are ignored.
type Params struct {
	Text      string
	Code      int
	Err       string
	TokenNote string
	Session   *types.Session
	Sessions  []types.Session
}

type Builder func(p Params) string

var builders = map[Kind]Builder{
	KindDefault: func(p Params) string {
		if p.Text != "" {
			return p.Text
		}
		return "Nothing to report."
	},
	KindResponse: func(p Params) string {
		if p.TokenNote == "" {
			return p.Text
		}
		return p.Text + "\n\n(tokens: " + p.TokenNote + ")"
	},
	KindBusy: func(p Params) string {
		return "A reply for this session is still in flight. Try again when it finishes."
	},
	KindAuthDenied: func(p Params) string {
		return "You are not authorized to use this model. " + p.Err
	},
	KindRemoteError: func(p Params) string {
		return fmt.Sprintf("The model request failed (code %d).\n%s", p.Code, p.Err)
	},
	KindStoreError: func(p Params) string {
		return "Could not record the conversation: " + p.Err
	},
	KindNoSession: func(p Params) string {
		return "No active session. Create one first."
	},
	KindSessionCreated: func(p Params) string {
		return fmt.Sprintf("Session %q created with model %s and activated.", p.Session.Name, p.Session.Model)
	},
	KindSessionDeleted: func(p Params) string {
		return fmt.Sprintf("Session %q deleted.", p.Session.Name)
	},
	KindSessionSwitched: func(p Params) string {
		return fmt.Sprintf("Switched to session %q (model %s).", p.Session.Name, p.Session.Model)
	},
	KindSessionList: func(p Params) string {
		if len(p.Sessions) == 0 {
			return "You have no sessions."
		}
		var b strings.Builder
		b.WriteString("Your sessions:\n")
		for _, s := range p.Sessions {
			fmt.Fprintf(&b, "- %s (model %s, updated %s)\n", s.Name, s.Model, s.UpdatedAt)
		}
		return strings.TrimRight(b.String(), "\n")
	},
	KindSessionNotFound: func(p Params) string {
		return "No such session. " + p.Err
	},
}

// Build renders the reply for kind, falling back to the default builder
// for kinds with no entry.
func Build(kind Kind, p Params) string {
	if b, ok := builders[kind]; ok {
		return b(p)
	}
	return builders[KindDefault](p)
}
