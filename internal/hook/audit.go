// internal/hook/audit.go
package hook

import (
	"fmt"

	"github.com/user/chatkeeper/internal/types"
	"github.com/user/chatkeeper/internal/userconf"
)

const (
	authNamespace = "unity"
	authKey       = "auth_level"
	confNamespace = "chatkeeper"
)

// AuthLevelError is the user-visible denial when a model requires a
// higher authorization level than the user holds.
type AuthLevelError struct {
	Required int
	Current  int
}

func (e *AuthLevelError) Error() string {
	return fmt.Sprintf("auth level %d required, current level is %d", e.Required, e.Current)
}

// AuthLevel builds a hook that checks the user's stored auth level
// (namespace "unity", key "auth_level", default 0) against the model's
// required level. Payloads that carry no requirement pass through.
func AuthLevel(conf *userconf.Store) Func {
	return func(payload any) error {
		var user types.UserInfo
		var required int
		switch p := payload.(type) {
		case SessionNewPayload:
			user, required = p.User, p.Required
		case RemoteSendPayload:
			user, required = p.User, p.Required
		default:
			return nil
		}
		current, err := conf.GetInt(authNamespace, authKey, user.Hash(), 0)
		if err != nil {
			return err
		}
		if current < required {
			return &AuthLevelError{Required: required, Current: current}
		}
		return nil
	}
}

// UsageCounter builds a remote.recv hook that bumps the user's
// per-model exchange counter unconditionally, failures included.
func UsageCounter(conf *userconf.Store) Func {
	return func(payload any) error {
		p, ok := payload.(RemoteRecvPayload)
		if !ok || p.Session == nil {
			return nil
		}
		owner := p.User.Hash()
		key := "count_" + p.Session.Model
		n, err := conf.GetInt(confNamespace, key, owner, 0)
		if err != nil {
			return err
		}
		return conf.Set(confNamespace, key, owner, n+1)
	}
}

// RegisterDefaults wires the bundled hooks the way the service runs in
// production: the auth gate before session creation and before every
// send, and the usage counter after every exchange.
func RegisterDefaults(p *Pipeline, conf *userconf.Store) {
	p.Register(SessionNew, "auth-level", AuthLevel(conf))
	p.Register(RemoteSend, "auth-level", AuthLevel(conf))
	p.Register(RemoteRecv, "usage-counter", UsageCounter(conf))
}
