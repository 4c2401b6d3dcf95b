package telegram

import (
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/user/chatkeeper/internal/config"
	"github.com/user/chatkeeper/internal/export"
	"github.com/user/chatkeeper/internal/hook"
	"github.com/user/chatkeeper/internal/registry"
	"github.com/user/chatkeeper/internal/remote"
	"github.com/user/chatkeeper/internal/reply"
	"github.com/user/chatkeeper/internal/store"
	"github.com/user/chatkeeper/internal/types"
)

// Handler executes session commands and plain-text sends for one chat
// platform. It is transport-agnostic: the Telegram adapter (or a test)
// feeds it parsed commands and delivers whatever text comes back.
type Handler struct {
	Store    *store.Store
	Registry *registry.Registry
	Pool     *remote.Pool
	Hooks    *hook.Pipeline
	Config   *config.Config
	Log      *slog.Logger
}

// Command dispatches one slash command and returns the immediate reply.
func (h *Handler) Command(user types.UserInfo, command, args string) string {
	switch command {
	case "new":
		return h.newSession(user, args)
	case "list":
		return h.listSessions(user)
	case "switch":
		return h.switchSession(user, args)
	case "del":
		return h.deleteSession(user, args)
	case "recall":
		return h.recall(user, args)
	case "export":
		text, err := h.Export(user)
		if err != nil {
			return reply.Build(reply.KindStoreError, reply.Params{Err: err.Error()})
		}
		return text
	default:
		return "Unknown command. Available: /new, /list, /switch, /del, /recall, /export"
	}
}

// Text forwards a plain message into the user's active session. The
// model's reply arrives later through deliver; the returned string is
// the immediate response, empty when the exchange was dispatched.
func (h *Handler) Text(user types.UserInfo, text string, deliver func(string)) string {
	sess, err := h.Registry.GetActive(user.Hash())
	if err != nil {
		return reply.Build(reply.KindStoreError, reply.Params{Err: err.Error()})
	}
	if sess == nil {
		return reply.Build(reply.KindNoSession, reply.Params{})
	}

	client, err := h.Pool.Ensure(sess)
	if err != nil {
		return reply.Build(reply.KindStoreError, reply.Params{Err: err.Error()})
	}

	err = client.Send(&remote.Context{User: user, Text: text, Reply: deliver})
	switch {
	case err == nil:
		return ""
	case errors.Is(err, remote.ErrBusy):
		return reply.Build(reply.KindBusy, reply.Params{})
	default:
		var authErr *hook.AuthLevelError
		if errors.As(err, &authErr) {
			return reply.Build(reply.KindAuthDenied, reply.Params{Err: authErr.Error()})
		}
		return reply.Build(reply.KindStoreError, reply.Params{Err: err.Error()})
	}
}

// newSession handles "/new [name] [model]".
func (h *Handler) newSession(user types.UserInfo, args string) string {
	fields := strings.Fields(args)
	var name, modelName string
	if len(fields) > 0 {
		name = fields[0]
	}
	if len(fields) > 1 {
		modelName = fields[1]
	}

	model, err := h.Config.Model(modelName)
	if err != nil {
		return reply.Build(reply.KindDefault, reply.Params{Text: "Unknown model. " + err.Error()})
	}
	if modelName == "" {
		modelName = h.Config.DefaultModel
	}

	if err := h.Hooks.Run(hook.SessionNew, hook.SessionNewPayload{
		User:     user,
		Name:     name,
		Model:    modelName,
		Required: model.AuthLevelRequired,
	}); err != nil {
		var authErr *hook.AuthLevelError
		if errors.As(err, &authErr) {
			return reply.Build(reply.KindAuthDenied, reply.Params{Err: authErr.Error()})
		}
		return reply.Build(reply.KindStoreError, reply.Params{Err: err.Error()})
	}

	sess, err := h.Registry.CreateAndActivate(user.Hash(), name, modelName)
	if err != nil {
		return reply.Build(reply.KindStoreError, reply.Params{Err: err.Error()})
	}
	return reply.Build(reply.KindSessionCreated, reply.Params{Session: sess})
}

func (h *Handler) listSessions(user types.UserInfo) string {
	sessions, err := h.Store.ListSessions(user.Hash())
	if err != nil {
		return reply.Build(reply.KindStoreError, reply.Params{Err: err.Error()})
	}
	return reply.Build(reply.KindSessionList, reply.Params{Sessions: sessions})
}

// switchSession handles "/switch <name-or-id>".
func (h *Handler) switchSession(user types.UserInfo, args string) string {
	target := strings.TrimSpace(args)
	if target == "" {
		return "Usage: /switch <name or id>"
	}
	sess, err := h.Registry.ResolveByNameOrID(user.Hash(), target, types.SessionID(target))
	if err != nil {
		var notFound *registry.SessionNotFoundError
		if errors.As(err, &notFound) {
			return reply.Build(reply.KindSessionNotFound, reply.Params{Err: target})
		}
		return reply.Build(reply.KindStoreError, reply.Params{Err: err.Error()})
	}
	if err := h.Registry.SetActive(user.Hash(), sess); err != nil {
		return reply.Build(reply.KindStoreError, reply.Params{Err: err.Error()})
	}
	return reply.Build(reply.KindSessionSwitched, reply.Params{Session: sess})
}

// deleteSession handles "/del [name-or-id]"; no argument deletes the
// active session.
func (h *Handler) deleteSession(user types.UserInfo, args string) string {
	target := strings.TrimSpace(args)
	var sess *types.Session
	var err error
	if target != "" {
		sess, err = h.Registry.ResolveByNameOrID(user.Hash(), target, types.SessionID(target))
		if err != nil {
			var notFound *registry.SessionNotFoundError
			if errors.As(err, &notFound) {
				return reply.Build(reply.KindSessionNotFound, reply.Params{Err: target})
			}
			return reply.Build(reply.KindStoreError, reply.Params{Err: err.Error()})
		}
	} else {
		sess, err = h.Registry.GetActive(user.Hash())
		if err != nil {
			return reply.Build(reply.KindStoreError, reply.Params{Err: err.Error()})
		}
		if sess == nil {
			return reply.Build(reply.KindNoSession, reply.Params{})
		}
	}

	if err := h.Hooks.Run(hook.SessionDel, hook.SessionDelPayload{User: user, Session: sess}); err != nil {
		return reply.Build(reply.KindStoreError, reply.Params{Err: err.Error()})
	}
	if err := h.Registry.DeleteActiveOrNamed(user.Hash(), sess); err != nil {
		return reply.Build(reply.KindStoreError, reply.Params{Err: err.Error()})
	}
	h.Pool.Drop(sess.ID)
	return reply.Build(reply.KindSessionDeleted, reply.Params{Session: sess})
}

// recall handles "/recall [n]", reclassifying the newest n turns of the
// active session; n defaults to 1.
func (h *Handler) recall(user types.UserInfo, args string) string {
	n := 1
	if s := strings.TrimSpace(args); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			return "Usage: /recall [count]"
		}
		n = v
	}
	sess, err := h.Registry.GetActive(user.Hash())
	if err != nil {
		return reply.Build(reply.KindStoreError, reply.Params{Err: err.Error()})
	}
	if sess == nil {
		return reply.Build(reply.KindNoSession, reply.Params{})
	}
	client, err := h.Pool.Ensure(sess)
	if err != nil {
		return reply.Build(reply.KindStoreError, reply.Params{Err: err.Error()})
	}
	if err := client.Recall(n); err != nil {
		return reply.Build(reply.KindStoreError, reply.Params{Err: err.Error()})
	}
	return reply.Build(reply.KindDefault, reply.Params{Text: "Recalled the last " + strconv.Itoa(n) + " message(s)."})
}

// Export renders the active session's full log.
func (h *Handler) Export(user types.UserInfo) (string, error) {
	sess, err := h.Registry.GetActive(user.Hash())
	if err != nil {
		return "", err
	}
	if sess == nil {
		return reply.Build(reply.KindNoSession, reply.Params{}), nil
	}
	return export.Session(h.Store, sess)
}
