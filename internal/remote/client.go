// Package remote owns the live request lifecycle for sessions: one
// lazily constructed client per session, a single-flight gate ensuring
// at most one exchange in flight per session end to end, and the
// reconciliation of every outcome back into the conversation store.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/chatkeeper/internal/config"
	"github.com/user/chatkeeper/internal/hook"
	"github.com/user/chatkeeper/internal/reply"
	"github.com/user/chatkeeper/internal/status"
	"github.com/user/chatkeeper/internal/store"
	"github.com/user/chatkeeper/internal/token"
	"github.com/user/chatkeeper/internal/types"
)

// ErrConstructing is returned when a second caller asks for a client
// whose construction has not finished; construction is not reentrant.
var ErrConstructing = errors.New("remote: client already under construction")

// Context carries one inbound command: who sent it, what they said, and
// how to deliver the reply.
type Context struct {
	User  types.UserInfo
	Text  string
	Reply func(text string)
}

// Deps are the collaborators a Pool wires into every client.
type Deps struct {
	Store  *store.Store
	Hooks  *hook.Pipeline
	Config *config.Config
	Log    *slog.Logger
	HTTP   *http.Client
	// StreamTimeout overrides DefaultStreamTimeout when > 0.
	StreamTimeout time.Duration
}

// Pool is the process-wide client map keyed by session. Clients are
// created once per session per process lifetime and evicted only by
// Drop on session teardown.
type Pool struct {
	mu      sync.Mutex
	clients map[types.SessionID]*Client
	deps    Deps
}

func NewPool(deps Deps) *Pool {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.HTTP == nil {
		deps.HTTP = &http.Client{}
	}
	if deps.StreamTimeout <= 0 {
		deps.StreamTimeout = DefaultStreamTimeout
	}
	return &Pool{
		clients: make(map[types.SessionID]*Client),
		deps:    deps,
	}
}

// Ensure returns the session's client, constructing and hydrating it on
// first use.
func (p *Pool) Ensure(sess *types.Session) (*Client, error) {
	p.mu.Lock()
	if c, ok := p.clients[sess.ID]; ok {
		p.mu.Unlock()
		if c == nil {
			return nil, ErrConstructing
		}
		return c, nil
	}
	p.clients[sess.ID] = nil // construction marker
	p.mu.Unlock()

	c, err := p.newClient(sess)

	p.mu.Lock()
	if err != nil {
		delete(p.clients, sess.ID)
	} else {
		p.clients[sess.ID] = c
	}
	p.mu.Unlock()
	return c, err
}

// Drop removes the session's client, if any. Used on session deletion.
func (p *Pool) Drop(id types.SessionID) {
	p.mu.Lock()
	delete(p.clients, id)
	p.mu.Unlock()
}

func (p *Pool) newClient(sess *types.Session) (*Client, error) {
	model, err := p.deps.Config.Model(sess.Model)
	if err != nil {
		return nil, err
	}
	url, err := endpointURL(model.URL, model.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("remote: model %s: %w", sess.Model, err)
	}

	c := &Client{
		sess:          sess,
		model:         model,
		url:           url,
		store:         p.deps.Store,
		hooks:         p.deps.Hooks,
		log:           p.deps.Log,
		http:          p.deps.HTTP,
		streamTimeout: p.deps.StreamTimeout,
		estimator:     token.NewEstimator(model.ModelType),
		gate:          semaphore.NewWeighted(1),
	}
	if err := c.hydrate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Client handles the remote exchanges of exactly one session.
type Client struct {
	sess          *types.Session
	model         config.Model
	url           string
	store         *store.Store
	hooks         *hook.Pipeline
	log           *slog.Logger
	http          *http.Client
	streamTimeout time.Duration
	estimator     *token.Estimator

	// gate is the single-flight lock: held from dispatch until the
	// exchange, reconciliation, recv hooks, and reply delivery are all
	// done.
	gate *semaphore.Weighted

	// mu protects buffer, the in-memory mirror of the persisted
	// context window.
	mu     sync.Mutex
	buffer []Message
}

// hydrate loads the context-eligible history, oldest first, trimmed to
// the model's window.
func (c *Client) hydrate() error {
	history, err := c.store.ListMessages(c.sess.ID, status.CeilingContext)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range history {
		switch m.Role {
		case status.RoleSystem, status.RoleUser, status.RoleAssistant:
			c.buffer = append(c.buffer, Message{Role: m.Role, Content: m.Content})
		}
	}
	if c.model.MaxContext > 0 && len(c.buffer) > c.model.MaxContext {
		c.buffer = c.buffer[len(c.buffer)-c.model.MaxContext:]
	}
	return nil
}

// push appends to the window, dropping the oldest entry when full.
func (c *Client) push(role, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffer = append(c.buffer, Message{Role: role, Content: content})
	if c.model.MaxContext > 0 && len(c.buffer) > c.model.MaxContext {
		c.buffer = c.buffer[1:]
	}
}

// remove drops the newest window entry matching role and content. The
// failed turn is not necessarily the tail: another send may have been
// appended (and rejected at the gate) while the exchange was in flight.
func (c *Client) remove(role, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.buffer) - 1; i >= 0; i-- {
		if c.buffer[i].Role == role && c.buffer[i].Content == content {
			c.buffer = append(c.buffer[:i], c.buffer[i+1:]...)
			return
		}
	}
}

func (c *Client) snapshot() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.buffer))
	copy(out, c.buffer)
	return out
}

// Send records the user's turn and dispatches the exchange. Empty text
// is a no-op. The send hooks may veto before anything is committed. If
// the gate cannot be acquired within the model's timeout the call fails
// with ErrBusy, but the user's message stays committed. The reply
// arrives through cmd.Reply, not a return value.
func (c *Client) Send(cmd *Context) error {
	if cmd == nil || cmd.Text == "" {
		return nil
	}

	if err := c.hooks.Run(hook.RemoteSend, hook.RemoteSendPayload{
		User:     cmd.User,
		Message:  cmd.Text,
		Model:    c.sess.Model,
		Required: c.model.AuthLevelRequired,
	}); err != nil {
		return err
	}

	line, err := c.store.AppendMessage(c.sess.ID, status.RoleUser, cmd.Text, status.NormalUser)
	if err != nil {
		return err
	}
	c.push(status.RoleUser, cmd.Text)

	ctx := context.Background()
	if c.model.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(c.model.Timeout)*time.Second)
		defer cancel()
	}
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return ErrBusy
	}

	go c.exchange(cmd, line)
	return nil
}

// exchange runs the remote call and reconciles its outcome. It owns the
// gate for its whole duration, recv hooks and reply delivery included.
// line is the logline of the user turn this exchange answers.
func (c *Client) exchange(cmd *Context, line int64) {
	defer c.gate.Release(1)

	messages := c.snapshot()
	var (
		text      string
		tokenNote string
		data      any
		err       error
	)

	if c.model.Stream {
		var frames []json.RawMessage
		text, frames, err = c.stream(messages)
		data = frames
		if err == nil {
			tokenNote = c.streamTokenNote(messages, text)
		}
	} else {
		var parsed *chatResponse
		text, parsed, err = c.complete(messages)
		if parsed != nil {
			data = parsed
			tokenNote = fmt.Sprintf("%d + %d = %d",
				parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens, parsed.Usage.TotalTokens)
		}
	}

	success := true
	var replyText string

	var httpErr *HTTPError
	var invalidErr *ResponseInvalidError
	var timeoutErr *StreamTimeoutError
	switch {
	case err == nil:
		c.commitAssistant(text, status.NormalAssistant)
		replyText = reply.Build(reply.KindResponse, reply.Params{Text: text, TokenNote: tokenNote})

	case errors.As(err, &timeoutErr):
		// Recoverable partial success: the accumulated text is kept,
		// committed with its own status, and delivered as the reply.
		c.commitAssistant(timeoutErr.Partial, status.PartialStream)
		replyText = reply.Build(reply.KindResponse, reply.Params{Text: timeoutErr.Partial})

	case errors.As(err, &httpErr):
		success = false
		c.failExchange(httpErr.Body, status.HTTPError(httpErr.Code), line, cmd.Text)
		replyText = reply.Build(reply.KindRemoteError, reply.Params{
			Code: status.HTTPError(httpErr.Code), Err: httpErr.Body})

	case errors.As(err, &invalidErr):
		success = false
		c.failExchange(invalidErr.Body, status.RemoteInvalid, line, cmd.Text)
		replyText = reply.Build(reply.KindRemoteError, reply.Params{
			Code: status.RemoteInvalid, Err: invalidErr.Body})

	default:
		success = false
		c.failExchange(err.Error(), status.LocalError, line, cmd.Text)
		replyText = reply.Build(reply.KindRemoteError, reply.Params{
			Code: status.LocalError, Err: err.Error()})
	}

	hookErrs := c.hooks.RunIsolated(hook.RemoteRecv, hook.RemoteRecvPayload{
		User:    cmd.User,
		Session: c.sess,
		Stream:  c.model.Stream,
		Success: success,
		Data:    data,
	})
	for _, herr := range hookErrs {
		replyText += "\nhook error: " + herr.Error()
	}

	if cmd.Reply != nil {
		cmd.Reply(replyText)
	}
}

// commitAssistant persists the assistant turn and mirrors it into the
// window.
func (c *Client) commitAssistant(text string, code int) {
	if _, err := c.store.AppendMessage(c.sess.ID, status.RoleAssistant, text, code); err != nil {
		c.log.Error("record assistant message", "session_id", string(c.sess.ID), "error", err)
	}
	c.push(status.RoleAssistant, text)
}

// failExchange records the error row for diagnostics and recalls the
// triggering user turn so a failed exchange never pollutes future
// context. The reclassification addresses the turn by its logline:
// newer rows committed by rejected sends stay untouched.
func (c *Client) failExchange(detail string, code int, line int64, content string) {
	if _, err := c.store.AppendMessage(c.sess.ID, "error", detail, code); err != nil {
		c.log.Error("record error row", "session_id", string(c.sess.ID), "error", err)
	}
	ignored := status.Ignore(status.NormalUser)
	if err := c.store.UpdateMessage(c.sess.ID, line, 0, store.Fields{Status: &ignored}); err != nil {
		c.log.Error("recall user turn", "session_id", string(c.sess.ID), "logline", line, "error", err)
	}
	c.remove(status.RoleUser, content)
}

// Recall reclassifies the newest n eligible turns and drops them from
// the window; used by the recall command.
func (c *Client) Recall(n int) error {
	if err := c.store.RecallLast(c.sess.ID, n, status.RecallOffset, status.CeilingContext); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > len(c.buffer) {
		n = len(c.buffer)
	}
	c.buffer = c.buffer[:len(c.buffer)-n]
	return nil
}

// streamTokenNote estimates token usage when the API reports none.
func (c *Client) streamTokenNote(messages []Message, completion string) string {
	texts := make([]string, 0, len(messages))
	for _, m := range messages {
		texts = append(texts, m.Content)
	}
	sent, ok := c.estimator.CountAll(texts...)
	if !ok {
		return ""
	}
	received, ok := c.estimator.Count(completion)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%d + %d = %d, estimated", sent, received, sent+received)
}
