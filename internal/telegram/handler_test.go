package telegram

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/user/chatkeeper/internal/config"
	"github.com/user/chatkeeper/internal/hook"
	"github.com/user/chatkeeper/internal/registry"
	"github.com/user/chatkeeper/internal/remote"
	"github.com/user/chatkeeper/internal/store"
	"github.com/user/chatkeeper/internal/types"
	"github.com/user/chatkeeper/internal/userconf"
)

func newHandler(t *testing.T) (*Handler, types.UserInfo) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"pong"}}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`)
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "sessions.db"), 2, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	conf, err := userconf.Open(filepath.Join(dir, "userconf.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conf.Close() })

	cfg := &config.Config{
		DefaultModel: "m",
		Models: map[string]config.Model{
			"m":    {URL: srv.URL + "/", Endpoint: "v1/chat/completions", ModelType: "gpt-test", Timeout: -1, MaxContext: -1},
			"priv": {URL: srv.URL + "/", Endpoint: "v1/chat/completions", ModelType: "gpt-test", Timeout: -1, MaxContext: -1, AuthLevelRequired: 2},
		},
	}

	hooks := hook.NewPipeline(nil)
	hook.RegisterDefaults(hooks, conf)
	reg := registry.New(st, conf)
	pool := remote.NewPool(remote.Deps{Store: st, Hooks: hooks, Config: cfg})

	h := &Handler{Store: st, Registry: reg, Pool: pool, Hooks: hooks, Config: cfg}
	return h, types.UserInfo{Platform: Platform, UserID: "100"}
}

func TestNewListSwitchDelete(t *testing.T) {
	h, user := newHandler(t)

	out := h.Command(user, "new", "work")
	if !strings.Contains(out, `"work"`) {
		t.Fatalf("/new reply = %q", out)
	}
	h.Command(user, "new", "play")

	out = h.Command(user, "list", "")
	if !strings.Contains(out, "work") || !strings.Contains(out, "play") {
		t.Errorf("/list reply = %q", out)
	}

	out = h.Command(user, "switch", "work")
	if !strings.Contains(out, `"work"`) {
		t.Errorf("/switch reply = %q", out)
	}
	active, err := h.Registry.GetActive(user.Hash())
	if err != nil || active == nil || active.Name != "work" {
		t.Fatalf("active = %+v, err = %v", active, err)
	}

	out = h.Command(user, "switch", "nope")
	if !strings.Contains(out, "No such session") {
		t.Errorf("/switch nope reply = %q", out)
	}

	out = h.Command(user, "del", "")
	if !strings.Contains(out, `"work"`) {
		t.Errorf("/del reply = %q", out)
	}
	active, _ = h.Registry.GetActive(user.Hash())
	if active != nil {
		t.Errorf("active still set after /del: %+v", active)
	}
	// "play" survived.
	sessions, _ := h.Store.ListSessions(user.Hash())
	if len(sessions) != 1 || sessions[0].Name != "play" {
		t.Errorf("sessions = %+v", sessions)
	}
}

func TestTextRoundTrip(t *testing.T) {
	h, user := newHandler(t)
	h.Command(user, "new", "chat")

	got := make(chan string, 1)
	immediate := h.Text(user, "ping", func(s string) { got <- s })
	if immediate != "" {
		t.Fatalf("immediate reply = %q, want dispatch", immediate)
	}
	select {
	case s := <-got:
		if !strings.Contains(s, "pong") {
			t.Errorf("delivered reply = %q", s)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("no reply delivered")
	}
}

func TestTextWithoutSession(t *testing.T) {
	h, user := newHandler(t)
	out := h.Text(user, "hello", func(string) {})
	if !strings.Contains(out, "No active session") {
		t.Errorf("reply = %q", out)
	}
}

func TestNewDeniedByAuthLevel(t *testing.T) {
	h, user := newHandler(t)
	out := h.Command(user, "new", "secret priv")
	if !strings.Contains(out, "not authorized") {
		t.Fatalf("reply = %q", out)
	}
	sessions, _ := h.Store.ListSessions(user.Hash())
	if len(sessions) != 0 {
		t.Errorf("denied /new still created %+v", sessions)
	}
}

func TestRecallCommand(t *testing.T) {
	h, user := newHandler(t)
	h.Command(user, "new", "chat")

	got := make(chan string, 1)
	h.Text(user, "ping", func(s string) { got <- s })
	<-got

	out := h.Command(user, "recall", "2")
	if !strings.Contains(out, "Recalled") {
		t.Fatalf("/recall reply = %q", out)
	}
	out = h.Command(user, "recall", "zero")
	if !strings.Contains(out, "Usage") {
		t.Errorf("/recall zero reply = %q", out)
	}
}

func TestExportCommand(t *testing.T) {
	h, user := newHandler(t)
	h.Command(user, "new", "chat")

	got := make(chan string, 1)
	h.Text(user, "ping", func(s string) { got <- s })
	<-got

	out, err := h.Export(user)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Session chat", "ping", "pong"} {
		if !strings.Contains(out, want) {
			t.Errorf("export missing %q:\n%s", want, out)
		}
	}
}
