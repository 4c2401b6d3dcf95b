package export

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/user/chatkeeper/internal/status"
	"github.com/user/chatkeeper/internal/store"
	"github.com/user/chatkeeper/internal/types"
)

func TestSessionIncludesErrorRows(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "data.db"), 2, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	user := types.UserInfo{Platform: "testchat", UserID: "1"}
	sess, err := st.CreateSession(user.Hash(), "journal", "m")
	if err != nil {
		t.Fatal(err)
	}
	st.AppendMessage(sess.ID, status.RoleUser, "hello", status.NormalUser)
	st.AppendMessage(sess.ID, status.RoleAssistant, "hi there", status.NormalAssistant)
	st.AppendMessage(sess.ID, "error", "upstream 502", status.HTTPError(502))

	out, err := Session(st, sess)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "Session journal (model m") {
		t.Errorf("missing header: %q", out)
	}
	for _, want := range []string{
		"user (10002)", "hello",
		"assistant (10003)", "hi there",
		"error (50502)", "upstream 502",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteEmptyLog(t *testing.T) {
	var b strings.Builder
	sess := &types.Session{Name: "empty", Model: "m", CreatedAt: "2026-01-01 00:00:00"}
	if err := Write(&b, sess, nil); err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(b.String(), "\n"); got != 1 {
		t.Errorf("empty log rendered %d lines", got)
	}
}
