package registry

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/user/chatkeeper/internal/store"
	"github.com/user/chatkeeper/internal/types"
	"github.com/user/chatkeeper/internal/userconf"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "data.db"), 2, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	conf, err := userconf.Open(filepath.Join(dir, "conf.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		st.Close()
		conf.Close()
	})
	return New(st, conf)
}

func TestActivePointerLifecycle(t *testing.T) {
	r := newTestRegistry(t)
	owner := types.NewOwnerHash("testchat", "1")

	if sess, err := r.GetActive(owner); err != nil || sess != nil {
		t.Fatalf("fresh user: sess=%v err=%v", sess, err)
	}

	sess, err := r.CreateAndActivate(owner, "work", "gpt-test")
	if err != nil {
		t.Fatal(err)
	}
	active, err := r.GetActive(owner)
	if err != nil {
		t.Fatal(err)
	}
	if active == nil || active.ID != sess.ID {
		t.Fatalf("active = %+v, want %s", active, sess.ID)
	}

	// Switching replaces, not merges.
	second, err := r.CreateAndActivate(owner, "play", "gpt-test")
	if err != nil {
		t.Fatal(err)
	}
	active, _ = r.GetActive(owner)
	if active.ID != second.ID {
		t.Errorf("active = %s, want %s", active.ID, second.ID)
	}
}

func TestResolveByNameOrID(t *testing.T) {
	r := newTestRegistry(t)
	owner := types.NewOwnerHash("testchat", "2")
	a, _ := r.CreateAndActivate(owner, "alpha", "m")
	b, _ := r.CreateAndActivate(owner, "beta", "m")

	got, err := r.ResolveByNameOrID(owner, "alpha", "")
	if err != nil || got.ID != a.ID {
		t.Errorf("by name: got %v err %v", got, err)
	}
	got, err = r.ResolveByNameOrID(owner, "", b.ID)
	if err != nil || got.ID != b.ID {
		t.Errorf("by id: got %v err %v", got, err)
	}

	_, err = r.ResolveByNameOrID(owner, "missing", "")
	var nf *SessionNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("got %v, want SessionNotFoundError", err)
	}
	if nf.Name != "missing" {
		t.Errorf("error carries name %q, want missing", nf.Name)
	}
}

func TestDeleteActiveClearsPointer(t *testing.T) {
	r := newTestRegistry(t)
	owner := types.NewOwnerHash("testchat", "3")
	r.CreateAndActivate(owner, "doomed", "m")

	if err := r.DeleteActiveOrNamed(owner, nil); err != nil {
		t.Fatal(err)
	}
	if active, _ := r.GetActive(owner); active != nil {
		t.Errorf("pointer survived deleting the active session: %+v", active)
	}
}

func TestDeleteNamedKeepsPointer(t *testing.T) {
	r := newTestRegistry(t)
	owner := types.NewOwnerHash("testchat", "4")
	keep, _ := r.CreateAndActivate(owner, "keep", "m")
	_ = keep
	active, _ := r.GetActive(owner)

	other, err := r.store.CreateSession(owner, "other", "m")
	if err != nil {
		t.Fatal(err)
	}
	if err := r.DeleteActiveOrNamed(owner, other); err != nil {
		t.Fatal(err)
	}
	after, _ := r.GetActive(owner)
	if after == nil || after.ID != active.ID {
		t.Errorf("pointer changed: %+v, want %s", after, active.ID)
	}
}

func TestDeleteWithoutActive(t *testing.T) {
	r := newTestRegistry(t)
	owner := types.NewOwnerHash("testchat", "5")
	if err := r.DeleteActiveOrNamed(owner, nil); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("got %v, want ErrNoActiveSession", err)
	}
}
