package reply

import (
	"strings"
	"testing"

	"github.com/user/chatkeeper/internal/types"
)

func TestBuildResponse(t *testing.T) {
	got := Build(KindResponse, Params{Text: "hello"})
	if got != "hello" {
		t.Errorf("got %q", got)
	}
	got = Build(KindResponse, Params{Text: "hello", TokenNote: "10 + 5 = 15"})
	if !strings.Contains(got, "hello") || !strings.Contains(got, "10 + 5 = 15") {
		t.Errorf("got %q", got)
	}
}

func TestBuildFallsBackToDefault(t *testing.T) {
	got := Build(Kind(999), Params{Text: "raw"})
	if got != "raw" {
		t.Errorf("unknown kind: got %q, want raw", got)
	}
	if got := Build(Kind(999), Params{}); got == "" {
		t.Error("default builder returned empty text")
	}
}

func TestBuildSessionList(t *testing.T) {
	got := Build(KindSessionList, Params{})
	if !strings.Contains(got, "no sessions") {
		t.Errorf("empty list: got %q", got)
	}
	got = Build(KindSessionList, Params{Sessions: []types.Session{
		{Name: "work", Model: "gpt-test"},
		{Name: "play", Model: "gpt-test"},
	}})
	if !strings.Contains(got, "work") || !strings.Contains(got, "play") {
		t.Errorf("got %q", got)
	}
}

func TestBuildRemoteError(t *testing.T) {
	got := Build(KindRemoteError, Params{Code: 50404, Err: "not found"})
	if !strings.Contains(got, "50404") || !strings.Contains(got, "not found") {
		t.Errorf("got %q", got)
	}
}
