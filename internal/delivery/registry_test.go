package delivery

import (
	"errors"
	"testing"

	"github.com/user/chatkeeper/internal/types"
)

func TestDeliverRoutesByPlatform(t *testing.T) {
	reg := NewRegistry()

	var gotUser types.UserInfo
	var gotText string
	reg.Register("telegram", func(user types.UserInfo, text string) error {
		gotUser = user
		gotText = text
		return nil
	})

	user := types.UserInfo{Platform: "telegram", UserID: "42"}
	if err := reg.Deliver(user, "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotUser != user {
		t.Errorf("handler saw user %+v", gotUser)
	}
	if gotText != "hello" {
		t.Errorf("handler saw text %q", gotText)
	}
}

func TestDeliverUnknownPlatform(t *testing.T) {
	reg := NewRegistry()
	err := reg.Deliver(types.UserInfo{Platform: "irc", UserID: "1"}, "hi")
	if err == nil {
		t.Fatal("expected error for unregistered platform")
	}
}

func TestReplyFuncReportsFailure(t *testing.T) {
	reg := NewRegistry()
	sendErr := errors.New("network down")
	reg.Register("telegram", func(types.UserInfo, string) error {
		return sendErr
	})

	var reported error
	fn := reg.ReplyFunc(types.UserInfo{Platform: "telegram", UserID: "1"}, func(err error) {
		reported = err
	})
	fn("hi")
	if !errors.Is(reported, sendErr) {
		t.Errorf("reported = %v, want the send error", reported)
	}
}
