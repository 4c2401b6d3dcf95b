// Package export renders a session's complete log, error diagnostics
// included, as plain text suitable for sending back as a file.
package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/user/chatkeeper/internal/status"
	"github.com/user/chatkeeper/internal/store"
	"github.com/user/chatkeeper/internal/types"
)

// Write renders the session header followed by one block per stored
// message, newest last.
func Write(w io.Writer, sess *types.Session, msgs []types.Message) error {
	if _, err := fmt.Fprintf(w, "Session %s (model %s, created %s)\n", sess.Name, sess.Model, sess.CreatedAt); err != nil {
		return err
	}
	for _, m := range msgs {
		if _, err := fmt.Fprintf(w, "\n%s (%d) %s\n%s\n", m.Role, m.Status, m.RecordedAt, m.Content); err != nil {
			return err
		}
	}
	return nil
}

// Session loads the session's full log from the store and renders it.
func Session(st *store.Store, sess *types.Session) (string, error) {
	msgs, err := st.ListMessages(sess.ID, status.CeilingExport)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if err := Write(&b, sess, msgs); err != nil {
		return "", err
	}
	return b.String(), nil
}
