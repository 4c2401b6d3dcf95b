package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/chatkeeper/internal/export"
	"github.com/user/chatkeeper/internal/registry"
	"github.com/user/chatkeeper/internal/store"
	"github.com/user/chatkeeper/internal/types"
	"github.com/user/chatkeeper/internal/userconf"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionExportCmd)

	sessionCmd.PersistentFlags().String("platform", "telegram", "chat platform of the owner")
	sessionCmd.PersistentFlags().String("user", "", "platform user id of the owner (required)")
	_ = sessionCmd.MarkPersistentFlagRequired("user")
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect a user's sessions",
}

func sessionOwner(cmd *cobra.Command) types.UserInfo {
	platform, _ := cmd.Flags().GetString("platform")
	userID, _ := cmd.Flags().GetString("user")
	return types.UserInfo{Platform: platform, UserID: userID}
}

func openStores(cmd *cobra.Command) (*store.Store, *userconf.Store, error) {
	cfg := loadConfig()
	st, err := store.Open(
		filepath.Join(cfg.DataDir, "sessions.db"),
		cfg.Store.Workers,
		time.Duration(cfg.Store.TimeoutMS)*time.Millisecond,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("open session store: %w", err)
	}
	conf, err := userconf.Open(filepath.Join(cfg.DataDir, "userconf.db"))
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("open user config store: %w", err)
	}
	return st, conf, nil
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the user's sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, conf, err := openStores(cmd)
		if err != nil {
			return err
		}
		defer st.Close()
		defer conf.Close()

		user := sessionOwner(cmd)
		sessions, err := st.ListSessions(user.Hash())
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		active, err := registry.New(st, conf).GetActive(user.Hash())
		if err != nil {
			return fmt.Errorf("resolve active session: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tID\tMODEL\tUPDATED\tACTIVE")
		for _, s := range sessions {
			mark := ""
			if active != nil && active.ID == s.ID {
				mark = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.Name, s.ID, s.Model, s.UpdatedAt, mark)
		}
		return w.Flush()
	},
}

var sessionExportCmd = &cobra.Command{
	Use:   "export <name-or-id>",
	Short: "Print a session's full log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, conf, err := openStores(cmd)
		if err != nil {
			return err
		}
		defer st.Close()
		defer conf.Close()

		user := sessionOwner(cmd)
		sess, err := registry.New(st, conf).ResolveByNameOrID(user.Hash(), args[0], types.SessionID(args[0]))
		if err != nil {
			return err
		}
		text, err := export.Session(st, sess)
		if err != nil {
			return err
		}
		fmt.Fprint(os.Stdout, text)
		return nil
	},
}
