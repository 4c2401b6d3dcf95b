package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/chatkeeper/internal/delivery"
	"github.com/user/chatkeeper/internal/hook"
	"github.com/user/chatkeeper/internal/registry"
	"github.com/user/chatkeeper/internal/remote"
	"github.com/user/chatkeeper/internal/store"
	"github.com/user/chatkeeper/internal/telegram"
	"github.com/user/chatkeeper/internal/userconf"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chatkeeper daemon",
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "chatkeeper.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	// Stores
	st, err := store.Open(
		filepath.Join(cfg.DataDir, "sessions.db"),
		cfg.Store.Workers,
		time.Duration(cfg.Store.TimeoutMS)*time.Millisecond,
	)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer st.Close()

	conf, err := userconf.Open(filepath.Join(cfg.DataDir, "userconf.db"))
	if err != nil {
		return fmt.Errorf("open user config store: %w", err)
	}
	defer conf.Close()

	// Hooks
	hooks := hook.NewPipeline(slog.Default())
	hook.RegisterDefaults(hooks, conf)

	// Session registry and remote client pool
	reg := registry.New(st, conf)
	pool := remote.NewPool(remote.Deps{
		Store:  st,
		Hooks:  hooks,
		Config: cfg,
		Log:    slog.Default(),
	})

	routes := delivery.NewRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slog.Info("chatkeeper started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"default_model", cfg.DefaultModel,
		"models", len(cfg.Models),
		"store_workers", cfg.Store.Workers,
		"pid_file", pidPath,
	)

	// Telegram adapter
	if cfg.Telegram.Token != "" {
		handler := &telegram.Handler{
			Store:    st,
			Registry: reg,
			Pool:     pool,
			Hooks:    hooks,
			Config:   cfg,
			Log:      slog.Default(),
		}
		adapter, err := telegram.New(cfg.Telegram.Token, handler, routes, slog.Default())
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		go adapter.Start(ctx)
		slog.Info("telegram adapter started")
	} else {
		slog.Warn("telegram adapter disabled (no token)")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			os.Remove(pidPath)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				if _, writeErr := writePIDFile(cfg.DataDir); writeErr != nil {
					slog.Error("failed to re-write PID file", "error", writeErr)
				}
				continue
			}
		}
		slog.Info("shutting down", "signal", sig)
		return nil
	}
}
