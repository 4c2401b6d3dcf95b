// Package telegram is the chat adapter: it long-polls the Bot API,
// parses slash commands, and hands everything else to the active
// session's remote client.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/chatkeeper/internal/delivery"
	"github.com/user/chatkeeper/internal/types"
)

const maxTelegramMessage = 4096

// Platform is this adapter's name in the delivery registry.
const Platform = "telegram"

// Adapter bridges Telegram updates to the command handler.
type Adapter struct {
	bot     *tgbotapi.BotAPI
	handler *Handler
	routes  *delivery.Registry
	log     *slog.Logger
}

// New creates the adapter and registers its reply route.
func New(token string, handler *Handler, routes *delivery.Registry, log *slog.Logger) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	a := &Adapter{bot: bot, handler: handler, routes: routes, log: log}
	routes.Register(Platform, func(user types.UserInfo, text string) error {
		chatID, err := strconv.ParseInt(user.UserID, 10, 64)
		if err != nil {
			return fmt.Errorf("bad chat id %q: %w", user.UserID, err)
		}
		a.sendText(chatID, text)
		return nil
	})
	return a, nil
}

// Start long-polls for updates until the context is cancelled.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			a.handleMessage(update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

func (a *Adapter) handleMessage(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	user := types.UserInfo{
		Platform: Platform,
		UserID:   strconv.FormatInt(chatID, 10),
	}

	if msg.IsCommand() {
		switch msg.Command() {
		case "start":
			a.sendText(chatID, "Hello! Create a session with /new, then just talk.")
		case "export":
			a.sendExport(chatID, user)
		default:
			a.sendText(chatID, a.handler.Command(user, msg.Command(), msg.CommandArguments()))
		}
		return
	}

	deliver := a.routes.ReplyFunc(user, func(err error) {
		a.log.Error("deliver reply", "chat_id", chatID, "error", err)
	})
	immediate := a.handler.Text(user, msg.Text, deliver)
	if immediate != "" {
		a.sendText(chatID, immediate)
	}
}

// sendExport delivers the full session log as a text file attachment.
func (a *Adapter) sendExport(chatID int64, user types.UserInfo) {
	text, err := a.handler.Export(user)
	if err != nil {
		a.log.Error("export session", "error", err)
		a.sendText(chatID, "Export failed: "+err.Error())
		return
	}
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{
		Name:  "session.txt",
		Bytes: []byte(text),
	})
	if _, err := a.bot.Send(doc); err != nil {
		a.log.Error("send export document", "error", err)
	}
}

func (a *Adapter) sendText(chatID int64, text string) {
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = "Markdown"
		if _, err := a.bot.Send(msg); err != nil {
			// Retry without markdown if it fails
			msg.ParseMode = ""
			if _, err := a.bot.Send(msg); err != nil {
				a.log.Error("send message", "error", err)
			}
		}
	}
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end > len(text) {
			end = len(text)
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}
