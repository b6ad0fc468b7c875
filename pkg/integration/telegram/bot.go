package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/mklimuk/siteplan/pkg/db"
	"github.com/mklimuk/siteplan/pkg/logger"
)

// Store is what the bot reports on.
type Store interface {
	ListNotesByStatus(ctx context.Context, statuses ...db.NoteStatus) ([]db.PendingNote, error)
	ListSchedulerRuns(ctx context.Context, limit int) ([]db.SchedulerRun, error)
}

// Bot sends operator notifications to one chat and answers /pending and
// /status there.
type Bot struct {
	API    *tgbotapi.BotAPI
	ChatID int64
	store  Store
	stopCh chan struct{}
}

// NewBot creates a new Telegram bot
func NewBot(token string, chatID int64, store Store) (*Bot, error) {
	return NewBotWithClient(token, tgbotapi.APIEndpoint, http.DefaultClient, chatID, store)
}

// NewBotWithClient is NewBot against a custom API endpoint
// (format "https://host/bot%s/%s").
func NewBotWithClient(token, endpoint string, client *http.Client, chatID int64, store Store) (*Bot, error) {
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("error creating Telegram bot: %w", err)
	}

	return &Bot{
		API:    api,
		ChatID: chatID,
		store:  store,
		stopCh: make(chan struct{}),
	}, nil
}

// Notify sends text to the configured chat.
func (b *Bot) Notify(_ context.Context, text string) error {
	if b.ChatID == 0 {
		return fmt.Errorf("telegram: no chat configured")
	}
	if _, err := b.API.Send(tgbotapi.NewMessage(b.ChatID, text)); err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	return nil
}

// Start begins polling for updates in a goroutine
func (b *Bot) Start() error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := b.API.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-b.stopCh:
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil {
					b.handleMessage(update.Message)
				}
			}
		}
	}()

	return nil
}

// Stop stops polling for updates
func (b *Bot) Stop() {
	close(b.stopCh)
	b.API.StopReceivingUpdates()
}

// handleMessage answers commands from the configured chat only. Without a
// chat id the bot answers nobody.
func (b *Bot) handleMessage(msg *tgbotapi.Message) {
	if b.ChatID == 0 || msg.Chat == nil || msg.Chat.ID != b.ChatID {
		return
	}

	ctx := context.Background()
	var (
		text string
		err  error
	)
	switch cmd, _ := ParseCommand(msg.Text); cmd {
	case "/pending":
		text, err = b.PendingReport(ctx)
	case "/status":
		text, err = b.StatusReport(ctx)
	default:
		return
	}
	if err != nil {
		text = fmt.Sprintf("Error: %v", err)
	}

	if _, err := b.API.Send(tgbotapi.NewMessage(msg.Chat.ID, text)); err != nil {
		logger.Warn(ctx, "failed to send Telegram reply", "error", err)
	}
}

// PendingReport lists queued and failed notes.
func (b *Bot) PendingReport(ctx context.Context) (string, error) {
	notes, err := b.store.ListNotesByStatus(ctx, db.StatusPending, db.StatusFailed)
	if err != nil {
		return "", err
	}
	return FormatNotes(notes), nil
}

// StatusReport describes the latest scheduler pass.
func (b *Bot) StatusReport(ctx context.Context) (string, error) {
	runs, err := b.store.ListSchedulerRuns(ctx, 1)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "Siteplan is online. The scheduler has not run yet.", nil
	}
	r := runs[0]
	return fmt.Sprintf("Siteplan is online. Last %s pass for %s at %s: %d due, %d posted, %d failed.",
		r.Trigger, r.AsOf, r.FinishedAt.Format("2006-01-02 15:04 MST"), r.Due, r.Posted, r.Failed), nil
}

// FormatNotes renders one line per note.
func FormatNotes(notes []db.PendingNote) string {
	if len(notes) == 0 {
		return "No pending or failed notes."
	}
	var b strings.Builder
	for i, n := range notes {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "#%d %s project %s [%s]", n.ID, n.ScheduledDate, n.ProjectID, n.Status)
		if n.Subject != "" {
			fmt.Fprintf(&b, " %s", TruncateTitle(n.Subject))
		}
		if n.Error != "" {
			fmt.Fprintf(&b, ": %s", n.Error)
		}
	}
	return b.String()
}

// ParseCommand extracts the command and its arguments from a message text.
// A "@botname" suffix on the command is dropped.
func ParseCommand(text string) (command, args string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	head, rest, _ := strings.Cut(text, " ")
	head, _, _ = strings.Cut(head, "@")
	switch head {
	case "/pending", "/status":
		return head, strings.TrimSpace(rest)
	}
	return "", text
}

// TruncateTitle returns a title truncated to 40 chars with "..." if needed.
func TruncateTitle(content string) string {
	r := []rune(content)
	if len(r) > 40 {
		return string(r[:40]) + "..."
	}
	return content
}
