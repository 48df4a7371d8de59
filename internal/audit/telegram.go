package audit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSink forwards entries to an admin chat. Messages are sent from a
// background worker; when its queue is full new entries are dropped.
type TelegramSink struct {
	api    sender
	chatID int64
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan Entry
	done   chan struct{}
}

func NewTelegramSink(token string, chatID int64, logger *zap.Logger) (*TelegramSink, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return newTelegramSink(api, chatID, logger), nil
}

func newTelegramSink(api sender, chatID int64, logger *zap.Logger) *TelegramSink {
	s := &TelegramSink{
		api:    api,
		chatID: chatID,
		logger: logger,
		queue:  make(chan Entry, 64),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *TelegramSink) Record(ctx context.Context, entry Entry) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return
	}
	select {
	case s.queue <- entry:
	default:
		s.logger.Warn("Dropped audit entry for telegram",
			zap.String("action", entry.Action),
			zap.String("actor", entry.Actor))
	}
}

func (s *TelegramSink) run() {
	defer close(s.done)
	for entry := range s.queue {
		s.send(entry)
	}
}

func (s *TelegramSink) send(entry Entry) {
	text := fmt.Sprintf("*%s* %s `%s`",
		escapeMarkdown(entry.Actor),
		escapeMarkdown(entry.Action),
		escapeMarkdown(entry.Target))

	msg := tgbotapi.NewMessage(s.chatID, text)
	msg.ParseMode = "MarkdownV2"
	if _, err := s.api.Send(msg); err != nil {
		s.logger.Error("Failed to send audit message",
			zap.Error(err),
			zap.Int64("chat_id", s.chatID))
	}
}

// Close drains queued entries and stops the worker.
func (s *TelegramSink) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	<-s.done
	return nil
}

// escapeMarkdown escapes the characters reserved by MarkdownV2.
func escapeMarkdown(text string) string {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}
