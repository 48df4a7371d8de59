// Package audit records one line per mutating action. Recording is best
// effort: sink failures are logged and never reach the caller.
package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	ActionRegister      = "register"
	ActionCreateNote    = "create_note"
	ActionEditNote      = "edit_note"
	ActionDeleteNote    = "delete_note"
	ActionResetPassword = "reset_password"
	ActionRemoveUser    = "remove_user"
)

type Entry struct {
	Actor  string
	Action string
	Target string
	Time   time.Time
}

func (e Entry) String() string {
	return fmt.Sprintf("[%s] %s %s %s", e.Time.UTC().Format(time.RFC3339), e.Actor, e.Action, e.Target)
}

type Recorder interface {
	Record(ctx context.Context, entry Entry)
}

// Nop discards every entry.
type Nop struct{}

func (Nop) Record(context.Context, Entry) {}

// Multi fans entries out to several recorders.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, entry Entry) {
	for _, r := range m {
		r.Record(ctx, entry)
	}
}

// FileSink appends entries to a text file, one per line.
type FileSink struct {
	mu     sync.Mutex
	path   string
	logger *zap.Logger
}

func NewFileSink(path string, logger *zap.Logger) *FileSink {
	return &FileSink{path: path, logger: logger}
}

func (s *FileSink) Record(ctx context.Context, entry Entry) {
	if entry.Time.IsZero() {
		entry.Time = time.Now()
	}
	if err := s.append(entry.String() + "\n"); err != nil {
		s.logger.Warn("Failed to write audit entry",
			zap.Error(err),
			zap.String("path", s.path),
			zap.String("action", entry.Action))
	}
}

func (s *FileSink) append(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
