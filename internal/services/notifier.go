package services

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// NotificationLevel severity shown to the user
type NotificationLevel string

const (
	LevelInfo    NotificationLevel = "info"
	LevelSuccess NotificationLevel = "success"
	LevelError   NotificationLevel = "error"
)

// Notification user-facing status message
type Notification struct {
	Level   NotificationLevel `json:"level"`
	Message string            `json:"message"`
	ToolID  string            `json:"tool_id,omitempty"`
}

// Notifier surfaces notifications to the user
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(ctx context.Context, n Notification)

func (f NotifierFunc) Notify(ctx context.Context, n Notification) { f(ctx, n) }

// LogNotifier writes notifications to logrus
type LogNotifier struct {
	Logger *logrus.Logger
}

func (l LogNotifier) Notify(_ context.Context, n Notification) {
	logger := l.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	entry := logger.WithFields(logrus.Fields{"level_ui": n.Level, "tool_id": n.ToolID})
	switch n.Level {
	case LevelError:
		entry.Warn("🔔 [Notify] " + n.Message)
	default:
		entry.Info("🔔 [Notify] " + n.Message)
	}
}

// WriterNotifier prints notifications for a terminal user
type WriterNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterNotifier(w io.Writer) *WriterNotifier {
	return &WriterNotifier{w: w}
}

var levelIcons = map[NotificationLevel]string{
	LevelInfo:    "ℹ️ ",
	LevelSuccess: "✅",
	LevelError:   "❌",
}

func (n *WriterNotifier) Notify(_ context.Context, note Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintf(n.w, "%s %s\n", levelIcons[note.Level], note.Message)
}

// MultiNotifier fans a notification out to several notifiers
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, n Notification) {
	for _, notifier := range m {
		if notifier != nil {
			notifier.Notify(ctx, n)
		}
	}
}

// RecordingNotifier keeps the most recent notifications in memory. The zero value is unbounded.
type RecordingNotifier struct {
	mu    sync.Mutex
	limit int
	items []Notification
}

func NewRecordingNotifier(limit int) *RecordingNotifier {
	return &RecordingNotifier{limit: limit}
}

func (r *RecordingNotifier) Notify(_ context.Context, n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
	if r.limit > 0 && len(r.items) > r.limit {
		r.items = r.items[len(r.items)-r.limit:]
	}
}

// Notifications snapshot in arrival order
func (r *RecordingNotifier) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.items))
	copy(out, r.items)
	return out
}

// Messages snapshot of message texts
func (r *RecordingNotifier) Messages() []string {
	items := r.Notifications()
	out := make([]string, len(items))
	for i, n := range items {
		out[i] = n.Message
	}
	return out
}
