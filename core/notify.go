package core

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type NotificationLevel string

const (
	LevelSuccess NotificationLevel = "success"
	LevelWarning NotificationLevel = "warning"
	LevelError   NotificationLevel = "error"
)

// Notification is a user-visible message produced by a callback or sync pass.
type Notification struct {
	UserID    uuid.UUID         `json:"-"`
	Provider  Provider          `json:"provider"`
	Level     NotificationLevel `json:"level"`
	Kind      FailureKind       `json:"kind,omitempty"`
	Message   string            `json:"message"`
	CreatedAt time.Time         `json:"created_at"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

func notifyFailure(ctx context.Context, n Notifier, userID uuid.UUID, fe *FlowError, at time.Time) {
	level := LevelError
	if fe.Kind == FailureExpiredToken || fe.Kind == FailureMissingSubresource {
		level = LevelWarning
	}
	n.Notify(ctx, Notification{
		UserID:    userID,
		Provider:  fe.Provider,
		Level:     level,
		Kind:      fe.Kind,
		Message:   fe.UserMessage(),
		CreatedAt: at,
	})
}

// NotificationFeed keeps the most recent notifications per user until the
// dashboard drains them.
type NotificationFeed struct {
	mu     sync.Mutex
	limit  int
	byUser map[uuid.UUID][]Notification
}

func NewNotificationFeed(limit int) *NotificationFeed {
	if limit <= 0 {
		limit = 50
	}
	return &NotificationFeed{limit: limit, byUser: make(map[uuid.UUID][]Notification)}
}

func (f *NotificationFeed) Notify(_ context.Context, n Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()

	list := append(f.byUser[n.UserID], n)
	if len(list) > f.limit {
		list = list[len(list)-f.limit:]
	}
	f.byUser[n.UserID] = list
}

// Drain returns and forgets the pending notifications of userID.
func (f *NotificationFeed) Drain(userID uuid.UUID) []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()

	list := f.byUser[userID]
	delete(f.byUser, userID)
	if list == nil {
		return []Notification{}
	}
	return list
}

func (f *NotificationFeed) Peek(userID uuid.UUID) []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Notification, len(f.byUser[userID]))
	copy(out, f.byUser[userID])
	return out
}

// LogNotifier mirrors notifications into the structured log.
type LogNotifier struct {
	Logger *zap.Logger
	Next   Notifier
}

func (l LogNotifier) Notify(ctx context.Context, n Notification) {
	fields := []zap.Field{
		zap.String("user_id", n.UserID.String()),
		zap.String("provider", string(n.Provider)),
		zap.String("level", string(n.Level)),
	}
	if n.Kind != "" {
		fields = append(fields, zap.String("kind", string(n.Kind)))
	}
	l.Logger.Info("notification: "+n.Message, fields...)

	if l.Next != nil {
		l.Next.Notify(ctx, n)
	}
}
