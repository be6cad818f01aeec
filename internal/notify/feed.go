package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/your-org/consolegrid/internal/domain"
)

const defaultCapacity = 100

// Feed keeps the most recent notifications for the console to poll and
// writes each one to the log.
type Feed struct {
	logger   *zap.Logger
	capacity int

	mu    sync.RWMutex
	items []domain.Notification // oldest first
}

// NewFeed creates a feed holding at most capacity notifications
func NewFeed(capacity int, logger *zap.Logger) *Feed {
	if capacity < 1 {
		capacity = defaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{
		logger:   logger.Named("notify"),
		capacity: capacity,
		items:    make([]domain.Notification, 0, capacity),
	}
}

// Notify implements domain.Notifier. The message is stored as given.
func (f *Feed) Notify(ctx context.Context, n domain.Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	if n.Severity == "" {
		n.Severity = domain.SeverityInfo
	}

	f.mu.Lock()
	if len(f.items) == f.capacity {
		copy(f.items, f.items[1:])
		f.items = f.items[:len(f.items)-1]
	}
	f.items = append(f.items, n)
	f.mu.Unlock()

	fields := []zap.Field{
		zap.String("notification_id", n.ID),
		zap.String("title", n.Title),
		zap.String("message", n.Message),
		zap.String("source", n.Source),
	}
	switch n.Severity {
	case domain.SeverityError:
		f.logger.Error("notification", fields...)
	case domain.SeverityWarning:
		f.logger.Warn("notification", fields...)
	default:
		f.logger.Info("notification", fields...)
	}
}

// Recent returns up to limit notifications, newest first. limit <= 0 returns all.
func (f *Feed) Recent(limit int) []domain.Notification {
	f.mu.RLock()
	defer f.mu.RUnlock()

	n := len(f.items)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.Notification, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, f.items[i])
	}
	return out
}

var _ domain.Notifier = (*Feed)(nil)
