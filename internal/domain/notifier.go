package domain

import (
	"context"
	"time"
)

// Severity of a user facing notification
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notification is a toast shown to the console operator
type Notification struct {
	ID        string    `json:"id"`
	Severity  Severity  `json:"severity"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Notifier surfaces notifications to the operator
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// SearchSource is the process-wide current search query
type SearchSource interface {
	Current() string

	// Subscribe registers fn for changes. The returned release function
	// must be called once the subscriber is torn down.
	Subscribe(fn func(query string)) (release func())
}
