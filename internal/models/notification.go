package models

import (
	"encoding/json"
	"time"
)

type NotificationSeverity string

const (
	NotificationSeverityInfo    NotificationSeverity = "info"
	NotificationSeverityWarning NotificationSeverity = "warning"
	NotificationSeverityError   NotificationSeverity = "error"
)

type NotificationEvent string

const (
	NotificationEventMigrationStarted   NotificationEvent = "migration_started"
	NotificationEventMigrationFinished  NotificationEvent = "migration_finished"
	NotificationEventMigrationFailed    NotificationEvent = "migration_failed"
	NotificationEventIdentityLinksDone  NotificationEvent = "identity_links_completed"
	NotificationEventIdentityLinksFault NotificationEvent = "identity_links_failed"
)

// NotificationCategory groups the events of one kind of background work.
type NotificationCategory string

const (
	NotificationCategoryMigration     NotificationCategory = "migration"
	NotificationCategoryIdentityLinks NotificationCategory = "identity_links"
)

// Events returns the event types that belong to c. The empty category has
// none and matches every event.
func (c NotificationCategory) Events() []NotificationEvent {
	switch c {
	case NotificationCategoryMigration:
		return []NotificationEvent{
			NotificationEventMigrationStarted,
			NotificationEventMigrationFinished,
			NotificationEventMigrationFailed,
		}
	case NotificationCategoryIdentityLinks:
		return []NotificationEvent{
			NotificationEventIdentityLinksDone,
			NotificationEventIdentityLinksFault,
		}
	}
	return nil
}

// Matches reports whether an event passes the category filter.
func (c NotificationCategory) Matches(evt NotificationEvent) bool {
	if c == "" {
		return true
	}
	for _, e := range c.Events() {
		if e == evt {
			return true
		}
	}
	return false
}

func ParseNotificationCategory(raw string) (NotificationCategory, bool) {
	switch c := NotificationCategory(raw); c {
	case "", NotificationCategoryMigration, NotificationCategoryIdentityLinks:
		return c, true
	}
	return "", false
}

type Notification struct {
	ID        string               `json:"id" db:"id"`
	TenantID  *string              `json:"tenantId,omitempty" db:"tenant_id"`
	EventType NotificationEvent    `json:"eventType" db:"event_type"`
	Severity  NotificationSeverity `json:"severity" db:"severity"`
	Title     string               `json:"title" db:"title"`
	Message   string               `json:"message" db:"message"`
	Metadata  json.RawMessage      `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time            `json:"createdAt" db:"created_at"`
	ReadAt    *time.Time           `json:"readAt,omitempty" db:"read_at"`
}

// NotificationFilter narrows a tenant's notification feed.
type NotificationFilter struct {
	Category   NotificationCategory
	UnreadOnly bool
	Limit      int
}

// NotificationPage is one page of the feed. TotalRecords and Unread count
// every notification matching the filter, not just the returned page.
type NotificationPage struct {
	Notifications []Notification `json:"notifications"`
	TotalRecords  int            `json:"totalRecords"`
	Unread        int            `json:"unread"`
}
