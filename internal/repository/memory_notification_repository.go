package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stanstork/stratum-identity/internal/models"
)

type memoryNotificationRepository struct {
	mu            sync.Mutex
	notifications []models.Notification
	now           func() time.Time
}

func NewMemoryNotificationRepository() NotificationRepository {
	return &memoryNotificationRepository{now: time.Now}
}

func (r *memoryNotificationRepository) Create(_ context.Context, params CreateNotificationParams) (models.Notification, error) {
	notif := models.Notification{
		ID:        uuid.NewString(),
		EventType: params.Event,
		Severity:  params.Severity,
		Title:     params.Title,
		Message:   params.Message,
	}
	if params.TenantID != nil && strings.TrimSpace(*params.TenantID) != "" {
		tid := strings.TrimSpace(*params.TenantID)
		notif.TenantID = &tid
	}
	if len(params.Metadata) > 0 {
		raw, err := json.Marshal(params.Metadata)
		if err != nil {
			return models.Notification{}, errors.Wrap(err, "marshal notification metadata")
		}
		notif.Metadata = raw
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	notif.CreatedAt = r.now()
	r.notifications = append(r.notifications, notif)
	return notif, nil
}

func (r *memoryNotificationRepository) List(_ context.Context, tenantID string, filter models.NotificationFilter) (models.NotificationPage, error) {
	limit := clampLimit(filter.Limit)
	tenantID = strings.TrimSpace(tenantID)

	r.mu.Lock()
	defer r.mu.Unlock()

	matched := []models.Notification{}
	unread := 0
	for i := len(r.notifications) - 1; i >= 0; i-- {
		n := r.notifications[i]
		if !visibleTo(n, tenantID) || !filter.Category.Matches(n.EventType) {
			continue
		}
		if filter.UnreadOnly && n.ReadAt != nil {
			continue
		}
		if n.ReadAt == nil {
			unread++
		}
		matched = append(matched, n)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	page := models.NotificationPage{TotalRecords: len(matched), Unread: unread}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	page.Notifications = matched
	return page, nil
}

func (r *memoryNotificationRepository) MarkRead(_ context.Context, tenantID, notificationID string) (models.Notification, error) {
	tenantID = strings.TrimSpace(tenantID)
	notificationID = strings.TrimSpace(notificationID)

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, n := range r.notifications {
		if n.ID != notificationID || !visibleTo(n, tenantID) {
			continue
		}
		now := r.now()
		r.notifications[i].ReadAt = &now
		return r.notifications[i], nil
	}
	return models.Notification{}, sql.ErrNoRows
}

// visibleTo reports whether a tenant may see n; broadcast notifications have no tenant.
func visibleTo(n models.Notification, tenantID string) bool {
	return n.TenantID == nil || *n.TenantID == tenantID
}
