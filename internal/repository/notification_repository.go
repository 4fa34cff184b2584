package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/stanstork/stratum-identity/internal/models"
)

type NotificationRepository interface {
	Create(ctx context.Context, params CreateNotificationParams) (models.Notification, error)
	// List returns the newest notifications visible to the tenant that pass filter.
	List(ctx context.Context, tenantID string, filter models.NotificationFilter) (models.NotificationPage, error)
	// MarkRead returns sql.ErrNoRows when the tenant cannot see the notification.
	MarkRead(ctx context.Context, tenantID, notificationID string) (models.Notification, error)
}

type notificationRepository struct {
	db *sql.DB
}

type CreateNotificationParams struct {
	TenantID *string
	Event    models.NotificationEvent
	Severity models.NotificationSeverity
	Title    string
	Message  string
	Metadata map[string]interface{}
}

func NewNotificationRepository(db *sql.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, params CreateNotificationParams) (models.Notification, error) {
	const query = `
		INSERT INTO tenant.notifications (tenant_id, event_type, severity, title, message, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, tenant_id, event_type, severity, title, message, metadata, created_at, read_at
	`

	var tenantID interface{}
	if params.TenantID != nil && strings.TrimSpace(*params.TenantID) != "" {
		tenantID = strings.TrimSpace(*params.TenantID)
	}

	var metadata interface{}
	if len(params.Metadata) > 0 {
		bytes, err := json.Marshal(params.Metadata)
		if err != nil {
			return models.Notification{}, errors.Wrap(err, "marshal notification metadata")
		}
		metadata = bytes
	}

	row := r.db.QueryRowContext(ctx, query, tenantID, params.Event, params.Severity, params.Title, params.Message, metadata)
	return scanNotification(row)
}

// clampLimit keeps list requests between 1 and 100, defaulting to 25.
func clampLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 25
	}
	return limit
}

func (r *notificationRepository) List(ctx context.Context, tenantID string, filter models.NotificationFilter) (models.NotificationPage, error) {
	const query = `
		SELECT id, tenant_id, event_type, severity, title, message, metadata, created_at, read_at,
		       COUNT(*) OVER (),
		       COUNT(*) FILTER (WHERE read_at IS NULL) OVER ()
		FROM tenant.notifications
		WHERE (tenant_id IS NULL OR tenant_id = $1)
		  AND (cardinality($2::text[]) = 0 OR event_type = ANY($2))
		  AND (NOT $3 OR read_at IS NULL)
		ORDER BY created_at DESC
		LIMIT $4
	`

	events := make([]string, 0, len(filter.Category.Events()))
	for _, evt := range filter.Category.Events() {
		events = append(events, string(evt))
	}

	rows, err := r.db.QueryContext(ctx, query, strings.TrimSpace(tenantID), pq.Array(events), filter.UnreadOnly, clampLimit(filter.Limit))
	if err != nil {
		return models.NotificationPage{}, errors.Wrap(err, "list notifications")
	}
	defer rows.Close()

	page := models.NotificationPage{Notifications: []models.Notification{}}
	for rows.Next() {
		notif, err := scanNotification(rows, &page.TotalRecords, &page.Unread)
		if err != nil {
			return models.NotificationPage{}, err
		}
		page.Notifications = append(page.Notifications, notif)
	}
	if err := rows.Err(); err != nil {
		return models.NotificationPage{}, errors.Wrap(err, "list notifications")
	}
	return page, nil
}

func (r *notificationRepository) MarkRead(ctx context.Context, tenantID, notificationID string) (models.Notification, error) {
	const query = `
		UPDATE tenant.notifications
		SET read_at = NOW()
		WHERE id = $1 AND (tenant_id IS NULL OR tenant_id = $2)
		RETURNING id, tenant_id, event_type, severity, title, message, metadata, created_at, read_at
	`
	row := r.db.QueryRowContext(ctx, query, strings.TrimSpace(notificationID), strings.TrimSpace(tenantID))
	return scanNotification(row)
}

// scanNotification reads the notification columns followed by any extra
// columns the query selected.
func scanNotification(scanner interface {
	Scan(dest ...interface{}) error
}, extra ...interface{}) (models.Notification, error) {
	var (
		notif       models.Notification
		tenantID    sql.NullString
		metadataRaw []byte
		readAt      sql.NullTime
	)

	dest := []interface{}{
		&notif.ID,
		&tenantID,
		&notif.EventType,
		&notif.Severity,
		&notif.Title,
		&notif.Message,
		&metadataRaw,
		&notif.CreatedAt,
		&readAt,
	}
	if err := scanner.Scan(append(dest, extra...)...); err != nil {
		return models.Notification{}, err
	}

	if tenantID.Valid {
		val := tenantID.String
		notif.TenantID = &val
	}
	if len(metadataRaw) > 0 {
		notif.Metadata = metadataRaw
	}
	if readAt.Valid {
		t := readAt.Time
		notif.ReadAt = &t
	}

	return notif, nil
}
