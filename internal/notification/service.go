package notification

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/stratum-identity/internal/apperr"
	"github.com/stanstork/stratum-identity/internal/models"
	"github.com/stanstork/stratum-identity/internal/repository"
)

type Event struct {
	TenantID string
	Event    models.NotificationEvent
	Severity models.NotificationSeverity
	Title    string
	Message  string
	Metadata map[string]interface{}
}

type Service interface {
	Publish(ctx context.Context, evt Event) (models.Notification, error)
	NotifyMigrationStarted(ctx context.Context, tenantID string, job models.MigrationJob) error
	NotifyMigrationFinished(ctx context.Context, tenantID string, job models.MigrationJob) error
	NotifyMigrationFailed(ctx context.Context, tenantID string, job models.MigrationJob, reason string) error
	NotifyIdentityLinks(ctx context.Context, tenantID string, users int, failure error) error
	List(ctx context.Context, tenantID string, filter models.NotificationFilter) (models.NotificationPage, error)
	// MarkRead returns apperr.ErrNotFound for ids the tenant cannot see.
	MarkRead(ctx context.Context, tenantID, notificationID string) (models.Notification, error)
}

type service struct {
	repo      repository.NotificationRepository
	logger    zerolog.Logger
	notifiers []Notifier
}

func NewService(repo repository.NotificationRepository, logger zerolog.Logger, notifiers ...Notifier) Service {
	active := make([]Notifier, 0, len(notifiers))
	for _, notifier := range notifiers {
		if notifier != nil {
			active = append(active, notifier)
		}
	}
	return &service{
		repo:      repo,
		logger:    logger.With().Str("component", "notification_service").Logger(),
		notifiers: active,
	}
}

func (s *service) Publish(ctx context.Context, evt Event) (models.Notification, error) {
	if evt.Event == "" {
		return models.Notification{}, fmt.Errorf("event type is required")
	}
	if evt.Severity == "" {
		evt.Severity = models.NotificationSeverityInfo
	}
	title := strings.TrimSpace(evt.Title)
	message := strings.TrimSpace(evt.Message)
	if title == "" {
		title = string(evt.Event)
	}
	params := repository.CreateNotificationParams{
		Event:    evt.Event,
		Severity: evt.Severity,
		Title:    title,
		Message:  message,
		Metadata: evt.Metadata,
	}
	if tid := strings.TrimSpace(evt.TenantID); tid != "" {
		params.TenantID = &tid
	}

	notif, err := s.repo.Create(ctx, params)
	if err != nil {
		s.logger.Error().Err(err).Str("event_type", string(evt.Event)).Msg("failed to persist notification")
		return models.Notification{}, err
	}
	for _, notifier := range s.notifiers {
		if err := notifier.Notify(ctx, notif); err != nil {
			logNotifyError(s.logger, err, notifierChannelName(notifier), notif)
		}
	}
	return notif, nil
}

func (s *service) NotifyMigrationStarted(ctx context.Context, tenantID string, job models.MigrationJob) error {
	_, err := s.Publish(ctx, Event{
		TenantID: tenantID,
		Event:    models.NotificationEventMigrationStarted,
		Severity: models.NotificationSeverityInfo,
		Title:    "Migration started",
		Message:  fmt.Sprintf("Migration %s started for %d users.", job.ID, job.TotalRecords),
		Metadata: migrationMetadata(job),
	})
	return err
}

func (s *service) NotifyMigrationFinished(ctx context.Context, tenantID string, job models.MigrationJob) error {
	_, err := s.Publish(ctx, Event{
		TenantID: tenantID,
		Event:    models.NotificationEventMigrationFinished,
		Severity: models.NotificationSeverityInfo,
		Title:    "Migration finished",
		Message:  fmt.Sprintf("Migration %s finished; %d users were processed.", job.ID, job.TotalRecords),
		Metadata: migrationMetadata(job),
	})
	return err
}

func (s *service) NotifyMigrationFailed(ctx context.Context, tenantID string, job models.MigrationJob, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "Unknown error"
	}
	metadata := migrationMetadata(job)
	metadata["reason"] = reason
	_, err := s.Publish(ctx, Event{
		TenantID: tenantID,
		Event:    models.NotificationEventMigrationFailed,
		Severity: models.NotificationSeverityError,
		Title:    "Migration failed",
		Message:  fmt.Sprintf("Migration %s failed: %s", job.ID, reason),
		Metadata: metadata,
	})
	return err
}

func (s *service) NotifyIdentityLinks(ctx context.Context, tenantID string, users int, failure error) error {
	if strings.TrimSpace(tenantID) == "" {
		return fmt.Errorf("tenant id is required for identity link notifications")
	}
	evt := Event{
		TenantID: tenantID,
		Event:    models.NotificationEventIdentityLinksDone,
		Severity: models.NotificationSeverityInfo,
		Title:    "Identity provider links created",
		Message:  fmt.Sprintf("Linking %d users to the identity provider completed.", users),
		Metadata: map[string]interface{}{"users": users},
	}
	if failure != nil {
		evt.Event = models.NotificationEventIdentityLinksFault
		evt.Severity = models.NotificationSeverityError
		evt.Title = "Identity provider linking failed"
		evt.Message = fmt.Sprintf("Linking %d users to the identity provider failed: %s", users, failure.Error())
		evt.Metadata["reason"] = failure.Error()
	}
	_, err := s.Publish(ctx, evt)
	return err
}

func (s *service) List(ctx context.Context, tenantID string, filter models.NotificationFilter) (models.NotificationPage, error) {
	page, err := s.repo.List(ctx, tenantID, filter)
	if err != nil {
		return models.NotificationPage{}, errors.Wrapf(err, "list notifications for %s", tenantID)
	}
	return page, nil
}

func (s *service) MarkRead(ctx context.Context, tenantID, notificationID string) (models.Notification, error) {
	id, err := uuid.Parse(strings.TrimSpace(notificationID))
	if err != nil {
		return models.Notification{}, errors.Wrapf(apperr.ErrNotFound, "notification %s", notificationID)
	}
	notif, err := s.repo.MarkRead(ctx, tenantID, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return models.Notification{}, errors.Wrapf(apperr.ErrNotFound, "notification %s", notificationID)
	}
	if err != nil {
		return models.Notification{}, errors.Wrap(err, "mark notification read")
	}
	return notif, nil
}

func migrationMetadata(job models.MigrationJob) map[string]interface{} {
	metadata := map[string]interface{}{
		"migration_id":  job.ID,
		"status":        string(job.Status),
		"total_records": job.TotalRecords,
	}
	if job.FinishedAt != nil {
		metadata["duration_seconds"] = job.FinishedAt.Sub(job.StartedAt).Seconds()
	}
	return metadata
}

func notifierChannelName(n Notifier) string {
	type named interface {
		String() string
	}
	if v, ok := n.(named); ok {
		return v.String()
	}
	return fmt.Sprintf("%T", n)
}
