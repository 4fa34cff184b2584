package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stanstork/stratum-identity/internal/apperr"
	"github.com/stanstork/stratum-identity/internal/config"
	"github.com/stanstork/stratum-identity/internal/models"
	"github.com/stanstork/stratum-identity/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu   sync.Mutex
	got  []models.Notification
	fail error
}

func (r *recordingNotifier) Notify(_ context.Context, n models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return r.fail
}

func TestNotifyMigrationFinishedPersistsAndDelivers(t *testing.T) {
	rec := &recordingNotifier{}
	failing := &recordingNotifier{fail: errors.New("down")}
	svc := NewService(repository.NewMemoryNotificationRepository(), zerolog.Nop(), rec, nil, failing)
	ctx := context.Background()

	started := time.Now().Add(-time.Minute)
	finished := time.Now()
	job := models.MigrationJob{ID: "m1", Status: models.MigrationFinished, TotalRecords: 120, StartedAt: started, FinishedAt: &finished}
	require.NoError(t, svc.NotifyMigrationFinished(ctx, "diku", job))

	page, err := svc.List(ctx, "diku", models.NotificationFilter{Limit: 10})
	require.NoError(t, err)
	list := page.Notifications
	require.Len(t, list, 1)
	assert.Equal(t, models.NotificationEventMigrationFinished, list[0].EventType)

	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal(list[0].Metadata, &meta))
	assert.Equal(t, "m1", meta["migration_id"])
	assert.EqualValues(t, 120, meta["total_records"])

	assert.Len(t, rec.got, 1)
	assert.Len(t, failing.got, 1)
}

func TestNotifyMigrationFailedDefaultsReason(t *testing.T) {
	svc := NewService(repository.NewMemoryNotificationRepository(), zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, svc.NotifyMigrationFailed(ctx, "diku", models.MigrationJob{ID: "m2"}, " "))
	page, err := svc.List(ctx, "diku", models.NotificationFilter{Limit: 10})
	require.NoError(t, err)
	list := page.Notifications
	require.Len(t, list, 1)
	assert.Equal(t, models.NotificationSeverityError, list[0].Severity)
	assert.Contains(t, list[0].Message, "Unknown error")
}

func TestNotifyIdentityLinks(t *testing.T) {
	svc := NewService(repository.NewMemoryNotificationRepository(), zerolog.Nop())
	ctx := context.Background()

	assert.Error(t, svc.NotifyIdentityLinks(ctx, "", 3, nil))
	require.NoError(t, svc.NotifyIdentityLinks(ctx, "diku", 3, errors.New("batch failed")))

	page, err := svc.List(ctx, "diku", models.NotificationFilter{Limit: 10})
	require.NoError(t, err)
	list := page.Notifications
	require.Len(t, list, 1)
	assert.Equal(t, models.NotificationEventIdentityLinksFault, list[0].EventType)
}

func TestMarkReadUnknownIDsAreNotFound(t *testing.T) {
	svc := NewService(repository.NewMemoryNotificationRepository(), zerolog.Nop())
	ctx := context.Background()

	notif, err := svc.Publish(ctx, Event{TenantID: "diku", Event: models.NotificationEventMigrationStarted})
	require.NoError(t, err)

	_, err = svc.MarkRead(ctx, "diku", "not-a-uuid")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = svc.MarkRead(ctx, "college", notif.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	read, err := svc.MarkRead(ctx, "diku", " "+notif.ID+" ")
	require.NoError(t, err)
	require.NotNil(t, read.ReadAt)

	page, err := svc.List(ctx, "diku", models.NotificationFilter{UnreadOnly: true})
	require.NoError(t, err)
	assert.Empty(t, page.Notifications)
	assert.Equal(t, 0, page.Unread)
}

func TestWebhookNotifierPostsNotification(t *testing.T) {
	received := make(chan models.Notification, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n models.Notification
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&n))
		received <- n
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(config.NotificationConfig{WebhookURL: srv.URL}, zerolog.Nop())
	require.NoError(t, n.Notify(context.Background(), models.Notification{ID: "n1", EventType: models.NotificationEventMigrationStarted}))
	got := <-received
	assert.Equal(t, "n1", got.ID)
}

func TestWebhookNotifierDisabledAndErrors(t *testing.T) {
	disabled := NewWebhookNotifier(config.NotificationConfig{}, zerolog.Nop())
	assert.NoError(t, disabled.Notify(context.Background(), models.Notification{}))
	assert.Equal(t, "WebhookNotifier(disabled)", disabled.String())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	n := NewWebhookNotifier(config.NotificationConfig{WebhookURL: srv.URL}, zerolog.Nop())
	assert.Error(t, n.Notify(context.Background(), models.Notification{ID: "n1"}))
}
