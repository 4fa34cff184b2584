package routes

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog"
	"github.com/stanstork/stratum-identity/internal/batch"
	"github.com/stanstork/stratum-identity/internal/capability"
	"github.com/stanstork/stratum-identity/internal/config"
	"github.com/stanstork/stratum-identity/internal/directory/directorytest"
	"github.com/stanstork/stratum-identity/internal/handlers"
	"github.com/stanstork/stratum-identity/internal/idplink"
	"github.com/stanstork/stratum-identity/internal/jobs"
	"github.com/stanstork/stratum-identity/internal/models"
	"github.com/stanstork/stratum-identity/internal/notification"
	"github.com/stanstork/stratum-identity/internal/provision"
	"github.com/stanstork/stratum-identity/internal/repository"
	"github.com/stanstork/stratum-identity/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "router-secret"

func newTestRouter(t *testing.T, dir *directorytest.Fake) http.Handler {
	t.Helper()
	logger := zerolog.Nop()
	pool := worker.NewPool(2, 8, logger)
	t.Cleanup(pool.Shutdown)

	notifications := notification.NewService(repository.NewMemoryNotificationRepository(), logger)
	resolver := capability.NewResolver(dir, capability.Options{MaxAttempts: 1}, logger)
	provisioner := provision.NewProvisioner(dir, dir, resolver, config.PasswordPolicyNone, logger)
	executor := batch.NewExecutor(pool, 50, logger)
	manager := jobs.NewManager(repository.NewMemoryMigrationRepository(), dir, dir, provisioner, executor, notifications, jobs.Options{}, logger)
	linker := idplink.NewLinker(dir, dir, executor, notifications, "%s-keycloak-oidc", logger)

	return NewRouter(
		handlers.HealthCheck(nil),
		handlers.NewAuthHandler(&config.Config{JWTSecret: secret}, logger),
		handlers.NewMigrationHandler(manager, logger),
		handlers.NewIdentityLinkHandler(linker, logger),
		handlers.NewNotificationHandler(notifications, logger),
	)
}

func bearer(t *testing.T, roles ...string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "admin-1",
		"tid":   "diku",
		"roles": roles,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return "Bearer " + token
}

func do(router http.Handler, method, target, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthIsPublic(t *testing.T) {
	router := newTestRouter(t, directorytest.New())
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/health", "", "").Code)
}

func TestMigrationRoutesRequireAdmin(t *testing.T) {
	router := newTestRouter(t, directorytest.New())

	assert.Equal(t, http.StatusUnauthorized, do(router, http.MethodPost, "/api/migrations", "", "").Code)
	assert.Equal(t, http.StatusForbidden, do(router, http.MethodPost, "/api/migrations", bearer(t, "viewer"), "").Code)
	assert.Equal(t, http.StatusForbidden, do(router, http.MethodPost, "/api/identity-links", bearer(t, "viewer"), `{}`).Code)
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/api/notifications", bearer(t, "viewer"), "").Code)
}

func TestMigrationLifecycleOverHTTP(t *testing.T) {
	dir := directorytest.New()
	dir.AddCapability("users.read", "cap-1")
	dir.AddUser(models.User{ID: "u1", Username: "one"}, "users.read")
	dir.AddUser(models.User{ID: "u2", Username: "two"}, "users.read")
	router := newTestRouter(t, dir)
	admin := bearer(t, "admin")

	rec := do(router, http.MethodPost, "/api/migrations", admin, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var job models.MigrationJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, 2, job.TotalRecords)

	require.Eventually(t, func() bool {
		rec := do(router, http.MethodGet, "/api/migrations/"+job.ID, admin, "")
		var got models.MigrationJob
		return rec.Code == http.StatusOK &&
			json.Unmarshal(rec.Body.Bytes(), &got) == nil &&
			got.Status == models.MigrationFinished
	}, 5*time.Second, 5*time.Millisecond)

	rec = do(router, http.MethodGet, "/api/migrations?query=FINISHED", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"totalRecords":1`)

	require.Eventually(t, func() bool {
		rec := do(router, http.MethodGet, "/api/notifications", admin, "")
		return strings.Contains(rec.Body.String(), string(models.NotificationEventMigrationFinished))
	}, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, http.StatusNoContent, do(router, http.MethodDelete, "/api/migrations/"+job.ID, admin, "").Code)
	assert.Equal(t, http.StatusNotFound, do(router, http.MethodGet, "/api/migrations/"+job.ID, admin, "").Code)
}

func TestEmptyMigrationIsUnprocessable(t *testing.T) {
	router := newTestRouter(t, directorytest.New())
	rec := do(router, http.MethodPost, "/api/migrations", bearer(t, "admin"), "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "Nothing to migrate, there are no users")
}
