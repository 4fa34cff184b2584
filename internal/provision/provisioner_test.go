package provision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stanstork/stratum-identity/internal/authz"
	"github.com/stanstork/stratum-identity/internal/capability"
	"github.com/stanstork/stratum-identity/internal/config"
	"github.com/stanstork/stratum-identity/internal/directory"
	"github.com/stanstork/stratum-identity/internal/directory/directorytest"
	"github.com/stanstork/stratum-identity/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tenantCtx() context.Context {
	return authz.WithIdentity(context.Background(), authz.Identity{TenantID: "diku"})
}

func newProvisioner(dir *directorytest.Fake, policy string) *Provisioner {
	resolver := capability.NewResolver(dir, capability.Options{BatchSize: 50, MaxAttempts: 2, RetryDelay: time.Millisecond}, zerolog.Nop())
	return NewProvisioner(dir, dir, resolver, policy, zerolog.Nop())
}

func TestProvisionCreatesUser(t *testing.T) {
	dir := directorytest.New()
	dir.UserTenants["u1"] = []string{"diku", "college"}

	res, err := newProvisioner(dir, config.PasswordPolicyNone).Provision(tenantCtx(), models.MigrationTarget{
		UserID: "u1", Username: "jdoe", Email: "jdoe@example.org", FirstName: "John", LastName: "Doe", TenantID: "diku",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, res.Status)
	assert.Equal(t, 1, res.Attempts)

	created := dir.AuthUsers["u1"]
	assert.Equal(t, "jdoe", created.Username)
	assert.Equal(t, "jdoe@example.org", created.Email)
	assert.True(t, created.Enabled)
	assert.Equal(t, []string{"diku", "college"}, created.Attributes[AttrTenants])
	assert.Equal(t, []string{"u1"}, created.Attributes[AttrUserID])

	require.Len(t, dir.Upserts(), 1)
	assert.Empty(t, dir.Upserts()[0].Password)
}

func TestProvisionUsernamePasswordPolicy(t *testing.T) {
	dir := directorytest.New()

	_, err := newProvisioner(dir, config.PasswordPolicyUsername).Provision(tenantCtx(), models.MigrationTarget{UserID: "u1", Username: "jdoe"})
	require.NoError(t, err)
	assert.Equal(t, "jdoe", dir.Upserts()[0].Password)
}

func TestProvisionDropsInvalidEmailOnce(t *testing.T) {
	dir := directorytest.New()
	dir.UpsertHook = func(u models.AuthUser) error {
		if u.Email != "" {
			return directory.ErrInvalidEmail
		}
		return nil
	}

	res, err := newProvisioner(dir, config.PasswordPolicyNone).Provision(tenantCtx(), models.MigrationTarget{UserID: "u1", Username: "jdoe", Email: "not an email"})
	require.NoError(t, err)

	assert.Equal(t, StatusCreated, res.Status)
	assert.True(t, res.EmailDropped)
	assert.Equal(t, 2, res.Attempts)

	upserts := dir.Upserts()
	require.Len(t, upserts, 2)
	assert.Equal(t, "not an email", upserts[0].Email)
	assert.Empty(t, upserts[1].Email)
}

func TestProvisionSkipsAfterSecondFailure(t *testing.T) {
	dir := directorytest.New()
	dir.UpsertHook = func(models.AuthUser) error { return directory.ErrInvalidEmail }

	res, err := newProvisioner(dir, config.PasswordPolicyNone).Provision(tenantCtx(), models.MigrationTarget{UserID: "u1", Username: "jdoe", Email: "bad"})
	require.NoError(t, err)

	assert.Equal(t, StatusSkipped, res.Status)
	assert.Equal(t, 2, res.Attempts)
	assert.ErrorIs(t, res.Err, directory.ErrInvalidEmail)
	assert.Len(t, dir.Upserts(), 2)
}

func TestProvisionInvalidEmailWithoutEmailIsNotRetried(t *testing.T) {
	dir := directorytest.New()
	dir.UpsertHook = func(models.AuthUser) error { return directory.ErrInvalidEmail }

	res, err := newProvisioner(dir, config.PasswordPolicyNone).Provision(tenantCtx(), models.MigrationTarget{UserID: "u1", Username: "jdoe"})
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, res.Status)
	assert.Equal(t, 1, res.Attempts)
}

func TestProvisionOtherFailureIsSkipped(t *testing.T) {
	dir := directorytest.New()
	dir.UpsertHook = func(models.AuthUser) error { return errors.New("503 service unavailable") }

	res, err := newProvisioner(dir, config.PasswordPolicyNone).Provision(tenantCtx(), models.MigrationTarget{UserID: "u1", Username: "jdoe", Email: "jdoe@example.org"})
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, res.Status)
	assert.Equal(t, 1, res.Attempts)
	assert.False(t, res.EmailDropped)
}

func TestProvisionFallsBackToCurrentTenant(t *testing.T) {
	dir := directorytest.New()
	dir.TenantsHook = func(string) error { return errors.New("user-tenants unavailable") }

	res, err := newProvisioner(dir, config.PasswordPolicyNone).Provision(tenantCtx(), models.MigrationTarget{UserID: "u1", Username: "jdoe"})
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, res.Status)
	assert.Equal(t, []string{"diku"}, dir.AuthUsers["u1"].Attributes[AttrTenants])
}

func TestProvisionAssignsCapabilities(t *testing.T) {
	dir := directorytest.New()
	dir.AddCapability("users.read", "cap-1")

	res, err := newProvisioner(dir, config.PasswordPolicyNone).Provision(tenantCtx(), models.MigrationTarget{
		UserID: "u1", Username: "jdoe", Permissions: []string{"users.read"},
	})
	require.NoError(t, err)
	assert.NoError(t, res.Err)
	assert.Equal(t, []string{"cap-1"}, dir.Assignments["u1"])
}

func TestProvisionUnresolvedPermissionsPropagate(t *testing.T) {
	dir := directorytest.New()

	_, err := newProvisioner(dir, config.PasswordPolicyNone).Provision(tenantCtx(), models.MigrationTarget{
		UserID: "u1", Username: "jdoe", Permissions: []string{"ghost"},
	})
	var unresolved *capability.UnresolvedPermissionsError
	require.True(t, errors.As(err, &unresolved))
	assert.Equal(t, []string{"ghost"}, unresolved.Permissions)
}

func TestProvisionAssignmentFailureIsRecordLevel(t *testing.T) {
	dir := directorytest.New()
	dir.AddCapability("users.read", "cap-1")
	dir.AssignHook = func(string, []string) error { return errors.New("forbidden") }

	res, err := newProvisioner(dir, config.PasswordPolicyNone).Provision(tenantCtx(), models.MigrationTarget{
		UserID: "u1", Username: "jdoe", Permissions: []string{"users.read"},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, res.Status)
	assert.Error(t, res.Err)
}

func TestSummarize(t *testing.T) {
	s := Summarize([]Result{
		{Status: StatusCreated},
		{Status: StatusCreated, EmailDropped: true, Attempts: 2},
		{Status: StatusCreated, Err: errors.New("assign")},
		{Status: StatusSkipped, Err: errors.New("boom")},
	})
	assert.Equal(t, Summary{Created: 3, Skipped: 1, EmailDropped: 1, Degraded: 1}, s)
}

func TestHasUsername(t *testing.T) {
	assert.True(t, HasUsername(models.User{Username: "jdoe"}))
	assert.False(t, HasUsername(models.User{Username: "  "}))
}
