package capability

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stanstork/stratum-identity/internal/directory/directorytest"
	"github.com/stanstork/stratum-identity/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func permissions(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("perm.%02d", i)
	}
	return out
}

func newResolver(dir *directorytest.Fake, maxAttempts int) *Resolver {
	return NewResolver(dir, Options{BatchSize: 50, MaxAttempts: maxAttempts, RetryDelay: time.Millisecond}, zerolog.Nop())
}

func TestResolveRetriesOnlyUnresolved(t *testing.T) {
	dir := directorytest.New()
	perms := permissions(50)
	for i, p := range perms {
		dir.AddCapability(p, fmt.Sprintf("cap-%02d", i))
	}
	dir.HiddenFor["perm.10"] = 1
	dir.HiddenFor["perm.20"] = 1

	res, err := newResolver(dir, 60).Resolve(context.Background(), "u1", perms)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Attempts)
	assert.Len(t, res.Resolved, 50)
	assert.Empty(t, res.Unresolved)
	assert.Len(t, res.CapabilityIDs(), 50)

	require.Len(t, dir.CapabilityCalls, 2)
	assert.Len(t, dir.CapabilityCalls[0], 50)
	assert.Equal(t, []string{"perm.10", "perm.20"}, dir.CapabilityCalls[1])
}

func TestResolveQueriesInSubBatches(t *testing.T) {
	dir := directorytest.New()
	perms := permissions(60)
	for _, p := range perms {
		dir.AddCapability(p, "cap-"+p)
	}

	r := NewResolver(dir, Options{BatchSize: 25, MaxAttempts: 1, RetryDelay: time.Millisecond}, zerolog.Nop())
	res, err := r.Resolve(context.Background(), "u1", perms)
	require.NoError(t, err)
	assert.Len(t, res.Resolved, 60)

	sizes := make([]int, 0, len(dir.CapabilityCalls))
	for _, call := range dir.CapabilityCalls {
		sizes = append(sizes, len(call))
	}
	assert.Equal(t, []int{25, 25, 10}, sizes)
}

func TestResolveFailsAfterMaxAttempts(t *testing.T) {
	dir := directorytest.New()
	dir.AddCapability("users.read", "cap-1")
	dir.AddCapability("users.write", "cap-2")
	dir.HiddenFor["users.write"] = 100

	res, err := newResolver(dir, 3).Resolve(context.Background(), "u1", []string{"users.read", "users.write", "ghost"})
	require.Error(t, err)

	var unresolved *UnresolvedPermissionsError
	require.True(t, errors.As(err, &unresolved))
	assert.Equal(t, "u1", unresolved.UserID)
	assert.ElementsMatch(t, []string{"users.write", "ghost"}, unresolved.Permissions)
	assert.Contains(t, err.Error(), "users.write")

	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []string{"cap-1"}, res.Resolved["users.read"])
	assert.Len(t, dir.CapabilityCalls, 3)
}

func TestResolveIsMonotonic(t *testing.T) {
	dir := directorytest.New()
	perms := permissions(5)
	for i, p := range perms {
		dir.AddCapability(p, "cap-"+p)
		dir.HiddenFor[p] = i
	}

	var history [][]string
	dir.CapabilityHook = func(p []string) error {
		history = append(history, append([]string(nil), p...))
		return nil
	}

	res, err := newResolver(dir, 10).Resolve(context.Background(), "u1", perms)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Attempts)

	for i := 1; i < len(history); i++ {
		assert.Less(t, len(history[i]), len(history[i-1]), "unresolved remainder must shrink")
		assert.Subset(t, history[i-1], history[i])
	}
}

func TestResolveDirectoryErrorIsNotRetried(t *testing.T) {
	dir := directorytest.New()
	dir.CapabilityHook = func([]string) error { return errors.New("gateway timeout") }

	_, err := newResolver(dir, 5).Resolve(context.Background(), "u1", []string{"users.read"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway timeout")

	var unresolved *UnresolvedPermissionsError
	assert.False(t, errors.As(err, &unresolved))
	assert.Len(t, dir.CapabilityCalls, 1)
}

func TestResolveEmptyAndDuplicatePermissions(t *testing.T) {
	dir := directorytest.New()
	dir.AddCapability("users.read", "cap-1")

	res, err := newResolver(dir, 1).Resolve(context.Background(), "u1", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Attempts)
	assert.Empty(t, dir.CapabilityCalls)

	res, err = newResolver(dir, 1).Resolve(context.Background(), "u1", []string{"users.read", " users.read ", ""})
	require.NoError(t, err)
	assert.Equal(t, []string{"users.read"}, dir.CapabilityCalls[0])
	assert.Equal(t, []string{"cap-1"}, res.CapabilityIDs())
}

func TestAssignPermissionsIsIdempotent(t *testing.T) {
	dir := directorytest.New()
	dir.AddCapability("users.read", "cap-1")
	dir.AddCapability("users.write", "cap-2", "cap-3")

	r := newResolver(dir, 1)
	perms := []string{"users.read", "users.write"}

	require.NoError(t, r.AssignPermissions(context.Background(), "u1", perms))
	require.NoError(t, r.AssignPermissions(context.Background(), "u1", perms))

	assert.Equal(t, 2, dir.AssignCalls)
	assert.Equal(t, []string{"cap-1", "cap-2", "cap-3"}, dir.Assignments["u1"])
}

func TestAssignPermissionsPropagatesUnresolved(t *testing.T) {
	dir := directorytest.New()

	err := newResolver(dir, 2).AssignPermissions(context.Background(), "u1", []string{"ghost"})
	var unresolved *UnresolvedPermissionsError
	require.True(t, errors.As(err, &unresolved))
	assert.Equal(t, 0, dir.AssignCalls)
}

func TestAssignPermissionsWrapsOtherErrors(t *testing.T) {
	dir := directorytest.New()
	dir.AddCapability("users.read", "cap-1")
	dir.AssignHook = func(string, []string) error { return errors.New("forbidden") }

	err := newResolver(dir, 1).AssignPermissions(context.Background(), "u1", []string{"users.read"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "assign capabilities to user u1")
}

// broadDirectory answers every lookup with capabilities for permissions it
// was not asked about, the way a loose directory query can.
type broadDirectory struct {
	*directorytest.Fake
	extra []models.Capability
}

func (d broadDirectory) FindCapabilitiesByPermissions(ctx context.Context, permissions []string) ([]models.Capability, error) {
	caps, err := d.Fake.FindCapabilitiesByPermissions(ctx, permissions)
	if err != nil {
		return nil, err
	}
	return append(caps, d.extra...), nil
}

func TestResolveIgnoresPermissionsAlreadyResolved(t *testing.T) {
	fake := directorytest.New()
	fake.AddCapability("users.read", "cap-read")
	fake.AddCapability("users.write", "cap-write")
	fake.HiddenFor["users.write"] = 2
	dir := broadDirectory{Fake: fake, extra: []models.Capability{
		{ID: "cap-read", Permission: "users.read"},
		{ID: "cap-other", Permission: "users.delete"},
	}}

	r := NewResolver(dir, Options{BatchSize: 50, MaxAttempts: 5, RetryDelay: time.Millisecond}, zerolog.Nop())
	res, err := r.Resolve(context.Background(), "u1", []string{"users.read", "users.write"})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, map[string][]string{
		"users.read":  {"cap-read"},
		"users.write": {"cap-write"},
	}, res.Resolved)
	assert.Equal(t, []string{"cap-read", "cap-write"}, res.CapabilityIDs())
}
