// Package directorytest provides an in-memory directory for tests.
package directorytest

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/stanstork/stratum-identity/internal/authz"
	"github.com/stanstork/stratum-identity/internal/directory"
	"github.com/stanstork/stratum-identity/internal/models"
)

var (
	_ directory.PermissionDirectory = (*Fake)(nil)
	_ directory.RecordDirectory     = (*Fake)(nil)
	_ directory.AuthDirectory       = (*Fake)(nil)
	_ directory.CapabilityDirectory = (*Fake)(nil)
	_ directory.TenantDirectory     = (*Fake)(nil)
)

// Fake implements every directory interface in memory. Hooks, when set, run
// before the default behaviour and short-circuit it by returning an error.
type Fake struct {
	mu sync.Mutex

	Holders      []models.PermissionHolder
	Users        map[string]models.User
	AuthUsers    map[string]models.AuthUser
	Links        map[string][]models.IdentityLink
	Capabilities map[string][]models.Capability
	// HiddenFor makes a permission's capabilities invisible for that many lookups.
	HiddenFor   map[string]int
	UserTenants map[string][]string
	Assignments map[string][]string

	FindUsersHook  func(ids []string) error
	GetUserHook    func(id string) error
	UpsertHook     func(user models.AuthUser) error
	TenantsHook    func(userID string) error
	AssignHook     func(userID string, ids []string) error
	LinkHook       func(authUserID string, link models.IdentityLink) error
	CapabilityHook func(permissions []string) error

	UpsertCalls     []models.AuthUser
	CapabilityCalls [][]string
	AssignCalls     int
	UpsertTenants   []string
	seenLookups     map[string]int
}

func New() *Fake {
	return &Fake{
		Users:        make(map[string]models.User),
		AuthUsers:    make(map[string]models.AuthUser),
		Links:        make(map[string][]models.IdentityLink),
		Capabilities: make(map[string][]models.Capability),
		HiddenFor:    make(map[string]int),
		UserTenants:  make(map[string][]string),
		Assignments:  make(map[string][]string),
		seenLookups:  make(map[string]int),
	}
}

// AddUser registers a record directory user that holds permissions.
func (f *Fake) AddUser(u models.User, permissions ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Users[u.ID] = u
	if len(permissions) > 0 {
		f.Holders = append(f.Holders, models.PermissionHolder{UserID: u.ID, Permissions: permissions})
	}
}

func (f *Fake) AddCapability(permission string, ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.Capabilities[permission] = append(f.Capabilities[permission], models.Capability{ID: id, Permission: permission})
	}
}

func (f *Fake) ListPermissionHolders(_ context.Context, offset, limit int) ([]models.PermissionHolder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if offset >= len(f.Holders) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.Holders) {
		end = len(f.Holders)
	}
	return append([]models.PermissionHolder(nil), f.Holders[offset:end]...), nil
}

func (f *Fake) FindUsersByIDs(_ context.Context, ids []string) ([]models.User, error) {
	if f.FindUsersHook != nil {
		if err := f.FindUsersHook(ids); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	users := make([]models.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := f.Users[id]; ok {
			users = append(users, u)
		}
	}
	return users, nil
}

func (f *Fake) GetUser(_ context.Context, id string) (models.User, error) {
	if f.GetUserHook != nil {
		if err := f.GetUserHook(id); err != nil {
			return models.User{}, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.Users[id]
	if !ok {
		return models.User{}, directory.ErrNotFound
	}
	return u, nil
}

func (f *Fake) UpsertUser(ctx context.Context, user models.AuthUser) (models.AuthUser, error) {
	f.mu.Lock()
	f.UpsertCalls = append(f.UpsertCalls, user)
	if tenant, ok := authz.TenantIDFromContext(ctx); ok {
		f.UpsertTenants = append(f.UpsertTenants, tenant)
	}
	f.mu.Unlock()

	if f.UpsertHook != nil {
		if err := f.UpsertHook(user); err != nil {
			return models.AuthUser{}, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.AuthUsers[user.ExternalID]; ok {
		user.ID = existing.ID
	} else {
		user.ID = uuid.NewString()
	}
	user.Password = ""
	f.AuthUsers[user.ExternalID] = user
	return user, nil
}

func (f *Fake) FindUserByExternalID(_ context.Context, externalID string) (models.AuthUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.AuthUsers[externalID]
	if !ok {
		return models.AuthUser{}, directory.ErrNotFound
	}
	return u, nil
}

func (f *Fake) ListIdentityLinks(_ context.Context, authUserID string) ([]models.IdentityLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.IdentityLink(nil), f.Links[authUserID]...), nil
}

func (f *Fake) CreateIdentityLink(_ context.Context, authUserID string, link models.IdentityLink) error {
	if f.LinkHook != nil {
		if err := f.LinkHook(authUserID, link); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Links[authUserID] = append(f.Links[authUserID], link)
	return nil
}

func (f *Fake) FindCapabilitiesByPermissions(_ context.Context, permissions []string) ([]models.Capability, error) {
	f.mu.Lock()
	f.CapabilityCalls = append(f.CapabilityCalls, append([]string(nil), permissions...))
	f.mu.Unlock()

	if f.CapabilityHook != nil {
		if err := f.CapabilityHook(permissions); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var caps []models.Capability
	for _, p := range permissions {
		f.seenLookups[p]++
		if f.seenLookups[p] <= f.HiddenFor[p] {
			continue
		}
		caps = append(caps, f.Capabilities[p]...)
	}
	return caps, nil
}

func (f *Fake) AssignCapabilities(_ context.Context, userID string, capabilityIDs []string) error {
	f.mu.Lock()
	f.AssignCalls++
	f.mu.Unlock()

	if f.AssignHook != nil {
		if err := f.AssignHook(userID, capabilityIDs); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	ids := append([]string(nil), capabilityIDs...)
	sort.Strings(ids)
	if existing, ok := f.Assignments[userID]; ok && equal(existing, ids) {
		return directory.ErrNothingToUpdate
	}
	f.Assignments[userID] = ids
	return nil
}

func (f *Fake) ListUserTenants(_ context.Context, userID string) ([]string, error) {
	if f.TenantsHook != nil {
		if err := f.TenantsHook(userID); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.UserTenants[userID]...), nil
}

// Upserts returns a snapshot of every UpsertUser call.
func (f *Fake) Upserts() []models.AuthUser {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.AuthUser(nil), f.UpsertCalls...)
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
