// Package directory declares the remote services the provisioning core talks to.
package directory

import (
	"context"
	"errors"

	"github.com/stanstork/stratum-identity/internal/models"
)

var (
	// ErrInvalidEmail is returned by the authentication directory when the
	// contact email of an entry is not in a valid format.
	ErrInvalidEmail = errors.New("invalid email format")

	// ErrNothingToUpdate is the conflict signal for an assignment that would
	// not change anything.
	ErrNothingToUpdate = errors.New("nothing to update")

	ErrNotFound = errors.New("directory entry not found")
)

type PermissionDirectory interface {
	// ListPermissionHolders returns one page of users holding a non-empty
	// permission set.
	ListPermissionHolders(ctx context.Context, offset, limit int) ([]models.PermissionHolder, error)
}

type RecordDirectory interface {
	// FindUsersByIDs reads at most one bulk batch of users.
	FindUsersByIDs(ctx context.Context, ids []string) ([]models.User, error)
	GetUser(ctx context.Context, id string) (models.User, error)
}

type AuthDirectory interface {
	// UpsertUser creates or updates the entry whose external id matches user.ExternalID.
	UpsertUser(ctx context.Context, user models.AuthUser) (models.AuthUser, error)
	FindUserByExternalID(ctx context.Context, externalID string) (models.AuthUser, error)
	ListIdentityLinks(ctx context.Context, authUserID string) ([]models.IdentityLink, error)
	CreateIdentityLink(ctx context.Context, authUserID string, link models.IdentityLink) error
}

type CapabilityDirectory interface {
	FindCapabilitiesByPermissions(ctx context.Context, permissions []string) ([]models.Capability, error)
	// AssignCapabilities returns ErrNothingToUpdate when the user already holds the set.
	AssignCapabilities(ctx context.Context, userID string, capabilityIDs []string) error
}

type TenantDirectory interface {
	ListUserTenants(ctx context.Context, userID string) ([]string, error)
}
