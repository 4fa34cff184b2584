// Package provision creates or updates a single identity in the
// authentication directory.
package provision

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/stratum-identity/internal/authz"
	"github.com/stanstork/stratum-identity/internal/capability"
	"github.com/stanstork/stratum-identity/internal/config"
	"github.com/stanstork/stratum-identity/internal/directory"
	"github.com/stanstork/stratum-identity/internal/models"
)

const (
	// AttrUserID links the authentication entry back to the record directory.
	AttrUserID = "user_id"
	// AttrTenants lists every tenant the record is associated with.
	AttrTenants = "tenants"
)

type Status string

const (
	StatusCreated Status = "created"
	StatusSkipped Status = "skipped"
)

// Result is the outcome of provisioning one record. A skipped record carries
// the error that caused it; it never fails the enclosing batch.
type Result struct {
	UserID       string
	Status       Status
	Attempts     int
	EmailDropped bool
	Err          error
}

// PermissionAssigner assigns permission-derived capabilities to a user.
type PermissionAssigner interface {
	AssignPermissions(ctx context.Context, userID string, permissions []string) error
}

type Provisioner struct {
	auth           directory.AuthDirectory
	tenants        directory.TenantDirectory
	assigner       PermissionAssigner
	passwordPolicy string
	logger         zerolog.Logger
}

func NewProvisioner(
	auth directory.AuthDirectory,
	tenants directory.TenantDirectory,
	assigner PermissionAssigner,
	passwordPolicy string,
	logger zerolog.Logger,
) *Provisioner {
	return &Provisioner{
		auth:           auth,
		tenants:        tenants,
		assigner:       assigner,
		passwordPolicy: passwordPolicy,
		logger:         logger.With().Str("component", "provisioner").Logger(),
	}
}

// Provision creates the authentication entry for target and assigns its
// permissions. Creation failures are logged and reported as a skipped Result.
// The only error returned is an unresolved-permissions failure, which must
// fail the batch.
func (p *Provisioner) Provision(ctx context.Context, target models.MigrationTarget) (Result, error) {
	res := Result{UserID: target.UserID}

	tenants := p.tenantsOf(ctx, target)
	if err := p.create(ctx, target, tenants, &res, true); err != nil {
		res.Status = StatusSkipped
		res.Err = err
		p.logger.Warn().
			Err(err).
			Str("user_id", target.UserID).
			Int("attempts", res.Attempts).
			Msg("Failed to create authentication user, skipping record")
		return res, nil
	}
	res.Status = StatusCreated

	if len(target.Permissions) == 0 || p.assigner == nil {
		return res, nil
	}
	err := p.assigner.AssignPermissions(ctx, target.UserID, target.Permissions)
	var unresolved *capability.UnresolvedPermissionsError
	if errors.As(err, &unresolved) {
		return res, err
	}
	if err != nil {
		res.Err = err
		p.logger.Warn().
			Err(err).
			Str("user_id", target.UserID).
			Msg("Failed to assign capabilities")
	}
	return res, nil
}

// create upserts the entry. An invalid email is dropped and the upsert retried
// once with retryIfEmailNotValid turned off, so the fallback never recurses.
func (p *Provisioner) create(ctx context.Context, target models.MigrationTarget, tenants []string, res *Result, retryIfEmailNotValid bool) error {
	res.Attempts++
	_, err := p.auth.UpsertUser(ctx, p.authUser(target, tenants))
	if err == nil {
		return nil
	}
	if retryIfEmailNotValid && target.Email != "" && errors.Is(err, directory.ErrInvalidEmail) {
		p.logger.Warn().
			Str("user_id", target.UserID).
			Msg("Email is not valid, retrying without email")
		target.Email = ""
		res.EmailDropped = true
		return p.create(ctx, target, tenants, res, false)
	}
	return err
}

func (p *Provisioner) authUser(target models.MigrationTarget, tenants []string) models.AuthUser {
	user := models.AuthUser{
		ExternalID: target.UserID,
		Username:   target.Username,
		Email:      target.Email,
		FirstName:  target.FirstName,
		LastName:   target.LastName,
		Enabled:    true,
		Attributes: map[string][]string{
			AttrUserID:  {target.UserID},
			AttrTenants: tenants,
		},
	}
	if p.passwordPolicy == config.PasswordPolicyUsername {
		user.Password = target.Username
	}
	return user
}

// tenantsOf reads the tenant associations of the record. Any failure falls
// back to the tenant the migration runs in.
func (p *Provisioner) tenantsOf(ctx context.Context, target models.MigrationTarget) []string {
	current := target.TenantID
	if current == "" {
		current, _ = authz.TenantIDFromContext(ctx)
	}

	if p.tenants != nil {
		tenants, err := p.tenants.ListUserTenants(ctx, target.UserID)
		if err == nil && len(tenants) > 0 {
			return tenants
		}
		if err != nil {
			p.logger.Debug().
				Err(err).
				Str("user_id", target.UserID).
				Msg("Failed to read tenant associations, using current tenant")
		}
	}
	return []string{current}
}

// HasUsername reports whether the user can be provisioned at all.
func HasUsername(u models.User) bool {
	return strings.TrimSpace(u.Username) != ""
}

type Summary struct {
	Created      int
	Skipped      int
	EmailDropped int
	Degraded     int
}

// Summarize counts the outcomes of a batch.
func Summarize(results []Result) Summary {
	var s Summary
	for _, r := range results {
		switch r.Status {
		case StatusCreated:
			s.Created++
			if r.Err != nil {
				s.Degraded++
			}
		case StatusSkipped:
			s.Skipped++
		}
		if r.EmailDropped {
			s.EmailDropped++
		}
	}
	return s
}
