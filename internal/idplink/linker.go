// Package idplink links authentication directory entries to a federated
// identity provider for one tenant.
package idplink

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/stratum-identity/internal/apperr"
	"github.com/stanstork/stratum-identity/internal/authz"
	"github.com/stanstork/stratum-identity/internal/batch"
	"github.com/stanstork/stratum-identity/internal/directory"
	"github.com/stanstork/stratum-identity/internal/models"
	"github.com/stanstork/stratum-identity/internal/notification"
)

type Linker struct {
	records       directory.RecordDirectory
	auth          directory.AuthDirectory
	executor      *batch.Executor
	notifications notification.Service
	aliasTemplate string
	logger        zerolog.Logger
}

func NewLinker(
	records directory.RecordDirectory,
	auth directory.AuthDirectory,
	executor *batch.Executor,
	notifications notification.Service,
	aliasTemplate string,
	logger zerolog.Logger,
) *Linker {
	return &Linker{
		records:       records,
		auth:          auth,
		executor:      executor,
		notifications: notifications,
		aliasTemplate: aliasTemplate,
		logger:        logger.With().Str("component", "identity_linker").Logger(),
	}
}

// ProviderAlias is the identity provider alias used for tenantID.
func (l *Linker) ProviderAlias(tenantID string) string {
	return fmt.Sprintf(l.aliasTemplate, tenantID)
}

// LinkIdentities validates req and starts linking in the background. The
// returned Completion fires once every batch is done.
func (l *Linker) LinkIdentities(ctx context.Context, req models.IdentityLinkRequest) (*batch.Completion, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return nil, apperr.Validation("Tenant id is required")
	}
	ids := batch.Distinct(req.UserIDs)
	if len(ids) == 0 {
		return nil, apperr.Validation("User ids are required")
	}

	// The links are created in the target tenant, whoever asked.
	id, _ := authz.IdentityFromContext(ctx)
	id.TenantID = tenantID
	bg := authz.WithIdentity(context.Background(), id)

	alias := l.ProviderAlias(tenantID)
	log := l.logger.With().Str("tenant_id", tenantID).Str("provider_alias", alias).Logger()
	log.Info().Int("users", len(ids)).Msg("Identity provider linking started")

	completion := l.executor.Go(bg, ids, func(ctx context.Context, ids []string) error {
		l.linkBatch(ctx, ids, alias)
		return nil
	})
	completion.Then(func(err error) {
		if err != nil {
			log.Error().Err(err).Msg("Identity provider linking failed")
		} else {
			log.Info().Int("users", len(ids)).Msg("Identity provider linking finished")
		}
		if l.notifications != nil {
			if nerr := l.notifications.NotifyIdentityLinks(bg, tenantID, len(ids), err); nerr != nil {
				log.Warn().Err(nerr).Msg("Failed to publish identity link notification")
			}
		}
	})
	return completion, nil
}

func (l *Linker) linkBatch(ctx context.Context, ids []string, alias string) {
	for _, id := range ids {
		if err := l.linkUser(ctx, id, alias); err != nil {
			l.logger.Warn().Err(err).Str("user_id", id).Msg("Failed to link user to identity provider")
		}
	}
}

// linkUser creates the federated link for one user unless it already exists.
func (l *Linker) linkUser(ctx context.Context, userID, alias string) error {
	user, err := l.records.GetUser(ctx, userID)
	if err != nil {
		return errors.Wrap(err, "get user")
	}
	authUser, err := l.auth.FindUserByExternalID(ctx, userID)
	if err != nil {
		return errors.Wrap(err, "find authentication user")
	}

	links, err := l.auth.ListIdentityLinks(ctx, authUser.ID)
	if err != nil {
		return errors.Wrap(err, "list identity links")
	}
	for _, link := range links {
		if link.ProviderAlias == alias {
			l.logger.Debug().Str("user_id", userID).Msg("User already linked")
			return nil
		}
	}

	link := models.IdentityLink{ProviderAlias: alias, UserID: user.ID, Username: user.Username}
	if err := l.auth.CreateIdentityLink(ctx, authUser.ID, link); err != nil {
		return errors.Wrap(err, "create identity link")
	}
	return nil
}
