package rest

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/stanstork/stratum-identity/internal/directory"
	"github.com/stanstork/stratum-identity/internal/models"
)

var _ directory.AuthDirectory = (*Client)(nil)

func (c *Client) UpsertUser(ctx context.Context, user models.AuthUser) (models.AuthUser, error) {
	var created models.AuthUser
	err := c.do(ctx, http.MethodPut, "/auth-users/external/"+url.PathEscape(user.ExternalID), nil, user, &created)
	if err != nil {
		if isInvalidEmail(err) {
			return models.AuthUser{}, errors.Wrapf(directory.ErrInvalidEmail, "upsert auth user %s", user.ExternalID)
		}
		return models.AuthUser{}, errors.Wrapf(err, "upsert auth user %s", user.ExternalID)
	}
	return created, nil
}

func (c *Client) FindUserByExternalID(ctx context.Context, externalID string) (models.AuthUser, error) {
	var user models.AuthUser
	err := c.do(ctx, http.MethodGet, "/auth-users/external/"+url.PathEscape(externalID), nil, nil, &user)
	if statusOf(err) == http.StatusNotFound {
		return models.AuthUser{}, directory.ErrNotFound
	}
	if err != nil {
		return models.AuthUser{}, errors.Wrapf(err, "find auth user %s", externalID)
	}
	return user, nil
}

func (c *Client) ListIdentityLinks(ctx context.Context, authUserID string) ([]models.IdentityLink, error) {
	var links []models.IdentityLink
	if err := c.do(ctx, http.MethodGet, "/auth-users/"+url.PathEscape(authUserID)+"/identity-links", nil, nil, &links); err != nil {
		return nil, errors.Wrapf(err, "list identity links of %s", authUserID)
	}
	return links, nil
}

func (c *Client) CreateIdentityLink(ctx context.Context, authUserID string, link models.IdentityLink) error {
	path := "/auth-users/" + url.PathEscape(authUserID) + "/identity-links/" + url.PathEscape(link.ProviderAlias)
	if err := c.do(ctx, http.MethodPost, path, nil, link, nil); err != nil {
		return errors.Wrapf(err, "link %s to %s", authUserID, link.ProviderAlias)
	}
	return nil
}

// isInvalidEmail recognises the provider's validation failure for a malformed email.
func isInvalidEmail(err error) bool {
	var se *statusError
	if !errors.As(err, &se) || se.Status != http.StatusBadRequest {
		return false
	}
	body := strings.ToLower(se.Body)
	return strings.Contains(body, "invalid-email") || strings.Contains(body, "invalid email")
}
