package rest

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pkg/errors"
	"github.com/stanstork/stratum-identity/internal/directory"
	"github.com/stanstork/stratum-identity/internal/models"
)

var (
	_ directory.PermissionDirectory = (*Client)(nil)
	_ directory.RecordDirectory     = (*Client)(nil)
	_ directory.TenantDirectory     = (*Client)(nil)
)

type permissionHoldersResponse struct {
	PermissionUsers []models.PermissionHolder `json:"permission_users"`
	TotalRecords    int                       `json:"total_records"`
}

func (c *Client) ListPermissionHolders(ctx context.Context, offset, limit int) ([]models.PermissionHolder, error) {
	query := url.Values{}
	query.Set("query", "permissions=*")
	query.Set("offset", strconv.Itoa(offset))
	query.Set("limit", strconv.Itoa(limit))

	var resp permissionHoldersResponse
	if err := c.do(ctx, http.MethodGet, "/perms/users", query, nil, &resp); err != nil {
		return nil, errors.Wrap(err, "list permission holders")
	}
	return resp.PermissionUsers, nil
}

type usersResponse struct {
	Users        []models.User `json:"users"`
	TotalRecords int           `json:"total_records"`
}

func (c *Client) FindUsersByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := url.Values{}
	query.Set("query", anyOf("id", ids))
	query.Set("limit", strconv.Itoa(len(ids)))

	var resp usersResponse
	if err := c.do(ctx, http.MethodGet, "/users", query, nil, &resp); err != nil {
		return nil, errors.Wrap(err, "find users by ids")
	}
	return resp.Users, nil
}

func (c *Client) GetUser(ctx context.Context, id string) (models.User, error) {
	var user models.User
	err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(id), nil, nil, &user)
	if statusOf(err) == http.StatusNotFound {
		return models.User{}, directory.ErrNotFound
	}
	if err != nil {
		return models.User{}, errors.Wrapf(err, "get user %s", id)
	}
	return user, nil
}

type userTenantsResponse struct {
	UserTenants []struct {
		TenantID string `json:"tenant_id"`
	} `json:"user_tenants"`
}

func (c *Client) ListUserTenants(ctx context.Context, userID string) ([]string, error) {
	query := url.Values{}
	query.Set("userId", userID)

	var resp userTenantsResponse
	if err := c.do(ctx, http.MethodGet, "/user-tenants", query, nil, &resp); err != nil {
		return nil, errors.Wrapf(err, "list tenants of user %s", userID)
	}
	tenants := make([]string, 0, len(resp.UserTenants))
	for _, ut := range resp.UserTenants {
		if ut.TenantID != "" {
			tenants = append(tenants, ut.TenantID)
		}
	}
	return tenants, nil
}
