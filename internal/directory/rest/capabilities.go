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

var _ directory.CapabilityDirectory = (*Client)(nil)

type capabilitiesResponse struct {
	Capabilities []models.Capability `json:"capabilities"`
	TotalRecords int                 `json:"total_records"`
}

// capabilityPageSize bounds one /capabilities page. A permission can map to
// several capabilities, so the page length is not tied to the query size.
const capabilityPageSize = 100

// FindCapabilitiesByPermissions returns every capability granted by any of
// permissions, following total_records across pages.
func (c *Client) FindCapabilitiesByPermissions(ctx context.Context, permissions []string) ([]models.Capability, error) {
	if len(permissions) == 0 {
		return nil, nil
	}
	query := url.Values{}
	query.Set("query", anyOf("permission", permissions))
	query.Set("limit", strconv.Itoa(capabilityPageSize))

	var caps []models.Capability
	for {
		query.Set("offset", strconv.Itoa(len(caps)))
		var resp capabilitiesResponse
		if err := c.do(ctx, http.MethodGet, "/capabilities", query, nil, &resp); err != nil {
			return nil, errors.Wrap(err, "find capabilities by permissions")
		}
		caps = append(caps, resp.Capabilities...)
		if len(resp.Capabilities) == 0 || len(caps) >= resp.TotalRecords {
			return caps, nil
		}
	}
}

type capabilityAssignment struct {
	UserID        string   `json:"user_id"`
	CapabilityIDs []string `json:"capability_ids"`
}

func (c *Client) AssignCapabilities(ctx context.Context, userID string, capabilityIDs []string) error {
	body := capabilityAssignment{UserID: userID, CapabilityIDs: capabilityIDs}
	err := c.do(ctx, http.MethodPost, "/users/"+url.PathEscape(userID)+"/capabilities", nil, body, nil)
	if statusOf(err) == http.StatusConflict {
		return directory.ErrNothingToUpdate
	}
	if err != nil {
		return errors.Wrapf(err, "assign capabilities to %s", userID)
	}
	return nil
}
