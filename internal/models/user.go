package models

// User is a record in the primary user directory.
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Active    bool   `json:"active"`
	Type      string `json:"type,omitempty"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// PermissionHolder is a user that currently holds at least one permission.
type PermissionHolder struct {
	UserID      string   `json:"user_id"`
	Permissions []string `json:"permissions"`
}

// AuthUser is an entry in the authentication directory, keyed by the
// external id attribute that points back at the record directory.
type AuthUser struct {
	ID         string              `json:"id,omitempty"`
	ExternalID string              `json:"external_id"`
	Username   string              `json:"username"`
	Email      string              `json:"email,omitempty"`
	FirstName  string              `json:"first_name,omitempty"`
	LastName   string              `json:"last_name,omitempty"`
	Enabled    bool                `json:"enabled"`
	Password   string              `json:"password,omitempty"`
	Attributes map[string][]string `json:"attributes,omitempty"`
}

// IdentityLink binds an authentication directory entry to a user in a
// federated identity provider.
type IdentityLink struct {
	ProviderAlias string `json:"identity_provider"`
	UserID        string `json:"user_id"`
	Username      string `json:"username"`
}

// Capability is the authorization directory unit a permission resolves to.
type Capability struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	Permission string `json:"permission"`
}
