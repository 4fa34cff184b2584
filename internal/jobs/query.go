package jobs

import (
	"strings"

	"github.com/stanstork/stratum-identity/internal/apperr"
	"github.com/stanstork/stratum-identity/internal/models"
)

const (
	DefaultLimit = 10
	MaxLimit     = 1000
)

// ParseQuery turns a listing query into a filter. Accepted forms are the
// empty string, a bare status name, and status==<STATUS>.
func ParseQuery(raw string, offset, limit int) (models.MigrationQuery, error) {
	q := models.MigrationQuery{Offset: offset, Limit: limit}
	if q.Offset < 0 {
		return q, apperr.Validation("offset must not be negative")
	}
	switch {
	case q.Limit < 0:
		return q, apperr.Validation("limit must not be negative")
	case q.Limit == 0:
		q.Limit = DefaultLimit
	case q.Limit > MaxLimit:
		q.Limit = MaxLimit
	}

	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "cql.allRecords=1" {
		return q, nil
	}

	value := raw
	if field, v, ok := strings.Cut(raw, "=="); ok {
		if !strings.EqualFold(strings.TrimSpace(field), "status") {
			return q, apperr.Validation("Unsupported query field: %s", strings.TrimSpace(field))
		}
		value = strings.Trim(strings.TrimSpace(v), `"`)
	}

	status, ok := models.ParseMigrationStatus(value)
	if !ok {
		return q, apperr.Validation("Unknown migration status: %s", value)
	}
	q.Status = status
	return q, nil
}
