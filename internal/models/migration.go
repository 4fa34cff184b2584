package models

import (
	"strings"
	"time"
)

type MigrationStatus string

const (
	MigrationInProgress MigrationStatus = "IN_PROGRESS"
	MigrationFinished   MigrationStatus = "FINISHED"
	MigrationFailed     MigrationStatus = "FAILED"
)

// IsTerminal reports whether no further transition is allowed out of the status.
func (s MigrationStatus) IsTerminal() bool {
	return s == MigrationFinished || s == MigrationFailed
}

// ParseMigrationStatus accepts the status name in any case.
func ParseMigrationStatus(raw string) (MigrationStatus, bool) {
	switch s := MigrationStatus(strings.ToUpper(strings.TrimSpace(raw))); s {
	case MigrationInProgress, MigrationFinished, MigrationFailed:
		return s, true
	default:
		return "", false
	}
}

type MigrationJob struct {
	ID           string          `json:"id" db:"id"`
	TenantID     string          `json:"tenantId,omitempty" db:"tenant_id"`
	Status       MigrationStatus `json:"status" db:"status"`
	TotalRecords int             `json:"totalRecords" db:"total_records"`
	StartedAt    time.Time       `json:"startedAt" db:"started_at"`
	FinishedAt   *time.Time      `json:"finishedAt,omitempty" db:"finished_at"`
}

// MigrationQuery narrows a paged job listing. A zero value matches every job.
type MigrationQuery struct {
	Status MigrationStatus
	Offset int
	Limit  int
}

type MigrationPage struct {
	Migrations   []MigrationJob `json:"migrations"`
	TotalRecords int            `json:"totalRecords"`
}

// MigrationTarget is everything needed to provision one record without
// reading the record directory again.
type MigrationTarget struct {
	UserID      string
	Username    string
	Email       string
	FirstName   string
	LastName    string
	TenantID    string
	Permissions []string
}

type IdentityLinkRequest struct {
	TenantID string   `json:"tenantId"`
	UserIDs  []string `json:"userIds"`
}
