package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/stanstork/stratum-identity/internal/models"
)

// ErrMigrationInProgress is returned by Create when another job is still
// IN_PROGRESS.
var ErrMigrationInProgress = errors.New("migration is already in progress")

// ErrTerminalStatus is returned when updating a job that already finished.
var ErrTerminalStatus = errors.New("migration already in a terminal status")

type MigrationRepository interface {
	// Create inserts job unless another job is IN_PROGRESS. The check and the
	// insert are one atomic step.
	Create(ctx context.Context, job models.MigrationJob) (models.MigrationJob, error)
	GetByID(ctx context.Context, id string) (models.MigrationJob, error)
	ExistsByStatus(ctx context.Context, status models.MigrationStatus) (bool, error)
	FindByStatus(ctx context.Context, status models.MigrationStatus) ([]models.MigrationJob, error)
	Find(ctx context.Context, query models.MigrationQuery) (models.MigrationPage, error)
	// UpdateStatus moves an IN_PROGRESS job to a terminal status.
	UpdateStatus(ctx context.Context, id string, status models.MigrationStatus, finishedAt time.Time) (models.MigrationJob, error)
	Delete(ctx context.Context, id string) (bool, error)
}

type migrationRepository struct {
	db *sql.DB
}

func NewMigrationRepository(db *sql.DB) MigrationRepository {
	return &migrationRepository{db: db}
}

const migrationColumns = `id, tenant_id, status, total_records, started_at, finished_at`

// uniqueViolation is the PostgreSQL code raised by the single-flight index.
const uniqueViolation = "23505"

func (r *migrationRepository) Create(ctx context.Context, job models.MigrationJob) (models.MigrationJob, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return job, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Ensure rollback on error

	const query = `
		INSERT INTO tenant.migration_jobs (id, tenant_id, status, total_records, started_at)
		SELECT $1, $2, $3, $4, $5
		WHERE NOT EXISTS (
			SELECT 1 FROM tenant.migration_jobs WHERE status = 'IN_PROGRESS'
		)
		RETURNING ` + migrationColumns

	created, err := scanMigration(tx.QueryRowContext(ctx, query,
		job.ID,
		nullString(job.TenantID),
		job.Status,
		job.TotalRecords,
		job.StartedAt,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
			return job, ErrMigrationInProgress
		}
		return job, fmt.Errorf("failed to insert migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return job, ErrMigrationInProgress
		}
		return job, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return created, nil
}

func (r *migrationRepository) GetByID(ctx context.Context, id string) (models.MigrationJob, error) {
	query := `SELECT ` + migrationColumns + ` FROM tenant.migration_jobs WHERE id = $1`
	return scanMigration(r.db.QueryRowContext(ctx, query, id))
}

func (r *migrationRepository) ExistsByStatus(ctx context.Context, status models.MigrationStatus) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM tenant.migration_jobs WHERE status = $1)`
	var exists bool
	err := r.db.QueryRowContext(ctx, query, status).Scan(&exists)
	return exists, err
}

func (r *migrationRepository) FindByStatus(ctx context.Context, status models.MigrationStatus) ([]models.MigrationJob, error) {
	query := `
		SELECT ` + migrationColumns + `
		FROM tenant.migration_jobs
		WHERE status = $1
		ORDER BY started_at DESC`

	rows, err := r.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMigrations(rows)
}

func (r *migrationRepository) Find(ctx context.Context, q models.MigrationQuery) (models.MigrationPage, error) {
	var status interface{}
	if q.Status != "" {
		status = q.Status
	}

	const countQuery = `
		SELECT COUNT(*)
		FROM tenant.migration_jobs
		WHERE $1::text IS NULL OR status = $1`
	var page models.MigrationPage
	if err := r.db.QueryRowContext(ctx, countQuery, status).Scan(&page.TotalRecords); err != nil {
		return page, fmt.Errorf("count migrations: %w", err)
	}

	query := `
		SELECT ` + migrationColumns + `
		FROM tenant.migration_jobs
		WHERE $1::text IS NULL OR status = $1
		ORDER BY started_at DESC
		LIMIT $2
		OFFSET $3`
	rows, err := r.db.QueryContext(ctx, query, status, q.Limit, q.Offset)
	if err != nil {
		return page, fmt.Errorf("list migrations: %w", err)
	}
	defer rows.Close()

	page.Migrations, err = scanMigrations(rows)
	return page, err
}

func (r *migrationRepository) UpdateStatus(ctx context.Context, id string, status models.MigrationStatus, finishedAt time.Time) (models.MigrationJob, error) {
	if !status.IsTerminal() {
		return models.MigrationJob{}, fmt.Errorf("invalid status %q", status)
	}
	query := `
		UPDATE tenant.migration_jobs
		   SET status      = $1,
		       finished_at = $2
		 WHERE id = $3 AND status = 'IN_PROGRESS'
		RETURNING ` + migrationColumns

	job, err := scanMigration(r.db.QueryRowContext(ctx, query, status, finishedAt, id))
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return models.MigrationJob{}, getErr
		}
		return models.MigrationJob{}, ErrTerminalStatus
	}
	return job, err
}

func (r *migrationRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tenant.migration_jobs WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete migration: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

func scanMigration(scanner interface {
	Scan(dest ...interface{}) error
}) (models.MigrationJob, error) {
	var (
		job        models.MigrationJob
		tenantID   sql.NullString
		finishedAt sql.NullTime
	)
	if err := scanner.Scan(
		&job.ID,
		&tenantID,
		&job.Status,
		&job.TotalRecords,
		&job.StartedAt,
		&finishedAt,
	); err != nil {
		return models.MigrationJob{}, err
	}
	if tenantID.Valid {
		job.TenantID = tenantID.String
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		job.FinishedAt = &t
	}
	return job, nil
}

func scanMigrations(rows *sql.Rows) ([]models.MigrationJob, error) {
	jobs := []models.MigrationJob{}
	for rows.Next() {
		job, err := scanMigration(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
