// Package jobs owns the lifecycle of bulk migration jobs: the single-flight
// guard, persistence, batch dispatch, and the final status transition.
package jobs

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/stratum-identity/internal/apperr"
	"github.com/stanstork/stratum-identity/internal/authz"
	"github.com/stanstork/stratum-identity/internal/batch"
	"github.com/stanstork/stratum-identity/internal/directory"
	"github.com/stanstork/stratum-identity/internal/models"
	"github.com/stanstork/stratum-identity/internal/notification"
	"github.com/stanstork/stratum-identity/internal/provision"
	"github.com/stanstork/stratum-identity/internal/repository"
)

const (
	msgInProgress       = "Migration is already in progress"
	msgNothingToMigrate = "Nothing to migrate, there are no users"
)

// Provisioner provisions one record. Only errors that must fail the batch are
// returned; per-record failures are reported in the Result.
type Provisioner interface {
	Provision(ctx context.Context, target models.MigrationTarget) (provision.Result, error)
}

type Options struct {
	// PageSize is the page length used when reading permission holders.
	PageSize int
	// MaxRecords caps the number of candidates one job will migrate.
	MaxRecords int
}

type Manager struct {
	repo          repository.MigrationRepository
	permissions   directory.PermissionDirectory
	records       directory.RecordDirectory
	provisioner   Provisioner
	executor      *batch.Executor
	notifications notification.Service
	opts          Options
	now           func() time.Time
	logger        zerolog.Logger
}

func NewManager(
	repo repository.MigrationRepository,
	permissions directory.PermissionDirectory,
	records directory.RecordDirectory,
	provisioner Provisioner,
	executor *batch.Executor,
	notifications notification.Service,
	opts Options,
	logger zerolog.Logger,
) *Manager {
	if opts.PageSize <= 0 {
		opts.PageSize = 500
	}
	if opts.MaxRecords <= 0 {
		opts.MaxRecords = 1_000_000
	}
	return &Manager{
		repo:          repo,
		permissions:   permissions,
		records:       records,
		provisioner:   provisioner,
		executor:      executor,
		notifications: notifications,
		opts:          opts,
		now:           time.Now,
		logger:        logger.With().Str("component", "migration_manager").Logger(),
	}
}

// CreateMigration starts a job for every user holding permissions. It returns
// as soon as the job is persisted; batches run on the worker pool.
func (m *Manager) CreateMigration(ctx context.Context) (models.MigrationJob, error) {
	running, err := m.repo.ExistsByStatus(ctx, models.MigrationInProgress)
	if err != nil {
		return models.MigrationJob{}, errors.Wrap(err, "check running migrations")
	}
	if running {
		return models.MigrationJob{}, apperr.Validation(msgInProgress)
	}

	candidates, err := m.candidates(ctx)
	if err != nil {
		return models.MigrationJob{}, err
	}
	if len(candidates.ids) == 0 {
		return models.MigrationJob{}, apperr.Validation(msgNothingToMigrate)
	}

	tenantID, _ := authz.TenantIDFromContext(ctx)
	job, err := m.repo.Create(ctx, models.MigrationJob{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		Status:       models.MigrationInProgress,
		TotalRecords: len(candidates.ids),
		StartedAt:    m.now().UTC(),
	})
	if errors.Is(err, repository.ErrMigrationInProgress) {
		return models.MigrationJob{}, apperr.Validation(msgInProgress)
	}
	if err != nil {
		return models.MigrationJob{}, errors.Wrap(err, "persist migration")
	}

	log := m.logger.With().Str("migration_id", job.ID).Str("tenant_id", tenantID).Logger()
	log.Info().Int("total_records", job.TotalRecords).Msg("Migration started")

	bg := authz.Detach(ctx)
	m.notify(func(svc notification.Service) error {
		return svc.NotifyMigrationStarted(bg, tenantID, job)
	})

	completion := m.executor.Go(bg, candidates.ids, func(ctx context.Context, ids []string) error {
		return m.migrateBatch(ctx, ids, candidates.permissions)
	})
	completion.Then(func(err error) {
		m.finish(bg, job, err)
	})

	return job, nil
}

func (m *Manager) GetMigrationByID(ctx context.Context, id string) (models.MigrationJob, error) {
	jobID, ok := parseID(id)
	if !ok {
		return models.MigrationJob{}, errors.Wrapf(apperr.ErrNotFound, "migration %s", id)
	}
	job, err := m.repo.GetByID(ctx, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.MigrationJob{}, errors.Wrapf(apperr.ErrNotFound, "migration %s", id)
	}
	if err != nil {
		return models.MigrationJob{}, errors.Wrap(err, "get migration")
	}
	return job, nil
}

func (m *Manager) GetMigrationsByQuery(ctx context.Context, query string, offset, limit int) (models.MigrationPage, error) {
	q, err := ParseQuery(query, offset, limit)
	if err != nil {
		return models.MigrationPage{}, err
	}
	page, err := m.repo.Find(ctx, q)
	if err != nil {
		return models.MigrationPage{}, errors.Wrap(err, "find migrations")
	}
	return page, nil
}

// DeleteMigrationByID removes the job. Deleting an absent job is not an error.
func (m *Manager) DeleteMigrationByID(ctx context.Context, id string) error {
	jobID, ok := parseID(id)
	if !ok {
		return nil
	}
	deleted, err := m.repo.Delete(ctx, jobID)
	if err != nil {
		return errors.Wrap(err, "delete migration")
	}
	if deleted {
		m.logger.Info().Str("migration_id", id).Msg("Migration deleted")
	}
	return nil
}

// parseID normalizes a job id. Ids that are not UUIDs cannot name a job.
func parseID(id string) (string, bool) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", false
	}
	return parsed.String(), true
}

type candidateSet struct {
	ids         []string
	permissions map[string][]string
}

// candidates pages through the permission directory until it runs dry or
// the record cap is reached.
func (m *Manager) candidates(ctx context.Context) (candidateSet, error) {
	set := candidateSet{permissions: make(map[string][]string)}
	for offset := 0; len(set.ids) < m.opts.MaxRecords; offset += m.opts.PageSize {
		holders, err := m.permissions.ListPermissionHolders(ctx, offset, m.opts.PageSize)
		if err != nil {
			return set, errors.Wrap(err, "list permission holders")
		}
		for _, h := range holders {
			if h.UserID == "" || len(h.Permissions) == 0 {
				continue
			}
			if _, seen := set.permissions[h.UserID]; seen {
				continue
			}
			set.permissions[h.UserID] = h.Permissions
			set.ids = append(set.ids, h.UserID)
			if len(set.ids) == m.opts.MaxRecords {
				break
			}
		}
		if len(holders) < m.opts.PageSize {
			break
		}
	}
	return set, nil
}

// migrateBatch provisions the users of one batch one after another. A failed
// bulk read or an unresolved-permissions error fails the batch; every other
// failure stays with its record.
func (m *Manager) migrateBatch(ctx context.Context, ids []string, permissions map[string][]string) error {
	users, err := m.records.FindUsersByIDs(ctx, ids)
	if err != nil {
		return errors.Wrap(err, "read users")
	}

	tenantID, _ := authz.TenantIDFromContext(ctx)
	results := make([]provision.Result, 0, len(users))
	for _, u := range users {
		if !provision.HasUsername(u) {
			m.logger.Debug().Str("user_id", u.ID).Msg("User has no username, skipping")
			continue
		}
		res, err := m.provisioner.Provision(ctx, models.MigrationTarget{
			UserID:      u.ID,
			Username:    u.Username,
			Email:       u.Email,
			FirstName:   u.FirstName,
			LastName:    u.LastName,
			TenantID:    tenantID,
			Permissions: permissions[u.ID],
		})
		if err != nil {
			return err
		}
		results = append(results, res)
	}

	s := provision.Summarize(results)
	m.logger.Info().
		Int("requested", len(ids)).
		Int("found", len(users)).
		Int("created", s.Created).
		Int("skipped", s.Skipped).
		Int("email_dropped", s.EmailDropped).
		Int("degraded", s.Degraded).
		Msg("Batch migrated")
	return nil
}

// finish records the terminal status once every batch has completed.
func (m *Manager) finish(ctx context.Context, job models.MigrationJob, runErr error) {
	status := models.MigrationFinished
	if runErr != nil {
		status = models.MigrationFailed
	}

	log := m.logger.With().Str("migration_id", job.ID).Str("status", string(status)).Logger()
	updated, err := m.repo.UpdateStatus(ctx, job.ID, status, m.now().UTC())
	if err != nil {
		log.Error().Err(err).AnErr("cause", runErr).Msg("Failed to update migration status")
		return
	}

	if runErr != nil {
		log.Error().Err(runErr).Msg("Migration failed")
		m.notify(func(svc notification.Service) error {
			return svc.NotifyMigrationFailed(ctx, job.TenantID, updated, runErr.Error())
		})
		return
	}
	log.Info().Msg("Migration finished")
	m.notify(func(svc notification.Service) error {
		return svc.NotifyMigrationFinished(ctx, job.TenantID, updated)
	})
}

func (m *Manager) notify(send func(notification.Service) error) {
	if m.notifications == nil {
		return
	}
	if err := send(m.notifications); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to publish migration notification")
	}
}
