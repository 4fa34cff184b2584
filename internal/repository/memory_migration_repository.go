package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stanstork/stratum-identity/internal/models"
)

// memoryMigrationRepository keeps jobs in process memory. It backs the
// service when no database is configured.
type memoryMigrationRepository struct {
	mu   sync.RWMutex
	jobs map[string]models.MigrationJob
}

func NewMemoryMigrationRepository() MigrationRepository {
	return &memoryMigrationRepository{jobs: make(map[string]models.MigrationJob)}
}

func (r *memoryMigrationRepository) Create(_ context.Context, job models.MigrationJob) (models.MigrationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.jobs {
		if existing.Status == models.MigrationInProgress {
			return job, ErrMigrationInProgress
		}
	}
	if _, ok := r.jobs[job.ID]; ok {
		return job, fmt.Errorf("migration %s already exists", job.ID)
	}
	r.jobs[job.ID] = job
	return job, nil
}

func (r *memoryMigrationRepository) GetByID(_ context.Context, id string) (models.MigrationJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return models.MigrationJob{}, sql.ErrNoRows
	}
	return job, nil
}

func (r *memoryMigrationRepository) ExistsByStatus(_ context.Context, status models.MigrationStatus) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, job := range r.jobs {
		if job.Status == status {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryMigrationRepository) FindByStatus(_ context.Context, status models.MigrationStatus) ([]models.MigrationJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sorted(status), nil
}

func (r *memoryMigrationRepository) Find(_ context.Context, q models.MigrationQuery) (models.MigrationPage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := r.sorted(q.Status)
	page := models.MigrationPage{TotalRecords: len(all), Migrations: []models.MigrationJob{}}
	if q.Offset >= len(all) {
		return page, nil
	}
	end := len(all)
	if q.Limit >= 0 && q.Offset+q.Limit < end {
		end = q.Offset + q.Limit
	}
	page.Migrations = append(page.Migrations, all[q.Offset:end]...)
	return page, nil
}

func (r *memoryMigrationRepository) UpdateStatus(_ context.Context, id string, status models.MigrationStatus, finishedAt time.Time) (models.MigrationJob, error) {
	if !status.IsTerminal() {
		return models.MigrationJob{}, fmt.Errorf("invalid status %q", status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return models.MigrationJob{}, sql.ErrNoRows
	}
	if job.Status != models.MigrationInProgress {
		return models.MigrationJob{}, ErrTerminalStatus
	}
	job.Status = status
	job.FinishedAt = &finishedAt
	r.jobs[id] = job
	return job, nil
}

func (r *memoryMigrationRepository) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return false, nil
	}
	delete(r.jobs, id)
	return true, nil
}

// sorted returns the jobs with the given status (all when empty), newest first.
func (r *memoryMigrationRepository) sorted(status models.MigrationStatus) []models.MigrationJob {
	jobs := make([]models.MigrationJob, 0, len(r.jobs))
	for _, job := range r.jobs {
		if status == "" || job.Status == status {
			jobs = append(jobs, job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].StartedAt.Equal(jobs[j].StartedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].StartedAt.After(jobs[j].StartedAt)
	})
	return jobs
}
