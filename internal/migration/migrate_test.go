package migration

import (
	"bytes"
	"io/fs"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsAreOrdered(t *testing.T) {
	files, err := fs.Glob(embeddedMigrations, "migrations/*.sql")
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, "migrations/00001_create_migration_jobs.sql", files[0])

	raw, err := fs.ReadFile(embeddedMigrations, files[0])
	require.NoError(t, err)
	assert.Contains(t, string(raw), "WHERE status = 'IN_PROGRESS'")
	assert.Contains(t, string(raw), "-- +goose Down")
}

func TestGooseAdapterWritesThroughLogger(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewGooseAdapter(zerolog.New(&buf))

	adapter.Printf("OK   %s (%s)\n", "00001_create_migration_jobs.sql", "1ms")

	assert.Contains(t, buf.String(), `"component":"goose"`)
	assert.Contains(t, buf.String(), "00001_create_migration_jobs.sql")
}
