package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFileAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
jwt_secret: secret
directory:
  base_url: http://gateway:9130
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, 50, cfg.Migration.BatchSize)
	assert.Equal(t, PasswordPolicyNone, cfg.Migration.PasswordPolicy)
	assert.Equal(t, 60, cfg.Capabilities.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Capabilities.RetryDelay)
	assert.Equal(t, runtime.NumCPU(), cfg.Worker.PoolSize)
	assert.Equal(t, "http://gateway:9130", cfg.Directory.BaseURL)
	assert.Equal(t, "%s-keycloak-oidc", cfg.IdentityProvider.AliasTemplate)
}

func TestLoadFileReadsValues(t *testing.T) {
	path := writeConfig(t, `
jwt_secret: secret
server_port: "9000"
directory:
  base_url: http://gateway:9130
migration:
  batch_size: 20
  password_policy: username
capabilities:
  max_attempts: 3
  retry_delay: 250ms
worker:
  pool_size: 2
  queue_size: 4
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.ServerPort)
	assert.Equal(t, 20, cfg.Migration.BatchSize)
	assert.Equal(t, PasswordPolicyUsername, cfg.Migration.PasswordPolicy)
	assert.Equal(t, 3, cfg.Capabilities.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Capabilities.RetryDelay)
	assert.Equal(t, 2, cfg.Worker.PoolSize)
	assert.Equal(t, 4, cfg.Worker.QueueSize)
}

func TestLoadFileRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing secret", "server_port: \"1\"\n", "jwt_secret"},
		{"batch too large", "jwt_secret: s\nmigration:\n  batch_size: 51\n", "migration.batch_size"},
		{"unknown policy", "jwt_secret: s\nmigration:\n  password_policy: random\n", "password_policy"},
		{"alias without tenant", "jwt_secret: s\nidentity_provider:\n  alias_template: fixed\n", "alias_template"},
		{"missing directory", "jwt_secret: s\n", "directory.base_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
