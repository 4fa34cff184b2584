package config

import (
	"log"
	"runtime"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	PasswordPolicyNone     = "none"
	PasswordPolicyUsername = "username"

	// MaxBatchSize bounds a single bulk query against the remote directories.
	MaxBatchSize = 50
)

type MigrationConfig struct {
	BatchSize      int    `mapstructure:"batch_size"`
	PasswordPolicy string `mapstructure:"password_policy"`
	PageSize       int    `mapstructure:"page_size"`
	MaxRecords     int    `mapstructure:"max_records"`
}

type CapabilityConfig struct {
	BatchSize   int           `mapstructure:"batch_size"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
}

type WorkerConfig struct {
	PoolSize  int `mapstructure:"pool_size"`
	QueueSize int `mapstructure:"queue_size"`
}

type DirectoryConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	AuthURL           string        `mapstructure:"auth_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	ServiceTokenTTL   time.Duration `mapstructure:"service_token_ttl"`
}

type IdentityProviderConfig struct {
	AliasTemplate string `mapstructure:"alias_template"`
}

type NotificationConfig struct {
	WebhookURL     string        `mapstructure:"webhook_url"`
	WebhookTimeout time.Duration `mapstructure:"webhook_timeout"`
}

type Config struct {
	DatabaseURL      string                 `mapstructure:"database_url"`
	ServerPort       string                 `mapstructure:"server_port"`
	JWTSecret        string                 `mapstructure:"jwt_secret"`
	AllowedOrigins   []string               `mapstructure:"allowed_origins"`
	Migration        MigrationConfig        `mapstructure:"migration"`
	Capabilities     CapabilityConfig       `mapstructure:"capabilities"`
	Worker           WorkerConfig           `mapstructure:"worker"`
	Directory        DirectoryConfig        `mapstructure:"directory"`
	IdentityProvider IdentityProviderConfig `mapstructure:"identity_provider"`
	Notifications    NotificationConfig     `mapstructure:"notifications"`
}

// Load reads the configuration from a YAML file and returns a Config instance.
func Load() *Config {
	v := viper.New()

	// Look for config in the current directory and ./config
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.AddConfigPath("./config")
	v.SetConfigType("yaml")

	cfg, err := load(v)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	return cfg
}

// LoadFile reads the configuration from an explicit path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("IDSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, "read config file")
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// applyDefaults fills the fallback values for anything the file left out.
func (c *Config) applyDefaults() {
	if c.ServerPort == "" {
		c.ServerPort = "8080"
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"http://localhost:3000"}
	}

	if c.Migration.BatchSize <= 0 {
		c.Migration.BatchSize = MaxBatchSize
	}
	if c.Migration.PasswordPolicy == "" {
		c.Migration.PasswordPolicy = PasswordPolicyNone
	}
	if c.Migration.PageSize <= 0 {
		c.Migration.PageSize = 500
	}
	if c.Migration.MaxRecords <= 0 {
		c.Migration.MaxRecords = 1_000_000
	}

	if c.Capabilities.BatchSize <= 0 {
		c.Capabilities.BatchSize = MaxBatchSize
	}
	if c.Capabilities.MaxAttempts <= 0 {
		c.Capabilities.MaxAttempts = 60
	}
	if c.Capabilities.RetryDelay <= 0 {
		c.Capabilities.RetryDelay = time.Second
	}

	if c.Worker.PoolSize <= 0 {
		c.Worker.PoolSize = runtime.NumCPU()
	}
	if c.Worker.QueueSize <= 0 {
		c.Worker.QueueSize = 100
	}

	if c.Directory.Timeout <= 0 {
		c.Directory.Timeout = 30 * time.Second
	}
	if c.Directory.RequestsPerSecond <= 0 {
		c.Directory.RequestsPerSecond = 50
	}
	if c.Directory.Burst <= 0 {
		c.Directory.Burst = 10
	}
	if c.Directory.ServiceTokenTTL <= 0 {
		c.Directory.ServiceTokenTTL = 5 * time.Minute
	}

	if c.IdentityProvider.AliasTemplate == "" {
		c.IdentityProvider.AliasTemplate = "%s-keycloak-oidc"
	}

	if c.Notifications.WebhookTimeout <= 0 {
		c.Notifications.WebhookTimeout = 10 * time.Second
	}
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("jwt_secret must be set in the config file")
	}
	if c.Migration.BatchSize > MaxBatchSize {
		return errors.Errorf("migration.batch_size must not exceed %d", MaxBatchSize)
	}
	if c.Capabilities.BatchSize > MaxBatchSize {
		return errors.Errorf("capabilities.batch_size must not exceed %d", MaxBatchSize)
	}
	switch c.Migration.PasswordPolicy {
	case PasswordPolicyNone, PasswordPolicyUsername:
	default:
		return errors.Errorf("unknown migration.password_policy %q", c.Migration.PasswordPolicy)
	}
	if !strings.Contains(c.IdentityProvider.AliasTemplate, "%s") {
		return errors.New("identity_provider.alias_template must contain %s")
	}
	if strings.TrimSpace(c.Directory.BaseURL) == "" {
		return errors.New("directory.base_url must be set in the config file")
	}
	return nil
}
