// Package config provides configuration loading and management for the sync orchestrator.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/storepilot/sync-orchestrator/internal/telemetry"
)

// EnvPrefix is the prefix for all environment variables read by the orchestrator.
const EnvPrefix = "SYNC_ORCHESTRATOR"

const (
	// LockBackendPostgres stores locks in the job_locks table
	LockBackendPostgres = "postgres"

	// LockBackendRedis stores locks as Redis keys with a TTL
	LockBackendRedis = "redis"

	// LockBackendMemory keeps locks in process memory (single instance only)
	LockBackendMemory = "memory"
)

const (
	defaultLockTTL          = 35 * time.Minute
	defaultPartitionLockTTL = 45 * time.Minute
	defaultMaxPages         = 1000
	defaultInitialLookback  = 30 * 24 * time.Hour
	defaultPartitionTable   = "order_items"
	defaultHorizonQuarters  = 2
	defaultRetentionQuarter = 12
	defaultDequeueTimeout   = 5 * time.Second
	defaultJobTimeout       = 30 * time.Minute
	defaultReloadInterval   = 5 * time.Minute
	defaultRemoteTimeout    = 30 * time.Second
	defaultRemoteRetries    = 3
	defaultRedisKeyPrefix   = "sync-orchestrator"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	Database    *DatabaseConfig   `yaml:"database,omitempty"`
	Redis       *RedisConfig      `yaml:"redis,omitempty"`
	Storefront  *RemoteConfig     `yaml:"storefront,omitempty"`
	Marketplace *RemoteConfig     `yaml:"marketplace,omitempty"`
	Locks       LocksConfig       `yaml:"locks,omitempty"`
	Sync        SyncConfig        `yaml:"sync,omitempty"`
	Partitions  PartitionsConfig  `yaml:"partitions,omitempty"`
	Workers     WorkersConfig     `yaml:"workers,omitempty"`
	Scheduler   SchedulerConfig   `yaml:"scheduler,omitempty"`
	Telemetry   *telemetry.Config `yaml:"telemetry,omitempty"`
	Auth        *AuthConfig       `yaml:"auth,omitempty"`
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password.
	// The file should contain only the password with optional trailing whitespace.
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxOpenConns is the maximum number of open connections to the database
	MaxOpenConns int32 `yaml:"maxOpenConns,omitempty"`

	// MaxIdleConns is the number of connections the pool keeps warm
	MaxIdleConns int32 `yaml:"maxIdleConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a connection (e.g., "1h", "30m")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`
}

// RedisConfig defines the Redis server used for queues and, optionally, locks
type RedisConfig struct {
	Address      string `yaml:"address"`
	PasswordFile string `yaml:"passwordFile,omitempty"`
	DB           int    `yaml:"db,omitempty"`

	// KeyPrefix namespaces every queue and lock key
	KeyPrefix string `yaml:"keyPrefix,omitempty"`
}

// RemoteConfig defines how to reach one remote e-commerce platform API
type RemoteConfig struct {
	// BaseURL is the API root, e.g. "https://api.example-shop.cz"
	BaseURL string `yaml:"baseURL"`

	// TokenFile is the path to a file holding the API access token
	TokenFile string `yaml:"tokenFile,omitempty"`

	// Timeout is the per-request timeout (e.g., "30s")
	Timeout string `yaml:"timeout,omitempty"`

	// MaxRetries bounds retries of rate limited (HTTP 429) requests
	MaxRetries uint `yaml:"maxRetries,omitempty"`
}

// LocksConfig selects the lock store
type LocksConfig struct {
	Backend    string `yaml:"backend,omitempty"`
	DefaultTTL string `yaml:"defaultTTL,omitempty"`
}

// SyncConfig holds incremental sync settings
type SyncConfig struct {
	// MaxPages is the page ceiling used when a job does not set max_pages
	MaxPages int `yaml:"maxPages,omitempty"`

	// InitialLookback is the window used on a shop's first sync (e.g., "720h")
	InitialLookback string `yaml:"initialLookback,omitempty"`
}

// PartitionsConfig holds defaults for the partitions CLI commands
type PartitionsConfig struct {
	Table             string `yaml:"table,omitempty"`
	HorizonQuarters   int    `yaml:"horizonQuarters,omitempty"`
	RetentionQuarters int    `yaml:"retentionQuarters,omitempty"`

	// LockTTL is the lock TTL of order_items.maintain_partitions runs. It must
	// exceed workers.jobTimeout.
	LockTTL string `yaml:"lockTTL,omitempty"`
}

// WorkersConfig maps queue names to the number of workers pulling from them
type WorkersConfig struct {
	Queues         map[string]int `yaml:"queues,omitempty"`
	DequeueTimeout string         `yaml:"dequeueTimeout,omitempty"`
	JobTimeout     string         `yaml:"jobTimeout,omitempty"`
}

// SchedulerConfig controls the cron trigger
type SchedulerConfig struct {
	// Enabled starts the cron trigger inside serve
	Enabled bool `yaml:"enabled"`

	// ReloadInterval is how often enabled schedules are re-read
	ReloadInterval string `yaml:"reloadInterval,omitempty"`
}

// AuthMode selects how API requests are authenticated
type AuthMode string

const (
	// AuthModeAnonymous lets every request through
	AuthModeAnonymous AuthMode = "anonymous"

	// AuthModeToken requires a signed JWT bearer token on non-public paths
	AuthModeToken AuthMode = "token"
)

// AuthConfig defines authentication of the HTTP API
type AuthConfig struct {
	Mode AuthMode `yaml:"mode,omitempty"`

	// Realm is reported in WWW-Authenticate challenges
	Realm string `yaml:"realm,omitempty"`

	// PublicPaths bypass authentication in addition to the health endpoints
	PublicPaths []string `yaml:"publicPaths,omitempty"`

	// RunScope, when set, must be granted by the token to trigger schedules
	RunScope string `yaml:"runScope,omitempty"`

	// Issuers are tried in order until one accepts the token
	Issuers []TokenIssuerConfig `yaml:"issuers,omitempty"`
}

// TokenIssuerConfig defines one accepted token issuer
type TokenIssuerConfig struct {
	Name     string `yaml:"name"`
	Issuer   string `yaml:"issuer,omitempty"`
	Audience string `yaml:"audience,omitempty"`

	// SigningKeyFile holds the HMAC key the issuer signs tokens with
	SigningKeyFile string `yaml:"signingKeyFile"`
}

// GetSigningKey reads the issuer's HMAC key from SigningKeyFile.
func (t *TokenIssuerConfig) GetSigningKey() ([]byte, error) {
	key, err := readSecretFile(t.SigningKeyFile)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, fmt.Errorf("signing key file %s is empty", t.SigningKeyFile)
	}
	return []byte(key), nil
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from SYNC_ORCHESTRATOR_DATABASE_PASSWORD environment variable
//
// The password from file will have leading/trailing whitespace trimmed.
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		return readSecretFile(d.PasswordFile)
	}

	if envPassword := os.Getenv(EnvPrefix + "_DATABASE_PASSWORD"); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set passwordFile or %s_DATABASE_PASSWORD environment variable",
		EnvPrefix,
	)
}

// GetConnectionString builds a PostgreSQL connection string with proper password handling.
// The password is URL-escaped to handle special characters safely.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(d.User),
		url.QueryEscape(password),
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	)

	return connString, nil
}

// GetPassword returns the Redis password from PasswordFile or
// SYNC_ORCHESTRATOR_REDIS_PASSWORD. An empty password is valid.
func (r *RedisConfig) GetPassword() (string, error) {
	if r.PasswordFile != "" {
		return readSecretFile(r.PasswordFile)
	}
	return os.Getenv(EnvPrefix + "_REDIS_PASSWORD"), nil
}

// GetKeyPrefix returns the key prefix, using the default if not specified
func (r *RedisConfig) GetKeyPrefix() string {
	if r.KeyPrefix == "" {
		return defaultRedisKeyPrefix
	}
	return r.KeyPrefix
}

// GetToken reads the API token from TokenFile, falling back to the
// SYNC_ORCHESTRATOR_<NAME>_TOKEN environment variable.
func (r *RemoteConfig) GetToken(name string) (string, error) {
	if r.TokenFile != "" {
		return readSecretFile(r.TokenFile)
	}
	envName := EnvPrefix + "_" + strings.ToUpper(name) + "_TOKEN"
	if token := os.Getenv(envName); token != "" {
		return token, nil
	}
	return "", fmt.Errorf("no %s token configured: set tokenFile or %s", name, envName)
}

// GetTimeout returns the request timeout, using the default if unset or invalid
func (r *RemoteConfig) GetTimeout() time.Duration {
	return parseDurationOr(r.Timeout, defaultRemoteTimeout)
}

// GetMaxRetries returns the retry bound for rate limited requests
func (r *RemoteConfig) GetMaxRetries() uint {
	if r.MaxRetries == 0 {
		return defaultRemoteRetries
	}
	return r.MaxRetries
}

// GetBackend returns the lock backend, defaulting to postgres
func (l LocksConfig) GetBackend() string {
	if l.Backend == "" {
		return LockBackendPostgres
	}
	return l.Backend
}

// GetDefaultTTL returns the lock TTL used for jobs without their own TTL
func (l LocksConfig) GetDefaultTTL() time.Duration {
	return parseDurationOr(l.DefaultTTL, defaultLockTTL)
}

// GetLockTTL returns the lock TTL of partition maintenance runs
func (p PartitionsConfig) GetLockTTL() time.Duration {
	return parseDurationOr(p.LockTTL, defaultPartitionLockTTL)
}

// GetMaxPages returns the pagination ceiling
func (s SyncConfig) GetMaxPages() int {
	if s.MaxPages <= 0 {
		return defaultMaxPages
	}
	return s.MaxPages
}

// GetInitialLookback returns the window length used when no cursor exists yet
func (s SyncConfig) GetInitialLookback() time.Duration {
	return parseDurationOr(s.InitialLookback, defaultInitialLookback)
}

// GetTable returns the partitioned table name
func (p PartitionsConfig) GetTable() string {
	if p.Table == "" {
		return defaultPartitionTable
	}
	return p.Table
}

// GetHorizonQuarters returns how many future quarters to keep created
func (p PartitionsConfig) GetHorizonQuarters() int {
	if p.HorizonQuarters <= 0 {
		return defaultHorizonQuarters
	}
	return p.HorizonQuarters
}

// GetRetentionQuarters returns how many past quarters to keep
func (p PartitionsConfig) GetRetentionQuarters() int {
	if p.RetentionQuarters <= 0 {
		return defaultRetentionQuarter
	}
	return p.RetentionQuarters
}

// GetQueues returns the queue concurrency map, defaulting to one worker
// for each built-in queue.
func (w WorkersConfig) GetQueues() map[string]int {
	if len(w.Queues) == 0 {
		return map[string]int{"sync": 1, "metrics": 1, "maintenance": 1}
	}
	return w.Queues
}

// GetDequeueTimeout returns how long a worker blocks waiting for a message
func (w WorkersConfig) GetDequeueTimeout() time.Duration {
	return parseDurationOr(w.DequeueTimeout, defaultDequeueTimeout)
}

// GetJobTimeout returns the hard timeout applied to one job run
func (w WorkersConfig) GetJobTimeout() time.Duration {
	return parseDurationOr(w.JobTimeout, defaultJobTimeout)
}

// GetReloadInterval returns how often the trigger re-reads schedules
func (s SchedulerConfig) GetReloadInterval() time.Duration {
	return parseDurationOr(s.ReloadInterval, defaultReloadInterval)
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate checks the configuration for missing or inconsistent settings.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if c.Database != nil {
		if err := validateDatabaseConfig(c.Database); err != nil {
			return err
		}
	}

	if c.Redis != nil && c.Redis.Address == "" {
		return fmt.Errorf("redis.address is required")
	}

	switch c.Locks.GetBackend() {
	case LockBackendPostgres:
		if c.Database == nil {
			return fmt.Errorf("locks.backend %q requires a database configuration", LockBackendPostgres)
		}
	case LockBackendRedis:
		if c.Redis == nil {
			return fmt.Errorf("locks.backend %q requires a redis configuration", LockBackendRedis)
		}
	case LockBackendMemory:
	default:
		return fmt.Errorf("locks.backend must be one of %s, %s or %s, got %q",
			LockBackendPostgres, LockBackendRedis, LockBackendMemory, c.Locks.Backend)
	}

	durations := map[string]string{
		"locks.defaultTTL":         c.Locks.DefaultTTL,
		"partitions.lockTTL":       c.Partitions.LockTTL,
		"sync.initialLookback":     c.Sync.InitialLookback,
		"workers.dequeueTimeout":   c.Workers.DequeueTimeout,
		"workers.jobTimeout":       c.Workers.JobTimeout,
		"scheduler.reloadInterval": c.Scheduler.ReloadInterval,
	}
	for field, value := range durations {
		if err := validateDuration(field, value); err != nil {
			return err
		}
	}

	// A lock must outlive the longest run it guards, or a still running job
	// loses it to the next trigger.
	jobTimeout := c.Workers.GetJobTimeout()
	if ttl := c.Locks.GetDefaultTTL(); ttl <= jobTimeout {
		return fmt.Errorf("locks.defaultTTL (%s) must be greater than workers.jobTimeout (%s)", ttl, jobTimeout)
	}
	if ttl := c.Partitions.GetLockTTL(); ttl <= jobTimeout {
		return fmt.Errorf("partitions.lockTTL (%s) must be greater than workers.jobTimeout (%s)", ttl, jobTimeout)
	}

	for name, remote := range map[string]*RemoteConfig{"storefront": c.Storefront, "marketplace": c.Marketplace} {
		if remote == nil {
			continue
		}
		if remote.BaseURL == "" {
			return fmt.Errorf("%s.baseURL is required", name)
		}
		if _, err := url.ParseRequestURI(remote.BaseURL); err != nil {
			return fmt.Errorf("%s.baseURL is not a valid URL: %w", name, err)
		}
		if err := validateDuration(name+".timeout", remote.Timeout); err != nil {
			return err
		}
	}

	for queue, workers := range c.Workers.Queues {
		if strings.TrimSpace(queue) == "" {
			return fmt.Errorf("workers.queues: queue name cannot be empty")
		}
		if workers < 1 {
			return fmt.Errorf("workers.queues.%s: at least one worker is required, got %d", queue, workers)
		}
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	return validateAuthConfig(c.Auth)
}

func validateAuthConfig(a *AuthConfig) error {
	if a == nil {
		return nil
	}
	switch a.Mode {
	case AuthModeAnonymous, "":
		return nil
	case AuthModeToken:
	default:
		return fmt.Errorf("auth.mode must be %s or %s, got %q", AuthModeAnonymous, AuthModeToken, a.Mode)
	}

	if len(a.Issuers) == 0 {
		return fmt.Errorf("auth.issuers: at least one issuer is required in %s mode", AuthModeToken)
	}
	seen := make(map[string]bool, len(a.Issuers))
	for i, issuer := range a.Issuers {
		if issuer.Name == "" {
			return fmt.Errorf("auth.issuers[%d].name is required", i)
		}
		if seen[issuer.Name] {
			return fmt.Errorf("auth.issuers: duplicate issuer name %q", issuer.Name)
		}
		seen[issuer.Name] = true
		if issuer.SigningKeyFile == "" {
			return fmt.Errorf("auth.issuers[%d].signingKeyFile is required", i)
		}
	}
	return nil
}

func validateDatabaseConfig(d *DatabaseConfig) error {
	if d.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if d.Port == 0 {
		return fmt.Errorf("database.port is required")
	}
	if d.User == "" {
		return fmt.Errorf("database.user is required")
	}
	if d.Database == "" {
		return fmt.Errorf("database.database is required")
	}
	return validateDuration("database.connMaxLifetime", d.ConnMaxLifetime)
}

func validateDuration(field, value string) error {
	if value == "" {
		return nil
	}
	if _, err := time.ParseDuration(value); err != nil {
		return fmt.Errorf("%s must be a valid duration (e.g., '30m', '1h'): %w", field, err)
	}
	return nil
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to read secret from file %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}
