package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"voter-ledger/hashchain"
)

const envPrefix = "VOTELEDGER"

// Storage backends
const (
	BackendMemory  = "memory"
	BackendLevelDB = "leveldb"
	BackendJSON    = "json"
)

type Config struct {
	// Log Config
	LogLevel   int    `mapstructure:"log_level" json:"log_level"`     // e.g., 0 = debug, 1 = info, etc.
	LogFormat  string `mapstructure:"log_format" json:"log_format"`   // "json" or "console"
	LogSampler bool   `mapstructure:"log_sampler" json:"log_sampler"` // if true, samples logs (1 in 5)

	// Ledger Config
	StorageBackend string `mapstructure:"storage_backend" json:"storage_backend"` // memory, leveldb or json (default: leveldb)
	DataDir        string `mapstructure:"data_dir" json:"data_dir"`               // ledger, audit and snapshot files (default: ./data)
	HashAlgorithm  string `mapstructure:"hash_algorithm" json:"hash_algorithm"`   // sha256, keccak256 or blake2b
	LockStripes    int    `mapstructure:"lock_stripes" json:"lock_stripes"`       // per-voter lock stripes (default: 256)

	// Audit Config
	AuditDSN             string `mapstructure:"audit_dsn" json:"audit_dsn"`                           // SQLite DSN for the attempt log (default: <data_dir>/audit.db)
	AuditRetentionHours  int    `mapstructure:"audit_retention_hours" json:"audit_retention_hours"`   // attempts older than this are purged (default: 720)
	SnapshotKeep         int    `mapstructure:"snapshot_keep" json:"snapshot_keep"`                   // audit snapshots kept on disk (default: 5)
	SnapshotIntervalSecs int    `mapstructure:"snapshot_interval_seconds" json:"snapshot_interval_seconds"` // 0 disables periodic snapshots
	PseudonymSalt        string `mapstructure:"pseudonym_salt" json:"pseudonym_salt"`                 // salt for redacted exports

	// Registry Config
	RegistryFile string `mapstructure:"registry_file" json:"registry_file"` // voter ID -> key directory (default: <data_dir>/voters.json)

	// Service Config
	SessionHours    int `mapstructure:"session_hours" json:"session_hours"`         // polling window length (default: 12)
	QueueSize       int `mapstructure:"queue_size" json:"queue_size"`               // buffered step requests (default: 1000)
	Workers         int `mapstructure:"workers" json:"workers"`                     // step workers (default: 4)
	MaxRetries      int `mapstructure:"max_retries" json:"max_retries"`             // attempts for transient storage failures (default: 3)
	RetryBackoffMs  int `mapstructure:"retry_backoff_ms" json:"retry_backoff_ms"`   // initial backoff (default: 50)
	RetryMaxDelayMs int `mapstructure:"retry_max_delay_ms" json:"retry_max_delay_ms"` // backoff ceiling (default: 2000)

	// Query Server Config
	APIPort int `mapstructure:"api_port" json:"api_port"` // Port for HTTP server (default: 8080)
}

var keys = []string{
	"log_level", "log_format", "log_sampler",
	"storage_backend", "data_dir", "hash_algorithm", "lock_stripes",
	"audit_dsn", "audit_retention_hours", "snapshot_keep", "snapshot_interval_seconds", "pseudonym_salt",
	"registry_file",
	"session_hours", "queue_size", "workers", "max_retries", "retry_backoff_ms", "retry_max_delay_ms",
	"api_port",
}

// Load reads configuration from an optional file (any format viper supports)
// overlaid with VOTELEDGER_* environment variables, then applies defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	v.SetDefault("log_level", 1)
	v.SetDefault("log_format", "console")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Default returns a validated configuration with every default applied
func Default() *Config {
	cfg := &Config{LogLevel: 1, LogFormat: "console"}
	// defaults always validate
	_ = validateConfig(cfg)
	return cfg
}

func validateConfig(cfg *Config) error {
	// Validate log level
	if cfg.LogLevel < 0 || cfg.LogLevel > 5 {
		return fmt.Errorf("log level must be between 0 and 5")
	}

	// Validate log format
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return fmt.Errorf("log format must be 'json' or 'console'")
	}

	// Set defaults for ledger config
	if cfg.StorageBackend == "" {
		cfg.StorageBackend = BackendLevelDB
	}
	switch cfg.StorageBackend {
	case BackendMemory, BackendLevelDB, BackendJSON:
	default:
		return fmt.Errorf("storage backend must be 'memory', 'leveldb' or 'json'")
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if cfg.HashAlgorithm == "" {
		cfg.HashAlgorithm = string(hashchain.DefaultAlgorithm)
	}
	if _, err := hashchain.ParseAlgorithm(cfg.HashAlgorithm); err != nil {
		return err
	}
	if cfg.LockStripes == 0 {
		cfg.LockStripes = 256
	}

	// Set defaults for audit config
	if cfg.AuditDSN == "" {
		cfg.AuditDSN = cfg.DataDir + "/audit.db"
	}
	if cfg.AuditRetentionHours == 0 {
		cfg.AuditRetentionHours = 720
	}
	if cfg.SnapshotKeep == 0 {
		cfg.SnapshotKeep = 5
	}
	if cfg.SnapshotIntervalSecs < 0 {
		return fmt.Errorf("snapshot interval must not be negative")
	}

	// Set defaults for registry config
	if cfg.RegistryFile == "" {
		cfg.RegistryFile = cfg.DataDir + "/voters.json"
	}

	// Set defaults for service config
	if cfg.SessionHours == 0 {
		cfg.SessionHours = 12
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Workers == 0 {
		cfg.Workers = 4
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoffMs == 0 {
		cfg.RetryBackoffMs = 50
	}
	if cfg.RetryMaxDelayMs == 0 {
		cfg.RetryMaxDelayMs = 2000
	}

	// Set defaults for query server
	if cfg.APIPort == 0 {
		cfg.APIPort = 8080
	}

	if cfg.QueueSize < 0 || cfg.Workers < 0 || cfg.MaxRetries < 0 || cfg.LockStripes < 0 {
		return fmt.Errorf("queue size, workers, retries and lock stripes must be positive")
	}
	return nil
}

// SessionDuration returns the polling window length
func (c *Config) SessionDuration() time.Duration {
	return time.Duration(c.SessionHours) * time.Hour
}

// AuditRetention returns how long attempts are kept
func (c *Config) AuditRetention() time.Duration {
	return time.Duration(c.AuditRetentionHours) * time.Hour
}

// SnapshotInterval returns the periodic snapshot period, zero when disabled
func (c *Config) SnapshotInterval() time.Duration {
	return time.Duration(c.SnapshotIntervalSecs) * time.Second
}

// Algorithm returns the validated hash algorithm
func (c *Config) Algorithm() hashchain.Algorithm {
	return hashchain.Algorithm(c.HashAlgorithm)
}

// RetryBackoff returns the initial delay between storage retries
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMs) * time.Millisecond
}

// RetryMaxDelay returns the ceiling of the retry backoff
func (c *Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.RetryMaxDelayMs) * time.Millisecond
}
