package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/watchledger/internal/domain"
)

// Storage drivers.
const (
	DriverFile   = "file"
	DriverRedis  = "redis"
	DriverSQLite = "sqlite"
)

// Config holds the watchledger configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Storage   StorageConfig   `yaml:"storage"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Quota     QuotaConfig     `yaml:"quota"`
	Source    SourceConfig    `yaml:"source"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeoutSec  int      `yaml:"read_timeout_sec"`
	WriteTimeoutSec int      `yaml:"write_timeout_sec"`
	ShutdownSec     int      `yaml:"shutdown_timeout_sec"`
	APIKeys         []string `yaml:"api_keys"`
}

// StorageConfig selects and configures the blob store.
type StorageConfig struct {
	Driver           string   `yaml:"driver"` // file, redis, sqlite (default: file)
	Dir              string   `yaml:"dir"`
	SQLitePath       string   `yaml:"sqlite_path"`
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	KeyPrefix        string   `yaml:"key_prefix"`
	LedgerKey        string   `yaml:"ledger_key"`
	ScheduleKey      string   `yaml:"schedule_key"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// SchedulerConfig holds the background loop timing.
type SchedulerConfig struct {
	PollIntervalSec     int      `yaml:"poll_interval_sec"`
	CooldownMin         int      `yaml:"cooldown_min"`
	RecoveryIntervalSec int      `yaml:"recovery_interval_sec"`
	StopTimeoutSec      int      `yaml:"stop_timeout_sec"`
	WindowMin           int      `yaml:"window_min"` // 0 = one hour
	DefaultTimes        []string `yaml:"default_times"`
	Disabled            bool     `yaml:"disabled"`
}

// QuotaConfig holds the call budget policy.
type QuotaConfig struct {
	Limit          int64   `yaml:"limit"`
	PeriodHours    int     `yaml:"period_hours"`
	RefuseAbovePct float64 `yaml:"refuse_above_pct"`
	ListCost       int64   `yaml:"list_cost"`
	FetchCost      int64   `yaml:"fetch_cost"`
}

// SourceConfig holds the external source client settings.
type SourceConfig struct {
	BaseURL     string      `yaml:"base_url"`
	Token       string      `yaml:"token"`
	TimeoutSec  int         `yaml:"timeout_sec"`
	CallDelayMs int         `yaml:"call_delay_ms"`
	Retry       RetryConfig `yaml:"retry"`
}

// RetryConfig is the retry policy applied to every source call.
type RetryConfig struct {
	MaxAttempts       int  `yaml:"max_attempts"`
	InitialIntervalMs int  `yaml:"initial_interval_ms"`
	MaxIntervalMs     int  `yaml:"max_interval_ms"`
	Reauthenticate    bool `yaml:"reauthenticate"`
}

// LedgerConfig holds retention settings.
type LedgerConfig struct {
	HistoryMax    int `yaml:"history_max"`
	RetentionDays int `yaml:"retention_days"`
	KeepMonths    int `yaml:"keep_months"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	return Parse(data)
}

// Parse expands env variables in data, decodes it, applies defaults and validates.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		// A manual reconcile holds the request for a whole pass.
		c.HTTP.WriteTimeoutSec = 60
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverFile
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = "data"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = filepath.Join(c.Storage.Dir, "watchledger.db")
	}
	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = "watchledger:"
	}
	if c.Storage.LedgerKey == "" {
		c.Storage.LedgerKey = "statistics.json"
	}
	if c.Storage.ScheduleKey == "" {
		c.Storage.ScheduleKey = "check_hours.json"
	}
	if c.Storage.ReadinessTimeout <= 0 {
		c.Storage.ReadinessTimeout = 10
	}

	if c.Scheduler.PollIntervalSec <= 0 {
		c.Scheduler.PollIntervalSec = 300
	}
	if c.Scheduler.CooldownMin <= 0 {
		c.Scheduler.CooldownMin = 45
	}
	if c.Scheduler.RecoveryIntervalSec <= 0 {
		c.Scheduler.RecoveryIntervalSec = 60
	}
	if c.Scheduler.StopTimeoutSec <= 0 {
		c.Scheduler.StopTimeoutSec = 5
	}
	if len(c.Scheduler.DefaultTimes) == 0 {
		c.Scheduler.DefaultTimes = append([]string(nil), domain.DefaultScheduleTimes...)
	}

	if c.Quota.Limit <= 0 {
		c.Quota.Limit = domain.DefaultQuotaLimit
	}
	if c.Quota.PeriodHours <= 0 {
		c.Quota.PeriodHours = int(domain.DefaultQuotaPeriod / time.Hour)
	}
	if c.Quota.RefuseAbovePct <= 0 {
		c.Quota.RefuseAbovePct = domain.DefaultRefuseAbovePct
	}
	if c.Quota.ListCost <= 0 {
		c.Quota.ListCost = 1
	}
	if c.Quota.FetchCost <= 0 {
		c.Quota.FetchCost = 1
	}

	if c.Source.TimeoutSec <= 0 {
		c.Source.TimeoutSec = 30
	}
	if c.Source.CallDelayMs <= 0 {
		c.Source.CallDelayMs = 100
	}
	if c.Source.Retry.MaxAttempts <= 0 {
		c.Source.Retry.MaxAttempts = 3
	}
	if c.Source.Retry.InitialIntervalMs <= 0 {
		c.Source.Retry.InitialIntervalMs = 1000
	}
	if c.Source.Retry.MaxIntervalMs <= 0 {
		c.Source.Retry.MaxIntervalMs = 5000
	}

	if c.Ledger.HistoryMax <= 0 {
		c.Ledger.HistoryMax = domain.DefaultHistoryMax
	}
	if c.Ledger.RetentionDays <= 0 {
		c.Ledger.RetentionDays = domain.DefaultRetentionDays
	}
	if c.Ledger.KeepMonths <= 0 {
		c.Ledger.KeepMonths = domain.DefaultKeepMonths
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Storage.Driver {
	case DriverFile, DriverSQLite:
	case DriverRedis:
		if len(c.Storage.Addrs) == 0 {
			return fmt.Errorf("storage.addrs is required for driver %q", DriverRedis)
		}
	default:
		return fmt.Errorf("storage.driver must be %q, %q or %q, got %q",
			DriverFile, DriverRedis, DriverSQLite, c.Storage.Driver)
	}
	if c.Quota.RefuseAbovePct > 100 {
		return fmt.Errorf("quota.refuse_above_pct must be at most 100, got %v", c.Quota.RefuseAbovePct)
	}
	if c.Source.Retry.MaxIntervalMs < c.Source.Retry.InitialIntervalMs {
		return fmt.Errorf("source.retry.max_interval_ms (%d) is below initial_interval_ms (%d)",
			c.Source.Retry.MaxIntervalMs, c.Source.Retry.InitialIntervalMs)
	}
	if c.Ledger.HistoryMax > domain.DefaultHistoryMax {
		return fmt.Errorf("ledger.history_max must be at most %d, got %d", domain.DefaultHistoryMax, c.Ledger.HistoryMax)
	}
	if _, err := domain.ParseClocks(c.Scheduler.DefaultTimes); err != nil {
		return fmt.Errorf("scheduler.default_times: %w", err)
	}
	return nil
}

// PollInterval returns the scheduler tick interval.
func (s SchedulerConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSec) * time.Second
}

// Cooldown returns the minimum time between two runs of one task.
func (s SchedulerConfig) Cooldown() time.Duration {
	return time.Duration(s.CooldownMin) * time.Minute
}

// RecoveryInterval returns the pause after an internal loop error.
func (s SchedulerConfig) RecoveryInterval() time.Duration {
	return time.Duration(s.RecoveryIntervalSec) * time.Second
}

// StopTimeout returns how long Stop waits for the loop.
func (s SchedulerConfig) StopTimeout() time.Duration {
	return time.Duration(s.StopTimeoutSec) * time.Second
}

// WindowWidth returns how long a window stays open; zero selects the scheduler default.
func (s SchedulerConfig) WindowWidth() time.Duration {
	return time.Duration(s.WindowMin) * time.Minute
}

// Period returns the quota reset period.
func (q QuotaConfig) Period() time.Duration {
	return time.Duration(q.PeriodHours) * time.Hour
}

// Timeout returns the per-request HTTP timeout of the source client.
func (s SourceConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSec) * time.Second
}

// CallDelay returns the minimum spacing between two source calls.
func (s SourceConfig) CallDelay() time.Duration {
	return time.Duration(s.CallDelayMs) * time.Millisecond
}

// InitialInterval returns the first retry delay.
func (r RetryConfig) InitialInterval() time.Duration {
	return time.Duration(r.InitialIntervalMs) * time.Millisecond
}

// MaxInterval caps the exponential retry delay.
func (r RetryConfig) MaxInterval() time.Duration {
	return time.Duration(r.MaxIntervalMs) * time.Millisecond
}

// Readiness returns how long startup waits for the store.
func (s StorageConfig) Readiness() time.Duration {
	return time.Duration(s.ReadinessTimeout) * time.Second
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
