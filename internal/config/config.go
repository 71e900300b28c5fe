// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"
)

// Cache backends accepted by CacheConfig.Backend.
const (
	BackendMemory  = "memory"
	BackendSQLite  = "sqlite"
	BackendLevelDB = "leveldb"
)

// Config is the top-level pagecache configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Cache     CacheConfig     `yaml:"cache"`
	Cookies   CookieConfig    `yaml:"cookies"`
	Origin    OriginConfig    `yaml:"origin"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Keys      []KeyEntry      `yaml:"keys"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"
}

// AuthConfig holds the settings of the privilege oracle and admin API.
type AuthConfig struct {
	AdminKey string    `yaml:"admin_key"` // bootstrap admin key (hashed on first use)
	JWT      JWTConfig `yaml:"jwt"`
}

// JWTConfig enables bearer JWT identities when Secret is set.
type JWTConfig struct {
	Secret     string        `yaml:"secret"`
	Issuer     string        `yaml:"issuer"`
	Audience   string        `yaml:"audience"`
	RolesClaim string        `yaml:"roles_claim"`
	Leeway     time.Duration `yaml:"leeway"`
}

// CacheConfig holds read-through cache settings.
type CacheConfig struct {
	Enabled       bool          `yaml:"enabled"`
	LifetimeS     int           `yaml:"lifetime_s"`
	CacheControl  bool          `yaml:"cache_control"`
	SingleFlight  bool          `yaml:"single_flight"`
	Backend       string        `yaml:"backend"`
	MaxSize       int           `yaml:"max_size"`
	OpTimeout     time.Duration `yaml:"op_timeout"`
	LevelDBPath   string        `yaml:"leveldb_path"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// Lifetime returns LifetimeS as a duration.
func (c CacheConfig) Lifetime() time.Duration {
	return time.Duration(c.LifetimeS) * time.Second
}

// CookieConfig is the cookie rule table.
type CookieConfig struct {
	Personalization   map[string][]string `yaml:"personalization"` // name -> safe values
	Generic           []string            `yaml:"generic"`
	UnknownWarnPerMin int                 `yaml:"unknown_warn_per_min"`
}

// OriginConfig describes the upstream site.
type OriginConfig struct {
	BaseURL            string           `yaml:"base_url"`
	Timeout            time.Duration    `yaml:"timeout"`
	MaxBody            int64            `yaml:"max_body"`
	AnalyticsTagHeader string           `yaml:"analytics_tag_header"`
	AnalyticsTagPath   string           `yaml:"analytics_tag_path"` // gjson path into JSON bodies
	DNSCache           bool             `yaml:"dns_cache"`
	DNSRefresh         time.Duration    `yaml:"dns_refresh"`
	Auth               OriginAuthConfig `yaml:"auth"`
}

// OriginAuthConfig configures credentials sent to the origin.
type OriginAuthConfig struct {
	Type         string   `yaml:"type"` // "", "bearer", "client_credentials"
	Token        string   `yaml:"token"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	TokenURL     string   `yaml:"token_url"`
	Scopes       []string `yaml:"scopes"`
}

// AnalyticsConfig controls page view recording.
type AnalyticsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// KeyEntry is an API key seed in the config file.
type KeyEntry struct {
	Name string `yaml:"name"`
	Key  string `yaml:"key"` // plaintext, hashed on bootstrap
	Role string `yaml:"role"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Default returns the configuration used for keys absent from the file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Database: DatabaseConfig{
			DSN: "pagecache.db",
		},
		Auth: AuthConfig{
			JWT: JWTConfig{RolesClaim: "roles"},
		},
		Cache: CacheConfig{
			Enabled:       true,
			LifetimeS:     3600,
			CacheControl:  true,
			Backend:       BackendMemory,
			MaxSize:       10_000,
			OpTimeout:     50 * time.Millisecond,
			LevelDBPath:   "pagecache.ldb",
			SweepInterval: time.Minute,
		},
		Cookies: CookieConfig{
			UnknownWarnPerMin: 6,
		},
		Origin: OriginConfig{
			Timeout:            30 * time.Second,
			MaxBody:            32 << 20,
			AnalyticsTagHeader: "X-Analytics-Tag",
			DNSCache:           true,
			DNSRefresh:         5 * time.Minute,
		},
		Analytics: AnalyticsConfig{
			Enabled: true,
		},
		Telemetry: TelemetryConfig{
			Metrics: MetricsConfig{Enabled: true},
			Tracing: TracingConfig{SampleRate: 1.0},
		},
	}
}

// defaultPersonalization applies when the file has no cookies.personalization
// key. An explicit empty map disables it.
func defaultPersonalization() map[string][]string {
	return map[string][]string{"OverrideDeviceStyle": {"no"}}
}

// Load reads and parses a YAML config file, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config data over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	data = expandEnv(data)

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Cookies.Personalization == nil {
		cfg.Cookies.Personalization = defaultPersonalization()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every configuration error found.
func (c *Config) Validate() error {
	var errs []error
	if c.Origin.BaseURL == "" {
		errs = append(errs, errors.New("origin.base_url is required"))
	}
	switch c.Cache.Backend {
	case BackendMemory, BackendSQLite, BackendLevelDB:
	default:
		errs = append(errs, fmt.Errorf("cache.backend %q must be one of memory, sqlite, leveldb", c.Cache.Backend))
	}
	if c.Cache.Backend == BackendLevelDB && c.Cache.LevelDBPath == "" {
		errs = append(errs, errors.New("cache.leveldb_path is required for the leveldb backend"))
	}
	if c.Cache.LifetimeS <= 0 {
		errs = append(errs, fmt.Errorf("cache.lifetime_s must be positive, got %d", c.Cache.LifetimeS))
	}
	if c.Cache.OpTimeout <= 0 {
		errs = append(errs, fmt.Errorf("cache.op_timeout must be positive, got %s", c.Cache.OpTimeout))
	}
	for _, name := range c.Cookies.Generic {
		if _, dup := c.Cookies.Personalization[name]; dup {
			errs = append(errs, fmt.Errorf("cookie %q is listed as both personalization and generic", name))
		}
	}
	if c.Cookies.UnknownWarnPerMin < 0 {
		errs = append(errs, errors.New("cookies.unknown_warn_per_min must not be negative"))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not a known level", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	if r := c.Telemetry.Tracing.SampleRate; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.tracing.sample_rate %v must be within [0, 1]", r))
	}
	if c.Telemetry.Tracing.Enabled && c.Telemetry.Tracing.Endpoint == "" {
		errs = append(errs, errors.New("telemetry.tracing.endpoint is required when tracing is enabled"))
	}
	for i, k := range c.Keys {
		switch k.Role {
		case "", "admin", "member":
		default:
			errs = append(errs, fmt.Errorf("keys[%d] (%s): unknown role %q", i, k.Name, k.Role))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
