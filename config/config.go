// Package config centralises connection and pool configuration for pgkit.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kestreldb/pgkit/errs"
)

// DefaultEnvPrefix is the environment variable prefix used by FromEnv.
const DefaultEnvPrefix = "PGKIT_"

// SSLMode names a libpq-compatible sslmode setting.
type SSLMode string

const (
	SSLDisable    SSLMode = "disable"
	SSLAllow      SSLMode = "allow"
	SSLPrefer     SSLMode = "prefer"
	SSLRequire    SSLMode = "require"
	SSLVerifyCA   SSLMode = "verify-ca"
	SSLVerifyFull SSLMode = "verify-full"
)

// Config holds validated PostgreSQL connection parameters and pool sizing.
// Construct through New, FromEnv, or Load; a zero Config is not valid.
type Config struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Database   string `yaml:"database"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	ConnString string `yaml:"connString"`

	MinConns       int32         `yaml:"minConns"`
	MaxConns       int32         `yaml:"maxConns"`
	ConnectTimeout time.Duration `yaml:"connectTimeout"`

	SSL SSLMode `yaml:"sslmode"`

	SkipConnCheck     bool          `yaml:"skipConnCheck"`
	MaxConnIdleTime   time.Duration `yaml:"maxConnIdleTime"`
	MaxConnLifetime   time.Duration `yaml:"maxConnLifetime"`
	HealthCheckPeriod time.Duration `yaml:"healthCheckPeriod"`

	Options map[string]string `yaml:"options"`
}

// Option mutates a Config during construction.
type Option func(*Config)

// WithHost overrides the server host.
func WithHost(host string) Option { return func(c *Config) { c.Host = host } }

// WithPort overrides the server port.
func WithPort(port int) Option { return func(c *Config) { c.Port = port } }

// WithDatabase overrides the database name.
func WithDatabase(name string) Option { return func(c *Config) { c.Database = name } }

// WithCredentials overrides the application user and password.
func WithCredentials(user, password string) Option {
	return func(c *Config) {
		c.User = user
		c.Password = password
	}
}

// WithConnString sets a full connection string, bypassing individual fields.
func WithConnString(dsn string) Option { return func(c *Config) { c.ConnString = dsn } }

// WithPoolSize overrides the pool bounds.
func WithPoolSize(minConns, maxConns int32) Option {
	return func(c *Config) {
		c.MinConns = minConns
		c.MaxConns = maxConns
	}
}

// WithConnectTimeout overrides the connection acquisition timeout.
func WithConnectTimeout(d time.Duration) Option { return func(c *Config) { c.ConnectTimeout = d } }

// WithSSLMode overrides the sslmode setting.
func WithSSLMode(mode SSLMode) Option { return func(c *Config) { c.SSL = mode } }

// WithCheckConnection toggles connectivity checks during pool creation.
// Checks are enabled by default.
func WithCheckConnection(check bool) Option { return func(c *Config) { c.SkipConnCheck = !check } }

// WithMaxConnIdleTime overrides the idle eviction window.
func WithMaxConnIdleTime(d time.Duration) Option { return func(c *Config) { c.MaxConnIdleTime = d } }

// WithOption attaches an extra libpq connection parameter.
func WithOption(key, value string) Option {
	return func(c *Config) {
		if c.Options == nil {
			c.Options = make(map[string]string, 1)
		}
		c.Options[key] = value
	}
}

// New builds a validated Config from defaults and the provided options.
func New(opts ...Option) (Config, error) {
	cfg := Config{}
	cfg.applyDefaults()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Host) == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 5432
	}
	if strings.TrimSpace(c.Database) == "" {
		c.Database = "postgres"
	}
	if strings.TrimSpace(c.User) == "" {
		c.User = "postgres"
	}
	if c.MinConns == 0 {
		c.MinConns = 1
	}
	if c.MaxConns == 0 {
		c.MaxConns = 10
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.SSL == "" {
		c.SSL = SSLPrefer
	}
	if c.MaxConnIdleTime == 0 {
		c.MaxConnIdleTime = 10 * time.Minute
	}
	if c.MaxConnLifetime == 0 {
		c.MaxConnLifetime = 30 * time.Minute
	}
	if c.HealthCheckPeriod == 0 {
		c.HealthCheckPeriod = 30 * time.Second
	}
}

// Validate checks invariants and returns a configuration error on violation.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return errs.New(errs.KindConfiguration,
			errs.WithMessage(fmt.Sprintf("invalid port number: %d", c.Port)))
	}
	if c.MinConns < 1 {
		return errs.New(errs.KindConfiguration,
			errs.WithMessage("minConns must be at least 1"))
	}
	if c.MaxConns < c.MinConns {
		return errs.New(errs.KindConfiguration,
			errs.WithMessage("maxConns must be >= minConns"))
	}
	if c.ConnectTimeout <= 0 {
		return errs.New(errs.KindConfiguration,
			errs.WithMessage("connectTimeout must be positive"))
	}
	switch c.SSL {
	case SSLDisable, SSLAllow, SSLPrefer, SSLRequire, SSLVerifyCA, SSLVerifyFull:
	default:
		return errs.New(errs.KindConfiguration,
			errs.WithMessage(fmt.Sprintf("invalid sslmode: %q", c.SSL)))
	}
	return nil
}

// FromEnv loads configuration from environment variables using the given
// prefix (DefaultEnvPrefix when empty). A .env file in the working directory
// is merged first when present.
func FromEnv(prefix string) (Config, error) {
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultEnvPrefix
	}
	_ = godotenv.Load()

	lookup := func(key string) string {
		return strings.TrimSpace(os.Getenv(prefix + key))
	}

	cfg := Config{}
	cfg.applyDefaults()

	if v := lookup("HOST"); v != "" {
		cfg.Host = v
	}
	if v := lookup("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, errs.New(errs.KindConfiguration,
				errs.WithMessage(fmt.Sprintf("invalid %sPORT: %q", prefix, v)),
				errs.WithCause(err))
		}
		cfg.Port = port
	}
	if v := lookup("DATABASE"); v != "" {
		cfg.Database = v
	}
	if v := lookup("USER"); v != "" {
		cfg.User = v
	}
	if v := os.Getenv(prefix + "PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := lookup("CONNECTION_STRING"); v != "" {
		cfg.ConnString = v
	}
	if v := lookup("MIN_CONNECTIONS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return Config{}, errs.New(errs.KindConfiguration,
				errs.WithMessage(fmt.Sprintf("invalid %sMIN_CONNECTIONS: %q", prefix, v)),
				errs.WithCause(err))
		}
		cfg.MinConns = int32(n)
	}
	if v := lookup("MAX_CONNECTIONS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return Config{}, errs.New(errs.KindConfiguration,
				errs.WithMessage(fmt.Sprintf("invalid %sMAX_CONNECTIONS: %q", prefix, v)),
				errs.WithCause(err))
		}
		cfg.MaxConns = int32(n)
	}
	if v := lookup("CONNECTION_TIMEOUT"); v != "" {
		d, err := parseDurationOrSeconds(v)
		if err != nil {
			return Config{}, errs.New(errs.KindConfiguration,
				errs.WithMessage(fmt.Sprintf("invalid %sCONNECTION_TIMEOUT: %q", prefix, v)),
				errs.WithCause(err))
		}
		cfg.ConnectTimeout = d
	}
	if v := lookup("SSLMODE"); v != "" {
		cfg.SSL = SSLMode(v)
	}
	if v := lookup("CHECK_CONNECTION"); v != "" {
		cfg.SkipConnCheck = !parseBool(v, !cfg.SkipConnCheck)
	}
	if v := lookup("MAX_IDLE_TIME"); v != "" {
		d, err := parseDurationOrSeconds(v)
		if err != nil {
			return Config{}, errs.New(errs.KindConfiguration,
				errs.WithMessage(fmt.Sprintf("invalid %sMAX_IDLE_TIME: %q", prefix, v)),
				errs.WithCause(err))
		}
		cfg.MaxConnIdleTime = d
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads a YAML configuration file, applies defaults, and validates.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errs.New(errs.KindConfiguration,
			errs.WithMessage(fmt.Sprintf("read config file %s", path)),
			errs.WithCause(err))
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, errs.New(errs.KindConfiguration,
			errs.WithMessage(fmt.Sprintf("parse config file %s", path)),
			errs.WithCause(err))
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DSN returns the pgx connection string for the application database. An
// explicit ConnString override is returned verbatim.
func (c Config) DSN() string {
	if strings.TrimSpace(c.ConnString) != "" {
		return c.ConnString
	}
	return c.buildDSN(c.User, c.Password, c.Database)
}

// AdminDSN returns a connection string for provisioning work performed with
// elevated credentials against the named maintenance database.
func (c Config) AdminDSN(adminUser, adminPassword, adminDB string) string {
	if strings.TrimSpace(adminDB) == "" {
		adminDB = "postgres"
	}
	return c.buildDSN(adminUser, adminPassword, adminDB)
}

func (c Config) buildDSN(user, password, database string) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + database,
	}
	if password != "" {
		u.User = url.UserPassword(user, password)
	} else {
		u.User = url.User(user)
	}
	q := url.Values{}
	q.Set("sslmode", string(c.SSL))
	for k, v := range c.Options {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// String renders the configuration without exposing credentials.
func (c Config) String() string {
	if strings.TrimSpace(c.ConnString) != "" {
		return "Config(connString=***masked***)"
	}
	return fmt.Sprintf("Config(host=%s, port=%d, database=%s, user=%s, password=***)",
		c.Host, c.Port, c.Database, c.User)
}

func parseDurationOrSeconds(v string) (time.Duration, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func parseBool(v string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return fallback
}
