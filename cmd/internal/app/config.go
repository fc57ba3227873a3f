package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"twootr/cmd/internal/database"
)

// Follow graph and post log backends.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config contains all runtime configuration.
//
// Precedence: built-in defaults, then the TOML file named by TWOOTR_CONFIG,
// then TWOOTR_* environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string // json | pretty
	LogColor  bool

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	// 0 keeps hijacked WebSocket conns free of a server write deadline.
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	MaxHeaderBytes  int
	ShutdownTimeout time.Duration

	DatabaseURL    string
	DBSchema       string
	DBMaxConns     int32
	DBMinConns     int32
	MigrateOnStart bool

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	// FollowGraph is memory, postgres or redis. Empty picks postgres when a
	// database is configured and memory otherwise.
	FollowGraph string
	// PostLog is none, memory or postgres.
	PostLog            string
	PostLogMemoryLimit int

	MaxPostChars    int
	DeliveryTimeout time.Duration
	QueueSize       int

	Registration   bool
	MetricsEnabled bool

	// DevUsers are registered at startup (user id -> secret). File only.
	DevUsers map[string]string
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:  "0.0.0.0:8080",
		LogLevel:  "info",
		LogFormat: "json",

		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ShutdownTimeout:   10 * time.Second,

		DBSchema:   database.DefaultSchema,
		DBMaxConns: 10,

		RedisPrefix: "twootr:",

		PostLog:            BackendMemory,
		PostLogMemoryLimit: 10_000,

		MaxPostChars:    280,
		DeliveryTimeout: 5 * time.Second,
		QueueSize:       256,

		MetricsEnabled: true,
	}
}

// LoadConfig loads defaults, the optional TOML file and env overrides, then
// validates the result.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	if path := EnvString("TWOOTR_CONFIG", ""); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.HTTPAddr = EnvString("TWOOTR_HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = EnvString("TWOOTR_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = EnvString("TWOOTR_LOG_FORMAT", cfg.LogFormat)
	cfg.LogColor = EnvBool("TWOOTR_LOG_COLOR", cfg.LogColor)

	cfg.ReadHeaderTimeout = EnvDuration("TWOOTR_HTTP_READ_HEADER_TIMEOUT", cfg.ReadHeaderTimeout)
	cfg.ReadTimeout = EnvDuration("TWOOTR_HTTP_READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = EnvDuration("TWOOTR_HTTP_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.IdleTimeout = EnvDuration("TWOOTR_HTTP_IDLE_TIMEOUT", cfg.IdleTimeout)
	cfg.MaxHeaderBytes = EnvInt("TWOOTR_HTTP_MAX_HEADER_BYTES", cfg.MaxHeaderBytes)
	cfg.ShutdownTimeout = EnvDuration("TWOOTR_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)

	cfg.DatabaseURL = EnvString("TWOOTR_DATABASE_URL", cfg.DatabaseURL)
	cfg.DBSchema = EnvString("TWOOTR_DB_SCHEMA", cfg.DBSchema)
	cfg.DBMaxConns = EnvInt32("TWOOTR_DB_MAX_CONNS", cfg.DBMaxConns)
	cfg.DBMinConns = EnvInt32("TWOOTR_DB_MIN_CONNS", cfg.DBMinConns)
	cfg.MigrateOnStart = EnvBool("TWOOTR_MIGRATE_ON_START", cfg.MigrateOnStart)
	cfg.ReadinessRequireDB = EnvBool("TWOOTR_READINESS_REQUIRE_DB", cfg.ReadinessRequireDB)

	cfg.RedisAddr = EnvString("TWOOTR_REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = EnvString("TWOOTR_REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = EnvInt("TWOOTR_REDIS_DB", cfg.RedisDB)
	cfg.RedisPrefix = EnvString("TWOOTR_REDIS_PREFIX", cfg.RedisPrefix)

	cfg.FollowGraph = EnvString("TWOOTR_FOLLOW_GRAPH", cfg.FollowGraph)
	cfg.PostLog = EnvString("TWOOTR_POST_LOG", cfg.PostLog)
	cfg.PostLogMemoryLimit = EnvInt("TWOOTR_POST_LOG_MEMORY_LIMIT", cfg.PostLogMemoryLimit)

	cfg.MaxPostChars = EnvInt("TWOOTR_MAX_POST_CHARS", cfg.MaxPostChars)
	cfg.DeliveryTimeout = EnvDuration("TWOOTR_DELIVERY_TIMEOUT", cfg.DeliveryTimeout)
	cfg.QueueSize = EnvInt("TWOOTR_QUEUE_SIZE", cfg.QueueSize)

	cfg.Registration = EnvBool("TWOOTR_API_REGISTRATION", cfg.Registration)
	cfg.MetricsEnabled = EnvBool("TWOOTR_METRICS_ENABLED", cfg.MetricsEnabled)
}

func (c *Config) normalize() {
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.FollowGraph = strings.ToLower(strings.TrimSpace(c.FollowGraph))
	c.PostLog = strings.ToLower(strings.TrimSpace(c.PostLog))

	if c.FollowGraph == "" {
		c.FollowGraph = BackendMemory
		if c.DatabaseURL != "" {
			c.FollowGraph = BackendPostgres
		}
	}
	if c.PostLog == "" {
		c.PostLog = BackendNone
	}
}

// Validate rejects combinations the server cannot start with.
func (c Config) Validate() error {
	var errs []error

	switch c.LogFormat {
	case "json", "pretty":
	default:
		errs = append(errs, fmt.Errorf("log format %q: want json or pretty", c.LogFormat))
	}

	switch c.FollowGraph {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("follow graph postgres requires TWOOTR_DATABASE_URL"))
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("follow graph redis requires TWOOTR_REDIS_ADDR"))
		}
	default:
		errs = append(errs, fmt.Errorf("follow graph %q: want memory, postgres or redis", c.FollowGraph))
	}

	switch c.PostLog {
	case BackendNone, BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("post log postgres requires TWOOTR_DATABASE_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("post log %q: want none, memory or postgres", c.PostLog))
	}

	if c.DatabaseURL != "" && !database.ValidIdent(c.DBSchema) {
		errs = append(errs, fmt.Errorf("db schema %q is not a valid identifier", c.DBSchema))
	}
	if c.DBMaxConns > 0 && c.DBMinConns > c.DBMaxConns {
		errs = append(errs, fmt.Errorf("db min conns %d exceeds max conns %d", c.DBMinConns, c.DBMaxConns))
	}

	return errors.Join(errs...)
}

// fileConfig is the TOML layout. Pointer fields distinguish "absent" from
// zero so the file only overrides what it names.
type fileConfig struct {
	HTTP struct {
		Addr              *string   `toml:"addr"`
		ReadHeaderTimeout *duration `toml:"read_header_timeout"`
		ReadTimeout       *duration `toml:"read_timeout"`
		WriteTimeout      *duration `toml:"write_timeout"`
		IdleTimeout       *duration `toml:"idle_timeout"`
		MaxHeaderBytes    *int      `toml:"max_header_bytes"`
		ShutdownTimeout   *duration `toml:"shutdown_timeout"`
	} `toml:"http"`

	Log struct {
		Level  *string `toml:"level"`
		Format *string `toml:"format"`
		Color  *bool   `toml:"color"`
	} `toml:"log"`

	Database struct {
		URL                *string `toml:"url"`
		Schema             *string `toml:"schema"`
		MaxConns           *int32  `toml:"max_conns"`
		MinConns           *int32  `toml:"min_conns"`
		MigrateOnStart     *bool   `toml:"migrate_on_start"`
		ReadinessRequireDB *bool   `toml:"readiness_require_db"`
	} `toml:"database"`

	Redis struct {
		Addr     *string `toml:"addr"`
		Password *string `toml:"password"`
		DB       *int    `toml:"db"`
		Prefix   *string `toml:"prefix"`
	} `toml:"redis"`

	Twootr struct {
		FollowGraph        *string   `toml:"follow_graph"`
		PostLog            *string   `toml:"post_log"`
		PostLogMemoryLimit *int      `toml:"post_log_memory_limit"`
		MaxPostChars       *int      `toml:"max_post_chars"`
		DeliveryTimeout    *duration `toml:"delivery_timeout"`
		QueueSize          *int      `toml:"queue_size"`
		Registration       *bool     `toml:"registration"`
		MetricsEnabled     *bool     `toml:"metrics_enabled"`
	} `toml:"twootr"`

	DevUsers map[string]string `toml:"dev_users"`
}

// duration decodes TOML strings such as "5s".
type duration time.Duration

func (d *duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

func loadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var fc fileConfig
	if err := toml.NewDecoder(f).DisallowUnknownFields().Decode(&fc); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	fc.apply(cfg)
	return nil
}

func (fc fileConfig) apply(cfg *Config) {
	setString(&cfg.HTTPAddr, fc.HTTP.Addr)
	setDuration(&cfg.ReadHeaderTimeout, fc.HTTP.ReadHeaderTimeout)
	setDuration(&cfg.ReadTimeout, fc.HTTP.ReadTimeout)
	setDuration(&cfg.WriteTimeout, fc.HTTP.WriteTimeout)
	setDuration(&cfg.IdleTimeout, fc.HTTP.IdleTimeout)
	set(&cfg.MaxHeaderBytes, fc.HTTP.MaxHeaderBytes)
	setDuration(&cfg.ShutdownTimeout, fc.HTTP.ShutdownTimeout)

	setString(&cfg.LogLevel, fc.Log.Level)
	setString(&cfg.LogFormat, fc.Log.Format)
	set(&cfg.LogColor, fc.Log.Color)

	setString(&cfg.DatabaseURL, fc.Database.URL)
	setString(&cfg.DBSchema, fc.Database.Schema)
	set(&cfg.DBMaxConns, fc.Database.MaxConns)
	set(&cfg.DBMinConns, fc.Database.MinConns)
	set(&cfg.MigrateOnStart, fc.Database.MigrateOnStart)
	set(&cfg.ReadinessRequireDB, fc.Database.ReadinessRequireDB)

	setString(&cfg.RedisAddr, fc.Redis.Addr)
	setString(&cfg.RedisPassword, fc.Redis.Password)
	set(&cfg.RedisDB, fc.Redis.DB)
	setString(&cfg.RedisPrefix, fc.Redis.Prefix)

	setString(&cfg.FollowGraph, fc.Twootr.FollowGraph)
	setString(&cfg.PostLog, fc.Twootr.PostLog)
	set(&cfg.PostLogMemoryLimit, fc.Twootr.PostLogMemoryLimit)
	set(&cfg.MaxPostChars, fc.Twootr.MaxPostChars)
	setDuration(&cfg.DeliveryTimeout, fc.Twootr.DeliveryTimeout)
	set(&cfg.QueueSize, fc.Twootr.QueueSize)
	set(&cfg.Registration, fc.Twootr.Registration)
	set(&cfg.MetricsEnabled, fc.Twootr.MetricsEnabled)

	if len(fc.DevUsers) > 0 {
		cfg.DevUsers = fc.DevUsers
	}
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func setDuration(dst *time.Duration, v *duration) {
	if v != nil {
		*dst = time.Duration(*v)
	}
}
