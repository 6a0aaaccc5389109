// Package config provides Viper-based configuration loading for the raid server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// ServerConfig holds top-level server settings.
type ServerConfig struct {
	// Storage selects the store backend: "postgres" or "memory".
	Storage string `mapstructure:"storage"`
	// ShutdownTimeout bounds how long services get to stop.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// LockTimeout bounds row lock waits; 0 waits forever.
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// RedisConfig holds the Redis connection used for event fan-out.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// Channel is the pub/sub channel events are published on.
	Channel string `mapstructure:"channel"`
}

// KafkaConfig holds the Kafka writer settings used for the event log.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// NotifierConfig selects where post-commit notifications are delivered.
type NotifierConfig struct {
	// Sink is one of "log", "redis", "kafka".
	Sink string `mapstructure:"sink"`
	// Workers is the size of the delivery worker pool.
	Workers int `mapstructure:"workers"`
	// Timeout bounds a single delivery.
	Timeout time.Duration `mapstructure:"timeout"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
	// LogDraws logs every random draw at debug level.
	LogDraws bool `mapstructure:"log_draws"`
}

// GameServerConfig holds game server gRPC settings.
type GameServerConfig struct {
	// GRPCHost is the bind address for the game server gRPC service.
	GRPCHost string `mapstructure:"grpc_host"`
	// GRPCPort is the TCP port for the game server gRPC service.
	GRPCPort int `mapstructure:"grpc_port"`
}

// Addr returns the "host:port" gRPC address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (g GameServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.GRPCHost, g.GRPCPort)
}

// MetricsConfig holds the Prometheus exposition endpoint.
type MetricsConfig struct {
	// Addr is the listen address; empty disables the endpoint.
	Addr string `mapstructure:"addr"`
}

// ContentConfig names the static content directories.
type ContentConfig struct {
	ItemsDir     string `mapstructure:"items_dir"`
	NPCsDir      string `mapstructure:"npcs_dir"`
	LocationsDir string `mapstructure:"locations_dir"`
	ScriptsDir   string `mapstructure:"scripts_dir"`
}

// ScriptingConfig holds Lua sandbox limits.
type ScriptingConfig struct {
	// InstructionLimit caps the instructions of one hook call.
	InstructionLimit int `mapstructure:"instruction_limit"`
}

// MaintenanceConfig holds the cron schedules of the periodic sweeps.
type MaintenanceConfig struct {
	CooldownSweep string `mapstructure:"cooldown_sweep"`
	GroundSweep   string `mapstructure:"ground_sweep"`
	// GroundTTL is how long a ground item survives before it is swept.
	GroundTTL time.Duration `mapstructure:"ground_ttl"`
}

// NPCConfig holds NPC lifecycle settings.
type NPCConfig struct {
	// PresenceInterval is how often a present NPC is announced; 0 selects the
	// built-in default.
	PresenceInterval time.Duration `mapstructure:"presence_interval"`
}

// Config is the top-level application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Notifier    NotifierConfig    `mapstructure:"notifier"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	GameServer  GameServerConfig  `mapstructure:"gameserver"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Content     ContentConfig     `mapstructure:"content"`
	Scripting   ScriptingConfig   `mapstructure:"scripting"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	NPC         NPCConfig         `mapstructure:"npc"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateServer(c.Server); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Server.Storage == "postgres" {
		if err := validateDatabase(c.Database); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if err := validateNotifier(c.Notifier, c.Redis, c.Kafka); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateGameServer(c.GameServer); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateContent(c.Content); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Scripting.InstructionLimit < 0 {
		errs = append(errs, fmt.Sprintf("scripting.instruction_limit must be >= 0, got %d", c.Scripting.InstructionLimit))
	}
	if err := validateMaintenance(c.Maintenance); err != nil {
		errs = append(errs, err.Error())
	}
	if c.NPC.PresenceInterval < 0 {
		errs = append(errs, "npc.presence_interval must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	validStorage := map[string]bool{"postgres": true, "memory": true}
	if !validStorage[s.Storage] {
		return fmt.Errorf("server.storage must be one of [postgres, memory], got %q", s.Storage)
	}
	if s.ShutdownTimeout < 0 {
		return errors.New("server.shutdown_timeout must not be negative")
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if d.LockTimeout < 0 {
		errs = append(errs, fmt.Sprintf("database.lock_timeout must not be negative, got %s", d.LockTimeout))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateNotifier(n NotifierConfig, r RedisConfig, k KafkaConfig) error {
	var errs []string
	switch n.Sink {
	case "log":
	case "redis":
		if r.Addr == "" {
			errs = append(errs, "redis.addr must not be empty when notifier.sink is redis")
		}
		if r.Channel == "" {
			errs = append(errs, "redis.channel must not be empty when notifier.sink is redis")
		}
	case "kafka":
		if len(k.Brokers) == 0 {
			errs = append(errs, "kafka.brokers must not be empty when notifier.sink is kafka")
		}
		if k.Topic == "" {
			errs = append(errs, "kafka.topic must not be empty when notifier.sink is kafka")
		}
	default:
		errs = append(errs, fmt.Sprintf("notifier.sink must be one of [log, redis, kafka], got %q", n.Sink))
	}
	if n.Workers < 1 {
		errs = append(errs, fmt.Sprintf("notifier.workers must be >= 1, got %d", n.Workers))
	}
	if n.Timeout <= 0 {
		errs = append(errs, "notifier.timeout must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateGameServer(g GameServerConfig) error {
	var errs []string
	if g.GRPCHost == "" {
		errs = append(errs, "gameserver.grpc_host must not be empty")
	}
	if g.GRPCPort < 1 || g.GRPCPort > 65535 {
		errs = append(errs, fmt.Sprintf("gameserver.grpc_port must be 1-65535, got %d", g.GRPCPort))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateContent(c ContentConfig) error {
	var errs []string
	if c.ItemsDir == "" {
		errs = append(errs, "content.items_dir must not be empty")
	}
	if c.NPCsDir == "" {
		errs = append(errs, "content.npcs_dir must not be empty")
	}
	if c.LocationsDir == "" {
		errs = append(errs, "content.locations_dir must not be empty")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateMaintenance(m MaintenanceConfig) error {
	var errs []string
	for name, spec := range map[string]string{
		"maintenance.cooldown_sweep": m.CooldownSweep,
		"maintenance.ground_sweep":   m.GroundSweep,
	} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Sprintf("%s %q is not a valid cron spec: %v", name, spec, err))
		}
	}
	if m.GroundTTL <= 0 {
		errs = append(errs, "maintenance.ground_ttl must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with RAIDBOT_ prefix
	v.SetEnvPrefix("RAIDBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Defaults returns a Viper instance holding only the default values.
func Defaults() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.storage", "postgres")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "raidbot")
	v.SetDefault("database.password", "raidbot")
	v.SetDefault("database.name", "raidbot")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.lock_timeout", "5s")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.channel", "raidbot.events")

	v.SetDefault("kafka.topic", "raidbot.events")

	v.SetDefault("notifier.sink", "log")
	v.SetDefault("notifier.workers", 8)
	v.SetDefault("notifier.timeout", "5s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("gameserver.grpc_host", "127.0.0.1")
	v.SetDefault("gameserver.grpc_port", 50051)

	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("content.items_dir", "content/items")
	v.SetDefault("content.npcs_dir", "content/npcs")
	v.SetDefault("content.locations_dir", "content/locations")
	v.SetDefault("content.scripts_dir", "content/scripts")

	v.SetDefault("scripting.instruction_limit", 100000)

	v.SetDefault("maintenance.cooldown_sweep", "0 0 * * *")
	v.SetDefault("maintenance.ground_sweep", "*/5 * * * *")
	v.SetDefault("maintenance.ground_ttl", "20m")

	v.SetDefault("npc.presence_interval", "0s")
}
