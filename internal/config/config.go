// Package config provides Viper-based configuration loading for the chunk server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MaxViewDistance is the largest view distance the distance manager accepts.
const MaxViewDistance = 32

// ServerConfig holds top-level server settings.
type ServerConfig struct {
	// Name identifies this server instance in logs.
	Name string `mapstructure:"name"`
	// ShutdownTimeout bounds the time services get to stop.
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

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
	// File, when set, receives log output through a rotating writer instead of stderr.
	File string `mapstructure:"file"`
	// MaxSizeMB is the size at which the log file rotates.
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of rotated files kept.
	MaxBackups int `mapstructure:"max_backups"`
}

// DistanceConfig holds the distance manager and tick loop settings.
type DistanceConfig struct {
	// ViewDistance is the player ticket radius in chunks.
	ViewDistance int `mapstructure:"view_distance"`
	// SimulationDistance is the player simulation radius in chunks.
	SimulationDistance int `mapstructure:"simulation_distance"`
	// MaxViewDistance caps ViewDistance and runtime view distance changes.
	MaxViewDistance int `mapstructure:"max_view_distance"`
	// LoadingBudget bounds loading level changes per tick; 0 is unbounded.
	LoadingBudget int `mapstructure:"loading_budget"`
	// ThrottleLimit is the number of player ticket keys in flight at once.
	ThrottleLimit int `mapstructure:"throttle_limit"`
	// WorkerLimit is the number of concurrent chunk loads.
	WorkerLimit int `mapstructure:"worker_limit"`
	// TickInterval is the period of the tick loop.
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// PersistenceConfig selects where persistent tickets are stored between runs.
type PersistenceConfig struct {
	// Backend is one of "none", "file", "postgres".
	Backend string `mapstructure:"backend"`
	// File is the snapshot path used by the file backend.
	File string `mapstructure:"file"`
	// World names the ticket set within the backend.
	World string `mapstructure:"world"`
}

// DebugConfig holds the debug gRPC service settings.
type DebugConfig struct {
	// Enabled starts the debug service.
	Enabled bool `mapstructure:"enabled"`
	// GRPCHost is the bind address for the debug service.
	GRPCHost string `mapstructure:"grpc_host"`
	// GRPCPort is the TCP port for the debug service.
	GRPCPort int `mapstructure:"grpc_port"`
}

// Addr returns the "host:port" gRPC address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (d DebugConfig) Addr() string {
	return fmt.Sprintf("%s:%d", d.GRPCHost, d.GRPCPort)
}

// TicketsConfig holds ticket type registry settings.
type TicketsConfig struct {
	// TypesFile is an optional YAML file of extra ticket types.
	TypesFile string `mapstructure:"types_file"`
}

// Config is the top-level application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Distance    DistanceConfig    `mapstructure:"distance"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Debug       DebugConfig       `mapstructure:"debug"`
	Tickets     TicketsConfig     `mapstructure:"tickets"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateServer(c.Server); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Persistence.Backend == "postgres" {
		if err := validateDatabase(c.Database); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateDistance(c.Distance); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validatePersistence(c.Persistence); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Debug.Enabled {
		if err := validateDebug(c.Debug); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	var errs []string
	if s.Name == "" {
		errs = append(errs, "server.name must not be empty")
	}
	if s.ShutdownTimeout < 0 {
		errs = append(errs, "server.shutdown_timeout must not be negative")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
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
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
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
	if l.File != "" && l.MaxSizeMB < 1 {
		return fmt.Errorf("logging.max_size_mb must be >= 1 when logging.file is set, got %d", l.MaxSizeMB)
	}
	return nil
}

func validateDistance(d DistanceConfig) error {
	var errs []string
	if d.MaxViewDistance < 0 || d.MaxViewDistance > MaxViewDistance {
		errs = append(errs, fmt.Sprintf("distance.max_view_distance must be 0-%d, got %d", MaxViewDistance, d.MaxViewDistance))
	}
	if d.ViewDistance < 0 || d.ViewDistance > d.MaxViewDistance {
		errs = append(errs, fmt.Sprintf("distance.view_distance must be 0-%d, got %d", d.MaxViewDistance, d.ViewDistance))
	}
	if d.SimulationDistance < 0 {
		errs = append(errs, fmt.Sprintf("distance.simulation_distance must be >= 0, got %d", d.SimulationDistance))
	}
	if d.LoadingBudget < 0 {
		errs = append(errs, fmt.Sprintf("distance.loading_budget must be >= 0, got %d", d.LoadingBudget))
	}
	if d.ThrottleLimit < 1 {
		errs = append(errs, fmt.Sprintf("distance.throttle_limit must be >= 1, got %d", d.ThrottleLimit))
	}
	if d.WorkerLimit < 1 {
		errs = append(errs, fmt.Sprintf("distance.worker_limit must be >= 1, got %d", d.WorkerLimit))
	}
	if d.TickInterval <= 0 {
		errs = append(errs, fmt.Sprintf("distance.tick_interval must be > 0, got %s", d.TickInterval))
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validatePersistence(p PersistenceConfig) error {
	var errs []string
	validBackends := map[string]bool{"none": true, "file": true, "postgres": true}
	if !validBackends[p.Backend] {
		errs = append(errs, fmt.Sprintf("persistence.backend must be one of [none, file, postgres], got %q", p.Backend))
	}
	if p.Backend == "file" && p.File == "" {
		errs = append(errs, "persistence.file must not be empty for the file backend")
	}
	if p.World == "" {
		errs = append(errs, "persistence.world must not be empty")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateDebug(d DebugConfig) error {
	var errs []string
	if d.GRPCHost == "" {
		errs = append(errs, "debug.grpc_host must not be empty")
	}
	if d.GRPCPort < 1 || d.GRPCPort > 65535 {
		errs = append(errs, fmt.Sprintf("debug.grpc_port must be 1-65535, got %d", d.GRPCPort))
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
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

	// Environment variable overrides with CHUNKMAP_ prefix
	v.SetEnvPrefix("CHUNKMAP")
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

// Defaults returns a viper instance holding only the default configuration.
func Defaults() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "chunkserver")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "chunkmap")
	v.SetDefault("database.password", "chunkmap")
	v.SetDefault("database.name", "chunkmap")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)

	v.SetDefault("distance.view_distance", 10)
	v.SetDefault("distance.simulation_distance", 10)
	v.SetDefault("distance.max_view_distance", MaxViewDistance)
	v.SetDefault("distance.loading_budget", 0)
	v.SetDefault("distance.throttle_limit", 4)
	v.SetDefault("distance.worker_limit", 8)
	v.SetDefault("distance.tick_interval", "50ms")

	v.SetDefault("persistence.backend", "none")
	v.SetDefault("persistence.world", "overworld")

	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.grpc_host", "127.0.0.1")
	v.SetDefault("debug.grpc_port", 50061)
}
