// Package config provides configuration management for OpenGoat.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for OpenGoat.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Home         HomeConfig         `mapstructure:"home"`
	Board        BoardConfig        `mapstructure:"board"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Events       EventsConfig       `mapstructure:"events"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Scanner      ScannerConfig      `mapstructure:"scanner"`
	Providers    ProvidersConfig    `mapstructure:"providers"`
}

// ServerConfig holds the ACP/HTTP service surface configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// HomeConfig controls where OpenGoat keeps its on-disk state: agent
// manifests, session transcripts, run traces.
type HomeConfig struct {
	Dir string `mapstructure:"dir"` // default: ~/.opengoat
}

// BoardConfig holds task-board storage configuration.
type BoardConfig struct {
	Driver string `mapstructure:"driver"` // "memory" or "sqlite"
	Path   string `mapstructure:"path"`
}

// NATSConfig holds NATS messaging configuration.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClusterID     string `mapstructure:"clusterId"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// EventsConfig holds event bus namespace configuration.
type EventsConfig struct {
	// Namespace isolates queue-group subscribers across deployments/instances.
	// Empty value means derive from runtime data identity.
	Namespace string `mapstructure:"namespace"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// OrchestratorConfig holds run-orchestration concurrency configuration.
type OrchestratorConfig struct {
	MaxParallelFlows int `mapstructure:"maxParallelFlows"`
	RunTimeoutSec    int `mapstructure:"runTimeoutSeconds"`
}

// ScannerConfig holds the task-scanner loop configuration.
type ScannerConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	CronSchedule string `mapstructure:"cronSchedule"` // robfig/cron expression
}

// ProvidersConfig holds provider credential/PATH resolution configuration.
type ProvidersConfig struct {
	EnvPrefix string `mapstructure:"envPrefix"`
}

// RunTimeout returns the per-run timeout as a time.Duration.
func (o *OrchestratorConfig) RunTimeout() time.Duration {
	return time.Duration(o.RunTimeoutSec) * time.Second
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// detectDefaultLogFormat returns "json" in container/production environments
// and "text" for terminal/development use.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("OPENGOAT_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

func defaultHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".opengoat"
	}
	return filepath.Join(home, ".opengoat")
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8787)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("home.dir", defaultHomeDir())

	v.SetDefault("board.driver", "sqlite")
	v.SetDefault("board.path", filepath.Join(defaultHomeDir(), "boards.sqlite"))

	// NATS defaults - empty URL means use the in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clusterId", "opengoat-cluster")
	v.SetDefault("nats.clientId", "opengoat-client")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("events.namespace", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("orchestrator.maxParallelFlows", 4)
	v.SetDefault("orchestrator.runTimeoutSeconds", 0) // 0 means no timeout

	v.SetDefault("scanner.enabled", true)
	v.SetDefault("scanner.cronSchedule", "*/5 * * * *") // every 5 minutes

	v.SetDefault("providers.envPrefix", "OPENGOAT_PROVIDER")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix OPENGOAT_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory,
// the home directory, or /etc/opengoat/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("OPENGOAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("logging.level", "OPENGOAT_LOG_LEVEL")
	_ = v.BindEnv("events.namespace", "OPENGOAT_EVENTS_NAMESPACE")
	_ = v.BindEnv("home.dir", "OPENGOAT_HOME")
	_ = v.BindEnv("orchestrator.maxParallelFlows", "OPENGOAT_MAX_PARALLEL_FLOWS")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath(defaultHomeDir())
	v.AddConfigPath("/etc/opengoat/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are consistent.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Board.Driver != "memory" && cfg.Board.Driver != "sqlite" {
		errs = append(errs, "board.driver must be one of: memory, sqlite")
	}
	if cfg.Board.Driver == "sqlite" && cfg.Board.Path == "" {
		errs = append(errs, "board.path is required when board.driver is sqlite")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text, console")
	}

	if cfg.Orchestrator.MaxParallelFlows <= 0 {
		errs = append(errs, "orchestrator.maxParallelFlows must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
