package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Docker       DockerConfig       `mapstructure:"docker"`
	Log          LogConfig          `mapstructure:"log"`
	Data         DataConfig         `mapstructure:"data"`
	Deployer     DeployerConfig     `mapstructure:"deployer"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	Host      string        `mapstructure:"host"`
	OpTimeout time.Duration `mapstructure:"op_timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DataConfig holds the on-disk layout configuration.
type DataConfig struct {
	// Dir is the root under which per-rollup workspace and config
	// directories are created.
	Dir string `mapstructure:"dir"`
}

// DeployerConfig holds contract deployment pipeline configuration.
type DeployerConfig struct {
	// RepoURL is the contracts repository to clone. Empty uses the
	// pipeline default.
	RepoURL string `mapstructure:"repo_url"`

	// Branch is the contracts branch to check out. Empty uses the
	// pipeline default.
	Branch string `mapstructure:"branch"`

	// TEEVerifier overrides the TEE verifier contract address.
	TEEVerifier string `mapstructure:"tee_verifier"`

	// CommandTimeout bounds each external command the pipeline runs.
	// Contract builds and deployments are slow; keep this generous.
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
}

// OrchestratorConfig holds container orchestration configuration.
type OrchestratorConfig struct {
	NetworkRetryAttempts int           `mapstructure:"network_retry_attempts"`
	NetworkRetryBackoff  time.Duration `mapstructure:"network_retry_backoff"`
	StopTimeout          time.Duration `mapstructure:"stop_timeout"`
	ComposeBinary        string        `mapstructure:"compose_binary"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("database.dsn", "./data/rollhost.db")
	v.SetDefault("docker.host", "")
	v.SetDefault("docker.op_timeout", "60s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("data.dir", "./data/rollups")
	v.SetDefault("deployer.repo_url", "")
	v.SetDefault("deployer.branch", "")
	v.SetDefault("deployer.tee_verifier", "")
	v.SetDefault("deployer.command_timeout", "20m")
	v.SetDefault("orchestrator.network_retry_attempts", 3)
	v.SetDefault("orchestrator.network_retry_backoff", "2s")
	v.SetDefault("orchestrator.stop_timeout", "30s")
	v.SetDefault("orchestrator.compose_binary", "docker-compose")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("ROLLHOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
