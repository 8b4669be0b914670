package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/platinummonkey/ledmatrix/pkg/lifecycle"
	"github.com/platinummonkey/ledmatrix/pkg/marketplace"
	"github.com/platinummonkey/ledmatrix/pkg/observability"
	"github.com/platinummonkey/ledmatrix/pkg/plugins"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	// Server configuration for the management API
	Server ServerConfig

	// Plugins configuration
	Plugins PluginsConfig

	// Registry and repository host configuration
	Registry RegistryConfig

	// Update scheduling
	Updates UpdatesConfig

	// Observability configuration
	Observability ObservabilityConfig

	// Secrets are read from the secrets file and the environment
	Secrets Secrets
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// PluginsConfig holds plugin root and install settings
type PluginsConfig struct {
	Dir               string
	UseGit            bool
	DependencyTool    string
	DependencyTimeout time.Duration
	Watch             bool
}

// RegistryConfig holds registry and repository host settings
type RegistryConfig struct {
	URL              string
	CustomRegistries []string
	CacheTTL         time.Duration
	RedisURL         string

	APIBase string
	RawBase string
	WebBase string

	MetadataTimeout time.Duration
	ArchiveTimeout  time.Duration
	RetryAttempts   int
	RetryDelay      time.Duration
}

// UpdatesConfig holds scheduled update settings
type UpdatesConfig struct {
	Enabled     bool
	Schedule    string
	Concurrency int
	Timeout     time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel  string
	LogFormat string

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// OTel returns the OpenTelemetry settings
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
	}
}

// Secrets holds credentials. They are never logged.
type Secrets struct {
	GitHubToken string `yaml:"github_token"`
}

// LoadConfig loads configuration from the environment. A .env file named by
// LEDMATRIX_ENV_FILE (default .env) is applied first without overriding
// variables already set; the secrets file named by LEDMATRIX_SECRETS_FILE is
// read last.
func LoadConfig() (*Config, error) {
	if err := loadEnvFile(getEnv("LEDMATRIX_ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	secrets, err := loadSecrets(getEnv("LEDMATRIX_SECRETS_FILE", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server:        loadServerConfig(),
		Plugins:       loadPluginsConfig(),
		Registry:      loadRegistryConfig(),
		Updates:       loadUpdatesConfig(),
		Observability: loadObservabilityConfig(),
		Secrets:       secrets,
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadEnvFile applies a dotenv file; a missing file is not an error
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// loadSecrets reads the YAML secrets file. The environment overrides it.
func loadSecrets(path string) (Secrets, error) {
	var secrets Secrets
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return secrets, fmt.Errorf("failed to read secrets file: %w", err)
		}
		if err := yaml.Unmarshal(data, &secrets); err != nil {
			return secrets, fmt.Errorf("failed to parse secrets file: %w", err)
		}
	}

	if token := getEnv("LEDMATRIX_GITHUB_TOKEN", getEnv("GITHUB_TOKEN", "")); token != "" {
		secrets.GitHubToken = token
	}
	return secrets, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("LEDMATRIX_HOST", "0.0.0.0"),
		Port:            getEnv("LEDMATRIX_PORT", "5050"),
		ReadTimeout:     getEnvDuration("LEDMATRIX_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("LEDMATRIX_WRITE_TIMEOUT", 5*time.Minute),
		IdleTimeout:     getEnvDuration("LEDMATRIX_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("LEDMATRIX_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func loadPluginsConfig() PluginsConfig {
	return PluginsConfig{
		Dir:               getEnv("LEDMATRIX_PLUGINS_DIR", "plugins"),
		UseGit:            getEnvBool("LEDMATRIX_USE_GIT", true),
		DependencyTool:    getEnv("LEDMATRIX_DEPENDENCY_TOOL", plugins.DefaultDependencyTool),
		DependencyTimeout: getEnvDuration("LEDMATRIX_DEPENDENCY_TIMEOUT", plugins.DefaultDependencyTimeout),
		Watch:             getEnvBool("LEDMATRIX_WATCH_PLUGINS", false),
	}
}

func loadRegistryConfig() RegistryConfig {
	return RegistryConfig{
		URL:              getEnv("LEDMATRIX_REGISTRY_URL", marketplace.DefaultRegistryURL),
		CustomRegistries: getEnvList("LEDMATRIX_CUSTOM_REGISTRIES"),
		CacheTTL:         getEnvDuration("LEDMATRIX_REGISTRY_CACHE_TTL", marketplace.DefaultIndexTTL),
		RedisURL:         getEnv("LEDMATRIX_REDIS_URL", ""),
		APIBase:          getEnv("LEDMATRIX_HOST_API_BASE", marketplace.DefaultAPIBase),
		RawBase:          getEnv("LEDMATRIX_HOST_RAW_BASE", marketplace.DefaultRawBase),
		WebBase:          getEnv("LEDMATRIX_HOST_WEB_BASE", marketplace.DefaultWebBase),
		MetadataTimeout:  getEnvDuration("LEDMATRIX_METADATA_TIMEOUT", 10*time.Second),
		ArchiveTimeout:   getEnvDuration("LEDMATRIX_ARCHIVE_TIMEOUT", 2*time.Minute),
		RetryAttempts:    getEnvInt("LEDMATRIX_RETRY_ATTEMPTS", 3),
		RetryDelay:       getEnvDuration("LEDMATRIX_RETRY_DELAY", time.Second),
	}
}

func loadUpdatesConfig() UpdatesConfig {
	return UpdatesConfig{
		Enabled:     getEnvBool("LEDMATRIX_AUTO_UPDATE", false),
		Schedule:    getEnv("LEDMATRIX_UPDATE_SCHEDULE", lifecycle.DefaultUpdateSchedule),
		Concurrency: getEnvInt("LEDMATRIX_UPDATE_CONCURRENCY", lifecycle.DefaultUpdateConcurrency),
		Timeout:     getEnvDuration("LEDMATRIX_UPDATE_TIMEOUT", lifecycle.DefaultUpdateTimeout),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           strings.ToLower(getEnv("LEDMATRIX_LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(getEnv("LEDMATRIX_LOG_FORMAT", "text")),
		MetricsEnabled:     getEnvBool("LEDMATRIX_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("LEDMATRIX_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("LEDMATRIX_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("LEDMATRIX_OTEL_SERVICE_NAME", "ledmatrix-plugins"),
		OTelServiceVersion: getEnv("LEDMATRIX_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("LEDMATRIX_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Plugins.Dir == "" {
		return fmt.Errorf("plugins directory is required")
	}
	if c.Registry.URL == "" {
		return fmt.Errorf("registry URL is required")
	}
	if c.Registry.APIBase == "" || c.Registry.RawBase == "" || c.Registry.WebBase == "" {
		return fmt.Errorf("repository host API, raw and web bases are required")
	}
	if c.Registry.RetryAttempts < 1 {
		return fmt.Errorf("retry attempts must be at least 1, got %d", c.Registry.RetryAttempts)
	}
	if c.Registry.MetadataTimeout <= 0 || c.Registry.ArchiveTimeout <= 0 {
		return fmt.Errorf("request timeouts must be positive")
	}
	if c.Plugins.DependencyTimeout <= 0 {
		return fmt.Errorf("dependency timeout must be positive")
	}
	if c.Updates.Enabled && c.Updates.Schedule == "" {
		return fmt.Errorf("update schedule is required when automatic updates are enabled")
	}
	if c.Updates.Concurrency < 1 {
		return fmt.Errorf("update concurrency must be at least 1, got %d", c.Updates.Concurrency)
	}

	switch c.Observability.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Observability.LogFormat)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated environment variable, dropping blanks
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
