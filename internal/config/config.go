// Package config loads voxgate settings from the environment and the
// provider definitions from a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/voxgate/voxgate/internal/database"
	"github.com/voxgate/voxgate/internal/provider/health"
	"github.com/voxgate/voxgate/internal/provider/orchestrator"
)

// ErrInvalidConfig is returned when a setting cannot be parsed or the
// provider file is unusable.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete process configuration.
type Config struct {
	// Environment names the deployment, e.g. development or production.
	// Default: development
	Environment string

	// LogLevel is a zerolog level name.
	// Default: info
	LogLevel string

	Server       ServerConfig
	Telemetry    TelemetryConfig
	Health       health.Config
	Orchestrator orchestrator.Config
	Events       EventsConfig
	Database     DatabaseConfig
	PubSub       PubSubConfig
	Auth         AuthConfig

	// ProvidersFile is the path of the provider definitions.
	// Default: providers.yaml
	ProvidersFile string

	// Providers are the definitions read from ProvidersFile.
	Providers []ProviderEntry
}

// ServerConfig configures the ops HTTP server.
type ServerConfig struct {
	// Port is the listen port.
	// Default: 8080
	Port string

	// ReadTimeout and WriteTimeout bound each request.
	// Default: 15 seconds
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 30 seconds
	ShutdownTimeout time.Duration

	// RequireTLS rejects requests forwarded over plain HTTP.
	// Default: false
	RequireTLS bool
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	SampleRatio  float64
}

// EventsConfig configures the switch event dispatcher.
type EventsConfig struct {
	// QueueSize bounds undelivered switch events.
	// Default: 256
	QueueSize int

	// DrainTimeout bounds delivery of queued events at shutdown.
	// Default: 5 seconds
	DrainTimeout time.Duration
}

// DatabaseConfig enables the Postgres audit sink.
type DatabaseConfig struct {
	// Enabled turns on the audit sink.
	// Default: false
	Enabled bool

	database.Config
}

// PubSubConfig enables Pub/Sub event fan-out and operator commands.
type PubSubConfig struct {
	// ProjectID enables Pub/Sub when set.
	ProjectID string

	// EventsTopic receives switch events. Empty disables publishing.
	EventsTopic string

	// CommandsSubscription delivers operator commands. Empty disables it.
	CommandsSubscription string
}

// Enabled reports whether a Pub/Sub client is needed.
func (c PubSubConfig) Enabled() bool {
	return c.ProjectID != "" && (c.EventsTopic != "" || c.CommandsSubscription != "")
}

// AuthConfig configures operator bearer tokens on the ops API.
type AuthConfig struct {
	// SigningKey signs HS256 operator tokens. Empty leaves the mutating ops
	// endpoints unprotected, which is only accepted in development.
	SigningKey string

	// Issuer is the expected iss claim.
	// Default: voxgate
	Issuer string

	// Audience is the expected aud claim.
	// Default: voxgate-ops
	Audience string
}

// Load reads the environment and the provider file.
func Load() (Config, error) {
	p := &parser{}

	cfg := Config{
		Environment:   getEnvOrDefault("VOXGATE_ENV", "development"),
		LogLevel:      getEnvOrDefault("VOXGATE_LOG_LEVEL", "info"),
		ProvidersFile: getEnvOrDefault("VOXGATE_PROVIDERS_FILE", "providers.yaml"),
		Server: ServerConfig{
			Port:            getEnvOrDefault("VOXGATE_PORT", "8080"),
			ReadTimeout:     p.duration("VOXGATE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    p.duration("VOXGATE_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: p.duration("VOXGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
			RequireTLS:      p.boolean("VOXGATE_REQUIRE_TLS", false),
		},
		Telemetry: TelemetryConfig{
			Enabled:      p.boolean("OTEL_ENABLED", false),
			OTLPEndpoint: getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			SampleRatio:  p.float("OTEL_SAMPLE_RATIO", 1),
		},
		Events: EventsConfig{
			QueueSize:    p.integer("VOXGATE_EVENTS_QUEUE_SIZE", 256),
			DrainTimeout: p.duration("VOXGATE_EVENTS_DRAIN_TIMEOUT", 5*time.Second),
		},
		Database: DatabaseConfig{
			Enabled: p.boolean("VOXGATE_DB_ENABLED", false),
			Config:  database.ConfigFromEnv(),
		},
		PubSub: PubSubConfig{
			ProjectID:            os.Getenv("VOXGATE_PUBSUB_PROJECT"),
			EventsTopic:          os.Getenv("VOXGATE_PUBSUB_EVENTS_TOPIC"),
			CommandsSubscription: os.Getenv("VOXGATE_PUBSUB_COMMANDS_SUBSCRIPTION"),
		},
		Auth: AuthConfig{
			SigningKey: os.Getenv("VOXGATE_OPERATOR_SIGNING_KEY"),
			Issuer:     getEnvOrDefault("VOXGATE_OPERATOR_ISSUER", "voxgate"),
			Audience:   getEnvOrDefault("VOXGATE_OPERATOR_AUDIENCE", "voxgate-ops"),
		},
	}

	hc := health.DefaultConfig()
	cfg.Health = health.Config{
		CheckInterval:           p.duration("VOXGATE_HEALTH_CHECK_INTERVAL", hc.CheckInterval),
		Timeout:                 p.duration("VOXGATE_HEALTH_TIMEOUT", hc.Timeout),
		MaxConsecutiveFailures:  p.integer("VOXGATE_HEALTH_MAX_CONSECUTIVE_FAILURES", hc.MaxConsecutiveFailures),
		LatencyWarningThreshold: p.duration("VOXGATE_HEALTH_LATENCY_WARNING", hc.LatencyWarningThreshold),
		LatencyErrorThreshold:   p.duration("VOXGATE_HEALTH_LATENCY_ERROR", hc.LatencyErrorThreshold),
		HistoryRetention:        p.duration("VOXGATE_HEALTH_HISTORY_RETENTION", hc.HistoryRetention),
	}

	oc := orchestrator.DefaultConfig()
	oc.Strategy = orchestrator.Strategy(getEnvOrDefault("VOXGATE_STRATEGY", string(oc.Strategy)))
	oc.AutoFailover = p.boolean("VOXGATE_AUTO_FAILOVER", oc.AutoFailover)
	oc.FailoverThresholdConsecutiveErrors = p.integer("VOXGATE_FAILOVER_THRESHOLD", oc.FailoverThresholdConsecutiveErrors)
	oc.HealthCheckGating = p.boolean("VOXGATE_HEALTH_GATING", oc.HealthCheckGating)
	oc.MinProviderHealthScore = p.float("VOXGATE_MIN_HEALTH_SCORE", oc.MinProviderHealthScore)
	oc.CircuitBreakerEnabled = p.boolean("VOXGATE_BREAKER_ENABLED", oc.CircuitBreakerEnabled)
	oc.CircuitBreaker.FailureThreshold = p.integer("VOXGATE_BREAKER_FAILURE_THRESHOLD", oc.CircuitBreaker.FailureThreshold)
	oc.CircuitBreaker.Timeout = p.duration("VOXGATE_BREAKER_TIMEOUT", oc.CircuitBreaker.Timeout)
	oc.CircuitBreaker.SuccessThreshold = p.integer("VOXGATE_BREAKER_SUCCESS_THRESHOLD", oc.CircuitBreaker.SuccessThreshold)
	oc.CircuitBreaker.HalfOpenMaxCalls = p.integer("VOXGATE_BREAKER_HALF_OPEN_MAX_CALLS", oc.CircuitBreaker.HalfOpenMaxCalls)
	oc.SelectionHistorySize = p.integer("VOXGATE_SELECTION_HISTORY_SIZE", oc.SelectionHistorySize)
	oc.SwitchHistorySize = p.integer("VOXGATE_SWITCH_HISTORY_SIZE", oc.SwitchHistorySize)
	cfg.Orchestrator = oc

	if err := p.err(); err != nil {
		return Config{}, err
	}

	file, err := LoadProviderFile(cfg.ProvidersFile)
	if err != nil {
		return Config{}, err
	}
	if file.Strategy != "" {
		cfg.Orchestrator.Strategy = orchestrator.Strategy(file.Strategy)
	}
	cfg.Providers = file.Providers
	cfg.Orchestrator.Preferences = file.Preferences()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the component configurations.
func (c Config) Validate() error {
	if err := c.Health.Validate(); err != nil {
		return err
	}
	if err := c.Orchestrator.Validate(); err != nil {
		return err
	}
	if c.Orchestrator.CircuitBreakerEnabled {
		if err := c.Orchestrator.CircuitBreaker.Validate(); err != nil {
			return err
		}
	}
	if c.Environment == "production" && c.Auth.SigningKey == "" {
		return fmt.Errorf("%w: VOXGATE_OPERATOR_SIGNING_KEY is required in production", ErrInvalidConfig)
	}
	return nil
}

// parser reads typed environment values and remembers every malformed one.
type parser struct {
	errs []error
}

func (p *parser) fail(key, value string, err error) {
	p.errs = append(p.errs, fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, key, value, err))
}

func (p *parser) err() error {
	return errors.Join(p.errs...)
}

func (p *parser) integer(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return n
}

func (p *parser) float(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return f
}

func (p *parser) boolean(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return b
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return d
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
