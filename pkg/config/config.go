package config

import "time"

// Backend type constants
const (
	// BackendTypeSQS lists and remediates AWS SQS dead-letter queues
	BackendTypeSQS = "sqs"
	// BackendTypeRedis uses the Redis jobs dead-letter layout
	BackendTypeRedis = "redis"
	// BackendTypeHTTP calls a remote DLQ service
	BackendTypeHTTP = "http"
	// BackendTypeRabbitMQ remediates RabbitMQ dead-letter queues
	BackendTypeRabbitMQ = "rabbitmq"
)

// Config is the root configuration structure for dlqmanager
type Config struct {
	Service       ServiceConfig       `mapstructure:"service"`
	HTTP          HTTPConfig          `mapstructure:"http"`
	CORS          CORSConfig          `mapstructure:"cors"`
	Backend       BackendConfig       `mapstructure:"backend"`
	Audit         AuditConfig         `mapstructure:"audit"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Remediation   RemediationConfig   `mapstructure:"remediation"`
}

// ServiceConfig configures service identity metadata.
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// HTTPConfig configures the API server
type HTTPConfig struct {
	Port            int             `mapstructure:"port"`
	ReadTimeout     time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration   `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration   `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	MaxRequestSize  int64           `mapstructure:"max_request_size"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
	// RequestValidation checks API requests against the OpenAPI document:
	// strict, warn-only or off.
	RequestValidation string `mapstructure:"request_validation"`
}

// RateLimitConfig throttles /dlqs requests per client IP.
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// CORSConfig configures cross-origin access for browser frontends.
type CORSConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	AllowOrigins []string      `mapstructure:"allow_origins"`
	AllowHeaders []string      `mapstructure:"allow_headers"`
	MaxAge       time.Duration `mapstructure:"max_age"`
}

// BackendConfig selects and configures the queueing system.
type BackendConfig struct {
	Type     string            `mapstructure:"type"`
	SQS      SQSConfig         `mapstructure:"sqs"`
	Redis    RedisConfig       `mapstructure:"redis"`
	HTTP     HTTPBackendConfig `mapstructure:"http"`
	RabbitMQ RabbitMQConfig    `mapstructure:"rabbitmq"`
}

// SQSConfig configures the AWS SQS backend.
type SQSConfig struct {
	Region           string        `mapstructure:"region"`
	Endpoint         string        `mapstructure:"endpoint"`
	AccessKeyID      string        `mapstructure:"access_key_id"`
	SecretAccessKey  string        `mapstructure:"secret_access_key"`
	SessionToken     string        `mapstructure:"session_token"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	QueueNamePrefix  string        `mapstructure:"queue_name_prefix"`
	IncludeEmpty     bool          `mapstructure:"include_empty"`
	MaxVelocity      int32         `mapstructure:"max_velocity"`
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	URL              string        `mapstructure:"url"`
	Prefix           string        `mapstructure:"prefix"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// RabbitMQConfig configures the RabbitMQ backend. Queues lists the
// dead-letter queues to manage; AMQP has no queue listing.
type RabbitMQConfig struct {
	URL              string        `mapstructure:"url"`
	Queues           []string      `mapstructure:"queues"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	MaxRedrive       int           `mapstructure:"max_redrive"`
}

// HTTPBackendConfig configures the remote DLQ service client.
type HTTPBackendConfig struct {
	BaseURL string            `mapstructure:"base_url"`
	Timeout time.Duration     `mapstructure:"timeout"`
	Headers map[string]string `mapstructure:"headers"`
}

// AuditConfig configures the DynamoDB action journal. Region, endpoint and
// credentials fall back to backend.sqs when empty.
type AuditConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Table            string        `mapstructure:"table"`
	Region           string        `mapstructure:"region"`
	Endpoint         string        `mapstructure:"endpoint"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// ObservabilityConfig configures logging and tracing.
type ObservabilityConfig struct {
	LogLevel          string  `mapstructure:"log_level"`
	LogFormat         string  `mapstructure:"log_format"` // json, text
	LogFile           string  `mapstructure:"log_file"`
	TracingEnabled    bool    `mapstructure:"tracing_enabled"`
	TracingSampleRate float64 `mapstructure:"tracing_sample_rate"`
	TracingEndpoint   string  `mapstructure:"tracing_endpoint"`
}

// RemediationConfig configures action dispatch.
type RemediationConfig struct {
	// ActionTimeout bounds a single redrive or purge call. Zero means no deadline.
	ActionTimeout time.Duration `mapstructure:"action_timeout"`
	// RefreshAfterAction re-fetches the queue list after an action completes.
	RefreshAfterAction bool `mapstructure:"refresh_after_action"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "dlqmanager",
			Environment: "production",
		},
		HTTP: HTTPConfig{
			Port:              8080,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      2 * time.Minute,
			IdleTimeout:       120 * time.Second,
			ShutdownTimeout:   15 * time.Second,
			MaxRequestSize:    1 << 20,
			RequestValidation: "strict",
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: 5,
				Burst:             20,
			},
		},
		CORS: CORSConfig{
			Enabled:      true,
			AllowOrigins: []string{"*"},
			AllowHeaders: []string{"Content-Type", "X-Request-ID"},
			MaxAge:       12 * time.Hour,
		},
		Backend: BackendConfig{
			Type: BackendTypeSQS,
			SQS: SQSConfig{
				OperationTimeout: 30 * time.Second,
			},
			Redis: RedisConfig{
				Prefix:           "nimburion:jobs",
				OperationTimeout: 5 * time.Second,
			},
			HTTP: HTTPBackendConfig{
				Timeout: 30 * time.Second,
			},
			RabbitMQ: RabbitMQConfig{
				OperationTimeout: 30 * time.Second,
				MaxRedrive:       10000,
			},
		},
		Audit: AuditConfig{
			Table:            "dlqmanager-actions",
			OperationTimeout: 5 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogFormat:         "json",
			TracingSampleRate: 0.1,
		},
		Remediation: RemediationConfig{
			ActionTimeout: 5 * time.Minute,
		},
	}
}
