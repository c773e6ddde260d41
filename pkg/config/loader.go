package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// DefaultEnvPrefix is the environment variable prefix used when none is given.
const DefaultEnvPrefix = "DLQ"

// Loader defines the interface for loading configuration
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader implements Loader using Viper for configuration management
type ViperLoader struct {
	configFile string
	envPrefix  string

	v       *viper.Viper
	secrets map[string]interface{}
}

// NewViperLoader creates a new ViperLoader
// configFile: path to configuration file (optional, can be empty)
// envPrefix: prefix for environment variables (e.g., "DLQ")
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{
		configFile: configFile,
		envPrefix:  envPrefix,
	}
}

// Load loads configuration with precedence: ENV > secrets file > file > defaults
func (l *ViperLoader) Load() (*Config, error) {
	v := viper.New()
	l.setDefaults(v, DefaultConfig())

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	secretsFile, err := l.discoverSecretsFile()
	if err != nil {
		return nil, err
	}
	l.secrets = nil
	if secretsFile != "" {
		secretsViper := viper.New()
		secretsViper.SetConfigFile(secretsFile)
		if err := secretsViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read secrets file %s: %w", secretsFile, err)
		}
		l.secrets = secretsViper.AllSettings()
		if err := v.MergeConfigMap(l.secrets); err != nil {
			return nil, fmt.Errorf("failed to merge secrets: %w", err)
		}
	}

	// Environment variables override file config through explicit bindings.
	v.SetEnvPrefix(l.prefix())
	l.bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	l.v = v
	return &cfg, nil
}

// AllSettings returns the merged settings of the last successful Load.
func (l *ViperLoader) AllSettings() map[string]interface{} {
	if l == nil || l.v == nil {
		return map[string]interface{}{}
	}
	return l.v.AllSettings()
}

// Secrets returns the settings read from the secrets file, if any.
func (l *ViperLoader) Secrets() map[string]interface{} {
	return l.secrets
}

// Validate normalizes cfg and reports every invalid setting.
func (l *ViperLoader) Validate(cfg *Config) error {
	return cfg.Validate()
}

// bindEnvVars explicitly binds environment variables for nested structs
func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	// Service
	v.BindEnv("service.name", l.prefixedEnv("SERVICE_NAME"))
	v.BindEnv("service.environment", l.prefixedEnv("SERVICE_ENVIRONMENT"), l.prefixedEnv("ENVIRONMENT"))

	// HTTP
	v.BindEnv("http.port", l.prefixedEnv("HTTP_PORT"))
	v.BindEnv("http.read_timeout", l.prefixedEnv("HTTP_READ_TIMEOUT"))
	v.BindEnv("http.write_timeout", l.prefixedEnv("HTTP_WRITE_TIMEOUT"))
	v.BindEnv("http.idle_timeout", l.prefixedEnv("HTTP_IDLE_TIMEOUT"))
	v.BindEnv("http.shutdown_timeout", l.prefixedEnv("HTTP_SHUTDOWN_TIMEOUT"))
	v.BindEnv("http.max_request_size", l.prefixedEnv("HTTP_MAX_REQUEST_SIZE"))
	v.BindEnv("http.rate_limit.enabled", l.prefixedEnv("RATE_LIMIT_ENABLED"))
	v.BindEnv("http.rate_limit.requests_per_second", l.prefixedEnv("RATE_LIMIT_RPS"))
	v.BindEnv("http.rate_limit.burst", l.prefixedEnv("RATE_LIMIT_BURST"))
	v.BindEnv("http.request_validation", l.prefixedEnv("HTTP_REQUEST_VALIDATION"))

	// CORS
	v.BindEnv("cors.enabled", l.prefixedEnv("CORS_ENABLED"))
	v.BindEnv("cors.allow_origins", l.prefixedEnv("CORS_ALLOW_ORIGINS"))
	v.BindEnv("cors.allow_headers", l.prefixedEnv("CORS_ALLOW_HEADERS"))
	v.BindEnv("cors.max_age", l.prefixedEnv("CORS_MAX_AGE"))

	// Backend
	v.BindEnv("backend.type", l.prefixedEnv("BACKEND_TYPE"))
	v.BindEnv("backend.sqs.region", l.prefixedEnv("SQS_REGION"), "AWS_REGION")
	v.BindEnv("backend.sqs.endpoint", l.prefixedEnv("SQS_ENDPOINT"))
	v.BindEnv("backend.sqs.access_key_id", l.prefixedEnv("SQS_ACCESS_KEY_ID"))
	v.BindEnv("backend.sqs.secret_access_key", l.prefixedEnv("SQS_SECRET_ACCESS_KEY"))
	v.BindEnv("backend.sqs.session_token", l.prefixedEnv("SQS_SESSION_TOKEN"))
	v.BindEnv("backend.sqs.operation_timeout", l.prefixedEnv("SQS_OPERATION_TIMEOUT"))
	v.BindEnv("backend.sqs.queue_name_prefix", l.prefixedEnv("SQS_QUEUE_NAME_PREFIX"))
	v.BindEnv("backend.sqs.include_empty", l.prefixedEnv("SQS_INCLUDE_EMPTY"))
	v.BindEnv("backend.sqs.max_velocity", l.prefixedEnv("SQS_MAX_VELOCITY"))
	v.BindEnv("backend.redis.url", l.prefixedEnv("REDIS_URL"))
	v.BindEnv("backend.redis.prefix", l.prefixedEnv("REDIS_PREFIX"))
	v.BindEnv("backend.redis.operation_timeout", l.prefixedEnv("REDIS_OPERATION_TIMEOUT"))
	v.BindEnv("backend.http.base_url", l.prefixedEnv("HTTP_BACKEND_BASE_URL"))
	v.BindEnv("backend.http.timeout", l.prefixedEnv("HTTP_BACKEND_TIMEOUT"))
	v.BindEnv("backend.rabbitmq.url", l.prefixedEnv("RABBITMQ_URL"))
	v.BindEnv("backend.rabbitmq.queues", l.prefixedEnv("RABBITMQ_QUEUES"))
	v.BindEnv("backend.rabbitmq.operation_timeout", l.prefixedEnv("RABBITMQ_OPERATION_TIMEOUT"))
	v.BindEnv("backend.rabbitmq.max_redrive", l.prefixedEnv("RABBITMQ_MAX_REDRIVE"))

	// Audit
	v.BindEnv("audit.enabled", l.prefixedEnv("AUDIT_ENABLED"))
	v.BindEnv("audit.table", l.prefixedEnv("AUDIT_TABLE"))
	v.BindEnv("audit.region", l.prefixedEnv("AUDIT_REGION"))
	v.BindEnv("audit.endpoint", l.prefixedEnv("AUDIT_ENDPOINT"))
	v.BindEnv("audit.operation_timeout", l.prefixedEnv("AUDIT_OPERATION_TIMEOUT"))

	// Observability
	v.BindEnv("observability.log_level", l.prefixedEnv("LOG_LEVEL"), l.prefixedEnv("OBSERVABILITY_LOG_LEVEL"))
	v.BindEnv("observability.log_format", l.prefixedEnv("LOG_FORMAT"), l.prefixedEnv("OBSERVABILITY_LOG_FORMAT"))
	v.BindEnv("observability.log_file", l.prefixedEnv("LOG_FILE"))
	v.BindEnv("observability.tracing_enabled", l.prefixedEnv("TRACING_ENABLED"))
	v.BindEnv("observability.tracing_sample_rate", l.prefixedEnv("TRACING_SAMPLE_RATE"))
	v.BindEnv("observability.tracing_endpoint", l.prefixedEnv("TRACING_ENDPOINT"))

	// Remediation
	v.BindEnv("remediation.action_timeout", l.prefixedEnv("ACTION_TIMEOUT"))
	v.BindEnv("remediation.refresh_after_action", l.prefixedEnv("REFRESH_AFTER_ACTION"))
}

func (l *ViperLoader) prefix() string {
	prefix := strings.TrimSpace(l.envPrefix)
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return strings.ToUpper(prefix)
}

func (l *ViperLoader) prefixedEnv(suffix string) string {
	return fmt.Sprintf("%s_%s", l.prefix(), suffix)
}

func (l *ViperLoader) setDefaults(v *viper.Viper, cfg *Config) {
	// Service defaults
	v.SetDefault("service.name", cfg.Service.Name)
	v.SetDefault("service.environment", cfg.Service.Environment)

	// HTTP defaults
	v.SetDefault("http.port", cfg.HTTP.Port)
	v.SetDefault("http.read_timeout", cfg.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", cfg.HTTP.WriteTimeout)
	v.SetDefault("http.idle_timeout", cfg.HTTP.IdleTimeout)
	v.SetDefault("http.shutdown_timeout", cfg.HTTP.ShutdownTimeout)
	v.SetDefault("http.max_request_size", cfg.HTTP.MaxRequestSize)
	v.SetDefault("http.rate_limit.enabled", cfg.HTTP.RateLimit.Enabled)
	v.SetDefault("http.rate_limit.requests_per_second", cfg.HTTP.RateLimit.RequestsPerSecond)
	v.SetDefault("http.rate_limit.burst", cfg.HTTP.RateLimit.Burst)
	v.SetDefault("http.request_validation", cfg.HTTP.RequestValidation)

	// CORS defaults
	v.SetDefault("cors.enabled", cfg.CORS.Enabled)
	v.SetDefault("cors.allow_origins", cfg.CORS.AllowOrigins)
	v.SetDefault("cors.allow_headers", cfg.CORS.AllowHeaders)
	v.SetDefault("cors.max_age", cfg.CORS.MaxAge)

	// Backend defaults
	v.SetDefault("backend.type", cfg.Backend.Type)
	v.SetDefault("backend.sqs.region", cfg.Backend.SQS.Region)
	v.SetDefault("backend.sqs.endpoint", cfg.Backend.SQS.Endpoint)
	v.SetDefault("backend.sqs.access_key_id", cfg.Backend.SQS.AccessKeyID)
	v.SetDefault("backend.sqs.secret_access_key", cfg.Backend.SQS.SecretAccessKey)
	v.SetDefault("backend.sqs.session_token", cfg.Backend.SQS.SessionToken)
	v.SetDefault("backend.sqs.operation_timeout", cfg.Backend.SQS.OperationTimeout)
	v.SetDefault("backend.sqs.queue_name_prefix", cfg.Backend.SQS.QueueNamePrefix)
	v.SetDefault("backend.sqs.include_empty", cfg.Backend.SQS.IncludeEmpty)
	v.SetDefault("backend.sqs.max_velocity", cfg.Backend.SQS.MaxVelocity)
	v.SetDefault("backend.redis.url", cfg.Backend.Redis.URL)
	v.SetDefault("backend.redis.prefix", cfg.Backend.Redis.Prefix)
	v.SetDefault("backend.redis.operation_timeout", cfg.Backend.Redis.OperationTimeout)
	v.SetDefault("backend.http.base_url", cfg.Backend.HTTP.BaseURL)
	v.SetDefault("backend.http.timeout", cfg.Backend.HTTP.Timeout)
	v.SetDefault("backend.rabbitmq.url", cfg.Backend.RabbitMQ.URL)
	v.SetDefault("backend.rabbitmq.queues", cfg.Backend.RabbitMQ.Queues)
	v.SetDefault("backend.rabbitmq.operation_timeout", cfg.Backend.RabbitMQ.OperationTimeout)
	v.SetDefault("backend.rabbitmq.max_redrive", cfg.Backend.RabbitMQ.MaxRedrive)

	// Audit defaults
	v.SetDefault("audit.enabled", cfg.Audit.Enabled)
	v.SetDefault("audit.table", cfg.Audit.Table)
	v.SetDefault("audit.region", cfg.Audit.Region)
	v.SetDefault("audit.endpoint", cfg.Audit.Endpoint)
	v.SetDefault("audit.operation_timeout", cfg.Audit.OperationTimeout)

	// Observability defaults
	v.SetDefault("observability.log_level", cfg.Observability.LogLevel)
	v.SetDefault("observability.log_format", cfg.Observability.LogFormat)
	v.SetDefault("observability.log_file", cfg.Observability.LogFile)
	v.SetDefault("observability.tracing_enabled", cfg.Observability.TracingEnabled)
	v.SetDefault("observability.tracing_sample_rate", cfg.Observability.TracingSampleRate)
	v.SetDefault("observability.tracing_endpoint", cfg.Observability.TracingEndpoint)

	// Remediation defaults
	v.SetDefault("remediation.action_timeout", cfg.Remediation.ActionTimeout)
	v.SetDefault("remediation.refresh_after_action", cfg.Remediation.RefreshAfterAction)
}
