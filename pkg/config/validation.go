package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate normalizes list and enum values in place and returns every
// invalid setting joined into one error.
func (c *Config) Validate() error {
	var errs []error

	c.CORS.AllowOrigins = normalizeStringSlice(c.CORS.AllowOrigins)
	c.CORS.AllowHeaders = normalizeStringSlice(c.CORS.AllowHeaders)
	c.Backend.Type = strings.ToLower(strings.TrimSpace(c.Backend.Type))
	c.HTTP.RequestValidation = strings.ToLower(strings.TrimSpace(c.HTTP.RequestValidation))

	if strings.TrimSpace(c.Service.Name) == "" {
		errs = append(errs, errors.New("service.name is required"))
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid http.port: %d (must be between 1 and 65535)", c.HTTP.Port))
	}
	if c.HTTP.MaxRequestSize < 0 {
		errs = append(errs, errors.New("http.max_request_size cannot be negative"))
	}
	if c.HTTP.RateLimit.Enabled {
		if c.HTTP.RateLimit.RequestsPerSecond <= 0 {
			errs = append(errs, fmt.Errorf("http.rate_limit.requests_per_second must be positive, got %v", c.HTTP.RateLimit.RequestsPerSecond))
		}
		if c.HTTP.RateLimit.Burst < 1 {
			errs = append(errs, fmt.Errorf("http.rate_limit.burst must be at least 1, got %d", c.HTTP.RateLimit.Burst))
		}
	}

	validModes := []string{"", "off", "strict", "warn-only"}
	if !contains(validModes, c.HTTP.RequestValidation) {
		errs = append(errs, fmt.Errorf("invalid http.request_validation: %s (must be one of: strict, warn-only, off)", c.HTTP.RequestValidation))
	}

	validBackends := []string{BackendTypeSQS, BackendTypeRedis, BackendTypeHTTP, BackendTypeRabbitMQ}
	switch c.Backend.Type {
	case BackendTypeSQS:
		if strings.TrimSpace(c.Backend.SQS.Region) == "" {
			errs = append(errs, errors.New("backend.sqs.region is required when backend.type=sqs"))
		}
		if c.Backend.SQS.MaxVelocity < 0 || c.Backend.SQS.MaxVelocity > 500 {
			errs = append(errs, fmt.Errorf("backend.sqs.max_velocity must be between 0 and 500, got %d", c.Backend.SQS.MaxVelocity))
		}
	case BackendTypeRedis:
		if strings.TrimSpace(c.Backend.Redis.URL) == "" {
			errs = append(errs, errors.New("backend.redis.url is required when backend.type=redis"))
		}
	case BackendTypeHTTP:
		base := strings.TrimSpace(c.Backend.HTTP.BaseURL)
		if base == "" {
			errs = append(errs, errors.New("backend.http.base_url is required when backend.type=http"))
		} else if u, err := url.Parse(base); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Errorf("backend.http.base_url must be an http(s) url, got %q", base))
		}
	case BackendTypeRabbitMQ:
		if strings.TrimSpace(c.Backend.RabbitMQ.URL) == "" {
			errs = append(errs, errors.New("backend.rabbitmq.url is required when backend.type=rabbitmq"))
		}
		if len(c.Backend.RabbitMQ.Queues) == 0 {
			errs = append(errs, errors.New("backend.rabbitmq.queues must list at least one queue"))
		}
		if c.Backend.RabbitMQ.MaxRedrive < 0 {
			errs = append(errs, fmt.Errorf("backend.rabbitmq.max_redrive must not be negative, got %d", c.Backend.RabbitMQ.MaxRedrive))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid backend.type: %s (must be one of: %v)", c.Backend.Type, validBackends))
	}

	if c.Audit.Enabled {
		if strings.TrimSpace(c.Audit.Table) == "" {
			errs = append(errs, errors.New("audit.table is required when audit is enabled"))
		}
		if strings.TrimSpace(c.Audit.Region) == "" && strings.TrimSpace(c.Backend.SQS.Region) == "" {
			errs = append(errs, errors.New("audit.region (or backend.sqs.region) is required when audit is enabled"))
		}
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, strings.ToLower(c.Observability.LogLevel)) {
		errs = append(errs, fmt.Errorf("invalid observability.log_level: %s (must be one of: %v)", c.Observability.LogLevel, validLogLevels))
	}
	validLogFormats := []string{"json", "text"}
	if !contains(validLogFormats, strings.ToLower(c.Observability.LogFormat)) {
		errs = append(errs, fmt.Errorf("invalid observability.log_format: %s (must be one of: %v)", c.Observability.LogFormat, validLogFormats))
	}
	if c.Observability.TracingEnabled {
		if strings.TrimSpace(c.Observability.TracingEndpoint) == "" {
			errs = append(errs, errors.New("observability.tracing_endpoint is required when tracing is enabled"))
		}
		if c.Observability.TracingSampleRate < 0 || c.Observability.TracingSampleRate > 1 {
			errs = append(errs, fmt.Errorf("observability.tracing_sample_rate must be between 0 and 1, got %v", c.Observability.TracingSampleRate))
		}
	}

	if c.Remediation.ActionTimeout < 0 {
		errs = append(errs, errors.New("remediation.action_timeout cannot be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// contains checks if a string slice contains a specific string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// normalizeStringSlice removes empty strings and trims whitespace
func normalizeStringSlice(values []string) []string {
	result := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
