// Package factory builds the configured backend and audit journal.
package factory

import (
	"fmt"
	"strings"

	"github.com/nimburion/dlqmanager/pkg/audit"
	"github.com/nimburion/dlqmanager/pkg/backend"
	"github.com/nimburion/dlqmanager/pkg/backend/httpclient"
	"github.com/nimburion/dlqmanager/pkg/backend/rabbitmq"
	"github.com/nimburion/dlqmanager/pkg/backend/redis"
	"github.com/nimburion/dlqmanager/pkg/backend/sqs"
	"github.com/nimburion/dlqmanager/pkg/config"
	"github.com/nimburion/dlqmanager/pkg/observability/logger"
)

type constructors struct {
	sqs      func(sqs.Config, logger.Logger) (backend.Backend, error)
	redis    func(redis.Config, logger.Logger) (backend.Backend, error)
	http     func(httpclient.Config, logger.Logger) (backend.Backend, error)
	rabbitmq func(rabbitmq.Config, logger.Logger) (backend.Backend, error)
}

var defaultConstructors = constructors{
	sqs: func(cfg sqs.Config, log logger.Logger) (backend.Backend, error) {
		return sqs.NewAdapter(cfg, log)
	},
	redis: func(cfg redis.Config, log logger.Logger) (backend.Backend, error) {
		return redis.New(cfg, log)
	},
	http: func(cfg httpclient.Config, log logger.Logger) (backend.Backend, error) {
		return httpclient.New(cfg, log)
	},
	rabbitmq: func(cfg rabbitmq.Config, log logger.Logger) (backend.Backend, error) {
		return rabbitmq.New(cfg, log)
	},
}

// NewBackend creates the backend selected by cfg.Type.
func NewBackend(cfg config.BackendConfig, log logger.Logger) (backend.Backend, error) {
	return newBackend(cfg, log, defaultConstructors)
}

func newBackend(cfg config.BackendConfig, log logger.Logger, c constructors) (backend.Backend, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Type))
	if kind == "" {
		kind = backend.TypeSQS
	}

	switch kind {
	case backend.TypeSQS:
		return c.sqs(SQSConfig(cfg.SQS), log)
	case backend.TypeRedis:
		return c.redis(redis.Config{
			URL:              cfg.Redis.URL,
			Prefix:           cfg.Redis.Prefix,
			OperationTimeout: cfg.Redis.OperationTimeout,
		}, log)
	case backend.TypeHTTP:
		return c.http(httpclient.Config{
			BaseURL: cfg.HTTP.BaseURL,
			Timeout: cfg.HTTP.Timeout,
			Headers: cfg.HTTP.Headers,
		}, log)
	case backend.TypeRabbitMQ:
		return c.rabbitmq(rabbitmq.Config{
			URL:              cfg.RabbitMQ.URL,
			Queues:           cfg.RabbitMQ.Queues,
			OperationTimeout: cfg.RabbitMQ.OperationTimeout,
			MaxRedrive:       cfg.RabbitMQ.MaxRedrive,
		}, log)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", cfg.Type)
	}
}

// SQSConfig maps configuration onto the SQS adapter.
func SQSConfig(cfg config.SQSConfig) sqs.Config {
	return sqs.Config{
		Region:           cfg.Region,
		Endpoint:         cfg.Endpoint,
		AccessKeyID:      cfg.AccessKeyID,
		SecretAccessKey:  cfg.SecretAccessKey,
		SessionToken:     cfg.SessionToken,
		OperationTimeout: cfg.OperationTimeout,
		QueueNamePrefix:  cfg.QueueNamePrefix,
		IncludeEmpty:     cfg.IncludeEmpty,
		MaxVelocity:      cfg.MaxVelocity,
	}
}

// AuditConfig maps configuration onto the DynamoDB journal. Region, endpoint
// and credentials fall back to the SQS backend settings.
func AuditConfig(cfg config.AuditConfig, sqsCfg config.SQSConfig) audit.Config {
	out := audit.Config{
		Table:            cfg.Table,
		Region:           cfg.Region,
		Endpoint:         cfg.Endpoint,
		AccessKeyID:      sqsCfg.AccessKeyID,
		SecretAccessKey:  sqsCfg.SecretAccessKey,
		SessionToken:     sqsCfg.SessionToken,
		OperationTimeout: cfg.OperationTimeout,
	}
	if out.Region == "" {
		out.Region = sqsCfg.Region
	}
	if out.Endpoint == "" {
		out.Endpoint = sqsCfg.Endpoint
	}
	return out
}

// NewJournal creates the audit journal, or returns nil when auditing is disabled.
func NewJournal(cfg *config.Config, log logger.Logger) (*audit.DynamoJournal, error) {
	if !cfg.Audit.Enabled {
		return nil, nil
	}
	return audit.NewDynamoJournal(AuditConfig(cfg.Audit, cfg.Backend.SQS), log)
}
