// Package sqs implements backend.Backend on AWS SQS dead-letter queues.
package sqs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/nimburion/dlqmanager/pkg/backend"
	"github.com/nimburion/dlqmanager/pkg/observability/logger"
	"github.com/nimburion/dlqmanager/pkg/observability/tracing"
)

const tracingSystem = "aws_sqs"

// API is the subset of *sqs.Client used by the adapter.
type API interface {
	ListQueues(ctx context.Context, params *sqs.ListQueuesInput, optFns ...func(*sqs.Options)) (*sqs.ListQueuesOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
	ListDeadLetterSourceQueues(ctx context.Context, params *sqs.ListDeadLetterSourceQueuesInput, optFns ...func(*sqs.Options)) (*sqs.ListDeadLetterSourceQueuesOutput, error)
	StartMessageMoveTask(ctx context.Context, params *sqs.StartMessageMoveTaskInput, optFns ...func(*sqs.Options)) (*sqs.StartMessageMoveTaskOutput, error)
	PurgeQueue(ctx context.Context, params *sqs.PurgeQueueInput, optFns ...func(*sqs.Options)) (*sqs.PurgeQueueOutput, error)
}

// Config holds SQS adapter configuration.
type Config struct {
	Region           string
	Endpoint         string
	AccessKeyID      string
	SecretAccessKey  string
	SessionToken     string
	OperationTimeout time.Duration
	// QueueNamePrefix restricts listing to queues whose name starts with it.
	QueueNamePrefix string
	// IncludeEmpty lists dead-letter queues with no visible messages.
	IncludeEmpty bool
	// MaxVelocity caps messages per second for redrive tasks; zero lets SQS decide.
	MaxVelocity int32
}

func (c *Config) normalize() {
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = 30 * time.Second
	}
}

// Adapter lists and remediates SQS dead-letter queues. A queue counts as a
// dead-letter queue when at least one source queue targets it in its redrive policy.
type Adapter struct {
	client API
	logger logger.Logger
	config Config

	mu     sync.RWMutex
	arns   map[string]string
	closed bool
}

// Cosa fa: crea adapter SQS con supporto endpoint custom (es. LocalStack).
// Cosa NON fa: non crea code, redrive policy o policy IAM.
// Esempio minimo: adapter, err := sqs.NewAdapter(cfg, log)
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("aws region is required")
	}
	cfg.normalize()

	loadOptions := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	var opts []func(*sqs.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	adapter := NewAdapterWithClient(sqs.NewFromConfig(awsCfg, opts...), cfg, log)
	if err := adapter.HealthCheck(context.Background()); err != nil {
		return nil, err
	}
	adapter.logger.Info("SQS backend initialized", "region", cfg.Region, "endpoint", cfg.Endpoint)
	return adapter, nil
}

// NewAdapterWithClient builds an adapter around an existing client without
// checking connectivity.
func NewAdapterWithClient(client API, cfg Config, log logger.Logger) *Adapter {
	cfg.normalize()
	if log == nil {
		log = logger.NewNop()
	}
	return &Adapter{
		client: client,
		logger: log,
		config: cfg,
		arns:   map[string]string{},
	}
}

// ListDeadLetterQueues lists every queue that is the dead-letter target of at
// least one source queue, in ListQueues order.
func (a *Adapter) ListDeadLetterQueues(ctx context.Context) ([]backend.QueueInfo, error) {
	if err := a.ensureOpen(); err != nil {
		return nil, err
	}
	ctx, span := tracing.StartBackendSpan(ctx, tracingSystem, "list", "")
	defer span.End()

	input := &sqs.ListQueuesInput{}
	if a.config.QueueNamePrefix != "" {
		input.QueueNamePrefix = aws.String(a.config.QueueNamePrefix)
	}

	var queues []backend.QueueInfo
	paginator := sqs.NewListQueuesPaginator(a.client, input)
	for paginator.HasMorePages() {
		opCtx, cancel := context.WithTimeout(ctx, a.config.OperationTimeout)
		page, err := paginator.NextPage(opCtx)
		cancel()
		if err != nil {
			tracing.RecordError(span, err)
			return nil, fmt.Errorf("failed to list sqs queues: %w", err)
		}
		for _, queueURL := range page.QueueUrls {
			info, ok, err := a.describe(ctx, queueURL)
			if err != nil {
				tracing.RecordError(span, err)
				return nil, err
			}
			if ok {
				queues = append(queues, info)
			}
		}
	}
	tracing.RecordSuccess(span)
	return queues, nil
}

func (a *Adapter) describe(ctx context.Context, queueURL string) (backend.QueueInfo, bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, a.config.OperationTimeout)
	defer cancel()

	sources, err := a.client.ListDeadLetterSourceQueues(opCtx, &sqs.ListDeadLetterSourceQueuesInput{
		QueueUrl: aws.String(queueURL),
	})
	if err != nil {
		return backend.QueueInfo{}, false, fmt.Errorf("failed to list source queues of %s: %w", queueURL, err)
	}
	if len(sources.QueueUrls) == 0 {
		return backend.QueueInfo{}, false, nil
	}

	attrs, err := a.client.GetQueueAttributes(opCtx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(queueURL),
		AttributeNames: []types.QueueAttributeName{
			types.QueueAttributeNameQueueArn,
			types.QueueAttributeNameApproximateNumberOfMessages,
		},
	})
	if err != nil {
		return backend.QueueInfo{}, false, fmt.Errorf("failed to read attributes of %s: %w", queueURL, err)
	}

	arn := attrs.Attributes[string(types.QueueAttributeNameQueueArn)]
	messages, _ := strconv.ParseInt(attrs.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)], 10, 64)
	if messages == 0 && !a.config.IncludeEmpty {
		return backend.QueueInfo{}, false, nil
	}

	a.mu.Lock()
	a.arns[queueURL] = arn
	a.mu.Unlock()

	return backend.QueueInfo{
		QueueURL:            queueURL,
		QueueARN:            arn,
		SourceQueues:        append([]string(nil), sources.QueueUrls...),
		SourceQueueARNs:     a.sourceARNs(ctx, sources.QueueUrls),
		ApproximateMessages: messages,
	}, true, nil
}

// RedriveQueues starts a message move task for each queue, moving messages
// back to the source queues they were dead-lettered from.
func (a *Adapter) RedriveQueues(ctx context.Context, queueURLs []string) ([]backend.QueueResult, error) {
	if err := a.ensureOpen(); err != nil {
		return nil, err
	}
	results := make([]backend.QueueResult, 0, len(queueURLs))
	for _, queueURL := range queueURLs {
		results = append(results, a.redriveOne(ctx, queueURL))
	}
	return results, nil
}

func (a *Adapter) redriveOne(ctx context.Context, queueURL string) backend.QueueResult {
	ctx, span := tracing.StartBackendSpan(ctx, tracingSystem, "redrive", queueURL)
	defer span.End()

	arn, err := a.queueARN(ctx, queueURL)
	if err != nil {
		tracing.RecordError(span, err)
		return backend.FailureResult(queueURL, err)
	}

	input := &sqs.StartMessageMoveTaskInput{SourceArn: aws.String(arn)}
	if a.config.MaxVelocity > 0 {
		input.MaxNumberOfMessagesPerSecond = aws.Int32(a.config.MaxVelocity)
	}
	opCtx, cancel := context.WithTimeout(ctx, a.config.OperationTimeout)
	out, err := a.client.StartMessageMoveTask(opCtx, input)
	cancel()
	if err != nil {
		tracing.RecordError(span, err)
		a.logger.Warn("sqs redrive failed", "queue_url", queueURL, "error", err)
		return backend.FailureResult(queueURL, err)
	}

	tracing.RecordSuccess(span)
	a.logger.Info("sqs redrive started", "queue_url", queueURL, "task_handle", aws.ToString(out.TaskHandle))
	return backend.SuccessResult(queueURL, backend.StatusRedriven)
}

// PurgeQueues purges each queue. SQS allows one purge per queue every 60
// seconds; a repeated purge is reported as a per-queue failure.
func (a *Adapter) PurgeQueues(ctx context.Context, queueURLs []string) ([]backend.QueueResult, error) {
	if err := a.ensureOpen(); err != nil {
		return nil, err
	}
	results := make([]backend.QueueResult, 0, len(queueURLs))
	for _, queueURL := range queueURLs {
		results = append(results, a.purgeOne(ctx, queueURL))
	}
	return results, nil
}

func (a *Adapter) purgeOne(ctx context.Context, queueURL string) backend.QueueResult {
	ctx, span := tracing.StartBackendSpan(ctx, tracingSystem, "purge", queueURL)
	defer span.End()

	opCtx, cancel := context.WithTimeout(ctx, a.config.OperationTimeout)
	_, err := a.client.PurgeQueue(opCtx, &sqs.PurgeQueueInput{QueueUrl: aws.String(queueURL)})
	cancel()
	if err != nil {
		var inProgress *types.PurgeQueueInProgress
		if errors.As(err, &inProgress) {
			err = fmt.Errorf("purge already in progress: %w", err)
		}
		tracing.RecordError(span, err)
		a.logger.Warn("sqs purge failed", "queue_url", queueURL, "error", err)
		return backend.FailureResult(queueURL, err)
	}
	tracing.RecordSuccess(span)
	a.logger.Info("sqs queue purged", "queue_url", queueURL)
	return backend.SuccessResult(queueURL, backend.StatusPurged)
}

// sourceARNs resolves source queue URLs to ARNs. Sources the caller may not
// read are left out.
func (a *Adapter) sourceARNs(ctx context.Context, urls []string) []string {
	arns := make([]string, 0, len(urls))
	for _, u := range urls {
		arn, err := a.queueARN(ctx, u)
		if err != nil {
			a.logger.Warn("sqs source queue arn unresolved", "queue_url", u, "error", err)
			continue
		}
		arns = append(arns, arn)
	}
	return arns
}

func (a *Adapter) queueARN(ctx context.Context, queueURL string) (string, error) {
	a.mu.RLock()
	arn, ok := a.arns[queueURL]
	a.mu.RUnlock()
	if ok && arn != "" {
		return arn, nil
	}

	opCtx, cancel := context.WithTimeout(ctx, a.config.OperationTimeout)
	defer cancel()
	out, err := a.client.GetQueueAttributes(opCtx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(queueURL),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return "", fmt.Errorf("failed to resolve queue arn: %w", err)
	}
	arn = strings.TrimSpace(out.Attributes[string(types.QueueAttributeNameQueueArn)])
	if arn == "" {
		return "", fmt.Errorf("queue arn not found for %s", queueURL)
	}

	a.mu.Lock()
	a.arns[queueURL] = arn
	a.mu.Unlock()
	return arn, nil
}

// HealthCheck verifies that SQS answers a minimal ListQueues call.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	if err := a.ensureOpen(); err != nil {
		return err
	}
	hcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := a.client.ListQueues(hcCtx, &sqs.ListQueuesInput{MaxResults: aws.Int32(1)}); err != nil {
		return fmt.Errorf("sqs health check failed: %w", err)
	}
	return nil
}

// Close marks the adapter closed.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

func (a *Adapter) ensureOpen() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return backend.ErrClosed
	}
	return nil
}
