// Package audit records completed remediation actions in DynamoDB.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/nimburion/dlqmanager/pkg/observability/logger"
	"github.com/nimburion/dlqmanager/pkg/remediation"
)

// API is the subset of *dynamodb.Client used by the journal.
type API interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Config holds DynamoDB journal configuration.
type Config struct {
	Table            string
	Region           string
	Endpoint         string
	AccessKeyID      string
	SecretAccessKey  string
	SessionToken     string
	OperationTimeout time.Duration
}

// DynamoJournal writes one item per completed action. The table needs a
// string partition key named "id".
type DynamoJournal struct {
	client  API
	table   string
	timeout time.Duration
	log     logger.Logger
	now     func() time.Time
	newID   func() string

	mu     sync.RWMutex
	closed bool
}

// Cosa fa: costruisce il journal DynamoDB (AWS SDK v2) con supporto endpoint custom.
// Cosa NON fa: non crea la tabella.
// Esempio minimo: journal, err := audit.NewDynamoJournal(cfg, log)
func NewDynamoJournal(cfg Config, log logger.Logger) (*DynamoJournal, error) {
	if cfg.Table == "" {
		return nil, errors.New("audit table is required")
	}
	if cfg.Region == "" {
		return nil, errors.New("aws region is required")
	}

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

	var opts []func(*dynamodb.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	journal := NewDynamoJournalWithClient(dynamodb.NewFromConfig(awsCfg, opts...), cfg.Table, cfg.OperationTimeout, log)
	if err := journal.HealthCheck(context.Background()); err != nil {
		return nil, err
	}
	journal.log.Info("audit journal initialized", "table", cfg.Table, "region", cfg.Region)
	return journal, nil
}

// NewDynamoJournalWithClient wraps an existing client.
func NewDynamoJournalWithClient(client API, table string, timeout time.Duration, log logger.Logger) *DynamoJournal {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &DynamoJournal{
		client:  client,
		table:   table,
		timeout: timeout,
		log:     log,
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}
}

// Record stores outcome as a new item.
func (j *DynamoJournal) Record(ctx context.Context, outcome remediation.Outcome) error {
	if err := j.ensureOpen(); err != nil {
		return err
	}

	item := j.item(ctx, outcome)
	opCtx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()
	if _, err := j.client.PutItem(opCtx, &dynamodb.PutItemInput{
		TableName:           aws.String(j.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	}); err != nil {
		return fmt.Errorf("put audit item: %w", err)
	}
	return nil
}

func (j *DynamoJournal) item(ctx context.Context, outcome remediation.Outcome) map[string]types.AttributeValue {
	targets := make([]types.AttributeValue, 0, len(outcome.Request.Targets))
	for _, target := range outcome.Request.Targets {
		targets = append(targets, &types.AttributeValueMemberS{Value: target})
	}

	results := make([]types.AttributeValue, 0, len(outcome.Results))
	failures := 0
	for _, r := range outcome.Results {
		if r.Failed {
			failures++
		}
		results = append(results, &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"queue_id": &types.AttributeValueMemberS{Value: r.QueueID},
			"failed":   &types.AttributeValueMemberBOOL{Value: r.Failed},
			"message":  &types.AttributeValueMemberS{Value: r.Message},
		}})
	}

	item := map[string]types.AttributeValue{
		"id":          &types.AttributeValueMemberS{Value: j.newID()},
		"sequence":    &types.AttributeValueMemberN{Value: strconv.FormatUint(outcome.Request.Sequence, 10)},
		"kind":        &types.AttributeValueMemberS{Value: outcome.Request.Kind.String()},
		"targets":     &types.AttributeValueMemberL{Value: targets},
		"results":     &types.AttributeValueMemberL{Value: results},
		"failures":    &types.AttributeValueMemberN{Value: strconv.Itoa(failures)},
		"stale":       &types.AttributeValueMemberBOOL{Value: outcome.Stale},
		"recorded_at": &types.AttributeValueMemberS{Value: j.now().UTC().Format(time.RFC3339Nano)},
	}
	if outcome.Err != nil {
		item["error"] = &types.AttributeValueMemberS{Value: outcome.Err.Error()}
	}
	if id := logger.RequestIDFromContext(ctx); id != "" {
		item["request_id"] = &types.AttributeValueMemberS{Value: id}
	}
	return item
}

// HealthCheck verifies the table is reachable.
func (j *DynamoJournal) HealthCheck(ctx context.Context) error {
	if err := j.ensureOpen(); err != nil {
		return err
	}
	hcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := j.client.DescribeTable(hcCtx, &dynamodb.DescribeTableInput{TableName: aws.String(j.table)}); err != nil {
		return fmt.Errorf("dynamodb health check failed: %w", err)
	}
	return nil
}

// Close marks the journal closed.
func (j *DynamoJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closed = true
	return nil
}

func (j *DynamoJournal) ensureOpen() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return errors.New("audit journal is closed")
	}
	return nil
}
