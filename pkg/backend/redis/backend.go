// Package redis implements backend.Backend on the Redis jobs dead-letter layout.
//
// Dead-lettered jobs of queue Q are stored as:
//
//	<prefix>:dlq:index:Q          sorted set of entry ids scored by failure time (ms)
//	<prefix>:dlq:entry:Q:<id>     JSON record {id, queue, original_queue, job, reason, failed_at}
//
// Redrive pushes each job back to <prefix>:queue:<original_queue>:ready wrapped
// as {"job": ...}; purge deletes the index and every entry.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nimburion/dlqmanager/pkg/backend"
	"github.com/nimburion/dlqmanager/pkg/observability/logger"
	"github.com/nimburion/dlqmanager/pkg/observability/tracing"
)

const (
	defaultPrefix           = "nimburion:jobs"
	defaultOperationTimeout = 5 * time.Second
	defaultScanCount        = 100
	tracingSystem           = "redis"
	replayHeader            = "dlq_replay"
)

// ErrMalformedEntries is reported when a redrive leaves entries it could not
// decode in the dead-letter queue.
var ErrMalformedEntries = errors.New("malformed dead-letter entries were not redriven")

// Config configures the Redis backend.
type Config struct {
	URL              string
	Prefix           string
	OperationTimeout time.Duration
	ScanCount        int64
}

func (c *Config) normalize() {
	if strings.TrimSpace(c.Prefix) == "" {
		c.Prefix = defaultPrefix
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultOperationTimeout
	}
	if c.ScanCount <= 0 {
		c.ScanCount = defaultScanCount
	}
}

type dlqRecord struct {
	ID            string          `json:"id"`
	Queue         string          `json:"queue"`
	OriginalQueue string          `json:"original_queue"`
	Job           json.RawMessage `json:"job"`
	Reason        string          `json:"reason"`
	FailedAt      time.Time       `json:"failed_at"`
}

type jobEnvelope struct {
	Job map[string]any `json:"job"`
}

// Backend reads and remediates Redis dead-letter queues. Queue identifiers are
// the original queue names used in the index keys.
type Backend struct {
	client redis.UniversalClient
	log    logger.Logger
	config Config

	mu     sync.RWMutex
	closed bool
}

// New connects to Redis and verifies the connection with PING.
func New(cfg Config, log logger.Logger) (*Backend, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("redis url is required")
	}
	cfg.normalize()

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url failed: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.OperationTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis failed: %w", err)
	}

	b := NewWithClient(client, cfg, log)
	b.log.Info("redis backend initialized", "prefix", b.prefix())
	return b, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient, cfg Config, log logger.Logger) *Backend {
	cfg.normalize()
	if log == nil {
		log = logger.NewNop()
	}
	return &Backend{client: client, log: log, config: cfg}
}

// ListDeadLetterQueues scans the dead-letter indexes and returns one entry per
// non-empty queue, sorted by name.
func (b *Backend) ListDeadLetterQueues(ctx context.Context) ([]backend.QueueInfo, error) {
	if err := b.ensureOpen(); err != nil {
		return nil, err
	}
	ctx, span := tracing.StartBackendSpan(ctx, tracingSystem, "list", "")
	defer span.End()

	indexPrefix := b.dlqIndexKey("")
	var names []string
	var cursor uint64
	for {
		opCtx, cancel := b.operationContext(ctx)
		keys, next, err := b.client.Scan(opCtx, cursor, indexPrefix+"*", b.config.ScanCount).Result()
		cancel()
		if err != nil {
			tracing.RecordError(span, err)
			return nil, fmt.Errorf("scan dlq indexes failed: %w", err)
		}
		for _, key := range keys {
			names = append(names, strings.TrimPrefix(key, indexPrefix))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Strings(names)

	queues := make([]backend.QueueInfo, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup || name == "" {
			continue
		}
		seen[name] = struct{}{}

		opCtx, cancel := b.operationContext(ctx)
		count, err := b.client.ZCard(opCtx, b.dlqIndexKey(name)).Result()
		cancel()
		if err != nil {
			tracing.RecordError(span, err)
			return nil, fmt.Errorf("count dlq %s failed: %w", name, err)
		}
		if count == 0 {
			continue
		}
		queues = append(queues, backend.QueueInfo{
			QueueURL:            name,
			QueueARN:            b.dlqIndexKey(name),
			SourceQueues:        []string{name},
			ApproximateMessages: count,
		})
	}
	tracing.RecordSuccess(span)
	return queues, nil
}

// RedriveQueues replays every entry of each queue to its original ready list.
func (b *Backend) RedriveQueues(ctx context.Context, queueURLs []string) ([]backend.QueueResult, error) {
	if err := b.ensureOpen(); err != nil {
		return nil, err
	}
	results := make([]backend.QueueResult, 0, len(queueURLs))
	for _, queue := range queueURLs {
		replayed, err := b.replay(ctx, queue)
		if err != nil {
			b.log.Warn("redis redrive failed", "queue", queue, "replayed", replayed, "error", err)
			results = append(results, backend.FailureResult(queue, err))
			continue
		}
		b.log.Info("redis dlq redriven", "queue", queue, "replayed", replayed)
		results = append(results, backend.SuccessResult(queue, backend.StatusRedriven))
	}
	return results, nil
}

func (b *Backend) replay(ctx context.Context, queue string) (int, error) {
	ctx, span := tracing.StartBackendSpan(ctx, tracingSystem, "redrive", queue)
	defer span.End()

	queue = strings.TrimSpace(queue)
	if queue == "" {
		err := errors.New("queue is required")
		tracing.RecordError(span, err)
		return 0, err
	}

	opCtx, cancel := b.operationContext(ctx)
	ids, err := b.client.ZRange(opCtx, b.dlqIndexKey(queue), 0, -1).Result()
	cancel()
	if err != nil {
		tracing.RecordError(span, err)
		return 0, err
	}
	if len(ids) == 0 {
		err := fmt.Errorf("dead-letter queue %s not found", queue)
		tracing.RecordError(span, err)
		return 0, err
	}

	replayed, skipped := 0, 0
	for _, id := range ids {
		opCtx, cancel := b.operationContext(ctx)
		raw, err := b.client.Get(opCtx, b.dlqEntryKey(queue, id)).Result()
		cancel()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			tracing.RecordError(span, err)
			return replayed, err
		}

		var record dlqRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			b.log.Warn("skipping malformed dlq entry", "queue", queue, "id", id, "error", err)
			skipped++
			continue
		}
		target := strings.TrimSpace(record.OriginalQueue)
		if target == "" {
			target = queue
		}
		encoded, err := replayEnvelope(record.Job, target)
		if err != nil {
			b.log.Warn("skipping undecodable dlq job", "queue", queue, "id", id, "error", err)
			skipped++
			continue
		}

		opCtx, cancel = b.operationContext(ctx)
		_, err = b.client.TxPipelined(opCtx, func(pipe redis.Pipeliner) error {
			pipe.RPush(opCtx, b.readyKey(target), encoded)
			pipe.ZRem(opCtx, b.dlqIndexKey(queue), id)
			pipe.Del(opCtx, b.dlqEntryKey(queue, id))
			return nil
		})
		cancel()
		if err != nil {
			tracing.RecordError(span, err)
			return replayed, err
		}
		replayed++
	}
	if skipped > 0 {
		err := fmt.Errorf("%w: %d of %d left in %s", ErrMalformedEntries, skipped, len(ids), queue)
		tracing.RecordError(span, err)
		return replayed, err
	}
	tracing.RecordSuccess(span)
	return replayed, nil
}

// replayEnvelope resets the job for a fresh attempt on target and wraps it in
// the ready-list envelope.
func replayEnvelope(raw json.RawMessage, target string) (string, error) {
	job := map[string]any{}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &job); err != nil {
			return "", err
		}
	}
	headers, _ := job["Headers"].(map[string]any)
	if headers == nil {
		headers = map[string]any{}
	}
	headers[replayHeader] = "true"
	job["Headers"] = headers
	job["Queue"] = target
	job["Attempt"] = 0
	job["RunAt"] = time.Now().UTC()

	encoded, err := json.Marshal(jobEnvelope{Job: job})
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// PurgeQueues deletes every entry of each queue together with its index.
func (b *Backend) PurgeQueues(ctx context.Context, queueURLs []string) ([]backend.QueueResult, error) {
	if err := b.ensureOpen(); err != nil {
		return nil, err
	}
	results := make([]backend.QueueResult, 0, len(queueURLs))
	for _, queue := range queueURLs {
		purged, err := b.purge(ctx, queue)
		if err != nil {
			b.log.Warn("redis purge failed", "queue", queue, "error", err)
			results = append(results, backend.FailureResult(queue, err))
			continue
		}
		b.log.Info("redis dlq purged", "queue", queue, "purged", purged)
		results = append(results, backend.SuccessResult(queue, backend.StatusPurged))
	}
	return results, nil
}

func (b *Backend) purge(ctx context.Context, queue string) (int, error) {
	ctx, span := tracing.StartBackendSpan(ctx, tracingSystem, "purge", queue)
	defer span.End()

	queue = strings.TrimSpace(queue)
	if queue == "" {
		err := errors.New("queue is required")
		tracing.RecordError(span, err)
		return 0, err
	}

	opCtx, cancel := b.operationContext(ctx)
	defer cancel()
	ids, err := b.client.ZRange(opCtx, b.dlqIndexKey(queue), 0, -1).Result()
	if err != nil {
		tracing.RecordError(span, err)
		return 0, err
	}
	if len(ids) == 0 {
		err := fmt.Errorf("dead-letter queue %s not found", queue)
		tracing.RecordError(span, err)
		return 0, err
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, b.dlqEntryKey(queue, id))
	}
	keys = append(keys, b.dlqIndexKey(queue))
	if err := b.client.Del(opCtx, keys...).Err(); err != nil {
		tracing.RecordError(span, err)
		return 0, err
	}
	tracing.RecordSuccess(span)
	return len(ids), nil
}

// HealthCheck verifies Redis connectivity.
func (b *Backend) HealthCheck(ctx context.Context) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	opCtx, cancel := b.operationContext(ctx)
	defer cancel()
	return b.client.Ping(opCtx).Err()
}

// Close closes Redis connections.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	return b.client.Close()
}

func (b *Backend) ensureOpen() error {
	if b == nil || b.client == nil {
		return errors.New("redis backend is not initialized")
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return backend.ErrClosed
	}
	return nil
}

func (b *Backend) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, b.config.OperationTimeout)
}

func (b *Backend) readyKey(queue string) string {
	return b.prefix() + ":queue:" + strings.TrimSpace(queue) + ":ready"
}

func (b *Backend) dlqIndexKey(queue string) string {
	return b.prefix() + ":dlq:index:" + strings.TrimSpace(queue)
}

func (b *Backend) dlqEntryKey(queue, id string) string {
	return b.prefix() + ":dlq:entry:" + strings.TrimSpace(queue) + ":" + strings.TrimSpace(id)
}

func (b *Backend) prefix() string {
	return strings.TrimRight(strings.TrimSpace(b.config.Prefix), ":")
}
