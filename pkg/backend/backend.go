// Package backend defines the contract between the remediation core and the
// queueing system that actually stores dead-lettered messages.
package backend

import (
	"context"
	"errors"
)

// Backend type constants
const (
	// TypeSQS uses AWS SQS dead-letter queues
	TypeSQS = "sqs"
	// TypeRedis uses the Redis jobs dead-letter layout
	TypeRedis = "redis"
	// TypeHTTP calls a remote dlqmanager API
	TypeHTTP = "http"
	// TypeRabbitMQ uses RabbitMQ dead-letter queues
	TypeRabbitMQ = "rabbitmq"
)

// Default per-queue status messages reported by backends on success.
const (
	StatusRedriven = "Redriven successfully"
	StatusPurged   = "Purged successfully"
)

// ErrClosed is returned by backends after Close.
var ErrClosed = errors.New("backend is closed")

// Backend lists dead-letter queues and executes bulk actions on them.
// Redrive and purge return one result per requested queue, in request order;
// a per-queue failure is reported in QueueResult.Error and does not abort the
// remaining queues. A returned error means the call as a whole failed.
type Backend interface {
	// ListDeadLetterQueues returns the queues currently holding dead-lettered messages.
	ListDeadLetterQueues(ctx context.Context) ([]QueueInfo, error)

	// RedriveQueues moves messages of each queue back to its source queue.
	RedriveQueues(ctx context.Context, queueURLs []string) ([]QueueResult, error)

	// PurgeQueues discards every message of each queue.
	PurgeQueues(ctx context.Context, queueURLs []string) ([]QueueResult, error)

	// HealthCheck verifies connectivity to the queueing system.
	HealthCheck(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// QueueInfo describes one dead-letter queue.
type QueueInfo struct {
	QueueURL            string   `json:"queue_url"`
	QueueARN            string   `json:"queue_arn,omitempty"`
	SourceQueues        []string `json:"source_queues,omitempty"`
	SourceQueueARNs     []string `json:"source_queue_arns,omitempty"`
	ApproximateMessages int64    `json:"approximate_messages"`
}

// QueueResult is the outcome of an action on a single queue. Exactly one of
// Status and Error is set.
type QueueResult struct {
	QueueURL string `json:"queue_url"`
	Status   string `json:"status,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Failed reports whether the result carries an error.
func (r QueueResult) Failed() bool {
	return r.Error != ""
}

// SuccessResult builds a success result.
func SuccessResult(queueURL, status string) QueueResult {
	return QueueResult{QueueURL: queueURL, Status: status}
}

// FailureResult builds a failure result from err.
func FailureResult(queueURL string, err error) QueueResult {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return QueueResult{QueueURL: queueURL, Error: msg}
}
