package remediation

import (
	"fmt"
	"strings"

	"github.com/nimburion/dlqmanager/pkg/backend"
)

// ActionKind selects the bulk action applied to the selection.
type ActionKind int

const (
	// ActionNone is the unset action kind.
	ActionNone ActionKind = iota
	// ActionRedrive replays dead-lettered messages to their source queue.
	ActionRedrive
	// ActionPurge discards dead-lettered messages.
	ActionPurge
)

// String returns the lowercase action name.
func (k ActionKind) String() string {
	switch k {
	case ActionRedrive:
		return "redrive"
	case ActionPurge:
		return "purge"
	default:
		return "none"
	}
}

// ParseActionKind converts an action name to an ActionKind.
func ParseActionKind(s string) (ActionKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "redrive":
		return ActionRedrive, nil
	case "purge":
		return ActionPurge, nil
	case "", "none":
		return ActionNone, nil
	default:
		return ActionNone, fmt.Errorf("invalid action: %s", s)
	}
}

// Queue is a dead-letter queue known to the catalog.
type Queue struct {
	ID                  string
	ARN                 string
	Sources             []string
	SourceARNs          []string
	ApproximateMessages int64
}

func queueFromInfo(info backend.QueueInfo) Queue {
	return Queue{
		ID:                  info.QueueURL,
		ARN:                 info.QueueARN,
		Sources:             append([]string(nil), info.SourceQueues...),
		SourceARNs:          append([]string(nil), info.SourceQueueARNs...),
		ApproximateMessages: info.ApproximateMessages,
	}
}

// ActionRequest is one dispatched action. It is immutable once built.
type ActionRequest struct {
	Sequence uint64
	Kind     ActionKind
	Targets  []string
}

// ActionResult is the outcome of an action on one queue. QueueID is empty for
// the synthetic entry produced when the whole request failed.
type ActionResult struct {
	QueueID string
	Failed  bool
	Message string
}

// Success builds a successful result.
func Success(queueID, message string) ActionResult {
	return ActionResult{QueueID: queueID, Message: message}
}

// Failure builds a failed result.
func Failure(queueID, message string) ActionResult {
	return ActionResult{QueueID: queueID, Failed: true, Message: message}
}

// String renders the result as "queue: message", or just the message for
// a whole-batch failure.
func (r ActionResult) String() string {
	if r.QueueID == "" {
		return r.Message
	}
	return r.QueueID + ": " + r.Message
}

func resultFromBackend(r backend.QueueResult) ActionResult {
	if r.Failed() {
		return Failure(r.QueueURL, r.Error)
	}
	return Success(r.QueueURL, r.Status)
}

// Outcome is what Execute reports for an accepted request.
type Outcome struct {
	Request ActionRequest
	Results []ActionResult
	// Stale is set when a later request completed first and these results
	// were not written to the ledger.
	Stale bool
	// Err is the transport error behind a synthesized whole-batch failure.
	Err error
}

// Failures counts failed entries.
func (o Outcome) Failures() int {
	n := 0
	for _, r := range o.Results {
		if r.Failed {
			n++
		}
	}
	return n
}
