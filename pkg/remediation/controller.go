package remediation

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nimburion/dlqmanager/pkg/backend"
	"github.com/nimburion/dlqmanager/pkg/observability/logger"
	"github.com/nimburion/dlqmanager/pkg/observability/tracing"
)

// State is the controller lifecycle state.
type State int32

const (
	// StateIdle accepts a new Execute call. Validation runs before the
	// controller is claimed, so a rejected call never leaves this state.
	StateIdle State = iota
	// StateInFlight waits for the backend.
	StateInFlight
	// StateCompleted records the outcome before returning to idle.
	StateCompleted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInFlight:
		return "in_flight"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Executor is the part of backend.Backend the controller dispatches to.
type Executor interface {
	RedriveQueues(ctx context.Context, queueURLs []string) ([]backend.QueueResult, error)
	PurgeQueues(ctx context.Context, queueURLs []string) ([]backend.QueueResult, error)
}

// Sequencer hands out monotonically increasing request sequence numbers.
// Controllers sharing a ledger must share a sequencer.
type Sequencer struct {
	n atomic.Uint64
}

// Next returns the next sequence number, starting at 1.
func (s *Sequencer) Next() uint64 {
	return s.n.Add(1)
}

// Observer receives controller lifecycle events, typically for metrics.
type Observer interface {
	ActionRejected(kind ActionKind, reason string)
	ActionStarted(kind ActionKind)
	ActionFinished(outcome Outcome, elapsed time.Duration)
}

// Journal persists completed actions.
type Journal interface {
	Record(ctx context.Context, outcome Outcome) error
}

type noopObserver struct{}

func (noopObserver) ActionRejected(ActionKind, string)     {}
func (noopObserver) ActionStarted(ActionKind)              {}
func (noopObserver) ActionFinished(Outcome, time.Duration) {}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(log logger.Logger) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// WithObserver sets the lifecycle observer.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithJournal records every completed action.
func WithJournal(j Journal) Option {
	return func(c *Controller) {
		c.journal = j
	}
}

// WithSequencer shares a sequencer between controllers writing to the same ledger.
func WithSequencer(s *Sequencer) Option {
	return func(c *Controller) {
		if s != nil {
			c.seq = s
		}
	}
}

// Controller validates and executes one batch action at a time.
type Controller struct {
	exec     Executor
	ledger   *Ledger
	seq      *Sequencer
	log      logger.Logger
	observer Observer
	journal  Journal

	inFlight atomic.Bool
	state    atomic.Int32
}

// NewController creates a controller writing completed results to ledger.
func NewController(exec Executor, ledger *Ledger, opts ...Option) *Controller {
	c := &Controller{
		exec:     exec,
		ledger:   ledger,
		seq:      &Sequencer{},
		log:      logger.NewNop(),
		observer: noopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ledger returns the ledger the controller commits to.
func (c *Controller) Ledger() *Ledger {
	return c.ledger
}

// InFlight reports whether an Execute call is running.
func (c *Controller) InFlight() bool {
	return c.inFlight.Load()
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Validate checks kind and targets without claiming the controller and
// returns the trimmed, de-duplicated targets. When known is non-nil, targets
// it does not recognize are rejected with ErrUnknownQueue. Rejections are
// reported to the observer.
func (c *Controller) Validate(kind ActionKind, targets []string, known func(string) bool) ([]string, error) {
	targets = normalizeTargets(targets)
	verr := validate(kind, targets)
	if verr == nil && known != nil {
		var unknown []string
		for _, id := range targets {
			if !known(id) {
				unknown = append(unknown, id)
			}
		}
		if len(unknown) > 0 {
			verr = unknownQueueError(unknown)
		}
	}
	if verr != nil {
		c.observer.ActionRejected(kind, verr.Code)
		return nil, verr
	}
	return targets, nil
}

// Execute runs kind against targets. It fails with a *ValidationError before
// touching the backend and with ErrBusy while another call is running. A
// transport failure is not returned as an error: the outcome carries a single
// synthetic failure entry and Outcome.Err holds the cause.
func (c *Controller) Execute(ctx context.Context, kind ActionKind, targets []string) (Outcome, error) {
	targets, err := c.Validate(kind, targets, nil)
	if err != nil {
		return Outcome{}, err
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		c.observer.ActionRejected(kind, "busy")
		return Outcome{}, ErrBusy
	}
	defer c.release()

	req := ActionRequest{Sequence: c.seq.Next(), Kind: kind, Targets: targets}
	log := c.log.WithContext(ctx).With("action", kind.String(), "sequence", req.Sequence)
	c.setState(StateInFlight)
	c.observer.ActionStarted(kind)
	log.Info("dispatching action", "queues", len(targets))

	started := time.Now()
	outcome := Outcome{Request: req}
	results, err := c.dispatch(ctx, req)
	c.setState(StateCompleted)
	if err != nil {
		outcome.Err = &TransportError{Op: kind.String() + " queues", Err: err}
		outcome.Results = []ActionResult{Failure("", FailedActionMessage)}
		log.Error("action failed", "error", err)
	} else {
		outcome.Results = make([]ActionResult, 0, len(results))
		for _, r := range results {
			outcome.Results = append(outcome.Results, resultFromBackend(r))
		}
	}

	outcome.Stale = !c.ledger.Commit(req.Sequence, outcome.Results)
	if outcome.Stale {
		log.Warn("discarding stale action results", "ledger_sequence", c.ledger.Sequence())
	} else {
		log.Info("action completed", "results", len(outcome.Results), "failures", outcome.Failures())
	}

	if c.journal != nil {
		if jerr := c.journal.Record(ctx, outcome); jerr != nil {
			log.Error("failed to record action", "error", jerr)
		}
	}
	c.observer.ActionFinished(outcome, time.Since(started))
	return outcome, nil
}

func (c *Controller) dispatch(ctx context.Context, req ActionRequest) ([]backend.QueueResult, error) {
	ctx, span := tracing.StartActionSpan(ctx, req.Kind.String(), req.Sequence, len(req.Targets))
	defer span.End()

	var (
		results []backend.QueueResult
		err     error
	)
	switch req.Kind {
	case ActionRedrive:
		results, err = c.exec.RedriveQueues(ctx, req.Targets)
	case ActionPurge:
		results, err = c.exec.PurgeQueues(ctx, req.Targets)
	}
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	tracing.RecordSuccess(span)
	return results, nil
}

func (c *Controller) release() {
	c.setState(StateIdle)
	c.inFlight.Store(false)
}

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
}

func validate(kind ActionKind, targets []string) *ValidationError {
	if kind != ActionRedrive && kind != ActionPurge {
		return ErrNoActionSelected
	}
	if len(targets) == 0 {
		return ErrEmptySelection
	}
	return nil
}

func normalizeTargets(targets []string) []string {
	out := make([]string, 0, len(targets))
	seen := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
