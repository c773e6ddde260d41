package remediation

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/nimburion/dlqmanager/pkg/backend"
)

type recordingObserver struct {
	mu       sync.Mutex
	rejected []string
	started  int
	finished []Outcome
}

func (o *recordingObserver) ActionRejected(_ ActionKind, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected = append(o.rejected, reason)
}

func (o *recordingObserver) ActionStarted(ActionKind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *recordingObserver) ActionFinished(outcome Outcome, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, outcome)
}

type recordingJournal struct {
	mu       sync.Mutex
	outcomes []Outcome
	err      error
}

func (j *recordingJournal) Record(_ context.Context, outcome Outcome) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.outcomes = append(j.outcomes, outcome)
	return j.err
}

func TestController_ValidationShortCircuit(t *testing.T) {
	tests := []struct {
		name    string
		kind    ActionKind
		targets []string
		wantErr error
	}{
		{name: "no action", kind: ActionNone, targets: []string{"q1"}, wantErr: ErrNoActionSelected},
		{name: "invalid action", kind: ActionKind(42), targets: []string{"q1"}, wantErr: ErrNoActionSelected},
		{name: "empty targets", kind: ActionRedrive, targets: nil, wantErr: ErrEmptySelection},
		{name: "blank targets", kind: ActionPurge, targets: []string{" ", ""}, wantErr: ErrEmptySelection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newFakeBackend()
			obs := &recordingObserver{}
			c := NewController(b, NewLedger(), WithObserver(obs))

			_, err := c.Execute(context.Background(), tt.kind, tt.targets)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if !IsValidation(err) {
				t.Fatalf("expected validation error, got %T", err)
			}
			if b.calls() != 0 {
				t.Fatalf("backend must not be called, got %d calls", b.calls())
			}
			if c.InFlight() || c.State() != StateIdle {
				t.Fatalf("controller must return to idle, state=%s", c.State())
			}
			if len(obs.rejected) != 1 || obs.started != 0 {
				t.Fatalf("unexpected observer events: %+v", obs)
			}
		})
	}
}

func TestController_RedriveScenarioWithPartialFailure(t *testing.T) {
	b := newFakeBackend("q1", "q2", "q3")
	b.redrive = func(_ context.Context, urls []string) ([]backend.QueueResult, error) {
		if !reflect.DeepEqual(urls, []string{"q1", "q3"}) {
			t.Errorf("unexpected targets: %v", urls)
		}
		return []backend.QueueResult{
			{QueueURL: "q1", Status: "redriven"},
			{QueueURL: "q3", Error: "throttled"},
		}, nil
	}
	ledger := NewLedger()
	c := NewController(b, ledger)

	outcome, err := c.Execute(context.Background(), ActionRedrive, []string{"q1", "q3"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	want := []ActionResult{Success("q1", "redriven"), Failure("q3", "throttled")}
	if !reflect.DeepEqual(ledger.Snapshot(), want) {
		t.Fatalf("unexpected ledger: %+v", ledger.Snapshot())
	}
	if outcome.Stale || outcome.Err != nil || outcome.Failures() != 1 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if outcome.Request.Sequence != 1 || outcome.Request.Kind != ActionRedrive {
		t.Fatalf("unexpected request: %+v", outcome.Request)
	}
	if b.purges.Load() != 0 || b.redrives.Load() != 1 {
		t.Fatalf("expected exactly one redrive call")
	}
}

func TestController_PurgeDispatchesPurge(t *testing.T) {
	b := newFakeBackend("q1")
	c := NewController(b, NewLedger())
	outcome, err := c.Execute(context.Background(), ActionPurge, []string{"q1", "q1"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if b.purges.Load() != 1 || b.redrives.Load() != 0 {
		t.Fatal("expected exactly one purge call")
	}
	if len(outcome.Request.Targets) != 1 {
		t.Fatalf("duplicate targets must collapse, got %v", outcome.Request.Targets)
	}
	if outcome.Results[0].Message != backend.StatusPurged {
		t.Fatalf("unexpected result: %+v", outcome.Results)
	}
}

func TestController_TransportFailureSynthesizesSingleEntry(t *testing.T) {
	b := newFakeBackend("q1", "q2")
	cause := errors.New("connection reset")
	b.redrive = func(context.Context, []string) ([]backend.QueueResult, error) { return nil, cause }
	journal := &recordingJournal{err: errors.New("journal down")}
	ledger := NewLedger()
	c := NewController(b, ledger, WithJournal(journal))

	outcome, err := c.Execute(context.Background(), ActionRedrive, []string{"q1", "q2"})
	if err != nil {
		t.Fatalf("transport failure must not be returned as error, got %v", err)
	}
	if !errors.Is(outcome.Err, cause) {
		t.Fatalf("expected cause in outcome, got %v", outcome.Err)
	}
	var terr *TransportError
	if !errors.As(outcome.Err, &terr) {
		t.Fatalf("expected TransportError, got %T", outcome.Err)
	}
	want := []ActionResult{Failure("", FailedActionMessage)}
	if !reflect.DeepEqual(ledger.Snapshot(), want) {
		t.Fatalf("unexpected ledger: %+v", ledger.Snapshot())
	}
	if len(journal.outcomes) != 1 {
		t.Fatal("journal must be called even when it fails")
	}
	if c.InFlight() {
		t.Fatal("controller must return to idle")
	}
}

func TestController_SingleFlight(t *testing.T) {
	b := newFakeBackend("q1", "q2")
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	b.redrive = gated(entered, release, allSucceed("redriven"))
	obs := &recordingObserver{}
	ledger := NewLedger()
	c := NewController(b, ledger, WithObserver(obs))

	done := make(chan error, 1)
	go func() {
		_, err := c.Execute(context.Background(), ActionRedrive, []string{"q1"})
		done <- err
	}()
	<-entered

	if !c.InFlight() || c.State() != StateInFlight {
		t.Fatalf("expected in-flight state, got %s", c.State())
	}
	_, err := c.Execute(context.Background(), ActionPurge, []string{"q2"})
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if b.calls() != 1 {
		t.Fatalf("busy call must not reach backend, got %d calls", b.calls())
	}
	if len(ledger.Snapshot()) != 0 {
		t.Fatal("busy call must not alter ledger")
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first execute: %v", err)
	}
	if got := ledger.Snapshot(); len(got) != 1 || got[0].QueueID != "q1" {
		t.Fatalf("unexpected ledger: %+v", got)
	}
	if len(obs.rejected) != 1 || obs.rejected[0] != "busy" {
		t.Fatalf("expected busy rejection, got %v", obs.rejected)
	}

	if _, err := c.Execute(context.Background(), ActionPurge, []string{"q2"}); err != nil {
		t.Fatalf("controller must be reusable: %v", err)
	}
}

func TestController_InvalidCallDoesNotClaimBusyFlag(t *testing.T) {
	b := newFakeBackend("q1")
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	b.redrive = gated(entered, release, allSucceed("redriven"))
	obs := &recordingObserver{}
	c := NewController(b, NewLedger(), WithObserver(obs))

	done := make(chan error, 1)
	go func() {
		_, err := c.Execute(context.Background(), ActionRedrive, []string{"q1"})
		done <- err
	}()
	<-entered

	if _, err := c.Execute(context.Background(), ActionNone, []string{"q1"}); !errors.Is(err, ErrNoActionSelected) {
		t.Fatalf("expected ErrNoActionSelected while busy, got %v", err)
	}
	if _, err := c.Execute(context.Background(), ActionPurge, nil); !errors.Is(err, ErrEmptySelection) {
		t.Fatalf("expected ErrEmptySelection while busy, got %v", err)
	}
	if !c.InFlight() || c.State() != StateInFlight {
		t.Fatalf("running call must keep the controller, state=%s", c.State())
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first execute: %v", err)
	}
	want := []string{"no_action_selected", "empty_selection"}
	if !reflect.DeepEqual(obs.rejected, want) {
		t.Fatalf("rejections = %v, want %v", obs.rejected, want)
	}

	// Invalid calls never hold the flag, so a valid call right after succeeds.
	for i := 0; i < 3; i++ {
		if _, err := c.Execute(context.Background(), ActionNone, nil); err == nil {
			t.Fatal("expected validation error")
		}
		if c.InFlight() {
			t.Fatal("invalid call must not claim the controller")
		}
	}
	if _, err := c.Execute(context.Background(), ActionRedrive, []string{"q1"}); err != nil {
		t.Fatalf("valid call after rejections: %v", err)
	}
}

func TestController_ValidateKnownQueues(t *testing.T) {
	obs := &recordingObserver{}
	c := NewController(newFakeBackend(), NewLedger(), WithObserver(obs))
	known := func(id string) bool { return id == "q1" }

	targets, err := c.Validate(ActionPurge, []string{" q1 ", "q1"}, known)
	if err != nil || !reflect.DeepEqual(targets, []string{"q1"}) {
		t.Fatalf("Validate() = %v, %v", targets, err)
	}
	_, err = c.Validate(ActionPurge, []string{"q1", "gone"}, known)
	var verr *ValidationError
	if !errors.As(err, &verr) || !errors.Is(err, ErrUnknownQueue) || !reflect.DeepEqual(verr.Queues, []string{"gone"}) {
		t.Fatalf("expected unknown queue error naming gone, got %v", err)
	}
	if !reflect.DeepEqual(obs.rejected, []string{"unknown_queue"}) {
		t.Fatalf("rejections = %v", obs.rejected)
	}
}

func TestController_StaleResultsAreDiscarded(t *testing.T) {
	ledger := NewLedger()
	seq := &Sequencer{}

	enteredA, releaseA := make(chan struct{}, 1), make(chan struct{})
	enteredB, releaseB := make(chan struct{}, 1), make(chan struct{})

	backendA := newFakeBackend()
	backendA.redrive = gated(enteredA, releaseA, allSucceed("from A"))
	backendB := newFakeBackend()
	backendB.purge = gated(enteredB, releaseB, allSucceed("from B"))

	obs := &recordingObserver{}
	controllerA := NewController(backendA, ledger, WithSequencer(seq), WithObserver(obs))
	controllerB := NewController(backendB, ledger, WithSequencer(seq))

	outA := make(chan Outcome, 1)
	go func() {
		o, _ := controllerA.Execute(context.Background(), ActionRedrive, []string{"qa"})
		outA <- o
	}()
	<-enteredA

	outB := make(chan Outcome, 1)
	go func() {
		o, _ := controllerB.Execute(context.Background(), ActionPurge, []string{"qb"})
		outB <- o
	}()
	<-enteredB

	close(releaseB)
	b := <-outB
	if b.Stale || b.Request.Sequence != 2 {
		t.Fatalf("B must be applied with sequence 2: %+v", b)
	}

	close(releaseA)
	a := <-outA
	if !a.Stale || a.Request.Sequence != 1 {
		t.Fatalf("A must be discarded as stale: %+v", a)
	}

	got := ledger.Snapshot()
	if len(got) != 1 || got[0].QueueID != "qb" || got[0].Message != "from B" {
		t.Fatalf("stale results overwrote ledger: %+v", got)
	}
	if len(obs.finished) != 1 || !obs.finished[0].Stale {
		t.Fatalf("observer must see the stale outcome: %+v", obs.finished)
	}
}

func TestController_SequentialActionsReplaceLedger(t *testing.T) {
	b := newFakeBackend("q1", "q2", "q3")
	ledger := NewLedger()
	c := NewController(b, ledger)

	if _, err := c.Execute(context.Background(), ActionRedrive, []string{"q1", "q2"}); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := c.Execute(context.Background(), ActionPurge, []string{"q3"}); err != nil {
		t.Fatalf("second: %v", err)
	}
	want := []ActionResult{Success("q3", backend.StatusPurged)}
	if !reflect.DeepEqual(ledger.Snapshot(), want) {
		t.Fatalf("expected only second action results, got %+v", ledger.Snapshot())
	}
	if ledger.Sequence() != 2 {
		t.Fatalf("expected sequence 2, got %d", ledger.Sequence())
	}
}

func TestActionKind_Parse(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want ActionKind
	}{
		{"redrive", ActionRedrive},
		{" PURGE ", ActionPurge},
		{"", ActionNone},
	} {
		got, err := ParseActionKind(tt.in)
		if err != nil || got != tt.want {
			t.Fatalf("ParseActionKind(%q) = %v, %v", tt.in, got, err)
		}
	}
	if _, err := ParseActionKind("delete"); err == nil {
		t.Fatal("expected error for unknown action")
	}
}
