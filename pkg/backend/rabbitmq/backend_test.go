package rabbitmq

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nimburion/dlqmanager/pkg/backend"
)

type published struct {
	key string
	msg amqp.Publishing
}

// fakeBroker keeps ready messages per queue and records acks and publishes.
type fakeBroker struct {
	mu         sync.Mutex
	queues     map[string][]amqp.Delivery
	published  []published
	acked      []uint64
	nacked     []uint64
	publishErr error
	nackAll    bool
	channelErr error
	closed     bool
	nextTag    uint64
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{queues: map[string][]amqp.Delivery{}}
}

func (f *fakeBroker) add(queue string, d amqp.Delivery) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextTag++
	d.DeliveryTag = f.nextTag
	d.Acknowledger = f
	f.queues[queue] = append(f.queues[queue], d)
}

func (f *fakeBroker) declare(names ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range names {
		if _, ok := f.queues[n]; !ok {
			f.queues[n] = nil
		}
	}
}

func (f *fakeBroker) Ack(tag uint64, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, tag)
	return nil
}

func (f *fakeBroker) Nack(tag uint64, _ bool, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacked = append(f.nacked, tag)
	return nil
}

func (f *fakeBroker) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

func (f *fakeBroker) Channel() (Channel, error) {
	if f.channelErr != nil {
		return nil, f.channelErr
	}
	return &fakeChannel{broker: f}, nil
}

func (f *fakeBroker) IsClosed() bool { return f.closed }

func (f *fakeBroker) Close() error {
	f.closed = true
	return nil
}

type fakeChannel struct {
	broker  *fakeBroker
	confirm bool
	returns []chan amqp.Return
}

type fakeConfirmation struct {
	acked bool
}

func (c fakeConfirmation) WaitContext(context.Context) (bool, error) { return c.acked, nil }

func (c *fakeChannel) QueueDeclarePassive(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	msgs, ok := c.broker.queues[name]
	if !ok {
		return amqp.Queue{}, &amqp.Error{Code: amqp.NotFound, Reason: "NOT_FOUND - no queue '" + name + "'"}
	}
	return amqp.Queue{Name: name, Messages: len(msgs)}, nil
}

func (c *fakeChannel) Get(queue string, _ bool) (amqp.Delivery, bool, error) {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	msgs := c.broker.queues[queue]
	if len(msgs) == 0 {
		return amqp.Delivery{}, false, nil
	}
	d := msgs[0]
	c.broker.queues[queue] = msgs[1:]
	return d, true, nil
}

func (c *fakeChannel) Confirm(bool) error {
	c.confirm = true
	return nil
}

func (c *fakeChannel) NotifyReturn(ch chan amqp.Return) chan amqp.Return {
	c.returns = append(c.returns, ch)
	return ch
}

// PublishWithDeferredConfirmWithContext routes like the default exchange: a
// publish to a missing queue is dropped, or returned when mandatory, and
// still confirmed.
func (c *fakeChannel) PublishWithDeferredConfirmWithContext(_ context.Context, exchange, key string, mandatory, _ bool, msg amqp.Publishing) (Confirmation, error) {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	if c.broker.publishErr != nil {
		return nil, c.broker.publishErr
	}
	if !c.confirm {
		return nil, errors.New("channel is not in confirm mode")
	}
	if exchange != "" {
		return nil, errors.New("unexpected exchange " + exchange)
	}
	if c.broker.nackAll {
		return fakeConfirmation{acked: false}, nil
	}
	if _, ok := c.broker.queues[key]; !ok {
		if mandatory {
			for _, r := range c.returns {
				r <- amqp.Return{ReplyCode: amqp.NoRoute, ReplyText: "NO_ROUTE", RoutingKey: key, Body: msg.Body}
			}
		}
		return fakeConfirmation{acked: true}, nil
	}
	c.broker.published = append(c.broker.published, published{key: key, msg: msg})
	c.broker.queues[key] = append(c.broker.queues[key], amqp.Delivery{Headers: msg.Headers, Body: msg.Body})
	return fakeConfirmation{acked: true}, nil
}

func (c *fakeChannel) QueuePurge(name string, _ bool) (int, error) {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	msgs, ok := c.broker.queues[name]
	if !ok {
		return 0, &amqp.Error{Code: amqp.NotFound, Reason: "NOT_FOUND - no queue '" + name + "'"}
	}
	c.broker.queues[name] = nil
	return len(msgs), nil
}

func (c *fakeChannel) Close() error { return nil }

func dead(source string, body string) amqp.Delivery {
	return amqp.Delivery{
		Headers: amqp.Table{
			"tenant": "acme",
			deathHeader: []interface{}{
				amqp.Table{"queue": source, "reason": "rejected", "count": int64(1)},
			},
		},
		ContentType: "application/json",
		MessageId:   body,
		Body:        []byte(body),
	}
}

func TestConfigNormalize(t *testing.T) {
	cfg := Config{Queues: []string{" orders.dlq ", "", "orders.dlq", "billing.dlq"}}
	cfg.normalize()

	if cfg.OperationTimeout != defaultOperationTimeout || cfg.MaxRedrive != defaultMaxRedrive {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if strings.Join(cfg.Queues, ",") != "orders.dlq,billing.dlq" {
		t.Fatalf("unexpected queues: %v", cfg.Queues)
	}
}

func TestNew_ValidationErrors(t *testing.T) {
	if _, err := New(Config{Queues: []string{"q"}}, nil); err == nil || !strings.Contains(err.Error(), "url is required") {
		t.Fatalf("expected missing url error, got %v", err)
	}
	if _, err := New(Config{URL: "amqp://localhost"}, nil); err == nil || !strings.Contains(err.Error(), "queue is required") {
		t.Fatalf("expected missing queues error, got %v", err)
	}
}

func TestListDeadLetterQueues(t *testing.T) {
	broker := newFakeBroker()
	broker.add("orders.dlq", dead("orders", "m1"))
	broker.add("orders.dlq", dead("orders", "m2"))
	broker.queues["billing.dlq"] = nil

	b := NewWithConnection(broker, Config{Queues: []string{"orders.dlq", "billing.dlq"}}, nil)
	queues, err := b.ListDeadLetterQueues(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(queues) != 1 || queues[0].QueueURL != "orders.dlq" || queues[0].ApproximateMessages != 2 {
		t.Fatalf("unexpected queues: %+v", queues)
	}
}

func TestListDeadLetterQueues_MissingQueue(t *testing.T) {
	b := NewWithConnection(newFakeBroker(), Config{Queues: []string{"ghost.dlq"}}, nil)
	_, err := b.ListDeadLetterQueues(context.Background())

	var amqpErr *amqp.Error
	if !errors.As(err, &amqpErr) || amqpErr.Code != amqp.NotFound {
		t.Fatalf("expected wrapped not-found error, got %v", err)
	}
}

func TestRedriveQueues(t *testing.T) {
	broker := newFakeBroker()
	broker.declare("orders", "orders-priority")
	broker.add("orders.dlq", dead("orders", "m1"))
	broker.add("orders.dlq", dead("orders-priority", "m2"))

	b := NewWithConnection(broker, Config{Queues: []string{"orders.dlq"}}, nil)
	results, err := b.RedriveQueues(context.Background(), []string{"orders.dlq", "ghost.dlq"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected one result per queue, got %+v", results)
	}
	if results[0] != backend.SuccessResult("orders.dlq", backend.StatusRedriven) {
		t.Errorf("unexpected first result: %+v", results[0])
	}
	if !results[1].Failed() || !strings.Contains(results[1].Error, "NOT_FOUND") {
		t.Errorf("expected not-found failure, got %+v", results[1])
	}

	if len(broker.published) != 2 {
		t.Fatalf("expected two republished messages, got %d", len(broker.published))
	}
	if broker.published[0].key != "orders" || broker.published[1].key != "orders-priority" {
		t.Errorf("unexpected routing keys: %q, %q", broker.published[0].key, broker.published[1].key)
	}
	msg := broker.published[0].msg
	if string(msg.Body) != "m1" || msg.MessageId != "m1" || msg.ContentType != "application/json" {
		t.Errorf("message properties not preserved: %+v", msg)
	}
	if msg.Headers["tenant"] != "acme" || msg.Headers[replayHeader] != true {
		t.Errorf("unexpected headers: %v", msg.Headers)
	}
	if len(broker.acked) != 2 || len(broker.queues["orders.dlq"]) != 0 {
		t.Errorf("expected both deliveries acked, acked=%v remaining=%d", broker.acked, len(broker.queues["orders.dlq"]))
	}
}

func TestRedriveQueues_MissingDeathHeader(t *testing.T) {
	broker := newFakeBroker()
	broker.declare("orders")
	broker.add("orders.dlq", dead("orders", "m1"))
	broker.add("orders.dlq", amqp.Delivery{Body: []byte("orphan")})

	b := NewWithConnection(broker, Config{Queues: []string{"orders.dlq"}}, nil)
	results, err := b.RedriveQueues(context.Background(), []string{"orders.dlq"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !results[0].Failed() || !strings.Contains(results[0].Error, ErrNoDeathHeader.Error()) {
		t.Fatalf("expected missing x-death failure, got %+v", results[0])
	}
	if len(broker.published) != 1 || len(broker.acked) != 1 || len(broker.nacked) != 1 {
		t.Fatalf("expected one moved and one requeued, published=%d acked=%v nacked=%v",
			len(broker.published), broker.acked, broker.nacked)
	}
}

func TestRedriveQueues_PublishFailureRequeues(t *testing.T) {
	broker := newFakeBroker()
	broker.add("orders.dlq", dead("orders", "m1"))
	broker.publishErr = errors.New("channel closed")

	b := NewWithConnection(broker, Config{Queues: []string{"orders.dlq"}}, nil)
	results, err := b.RedriveQueues(context.Background(), []string{"orders.dlq"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !results[0].Failed() || !strings.Contains(results[0].Error, "republish to orders") {
		t.Fatalf("expected republish failure, got %+v", results[0])
	}
	if len(broker.acked) != 0 || len(broker.nacked) != 1 {
		t.Fatalf("expected delivery requeued, acked=%v nacked=%v", broker.acked, broker.nacked)
	}
}

func TestRedriveQueues_MissingSourceQueueKeepsMessage(t *testing.T) {
	broker := newFakeBroker()
	broker.add("orders.dlq", dead("orders-retired", "m1"))

	b := NewWithConnection(broker, Config{Queues: []string{"orders.dlq"}}, nil)
	results, err := b.RedriveQueues(context.Background(), []string{"orders.dlq"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !results[0].Failed() || !strings.Contains(results[0].Error, ErrUnroutable.Error()) {
		t.Fatalf("expected unroutable failure, got %+v", results[0])
	}
	if len(broker.acked) != 0 || len(broker.nacked) != 1 {
		t.Fatalf("delivery must be requeued, acked=%v nacked=%v", broker.acked, broker.nacked)
	}
	if len(broker.published) != 0 {
		t.Fatalf("nothing may be routed, got %d", len(broker.published))
	}
}

func TestRedriveQueues_NackedConfirmKeepsMessage(t *testing.T) {
	broker := newFakeBroker()
	broker.declare("orders")
	broker.add("orders.dlq", dead("orders", "m1"))
	broker.nackAll = true

	b := NewWithConnection(broker, Config{Queues: []string{"orders.dlq"}}, nil)
	results, err := b.RedriveQueues(context.Background(), []string{"orders.dlq"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !results[0].Failed() || !strings.Contains(results[0].Error, ErrPublishNacked.Error()) {
		t.Fatalf("expected nacked confirm failure, got %+v", results[0])
	}
	if len(broker.acked) != 0 || len(broker.nacked) != 1 {
		t.Fatalf("delivery must be requeued, acked=%v nacked=%v", broker.acked, broker.nacked)
	}
}

func TestRedriveQueues_BoundedByMaxRedrive(t *testing.T) {
	broker := newFakeBroker()
	broker.declare("orders")
	for i := 0; i < 5; i++ {
		broker.add("orders.dlq", dead("orders", "m"))
	}

	b := NewWithConnection(broker, Config{Queues: []string{"orders.dlq"}, MaxRedrive: 3}, nil)
	if _, err := b.RedriveQueues(context.Background(), []string{"orders.dlq"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(broker.published) != 3 || len(broker.queues["orders.dlq"]) != 2 {
		t.Fatalf("expected three moved and two left, published=%d left=%d", len(broker.published), len(broker.queues["orders.dlq"]))
	}
}

func TestPurgeQueues(t *testing.T) {
	broker := newFakeBroker()
	broker.add("orders.dlq", dead("orders", "m1"))

	b := NewWithConnection(broker, Config{Queues: []string{"orders.dlq"}}, nil)
	results, err := b.PurgeQueues(context.Background(), []string{"orders.dlq", "ghost.dlq", " "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[0] != backend.SuccessResult("orders.dlq", backend.StatusPurged) {
		t.Errorf("unexpected first result: %+v", results[0])
	}
	if !results[1].Failed() || !results[2].Failed() {
		t.Errorf("expected failures for missing and blank queues: %+v", results[1:])
	}
	if len(broker.queues["orders.dlq"]) != 0 {
		t.Error("expected queue to be empty")
	}
}

func TestChannelFailureIsPerQueue(t *testing.T) {
	broker := newFakeBroker()
	broker.channelErr = errors.New("connection reset")

	b := NewWithConnection(broker, Config{Queues: []string{"orders.dlq"}}, nil)
	results, err := b.PurgeQueues(context.Background(), []string{"orders.dlq"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !results[0].Failed() || !strings.Contains(results[0].Error, "open channel") {
		t.Fatalf("expected channel failure, got %+v", results[0])
	}
	if err := b.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected health check failure")
	}
}

func TestSourceQueue(t *testing.T) {
	tests := []struct {
		name    string
		headers amqp.Table
		want    string
		ok      bool
	}{
		{name: "first death wins", headers: amqp.Table{deathHeader: []interface{}{amqp.Table{"queue": "a"}, amqp.Table{"queue": "b"}}}, want: "a", ok: true},
		{name: "no headers", headers: nil},
		{name: "empty list", headers: amqp.Table{deathHeader: []interface{}{}}},
		{name: "wrong type", headers: amqp.Table{deathHeader: "orders"}},
		{name: "blank queue", headers: amqp.Table{deathHeader: []interface{}{amqp.Table{"queue": " "}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := sourceQueue(tt.headers)
			if got != tt.want || ok != tt.ok {
				t.Fatalf("sourceQueue() = %q, %v; want %q, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestClosedBackend(t *testing.T) {
	broker := newFakeBroker()
	b := NewWithConnection(broker, Config{Queues: []string{"orders.dlq"}}, nil)
	if err := b.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if !broker.closed {
		t.Fatal("expected connection closed")
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second close must be a no-op, got %v", err)
	}

	ctx := context.Background()
	if _, err := b.ListDeadLetterQueues(ctx); !errors.Is(err, backend.ErrClosed) {
		t.Errorf("list: expected ErrClosed, got %v", err)
	}
	if _, err := b.RedriveQueues(ctx, []string{"orders.dlq"}); !errors.Is(err, backend.ErrClosed) {
		t.Errorf("redrive: expected ErrClosed, got %v", err)
	}
	if _, err := b.PurgeQueues(ctx, []string{"orders.dlq"}); !errors.Is(err, backend.ErrClosed) {
		t.Errorf("purge: expected ErrClosed, got %v", err)
	}
	if err := b.HealthCheck(ctx); !errors.Is(err, backend.ErrClosed) {
		t.Errorf("health: expected ErrClosed, got %v", err)
	}
}
