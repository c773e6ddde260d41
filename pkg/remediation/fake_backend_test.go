package remediation

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/nimburion/dlqmanager/pkg/backend"
)

type actionFunc func(ctx context.Context, queueURLs []string) ([]backend.QueueResult, error)

type fakeBackend struct {
	mu       sync.Mutex
	queues   []backend.QueueInfo
	listErr  error
	redrive  actionFunc
	purge    actionFunc
	listed   atomic.Int32
	redrives atomic.Int32
	purges   atomic.Int32
}

func newFakeBackend(urls ...string) *fakeBackend {
	f := &fakeBackend{}
	for _, u := range urls {
		f.queues = append(f.queues, backend.QueueInfo{QueueURL: u})
	}
	return f
}

func (f *fakeBackend) ListDeadLetterQueues(context.Context) ([]backend.QueueInfo, error) {
	f.listed.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]backend.QueueInfo(nil), f.queues...), nil
}

func (f *fakeBackend) RedriveQueues(ctx context.Context, queueURLs []string) ([]backend.QueueResult, error) {
	f.redrives.Add(1)
	if f.redrive != nil {
		return f.redrive(ctx, queueURLs)
	}
	return allSucceed(backend.StatusRedriven)(ctx, queueURLs)
}

func (f *fakeBackend) PurgeQueues(ctx context.Context, queueURLs []string) ([]backend.QueueResult, error) {
	f.purges.Add(1)
	if f.purge != nil {
		return f.purge(ctx, queueURLs)
	}
	return allSucceed(backend.StatusPurged)(ctx, queueURLs)
}

func (f *fakeBackend) HealthCheck(context.Context) error { return nil }
func (f *fakeBackend) Close() error                      { return nil }

func (f *fakeBackend) calls() int32 {
	return f.redrives.Load() + f.purges.Load()
}

func allSucceed(status string) actionFunc {
	return func(_ context.Context, queueURLs []string) ([]backend.QueueResult, error) {
		out := make([]backend.QueueResult, 0, len(queueURLs))
		for _, u := range queueURLs {
			out = append(out, backend.SuccessResult(u, status))
		}
		return out, nil
	}
}

// gated blocks until release is closed, signalling entered first.
func gated(entered chan<- struct{}, release <-chan struct{}, fn actionFunc) actionFunc {
	return func(ctx context.Context, queueURLs []string) ([]backend.QueueResult, error) {
		entered <- struct{}{}
		<-release
		return fn(ctx, queueURLs)
	}
}
