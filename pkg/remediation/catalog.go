package remediation

import (
	"context"
	"sync"

	"github.com/nimburion/dlqmanager/pkg/backend"
)

// Lister is the part of backend.Backend the catalog needs.
type Lister interface {
	ListDeadLetterQueues(ctx context.Context) ([]backend.QueueInfo, error)
}

// Catalog mirrors the set of queues known to hold dead-lettered messages.
type Catalog struct {
	lister Lister

	mu     sync.RWMutex
	queues []Queue
	index  map[string]struct{}
}

// NewCatalog creates an empty catalog backed by lister.
func NewCatalog(lister Lister) *Catalog {
	return &Catalog{lister: lister, index: map[string]struct{}{}}
}

// Refresh fetches the full catalog and replaces the current one. On error the
// catalog is left untouched and the error is returned as a *TransportError.
func (c *Catalog) Refresh(ctx context.Context) ([]Queue, error) {
	infos, err := c.lister.ListDeadLetterQueues(ctx)
	if err != nil {
		return nil, &TransportError{Op: "list dead-letter queues", Err: err}
	}

	queues := make([]Queue, 0, len(infos))
	index := make(map[string]struct{}, len(infos))
	for _, info := range infos {
		if _, dup := index[info.QueueURL]; dup {
			continue
		}
		index[info.QueueURL] = struct{}{}
		queues = append(queues, queueFromInfo(info))
	}

	c.mu.Lock()
	c.queues = queues
	c.index = index
	c.mu.Unlock()
	return c.Queues(), nil
}

// Queues returns a copy of the catalog in backend order.
func (c *Catalog) Queues() []Queue {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Queue(nil), c.queues...)
}

// Contains reports whether id is in the catalog.
func (c *Catalog) Contains(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.index[id]
	return ok
}

// Len returns the number of queues.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.queues)
}
