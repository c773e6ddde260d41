package remediation

import (
	"context"
	"sync"

	"github.com/nimburion/dlqmanager/pkg/backend"
	"github.com/nimburion/dlqmanager/pkg/observability/logger"
)

// SessionConfig configures a Session.
type SessionConfig struct {
	// RefreshAfterAction re-fetches the catalog after an applied action.
	RefreshAfterAction bool
	Logger             logger.Logger
	Options            []Option
}

// Session is the state owned by one operator surface: catalog, selection,
// chosen action, controller and ledger.
type Session struct {
	catalog    *Catalog
	selection  *Selection
	controller *Controller
	config     SessionConfig
	log        logger.Logger

	mu     sync.RWMutex
	action ActionKind
}

// NewSession wires a session around b.
func NewSession(b backend.Backend, cfg SessionConfig) *Session {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	opts := append([]Option{WithLogger(log)}, cfg.Options...)
	return &Session{
		catalog:    NewCatalog(b),
		selection:  NewSelection(),
		controller: NewController(b, NewLedger(), opts...),
		config:     cfg,
		log:        log,
	}
}

// Refresh reloads the catalog.
func (s *Session) Refresh(ctx context.Context) ([]Queue, error) {
	queues, err := s.catalog.Refresh(ctx)
	if err != nil {
		s.log.Error("catalog refresh failed", "error", err)
		return nil, err
	}
	s.log.Debug("catalog refreshed", "queues", len(queues))
	return queues, nil
}

// Toggle flips the selection state of id.
func (s *Session) Toggle(id string) {
	s.selection.Toggle(id)
}

// SetAction chooses the action kind for the next Execute.
func (s *Session) SetAction(kind ActionKind) {
	s.mu.Lock()
	s.action = kind
	s.mu.Unlock()
}

// Action returns the chosen action kind.
func (s *Session) Action() ActionKind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.action
}

// Execute dispatches the chosen action against the selection. Selected queues
// that are no longer in the catalog are rejected with ErrUnknownQueue.
func (s *Session) Execute(ctx context.Context) (Outcome, error) {
	kind := s.Action()
	targets, err := s.controller.Validate(kind, s.selection.Members(), s.catalog.Contains)
	if err != nil {
		return Outcome{}, err
	}

	outcome, err := s.controller.Execute(ctx, kind, targets)
	if err != nil {
		return outcome, err
	}
	if s.config.RefreshAfterAction && !outcome.Stale && outcome.Err == nil {
		if _, rerr := s.Refresh(ctx); rerr != nil {
			s.log.Warn("post-action refresh failed", "error", rerr)
		}
	}
	return outcome, nil
}

// Queues returns the catalog.
func (s *Session) Queues() []Queue {
	return s.catalog.Queues()
}

// Selected returns the selected queue ids.
func (s *Session) Selected() []string {
	return s.selection.Members()
}

// IsSelected reports whether id is selected.
func (s *Session) IsSelected(id string) bool {
	return s.selection.Contains(id)
}

// Results returns the ledger snapshot.
func (s *Session) Results() []ActionResult {
	return s.controller.Ledger().Snapshot()
}

// Busy reports whether an action is in flight.
func (s *Session) Busy() bool {
	return s.controller.InFlight()
}

// Catalog exposes the underlying catalog.
func (s *Session) Catalog() *Catalog { return s.catalog }

// Selection exposes the underlying selection.
func (s *Session) Selection() *Selection { return s.selection }

// Controller exposes the underlying controller.
func (s *Session) Controller() *Controller { return s.controller }
