package remediation

import "sync"

// Ledger holds the results of the most recently completed action. It is
// replaced wholesale, never merged.
type Ledger struct {
	mu       sync.RWMutex
	sequence uint64
	results  []ActionResult
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Apply replaces the ledger contents unconditionally.
func (l *Ledger) Apply(results []ActionResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.results = append([]ActionResult(nil), results...)
}

// Commit replaces the ledger with the results of request seq unless a later
// request has already been committed. It reports whether the results were written.
func (l *Ledger) Commit(seq uint64, results []ActionResult) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if seq < l.sequence {
		return false
	}
	l.sequence = seq
	l.results = append([]ActionResult(nil), results...)
	return true
}

// Snapshot returns a copy of the current results.
func (l *Ledger) Snapshot() []ActionResult {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]ActionResult(nil), l.results...)
}

// Sequence returns the sequence number of the committed results, zero if none.
func (l *Ledger) Sequence() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sequence
}
