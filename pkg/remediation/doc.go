// Package remediation holds the batch-action orchestration core of dlqmanager:
// the queue catalog, the operator selection, the single-flight action
// controller and the ledger of the last completed action.
//
// The core is transport agnostic. It talks to a backend.Backend and is driven
// by a presentation surface (HTTP API, terminal console, one-shot CLI).
package remediation
