package remediation

import (
	"errors"
	"fmt"
	"strings"
)

// FailedActionMessage is reported for every request whose backend call failed as a whole.
const FailedActionMessage = "Action failed. Check logs."

var (
	// ErrNoActionSelected is returned when no action kind is chosen.
	ErrNoActionSelected = &ValidationError{Code: "no_action_selected", Message: "please select an action (redrive or purge)"}
	// ErrEmptySelection is returned when no queue is selected.
	ErrEmptySelection = &ValidationError{Code: "empty_selection", Message: "no queues selected"}
	// ErrUnknownQueue is matched by errors.Is for selections that reference queues missing from the catalog.
	ErrUnknownQueue = &ValidationError{Code: "unknown_queue", Message: "selection contains queues not in the catalog"}
	// ErrBusy is returned while another action is in flight.
	ErrBusy = errors.New("another action is in flight")
)

// ValidationError is a caller-correctable rejection raised before any backend call.
type ValidationError struct {
	Code    string
	Message string
	Queues  []string
}

func (e *ValidationError) Error() string {
	if len(e.Queues) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.Queues, ", "))
}

// Is matches validation errors by code so detailed copies still match the sentinels.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func unknownQueueError(queues []string) *ValidationError {
	return &ValidationError{
		Code:    ErrUnknownQueue.Code,
		Message: ErrUnknownQueue.Message,
		Queues:  queues,
	}
}

// TransportError wraps a backend failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
