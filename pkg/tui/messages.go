package tui

import "github.com/nimburion/dlqmanager/pkg/remediation"

// Messages with an id field carry a generation counter; Update ignores
// messages whose id is older than the latest request of the same kind.

// queuesLoadedMsg delivers the result of a catalog refresh.
type queuesLoadedMsg struct {
	id     int
	queues []remediation.Queue
	err    error
}

// actionDoneMsg delivers the outcome of Session.Execute. queues is the
// catalog after the action, which differs from before when the session
// refreshes after actions.
type actionDoneMsg struct {
	outcome remediation.Outcome
	err     error
	queues  []remediation.Queue
}

type statusClearMsg struct {
	id int
}
