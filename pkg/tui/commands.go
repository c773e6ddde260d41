package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nimburion/dlqmanager/pkg/remediation"
)

const statusTimeout = 4 * time.Second

func (m Model) refreshCmd(id int) tea.Cmd {
	session, parent := m.session, m.ctx
	return func() tea.Msg {
		queues, err := session.Refresh(parent)
		return queuesLoadedMsg{id: id, queues: queues, err: err}
	}
}

func (m Model) executeCmd() tea.Cmd {
	session, parent, timeout := m.session, m.ctx, m.actionTimeout
	return func() tea.Msg {
		ctx := parent
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(parent, timeout)
			defer cancel()
		}
		outcome, err := session.Execute(ctx)
		return actionDoneMsg{outcome: outcome, err: err, queues: session.Queues()}
	}
}

func clearStatusAfter(id int) tea.Cmd {
	return tea.Tick(statusTimeout, func(time.Time) tea.Msg {
		return statusClearMsg{id: id}
	})
}

func describeOutcome(o remediation.Outcome) (string, bool) {
	switch {
	case o.Err != nil:
		return remediation.FailedActionMessage, true
	case o.Stale:
		return "results of an older " + o.Request.Kind.String() + " were discarded", true
	}
	if failed := o.Failures(); failed > 0 {
		return o.Request.Kind.String() + " finished with failures", true
	}
	return o.Request.Kind.String() + " finished", false
}
