package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nimburion/dlqmanager/pkg/remediation"
)

// Run starts the console on the alternate screen and blocks until the
// operator quits or ctx is cancelled.
func Run(ctx context.Context, session *remediation.Session, opts Options) error {
	p := tea.NewProgram(New(ctx, session, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
