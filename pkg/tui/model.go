// Package tui implements the interactive operator console.
package tui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nimburion/dlqmanager/pkg/remediation"
)

// Options configures the console.
type Options struct {
	// Title is shown in the header.
	Title string
	// ActionTimeout bounds each redrive or purge. Zero means no deadline.
	ActionTimeout time.Duration
}

// Model is the bubbletea model of the console. It renders the session state
// and turns key presses into session operations.
type Model struct {
	ctx           context.Context
	session       *remediation.Session
	title         string
	actionTimeout time.Duration

	keys    keyMap
	help    help.Model
	spinner spinner.Model
	width   int
	height  int

	queues    []remediation.Queue
	cursor    int
	loading   bool
	refreshID int
	loadErr   error

	// running is the kind of the dispatched action, ActionNone when idle.
	running   remediation.ActionKind
	statusMsg string
	statusErr bool
	statusID  int
}

// New builds a console over session. ctx is the parent of every backend call.
func New(ctx context.Context, session *remediation.Session, opts Options) Model {
	if ctx == nil {
		ctx = context.Background()
	}
	title := opts.Title
	if title == "" {
		title = "dlqmanager"
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = accentStyle

	return Model{
		ctx:           ctx,
		session:       session,
		title:         title,
		actionTimeout: opts.ActionTimeout,
		keys:          newKeyMap(),
		help:          help.New(),
		spinner:       sp,
		loading:       true,
		refreshID:     1,
	}
}

// Init starts the first catalog load.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refreshCmd(m.refreshID), m.spinner.Tick)
}

// Busy reports whether an action is in flight.
func (m Model) Busy() bool {
	return m.running != remediation.ActionNone
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case queuesLoadedMsg:
		if msg.id != m.refreshID {
			return m, nil
		}
		m.loading = false
		if msg.err != nil {
			// The catalog keeps its previous contents on failure.
			m.loadErr = msg.err
			return m.setStatus("refresh failed: "+msg.err.Error(), true)
		}
		m.loadErr = nil
		m.setQueues(msg.queues)
		return m, nil

	case actionDoneMsg:
		m.running = remediation.ActionNone
		m.setQueues(msg.queues)
		if msg.err != nil {
			return m.setStatus(actionErrorText(msg.err), true)
		}
		text, isErr := describeOutcome(msg.outcome)
		return m.setStatus(text, isErr)

	case statusClearMsg:
		if msg.id == m.statusID {
			m.statusMsg = ""
			m.statusErr = false
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.ForceQuit), key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil

	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil

	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.queues)-1 {
			m.cursor++
		}
		return m, nil

	case key.Matches(msg, m.keys.Toggle):
		if len(m.queues) == 0 {
			return m, nil
		}
		m.session.Toggle(m.queues[m.cursor].ID)
		return m, nil

	case key.Matches(msg, m.keys.Redrive):
		m.session.SetAction(remediation.ActionRedrive)
		return m, nil

	case key.Matches(msg, m.keys.Purge):
		m.session.SetAction(remediation.ActionPurge)
		return m, nil

	case key.Matches(msg, m.keys.Refresh):
		m.refreshID++
		m.loading = true
		return m, tea.Batch(m.refreshCmd(m.refreshID), m.spinner.Tick)

	case key.Matches(msg, m.keys.Execute):
		if m.Busy() {
			return m.setStatus("an action is already running", true)
		}
		kind := m.session.Action()
		if kind != remediation.ActionNone && len(m.session.Selected()) > 0 {
			m.running = kind
			m.statusMsg = ""
			return m, tea.Batch(m.executeCmd(), m.spinner.Tick)
		}
		// The session rejects it without touching the backend.
		return m, m.executeCmd()
	}
	return m, nil
}

func (m *Model) setQueues(queues []remediation.Queue) {
	m.queues = queues
	if m.cursor >= len(m.queues) {
		m.cursor = len(m.queues) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m Model) setStatus(text string, isErr bool) (Model, tea.Cmd) {
	m.statusID++
	m.statusMsg = text
	m.statusErr = isErr
	return m, clearStatusAfter(m.statusID)
}

func actionErrorText(err error) string {
	var verr *remediation.ValidationError
	switch {
	case errors.As(err, &verr):
		return verr.Error()
	case errors.Is(err, remediation.ErrBusy):
		return "an action is already running"
	default:
		return fmt.Sprintf("action failed: %v", err)
	}
}
