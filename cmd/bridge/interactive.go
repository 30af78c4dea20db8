package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wippyai/wasm-bridge/bridge"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/loader"
	"github.com/wippyai/wasm-bridge/mailbox"
)

const maxHistory = 200

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	sentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	receivedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

func newInteractiveCmd(setup setupFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "interactive",
		Short: "Exchange messages with the module in a terminal UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
				return errors.InvalidInput(errors.PhaseConfig, "interactive mode requires a terminal")
			}

			// Logs would tear the UI, so the logger stays silent.
			env, err := setup(cmd, true)
			if err != nil {
				return err
			}
			defer env.close()

			return runInteractive(cmd.Context(), env)
		},
	}
}

type inboundMsg struct {
	env mailbox.Envelope
}

type disposedMsg struct {
	err error
}

type interactiveModel struct {
	err      error
	bridge   *bridge.Bridge
	moduleID string
	history  []string
	input    textinput.Model
	spinner  spinner.Model
	state    loader.State
	closed   bool
}

func newInteractiveModel(moduleID string) *interactiveModel {
	ti := textinput.New()
	ti.Placeholder = `type {"key": "value"}`
	ti.Prompt = "> "
	ti.Width = 60
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return &interactiveModel{
		moduleID: moduleID,
		input:    ti,
		spinner:  sp,
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.waitDisposed)
}

func (m *interactiveModel) waitDisposed() tea.Msg {
	<-m.bridge.Done()
	return disposedMsg{err: m.bridge.Err()}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			m.submit()
			return m, nil
		}

	case spinner.TickMsg:
		m.state = m.bridge.State()
		if m.state == loader.Ready || m.state == loader.Failed {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case inboundMsg:
		raw, err := mailbox.Encode(msg.env)
		if err != nil {
			m.record(errorStyle.Render(err.Error()))
		} else {
			m.record(receivedStyle.Render("← " + string(raw)))
		}
		return m, nil

	case disposedMsg:
		m.closed = true
		m.err = msg.err
		m.state = m.bridge.State()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *interactiveModel) submit() {
	line := strings.TrimSpace(m.input.Value())
	if line == "" {
		return
	}
	m.input.Reset()

	typ, raw, _ := strings.Cut(line, " ")
	payload, err := parsePayload(strings.TrimSpace(raw))
	if err != nil {
		m.record(errorStyle.Render(err.Error()))
		return
	}

	m.bridge.Send(typ, payload)
	m.record(sentStyle.Render("→ " + line))
}

func (m *interactiveModel) record(line string) {
	m.history = append(m.history, line)
	if len(m.history) > maxHistory {
		m.history = m.history[len(m.history)-maxHistory:]
	}
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("WASM Bridge"))
	b.WriteString(" ")
	b.WriteString(m.moduleID)
	b.WriteString(" ")
	switch {
	case m.closed && m.err != nil:
		b.WriteString(errorStyle.Render(fmt.Sprintf("disposed: %v", m.err)))
	case m.closed:
		b.WriteString(helpStyle.Render("closed"))
	case m.state == loader.Ready:
		b.WriteString(receivedStyle.Render("ready"))
	default:
		b.WriteString(m.spinner.View() + " " + m.state.String())
	}
	b.WriteString("\n\n")

	for _, line := range m.history {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render("enter send • esc quit • messages sent before ready are queued"))
	return b.String()
}

func runInteractive(ctx context.Context, env *environment) error {
	m := newInteractiveModel(env.cfg.Module.ID)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	m.bridge = env.newBridge(bridge.OnUnhandled(func(e mailbox.Envelope) {
		p.Send(inboundMsg{env: e})
	}))
	if err := m.bridge.Start(ctx); err != nil {
		return err
	}

	_, err := p.Run()

	closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = m.bridge.Close(closeCtx)

	if stderrors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}
