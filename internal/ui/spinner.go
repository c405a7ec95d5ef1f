package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type stopMsg struct{}

// spinnerModel shows a label with elapsed time while a step blocks,
// typically a run-to waiting for the target to reach a breakpoint.
type spinnerModel struct {
	spinner spinner.Model
	label   string
	start   time.Time
	done    bool
}

func newSpinnerModel(label string) spinnerModel {
	s := spinner.New(spinner.WithSpinner(spinner.Dot))
	s.Style = lipgloss.NewStyle().Foreground(WarningColor)
	return spinnerModel{spinner: s, label: label, start: time.Now()}
}

func (m spinnerModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m spinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case stopMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m spinnerModel) View() string {
	if m.done {
		return ""
	}
	elapsed := time.Since(m.start).Truncate(time.Second)
	return fmt.Sprintf("  %s %s %s", m.spinner.View(), StepRunningStyle.Render(m.label),
		StepNoteStyle.Render("("+elapsed.String()+")"))
}

// Spinner runs a spinner line on w until stopped. Keyboard input is not
// read, so it never competes with a signal handler for the terminal.
type Spinner struct {
	program *tea.Program
	done    chan struct{}
}

// StartSpinner starts a spinner labelled label.
func StartSpinner(w io.Writer, label string) *Spinner {
	p := tea.NewProgram(newSpinnerModel(label),
		tea.WithOutput(w),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)
	s := &Spinner{program: p, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		_, _ = p.Run()
	}()
	return s
}

// Stop clears the spinner line and waits for the program to exit.
func (s *Spinner) Stop() {
	s.program.Send(stopMsg{})
	<-s.done
}
