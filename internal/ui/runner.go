package ui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/muurk/stagehand/internal/gdb"
	"github.com/muurk/stagehand/internal/inject"
	"github.com/muurk/stagehand/internal/memmap"
	"github.com/muurk/stagehand/internal/runto"
	"github.com/muurk/stagehand/internal/target"
)

// StepSpec binds an injection event to a progress line.
type StepSpec struct {
	Stage string // stage name as in inject.Event
	Op    string // "halt", "position" or "load"
	Name  string // display name
}

// RunnerConfig holds configuration for a command execution.
type RunnerConfig struct {
	Title   string  // Command title (e.g., "Inject BL2")
	Command string  // Full command (e.g., "stagehand inject-bl2")
	Params  []Field // Parameters to display in header
	Steps   []StepSpec
	Verbose bool      // Show raw debugger output on failure
	Spinner bool      // Animate running steps; only on a terminal
	Output  io.Writer // default: os.Stdout
}

// Runner renders the header, then one line per step as injection events
// arrive, then a result box.
type Runner struct {
	config   RunnerConfig
	header   *Header
	progress *Progress
	output   io.Writer
	width    int

	mu      sync.Mutex
	index   map[string]int
	spinner *Spinner
}

// NewRunner creates a new runner for a command.
func NewRunner(config RunnerConfig) *Runner {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	width := GetTerminalWidth()

	header := NewHeader(config.Title, config.Command, config.Params)
	header.SetWidth(width)

	names := make([]string, len(config.Steps))
	index := make(map[string]int, len(config.Steps))
	for i, s := range config.Steps {
		names[i] = s.Name
		index[stepKey(s.Stage, s.Op)] = i + 1
	}
	progress := NewProgress(names)
	progress.SetWidth(width)

	return &Runner{
		config:   config,
		header:   header,
		progress: progress,
		output:   config.Output,
		width:    width,
		index:    index,
	}
}

func stepKey(stage, op string) string {
	return stage + "/" + op
}

// OnEvent updates the step bound to ev. Events without a step are
// ignored. It is meant as inject.Options.OnEvent.
func (r *Runner) OnEvent(ev inject.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.index[stepKey(ev.Stage, ev.Op)]
	if !ok {
		return
	}

	switch ev.Status {
	case inject.StatusRunning:
		r.progress.UpdateStep(n, StepRunning, "")
		step := r.progress.Steps[n-1]
		if r.config.Spinner {
			r.stopSpinner()
			r.spinner = StartSpinner(r.output, step.Name)
			return
		}
		_, _ = fmt.Fprint(r.output, r.progress.renderStepLine(step)+"\r")
	case inject.StatusSuccess:
		r.finishStep(n, StepComplete, ev.Message)
	case inject.StatusFailed:
		r.finishStep(n, StepFailed, "")
	}
}

func (r *Runner) finishStep(n int, status StepStatus, message string) {
	r.stopSpinner()
	r.progress.UpdateStep(n, status, message)
	_, _ = fmt.Fprintln(r.output, r.progress.renderStepLine(r.progress.Steps[n-1]))
}

func (r *Runner) stopSpinner() {
	if r.spinner != nil {
		r.spinner.Stop()
		r.spinner = nil
	}
}

// Operation is the work a command performs. Details it returns are
// shown in the success box.
type Operation func(ctx context.Context) ([]Field, error)

// Run prints the header, executes op and prints the result.
func (r *Runner) Run(ctx context.Context, op Operation) error {
	start := time.Now()

	_, _ = fmt.Fprintln(r.output, r.header.Render())
	_, _ = fmt.Fprintln(r.output)

	details, err := op(ctx)

	r.mu.Lock()
	r.stopSpinner()
	r.mu.Unlock()

	duration := time.Since(start).Round(time.Millisecond)
	_, _ = fmt.Fprintln(r.output)
	if err != nil {
		r.printFailure(err)
		return err
	}

	details = append(details, Field{Key: "Duration", Value: duration.String()})
	result := NewSuccessResult(r.config.Title+" complete", details)
	result.SetWidth(r.width)
	_, _ = fmt.Fprintln(r.output, result.Render())
	return nil
}

func (r *Runner) printFailure(err error) {
	result := NewFailureResult(r.config.Title+" failed", err, Troubleshoot(err))
	result.SetWidth(r.width)
	_, _ = fmt.Fprintln(r.output, result.Render())

	if !r.config.Verbose {
		return
	}
	if out := debuggerOutput(err); out != "" {
		_, _ = fmt.Fprintln(r.output)
		box := NewOutputBox("GDB Output", out)
		box.SetWidth(r.width).SetMaxLines(40)
		_, _ = fmt.Fprintln(r.output, box.Render())
	}
}

// Troubleshoot suggests next steps for err.
func Troubleshoot(err error) []string {
	var (
		timeoutErr    *runto.TimeoutError
		resolveErr    *memmap.ResolutionError
		connErr       *gdb.GDBConnectionError
		preErr        *target.PreconditionError
		memErr        *target.MemoryError
		gdbTimeoutErr *gdb.TimeoutError
	)

	switch {
	case errors.As(err, &connErr):
		return []string{
			"Check OpenOCD is running and the port is correct",
			"Try: stagehand verify-setup",
		}
	case errors.As(err, &timeoutErr):
		return []string{
			"The previous stage did not reach the hand-off point in time",
			"Check the previous stage was loaded and its console shows progress",
			"Raise the limit with --run-timeout",
		}
	case errors.As(err, &resolveErr):
		return []string{
			"The memory probes could not classify the target",
			"Pass an explicit address (e.g. N:0x60000000) or use --no-probe",
		}
	case errors.As(err, &preErr):
		return []string{
			"The target must be halted for this step",
			"Re-run with --halt to stop the target first",
		}
	case errors.As(err, &memErr):
		return []string{
			"The target rejected the memory access",
			"Check DDR is initialised before loading into it",
		}
	case errors.As(err, &gdbTimeoutErr):
		return []string{
			"GDB did not finish in time",
			"Raise --timeout or check the JTAG adapter speed",
		}
	}
	return []string{
		"Verify OpenOCD is still connected",
		"Check the target hasn't reset unexpectedly",
		"Run with --verbose for full GDB output",
	}
}

func debuggerOutput(err error) string {
	var (
		execErr  *gdb.GDBExecutionError
		parseErr *gdb.GDBParseError
	)
	switch {
	case errors.As(err, &execErr):
		return execErr.Stdout + execErr.Stderr
	case errors.As(err, &parseErr):
		return parseErr.Output
	}
	return ""
}

// --- Helpers for commands without steps ---

// PrintCommandHeader prints a styled command header
func PrintCommandHeader(w io.Writer, title, command string, params []Field) {
	header := NewHeader(title, command, params)
	header.SetWidth(GetTerminalWidth())
	_, _ = fmt.Fprintln(w, header.Render())
	_, _ = fmt.Fprintln(w)
}

// PrintSuccess prints a styled success result
func PrintSuccess(w io.Writer, title string, details []Field) {
	result := NewSuccessResult(title, details)
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, result.Render())
}

// PrintFailure prints a styled failure result
func PrintFailure(w io.Writer, title string, err error) {
	result := NewFailureResult(title, err, Troubleshoot(err))
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, result.Render())
}

// PrintWarning prints a styled warning result
func PrintWarning(w io.Writer, title string, details []Field) {
	result := NewWarningResult(title, details)
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, result.Render())
}
