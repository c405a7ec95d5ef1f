package gdb

import (
	"fmt"

	"github.com/muurk/stagehand/internal/urls"
)

// GDBExecutionError represents a failure during GDB script execution.
// This occurs when the GDB command itself fails (non-zero exit code, stderr output, etc.).
type GDBExecutionError struct {
	// Script is the name of the script that failed
	Script string
	// ExitCode is the GDB process exit code
	ExitCode int
	// Stderr is the GDB stderr output
	Stderr string
	// Stdout is the GDB stdout output (for context)
	Stdout string
	// Underlying error if any
	Err error
}

func (e *GDBExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gdb execution failed for script %q (exit code %d): %v\nstderr: %s",
			e.Script, e.ExitCode, e.Err, e.Stderr)
	}
	return fmt.Sprintf("gdb execution failed for script %q (exit code %d)\nstderr: %s",
		e.Script, e.ExitCode, e.Stderr)
}

func (e *GDBExecutionError) Unwrap() error {
	return e.Err
}

// GDBConnectionError represents a failure to connect to OpenOCD.
type GDBConnectionError struct {
	Host string
	Port int
	Err  error
}

func (e *GDBConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to OpenOCD at %s:%d: %v\n"+
		"Hint: Ensure OpenOCD is running with the board configuration and the\n"+
		"gdb-attach/gdb-detach events do not reset the target (%s)",
		e.Host, e.Port, e.Err, urls.OpenOCDGDBEvents)
}

func (e *GDBConnectionError) Unwrap() error {
	return e.Err
}

// GDBParseError represents a failure to parse GDB output.
// This occurs when the output doesn't match expected format or patterns.
type GDBParseError struct {
	// Script is the name of the script whose output failed to parse
	Script string
	// Field is the specific field that failed to parse
	Field string
	// Output is the GDB output that failed to parse
	Output string
	// Underlying error
	Err error
}

func (e *GDBParseError) Error() string {
	return fmt.Sprintf("failed to parse GDB output for script %q, field %q: %v\n"+
		"Output: %s",
		e.Script, e.Field, e.Err, e.Output)
}

func (e *GDBParseError) Unwrap() error {
	return e.Err
}

// CommandError is returned when a script ran but the target rejected
// the operation.
type CommandError struct {
	Script  string
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s", e.Script, e.Message)
}

// PrerequisiteError represents a missing prerequisite (GDB binary, OpenOCD, etc.).
type PrerequisiteError struct {
	// Prerequisite is the name of the missing prerequisite
	Prerequisite string
	// Details provides additional context
	Details string
	// Underlying error
	Err error
}

func (e *PrerequisiteError) Error() string {
	msg := fmt.Sprintf("missing prerequisite: %s", e.Prerequisite)
	if e.Details != "" {
		msg += "\n" + e.Details
	}
	if e.Err != nil {
		msg += fmt.Sprintf("\nError: %v", e.Err)
	}
	return msg
}

func (e *PrerequisiteError) Unwrap() error {
	return e.Err
}

// TemplateError represents a template rendering error.
type TemplateError struct {
	// Template is the name of the template that failed to render
	Template string
	// Underlying error
	Err error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("failed to render template %q: %v", e.Template, e.Err)
}

func (e *TemplateError) Unwrap() error {
	return e.Err
}

// TimeoutError represents a timeout during GDB operation.
type TimeoutError struct {
	// Script is the name of the script that timed out
	Script string
	// Timeout is the duration that was exceeded
	Timeout string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("gdb operation timed out for script %q after %s\n"+
		"Hint: Increase timeout with --timeout flag or check the JTAG connection",
		e.Script, e.Timeout)
}
