package gdb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/stagehand/internal/gdb/scripts"
)

// Config holds the configuration for GDB execution.
type Config struct {
	// GDBPath is the path to the GDB binary.
	// Default: "arm-none-eabi-gdb" (searches PATH)
	GDBPath string

	// OpenOCDHost is the hostname/IP where OpenOCD is running.
	// Default: "localhost"
	OpenOCDHost string

	// OpenOCDPort is the port where OpenOCD is listening.
	// Default: 3333
	OpenOCDPort int

	// Timeout is the maximum time to wait for one GDB invocation.
	// Scripts that wait on the target extend it.
	// Default: 30 seconds
	Timeout time.Duration

	// WorkDir is the working directory for temporary files.
	// Default: os.TempDir()
	WorkDir string

	// SecurityCommand is the OpenOCD command whose result carries the
	// NS bit. Default: scripts.DefaultSecurityCommand
	SecurityCommand string

	// SoftwareBreakpoints arms sw breakpoints instead of hw ones.
	SoftwareBreakpoints bool

	// SymbolFile, when set, receives add-symbol-file commands for every
	// stage loaded so far.
	SymbolFile string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		GDBPath:         "arm-none-eabi-gdb",
		OpenOCDHost:     "localhost",
		OpenOCDPort:     3333,
		Timeout:         30 * time.Second,
		WorkDir:         os.TempDir(),
		SecurityCommand: scripts.DefaultSecurityCommand,
	}
}

// Target returns the OpenOCD endpoint scripts connect to.
func (c Config) Target() scripts.Target {
	return scripts.Target{Host: c.OpenOCDHost, Port: c.OpenOCDPort}
}

// Executor executes GDB scripts via os/exec.
type Executor struct {
	config Config
	logger *zap.Logger
}

// NewExecutor creates a new GDB executor with the given configuration.
func NewExecutor(config Config, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		config: config,
		logger: logger,
	}
}

// Config returns the executor configuration.
func (e *Executor) Config() Config {
	return e.config
}

// Execute runs a GDB script and returns the parsed result.
//
// Steps:
//  1. Render script template with parameters
//  2. Write rendered script to temporary file
//  3. Execute GDB with script file
//  4. Parse output using script.Parse()
//  5. Clean up temporary file
func (e *Executor) Execute(ctx context.Context, script scripts.Script) (*scripts.Result, error) {
	startTime := time.Now()

	timeout := e.config.Timeout
	if o, ok := script.(scripts.TimeoutOverride); ok && o.Timeout() > timeout {
		timeout = o.Timeout()
	}

	e.logger.Debug("executing GDB script",
		zap.String("script", script.Name()),
		zap.String("gdb_path", e.config.GDBPath),
		zap.String("openocd", fmt.Sprintf("%s:%d", e.config.OpenOCDHost, e.config.OpenOCDPort)),
		zap.Duration("timeout", timeout),
	)

	rendered, err := e.renderTemplate(script)
	if err != nil {
		return nil, &TemplateError{
			Template: script.Name(),
			Err:      err,
		}
	}

	scriptFile, err := e.writeScriptFile(script.Name(), rendered)
	if err != nil {
		return nil, fmt.Errorf("failed to write script file: %w", err)
	}
	defer os.Remove(scriptFile)

	stdout, stderr, exitCode, err := e.executeGDB(ctx, scriptFile, timeout)
	duration := time.Since(startTime)

	e.logger.Debug("GDB execution complete",
		zap.String("script", script.Name()),
		zap.Duration("duration", duration),
		zap.Int("exit_code", exitCode),
		zap.String("stdout", stdout),
		zap.String("stderr", stderr),
	)

	if err != nil {
		var timeoutErr *TimeoutError
		if errors.As(err, &timeoutErr) {
			timeoutErr.Script = script.Name()
			return nil, timeoutErr
		}
		return nil, &GDBExecutionError{
			Script:   script.Name(),
			ExitCode: exitCode,
			Stderr:   stderr,
			Stdout:   stdout,
			Err:      err,
		}
	}

	if exitCode != 0 {
		return nil, &GDBExecutionError{
			Script:   script.Name(),
			ExitCode: exitCode,
			Stderr:   stderr,
			Stdout:   stdout,
		}
	}

	result, err := script.Parse(stdout)
	if err != nil {
		parseErr := &GDBParseError{Script: script.Name(), Output: stdout, Err: err}
		var fieldErr *scripts.FieldError
		if errors.As(err, &fieldErr) {
			parseErr.Field = fieldErr.Field
		}
		return nil, parseErr
	}

	result.Duration = duration
	result.RawOutput = stdout
	result.RawStderr = stderr

	e.logger.Debug("GDB script executed",
		zap.String("script", script.Name()),
		zap.Duration("duration", duration),
		zap.Bool("success", result.Success),
		zap.Int("steps", result.TotalSteps()),
		zap.Int("bytes_written", result.BytesWritten),
		zap.Int("bytes_read", result.BytesRead),
	)

	return result, nil
}

// renderTemplate renders the script template with parameters.
func (e *Executor) renderTemplate(script scripts.Script) (string, error) {
	tmpl, err := template.New(script.Name()).Parse(script.Template())
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, script.Params()); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}

// writeScriptFile writes the rendered script to a temporary file.
func (e *Executor) writeScriptFile(name, content string) (string, error) {
	filename := fmt.Sprintf("stagehand-gdb-%s-*.gdb", name)
	file, err := os.CreateTemp(e.config.WorkDir, filename)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(content); err != nil {
		os.Remove(file.Name())
		return "", fmt.Errorf("failed to write script content: %w", err)
	}

	return file.Name(), nil
}

// executeGDB runs GDB in batch mode on scriptFile.
func (e *Executor) executeGDB(ctx context.Context, scriptFile string, timeout time.Duration) (stdout, stderr string, exitCode int, err error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// -batch: exit after processing the script
	// -nx: don't execute .gdbinit
	cmd := exec.CommandContext(timeoutCtx, e.config.GDBPath,
		"-batch",
		"-nx",
		"-x", scriptFile,
	)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf
	err = cmd.Run()

	stdout = stdoutBuf.String()
	stderr = stderrBuf.String()

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	if timeoutCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		err = &TimeoutError{
			Script:  filepath.Base(scriptFile),
			Timeout: timeout.String(),
		}
	}

	return stdout, stderr, exitCode, err
}

// ValidateConfig checks the GDB binary runs and OpenOCD accepts
// connections. Sessions call nothing else before touching the target.
func (e *Executor) ValidateConfig(ctx context.Context) error {
	if err := ValidateGDBPath(ctx, e.config.GDBPath); err != nil {
		return err
	}
	if err := ValidateOpenOCDConnection(ctx, e.config.OpenOCDHost, e.config.OpenOCDPort); err != nil {
		e.logger.Debug("OpenOCD connection check failed",
			zap.String("host", e.config.OpenOCDHost),
			zap.Int("port", e.config.OpenOCDPort),
			zap.Error(err),
		)
		return err
	}
	return nil
}
