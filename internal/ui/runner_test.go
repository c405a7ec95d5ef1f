package ui

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/muurk/stagehand/internal/gdb"
	"github.com/muurk/stagehand/internal/inject"
	"github.com/muurk/stagehand/internal/memmap"
	"github.com/muurk/stagehand/internal/runto"
	"github.com/muurk/stagehand/internal/target"
)

func testRunner(buf *bytes.Buffer, verbose bool) *Runner {
	return NewRunner(RunnerConfig{
		Title:   "Inject BL2",
		Command: "stagehand inject-bl2",
		Params:  []Field{{Key: "Target", Value: "localhost:3333"}},
		Steps: []StepSpec{
			{Stage: "bl2", Op: "position", Name: "Run to BL2 entry"},
			{Stage: "bl2", Op: "load", Name: "Load BL2"},
		},
		Verbose: verbose,
		Output:  buf,
	})
}

func TestRunner_Success(t *testing.T) {
	var buf bytes.Buffer
	r := testRunner(&buf, false)

	err := r.Run(context.Background(), func(ctx context.Context) ([]Field, error) {
		r.OnEvent(inject.Event{Stage: "bl2", Op: "position", Status: inject.StatusRunning})
		r.OnEvent(inject.Event{Stage: "bl2", Op: "position", Status: inject.StatusSuccess, Message: "Positioned at S:0x00100000"})
		r.OnEvent(inject.Event{Stage: "bl2", Op: "halt", Status: inject.StatusSuccess})
		r.OnEvent(inject.Event{Stage: "bl2", Op: "load", Status: inject.StatusRunning})
		r.OnEvent(inject.Event{Stage: "bl2", Op: "load", Status: inject.StatusSuccess, Message: "Loaded 4096 bytes"})
		return []Field{{Key: "Stage", Value: "bl2"}}, nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"INJECT BL2",
		"stagehand inject-bl2",
		"localhost:3333",
		"Run to BL2 entry",
		"Positioned at S:0x00100000",
		"Loaded 4096 bytes",
		"SUCCESS",
		"Duration",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
	if r.progress.Percent != 1 {
		t.Errorf("Percent = %v, want 1", r.progress.Percent)
	}
}

func TestRunner_Failure(t *testing.T) {
	var buf bytes.Buffer
	r := testRunner(&buf, true)

	runErr := &runto.TimeoutError{Address: target.Secure(0x100000), Timeout: time.Second}
	wrapped := fmt.Errorf("bl2: %w", &gdb.GDBExecutionError{
		Script:   "resume_wait",
		ExitCode: 1,
		Stdout:   "Remote connection closed",
		Err:      runErr,
	})

	err := r.Run(context.Background(), func(ctx context.Context) ([]Field, error) {
		r.OnEvent(inject.Event{Stage: "bl2", Op: "position", Status: inject.StatusRunning})
		r.OnEvent(inject.Event{Stage: "bl2", Op: "position", Status: inject.StatusFailed})
		return nil, wrapped
	})
	if !errors.Is(err, wrapped) {
		t.Fatalf("Run() error = %v, want %v", err, wrapped)
	}

	out := buf.String()
	for _, want := range []string{"FAILED", "Troubleshooting", "GDB Output", "Remote connection closed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
	if got := r.progress.Steps[0].Status; got != StepFailed {
		t.Errorf("step status = %v, want StepFailed", got)
	}
}

func TestTroubleshoot(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "connection",
			err:  &gdb.GDBConnectionError{Host: "localhost", Port: 3333},
			want: "verify-setup",
		},
		{
			name: "run-to timeout",
			err:  fmt.Errorf("position: %w", &runto.TimeoutError{Timeout: time.Second}),
			want: "--run-timeout",
		},
		{
			name: "resolution",
			err:  &memmap.ResolutionError{Reason: "probe failed"},
			want: "--no-probe",
		},
		{
			name: "not halted",
			err:  &target.PreconditionError{Op: "set pc", State: target.StateRunning},
			want: "--halt",
		},
		{
			name: "memory",
			err:  &target.MemoryError{Op: "write", Address: 0x60000000, Size: 4},
			want: "DDR",
		},
		{
			name: "other",
			err:  errors.New("boom"),
			want: "--verbose",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tips := strings.Join(Troubleshoot(tt.err), "\n")
			if !strings.Contains(tips, tt.want) {
				t.Errorf("Troubleshoot() = %q, want mention of %q", tips, tt.want)
			}
		})
	}
}

func TestOutputBox_MaxLines(t *testing.T) {
	var lines []string
	for i := 0; i < 10; i++ {
		lines = append(lines, fmt.Sprintf("line-%02d", i))
	}
	out := NewOutputBox("GDB Output", strings.Join(lines, "\n")).SetWidth(80).SetMaxLines(3).Render()

	if strings.Contains(out, "line-06") {
		t.Errorf("truncated output kept line-06:\n%s", out)
	}
	for _, want := range []string{"truncated", "line-07", "line-09"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
