package gdb

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/muurk/stagehand/internal/symbols/symbolstest"
	"github.com/muurk/stagehand/internal/target"
)

// mockOpenOCD answers the session's scripts from files under @DIR@:
// state, pc, scr, bp and memory. resume_pc/resume_scr are applied when
// the core is resumed; without resume_pc the wait times out.
const mockOpenOCD = `#!/bin/sh
dir='@DIR@'
script="$4"
cat "$script" >> "$dir/calls.log"

if grep -q "wait_halt" "$script"; then
  if [ -f "$dir/resume_pc" ]; then
    cp "$dir/resume_pc" "$dir/pc"
    [ -f "$dir/resume_scr" ] && cp "$dir/resume_scr" "$dir/scr"
    echo "wait: halted"
    echo "state: halted"
  else
    echo "wait: timeout"
    if [ -f "$dir/state_after" ]; then echo "state: $(cat "$dir/state_after")"; else echo "state: running"; fi
  fi
  echo "[SUCCESS]"
  exit 0
fi

if grep -q "curstate" "$script"; then
  echo "state: $(cat "$dir/state")"
  echo "[SUCCESS]"
  exit 0
fi

if grep -q "^monitor reg pc$" "$script"; then
  if [ "$(cat "$dir/state")" != "halted" ]; then
    echo "Error: Target not halted"
    exit 0
  fi
  echo "pc (/32): $(cat "$dir/pc")"
  echo "scr: $(cat "$dir/scr")"
  echo "[SUCCESS]"
  exit 0
fi

if grep -q "^monitor reg pc 0x" "$script"; then
  sed -n 's/^monitor reg pc //p' "$script" > "$dir/pc"
  echo "[SUCCESS]"
  exit 0
fi

if grep -q "^monitor halt$" "$script"; then
  echo halted > "$dir/state"
  echo "[SUCCESS]"
  exit 0
fi

if grep -q "^monitor bp$" "$script"; then
  [ -f "$dir/bp" ] && cat "$dir/bp"
  echo "[SUCCESS]"
  exit 0
fi

if grep -q "^monitor bp 0x" "$script"; then
  addr=$(sed -n 's/^monitor bp \(0x[0-9a-fA-F]*\) .*/\1/p' "$script")
  echo "Hardware breakpoint(IVA): addr=$addr, len=0x4, num=0" >> "$dir/bp"
  echo "[SUCCESS]"
  exit 0
fi

if grep -q "^monitor rbp all$" "$script"; then
  rm -f "$dir/bp"
  echo "[SUCCESS]"
  exit 0
fi

if grep -q "^monitor rbp 0x" "$script"; then
  addr=$(sed -n 's/^monitor rbp //p' "$script")
  [ -f "$dir/bp" ] && grep -v "$addr" "$dir/bp" > "$dir/bp.tmp"
  mv "$dir/bp.tmp" "$dir/bp" 2>/dev/null
  echo "[SUCCESS]"
  exit 0
fi

if grep -q "^restore " "$script"; then
  if [ -f "$dir/reject_writes" ]; then
    echo "Cannot access memory at address 0x60000000"
    exit 0
  fi
  file=$(sed -n 's/^restore \([^ ]*\) binary.*/\1/p' "$script")
  cp "$file" "$dir/memory"
  echo "[SUCCESS]"
  exit 0
fi

if grep -q "^dump binary memory" "$script"; then
  file=$(sed -n 's/^dump binary memory \([^ ]*\) .*/\1/p' "$script")
  cp "$dir/memory" "$file"
  echo "[SUCCESS]"
  exit 0
fi

if grep -q "^add-symbol-file" "$script"; then
  echo "add symbol table from file"
  echo "[SUCCESS]"
  exit 0
fi

echo "unexpected script" >&2
exit 1
`

type mockTarget struct {
	t   *testing.T
	dir string
}

func newMockTarget(t *testing.T) (*mockTarget, *Session) {
	t.Helper()
	dir := t.TempDir()
	gdbPath := filepath.Join(dir, "mock-gdb")
	body := strings.ReplaceAll(mockOpenOCD, "@DIR@", dir)
	if err := os.WriteFile(gdbPath, []byte(body), 0755); err != nil {
		t.Fatalf("failed to create mock GDB: %v", err)
	}

	m := &mockTarget{t: t, dir: dir}
	m.set("state", "halted")
	m.set("pc", "0x00000000")
	m.set("scr", "0x00000030")

	config := DefaultConfig()
	config.GDBPath = gdbPath
	config.WorkDir = dir
	config.Timeout = 10 * time.Second
	return m, NewSession(NewExecutor(config, zap.NewNop()), zap.NewNop())
}

func (m *mockTarget) set(name, value string) {
	m.t.Helper()
	if err := os.WriteFile(filepath.Join(m.dir, name), []byte(value+"\n"), 0644); err != nil {
		m.t.Fatalf("failed to write %s: %v", name, err)
	}
}

func (m *mockTarget) calls() string {
	m.t.Helper()
	data, err := os.ReadFile(filepath.Join(m.dir, "calls.log"))
	if err != nil && !os.IsNotExist(err) {
		m.t.Fatalf("failed to read call log: %v", err)
	}
	return string(data)
}

func TestSession_State(t *testing.T) {
	tests := []struct {
		openocd string
		want    target.RunState
	}{
		{"halted", target.StateHalted},
		{"running", target.StateRunning},
		{"debug-running", target.StateRunning},
		{"reset", target.StateTerminated},
		{"unknown", target.StateUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.openocd, func(t *testing.T) {
			m, sess := newMockTarget(t)
			m.set("state", tt.openocd)

			got, err := sess.State(context.Background())
			if err != nil {
				t.Fatalf("State() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("State() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSession_PC(t *testing.T) {
	tests := []struct {
		name string
		pc   string
		scr  string
		want target.Address
	}{
		{"secure", "0x00100000", "0x00000030", target.Secure(0x00100000)},
		{"ns bit set", "0x60000000", "0x00000031", target.NonSecure(0x60000000)},
		{"scr unreadable", "0x60000100", "unavailable", target.NonSecure(0x60000100)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, sess := newMockTarget(t)
			m.set("pc", tt.pc)
			m.set("scr", tt.scr)

			got, err := sess.PC(context.Background())
			if err != nil {
				t.Fatalf("PC() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("PC() = %s, want %s", got, tt.want)
			}

			space, err := sess.SecurityState(context.Background())
			if err != nil {
				t.Fatalf("SecurityState() error = %v", err)
			}
			if space != tt.want.Space {
				t.Errorf("SecurityState() = %s, want %s", space.Name(), tt.want.Space.Name())
			}
		})
	}
}

func TestSession_PC_NotHalted(t *testing.T) {
	m, sess := newMockTarget(t)
	m.set("state", "running")

	_, err := sess.PC(context.Background())
	var precondition *target.PreconditionError
	if !errors.As(err, &precondition) {
		t.Fatalf("expected PreconditionError, got %T: %v", err, err)
	}
}

func TestSession_HaltAndSetPC(t *testing.T) {
	m, sess := newMockTarget(t)
	m.set("state", "running")
	ctx := context.Background()

	if err := sess.Halt(ctx); err != nil {
		t.Fatalf("Halt() error = %v", err)
	}
	if err := sess.SetPC(ctx, target.Secure(0x00100000)); err != nil {
		t.Fatalf("SetPC() error = %v", err)
	}

	pc, err := sess.PC(ctx)
	if err != nil {
		t.Fatalf("PC() error = %v", err)
	}
	if pc != target.Secure(0x00100000) {
		t.Errorf("PC() = %s, want S:0x00100000", pc)
	}
	if !strings.Contains(m.calls(), "monitor reg pc 0x00100000") {
		t.Errorf("expected reg pc write, calls:\n%s", m.calls())
	}
}

func TestSession_Breakpoints(t *testing.T) {
	_, sess := newMockTarget(t)
	ctx := context.Background()

	if err := sess.AddBreakpoint(ctx, target.NonSecure(0x60000000)); err != nil {
		t.Fatalf("AddBreakpoint() error = %v", err)
	}
	if err := sess.AddBreakpoint(ctx, target.Secure(0x00100000)); err != nil {
		t.Fatalf("AddBreakpoint() error = %v", err)
	}

	got, err := sess.Breakpoints(ctx)
	if err != nil {
		t.Fatalf("Breakpoints() error = %v", err)
	}
	want := []target.Address{target.NonSecure(0x60000000), target.Secure(0x00100000)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Breakpoints() mismatch (-want +got):\n%s", diff)
	}

	if err := sess.RemoveBreakpoint(ctx, target.NonSecure(0x60000000)); err != nil {
		t.Fatalf("RemoveBreakpoint() error = %v", err)
	}
	got, err = sess.Breakpoints(ctx)
	if err != nil {
		t.Fatalf("Breakpoints() error = %v", err)
	}
	if diff := cmp.Diff([]target.Address{target.Secure(0x00100000)}, got); diff != "" {
		t.Errorf("after remove (-want +got):\n%s", diff)
	}

	if err := sess.RemoveAllBreakpoints(ctx); err != nil {
		t.Fatalf("RemoveAllBreakpoints() error = %v", err)
	}
	got, err = sess.Breakpoints(ctx)
	if err != nil {
		t.Fatalf("Breakpoints() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no breakpoints, got %v", got)
	}
}

func TestSession_SoftwareBreakpoints(t *testing.T) {
	m, sess := newMockTarget(t)
	sess.config.SoftwareBreakpoints = true

	if err := sess.AddBreakpoint(context.Background(), target.Secure(0x00100000)); err != nil {
		t.Fatalf("AddBreakpoint() error = %v", err)
	}
	if !strings.Contains(m.calls(), "monitor bp 0x00100000 4 sw") {
		t.Errorf("expected sw breakpoint, calls:\n%s", m.calls())
	}
}

func TestSession_ResumeAndWait_Breakpoint(t *testing.T) {
	m, sess := newMockTarget(t)
	ctx := context.Background()
	m.set("pc", "0x00100000")

	if err := sess.AddBreakpoint(ctx, target.NonSecure(0x60000000)); err != nil {
		t.Fatalf("AddBreakpoint() error = %v", err)
	}
	m.set("resume_pc", "0x60000000")
	m.set("resume_scr", "0x00000031")

	ev, err := sess.ResumeAndWait(ctx, time.Second)
	if err != nil {
		t.Fatalf("ResumeAndWait() error = %v", err)
	}
	if ev.Reason != target.StopBreakpoint {
		t.Errorf("Reason = %s, want breakpoint", ev.Reason)
	}
	if ev.PC != target.NonSecure(0x60000000) {
		t.Errorf("PC = %s, want N:0x60000000", ev.PC)
	}
	if strings.Contains(m.calls(), "monitor step") {
		t.Error("did not expect a step when the PC is not on a breakpoint")
	}
}

func TestSession_ResumeAndWait_StepsOffBreakpoint(t *testing.T) {
	m, sess := newMockTarget(t)
	ctx := context.Background()
	m.set("pc", "0x60000000")

	// Hardware breakpoints fire in either world: the secure hit is
	// reported as a plain halt for the non-secure one.
	if err := sess.AddBreakpoint(ctx, target.Secure(0x60000000)); err != nil {
		t.Fatalf("AddBreakpoint() error = %v", err)
	}
	m.set("resume_pc", "0x60000000")
	m.set("resume_scr", "0x00000031")

	ev, err := sess.ResumeAndWait(ctx, time.Second)
	if err != nil {
		t.Fatalf("ResumeAndWait() error = %v", err)
	}
	if ev.Reason != target.StopHalted {
		t.Errorf("Reason = %s, want halted", ev.Reason)
	}
	if !strings.Contains(m.calls(), "monitor step") {
		t.Errorf("expected a step before resume, calls:\n%s", m.calls())
	}
}

func TestSession_ResumeAndWait_StepsOffForeignBreakpoint(t *testing.T) {
	m, sess := newMockTarget(t)
	ctx := context.Background()

	// Halted on a breakpoint the operator set from another GDB.
	m.set("pc", "0x00000040")
	m.set("bp", "Hardware breakpoint(IVA): addr=0x00000040, len=0x4, num=0")
	m.set("resume_pc", "0x00100000")

	if _, err := sess.ResumeAndWait(ctx, time.Second); err != nil {
		t.Fatalf("ResumeAndWait() error = %v", err)
	}
	if !strings.Contains(m.calls(), "monitor step") {
		t.Errorf("expected a step off the foreign breakpoint, calls:\n%s", m.calls())
	}
}

func TestSession_ResumeAndWait_Timeout(t *testing.T) {
	_, sess := newMockTarget(t)

	_, err := sess.ResumeAndWait(context.Background(), 10*time.Millisecond)
	if !errors.Is(err, target.ErrWaitTimeout) {
		t.Fatalf("expected ErrWaitTimeout, got %v", err)
	}
}

func TestSession_ResumeAndWait_Reset(t *testing.T) {
	m, sess := newMockTarget(t)
	m.set("state_after", "reset")

	ev, err := sess.ResumeAndWait(context.Background(), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("ResumeAndWait() error = %v", err)
	}
	if ev.Reason != target.StopTerminated {
		t.Errorf("Reason = %s, want terminated", ev.Reason)
	}
}

func TestSession_Memory(t *testing.T) {
	_, sess := newMockTarget(t)
	ctx := context.Background()
	data := []byte("u-boot image")

	if err := sess.WriteMemory(ctx, 0x60000000, data); err != nil {
		t.Fatalf("WriteMemory() error = %v", err)
	}
	got, err := sess.ReadMemory(ctx, 0x60000000, len(data))
	if err != nil {
		t.Fatalf("ReadMemory() error = %v", err)
	}
	if diff := cmp.Diff(data, got); diff != "" {
		t.Errorf("ReadMemory() mismatch (-want +got):\n%s", diff)
	}
}

func TestSession_WriteMemory_Rejected(t *testing.T) {
	m, sess := newMockTarget(t)
	m.set("reject_writes", "1")

	err := sess.WriteMemory(context.Background(), 0x60000000, []byte{1, 2, 3, 4})
	var memErr *target.MemoryError
	if !errors.As(err, &memErr) {
		t.Fatalf("expected MemoryError, got %T: %v", err, err)
	}
	if memErr.Address != 0x60000000 || memErr.Op != "write" {
		t.Errorf("unexpected MemoryError: %+v", memErr)
	}
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Errorf("expected CommandError in chain, got %v", err)
	}
}

func TestSession_LoadSymbols(t *testing.T) {
	m, sess := newMockTarget(t)
	symbolFile := filepath.Join(m.dir, "stages.gdb")
	sess.config.SymbolFile = symbolFile
	ctx := context.Background()

	bl2 := symbolstest.Write(t, m.dir, "bl2.elf", symbolstest.Image{
		LoadAddress: 0x00100000,
		Symbols:     map[string]uint32{"bl2_entrypoint": 0x00100000},
	})
	img, err := sess.LoadSymbols(ctx, "bl2", bl2)
	if err != nil {
		t.Fatalf("LoadSymbols() error = %v", err)
	}
	if img.LoadAddress != 0x00100000 {
		t.Errorf("LoadAddress = 0x%x, want 0x100000", img.LoadAddress)
	}
	if !strings.Contains(m.calls(), "add-symbol-file "+bl2+" 0x100000") {
		t.Errorf("expected add-symbol-file, calls:\n%s", m.calls())
	}

	addr, ok := sess.LookupSymbol(ctx, "bl2_entrypoint")
	if !ok || addr != 0x00100000 {
		t.Errorf("LookupSymbol() = 0x%x, %v", addr, ok)
	}
	if _, ok := sess.LookupSymbol(ctx, "missing"); ok {
		t.Error("expected missing symbol lookup to fail")
	}

	data, err := os.ReadFile(symbolFile)
	if err != nil {
		t.Fatalf("failed to read symbol file: %v", err)
	}
	if !strings.Contains(string(data), "add-symbol-file "+bl2+" 0x100000") {
		t.Errorf("symbol file missing bl2:\n%s", data)
	}
}

func TestSession_LoadSymbols_BadELF(t *testing.T) {
	m, sess := newMockTarget(t)
	path := symbolstest.WriteFile(t, m.dir, "bl2.elf", []byte("not an elf"))

	if _, err := sess.LoadSymbols(context.Background(), "bl2", path); err == nil {
		t.Fatal("expected error for invalid ELF")
	}
	if strings.Contains(m.calls(), "add-symbol-file") {
		t.Error("GDB should not be invoked for an unreadable ELF")
	}
}
