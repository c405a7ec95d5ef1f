package gdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/stagehand/internal/gdb/scripts"
	"github.com/muurk/stagehand/internal/symbols"
	"github.com/muurk/stagehand/internal/target"
)

// Session drives a core through OpenOCD, one GDB batch invocation per
// operation. It implements target.Session.
//
// GDB forgets everything between invocations, so the session keeps the
// breakpoints it armed (with their security space) and the symbol
// table itself.
type Session struct {
	executor *Executor
	config   Config
	logger   *zap.Logger

	mu          sync.Mutex
	breakpoints []target.Address
	table       *symbols.Table
}

var _ target.Session = (*Session)(nil)

// NewSession creates a session on top of executor.
func NewSession(executor *Executor, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		executor: executor,
		config:   executor.Config(),
		logger:   logger,
		table:    symbols.NewTable(),
	}
}

// Symbols returns the symbol table built from loaded stages.
func (s *Session) Symbols() *symbols.Table {
	return s.table
}

// run executes script and turns a result without the success marker
// into a CommandError.
func (s *Session) run(ctx context.Context, script scripts.Script) (*scripts.Result, error) {
	result, err := s.executor.Execute(ctx, script)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		msg := "operation failed"
		if result.Error != nil {
			msg = result.Error.Error()
		}
		return result, &CommandError{Script: script.Name(), Message: msg}
	}
	return result, nil
}

// notHalted maps OpenOCD's "target not halted" refusal onto the
// precondition error callers test for.
func notHalted(err error, op string) error {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && strings.Contains(strings.ToLower(cmdErr.Message), "not halted") {
		return &target.PreconditionError{Op: op, State: target.StateRunning}
	}
	return err
}

func (s *Session) State(ctx context.Context) (target.RunState, error) {
	result, err := s.run(ctx, scripts.NewStateScript(s.config.Target()))
	if err != nil {
		return target.StateUnknown, err
	}
	return parseRunState(result.GetDataString("state")), nil
}

// parseRunState maps OpenOCD target state names. A core held in reset
// has lost everything the injection put in place.
func parseRunState(name string) target.RunState {
	switch name {
	case "halted":
		return target.StateHalted
	case "running", "debug-running":
		return target.StateRunning
	case "reset":
		return target.StateTerminated
	default:
		return target.StateUnknown
	}
}

func (s *Session) Halt(ctx context.Context) error {
	_, err := s.run(ctx, scripts.NewControlScript(s.config.Target(), scripts.OpHalt, 0))
	return err
}

// readContext reads the PC and the security state in one invocation.
func (s *Session) readContext(ctx context.Context, op string) (target.Address, error) {
	result, err := s.run(ctx, scripts.NewContextScript(s.config.Target(), s.config.SecurityCommand))
	if err != nil {
		return target.Address{}, notHalted(err, op)
	}
	pc, _ := result.GetDataUint64("pc")
	if ns, _ := result.GetData("nonsecure").(bool); ns {
		return target.NonSecure(pc), nil
	}
	return target.Secure(pc), nil
}

func (s *Session) PC(ctx context.Context) (target.Address, error) {
	return s.readContext(ctx, "read pc")
}

func (s *Session) SecurityState(ctx context.Context) (target.Space, error) {
	pc, err := s.readContext(ctx, "read security state")
	if err != nil {
		return target.SpaceAny, err
	}
	return pc.Space, nil
}

func (s *Session) SetPC(ctx context.Context, addr target.Address) error {
	_, err := s.run(ctx, scripts.NewControlScript(s.config.Target(), scripts.OpSetPC, addr.Value))
	return notHalted(err, "set pc")
}

func (s *Session) breakpointScript(op scripts.ControlOp, addr uint64) *scripts.ControlScript {
	script := scripts.NewControlScript(s.config.Target(), op, addr)
	if s.config.SoftwareBreakpoints {
		script.WithSoftware()
	}
	return script
}

// AddBreakpoint arms a breakpoint at addr.Value. The core matches on
// the value alone; the space is kept so stops can be classified.
func (s *Session) AddBreakpoint(ctx context.Context, addr target.Address) error {
	if _, err := s.run(ctx, s.breakpointScript(scripts.OpAddBreakpoint, addr.Value)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, bp := range s.breakpoints {
		if bp == addr {
			return nil
		}
	}
	s.breakpoints = append(s.breakpoints, addr)
	return nil
}

func (s *Session) RemoveBreakpoint(ctx context.Context, addr target.Address) error {
	if _, err := s.run(ctx, s.breakpointScript(scripts.OpRemoveBreakpoint, addr.Value)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.breakpoints[:0]
	for _, bp := range s.breakpoints {
		if !bp.Matches(addr) {
			kept = append(kept, bp)
		}
	}
	s.breakpoints = kept
	return nil
}

func (s *Session) RemoveAllBreakpoints(ctx context.Context) error {
	if _, err := s.run(ctx, s.breakpointScript(scripts.OpClearBreakpoints, 0)); err != nil {
		return err
	}

	s.mu.Lock()
	s.breakpoints = nil
	s.mu.Unlock()
	return nil
}

// Breakpoints lists what OpenOCD reports as armed. Entries this session
// armed keep their space, anything else is untagged.
func (s *Session) Breakpoints(ctx context.Context) ([]target.Address, error) {
	result, err := s.run(ctx, s.breakpointScript(scripts.OpListBreakpoints, 0))
	if err != nil {
		return nil, err
	}
	values, _ := result.GetData("breakpoints").([]uint64)

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]target.Address, 0, len(values))
	for _, v := range values {
		addr := target.Untagged(v)
		for _, bp := range s.breakpoints {
			if bp.Value == v {
				addr = bp
				break
			}
		}
		out = append(out, addr)
	}
	return out, nil
}

func (s *Session) armed(pc target.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, bp := range s.breakpoints {
		if bp.Matches(pc) {
			return true
		}
	}
	return false
}

// onBreakpoint reports whether the halted core sits on any breakpoint
// OpenOCD has armed, including ones set outside this session.
func (s *Session) onBreakpoint(ctx context.Context) (bool, error) {
	bps, err := s.Breakpoints(ctx)
	if err != nil || len(bps) == 0 {
		return false, err
	}
	pc, err := s.PC(ctx)
	if err != nil {
		return false, err
	}
	for _, bp := range bps {
		if bp.Value == pc.Value {
			return true, nil
		}
	}
	return false, nil
}

// ResumeAndWait resumes the core and waits up to timeout for a halt.
//
// OpenOCD stops again immediately when resuming on an armed breakpoint,
// so the core is single-stepped first when the PC sits on one.
func (s *Session) ResumeAndWait(ctx context.Context, timeout time.Duration) (target.StopEvent, error) {
	stepFirst, err := s.onBreakpoint(ctx)
	if err != nil {
		return target.StopEvent{}, err
	}

	s.logger.Debug("resuming target",
		zap.Duration("wait", timeout),
		zap.Bool("step_first", stepFirst),
	)

	result, err := s.run(ctx, scripts.NewResumeWaitScript(s.config.Target(), timeout, stepFirst))
	if ctxErr := ctx.Err(); ctxErr != nil {
		return target.StopEvent{}, ctxErr
	}
	if err != nil {
		return target.StopEvent{}, err
	}

	if halted, _ := result.GetData("halted").(bool); !halted {
		if parseRunState(result.GetDataString("state")) == target.StateTerminated {
			return target.StopEvent{Reason: target.StopTerminated, Detail: "target held in reset"}, nil
		}
		return target.StopEvent{}, target.ErrWaitTimeout
	}

	pc, err := s.PC(ctx)
	if err != nil {
		return target.StopEvent{}, err
	}
	if s.armed(pc) {
		return target.StopEvent{Reason: target.StopBreakpoint, PC: pc}, nil
	}
	return target.StopEvent{Reason: target.StopHalted, PC: pc, Detail: "halted outside armed breakpoints"}, nil
}

func (s *Session) WriteMemory(ctx context.Context, addr uint64, data []byte) error {
	file, err := os.CreateTemp(s.config.WorkDir, "stagehand-write-*.bin")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(file.Name())

	_, err = file.Write(data)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to stage write data: %w", err)
	}

	_, err = s.run(ctx, scripts.NewWriteMemoryScript(s.config.Target(), addr, len(data), file.Name()))
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) {
			return &target.MemoryError{Op: "write", Address: addr, Size: len(data), Err: err}
		}
		return err
	}
	return nil
}

func (s *Session) ReadMemory(ctx context.Context, addr uint64, size int) ([]byte, error) {
	file, err := os.CreateTemp(s.config.WorkDir, "stagehand-read-*.bin")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	path := file.Name()
	file.Close()
	defer os.Remove(path)

	if _, err := s.run(ctx, scripts.NewDumpMemoryScript(s.config.Target(), addr, size, path)); err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) {
			return nil, &target.MemoryError{Op: "read", Address: addr, Size: size, Err: err}
		}
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dump: %w", err)
	}
	if len(data) != size {
		return nil, &target.MemoryError{
			Op:      "read",
			Address: addr,
			Size:    size,
			Err:     fmt.Errorf("dump returned %d bytes", len(data)),
		}
	}
	return data, nil
}

// LoadSymbols parses the stage's ELF, has GDB accept it at its .text
// address and adds it to the session table.
func (s *Session) LoadSymbols(ctx context.Context, stage, path string) (*symbols.Image, error) {
	img, err := symbols.Load(stage, path)
	if err != nil {
		return nil, err
	}

	if _, err := s.run(ctx, scripts.NewLoadSymbolsScript(s.config.Target(), stage, path, img.TextAddress)); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.table.Add(img)
	s.mu.Unlock()

	if s.config.SymbolFile != "" {
		if err := s.writeSymbolFile(); err != nil {
			s.logger.Warn("failed to update symbol file",
				zap.String("path", s.config.SymbolFile),
				zap.Error(err),
			)
		}
	}

	s.logger.Debug("symbols loaded",
		zap.String("stage", stage),
		zap.String("path", path),
		zap.Int("symbols", len(img.Symbols)),
	)
	return img, nil
}

// writeSymbolFile writes a GDB script loading every stage so far, for
// an interactive session attached after injection.
func (s *Session) writeSymbolFile() error {
	file, err := os.Create(s.config.SymbolFile)
	if err != nil {
		return err
	}
	s.mu.Lock()
	err = s.table.WriteGDBScript(file)
	s.mu.Unlock()
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	return err
}

func (s *Session) LookupSymbol(ctx context.Context, name string) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr, _, ok := s.table.Lookup(name)
	return addr, ok
}
