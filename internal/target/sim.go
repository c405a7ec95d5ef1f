package target

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/muurk/stagehand/internal/symbols"
)

// Step is one point on the simulated execution path.
type Step struct {
	// PC is the instruction address the core reaches. A tagged PC also
	// switches the simulated security state.
	PC Address
	// Fault makes the core stop with StopFault at this step.
	Fault bool
	// Exit terminates the session at this step.
	Exit bool
	// Halt simulates an external halt at this step.
	Halt bool
}

// WriteHook can reject memory writes, for example to model a region
// that is not yet initialised.
type WriteHook func(addr uint64, data []byte) error

// Write records one memory write for inspection within tests.
type Write struct {
	Address uint64
	Data    []byte
}

// Sim is an in-memory Session. Execution follows Trace: each resume
// walks forward from the current position until an armed breakpoint,
// a fault, an exit or an external halt is reached. When the trace runs
// out the core keeps running until the wait window closes.
type Sim struct {
	// Trace is the execution path taken after the initial PC.
	Trace []Step
	// OnWrite is consulted before every memory write.
	OnWrite WriteHook

	mu          sync.Mutex
	state       RunState
	pc          Address
	security    Space
	pos         int
	breakpoints []Address
	memory      map[uint64]byte
	writes      []Write
	ops         []string
	table       *symbols.Table
}

// NewSim returns a halted simulated core at pc in the secure world.
func NewSim(pc uint64, trace ...Step) *Sim {
	return &Sim{
		Trace:    trace,
		state:    StateHalted,
		pc:       Secure(pc),
		security: SpaceSecure,
		memory:   make(map[uint64]byte),
		table:    symbols.NewTable(),
	}
}

// SetState forces the run state, for tests that start from a running
// or terminated core.
func (s *Sim) SetState(state RunState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// SetSecurity forces the current security state.
func (s *Sim) SetSecurity(space Space) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.security = space
	s.pc.Space = space
}

// Ops returns the session operations performed so far, in order.
func (s *Sim) Ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ops...)
}

// Writes returns a copy of every accepted memory write.
func (s *Sim) Writes() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Write, len(s.writes))
	for i, w := range s.writes {
		out[i] = Write{Address: w.Address, Data: append([]byte(nil), w.Data...)}
	}
	return out
}

// Poke stores data without recording a write, to seed memory.
func (s *Sim) Poke(addr uint64, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, b := range data {
		s.memory[addr+uint64(i)] = b
	}
}

// Symbols returns the simulated symbol table.
func (s *Sim) Symbols() *symbols.Table {
	return s.table
}

func (s *Sim) record(format string, args ...interface{}) {
	s.ops = append(s.ops, fmt.Sprintf(format, args...))
}

func (s *Sim) State(ctx context.Context) (RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

func (s *Sim) Halt(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateTerminated {
		return ErrTerminated
	}
	s.record("halt")
	s.state = StateHalted
	return nil
}

func (s *Sim) PC(ctx context.Context) (Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateHalted {
		return Address{}, &PreconditionError{Op: "read pc", State: s.state}
	}
	return s.pc.In(s.security), nil
}

func (s *Sim) SetPC(ctx context.Context, addr Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateHalted {
		return &PreconditionError{Op: "set pc", State: s.state}
	}
	s.record("set-pc %s", addr)
	if addr.Space != SpaceAny {
		s.security = addr.Space
	}
	s.pc = addr.In(s.security)
	return nil
}

func (s *Sim) AddBreakpoint(ctx context.Context, addr Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateTerminated {
		return ErrTerminated
	}
	s.record("add-breakpoint %s", addr)
	for _, bp := range s.breakpoints {
		if bp == addr {
			return nil
		}
	}
	s.breakpoints = append(s.breakpoints, addr)
	return nil
}

func (s *Sim) RemoveBreakpoint(ctx context.Context, addr Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("remove-breakpoint %s", addr)
	for i, bp := range s.breakpoints {
		if bp == addr {
			s.breakpoints = append(s.breakpoints[:i], s.breakpoints[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("no breakpoint at %s", addr)
}

func (s *Sim) RemoveAllBreakpoints(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("remove-all-breakpoints")
	s.breakpoints = nil
	return nil
}

func (s *Sim) Breakpoints(ctx context.Context) ([]Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Address(nil), s.breakpoints...), nil
}

// ResumeAndWait walks the trace. Stops are decided under the lock; the
// wait for a still-running core happens outside it so Halt can be
// called concurrently.
func (s *Sim) ResumeAndWait(ctx context.Context, timeout time.Duration) (StopEvent, error) {
	s.mu.Lock()
	switch s.state {
	case StateTerminated:
		s.mu.Unlock()
		return StopEvent{}, ErrTerminated
	case StateRunning:
	default:
		s.record("resume")
	}
	s.state = StateRunning

	for s.pos < len(s.Trace) {
		step := s.Trace[s.pos]
		s.pos++
		if step.PC.Space != SpaceAny {
			s.security = step.PC.Space
		}
		s.pc = step.PC.In(s.security)

		switch {
		case step.Exit:
			s.state = StateTerminated
			ev := StopEvent{Reason: StopTerminated, PC: s.pc, Detail: "target exited"}
			s.mu.Unlock()
			return ev, nil
		case step.Fault:
			s.state = StateHalted
			ev := StopEvent{Reason: StopFault, PC: s.pc, Detail: "unrecoverable exception"}
			s.mu.Unlock()
			return ev, nil
		case s.armedLocked(s.pc):
			s.state = StateHalted
			ev := StopEvent{Reason: StopBreakpoint, PC: s.pc}
			s.mu.Unlock()
			return ev, nil
		case step.Halt:
			s.state = StateHalted
			ev := StopEvent{Reason: StopHalted, PC: s.pc, Detail: "external halt"}
			s.mu.Unlock()
			return ev, nil
		}
	}
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return StopEvent{}, ctx.Err()
	case <-timer.C:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateHalted {
		return StopEvent{Reason: StopHalted, PC: s.pc.In(s.security), Detail: "halted while waiting"}, nil
	}
	return StopEvent{}, ErrWaitTimeout
}

func (s *Sim) armedLocked(pc Address) bool {
	for _, bp := range s.breakpoints {
		if bp.Matches(pc) {
			return true
		}
	}
	return false
}

func (s *Sim) WriteMemory(ctx context.Context, addr uint64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateHalted {
		return &PreconditionError{Op: "write memory", State: s.state}
	}
	if s.OnWrite != nil {
		if err := s.OnWrite(addr, data); err != nil {
			return &MemoryError{Op: "write", Address: addr, Size: len(data), Err: err}
		}
	}
	s.record("write 0x%08x+%d", addr, len(data))
	for i, b := range data {
		s.memory[addr+uint64(i)] = b
	}
	s.writes = append(s.writes, Write{Address: addr, Data: append([]byte(nil), data...)})
	return nil
}

func (s *Sim) ReadMemory(ctx context.Context, addr uint64, size int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if size < 0 {
		return nil, &MemoryError{Op: "read", Address: addr, Size: size, Err: errors.New("negative size")}
	}
	out := make([]byte, size)
	for i := range out {
		out[i] = s.memory[addr+uint64(i)]
	}
	return out, nil
}

func (s *Sim) LoadSymbols(ctx context.Context, stage, path string) (*symbols.Image, error) {
	img, err := symbols.Load(stage, path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.record("load-symbols %s", stage)
	s.mu.Unlock()
	s.table.Add(img)
	return img, nil
}

func (s *Sim) LookupSymbol(ctx context.Context, name string) (uint64, bool) {
	addr, _, ok := s.table.Lookup(name)
	return addr, ok
}

func (s *Sim) SecurityState(ctx context.Context) (Space, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.security, nil
}
