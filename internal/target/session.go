package target

import (
	"context"
	"errors"
	"time"

	"github.com/muurk/stagehand/internal/symbols"
)

// RunState is the execution state of the debugged core.
type RunState int

const (
	StateUnknown RunState = iota
	StateHalted
	StateRunning
	StateTerminated
)

func (s RunState) String() string {
	switch s {
	case StateHalted:
		return "halted"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// StopReason says why a resumed core stopped.
type StopReason int

const (
	// StopBreakpoint means an armed breakpoint was hit.
	StopBreakpoint StopReason = iota
	// StopHalted means the core halted for a reason the controller did
	// not arrange, such as an operator halt or a breakpoint owned by
	// someone else.
	StopHalted
	// StopFault means the core took an unrecoverable exception.
	StopFault
	// StopTerminated means the session ended while running.
	StopTerminated
)

func (r StopReason) String() string {
	switch r {
	case StopBreakpoint:
		return "breakpoint"
	case StopHalted:
		return "halted"
	case StopFault:
		return "fault"
	case StopTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// StopEvent describes a single stop after a resume.
type StopEvent struct {
	Reason StopReason
	PC     Address
	Detail string
}

// ErrWaitTimeout is returned by ResumeAndWait when the wait window
// elapsed with the core still running.
var ErrWaitTimeout = errors.New("target still running after wait window")

// ErrTerminated is returned by operations on a session whose target
// has terminated.
var ErrTerminated = errors.New("target session terminated")

// Session is a live debug connection to one target core.
//
// Implementations are not required to be safe for concurrent use; the
// injection orchestrator serialises access per session.
type Session interface {
	State(ctx context.Context) (RunState, error)
	Halt(ctx context.Context) error

	// PC returns the program counter tagged with the current security
	// state.
	PC(ctx context.Context) (Address, error)
	SetPC(ctx context.Context, addr Address) error

	AddBreakpoint(ctx context.Context, addr Address) error
	RemoveBreakpoint(ctx context.Context, addr Address) error
	RemoveAllBreakpoints(ctx context.Context) error
	Breakpoints(ctx context.Context) ([]Address, error)

	// ResumeAndWait resumes the core and blocks until it stops or the
	// timeout elapses. On timeout it returns ErrWaitTimeout and leaves
	// the core running.
	ResumeAndWait(ctx context.Context, timeout time.Duration) (StopEvent, error)

	WriteMemory(ctx context.Context, addr uint64, data []byte) error
	ReadMemory(ctx context.Context, addr uint64, size int) ([]byte, error)

	// LoadSymbols loads debug symbols for a stage. Symbols loaded for
	// an earlier stage stay available.
	LoadSymbols(ctx context.Context, stage, path string) (*symbols.Image, error)
	LookupSymbol(ctx context.Context, name string) (uint64, bool)

	SecurityState(ctx context.Context) (Space, error)
}

// RequireHalted returns a PreconditionError unless the session is
// halted.
func RequireHalted(ctx context.Context, sess Session, op string) error {
	state, err := sess.State(ctx)
	if err != nil {
		return err
	}
	if state != StateHalted {
		return &PreconditionError{Op: op, State: state}
	}
	return nil
}

// HasBreakpoint reports whether addr is in the session's breakpoint set.
func HasBreakpoint(ctx context.Context, sess Session, addr Address) (bool, error) {
	bps, err := sess.Breakpoints(ctx)
	if err != nil {
		return false, err
	}
	for _, bp := range bps {
		if bp.Matches(addr) {
			return true, nil
		}
	}
	return false, nil
}
