package target

import "fmt"

// PreconditionError is returned when an operation needs the core in a
// particular state and it is not.
type PreconditionError struct {
	// Op is the operation that was refused
	Op string
	// State is the state the core was found in
	State RunState
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s requires a halted target, target is %s", e.Op, e.State)
}

// MemoryError reports a rejected memory access.
type MemoryError struct {
	Op      string
	Address uint64
	Size    int
	Err     error
}

func (e *MemoryError) Error() string {
	return fmt.Sprintf("memory %s of %d bytes at 0x%08x failed: %v", e.Op, e.Size, e.Address, e.Err)
}

func (e *MemoryError) Unwrap() error {
	return e.Err
}
