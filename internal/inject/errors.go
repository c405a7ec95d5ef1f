package inject

import "fmt"

// PhaseError reports where in the stage lifecycle an injection
// stopped. It unwraps to the component error.
type PhaseError struct {
	Stage string
	// Phase is the last phase the stage completed
	Phase Phase
	// Op is the operation that failed: "halt", "position" or "load"
	Op  string
	Err error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("stage %s failed during %s (reached %s): %v", e.Stage, e.Op, e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}
