package runto

import (
	"fmt"
	"time"

	"github.com/muurk/stagehand/internal/target"
)

// TimeoutError is returned when the target did not reach the condition
// within the wait window. The controller halts the target and removes
// its breakpoint before returning it.
type TimeoutError struct {
	Condition Condition
	Address   target.Address
	Timeout   time.Duration
	// PC is where the target was halted, if it could be read
	PC *target.Address
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("run to %s (%s) timed out after %s", e.Condition, e.Address, e.Timeout)
	if e.PC != nil {
		msg += fmt.Sprintf(", target halted at %s", *e.PC)
	}
	return msg
}

// AbortedError is returned when the target faulted or the session ended
// before the condition was reached.
type AbortedError struct {
	Condition Condition
	Address   target.Address
	Reason    target.StopReason
	PC        target.Address
	Detail    string
	// Underlying error if the session itself failed
	Err error
}

func (e *AbortedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("run to %s (%s) aborted: %v", e.Condition, e.Address, e.Err)
	}
	msg := fmt.Sprintf("run to %s (%s) aborted: target %s at %s", e.Condition, e.Address, e.Reason, e.PC)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *AbortedError) Unwrap() error {
	return e.Err
}
