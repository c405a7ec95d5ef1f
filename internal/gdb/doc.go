// Package gdb drives a JTAG-attached core through arm-none-eabi-gdb and
// OpenOCD.
//
// Every target operation is one short GDB batch run: a script template
// is rendered, written to a temp file and executed with
// "gdb -batch -nx -x <file>". The output is parsed into a
// scripts.Result.
//
//	┌─────────────────┐
//	│ Session         │  target.Session: halt, pc, breakpoints, memory
//	└────────┬────────┘
//	         │
//	         v
//	┌─────────────────┐
//	│ Script          │  Implements: Name(), Template(), Params(), Parse()
//	│ (ResumeWait)    │
//	└────────┬────────┘
//	         │
//	         v
//	┌─────────────────┐
//	│ Executor        │  Renders template, executes GDB, cleans up
//	└────────┬────────┘
//	         │
//	         v
//	┌─────────────────┐
//	│ Result          │  Success marker, steps, parsed data
//	└─────────────────┘
//
// # Executor
//
//	config := gdb.DefaultConfig()
//	config.OpenOCDHost = "192.168.1.50"
//	executor := gdb.NewExecutor(config, logger)
//	result, err := executor.Execute(ctx, scripts.NewStateScript(config.Target()))
//
// Scripts that block on the target implement scripts.TimeoutOverride so
// a long run-to wait is not cut short by the default timeout.
//
// # Session
//
// GDB keeps no state between batch runs. Session therefore tracks the
// breakpoints it armed, with the security space each was requested in,
// and the symbol table of every stage loaded so far. With
// Config.SymbolFile set, a GDB script adding all stage symbol files is
// rewritten after each load so an interactive GDB can pick them up.
//
// Resuming a core that sits on an armed breakpoint re-hits it at once,
// so ResumeAndWait single-steps first in that case.
//
// # OpenOCD configuration
//
// The default OpenOCD gdb-attach handler halts the target. Attaching
// for every operation must not disturb a running core, so the board
// configuration needs:
//
//	$_TARGETNAME configure -event gdb-attach {}
//
// # Error Handling
//
//   - GDBExecutionError: GDB exited non-zero or could not start
//   - GDBConnectionError: OpenOCD is not reachable
//   - GDBParseError: output lacked a required field
//   - CommandError: the script ran but OpenOCD refused the operation
//   - TimeoutError: the GDB process outlived its timeout
//
// Refusals caused by a running core are reported as
// target.PreconditionError, rejected memory accesses as
// target.MemoryError.
//
// # References
//
// GDB Documentation: https://sourceware.org/gdb/documentation/
// OpenOCD Manual: https://openocd.org/doc/html/index.html
package gdb
