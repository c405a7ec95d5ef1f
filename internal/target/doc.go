// Package target defines the debug session surface the boot-stage
// injection controller drives.
//
// A Session is anything that can halt a core, move its program counter,
// arm breakpoints, resume until the next stop, and read or write target
// memory. Two implementations exist: the GDB/OpenOCD backed session in
// internal/gdb, and Sim, an in-memory model used by tests and by the
// --simulate flag of the CLI.
//
// Addresses carry a security space tag. On TrustZone parts the same
// numeric address names different memory in the secure and non-secure
// worlds, so an Address is only comparable together with its Space.
package target
