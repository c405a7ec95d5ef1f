// Package memmap translates logical stage addresses into the concrete
// addresses the debugger must use.
//
// A platform's memory map is a list of regions, each reachable through
// one view per security space. References come in two modes:
//
//   - Offset: an offset into the platform's boot region, the memory the
//     core executes from at reset.
//   - Absolute: an address as a stage sees it, optionally tagged with a
//     security space (S: or N:). Untagged addresses are taken in the
//     core's current security state.
//
// Resolution reads the core's security state, and possibly a memory
// controller status register, through the session on every call.
// Nothing is cached.
package memmap
