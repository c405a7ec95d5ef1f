package loader

import "fmt"

// ImageLoadError is returned when a stage binary cannot be read or
// written into target memory.
type ImageLoadError struct {
	Stage string
	Path  string
	// Op is the failing step: "read", "write" or "verify"
	Op      string
	Address uint64
	Err     error
}

func (e *ImageLoadError) Error() string {
	switch e.Op {
	case "read":
		return fmt.Sprintf("stage %s: cannot read image %s: %v", e.Stage, e.Path, e.Err)
	default:
		return fmt.Sprintf("stage %s: image %s %s at 0x%08x failed: %v", e.Stage, e.Path, e.Op, e.Address, e.Err)
	}
}

func (e *ImageLoadError) Unwrap() error {
	return e.Err
}

// LoadSymbolError is returned when a stage's symbol image cannot be
// loaded into the session.
type LoadSymbolError struct {
	Stage string
	Path  string
	Err   error
}

func (e *LoadSymbolError) Error() string {
	return fmt.Sprintf("stage %s: cannot load symbols from %s: %v", e.Stage, e.Path, e.Err)
}

func (e *LoadSymbolError) Unwrap() error {
	return e.Err
}
