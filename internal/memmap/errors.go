package memmap

import (
	"fmt"
	"strings"

	"github.com/muurk/stagehand/internal/target"
)

// ResolutionError is returned when a reference does not map to any
// addressable target memory in the current configuration.
type ResolutionError struct {
	// Reference is the reference that failed to resolve
	Reference Reference
	// Name is set instead of Reference when a named location, such
	// as a boot stage, could not be turned into a reference
	Name string
	// Space is the security space resolution was attempted in
	Space target.Space
	// Region is the region involved, if one was found
	Region string
	// Reason describes the failure
	Reason string
	// Underlying error if any
	Err error
}

func (e *ResolutionError) Error() string {
	what := e.Reference.String()
	if e.Name != "" {
		what = e.Name
	}
	msg := fmt.Sprintf("cannot resolve %s in %s space", what, e.Space.Name())
	if e.Region != "" {
		msg += fmt.Sprintf(" (region %s)", e.Region)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// UnsupportedPlatformError is returned for a platform name missing from
// the catalog.
type UnsupportedPlatformError struct {
	Name      string
	Available []string
}

func (e *UnsupportedPlatformError) Error() string {
	return fmt.Sprintf("unsupported platform %q\n"+
		"Known platforms: %s\n"+
		"A custom memory map can be supplied with --catalog <file.yaml>",
		e.Name, strings.Join(e.Available, ", "))
}
