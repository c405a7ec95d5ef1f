package scripts

import "fmt"

// FieldError is returned by Parse when a required value is missing
// from GDB output. The executor wraps it in a GDBParseError.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %q: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

func missing(field string) error {
	return &FieldError{Field: field, Err: fmt.Errorf("not found in output")}
}
