package scripts

import (
	"embed"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

//go:embed templates/*.gdb.tmpl
var templates embed.FS

// Script represents a GDB operation that can be executed.
// Every target primitive the session needs (halt, resume, breakpoint
// changes, memory transfer) is one Script.
type Script interface {
	// Name returns a human-readable name for this script.
	// Used for logging, temp file names and error messages.
	Name() string

	// Template returns the GDB script template content.
	// The template uses Go text/template syntax and can access parameters
	// via the map returned by Params().
	Template() string

	// Params returns the parameters to be substituted into the template.
	Params() map[string]interface{}

	// Parse extracts structured results from GDB output.
	// Returns an error if parsing fails (use GDBParseError).
	Parse(output string) (*Result, error)
}

// TimeoutOverride is implemented by scripts that block on the target,
// such as waiting for a halt, and need more time than the executor's
// default.
type TimeoutOverride interface {
	Timeout() time.Duration
}

// Result represents the outcome of executing a GDB script.
type Result struct {
	// Success indicates whether the overall operation succeeded.
	Success bool

	// Duration is how long the GDB script took to execute.
	Duration time.Duration

	// BytesWritten is the number of bytes written (for write operations).
	BytesWritten int

	// BytesRead is the number of bytes read (for read operations).
	BytesRead int

	// Steps contains progress information for multi-step operations.
	Steps []Step

	// Data contains operation-specific parsed data, for example
	// "state": "halted" or "pc": uint64(0x100000).
	Data map[string]interface{}

	// Error contains the error if the operation failed.
	Error error

	// RawOutput contains the complete stdout from GDB.
	RawOutput string

	// RawStderr contains the complete stderr from GDB.
	RawStderr string
}

// Step represents a single step in a multi-step GDB operation.
// Steps are extracted from echo statements in the GDB script:
//
//	echo [1/2] Arming breakpoint...\n
type Step struct {
	Name string
	// Status: "success", "failed", "skipped"
	Status  string
	Message string
}

// NewResult creates a new Result with default values.
func NewResult() *Result {
	return &Result{
		Success: false,
		Steps:   make([]Step, 0),
		Data:    make(map[string]interface{}),
	}
}

// AddStep adds a step to the result.
func (r *Result) AddStep(name, status, message string) {
	r.Steps = append(r.Steps, Step{
		Name:    name,
		Status:  status,
		Message: message,
	})
}

// SetData sets a data value in the result.
func (r *Result) SetData(key string, value interface{}) {
	r.Data[key] = value
}

// GetData gets a data value from the result.
// Returns nil if the key doesn't exist.
func (r *Result) GetData(key string) interface{} {
	return r.Data[key]
}

// GetDataString gets a string data value from the result.
// Returns empty string if the key doesn't exist or value is not a string.
func (r *Result) GetDataString(key string) string {
	if v, ok := r.Data[key].(string); ok {
		return v
	}
	return ""
}

// GetDataUint64 gets a uint64 data value from the result.
func (r *Result) GetDataUint64(key string) (uint64, bool) {
	v, ok := r.Data[key].(uint64)
	return v, ok
}

// SuccessSteps returns the count of successful steps.
func (r *Result) SuccessSteps() int {
	count := 0
	for _, step := range r.Steps {
		if step.Status == "success" {
			count++
		}
	}
	return count
}

// FailedSteps returns the count of failed steps.
func (r *Result) FailedSteps() int {
	count := 0
	for _, step := range r.Steps {
		if step.Status == "failed" {
			count++
		}
	}
	return count
}

// TotalSteps returns the total number of steps.
func (r *Result) TotalSteps() int {
	return len(r.Steps)
}

const successMarker = "[SUCCESS]"

// Target identifies the OpenOCD GDB server every script connects to.
type Target struct {
	Host string
	Port int
}

func (t Target) params() map[string]interface{} {
	return map[string]interface{}{
		"OpenOCDHost": t.Host,
		"OpenOCDPort": t.Port,
	}
}

// load returns the connect preamble followed by the named template.
func load(name string) string {
	preamble, err := templates.ReadFile("templates/connect.gdb.tmpl")
	if err != nil {
		panic(err)
	}
	body, err := templates.ReadFile("templates/" + name + ".gdb.tmpl")
	if err != nil {
		panic(err)
	}
	return string(preamble) + string(body)
}

var (
	stepPattern  = regexp.MustCompile(`^\[(\d+)/(\d+)\]\s+(.+?)(?:\.\.\.)?\s*$`)
	errorPattern = regexp.MustCompile(`(?i)^(?:error|.*cannot access memory|.*not halted|.*failed).*$`)
)

// parseCommon records the echoed steps, checks the success marker and
// pulls the first error-looking line into Result.Error when it is
// missing.
func parseCommon(name, output string) *Result {
	result := NewResult()
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if m := stepPattern.FindStringSubmatch(line); m != nil {
			result.AddStep(fmt.Sprintf("[%s/%s] %s", m[1], m[2], m[3]), "success", "")
		}
	}

	if strings.Contains(output, successMarker) {
		result.Success = true
		return result
	}

	result.Error = fmt.Errorf("%s: success marker not found", name)
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if errorPattern.MatchString(line) {
			result.Error = fmt.Errorf("%s: %s", name, line)
			break
		}
	}
	if n := len(result.Steps); n > 0 {
		result.Steps[n-1].Status = "failed"
	}
	return result
}

// parseHex parses a 0x-prefixed or decimal value.
func parseHex(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(s), 0, 64)
}
