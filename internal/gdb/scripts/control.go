package scripts

import (
	"regexp"
	"strings"
)

// ControlOp is a run-control operation.
type ControlOp string

const (
	OpHalt             ControlOp = "halt"
	OpSetPC            ControlOp = "set_pc"
	OpAddBreakpoint    ControlOp = "bp_add"
	OpRemoveBreakpoint ControlOp = "bp_remove"
	OpClearBreakpoints ControlOp = "bp_clear"
	OpListBreakpoints  ControlOp = "bp_list"
)

// OpenOCD prints either "Breakpoint(IVA): 0x00100000, 0x4, 1" or
// "Hardware breakpoint(IVA): addr=0x00100000, len=0x4, num=0".
var breakpointListPattern = regexp.MustCompile(`(?i)breakpoint\([^)]*\):\s*(?:addr=)?(0x[0-9a-fA-F]+)`)

// ControlScript issues one OpenOCD run-control command.
type ControlScript struct {
	target  Target
	op      ControlOp
	address uint64
	kind    string
}

// NewControlScript creates a control script. address is ignored by
// operations that take none.
func NewControlScript(t Target, op ControlOp, address uint64) *ControlScript {
	return &ControlScript{target: t, op: op, address: address, kind: "hw"}
}

// WithSoftware arms software breakpoints instead of hardware ones.
func (s *ControlScript) WithSoftware() *ControlScript {
	s.kind = "sw"
	return s
}

func (s *ControlScript) Name() string {
	return string(s.op)
}

func (s *ControlScript) Template() string {
	return load("control")
}

func (s *ControlScript) Params() map[string]interface{} {
	p := s.target.params()
	p["Op"] = string(s.op)
	p["Address"] = s.address
	p["Kind"] = s.kind
	return p
}

// Parse checks the success marker. For OpListBreakpoints it sets
// Data["breakpoints"] to the listed addresses.
func (s *ControlScript) Parse(output string) (*Result, error) {
	result := parseCommon(s.Name(), output)
	if !result.Success || s.op != OpListBreakpoints {
		return result, nil
	}

	addrs := make([]uint64, 0)
	for _, line := range strings.Split(output, "\n") {
		m := breakpointListPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		v, err := parseHex(m[1])
		if err != nil {
			return nil, &FieldError{Field: "breakpoints", Err: err}
		}
		addrs = append(addrs, v)
	}
	result.SetData("breakpoints", addrs)
	return result, nil
}
