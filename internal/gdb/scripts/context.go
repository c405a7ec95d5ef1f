package scripts

import "regexp"

// DefaultSecurityCommand reads the ARMv7 Secure Configuration Register.
// It faults when issued from the non-secure world, which the parser
// reports as "unavailable".
const DefaultSecurityCommand = "arm mrc 15 0 1 1 0"

var (
	pcPattern  = regexp.MustCompile(`pc\b[^:\n]*:\s*(0x[0-9a-fA-F]+)`)
	scrPattern = regexp.MustCompile(`scr:\s*(0x[0-9a-fA-F]+|\d+|unavailable)`)
)

// ContextScript reads the program counter and security state of a
// halted core.
type ContextScript struct {
	target          Target
	securityCommand string
}

// NewContextScript creates a context read. An empty securityCommand
// selects DefaultSecurityCommand.
func NewContextScript(t Target, securityCommand string) *ContextScript {
	if securityCommand == "" {
		securityCommand = DefaultSecurityCommand
	}
	return &ContextScript{target: t, securityCommand: securityCommand}
}

func (s *ContextScript) Name() string {
	return "context"
}

func (s *ContextScript) Template() string {
	return load("context")
}

func (s *ContextScript) Params() map[string]interface{} {
	p := s.target.params()
	p["SecurityCommand"] = s.securityCommand
	return p
}

// Parse sets Data["pc"] (uint64) and Data["nonsecure"] (bool).
func (s *ContextScript) Parse(output string) (*Result, error) {
	result := parseCommon(s.Name(), output)
	if !result.Success {
		return result, nil
	}

	m := pcPattern.FindStringSubmatch(output)
	if m == nil {
		return nil, missing("pc")
	}
	pc, err := parseHex(m[1])
	if err != nil {
		return nil, &FieldError{Field: "pc", Err: err}
	}
	result.SetData("pc", pc)

	m = scrPattern.FindStringSubmatch(output)
	if m == nil {
		return nil, missing("scr")
	}
	if m[1] == "unavailable" {
		result.SetData("nonsecure", true)
		return result, nil
	}
	scr, err := parseHex(m[1])
	if err != nil {
		return nil, &FieldError{Field: "scr", Err: err}
	}
	result.SetData("scr", scr)
	result.SetData("nonsecure", scr&1 == 1)
	return result, nil
}
