package scripts

import "regexp"

var statePattern = regexp.MustCompile(`state:\s*"?([a-z\-]+)`)

// StateScript reads the OpenOCD run state of the current target.
type StateScript struct {
	target Target
}

// NewStateScript creates a state query script.
func NewStateScript(t Target) *StateScript {
	return &StateScript{target: t}
}

func (s *StateScript) Name() string {
	return "state"
}

func (s *StateScript) Template() string {
	return load("state")
}

func (s *StateScript) Params() map[string]interface{} {
	return s.target.params()
}

// Parse sets Data["state"] to the OpenOCD state name, e.g. "halted".
func (s *StateScript) Parse(output string) (*Result, error) {
	result := parseCommon(s.Name(), output)
	if !result.Success {
		return result, nil
	}
	m := statePattern.FindStringSubmatch(output)
	if m == nil {
		return nil, missing("state")
	}
	result.SetData("state", m[1])
	return result, nil
}
