package scripts

import (
	"regexp"
	"time"
)

var waitPattern = regexp.MustCompile(`wait:\s*(halted|timeout)`)

// ResumeWaitScript resumes the target and waits for it to halt.
type ResumeWaitScript struct {
	target    Target
	wait      time.Duration
	stepFirst bool
}

// NewResumeWaitScript creates a resume that waits up to wait for a
// halt. stepFirst single-steps before resuming so a breakpoint at the
// current PC does not stop the core again immediately.
func NewResumeWaitScript(t Target, wait time.Duration, stepFirst bool) *ResumeWaitScript {
	return &ResumeWaitScript{target: t, wait: wait, stepFirst: stepFirst}
}

func (s *ResumeWaitScript) Name() string {
	return "resume_wait"
}

func (s *ResumeWaitScript) Template() string {
	return load("resume_wait")
}

func (s *ResumeWaitScript) Params() map[string]interface{} {
	p := s.target.params()
	millis := s.wait.Milliseconds()
	if millis < 1 {
		millis = 1
	}
	p["WaitMillis"] = millis
	p["StepFirst"] = s.stepFirst
	return p
}

// Timeout leaves room for GDB startup on top of the wait window.
func (s *ResumeWaitScript) Timeout() time.Duration {
	return s.wait + 30*time.Second
}

// Parse sets Data["halted"] (bool) and Data["state"].
func (s *ResumeWaitScript) Parse(output string) (*Result, error) {
	result := parseCommon(s.Name(), output)
	if !result.Success {
		return result, nil
	}
	m := waitPattern.FindStringSubmatch(output)
	if m == nil {
		return nil, missing("wait")
	}
	result.SetData("halted", m[1] == "halted")
	if st := statePattern.FindStringSubmatch(output); st != nil {
		result.SetData("state", st[1])
	}
	return result, nil
}
