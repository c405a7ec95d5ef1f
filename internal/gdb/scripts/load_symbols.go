package scripts

// LoadSymbolsScript checks that GDB accepts a stage's symbol file at
// its .text address.
type LoadSymbolsScript struct {
	target      Target
	stage       string
	path        string
	textAddress uint64
}

func NewLoadSymbolsScript(t Target, stage, path string, textAddress uint64) *LoadSymbolsScript {
	return &LoadSymbolsScript{target: t, stage: stage, path: path, textAddress: textAddress}
}

func (s *LoadSymbolsScript) Name() string {
	return "load_symbols"
}

func (s *LoadSymbolsScript) Template() string {
	return load("load_symbols")
}

func (s *LoadSymbolsScript) Params() map[string]interface{} {
	p := s.target.params()
	p["Stage"] = s.stage
	p["Path"] = s.path
	p["TextAddress"] = s.textAddress
	return p
}

func (s *LoadSymbolsScript) Parse(output string) (*Result, error) {
	return parseCommon(s.Name(), output), nil
}
