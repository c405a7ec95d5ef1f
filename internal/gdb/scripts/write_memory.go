package scripts

// WriteMemoryScript restores a binary file into target memory.
type WriteMemoryScript struct {
	target    Target
	address   uint64
	size      int
	inputFile string
}

// NewWriteMemoryScript creates a write of inputFile (size bytes) at
// address.
func NewWriteMemoryScript(t Target, address uint64, size int, inputFile string) *WriteMemoryScript {
	return &WriteMemoryScript{target: t, address: address, size: size, inputFile: inputFile}
}

func (s *WriteMemoryScript) Name() string {
	return "write_memory"
}

func (s *WriteMemoryScript) Template() string {
	return load("write_memory")
}

func (s *WriteMemoryScript) Params() map[string]interface{} {
	p := s.target.params()
	p["Address"] = s.address
	p["Size"] = s.size
	p["InputFile"] = s.inputFile
	return p
}

func (s *WriteMemoryScript) Parse(output string) (*Result, error) {
	result := parseCommon(s.Name(), output)
	if result.Success {
		result.BytesWritten = s.size
	}
	return result, nil
}
