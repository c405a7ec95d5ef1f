package scripts

import (
	"fmt"
	"strings"
)

// DumpMemoryScript implements memory dumping from the target.
type DumpMemoryScript struct {
	target       Target
	startAddress uint64
	size         int
	outputFile   string
}

// NewDumpMemoryScript creates a new memory dump script
func NewDumpMemoryScript(t Target, startAddress uint64, size int, outputFile string) *DumpMemoryScript {
	return &DumpMemoryScript{
		target:       t,
		startAddress: startAddress,
		size:         size,
		outputFile:   outputFile,
	}
}

// Name returns the script name
func (s *DumpMemoryScript) Name() string {
	return "dump_memory"
}

// Template returns the embedded GDB script template
func (s *DumpMemoryScript) Template() string {
	return load("dump_memory")
}

// Params returns the template parameters
func (s *DumpMemoryScript) Params() map[string]interface{} {
	p := s.target.params()
	p["StartAddress"] = s.startAddress
	p["EndAddress"] = s.startAddress + uint64(s.size)
	p["Size"] = s.size
	p["OutputFile"] = s.outputFile
	return p
}

// Parse parses the GDB output
func (s *DumpMemoryScript) Parse(output string) (*Result, error) {
	result := parseCommon(s.Name(), output)
	if result.Success {
		result.BytesRead = s.size
		result.SetData("output_file", s.outputFile)
		return result, nil
	}
	if strings.Contains(output, "Cannot access memory") {
		result.Error = fmt.Errorf("cannot access memory at 0x%x: address may be invalid or not accessible", s.startAddress)
	}
	return result, nil
}
