package gdb

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const probeTimeout = 2 * time.Second

// PrerequisiteCheck is the outcome of one prerequisite check.
type PrerequisiteCheck struct {
	Name      string
	Available bool
	// Path is the resolved binary, for the GDB check
	Path    string
	Version string
	Message string
	Error   error
}

// PrerequisiteResult collects the checks run by ValidatePrerequisites.
type PrerequisiteResult struct {
	Checks []PrerequisiteCheck
	// AllAvailable is true when every check passed
	AllAvailable bool
}

// ValidatePrerequisites checks the GDB binary and the OpenOCD GDB port.
// Failed checks are reported in the result, not as an error.
func ValidatePrerequisites(ctx context.Context, gdbPath, openocdHost string, openocdPort int) (*PrerequisiteResult, error) {
	result := &PrerequisiteResult{
		Checks: []PrerequisiteCheck{
			checkGDBBinary(ctx, gdbPath),
			checkOpenOCDConnection(ctx, openocdHost, openocdPort),
		},
		AllAvailable: true,
	}
	for _, c := range result.Checks {
		if !c.Available {
			result.AllAvailable = false
		}
	}
	return result, nil
}

func checkGDBBinary(ctx context.Context, gdbPath string) PrerequisiteCheck {
	check := PrerequisiteCheck{Name: "GDB"}

	path, err := exec.LookPath(gdbPath)
	if err != nil {
		check.Error = err
		check.Message = gdbPath + " not found in PATH\n" +
			"Install on macOS: brew install --cask gcc-arm-embedded\n" +
			"Install on Linux: sudo apt-get install gdb-multiarch, then pass --gdb-path gdb-multiarch"
		return check
	}
	check.Path = path

	version, err := gdbVersion(ctx, path)
	if err != nil {
		check.Error = err
		check.Message = fmt.Sprintf("%s found at %s but is not usable: %v", gdbPath, path, err)
		return check
	}

	check.Available = true
	check.Version = version
	check.Message = "Found at " + path
	return check
}

// gdbVersion runs "gdb --version" and returns its first line, which
// must name GNU gdb.
func gdbVersion(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	output, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		return "", err
	}
	first, _, _ := strings.Cut(string(output), "\n")
	first = strings.TrimSpace(first)
	if !strings.Contains(first, "GNU gdb") {
		return "", fmt.Errorf("not GNU GDB: %q", first)
	}
	return first, nil
}

func checkOpenOCDConnection(ctx context.Context, host string, port int) PrerequisiteCheck {
	check := PrerequisiteCheck{Name: "OpenOCD"}
	address := net.JoinHostPort(host, strconv.Itoa(port))

	if err := ValidateOpenOCDConnection(ctx, host, port); err != nil {
		check.Error = err
		check.Message = fmt.Sprintf("Cannot connect to OpenOCD at %s\n"+
			"Ensure OpenOCD is running: openocd -f board/<your-board>.cfg", address)
		return check
	}

	check.Available = true
	check.Message = "Listening on " + address
	return check
}

// ValidateGDBPath checks gdbPath runs and is GNU GDB.
func ValidateGDBPath(ctx context.Context, gdbPath string) error {
	if gdbPath == "" {
		return &PrerequisiteError{Prerequisite: "gdb", Details: "GDB path is empty"}
	}
	if _, err := gdbVersion(ctx, gdbPath); err != nil {
		return &PrerequisiteError{
			Prerequisite: "gdb",
			Details:      fmt.Sprintf("%s --version failed", gdbPath),
			Err:          err,
		}
	}
	return nil
}

// ValidateOpenOCDConnection checks OpenOCD accepts connections on its
// GDB port. A GDB server greets with nothing, so connecting is all.
func ValidateOpenOCDConnection(ctx context.Context, host string, port int) error {
	dialer := net.Dialer{Timeout: probeTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return &GDBConnectionError{Host: host, Port: port, Err: err}
	}
	return conn.Close()
}

// FormatPrerequisiteReport formats result for a terminal.
func FormatPrerequisiteReport(result *PrerequisiteResult) string {
	var sb strings.Builder
	sb.WriteString("GDB Prerequisites Check:\n")
	sb.WriteString(strings.Repeat("━", 42) + "\n\n")

	for _, check := range result.Checks {
		marker := "✓"
		if !check.Available {
			marker = "✗"
		}
		fmt.Fprintf(&sb, "%s %s\n", marker, check.Name)
		if check.Available && check.Version != "" {
			fmt.Fprintf(&sb, "  Version: %s\n", check.Version)
		}
		if check.Available && check.Path != "" {
			fmt.Fprintf(&sb, "  Path: %s\n", check.Path)
		}
		scanner := bufio.NewScanner(strings.NewReader(check.Message))
		for scanner.Scan() {
			fmt.Fprintf(&sb, "  %s\n", scanner.Text())
		}
		sb.WriteString("\n")
	}

	if result.AllAvailable {
		sb.WriteString("All required prerequisites are available.\n")
	} else {
		sb.WriteString("Some prerequisites are missing. Please install them before proceeding.\n")
	}
	return sb.String()
}
