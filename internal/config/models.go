package config

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"
	"time"
)

// Config is the stagehand project configuration.
//
// Every field can be overridden from the environment; env-default
// supplies the value when neither the file nor the environment sets it.
type Config struct {
	Version int `yaml:"version" env-default:"1"`

	OpenOCD OpenOCD `yaml:"openocd"`
	GDB     GDB     `yaml:"gdb"`

	// Platform selects the memory map from the catalog.
	Platform string `yaml:"platform" env:"STAGEHAND_PLATFORM" env-default:"lan966x" env-description:"target platform in the memory map catalog"`
	// CatalogFile replaces the built-in platform catalog.
	CatalogFile string `yaml:"catalog_file,omitempty" env:"STAGEHAND_CATALOG" env-description:"path to a platform catalog YAML file"`

	RunToTimeout time.Duration `yaml:"run_to_timeout" env:"STAGEHAND_RUN_TO_TIMEOUT" env-default:"60s" env-description:"how long run-to waits for the target"`
	SkipProbes   bool          `yaml:"skip_probes,omitempty" env:"STAGEHAND_NO_PROBE" env-description:"do not probe memory controllers before resolving"`
	Verify       bool          `yaml:"verify,omitempty" env:"STAGEHAND_VERIFY" env-description:"read images back after loading"`

	// ProbeUnverified runs controller probes not yet confirmed on silicon.
	ProbeUnverified bool `yaml:"probe_unverified,omitempty" env:"STAGEHAND_PROBE_UNVERIFIED" env-description:"also run memory controller probes not yet confirmed on hardware"`

	Layout Layout  `yaml:"layout"`
	Stages []Stage `yaml:"stages,omitempty"`
}

// OpenOCD is the GDB server endpoint.
type OpenOCD struct {
	Host string `yaml:"host" env:"STAGEHAND_OPENOCD_HOST" env-default:"localhost" env-description:"OpenOCD host"`
	Port int    `yaml:"port" env:"STAGEHAND_OPENOCD_PORT" env-default:"3333" env-description:"OpenOCD GDB port"`
}

// GDB configures the debugger invocations.
type GDB struct {
	Path    string        `yaml:"path" env:"STAGEHAND_GDB" env-default:"arm-none-eabi-gdb" env-description:"GDB binary"`
	Timeout time.Duration `yaml:"timeout" env:"STAGEHAND_GDB_TIMEOUT" env-default:"30s" env-description:"timeout for a single GDB invocation"`
	// SymbolFile receives add-symbol-file commands for every loaded
	// stage. It is a path template like the stage paths.
	SymbolFile          string `yaml:"symbol_file,omitempty" env:"STAGEHAND_SYMBOL_FILE" env-default:"{{.Build}}/stagehand-symbols.gdb" env-description:"GDB script updated with the loaded stage symbols"`
	SoftwareBreakpoints bool   `yaml:"software_breakpoints,omitempty" env:"STAGEHAND_SW_BREAKPOINTS" env-description:"arm software instead of hardware breakpoints"`
	SecurityCommand     string `yaml:"security_command,omitempty" env:"STAGEHAND_SECURITY_COMMAND" env-description:"OpenOCD command reading the secure configuration register"`
}

// Layout locates build outputs.
type Layout struct {
	BuildDir string `yaml:"build_dir" env:"STAGEHAND_BUILD_DIR" env-default:"build" env-description:"firmware build root"`
	// Profile is "debug" or "release".
	Profile  string `yaml:"profile" env:"STAGEHAND_PROFILE" env-default:"debug" env-description:"build profile (debug or release)"`
	UBootDir string `yaml:"uboot_dir" env:"STAGEHAND_UBOOT_DIR" env-default:"u-boot" env-description:"U-Boot build directory"`
}

// Stage describes one boot stage. Paths are templates expanded with
// {{.Build}}, {{.UBoot}}, {{.Platform}} and {{.Profile}}.
type Stage struct {
	Name string `yaml:"name"`
	// First marks the stage loaded straight at the boot region.
	First bool `yaml:"first,omitempty"`
	// Offset into the boot region, first stage only.
	Offset uint64 `yaml:"offset,omitempty"`
	// RunTo is a run-to condition such as "bl2" or "N:0x60000000".
	RunTo   string `yaml:"run_to,omitempty"`
	Symbols string `yaml:"symbols"`
	Binary  string `yaml:"binary"`
}

// DefaultStages is the TF-A boot chain: BL1 into the boot ROM region,
// BL2 once BL1 jumps to it, U-Boot once BL2 enters the normal world.
func DefaultStages() []Stage {
	return []Stage{
		{
			Name:    "bl1",
			First:   true,
			Symbols: "{{.Build}}/bl1/bl1.elf",
			Binary:  "{{.Build}}/bl1.bin",
		},
		{
			Name:    "bl2",
			RunTo:   "bl2",
			Symbols: "{{.Build}}/bl2/bl2.elf",
			Binary:  "{{.Build}}/bl2.bin",
		},
		{
			Name:    "bl33",
			RunTo:   "N:0x60000000",
			Symbols: "{{.UBoot}}/u-boot",
			Binary:  "{{.UBoot}}/u-boot.bin",
		},
	}
}

// BuildPath returns the build output directory for the configured
// platform, build/<platform>/<profile>.
func (c *Config) BuildPath() string {
	return filepath.Join(c.Layout.BuildDir, c.Platform, c.Layout.Profile)
}

// Stage returns the named stage, case-insensitively.
func (c *Config) Stage(name string) (Stage, bool) {
	for _, s := range c.Stages {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
	}
	return Stage{}, false
}

// StageNames lists the configured stages in boot order.
func (c *Config) StageNames() []string {
	names := make([]string, len(c.Stages))
	for i, s := range c.Stages {
		names[i] = s.Name
	}
	return names
}

func (c *Config) templateVars() map[string]string {
	return map[string]string{
		"Build":    c.BuildPath(),
		"UBoot":    c.Layout.UBootDir,
		"Platform": c.Platform,
		"Profile":  c.Layout.Profile,
	}
}

// Expand returns s with its path templates resolved against the layout.
func (c *Config) Expand(s Stage) (Stage, error) {
	vars := c.templateVars()

	var err error
	if s.Symbols, err = expand(s.Name+".symbols", s.Symbols, vars); err != nil {
		return Stage{}, err
	}
	if s.Binary, err = expand(s.Name+".binary", s.Binary, vars); err != nil {
		return Stage{}, err
	}
	return s, nil
}

// SymbolFilePath returns the expanded gdb.symbol_file, empty when unset.
func (c *Config) SymbolFilePath() (string, error) {
	if c.GDB.SymbolFile == "" {
		return "", nil
	}
	return expand("gdb.symbol_file", c.GDB.SymbolFile, c.templateVars())
}

func expand(name, text string, vars map[string]string) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("path %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("path %s: %w", name, err)
	}
	return filepath.Clean(buf.String()), nil
}

// Validate checks the values that cannot be caught by parsing.
func (c *Config) Validate() error {
	if c.Version != 1 {
		return fmt.Errorf("unsupported config version: %d (expected 1)", c.Version)
	}
	if c.Platform == "" {
		return fmt.Errorf("platform is required")
	}
	if c.Layout.Profile != "debug" && c.Layout.Profile != "release" {
		return fmt.Errorf("layout.profile must be debug or release, got %q", c.Layout.Profile)
	}
	if c.RunToTimeout <= 0 {
		return fmt.Errorf("run_to_timeout must be positive, got %s", c.RunToTimeout)
	}

	seen := make(map[string]bool)
	for i, s := range c.Stages {
		key := strings.ToLower(s.Name)
		switch {
		case s.Name == "":
			return fmt.Errorf("stage %d: name is required", i)
		case seen[key]:
			return fmt.Errorf("stage %q defined twice", s.Name)
		case s.Symbols == "" || s.Binary == "":
			return fmt.Errorf("stage %q: symbols and binary are required", s.Name)
		case s.First && s.RunTo != "":
			return fmt.Errorf("stage %q: a first stage has no run_to", s.Name)
		case !s.First && s.RunTo == "":
			return fmt.Errorf("stage %q: run_to is required unless first is set", s.Name)
		case !s.First && s.Offset != 0:
			return fmt.Errorf("stage %q: offset only applies to a first stage", s.Name)
		}
		seen[key] = true
	}
	return nil
}
