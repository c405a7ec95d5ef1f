package config

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestGetConfigDir(t *testing.T) {
	configDir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}

	if !strings.Contains(configDir, "stagehand") {
		t.Errorf("GetConfigDir() = %v, should contain 'stagehand'", configDir)
	}

	if runtime.GOOS == "linux" && os.Getenv("XDG_CONFIG_HOME") == "" {
		if !strings.Contains(configDir, ".config") {
			t.Errorf("Unix config dir should contain '.config', got: %v", configDir)
		}
	}
}

func TestGetConfigPath_XDG(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG_CONFIG_HOME is only honoured on Linux")
	}
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	got, err := GetConfigPath()
	if err != nil {
		t.Fatalf("GetConfigPath() error = %v", err)
	}
	want := filepath.Join(dir, "stagehand", "stagehand.yaml")
	if got != want {
		t.Errorf("GetConfigPath() = %v, want %v", got, want)
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.OpenOCD.Host != "localhost" || cfg.OpenOCD.Port != 3333 {
		t.Errorf("OpenOCD = %+v, want localhost:3333", cfg.OpenOCD)
	}
	if cfg.GDB.Path != "arm-none-eabi-gdb" {
		t.Errorf("GDB.Path = %q", cfg.GDB.Path)
	}
	if cfg.GDB.Timeout != 30*time.Second {
		t.Errorf("GDB.Timeout = %s, want 30s", cfg.GDB.Timeout)
	}
	if cfg.RunToTimeout != 60*time.Second {
		t.Errorf("RunToTimeout = %s, want 60s", cfg.RunToTimeout)
	}
	if cfg.Platform != "lan966x" {
		t.Errorf("Platform = %q, want lan966x", cfg.Platform)
	}
	if diff := cmp.Diff([]string{"bl1", "bl2", "bl33"}, cfg.StageNames()); diff != "" {
		t.Errorf("StageNames() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("STAGEHAND_OPENOCD_HOST", "192.168.1.50")
	t.Setenv("STAGEHAND_PLATFORM", "lan969x")
	t.Setenv("STAGEHAND_RUN_TO_TIMEOUT", "2m")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OpenOCD.Host != "192.168.1.50" {
		t.Errorf("OpenOCD.Host = %q", cfg.OpenOCD.Host)
	}
	if cfg.Platform != "lan969x" {
		t.Errorf("Platform = %q", cfg.Platform)
	}
	if cfg.RunToTimeout != 2*time.Minute {
		t.Errorf("RunToTimeout = %s, want 2m", cfg.RunToTimeout)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.yaml")
	content := `version: 1
platform: lan969x
run_to_timeout: 90s
openocd:
  host: jtag-rig
  port: 4444
layout:
  build_dir: /work/tfa/build
  profile: release
  uboot_dir: /work/u-boot
stages:
  - name: bl1
    first: true
    symbols: "{{.Build}}/bl1/bl1.elf"
    binary: "{{.Build}}/bl1.bin"
  - name: bl31
    run_to: bl31
    symbols: "{{.Build}}/bl31/bl31.elf"
    binary: "{{.Build}}/bl31.bin"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OpenOCD.Host != "jtag-rig" || cfg.OpenOCD.Port != 4444 {
		t.Errorf("OpenOCD = %+v", cfg.OpenOCD)
	}
	if cfg.RunToTimeout != 90*time.Second {
		t.Errorf("RunToTimeout = %s, want 90s", cfg.RunToTimeout)
	}
	// Unset values still get their defaults.
	if cfg.GDB.Path != "arm-none-eabi-gdb" {
		t.Errorf("GDB.Path = %q", cfg.GDB.Path)
	}
	if cfg.BuildPath() != "/work/tfa/build/lan969x/release" {
		t.Errorf("BuildPath() = %q", cfg.BuildPath())
	}

	stage, ok := cfg.Stage("BL31")
	if !ok {
		t.Fatal("expected bl31 stage")
	}
	stage, err = cfg.Expand(stage)
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	want := Stage{
		Name:    "bl31",
		RunTo:   "bl31",
		Symbols: "/work/tfa/build/lan969x/release/bl31/bl31.elf",
		Binary:  "/work/tfa/build/lan969x/release/bl31.bin",
	}
	if diff := cmp.Diff(want, stage); diff != "" {
		t.Errorf("Expand() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestExpand_Defaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		stage   string
		symbols string
		binary  string
	}{
		{"bl1", "build/lan966x/debug/bl1/bl1.elf", "build/lan966x/debug/bl1.bin"},
		{"bl2", "build/lan966x/debug/bl2/bl2.elf", "build/lan966x/debug/bl2.bin"},
		{"bl33", "u-boot/u-boot", "u-boot/u-boot.bin"},
	}

	for _, tt := range tests {
		t.Run(tt.stage, func(t *testing.T) {
			s, _ := cfg.Stage(tt.stage)
			got, err := cfg.Expand(s)
			if err != nil {
				t.Fatalf("Expand() error = %v", err)
			}
			if got.Symbols != tt.symbols || got.Binary != tt.binary {
				t.Errorf("Expand() = %s, %s; want %s, %s", got.Symbols, got.Binary, tt.symbols, tt.binary)
			}
		})
	}
}

func TestExpand_UnknownVariable(t *testing.T) {
	cfg := &Config{Platform: "lan966x", Layout: Layout{BuildDir: "build", Profile: "debug"}}
	_, err := cfg.Expand(Stage{Name: "bl2", Symbols: "{{.Output}}/bl2.elf", Binary: "bl2.bin"})
	if err == nil {
		t.Fatal("expected error for unknown template variable")
	}
}

func TestSymbolFilePath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	got, err := cfg.SymbolFilePath()
	if err != nil {
		t.Fatalf("SymbolFilePath() error = %v", err)
	}
	if want := "build/lan966x/debug/stagehand-symbols.gdb"; got != want {
		t.Errorf("SymbolFilePath() = %q, want %q", got, want)
	}

	cfg.GDB.SymbolFile = ""
	if got, err := cfg.SymbolFilePath(); got != "" || err != nil {
		t.Errorf("SymbolFilePath() unset = %q, %v; want empty", got, err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Version:      1,
			Platform:     "lan966x",
			RunToTimeout: time.Minute,
			Layout:       Layout{BuildDir: "build", Profile: "debug"},
			Stages:       DefaultStages(),
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad version", func(c *Config) { c.Version = 2 }, "version"},
		{"bad profile", func(c *Config) { c.Layout.Profile = "fast" }, "profile"},
		{"zero timeout", func(c *Config) { c.RunToTimeout = 0 }, "run_to_timeout"},
		{"duplicate stage", func(c *Config) { c.Stages = append(c.Stages, c.Stages[1]) }, "defined twice"},
		{"first with run_to", func(c *Config) { c.Stages[0].RunTo = "bl1" }, "no run_to"},
		{"missing run_to", func(c *Config) { c.Stages[1].RunTo = "" }, "run_to is required"},
		{"offset on later stage", func(c *Config) { c.Stages[2].Offset = 0x100 }, "offset"},
		{"missing binary", func(c *Config) { c.Stages[2].Binary = "" }, "binary"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.errMsg == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.errMsg)
			}
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg.OpenOCD.Host = "jtag-rig"
	cfg.GDB.SymbolFile = "/tmp/stages.gdb"

	path := filepath.Join(t.TempDir(), "nested", "stagehand.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "# stagehand configuration") {
		t.Errorf("expected header comment, got:\n%s", data)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if diff := cmp.Diff(cfg, loaded); diff != "" {
		t.Errorf("round trip mismatch (-saved +loaded):\n%s", diff)
	}
}

func TestWriteEnvHelp(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteEnvHelp(&buf); err != nil {
		t.Fatalf("WriteEnvHelp() error = %v", err)
	}
	for _, name := range []string{"STAGEHAND_OPENOCD_HOST", "STAGEHAND_RUN_TO_TIMEOUT", "STAGEHAND_PLATFORM"} {
		if !strings.Contains(buf.String(), name) {
			t.Errorf("env help missing %s", name)
		}
	}
}
