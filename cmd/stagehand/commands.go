package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/stagehand/internal/config"
	"github.com/muurk/stagehand/internal/gdb"
	"github.com/muurk/stagehand/internal/inject"
	"github.com/muurk/stagehand/internal/loader"
	"github.com/muurk/stagehand/internal/logging"
	"github.com/muurk/stagehand/internal/memmap"
	"github.com/muurk/stagehand/internal/runto"
	"github.com/muurk/stagehand/internal/target"
)

// Command flags. Flags that are set override the config file and the
// environment.
var (
	configPath  string
	platform    string
	catalogFile string
	profile     string
	openocdHost string
	openocdPort int
	gdbPath     string
	gdbTimeout  time.Duration
	runTimeout  time.Duration
	noProbe     bool
	probeAll    bool
	verifyLoad  bool
	haltFirst   bool
	simulate    bool
	jsonOutput  bool
	verbose     bool
	logLevel    string
	eventsAddr  string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Config file (default: stagehand.yaml in the user config dir)")
	flags.StringVar(&platform, "platform", "lan966x", "Target platform in the memory map catalog")
	flags.StringVar(&catalogFile, "catalog", "", "Platform catalog YAML replacing the built-in one")
	flags.StringVar(&profile, "profile", "debug", "Build profile (debug or release)")
	flags.StringVar(&openocdHost, "openocd-host", "localhost", "OpenOCD hostname")
	flags.IntVar(&openocdPort, "openocd-port", 3333, "OpenOCD GDB port")
	flags.StringVar(&gdbPath, "gdb-path", "arm-none-eabi-gdb", "Path to the GDB binary")
	flags.DurationVar(&gdbTimeout, "timeout", 30*time.Second, "Timeout for a single GDB invocation")
	flags.DurationVar(&runTimeout, "run-timeout", 60*time.Second, "How long a run-to waits for the target")
	flags.BoolVar(&noProbe, "no-probe", false, "Do not probe memory controllers before resolving addresses")
	flags.BoolVar(&probeAll, "probe-unverified", false, "Also run memory controller probes not yet confirmed on hardware")
	flags.BoolVar(&verifyLoad, "verify", false, "Read images back after loading and compare checksums")
	flags.BoolVar(&haltFirst, "halt", false, "Halt a running target first (inject; the stage drivers and boot always do)")
	flags.BoolVar(&simulate, "simulate", false, "Run against a simulated target instead of OpenOCD")
	flags.BoolVar(&jsonOutput, "json", false, "Print machine-readable JSON instead of styled output")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Show GDB output on failure")
	flags.StringVar(&eventsAddr, "events-addr", "", "Stream injection events over WebSocket at ws://<addr>/events")
	flags.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides "+logging.LogLevelEnvVar)
}

// setupLogging initialises the global logger. Logging is silent unless
// a level is given, so it does not interleave with the styled output.
func setupLogging(cmd *cobra.Command, args []string) error {
	if logLevel != "" {
		return logging.Initialize(logLevel)
	}
	return logging.InitializeFromEnv()
}

// loadConfig reads the config file and applies flags the user set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("platform") {
		cfg.Platform = platform
	}
	if flags.Changed("catalog") {
		cfg.CatalogFile = catalogFile
	}
	if flags.Changed("profile") {
		cfg.Layout.Profile = profile
	}
	if flags.Changed("openocd-host") {
		cfg.OpenOCD.Host = openocdHost
	}
	if flags.Changed("openocd-port") {
		cfg.OpenOCD.Port = openocdPort
	}
	if flags.Changed("gdb-path") {
		cfg.GDB.Path = gdbPath
	}
	if flags.Changed("timeout") {
		cfg.GDB.Timeout = gdbTimeout
	}
	if flags.Changed("run-timeout") {
		cfg.RunToTimeout = runTimeout
	}
	if flags.Changed("no-probe") {
		cfg.SkipProbes = noProbe
	}
	if flags.Changed("probe-unverified") {
		cfg.ProbeUnverified = probeAll
	}
	if flags.Changed("verify") {
		cfg.Verify = verifyLoad
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// stack is everything an injection command needs, built from config.
type stack struct {
	cfg        *config.Config
	platform   *memmap.Platform
	resolver   *memmap.Resolver
	controller *runto.Controller
	loader     *loader.Loader
	session    target.Session
	executor   *gdb.Executor
	logger     *zap.Logger
}

func newStack(cfg *config.Config) (*stack, error) {
	var (
		catalog *memmap.Catalog
		err     error
	)
	if cfg.CatalogFile != "" {
		catalog, err = memmap.LoadCatalogFile(cfg.CatalogFile)
	} else {
		catalog, err = memmap.LoadCatalog()
	}
	if err != nil {
		return nil, err
	}
	plat, err := catalog.Get(cfg.Platform)
	if err != nil {
		return nil, err
	}

	s := &stack{
		cfg:      cfg,
		platform: plat,
		logger:   logging.GetLogger(),
	}
	if simulate {
		s.session = newSimulatedTarget(cfg, plat)
	} else {
		gcfg, err := gdbConfig(cfg)
		if err != nil {
			return nil, err
		}
		s.executor = gdb.NewExecutor(gcfg, logging.Named("gdb"))
		s.session = gdb.NewSession(s.executor, logging.Named("session"))
	}

	s.resolver = memmap.NewResolver(plat, memmap.Options{
		SkipProbes:      cfg.SkipProbes,
		ProbeUnverified: cfg.ProbeUnverified,
	}, logging.Named("memmap"))
	s.controller = runto.NewController(s.resolver, cfg.RunToTimeout, logging.Named("runto"))
	s.loader = loader.New(loader.Options{Verify: cfg.Verify}, logging.Named("loader"))
	return s, nil
}

// preflight fails fast when GDB or OpenOCD is unusable, before any
// target state is touched.
func (s *stack) preflight(ctx context.Context) error {
	if s.executor == nil {
		return nil
	}
	return s.executor.ValidateConfig(ctx)
}

func gdbConfig(cfg *config.Config) (gdb.Config, error) {
	symbolFile, err := cfg.SymbolFilePath()
	if err != nil {
		return gdb.Config{}, err
	}
	c := gdb.DefaultConfig()
	c.GDBPath = cfg.GDB.Path
	c.OpenOCDHost = cfg.OpenOCD.Host
	c.OpenOCDPort = cfg.OpenOCD.Port
	c.Timeout = cfg.GDB.Timeout
	c.SymbolFile = symbolFile
	c.SoftwareBreakpoints = cfg.GDB.SoftwareBreakpoints
	if cfg.GDB.SecurityCommand != "" {
		c.SecurityCommand = cfg.GDB.SecurityCommand
	}
	return c, nil
}

func (s *stack) orchestrator(halt bool, onEvent func(inject.Event)) *inject.Orchestrator {
	return inject.New(s.resolver, s.controller, s.loader, inject.Options{
		HaltFirst: halt,
		OnEvent:   onEvent,
	}, logging.Named("inject"))
}

// descriptor turns a configured stage into an injection descriptor.
func (s *stack) descriptor(name string) (inject.Descriptor, error) {
	stage, ok := s.cfg.Stage(name)
	if !ok {
		return inject.Descriptor{}, fmt.Errorf("unknown stage %q (configured: %v)", name, s.cfg.StageNames())
	}
	stage, err := s.cfg.Expand(stage)
	if err != nil {
		return inject.Descriptor{}, err
	}

	desc := inject.Descriptor{
		Name:       stage.Name,
		SymbolPath: stage.Symbols,
		BinaryPath: stage.Binary,
		First:      stage.First,
		Offset:     stage.Offset,
	}
	if !stage.First {
		if desc.Condition, err = runto.ParseCondition(stage.RunTo); err != nil {
			return inject.Descriptor{}, fmt.Errorf("stage %s: %w", stage.Name, err)
		}
	}
	return desc, nil
}

func (s *stack) endpoint() string {
	if simulate {
		return "simulated " + s.platform.Name
	}
	return fmt.Sprintf("%s:%d", s.cfg.OpenOCD.Host, s.cfg.OpenOCD.Port)
}

// newSimulatedTarget returns a core that walks the configured boot
// chain: from the boot region into each later stage's hand-off point in
// turn. Memory controllers report online.
func newSimulatedTarget(cfg *config.Config, plat *memmap.Platform) *target.Sim {
	var (
		trace []target.Step
		prev  uint64
	)
	for _, stage := range cfg.Stages {
		if stage.First {
			continue
		}
		cond, err := runto.ParseCondition(stage.RunTo)
		if err != nil {
			continue
		}
		addr := cond.Address
		if cond.Stage != "" {
			entry, ok := plat.Stage(cond.Stage)
			if !ok {
				continue
			}
			if addr, ok = entry.Literal(); !ok {
				continue
			}
		}
		// The previous stage runs for a while before handing off.
		trace = append(trace, target.Step{PC: target.Secure(prev + 0x40)}, target.Step{PC: addr})
		prev = addr.Value
	}

	// A board out of reset is running its boot ROM.
	sim := target.NewSim(0, trace...)
	sim.SetState(target.StateRunning)
	for _, ctrl := range plat.Controllers {
		status := make([]byte, 4)
		binary.LittleEndian.PutUint32(status, ctrl.Value)
		sim.Poke(ctrl.Address, status)
	}
	return sim
}

// signalContext cancels on interrupt, so a run-to in progress halts the
// target and disarms its breakpoint.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
