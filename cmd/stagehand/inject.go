package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/stagehand/internal/inject"
	"github.com/muurk/stagehand/internal/logging"
	"github.com/muurk/stagehand/internal/runto"
	"github.com/muurk/stagehand/internal/server"
	"github.com/muurk/stagehand/internal/ui"
)

// Generic inject flags
var (
	injectRunTo   string
	injectSymbols string
	injectBinary  string
	injectFirst   bool
	injectOffset  uint64
)

func init() {
	rootCmd.AddCommand(loadBL1Cmd)
	rootCmd.AddCommand(injectBL2Cmd)
	rootCmd.AddCommand(injectBL33Cmd)
	rootCmd.AddCommand(injectCmd)
	rootCmd.AddCommand(bootCmd)

	injectCmd.Flags().StringVar(&injectRunTo, "run-to", "", "Run-to condition overriding the stage's (e.g. bl2, N:0x60000000)")
	injectCmd.Flags().StringVar(&injectSymbols, "symbols", "", "Symbol image overriding the stage's")
	injectCmd.Flags().StringVar(&injectBinary, "binary", "", "Raw image overriding the stage's")
	injectCmd.Flags().BoolVar(&injectFirst, "first", false, "Treat the stage as the first of the chain")
	injectCmd.Flags().Uint64Var(&injectOffset, "offset", 0, "Offset into the boot region (with --first)")
}

var loadBL1Cmd = &cobra.Command{
	Use:   "load-bl1",
	Short: "Load BL1 at the boot region",
	Long: `Clear all breakpoints, point the PC at the start of the boot region and
load BL1 there.

A running target is halted first.`,
	Example: `  stagehand load-bl1
  stagehand load-bl1 --profile release`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStages(cmd, "Load BL1", "stagehand load-bl1", []string{"bl1"}, true, nil)
	},
}

var injectBL2Cmd = &cobra.Command{
	Use:   "inject-bl2",
	Short: "Run BL1 to the BL2 hand-off and load BL2",
	Long: `Resume the target until BL1 jumps to the BL2 entry point, then load BL2.

BL1 must already be loaded (see load-bl1).`,
	Example: `  stagehand inject-bl2
  stagehand inject-bl2 --run-timeout 2m`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStages(cmd, "Inject BL2", "stagehand inject-bl2", []string{"bl2"}, true, nil)
	},
}

var injectBL33Cmd = &cobra.Command{
	Use:   "inject-bl33",
	Short: "Run BL2 into the normal world and load U-Boot",
	Long: `Resume the target until BL2 enters the normal world at the start of DDR,
then load U-Boot there.

BL2 must already be loaded (see inject-bl2). DDR must be online for the
address to resolve; --no-probe skips that check.`,
	Example: `  stagehand inject-bl33
  stagehand inject-bl33 --verify`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStages(cmd, "Inject BL33", "stagehand inject-bl33", []string{"bl33"}, true, nil)
	},
}

var injectCmd = &cobra.Command{
	Use:   "inject <stage>",
	Short: "Inject one configured stage",
	Long: `Inject any stage from the configuration. Flags override its run-to
condition and image paths, so a stage missing from the configuration can be
injected by naming it and giving all three.

The target must be halted. Pass --halt to stop it first.`,
	Example: `  stagehand inject bl31
  stagehand inject bl2 --run-to S:0x00100400
  stagehand inject test --run-to N:0x60000000 --symbols test.elf --binary test.bin`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		return runStages(cmd, "Inject "+strings.ToUpper(name), "stagehand inject "+name, []string{name}, haltFirst, overrideDescriptor(cmd))
	},
}

var bootCmd = &cobra.Command{
	Use:   "boot [stage...]",
	Short: "Inject the whole boot chain in one session",
	Long: `Inject every configured stage in order, or the named ones. Symbols of
earlier stages stay loaded for later ones. The chain stops at the first
failure. A running target is halted first.`,
	Example: `  stagehand boot
  stagehand boot bl1 bl2`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStages(cmd, "Boot", "stagehand boot", args, true, nil)
	},
}

// overrideDescriptor applies the generic inject flags to a descriptor.
func overrideDescriptor(cmd *cobra.Command) func(*inject.Descriptor) error {
	return func(d *inject.Descriptor) error {
		flags := cmd.Flags()
		if flags.Changed("first") {
			d.First = injectFirst
		}
		if flags.Changed("offset") {
			d.Offset = injectOffset
		}
		if flags.Changed("run-to") {
			cond, err := runto.ParseCondition(injectRunTo)
			if err != nil {
				return err
			}
			d.Condition = cond
			d.First = false
		}
		if flags.Changed("symbols") {
			d.SymbolPath = injectSymbols
		}
		if flags.Changed("binary") {
			d.BinaryPath = injectBinary
		}
		return nil
	}
}

// runStages injects names in order, all of them when names is empty.
// halt stops a running target before each stage. override, if set,
// adjusts each descriptor before injection.
func runStages(cmd *cobra.Command, title, command string, names []string, halt bool, override func(*inject.Descriptor) error) error {
	cmd.SilenceUsage = true

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		names = cfg.StageNames()
	}

	s, err := newStack(cfg)
	if err != nil {
		return err
	}

	descs := make([]inject.Descriptor, 0, len(names))
	for _, name := range names {
		desc, err := s.descriptor(name)
		if err != nil && override == nil {
			return err
		}
		if err != nil {
			desc = inject.Descriptor{Name: name}
		}
		if override != nil {
			if err := override(&desc); err != nil {
				return err
			}
		}
		if desc.SymbolPath == "" || desc.BinaryPath == "" {
			return fmt.Errorf("stage %s: symbol and binary images are required", desc.Name)
		}
		if !desc.First && desc.Condition == (runto.Condition{}) {
			return fmt.Errorf("stage %s: a run-to condition is required", desc.Name)
		}
		descs = append(descs, desc)
	}

	var out io.Writer = cmd.OutOrStdout()
	if jsonOutput {
		out = io.Discard
	}
	runner := ui.NewRunner(ui.RunnerConfig{
		Title:   title,
		Command: command,
		Params:  headerParams(s, descs),
		Steps:   stepSpecs(descs, halt),
		Verbose: verbose,
		Spinner: !jsonOutput && ui.IsTerminal(os.Stdout),
		Output:  out,
	})
	onEvent := runner.OnEvent
	var events *server.Server
	if eventsAddr != "" {
		events = server.New(server.Config{Addr: eventsAddr}, logging.Named("events"))
		if err := events.Start(); err != nil {
			return err
		}
		defer shutdownEvents(events)
		onEvent = func(ev inject.Event) {
			runner.OnEvent(ev)
			events.OnEvent(ev)
		}
	}
	orch := s.orchestrator(halt, onEvent)

	ctx, cancel := signalContext(cmd)
	defer cancel()

	var reports []*inject.Report
	err = runner.Run(ctx, func(ctx context.Context) ([]ui.Field, error) {
		if err := s.preflight(ctx); err != nil {
			return nil, err
		}
		var err error
		reports, err = orch.Chain(ctx, s.session, descs)
		return reportFields(reports), err
	})
	if events != nil {
		for _, r := range reports {
			events.PublishReport(r)
		}
	}

	if jsonOutput {
		if len(reports) == 1 {
			if jerr := writeJSON(cmd.OutOrStdout(), reports[0]); jerr != nil {
				return jerr
			}
		} else if jerr := writeJSON(cmd.OutOrStdout(), reports); jerr != nil {
			return jerr
		}
	}
	return err
}

func shutdownEvents(events *server.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := events.Shutdown(ctx); err != nil {
		logging.Warn("event server shutdown", zap.Error(err))
	}
}

func headerParams(s *stack, descs []inject.Descriptor) []ui.Field {
	params := []ui.Field{
		{Key: "Target", Value: s.endpoint()},
		{Key: "Platform", Value: s.platform.Name},
		{Key: "Profile", Value: s.cfg.Layout.Profile},
	}
	if len(descs) == 1 {
		params = append(params,
			ui.Field{Key: "Symbols", Value: descs[0].SymbolPath},
			ui.Field{Key: "Binary", Value: descs[0].BinaryPath},
		)
	}
	return params
}

func stepSpecs(descs []inject.Descriptor, halt bool) []ui.StepSpec {
	var steps []ui.StepSpec
	for _, d := range descs {
		stage := strings.ToUpper(d.Name)
		if halt {
			steps = append(steps, ui.StepSpec{Stage: d.Name, Op: "halt", Name: "Halt target"})
		}
		position := "Run to " + d.Condition.String()
		if d.First {
			position = fmt.Sprintf("Reset PC to boot offset 0x%x", d.Offset)
		}
		steps = append(steps,
			ui.StepSpec{Stage: d.Name, Op: "position", Name: position},
			ui.StepSpec{Stage: d.Name, Op: "load", Name: "Load " + stage},
		)
	}
	return steps
}

func reportFields(reports []*inject.Report) []ui.Field {
	var fields []ui.Field
	for _, r := range reports {
		if r.Load == nil {
			continue
		}
		prefix := ""
		if len(reports) > 1 {
			prefix = strings.ToUpper(r.Stage) + " "
		}
		fields = append(fields,
			ui.Field{Key: prefix + "Entry", Value: r.Position.String()},
			ui.Field{Key: prefix + "Loaded", Value: fmt.Sprintf("%d bytes at 0x%08x", r.Load.Size, r.Load.LoadAddress)},
			ui.Field{Key: prefix + "CRC32C", Value: fmt.Sprintf("0x%08x", r.Load.Checksum)},
		)
		if r.Load.Verified {
			fields = append(fields, ui.Field{Key: prefix + "Verified", Value: "yes"})
		}
	}
	if len(reports) > 0 {
		fields = append(fields, ui.Field{Key: "Run ID", Value: reports[0].RunID})
	}
	return fields
}
