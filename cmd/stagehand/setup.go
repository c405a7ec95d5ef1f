package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/muurk/stagehand/internal/gdb"
	"github.com/muurk/stagehand/internal/ui"
	"github.com/muurk/stagehand/internal/urls"
)

func init() {
	rootCmd.AddCommand(verifySetupCmd)
}

var verifySetupCmd = &cobra.Command{
	Use:   "verify-setup",
	Short: "Verify GDB and OpenOCD setup",
	Long: `Verify that all prerequisites for injection are met.

This command checks:
  1. The GDB binary is installed and is GNU GDB
  2. OpenOCD accepts connections on its GDB port
  3. The target answers and reports its run state

Run this command first to troubleshoot any connection issues.`,
	Example: `  stagehand verify-setup
  stagehand verify-setup --openocd-host 192.168.1.100 --gdb-path gdb-multiarch`,
	Args: cobra.NoArgs,
	RunE: runVerifySetup,
}

// setupCheck is the JSON form of one prerequisite.
type setupCheck struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
	Message   string `json:"message,omitempty"`
}

func runVerifySetup(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd)
	defer cancel()

	result, err := gdb.ValidatePrerequisites(ctx, cfg.GDB.Path, cfg.OpenOCD.Host, cfg.OpenOCD.Port)
	if err != nil {
		return err
	}

	checks := make([]setupCheck, 0, len(result.Checks)+1)
	reachable := true
	for _, c := range result.Checks {
		checks = append(checks, setupCheck{Name: c.Name, Available: c.Available, Path: c.Path, Version: c.Version, Message: c.Message})
		if !c.Available {
			reachable = false
		}
	}

	// Only worth asking the target once GDB and OpenOCD both work.
	if reachable {
		s, err := newStack(cfg)
		if err != nil {
			return err
		}
		check := setupCheck{Name: "Target"}
		if state, err := s.session.State(ctx); err != nil {
			check.Message = err.Error()
		} else {
			check.Available = true
			check.Message = "Target is " + state.String()
		}
		checks = append(checks, check)
		reachable = check.Available
	}

	if jsonOutput {
		if err := writeJSON(cmd.OutOrStdout(), checks); err != nil {
			return err
		}
		if !reachable {
			return fmt.Errorf("setup verification failed")
		}
		return nil
	}

	out := cmd.OutOrStdout()
	ui.PrintCommandHeader(out, "Setup Verification", "stagehand verify-setup", []ui.Field{
		{Key: "GDB Path", Value: cfg.GDB.Path},
		{Key: "OpenOCD", Value: fmt.Sprintf("%s:%d", cfg.OpenOCD.Host, cfg.OpenOCD.Port)},
	})
	if verbose {
		fmt.Fprintln(out, gdb.FormatPrerequisiteReport(result))
	}

	var details []ui.Field
	for _, c := range checks {
		value := c.Message
		if c.Version != "" {
			value = c.Version
		}
		marker := ui.SuccessMarker
		if !c.Available {
			marker = ui.FailureMarker
		}
		details = append(details, ui.Field{Key: c.Name, Value: marker + " " + value})
	}

	if !reachable {
		ui.PrintWarning(out, "Setup incomplete", details)
		fmt.Fprintf(out, "\n  OpenOCD must not halt the target on GDB attach. See: %s\n", urls.OpenOCDGDBEvents)
		return fmt.Errorf("setup verification failed")
	}
	ui.PrintSuccess(out, "Setup verified", details)
	return nil
}
