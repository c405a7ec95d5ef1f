package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/muurk/stagehand/internal/memmap"
	"github.com/muurk/stagehand/internal/runto"
	"github.com/muurk/stagehand/internal/target"
	"github.com/muurk/stagehand/internal/ui"
)

var resolveOffset bool

func init() {
	rootCmd.AddCommand(resolveCmd)
	resolveCmd.Flags().BoolVar(&resolveOffset, "offset", false, "Treat the argument as an offset into the boot region")
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <stage|address>",
	Short: "Translate a stage or address for the current security state",
	Long: `Resolve a boot stage name or an address literal into the address a
breakpoint or load would use, given the core's current security state.

Address literals may carry a space tag: S:0x00100000 (secure),
N:0x60000000 (non-secure). Untagged literals use the current state.`,
	Example: `  stagehand resolve bl2
  stagehand resolve N:0x60000000
  stagehand resolve --offset 0x400`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

// resolution is the JSON form of a resolve result.
type resolution struct {
	Input    string         `json:"input"`
	Platform string         `json:"platform"`
	Current  string         `json:"current_space"`
	Address  target.Address `json:"address"`
}

func runResolve(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	s, err := newStack(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	if err := s.preflight(ctx); err != nil {
		return err
	}
	current, err := s.session.SecurityState(ctx)
	if err != nil {
		return err
	}

	var addr target.Address
	if resolveOffset {
		off, perr := target.ParseNumber(args[0])
		if perr != nil {
			return fmt.Errorf("invalid offset %q: %w", args[0], perr)
		}
		addr, err = s.resolver.Resolve(ctx, s.session, memmap.Offset(off))
	} else {
		cond, perr := runto.ParseCondition(args[0])
		if perr != nil {
			return perr
		}
		addr, err = s.controller.Resolve(ctx, s.session, cond)
	}

	if jsonOutput {
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), resolution{
			Input:    args[0],
			Platform: s.platform.Name,
			Current:  current.Name(),
			Address:  addr,
		})
	}

	out := cmd.OutOrStdout()
	ui.PrintCommandHeader(out, "Resolve", "stagehand resolve "+args[0], []ui.Field{
		{Key: "Target", Value: s.endpoint()},
		{Key: "Platform", Value: s.platform.Name},
		{Key: "Security", Value: current.Name()},
	})
	if err != nil {
		ui.PrintFailure(out, "Resolution failed", err)
		return err
	}
	ui.PrintSuccess(out, "Resolved", []ui.Field{
		{Key: "Input", Value: args[0]},
		{Key: "Address", Value: addr.String()},
	})
	return nil
}
