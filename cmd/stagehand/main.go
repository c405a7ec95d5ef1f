// Stagehand injects firmware boot stages into a halted target over JTAG.
//
// It drives arm-none-eabi-gdb against OpenOCD to walk a TF-A boot chain
// one stage at a time:
//
//   - load-bl1: point the core at the boot region and load BL1
//   - inject-bl2: run BL1 until it hands over to BL2, then load BL2
//   - inject-bl33: run BL2 into the normal world, then load U-Boot
//   - boot: all of the above in one session
//
// Prerequisites:
//
//   - arm-none-eabi-gdb (or gdb-multiarch) installed and in PATH
//   - OpenOCD running and connected to the target via JTAG
//   - Firmware build outputs (see 'stagehand config show')
//
// See 'stagehand --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/stagehand/internal/logging"
	"github.com/muurk/stagehand/internal/version"
)

func main() {
	defer logging.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "stagehand",
	Short: "Staged boot image injection over JTAG",
	Long: `Inject boot stages into a target halted under OpenOCD.

Each stage is positioned, then loaded:
  - the first stage clears all breakpoints and points the PC at the boot region
  - later stages run the target until the previous stage hands over
  - symbols are added to GDB and the raw image is written at its load address

The target is never resumed after loading. Continue it from GDB or
inject the next stage.

Use 'stagehand verify-setup' to check prerequisites.`,
	Version: version.Version,
	Example: `  # Verify GDB and OpenOCD setup
  stagehand verify-setup

  # Walk the boot chain one stage at a time
  stagehand load-bl1
  stagehand inject-bl2
  stagehand inject-bl33

  # Or in one go, against a release build
  stagehand boot --profile release

  # Rehearse without hardware
  stagehand boot --simulate`,
	PersistentPreRunE: setupLogging,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), version.Get())
		}
		fmt.Fprintf(cmd.OutOrStdout(), "stagehand %s\n", version.Full())
		return nil
	},
}
