// Package config loads the stagehand project configuration.
//
// The configuration is a YAML file, stagehand.yaml, read with cleanenv
// so every value can also come from a STAGEHAND_* environment variable.
// Without a file the built-in defaults describe a lan966x TF-A debug
// build:
//
//	build/lan966x/debug/bl1/bl1.elf + build/lan966x/debug/bl1.bin
//	build/lan966x/debug/bl2/bl2.elf + build/lan966x/debug/bl2.bin
//	u-boot/u-boot + u-boot/u-boot.bin
//
// # Configuration File Location
//
//   - Linux: $XDG_CONFIG_HOME/stagehand/stagehand.yaml or $HOME/.config/stagehand/stagehand.yaml
//   - macOS: $HOME/.config/stagehand/stagehand.yaml
//   - Windows: %LOCALAPPDATA%\stagehand\stagehand.yaml
//
// A different file can be passed with --config.
//
// # Usage Example
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    return err
//	}
//	stage, _ := cfg.Stage("bl2")
//	stage, err = cfg.Expand(stage)
//	// stage.Binary == "build/lan966x/debug/bl2.bin"
package config
