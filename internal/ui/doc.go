// Package ui renders the stagehand CLI output.
//
// Components follow a "run once and exit" pattern: they render a command
// banner, a line per step and a result box, without user interaction.
//
//   - Header: command banner showing the operation and its parameters
//   - Progress: step list showing real-time status
//   - Result: success/failure boxes with details or troubleshooting
//   - OutputBox: raw GDB output for verbose mode
//   - Spinner: animated wait line for long run-to steps
//
// Runner ties them together. Its OnEvent method is passed to the
// orchestrator as inject.Options.OnEvent, so progress lines follow the
// injection as it happens:
//
//	runner := ui.NewRunner(ui.RunnerConfig{
//	    Title:   "Inject BL2",
//	    Command: "stagehand inject-bl2",
//	    Params:  []ui.Field{{Key: "Target", Value: "localhost:3333"}},
//	    Steps: []ui.StepSpec{
//	        {Stage: "bl2", Op: "position", Name: "Run to BL2 entry"},
//	        {Stage: "bl2", Op: "load", Name: "Load BL2"},
//	    },
//	})
//	opts.OnEvent = runner.OnEvent
//	err := runner.Run(ctx, func(ctx context.Context) ([]ui.Field, error) {
//	    report, err := orch.Inject(ctx, sess, desc)
//	    ...
//	})
//
// # Logging Integration
//
// Logging is controlled by STAGEHAND_LOG_LEVEL and goes to stderr. When
// unset, zap is silent and only the curated output is shown.
package ui
