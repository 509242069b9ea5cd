package app

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/zjy-dev/bytecover/internal/exec"
	"github.com/zjy-dev/bytecover/internal/logger"
)

// NewRunCommand creates the "run" subcommand.
func NewRunCommand() *cobra.Command {
	var (
		cov     coverageFlags
		rep     reportFlags
		prepare string
	)

	cmd := &cobra.Command{
		Use:   "run <module-or-app-dir> -- <command> [args...]",
		Short: "Instrument, run a command, then report coverage.",
		Long: `Instrument the modules of a directory, run the target command and report.

The modules are restored and the report is written even when the target
command fails. The target sees BYTECOVER_PREPARE and BYTECOVER_IDENTIFIER in
its environment.

Examples:
  bytecover run ./bin -- ./bin/tests --all
  bytecover run ./bin --threshold 80 -- make test`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dash := cmd.ArgsLenAtDash()
			if dash != 1 {
				return fmt.Errorf("expected exactly one directory before --, got %d", max(dash, 0))
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cov.apply(cmd, cfg)
			rep.apply(cmd, cfg)

			fs := afero.NewOsFs()
			pr, err := prepareModules(fs, cfg, args[0], prepare)
			if err != nil {
				return err
			}

			target := args[dash:]
			executor := exec.NewCommandExecutor(exec.Options{
				Env: []string{
					"BYTECOVER_PREPARE=" + prepare,
					"BYTECOVER_IDENTIFIER=" + pr.Identifier,
				},
				Stdout: cmd.OutOrStdout(),
				Stderr: cmd.ErrOrStderr(),
			})
			result, runErr := executor.Run(cmd.Context(), target[0], target[1:]...)

			if err := collectAndReport(fs, cfg, pr, cmd.OutOrStdout()); err != nil {
				return err
			}
			if runErr != nil {
				return fmt.Errorf("failed to run target command: %w", runErr)
			}
			if result.ExitCode != 0 {
				logger.Default().Warnf("Target command exited with code %d", result.ExitCode)
				return fmt.Errorf("target command exited with code %d", result.ExitCode)
			}
			return nil
		},
	}

	cov.register(cmd)
	rep.register(cmd)
	cmd.Flags().StringVar(&prepare, "prepare-output", "bytecover.prepare.json", "Where to write the prepare result")

	return cmd
}
