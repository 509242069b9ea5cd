package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjy-dev/bytecover/internal/config"
	"github.com/zjy-dev/bytecover/internal/logger"
)

// NewBytecoverCommand creates the root command for the bytecover tool.
func NewBytecoverCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bytecover",
		Short: "Line and branch coverage for bytecode modules.",
		Long: `Bytecover instruments bytecode modules so that every executed line and
branch is counted, then turns the recorded hits back into a coverage report.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "Path to a config file (default: configs/config.yaml)")
	cmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	cmd.PersistentFlags().String("log-dir", "", "Write logs to a timestamped file in this directory")

	cmd.AddCommand(NewInstrumentCommand())
	cmd.AddCommand(NewReportCommand())
	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewMergeCommand())

	return cmd
}

// loadConfig reads the configuration and initializes the logger. Persistent
// flags override config values only when given.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadConfigFile(path)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("log-dir") {
		cfg.LogDir, _ = cmd.Flags().GetString("log-dir")
	}

	if cfg.LogDir != "" {
		if err := logger.InitWithFile(cfg.LogLevel, cfg.LogDir); err != nil {
			return nil, err
		}
	} else {
		logger.Init(cfg.LogLevel)
		logger.SetLevel(cfg.LogLevel)
	}
	return cfg, nil
}
