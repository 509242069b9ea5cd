package app

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/zjy-dev/bytecover/internal/collector"
	"github.com/zjy-dev/bytecover/internal/config"
	"github.com/zjy-dev/bytecover/internal/coverage"
	"github.com/zjy-dev/bytecover/internal/instrument"
	"github.com/zjy-dev/bytecover/internal/logger"
	"github.com/zjy-dev/bytecover/internal/report"
)

// ErrBelowThreshold is returned when coverage does not meet a threshold.
var ErrBelowThreshold = errors.New("coverage is below the specified threshold")

// reportFlags mirror the report section of the config file.
type reportFlags struct {
	output        string
	markdownDir   string
	threshold     float64
	thresholdType string
	thresholdStat string
}

func (f *reportFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.output, "output", "coverage.json", "Where to write the coverage result")
	cmd.Flags().StringVar(&f.markdownDir, "markdown", "", "Also write a Markdown report into this directory")
	cmd.Flags().Float64Var(&f.threshold, "threshold", 0, "Minimum coverage percentage (0 disables the check)")
	cmd.Flags().StringVar(&f.thresholdType, "threshold-type", "line,branch,method", "Coverage kinds the threshold applies to")
	cmd.Flags().StringVar(&f.thresholdStat, "threshold-stat", "minimum", "Statistics to check, comma separated: minimum, average, total")
}

func (f *reportFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("output") {
		cfg.Report.Output = f.output
	}
	if cmd.Flags().Changed("markdown") {
		cfg.Report.MarkdownDir = f.markdownDir
	}
	if cmd.Flags().Changed("threshold") {
		cfg.Report.Threshold = f.threshold
	}
	if cmd.Flags().Changed("threshold-type") {
		cfg.Report.ThresholdType = f.thresholdType
	}
	if cmd.Flags().Changed("threshold-stat") {
		cfg.Report.ThresholdStat = f.thresholdStat
	}
}

// NewReportCommand creates the "report" subcommand.
func NewReportCommand() *cobra.Command {
	var flags reportFlags

	cmd := &cobra.Command{
		Use:   "report <prepare-result>",
		Short: "Collect hits, restore modules and report coverage.",
		Long: `Collect the hits recorded by instrumented modules.

The original modules are restored from their backups, the hits files are
consumed and the coverage result is written to --output. A summary table is
printed and the command fails when a threshold is not met.

Examples:
  bytecover report bytecover.prepare.json
  bytecover report bytecover.prepare.json --threshold 80 --threshold-type line`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			flags.apply(cmd, cfg)

			fs := afero.NewOsFs()
			pr, err := instrument.LoadPrepareResult(fs, args[0])
			if err != nil {
				return err
			}
			return collectAndReport(fs, cfg, pr, cmd.OutOrStdout())
		},
	}

	flags.register(cmd)
	return cmd
}

func collectAndReport(fs afero.Fs, cfg *config.Config, pr *instrument.PrepareResult, w io.Writer) error {
	log := logger.Default()
	result, err := collector.New(fs, pr, log).GetCoverageResult()
	if err != nil {
		return fmt.Errorf("failed to collect coverage: %w", err)
	}
	if err := result.Save(fs, cfg.Report.Output); err != nil {
		return err
	}
	log.Infof("Coverage result written to %s", cfg.Report.Output)

	if cfg.Report.MarkdownDir != "" {
		path, err := report.NewMarkdownReporter(fs, cfg.Report.MarkdownDir).Save(result)
		if err != nil {
			return err
		}
		log.Infof("Markdown report written to %s", path)
	}

	printSummary(w, result.Modules)

	thresholds, stat, err := cfg.Thresholds()
	if err != nil {
		return err
	}
	if below := coverage.GetThresholdTypesBelowThreshold(result.Modules, thresholds, stat); below != 0 {
		return fmt.Errorf("%w: %s (%s %.2f%%)", ErrBelowThreshold, below, stat, cfg.Report.Threshold)
	}
	return nil
}

// printSummary renders per-module line, branch and method coverage.
func printSummary(w io.Writer, modules coverage.Modules) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Module", "Line", "Branch", "Method"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT})

	names := make([]string, 0, len(modules))
	for name := range modules {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		docs := modules[name]
		table.Append([]string{
			name,
			percent(coverage.LineCoverage(docs).Percent()),
			percent(coverage.BranchCoverage(docs).Percent()),
			percent(coverage.MethodCoverage(docs).Percent()),
		})
	}

	line := coverage.ModulesLineCoverage(modules)
	branch := coverage.ModulesBranchCoverage(modules)
	method := coverage.ModulesMethodCoverage(modules)
	table.Append([]string{"Total", percent(line.Percent()), percent(branch.Percent()), percent(method.Percent())})
	table.Append([]string{"Average", percent(line.AverageModulePercent), percent(branch.AverageModulePercent), percent(method.AverageModulePercent)})

	table.Render()
}

func percent(p float64) string {
	return fmt.Sprintf("%.2f%%", p)
}
