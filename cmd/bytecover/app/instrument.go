package app

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/zjy-dev/bytecover/internal/config"
	"github.com/zjy-dev/bytecover/internal/instrument"
	"github.com/zjy-dev/bytecover/internal/logger"
)

// coverageFlags mirror the coverage section of the config file.
type coverageFlags struct {
	include                 []string
	exclude                 []string
	includeDirectories      []string
	excludeByAttribute      []string
	excludeByFile           []string
	doesNotReturnAttributes []string
	singleHit               bool
	useSourceLink           bool
	mergeWith               string
	tempDir                 string
}

func (f *coverageFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.include, "include", nil, "Filter expressions of types to include, e.g. [Calc]Demo.*")
	cmd.Flags().StringSliceVar(&f.exclude, "exclude", nil, "Filter expressions of types to exclude, e.g. [*]Demo.Generated*")
	cmd.Flags().StringSliceVar(&f.includeDirectories, "include-directory", nil, "Additional directories to search for modules")
	cmd.Flags().StringSliceVar(&f.excludeByAttribute, "exclude-by-attribute", nil, "Attributes that exclude a type or method")
	cmd.Flags().StringSliceVar(&f.excludeByFile, "exclude-by-file", nil, "Gitignore-style patterns of source files to exclude")
	cmd.Flags().StringSliceVar(&f.doesNotReturnAttributes, "does-not-return-attribute", nil, "Attributes that mark methods which never return")
	cmd.Flags().BoolVar(&f.singleHit, "single-hit", false, "Record only whether a location executed, not how often")
	cmd.Flags().BoolVar(&f.useSourceLink, "use-source-link", false, "Report source-control URLs instead of local paths")
	cmd.Flags().StringVar(&f.mergeWith, "merge-with", "", "Merge the result with an existing coverage JSON file")
	cmd.Flags().StringVar(&f.tempDir, "temp-dir", "", "Directory for backups and hits files (default: OS temp dir)")
}

// apply overrides cfg with every flag given on the command line.
func (f *coverageFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	cc := &cfg.Coverage
	if cmd.Flags().Changed("include") {
		cc.Include = f.include
	}
	if cmd.Flags().Changed("exclude") {
		cc.Exclude = f.exclude
	}
	if cmd.Flags().Changed("include-directory") {
		cc.IncludeDirectories = f.includeDirectories
	}
	if cmd.Flags().Changed("exclude-by-attribute") {
		cc.ExcludeByAttribute = f.excludeByAttribute
	}
	if cmd.Flags().Changed("exclude-by-file") {
		cc.ExcludeByFile = f.excludeByFile
	}
	if cmd.Flags().Changed("does-not-return-attribute") {
		cc.DoesNotReturnAttributes = f.doesNotReturnAttributes
	}
	if cmd.Flags().Changed("single-hit") {
		cc.SingleHit = f.singleHit
	}
	if cmd.Flags().Changed("use-source-link") {
		cc.UseSourceLink = f.useSourceLink
	}
	if cmd.Flags().Changed("merge-with") {
		cc.MergeWith = f.mergeWith
	}
	if cmd.Flags().Changed("temp-dir") {
		cc.TempDir = f.tempDir
	}
}

// NewInstrumentCommand creates the "instrument" subcommand.
func NewInstrumentCommand() *cobra.Command {
	var (
		flags   coverageFlags
		prepare string
	)

	cmd := &cobra.Command{
		Use:   "instrument <module-or-app-dir>",
		Short: "Instrument every coverable module of a directory.",
		Long: `Instrument every coverable module of a directory.

Each module is backed up and rewritten in place. The prepare result written
to --prepare-output is what "bytecover report" needs to collect the hits once
the instrumented code has run.

Configuration:
  Default values are loaded from config.yaml under 'coverage' section.
  Command line flags override the config file values.

Examples:
  bytecover instrument ./bin --exclude "[*]Demo.Generated*"
  bytecover instrument ./bin --single-hit --prepare-output out/prepare.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			flags.apply(cmd, cfg)

			_, err = prepareModules(afero.NewOsFs(), cfg, args[0], prepare)
			return err
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&prepare, "prepare-output", "bytecover.prepare.json", "Where to write the prepare result")

	return cmd
}

func prepareModules(fs afero.Fs, cfg *config.Config, dir, preparePath string) (*instrument.PrepareResult, error) {
	log := logger.Default()
	cov, err := instrument.NewCoverage(fs, dir, cfg.Coverage.TempDir, cfg.ToParameters(), log)
	if err != nil {
		return nil, err
	}

	pr, err := cov.PrepareModules()
	if err != nil {
		return nil, fmt.Errorf("failed to prepare modules: %w", err)
	}
	if err := instrument.SavePrepareResult(fs, preparePath, pr); err != nil {
		return nil, err
	}

	log.Infof("Instrumented %d module(s), identifier %s", len(pr.Results), pr.Identifier)
	return pr, nil
}
