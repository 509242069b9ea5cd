package app

import (
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zjy-dev/bytecover/internal/coverage"
	"github.com/zjy-dev/bytecover/internal/logger"
)

// NewMergeCommand creates the "merge" subcommand.
func NewMergeCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "merge <coverage.json>...",
		Short: "Merge coverage results.",
		Long: `Merge coverage results produced by separate runs into one.

Line and branch hit counts are summed; anything present in only one input is
kept as is.

Examples:
  bytecover merge unit.json integration.json --output all.json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(cmd); err != nil {
				return err
			}

			fs := afero.NewOsFs()
			merged, err := mergeFiles(fs, args)
			if err != nil {
				return err
			}
			if err := merged.Save(fs, output); err != nil {
				return err
			}

			logger.Default().Infof("Merged %d result(s) into %s", len(args), output)
			printSummary(cmd.OutOrStdout(), merged.Modules)
			return nil
		},
	}

	cmd.Flags().StringVar(&output, "output", "coverage.json", "Where to write the merged result")
	return cmd
}

// mergeFiles loads every result concurrently and merges them in argument
// order.
func mergeFiles(fs afero.Fs, paths []string) (*coverage.Result, error) {
	results := make([]*coverage.Result, len(paths))
	var g errgroup.Group
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			r, err := coverage.LoadResult(fs, path)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := &coverage.Result{Modules: coverage.Modules{}}
	for _, r := range results {
		if merged.Identifier == "" {
			merged.Identifier = r.Identifier
		}
		merged.UseSourceLink = merged.UseSourceLink || r.UseSourceLink
		merged.Merge(r.Modules)
	}
	return merged, nil
}
