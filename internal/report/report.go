// Package report renders a finished coverage result for humans.
package report

import "github.com/zjy-dev/bytecover/internal/coverage"

// Reporter defines the interface for saving coverage reports.
type Reporter interface {
	// Save writes the report for result and returns its path.
	Save(result *coverage.Result) (string, error)
}
