// Package coverage holds the aggregated coverage tree together with the
// operations on it: merging, summaries, complexity and thresholds.
package coverage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// Lines maps a line number to its hit count.
type Lines map[int]int

// BranchInfo is one branch outcome with its hit count.
type BranchInfo struct {
	Line      int `json:"line"`
	Offset    int `json:"offset"`
	EndOffset int `json:"endOffset"`
	Path      int `json:"path"`
	Ordinal   int `json:"ordinal"`
	Hits      int `json:"hits"`
}

// sameBranch compares every identity field but the hit count.
func (b BranchInfo) sameBranch(o BranchInfo) bool {
	return b.Line == o.Line && b.Offset == o.Offset && b.EndOffset == o.EndOffset &&
		b.Ordinal == o.Ordinal && b.Path == o.Path
}

// Branches is the branch list of a method.
type Branches []BranchInfo

// Method is the leaf of the coverage tree.
type Method struct {
	Lines    Lines    `json:"lines"`
	Branches Branches `json:"branches"`
}

// NewMethod returns an empty method.
func NewMethod() *Method {
	return &Method{Lines: Lines{}, Branches: Branches{}}
}

// Methods is keyed by method signature.
type Methods map[string]*Method

// Classes is keyed by class full name.
type Classes map[string]Methods

// Documents is keyed by source path.
type Documents map[string]Classes

// Modules is keyed by module file name.
type Modules map[string]Documents

// Result is the outcome of one coverage run.
type Result struct {
	Identifier    string  `json:"identifier"`
	Modules       Modules `json:"modules"`
	UseSourceLink bool    `json:"useSourceLink"`
}

// Save writes the result as indented JSON.
func (r *Result) Save(fs afero.Fs, path string) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal coverage result: %w", err)
	}

	if err := afero.WriteFile(fs, path, data, 0644); err != nil {
		return fmt.Errorf("failed to write coverage result: %w", err)
	}
	return nil
}

// LoadResult reads a result written by Save.
func LoadResult(fs afero.Fs, path string) (*Result, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read coverage result: %w", err)
	}
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal coverage result: %w", err)
	}
	if r.Modules == nil {
		r.Modules = Modules{}
	}
	return &r, nil
}
