// Package collector turns the hits files written by instrumented modules back
// into a coverage tree.
package collector

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"

	"github.com/zjy-dev/bytecover/internal/coverage"
	"github.com/zjy-dev/bytecover/internal/instrument"
	"github.com/zjy-dev/bytecover/internal/logger"
	"github.com/zjy-dev/bytecover/internal/recorder"
)

// ErrHitsLengthMismatch means a hits file does not belong to the
// instrumentation it is consumed against.
var ErrHitsLengthMismatch = errors.New("hits file record count does not match hit candidates")

// Collector aggregates the results of one prepared coverage run.
type Collector struct {
	fs      afero.Fs
	prepare *instrument.PrepareResult
	log     logger.Leveled
}

// New creates a Collector for a prepare result.
func New(fs afero.Fs, prepare *instrument.PrepareResult, log logger.Leveled) *Collector {
	return &Collector{fs: fs, prepare: prepare, log: log}
}

// GetCoverageResult restores the original modules, consumes every hits file
// and returns the coverage tree, merged with Parameters.MergeWith when set.
func (c *Collector) GetCoverageResult() (*coverage.Result, error) {
	c.restoreModules()

	modules := coverage.Modules{}
	for _, result := range c.prepare.Results {
		computeNestedAccounting(result)
		if err := c.consumeHits(result); err != nil {
			return nil, err
		}
		docs := c.buildDocuments(result)
		modules.Merge(coverage.Modules{filepath.Base(result.ModulePath): docs})
	}

	for _, result := range c.prepare.Results {
		fixupClosureBranches(modules[filepath.Base(result.ModulePath)], result.BranchesInCompiledGeneratedClass)
	}
	for _, docs := range modules {
		removeEmptyClosureClasses(docs)
	}

	out := &coverage.Result{
		Identifier:    c.prepare.Identifier,
		Modules:       modules,
		UseSourceLink: c.prepare.Parameters.UseSourceLink,
	}

	if mergeWith := c.prepare.Parameters.MergeWith; mergeWith != "" {
		exists, err := afero.Exists(c.fs, mergeWith)
		if err != nil {
			return nil, fmt.Errorf("failed to stat merge target: %w", err)
		}
		if exists {
			previous, err := coverage.LoadResult(c.fs, mergeWith)
			if err != nil {
				return nil, err
			}
			out.Merge(previous.Modules)
		}
	}
	return out, nil
}

func (c *Collector) restoreModules() {
	for _, result := range c.prepare.Results {
		backup := instrument.BackupPath(c.prepare.TempDirectory, result.ModulePath, c.prepare.Identifier)
		exists, err := afero.Exists(c.fs, backup)
		if err != nil || !exists {
			c.log.Debugf("No backup found for module: '%s'", result.ModulePath)
			continue
		}
		if err := instrument.RestoreModule(c.fs, result.ModulePath, backup); err != nil {
			c.log.Warnf("Unable to restore module: '%s' because: %v", result.ModulePath, err)
		}
	}
}

// computeNestedAccounting marks, on every multi-line candidate, the lines a
// candidate strictly inside it counts instead.
func computeNestedAccounting(result *instrument.Result) {
	for _, outer := range result.HitCandidates {
		if outer.IsBranch || outer.Start == outer.End {
			continue
		}
		for _, inner := range result.HitCandidates {
			if inner == outer || inner.IsBranch || inner.DocIndex != outer.DocIndex {
				continue
			}
			if inner.Start <= outer.Start || inner.End >= outer.End {
				continue
			}
			if outer.AccountedByNested == nil {
				outer.AccountedByNested = make(map[int]bool)
			}
			for line := inner.Start; line <= inner.End; line++ {
				outer.AccountedByNested[line] = true
			}
		}
	}
}

// consumeHits adds the hits file counts to the result and deletes the file.
// A missing file leaves every count at zero.
func (c *Collector) consumeHits(result *instrument.Result) error {
	exists, err := afero.Exists(c.fs, result.HitsFilePath)
	if err != nil {
		return fmt.Errorf("failed to stat hits file: %w", err)
	}
	if !exists {
		c.log.Debugf("Hits file:'%s' not found for module: '%s'", result.HitsFilePath, result.Module)
		return nil
	}

	hits, err := recorder.ReadHitsFile(c.fs, result.HitsFilePath)
	if err != nil {
		return fmt.Errorf("failed to read hits file for module '%s': %w", result.Module, err)
	}
	if len(hits) != len(result.HitCandidates) {
		return fmt.Errorf("%w: module '%s' has %d candidates, hits file has %d records",
			ErrHitsLengthMismatch, result.Module, len(result.HitCandidates), len(hits))
	}

	docs := result.DocumentsByIndex()
	for i, hc := range result.HitCandidates {
		count := int(hits[i])
		doc := docs[hc.DocIndex]
		if doc == nil {
			continue
		}
		if hc.IsBranch {
			if b, ok := doc.Branches[instrument.BranchKey{Line: hc.Start, Ordinal: hc.End}]; ok {
				b.Hits += count
			}
			continue
		}
		for line := hc.Start; line <= hc.End; line++ {
			if hc.AccountedByNested[line] {
				continue
			}
			if l, ok := doc.Lines[line]; ok {
				l.Hits += count
			}
		}
	}

	if err := c.fs.Remove(result.HitsFilePath); err != nil {
		c.log.Warnf("Unable to remove hits file: '%s' because: %v", result.HitsFilePath, err)
	}
	return nil
}

// buildDocuments converts one instrumentation result into its document
// subtree, rewriting paths through the source link when enabled.
func (c *Collector) buildDocuments(result *instrument.Result) coverage.Documents {
	var link *sourceLink
	if c.prepare.Parameters.UseSourceLink && result.SourceLink != "" {
		sl, err := parseSourceLink(result.SourceLink)
		if err != nil {
			c.log.Warnf("Ignoring source link of module '%s': %v", result.Module, err)
		} else {
			link = sl
		}
	}

	docs := coverage.Documents{}
	for _, doc := range result.Documents {
		docPath := doc.Path
		if link != nil {
			docPath = link.URL(doc.Path)
		}
		classes, ok := docs[docPath]
		if !ok {
			classes = coverage.Classes{}
			docs[docPath] = classes
		}

		for _, line := range doc.Lines {
			method := methodFor(classes, line.Class, line.Method)
			method.Lines[line.Number] += line.Hits
		}

		keys := make([]instrument.BranchKey, 0, len(doc.Branches))
		for k := range doc.Branches {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			if keys[i].Line != keys[j].Line {
				return keys[i].Line < keys[j].Line
			}
			return keys[i].Ordinal < keys[j].Ordinal
		})
		for _, k := range keys {
			b := doc.Branches[k]
			method := methodFor(classes, b.Class, b.Method)
			method.Branches = append(method.Branches, coverage.BranchInfo{
				Line:      b.Number,
				Offset:    b.Offset,
				EndOffset: b.EndOffset,
				Path:      b.Path,
				Ordinal:   b.Ordinal,
				Hits:      b.Hits,
			})
		}
	}
	return docs
}

func methodFor(classes coverage.Classes, class, method string) *coverage.Method {
	methods, ok := classes[class]
	if !ok {
		methods = coverage.Methods{}
		classes[class] = methods
	}
	m, ok := methods[method]
	if !ok {
		m = coverage.NewMethod()
		methods[method] = m
	}
	return m
}
