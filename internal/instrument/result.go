// Package instrument rewrites bytecode modules so that every executed line
// and branch bumps a counter, and records the skeleton needed to turn those
// counters back into coverage.
package instrument

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// HitCandidate is one injection point. Its position in Result.HitCandidates
// is the counter index and the hits-file record index.
type HitCandidate struct {
	IsBranch bool `json:"isBranch"`
	DocIndex int  `json:"docIndex"`
	// Start and End are the line range of a sequence point, or the line and
	// ordinal of a branch.
	Start int `json:"start"`
	End   int `json:"end"`
	// AccountedByNested holds lines that a nested candidate counts instead.
	AccountedByNested map[int]bool `json:"accountedByNested,omitempty"`
}

// BranchKey identifies a branch within a document.
type BranchKey struct {
	Line    int
	Ordinal int
}

// MarshalText renders the key as "line:ordinal".
func (k BranchKey) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("%d:%d", k.Line, k.Ordinal)), nil
}

// UnmarshalText parses "line:ordinal".
func (k *BranchKey) UnmarshalText(text []byte) error {
	line, ordinal, ok := strings.Cut(string(text), ":")
	if !ok {
		return fmt.Errorf("invalid branch key %q", text)
	}
	l, err := strconv.Atoi(line)
	if err != nil {
		return fmt.Errorf("invalid branch key %q: %w", text, err)
	}
	o, err := strconv.Atoi(ordinal)
	if err != nil {
		return fmt.Errorf("invalid branch key %q: %w", text, err)
	}
	k.Line, k.Ordinal = l, o
	return nil
}

// Line is a coverable source line.
type Line struct {
	Number int    `json:"number"`
	Class  string `json:"class"`
	Method string `json:"method"`
	Hits   int    `json:"hits"`
}

// Branch is one outcome of a decision.
type Branch struct {
	Number    int    `json:"number"`
	Class     string `json:"class"`
	Method    string `json:"method"`
	Offset    int    `json:"offset"`
	EndOffset int    `json:"endOffset"`
	Path      int    `json:"path"`
	Ordinal   int    `json:"ordinal"`
	Hits      int    `json:"hits"`
}

// Document is one source file of a module.
type Document struct {
	Path     string                `json:"path"`
	Index    int                   `json:"index"`
	Lines    map[int]*Line         `json:"lines"`
	Branches map[BranchKey]*Branch `json:"branches"`
}

// Result is the instrumentation output for one module.
type Result struct {
	Module                           string               `json:"module"`
	ModulePath                       string               `json:"modulePath"`
	HitsFilePath                     string               `json:"hitsFilePath"`
	SourceLink                       string               `json:"sourceLink,omitempty"`
	Documents                        map[string]*Document `json:"documents"`
	HitCandidates                    []*HitCandidate      `json:"hitCandidates"`
	BranchesInCompiledGeneratedClass []string             `json:"branchesInCompiledGeneratedClass"`
}

// document returns the document for path, creating it on first use.
func (r *Result) document(path string) *Document {
	if d, ok := r.Documents[path]; ok {
		return d
	}
	d := &Document{
		Path:     path,
		Index:    len(r.Documents),
		Lines:    make(map[int]*Line),
		Branches: make(map[BranchKey]*Branch),
	}
	r.Documents[path] = d
	return d
}

// DocumentsByIndex returns the documents addressed by HitCandidate.DocIndex.
func (r *Result) DocumentsByIndex() map[int]*Document {
	out := make(map[int]*Document, len(r.Documents))
	for _, d := range r.Documents {
		out[d.Index] = d
	}
	return out
}

// PrepareResult is everything the collector needs to turn hits back into
// coverage, possibly in another process.
type PrepareResult struct {
	Identifier           string     `json:"identifier"`
	ModuleOrAppDirectory string     `json:"moduleOrAppDirectory"`
	TempDirectory        string     `json:"tempDirectory"`
	Parameters           Parameters `json:"parameters"`
	Results              []*Result  `json:"results"`
}

// SavePrepareResult writes pr as indented JSON.
func SavePrepareResult(fs afero.Fs, path string, pr *PrepareResult) error {
	data, err := json.MarshalIndent(pr, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal prepare result: %w", err)
	}
	if err := afero.WriteFile(fs, path, data, 0644); err != nil {
		return fmt.Errorf("failed to write prepare result: %w", err)
	}
	return nil
}

// LoadPrepareResult reads a prepare result written by SavePrepareResult.
func LoadPrepareResult(fs afero.Fs, path string) (*PrepareResult, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prepare result: %w", err)
	}
	var pr PrepareResult
	if err := json.Unmarshal(data, &pr); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prepare result: %w", err)
	}
	return &pr, nil
}
