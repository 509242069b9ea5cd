package report

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/zjy-dev/bytecover/internal/coverage"
)

// MarkdownReporter implements the Reporter interface by saving reports as markdown files.
type MarkdownReporter struct {
	fs        afero.Fs
	outputDir string
}

// NewMarkdownReporter creates a new MarkdownReporter.
func NewMarkdownReporter(fs afero.Fs, outputDir string) *MarkdownReporter {
	return &MarkdownReporter{
		fs:        fs,
		outputDir: outputDir,
	}
}

// Save writes coverage_<identifier>.md with a module summary followed by a
// per-class breakdown.
func (r *MarkdownReporter) Save(result *coverage.Result) (string, error) {
	if err := r.fs.MkdirAll(r.outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	name := "coverage.md"
	if result.Identifier != "" {
		name = fmt.Sprintf("coverage_%s.md", result.Identifier)
	}
	reportPath := filepath.Join(r.outputDir, name)

	var b strings.Builder
	b.WriteString("# Coverage Report\n\n")
	if result.Identifier != "" {
		fmt.Fprintf(&b, "Run: `%s`\n\n", result.Identifier)
	}

	line := coverage.ModulesLineCoverage(result.Modules)
	branch := coverage.ModulesBranchCoverage(result.Modules)
	method := coverage.ModulesMethodCoverage(result.Modules)

	b.WriteString("## Summary\n\n")
	b.WriteString("| Module | Line | Branch | Method | Complexity |\n")
	b.WriteString("|---|---:|---:|---:|---:|\n")
	for _, module := range sortedKeys(result.Modules) {
		docs := result.Modules[module]
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %d |\n", module,
			ratio(coverage.LineCoverage(docs)),
			ratio(coverage.BranchCoverage(docs)),
			ratio(coverage.MethodCoverage(docs)),
			coverage.CyclomaticComplexity(docs))
	}
	fmt.Fprintf(&b, "| **Total** | %s | %s | %s | %d |\n",
		ratio(line), ratio(branch), ratio(method), coverage.CyclomaticComplexity(result.Modules))
	fmt.Fprintf(&b, "| **Average** | %.2f%% | %.2f%% | %.2f%% | |\n\n",
		line.AverageModulePercent, branch.AverageModulePercent, method.AverageModulePercent)

	for _, module := range sortedKeys(result.Modules) {
		fmt.Fprintf(&b, "## %s\n\n", module)
		docs := result.Modules[module]
		for _, doc := range sortedKeys(docs) {
			fmt.Fprintf(&b, "### %s\n\n", doc)
			b.WriteString("| Class | Line | Branch | Branch lines | Cyclomatic (max) | NPath |\n")
			b.WriteString("|---|---:|---:|---:|---:|---:|\n")
			classes := docs[doc]
			for _, class := range sortedKeys(classes) {
				methods := classes[class]
				fmt.Fprintf(&b, "| %s | %s | %s | %d | %d | %d |\n", class,
					ratio(coverage.LineCoverage(methods)),
					ratio(coverage.BranchCoverage(methods)),
					branchLines(methods),
					coverage.MaxCyclomaticComplexity(methods),
					coverage.NPathComplexity(methods))
			}
			b.WriteString("\n")
		}
	}

	if err := afero.WriteFile(r.fs, reportPath, []byte(b.String()), 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return reportPath, nil
}

func ratio(d coverage.Details) string {
	return fmt.Sprintf("%.2f%% (%d/%d)", d.Percent(), d.Covered, d.Total)
}

func branchLines(methods coverage.Methods) int {
	n := 0
	for _, m := range methods {
		n += coverage.CountBranchLines(m.Branches)
	}
	return n
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
