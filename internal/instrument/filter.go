package instrument

import (
	"path/filepath"
	"regexp"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// DefaultExcludeAttributes are always honored in addition to configured ones.
var DefaultExcludeAttributes = []string{"ExcludeFromCoverage", "ExcludeFromCodeCoverage"}

// DefaultDoesNotReturnAttributes is used when none are configured.
var DefaultDoesNotReturnAttributes = []string{"DoesNotReturn"}

// Parameters controls which code is instrumented and how.
type Parameters struct {
	IncludeFilters          []string `json:"includeFilters,omitempty"`
	ExcludeFilters          []string `json:"excludeFilters,omitempty"`
	IncludeDirectories      []string `json:"includeDirectories,omitempty"`
	ExcludeAttributes       []string `json:"excludeAttributes,omitempty"`
	ExcludedSourceFiles     []string `json:"excludedSourceFiles,omitempty"`
	DoesNotReturnAttributes []string `json:"doesNotReturnAttributes,omitempty"`
	SingleHit               bool     `json:"singleHit"`
	UseSourceLink           bool     `json:"useSourceLink"`
	MergeWith               string   `json:"mergeWith,omitempty"`
}

// excludeAttributes returns the configured exclusion attributes plus defaults.
func (p *Parameters) excludeAttributes() []string {
	return append(append([]string(nil), DefaultExcludeAttributes...), p.ExcludeAttributes...)
}

func (p *Parameters) doesNotReturnAttributes() []string {
	if len(p.DoesNotReturnAttributes) == 0 {
		return DefaultDoesNotReturnAttributes
	}
	return p.DoesNotReturnAttributes
}

var reFilterChars = regexp.MustCompile(`[^\w*]`)

// IsValidFilterExpression reports whether filter has the "[module]type" shape.
func IsValidFilterExpression(filter string) bool {
	if !strings.HasPrefix(filter, "[") {
		return false
	}
	if strings.Count(filter, "[") != 1 || strings.Count(filter, "]") != 1 {
		return false
	}
	closing := strings.Index(filter, "]")
	if closing == 1 || strings.HasSuffix(filter, "]") {
		return false
	}
	stripped := strings.NewReplacer(".", "", "?", "", "[", "", "]", "", "/", "").Replace(filter)
	return !reFilterChars.MatchString(stripped)
}

// splitFilter returns the module and type patterns of a valid filter.
func splitFilter(filter string) (module, typ string) {
	closing := strings.Index(filter, "]")
	return filter[1:closing], filter[closing+1:]
}

// wildcardMatch matches s against a pattern where * is any run and ? is one
// character.
func wildcardMatch(pattern, s string) bool {
	expr := regexp.QuoteMeta(pattern)
	expr = strings.ReplaceAll(expr, `\*`, `.*`)
	expr = strings.ReplaceAll(expr, `\?`, `.`)
	ok, err := regexp.MatchString("^"+expr+"$", s)
	return err == nil && ok
}

func moduleName(module string) string {
	base := filepath.Base(module)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// IsModuleExcluded reports whether a filter with a "*" type part names module.
func IsModuleExcluded(module string, excludeFilters []string) bool {
	name := moduleName(module)
	for _, f := range excludeFilters {
		if !IsValidFilterExpression(f) {
			continue
		}
		mod, typ := splitFilter(f)
		if typ != "*" {
			continue
		}
		if wildcardMatch(mod, name) {
			return true
		}
	}
	return false
}

// IsModuleIncluded reports whether module may hold included types.
func IsModuleIncluded(module string, includeFilters []string) bool {
	if len(includeFilters) == 0 {
		return true
	}
	name := moduleName(module)
	for _, f := range includeFilters {
		if !IsValidFilterExpression(f) {
			continue
		}
		mod, _ := splitFilter(f)
		if wildcardMatch(mod, name) {
			return true
		}
	}
	return false
}

// IsTypeExcluded reports whether an exclude filter matches the type.
func IsTypeExcluded(module, typeName string, excludeFilters []string) bool {
	return matchesType(module, typeName, excludeFilters)
}

// IsTypeIncluded reports whether the type is included. No filters includes all.
func IsTypeIncluded(module, typeName string, includeFilters []string) bool {
	if len(includeFilters) == 0 {
		return true
	}
	return matchesType(module, typeName, includeFilters)
}

func matchesType(module, typeName string, filters []string) bool {
	name := moduleName(module)
	for _, f := range filters {
		if !IsValidFilterExpression(f) {
			continue
		}
		mod, typ := splitFilter(f)
		if wildcardMatch(mod, name) && wildcardMatch(typ, typeName) {
			return true
		}
	}
	return false
}

// SourceFileFilter excludes documents by gitignore-style patterns.
type SourceFileFilter struct {
	gi *ignore.GitIgnore
}

// NewSourceFileFilter compiles patterns. A nil filter excludes nothing.
func NewSourceFileFilter(patterns []string) *SourceFileFilter {
	if len(patterns) == 0 {
		return nil
	}
	return &SourceFileFilter{gi: ignore.CompileIgnoreLines(patterns...)}
}

// IsExcluded reports whether the document at path is excluded.
func (f *SourceFileFilter) IsExcluded(path string) bool {
	if f == nil || f.gi == nil {
		return false
	}
	return f.gi.MatchesPath(filepath.ToSlash(path))
}
