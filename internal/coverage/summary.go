package coverage

import (
	"math"
	"sort"
)

// Details is a covered/total pair.
type Details struct {
	Covered              int     `json:"covered"`
	Total                int     `json:"total"`
	AverageModulePercent float64 `json:"averageModulePercent"`

	emptyModules bool
}

// Percent returns covered/total as a percentage floored to two decimals. An
// empty collection is fully covered, but a summary over no modules is 0.
func (d Details) Percent() float64 {
	if d.emptyModules {
		return 0
	}
	if d.Total == 0 {
		return 100
	}
	return float64(int64(d.Covered)*10000/int64(d.Total)) / 100
}

// MethodSet is any level of the coverage tree.
type MethodSet interface {
	EachMethod(fn func(name string, m *Method))
}

// EachMethod implements MethodSet.
func (m *Method) EachMethod(fn func(string, *Method)) { fn("", m) }

// EachMethod implements MethodSet.
func (ms Methods) EachMethod(fn func(string, *Method)) {
	for _, name := range sortedKeys(ms) {
		fn(name, ms[name])
	}
}

// EachMethod implements MethodSet.
func (c Classes) EachMethod(fn func(string, *Method)) {
	for _, name := range sortedKeys(c) {
		c[name].EachMethod(fn)
	}
}

// EachMethod implements MethodSet.
func (d Documents) EachMethod(fn func(string, *Method)) {
	for _, name := range sortedKeys(d) {
		d[name].EachMethod(fn)
	}
}

// EachMethod implements MethodSet.
func (m Modules) EachMethod(fn func(string, *Method)) {
	for _, name := range sortedKeys(m) {
		m[name].EachMethod(fn)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LineCoverage counts lines with at least one hit.
func LineCoverage(s MethodSet) Details {
	var d Details
	s.EachMethod(func(_ string, m *Method) {
		for _, hits := range m.Lines {
			d.Total++
			if hits > 0 {
				d.Covered++
			}
		}
	})
	return d
}

// BranchCoverage counts branches with at least one hit.
func BranchCoverage(s MethodSet) Details {
	var d Details
	s.EachMethod(func(_ string, m *Method) {
		for _, b := range m.Branches {
			d.Total++
			if b.Hits > 0 {
				d.Covered++
			}
		}
	})
	return d
}

// MethodCoverage counts methods with at least one executed line. Methods
// without lines are ignored.
func MethodCoverage(s MethodSet) Details {
	var d Details
	s.EachMethod(func(_ string, m *Method) {
		if len(m.Lines) == 0 {
			return
		}
		d.Total++
		for _, hits := range m.Lines {
			if hits > 0 {
				d.Covered++
				break
			}
		}
	})
	return d
}

// ModulesLineCoverage is LineCoverage plus the average of module percentages.
func ModulesLineCoverage(modules Modules) Details {
	return withModuleAverage(modules, LineCoverage)
}

// ModulesBranchCoverage is BranchCoverage plus the average of module percentages.
func ModulesBranchCoverage(modules Modules) Details {
	return withModuleAverage(modules, BranchCoverage)
}

// ModulesMethodCoverage is MethodCoverage plus the average of module percentages.
func ModulesMethodCoverage(modules Modules) Details {
	return withModuleAverage(modules, MethodCoverage)
}

func withModuleAverage(modules Modules, calc func(MethodSet) Details) Details {
	d := calc(modules)
	d.emptyModules = len(modules) == 0
	if len(modules) == 0 {
		return d
	}
	sum := 0.0
	for _, docs := range modules {
		sum += calc(docs).Percent()
	}
	d.AverageModulePercent = math.Floor(sum/float64(len(modules))*100) / 100
	return d
}

// CyclomaticComplexity sums max(1, branches) over every method.
func CyclomaticComplexity(s MethodSet) int {
	total := 0
	s.EachMethod(func(_ string, m *Method) {
		total += methodComplexity(m)
	})
	return total
}

// MaxCyclomaticComplexity returns the highest per-method complexity.
func MaxCyclomaticComplexity(s MethodSet) int {
	max := 0
	s.EachMethod(func(_ string, m *Method) {
		if c := methodComplexity(m); c > max {
			max = c
		}
	})
	return max
}

// MinCyclomaticComplexity returns the lowest per-method complexity, or 0 when
// there are no methods.
func MinCyclomaticComplexity(s MethodSet) int {
	min := 0
	first := true
	s.EachMethod(func(_ string, m *Method) {
		c := methodComplexity(m)
		if first || c < min {
			min = c
			first = false
		}
	})
	return min
}

func methodComplexity(m *Method) int {
	if len(m.Branches) > 1 {
		return len(m.Branches)
	}
	return 1
}

// NPathComplexity multiplies the number of outcomes of every decision of a
// method and sums that over methods. Each product saturates at MaxInt32.
func NPathComplexity(s MethodSet) int {
	total := 0
	s.EachMethod(func(_ string, m *Method) {
		total = saturatingAdd(total, methodNPath(m.Branches))
	})
	return total
}

func methodNPath(branches Branches) int {
	paths := make(map[int]int)
	for _, b := range branches {
		paths[b.Offset]++
	}
	npath := int64(1)
	for _, count := range paths {
		npath *= int64(count)
		if npath > math.MaxInt32 {
			return math.MaxInt32
		}
	}
	return int(npath)
}

func saturatingAdd(a, b int) int {
	if sum := int64(a) + int64(b); sum < math.MaxInt32 {
		return int(sum)
	}
	return math.MaxInt32
}

// CountBranchLines returns the number of distinct lines holding a branch.
func CountBranchLines(branches Branches) int {
	lines := make(map[int]bool)
	for _, b := range branches {
		lines[b.Line] = true
	}
	return len(lines)
}
