package coverage

import (
	"math"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func method(lines Lines, branches ...BranchInfo) *Method {
	m := NewMethod()
	for l, h := range lines {
		m.Lines[l] = h
	}
	m.Branches = append(m.Branches, branches...)
	return m
}

func sampleModules() Modules {
	return Modules{
		"Calc.bcl": Documents{
			"/src/Calc.cs": Classes{
				"Demo.Calc": Methods{
					"System.Int32 Demo.Calc::Abs(System.Int32)": method(
						Lines{10: 1, 11: 0, 12: 1},
						BranchInfo{Line: 10, Offset: 3, EndOffset: 5, Path: 0, Ordinal: 0, Hits: 1},
						BranchInfo{Line: 10, Offset: 3, EndOffset: 9, Path: 1, Ordinal: 1, Hits: 0},
					),
					"System.Void Demo.Calc::Run()": method(Lines{20: 0}),
				},
			},
		},
	}
}

func TestDetails_Percent(t *testing.T) {
	tests := []struct {
		name    string
		details Details
		want    float64
	}{
		{"half", Details{Covered: 1, Total: 2}, 50.00},
		{"third floors", Details{Covered: 1, Total: 3}, 33.33},
		{"two thirds floors", Details{Covered: 2, Total: 3}, 66.66},
		{"empty is covered", Details{}, 100},
		{"full", Details{Covered: 7, Total: 7}, 100},
		{"empty modules", Details{emptyModules: true}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.details.Percent())
		})
	}
}

func TestSummaries(t *testing.T) {
	modules := sampleModules()

	line := LineCoverage(modules)
	assert.Equal(t, 2, line.Covered)
	assert.Equal(t, 4, line.Total)
	assert.Equal(t, 50.00, line.Percent())

	branch := BranchCoverage(modules)
	assert.Equal(t, Details{Covered: 1, Total: 2}, branch)

	meth := MethodCoverage(modules)
	assert.Equal(t, Details{Covered: 1, Total: 2}, meth)

	// a method without lines does not count
	modules["Calc.bcl"]["/src/Calc.cs"]["Demo.Calc"]["System.Void Demo.Calc::.ctor()"] = NewMethod()
	assert.Equal(t, 2, MethodCoverage(modules).Total)

	abs := modules["Calc.bcl"]["/src/Calc.cs"]["Demo.Calc"]["System.Int32 Demo.Calc::Abs(System.Int32)"]
	assert.Equal(t, Details{Covered: 2, Total: 3}, LineCoverage(abs))
}

func TestModulesCoverage(t *testing.T) {
	modules := sampleModules()
	modules["Other.bcl"] = Documents{
		"/src/Other.cs": Classes{
			"Demo.Other": Methods{"System.Void Demo.Other::Go()": method(Lines{1: 1})},
		},
	}

	d := ModulesLineCoverage(modules)
	assert.Equal(t, 3, d.Covered)
	assert.Equal(t, 5, d.Total)
	assert.Equal(t, 60.00, d.Percent())
	assert.Equal(t, 75.00, d.AverageModulePercent)

	assert.Equal(t, 75.0, ModulesBranchCoverage(modules).AverageModulePercent, "module without branches counts as fully covered")
	assert.Equal(t, 0.0, ModulesLineCoverage(Modules{}).Percent())
	assert.Equal(t, 0.0, ModulesMethodCoverage(Modules{}).Percent())
}

func TestModulesCoverage_AverageFloors(t *testing.T) {
	modules := Modules{
		"A.bcl": Documents{"/a.cs": Classes{"A": Methods{"a": method(Lines{1: 1, 2: 0, 3: 0})}}},
		"B.bcl": Documents{"/b.cs": Classes{"B": Methods{"b": method(Lines{1: 1, 2: 1, 3: 0})}}},
		"C.bcl": Documents{"/c.cs": Classes{"C": Methods{"c": method(Lines{1: 1})}}},
	}
	// (33.33 + 66.66 + 100) / 3 = 66.663...
	assert.Equal(t, 66.66, ModulesLineCoverage(modules).AverageModulePercent)
}

func TestMerge(t *testing.T) {
	a := sampleModules()
	b := Modules{
		"Calc.bcl": Documents{
			"/src/Calc.cs": Classes{
				"Demo.Calc": Methods{
					"System.Int32 Demo.Calc::Abs(System.Int32)": method(
						Lines{10: 2, 11: 1},
						BranchInfo{Line: 10, Offset: 3, EndOffset: 9, Path: 1, Ordinal: 1, Hits: 4},
					),
				},
				"Demo.New": Methods{"System.Void Demo.New::Go()": method(Lines{30: 1})},
			},
		},
	}

	r := &Result{}
	r.Merge(a)
	r.Merge(b)

	abs := r.Modules["Calc.bcl"]["/src/Calc.cs"]["Demo.Calc"]["System.Int32 Demo.Calc::Abs(System.Int32)"]
	assert.Equal(t, Lines{10: 3, 11: 1, 12: 1}, abs.Lines)
	require.Len(t, abs.Branches, 2)
	assert.Equal(t, 1, abs.Branches[0].Hits)
	assert.Equal(t, 4, abs.Branches[1].Hits)
	assert.Contains(t, r.Modules["Calc.bcl"]["/src/Calc.cs"], "Demo.New")

	// the merged tree does not share storage with its inputs
	b["Calc.bcl"]["/src/Calc.cs"]["Demo.New"]["System.Void Demo.New::Go()"].Lines[30] = 99
	assert.Equal(t, 1, r.Modules["Calc.bcl"]["/src/Calc.cs"]["Demo.New"]["System.Void Demo.New::Go()"].Lines[30])
}

func TestMerge_CommutativeAndAssociative(t *testing.T) {
	a := sampleModules()
	b := Modules{"Calc.bcl": Documents{"/src/Calc.cs": Classes{"Demo.Calc": Methods{
		"System.Void Demo.Calc::Run()": method(Lines{20: 5}),
	}}}}
	c := Modules{"Other.bcl": Documents{"/src/Other.cs": Classes{"Demo.Other": Methods{
		"System.Void Demo.Other::Go()": method(Lines{1: 0}, BranchInfo{Line: 1, Offset: 2, Hits: 1}),
	}}}}

	merged := func(parts ...Modules) Modules {
		out := Modules{}
		for _, p := range parts {
			out.Merge(p)
		}
		return out
	}
	summary := func(m Modules) []Details {
		return []Details{LineCoverage(m), BranchCoverage(m), MethodCoverage(m)}
	}

	assert.Equal(t, summary(merged(a, b)), summary(merged(b, a)))
	assert.Equal(t, merged(a, b)["Calc.bcl"]["/src/Calc.cs"]["Demo.Calc"]["System.Void Demo.Calc::Run()"].Lines,
		merged(b, a)["Calc.bcl"]["/src/Calc.cs"]["Demo.Calc"]["System.Void Demo.Calc::Run()"].Lines)

	left := merged(merged(a, b), c)
	right := merged(a, merged(b, c))
	assert.Equal(t, left, right)
}

func TestComplexity(t *testing.T) {
	modules := sampleModules()
	// Abs has two branches, Run has none and counts as 1
	assert.Equal(t, 3, CyclomaticComplexity(modules))
	assert.Equal(t, 2, MaxCyclomaticComplexity(modules))
	assert.Equal(t, 1, MinCyclomaticComplexity(modules))
	assert.Equal(t, 0, MinCyclomaticComplexity(Modules{}))
	assert.Equal(t, 3, NPathComplexity(modules))
}

func TestNPathComplexity(t *testing.T) {
	m := NewMethod()
	// two decisions with two outcomes each and one switch with three
	for _, b := range []BranchInfo{
		{Offset: 1, Path: 0}, {Offset: 1, Path: 1},
		{Offset: 5, Path: 0}, {Offset: 5, Path: 1},
		{Offset: 9, Path: 0}, {Offset: 9, Path: 1}, {Offset: 9, Path: 2},
	} {
		m.Branches = append(m.Branches, b)
	}
	assert.Equal(t, 12, NPathComplexity(m))

	big := NewMethod()
	for off := 0; off < 40; off++ {
		big.Branches = append(big.Branches, BranchInfo{Offset: off, Path: 0}, BranchInfo{Offset: off, Path: 1})
	}
	assert.Equal(t, math.MaxInt32, NPathComplexity(big))
	assert.Equal(t, math.MaxInt32, NPathComplexity(Methods{"a": big, "b": big}))
}

func TestCountBranchLines(t *testing.T) {
	branches := Branches{
		{Line: 10, Offset: 3, Path: 0},
		{Line: 10, Offset: 3, Path: 1},
		{Line: 14, Offset: 9, Path: 0},
	}
	assert.Equal(t, 2, CountBranchLines(branches))
	assert.Equal(t, 0, CountBranchLines(nil))
}

func TestThresholds(t *testing.T) {
	modules := sampleModules()
	modules["Other.bcl"] = Documents{
		"/src/Other.cs": Classes{
			"Demo.Other": Methods{"System.Void Demo.Other::Go()": method(Lines{1: 1})},
		},
	}
	// line: Calc 50, Other 100, total 60, average 75

	tests := []struct {
		name       string
		thresholds Thresholds
		stat       ThresholdStatistic
		want       ThresholdType
	}{
		{"minimum fails", Thresholds{ThresholdLine: 60}, StatisticMinimum, ThresholdLine},
		{"total passes", Thresholds{ThresholdLine: 60}, StatisticTotal, 0},
		{"total fails", Thresholds{ThresholdLine: 61}, StatisticTotal, ThresholdLine},
		{"average passes", Thresholds{ThresholdLine: 75}, StatisticAverage, 0},
		{"zero is unchecked", Thresholds{ThresholdLine: 0, ThresholdBranch: 0}, StatisticMinimum, 0},
		{"several", Thresholds{ThresholdLine: 80, ThresholdBranch: 80, ThresholdMethod: 10}, StatisticMinimum, ThresholdLine | ThresholdBranch},
		{"average passes total fails", Thresholds{ThresholdLine: 70}, StatisticAverage | StatisticTotal, ThresholdLine},
		{"minimum fails average passes", Thresholds{ThresholdLine: 75}, StatisticMinimum | StatisticAverage, ThresholdLine},
		{"all statistics pass", Thresholds{ThresholdLine: 50}, StatisticMinimum | StatisticAverage | StatisticTotal, 0},
		{"zero stat is minimum", Thresholds{ThresholdLine: 60}, 0, ThresholdLine},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GetThresholdTypesBelowThreshold(modules, tt.thresholds, tt.stat)
			assert.Equal(t, tt.want, got, "got %s", got)
		})
	}
}

func TestParseThresholds(t *testing.T) {
	typ, err := ParseThresholdTypes("line, Branch")
	require.NoError(t, err)
	assert.Equal(t, ThresholdLine|ThresholdBranch, typ)
	assert.Equal(t, "line,branch", typ.String())

	_, err = ParseThresholdTypes("lines")
	assert.Error(t, err)

	stat, err := ParseThresholdStatistic("Average")
	require.NoError(t, err)
	assert.Equal(t, StatisticAverage, stat)

	stat, err = ParseThresholdStatistic("")
	require.NoError(t, err)
	assert.Equal(t, StatisticMinimum, stat)

	stat, err = ParseThresholdStatistic("minimum, Total")
	require.NoError(t, err)
	assert.Equal(t, StatisticMinimum|StatisticTotal, stat)
	assert.Equal(t, "minimum,total", stat.String())

	_, err = ParseThresholdStatistic("average,median")
	assert.Error(t, err)

	_, err = ParseThresholdStatistic("median")
	assert.Error(t, err)
}

func TestResult_SaveLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := &Result{Identifier: "abc", Modules: sampleModules()}
	require.NoError(t, r.Save(fs, "/out/coverage.json"))

	loaded, err := LoadResult(fs, "/out/coverage.json")
	require.NoError(t, err)
	assert.Equal(t, r, loaded)

	_, err = LoadResult(fs, "/out/missing.json")
	assert.Error(t, err)
}
