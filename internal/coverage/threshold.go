package coverage

import (
	"fmt"
	"strings"
)

// ThresholdType selects which metric a threshold applies to. Values combine
// as flags.
type ThresholdType int

const (
	ThresholdLine ThresholdType = 1 << iota
	ThresholdBranch
	ThresholdMethod
)

func (t ThresholdType) String() string {
	var names []string
	if t&ThresholdLine != 0 {
		names = append(names, "line")
	}
	if t&ThresholdBranch != 0 {
		names = append(names, "branch")
	}
	if t&ThresholdMethod != 0 {
		names = append(names, "method")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

// ParseThresholdTypes parses a comma separated list such as "line,branch".
func ParseThresholdTypes(s string) (ThresholdType, error) {
	var t ThresholdType
	for _, part := range strings.Split(s, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "":
		case "line":
			t |= ThresholdLine
		case "branch":
			t |= ThresholdBranch
		case "method":
			t |= ThresholdMethod
		default:
			return 0, fmt.Errorf("unknown threshold type: %q", part)
		}
	}
	return t, nil
}

// ThresholdStatistic selects how per-module percentages are combined. Values
// combine as flags; a metric fails when any selected statistic is below its
// threshold.
type ThresholdStatistic int

const (
	StatisticMinimum ThresholdStatistic = 1 << iota
	StatisticAverage
	StatisticTotal
)

var statistics = []ThresholdStatistic{StatisticMinimum, StatisticAverage, StatisticTotal}

func (s ThresholdStatistic) String() string {
	var names []string
	if s&StatisticMinimum != 0 {
		names = append(names, "minimum")
	}
	if s&StatisticAverage != 0 {
		names = append(names, "average")
	}
	if s&StatisticTotal != 0 {
		names = append(names, "total")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

// ParseThresholdStatistic parses a comma separated list of "minimum",
// "average" and "total". An empty string means minimum.
func ParseThresholdStatistic(s string) (ThresholdStatistic, error) {
	var stat ThresholdStatistic
	for _, part := range strings.Split(s, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "":
		case "minimum":
			stat |= StatisticMinimum
		case "average":
			stat |= StatisticAverage
		case "total":
			stat |= StatisticTotal
		default:
			return 0, fmt.Errorf("unknown threshold statistic: %q", part)
		}
	}
	if stat == 0 {
		stat = StatisticMinimum
	}
	return stat, nil
}

// Thresholds maps each metric to its minimum percentage.
type Thresholds map[ThresholdType]float64

// GetThresholdTypesBelowThreshold returns the metrics whose coverage falls
// below their threshold under any statistic in stat. Thresholds of zero or
// less are not checked; a zero stat checks the minimum.
func GetThresholdTypesBelowThreshold(modules Modules, thresholds Thresholds, stat ThresholdStatistic) ThresholdType {
	if stat == 0 {
		stat = StatisticMinimum
	}
	var below ThresholdType
	metrics := []struct {
		typ  ThresholdType
		calc func(MethodSet) Details
	}{
		{ThresholdLine, LineCoverage},
		{ThresholdBranch, BranchCoverage},
		{ThresholdMethod, MethodCoverage},
	}

	for _, metric := range metrics {
		threshold, ok := thresholds[metric.typ]
		if !ok || threshold <= 0 {
			continue
		}
		for _, st := range statistics {
			if stat&st != 0 && statisticPercent(modules, metric.calc, st) < threshold {
				below |= metric.typ
			}
		}
	}
	return below
}

func statisticPercent(modules Modules, calc func(MethodSet) Details, stat ThresholdStatistic) float64 {
	switch stat {
	case StatisticTotal:
		return withModuleAverage(modules, calc).Percent()
	case StatisticAverage:
		return withModuleAverage(modules, calc).AverageModulePercent
	}

	min := 100.0
	for _, docs := range modules {
		if p := calc(docs).Percent(); p < min {
			min = p
		}
	}
	return min
}
