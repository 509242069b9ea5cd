package collector

import (
	"sort"

	"github.com/zjy-dev/bytecover/internal/coverage"
	"github.com/zjy-dev/bytecover/internal/instrument"
)

// fixupClosureBranches moves branches recorded inside compiler-generated
// lambda containers onto the method of the same document that owns the
// branch line. flagged lists the closure methods known to carry branches.
func fixupClosureBranches(docs coverage.Documents, flagged []string) {
	if len(flagged) == 0 {
		return
	}
	isFlagged := make(map[string]bool, len(flagged))
	for _, name := range flagged {
		isFlagged[name] = true
	}

	for _, classes := range docs {
		for _, className := range sortedNames(classes) {
			methods := classes[className]
			for _, methodName := range sortedNames(methods) {
				method := methods[methodName]
				if !isFlagged[methodName] || len(method.Branches) == 0 {
					continue
				}

				var kept coverage.Branches
				for _, b := range method.Branches {
					owner := lineOwner(classes, className, b.Line)
					if owner == nil {
						kept = append(kept, b)
						continue
					}
					owner.Branches = append(owner.Branches, b)
				}
				method.Branches = kept
				if method.Branches == nil {
					method.Branches = coverage.Branches{}
				}
			}
		}
	}
}

// lineOwner finds a method outside class that has an entry for line.
func lineOwner(classes coverage.Classes, class string, line int) *coverage.Method {
	for _, other := range sortedNames(classes) {
		if other == class {
			continue
		}
		methods := classes[other]
		for _, name := range sortedNames(methods) {
			if _, ok := methods[name].Lines[line]; ok {
				return methods[name]
			}
		}
	}
	return nil
}

// removeEmptyClosureClasses drops lambda containers whose methods were left
// without lines or branches.
func removeEmptyClosureClasses(docs coverage.Documents) {
	for _, classes := range docs {
		for className, methods := range classes {
			if !instrument.IsClosureClass(className) {
				continue
			}
			for name, m := range methods {
				if len(m.Lines) == 0 && len(m.Branches) == 0 {
					delete(methods, name)
				}
			}
			if len(methods) == 0 {
				delete(classes, className)
			}
		}
	}
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
