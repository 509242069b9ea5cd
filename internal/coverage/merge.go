package coverage

// Merge folds modules into the result. Hit counts of identical lines and
// branches are summed; anything missing is added.
func (r *Result) Merge(modules Modules) {
	if r.Modules == nil {
		r.Modules = Modules{}
	}
	r.Modules.Merge(modules)
}

// Merge folds other into m. other is never aliased by m afterwards.
func (m Modules) Merge(other Modules) {
	for name, docs := range other {
		mine, ok := m[name]
		if !ok {
			mine = Documents{}
			m[name] = mine
		}
		mine.merge(docs)
	}
}

func (d Documents) merge(other Documents) {
	for path, classes := range other {
		mine, ok := d[path]
		if !ok {
			mine = Classes{}
			d[path] = mine
		}
		mine.merge(classes)
	}
}

func (c Classes) merge(other Classes) {
	for name, methods := range other {
		mine, ok := c[name]
		if !ok {
			mine = Methods{}
			c[name] = mine
		}
		mine.merge(methods)
	}
}

func (ms Methods) merge(other Methods) {
	for name, method := range other {
		mine, ok := ms[name]
		if !ok {
			mine = NewMethod()
			ms[name] = mine
		}
		mine.Merge(method)
	}
}

// Merge folds other's hits into m.
func (m *Method) Merge(other *Method) {
	if m.Lines == nil {
		m.Lines = Lines{}
	}
	for line, hits := range other.Lines {
		m.Lines[line] += hits
	}

	for _, b := range other.Branches {
		matched := false
		for i := range m.Branches {
			if m.Branches[i].sameBranch(b) {
				m.Branches[i].Hits += b.Hits
				matched = true
				break
			}
		}
		if !matched {
			m.Branches = append(m.Branches, b)
		}
	}
}
